package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/ledger"
	"lending-service/internal/models"
	"lending-service/internal/redisclient"
	"lending-service/internal/util"

	"go.uber.org/zap"
)

// StockLedger is the orders service's view of the Book Stock Ledger.
type StockLedger interface {
	GetBook(ctx context.Context, bookID int64) (*models.BookStock, error)
	AdjustQuantities(ctx context.Context, bookID int64, d ledger.Deltas) (*models.BookStock, error)
	AvailableQuantity(ctx context.Context, bookID int64) (int, error)
}

// StockClient reaches the ledger service over HTTP, with a redis
// snapshot cache as the fast path for availability reads.
type StockClient struct {
	baseURL string
	client  *http.Client
	redis   *redisclient.Client
	logger  *zap.Logger
}

// NewStockClient creates a ledger client. redis may be nil, which
// disables the fast path.
func NewStockClient(baseURL string, timeout time.Duration, redis *redisclient.Client) *StockClient {
	return &StockClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		redis:   redis,
		logger:  util.GetLogger(),
	}
}

// GetBook fetches the authoritative stock record from the ledger.
func (c *StockClient) GetBook(ctx context.Context, bookID int64) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "StockClient.GetBook")
	defer span.End()

	url := fmt.Sprintf("%s/api/v1/books/%d/stock", c.baseURL, bookID)
	var stock models.BookStock
	if err := c.do(ctx, http.MethodGet, url, nil, &stock); err != nil {
		return nil, err
	}
	return &stock, nil
}

// AdjustQuantities applies pool deltas on the ledger.
func (c *StockClient) AdjustQuantities(ctx context.Context, bookID int64, d ledger.Deltas) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "StockClient.AdjustQuantities")
	defer span.End()

	start := time.Now()
	defer func() {
		util.LedgerCallLatency.Observe(time.Since(start).Seconds())
	}()

	url := fmt.Sprintf("%s/api/v1/books/%d/stock/adjust", c.baseURL, bookID)
	var stock models.BookStock
	if err := c.do(ctx, http.MethodPatch, url, d, &stock); err != nil {
		return nil, err
	}

	// The write already happened on the ledger; a stale cache entry
	// would let the next availability check pass on old numbers.
	if c.redis != nil {
		if err := c.redis.InvalidateStock(ctx, bookID); err != nil {
			c.logger.Warn("Failed to invalidate stock cache",
				zap.Int64("book_id", bookID),
				zap.Error(err))
		}
	}
	return &stock, nil
}

// AvailableQuantity reads the cached available count, falling back to
// the ledger on a miss.
func (c *StockClient) AvailableQuantity(ctx context.Context, bookID int64) (int, error) {
	if c.redis != nil {
		available, hit, err := c.redis.GetAvailable(ctx, bookID)
		if err != nil {
			c.logger.Warn("Stock cache read failed, falling back to ledger",
				zap.Int64("book_id", bookID),
				zap.Error(err))
		} else if hit {
			util.StockCacheHitsTotal.WithLabelValues("hit").Inc()
			return available, nil
		}
	}
	util.StockCacheHitsTotal.WithLabelValues("miss").Inc()

	stock, err := c.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return stock.Available, nil
}

type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *StockClient) do(ctx context.Context, method, url string, body, out interface{}) error {
	var reqBody *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindDependencyUnavailable, err, "ledger service unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var wire wireError
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil || wire.Error == "" {
			return errs.New(errs.KindDependencyUnavailable,
				"ledger service returned status %d", resp.StatusCode)
		}
		return errs.FromWire(wire.Error, wire.Message)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errs.Wrap(errs.KindDependencyUnavailable, err, "bad ledger response")
		}
	}
	return nil
}
