package worker

import (
	"context"
	"time"

	"lending-service/internal/broker"
	"lending-service/internal/models"
	"lending-service/internal/redisclient"
	"lending-service/internal/service"
	"lending-service/internal/util"

	"go.uber.org/zap"
)

// ExpiryWorker sweeps expired ACTIVE carts on a fixed interval. No
// stock is touched: quantity only commits to reserved at order time.
type ExpiryWorker struct {
	carts    *service.CartService
	interval time.Duration
	logger   *zap.Logger
}

// NewExpiryWorker creates the cart expiry sweeper.
func NewExpiryWorker(carts *service.CartService, interval time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		carts:    carts,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting cart expiry worker",
		zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Cart expiry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			expired, err := w.carts.ExpireStale(ctx)
			if err != nil {
				w.logger.Error("Cart expiry sweep failed", zap.Error(err))
				continue
			}
			if expired > 0 {
				w.logger.Info("Expired stale carts", zap.Int("count", expired))
			}
		}
	}
}

// StockCacheWorker consumes StockAdjusted events and keeps the redis
// availability snapshot fresh for cart checks.
type StockCacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStockCacheWorker wires the consumer to the cache refresh handler.
func NewStockCacheWorker(consumer *broker.Consumer, redis *redisclient.Client) *StockCacheWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()
	eventHandler.OnStockAdjusted(func(ctx context.Context, event *models.StockAdjustedEvent) error {
		first, err := redis.Dedupe(ctx, "stock-cache", event.EventID)
		if err != nil {
			return err
		}
		if !first {
			return nil
		}
		return redis.SetStockSnapshot(ctx, event.BookID, event.Available, event.Version)
	})

	return &StockCacheWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *StockCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockCacheWorker) Stop() error {
	w.logger.Info("Stopping stock cache worker")
	return w.consumer.Close()
}
