package ledger

import (
	"context"
	"math/rand"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/models"
	"lending-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	casMaxAttempts = 5
	casBaseBackoff = 10 * time.Millisecond
)

// Store is the persistence the ledger service needs. All mutating
// methods are version-guarded and report false on a version conflict.
type Store interface {
	GetBookStock(ctx context.Context, bookID int64) (*models.BookStock, error)
	InsertBookStock(ctx context.Context, stock *models.BookStock) error
	UpdateBookStock(ctx context.Context, stock *models.BookStock, expectedVersion int64) (bool, error)
	GetSchoolStock(ctx context.Context, bookID, schoolID int64) (*models.SchoolStock, error)
	ListActiveSchoolStock(ctx context.Context, bookID int64) ([]models.SchoolStock, error)
	InsertSchoolStockTx(ctx context.Context, book *models.BookStock, expectedVersion int64, school *models.SchoolStock) (bool, error)
	UpdateSchoolStockTx(ctx context.Context, book *models.BookStock, expectedVersion int64, school *models.SchoolStock) (bool, error)
}

// EventSink publishes stock events, best-effort.
type EventSink interface {
	PublishStockAdjusted(ctx context.Context, event *models.StockAdjustedEvent) error
}

// Service implements the Book Stock Ledger operations.
type Service struct {
	store  Store
	events EventSink
	logger *zap.Logger
}

// NewService creates a new ledger service. events may be nil.
func NewService(store Store, events EventSink) *Service {
	return &Service{
		store:  store,
		events: events,
		logger: util.GetLogger(),
	}
}

// GetBook returns the stock record for a book.
func (s *Service) GetBook(ctx context.Context, bookID int64) (*models.BookStock, error) {
	return s.store.GetBookStock(ctx, bookID)
}

// CreateStock registers a new book with its full quantity available.
func (s *Service) CreateStock(ctx context.Context, bookID int64, total int) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.CreateStock")
	defer span.End()

	if total < 0 {
		return nil, errs.New(errs.KindInvalidRequest, "total quantity must be non-negative")
	}
	stock := &models.BookStock{
		BookID:    bookID,
		Total:     total,
		Available: total,
	}
	if err := s.store.InsertBookStock(ctx, stock); err != nil {
		return nil, err
	}
	s.logger.Info("Book stock created",
		zap.Int64("book_id", bookID),
		zap.Int("total", total))
	s.publishAdjusted(ctx, stock)
	return stock, nil
}

// AdjustQuantities applies pool deltas to a single book atomically. A
// zero delta skips the guarded write and returns the current record.
func (s *Service) AdjustQuantities(ctx context.Context, bookID int64, d Deltas) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.AdjustQuantities")
	defer span.End()

	if d.IsZero() {
		return s.store.GetBookStock(ctx, bookID)
	}

	util.LedgerAdjustmentsTotal.Inc()
	return s.mutateBook(ctx, bookID, func(cur models.BookStock) (models.BookStock, error) {
		return Apply(cur, d)
	})
}

// SetTotalQuantity resizes a book's total, absorbing the difference
// into the available pool.
func (s *Service) SetTotalQuantity(ctx context.Context, bookID int64, newTotal int) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.SetTotalQuantity")
	defer span.End()

	return s.mutateBook(ctx, bookID, func(cur models.BookStock) (models.BookStock, error) {
		return SetTotal(cur, newTotal)
	})
}

// SetAvailableQuantity is a manual correction endpoint.
func (s *Service) SetAvailableQuantity(ctx context.Context, bookID int64, v int) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.SetAvailableQuantity")
	defer span.End()

	return s.mutateBook(ctx, bookID, func(cur models.BookStock) (models.BookStock, error) {
		return SetAvailable(cur, v)
	})
}

// SetLostCount is a manual correction endpoint.
func (s *Service) SetLostCount(ctx context.Context, bookID int64, v int) (*models.BookStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.SetLostCount")
	defer span.End()

	return s.mutateBook(ctx, bookID, func(cur models.BookStock) (models.BookStock, error) {
		return SetLost(cur, v)
	})
}

// ListSchoolStock returns the active school allocations for a book.
func (s *Service) ListSchoolStock(ctx context.Context, bookID int64) ([]models.SchoolStock, error) {
	if _, err := s.store.GetBookStock(ctx, bookID); err != nil {
		return nil, err
	}
	return s.store.ListActiveSchoolStock(ctx, bookID)
}

// AssignToSchool carves a school allocation out of the book's available
// pool. Both writes land in one transaction; a failed check persists
// nothing.
func (s *Service) AssignToSchool(ctx context.Context, bookID, schoolID int64, quantity int) (*models.SchoolStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.AssignToSchool")
	defer span.End()

	existing, err := s.store.GetSchoolStock(ctx, bookID, schoolID)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}
	if existing != nil && !existing.IsDeleted {
		return nil, errs.New(errs.KindInvalidRequest,
			"school %d already has an active allocation for book %d", schoolID, bookID)
	}

	var out *models.SchoolStock
	err = s.retryCAS(ctx, func() (bool, error) {
		book, err := s.store.GetBookStock(ctx, bookID)
		if err != nil {
			return false, err
		}
		nextBook, school, err := AssignToSchool(*book, schoolID, quantity)
		if err != nil {
			return false, err
		}
		ok, err := s.store.InsertSchoolStockTx(ctx, &nextBook, book.Version, &school)
		if err != nil || !ok {
			return ok, err
		}
		out = &school
		s.publishAdjusted(ctx, &nextBook)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("School allocation created",
		zap.Int64("book_id", bookID),
		zap.Int64("school_id", schoolID),
		zap.Int("quantity", quantity))
	return out, nil
}

// ResizeSchoolTotal grows or shrinks a school allocation against the
// book's available pool.
func (s *Service) ResizeSchoolTotal(ctx context.Context, bookID, schoolID int64, newTotal int) (*models.SchoolStock, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.ResizeSchoolTotal")
	defer span.End()

	var out *models.SchoolStock
	err := s.retryCAS(ctx, func() (bool, error) {
		book, school, err := s.loadPair(ctx, bookID, schoolID)
		if err != nil {
			return false, err
		}
		if school.IsDeleted {
			return false, errs.New(errs.KindNotFound,
				"school %d has no active allocation for book %d", schoolID, bookID)
		}
		nextBook, nextSchool, err := ResizeSchool(*book, *school, newTotal)
		if err != nil {
			return false, err
		}
		ok, err := s.store.UpdateSchoolStockTx(ctx, &nextBook, book.Version, &nextSchool)
		if err != nil || !ok {
			return ok, err
		}
		out = &nextSchool
		s.publishAdjusted(ctx, &nextBook)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SoftDeleteSchoolStock returns the allocation to the book and marks it
// deleted. A second call fails AlreadyDeleted.
func (s *Service) SoftDeleteSchoolStock(ctx context.Context, bookID, schoolID int64) error {
	ctx, span := util.StartSpan(ctx, "Ledger.SoftDeleteSchoolStock")
	defer span.End()

	return s.retryCAS(ctx, func() (bool, error) {
		book, school, err := s.loadPair(ctx, bookID, schoolID)
		if err != nil {
			return false, err
		}
		nextBook, nextSchool, err := SoftDeleteSchool(*book, *school)
		if err != nil {
			return false, err
		}
		ok, err := s.store.UpdateSchoolStockTx(ctx, &nextBook, book.Version, &nextSchool)
		if err != nil || !ok {
			return ok, err
		}
		s.publishAdjusted(ctx, &nextBook)
		return true, nil
	})
}

func (s *Service) loadPair(ctx context.Context, bookID, schoolID int64) (*models.BookStock, *models.SchoolStock, error) {
	book, err := s.store.GetBookStock(ctx, bookID)
	if err != nil {
		return nil, nil, err
	}
	school, err := s.store.GetSchoolStock(ctx, bookID, schoolID)
	if err != nil {
		return nil, nil, err
	}
	return book, school, nil
}

// mutateBook runs a read-validate-write cycle under the CAS retry loop.
func (s *Service) mutateBook(ctx context.Context, bookID int64, fn func(models.BookStock) (models.BookStock, error)) (*models.BookStock, error) {
	var out *models.BookStock
	err := s.retryCAS(ctx, func() (bool, error) {
		cur, err := s.store.GetBookStock(ctx, bookID)
		if err != nil {
			return false, err
		}
		next, err := fn(*cur)
		if err != nil {
			return false, err
		}
		ok, err := s.store.UpdateBookStock(ctx, &next, cur.Version)
		if err != nil || !ok {
			return ok, err
		}
		out = &next
		s.publishAdjusted(ctx, &next)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// retryCAS retries fn on version conflicts with jittered backoff.
func (s *Service) retryCAS(ctx context.Context, fn func() (bool, error)) error {
	for attempt := 1; attempt <= casMaxAttempts; attempt++ {
		ok, err := fn()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		util.LedgerCASConflictsTotal.Inc()
		if attempt == casMaxAttempts {
			break
		}
		backoff := time.Duration(attempt) * casBaseBackoff
		backoff += time.Duration(rand.Int63n(int64(casBaseBackoff)))
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindDependencyUnavailable, ctx.Err(), "ledger mutation cancelled")
		case <-time.After(backoff):
		}
	}
	return errs.New(errs.KindDependencyUnavailable,
		"ledger mutation lost %d consecutive version races", casMaxAttempts)
}

func (s *Service) publishAdjusted(ctx context.Context, stock *models.BookStock) {
	if s.events == nil {
		return
	}
	event := &models.StockAdjustedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeStockAdjusted,
			Timestamp: time.Now().UTC(),
		},
		BookID:    stock.BookID,
		Total:     stock.Total,
		Available: stock.Available,
		Reserved:  stock.Reserved,
		InTransit: stock.InTransit,
		Lost:      stock.Lost,
		Version:   stock.Version,
	}
	if err := s.events.PublishStockAdjusted(ctx, event); err != nil {
		s.logger.Error("Failed to publish StockAdjusted event",
			zap.Int64("book_id", stock.BookID),
			zap.Error(err))
	}
}
