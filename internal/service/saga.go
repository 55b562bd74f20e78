package service

import (
	"context"

	"lending-service/internal/ledger"
	"lending-service/internal/models"
	"lending-service/internal/util"

	"go.uber.org/zap"
)

// SagaStore persists the per-transition mutation plan.
type SagaStore interface {
	PlanStockMutations(ctx context.Context, mutations []models.StockMutation) error
	SetMutationState(ctx context.Context, mutationID int64, state string) error
	ListMutations(ctx context.Context, orderID int64) ([]models.StockMutation, error)
}

// PlannedDelta is one ledger adjustment of a transition, in cart-item
// order.
type PlannedDelta struct {
	BookID int64
	Deltas ledger.Deltas
}

// Saga drives a transition's ledger deltas across the service boundary
// without a shared transaction: the full plan is persisted first, each
// delta is applied and marked sequentially, and on failure the applied
// prefix is replayed in reverse as compensations.
type Saga struct {
	store  SagaStore
	stock  StockLedger
	logger *zap.Logger
}

// NewSaga creates a saga executor over the given ledger.
func NewSaga(store SagaStore, stock StockLedger) *Saga {
	return &Saga{
		store:  store,
		stock:  stock,
		logger: util.GetLogger(),
	}
}

// Execute runs the plan for one order transition. On success every
// mutation is marked APPLIED. On failure at delta k, deltas 1..k-1 are
// compensated (marked COMPENSATED) and the original error returned; a
// mutation whose compensation also failed keeps state APPLIED in the
// log for manual reconciliation.
func (s *Saga) Execute(ctx context.Context, orderID int64, transition string, plan []PlannedDelta) error {
	ctx, span := util.StartSpan(ctx, "Saga.Execute")
	defer span.End()

	if len(plan) == 0 {
		return nil
	}

	mutations := make([]models.StockMutation, len(plan))
	for i, p := range plan {
		mutations[i] = models.StockMutation{
			OrderID:        orderID,
			Transition:     transition,
			Seq:            i,
			BookID:         p.BookID,
			AvailableDelta: p.Deltas.Available,
			ReservedDelta:  p.Deltas.Reserved,
			InTransitDelta: p.Deltas.InTransit,
			LostDelta:      p.Deltas.Lost,
		}
	}
	if err := s.store.PlanStockMutations(ctx, mutations); err != nil {
		return err
	}

	for i := range mutations {
		m := &mutations[i]
		if _, err := s.stock.AdjustQuantities(ctx, m.BookID, plan[i].Deltas); err != nil {
			s.logger.Warn("Ledger delta failed, compensating applied prefix",
				zap.Int64("order_id", orderID),
				zap.String("transition", transition),
				zap.Int("failed_seq", i),
				zap.Error(err))
			s.compensate(ctx, mutations[:i], plan[:i])
			return err
		}
		if err := s.store.SetMutationState(ctx, m.ID, models.MutationApplied); err != nil {
			s.logger.Error("Failed to mark mutation applied",
				zap.Int64("mutation_id", m.ID),
				zap.Error(err))
		}
	}
	return nil
}

// MutationLog returns an order's saga log in plan order. A row still
// APPLIED after a failed transition marks quantity an operator has to
// reconcile by hand.
func (s *Saga) MutationLog(ctx context.Context, orderID int64) ([]models.StockMutation, error) {
	return s.store.ListMutations(ctx, orderID)
}

// compensate replays applied deltas in reverse order, inverted.
func (s *Saga) compensate(ctx context.Context, applied []models.StockMutation, plan []PlannedDelta) {
	outcome := "success"
	for i := len(applied) - 1; i >= 0; i-- {
		m := &applied[i]
		if _, err := s.stock.AdjustQuantities(ctx, m.BookID, plan[i].Deltas.Invert()); err != nil {
			// Leave the row APPLIED: the quantity really moved and an
			// operator has to reconcile it against the ledger.
			s.logger.Error("Compensation failed, manual reconciliation required",
				zap.Int64("order_id", m.OrderID),
				zap.Int64("book_id", m.BookID),
				zap.Int("seq", m.Seq),
				zap.Error(err))
			outcome = "failed"
			continue
		}
		if err := s.store.SetMutationState(ctx, m.ID, models.MutationCompensated); err != nil {
			s.logger.Error("Failed to mark mutation compensated",
				zap.Int64("mutation_id", m.ID),
				zap.Error(err))
		}
	}
	util.SagaCompensationsTotal.WithLabelValues(outcome).Inc()
}
