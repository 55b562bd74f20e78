package store

import (
	"context"
	"fmt"

	"lending-service/internal/models"
)

// PlanStockMutations persists a transition's full delta plan before any
// ledger call is issued.
func (s *Store) PlanStockMutations(ctx context.Context, mutations []models.StockMutation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO stock_mutations (order_id, transition, seq, book_id,
		                             available_delta, reserved_delta, in_transit_delta, lost_delta, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range mutations {
		m := &mutations[i]
		m.State = models.MutationPlanned
		if err := tx.GetContext(ctx, &m.ID, query,
			m.OrderID, m.Transition, m.Seq, m.BookID,
			m.AvailableDelta, m.ReservedDelta, m.InTransitDelta, m.LostDelta, m.State); err != nil {
			return fmt.Errorf("failed to persist mutation plan: %w", err)
		}
	}

	return tx.Commit()
}

// SetMutationState advances one saga log row.
func (s *Store) SetMutationState(ctx context.Context, mutationID int64, state string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE stock_mutations SET state = $1, updated_at = NOW() WHERE id = $2", state, mutationID)
	return err
}

// ListMutations retrieves an order's saga log in plan order, for
// operator reconciliation.
func (s *Store) ListMutations(ctx context.Context, orderID int64) ([]models.StockMutation, error) {
	var mutations []models.StockMutation
	err := s.db.SelectContext(ctx, &mutations,
		"SELECT * FROM stock_mutations WHERE order_id = $1 ORDER BY id", orderID)
	return mutations, err
}
