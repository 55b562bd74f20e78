package store

import (
	"context"
	"database/sql"
	"errors"

	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// GetActiveDeliveryPlan retrieves the user's ACTIVE plan.
func (s *Store) GetActiveDeliveryPlan(ctx context.Context, userID int64) (*models.DeliveryPlan, error) {
	var plan models.DeliveryPlan
	err := s.db.GetContext(ctx, &plan,
		"SELECT * FROM delivery_plans WHERE user_id = $1 AND status = $2",
		userID, models.DeliveryPlanActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "no active delivery plan for user: %d", userID)
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// UpsertDeliveryPlan deactivates any existing plan for the user and
// inserts the new ACTIVE one in a single transaction.
func (s *Store) UpsertDeliveryPlan(ctx context.Context, plan *models.DeliveryPlan) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE delivery_plans SET status = $1, updated_at = NOW() WHERE user_id = $2 AND status = $3",
		models.DeliveryPlanInactive, plan.UserID, models.DeliveryPlanActive); err != nil {
		return err
	}

	query := `
		INSERT INTO delivery_plans (user_id, delivery_day, delivery_address, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, plan, query,
		plan.UserID, plan.DeliveryDay, plan.DeliveryAddress, models.DeliveryPlanActive); err != nil {
		return err
	}

	return tx.Commit()
}
