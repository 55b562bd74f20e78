package store

import (
	"context"
	"database/sql"
	"errors"

	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// CreateOrder inserts a new PENDING order.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, subscription_id, cart_id, delivery_plan_id,
		                    total_books_ordered, status, estimated_delivery_date, due_date, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	err := s.db.GetContext(ctx, order, query,
		order.UserID, order.SubscriptionID, order.CartID, order.DeliveryPlanID,
		order.TotalBooksOrdered, order.Status, order.EstimatedDeliveryDate, order.DueDate,
		order.IdempotencyKey)
	if err != nil && isUniqueViolation(err) {
		return errs.New(errs.KindInvalidRequest, "an order already exists for cart %d", order.CartID)
	}
	return err
}

// GetOrderByID retrieves an order by ID.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "order not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key, or
// nil when none exists.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves a user's orders, newest first.
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatus sets an order's status only if it still has the
// expected one, so concurrent transition calls cannot double-apply.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// SetCancellationRequested flips the cancellation flag.
func (s *Store) SetCancellationRequested(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET is_cancellation_requested = TRUE, updated_at = NOW() WHERE id = $1", orderID)
	return err
}

// SetBookReceived flips the received flag.
func (s *Store) SetBookReceived(ctx context.Context, orderID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET is_book_received = TRUE, updated_at = NOW() WHERE id = $1", orderID)
	return err
}
