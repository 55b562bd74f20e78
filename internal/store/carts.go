package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// CreateCart inserts a new ACTIVE cart with its items.
func (s *Store) CreateCart(ctx context.Context, cart *models.Cart, items []models.CartItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO carts (user_id, status, expiry_time)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	if err := tx.GetContext(ctx, cart, query, cart.UserID, cart.Status, cart.ExpiryTime); err != nil {
		return fmt.Errorf("failed to create cart: %w", err)
	}

	for i := range items {
		items[i].CartID = cart.ID
		items[i].Position = i
		if err := insertCartItem(ctx, tx, &items[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetCart retrieves a cart by ID.
func (s *Store) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM carts WHERE id = $1", cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "cart not found: %d", cartID)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetActiveCartForUser retrieves the user's single ACTIVE cart, if any.
func (s *Store) GetActiveCartForUser(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.db.GetContext(ctx, &cart,
		"SELECT * FROM carts WHERE user_id = $1 AND status = $2", userID, models.CartStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "no active cart for user: %d", userID)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetCartItems retrieves the items of a cart in insertion order.
func (s *Store) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY position", cartID)
	return items, err
}

// ReplaceCartItems swaps the cart's item set for the given one.
func (s *Store) ReplaceCartItems(ctx context.Context, cartID int64, items []models.CartItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID); err != nil {
		return fmt.Errorf("failed to clear cart items: %w", err)
	}
	for i := range items {
		items[i].CartID = cartID
		items[i].Position = i
		if err := insertCartItem(ctx, tx, &items[i]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateCartStatus sets a cart's status.
func (s *Store) UpdateCartStatus(ctx context.Context, cartID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE carts SET status = $1, updated_at = NOW() WHERE id = $2", status, cartID)
	return err
}

// ListExpiredActiveCarts selects ACTIVE carts whose TTL elapsed before
// the given time. Used by the expiry sweep.
func (s *Store) ListExpiredActiveCarts(ctx context.Context, now time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := s.db.SelectContext(ctx, &carts,
		"SELECT * FROM carts WHERE status = $1 AND expiry_time < $2 ORDER BY expiry_time",
		models.CartStatusActive, now)
	return carts, err
}

type queryExecer interface {
	execer
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func insertCartItem(ctx context.Context, tx queryExecer, item *models.CartItem) error {
	query := `
		INSERT INTO cart_items (cart_id, book_id, quantity, position)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if err := tx.GetContext(ctx, &item.ID, query,
		item.CartID, item.BookID, item.Quantity, item.Position); err != nil {
		return fmt.Errorf("failed to insert cart item: %w", err)
	}
	return nil
}
