package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// GetBookStock retrieves the stock record for a book.
func (s *Store) GetBookStock(ctx context.Context, bookID int64) (*models.BookStock, error) {
	var stock models.BookStock
	err := s.db.GetContext(ctx, &stock, "SELECT * FROM book_stock WHERE book_id = $1", bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound, "book stock not found: %d", bookID)
	}
	if err != nil {
		return nil, err
	}
	return &stock, nil
}

// InsertBookStock creates the stock record for a new book.
func (s *Store) InsertBookStock(ctx context.Context, stock *models.BookStock) error {
	query := `
		INSERT INTO book_stock (book_id, total_quantity, available_quantity, reserved, in_transit, lost_count, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		RETURNING version, updated_at`

	err := s.db.GetContext(ctx, stock, query,
		stock.BookID, stock.Total, stock.Available, stock.Reserved, stock.InTransit, stock.Lost)
	if err != nil && isUniqueViolation(err) {
		return errs.New(errs.KindInvalidRequest, "book stock already exists: %d", stock.BookID)
	}
	return err
}

// UpdateBookStock writes the full record guarded by the expected
// version. Returns false without error when another writer won the race.
func (s *Store) UpdateBookStock(ctx context.Context, stock *models.BookStock, expectedVersion int64) (bool, error) {
	ok, err := updateBookStockIn(ctx, s.db, stock, expectedVersion)
	if err != nil || !ok {
		return ok, err
	}
	stock.Version = expectedVersion + 1
	return true, nil
}

// GetSchoolStock retrieves the allocation record for a (book, school)
// pair, deleted or not.
func (s *Store) GetSchoolStock(ctx context.Context, bookID, schoolID int64) (*models.SchoolStock, error) {
	var school models.SchoolStock
	err := s.db.GetContext(ctx, &school,
		"SELECT * FROM school_stock WHERE book_id = $1 AND school_id = $2", bookID, schoolID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.KindNotFound,
			"school %d has no allocation for book %d", schoolID, bookID)
	}
	if err != nil {
		return nil, err
	}
	return &school, nil
}

// ListActiveSchoolStock retrieves the non-deleted allocations of a book.
func (s *Store) ListActiveSchoolStock(ctx context.Context, bookID int64) ([]models.SchoolStock, error) {
	var schools []models.SchoolStock
	err := s.db.SelectContext(ctx, &schools,
		"SELECT * FROM school_stock WHERE book_id = $1 AND is_deleted = FALSE ORDER BY school_id", bookID)
	return schools, err
}

// InsertSchoolStockTx atomically writes the adjusted book record and the
// new school allocation. Returns false on a book version conflict; in
// that case (and on any error) nothing is persisted.
func (s *Store) InsertSchoolStockTx(ctx context.Context, book *models.BookStock, expectedVersion int64, school *models.SchoolStock) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := updateBookStockIn(ctx, tx, book, expectedVersion)
	if err != nil || !ok {
		return ok, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO school_stock (book_id, school_id, total_quantity, available_quantity, is_deleted)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (book_id, school_id) DO UPDATE
		SET total_quantity = EXCLUDED.total_quantity,
		    available_quantity = EXCLUDED.available_quantity,
		    is_deleted = FALSE, updated_at = NOW()`,
		school.BookID, school.SchoolID, school.Total, school.Available)
	if err != nil {
		return false, fmt.Errorf("failed to insert school stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	book.Version = expectedVersion + 1
	return true, nil
}

// UpdateSchoolStockTx atomically writes the adjusted book record and an
// existing school allocation.
func (s *Store) UpdateSchoolStockTx(ctx context.Context, book *models.BookStock, expectedVersion int64, school *models.SchoolStock) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	ok, err := updateBookStockIn(ctx, tx, book, expectedVersion)
	if err != nil || !ok {
		return ok, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE school_stock
		SET total_quantity = $1, available_quantity = $2, is_deleted = $3, updated_at = NOW()
		WHERE book_id = $4 AND school_id = $5`,
		school.Total, school.Available, school.IsDeleted, school.BookID, school.SchoolID)
	if err != nil {
		return false, fmt.Errorf("failed to update school stock: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	book.Version = expectedVersion + 1
	return true, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateBookStockIn(ctx context.Context, ex execer, stock *models.BookStock, expectedVersion int64) (bool, error) {
	result, err := ex.ExecContext(ctx, `
		UPDATE book_stock
		SET total_quantity = $1, available_quantity = $2, reserved = $3,
		    in_transit = $4, lost_count = $5, version = version + 1, updated_at = NOW()
		WHERE book_id = $6 AND version = $7`,
		stock.Total, stock.Available, stock.Reserved, stock.InTransit, stock.Lost,
		stock.BookID, expectedVersion)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
