package ledger

import (
	"lending-service/internal/errs"
	"lending-service/internal/models"
)

// Deltas is one atomic set of pool adjustments against a single book.
type Deltas struct {
	Available int `json:"available_delta"`
	Reserved  int `json:"reserved_delta"`
	InTransit int `json:"in_transit_delta"`
	Lost      int `json:"lost_delta"`
}

// IsZero reports whether the deltas would change nothing.
func (d Deltas) IsZero() bool {
	return d.Available == 0 && d.Reserved == 0 && d.InTransit == 0 && d.Lost == 0
}

// Invert returns the compensating deltas.
func (d Deltas) Invert() Deltas {
	return Deltas{
		Available: -d.Available,
		Reserved:  -d.Reserved,
		InTransit: -d.InTransit,
		Lost:      -d.Lost,
	}
}

// Apply validates d against cur and returns the adjusted record.
// Rejects any state with a negative pool or with
// available+reserved+inTransit+lost exceeding the total.
func Apply(cur models.BookStock, d Deltas) (models.BookStock, error) {
	next := cur
	next.Available += d.Available
	next.Reserved += d.Reserved
	next.InTransit += d.InTransit
	next.Lost += d.Lost

	if next.Available < 0 || next.Reserved < 0 || next.InTransit < 0 || next.Lost < 0 {
		return cur, errs.New(errs.KindInvariantViolation,
			"adjustment would make a quantity pool negative for book %d", cur.BookID)
	}
	if sum := next.Available + next.Reserved + next.InTransit + next.Lost; sum > next.Total {
		return cur, errs.New(errs.KindInvariantViolation,
			"adjustment would make pool sum %d exceed total %d for book %d", sum, next.Total, cur.BookID)
	}
	return next, nil
}

// SetTotal absorbs the difference between the old and new total entirely
// into the available pool.
func SetTotal(cur models.BookStock, newTotal int) (models.BookStock, error) {
	if newTotal < 0 {
		return cur, errs.New(errs.KindInvalidRequest, "total quantity must be non-negative")
	}
	next := cur
	next.Available += newTotal - cur.Total
	next.Total = newTotal

	if next.Available < 0 {
		return cur, errs.New(errs.KindInvalidRequest,
			"reducing total to %d would make available negative for book %d", newTotal, cur.BookID)
	}
	if next.Available+next.Lost > newTotal {
		return cur, errs.New(errs.KindInvalidRequest,
			"available %d plus lost %d exceeds new total %d for book %d",
			next.Available, next.Lost, newTotal, cur.BookID)
	}
	return next, nil
}

// SetAvailable is a manual correction of the available pool.
func SetAvailable(cur models.BookStock, v int) (models.BookStock, error) {
	return Apply(cur, Deltas{Available: v - cur.Available})
}

// SetLost is a manual correction of the lost pool.
func SetLost(cur models.BookStock, v int) (models.BookStock, error) {
	return Apply(cur, Deltas{Lost: v - cur.Lost})
}

// AssignToSchool carves quantity out of the book's available pool into a
// fresh school allocation. Both returned records must be persisted
// together or not at all.
func AssignToSchool(book models.BookStock, schoolID int64, quantity int) (models.BookStock, models.SchoolStock, error) {
	if quantity <= 0 {
		return book, models.SchoolStock{}, errs.New(errs.KindInvalidRequest, "school allocation must be positive")
	}
	if quantity > book.Available {
		return book, models.SchoolStock{}, errs.New(errs.KindInsufficientStock,
			"book %d has %d available, cannot allocate %d to school %d",
			book.BookID, book.Available, quantity, schoolID)
	}
	book.Available -= quantity
	school := models.SchoolStock{
		BookID:    book.BookID,
		SchoolID:  schoolID,
		Total:     quantity,
		Available: quantity,
	}
	return book, school, nil
}

// ResizeSchool redistributes the total delta between the school
// allocation and the book's available pool.
func ResizeSchool(book models.BookStock, school models.SchoolStock, newTotal int) (models.BookStock, models.SchoolStock, error) {
	if newTotal < 0 {
		return book, school, errs.New(errs.KindInvalidRequest, "school total must be non-negative")
	}
	diff := newTotal - school.Total
	switch {
	case diff > 0:
		if diff > book.Available {
			return book, school, errs.New(errs.KindInsufficientStock,
				"book %d has %d available, cannot grow school %d allocation by %d",
				book.BookID, book.Available, school.SchoolID, diff)
		}
		book.Available -= diff
		school.Available += diff
	case diff < 0:
		if -diff > school.Available {
			return book, school, errs.New(errs.KindInsufficientStock,
				"school %d has %d available, cannot shrink allocation by %d",
				school.SchoolID, school.Available, -diff)
		}
		book.Available += -diff
		school.Available -= -diff
	}
	school.Total = newTotal
	return book, school, nil
}

// SoftDeleteSchool returns the full allocation to the book's available
// pool and marks the school record deleted.
func SoftDeleteSchool(book models.BookStock, school models.SchoolStock) (models.BookStock, models.SchoolStock, error) {
	if school.IsDeleted {
		return book, school, errs.New(errs.KindAlreadyDeleted,
			"school %d allocation for book %d is already deleted", school.SchoolID, book.BookID)
	}
	book.Available += school.Total
	school.Available = 0
	school.IsDeleted = true
	return book, school, nil
}
