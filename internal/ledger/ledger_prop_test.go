package ledger

import (
	"testing"

	"lending-service/internal/models"

	"pgregory.net/rapid"
)

func checkInvariants(t *rapid.T, s models.BookStock) {
	if s.Available < 0 || s.Reserved < 0 || s.InTransit < 0 || s.Lost < 0 {
		t.Fatalf("negative pool: %+v", s)
	}
	if sum := s.Available + s.Reserved + s.InTransit + s.Lost; sum > s.Total {
		t.Fatalf("pool sum %d exceeds total %d: %+v", sum, s.Total, s)
	}
}

func genDeltas(t *rapid.T) Deltas {
	return Deltas{
		Available: rapid.IntRange(-5, 5).Draw(t, "available"),
		Reserved:  rapid.IntRange(-5, 5).Draw(t, "reserved"),
		InTransit: rapid.IntRange(-5, 5).Draw(t, "in_transit"),
		Lost:      rapid.IntRange(-5, 5).Draw(t, "lost"),
	}
}

// Random sequences of ledger operations never produce a state with a
// negative pool or a pool sum above the total. Rejected operations must
// leave the state untouched.
func TestLedgerInvariantsHoldUnderRandomOps(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(0, 30).Draw(t, "total")
		cur := models.BookStock{BookID: 1, Total: total, Available: total}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			before := cur
			var (
				next models.BookStock
				err  error
			)
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				next, err = Apply(cur, genDeltas(t))
			case 1:
				next, err = SetTotal(cur, rapid.IntRange(0, 40).Draw(t, "new_total"))
			case 2:
				next, err = SetAvailable(cur, rapid.IntRange(0, 40).Draw(t, "new_available"))
			case 3:
				next, err = SetLost(cur, rapid.IntRange(0, 40).Draw(t, "new_lost"))
			}
			if err != nil {
				if next != before {
					t.Fatalf("rejected op mutated state: %+v -> %+v", before, next)
				}
				continue
			}
			checkInvariants(t, next)
			cur = next
		}
	})
}

// Applying deltas and then their inversion restores the exact prior
// state, which is what saga compensation relies on.
func TestApplyInvertRestoresState(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 30).Draw(t, "total")
		available := rapid.IntRange(0, total).Draw(t, "available")
		reserved := rapid.IntRange(0, total-available).Draw(t, "reserved")
		cur := models.BookStock{
			BookID:    1,
			Total:     total,
			Available: available,
			Reserved:  reserved,
		}

		// Draw a reachable target state and derive the deltas from it so
		// Apply never rejects the draw.
		nextAvailable := rapid.IntRange(0, total).Draw(t, "next_available")
		nextReserved := rapid.IntRange(0, total-nextAvailable).Draw(t, "next_reserved")
		nextInTransit := rapid.IntRange(0, total-nextAvailable-nextReserved).Draw(t, "next_in_transit")
		nextLost := rapid.IntRange(0, total-nextAvailable-nextReserved-nextInTransit).Draw(t, "next_lost")
		d := Deltas{
			Available: nextAvailable - cur.Available,
			Reserved:  nextReserved - cur.Reserved,
			InTransit: nextInTransit - cur.InTransit,
			Lost:      nextLost - cur.Lost,
		}

		mid, err := Apply(cur, d)
		if err != nil {
			t.Fatalf("delta rejected: %v", err)
		}
		back, err := Apply(mid, d.Invert())
		if err != nil {
			t.Fatalf("inverse delta rejected: %v", err)
		}
		if back != cur {
			t.Fatalf("round trip changed state: %+v -> %+v", cur, back)
		}
	})
}

// Carving a school allocation out and soft-deleting it returns every
// copy to the book's available pool.
func TestSchoolAssignDeleteRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		total := rapid.IntRange(1, 30).Draw(t, "total")
		book := models.BookStock{BookID: 1, Total: total, Available: total}
		quantity := rapid.IntRange(1, total).Draw(t, "quantity")

		assigned, school, err := AssignToSchool(book, 7, quantity)
		if err != nil {
			t.Fatalf("assign rejected: %v", err)
		}

		if resize := rapid.IntRange(0, book.Available).Draw(t, "resize"); resize != quantity {
			assigned, school, err = ResizeSchool(assigned, school, resize)
			if err != nil {
				t.Fatalf("resize rejected: %v", err)
			}
		}

		restored, _, err := SoftDeleteSchool(assigned, school)
		if err != nil {
			t.Fatalf("soft delete rejected: %v", err)
		}
		if restored.Available != book.Available {
			t.Fatalf("available %d after round trip, want %d", restored.Available, book.Available)
		}
	})
}
