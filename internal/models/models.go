package models

import "time"

// BookStock is the per-book quantity ledger. The sum of the four pools
// must never exceed TotalQuantity; Version guards concurrent updates.
type BookStock struct {
	BookID    int64     `db:"book_id" json:"book_id"`
	Total     int       `db:"total_quantity" json:"total_quantity"`
	Available int       `db:"available_quantity" json:"available_quantity"`
	Reserved  int       `db:"reserved" json:"reserved"`
	InTransit int       `db:"in_transit" json:"in_transit"`
	Lost      int       `db:"lost_count" json:"lost_count"`
	Version   int64     `db:"version" json:"-"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SchoolStock is a per-(book, school) allocation carved out of the
// book's available pool. OnHold is derived, never stored.
type SchoolStock struct {
	BookID    int64     `db:"book_id" json:"book_id"`
	SchoolID  int64     `db:"school_id" json:"school_id"`
	Total     int       `db:"total_quantity" json:"total_quantity"`
	Available int       `db:"available_quantity" json:"available_quantity"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OnHold is the allocated-but-unavailable part of a school allocation.
func (s *SchoolStock) OnHold() int {
	return s.Total - s.Available
}

// Cart statuses
const (
	CartStatusActive    = "ACTIVE"
	CartStatusOrdered   = "ORDERED"
	CartStatusAbandoned = "ABANDONED"
)

// Cart holds a user's not-yet-ordered book selection. At most one
// ACTIVE cart exists per user; ExpiryTime is creation time + TTL.
type Cart struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Status     string    `db:"status" json:"status"`
	ExpiryTime time.Time `db:"expiry_time" json:"expiry_time"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Expired reports whether the cart's TTL has elapsed at the given time.
func (c *Cart) Expired(now time.Time) bool {
	return now.After(c.ExpiryTime)
}

// CartItem is one (book, quantity) line of a cart. Position preserves
// the order items were added in, which is also ledger-update order.
type CartItem struct {
	ID       int64 `db:"id" json:"id"`
	CartID   int64 `db:"cart_id" json:"cart_id"`
	BookID   int64 `db:"book_id" json:"book_id"`
	Quantity int   `db:"quantity" json:"quantity"`
	Position int   `db:"position" json:"-"`
}

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusApproved   = "APPROVED"
	OrderStatusDispatched = "DISPATCHED"
	OrderStatusReturned   = "RETURNED"
	OrderStatusLost       = "LOST"
	OrderStatusCancelled  = "CANCELLED"
)

// Order is a committed fulfillment request for one cart, tracked
// through the delivery/return state machine. Never physically deleted.
type Order struct {
	ID                      int64     `db:"id" json:"id"`
	UserID                  int64     `db:"user_id" json:"user_id"`
	SubscriptionID          int64     `db:"subscription_id" json:"subscription_id"`
	CartID                  int64     `db:"cart_id" json:"cart_id"`
	DeliveryPlanID          int64     `db:"delivery_plan_id" json:"delivery_plan_id"`
	TotalBooksOrdered       int       `db:"total_books_ordered" json:"total_books_ordered"`
	Status                  string    `db:"status" json:"status"`
	IsCancellationRequested bool      `db:"is_cancellation_requested" json:"is_cancellation_requested"`
	IsBookReceived          bool      `db:"is_book_received" json:"is_book_received"`
	EstimatedDeliveryDate   time.Time `db:"estimated_delivery_date" json:"estimated_delivery_date"`
	DueDate                 time.Time `db:"due_date" json:"due_date"`
	IdempotencyKey          string    `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"updated_at"`
}

// validNext is the order state machine. Transitions absent from the
// table are rejected; RETURNED, LOST and CANCELLED are terminal.
var validNext = map[string]map[string]bool{
	OrderStatusPending: {
		OrderStatusApproved:  true,
		OrderStatusCancelled: true,
	},
	OrderStatusApproved: {
		OrderStatusDispatched: true,
		OrderStatusCancelled:  true,
	},
	OrderStatusDispatched: {
		OrderStatusReturned: true,
		OrderStatusLost:     true,
	},
	OrderStatusReturned:  {},
	OrderStatusLost:      {},
	OrderStatusCancelled: {},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	return validNext[from][to]
}

// DeliveryPlan statuses
const (
	DeliveryPlanActive   = "ACTIVE"
	DeliveryPlanInactive = "INACTIVE"
)

// DeliveryPlan is a user's weekly delivery cadence with the address
// snapshotted from the profile service at upsert time.
type DeliveryPlan struct {
	ID              int64        `db:"id" json:"id"`
	UserID          int64        `db:"user_id" json:"user_id"`
	DeliveryDay     time.Weekday `db:"delivery_day" json:"delivery_day"`
	DeliveryAddress string       `db:"delivery_address" json:"delivery_address"`
	Status          string       `db:"status" json:"status"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// Subscription is the Subscription Gate's view of a user's plan.
type Subscription struct {
	ID                int64  `json:"id"`
	Status            string `json:"status"`
	PaymentStatus     string `json:"payment_status"`
	MaxBooksAllowed   int    `json:"max_books_allowed"`
	DeliveryCycleDays int    `json:"delivery_cycle_days"`
}

// Active reports whether the subscription admits cart and order activity.
func (s *Subscription) Active() bool {
	return s.Status == "ACTIVE" && s.PaymentStatus == "PAID"
}

// Saga mutation states
const (
	MutationPlanned     = "PLANNED"
	MutationApplied     = "APPLIED"
	MutationCompensated = "COMPENSATED"
)

// StockMutation is one planned ledger delta of an order transition's
// saga log, persisted before any ledger call is issued.
type StockMutation struct {
	ID             int64     `db:"id" json:"id"`
	OrderID        int64     `db:"order_id" json:"order_id"`
	Transition     string    `db:"transition" json:"transition"`
	Seq            int       `db:"seq" json:"seq"`
	BookID         int64     `db:"book_id" json:"book_id"`
	AvailableDelta int       `db:"available_delta" json:"available_delta"`
	ReservedDelta  int       `db:"reserved_delta" json:"reserved_delta"`
	InTransitDelta int       `db:"in_transit_delta" json:"in_transit_delta"`
	LostDelta      int       `db:"lost_delta" json:"lost_delta"`
	State          string    `db:"state" json:"state"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
