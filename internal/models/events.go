package models

import "time"

// Event types
const (
	EventTypeStockAdjusted   = "STOCK_ADJUSTED"
	EventTypeCartAbandoned   = "CART_ABANDONED"
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderApproved   = "ORDER_APPROVED"
	EventTypeOrderDispatched = "ORDER_DISPATCHED"
	EventTypeOrderReturned   = "ORDER_RETURNED"
	EventTypeOrderLost       = "ORDER_LOST"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockAdjustedEvent carries the post-mutation pool values so caches
// can be refreshed without a read back to the ledger.
type StockAdjustedEvent struct {
	BaseEvent
	BookID    int64 `json:"book_id"`
	Total     int   `json:"total_quantity"`
	Available int   `json:"available_quantity"`
	Reserved  int   `json:"reserved"`
	InTransit int   `json:"in_transit"`
	Lost      int   `json:"lost_count"`
	Version   int64 `json:"version"`
}

// CartAbandonedEvent published on explicit abandon or expiry sweep.
type CartAbandonedEvent struct {
	BaseEvent
	CartID int64  `json:"cart_id"`
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	BookID   int64 `json:"book_id"`
	Quantity int   `json:"quantity"`
}

// OrderCreatedEvent published when an order enters PENDING with its
// reservation committed to the ledger.
type OrderCreatedEvent struct {
	BaseEvent
	OrderID           int64           `json:"order_id"`
	UserID            int64           `json:"user_id"`
	CartID            int64           `json:"cart_id"`
	TotalBooksOrdered int             `json:"total_books_ordered"`
	DueDate           time.Time       `json:"due_date"`
	Items             []OrderItemData `json:"items"`
}

// OrderTransitionedEvent published on every status change after create.
type OrderTransitionedEvent struct {
	BaseEvent
	OrderID int64  `json:"order_id"`
	UserID  int64  `json:"user_id"`
	From    string `json:"from"`
	To      string `json:"to"`
}
