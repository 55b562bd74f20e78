package service

import (
	"context"
	"strconv"
	"time"

	"lending-service/internal/clock"
	"lending-service/internal/errs"
	"lending-service/internal/ledger"
	"lending-service/internal/models"
	"lending-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const idempotencyTTL = 24 * time.Hour

// OrderStore is the persistence the order state machine needs.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error)
	SetCancellationRequested(ctx context.Context, orderID int64) error
	SetBookReceived(ctx context.Context, orderID int64) error
}

// OrderEvents publishes order lifecycle events, best-effort.
type OrderEvents interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderTransitioned(ctx context.Context, event *models.OrderTransitionedEvent) error
}

// IdempotencyCache is the fast-path duplicate check for order creation.
type IdempotencyCache interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// OrderService drives an order through the delivery/return state
// machine, moving ledger quantity between pools on each transition.
type OrderService struct {
	orders   OrderStore
	carts    CartStore
	delivery *DeliveryService
	subs     SubscriptionGate
	stock    StockLedger
	saga     *Saga
	events   OrderEvents
	idem     IdempotencyCache
	clock    clock.Clock
	logger   *zap.Logger
}

// NewOrderService creates a new order service. events and idem may be
// nil.
func NewOrderService(
	orders OrderStore,
	carts CartStore,
	delivery *DeliveryService,
	subs SubscriptionGate,
	stock StockLedger,
	saga *Saga,
	events OrderEvents,
	idem IdempotencyCache,
	clk clock.Clock,
) *OrderService {
	return &OrderService{
		orders:   orders,
		carts:    carts,
		delivery: delivery,
		subs:     subs,
		stock:    stock,
		saga:     saga,
		events:   events,
		idem:     idem,
		clock:    clk,
		logger:   util.GetLogger(),
	}
}

// CreateOrderRequest converts a cart into an order. CartID zero means
// the user's active cart.
type CreateOrderRequest struct {
	UserID         int64  `json:"user_id" binding:"required"`
	CartID         int64  `json:"cart_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// CreateOrder validates the cart against subscription and stock,
// reserves each item's quantity on the ledger and leaves the order
// PENDING. The cart is consumed.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	if existing, err := s.findDuplicate(ctx, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.Int64("order_id", existing.ID))
		return existing, nil
	}

	cart, err := s.resolveCart(ctx, req)
	if err != nil {
		return nil, err
	}
	if cart.Expired(s.clock.Now()) {
		_ = s.carts.UpdateCartStatus(ctx, cart.ID, models.CartStatusAbandoned)
		return nil, errs.New(errs.KindCartExpired, "cart %d has expired", cart.ID)
	}

	items, err := s.carts.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, errs.New(errs.KindInvalidRequest, "cart %d is empty", cart.ID)
	}
	totalBooks := totalQuantity(items)

	sub, err := s.subs.ActiveSubscription(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !sub.Active() {
		return nil, errs.New(errs.KindInvalidRequest, "user %d has no active paid subscription", req.UserID)
	}
	if totalBooks > sub.MaxBooksAllowed {
		return nil, errs.New(errs.KindQuotaExceeded,
			"order holds %d books, subscription allows %d", totalBooks, sub.MaxBooksAllowed)
	}

	plan, err := s.delivery.GetPlan(ctx, req.UserID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, errs.New(errs.KindInvalidRequest, "user %d has no active delivery plan", req.UserID)
		}
		return nil, err
	}

	// Authoritative pre-check against the ledger, before any mutation.
	for _, item := range items {
		stock, err := s.stock.GetBook(ctx, item.BookID)
		if err != nil {
			return nil, err
		}
		if item.Quantity > stock.Available {
			return nil, errs.New(errs.KindInsufficientStock,
				"book %d has %d available, cart holds %d", item.BookID, stock.Available, item.Quantity)
		}
	}

	estimated, due := s.delivery.DeliveryDates(plan, sub.DeliveryCycleDays)
	order := &models.Order{
		UserID:                req.UserID,
		SubscriptionID:        sub.ID,
		CartID:                cart.ID,
		DeliveryPlanID:        plan.ID,
		TotalBooksOrdered:     totalBooks,
		Status:                models.OrderStatusPending,
		EstimatedDeliveryDate: estimated,
		DueDate:               due,
		IdempotencyKey:        req.IdempotencyKey,
	}
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := s.carts.UpdateCartStatus(ctx, cart.ID, models.CartStatusOrdered); err != nil {
		return nil, err
	}

	if err := s.saga.Execute(ctx, order.ID, "create", reservePlan(items)); err != nil {
		// Reservation never landed: release the cart and retire the
		// order row (orders are never physically deleted).
		if _, serr := s.orders.UpdateOrderStatus(ctx, order.ID, models.OrderStatusPending, models.OrderStatusCancelled); serr != nil {
			s.logger.Error("Failed to retire unreserved order", zap.Int64("order_id", order.ID), zap.Error(serr))
		}
		if cerr := s.carts.UpdateCartStatus(ctx, cart.ID, models.CartStatusActive); cerr != nil {
			s.logger.Error("Failed to reactivate cart", zap.Int64("cart_id", cart.ID), zap.Error(cerr))
		}
		return nil, err
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int("total_books", totalBooks))

	if s.idem != nil {
		if err := s.idem.SetIdempotencyKey(ctx, req.IdempotencyKey,
			strconv.FormatInt(order.ID, 10), idempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.Error(err))
		}
	}
	s.publishCreated(ctx, order, items)
	return order, nil
}

// Approve moves a pending order to approved. Status-only.
func (s *OrderService) Approve(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Approve")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusApproved) {
		return nil, s.rejectTransition(order, models.OrderStatusApproved)
	}
	return s.commitStatus(ctx, order, models.OrderStatusApproved)
}

// RequestCancellation flags the order for cancellation. Rejected once
// the order has been dispatched or reached a terminal state.
func (s *OrderService) RequestCancellation(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RequestCancellation")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, s.rejectTransition(order, models.OrderStatusCancelled)
	}
	if order.IsCancellationRequested {
		return order, nil
	}
	if err := s.orders.SetCancellationRequested(ctx, orderID); err != nil {
		return nil, err
	}
	order.IsCancellationRequested = true
	return order, nil
}

// Cancel returns the reserved quantity to the available pool and ends
// the order. Requires a prior cancellation request.
func (s *OrderService) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusCancelled) {
		return nil, s.rejectTransition(order, models.OrderStatusCancelled)
	}
	if !order.IsCancellationRequested {
		util.OrderTransitionsRejected.WithLabelValues("not_requested").Inc()
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d has no cancellation request", orderID)
	}

	return s.stockTransition(ctx, order, models.OrderStatusCancelled, func(item models.CartItem) ledger.Deltas {
		return ledger.Deltas{Reserved: -item.Quantity, Available: item.Quantity}
	})
}

// Dispatch moves reserved quantity to in-transit and the order out of
// the cancellable window.
func (s *OrderService) Dispatch(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Dispatch")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, models.OrderStatusDispatched) {
		return nil, s.rejectTransition(order, models.OrderStatusDispatched)
	}

	return s.stockTransition(ctx, order, models.OrderStatusDispatched, func(item models.CartItem) ledger.Deltas {
		return ledger.Deltas{Reserved: -item.Quantity, InTransit: item.Quantity}
	})
}

// ConfirmReceived records that the user has the books. Settable once,
// only while dispatched; it gates the return transition's date logic.
func (s *OrderService) ConfirmReceived(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmReceived")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusDispatched {
		util.OrderTransitionsRejected.WithLabelValues("not_dispatched").Inc()
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d is %s, receipt can only be confirmed while dispatched", orderID, order.Status)
	}
	if order.IsBookReceived {
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d receipt already confirmed", orderID)
	}
	if err := s.orders.SetBookReceived(ctx, orderID); err != nil {
		return nil, err
	}
	order.IsBookReceived = true
	return order, nil
}

// Return closes out a dispatched, received order. On time the quantity
// goes back to available (RETURNED); past the due date it is written
// off as lost (LOST).
func (s *OrderService) Return(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Return")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsBookReceived {
		util.OrderTransitionsRejected.WithLabelValues("not_received").Inc()
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d cannot be returned before receipt is confirmed", orderID)
	}

	onTime := !s.clock.Now().After(order.DueDate)
	target := models.OrderStatusReturned
	if !onTime {
		target = models.OrderStatusLost
	}
	if !models.CanTransition(order.Status, target) {
		return nil, s.rejectTransition(order, target)
	}

	return s.stockTransition(ctx, order, target, func(item models.CartItem) ledger.Deltas {
		if onTime {
			return ledger.Deltas{InTransit: -item.Quantity, Available: item.Quantity}
		}
		return ledger.Deltas{InTransit: -item.Quantity, Lost: item.Quantity}
	})
}

// GetOrder retrieves an order with its cart items.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, []models.CartItem, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.carts.GetCartItems(ctx, order.CartID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListOrdersForUser retrieves a user's orders, newest first.
func (s *OrderService) ListOrdersForUser(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUserID(ctx, userID)
}

// MutationLog exposes an order's persisted ledger mutation plan for
// operator reconciliation.
func (s *OrderService) MutationLog(ctx context.Context, orderID int64) ([]models.StockMutation, error) {
	if _, err := s.orders.GetOrderByID(ctx, orderID); err != nil {
		return nil, err
	}
	return s.saga.MutationLog(ctx, orderID)
}

// stockTransition runs a stock-effecting transition: saga the per-item
// deltas, then persist the status. The status write is guarded on the
// prior status so a concurrent transition cannot double-apply.
func (s *OrderService) stockTransition(ctx context.Context, order *models.Order, to string, deltaFor func(models.CartItem) ledger.Deltas) (*models.Order, error) {
	items, err := s.carts.GetCartItems(ctx, order.CartID)
	if err != nil {
		return nil, err
	}

	plan := make([]PlannedDelta, len(items))
	for i, item := range items {
		plan[i] = PlannedDelta{BookID: item.BookID, Deltas: deltaFor(item)}
	}
	if err := s.saga.Execute(ctx, order.ID, to, plan); err != nil {
		return nil, err
	}

	ok, err := s.orders.UpdateOrderStatus(ctx, order.ID, order.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent transition won between our status check and the
		// ledger mutations; the quantity has moved twice and an
		// operator must reconcile against the saga log.
		s.logger.Error("Concurrent transition detected after ledger mutation, manual reconciliation required",
			zap.Int64("order_id", order.ID),
			zap.String("attempted", to))
		util.OrderTransitionsRejected.WithLabelValues("concurrent").Inc()
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d was concurrently transitioned away from %s", order.ID, order.Status)
	}

	from := order.Status
	order.Status = to
	util.OrderTransitionsTotal.WithLabelValues(to).Inc()
	s.logger.Info("Order transitioned",
		zap.Int64("order_id", order.ID),
		zap.String("from", from),
		zap.String("to", to))
	s.publishTransitioned(ctx, order, from, to)
	return order, nil
}

// commitStatus persists a status-only transition.
func (s *OrderService) commitStatus(ctx context.Context, order *models.Order, to string) (*models.Order, error) {
	ok, err := s.orders.UpdateOrderStatus(ctx, order.ID, order.Status, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		util.OrderTransitionsRejected.WithLabelValues("concurrent").Inc()
		return nil, errs.New(errs.KindInvalidTransition,
			"order %d was concurrently transitioned away from %s", order.ID, order.Status)
	}
	from := order.Status
	order.Status = to
	util.OrderTransitionsTotal.WithLabelValues(to).Inc()
	s.publishTransitioned(ctx, order, from, to)
	return order, nil
}

func (s *OrderService) rejectTransition(order *models.Order, to string) error {
	util.OrderTransitionsRejected.WithLabelValues("illegal").Inc()
	return errs.New(errs.KindInvalidTransition,
		"order %d is %s, cannot transition to %s", order.ID, order.Status, to)
}

func (s *OrderService) resolveCart(ctx context.Context, req *CreateOrderRequest) (*models.Cart, error) {
	if req.CartID == 0 {
		return s.carts.GetActiveCartForUser(ctx, req.UserID)
	}
	cart, err := s.carts.GetCart(ctx, req.CartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID != req.UserID {
		return nil, errs.New(errs.KindInvalidRequest, "cart %d does not belong to user %d", req.CartID, req.UserID)
	}
	if cart.Status != models.CartStatusActive {
		return nil, errs.New(errs.KindInvalidRequest, "cart %d is not active", req.CartID)
	}
	return cart, nil
}

func (s *OrderService) findDuplicate(ctx context.Context, key string) (*models.Order, error) {
	if s.idem != nil {
		cached, err := s.idem.GetIdempotencyKey(ctx, key)
		if err != nil {
			s.logger.Warn("Idempotency cache read failed", zap.Error(err))
		} else if cached != "" {
			orderID, err := strconv.ParseInt(cached, 10, 64)
			if err == nil {
				return s.orders.GetOrderByID(ctx, orderID)
			}
		}
	}
	return s.orders.GetOrderByIdempotencyKey(ctx, key)
}

func reservePlan(items []models.CartItem) []PlannedDelta {
	plan := make([]PlannedDelta, len(items))
	for i, item := range items {
		plan[i] = PlannedDelta{
			BookID: item.BookID,
			Deltas: ledger.Deltas{Available: -item.Quantity, Reserved: item.Quantity},
		}
	}
	return plan
}

func (s *OrderService) publishCreated(ctx context.Context, order *models.Order, items []models.CartItem) {
	if s.events == nil {
		return
	}
	eventItems := make([]models.OrderItemData, len(items))
	for i, item := range items {
		eventItems[i] = models.OrderItemData{BookID: item.BookID, Quantity: item.Quantity}
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: s.clock.Now(),
		},
		OrderID:           order.ID,
		UserID:            order.UserID,
		CartID:            order.CartID,
		TotalBooksOrdered: order.TotalBooksOrdered,
		DueDate:           order.DueDate,
		Items:             eventItems,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *OrderService) publishTransitioned(ctx context.Context, order *models.Order, from, to string) {
	if s.events == nil {
		return
	}
	eventType := map[string]string{
		models.OrderStatusApproved:   models.EventTypeOrderApproved,
		models.OrderStatusDispatched: models.EventTypeOrderDispatched,
		models.OrderStatusReturned:   models.EventTypeOrderReturned,
		models.OrderStatusLost:       models.EventTypeOrderLost,
		models.OrderStatusCancelled:  models.EventTypeOrderCancelled,
	}[to]
	event := &models.OrderTransitionedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.clock.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		From:    from,
		To:      to,
	}
	if err := s.events.PublishOrderTransitioned(ctx, event); err != nil {
		s.logger.Error("Failed to publish order transition event", zap.Error(err))
	}
}
