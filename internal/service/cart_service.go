package service

import (
	"context"
	"time"

	"lending-service/internal/clock"
	"lending-service/internal/errs"
	"lending-service/internal/models"
	"lending-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartStore is the persistence the cart manager needs.
type CartStore interface {
	CreateCart(ctx context.Context, cart *models.Cart, items []models.CartItem) error
	GetCart(ctx context.Context, cartID int64) (*models.Cart, error)
	GetActiveCartForUser(ctx context.Context, userID int64) (*models.Cart, error)
	GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error)
	ReplaceCartItems(ctx context.Context, cartID int64, items []models.CartItem) error
	UpdateCartStatus(ctx context.Context, cartID int64, status string) error
	ListExpiredActiveCarts(ctx context.Context, now time.Time) ([]models.Cart, error)
}

// CartEvents publishes cart lifecycle events, best-effort.
type CartEvents interface {
	PublishCartAbandoned(ctx context.Context, event *models.CartAbandonedEvent) error
}

// CartService enforces the one-active-cart-per-user rule, the
// subscription quota, and availability checks at mutation time.
type CartService struct {
	store  CartStore
	subs   SubscriptionGate
	stock  StockLedger
	events CartEvents
	clock  clock.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// NewCartService creates a new cart service. events may be nil.
func NewCartService(
	store CartStore,
	subs SubscriptionGate,
	stock StockLedger,
	events CartEvents,
	clk clock.Clock,
	ttl time.Duration,
) *CartService {
	return &CartService{
		store:  store,
		subs:   subs,
		stock:  stock,
		events: events,
		clock:  clk,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// ItemRequest is one requested (book, quantity) line.
type ItemRequest struct {
	BookID   int64 `json:"book_id" binding:"required"`
	Quantity int   `json:"quantity" binding:"required,min=1"`
}

// CartView is a cart with its items, as returned to clients.
type CartView struct {
	Cart  *models.Cart      `json:"cart"`
	Items []models.CartItem `json:"items"`
}

// CreateOrAppend adds items to the user's active cart, creating one if
// none exists. An expired active cart is abandoned first; otherwise
// requested items merge into the existing ones by book.
func (s *CartService) CreateOrAppend(ctx context.Context, userID int64, items []ItemRequest) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.CreateOrAppend")
	defer span.End()

	requested, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	sub, err := s.subs.ActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.Active() {
		util.CartsRejectedTotal.WithLabelValues("no_subscription").Inc()
		return nil, errs.New(errs.KindInvalidRequest, "user %d has no active paid subscription", userID)
	}

	existing, err := s.store.GetActiveCartForUser(ctx, userID)
	if err != nil && !errs.Is(err, errs.KindNotFound) {
		return nil, err
	}
	if existing != nil && existing.Expired(s.clock.Now()) {
		if err := s.abandonCart(ctx, existing, "expired"); err != nil {
			return nil, err
		}
		existing = nil
	}

	var existingItems []models.CartItem
	if existing != nil {
		if existingItems, err = s.store.GetCartItems(ctx, existing.ID); err != nil {
			return nil, err
		}
	}

	merged := mergeItems(existingItems, requested)

	if total := totalQuantity(merged); total > sub.MaxBooksAllowed {
		util.CartsRejectedTotal.WithLabelValues("quota").Inc()
		return nil, errs.New(errs.KindQuotaExceeded,
			"cart would hold %d books, subscription allows %d", total, sub.MaxBooksAllowed)
	}
	if err := s.checkAvailability(ctx, existingItems, merged); err != nil {
		util.CartsRejectedTotal.WithLabelValues("stock").Inc()
		return nil, err
	}

	if existing == nil {
		now := s.clock.Now()
		cart := &models.Cart{
			UserID:     userID,
			Status:     models.CartStatusActive,
			ExpiryTime: now.Add(s.ttl),
		}
		if err := s.store.CreateCart(ctx, cart, merged); err != nil {
			return nil, err
		}
		util.CartsCreatedTotal.Inc()
		s.logger.Info("Cart created",
			zap.Int64("cart_id", cart.ID),
			zap.Int64("user_id", userID))
		return &CartView{Cart: cart, Items: merged}, nil
	}

	if err := s.store.ReplaceCartItems(ctx, existing.ID, merged); err != nil {
		return nil, err
	}
	util.CartsMergedTotal.Inc()
	return &CartView{Cart: existing, Items: merged}, nil
}

// ReplaceItems swaps the cart's item set after re-validating the
// subscription, the quota and per-book availability.
func (s *CartService) ReplaceItems(ctx context.Context, cartID int64, items []ItemRequest) (*CartView, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ReplaceItems")
	defer span.End()

	requested, err := normalizeItems(items)
	if err != nil {
		return nil, err
	}

	cart, err := s.store.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status != models.CartStatusActive {
		return nil, errs.New(errs.KindInvalidRequest, "cart %d is not active", cartID)
	}
	if cart.Expired(s.clock.Now()) {
		if err := s.abandonCart(ctx, cart, "expired"); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.KindCartExpired, "cart %d has expired", cartID)
	}

	sub, err := s.subs.ActiveSubscription(ctx, cart.UserID)
	if err != nil {
		return nil, err
	}
	if !sub.Active() {
		return nil, errs.New(errs.KindInvalidRequest, "user %d has no active paid subscription", cart.UserID)
	}
	if total := totalQuantity(requested); total > sub.MaxBooksAllowed {
		util.CartsRejectedTotal.WithLabelValues("quota").Inc()
		return nil, errs.New(errs.KindQuotaExceeded,
			"cart would hold %d books, subscription allows %d", total, sub.MaxBooksAllowed)
	}

	existingItems, err := s.store.GetCartItems(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAvailability(ctx, existingItems, requested); err != nil {
		util.CartsRejectedTotal.WithLabelValues("stock").Inc()
		return nil, err
	}

	if err := s.store.ReplaceCartItems(ctx, cartID, requested); err != nil {
		return nil, err
	}
	return &CartView{Cart: cart, Items: requested}, nil
}

// Get returns a cart with items. Reading an expired ACTIVE cart lazily
// flips it to abandoned.
func (s *CartService) Get(ctx context.Context, cartID int64) (*CartView, error) {
	cart, err := s.store.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status == models.CartStatusActive && cart.Expired(s.clock.Now()) {
		if err := s.abandonCart(ctx, cart, "expired"); err != nil {
			return nil, err
		}
	}
	items, err := s.store.GetCartItems(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return &CartView{Cart: cart, Items: items}, nil
}

// GetActiveForUser returns the user's active cart, expiring it lazily.
func (s *CartService) GetActiveForUser(ctx context.Context, userID int64) (*CartView, error) {
	cart, err := s.store.GetActiveCartForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cart.Expired(s.clock.Now()) {
		if err := s.abandonCart(ctx, cart, "expired"); err != nil {
			return nil, err
		}
		return nil, errs.New(errs.KindNotFound, "no active cart for user: %d", userID)
	}
	items, err := s.store.GetCartItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	return &CartView{Cart: cart, Items: items}, nil
}

// Abandon sets the cart to abandoned. Abandoning an already-abandoned
// cart is a no-op; a cart consumed by an order cannot be abandoned.
func (s *CartService) Abandon(ctx context.Context, cartID int64) error {
	ctx, span := util.StartSpan(ctx, "CartService.Abandon")
	defer span.End()

	cart, err := s.store.GetCart(ctx, cartID)
	if err != nil {
		return err
	}
	switch cart.Status {
	case models.CartStatusAbandoned:
		return nil
	case models.CartStatusOrdered:
		return errs.New(errs.KindInvalidRequest, "cart %d was already converted to an order", cartID)
	}
	return s.abandonCart(ctx, cart, "deleted")
}

// ExpireStale abandons every ACTIVE cart whose TTL has elapsed and
// returns how many were flipped. Called by the expiry scheduler.
func (s *CartService) ExpireStale(ctx context.Context) (int, error) {
	carts, err := s.store.ListExpiredActiveCarts(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range carts {
		if err := s.abandonCart(ctx, &carts[i], "expired"); err != nil {
			s.logger.Error("Failed to expire cart",
				zap.Int64("cart_id", carts[i].ID),
				zap.Error(err))
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *CartService) abandonCart(ctx context.Context, cart *models.Cart, reason string) error {
	if err := s.store.UpdateCartStatus(ctx, cart.ID, models.CartStatusAbandoned); err != nil {
		return err
	}
	cart.Status = models.CartStatusAbandoned
	util.CartsAbandonedTotal.WithLabelValues(reason).Inc()

	if s.events != nil {
		event := &models.CartAbandonedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCartAbandoned,
				Timestamp: s.clock.Now(),
			},
			CartID: cart.ID,
			UserID: cart.UserID,
			Reason: reason,
		}
		if err := s.events.PublishCartAbandoned(ctx, event); err != nil {
			s.logger.Error("Failed to publish CartAbandoned event",
				zap.Int64("cart_id", cart.ID),
				zap.Error(err))
		}
	}
	return nil
}

// checkAvailability verifies each desired line against the ledger's
// available count. For books already in the cart only the increase is
// checked, since cart quantities hold no reservation yet.
func (s *CartService) checkAvailability(ctx context.Context, existing []models.CartItem, desired []models.CartItem) error {
	existingByBook := make(map[int64]int, len(existing))
	for _, item := range existing {
		existingByBook[item.BookID] = item.Quantity
	}

	for _, item := range desired {
		needed := item.Quantity - existingByBook[item.BookID]
		if needed <= 0 {
			continue
		}
		available, err := s.stock.AvailableQuantity(ctx, item.BookID)
		if err != nil {
			return err
		}
		if needed > available {
			return errs.New(errs.KindInsufficientStock,
				"book %d has %d available, requested %d more", item.BookID, available, needed)
		}
	}
	return nil
}

// normalizeItems validates quantities and merges duplicate book lines
// within one request.
func normalizeItems(items []ItemRequest) ([]models.CartItem, error) {
	if len(items) == 0 {
		return nil, errs.New(errs.KindInvalidRequest, "cart items must not be empty")
	}
	out := make([]models.CartItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errs.New(errs.KindInvalidRequest,
				"quantity for book %d must be positive", item.BookID)
		}
		if at, ok := index[item.BookID]; ok {
			out[at].Quantity += item.Quantity
			continue
		}
		index[item.BookID] = len(out)
		out = append(out, models.CartItem{BookID: item.BookID, Quantity: item.Quantity})
	}
	return out, nil
}

// mergeItems folds requested lines into the existing ones: matching
// books increment, new books append in request order.
func mergeItems(existing []models.CartItem, requested []models.CartItem) []models.CartItem {
	out := make([]models.CartItem, 0, len(existing)+len(requested))
	index := make(map[int64]int, len(existing))
	for _, item := range existing {
		index[item.BookID] = len(out)
		out = append(out, models.CartItem{BookID: item.BookID, Quantity: item.Quantity})
	}
	for _, item := range requested {
		if at, ok := index[item.BookID]; ok {
			out[at].Quantity += item.Quantity
			continue
		}
		index[item.BookID] = len(out)
		out = append(out, models.CartItem{BookID: item.BookID, Quantity: item.Quantity})
	}
	return out
}

func totalQuantity(items []models.CartItem) int {
	total := 0
	for _, item := range items {
		total += item.Quantity
	}
	return total
}
