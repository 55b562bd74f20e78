package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lending-service/internal/errs"
	"lending-service/internal/ledger"
	"lending-service/internal/models"
)

// fakeStockLedger keeps book stock in memory and applies the same rules
// the real ledger service does. Failures can be injected per book.
type fakeStockLedger struct {
	books   map[int64]*models.BookStock
	failOn  map[int64]error
	adjusts []adjustCall
}

type adjustCall struct {
	BookID int64
	Deltas ledger.Deltas
}

func newFakeStockLedger() *fakeStockLedger {
	return &fakeStockLedger{
		books:  make(map[int64]*models.BookStock),
		failOn: make(map[int64]error),
	}
}

func (f *fakeStockLedger) seed(bookID int64, total, available, reserved, inTransit, lost int) {
	f.books[bookID] = &models.BookStock{
		BookID:    bookID,
		Total:     total,
		Available: available,
		Reserved:  reserved,
		InTransit: inTransit,
		Lost:      lost,
	}
}

func (f *fakeStockLedger) GetBook(ctx context.Context, bookID int64) (*models.BookStock, error) {
	b, ok := f.books[bookID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "book stock not found: %d", bookID)
	}
	cp := *b
	return &cp, nil
}

func (f *fakeStockLedger) AdjustQuantities(ctx context.Context, bookID int64, d ledger.Deltas) (*models.BookStock, error) {
	if err := f.failOn[bookID]; err != nil {
		return nil, err
	}
	b, ok := f.books[bookID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "book stock not found: %d", bookID)
	}
	next, err := ledger.Apply(*b, d)
	if err != nil {
		return nil, err
	}
	*b = next
	f.adjusts = append(f.adjusts, adjustCall{BookID: bookID, Deltas: d})
	cp := next
	return &cp, nil
}

func (f *fakeStockLedger) AvailableQuantity(ctx context.Context, bookID int64) (int, error) {
	b, err := f.GetBook(ctx, bookID)
	if err != nil {
		return 0, err
	}
	return b.Available, nil
}

// fakeSubs returns a canned subscription for every user.
type fakeSubs struct {
	sub *models.Subscription
	err error
}

func (f *fakeSubs) ActiveSubscription(ctx context.Context, userID int64) (*models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sub, nil
}

func activeSub(maxBooks int) *fakeSubs {
	return &fakeSubs{sub: &models.Subscription{
		ID:              1,
		Status:          "ACTIVE",
		PaymentStatus:   "PAID",
		MaxBooksAllowed: maxBooks,
	}}
}

// fakeCartStore implements CartStore in memory.
type fakeCartStore struct {
	nextID int64
	carts  map[int64]*models.Cart
	items  map[int64][]models.CartItem
}

func newFakeCartStore() *fakeCartStore {
	return &fakeCartStore{
		carts: make(map[int64]*models.Cart),
		items: make(map[int64][]models.CartItem),
	}
}

func (f *fakeCartStore) CreateCart(ctx context.Context, cart *models.Cart, items []models.CartItem) error {
	f.nextID++
	cart.ID = f.nextID
	cp := *cart
	f.carts[cart.ID] = &cp
	f.setItems(cart.ID, items)
	return nil
}

func (f *fakeCartStore) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	c, ok := f.carts[cartID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "cart not found: %d", cartID)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCartStore) GetActiveCartForUser(ctx context.Context, userID int64) (*models.Cart, error) {
	for _, c := range f.carts {
		if c.UserID == userID && c.Status == models.CartStatusActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "no active cart for user: %d", userID)
}

func (f *fakeCartStore) GetCartItems(ctx context.Context, cartID int64) ([]models.CartItem, error) {
	return append([]models.CartItem(nil), f.items[cartID]...), nil
}

func (f *fakeCartStore) ReplaceCartItems(ctx context.Context, cartID int64, items []models.CartItem) error {
	f.setItems(cartID, items)
	return nil
}

func (f *fakeCartStore) UpdateCartStatus(ctx context.Context, cartID int64, status string) error {
	c, ok := f.carts[cartID]
	if !ok {
		return errs.New(errs.KindNotFound, "cart not found: %d", cartID)
	}
	c.Status = status
	return nil
}

func (f *fakeCartStore) ListExpiredActiveCarts(ctx context.Context, now time.Time) ([]models.Cart, error) {
	var out []models.Cart
	for _, c := range f.carts {
		if c.Status == models.CartStatusActive && c.Expired(now) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakeCartStore) setItems(cartID int64, items []models.CartItem) {
	out := make([]models.CartItem, len(items))
	for i, item := range items {
		item.CartID = cartID
		item.Position = i
		out[i] = item
	}
	f.items[cartID] = out
}

// fakeOrderStore implements OrderStore in memory with the same
// status-guarded update the SQL store uses.
type fakeOrderStore struct {
	nextID int64
	orders map[int64]*models.Order
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[int64]*models.Order)}
}

func (f *fakeOrderStore) CreateOrder(ctx context.Context, order *models.Order) error {
	for _, o := range f.orders {
		if o.CartID == order.CartID {
			return errs.New(errs.KindInvalidRequest, "order already exists for cart %d", order.CartID)
		}
	}
	f.nextID++
	order.ID = f.nextID
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "order not found: %d", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderStore) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	for _, o := range f.orders {
		if o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderStore) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) UpdateOrderStatus(ctx context.Context, orderID int64, from, to string) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok || o.Status != from {
		return false, nil
	}
	o.Status = to
	return true, nil
}

func (f *fakeOrderStore) SetCancellationRequested(ctx context.Context, orderID int64) error {
	o, ok := f.orders[orderID]
	if !ok {
		return errs.New(errs.KindNotFound, "order not found: %d", orderID)
	}
	o.IsCancellationRequested = true
	return nil
}

func (f *fakeOrderStore) SetBookReceived(ctx context.Context, orderID int64) error {
	o, ok := f.orders[orderID]
	if !ok {
		return errs.New(errs.KindNotFound, "order not found: %d", orderID)
	}
	o.IsBookReceived = true
	return nil
}

// fakeSagaStore records the mutation plan the way the SQL store does,
// assigning IDs back onto the passed slice.
type fakeSagaStore struct {
	nextID  int64
	rows    map[int64]*models.StockMutation
	planErr error
}

func newFakeSagaStore() *fakeSagaStore {
	return &fakeSagaStore{rows: make(map[int64]*models.StockMutation)}
}

func (f *fakeSagaStore) PlanStockMutations(ctx context.Context, mutations []models.StockMutation) error {
	if f.planErr != nil {
		return f.planErr
	}
	for i := range mutations {
		f.nextID++
		mutations[i].ID = f.nextID
		mutations[i].State = models.MutationPlanned
		cp := mutations[i]
		f.rows[cp.ID] = &cp
	}
	return nil
}

func (f *fakeSagaStore) SetMutationState(ctx context.Context, mutationID int64, state string) error {
	row, ok := f.rows[mutationID]
	if !ok {
		return errs.New(errs.KindNotFound, "mutation not found: %d", mutationID)
	}
	row.State = state
	return nil
}

func (f *fakeSagaStore) ListMutations(ctx context.Context, orderID int64) ([]models.StockMutation, error) {
	var out []models.StockMutation
	for _, row := range f.rows {
		if row.OrderID == orderID {
			out = append(out, *row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSagaStore) statesByBook() map[int64]string {
	out := make(map[int64]string, len(f.rows))
	for _, row := range f.rows {
		out[row.BookID] = row.State
	}
	return out
}

// fakeDeliveryStore implements DeliveryPlanStore in memory.
type fakeDeliveryStore struct {
	nextID int64
	plans  map[int64]*models.DeliveryPlan
}

func newFakeDeliveryStore() *fakeDeliveryStore {
	return &fakeDeliveryStore{plans: make(map[int64]*models.DeliveryPlan)}
}

func (f *fakeDeliveryStore) GetActiveDeliveryPlan(ctx context.Context, userID int64) (*models.DeliveryPlan, error) {
	p, ok := f.plans[userID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no active delivery plan for user: %d", userID)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeDeliveryStore) UpsertDeliveryPlan(ctx context.Context, plan *models.DeliveryPlan) error {
	f.nextID++
	plan.ID = f.nextID
	plan.Status = models.DeliveryPlanActive
	cp := *plan
	f.plans[plan.UserID] = &cp
	return nil
}

// fakeAddressBook returns one address for every user.
type fakeAddressBook struct {
	address string
	err     error
}

func (f *fakeAddressBook) DefaultAddress(ctx context.Context, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.address, nil
}

// fakeEvents records published events across both services.
type fakeEvents struct {
	abandoned    []*models.CartAbandonedEvent
	created      []*models.OrderCreatedEvent
	transitioned []*models.OrderTransitionedEvent
}

func (f *fakeEvents) PublishCartAbandoned(ctx context.Context, event *models.CartAbandonedEvent) error {
	f.abandoned = append(f.abandoned, event)
	return nil
}

func (f *fakeEvents) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	f.created = append(f.created, event)
	return nil
}

func (f *fakeEvents) PublishOrderTransitioned(ctx context.Context, event *models.OrderTransitionedEvent) error {
	f.transitioned = append(f.transitioned, event)
	return nil
}

// fakeIdemCache is an in-memory IdempotencyCache.
type fakeIdemCache struct {
	entries map[string]string
}

func newFakeIdemCache() *fakeIdemCache {
	return &fakeIdemCache{entries: make(map[string]string)}
}

func (f *fakeIdemCache) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	return f.entries[key], nil
}

func (f *fakeIdemCache) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	f.entries[key] = fmt.Sprintf("%v", value)
	return nil
}
