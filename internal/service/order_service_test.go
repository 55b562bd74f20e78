package service

import (
	"context"
	"testing"
	"time"

	"lending-service/internal/clock"
	"lending-service/internal/errs"
	"lending-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderFixture struct {
	svc      *OrderService
	orders   *fakeOrderStore
	carts    *fakeCartStore
	stock    *fakeStockLedger
	sagaLog  *fakeSagaStore
	delivery *fakeDeliveryStore
	events   *fakeEvents
	idem     *fakeIdemCache
	clk      *clock.Fixed
}

// newOrderFixture starts on Monday 2026-03-02 with a Friday delivery
// plan, which puts the estimated delivery on 2026-03-06 and the due
// date a default cycle of 7 days later.
func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		orders:   newFakeOrderStore(),
		carts:    newFakeCartStore(),
		stock:    newFakeStockLedger(),
		sagaLog:  newFakeSagaStore(),
		delivery: newFakeDeliveryStore(),
		events:   &fakeEvents{},
		idem:     newFakeIdemCache(),
		clk:      &clock.Fixed{Current: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	deliverySvc := NewDeliveryService(f.delivery, &fakeAddressBook{address: "12 Elm St"}, f.clk, 3, 7)
	saga := NewSaga(f.sagaLog, f.stock)
	f.svc = NewOrderService(f.orders, f.carts, deliverySvc, activeSub(5),
		f.stock, saga, f.events, f.idem, f.clk)
	return f
}

func (f *orderFixture) seedCart(t *testing.T, userID int64, items ...models.CartItem) *models.Cart {
	t.Helper()
	cart := &models.Cart{
		UserID:     userID,
		Status:     models.CartStatusActive,
		ExpiryTime: f.clk.Now().Add(time.Hour),
	}
	require.NoError(t, f.carts.CreateCart(context.Background(), cart, items))
	return cart
}

func (f *orderFixture) seedPlan(t *testing.T, userID int64) {
	t.Helper()
	require.NoError(t, f.delivery.UpsertDeliveryPlan(context.Background(), &models.DeliveryPlan{
		UserID:      userID,
		DeliveryDay: time.Friday,
	}))
}

func (f *orderFixture) createOrder(t *testing.T, userID int64) *models.Order {
	t.Helper()
	order, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: userID})
	require.NoError(t, err)
	return order
}

func (f *orderFixture) book(t *testing.T, bookID int64) *models.BookStock {
	t.Helper()
	b, err := f.stock.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return b
}

func TestCreateOrderReservesStock(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)

	order := f.createOrder(t, 100)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 2, order.TotalBooksOrdered)
	assert.Equal(t, time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC), order.EstimatedDeliveryDate)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), order.DueDate)

	b := f.book(t, 1)
	assert.Equal(t, 8, b.Available)
	assert.Equal(t, 2, b.Reserved)

	cart, err := f.carts.GetCart(context.Background(), order.CartID)
	require.NoError(t, err)
	assert.Equal(t, models.CartStatusOrdered, cart.Status)

	require.Len(t, f.events.created, 1)
	assert.Equal(t, order.ID, f.events.created[0].OrderID)
	assert.Equal(t, models.MutationApplied, f.sagaLog.statesByBook()[1])
}

func TestCreateOrderIdempotent(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	ctx := context.Background()

	req := &CreateOrderRequest{UserID: 100, IdempotencyKey: "req-1"}
	first, err := f.svc.CreateOrder(ctx, req)
	require.NoError(t, err)

	second, err := f.svc.CreateOrder(ctx, &CreateOrderRequest{UserID: 100, IdempotencyKey: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// The reservation landed exactly once.
	assert.Len(t, f.stock.adjusts, 1)
	assert.Equal(t, 8, f.book(t, 1).Available)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 1, 9, 0, 0)
	cart := f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInsufficientStock))

	// Pre-check fails before anything moves.
	assert.Empty(t, f.stock.adjusts)
	got, err := f.carts.GetCart(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CartStatusActive, got.Status)
}

func TestCreateOrderSagaFailureReleasesCart(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.stock.seed(2, 5, 5, 0, 0, 0)
	f.stock.failOn[2] = errs.New(errs.KindDependencyUnavailable, "ledger service unreachable")
	cart := f.seedCart(t, 100,
		models.CartItem{BookID: 1, Quantity: 2},
		models.CartItem{BookID: 2, Quantity: 1},
	)
	f.seedPlan(t, 100)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindDependencyUnavailable))

	// Book 1's reservation was compensated and the cart is usable again.
	assert.Equal(t, 10, f.book(t, 1).Available)
	assert.Equal(t, 0, f.book(t, 1).Reserved)
	got, err := f.carts.GetCart(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CartStatusActive, got.Status)

	// The order row stays behind, retired.
	orders, err := f.orders.GetOrdersByUserID(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCancelled, orders[0].Status)
}

func TestCreateOrderExpiredCart(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	cart := f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)

	f.clk.Advance(2 * time.Hour)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100, CartID: cart.ID})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCartExpired))

	got, err := f.carts.GetCart(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CartStatusAbandoned, got.Status)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	f := newOrderFixture(t)
	f.seedCart(t, 100)
	f.seedPlan(t, 100)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidRequest))
}

func TestCreateOrderWithoutDeliveryPlan(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidRequest))
}

func TestCreateOrderQuotaExceeded(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 20, 20, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 6})
	f.seedPlan(t, 100)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindQuotaExceeded))
}

func TestCreateOrderForeignCart(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	cart := f.seedCart(t, 200, models.CartItem{BookID: 1, Quantity: 1})
	f.seedPlan(t, 100)

	_, err := f.svc.CreateOrder(context.Background(), &CreateOrderRequest{UserID: 100, CartID: cart.ID})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidRequest))
}

func TestApproveIsStatusOnly(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	adjustsBefore := len(f.stock.adjusts)

	approved, err := f.svc.Approve(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusApproved, approved.Status)
	assert.Len(t, f.stock.adjusts, adjustsBefore)

	_, err = f.svc.Approve(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestCancelRequiresRequest(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Cancel(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))

	requested, err := f.svc.RequestCancellation(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, requested.IsCancellationRequested)

	// Requesting again is idempotent.
	_, err = f.svc.RequestCancellation(ctx, order.ID)
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	b := f.book(t, 1)
	assert.Equal(t, 10, b.Available)
	assert.Equal(t, 0, b.Reserved)
}

func TestRequestCancellationAfterDispatch(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.svc.RequestCancellation(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestDispatchMovesReservedToInTransit(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)

	dispatched, err := f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDispatched, dispatched.Status)

	b := f.book(t, 1)
	assert.Equal(t, 8, b.Available)
	assert.Equal(t, 0, b.Reserved)
	assert.Equal(t, 2, b.InTransit)

	// A second dispatch is rejected before any stock moves.
	adjustsBefore := len(f.stock.adjusts)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
	assert.Len(t, f.stock.adjusts, adjustsBefore)
}

func TestDispatchFromPending(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)

	_, err := f.svc.Dispatch(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestConfirmReceived(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	// Receipt cannot precede dispatch.
	_, err := f.svc.ConfirmReceived(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))

	_, err = f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)

	received, err := f.svc.ConfirmReceived(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, received.IsBookReceived)

	_, err = f.svc.ConfirmReceived(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

func TestReturnOnTime(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmReceived(ctx, order.ID)
	require.NoError(t, err)

	// One day before the due date.
	f.clk.Current = order.DueDate.Add(-24 * time.Hour)

	returned, err := f.svc.Return(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReturned, returned.Status)

	b := f.book(t, 1)
	assert.Equal(t, 10, b.Available)
	assert.Equal(t, 0, b.InTransit)
	assert.Equal(t, 0, b.Lost)
}

func TestReturnLateWritesOffAsLost(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.ConfirmReceived(ctx, order.ID)
	require.NoError(t, err)

	f.clk.Current = order.DueDate.Add(time.Hour)

	lost, err := f.svc.Return(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusLost, lost.Status)

	b := f.book(t, 1)
	assert.Equal(t, 8, b.Available)
	assert.Equal(t, 0, b.InTransit)
	assert.Equal(t, 2, b.Lost)
}

func TestReturnBeforeReceipt(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	order := f.createOrder(t, 100)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)

	_, err = f.svc.Return(ctx, order.ID)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindInvalidTransition))
}

// Full lifecycle against one book with total 10: pool movements must
// track every transition and end with everything back available.
func TestOrderLifecyclePoolAccounting(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.seedCart(t, 100, models.CartItem{BookID: 1, Quantity: 2})
	f.seedPlan(t, 100)
	ctx := context.Background()

	order := f.createOrder(t, 100)
	b := f.book(t, 1)
	assert.Equal(t, [4]int{8, 2, 0, 0}, [4]int{b.Available, b.Reserved, b.InTransit, b.Lost})

	_, err := f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	b = f.book(t, 1)
	assert.Equal(t, [4]int{8, 2, 0, 0}, [4]int{b.Available, b.Reserved, b.InTransit, b.Lost})

	_, err = f.svc.Dispatch(ctx, order.ID)
	require.NoError(t, err)
	b = f.book(t, 1)
	assert.Equal(t, [4]int{8, 0, 2, 0}, [4]int{b.Available, b.Reserved, b.InTransit, b.Lost})

	_, err = f.svc.ConfirmReceived(ctx, order.ID)
	require.NoError(t, err)
	_, err = f.svc.Return(ctx, order.ID)
	require.NoError(t, err)
	b = f.book(t, 1)
	assert.Equal(t, [4]int{10, 0, 0, 0}, [4]int{b.Available, b.Reserved, b.InTransit, b.Lost})

	require.Len(t, f.events.transitioned, 3)
	assert.Equal(t, models.EventTypeOrderReturned, f.events.transitioned[2].EventType)
}

// The mutation log lists every transition's planned deltas in plan
// order, including compensated rows from a failed transition.
func TestMutationLogListsSagaRows(t *testing.T) {
	f := newOrderFixture(t)
	f.stock.seed(1, 10, 10, 0, 0, 0)
	f.stock.seed(2, 10, 10, 0, 0, 0)
	f.seedCart(t, 100,
		models.CartItem{BookID: 1, Quantity: 2},
		models.CartItem{BookID: 2, Quantity: 1})
	f.seedPlan(t, 100)
	ctx := context.Background()

	order := f.createOrder(t, 100)

	log, err := f.svc.MutationLog(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, "create", log[0].Transition)
	assert.Equal(t, int64(1), log[0].BookID)
	assert.Equal(t, -2, log[0].AvailableDelta)
	assert.Equal(t, 2, log[0].ReservedDelta)
	assert.Equal(t, models.MutationApplied, log[0].State)
	assert.Equal(t, int64(2), log[1].BookID)

	_, err = f.svc.Approve(ctx, order.ID)
	require.NoError(t, err)
	f.stock.failOn[2] = errs.New(errs.KindDependencyUnavailable, "ledger down")
	_, err = f.svc.Dispatch(ctx, order.ID)
	require.Error(t, err)

	log, err = f.svc.MutationLog(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, log, 4)
	assert.Equal(t, models.OrderStatusDispatched, log[2].Transition)
	assert.Equal(t, models.MutationCompensated, log[2].State)
	assert.Equal(t, models.MutationPlanned, log[3].State)
}

func TestMutationLogUnknownOrder(t *testing.T) {
	f := newOrderFixture(t)

	_, err := f.svc.MutationLog(context.Background(), 999)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
