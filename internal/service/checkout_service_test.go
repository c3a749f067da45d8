package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPublisher struct {
	mu        sync.Mutex
	placed    []*models.OrderPlacedEvent
	cancelled []*models.OrderCancelledEvent
}

func (p *stubPublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, event)
	return nil
}

func (p *stubPublisher) PublishOrderCancelled(_ context.Context, event *models.OrderCancelledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, event)
	return nil
}

type memIdem struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemIdem() *memIdem { return &memIdem{m: make(map[string]string)} }

func (s *memIdem) GetCheckoutResult(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.m[key], nil
}

// ReserveCheckout claims the key with an empty placeholder, mirroring the
// Redis SETNX behavior: the claim fails while any value is present.
func (s *memIdem) ReserveCheckout(_ context.Context, key string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false, nil
	}
	s.m[key] = ""
	return true, nil
}

func (s *memIdem) ReleaseCheckout(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
	return nil
}

func (s *memIdem) SetCheckoutResult(_ context.Context, key, orderID string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = orderID
	return nil
}

func testConfig() config.CheckoutConfig {
	return config.CheckoutConfig{
		ShippingFee:       10,
		TaxRate:           0.1,
		CommitRetries:     3,
		IdempotencyTTLSec: 3600,
	}
}

func seedProduct(st *memstore.Memory, id, name string, price float64, stock int) {
	st.PutProduct(&models.Product{
		ID:     id,
		SKU:    "SKU-" + id,
		Name:   name,
		Price:  price,
		Stock:  stock,
		Status: models.ProductStatusActive,
	})
}

func seedAddress(t *testing.T, st *memstore.Memory, id, userID string) {
	t.Helper()
	require.NoError(t, st.CreateAddress(context.Background(), &models.Address{
		ID:           id,
		UserID:       userID,
		FirstName:    "Ada",
		LastName:     "Lovelace",
		AddressLine1: "1 Main St",
		City:         "Springfield",
		ZipCode:      "12345",
		Country:      "US",
		CreatedAt:    time.Now(),
	}))
}

func seedCart(t *testing.T, st *memstore.Memory, userID string, lines ...models.CartLine) {
	t.Helper()
	cart := &models.Cart{UserID: userID, Items: lines, UpdatedAt: time.Now()}
	cart.RecalculateTotal()
	require.NoError(t, st.SaveCart(context.Background(), cart))
}

func line(productID string, qty int, price float64) models.CartLine {
	return models.CartLine{
		ID:        "line-" + productID,
		ProductID: productID,
		Quantity:  qty,
		Price:     price,
		AddedAt:   time.Now(),
	}
}

func newFixture() (*memstore.Memory, *CheckoutService, *stubPublisher) {
	st := memstore.New()
	pub := &stubPublisher{}
	svc := NewCheckoutService(st, nil, pub, testConfig())
	return st, svc, pub
}

func TestPlaceOrderComputesTotals(t *testing.T) {
	ctx := context.Background()
	st, svc, pub := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedProduct(st, "productB", "Gadget", 5, 3)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 2, 10), line("productB", 1, 5))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)

	assert.InDelta(t, 25.0, order.Subtotal, 1e-9)
	assert.InDelta(t, 10.0, order.Shipping, 1e-9)
	assert.InDelta(t, 2.5, order.Tax, 1e-9)
	assert.InDelta(t, 37.5, order.Total, 1e-9)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentStatus)
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD-"))
	assert.Equal(t, "Credit Card", order.PaymentMethod)
	assert.Equal(t, "addr-1", order.ShippingAddress.ID)
	assert.Nil(t, order.BillingAddress)

	// subtotal == sum of item totals
	var itemSum float64
	for _, item := range order.Items {
		assert.InDelta(t, item.Price*float64(item.Quantity), item.Total, 1e-9)
		itemSum += item.Total
	}
	assert.InDelta(t, order.Subtotal, itemSum, 1e-9)

	// Stock deducted, cart emptied.
	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Stock)
	b, err := st.GetProduct(ctx, "productB")
	require.NoError(t, err)
	assert.Equal(t, 2, b.Stock)

	cart, err := st.GetCart(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, cart)
	assert.Empty(t, cart.Items)
	assert.Zero(t, cart.Total)

	require.Len(t, pub.placed, 1)
	assert.Equal(t, order.ID, pub.placed[0].OrderID)
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()
	seedAddress(t, st, "addr-1", "user-1")

	_, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	assert.ErrorIs(t, err, models.ErrEmptyCart)

	seedCart(t, st, "user-1")
	_, err = svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	assert.ErrorIs(t, err, models.ErrEmptyCart)
}

func TestPlaceOrderMissingProduct(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10), line("ghost", 1, 7))

	_, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	var notFound *models.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ghost", notFound.ProductID)

	// Nothing changed: no order, no stock movement, cart intact.
	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Stock)
	orders, err := st.ListOrders(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, orders)
	cart, err := st.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 1)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 2, 10))

	_, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	var insufficient *models.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "productA", insufficient.ProductID)
	assert.Equal(t, 2, insufficient.Requested)
	assert.Equal(t, 1, insufficient.Available)

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Stock)
	cart, err := st.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
	orders, err := st.ListOrders(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestPlaceOrderHonorsSnapshotPrice(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	// Price change after add-to-cart must not affect the order total.
	seedProduct(st, "productA", "Widget", 99, 5)

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)
	assert.InDelta(t, 10.0, order.Items[0].Price, 1e-9)
	assert.InDelta(t, 10.0, order.Subtotal, 1e-9)
}

func TestPlaceOrderUnknownShippingAddress(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedCart(t, st, "user-1", line("productA", 1, 10))

	_, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "nope"})
	var notFound *models.AddressNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestPlaceOrderMissingBillingAddressIgnored(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{
		ShippingAddressID: "addr-1",
		BillingAddressID:  "does-not-exist",
	})
	require.NoError(t, err)
	assert.Nil(t, order.BillingAddress)
}

func TestPlaceOrderIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewCheckoutService(st, newMemIdem(), &stubPublisher{}, testConfig())

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	req := &PlaceOrderRequest{ShippingAddressID: "addr-1", IdempotencyKey: "key-1"}
	first, err := svc.PlaceOrder(ctx, "user-1", req)
	require.NoError(t, err)

	second, err := svc.PlaceOrder(ctx, "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Stock deducted only once.
	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 4, a.Stock)
}

func TestPlaceOrderIdempotencyKeyInFlight(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	idem := newMemIdem()
	svc := NewCheckoutService(st, idem, &stubPublisher{}, testConfig())

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	// Another request claimed the key but has not finished yet.
	claimed, err := idem.ReserveCheckout(ctx, "key-1", time.Hour)
	require.NoError(t, err)
	require.True(t, claimed)

	req := &PlaceOrderRequest{ShippingAddressID: "addr-1", IdempotencyKey: "key-1"}
	_, err = svc.PlaceOrder(ctx, "user-1", req)
	require.ErrorIs(t, err, models.ErrCheckoutInProgress)

	// Nothing was committed: stock and cart are untouched.
	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Stock)
	cart, err := st.GetCart(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, cart.Items, 1)
}

func TestPlaceOrderIdempotencyClaimReleasedOnFailure(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewCheckoutService(st, newMemIdem(), &stubPublisher{}, testConfig())

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")

	req := &PlaceOrderRequest{ShippingAddressID: "addr-1", IdempotencyKey: "key-1"}
	_, err := svc.PlaceOrder(ctx, "user-1", req)
	require.ErrorIs(t, err, models.ErrEmptyCart)

	// The failed attempt released its claim, so a retry with the same
	// key goes through.
	seedCart(t, st, "user-1", line("productA", 1, 10))
	order, err := svc.PlaceOrder(ctx, "user-1", req)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
}

func TestConcurrentCheckoutSameIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := NewCheckoutService(st, newMemIdem(), &stubPublisher{}, testConfig())

	seedProduct(st, "productA", "Widget", 10, 10)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	var wg sync.WaitGroup
	orders := make([]*models.Order, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := &PlaceOrderRequest{ShippingAddressID: "addr-1", IdempotencyKey: "key-1"}
			orders[i], errs[i] = svc.PlaceOrder(ctx, "user-1", req)
		}(i)
	}
	wg.Wait()

	// Exactly one request wins the claim and places the order. The other
	// either short-circuits to the same order or is turned away while
	// the winner is mid-flight; it never places a second one.
	placed, err := st.ListOrders(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, placed, 1)
	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			require.ErrorIs(t, errs[i], models.ErrCheckoutInProgress)
			continue
		}
		assert.Equal(t, placed[0].ID, orders[i].ID)
	}

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 9, a.Stock)
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 1)
	seedAddress(t, st, "addr-1", "user-1")
	seedAddress(t, st, "addr-2", "user-2")
	seedCart(t, st, "user-1", line("productA", 1, 10))
	seedCart(t, st, "user-2", line("productA", 1, 10))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []struct{ id, addr string }{
		{"user-1", "addr-1"},
		{"user-2", "addr-2"},
	} {
		wg.Add(1)
		go func(i int, userID, addrID string) {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(ctx, userID, &PlaceOrderRequest{ShippingAddressID: addrID})
		}(i, user.id, user.addr)
	}
	wg.Wait()

	var failures int
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		var insufficient *models.InsufficientStockError
		var conflict *models.StockConflictError
		assert.True(t, errors.As(err, &insufficient) || errors.As(err, &conflict),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, failures, "exactly one checkout must fail")

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 0, a.Stock)

	orders1, _ := st.ListOrders(ctx, "user-1", "")
	orders2, _ := st.ListOrders(ctx, "user-2", "")
	assert.Equal(t, 1, len(orders1)+len(orders2))
}

func TestCancelOrderRestoresStock(t *testing.T) {
	ctx := context.Background()
	st, svc, pub := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedProduct(st, "productB", "Gadget", 5, 3)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 2, 10), line("productB", 1, 5))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(ctx, "user-1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Stock)
	b, err := st.GetProduct(ctx, "productB")
	require.NoError(t, err)
	assert.Equal(t, 3, b.Stock)

	require.Len(t, pub.cancelled, 1)
	assert.Equal(t, order.ID, pub.cancelled[0].OrderID)
}

func TestCancelOrderTwiceRestocksOnce(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 2, 10))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, "user-1", order.ID)
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, "user-1", order.ID)
	var notCancellable *models.OrderNotCancellableError
	require.ErrorAs(t, err, &notCancellable)
	assert.Equal(t, models.OrderStatusCancelled, notCancellable.Status)

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 5, a.Stock)
}

func TestCancelDeliveredOrder(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 2, 10))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)
	st.SetOrderStatus(order.ID, models.OrderStatusDelivered)

	_, err = svc.CancelOrder(ctx, "user-1", order.ID)
	var notCancellable *models.OrderNotCancellableError
	require.ErrorAs(t, err, &notCancellable)

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Stock)
}

func TestCancelOrderOwnership(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 5)
	seedAddress(t, st, "addr-1", "user-1")
	seedCart(t, st, "user-1", line("productA", 1, 10))

	order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
	require.NoError(t, err)

	_, err = svc.CancelOrder(ctx, "intruder", order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.CancelOrder(ctx, "user-1", "missing-order")
	var notFound *models.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStockConservation(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	const initialStock = 20
	seedProduct(st, "productA", "Widget", 10, initialStock)
	seedAddress(t, st, "addr-1", "user-1")

	var committed, restored int
	var orderIDs []string
	for i := 0; i < 5; i++ {
		seedCart(t, st, "user-1", line("productA", 2, 10))
		order, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
		require.NoError(t, err)
		committed += 2
		orderIDs = append(orderIDs, order.ID)
	}
	for _, id := range orderIDs[:2] {
		_, err := svc.CancelOrder(ctx, "user-1", id)
		require.NoError(t, err)
		restored += 2
	}

	a, err := st.GetProduct(ctx, "productA")
	require.NoError(t, err)
	assert.Equal(t, initialStock-committed+restored, a.Stock)
	assert.GreaterOrEqual(t, a.Stock, 0)
}

func TestListOrdersPagination(t *testing.T) {
	ctx := context.Background()
	st, svc, _ := newFixture()

	seedProduct(st, "productA", "Widget", 10, 100)
	seedAddress(t, st, "addr-1", "user-1")

	for i := 0; i < 5; i++ {
		seedCart(t, st, "user-1", line("productA", 1, 10))
		_, err := svc.PlaceOrder(ctx, "user-1", &PlaceOrderRequest{ShippingAddressID: "addr-1"})
		require.NoError(t, err)
	}

	orders, pagination, err := svc.ListOrders(ctx, "user-1", "", 1, 2)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
	assert.Equal(t, 5, pagination.Total)
	assert.Equal(t, 3, pagination.TotalPages)

	orders, _, err = svc.ListOrders(ctx, "user-1", "", 3, 2)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	orders, _, err = svc.ListOrders(ctx, "user-1", models.OrderStatusCancelled, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, orders)
}
