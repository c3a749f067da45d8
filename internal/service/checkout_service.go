package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher publishes order lifecycle events.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// IdempotencyStore maps checkout idempotency keys to created order ids.
// A key is claimed atomically before the checkout runs, so two concurrent
// requests with the same key can never both place an order.
type IdempotencyStore interface {
	GetCheckoutResult(ctx context.Context, key string) (string, error)
	// ReserveCheckout atomically claims the key; false means another
	// request already holds it.
	ReserveCheckout(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// ReleaseCheckout drops a claim whose checkout failed.
	ReleaseCheckout(ctx context.Context, key string) error
	SetCheckoutResult(ctx context.Context, key, orderID string, ttl time.Duration) error
}

// CheckoutService turns a cart into an order and reverses committed orders
// on cancellation.
type CheckoutService struct {
	store     store.Store
	idem      IdempotencyStore
	publisher Publisher
	cfg       config.CheckoutConfig
	logger    *zap.Logger
}

// NewCheckoutService creates a new checkout service. idem may be nil, in
// which case idempotency keys are ignored.
func NewCheckoutService(st store.Store, idem IdempotencyStore, publisher Publisher, cfg config.CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		store:     st,
		idem:      idem,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// PlaceOrderRequest represents a checkout request.
type PlaceOrderRequest struct {
	ShippingAddressID string `json:"shipping_address_id" binding:"required"`
	BillingAddressID  string `json:"billing_address_id,omitempty"`
	PaymentMethod     string `json:"payment_method,omitempty"`
	IdempotencyKey    string `json:"idempotency_key,omitempty"`
}

// PlaceOrder runs the full checkout: load the cart, validate every line
// against live stock, assemble the priced order and commit it together with
// the stock decrements. The commit is retried a bounded number of times
// when it loses a transactional conflict; every other failure is terminal
// for the request.
func (s *CheckoutService) PlaceOrder(ctx context.Context, userID string, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	// Claim the idempotency key before doing any work. The atomic claim
	// means a second request with the same key either short-circuits to
	// the recorded order or is turned away while the first is in flight;
	// it can never run a checkout of its own.
	claimed := false
	if req.IdempotencyKey != "" && s.idem != nil {
		ttl := time.Duration(s.cfg.IdempotencyTTLSec) * time.Second
		ok, err := s.idem.ReserveCheckout(ctx, req.IdempotencyKey, ttl)
		switch {
		case err != nil:
			s.logger.Warn("Idempotency claim failed, proceeding without it",
				zap.String("key", req.IdempotencyKey), zap.Error(err))
		case ok:
			claimed = true
		default:
			orderID, err := s.idem.GetCheckoutResult(ctx, req.IdempotencyKey)
			if err != nil {
				return nil, err
			}
			if orderID == "" {
				return nil, models.ErrCheckoutInProgress
			}
			s.logger.Info("Duplicate checkout request",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", orderID))
			return s.store.GetOrder(ctx, orderID)
		}
	}

	var order *models.Order
	var err error
	for attempt := 0; ; attempt++ {
		order, err = s.placeOnce(ctx, userID, req)
		var conflict *models.StockConflictError
		if errors.As(err, &conflict) && attempt < s.cfg.CommitRetries {
			util.StockConflictsTotal.Inc()
			s.logger.Warn("Stock commit conflict, retrying checkout",
				zap.String("user_id", userID), zap.Int("attempt", attempt+1))
			continue
		}
		break
	}
	if err != nil {
		if claimed {
			if relErr := s.idem.ReleaseCheckout(ctx, req.IdempotencyKey); relErr != nil {
				s.logger.Warn("Failed to release idempotency claim",
					zap.String("key", req.IdempotencyKey), zap.Error(relErr))
			}
		}
		util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}

	util.CheckoutsPlacedTotal.Inc()
	s.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", userID),
		zap.Float64("total", order.Total))

	if claimed {
		ttl := time.Duration(s.cfg.IdempotencyTTLSec) * time.Second
		if err := s.idem.SetCheckoutResult(ctx, req.IdempotencyKey, order.ID, ttl); err != nil {
			s.logger.Warn("Failed to record idempotency key", zap.Error(err))
		}
	}

	s.publishOrderPlaced(ctx, order)
	return order, nil
}

// placeOnce executes a single checkout attempt: cart read, stock
// validation, order assembly, the atomic commit and the cart clear.
func (s *CheckoutService) placeOnce(ctx context.Context, userID string, req *PlaceOrderRequest) (*models.Order, error) {
	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil || len(cart.Items) == 0 {
		return nil, models.ErrEmptyCart
	}

	shippingAddr, err := s.store.GetAddress(ctx, req.ShippingAddressID)
	if err != nil {
		return nil, err
	}

	// A missing billing address falls back to none rather than failing.
	var billingAddr *models.Address
	if req.BillingAddressID != "" {
		billingAddr, err = s.store.GetAddress(ctx, req.BillingAddressID)
		if err != nil {
			var notFound *models.AddressNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
			billingAddr = nil
		}
	}

	items, err := s.validateCartLines(ctx, cart.Items)
	if err != nil {
		return nil, err
	}

	order := s.assembleOrder(userID, items, shippingAddr, billingAddr, req.PaymentMethod)

	if err := s.store.PlaceOrder(ctx, order); err != nil {
		return nil, err
	}

	// The order is the durable fact; a failed cart clear leaves a stale
	// cart behind but is never rolled back or retried.
	emptyCart := &models.Cart{
		UserID:    userID,
		Items:     []models.CartLine{},
		Total:     0,
		UpdatedAt: time.Now(),
	}
	if err := s.store.SaveCart(ctx, emptyCart); err != nil {
		s.logger.Error("Failed to clear cart after checkout",
			zap.String("user_id", userID),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	return order, nil
}

// validateCartLines checks every line against the live product and freezes
// it into an order item. Availability is re-checked live; the price is the
// snapshot taken when the line was added, not the current product price.
func (s *CheckoutService) validateCartLines(ctx context.Context, lines []models.CartLine) ([]models.OrderItem, error) {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.store.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, &models.ProductNotFoundError{ProductID: line.ProductID}
		}
		if product.Stock < line.Quantity {
			return nil, &models.InsufficientStockError{
				ProductID: product.ID,
				Name:      product.Name,
				Requested: line.Quantity,
				Available: product.Stock,
			}
		}
		items = append(items, models.OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
			Total:     line.Price * float64(line.Quantity),
		})
	}
	return items, nil
}

// assembleOrder is pure computation: totals, order number and the address
// snapshots. Addresses are copied by value so later edits cannot alter the
// order.
func (s *CheckoutService) assembleOrder(userID string, items []models.OrderItem, shippingAddr, billingAddr *models.Address, paymentMethod string) *models.Order {
	var subtotal float64
	for _, item := range items {
		subtotal += item.Total
	}
	shipping := s.cfg.ShippingFee
	tax := subtotal * s.cfg.TaxRate

	if paymentMethod == "" {
		paymentMethod = "Credit Card"
	}

	now := time.Now()
	order := &models.Order{
		ID:              uuid.NewString(),
		OrderNumber:     generateOrderNumber(),
		UserID:          userID,
		Items:           items,
		Subtotal:        subtotal,
		Shipping:        shipping,
		Tax:             tax,
		Total:           subtotal + shipping + tax,
		Status:          models.OrderStatusPending,
		PaymentMethod:   paymentMethod,
		PaymentStatus:   models.PaymentStatusPending,
		ShippingAddress: *shippingAddr,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if billingAddr != nil {
		addr := *billingAddr
		order.BillingAddress = &addr
	}
	return order
}

// CancelOrder reverses a committed order: ownership and status checks,
// then the transactional restock + status flip in the store.
func (s *CheckoutService) CancelOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CancelOrder")
	defer span.End()

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, models.ErrForbidden
	}
	if !order.Status.Cancellable() {
		return nil, &models.OrderNotCancellableError{OrderID: orderID, Status: order.Status}
	}

	// The store re-checks the status under lock, so a racing second
	// cancel fails there instead of restocking twice.
	cancelled, err := s.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	for _, item := range cancelled.Items {
		util.StockRestockedTotal.Add(float64(item.Quantity))
	}
	s.logger.Info("Order cancelled",
		zap.String("order_id", orderID),
		zap.String("user_id", userID))

	if s.publisher != nil {
		event := &models.OrderCancelledEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.NewString(),
				EventType: models.EventTypeOrderCancelled,
				Timestamp: time.Now(),
			},
			OrderID:     cancelled.ID,
			OrderNumber: cancelled.OrderNumber,
			UserID:      cancelled.UserID,
			Reason:      "cancelled by customer",
		}
		if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
		}
	}

	return cancelled, nil
}

// GetOrder retrieves an order, enforcing ownership.
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, models.ErrForbidden
	}
	return order, nil
}

// Pagination describes a page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// ListOrders returns a page of the user's orders, newest first.
func (s *CheckoutService) ListOrders(ctx context.Context, userID string, status models.OrderStatus, page, limit int) ([]models.Order, *Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	orders, err := s.store.ListOrders(ctx, userID, status)
	if err != nil {
		return nil, nil, err
	}

	total := len(orders)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	pagination := &Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	}
	return orders[start:end], pagination, nil
}

func (s *CheckoutService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	if s.publisher == nil {
		return
	}
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.Price,
		})
	}
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.NewString(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.Total,
		Items:       items,
	}
	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func failureReason(err error) string {
	var insufficient *models.InsufficientStockError
	var notFound *models.ProductNotFoundError
	var conflict *models.StockConflictError
	var addrMissing *models.AddressNotFoundError
	switch {
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.As(err, &insufficient):
		return "insufficient_stock"
	case errors.As(err, &notFound):
		return "product_not_found"
	case errors.As(err, &addrMissing):
		return "address_not_found"
	case errors.As(err, &conflict):
		return "stock_conflict"
	default:
		return "store_error"
	}
}

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateOrderNumber builds a human-legible, best-effort-unique token:
// timestamp plus a random suffix.
func generateOrderNumber() string {
	var suffix strings.Builder
	for i := 0; i < 6; i++ {
		suffix.WriteByte(orderNumberAlphabet[rand.Intn(len(orderNumberAlphabet))])
	}
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), suffix.String())
}
