// Package memstore provides an in-memory implementation of the store
// interfaces. It is used by tests in place of Postgres and honors the same
// contracts: whole-document cart replacement, all-or-nothing stock commits
// and the at-most-once restock on cancellation. A single mutex serializes
// every operation, so per-product stock mutations are trivially
// linearizable.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/models"
)

type Memory struct {
	mu            sync.Mutex
	products      map[string]*models.Product
	carts         map[string]*models.Cart
	orders        map[string]*models.Order
	addresses     map[string]*models.Address
	wishlist      []models.WishlistItem
	notifications []models.Notification
}

func New() *Memory {
	return &Memory{
		products:  make(map[string]*models.Product),
		carts:     make(map[string]*models.Cart),
		orders:    make(map[string]*models.Order),
		addresses: make(map[string]*models.Address),
	}
}

// PutProduct seeds or replaces a product.
func (m *Memory) PutProduct(p *models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.products[p.ID] = &cp
}

// SetOrderStatus force-sets an order status, standing in for the
// out-of-scope admin transitions (Processing, Shipped, Delivered).
func (m *Memory) SetOrderStatus(orderID string, status models.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order, ok := m.orders[orderID]; ok {
		order.Status = status
		order.UpdatedAt = time.Now()
	}
}

func (m *Memory) GetProduct(_ context.Context, id string) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Product
	for _, p := range m.products {
		if p.Status == models.ProductStatusActive {
			list = append(list, *p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (m *Memory) GetProductsByIDs(_ context.Context, ids []string) (map[string]*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]*models.Product, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			cp := *p
			result[id] = &cp
		}
	}
	return result, nil
}

func (m *Memory) GetCart(_ context.Context, userID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return copyCart(cart), nil
}

func (m *Memory) SaveCart(_ context.Context, cart *models.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.UserID] = copyCart(cart)
	return nil
}

func (m *Memory) PlaceOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every line before touching any stock.
	for _, item := range order.Items {
		p, ok := m.products[item.ProductID]
		if !ok {
			return &models.ProductNotFoundError{ProductID: item.ProductID}
		}
		if p.Stock < item.Quantity {
			return &models.InsufficientStockError{
				ProductID: item.ProductID,
				Name:      p.Name,
				Requested: item.Quantity,
				Available: p.Stock,
			}
		}
	}

	for _, item := range order.Items {
		p := m.products[item.ProductID]
		p.Stock -= item.Quantity
		p.UpdatedAt = time.Now()
	}
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *Memory) GetOrder(_ context.Context, id string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	return copyOrder(order), nil
}

func (m *Memory) ListOrders(_ context.Context, userID string, status models.OrderStatus) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Order
	for _, order := range m.orders {
		if order.UserID != userID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		list = append(list, *copyOrder(order))
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *Memory) CancelOrder(_ context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, &models.NotFoundError{Entity: "order", ID: orderID}
	}
	if !order.Status.Cancellable() {
		return nil, &models.OrderNotCancellableError{OrderID: orderID, Status: order.Status}
	}

	for _, item := range order.Items {
		if p, ok := m.products[item.ProductID]; ok {
			p.Stock += item.Quantity
			p.UpdatedAt = time.Now()
		}
	}
	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = time.Now()
	return copyOrder(order), nil
}

func (m *Memory) CreateAddress(_ context.Context, addr *models.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *addr
	m.addresses[addr.ID] = &cp
	return nil
}

func (m *Memory) GetAddress(_ context.Context, id string) (*models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addresses[id]
	if !ok {
		return nil, &models.AddressNotFoundError{AddressID: id}
	}
	cp := *addr
	return &cp, nil
}

func (m *Memory) ListAddresses(_ context.Context, userID string) ([]models.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Address
	for _, addr := range m.addresses {
		if addr.UserID == userID {
			list = append(list, *addr)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list, nil
}

func (m *Memory) UpdateAddress(_ context.Context, addr *models.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.addresses[addr.ID]; !ok {
		return &models.AddressNotFoundError{AddressID: addr.ID}
	}
	if addr.IsDefault {
		for _, other := range m.addresses {
			if other.UserID == addr.UserID && other.ID != addr.ID {
				other.IsDefault = false
			}
		}
	}
	cp := *addr
	m.addresses[addr.ID] = &cp
	return nil
}

func (m *Memory) DeleteAddress(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.addresses[id]; !ok {
		return &models.AddressNotFoundError{AddressID: id}
	}
	delete(m.addresses, id)
	return nil
}

func (m *Memory) SetDefaultAddress(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr, ok := m.addresses[id]
	if !ok || addr.UserID != userID {
		return &models.AddressNotFoundError{AddressID: id}
	}
	for _, other := range m.addresses {
		if other.UserID == userID {
			other.IsDefault = false
		}
	}
	addr.IsDefault = true
	addr.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) ListWishlist(_ context.Context, userID string) ([]models.WishlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.WishlistItem
	for i := len(m.wishlist) - 1; i >= 0; i-- {
		if m.wishlist[i].UserID != userID {
			continue
		}
		item := m.wishlist[i]
		if p, ok := m.products[item.ProductID]; ok {
			cp := *p
			item.Product = &cp
		}
		list = append(list, item)
	}
	return list, nil
}

func (m *Memory) AddWishlistItem(_ context.Context, item *models.WishlistItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.wishlist {
		if existing.UserID == item.UserID && existing.ProductID == item.ProductID {
			return models.ErrAlreadyInWishlist
		}
	}
	cp := *item
	cp.Product = nil
	m.wishlist = append(m.wishlist, cp)
	return nil
}

func (m *Memory) RemoveWishlistItem(_ context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.wishlist {
		if item.UserID == userID && item.ProductID == productID {
			m.wishlist = append(m.wishlist[:i], m.wishlist[i+1:]...)
			return nil
		}
	}
	return &models.NotFoundError{Entity: "wishlist item", ID: productID}
}

func (m *Memory) InWishlist(_ context.Context, userID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.wishlist {
		if item.UserID == userID && item.ProductID == productID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *Memory) ListNotifications(_ context.Context, userID string) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []models.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			list = append(list, m.notifications[i])
		}
	}
	return list, nil
}

func copyCart(cart *models.Cart) *models.Cart {
	cp := *cart
	cp.Items = make([]models.CartLine, len(cart.Items))
	copy(cp.Items, cart.Items)
	return &cp
}

func copyOrder(order *models.Order) *models.Order {
	cp := *order
	cp.Items = make([]models.OrderItem, len(order.Items))
	copy(cp.Items, order.Items)
	if order.BillingAddress != nil {
		addr := *order.BillingAddress
		cp.BillingAddress = &addr
	}
	return &cp
}
