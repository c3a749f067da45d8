package store

import (
	"context"

	"checkout-service/internal/models"
)

// ProductStore provides catalog reads. Stock mutations go exclusively
// through OrderStore.PlaceOrder and OrderStore.CancelOrder so every stock
// change is part of a transactional unit.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error)
}

// CartStore persists carts as whole documents, one per user.
type CartStore interface {
	// GetCart returns (nil, nil) when the user has no cart yet.
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	// SaveCart replaces the user's cart wholesale.
	SaveCart(ctx context.Context, cart *models.Cart) error
}

// OrderStore persists orders and owns the two transactional stock units.
type OrderStore interface {
	// PlaceOrder decrements stock for every order item and inserts the
	// order as one atomic unit. On any failure nothing is written: no
	// order row and no stock change. A product that cannot cover its
	// quantity yields InsufficientStockError; a transactional conflict
	// yields StockConflictError and may be retried.
	PlaceOrder(ctx context.Context, order *models.Order) error

	GetOrder(ctx context.Context, id string) (*models.Order, error)

	// ListOrders returns the user's orders newest first, optionally
	// filtered by status (empty status means all).
	ListOrders(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error)

	// CancelOrder re-checks the order status under lock, restores the
	// stock each item originally deducted and flips the status to
	// Cancelled, all in one atomic unit. A second cancellation finds the
	// order already Cancelled and fails with OrderNotCancellableError,
	// so stock is never restored twice.
	CancelOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// AddressStore persists user addresses.
type AddressStore interface {
	CreateAddress(ctx context.Context, addr *models.Address) error
	GetAddress(ctx context.Context, id string) (*models.Address, error)
	ListAddresses(ctx context.Context, userID string) ([]models.Address, error)
	// UpdateAddress replaces the address wholesale. When the update marks
	// it default, every other address of the same user is demoted in the
	// same unit.
	UpdateAddress(ctx context.Context, addr *models.Address) error
	DeleteAddress(ctx context.Context, id string) error
	// SetDefaultAddress makes the address the user's single default.
	SetDefaultAddress(ctx context.Context, userID, id string) error
}

// WishlistStore persists saved-for-later products, one entry per
// (user, product) pair.
type WishlistStore interface {
	// ListWishlist returns the user's wishlist with products populated,
	// newest first.
	ListWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error)
	// AddWishlistItem inserts the entry; a duplicate (user, product) pair
	// yields ErrAlreadyInWishlist.
	AddWishlistItem(ctx context.Context, item *models.WishlistItem) error
	// RemoveWishlistItem deletes the user's entry for the product; a
	// missing entry yields NotFoundError.
	RemoveWishlistItem(ctx context.Context, userID, productID string) error
	InWishlist(ctx context.Context, userID, productID string) (bool, error)
}

// NotificationStore persists user notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]models.Notification, error)
}

// Store is the full persistence surface consumed by the services.
type Store interface {
	ProductStore
	CartStore
	OrderStore
	AddressStore
	WishlistStore
	NotificationStore
}
