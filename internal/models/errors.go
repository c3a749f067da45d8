package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra detail.
var (
	// ErrEmptyCart means checkout was attempted with a missing or empty cart.
	ErrEmptyCart = errors.New("cart is empty")

	// ErrForbidden means the caller does not own the requested resource.
	ErrForbidden = errors.New("forbidden")

	// ErrProductUnavailable means a product exists but is not purchasable
	// (status is not Active).
	ErrProductUnavailable = errors.New("product not available")

	// ErrAlreadyInWishlist means the product is already on the user's
	// wishlist.
	ErrAlreadyInWishlist = errors.New("product already in wishlist")

	// ErrCheckoutInProgress means another request holding the same
	// idempotency key is still placing its order.
	ErrCheckoutInProgress = errors.New("a checkout with this idempotency key is already in progress")
)

// NotFoundError reports a missing entity by kind and id.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// ProductNotFoundError means a cart line references a product that no
// longer exists; the whole checkout aborts.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product not found: %s", e.ProductID)
}

// AddressNotFoundError means the requested shipping address does not exist.
type AddressNotFoundError struct {
	AddressID string
}

func (e *AddressNotFoundError) Error() string {
	return fmt.Sprintf("address not found: %s", e.AddressID)
}

// InsufficientStockError means a product cannot cover the requested
// quantity.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s): requested=%d, available=%d",
		e.Name, e.ProductID, e.Requested, e.Available)
}

// StockConflictError means the stock commit lost a transactional conflict
// against a concurrent checkout or restock. It is the only retryable kind.
type StockConflictError struct {
	Err error
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("stock commit conflict: %v", e.Err)
}

func (e *StockConflictError) Unwrap() error { return e.Err }

// OrderNotCancellableError means the order status forbids cancellation.
type OrderNotCancellableError struct {
	OrderID string
	Status  OrderStatus
}

func (e *OrderNotCancellableError) Error() string {
	return fmt.Sprintf("order %s cannot be cancelled from status %s", e.OrderID, e.Status)
}

// StoreUnavailableError wraps a collaborator failure in the backing store.
type StoreUnavailableError struct {
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %v", e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }
