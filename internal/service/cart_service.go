package service

import (
	"context"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CartService manages the user's cart document.
type CartService struct {
	store  store.Store
	logger *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(st store.Store) *CartService {
	return &CartService{
		store:  st,
		logger: util.GetLogger(),
	}
}

// GetCart loads the user's cart, creating an empty one lazily on first
// access.
func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		cart = emptyCart(userID)
		if err := s.store.SaveCart(ctx, cart); err != nil {
			return nil, fmt.Errorf("failed to create cart: %w", err)
		}
	}
	return cart, nil
}

// AddItem adds a product to the cart, merging into an existing line when
// the product is already present. The line price snapshots the current
// product price; merging refreshes it.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		quantity = 1
	}

	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Status != models.ProductStatusActive {
		return nil, models.ErrProductUnavailable
	}
	if product.Stock < quantity {
		return nil, &models.InsufficientStockError{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		cart = emptyCart(userID)
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			cart.Items[i].Quantity += quantity
			cart.Items[i].Price = product.Price
			merged = true
			break
		}
	}
	if !merged {
		cart.Items = append(cart.Items, models.CartLine{
			ID:        uuid.NewString(),
			ProductID: productID,
			Quantity:  quantity,
			Price:     product.Price,
			AddedAt:   time.Now(),
		})
	}

	return s.save(ctx, cart)
}

// UpdateItem sets a cart line's quantity, re-validated against live stock.
func (s *CartService) UpdateItem(ctx context.Context, userID, itemID string, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("quantity must be at least 1")
	}

	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		return nil, &models.NotFoundError{Entity: "cart", ID: userID}
	}

	idx := -1
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, &models.NotFoundError{Entity: "cart item", ID: itemID}
	}

	product, err := s.store.GetProduct(ctx, cart.Items[idx].ProductID)
	if err == nil && product.Stock < quantity {
		return nil, &models.InsufficientStockError{
			ProductID: product.ID,
			Name:      product.Name,
			Requested: quantity,
			Available: product.Stock,
		}
	}

	cart.Items[idx].Quantity = quantity
	return s.save(ctx, cart)
}

// RemoveItem deletes a cart line.
func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) (*models.Cart, error) {
	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		return nil, &models.NotFoundError{Entity: "cart", ID: userID}
	}

	kept := cart.Items[:0]
	for _, line := range cart.Items {
		if line.ID != itemID {
			kept = append(kept, line)
		}
	}
	cart.Items = kept
	return s.save(ctx, cart)
}

// ClearCart empties the cart without deleting it.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*models.Cart, error) {
	cart := emptyCart(userID)
	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to clear cart: %w", err)
	}
	return cart, nil
}

// Reorder copies a prior order's items back into the cart, merging by
// product, at the prices frozen in the order.
func (s *CartService) Reorder(ctx context.Context, userID, orderID string) (*models.Cart, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, models.ErrForbidden
	}

	cart, err := s.store.GetCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		cart = emptyCart(userID)
	}

	for _, item := range order.Items {
		merged := false
		for i := range cart.Items {
			if cart.Items[i].ProductID == item.ProductID {
				cart.Items[i].Quantity += item.Quantity
				merged = true
				break
			}
		}
		if !merged {
			cart.Items = append(cart.Items, models.CartLine{
				ID:        uuid.NewString(),
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Price:     item.Price,
				AddedAt:   time.Now(),
			})
		}
	}

	s.logger.Info("Reordered items into cart",
		zap.String("user_id", userID),
		zap.String("order_id", orderID),
		zap.Int("lines", len(cart.Items)))

	return s.save(ctx, cart)
}

func (s *CartService) save(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	cart.RecalculateTotal()
	cart.UpdatedAt = time.Now()
	if err := s.store.SaveCart(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to save cart: %w", err)
	}
	return cart, nil
}

func emptyCart(userID string) *models.Cart {
	return &models.Cart{
		UserID:    userID,
		Items:     []models.CartLine{},
		Total:     0,
		UpdatedAt: time.Now(),
	}
}
