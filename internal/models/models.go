package models

import "time"

// Product statuses
const (
	ProductStatusActive     = "Active"
	ProductStatusInactive   = "Inactive"
	ProductStatusOutOfStock = "OutOfStock"
)

// Product represents a catalog product. Stock is mutated only by the
// checkout commit (decrement) and cancellation restock (increment) and must
// never go negative.
type Product struct {
	ID          string    `db:"id" json:"id"`
	SKU         string    `db:"sku" json:"sku"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description,omitempty"`
	Price       float64   `db:"price" json:"price"`
	Stock       int       `db:"stock" json:"stock"`
	Status      string    `db:"status" json:"status"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// CartLine is one product entry in a cart. Price is a snapshot of the
// product price at add time; checkout honors it instead of the live price.
type CartLine struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	AddedAt   time.Time `json:"added_at"`
}

// Cart is a user's shopping cart, one per user, keyed by user id. It is
// replaced wholesale on every mutation and emptied (not deleted) after a
// successful checkout.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartLine `json:"items"`
	Total     float64    `json:"total"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RecalculateTotal recomputes the derived cart total from its lines.
func (c *Cart) RecalculateTotal() {
	var total float64
	for _, line := range c.Items {
		total += line.Price * float64(line.Quantity)
	}
	c.Total = total
}

// OrderItem is a frozen snapshot of a cart line, decoupled from live
// product state.
type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Total     float64 `json:"total"`
}

// Address is a user shipping/billing address. Orders carry copies, not
// references, so later edits never alter historical orders.
type Address struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Phone        string    `json:"phone"`
	AddressLine1 string    `json:"address_line1"`
	AddressLine2 string    `json:"address_line2,omitempty"`
	City         string    `json:"city"`
	State        string    `json:"state"`
	ZipCode      string    `json:"zip_code"`
	Country      string    `json:"country"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Order is created once per checkout and immutable afterwards except for
// status, payment status and updated_at.
type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	UserID          string      `json:"user_id"`
	Items           []OrderItem `json:"items"`
	Subtotal        float64     `json:"subtotal"`
	Shipping        float64     `json:"shipping"`
	Tax             float64     `json:"tax"`
	Total           float64     `json:"total"`
	Status          OrderStatus `json:"status"`
	PaymentMethod   string      `json:"payment_method"`
	PaymentStatus   string      `json:"payment_status"`
	ShippingAddress Address     `json:"shipping_address"`
	BillingAddress  *Address    `json:"billing_address,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// WishlistItem marks a product a user saved for later. One entry per
// (user, product) pair; Product is populated on reads and nil otherwise.
type WishlistItem struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Product   *Product  `json:"product,omitempty"`
	AddedAt   time.Time `json:"added_at"`
}

// Notification is a user-facing message written by the notification worker.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
