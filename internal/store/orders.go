package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"checkout-service/internal/models"
)

type orderRow struct {
	ID              string    `db:"id"`
	OrderNumber     string    `db:"order_number"`
	UserID          string    `db:"user_id"`
	Items           []byte    `db:"items"`
	Subtotal        float64   `db:"subtotal"`
	Shipping        float64   `db:"shipping"`
	Tax             float64   `db:"tax"`
	Total           float64   `db:"total"`
	Status          string    `db:"status"`
	PaymentMethod   string    `db:"payment_method"`
	PaymentStatus   string    `db:"payment_status"`
	ShippingAddress []byte    `db:"shipping_address"`
	BillingAddress  []byte    `db:"billing_address"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r *orderRow) toOrder() (*models.Order, error) {
	order := &models.Order{
		ID:            r.ID,
		OrderNumber:   r.OrderNumber,
		UserID:        r.UserID,
		Subtotal:      r.Subtotal,
		Shipping:      r.Shipping,
		Tax:           r.Tax,
		Total:         r.Total,
		Status:        models.OrderStatus(r.Status),
		PaymentMethod: r.PaymentMethod,
		PaymentStatus: r.PaymentStatus,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Items, &order.Items); err != nil {
		return nil, fmt.Errorf("failed to decode order items: %w", err)
	}
	if err := json.Unmarshal(r.ShippingAddress, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("failed to decode shipping address: %w", err)
	}
	if len(r.BillingAddress) > 0 {
		order.BillingAddress = &models.Address{}
		if err := json.Unmarshal(r.BillingAddress, order.BillingAddress); err != nil {
			return nil, fmt.Errorf("failed to decode billing address: %w", err)
		}
	}
	return order, nil
}

// PlaceOrder decrements stock for every item and inserts the order row in a
// single transaction. Product rows are locked in ascending id order so
// concurrent checkouts touching the same products cannot deadlock, and the
// decrement is re-validated under the lock, which closes the lost-update
// window between validation and commit.
func (p *Postgres) PlaceOrder(ctx context.Context, order *models.Order) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	for _, item := range items {
		var name string
		var stock int
		err := tx.QueryRowxContext(ctx,
			"SELECT name, stock FROM products WHERE id = $1 FOR UPDATE",
			item.ProductID).Scan(&name, &stock)
		if err == sql.ErrNoRows {
			return &models.ProductNotFoundError{ProductID: item.ProductID}
		}
		if err != nil {
			return storeErr(err)
		}
		if stock < item.Quantity {
			return &models.InsufficientStockError{
				ProductID: item.ProductID,
				Name:      name,
				Requested: item.Quantity,
				Available: stock,
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2",
			item.Quantity, item.ProductID); err != nil {
			return storeErr(err)
		}
	}

	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode order items: %w", err)
	}
	shippingJSON, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("failed to encode shipping address: %w", err)
	}
	var billingJSON []byte
	if order.BillingAddress != nil {
		billingJSON, err = json.Marshal(order.BillingAddress)
		if err != nil {
			return fmt.Errorf("failed to encode billing address: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, items, subtotal, shipping, tax, total,
			status, payment_method, payment_status, shipping_address, billing_address,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.OrderNumber, order.UserID, itemsJSON,
		order.Subtotal, order.Shipping, order.Tax, order.Total,
		string(order.Status), order.PaymentMethod, order.PaymentStatus,
		shippingJSON, billingJSON, order.CreatedAt, order.UpdatedAt); err != nil {
		return storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetOrder retrieves an order by id.
func (p *Postgres) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := p.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "order", ID: id}
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return row.toOrder()
}

// ListOrders retrieves a user's orders newest first.
func (p *Postgres) ListOrders(ctx context.Context, userID string, status models.OrderStatus) ([]models.Order, error) {
	var rows []orderRow
	var err error
	if status != "" {
		err = p.db.SelectContext(ctx, &rows,
			"SELECT * FROM orders WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC",
			userID, string(status))
	} else {
		err = p.db.SelectContext(ctx, &rows,
			"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toOrder()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

// CancelOrder restocks the order's items and marks it Cancelled in a single
// transaction. The status is re-read under the row lock, so a cancellation
// that races with another cancel (or with an admin transition) restores
// stock exactly once or not at all.
func (p *Postgres) CancelOrder(ctx context.Context, orderID string) (*models.Order, error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storeErr(err)
	}
	defer tx.Rollback()

	var row orderRow
	err = tx.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Entity: "order", ID: orderID}
	}
	if err != nil {
		return nil, storeErr(err)
	}

	order, err := row.toOrder()
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, &models.OrderNotCancellableError{OrderID: orderID, Status: order.Status}
	}

	items := make([]models.OrderItem, len(order.Items))
	copy(items, order.Items)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	for _, item := range items {
		if _, err := tx.ExecContext(ctx,
			"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
			item.Quantity, item.ProductID); err != nil {
			return nil, storeErr(err)
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3",
		string(models.OrderStatusCancelled), now, orderID); err != nil {
		return nil, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err)
	}

	order.Status = models.OrderStatusCancelled
	order.UpdatedAt = now
	return order, nil
}
