package store

import (
	"context"
	"database/sql"

	"checkout-service/internal/models"
)

// ListWishlist retrieves a user's wishlist newest first, with the product
// populated when it still exists.
func (p *Postgres) ListWishlist(ctx context.Context, userID string) ([]models.WishlistItem, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT w.id, w.user_id, w.product_id, w.added_at,
			pr.id, pr.sku, pr.name, pr.description, pr.price, pr.stock, pr.status,
			pr.created_at, pr.updated_at
		FROM wishlist_items w
		LEFT JOIN products pr ON pr.id = w.product_id
		WHERE w.user_id = $1
		ORDER BY w.added_at DESC`, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var items []models.WishlistItem
	for rows.Next() {
		var item models.WishlistItem
		var (
			prID, prSKU, prName, prDesc, prStatus sql.NullString
			prPrice                               sql.NullFloat64
			prStock                               sql.NullInt64
			prCreated, prUpdated                  sql.NullTime
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.AddedAt,
			&prID, &prSKU, &prName, &prDesc, &prPrice, &prStock, &prStatus,
			&prCreated, &prUpdated); err != nil {
			return nil, storeErr(err)
		}
		if prID.Valid {
			item.Product = &models.Product{
				ID:          prID.String,
				SKU:         prSKU.String,
				Name:        prName.String,
				Description: prDesc.String,
				Price:       prPrice.Float64,
				Stock:       int(prStock.Int64),
				Status:      prStatus.String,
				CreatedAt:   prCreated.Time,
				UpdatedAt:   prUpdated.Time,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return items, nil
}

// AddWishlistItem inserts the entry, rejecting duplicates per
// (user, product) pair.
func (p *Postgres) AddWishlistItem(ctx context.Context, item *models.WishlistItem) error {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO wishlist_items (id, user_id, product_id, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO NOTHING`,
		item.ID, item.UserID, item.ProductID, item.AddedAt)
	if err != nil {
		return storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return models.ErrAlreadyInWishlist
	}
	return nil
}

// RemoveWishlistItem deletes the user's entry for the product.
func (p *Postgres) RemoveWishlistItem(ctx context.Context, userID, productID string) error {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM wishlist_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID)
	if err != nil {
		return storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return &models.NotFoundError{Entity: "wishlist item", ID: productID}
	}
	return nil
}

// InWishlist reports whether the user has saved the product.
func (p *Postgres) InWishlist(ctx context.Context, userID, productID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowxContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wishlist_items WHERE user_id = $1 AND product_id = $2
		)`, userID, productID).Scan(&exists)
	if err != nil {
		return false, storeErr(err)
	}
	return exists, nil
}
