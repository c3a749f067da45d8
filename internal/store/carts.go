package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"checkout-service/internal/models"
)

type cartRow struct {
	UserID    string    `db:"user_id"`
	Items     []byte    `db:"items"`
	Total     float64   `db:"total"`
	UpdatedAt time.Time `db:"updated_at"`
}

// GetCart loads the user's cart. A user who has never touched their cart
// has no row; that is reported as (nil, nil), not an error.
func (p *Postgres) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	var row cartRow
	err := p.db.GetContext(ctx, &row, "SELECT * FROM carts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}

	cart := &models.Cart{
		UserID:    row.UserID,
		Total:     row.Total,
		UpdatedAt: row.UpdatedAt,
	}
	if err := json.Unmarshal(row.Items, &cart.Items); err != nil {
		return nil, fmt.Errorf("failed to decode cart items: %w", err)
	}
	return cart, nil
}

// SaveCart replaces the user's cart wholesale.
func (p *Postgres) SaveCart(ctx context.Context, cart *models.Cart) error {
	items := cart.Items
	if items == nil {
		items = []models.CartLine{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode cart items: %w", err)
	}

	if _, err := p.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, total, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET items = EXCLUDED.items, total = EXCLUDED.total, updated_at = EXCLUDED.updated_at`,
		cart.UserID, itemsJSON, cart.Total, cart.UpdatedAt); err != nil {
		return storeErr(err)
	}
	return nil
}
