package store

import (
	"context"
	"database/sql"
	"time"

	"checkout-service/internal/models"
)

// CreateAddress inserts a new address.
func (p *Postgres) CreateAddress(ctx context.Context, addr *models.Address) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, first_name, last_name, phone, address_line1,
			address_line2, city, state, zip_code, country, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		addr.ID, addr.UserID, addr.FirstName, addr.LastName, addr.Phone,
		addr.AddressLine1, addr.AddressLine2, addr.City, addr.State,
		addr.ZipCode, addr.Country, addr.IsDefault, addr.CreatedAt, addr.UpdatedAt)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// GetAddress retrieves an address by id.
func (p *Postgres) GetAddress(ctx context.Context, id string) (*models.Address, error) {
	var addr models.Address
	err := p.db.QueryRowxContext(ctx, `
		SELECT id, user_id, first_name, last_name, phone, address_line1, address_line2,
			city, state, zip_code, country, is_default, created_at, updated_at
		FROM addresses WHERE id = $1`, id).Scan(
		&addr.ID, &addr.UserID, &addr.FirstName, &addr.LastName, &addr.Phone,
		&addr.AddressLine1, &addr.AddressLine2, &addr.City, &addr.State,
		&addr.ZipCode, &addr.Country, &addr.IsDefault, &addr.CreatedAt, &addr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, &models.AddressNotFoundError{AddressID: id}
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &addr, nil
}

// ListAddresses retrieves a user's addresses, default first.
func (p *Postgres) ListAddresses(ctx context.Context, userID string) ([]models.Address, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, user_id, first_name, last_name, phone, address_line1, address_line2,
			city, state, zip_code, country, is_default, created_at, updated_at
		FROM addresses WHERE user_id = $1 ORDER BY is_default DESC, created_at DESC`, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var addrs []models.Address
	for rows.Next() {
		var addr models.Address
		if err := rows.Scan(
			&addr.ID, &addr.UserID, &addr.FirstName, &addr.LastName, &addr.Phone,
			&addr.AddressLine1, &addr.AddressLine2, &addr.City, &addr.State,
			&addr.ZipCode, &addr.Country, &addr.IsDefault, &addr.CreatedAt, &addr.UpdatedAt); err != nil {
			return nil, storeErr(err)
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return addrs, nil
}

// UpdateAddress replaces an address wholesale. When the update promotes it
// to default, the user's other addresses are demoted in the same
// transaction.
func (p *Postgres) UpdateAddress(ctx context.Context, addr *models.Address) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if addr.IsDefault {
		if _, err := tx.ExecContext(ctx, `
			UPDATE addresses SET is_default = FALSE
			WHERE user_id = $1 AND id <> $2 AND is_default`,
			addr.UserID, addr.ID); err != nil {
			return storeErr(err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE addresses SET first_name = $1, last_name = $2, phone = $3,
			address_line1 = $4, address_line2 = $5, city = $6, state = $7,
			zip_code = $8, country = $9, is_default = $10, updated_at = $11
		WHERE id = $12`,
		addr.FirstName, addr.LastName, addr.Phone,
		addr.AddressLine1, addr.AddressLine2, addr.City, addr.State,
		addr.ZipCode, addr.Country, addr.IsDefault, addr.UpdatedAt, addr.ID)
	if err != nil {
		return storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return &models.AddressNotFoundError{AddressID: addr.ID}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// DeleteAddress removes an address.
func (p *Postgres) DeleteAddress(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM addresses WHERE id = $1`, id)
	if err != nil {
		return storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return &models.AddressNotFoundError{AddressID: id}
	}
	return nil
}

// SetDefaultAddress makes the address the user's single default.
func (p *Postgres) SetDefaultAddress(ctx context.Context, userID, id string) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE addresses SET is_default = FALSE
		WHERE user_id = $1 AND id <> $2 AND is_default`, userID, id); err != nil {
		return storeErr(err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE addresses SET is_default = TRUE, updated_at = $1
		WHERE id = $2 AND user_id = $3`, time.Now(), id, userID)
	if err != nil {
		return storeErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if affected == 0 {
		return &models.AddressNotFoundError{AddressID: id}
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// CreateNotification inserts a notification.
func (p *Postgres) CreateNotification(ctx context.Context, n *models.Notification) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Read, n.CreatedAt)
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// ListNotifications retrieves a user's notifications newest first.
func (p *Postgres) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	rows, err := p.db.QueryxContext(ctx, `
		SELECT id, user_id, type, title, message, read, created_at
		FROM notifications WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return list, nil
}
