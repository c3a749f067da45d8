package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres implements Store on top of PostgreSQL. Document-valued fields
// (cart lines, order items, address snapshots) live in JSONB columns.
type Postgres struct {
	db *sqlx.DB
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(databaseURL string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// storeErr classifies a driver error. Serialization failures and deadlocks
// become StockConflictError (retryable); anything else is wrapped as a
// collaborator failure.
func storeErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return &models.StockConflictError{Err: err}
		}
	}
	return &models.StoreUnavailableError{Err: err}
}

// GetProduct retrieves a product by id.
func (p *Postgres) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := p.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.ProductNotFoundError{ProductID: id}
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return &product, nil
}

// ListProducts retrieves all active products.
func (p *Postgres) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := p.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE status = $1 ORDER BY created_at DESC",
		models.ProductStatusActive)
	if err != nil {
		return nil, storeErr(err)
	}
	return products, nil
}

// GetProductsByIDs retrieves multiple products keyed by id. Missing ids are
// simply absent from the result map.
func (p *Postgres) GetProductsByIDs(ctx context.Context, ids []string) (map[string]*models.Product, error) {
	result := make(map[string]*models.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, storeErr(err)
	}
	query = p.db.Rebind(query)

	var products []models.Product
	if err := p.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, storeErr(err)
	}
	for i := range products {
		result[products[i].ID] = &products[i]
	}
	return result, nil
}
