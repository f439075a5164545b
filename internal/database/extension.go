package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// extensionRepo implements ExtensionRepository.
type extensionRepo struct {
	db *DB
}

// NewExtensionRepository creates a new ExtensionRepository.
func NewExtensionRepository(db *DB) ExtensionRepository {
	return &extensionRepo{db: db}
}

// GetByNumber returns the extension addressed by (tenant, extension number),
// or nil if not found.
func (r *extensionRepo) GetByNumber(ctx context.Context, tenantID, extension string) (*models.Extension, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, extension, name, kind, active, configuration, created_at, updated_at
		 FROM extensions WHERE tenant_id = ? AND extension = ?`, tenantID, extension,
	))
}

// GetByID returns an extension by id within tenant scope, or nil if not found.
func (r *extensionRepo) GetByID(ctx context.Context, tenantID string, id int64) (*models.Extension, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, extension, name, kind, active, configuration, created_at, updated_at
		 FROM extensions WHERE tenant_id = ? AND id = ?`, tenantID, id,
	))
}

// Create inserts a new extension.
func (r *extensionRepo) Create(ctx context.Context, e *models.Extension) error {
	if e.Configuration == "" {
		e.Configuration = "{}"
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO extensions (tenant_id, extension, name, kind, active, configuration, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		e.TenantID, e.Extension, e.Name, e.Kind, e.Active, e.Configuration,
	)
	if err != nil {
		return fmt.Errorf("inserting extension: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *extensionRepo) scanOne(row *sql.Row) (*models.Extension, error) {
	var e models.Extension
	err := row.Scan(&e.ID, &e.TenantID, &e.Extension, &e.Name, &e.Kind,
		&e.Active, &e.Configuration, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning extension: %w", err)
	}
	return &e, nil
}
