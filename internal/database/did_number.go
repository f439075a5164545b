package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// didNumberRepo implements DidNumberRepository.
type didNumberRepo struct {
	db *DB
}

// NewDidNumberRepository creates a new DidNumberRepository.
func NewDidNumberRepository(db *DB) DidNumberRepository {
	return &didNumberRepo{db: db}
}

// GetByNumber resolves a dialed number across tenants. Used by webhook
// authentication to discover which tenant a call addresses.
func (r *didNumberRepo) GetByNumber(ctx context.Context, number string) (*models.DidNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, number, routing_type, routing_config, active, created_at, updated_at
		 FROM did_numbers WHERE number = ?`, number,
	))
}

// GetForTenant returns a DID within tenant scope, or nil if not found.
func (r *didNumberRepo) GetForTenant(ctx context.Context, tenantID, number string) (*models.DidNumber, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, number, routing_type, routing_config, active, created_at, updated_at
		 FROM did_numbers WHERE tenant_id = ? AND number = ?`, tenantID, number,
	))
}

// Create inserts a new DID.
func (r *didNumberRepo) Create(ctx context.Context, d *models.DidNumber) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO did_numbers (tenant_id, number, routing_type, routing_config, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		d.TenantID, d.Number, d.RoutingType, d.RoutingConfig, d.Active,
	)
	if err != nil {
		return fmt.Errorf("inserting did number: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	d.ID = id
	return nil
}

// UpdateRouting changes a DID's routing target. The number itself is
// immutable once created.
func (r *didNumberRepo) UpdateRouting(ctx context.Context, tenantID string, id int64, routingType, routingConfig string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE did_numbers SET routing_type = ?, routing_config = ?, updated_at = datetime('now')
		 WHERE tenant_id = ? AND id = ?`,
		routingType, routingConfig, tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("updating did routing: %w", err)
	}
	return nil
}

func (r *didNumberRepo) scanOne(row *sql.Row) (*models.DidNumber, error) {
	var d models.DidNumber
	err := row.Scan(&d.ID, &d.TenantID, &d.Number, &d.RoutingType, &d.RoutingConfig,
		&d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning did number: %w", err)
	}
	return &d, nil
}
