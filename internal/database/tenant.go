package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// tenantRepo implements TenantRepository.
type tenantRepo struct {
	db *DB
}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository(db *DB) TenantRepository {
	return &tenantRepo{db: db}
}

// GetByID returns a tenant by id, or nil if not found.
func (r *tenantRepo) GetByID(ctx context.Context, id string) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, domain_uuid, timezone, created_at
		 FROM tenants WHERE id = ?`, id,
	))
}

// GetByDomainUUID returns the tenant owning the given platform domain
// identifier, or nil if not found.
func (r *tenantRepo) GetByDomainUUID(ctx context.Context, domainUUID string) (*models.Tenant, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT id, name, domain_uuid, timezone, created_at
		 FROM tenants WHERE domain_uuid = ?`, domainUUID,
	))
}

// Create inserts a new tenant, generating an id when none is set.
func (r *tenantRepo) Create(ctx context.Context, t *models.Tenant) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timezone == "" {
		t.Timezone = "UTC"
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, domain_uuid, timezone, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		t.ID, t.Name, t.DomainUUID, t.Timezone,
	)
	if err != nil {
		return fmt.Errorf("inserting tenant: %w", err)
	}
	return nil
}

func (r *tenantRepo) scanOne(row *sql.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.DomainUUID, &t.Timezone, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}
	return &t, nil
}
