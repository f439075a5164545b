package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// credentialRepo implements CredentialRepository.
type credentialRepo struct {
	db *DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(db *DB) CredentialRepository {
	return &credentialRepo{db: db}
}

// GetByTenant returns the tenant's webhook credential, or nil if none is
// provisioned.
func (r *credentialRepo) GetByTenant(ctx context.Context, tenantID string) (*models.WebhookCredential, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT tenant_id, token_hash, created_at, updated_at
		 FROM webhook_credentials WHERE tenant_id = ?`, tenantID,
	)

	var c models.WebhookCredential
	err := row.Scan(&c.TenantID, &c.TokenHash, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning webhook credential: %w", err)
	}
	return &c, nil
}

// Upsert creates or replaces the tenant's webhook credential.
func (r *credentialRepo) Upsert(ctx context.Context, c *models.WebhookCredential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_credentials (tenant_id, token_hash, created_at, updated_at)
		 VALUES (?, ?, datetime('now'), datetime('now'))
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   token_hash = excluded.token_hash,
		   updated_at = datetime('now')`,
		c.TenantID, c.TokenHash,
	)
	if err != nil {
		return fmt.Errorf("upserting webhook credential: %w", err)
	}
	return nil
}
