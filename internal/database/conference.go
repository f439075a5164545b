package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// conferenceRoomRepo implements ConferenceRoomRepository.
type conferenceRoomRepo struct {
	db *DB
}

// NewConferenceRoomRepository creates a new ConferenceRoomRepository.
func NewConferenceRoomRepository(db *DB) ConferenceRoomRepository {
	return &conferenceRoomRepo{db: db}
}

// GetByID returns a conference room by id within tenant scope, or nil if
// not found.
func (r *conferenceRoomRepo) GetByID(ctx context.Context, tenantID string, id int64) (*models.ConferenceRoom, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, extension, active, created_at
		 FROM conference_rooms WHERE tenant_id = ? AND id = ?`, tenantID, id,
	)

	var c models.ConferenceRoom
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Extension, &c.Active, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conference room: %w", err)
	}
	return &c, nil
}

// Create inserts a new conference room.
func (r *conferenceRoomRepo) Create(ctx context.Context, c *models.ConferenceRoom) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO conference_rooms (tenant_id, name, extension, active, created_at)
		 VALUES (?, ?, ?, ?, datetime('now'))`,
		c.TenantID, c.Name, c.Extension, c.Active,
	)
	if err != nil {
		return fmt.Errorf("inserting conference room: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	c.ID = id
	return nil
}
