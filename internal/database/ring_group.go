package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// ringGroupRepo implements RingGroupRepository.
type ringGroupRepo struct {
	db *DB
}

// NewRingGroupRepository creates a new RingGroupRepository.
func NewRingGroupRepository(db *DB) RingGroupRepository {
	return &ringGroupRepo{db: db}
}

// GetByID returns a ring group by id within tenant scope, or nil if not found.
func (r *ringGroupRepo) GetByID(ctx context.Context, tenantID string, id int64) (*models.RingGroup, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, strategy, ring_timeout, ring_turns,
		 fallback_action, fallback_target, rr_offset, created_at, updated_at
		 FROM ring_groups WHERE tenant_id = ? AND id = ?`, tenantID, id,
	)

	var g models.RingGroup
	err := row.Scan(&g.ID, &g.TenantID, &g.Name, &g.Strategy, &g.RingTimeout,
		&g.RingTurns, &g.FallbackAction, &g.FallbackTarget, &g.RROffset,
		&g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning ring group: %w", err)
	}
	return &g, nil
}

// ListMembers returns the group's members joined with their extension
// records, ordered by priority then id.
func (r *ringGroupRepo) ListMembers(ctx context.Context, groupID int64) ([]MemberSnapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.tenant_id, e.extension, e.name, e.kind, e.active, e.configuration,
		 e.created_at, e.updated_at, m.priority
		 FROM ring_group_members m
		 JOIN extensions e ON e.id = m.extension_id
		 WHERE m.ring_group_id = ?
		 ORDER BY m.priority, m.id`, groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying ring group members: %w", err)
	}
	defer rows.Close()

	var members []MemberSnapshot
	for rows.Next() {
		var m MemberSnapshot
		if err := rows.Scan(&m.Extension.ID, &m.Extension.TenantID, &m.Extension.Extension,
			&m.Extension.Name, &m.Extension.Kind, &m.Extension.Active, &m.Extension.Configuration,
			&m.Extension.CreatedAt, &m.Extension.UpdatedAt, &m.Priority); err != nil {
			return nil, fmt.Errorf("scanning ring group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ReplaceMembers swaps the group's full member set inside one transaction
// so readers using the same connection never observe the deleted-but-not-
// yet-recreated state. Callers must hold the group's lock for the duration.
func (r *ringGroupRepo) ReplaceMembers(ctx context.Context, groupID int64, members []models.RingGroupMember) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning member replace: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ring_group_members WHERE ring_group_id = ?`, groupID); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing ring group members: %w", err)
	}

	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ring_group_members (ring_group_id, extension_id, priority)
			 VALUES (?, ?, ?)`, groupID, m.ExtensionID, m.Priority); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting ring group member: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ring_groups SET updated_at = datetime('now') WHERE id = ?`, groupID); err != nil {
		tx.Rollback()
		return fmt.Errorf("touching ring group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing member replace: %w", err)
	}
	return nil
}

// AdvanceRoundRobin atomically rotates the group's starting offset and
// returns the offset to use for this call.
func (r *ringGroupRepo) AdvanceRoundRobin(ctx context.Context, groupID int64, memberCount int) (int, error) {
	if memberCount <= 0 {
		return 0, fmt.Errorf("member count must be positive, got %d", memberCount)
	}

	row := r.db.QueryRowContext(ctx,
		`UPDATE ring_groups SET rr_offset = (rr_offset + 1) % ?
		 WHERE id = ? RETURNING rr_offset`, memberCount, groupID,
	)

	var next int
	if err := row.Scan(&next); err != nil {
		return 0, fmt.Errorf("advancing round robin offset: %w", err)
	}

	// The returned value is the offset for the NEXT call; this call uses
	// the previous one.
	current := next - 1
	if current < 0 {
		current = memberCount - 1
	}
	return current, nil
}

// Create inserts a new ring group.
func (r *ringGroupRepo) Create(ctx context.Context, g *models.RingGroup) error {
	if g.Strategy == "" {
		g.Strategy = models.StrategySimultaneous
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO ring_groups (tenant_id, name, strategy, ring_timeout, ring_turns,
		 fallback_action, fallback_target, rr_offset, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, datetime('now'), datetime('now'))`,
		g.TenantID, g.Name, g.Strategy, g.RingTimeout, g.RingTurns,
		g.FallbackAction, g.FallbackTarget,
	)
	if err != nil {
		return fmt.Errorf("inserting ring group: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting last insert id: %w", err)
	}
	g.ID = id
	return nil
}
