// Package cdrstore archives call detail records in PostgreSQL. The archive
// is append-only: the platform is the source of truth and records are
// stored verbatim alongside a parsed summary for querying.
package cdrstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS cdr_events (
	id BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	call_id TEXT NOT NULL,
	direction TEXT NOT NULL DEFAULT '',
	caller TEXT NOT NULL DEFAULT '',
	callee TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ,
	answer_time TIMESTAMPTZ,
	end_time TIMESTAMPTZ,
	duration INTEGER,
	disposition TEXT NOT NULL DEFAULT '',
	raw JSONB NOT NULL,
	received_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_cdr_events_tenant_call ON cdr_events(tenant_id, call_id);
CREATE INDEX IF NOT EXISTS idx_cdr_events_tenant_received ON cdr_events(tenant_id, received_at);
`

// Store is the PostgreSQL CDR archive.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cdr store: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cdr store: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring cdr schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert archives one CDR event.
func (s *Store) Insert(ctx context.Context, ev *models.CDREvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cdr_events (
			tenant_id, call_id, direction, caller, callee,
			start_time, answer_time, end_time, duration, disposition, raw
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.TenantID, ev.CallID, ev.Direction, ev.Caller, ev.Callee,
		ev.StartTime, ev.AnswerTime, ev.EndTime, ev.Duration, ev.Disposition, ev.Raw,
	)
	if err != nil {
		return fmt.Errorf("inserting cdr event: %w", err)
	}
	return nil
}

// CountByDirection returns archived event counts grouped by direction.
func (s *Store) CountByDirection(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT direction, COUNT(*) FROM cdr_events GROUP BY direction`)
	if err != nil {
		return nil, fmt.Errorf("counting cdr events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var direction string
		var count int64
		if err := rows.Scan(&direction, &count); err != nil {
			return nil, fmt.Errorf("scanning cdr count: %w", err)
		}
		counts[direction] = count
	}
	return counts, rows.Err()
}

// ListRecent returns the newest archived events for a tenant, newest first.
func (s *Store) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.CDREvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, call_id, direction, caller, callee,
		       start_time, answer_time, end_time, duration, disposition, raw, received_at
		FROM cdr_events
		WHERE tenant_id = $1
		ORDER BY received_at DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing cdr events: %w", err)
	}
	defer rows.Close()

	var events []models.CDREvent
	for rows.Next() {
		var ev models.CDREvent
		if err := rows.Scan(
			&ev.ID, &ev.TenantID, &ev.CallID, &ev.Direction, &ev.Caller, &ev.Callee,
			&ev.StartTime, &ev.AnswerTime, &ev.EndTime, &ev.Duration, &ev.Disposition,
			&ev.Raw, &ev.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning cdr event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
