package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/greenfieldtech-nirs/opbx-sub005/internal/database/models"
)

// scheduleRepo implements ScheduleRepository.
type scheduleRepo struct {
	db *DB
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(db *DB) ScheduleRepository {
	return &scheduleRepo{db: db}
}

// GetByID returns a schedule by id within tenant scope, loaded complete
// with its weekly days, time ranges and exceptions. Returns nil if not found.
func (r *scheduleRepo) GetByID(ctx context.Context, tenantID string, id int64) (*models.BusinessHoursSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, status, timezone, open_action, open_target,
		 closed_action, closed_target, created_at, updated_at
		 FROM schedules WHERE tenant_id = ? AND id = ?`, tenantID, id,
	)

	var s models.BusinessHoursSchedule
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Status, &s.Timezone,
		&s.OpenAction, &s.OpenTarget, &s.ClosedAction, &s.ClosedTarget,
		&s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning schedule: %w", err)
	}

	if err := r.loadDays(ctx, &s); err != nil {
		return nil, err
	}
	if err := r.loadExceptions(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// loadDays populates the seven weekday entries and their time ranges.
// Weekdays with no row are returned disabled.
func (r *scheduleRepo) loadDays(ctx context.Context, s *models.BusinessHoursSchedule) error {
	days := make([]models.ScheduleDay, 7)
	for i := range days {
		days[i].Weekday = time.Weekday(i)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT weekday, enabled FROM schedule_days WHERE schedule_id = ?`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule days: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int
		var enabled bool
		if err := rows.Scan(&weekday, &enabled); err != nil {
			return fmt.Errorf("scanning schedule day: %w", err)
		}
		if weekday >= 0 && weekday < 7 {
			days[weekday].Enabled = enabled
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	rangeRows, err := r.db.QueryContext(ctx,
		`SELECT weekday, start_min, end_min FROM schedule_ranges
		 WHERE schedule_id = ? ORDER BY weekday, start_min`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule ranges: %w", err)
	}
	defer rangeRows.Close()

	for rangeRows.Next() {
		var weekday int
		var tr models.TimeRange
		if err := rangeRows.Scan(&weekday, &tr.StartMin, &tr.EndMin); err != nil {
			return fmt.Errorf("scanning schedule range: %w", err)
		}
		if weekday >= 0 && weekday < 7 {
			days[weekday].Ranges = append(days[weekday].Ranges, tr)
		}
	}
	if err := rangeRows.Err(); err != nil {
		return err
	}

	s.Days = days
	return nil
}

// loadExceptions populates the schedule's date exceptions and any
// special-hours ranges attached to them.
func (r *scheduleRepo) loadExceptions(ctx context.Context, s *models.BusinessHoursSchedule) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, name, kind FROM schedule_exceptions
		 WHERE schedule_id = ? ORDER BY date`, s.ID)
	if err != nil {
		return fmt.Errorf("querying schedule exceptions: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]int)
	for rows.Next() {
		var ex models.ScheduleException
		if err := rows.Scan(&ex.ID, &ex.Date, &ex.Name, &ex.Kind); err != nil {
			return fmt.Errorf("scanning schedule exception: %w", err)
		}
		byID[ex.ID] = len(s.Exceptions)
		s.Exceptions = append(s.Exceptions, ex)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(s.Exceptions) == 0 {
		return nil
	}

	rangeRows, err := r.db.QueryContext(ctx,
		`SELECT r.exception_id, r.start_min, r.end_min
		 FROM schedule_exception_ranges r
		 JOIN schedule_exceptions e ON e.id = r.exception_id
		 WHERE e.schedule_id = ? ORDER BY r.start_min`, s.ID)
	if err != nil {
		return fmt.Errorf("querying exception ranges: %w", err)
	}
	defer rangeRows.Close()

	for rangeRows.Next() {
		var exID int64
		var tr models.TimeRange
		if err := rangeRows.Scan(&exID, &tr.StartMin, &tr.EndMin); err != nil {
			return fmt.Errorf("scanning exception range: %w", err)
		}
		if idx, ok := byID[exID]; ok {
			s.Exceptions[idx].Ranges = append(s.Exceptions[idx].Ranges, tr)
		}
	}
	return rangeRows.Err()
}

// Create inserts a schedule with its days, ranges and exceptions in one
// transaction.
func (r *scheduleRepo) Create(ctx context.Context, s *models.BusinessHoursSchedule) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning schedule insert: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO schedules (tenant_id, name, status, timezone, open_action, open_target,
		 closed_action, closed_target, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'))`,
		s.TenantID, s.Name, s.Status, s.Timezone, s.OpenAction, s.OpenTarget,
		s.ClosedAction, s.ClosedTarget,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("inserting schedule: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("getting last insert id: %w", err)
	}
	s.ID = id

	for _, day := range s.Days {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_days (schedule_id, weekday, enabled) VALUES (?, ?, ?)`,
			id, int(day.Weekday), day.Enabled); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting schedule day: %w", err)
		}
		for _, tr := range day.Ranges {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schedule_ranges (schedule_id, weekday, start_min, end_min)
				 VALUES (?, ?, ?, ?)`,
				id, int(day.Weekday), tr.StartMin, tr.EndMin); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting schedule range: %w", err)
			}
		}
	}

	for i := range s.Exceptions {
		ex := &s.Exceptions[i]
		result, err := tx.ExecContext(ctx,
			`INSERT INTO schedule_exceptions (schedule_id, date, name, kind)
			 VALUES (?, ?, ?, ?)`,
			id, ex.Date, ex.Name, ex.Kind)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting schedule exception: %w", err)
		}
		exID, err := result.LastInsertId()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("getting exception insert id: %w", err)
		}
		ex.ID = exID
		for _, tr := range ex.Ranges {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schedule_exception_ranges (exception_id, start_min, end_min)
				 VALUES (?, ?, ?)`,
				exID, tr.StartMin, tr.EndMin); err != nil {
				tx.Rollback()
				return fmt.Errorf("inserting exception range: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schedule insert: %w", err)
	}
	return nil
}
