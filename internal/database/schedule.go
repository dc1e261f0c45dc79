package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

func scanWorkingHours(row rowScanner) (*models.WorkingHours, error) {
	var wh models.WorkingHours
	var open, closeAt sql.NullString
	if err := row.Scan(&wh.DayOfWeek, &wh.IsWorkingDay, &open, &closeAt); err != nil {
		return nil, err
	}
	if open.Valid {
		if err := wh.OpenTime.Scan(open.String); err != nil {
			return nil, err
		}
	}
	if closeAt.Valid {
		if err := wh.CloseTime.Scan(closeAt.String); err != nil {
			return nil, err
		}
	}
	return &wh, nil
}

// ListWorkingHours returns the stored weekly schedule, Sunday first.
func (db *DB) ListWorkingHours(ctx context.Context) ([]models.WorkingHours, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT day_of_week, is_working_day, open_time, close_time FROM working_hours ORDER BY day_of_week`)
	if err != nil {
		return nil, fmt.Errorf("list working hours: %w", err)
	}
	defer rows.Close()

	var out []models.WorkingHours
	for rows.Next() {
		wh, err := scanWorkingHours(rows)
		if err != nil {
			return nil, fmt.Errorf("scan working hours: %w", err)
		}
		out = append(out, *wh)
	}
	return out, rows.Err()
}

// GetWorkingHours returns the entry for a weekday, or nil when none is stored.
func (db *DB) GetWorkingHours(ctx context.Context, day time.Weekday) (*models.WorkingHours, error) {
	wh, err := scanWorkingHours(db.QueryRowContext(ctx,
		`SELECT day_of_week, is_working_day, open_time, close_time FROM working_hours WHERE day_of_week = ?`, int(day)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get working hours for %s: %w", day, err)
	}
	return wh, nil
}

// UpsertWorkingHours stores the schedule for one weekday.
func (db *DB) UpsertWorkingHours(ctx context.Context, wh models.WorkingHours) error {
	return upsertWorkingHours(ctx, db, wh)
}

func upsertWorkingHours(ctx context.Context, q queryer, wh models.WorkingHours) error {
	var open, closeAt any
	if wh.IsWorkingDay {
		open, closeAt = wh.OpenTime, wh.CloseTime
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO working_hours (day_of_week, is_working_day, open_time, close_time, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day_of_week) DO UPDATE SET
			is_working_day = excluded.is_working_day,
			open_time = excluded.open_time,
			close_time = excluded.close_time,
			updated_at = excluded.updated_at`,
		wh.DayOfWeek, boolToInt(wh.IsWorkingDay), open, closeAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert working hours for day %d: %w", wh.DayOfWeek, err)
	}
	return nil
}

// IsDateBlocked reports whether a whole-day block exists for the date.
func (db *DB) IsDateBlocked(ctx context.Context, date models.Date) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM date_blocks WHERE date = ?`, date).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check date block %s: %w", date, err)
	}
	return count > 0, nil
}

// ListDateBlocks returns blocks on or after from; a nil from returns all.
func (db *DB) ListDateBlocks(ctx context.Context, from *models.Date) ([]models.DateBlock, error) {
	query := `SELECT date, reason, created_at FROM date_blocks`
	var args []any
	if from != nil {
		query += ` WHERE date >= ?`
		args = append(args, *from)
	}
	query += ` ORDER BY date`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list date blocks: %w", err)
	}
	defer rows.Close()

	var out []models.DateBlock
	for rows.Next() {
		var b models.DateBlock
		if err := rows.Scan(&b.Date, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan date block: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddDateBlock blocks a date. Re-blocking a date updates its reason.
func (db *DB) AddDateBlock(ctx context.Context, date models.Date, reason string) error {
	return addDateBlock(ctx, db, date, reason, "admin")
}

func addDateBlock(ctx context.Context, q queryer, date models.Date, reason, source string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO date_blocks (date, reason, source, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET reason = excluded.reason`,
		date, reason, source, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("add date block %s: %w", date, err)
	}
	return nil
}

// RemoveDateBlock unblocks a date.
func (db *DB) RemoveDateBlock(ctx context.Context, date models.Date) error {
	res, err := db.ExecContext(ctx, `DELETE FROM date_blocks WHERE date = ?`, date)
	if err != nil {
		return fmt.Errorf("remove date block %s: %w", date, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError("date block", date)
	}
	return nil
}

const timeBlockColumns = `id, date, start_time, end_time, service_type_id, reason, created_at`

func scanTimeRangeBlock(row rowScanner) (*models.TimeRangeBlock, error) {
	var b models.TimeRangeBlock
	var serviceTypeID sql.NullInt64
	if err := row.Scan(&b.ID, &b.Date, &b.StartTime, &b.EndTime, &serviceTypeID, &b.Reason, &b.CreatedAt); err != nil {
		return nil, err
	}
	if serviceTypeID.Valid {
		id := serviceTypeID.Int64
		b.ServiceTypeID = &id
	}
	return &b, nil
}

// TimeRangeBlocksFor returns the blocks on date that apply to serviceTypeID:
// global blocks plus the ones scoped to that type.
func (db *DB) TimeRangeBlocksFor(ctx context.Context, date models.Date, serviceTypeID int64) ([]models.TimeRangeBlock, error) {
	return db.queryTimeRangeBlocks(ctx, `SELECT `+timeBlockColumns+` FROM time_range_blocks
		WHERE date = ? AND (service_type_id IS NULL OR service_type_id = ?)
		ORDER BY start_time`, date, serviceTypeID)
}

// ListTimeRangeBlocks returns every block on or after from.
func (db *DB) ListTimeRangeBlocks(ctx context.Context, from models.Date) ([]models.TimeRangeBlock, error) {
	return db.queryTimeRangeBlocks(ctx, `SELECT `+timeBlockColumns+` FROM time_range_blocks
		WHERE date >= ? ORDER BY date, start_time`, from)
}

func (db *DB) queryTimeRangeBlocks(ctx context.Context, query string, args ...any) ([]models.TimeRangeBlock, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list time range blocks: %w", err)
	}
	defer rows.Close()

	var out []models.TimeRangeBlock
	for rows.Next() {
		b, err := scanTimeRangeBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time range block: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// AddTimeRangeBlock stores a partial-day block and sets its ID.
func (db *DB) AddTimeRangeBlock(ctx context.Context, b *models.TimeRangeBlock) error {
	if b.StartTime >= b.EndTime {
		return domain.NewValidationError("end_time", "must be after start_time")
	}
	var serviceTypeID any
	if b.ServiceTypeID != nil {
		serviceTypeID = *b.ServiceTypeID
	}
	b.CreatedAt = time.Now().UTC()
	res, err := db.ExecContext(ctx, `
		INSERT INTO time_range_blocks (date, start_time, end_time, service_type_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.Date, b.StartTime, b.EndTime, serviceTypeID, b.Reason, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add time range block: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// RemoveTimeRangeBlock deletes a partial-day block.
func (db *DB) RemoveTimeRangeBlock(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM time_range_blocks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove time range block %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError("time range block", id)
	}
	return nil
}
