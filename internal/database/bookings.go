package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

// activeStatusList is models.ActiveStatuses as an SQL value list.
var activeStatusList = sqlStringList(models.ActiveStatuses)

func sqlStringList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// Effects builds the outbox tasks for a booking snapshot inside the write transaction.
type Effects func(b *models.Booking) []*models.OutboxTask

const bookingColumns = `b.id, b.service_type_id, COALESCE(st.name, ''), b.client_name, b.client_email, b.client_phone,
	b.date, b.start_time, b.end_time, b.status, b.notes, b.internal_notes, b.rejected_reason,
	b.calendar_event_id, b.confirmed_at, b.rejected_at, b.cancelled_at, b.created_at, b.updated_at, b.version`

const bookingFrom = ` FROM bookings b LEFT JOIN service_types st ON st.id = b.service_type_id`

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var eventID sql.NullString
	var confirmedAt, rejectedAt, cancelledAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.ServiceTypeID, &b.ServiceTypeName, &b.ClientName, &b.ClientEmail, &b.ClientPhone,
		&b.Date, &b.StartTime, &b.EndTime, &b.Status, &b.Notes, &b.InternalNotes, &b.RejectedReason,
		&eventID, &confirmedAt, &rejectedAt, &cancelledAt, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	b.CalendarEventID = eventID.String
	b.ConfirmedAt = nullTimePtr(confirmedAt)
	b.RejectedAt = nullTimePtr(rejectedAt)
	b.CancelledAt = nullTimePtr(cancelledAt)
	return &b, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getBooking(ctx context.Context, q queryer, id int64) (*models.Booking, error) {
	b, err := scanBooking(q.QueryRowContext(ctx, `SELECT `+bookingColumns+bookingFrom+` WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("booking", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get booking %d: %w", id, err)
	}
	return b, nil
}

// hasConflict reports whether an active booking of the same service type on
// the same date overlaps [start, end). excludeID skips the booking being moved.
func hasConflict(ctx context.Context, q queryer, serviceTypeID int64, date models.Date, start, end models.TimeOfDay, excludeID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE service_type_id = ? AND date = ? AND status IN `+activeStatusList+`
		  AND start_time < ? AND end_time > ? AND id != ?`,
		serviceTypeID, date, end, start, excludeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check booking conflict: %w", err)
	}
	return count > 0, nil
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return getBooking(ctx, db, id)
}

// ListBookings returns bookings newest first, narrowed by filter.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if filter.ServiceTypeID > 0 {
		where = append(where, "b.service_type_id = ?")
		args = append(args, filter.ServiceTypeID)
	}
	if filter.From != nil {
		where = append(where, "b.date >= ?")
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, "b.date <= ?")
		args = append(args, *filter.To)
	}

	query := `SELECT ` + bookingColumns + bookingFrom
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY b.date DESC, b.start_time DESC, b.id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// ActiveBookingsOn returns pending and confirmed bookings of a service type on a date.
func (db *DB) ActiveBookingsOn(ctx context.Context, serviceTypeID int64, date models.Date) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+bookingColumns+bookingFrom+`
		WHERE b.service_type_id = ? AND b.date = ? AND b.status IN `+activeStatusList+`
		ORDER BY b.start_time`, serviceTypeID, date)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateBooking inserts a pending booking if its interval is free, together
// with the outbox tasks built by effects. The overlap check and the partial
// unique index both map to domain.ErrSlotUnavailable.
func (db *DB) CreateBooking(ctx context.Context, b *models.Booking, effects Effects) ([]*models.OutboxTask, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	conflict, err := hasConflict(ctx, tx, b.ServiceTypeID, b.Date, b.StartTime, b.EndTime, 0)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, fmt.Errorf("%s %s-%s: %w", b.Date, b.StartTime, b.EndTime, domain.ErrSlotUnavailable)
	}

	now := time.Now().UTC()
	b.Status = models.StatusPending
	b.CreatedAt, b.UpdatedAt, b.Version = now, now, 1

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (
			service_type_id, client_name, client_email, client_phone, date, start_time, end_time,
			status, notes, internal_notes, created_at, updated_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ServiceTypeID, b.ClientName, b.ClientEmail, b.ClientPhone, b.Date, b.StartTime, b.EndTime,
		b.Status, b.Notes, b.InternalNotes, b.CreatedAt, b.UpdatedAt, b.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%s %s: %w", b.Date, b.StartTime, domain.ErrSlotUnavailable)
		}
		return nil, fmt.Errorf("insert booking: %w", err)
	}
	if b.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("get last id: %w", err)
	}

	tasks, err := applyEffects(ctx, tx, b, effects)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return tasks, nil
}

// Transition describes a status change guarded by the current status.
type Transition struct {
	Action         string
	From           []string
	To             string
	InternalNotes  *string
	RejectedReason *string
}

// TransitionBooking performs a compare-and-swap on status. When no row matches,
// the booking is either missing (ErrNotFound) or in another status
// (ErrInvalidTransition). Effects see the post-transition snapshot.
func (db *DB) TransitionBooking(ctx context.Context, id int64, tr Transition, effects Effects) (*models.Booking, []*models.OutboxTask, error) {
	if len(tr.From) == 0 {
		return nil, nil, fmt.Errorf("transition %s: no source status", tr.Action)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	sets := []string{"status = ?", "updated_at = ?", "version = version + 1"}
	args := []any{tr.To, now}
	switch tr.To {
	case models.StatusConfirmed:
		sets = append(sets, "confirmed_at = ?")
		args = append(args, now)
	case models.StatusRejected:
		sets = append(sets, "rejected_at = ?")
		args = append(args, now)
	case models.StatusCancelled:
		sets = append(sets, "cancelled_at = ?")
		args = append(args, now)
	}
	if tr.InternalNotes != nil {
		sets = append(sets, "internal_notes = ?")
		args = append(args, *tr.InternalNotes)
	}
	if tr.RejectedReason != nil {
		sets = append(sets, "rejected_reason = ?")
		args = append(args, *tr.RejectedReason)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tr.From)), ", ")
	args = append(args, id)
	for _, s := range tr.From {
		args = append(args, s)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("booking %d: %w", id, domain.ErrSlotUnavailable)
		}
		return nil, nil, fmt.Errorf("update booking status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		current, err := getBooking(ctx, tx, id)
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, &domain.TransitionError{From: current.Status, Action: tr.Action}
	}

	b, err := getBooking(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := applyEffects(ctx, tx, b, effects)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return b, tasks, nil
}

// UpdateBooking loads the booking inside a write transaction, lets mutate
// change it, re-checks the slot when the booking is active, and saves it.
func (db *DB) UpdateBooking(ctx context.Context, id int64, mutate func(b *models.Booking) error, effects Effects) (*models.Booking, []*models.OutboxTask, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := getBooking(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	version := b.Version
	if err := mutate(b); err != nil {
		return nil, nil, err
	}

	if b.IsActive() {
		conflict, err := hasConflict(ctx, tx, b.ServiceTypeID, b.Date, b.StartTime, b.EndTime, b.ID)
		if err != nil {
			return nil, nil, err
		}
		if conflict {
			return nil, nil, fmt.Errorf("%s %s-%s: %w", b.Date, b.StartTime, b.EndTime, domain.ErrSlotUnavailable)
		}
	}

	b.UpdatedAt = time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE bookings SET
			client_name = ?, client_email = ?, client_phone = ?, date = ?, start_time = ?, end_time = ?,
			notes = ?, internal_notes = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		b.ClientName, b.ClientEmail, b.ClientPhone, b.Date, b.StartTime, b.EndTime,
		b.Notes, b.InternalNotes, b.UpdatedAt, b.ID, version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, fmt.Errorf("%s %s: %w", b.Date, b.StartTime, domain.ErrSlotUnavailable)
		}
		return nil, nil, fmt.Errorf("update booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, fmt.Errorf("update booking %d: concurrent modification", id)
	}
	b.Version = version + 1

	tasks, err := applyEffects(ctx, tx, b, effects)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return b, tasks, nil
}

// SetCalendarEventID stores the external event id. It reports false when the
// booking no longer exists.
func (db *DB) SetCalendarEventID(ctx context.Context, id int64, eventID string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE bookings SET calendar_event_id = ?, updated_at = ? WHERE id = ?`,
		nullString(eventID), time.Now().UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("set calendar event id: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteBooking removes the booking and records the effects built from its
// final snapshot in the same transaction.
func (db *DB) DeleteBooking(ctx context.Context, id int64, effects Effects) (*models.Booking, []*models.OutboxTask, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	b, err := getBooking(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ?`, id); err != nil {
		return nil, nil, fmt.Errorf("delete booking %d: %w", id, err)
	}

	tasks, err := applyEffects(ctx, tx, b, effects)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return b, tasks, nil
}

func applyEffects(ctx context.Context, tx *sql.Tx, b *models.Booking, effects Effects) ([]*models.OutboxTask, error) {
	if effects == nil {
		return nil, nil
	}
	tasks := effects(b)
	if err := insertTasks(ctx, tx, b.ID, tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}
