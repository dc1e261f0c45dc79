package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"studiobook/internal/models"

	"github.com/google/uuid"
)

// staleLock is how long a claimed task may stay in processing before it is
// considered abandoned by a crashed worker.
const staleLock = 5 * time.Minute

const outboxColumns = `id, uuid, task_type, booking_id, payload, status, attempts, last_error, next_attempt_at, created_at, processed_at`

func scanTask(row rowScanner) (*models.OutboxTask, error) {
	var t models.OutboxTask
	var nextAttempt int64
	var processedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.UUID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status,
		&t.Attempts, &t.LastError, &nextAttempt, &t.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	t.NextAttemptAt = time.Unix(nextAttempt, 0).UTC()
	t.ProcessedAt = nullTimePtr(processedAt)
	return &t, nil
}

func insertTasks(ctx context.Context, q queryer, bookingID int64, tasks []*models.OutboxTask) error {
	now := time.Now().UTC()
	for _, t := range tasks {
		if t.UUID == "" {
			t.UUID = uuid.NewString()
		}
		if t.BookingID == 0 {
			t.BookingID = bookingID
		}
		if t.NextAttemptAt.IsZero() {
			t.NextAttemptAt = now
		}
		t.Status = models.TaskStatusPending
		t.CreatedAt = now

		res, err := q.ExecContext(ctx, `
			INSERT INTO outbox_tasks (uuid, task_type, booking_id, payload, status, attempts, next_attempt_at, created_at)
			VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
			t.UUID, t.TaskType, t.BookingID, t.Payload, t.Status, t.NextAttemptAt.Unix(), t.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("enqueue %s task: %w", t.TaskType, err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("get task id: %w", err)
		}
	}
	return nil
}

// EnqueueTasks records tasks outside a booking write, e.g. admin retries.
func (db *DB) EnqueueTasks(ctx context.Context, tasks ...*models.OutboxTask) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertTasks(ctx, tx, 0, tasks); err != nil {
		return err
	}
	return tx.Commit()
}

// ClaimDueTasks moves up to limit due tasks to processing and returns them.
// Tasks stuck in processing past the stale lock window are reclaimed.
func (db *DB) ClaimDueTasks(ctx context.Context, now time.Time, limit int) ([]models.OutboxTask, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id FROM outbox_tasks
		WHERE (status = 'pending' AND next_attempt_at <= ?)
		   OR (status = 'processing' AND locked_at < ?)
		ORDER BY next_attempt_at, id
		LIMIT ?`,
		now.Unix(), now.Add(-staleLock).Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return db.claim(ctx, now, ids, true)
}

// ClaimTasks claims specific pending tasks regardless of their due time.
func (db *DB) ClaimTasks(ctx context.Context, ids []int64) ([]models.OutboxTask, error) {
	return db.claim(ctx, time.Now().UTC(), ids, false)
}

func (db *DB) claim(ctx context.Context, now time.Time, ids []int64, allowStale bool) ([]models.OutboxTask, error) {
	var claimed []models.OutboxTask
	for _, id := range ids {
		cond := `status = 'pending'`
		args := []any{now.Unix(), id}
		if allowStale {
			cond = `(status = 'pending' OR (status = 'processing' AND locked_at < ?))`
			args = append(args, now.Add(-staleLock).Unix())
		}

		res, err := db.ExecContext(ctx,
			`UPDATE outbox_tasks SET status = 'processing', locked_at = ? WHERE id = ? AND `+cond, args...)
		if err != nil {
			return claimed, fmt.Errorf("claim task %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		t, err := db.GetTask(ctx, id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, *t)
	}
	return claimed, nil
}

// GetTask returns a task by id.
func (db *DB) GetTask(ctx context.Context, id int64) (*models.OutboxTask, error) {
	t, err := scanTask(db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox_tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

// CompleteTask marks a claimed task done.
func (db *DB) CompleteTask(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_tasks SET status = 'done', attempts = attempts + 1, last_error = '', processed_at = ?, locked_at = NULL
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete task %d: %w", id, err)
	}
	return nil
}

// RetryTask records a failed attempt and schedules the next one.
func (db *DB) RetryTask(ctx context.Context, id int64, lastErr string, next time.Time) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_tasks SET status = 'pending', attempts = attempts + 1, last_error = ?, next_attempt_at = ?, locked_at = NULL
		WHERE id = ?`, lastErr, next.Unix(), id)
	if err != nil {
		return fmt.Errorf("retry task %d: %w", id, err)
	}
	return nil
}

// FailTask gives up on a task.
func (db *DB) FailTask(ctx context.Context, id int64, lastErr string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE outbox_tasks SET status = 'failed', attempts = attempts + 1, last_error = ?, processed_at = ?, locked_at = NULL
		WHERE id = ?`, lastErr, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("fail task %d: %w", id, err)
	}
	return nil
}

// ListTasks returns tasks in the given statuses, oldest first.
func (db *DB) ListTasks(ctx context.Context, bookingID int64, statuses ...string) ([]models.OutboxTask, error) {
	var where []string
	var args []any
	if bookingID > 0 {
		where = append(where, "booking_id = ?")
		args = append(args, bookingID)
	}
	if len(statuses) > 0 {
		where = append(where, "status IN ("+strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")+")")
		for _, s := range statuses {
			args = append(args, s)
		}
	}
	query := `SELECT ` + outboxColumns + ` FROM outbox_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []models.OutboxTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountPendingTasks returns the number of tasks waiting for delivery.
func (db *DB) CountPendingTasks(ctx context.Context) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_tasks WHERE status IN ('pending', 'processing')`).Scan(&n)
	return n, err
}

// DeleteFinishedTasks removes done tasks processed before cutoff.
func (db *DB) DeleteFinishedTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM outbox_tasks WHERE status = 'done' AND processed_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	return res.RowsAffected()
}
