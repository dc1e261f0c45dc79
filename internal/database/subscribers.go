package database

import (
	"context"
	"fmt"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/models"
)

// ListSubscribers returns the recipients of one notification kind.
func (db *DB) ListSubscribers(ctx context.Context, kind string) ([]models.Subscriber, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, kind, channel, address, name, created_at FROM notification_subscribers WHERE kind = ? ORDER BY id`,
		kind,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscribers for %s: %w", kind, err)
	}
	defer rows.Close()

	var out []models.Subscriber
	for rows.Next() {
		var s models.Subscriber
		if err := rows.Scan(&s.ID, &s.Kind, &s.Channel, &s.Address, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AddSubscriber registers a recipient. Adding an existing one is a no-op.
func (db *DB) AddSubscriber(ctx context.Context, s *models.Subscriber) error {
	return db.addSubscriber(ctx, db, s, "admin")
}

func (db *DB) addSubscriber(ctx context.Context, q queryer, s *models.Subscriber, source string) error {
	s.CreatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO notification_subscribers (kind, channel, address, name, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, channel, address) DO UPDATE SET name = excluded.name`,
		s.Kind, s.Channel, s.Address, s.Name, source, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add subscriber: %w", err)
	}
	return nil
}

// RemoveSubscriber deletes a recipient by id.
func (db *DB) RemoveSubscriber(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM notification_subscribers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove subscriber %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.NotFoundError("subscriber", id)
	}
	return nil
}

// ReplaceConfigSubscribers swaps the config-sourced subscribers for subs,
// leaving the ones added at runtime untouched.
func (db *DB) ReplaceConfigSubscribers(ctx context.Context, subs []models.Subscriber) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM notification_subscribers WHERE source = 'config'`); err != nil {
		return fmt.Errorf("clear config subscribers: %w", err)
	}
	for i := range subs {
		if err := db.addSubscriber(ctx, tx, &subs[i], "config"); err != nil {
			return err
		}
	}
	return tx.Commit()
}
