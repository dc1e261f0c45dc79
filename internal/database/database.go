package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB wraps sql.DB for the booking engine.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Immediate transactions take the write lock up front, so concurrent
	// writers queue on busy_timeout instead of failing on lock upgrade.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, path: path, logger: logger}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS service_types (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			slug TEXT UNIQUE NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
			color TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			display_order INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_service_types_order ON service_types(is_active, display_order, id)`,

		`CREATE TABLE IF NOT EXISTS working_hours (
			day_of_week INTEGER PRIMARY KEY CHECK (day_of_week BETWEEN 0 AND 6),
			is_working_day BOOLEAN NOT NULL DEFAULT 0,
			open_time TEXT,
			close_time TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS date_blocks (
			date TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'admin',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS time_range_blocks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			service_type_id INTEGER,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			CHECK (start_time < end_time),
			FOREIGN KEY (service_type_id) REFERENCES service_types(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_time_range_blocks_date ON time_range_blocks(date)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_type_id INTEGER NOT NULL,
			client_name TEXT NOT NULL,
			client_email TEXT NOT NULL,
			client_phone TEXT NOT NULL DEFAULT '',
			date TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			notes TEXT NOT NULL DEFAULT '',
			internal_notes TEXT NOT NULL DEFAULT '',
			rejected_reason TEXT NOT NULL DEFAULT '',
			calendar_event_id TEXT,
			confirmed_at DATETIME,
			rejected_at DATETIME,
			cancelled_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			version INTEGER NOT NULL DEFAULT 1,
			CHECK (start_time < end_time),
			FOREIGN KEY (service_type_id) REFERENCES service_types(id)
		)`,
		// At most one active booking may start at a given time for a service type.
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_active_slot
			ON bookings(service_type_id, date, start_time)
			WHERE status IN ` + activeStatusList,
		`CREATE INDEX IF NOT EXISTS idx_bookings_type_date_status ON bookings(service_type_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,

		`CREATE TABLE IF NOT EXISTS outbox_tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT UNIQUE NOT NULL,
			task_type TEXT NOT NULL,
			booking_id INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			next_attempt_at INTEGER NOT NULL,
			locked_at INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			processed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_tasks_due ON outbox_tasks(status, next_attempt_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_tasks_booking ON outbox_tasks(booking_id)`,

		`CREATE TABLE IF NOT EXISTS notification_subscribers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			channel TEXT NOT NULL,
			address TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'admin',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (kind, channel, address)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_subscribers_kind ON notification_subscribers(kind)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the first schema version.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE service_types ADD COLUMN color TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE bookings ADD COLUMN internal_notes TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE outbox_tasks ADD COLUMN locked_at INTEGER`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			return fmt.Errorf("migration %q: %w", m, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
