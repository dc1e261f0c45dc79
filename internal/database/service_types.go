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

const serviceTypeColumns = `id, name, slug, description, duration_minutes, color, is_active, display_order, created_at, updated_at`

func scanServiceType(row rowScanner) (*models.ServiceType, error) {
	var st models.ServiceType
	if err := row.Scan(&st.ID, &st.Name, &st.Slug, &st.Description, &st.DurationMinutes,
		&st.Color, &st.IsActive, &st.DisplayOrder, &st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListServiceTypes returns service types ordered for display.
func (db *DB) ListServiceTypes(ctx context.Context, activeOnly bool) ([]models.ServiceType, error) {
	query := `SELECT ` + serviceTypeColumns + ` FROM service_types`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY display_order, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list service types: %w", err)
	}
	defer rows.Close()

	var out []models.ServiceType
	for rows.Next() {
		st, err := scanServiceType(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service type: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// GetServiceType returns a service type regardless of its active flag.
func (db *DB) GetServiceType(ctx context.Context, id int64) (*models.ServiceType, error) {
	st, err := scanServiceType(db.QueryRowContext(ctx,
		`SELECT `+serviceTypeColumns+` FROM service_types WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError("service type", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get service type %d: %w", id, err)
	}
	return st, nil
}

// UpsertServiceType inserts or updates a service type by id, preserving created_at.
// Once bookings reference a type its slug and duration are frozen; a differing
// value is ignored with a warning and st is updated to the stored value.
func (db *DB) UpsertServiceType(ctx context.Context, st *models.ServiceType) error {
	return db.upsertServiceType(ctx, db, st)
}

func (db *DB) upsertServiceType(ctx context.Context, q queryer, st *models.ServiceType) error {
	var (
		slug     string
		duration int
		booked   bool
	)
	err := q.QueryRowContext(ctx, `
		SELECT slug, duration_minutes, EXISTS (SELECT 1 FROM bookings WHERE service_type_id = service_types.id)
		FROM service_types WHERE id = ?`, st.ID,
	).Scan(&slug, &duration, &booked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("load service type %d: %w", st.ID, err)
	}
	if booked && (slug != st.Slug || duration != st.DurationMinutes) {
		db.logger.Warn().
			Int64("service_type_id", st.ID).
			Str("slug", slug).Str("requested_slug", st.Slug).
			Int("duration_minutes", duration).Int("requested_duration_minutes", st.DurationMinutes).
			Msg("Service type has bookings, keeping stored slug and duration")
		st.Slug, st.DurationMinutes = slug, duration
	}

	now := time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO service_types (id, name, slug, description, duration_minutes, color, is_active, display_order, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			description = excluded.description,
			duration_minutes = excluded.duration_minutes,
			color = excluded.color,
			is_active = excluded.is_active,
			display_order = excluded.display_order,
			updated_at = excluded.updated_at`,
		st.ID, st.Name, st.Slug, st.Description, st.DurationMinutes, st.Color,
		boolToInt(st.IsActive), st.DisplayOrder, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewValidationError("slug", fmt.Sprintf("slug %q is already used", st.Slug))
		}
		return fmt.Errorf("upsert service type %d: %w", st.ID, err)
	}
	st.UpdatedAt = now
	return nil
}

// DeactivateServiceTypesExcept marks every service type not in keep inactive.
func (db *DB) DeactivateServiceTypesExcept(ctx context.Context, keep map[int64]struct{}) error {
	return deactivateServiceTypesExcept(ctx, db, keep)
}

func deactivateServiceTypesExcept(ctx context.Context, q queryer, keep map[int64]struct{}) error {
	rows, err := q.QueryContext(ctx, `SELECT id FROM service_types WHERE is_active = 1`)
	if err != nil {
		return err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, id := range stale {
		if _, err := q.ExecContext(ctx, `UPDATE service_types SET is_active = 0, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("deactivate service type %d: %w", id, err)
		}
	}
	return nil
}
