package database

import (
	"context"
	"fmt"

	"studiobook/internal/config"
	"studiobook/internal/models"
)

// SyncCatalogFromConfig applies catalog.yaml to the database in one transaction.
// It upserts service types, deactivates the ones missing from the file,
// rewrites the weekly hours and blocks configured holidays. Any failure
// leaves the stored catalog untouched.
func (db *DB) SyncCatalogFromConfig(ctx context.Context, cfg *config.CatalogConfig) error {
	if cfg == nil {
		return fmt.Errorf("catalog config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	seen := make(map[int64]struct{}, len(cfg.ServiceTypes))
	for _, st := range cfg.ServiceTypes {
		if err := db.upsertServiceType(ctx, tx, &models.ServiceType{
			ID:              st.ID,
			Name:            st.Name,
			Slug:            st.Slug,
			Description:     st.Description,
			DurationMinutes: st.DurationMinutes,
			Color:           st.Color,
			IsActive:        st.IsActive,
			DisplayOrder:    st.DisplayOrder,
		}); err != nil {
			return fmt.Errorf("sync service type %d: %w", st.ID, err)
		}
		seen[st.ID] = struct{}{}
	}

	if err := deactivateServiceTypesExcept(ctx, tx, seen); err != nil {
		return err
	}

	for _, wh := range cfg.WeeklyHours() {
		if err := upsertWorkingHours(ctx, tx, wh); err != nil {
			return err
		}
	}

	for _, h := range cfg.Holidays {
		date, err := models.ParseDate(h.Date)
		if err != nil {
			return fmt.Errorf("parse holiday %s: %w", h.Date, err)
		}
		if err := addDateBlock(ctx, tx, date, h.Name, "config"); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog sync: %w", err)
	}
	return nil
}

// SyncSubscribersFromConfig seeds admin notification subscribers.
func (db *DB) SyncSubscribersFromConfig(ctx context.Context, admins []config.AdminConfig, allKinds []string) error {
	var subs []models.Subscriber
	for _, a := range admins {
		kinds := a.Kinds
		if len(kinds) == 0 {
			kinds = allKinds
		}
		for _, kind := range kinds {
			if a.Email != "" {
				subs = append(subs, models.Subscriber{Kind: kind, Channel: models.ChannelEmail, Address: a.Email, Name: a.Name})
			}
			if a.TelegramChatID != 0 {
				subs = append(subs, models.Subscriber{
					Kind: kind, Channel: models.ChannelTelegram, Address: fmt.Sprintf("%d", a.TelegramChatID), Name: a.Name,
				})
			}
		}
	}
	return db.ReplaceConfigSubscribers(ctx, subs)
}
