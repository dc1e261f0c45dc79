package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchCatalog loads catalog.yaml, calls onUpdate with it and then polls the
// file every interval. A reload is applied only when the file content hashes
// differently and the parsed catalog differs from the last applied one; each
// applied reload is logged with a summary of what changed. Invalid edits are
// logged and skipped, keeping the previous catalog in effect.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*CatalogConfig)) error {
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog config: %w", err)
	}
	current, err := ParseCatalogConfig(data)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(current)
	}
	logger.Info().Str("path", path).Str("catalog", current.String()).Msg("Catalog loaded")

	w := &catalogWatcher{path: path, logger: logger, onUpdate: onUpdate, current: current, sum: sha256.Sum256(data)}
	if info, err := os.Stat(path); err == nil {
		w.modTime = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check()
			}
		}
	}()

	return nil
}

type catalogWatcher struct {
	path     string
	logger   *zerolog.Logger
	onUpdate func(*CatalogConfig)

	current *CatalogConfig
	sum     [sha256.Size]byte
	modTime time.Time
}

// check reloads the file if it changed since the last call and reports
// whether onUpdate ran.
func (w *catalogWatcher) check() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Catalog file unavailable")
		return false
	}
	if info.ModTime().Equal(w.modTime) {
		return false
	}
	w.modTime = info.ModTime()

	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Failed to read catalog file")
		return false
	}
	sum := sha256.Sum256(data)
	if sum == w.sum {
		w.logger.Debug().Str("path", w.path).Msg("Catalog file touched, content unchanged")
		return false
	}
	w.sum = sum

	next, err := ParseCatalogConfig(data)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("Catalog reload rejected, keeping previous catalog")
		return false
	}

	diff := next.Diff(w.current)
	if diff.Empty() {
		w.logger.Debug().Str("path", w.path).Msg("Catalog file rewritten without effective changes")
		return false
	}

	w.logger.Info().
		Str("path", w.path).
		Ints64("added", diff.Added).
		Ints64("removed", diff.Removed).
		Ints64("changed", diff.Changed).
		Bool("hours_changed", diff.HoursChanged).
		Bool("holidays_changed", diff.HolidaysChanged).
		Msg("Catalog changed, reloading")

	w.current = next
	if w.onUpdate != nil {
		w.onUpdate(next)
	}
	return true
}
