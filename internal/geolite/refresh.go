package geolite

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
)

const fallbackRefreshEvery = 7 * 24 * time.Hour

// StartRefreshRoutine downloads a fresh country database on every tick and
// swaps it into reader. interval is consulted after each run so settings
// changes apply without a restart.
func StartRefreshRoutine(ctx context.Context, updater *Updater, reader *Reader, interval func() time.Duration) {
	if updater == nil || reader == nil {
		return
	}

	current := refreshInterval(interval)
	ticker := time.NewTicker(current)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			Refresh(ctx, updater, reader, "scheduled")
			if next := refreshInterval(interval); next != current {
				current = next
				ticker.Reset(current)
			}
		}
	}
}

// Refresh runs one download and reload cycle.
func Refresh(ctx context.Context, updater *Updater, reader *Reader, reason string) {
	err := updater.Download(ctx, reader.path)
	switch {
	case errors.Is(err, ErrNoLicenseKey):
		log.Debug("GeoLite refresh skipped: license key missing", "reason", reason)
		return
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		log.Error("GeoLite refresh failed", "reason", reason, "error", err)
		return
	}

	if err := reader.Reload(); err != nil {
		log.Error("GeoLite reload failed", "reason", reason, "error", err)
		return
	}
	log.Info("GeoLite database refreshed", "reason", reason)
}

func refreshInterval(interval func() time.Duration) time.Duration {
	if interval == nil {
		return fallbackRefreshEvery
	}
	if d := interval(); d > 0 {
		return d
	}
	return fallbackRefreshEvery
}
