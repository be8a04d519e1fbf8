package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

const (
	settingsReloadDebounce = 200 * time.Millisecond
	selfWriteGrace         = time.Second
)

var lastSelfWrite atomic.Int64

func markSelfWrite() {
	lastSelfWrite.Store(time.Now().UnixNano())
}

func isRecentSelfWrite(now time.Time) bool {
	last := lastSelfWrite.Load()
	return last != 0 && now.Sub(time.Unix(0, last)) < selfWriteGrace
}

// WatchSettings reloads the settings file whenever it changes on disk until ctx is done.
func WatchSettings(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating settings watcher: %w", err)
	}

	path, err := filepath.Abs(SettingsPath())
	if err != nil {
		_ = watcher.Close()
		return err
	}

	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching settings directory: %w", err)
	}

	go func() {
		defer watcher.Close()

		var reload <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isSettingsEvent(event, path) {
					continue
				}
				reload = time.After(settingsReloadDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("Settings watcher error", "error", err)
			case <-reload:
				reload = nil
				if isRecentSelfWrite(time.Now()) {
					continue
				}
				if err := ReadSettings(); err != nil {
					log.Error("Failed to reload settings", "error", err)
					continue
				}
				log.Info("Settings reloaded", "path", path)
			}
		}
	}()

	return nil
}

func isSettingsEvent(event fsnotify.Event, path string) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return name == path
}
