package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func withSettingsPath(t *testing.T) string {
	t.Helper()
	origCfg := GetConfig()
	origPath := SettingsPath()
	t.Cleanup(func() {
		settingsPath.Store(origPath)
		configValue.Store(origCfg)
		updateWebsiteBlocklist(origCfg.WebsiteBlocklist)
		SetBetweenTime()
	})

	path := filepath.Join(t.TempDir(), "data", "settings.json")
	SetSettingsPath(path)
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Scanner.MaxAttempts != 20 {
		t.Fatalf("MaxAttempts = %d, want 20", cfg.Scanner.MaxAttempts)
	}
	if got := calculatePollDelay(cfg); got != 3*time.Second {
		t.Fatalf("poll delay = %s, want 3s", got)
	}
	if cfg.Report.Recipient == "" {
		t.Fatal("default report recipient is empty")
	}
}

func TestReadSettingsCreatesDefaults(t *testing.T) {
	path := withSettingsPath(t)

	if err := ReadSettings(); err != nil {
		t.Fatalf("ReadSettings returned error: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("settings file was not created: %v", err)
	}
	if GetConfig().Scanner.BaseURL == "" {
		t.Fatal("scanner base url was not loaded")
	}
}

func TestReadSettingsAppliesFile(t *testing.T) {
	path := withSettingsPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}

	content := `{"scanner":{"max_attempts":5,"poll_timer":{"seconds":2}},"website_blocklist":["Bad.example"]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ReadSettings(); err != nil {
		t.Fatalf("ReadSettings returned error: %v", err)
	}

	if got := GetConfig().Scanner.MaxAttempts; got != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", got)
	}
	if got := GetPollDelay(); got != 2*time.Second {
		t.Fatalf("GetPollDelay = %s, want 2s", got)
	}
	if !IsWebsiteBlocked("https://www.bad.example/") {
		t.Fatal("website blocklist from settings file was not applied")
	}
}

func TestReadSettingsInvalidJSON(t *testing.T) {
	path := withSettingsPath(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ReadSettings(); err == nil {
		t.Fatal("expected error for invalid settings file")
	}
}

func TestReputationAPIKeyPrefersEnv(t *testing.T) {
	t.Setenv("IPQS_API_KEY", "from-env")
	if got := ReputationAPIKey(); got != "from-env" {
		t.Fatalf("ReputationAPIKey = %q, want from-env", got)
	}
}

func TestIsSettingsEvent(t *testing.T) {
	path, _ := filepath.Abs(filepath.Join("data", "settings.json"))

	if !isSettingsEvent(fsnotify.Event{Name: path, Op: fsnotify.Write}, path) {
		t.Fatal("write to settings file should trigger a reload")
	}
	if isSettingsEvent(fsnotify.Event{Name: path, Op: fsnotify.Chmod}, path) {
		t.Fatal("chmod should not trigger a reload")
	}
	if isSettingsEvent(fsnotify.Event{Name: path + ".swp", Op: fsnotify.Write}, path) {
		t.Fatal("other files should not trigger a reload")
	}
}
