package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"warden/internal/support"
)

type Config struct {
	Reputation struct {
		BaseURL string `json:"base_url"`
		APIKey  string `json:"api_key"`
		Timeout uint32 `json:"timeout"`
	} `json:"reputation"`

	Scanner struct {
		BaseURL     string `json:"base_url"`
		SubmitPath  string `json:"submit_path"`
		ResultPath  string `json:"result_path"`
		PollTimer   Timer  `json:"poll_timer"`
		MaxAttempts uint32 `json:"max_attempts"`
		Timeout     uint32 `json:"timeout"`
	} `json:"scanner"`

	Blocking struct {
		Sources      []string `json:"sources"`
		RefreshTimer Timer    `json:"refresh_timer"`
	} `json:"blocking"`

	Report struct {
		Recipient     string `json:"recipient"`
		SubjectPrefix string `json:"subject_prefix"`
	} `json:"report"`

	GeoLite struct {
		DatabasePath string `json:"database_path"`
		LicenseKey   string `json:"license_key"`
		RefreshTimer Timer  `json:"refresh_timer"`
	} `json:"geolite"`

	Browser struct {
		Enabled    bool   `json:"enabled"`
		ControlURL string `json:"control_url"`
		Headless   bool   `json:"headless"`
		StartURL   string `json:"start_url"`
	} `json:"browser"`

	WebsiteBlocklist []string `json:"website_blocklist"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue  atomic.Value
	settingsPath atomic.Value
	configMu     sync.Mutex
)

func init() {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		panic("config: embedded default settings are invalid: " + err.Error())
	}
	configValue.Store(cfg)
	settingsPath.Store(defaultSettingsFilePath)
}

// DefaultConfig returns the embedded defaults.
func DefaultConfig() Config {
	var cfg Config
	_ = json.Unmarshal(defaultConfig, &cfg)
	return cfg
}

func SetSettingsPath(path string) {
	if strings.TrimSpace(path) == "" {
		return
	}
	settingsPath.Store(path)
}

func SettingsPath() string {
	return settingsPath.Load().(string)
}

// ReadSettings loads the settings file, writing the embedded defaults first if it does not exist.
func ReadSettings() error {
	path := SettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		log.Warn("Settings file not found, creating with default configuration", "path", path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return err
		}
		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return err
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

func SetConfig(newConfig Config) {
	if err := applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"}); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return
	}

	log.Debug("Configuration updated and written to file successfully")
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	updateWebsiteBlocklist(newConfig.WebsiteBlocklist)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, err)
		} else {
			markSelfWrite()
			if err := os.WriteFile(SettingsPath(), data, 0o644); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, err)
		} else if err := broadcastConfigUpdate(payload); err != nil {
			errs = append(errs, err)
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// ReputationAPIKey prefers the IPQS_API_KEY environment variable over the settings file.
func ReputationAPIKey() string {
	return support.GetEnv("IPQS_API_KEY", GetConfig().Reputation.APIKey)
}

// ScanMaxAttempts is the poll limit for new scan jobs; zero means the scanner default.
func ScanMaxAttempts() int {
	return int(GetConfig().Scanner.MaxAttempts)
}

// GeoLiteLicenseKey prefers the GEOLITE_LICENSE_KEY environment variable over the settings file.
func GeoLiteLicenseKey() string {
	return support.GetEnv("GEOLITE_LICENSE_KEY", GetConfig().GeoLite.LicenseKey)
}
