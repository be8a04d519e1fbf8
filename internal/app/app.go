package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"warden/internal/app/server"
	"warden/internal/blocker"
	"warden/internal/broker"
	"warden/internal/browse"
	"warden/internal/config"
	"warden/internal/geolite"
	"warden/internal/reputation"
	"warden/internal/scan"
	"warden/internal/support"
)

const defaultPort = 8085

type options struct {
	port         int
	forceBrowser bool
	remote       bool
}

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	portFlag := flag.Int("port", defaultPort, "Port for the API server")
	settingsFlag := flag.String("settings", "", "Path of the settings file")
	browserFlag := flag.Bool("browser", false, "Launch the browsing agent regardless of settings")
	remoteFlag := flag.Bool("remote", false, "Forward reputation records to a central broker over Redis")
	logLevelFlag := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	log.SetLevel(resolveLogLevel(*logLevelFlag))

	port := resolvePort("WARDEN_PORT", "PORT", *portFlag)
	config.SetSettingsPath(support.GetEnv("WARDEN_SETTINGS", *settingsFlag))

	if err := config.ReadSettings(); err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, options{port: port, forceBrowser: *browserFlag, remote: *remoteFlag})
}

func serve(ctx context.Context, opts options) error {
	cfg := config.GetConfig()
	g, ctx := errgroup.WithContext(ctx)

	var redisClient *redis.Client
	if support.RedisConfigured() {
		client, err := support.GetRedisClient()
		if err != nil {
			log.Warn("Redis unavailable, running standalone", "error", err)
		} else {
			redisClient = client
			config.EnableRedisSynchronization(ctx, client)
			defer config.DisableRedisSynchronization()
			defer func() {
				if err := support.CloseRedisClient(); err != nil {
					log.Warn("Error closing redis client", "error", err)
				}
			}()
		}
	}
	if opts.remote && redisClient == nil {
		return errors.New("remote mode requires a reachable redis instance")
	}

	geo := openGeoLite(ctx, cfg.GeoLite.DatabasePath)
	defer geo.Close()

	engine := blocker.New(blocker.Config{})
	stateBroker := broker.New(engine)

	var notifier reputation.Notifier = reputation.LogNotifier{}
	var agent *browse.Agent
	if cfg.Browser.Enabled || opts.forceBrowser {
		agent = browse.New(browse.Config{
			ControlURL: cfg.Browser.ControlURL,
			Headless:   cfg.Browser.Headless,
			StartURL:   cfg.Browser.StartURL,
		}, engine)
		notifier = agent
	}

	var forwarder reputation.Forwarder = stateBroker
	if opts.remote {
		forwarder = broker.NewRedisForwarder(redisClient)
		log.Info("Forwarding reputation records to the central broker", "channel", broker.InboxChannel)
	}

	var countries reputation.CountryResolver
	if geo != nil {
		countries = geo
	}

	collector := reputation.NewCollector(reputation.CollectorConfig{
		Lookup: reputation.NewClient(reputation.ClientConfig{
			BaseURL:    cfg.Reputation.BaseURL,
			APIKeyFunc: config.ReputationAPIKey,
			Timeout:    millis(cfg.Reputation.Timeout),
		}),
		Forwarder: forwarder,
		Notifier:  notifier,
		Geo:       countries,
		Flagged:   config.IsWebsiteBlocked,
	})
	if agent != nil {
		agent.SetCollector(collector)
	}

	poller := scan.NewPoller(scan.NewClient(scan.ClientConfig{
		BaseURL:    cfg.Scanner.BaseURL,
		SubmitPath: cfg.Scanner.SubmitPath,
		ResultPath: cfg.Scanner.ResultPath,
		Timeout:    millis(cfg.Scanner.Timeout),
	}), scan.PollerConfig{
		DelayFunc:       config.GetPollDelay,
		MaxAttemptsFunc: config.ScanMaxAttempts,
	})
	scans := scan.NewRegistry(poller)
	defer scans.Wait()

	api := server.New(ctx, server.Dependencies{
		Broker:    stateBroker,
		Collector: collector,
		Scans:     scans,
		Blocker:   engine,
		Blocklist: engine,
	})

	g.Go(func() error { return ignoreCanceled(stateBroker.Run(ctx)) })
	g.Go(func() error {
		engine.StartRefreshRoutine(ctx)
		return nil
	})
	if key := config.GeoLiteLicenseKey(); key != "" && geo != nil {
		updater := geolite.NewUpdater(key)
		g.Go(func() error {
			geolite.StartRefreshRoutine(ctx, updater, geo, config.GetGeoLiteRefreshInterval)
			return nil
		})
	}
	g.Go(func() error {
		if err := config.WatchSettings(ctx); err != nil {
			log.Warn("Settings hot reload disabled", "error", err)
		}
		return nil
	})

	if redisClient != nil && !opts.remote {
		relay := broker.NewRelay(redisClient, stateBroker)
		g.Go(func() error { return ignoreCanceled(relay.Run(ctx)) })
	}

	if agent != nil {
		g.Go(func() error {
			if err := agent.Run(ctx); err != nil {
				log.Error("Browsing agent stopped", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error { return api.ListenAndServe(ctx, opts.port) })

	err := g.Wait()
	log.Info("Warden stopped")
	return err
}

// openGeoLite opens the country database, downloading it first when a
// license key is configured. A nil reader resolves every address to "N/A".
func openGeoLite(ctx context.Context, path string) *geolite.Reader {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	if key := config.GeoLiteLicenseKey(); key != "" {
		downloadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if _, err := geolite.NewUpdater(key).EnsureDatabase(downloadCtx, path); err != nil {
			log.Warn("GeoLite download failed", "error", err)
		}
	}

	reader, err := geolite.Open(path)
	if err != nil {
		log.Warn("GeoLite country lookups disabled", "error", err)
		return nil
	}
	return reader
}

func millis(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resolveLogLevel(flagValue string) log.Level {
	raw := flagValue
	if raw == "" {
		raw = support.GetEnv("LOG_LEVEL", "info")
	}
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		log.Warn("invalid log level, using info", "value", raw)
		return log.InfoLevel
	}
	return level
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
