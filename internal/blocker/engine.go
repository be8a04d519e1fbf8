package blocker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"warden/internal/config"
	"warden/internal/domain"
	"warden/internal/support"
)

const (
	maxResponseBytes       = 10 << 20 // 10 MiB safety cap
	defaultRefreshInterval = 6 * time.Hour
	defaultFetchTimeout    = 30 * time.Second
)

// ErrNoSources is returned when every configured source failed to load.
var ErrNoSources = errors.New("blocker: no host list could be loaded")

type atomicSet struct {
	val atomic.Value
}

func (a *atomicSet) Load() map[string]struct{} {
	raw, ok := a.val.Load().(map[string]struct{})
	if !ok || raw == nil {
		return map[string]struct{}{}
	}
	return raw
}

func (a *atomicSet) Store(m map[string]struct{}) {
	a.val.Store(m)
}

type Config struct {
	// Sources returns the host list URLs; it is consulted on every load.
	Sources    func() []string
	HTTPClient *http.Client
}

// LoadOutcome summarizes one host list refresh.
type LoadOutcome struct {
	Sources     int
	Failed      int
	NewHosts    int
	TotalHosts  int
	LoadedAfter time.Duration
}

// Engine blocks requests to hosts found in the configured host lists.
type Engine struct {
	sources func() []string
	client  *http.Client

	hosts   atomicSet
	ready   atomic.Bool
	enabled atomic.Bool
	loads   singleflight.Group

	allowMu sync.RWMutex
	allowed map[string]struct{}
}

func New(cfg Config) *Engine {
	sources := cfg.Sources
	if sources == nil {
		sources = func() []string {
			return config.GetConfig().Blocking.Sources
		}
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	e := &Engine{
		sources: sources,
		client:  client,
		allowed: make(map[string]struct{}),
	}
	e.enabled.Store(true)
	return e
}

// Ready reports whether the first load has completed.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Blocking reports whether requests are currently being filtered.
func (e *Engine) Blocking() bool {
	return e.enabled.Load()
}

func (e *Engine) Enable(ctx context.Context) error {
	return e.setEnabled(ctx, true)
}

func (e *Engine) Disable(ctx context.Context) error {
	return e.setEnabled(ctx, false)
}

func (e *Engine) setEnabled(ctx context.Context, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !e.Ready() {
		return domain.ErrEngineNotReady
	}
	e.enabled.Store(enabled)
	return nil
}

// Allow exempts host from blocking for the lifetime of the engine.
func (e *Engine) Allow(host string) {
	host = support.ExtractHost(host)
	if host == "" {
		return
	}
	e.allowMu.Lock()
	e.allowed[host] = struct{}{}
	e.allowMu.Unlock()
}

func (e *Engine) isAllowed(host string) bool {
	e.allowMu.RLock()
	defer e.allowMu.RUnlock()
	return config.IsHostBlocked(host, e.allowed)
}

// ShouldBlock reports whether a request to rawURL must be refused.
func (e *Engine) ShouldBlock(rawURL string) bool {
	if !e.Ready() || !e.Blocking() {
		return false
	}
	host := support.ExtractHost(rawURL)
	if host == "" || e.isAllowed(host) {
		return false
	}
	return config.IsHostBlocked(host, e.hosts.Load())
}

// Size returns the number of hosts currently loaded.
func (e *Engine) Size() int {
	return len(e.hosts.Load())
}

// Load downloads every source and swaps in the combined host set. Concurrent
// calls share one download.
func (e *Engine) Load(ctx context.Context, reason string) (*LoadOutcome, error) {
	result, err, _ := e.loads.Do("load", func() (interface{}, error) {
		return e.doLoad(ctx, reason)
	})
	if err != nil {
		return nil, err
	}
	outcome, _ := result.(*LoadOutcome)
	return outcome, nil
}

func (e *Engine) doLoad(ctx context.Context, reason string) (*LoadOutcome, error) {
	started := time.Now()
	sources := append([]string(nil), e.sources()...)
	before := e.hosts.Load()

	combined := make(map[string]struct{}, len(before))
	failed := 0
	var errs []error

	for _, src := range sources {
		hosts, err := e.fetch(ctx, src)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn("Host list fetch failed", "source", src, "reason", reason, "error", err)
			failed++
			errs = append(errs, err)
			continue
		}
		for _, host := range hosts {
			combined[host] = struct{}{}
		}
	}

	if len(sources) > 0 && failed == len(sources) {
		return nil, fmt.Errorf("%w: %w", ErrNoSources, errors.Join(errs...))
	}

	e.hosts.Store(combined)
	e.ready.Store(true)

	return &LoadOutcome{
		Sources:     len(sources),
		Failed:      failed,
		NewHosts:    countNew(combined, before),
		TotalHosts:  len(combined),
		LoadedAfter: time.Since(started),
	}, nil
}

func countNew(after, before map[string]struct{}) int {
	added := 0
	for host := range after {
		if _, found := before[host]; !found {
			added++
		}
	}
	return added
}

func (e *Engine) fetch(ctx context.Context, source string) ([]string, error) {
	if config.IsWebsiteBlocked(source) {
		return nil, fmt.Errorf("host list source blocked: %s", source)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: execute request: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("%w: unexpected status %d: %s", domain.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrTransport, err)
	}

	return ParseHostList(content), nil
}

// StartRefreshRoutine loads the host lists immediately and then on the
// configured interval until ctx is done.
func (e *Engine) StartRefreshRoutine(ctx context.Context) {
	updates := config.BlocklistIntervalUpdates()

	current := config.GetBlocklistRefreshInterval()
	if current <= 0 {
		current = defaultRefreshInterval
	}

	ticker := time.NewTicker(current)
	defer ticker.Stop()

	e.triggerLoad(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.triggerLoad(ctx, "scheduled")
		case newInterval := <-updates:
			if newInterval <= 0 {
				newInterval = defaultRefreshInterval
			}
			if newInterval == current {
				continue
			}
			drainTicker(ticker)
			current = newInterval
			ticker.Reset(current)
			log.Debug("Host list refresh interval changed", "interval", current)
		}
	}
}

func (e *Engine) triggerLoad(ctx context.Context, reason string) {
	outcome, err := e.Load(ctx, reason)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Host list refresh canceled", "reason", reason)
		} else {
			log.Error("Host list refresh failed", "reason", reason, "error", err)
		}
		return
	}

	log.Info("Host list refresh completed",
		"reason", reason,
		"sources", outcome.Sources,
		"failed", outcome.Failed,
		"new_hosts", outcome.NewHosts,
		"total_hosts", outcome.TotalHosts,
		"took", outcome.LoadedAfter.Round(time.Millisecond),
	)
}

func drainTicker(ticker *time.Ticker) {
	for {
		select {
		case <-ticker.C:
		default:
			return
		}
	}
}
