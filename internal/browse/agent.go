package browse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"warden/internal/domain"
	"warden/internal/support"
)

const (
	defaultNavigateTimeout = 30 * time.Second
	collectTimeout         = 20 * time.Second
)

var ErrBrowserNotStarted = errors.New("browse: browser not started")

// Blocker decides whether a request must be refused.
type Blocker interface {
	ShouldBlock(rawURL string) bool
}

// Collector runs the reputation lookup for a loaded page.
type Collector interface {
	Collect(ctx context.Context, rawHost string) (domain.ReputationRecord, error)
}

type Config struct {
	// ControlURL attaches to a running browser; empty launches a new one.
	ControlURL      string
	Headless        bool
	StartURL        string
	NavigateTimeout time.Duration
}

// Agent drives a Chromium instance: it filters requests through the blocker
// and runs one collector per top-level page load.
type Agent struct {
	cfg     Config
	blocker Blocker

	mu        sync.Mutex
	collector Collector
	browser   *rod.Browser
	router    *rod.HijackRouter
	pages     map[proto.TargetTargetID]*rod.Page
	ctx       context.Context
	closing   bool

	// wg.Add only happens under mu while closing is false.
	wg sync.WaitGroup
}

func New(cfg Config, blocker Blocker) *Agent {
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = defaultNavigateTimeout
	}
	return &Agent{
		cfg:     cfg,
		blocker: blocker,
		pages:   make(map[proto.TargetTargetID]*rod.Page),
	}
}

// SetCollector wires the per-load collector. The collector usually notifies
// through the agent itself, so it is attached after construction.
func (a *Agent) SetCollector(c Collector) {
	a.mu.Lock()
	a.collector = c
	a.mu.Unlock()
}

// Run starts the browser, opens the start page and blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	if a.cfg.StartURL != "" {
		if err := a.Open(a.cfg.StartURL); err != nil {
			log.Warn("Opening start page failed", "url", a.cfg.StartURL, "error", err)
		}
	}

	<-ctx.Done()
	a.Close()
	return nil
}

// Start launches or attaches to the browser and installs request filtering.
func (a *Agent) Start(ctx context.Context) error {
	controlURL := a.cfg.ControlURL
	if controlURL == "" {
		launched, err := launcher.New().
			Leakless(true).
			Headless(a.cfg.Headless).
			Set("disable-background-timer-throttling").
			Set("disable-backgrounding-occluded-windows").
			Set("disable-renderer-backgrounding").
			Launch()
		if err != nil {
			return fmt.Errorf("browse: launch browser: %w", err)
		}
		controlURL = launched
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	var err error
	for i := 0; i < 10; i++ {
		if err = b.Connect(); err == nil {
			break
		}
		time.Sleep(time.Duration(250*(i+1)) * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("browse: connect browser: %w", err)
	}

	if err := (proto.BrowserSetDownloadBehavior{
		Behavior:         proto.BrowserSetDownloadBehaviorBehaviorDeny,
		BrowserContextID: b.BrowserContextID,
	}).Call(b); err != nil {
		log.Warn("Disable browser downloads failed", "error", err)
	}

	router := b.HijackRequests()
	if err := router.Add("*", "", a.filterRequest); err != nil {
		_ = b.Close()
		return fmt.Errorf("browse: install request filter: %w", err)
	}
	go router.Run()

	a.mu.Lock()
	a.closing = false
	a.browser = b
	a.router = router
	a.ctx = ctx
	a.mu.Unlock()

	log.Info("Browser ready", "control_url", controlURL, "headless", a.cfg.Headless)
	return nil
}

func (a *Agent) filterRequest(h *rod.Hijack) {
	target := h.Request.URL().String()
	if a.blocker != nil && a.blocker.ShouldBlock(target) {
		log.Debug("Request blocked", "url", target)
		h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		return
	}
	h.ContinueRequest(&proto.FetchContinueRequest{})
}

// Open navigates a new stealth page to rawURL.
func (a *Agent) Open(rawURL string) error {
	a.mu.Lock()
	b, ctx := a.browser, a.ctx
	a.mu.Unlock()
	if b == nil {
		return ErrBrowserNotStarted
	}

	p, err := stealth.Page(b)
	if err != nil {
		return fmt.Errorf("browse: stealth page: %w", err)
	}
	if err := (proto.PageEnable{}).Call(p); err != nil {
		_ = safeClosePage(p)
		return fmt.Errorf("browse: enable page events: %w", err)
	}

	a.track(p)
	wait := p.Context(ctx).EachEvent(func(e *proto.PageFrameNavigated) {
		if e.Frame == nil || e.Frame.ParentID != "" {
			return
		}
		a.onPageLoad(ctx, e.Frame.URL)
	}, func(e *proto.TargetTargetDestroyed) bool {
		return e.TargetID == p.TargetID
	})
	go func() {
		wait()
		a.untrack(p)
	}()

	if err := p.Timeout(a.cfg.NavigateTimeout).Navigate(rawURL); err != nil {
		return fmt.Errorf("browse: navigate %s: %w", rawURL, err)
	}
	return nil
}

// onPageLoad runs the collector once for a top-level navigation, off the
// event goroutine.
func (a *Agent) onPageLoad(ctx context.Context, rawURL string) {
	if !collectable(rawURL) {
		return
	}
	a.mu.Lock()
	collector := a.collector
	if collector == nil || a.closing {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		loadCtx, cancel := context.WithTimeout(ctx, collectTimeout)
		defer cancel()
		if _, err := collector.Collect(loadCtx, rawURL); err != nil {
			log.Debug("Page collection failed", "url", rawURL, "error", err)
		}
	}()
}

// Notify injects the advisory banner into every open page showing the host.
func (a *Agent) Notify(_ context.Context, advisory domain.Advisory) error {
	var errs []error
	shown := 0
	for _, p := range a.snapshotPages() {
		info, err := p.Info()
		if err != nil || support.ExtractHost(info.URL) != advisory.Host {
			continue
		}
		if _, err := p.Eval(overlayScript, advisory.Message); err != nil {
			errs = append(errs, err)
			continue
		}
		shown++
	}
	if shown == 0 {
		log.Warn(advisory.Message, "domain", advisory.Domain)
	}
	return errors.Join(errs...)
}

// Close shuts the browser down and waits for in-flight collectors.
func (a *Agent) Close() {
	a.mu.Lock()
	a.closing = true
	b, router := a.browser, a.router
	a.browser, a.router = nil, nil
	a.mu.Unlock()

	if router != nil {
		_ = router.Stop()
	}
	if b != nil {
		_ = rod.Try(func() { b.MustClose() })
	}
	a.wg.Wait()
}

func (a *Agent) track(p *rod.Page) {
	a.mu.Lock()
	a.pages[p.TargetID] = p
	a.mu.Unlock()
}

func (a *Agent) untrack(p *rod.Page) {
	a.mu.Lock()
	delete(a.pages, p.TargetID)
	a.mu.Unlock()
}

func (a *Agent) snapshotPages() []*rod.Page {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*rod.Page, 0, len(a.pages))
	for _, p := range a.pages {
		out = append(out, p)
	}
	return out
}

// collectable filters out internal pages that have no reputation.
func collectable(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Hostname() != ""
}

func safeClosePage(p *rod.Page) error {
	return rod.Try(func() { p.MustClose() })
}
