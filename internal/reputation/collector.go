package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"warden/internal/domain"
	"warden/internal/support"
)

var ErrEmptyHost = errors.New("reputation: empty host")

type Lookup interface {
	Lookup(ctx context.Context, host string) (domain.ReputationRecord, error)
}

// Forwarder hands a record to the state broker without waiting for an acknowledgement.
type Forwarder interface {
	Forward(ctx context.Context, record domain.ReputationRecord) error
}

type Notifier interface {
	Notify(ctx context.Context, advisory domain.Advisory) error
}

type CountryResolver interface {
	CountryCode(ip string) string
}

type CollectorConfig struct {
	Lookup    Lookup
	Forwarder Forwarder
	Notifier  Notifier
	Geo       CountryResolver
	// Flagged reports hosts on the local website blocklist. They are logged,
	// never turned into an advisory.
	Flagged func(host string) bool
}

// Collector runs one reputation lookup per page load.
type Collector struct {
	lookup    Lookup
	forwarder Forwarder
	notifier  Notifier
	geo       CountryResolver
	flagged   func(string) bool
}

func NewCollector(cfg CollectorConfig) *Collector {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Collector{
		lookup:    cfg.Lookup,
		forwarder: cfg.Forwarder,
		notifier:  notifier,
		geo:       cfg.Geo,
		flagged:   cfg.Flagged,
	}
}

// Collect looks up the reputation of rawHost, forwards the record and raises
// an advisory for unsafe sites. Failures are returned, never retried.
func (c *Collector) Collect(ctx context.Context, rawHost string) (domain.ReputationRecord, error) {
	host := support.ExtractHost(rawHost)
	if host == "" {
		return domain.ReputationRecord{}, ErrEmptyHost
	}
	if c.lookup == nil {
		return domain.ReputationRecord{}, fmt.Errorf("reputation: no lookup configured")
	}

	record, err := c.lookup.Lookup(ctx, host)
	if err != nil {
		log.Warn("Reputation lookup failed", "host", host, "error", err)
		return domain.ReputationRecord{}, err
	}

	if record.Domain == "" {
		record.Domain = host
	}
	if record.RootDomain == "" {
		record.RootDomain = support.RootDomain(record.Domain)
	}
	if c.geo != nil && record.IP() != "" {
		record.Country = c.geo.CountryCode(record.IP())
	}

	log.Debug("Reputation record received", "host", host, "unsafe", record.Unsafe, "risk_score", record.RiskScore)

	if c.forwarder != nil {
		if err := c.forwarder.Forward(ctx, record); err != nil {
			log.Warn("Forwarding reputation record failed", "host", host, "error", err)
		}
	}

	if c.flagged != nil && c.flagged(host) {
		log.Warn("Host is on the local website blocklist", "host", host, "unsafe", record.Unsafe)
	}

	if record.Unsafe {
		advisory := domain.NewAdvisory(host, record)
		if err := c.notifier.Notify(ctx, advisory); err != nil {
			log.Error("Raising advisory failed", "host", host, "error", err)
		}
		return record, nil
	}

	log.Info(record.Domain+" appears safe", "risk_score", record.RiskScore)
	return record, nil
}

// LogNotifier writes advisories to the log.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, advisory domain.Advisory) error {
	log.Warn(advisory.Message, "domain", advisory.Domain, "risk_score", advisory.Record.RiskScore)
	return nil
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, advisory domain.Advisory) error

func (f NotifierFunc) Notify(ctx context.Context, advisory domain.Advisory) error {
	return f(ctx, advisory)
}

// ForwarderFunc adapts a function to the Forwarder interface.
type ForwarderFunc func(ctx context.Context, record domain.ReputationRecord) error

func (f ForwarderFunc) Forward(ctx context.Context, record domain.ReputationRecord) error {
	return f(ctx, record)
}
