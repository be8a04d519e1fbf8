package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"warden/internal/domain"
)

const (
	DefaultDelay       = 3 * time.Second
	DefaultMaxAttempts = 20
)

// Scanner is the external scan provider.
type Scanner interface {
	Submit(ctx context.Context, host string) (json.RawMessage, error)
	Fetch(ctx context.Context, scanID string) (json.RawMessage, error)
}

// PollerConfig fixes the delay and attempt limit, or reads them through the
// getter functions at the start of every job when those are set.
type PollerConfig struct {
	Delay       time.Duration
	MaxAttempts int

	DelayFunc       func() time.Duration
	MaxAttemptsFunc func() int
}

// StatusFunc receives a snapshot of the job after every transition.
type StatusFunc func(job domain.ScanJob)

// Poller drives scan jobs through submit, poll and grade.
type Poller struct {
	scanner     Scanner
	delay       func() time.Duration
	maxAttempts func() int
}

func NewPoller(scanner Scanner, cfg PollerConfig) *Poller {
	delay := cfg.DelayFunc
	if delay == nil {
		fixed := cfg.Delay
		delay = func() time.Duration { return fixed }
	}
	maxAttempts := cfg.MaxAttemptsFunc
	if maxAttempts == nil {
		fixed := cfg.MaxAttempts
		maxAttempts = func() int { return fixed }
	}
	return &Poller{scanner: scanner, delay: delay, maxAttempts: maxAttempts}
}

// Delay is the wait before each poll for the next job.
func (p *Poller) Delay() time.Duration {
	if d := p.delay(); d > 0 {
		return d
	}
	return DefaultDelay
}

// MaxAttempts is the poll limit for the next job.
func (p *Poller) MaxAttempts() int {
	if n := p.maxAttempts(); n > 0 {
		return n
	}
	return DefaultMaxAttempts
}

// Run drives job from Submitting to a terminal state. Polls are strictly
// sequential. The returned error is nil for Finished, wraps
// domain.ErrTimeout for TimedOut and carries the cause for Failed.
func (p *Poller) Run(ctx context.Context, job *domain.ScanJob, onStatus StatusFunc) error {
	// Limits are fixed per job so attempt stays bounded by one maximum.
	delay, maxAttempts := p.Delay(), p.MaxAttempts()

	r := &run{job: job, notify: onStatus}
	r.setStatus(fmt.Sprintf("submitting scan for %s", job.Host))

	raw, err := p.scanner.Submit(ctx, job.Host)
	if err != nil {
		return r.fail(err)
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return r.fail(fmt.Errorf("%w: decode submit response: %w", domain.ErrTransport, err))
	}

	scanID, hasID := extractScanID(doc)
	if !hasID {
		log.Info("Scanner returned no scan id", "host", job.Host)
		r.finish(raw, doc, true, "scan complete (no scan id returned)")
		return nil
	}
	job.ScanID = &scanID

	if status := extractStatus(doc); isFailedStatus(status) {
		return r.fail(fmt.Errorf("scanner reported status %q", status))
	}
	if isComplete(doc) {
		r.finish(raw, doc, false, "")
		return nil
	}

	r.transition(domain.JobPolling, fmt.Sprintf("scan %s queued", scanID))

	for job.Attempt < maxAttempts {
		if err := wait(ctx, delay); err != nil {
			return r.fail(err)
		}

		job.Attempt++
		r.transition(domain.JobPolling, fmt.Sprintf("polling attempt %d of %d", job.Attempt, maxAttempts))

		raw, err := p.scanner.Fetch(ctx, scanID)
		if err != nil {
			if ctx.Err() != nil {
				return r.fail(ctx.Err())
			}
			log.Warn("Scan poll failed", "host", job.Host, "scan_id", scanID, "attempt", job.Attempt, "error", err)
			continue
		}

		doc, err := decodeDocument(raw)
		if err != nil {
			log.Warn("Scan poll returned undecodable document", "host", job.Host, "attempt", job.Attempt, "error", err)
			continue
		}
		if status := extractStatus(doc); isFailedStatus(status) {
			return r.fail(fmt.Errorf("scanner reported status %q", status))
		}
		if isComplete(doc) {
			r.finish(raw, doc, false, "")
			return nil
		}
	}

	r.transition(domain.JobTimedOut, fmt.Sprintf("scan timed out after %d attempts", maxAttempts))

	// One last fetch; whatever comes back is surfaced as is.
	result := &domain.ScanResult{}
	if raw, err := p.scanner.Fetch(ctx, scanID); err != nil {
		log.Warn("Final scan fetch failed", "host", job.Host, "scan_id", scanID, "error", err)
	} else {
		grade := DeriveGradeJSON(raw)
		result.Raw = raw
		result.Grade = &grade
	}
	job.Result = result
	r.emit()

	return fmt.Errorf("%w: scan %s after %d attempts", domain.ErrTimeout, scanID, maxAttempts)
}

func wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type run struct {
	job    *domain.ScanJob
	notify StatusFunc
}

func (r *run) emit() {
	if r.notify != nil {
		r.notify(r.job.Clone())
	}
}

func (r *run) setStatus(status string) {
	r.job.Status = status
	r.emit()
}

func (r *run) transition(next domain.JobState, status string) {
	if !r.job.State.CanTransition(next) {
		// Unreachable with the loop above; keep the job where it is.
		log.Error("Invalid scan state transition", "from", r.job.State, "to", next, "job", r.job.ID)
		return
	}
	r.job.State = next
	r.job.History = append(r.job.History, next)
	r.setStatus(status)
}

func (r *run) finish(raw json.RawMessage, doc any, informational bool, status string) {
	grade := DeriveGrade(doc)
	r.job.Result = &domain.ScanResult{Raw: raw, Grade: &grade, Informational: informational}
	if status == "" {
		status = fmt.Sprintf("scan complete: grade %s", grade)
	}
	r.transition(domain.JobFinished, status)
}

func (r *run) fail(err error) error {
	r.job.Err = err.Error()
	r.transition(domain.JobFailed, fmt.Sprintf("scan failed: %s", err))
	log.Warn("Scan failed", "host", r.job.Host, "job", r.job.ID, "error", err)
	return err
}
