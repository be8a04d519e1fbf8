package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"warden/internal/domain"
	"warden/internal/support"
)

const defaultRetention = time.Hour

var (
	ErrEmptyHost   = errors.New("scan: host is empty")
	ErrJobNotFound = errors.New("scan: job not found")
)

type entry struct {
	job         domain.ScanJob
	finishedAt  time.Time
	subscribers map[int]chan domain.ScanJob
	nextSub     int
}

// Registry keeps scan jobs addressable by id and fans their status out to
// subscribers. Jobs for the same host are never merged.
type Registry struct {
	poller    *Poller
	retention time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[uuid.UUID]*entry
	wg   sync.WaitGroup
}

func NewRegistry(poller *Poller) *Registry {
	return &Registry{
		poller:    poller,
		retention: defaultRetention,
		now:       time.Now,
		jobs:      make(map[uuid.UUID]*entry),
	}
}

// Start launches an independent job for host. ctx bounds the job's lifetime,
// so callers pass a process context rather than a request context.
func (r *Registry) Start(ctx context.Context, rawHost string) (domain.ScanJob, error) {
	host := support.ExtractHost(rawHost)
	if host == "" {
		return domain.ScanJob{}, ErrEmptyHost
	}

	job := domain.NewScanJob(host, r.now())

	snapshot := job.Clone()

	r.mu.Lock()
	r.pruneLocked()
	r.jobs[job.ID] = &entry{job: snapshot, subscribers: make(map[int]chan domain.ScanJob)}
	r.mu.Unlock()

	log.Info("Scan job started", "job", job.ID, "host", host)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		err := r.poller.Run(ctx, job, r.update)
		if err != nil && !errors.Is(err, domain.ErrTimeout) {
			log.Debug("Scan job ended with error", "job", job.ID, "error", err)
		}
		log.Info("Scan job ended", "job", job.ID, "host", host, "state", job.State, "attempts", job.Attempt)
	}()

	return snapshot, nil
}

// Wait blocks until every started job has reached a terminal state.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) Get(id uuid.UUID) (domain.ScanJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.jobs[id]
	if !ok {
		return domain.ScanJob{}, false
	}
	return e.job.Clone(), true
}

// Watchers is the number of open subscriptions on job id.
func (r *Registry) Watchers(id uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.jobs[id]; ok {
		return len(e.subscribers)
	}
	return 0
}

// Subscribe returns a channel carrying the latest snapshot of the job. The
// channel is closed after the terminal snapshot; intermediate snapshots may
// be skipped when the reader falls behind.
func (r *Registry) Subscribe(id uuid.UUID) (<-chan domain.ScanJob, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return nil, nil, ErrJobNotFound
	}

	ch := make(chan domain.ScanJob, 1)
	ch <- e.job.Clone()
	if settled(e.job) {
		close(ch)
		return ch, func() {}, nil
	}

	subID := e.nextSub
	e.nextSub++
	e.subscribers[subID] = ch

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub, ok := e.subscribers[subID]; ok {
			delete(e.subscribers, subID)
			close(sub)
		}
	}
	return ch, cancel, nil
}

func (r *Registry) update(snapshot domain.ScanJob) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[snapshot.ID]
	if !ok {
		return
	}
	e.job = snapshot

	for _, ch := range e.subscribers {
		offerLatest(ch, snapshot)
	}

	if settled(snapshot) {
		e.finishedAt = r.now()
		for subID, ch := range e.subscribers {
			close(ch)
			delete(e.subscribers, subID)
		}
	}
}

// settled reports whether no further snapshots will follow. A timed out job
// settles only once its final fetch has been attached.
func settled(job domain.ScanJob) bool {
	switch job.State {
	case domain.JobFailed:
		return true
	case domain.JobFinished, domain.JobTimedOut:
		return job.Result != nil
	}
	return false
}

// offerLatest replaces any unread snapshot. Only update sends, under r.mu.
func offerLatest(ch chan domain.ScanJob, snapshot domain.ScanJob) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snapshot
}

func (r *Registry) pruneLocked() {
	if r.retention <= 0 {
		return
	}
	cutoff := r.now().Add(-r.retention)
	for id, e := range r.jobs {
		if !e.finishedAt.IsZero() && e.finishedAt.Before(cutoff) {
			delete(r.jobs, id)
		}
	}
}
