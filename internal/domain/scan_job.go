package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobState string

const (
	JobSubmitting JobState = "submitting"
	JobPolling    JobState = "polling"
	JobFinished   JobState = "finished"
	JobTimedOut   JobState = "timed_out"
	JobFailed     JobState = "failed"
)

var jobTransitions = map[JobState][]JobState{
	JobSubmitting: {JobFinished, JobPolling, JobFailed},
	JobPolling:    {JobFinished, JobPolling, JobTimedOut, JobFailed},
}

func (s JobState) IsTerminal() bool {
	return s == JobFinished || s == JobTimedOut || s == JobFailed
}

// CanTransition reports whether the scan state machine allows moving from s to next.
func (s JobState) CanTransition(next JobState) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ScanResult is the document surfaced by a finished or timed out scan.
// A nil Grade means no document was available to grade.
type ScanResult struct {
	Raw           json.RawMessage `json:"raw,omitempty"`
	Grade         *Grade          `json:"grade"`
	Informational bool            `json:"informational,omitempty"`
}

type ScanJob struct {
	ID        uuid.UUID   `json:"id"`
	Host      string      `json:"host"`
	ScanID    *string     `json:"scan_id"`
	State     JobState    `json:"state"`
	Attempt   int         `json:"attempt"`
	StartedAt time.Time   `json:"started_at"`
	History   []JobState  `json:"history"`
	Status    string      `json:"status"`
	Result    *ScanResult `json:"result,omitempty"`
	Err       string      `json:"error,omitempty"`
}

func NewScanJob(host string, now time.Time) *ScanJob {
	return &ScanJob{
		ID:        uuid.New(),
		Host:      host,
		State:     JobSubmitting,
		StartedAt: now,
		History:   []JobState{JobSubmitting},
	}
}

// Clone returns a copy that does not share the history slice.
func (j *ScanJob) Clone() ScanJob {
	cp := *j
	cp.History = append([]JobState(nil), j.History...)
	if j.Result != nil {
		res := *j.Result
		cp.Result = &res
	}
	return cp
}
