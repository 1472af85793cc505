package report

import (
	"fmt"
	"time"
)

// Kind identifies the type of a pipeline run.
type Kind string

const (
	// Demo is a full sequenced demo run.
	Demo Kind = "demo"
	// Services is a long-running start-all-services run.
	Services Kind = "services"
)

// Step statuses recorded per pipeline step.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusSkipped = "skipped"
)

// Run outcomes.
const (
	OutcomePassed      = "passed"
	OutcomeAborted     = "aborted"
	OutcomeInterrupted = "interrupted"
)

// Store persists and retrieves pipeline run records.
type Store interface {
	Save(record *RunRecord) error
	Load(runID string) (*RunRecord, error)
	List() ([]*RunRecord, error)
}

// RunRecord holds the structured outcome of one pipeline run.
type RunRecord struct {
	ID        string       `json:"id"`
	Kind      Kind         `json:"kind"`
	StartedAt time.Time    `json:"started_at"`
	Elapsed   float64      `json:"elapsed_seconds"`
	Outcome   string       `json:"outcome"`
	Steps     []StepRecord `json:"steps,omitempty"`
}

// StepRecord holds the outcome of a single pipeline step.
type StepRecord struct {
	Name    string  `json:"name"`
	Status  string  `json:"status"` // pass, fail, skipped
	Detail  string  `json:"detail,omitempty"`
	Elapsed float64 `json:"elapsed_seconds,omitempty"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *RunRecord) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// String renders a one-line summary of the run.
func (r *RunRecord) String() string {
	failed := 0
	for _, s := range r.Steps {
		if s.Status == StatusFail {
			failed++
		}
	}
	// Foreign records in the history dir may carry IDs shorter than a uuid.
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s  %s  %-8s  %-11s  %d steps (%d failed)  %.1fs",
		r.StartedAt.Format("2006-01-02 15:04:05"), id, r.Kind, r.Outcome,
		len(r.Steps), failed, r.Elapsed)
}
