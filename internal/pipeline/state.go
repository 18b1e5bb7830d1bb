package pipeline

import (
	"errors"
	"time"

	"radt1cal/internal/stage"
)

// State is the lifecycle position of a stage within one run.
type State int

const (
	StatePending State = iota
	StateReady
	StateRunning
	StateCompleted
	StateFailed
	// StateSkipped marks a stage halted because an upstream stage failed.
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen in this run.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateSkipped
}

// StageReport describes what happened to one stage.
type StageReport struct {
	Name     string
	State    State
	Started  time.Time
	Finished time.Time
	WorkDir  string
	Reused   bool
	Outputs  stage.Outputs
	Err      error
	// BlockedBy names the failed or skipped upstream stage for skipped stages.
	BlockedBy string
}

// Duration is the wall time the stage spent running.
func (r *StageReport) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Report collects stage outcomes for one run in execution order.
type Report struct {
	Order  []string
	Stages map[string]*StageReport
}

// Stage returns the report for name.
func (r *Report) Stage(name string) (*StageReport, bool) {
	report, ok := r.Stages[name]
	return report, ok
}

// Output returns the value a completed stage produced on output.
func (r *Report) Output(stageName, output string) (stage.Value, bool) {
	report, ok := r.Stages[stageName]
	if !ok || report.State != StateCompleted {
		return stage.Value{}, false
	}
	value, ok := report.Outputs[output]
	return value, ok
}

// Failed reports whether any stage failed.
func (r *Report) Failed() bool {
	for _, report := range r.Stages {
		if report.State == StateFailed {
			return true
		}
	}
	return false
}

// Err joins the errors of failed stages in execution order.
func (r *Report) Err() error {
	var errs []error
	for _, name := range r.Order {
		if report := r.Stages[name]; report.State == StateFailed && report.Err != nil {
			errs = append(errs, report.Err)
		}
	}
	return errors.Join(errs...)
}

// FirstFailure returns the earliest failed stage in execution order.
func (r *Report) FirstFailure() (*StageReport, bool) {
	for _, name := range r.Order {
		if report := r.Stages[name]; report.State == StateFailed {
			return report, true
		}
	}
	return nil, false
}
