package queue

import "time"

// Status is the lifecycle state of a subject run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether a run in this status will not change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusInterrupted
}

// Run is one pipeline execution for a single scan.
type Run struct {
	ID           string
	Subject      string
	Session      string
	ScanPath     string
	Pipeline     string
	OutputDir    string
	TestMode     bool
	Status       Status
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration is the wall time of a finished run, or the elapsed time so far.
func (r Run) Duration(now time.Time) time.Duration {
	end := now
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	if r.StartedAt.IsZero() || end.Before(r.StartedAt) {
		return 0
	}
	return end.Sub(r.StartedAt)
}

// StageRecord is the persisted outcome of one stage within a run.
type StageRecord struct {
	RunID        string
	Stage        string
	Position     int
	State        string
	Reused       bool
	WorkDir      string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	Duration     time.Duration
	ErrorMessage string
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Subject  string
	Statuses []Status
	// Limit caps the number of runs returned, newest first; zero means no cap.
	Limit int
}

// Summary counts runs by status.
type Summary struct {
	Total       int
	Running     int
	Completed   int
	Failed      int
	Interrupted int
}
