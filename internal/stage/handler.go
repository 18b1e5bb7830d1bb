package stage

import (
	"context"
	"log/slog"
)

// Tool is the contract every pipeline stage implementation satisfies. A tool
// wraps one external collaborator (or the in-process ROI aggregation) and
// turns fully resolved inputs into declared outputs inside its work directory.
type Tool interface {
	// Identity names the tool and its version-relevant settings; it feeds the
	// work directory hash so a changed tool never reuses stale results.
	Identity() string
	Run(ctx context.Context, call Call) (Outputs, error)
	HealthCheck(ctx context.Context) Health
}

// Call carries the resolved inputs and parameters for one stage invocation.
type Call struct {
	Stage   string
	Subject string
	Inputs  map[string]Value
	Params  map[string]string
	// WorkDir is a private, already created directory for this invocation.
	WorkDir string
	Logger  *slog.Logger
}

// Outputs maps declared output names to produced values.
type Outputs map[string]Value

// LoggerAware is implemented by tools that want the stage-scoped logger
// before Run is invoked.
type LoggerAware interface {
	SetLogger(*slog.Logger)
}
