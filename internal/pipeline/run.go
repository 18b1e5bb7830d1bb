package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"radt1cal/internal/logging"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
	"radt1cal/internal/stageexec"
)

// Observer is notified of stage transitions, e.g. to persist them.
type Observer interface {
	StageStarted(ctx context.Context, name string)
	StageFinished(ctx context.Context, report StageReport)
}

// RunOptions controls a graph execution.
type RunOptions struct {
	// WorkDir is the per-subject scratch root; stage directories live below it.
	WorkDir string
	Subject string
	// Timeout returns the per-stage limit; nil or zero disables it.
	Timeout func(stage string) time.Duration
	// Reuse lets a completed stage directory satisfy the stage without rerunning.
	Reuse    bool
	Observer Observer
	Logger   *slog.Logger
}

// Run validates the graph and executes its stages in topological order.
//
// The returned error is non-nil only when validation fails or ctx is
// cancelled; stage failures are recorded in the report and surfaced through
// Report.Err.
func (g *Graph) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	order, err := g.Validate(ctx)
	if err != nil {
		return nil, err
	}
	if opts.WorkDir == "" {
		return nil, configErr("run", "work directory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.With(logging.String(logging.FieldComponent, "pipeline"))

	report := &Report{Order: order, Stages: make(map[string]*StageReport, len(order))}
	for _, name := range order {
		report.Stages[name] = &StageReport{Name: name, State: StatePending}
	}

	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		current := report.Stages[name]
		if blocker := g.blockedBy(name, report); blocker != "" {
			current.State = StateSkipped
			current.BlockedBy = blocker
			logger.Warn("stage skipped",
				logging.String(logging.FieldStage, name),
				logging.String("blocked_by", blocker),
				logging.String(logging.FieldEventType, "stage_skipped"),
			)
			g.notifyFinished(ctx, opts.Observer, current)
			continue
		}
		current.State = StateReady
		g.execute(ctx, name, current, report, opts, logger)
		if err := ctx.Err(); err != nil {
			return report, err
		}
	}
	return report, nil
}

// blockedBy returns the first upstream stage that did not complete.
func (g *Graph) blockedBy(name string, report *Report) string {
	for _, dep := range g.Dependencies(name) {
		if state := report.Stages[dep].State; state == StateFailed || state == StateSkipped {
			return dep
		}
	}
	return ""
}

func (g *Graph) execute(ctx context.Context, name string, current *StageReport, report *Report, opts RunOptions, logger *slog.Logger) {
	s := g.stages[name]
	fail := func(err error) {
		current.State = StateFailed
		current.Err = err
		current.Finished = time.Now()
		g.notifyFinished(ctx, opts.Observer, current)
	}

	inputs, err := g.resolveInputs(name, report)
	if err != nil {
		fail(err)
		return
	}
	hash := StageHash(name, s.Tool.Identity(), s.Params, inputs)
	dir := filepath.Join(opts.WorkDir, name+"-"+hash)
	current.WorkDir = dir

	if opts.Reuse {
		outputs, err := readManifest(dir, s.Outputs)
		if err == nil {
			now := time.Now()
			current.State = StateCompleted
			current.Reused = true
			current.Outputs = outputs
			current.Started, current.Finished = now, now
			logger.Info("stage reused",
				logging.String(logging.FieldStage, name),
				logging.String("work_dir", dir),
				logging.String(logging.FieldEventType, "stage_reused"),
			)
			g.notifyFinished(ctx, opts.Observer, current)
			return
		}
		if !errors.Is(err, errNoManifest) {
			logger.Debug("stage cache invalid",
				logging.String(logging.FieldStage, name),
				logging.Error(err),
			)
		}
	}

	if err := os.RemoveAll(dir); err != nil {
		fail(services.Wrap(services.ErrStageExecution, name, "prepare work dir", dir, err))
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fail(services.Wrap(services.ErrStageExecution, name, "prepare work dir", dir, err))
		return
	}

	var timeout time.Duration
	if opts.Timeout != nil {
		timeout = opts.Timeout(name)
	}
	current.State = StateRunning
	current.Started = time.Now()
	if opts.Observer != nil {
		opts.Observer.StageStarted(ctx, name)
	}

	outputs, err := stageexec.Run(ctx, stageexec.Options{
		Logger:    logger,
		Tool:      s.Tool,
		StageName: name,
		Timeout:   timeout,
		Call: stage.Call{
			Subject: opts.Subject,
			Inputs:  inputs,
			Params:  s.Params,
			WorkDir: dir,
		},
	})
	if err != nil {
		fail(err)
		return
	}
	if err := checkOutputs(name, s.Outputs, outputs); err != nil {
		fail(err)
		return
	}
	if err := writeManifest(dir, name, s.Tool.Identity(), outputs); err != nil {
		logger.Warn("stage manifest not written; stage will rerun next time",
			logging.String(logging.FieldStage, name),
			logging.Error(err),
			logging.String(logging.FieldEventType, "manifest_write_failed"),
			logging.String(logging.FieldImpact, "stage results cannot be reused"),
		)
	}
	current.State = StateCompleted
	current.Outputs = outputs
	current.Finished = time.Now()
	g.notifyFinished(ctx, opts.Observer, current)
}

func (g *Graph) notifyFinished(ctx context.Context, observer Observer, report *StageReport) {
	if observer != nil {
		observer.StageFinished(ctx, *report)
	}
}

func checkOutputs(name string, declared []stage.Port, outputs stage.Outputs) error {
	for _, port := range declared {
		value, ok := outputs[port.Name]
		if !ok {
			return services.Wrap(services.ErrStageExecution, name, "collect outputs",
				fmt.Sprintf("tool did not produce %q", port.Name), nil)
		}
		if value.Kind != port.Kind {
			return services.Wrap(services.ErrStageExecution, name, "collect outputs",
				fmt.Sprintf("output %q is %s, declared %s", port.Name, value.Kind, port.Kind), nil)
		}
	}
	return nil
}
