package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"radt1cal/internal/logging"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
)

// Options controls a single stage invocation.
type Options struct {
	Logger    *slog.Logger
	Tool      stage.Tool
	StageName string
	Call      stage.Call
	// Timeout bounds the invocation; zero disables the limit.
	Timeout time.Duration
}

// Run invokes the stage tool with a per-stage deadline and uniform logging.
// Every returned error carries a services marker: ErrTimeout when the
// deadline expired, the tool's own marker when it set one, and
// ErrStageExecution otherwise.
func Run(ctx context.Context, opts Options) (stage.Outputs, error) {
	if opts.Tool == nil {
		return nil, services.Wrap(services.ErrConfiguration, opts.StageName, "run", "stage tool unavailable", nil)
	}

	stageCtx := services.WithStage(ctx, opts.StageName)
	stageLogger := logging.WithContext(stageCtx, opts.Logger)
	if aware, ok := opts.Tool.(stage.LoggerAware); ok {
		aware.SetLogger(stageLogger)
	}

	call := opts.Call
	call.Stage = opts.StageName
	call.Logger = stageLogger

	stageLogger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("label", Label(opts.StageName)),
		logging.String("tool", opts.Tool.Identity()),
		logging.String("work_dir", call.WorkDir),
		logging.Duration("timeout", opts.Timeout),
	)

	runCtx := stageCtx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(stageCtx, opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	outputs, err := invoke(runCtx, opts.Tool, call)
	elapsed := time.Since(started)
	if err == nil && runCtx.Err() != nil && ctx.Err() == nil {
		err = runCtx.Err()
	}
	if err != nil {
		err = classify(ctx, runCtx, opts.StageName, opts.Timeout, err)
		handleFailure(stageLogger, elapsed, err)
		return nil, err
	}

	stageLogger.Info(
		"stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.Duration("duration", elapsed),
		logging.Int("outputs", len(outputs)),
	)
	return outputs, nil
}

// invoke reports a panicking tool as a stage failure so the rest of a batch
// keeps running.
func invoke(ctx context.Context, tool stage.Tool, call stage.Call) (outputs stage.Outputs, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			outputs = nil
			err = services.Wrap(services.ErrStageExecution, call.Stage, "run", fmt.Sprintf("tool panicked: %v", recovered), nil)
		}
	}()
	return tool.Run(ctx, call)
}

func classify(parent, runCtx context.Context, stageName string, timeout time.Duration, err error) error {
	switch {
	case parent.Err() != nil:
		return err
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return services.Wrap(services.ErrTimeout, stageName, "run", fmt.Sprintf("exceeded %s", timeout), err)
	case hasMarker(err):
		return err
	default:
		return services.Wrap(services.ErrStageExecution, stageName, "run", "", err)
	}
}

func hasMarker(err error) bool {
	for _, marker := range []error{
		services.ErrConfiguration, services.ErrStageExecution, services.ErrExtraction,
		services.ErrNoInput, services.ErrExternalTool, services.ErrValidation, services.ErrTimeout,
	} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

func handleFailure(logger *slog.Logger, elapsed time.Duration, stageErr error) {
	message := strings.TrimSpace(services.Details(stageErr).Message)
	if message == "" {
		message = "stage failed"
	}
	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("error_message", message),
		logging.Duration("duration", elapsed),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, "inspect the stage work directory and tool output"),
	)
}

// Label renders a stage name such as "bias_correct" as "Bias Correct".
func Label(name string) string {
	if name == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(name, "_", " "))
}
