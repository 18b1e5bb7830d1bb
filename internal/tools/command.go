package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"radt1cal/internal/logging"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
	"radt1cal/internal/volume"
)

// command is the shared plumbing for tools backed by one executable.
type command struct {
	name     string
	binary   string
	executor services.Executor
	logger   *slog.Logger
}

func newCommand(name, binary string, executor services.Executor, logger *slog.Logger) command {
	if executor == nil {
		executor = services.NewExecutor()
	}
	return command{
		name:     name,
		binary:   strings.TrimSpace(binary),
		executor: executor,
		logger:   logging.NewComponentLogger(logger, name),
	}
}

// SetLogger implements stage.LoggerAware.
func (c *command) SetLogger(logger *slog.Logger) {
	if logger != nil {
		c.logger = logger
	}
}

func (c *command) HealthCheck(context.Context) stage.Health {
	if c.binary == "" {
		return stage.Unhealthy(c.name, "binary not configured")
	}
	if _, err := exec.LookPath(c.binary); err != nil {
		return stage.Unhealthy(c.name, fmt.Sprintf("binary %q not found", c.binary))
	}
	return stage.Healthy(c.name)
}

// run executes the binary and forwards its output to the debug log.
func (c *command) run(ctx context.Context, call stage.Call, args []string) error {
	logger := call.Logger
	if logger == nil {
		logger = c.logger
	}
	logger.Debug("invoking external tool",
		logging.String("binary", c.binary),
		logging.Any("args", args),
	)
	err := c.executor.Run(ctx, c.binary, args, func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			logger.Debug(line, logging.String("binary", c.binary))
		}
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	var cmdErr *services.CommandError
	if errors.As(err, &cmdErr) {
		return services.Wrap(services.ErrExternalTool, call.Stage, c.binary, fmt.Sprintf("exit status %d", cmdErr.ExitCode), err)
	}
	return services.Wrap(services.ErrExternalTool, call.Stage, c.binary, "", err)
}

// locate resolves an output written as either .nii.gz or .nii; FSL picks the
// extension from FSLOUTPUTTYPE.
func locate(call stage.Call, base string) (string, error) {
	for _, ext := range []string{".nii.gz", ".nii"} {
		candidate := base + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", services.Wrap(services.ErrStageExecution, call.Stage, "collect outputs",
		fmt.Sprintf("expected output %s.nii.gz was not produced", filepath.Base(base)), nil)
}

func locateFile(call stage.Call, path string) (string, error) {
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}
	return "", services.Wrap(services.ErrStageExecution, call.Stage, "collect outputs",
		fmt.Sprintf("expected output %s was not produced", filepath.Base(path)), nil)
}

// outputBase names an output in the work directory after the input scan.
func outputBase(call stage.Call, input, suffix string) string {
	return filepath.Join(call.WorkDir, volume.BaseName(input)+suffix)
}
