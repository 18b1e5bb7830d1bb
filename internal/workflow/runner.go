package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"radt1cal/internal/config"
	"radt1cal/internal/layout"
	"radt1cal/internal/logging"
	"radt1cal/internal/pipeline"
	"radt1cal/internal/preflight"
	"radt1cal/internal/queue"
	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

// Runner executes the pipeline for subjects and records each run.
type Runner struct {
	cfg           *config.Config
	store         *queue.Store
	executor      services.Executor
	logger        *slog.Logger
	skipPreflight bool
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records runs and stage outcomes in the ledger.
func WithStore(store *queue.Store) Option {
	return func(r *Runner) { r.store = store }
}

// WithExecutor replaces the process executor used by external tools.
func WithExecutor(executor services.Executor) Option {
	return func(r *Runner) { r.executor = executor }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithoutPreflight skips the dependency and directory checks.
func WithoutPreflight() Option {
	return func(r *Runner) { r.skipPreflight = true }
}

// NewRunner constructs a Runner for cfg.
func NewRunner(cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "workflow")
	return r
}

// SubjectRequest selects the scans of one subject.
type SubjectRequest struct {
	ParentDir string
	Subject   string
	Session   string
	// ScanPath processes a single scan instead of discovering them.
	ScanPath string
	// OutputDir overrides the configured output root.
	OutputDir string
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	RunID     string
	Scan      layout.Scan
	Report    *pipeline.Report
	Published map[string]string
	Err       error
}

// SubjectResult collects the scans processed for a subject.
type SubjectResult struct {
	Subject    string
	Session    string
	OutputRoot string
	Scans      []ScanResult
	Err        error
}

// Failed reports whether any scan of the subject failed.
func (r *SubjectResult) Failed() bool {
	return r != nil && r.Err != nil
}

// RunSubject processes every scan of one subject. The returned error joins
// the per-scan failures; the result is populated either way.
func (r *Runner) RunSubject(ctx context.Context, req SubjectRequest) (*SubjectResult, error) {
	outputRoot, err := r.outputRoot(req.OutputDir, req.ParentDir)
	if err != nil {
		return nil, err
	}
	if err := r.preflight(ctx, outputRoot); err != nil {
		return nil, err
	}
	result := r.runSubject(ctx, req, outputRoot)
	return result, result.Err
}

func (r *Runner) outputRoot(out, parent string) (string, error) {
	if strings.TrimSpace(out) == "" {
		out = r.cfg.Paths.OutputRoot
	}
	if strings.TrimSpace(out) == "" {
		return "", services.Wrap(services.ErrConfiguration, "workflow", "resolve output", "output directory is required", nil)
	}
	abs, err := filepath.Abs(out)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "workflow", "resolve output", out, err)
	}
	if parent != "" {
		if absParent, err := filepath.Abs(parent); err == nil {
			parent = absParent
		}
	}
	return layout.ResolveOutputRoot(abs, parent), nil
}

func (r *Runner) preflight(ctx context.Context, outputRoot string) error {
	if r.skipPreflight {
		return nil
	}
	results := preflight.RunAll(ctx, r.cfg, outputRoot)
	for _, result := range results {
		if !result.Passed {
			logging.WarnWithContext(r.logger, "preflight check failed", "preflight_failed",
				logging.String("check", result.Name),
				logging.String("detail", result.Detail),
				logging.String(logging.FieldImpact, "no subject will be processed"),
				logging.String(logging.FieldErrorHint, "run radt1cal deps and fix the reported paths"),
			)
		}
	}
	return preflight.Err(results)
}

func (r *Runner) runSubject(ctx context.Context, req SubjectRequest, outputRoot string) *SubjectResult {
	result := &SubjectResult{Subject: req.Subject, Session: req.Session, OutputRoot: outputRoot}
	ctx = services.WithSubject(ctx, req.Subject)
	if req.Session != "" {
		ctx = services.WithSession(ctx, req.Session)
	}
	logger := logging.WithContext(ctx, r.logger)

	if layout.SubjectLevel(outputRoot, req.Subject) {
		logging.WarnWithContext(logger, "output directory looks like a subject folder", "output_layout",
			logging.String("output_root", outputRoot),
			logging.String(logging.FieldImpact, "derivatives will be nested below the subject folder"),
			logging.String(logging.FieldErrorHint, "pass the dataset-level output directory"),
		)
	}

	scans, err := r.scans(req)
	if err != nil {
		result.Err = err
		return result
	}

	router := layout.NewRouter(outputRoot, r.cfg.Workflow.PipelineName)
	lock, err := router.AcquireLock(layout.Key{Subject: req.Subject, Session: req.Session})
	if err != nil {
		result.Err = err
		return result
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Debug("release output lock", logging.Error(err))
		}
	}()

	logger.Info("subject started",
		logging.String(logging.FieldEventType, "subject_start"),
		logging.Int("scans", len(scans)),
		logging.String("output_root", router.Dir(layout.Key{Subject: req.Subject, Session: req.Session})),
	)
	var errs []error
	for _, scan := range scans {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		scanResult := r.runScan(ctx, router, scan)
		if scanResult.Err != nil {
			errs = append(errs, scanResult.Err)
		}
		result.Scans = append(result.Scans, scanResult)
	}
	result.Err = errors.Join(errs...)
	if result.Err == nil {
		logger.Info("subject completed", logging.String(logging.FieldEventType, "subject_complete"))
	}
	return result
}

func (r *Runner) scans(req SubjectRequest) ([]layout.Scan, error) {
	if strings.TrimSpace(req.ScanPath) == "" {
		return layout.FindScans(req.ParentDir, req.Subject, req.Session)
	}
	if strings.TrimSpace(req.Subject) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "select scan", "subject id is required", nil)
	}
	if _, err := os.Stat(req.ScanPath); err != nil {
		return nil, services.Wrap(services.ErrNoInput, "workflow", "select scan", req.ScanPath, err)
	}
	return []layout.Scan{{Subject: req.Subject, Session: req.Session, Path: req.ScanPath}}, nil
}

// scanWorkDir is <work>/<subject>[/<session>]/<scanBase>.
func (r *Runner) scanWorkDir(scan layout.Scan) string {
	parts := []string{r.cfg.Paths.WorkDir, scan.Subject}
	if scan.Session != "" {
		parts = append(parts, scan.Session)
	}
	return filepath.Join(append(parts, volume.BaseName(scan.Path))...)
}

func (r *Runner) runScan(ctx context.Context, router *layout.Router, scan layout.Scan) ScanResult {
	runID := uuid.NewString()
	result := ScanResult{RunID: runID, Scan: scan}
	ctx = services.WithRequestID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger).With(logging.String("scan", scan.Path))
	started := time.Now()

	if r.store != nil {
		if _, err := r.store.BeginRun(ctx, queue.Run{
			ID:        runID,
			Subject:   scan.Subject,
			Session:   scan.Session,
			ScanPath:  scan.Path,
			Pipeline:  r.cfg.Workflow.PipelineName,
			OutputDir: router.Dir(scan.Key()),
			TestMode:  r.cfg.Registration.TestMode,
		}); err != nil {
			logging.WarnWithContext(logger, "failed to record run in ledger", "ledger_write_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "status will not list this run"),
			)
		}
	}

	report, published, err := r.executeScan(ctx, router, scan, runID, logger)
	result.Report = report
	result.Published = published
	result.Err = err
	r.finishRun(ctx, runID, err, logger)

	if err != nil {
		logging.ErrorWithContext(logger, "scan failed", "scan_failure",
			logging.Error(err),
			logging.Duration("duration", time.Since(started)),
			logging.String(logging.FieldErrorHint, "run radt1cal status "+runID[:8]+" for stage details"),
		)
		return result
	}
	logger.Info("scan completed",
		logging.String(logging.FieldEventType, "scan_complete"),
		logging.Duration("duration", time.Since(started)),
		logging.Int("published", len(published)),
	)
	return result
}

func (r *Runner) executeScan(ctx context.Context, router *layout.Router, scan layout.Scan, runID string, logger *slog.Logger) (*pipeline.Report, map[string]string, error) {
	ts := NewToolset(r.cfg, r.executor, logger)
	graph, err := BuildGraph(ts, Inputs{Scan: scan.Path, Template: r.cfg.Paths.Template, Atlas: r.cfg.Paths.Atlas})
	if err != nil {
		return nil, nil, err
	}
	order, err := graph.Validate(ctx)
	if err != nil {
		return nil, nil, err
	}
	var observer pipeline.Observer
	if r.store != nil {
		ledger := newLedgerObserver(r.store, runID, order, logger)
		ledger.recordPending(ctx, order)
		observer = ledger
	}

	workDir := r.scanWorkDir(scan)
	report, runErr := graph.Run(ctx, pipeline.RunOptions{
		WorkDir:  workDir,
		Subject:  scan.Subject,
		Timeout:  r.cfg.StageTimeout,
		Reuse:    r.cfg.Workflow.ReuseWorkDirs,
		Observer: observer,
		Logger:   logger,
	})

	// Partial results of a failed run are still published.
	published, pubErr := router.Publish(scan.Key(), artifacts(report))
	if pubErr != nil {
		logging.WarnWithContext(logger, "failed to publish outputs", "publish_failed",
			logging.Error(pubErr),
			logging.String(logging.FieldImpact, "some derivatives are missing from the output directory"),
		)
	}

	err = runErr
	if err == nil && report != nil {
		err = report.Err()
	}
	if err == nil {
		err = pubErr
	}
	if err == nil && !r.cfg.Workflow.KeepIntermediates {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			logger.Debug("remove work directory", logging.String("work_dir", workDir), logging.Error(rmErr))
		}
	}
	return report, published, err
}

func (r *Runner) finishRun(ctx context.Context, runID string, runErr error, logger *slog.Logger) {
	if r.store == nil {
		return
	}
	status := queue.StatusCompleted
	message := ""
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		status = queue.StatusInterrupted
		message = "interrupted"
	default:
		status = queue.StatusFailed
		message = summarizeError(runErr)
	}
	if err := r.store.FinishRun(context.WithoutCancel(ctx), runID, status, message); err != nil {
		logging.WarnWithContext(logger, "failed to finish run in ledger", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "status may show this run as running"),
		)
	}
}

// summarizeError keeps the first line of a joined error and counts the rest.
func summarizeError(err error) string {
	lines := strings.Split(strings.TrimSpace(err.Error()), "\n")
	if len(lines) <= 1 {
		return lines[0]
	}
	return fmt.Sprintf("%s (+%d more)", lines[0], len(lines)-1)
}
