package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"radt1cal/internal/layout"
	"radt1cal/internal/logging"
)

// BatchRequest selects the subjects of a dataset.
type BatchRequest struct {
	ParentDir string
	Session   string
	OutputDir string
	// Subjects limits the batch; empty means every sub-* directory.
	Subjects []string
}

// BatchResult holds one result per subject in request order.
type BatchResult struct {
	Subjects []*SubjectResult
}

// Failed returns the subjects whose run did not succeed.
func (b *BatchResult) Failed() []*SubjectResult {
	var failed []*SubjectResult
	for _, result := range b.Subjects {
		if result.Failed() {
			failed = append(failed, result)
		}
	}
	return failed
}

// Err summarizes failed subjects, or returns nil.
func (b *BatchResult) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, result := range failed {
		errs = append(errs, fmt.Errorf("%s: %w", result.Subject, result.Err))
	}
	return errors.Join(errs...)
}

// RunBatch processes subjects with up to Workflow.SubjectWorkers in
// parallel. A failing subject never stops the others; only preflight,
// discovery and cancellation end the batch early.
func (r *Runner) RunBatch(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	subjects := req.Subjects
	if len(subjects) == 0 {
		found, err := layout.Subjects(req.ParentDir, req.Session)
		if err != nil {
			return nil, err
		}
		subjects = found
	}
	outputRoot, err := r.outputRoot(req.OutputDir, req.ParentDir)
	if err != nil {
		return nil, err
	}
	if err := r.preflight(ctx, outputRoot); err != nil {
		return nil, err
	}

	workers := r.cfg.Workflow.SubjectWorkers
	if workers < 1 {
		workers = 1
	}
	r.logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_start"),
		logging.Int("subjects", len(subjects)),
		logging.Int("workers", workers),
		logging.String("subject_ids", strings.Join(subjects, ",")),
	)

	result := &BatchResult{Subjects: make([]*SubjectResult, len(subjects))}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for i, subject := range subjects {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				result.Subjects[i] = &SubjectResult{Subject: subject, Session: req.Session, Err: err}
				return nil
			}
			result.Subjects[i] = r.runSubject(groupCtx, SubjectRequest{
				ParentDir: req.ParentDir,
				Subject:   subject,
				Session:   req.Session,
			}, outputRoot)
			return nil
		})
	}
	_ = group.Wait()

	failed := len(result.Failed())
	r.logger.Info("batch finished",
		logging.String(logging.FieldEventType, "batch_complete"),
		logging.Int("subjects", len(subjects)),
		logging.Int("failed", failed),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}
