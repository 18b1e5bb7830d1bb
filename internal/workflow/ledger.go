package workflow

import (
	"context"
	"log/slog"
	"time"

	"radt1cal/internal/logging"
	"radt1cal/internal/pipeline"
	"radt1cal/internal/queue"
)

// ledgerObserver persists stage transitions for one run. Ledger write
// failures are logged and never fail the run.
type ledgerObserver struct {
	store     *queue.Store
	runID     string
	positions map[string]int
	logger    *slog.Logger
}

func newLedgerObserver(store *queue.Store, runID string, order []string, logger *slog.Logger) *ledgerObserver {
	positions := make(map[string]int, len(order))
	for i, name := range order {
		positions[name] = i
	}
	return &ledgerObserver{store: store, runID: runID, positions: positions, logger: logger}
}

// recordPending seeds every stage so an interrupted run still lists the
// stages it never reached.
func (o *ledgerObserver) recordPending(ctx context.Context, order []string) {
	for _, name := range order {
		o.record(ctx, queue.StageRecord{
			RunID:    o.runID,
			Stage:    name,
			Position: o.positions[name],
			State:    pipeline.StatePending.String(),
		})
	}
}

func (o *ledgerObserver) StageStarted(ctx context.Context, name string) {
	now := time.Now()
	o.record(ctx, queue.StageRecord{
		RunID:     o.runID,
		Stage:     name,
		Position:  o.positions[name],
		State:     pipeline.StateRunning.String(),
		StartedAt: &now,
	})
}

func (o *ledgerObserver) StageFinished(ctx context.Context, report pipeline.StageReport) {
	record := queue.StageRecord{
		RunID:    o.runID,
		Stage:    report.Name,
		Position: o.positions[report.Name],
		State:    report.State.String(),
		Reused:   report.Reused,
		WorkDir:  report.WorkDir,
		Duration: report.Duration(),
	}
	if !report.Started.IsZero() {
		started := report.Started
		record.StartedAt = &started
	}
	if !report.Finished.IsZero() {
		finished := report.Finished
		record.FinishedAt = &finished
	}
	switch {
	case report.Err != nil:
		record.ErrorMessage = report.Err.Error()
	case report.BlockedBy != "":
		record.ErrorMessage = "blocked by " + report.BlockedBy
	}
	o.record(ctx, record)
}

func (o *ledgerObserver) record(ctx context.Context, record queue.StageRecord) {
	if o == nil || o.store == nil {
		return
	}
	// A cancelled run still gets its final stage states written.
	if err := o.store.RecordStage(context.WithoutCancel(ctx), record); err != nil {
		logging.WarnWithContext(o.logger, "failed to record stage in run ledger", "ledger_write_failed",
			logging.String(logging.FieldStage, record.Stage),
			logging.Error(err),
			logging.String(logging.FieldImpact, "status output may be incomplete for this run"),
		)
	}
}
