package queue

import (
	"context"
	"fmt"
	"time"
)

// Summarize counts runs grouped by status.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("run summary: %w", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, err
		}
		summary.Total += count
		switch status {
		case StatusRunning:
			summary.Running += count
		case StatusCompleted:
			summary.Completed += count
		case StatusFailed:
			summary.Failed += count
		case StatusInterrupted:
			summary.Interrupted += count
		}
	}
	return summary, rows.Err()
}

// MarkInterrupted moves runs still marked running, and their unfinished
// stages, to interrupted. It returns the number of runs changed.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin interrupt tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE stages SET state = 'interrupted', finished_at = ?
         WHERE state IN ('pending', 'ready', 'running')
           AND run_id IN (SELECT id FROM runs WHERE status = ?)`,
		now, StatusRunning,
	); err != nil {
		return 0, fmt.Errorf("interrupt stages: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, error_message = 'process exited before the run finished'
         WHERE status = ?`,
		StatusInterrupted, now, StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("interrupt runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit interrupt: %w", err)
	}
	return res.RowsAffected()
}

// Prune deletes finished runs older than cutoff along with their stages.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE status != ? AND started_at < ?`,
		StatusRunning, cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
