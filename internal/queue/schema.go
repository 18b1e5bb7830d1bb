package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is stored in PRAGMA user_version.
const ledgerVersion = 1

// ErrSchemaMismatch reports a ledger written by a different radt1cal release.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema creates the ledger tables in an empty database and otherwise
// insists that the stored user_version matches ledgerVersion.
func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	if version == ledgerVersion {
		return nil
	}
	if version != 0 {
		return s.mismatch(version)
	}

	// user_version 0 is either a fresh file or a ledger that predates
	// versioning; only the former may be initialised.
	var runsTable int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='runs'",
	).Scan(&runsTable); err != nil {
		return fmt.Errorf("inspect ledger: %w", err)
	}
	if runsTable != 0 {
		return s.mismatch(version)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger setup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", ledgerVersion)); err != nil {
		return fmt.Errorf("stamp ledger version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger setup: %w", err)
	}
	return nil
}

func (s *Store) mismatch(found int) error {
	return fmt.Errorf("%w: ledger %s has version %d, this build writes %d (move it aside to start a fresh ledger)",
		ErrSchemaMismatch, s.path, found, ledgerVersion)
}
