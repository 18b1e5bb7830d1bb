// Package queue persists the run ledger in SQLite.
//
// Every subject run gets a row keyed by its correlation id, and every stage
// transition of that run is upserted into a child table, so `radt1cal
// status` can show what ran, what was reused from a previous work directory
// and why something failed. Runs left in the running state by a crashed
// process are marked interrupted the next time the store is opened for
// writing.
//
// The database is a diagnostic record, not a source of truth for outputs.
// The layout version lives in PRAGMA user_version. Changing the tables bumps
// ledgerVersion, and older ledgers are refused rather than migrated.
package queue
