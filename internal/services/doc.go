// Package services defines shared utilities consumed by the pipeline stages
// and the external neuroimaging tools they drive.
//
// Key responsibilities:
//   - Context helpers that stamp subject, session, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent CLI exit codes and run ledger outcomes.
//   - A thin command execution abstraction so external tool invocations stay
//     testable.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, timeouts) stays uniform across the pipeline.
package services
