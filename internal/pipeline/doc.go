// Package pipeline models a subject's processing as a typed DAG of stages.
//
// Stages declare typed input and output ports. Inputs are bound either to a
// literal value or to an output of another stage through Connect, which
// rejects kind mismatches. Validate checks every input is bound and computes
// a topological order with lvlath; a cycle is a services.ErrConfiguration
// reported before any tool runs.
//
// Run walks that order one stage at a time. Each stage moves through
// Pending, Ready, Running and then Completed or Failed; stages downstream of
// a failure are Skipped while unrelated branches still run. Stage work lives
// in content-addressed directories so an unchanged stage is reused from a
// previous run instead of invoking its tool again.
package pipeline
