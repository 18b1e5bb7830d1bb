// Package workflow runs the T1 preprocessing and ROI measurement pipeline
// for subjects.
//
// BuildGraph wires the external FSL and ANTs tools and the in-process ROI
// aggregation into a pipeline.Graph. A Runner discovers a subject's scans,
// gates the run on preflight checks, holds the subject's output lock,
// executes the graph for each scan, publishes routed derivatives and records
// every run and stage outcome in the run ledger. RunBatch fans subjects out
// over a bounded worker pool; one subject failing never stops the others.
package workflow
