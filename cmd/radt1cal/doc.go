// Package main hosts the radt1cal CLI entrypoint and command graph.
//
// The Cobra command tree runs the T1 preprocessing and ROI measurement
// pipeline for one subject or a whole dataset, aggregates ROI tables for an
// already registered atlas, prints the stage plan, reports external tool
// availability and lists recorded runs. Configuration is loaded once per
// invocation and shared by subcommands; the heavy lifting lives in
// internal/workflow.
package main
