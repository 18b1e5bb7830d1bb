// Package tools adapts the FSL, ANTs and ROI aggregation steps to the
// stage.Tool contract.
//
// Each external tool receives concrete input paths from the pipeline, runs
// one command inside its private work directory and reports the files it
// produced as typed outputs. Output naming inside the work directory is an
// implementation detail; the layout package decides where artifacts land.
package tools
