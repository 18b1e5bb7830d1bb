// Package features adapts external radiomics extraction to the per-region
// aggregation loop.
//
// An Extractor turns an intensity image and a binary region mask into a flat
// name to value mapping. The Radiomics implementation drives the pyradiomics
// command line tool, passing the enabled feature families through a generated
// YAML parameter file and keeping only the numeric features computed on the
// original (unfiltered) image. Any rejection by the tool is reported as
// services.ErrExtraction so callers can record it against the region and move
// on.
package features
