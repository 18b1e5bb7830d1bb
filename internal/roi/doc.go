// Package roi derives per-region masks from a subject-space label atlas and
// aggregates region volumes and radiomics features into sorted tables.
//
// Regions 1..maxLabel are visited by a bounded worker pool. Each task owns
// the scratch mask file it writes and removes it before returning, whatever
// the outcome. Results are merged and sorted by region id only after every
// task has finished, so table contents never depend on scheduling.
package roi
