package features

import (
	"context"
	"sort"
)

// Vector maps feature names to values for one region.
type Vector map[string]float64

// Names returns the feature names in lexicographic order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config selects which feature families the extractor computes.
type Config struct {
	// EnabledFamilies lists family names; empty enables all of them.
	EnabledFamilies []string
	BinWidth        float64
}

// AllFamilies reports whether every family is enabled.
func (c Config) AllFamilies() bool {
	return len(c.EnabledFamilies) == 0
}

// Extractor computes a feature vector for the voxels selected by a mask.
type Extractor interface {
	Extract(ctx context.Context, imagePath, maskPath string, cfg Config) (Vector, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, imagePath, maskPath string, cfg Config) (Vector, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, imagePath, maskPath string, cfg Config) (Vector, error) {
	return f(ctx, imagePath, maskPath, cfg)
}
