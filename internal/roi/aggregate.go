package roi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"radt1cal/internal/features"
	"radt1cal/internal/logging"
	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

// Options parameterise one aggregation pass.
type Options struct {
	// MaxLabel bounds the region range; zero derives it from the atlas.
	MaxLabel int
	// VoxelDims overrides the image spacing when non-zero.
	VoxelDims [3]float64
	Features  features.Config
	// ScratchDir receives per-region masks while features are extracted.
	ScratchDir string
	Workers    int
}

// RegionResult is the outcome of a region that produced a volume and, when
// extraction is enabled, a feature vector.
type RegionResult struct {
	Region   int
	Voxels   int
	Volume   float64
	Features features.Vector
}

// RegionFailure records a region dropped from the tables.
type RegionFailure struct {
	Region int    `csv:"ROI"`
	Error  string `csv:"Error"`
}

// Result holds the merged, region-sorted outcome of an aggregation pass.
type Result struct {
	AtlasPath    string
	MaxLabel     int
	Regions      []RegionResult
	Failures     []RegionFailure
	FeatureNames []string
	// FeaturesEnabled is false when no extractor was configured.
	FeaturesEnabled bool
}

// Aggregator computes per-region volumes and features.
type Aggregator struct {
	Extractor features.Extractor
	Logger    *slog.Logger
}

// NewAggregator returns an aggregator; a nil extractor yields volume-only results.
func NewAggregator(extractor features.Extractor, logger *slog.Logger) *Aggregator {
	return &Aggregator{Extractor: extractor, Logger: logging.NewComponentLogger(logger, "roi")}
}

type regionOutcome struct {
	present bool
	result  RegionResult
	err     error
}

// Aggregate visits regions 1..maxLabel of atlas, skipping absent labels, and
// measures each against image. Per-region extraction failures are recorded in
// Result.Failures and never abort the pass; a cancelled context does.
func (a *Aggregator) Aggregate(ctx context.Context, atlas, image *volume.Volume, opts Options) (*Result, error) {
	logger := logging.WithContext(ctx, a.logger())
	if atlas == nil || image == nil {
		return nil, services.Wrap(services.ErrValidation, "roi", "aggregate", "atlas and image are required", nil)
	}
	if atlas.Dims != image.Dims {
		return nil, services.Wrap(services.ErrValidation, "roi", "aggregate",
			fmt.Sprintf("atlas grid %v does not match image grid %v", atlas.Dims, image.Dims), nil)
	}
	if !volume.SameGrid(atlas, image, 1e-3) {
		logging.WarnWithContext(logger, "atlas and image affines differ", "roi_grid_mismatch",
			logging.String("atlas", atlas.Path),
			logging.String("image", image.Path),
			logging.String(logging.FieldErrorHint, "confirm the atlas was warped into the bias-corrected image space"),
			logging.String(logging.FieldImpact, "voxels are matched by index only"),
		)
	}

	extract := a.Extractor != nil
	if extract {
		if image.Path == "" {
			return nil, services.Wrap(services.ErrValidation, "roi", "aggregate", "feature extraction needs an on-disk image", nil)
		}
		if opts.ScratchDir == "" {
			return nil, services.Wrap(services.ErrValidation, "roi", "aggregate", "feature extraction needs a scratch directory", nil)
		}
		if err := os.MkdirAll(opts.ScratchDir, 0o755); err != nil {
			return nil, services.Wrap(services.ErrValidation, "roi", "aggregate", "create scratch directory", err)
		}
	}

	maxLabel := opts.MaxLabel
	if maxLabel <= 0 {
		derived, err := atlas.MaxLabel()
		if err != nil {
			return nil, err
		}
		maxLabel = derived
	}
	if maxLabel > volume.MaxRegionLabel {
		return nil, services.Wrap(services.ErrValidation, "roi", "aggregate",
			fmt.Sprintf("max label %d exceeds %d", maxLabel, volume.MaxRegionLabel), nil)
	}
	voxelDims := opts.VoxelDims
	if voxelDims == [3]float64{} {
		voxelDims = image.Spacing
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	logger.Info("roi aggregation started",
		logging.String(logging.FieldEventType, "roi_aggregation_start"),
		logging.Int("max_label", maxLabel),
		logging.Int("workers", workers),
		logging.Bool("features", extract),
	)

	outcomes := make([]regionOutcome, maxLabel+1)
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(workers)
	for region := 1; region <= maxLabel; region++ {
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			outcome, err := a.processRegion(groupCtx, atlas, image, region, voxelDims, extract, opts)
			if err != nil {
				return err
			}
			outcomes[region] = outcome
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{AtlasPath: atlas.Path, MaxLabel: maxLabel, FeaturesEnabled: extract}
	for region := 1; region <= maxLabel; region++ {
		outcome := outcomes[region]
		if !outcome.present {
			continue
		}
		if outcome.err != nil {
			result.Failures = append(result.Failures, RegionFailure{Region: region, Error: services.Details(outcome.err).Message})
			continue
		}
		result.Regions = append(result.Regions, outcome.result)
	}
	if extract && len(result.Regions) > 0 {
		result.FeatureNames = result.Regions[0].Features.Names()
	}

	logger.Info("roi aggregation completed",
		logging.String(logging.FieldEventType, "roi_aggregation_complete"),
		logging.Int("regions", len(result.Regions)),
		logging.Int("failed", len(result.Failures)),
		logging.Int("features", len(result.FeatureNames)),
	)
	return result, nil
}

// processRegion returns an error only for cancellation; everything else is
// carried in the outcome.
func (a *Aggregator) processRegion(ctx context.Context, atlas, image *volume.Volume, region int, voxelDims [3]float64, extract bool, opts Options) (regionOutcome, error) {
	logger := logging.WithContext(ctx, a.logger()).With(logging.Region(region))

	mask, present := DeriveMask(atlas, region)
	if !present {
		logger.Debug("region absent from atlas")
		return regionOutcome{}, nil
	}

	outcome := regionOutcome{present: true}
	vol, err := ComputeVolume(image, mask, voxelDims)
	if err != nil {
		outcome.err = services.Wrap(services.ErrValidation, "roi", "volume", fmt.Sprintf("region %d", region), err)
		return outcome, nil
	}
	outcome.result = RegionResult{Region: region, Voxels: mask.Count, Volume: vol}

	if !extract {
		return outcome, nil
	}

	vector, err := a.extractRegion(ctx, atlas, image, mask, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return regionOutcome{}, err
		}
		logging.WarnWithContext(logger, "region feature extraction failed", "roi_extraction_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the region mask size and the radiomics log"),
			logging.String(logging.FieldImpact, "region excluded from volume and feature tables"),
		)
		outcome.err = err
		return outcome, nil
	}
	outcome.result.Features = vector
	logger.Debug("region measured", logging.Float64("volume_mm3", vol), logging.Int("features", len(vector)))
	return outcome, nil
}

func (a *Aggregator) extractRegion(ctx context.Context, atlas, image *volume.Volume, mask Mask, opts Options) (features.Vector, error) {
	maskPath := filepath.Join(opts.ScratchDir, MaskFileName(atlas.Path, mask.Region))
	defer os.Remove(maskPath)

	if err := volume.WriteMask(maskPath, atlas, mask.Voxels); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "roi", "write mask", fmt.Sprintf("region %d", mask.Region), err)
	}
	vector, err := a.Extractor.Extract(ctx, image.Path, maskPath, opts.Features)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if !errors.Is(err, services.ErrExtraction) {
			err = services.Wrap(services.ErrExtraction, "roi", "extract", fmt.Sprintf("region %d", mask.Region), err)
		}
		return nil, err
	}
	return vector, nil
}

// MaskFileName is the scratch file name for a region mask of atlasPath.
func MaskFileName(atlasPath string, region int) string {
	base := volume.BaseName(atlasPath)
	if base == "" {
		base = "atlas"
	}
	return fmt.Sprintf("%s_roi%d.nii.gz", base, region)
}

func (a *Aggregator) logger() *slog.Logger {
	if a.Logger == nil {
		return logging.NewNop()
	}
	return a.Logger
}
