package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"radt1cal/internal/features"
	"radt1cal/internal/logging"
	"radt1cal/internal/roi"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
	"radt1cal/internal/volume"
)

// Aggregate measures every atlas region against the subject image in
// process and writes the volume, feature and failure tables.
type Aggregate struct {
	Extractor features.Extractor
	Options   roi.Options
	logger    *slog.Logger
}

// NewAggregate returns the ROI aggregation tool. A nil extractor produces
// volumes only.
func NewAggregate(extractor features.Extractor, opts roi.Options, logger *slog.Logger) *Aggregate {
	return &Aggregate{Extractor: extractor, Options: opts, logger: logging.NewComponentLogger(logger, "roi_aggregate")}
}

// SetLogger implements stage.LoggerAware.
func (t *Aggregate) SetLogger(logger *slog.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

func (t *Aggregate) Identity() string {
	families := "all"
	if !t.Options.Features.AllFamilies() {
		families = strings.Join(t.Options.Features.EnabledFamilies, ",")
	}
	if t.Extractor == nil {
		families = "none"
	}
	return fmt.Sprintf("roi/aggregate max_label=%d families=%s bin_width=%g",
		t.Options.MaxLabel, families, t.Options.Features.BinWidth)
}

// Outputs lists the ports this tool fills.
func (t *Aggregate) Outputs() []stage.Port {
	ports := []stage.Port{
		{Name: PortVolumes, Kind: stage.KindTable},
		{Name: PortFailures, Kind: stage.KindTable},
	}
	if t.Extractor != nil {
		ports = append(ports, stage.Port{Name: PortFeatures, Kind: stage.KindTable})
	}
	return ports
}

func (t *Aggregate) HealthCheck(ctx context.Context) stage.Health {
	if checker, ok := t.Extractor.(interface {
		HealthCheck(context.Context) stage.Health
	}); ok {
		return checker.HealthCheck(ctx)
	}
	return stage.Healthy("roi_aggregate")
}

func (t *Aggregate) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	imagePath, err := stage.RequireVolume(call, PortImage)
	if err != nil {
		return nil, err
	}
	atlasPath, err := stage.RequireVolume(call, PortAtlas)
	if err != nil {
		return nil, err
	}
	image, err := volume.Load(imagePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, call.Stage, "load image", imagePath, err)
	}
	atlas, err := volume.Load(atlasPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, call.Stage, "load atlas", atlasPath, err)
	}

	logger := call.Logger
	if logger == nil {
		logger = t.logger
	}
	opts := t.Options
	opts.ScratchDir = filepath.Join(call.WorkDir, "masks")
	defer os.RemoveAll(opts.ScratchDir)

	result, err := roi.NewAggregator(t.Extractor, logger).Aggregate(ctx, atlas, image, opts)
	if err != nil {
		return nil, err
	}
	paths, err := result.WriteTables(call.WorkDir)
	if err != nil {
		return nil, services.Wrap(services.ErrStageExecution, call.Stage, "write tables", "", err)
	}
	if len(result.Failures) > 0 {
		logging.WarnWithContext(logger, "regions failed during aggregation", "roi_failures",
			logging.Int("failed", len(result.Failures)),
			logging.String("report", paths.Failures),
			logging.String(logging.FieldImpact, "failed regions are missing from the volume and feature tables"),
		)
	}

	outputs := stage.Outputs{
		PortVolumes:  stage.Table(paths.Volumes),
		PortFailures: stage.Table(paths.Failures),
	}
	if paths.Features != "" {
		outputs[PortFeatures] = stage.Table(paths.Features)
	}
	return outputs, nil
}
