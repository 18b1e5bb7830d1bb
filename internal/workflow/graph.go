package workflow

import (
	"fmt"
	"log/slog"
	"strconv"

	"radt1cal/internal/config"
	"radt1cal/internal/deps"
	"radt1cal/internal/features"
	"radt1cal/internal/pipeline"
	"radt1cal/internal/roi"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
	"radt1cal/internal/tools"
)

// Stage names in execution order.
const (
	StageReorient        = "reorient"
	StageBrainExtraction = "brain_extraction"
	StageBiasCorrection  = "bias_correction"
	StageRegistration    = "registration"
	StageLabelWarp       = "label_warp"
	StageAggregate       = "roi_aggregate"
)

// Toolset holds the tool bound to each stage.
type Toolset struct {
	Reorient        stage.Tool
	BrainExtraction stage.Tool
	BiasCorrection  stage.Tool
	Registration    stage.Tool
	LabelWarp       stage.Tool
	Aggregate       *tools.Aggregate
}

// ToolEnvironment is the environment every external tool runs with.
func ToolEnvironment(cfg *config.Config) []string {
	env := []string{"FSLOUTPUTTYPE=NIFTI_GZ"}
	if cfg != nil && cfg.Registration.Threads > 0 {
		env = append(env, "ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS="+strconv.Itoa(cfg.Registration.Threads))
	}
	return env
}

// NewToolset constructs the production tools from cfg. A nil executor uses
// the process executor with ToolEnvironment.
func NewToolset(cfg *config.Config, executor services.Executor, logger *slog.Logger) Toolset {
	if executor == nil {
		executor = services.NewExecutor(ToolEnvironment(cfg)...)
	}
	fsl := func(cmd string) string { return deps.Resolve(cmd, deps.SuiteFSL) }
	ants := func(cmd string) string { return deps.Resolve(cmd, deps.SuiteANTs) }
	return Toolset{
		Reorient: tools.NewReorient(fsl(cfg.Tools.Reorient), executor, logger),
		BrainExtraction: tools.NewBrainExtraction(fsl(cfg.Tools.BrainExtraction),
			cfg.BrainExtraction.FractionalIntensity, cfg.BrainExtraction.Robust, executor, logger),
		BiasCorrection: tools.NewBiasCorrection(fsl(cfg.Tools.BiasCorrection), executor, logger),
		Registration:   tools.NewRegistration(ants(cfg.Tools.Registration), cfg.Registration.TestMode, executor, logger),
		LabelWarp:      tools.NewApplyTransforms(ants(cfg.Tools.ApplyTransforms), executor, logger),
		Aggregate:      tools.NewAggregate(newExtractor(cfg, executor, logger), AggregateOptions(cfg), logger),
	}
}

func newExtractor(cfg *config.Config, executor services.Executor, logger *slog.Logger) features.Extractor {
	if !cfg.Features.Enabled {
		return nil
	}
	return features.NewRadiomics(deps.Resolve(cfg.Tools.Radiomics, deps.SuiteRadiomics), executor, logger)
}

// AggregateOptions maps the features section onto ROI aggregation options.
func AggregateOptions(cfg *config.Config) roi.Options {
	return roi.Options{
		MaxLabel: cfg.Features.MaxLabel,
		Workers:  cfg.Features.Workers,
		Features: features.Config{
			EnabledFamilies: append([]string(nil), cfg.Features.Families...),
			BinWidth:        cfg.Features.BinWidth,
		},
	}
}

// Inputs names the three files a subject run starts from.
type Inputs struct {
	Scan     string
	Template string
	Atlas    string
}

func volumePort(name string) stage.Port {
	return stage.Port{Name: name, Kind: stage.KindVolume}
}

// BuildGraph wires the preprocessing and measurement stages:
//
//	reorient -> brain_extraction -> bias_correction -> registration -> label_warp -> roi_aggregate
//
// bias_correction also feeds label_warp (reference grid) and roi_aggregate
// (measured image) directly.
func BuildGraph(ts Toolset, in Inputs) (*pipeline.Graph, error) {
	g := pipeline.New()
	stages := []pipeline.Stage{
		{
			Name:    StageReorient,
			Tool:    ts.Reorient,
			Inputs:  []stage.Port{volumePort(tools.PortScan)},
			Outputs: []stage.Port{volumePort(tools.PortImage)},
		},
		{
			Name:    StageBrainExtraction,
			Tool:    ts.BrainExtraction,
			Inputs:  []stage.Port{volumePort(tools.PortImage)},
			Outputs: []stage.Port{volumePort(tools.PortBrain), volumePort(tools.PortMask)},
		},
		{
			Name:    StageBiasCorrection,
			Tool:    ts.BiasCorrection,
			Inputs:  []stage.Port{volumePort(tools.PortBrain)},
			Outputs: []stage.Port{volumePort(tools.PortRestored)},
		},
		{
			Name:   StageRegistration,
			Tool:   ts.Registration,
			Inputs: []stage.Port{volumePort(tools.PortFixed), volumePort(tools.PortMoving)},
			Outputs: []stage.Port{
				{Name: tools.PortTransforms, Kind: stage.KindTransforms},
				volumePort(tools.PortWarped),
			},
		},
		{
			Name: StageLabelWarp,
			Tool: ts.LabelWarp,
			Inputs: []stage.Port{
				volumePort(tools.PortLabels),
				volumePort(tools.PortReference),
				{Name: tools.PortTransforms, Kind: stage.KindTransforms},
			},
			Outputs: []stage.Port{volumePort(tools.PortAtlas)},
		},
	}
	if ts.Aggregate != nil {
		stages = append(stages, pipeline.Stage{
			Name:    StageAggregate,
			Tool:    ts.Aggregate,
			Inputs:  []stage.Port{volumePort(tools.PortImage), volumePort(tools.PortAtlas)},
			Outputs: ts.Aggregate.Outputs(),
		})
	}
	for _, s := range stages {
		if err := g.Add(s); err != nil {
			return nil, err
		}
	}

	binds := []struct {
		stage, input, path string
	}{
		{StageReorient, tools.PortScan, in.Scan},
		{StageRegistration, tools.PortMoving, in.Template},
		{StageLabelWarp, tools.PortLabels, in.Atlas},
	}
	for _, b := range binds {
		if b.path == "" {
			return nil, services.Wrap(services.ErrConfiguration, "workflow", "build graph",
				fmt.Sprintf("%s.%s has no file", b.stage, b.input), nil)
		}
		if err := g.Bind(b.stage, b.input, stage.Volume(b.path)); err != nil {
			return nil, err
		}
	}

	edges := []struct {
		from, output, to, input string
	}{
		{StageReorient, tools.PortImage, StageBrainExtraction, tools.PortImage},
		{StageBrainExtraction, tools.PortBrain, StageBiasCorrection, tools.PortBrain},
		{StageBiasCorrection, tools.PortRestored, StageRegistration, tools.PortFixed},
		{StageBiasCorrection, tools.PortRestored, StageLabelWarp, tools.PortReference},
		{StageRegistration, tools.PortTransforms, StageLabelWarp, tools.PortTransforms},
	}
	if ts.Aggregate != nil {
		edges = append(edges,
			struct{ from, output, to, input string }{StageBiasCorrection, tools.PortRestored, StageAggregate, tools.PortImage},
			struct{ from, output, to, input string }{StageLabelWarp, tools.PortAtlas, StageAggregate, tools.PortAtlas},
		)
	}
	for _, e := range edges {
		if err := g.Connect(e.from, e.output, e.to, e.input); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// routedOutput names the published artifact for a stage output.
type routedOutput struct {
	Stage  string
	Output string
	Name   string
}

// routedOutputs lists every artifact copied into the derivatives tree.
var routedOutputs = []routedOutput{
	{StageReorient, tools.PortImage, "reoriented"},
	{StageBrainExtraction, tools.PortBrain, "brain"},
	{StageBrainExtraction, tools.PortMask, "brain_mask"},
	{StageBiasCorrection, tools.PortRestored, "restored"},
	{StageRegistration, tools.PortWarped, "warpedTemplate"},
	{StageLabelWarp, tools.PortAtlas, "warpedAtlas"},
	{StageAggregate, tools.PortVolumes, roi.VolumeSuffix},
	{StageAggregate, tools.PortFeatures, roi.FeatureSuffix},
	{StageAggregate, tools.PortFailures, roi.FailureSuffix},
}

// artifacts collects the routable outputs of every completed stage.
func artifacts(report *pipeline.Report) map[string]string {
	out := make(map[string]string)
	if report == nil {
		return out
	}
	for _, r := range routedOutputs {
		value, ok := report.Output(r.Stage, r.Output)
		if !ok || value.Path() == "" {
			continue
		}
		out[r.Name] = value.Path()
	}
	return out
}
