package tools

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"radt1cal/internal/services"
	"radt1cal/internal/stage"
)

// Level is one antsRegistration stage: a transform with its metric and
// multi-resolution schedule.
type Level struct {
	Transform  string
	Params     []float64
	Bins       int
	Sampling   string
	Percentage float64
	Iterations []int
	Threshold  float64
	Window     int
	Smoothing  []int
	Shrink     []int
}

// Schedule is the ordered list of registration levels.
type Schedule []Level

// FullSchedule is the Affine then SyN schedule used for production runs.
func FullSchedule() Schedule {
	return Schedule{
		{
			Transform:  "Affine",
			Params:     []float64{2.0},
			Bins:       32,
			Sampling:   "Random",
			Percentage: 0.05,
			Iterations: []int{1500, 200},
			Threshold:  1e-8,
			Window:     20,
			Smoothing:  []int{1, 0},
			Shrink:     []int{2, 1},
		},
		{
			Transform:  "SyN",
			Params:     []float64{0.25, 3.0, 0.0},
			Bins:       32,
			Iterations: []int{100, 50, 30},
			Threshold:  1e-9,
			Window:     20,
			Smoothing:  []int{2, 1, 0},
			Shrink:     []int{3, 2, 1},
		},
	}
}

// TestSchedule keeps the shape of FullSchedule with token iteration counts.
// Outputs have the same names and grids, only lower fidelity.
func TestSchedule() Schedule {
	s := FullSchedule()
	s[0].Iterations = []int{10, 5}
	s[1].Iterations = []int{4, 2, 1}
	return s
}

func (s Schedule) String() string {
	parts := make([]string, 0, len(s))
	for _, level := range s {
		parts = append(parts, level.Transform+"["+joinInts(level.Iterations, "x")+"]")
	}
	return strings.Join(parts, "+")
}

// Registration warps the template (moving) onto the subject (fixed) with
// antsRegistration and exposes the forward transforms for label warping.
type Registration struct {
	command
	Schedule Schedule
}

func NewRegistration(binary string, testMode bool, executor services.Executor, logger *slog.Logger) *Registration {
	schedule := FullSchedule()
	if testMode {
		schedule = TestSchedule()
	}
	return &Registration{command: newCommand("registration", binary, executor, logger), Schedule: schedule}
}

func (t *Registration) Identity() string { return "ants/" + t.binary + " " + t.Schedule.String() }

const transformPrefix = "transform"

// Args returns the antsRegistration command line.
func (t *Registration) Args(fixed, moving, workDir string) []string {
	prefix := filepath.Join(workDir, transformPrefix)
	args := []string{
		"--dimensionality", "3",
		"--float", "0",
		"--output", "[" + prefix + "," + prefix + "_Warped.nii.gz]",
		"--interpolation", "Linear",
		"--initialize-transforms-per-stage", "0",
		"--collapse-output-transforms", "0",
		"--write-composite-transform", "0",
	}
	for _, level := range t.Schedule {
		metric := fmt.Sprintf("Mattes[%s,%s,1,%d", fixed, moving, level.Bins)
		if level.Sampling != "" {
			metric += fmt.Sprintf(",%s,%s", level.Sampling, formatFloat(level.Percentage))
		}
		metric += "]"
		args = append(args,
			"--transform", level.Transform+"["+joinFloats(level.Params)+"]",
			"--metric", metric,
			"--convergence", fmt.Sprintf("[%s,%s,%d]", joinInts(level.Iterations, "x"), formatFloat(level.Threshold), level.Window),
			"--smoothing-sigmas", joinInts(level.Smoothing, "x")+"vox",
			"--shrink-factors", joinInts(level.Shrink, "x"),
			"--use-histogram-matching", "1",
		)
	}
	return args
}

func (t *Registration) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	fixed, err := stage.RequireVolume(call, PortFixed)
	if err != nil {
		return nil, err
	}
	moving, err := stage.RequireVolume(call, PortMoving)
	if err != nil {
		return nil, err
	}
	if err := t.run(ctx, call, t.Args(fixed, moving, call.WorkDir)); err != nil {
		return nil, err
	}
	prefix := filepath.Join(call.WorkDir, transformPrefix)
	warped, err := locate(call, prefix+"_Warped")
	if err != nil {
		return nil, err
	}
	affine := prefix + "0GenericAffine.mat"
	if _, err := locateFile(call, affine); err != nil {
		return nil, err
	}
	warp, err := locate(call, prefix+"1Warp")
	if err != nil {
		return nil, err
	}
	// antsApplyTransforms applies the list last to first: affine, then warp.
	return stage.Outputs{
		PortTransforms: stage.Transforms(warp, affine),
		PortWarped:     stage.Volume(warped),
	}, nil
}

// ApplyTransforms resamples an atlas into subject space with
// antsApplyTransforms. Nearest-neighbour interpolation keeps labels integral.
type ApplyTransforms struct {
	command
}

func NewApplyTransforms(binary string, executor services.Executor, logger *slog.Logger) *ApplyTransforms {
	return &ApplyTransforms{command: newCommand("label_warp", binary, executor, logger)}
}

func (t *ApplyTransforms) Identity() string { return "ants/" + t.binary + " NearestNeighbor" }

// Args returns the antsApplyTransforms command line.
func (t *ApplyTransforms) Args(labels, reference, output string, transforms []string) []string {
	args := []string{
		"--dimensionality", "3",
		"--input", labels,
		"--reference-image", reference,
		"--output", output,
		"--interpolation", "NearestNeighbor",
		"--default-value", "0",
	}
	for _, transform := range transforms {
		args = append(args, "--transform", transform)
	}
	return args
}

func (t *ApplyTransforms) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	labels, err := stage.RequireVolume(call, PortLabels)
	if err != nil {
		return nil, err
	}
	reference, err := stage.RequireVolume(call, PortReference)
	if err != nil {
		return nil, err
	}
	transforms, err := stage.RequireTransforms(call, PortTransforms)
	if err != nil {
		return nil, err
	}
	output := outputBase(call, labels, "_trans") + ".nii.gz"
	if err := t.run(ctx, call, t.Args(labels, reference, output, transforms)); err != nil {
		return nil, err
	}
	if _, err := locateFile(call, output); err != nil {
		return nil, err
	}
	return stage.Outputs{PortAtlas: stage.Volume(output)}, nil
}

func joinInts(values []int, sep string) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, sep)
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatFloat(v)
	}
	return strings.Join(parts, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
