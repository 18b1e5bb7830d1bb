package tools

import (
	"context"
	"log/slog"
	"strconv"

	"radt1cal/internal/services"
	"radt1cal/internal/stage"
)

// Reorient rotates a scan into the standard (MNI) orientation with
// fslreorient2std.
type Reorient struct {
	command
}

func NewReorient(binary string, executor services.Executor, logger *slog.Logger) *Reorient {
	return &Reorient{command: newCommand("reorient", binary, executor, logger)}
}

func (t *Reorient) Identity() string { return "fsl/" + t.binary }

func (t *Reorient) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	scan, err := stage.RequireVolume(call, PortScan)
	if err != nil {
		return nil, err
	}
	base := outputBase(call, scan, "_reoriented")
	if err := t.run(ctx, call, []string{scan, base}); err != nil {
		return nil, err
	}
	out, err := locate(call, base)
	if err != nil {
		return nil, err
	}
	return stage.Outputs{PortImage: stage.Volume(out)}, nil
}

// BrainExtraction strips non-brain tissue with bet and keeps the binary mask.
type BrainExtraction struct {
	command
	Fraction float64
	Robust   bool
}

func NewBrainExtraction(binary string, fraction float64, robust bool, executor services.Executor, logger *slog.Logger) *BrainExtraction {
	return &BrainExtraction{
		command:  newCommand("brain_extraction", binary, executor, logger),
		Fraction: fraction,
		Robust:   robust,
	}
}

func (t *BrainExtraction) Identity() string {
	return "fsl/" + t.binary + " -f " + strconv.FormatFloat(t.Fraction, 'f', -1, 64) + " robust=" + strconv.FormatBool(t.Robust)
}

// Args returns the bet command line for input and output base.
func (t *BrainExtraction) Args(input, output string) []string {
	args := []string{input, output, "-f", strconv.FormatFloat(t.Fraction, 'f', -1, 64), "-m"}
	if t.Robust {
		args = append(args, "-R")
	}
	return args
}

func (t *BrainExtraction) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	image, err := stage.RequireVolume(call, PortImage)
	if err != nil {
		return nil, err
	}
	base := outputBase(call, image, "_brain")
	if err := t.run(ctx, call, t.Args(image, base)); err != nil {
		return nil, err
	}
	brain, err := locate(call, base)
	if err != nil {
		return nil, err
	}
	mask, err := locate(call, base+"_mask")
	if err != nil {
		return nil, err
	}
	return stage.Outputs{PortBrain: stage.Volume(brain), PortMask: stage.Volume(mask)}, nil
}

// BiasCorrection runs fast and keeps the bias-field-restored image.
type BiasCorrection struct {
	command
}

func NewBiasCorrection(binary string, executor services.Executor, logger *slog.Logger) *BiasCorrection {
	return &BiasCorrection{command: newCommand("bias_correction", binary, executor, logger)}
}

func (t *BiasCorrection) Identity() string { return "fsl/" + t.binary + " -B" }

func (t *BiasCorrection) Run(ctx context.Context, call stage.Call) (stage.Outputs, error) {
	brain, err := stage.RequireVolume(call, PortBrain)
	if err != nil {
		return nil, err
	}
	base := outputBase(call, brain, "")
	if err := t.run(ctx, call, []string{"-B", "-o", base, brain}); err != nil {
		return nil, err
	}
	restored, err := locate(call, base+"_restore")
	if err != nil {
		return nil, err
	}
	return stage.Outputs{PortRestored: stage.Volume(restored)}, nil
}
