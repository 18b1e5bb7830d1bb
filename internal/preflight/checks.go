package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"radt1cal/internal/config"
	"radt1cal/internal/deps"
	"radt1cal/internal/volume"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCreatable verifies that path exists as a writable directory or that
// its nearest existing ancestor allows creating it.
func CheckCreatable(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	current := filepath.Clean(path)
	for {
		info, err := os.Stat(current)
		if err == nil {
			if !info.IsDir() {
				return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s is not a directory)", path, current)}
			}
			if err := unix.Access(current, unix.W_OK|unix.X_OK); err != nil {
				return Result{Name: name, Detail: fmt.Sprintf("%s (error: %s not writable: %v)", path, current, err)}
			}
			if current == filepath.Clean(path) {
				return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
			}
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
		}
		parent := filepath.Dir(current)
		if parent == current {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: no existing ancestor)", path)}
		}
		current = parent
	}
}

// CheckReferenceImage verifies that path is a readable NIfTI-1 image.
func CheckReferenceImage(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	if _, _, err := volume.ReadHeader(path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

// Requirements lists the external binaries the configured pipeline invokes.
func Requirements(cfg *config.Config) []deps.Requirement {
	requirements := []deps.Requirement{
		{
			Name:        "fslreorient2std",
			Command:     cfg.Tools.Reorient,
			Suite:       deps.SuiteFSL,
			Description: "Reorients scans to standard orientation",
		},
		{
			Name:        "bet",
			Command:     cfg.Tools.BrainExtraction,
			Suite:       deps.SuiteFSL,
			Description: "Brain extraction",
		},
		{
			Name:        "fast",
			Command:     cfg.Tools.BiasCorrection,
			Suite:       deps.SuiteFSL,
			Description: "Bias field correction",
		},
		{
			Name:        "antsRegistration",
			Command:     cfg.Tools.Registration,
			Suite:       deps.SuiteANTs,
			Description: "Template to subject registration",
		},
		{
			Name:        "antsApplyTransforms",
			Command:     cfg.Tools.ApplyTransforms,
			Suite:       deps.SuiteANTs,
			Description: "Atlas label warping",
		},
	}
	requirements = append(requirements, deps.Requirement{
		Name:        "pyradiomics",
		Command:     cfg.Tools.Radiomics,
		Suite:       deps.SuiteRadiomics,
		Description: "Per-region radiomics features",
		Optional:    !cfg.Features.Enabled,
	})
	return requirements
}

// CheckSystemDeps evaluates all binaries for the given config. Both the
// runner and the CLI deps command use this list.
func CheckSystemDeps(_ context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(Requirements(cfg))
}
