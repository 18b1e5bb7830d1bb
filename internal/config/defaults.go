package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultConfigPath          = "~/.config/radt1cal/config.toml"
	projectConfigName          = "radt1cal.toml"
	defaultLogDir              = "~/.local/share/radt1cal/logs"
	defaultTemplate            = "/app/Template/MNI152lin_T1_2mm_brain.nii.gz"
	defaultAtlas               = "/app/Template/AAL3v1_CombinedThalami.nii.gz"
	defaultPipelineName        = "RadT1cal_Features"
	defaultFractionalIntensity = 0.5
	defaultFeatureWorkers      = 4
	defaultBinWidth            = 25
	defaultStageTimeoutSeconds = 7200
	defaultSubjectWorkers      = 1
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	defaultLogRetentionDays    = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:  defaultWorkDir(),
			LogDir:   defaultLogDir,
			Template: defaultTemplate,
			Atlas:    defaultAtlas,
		},
		Tools: Tools{
			Reorient:        "fslreorient2std",
			BrainExtraction: "bet",
			BiasCorrection:  "fast",
			Registration:    "antsRegistration",
			ApplyTransforms: "antsApplyTransforms",
			Radiomics:       "pyradiomics",
		},
		BrainExtraction: BrainExtraction{
			FractionalIntensity: defaultFractionalIntensity,
			Robust:              true,
		},
		Features: Features{
			Enabled:  true,
			Workers:  defaultFeatureWorkers,
			BinWidth: defaultBinWidth,
		},
		Workflow: Workflow{
			PipelineName:        defaultPipelineName,
			StageTimeoutSeconds: defaultStageTimeoutSeconds,
			SubjectWorkers:      defaultSubjectWorkers,
			ReuseWorkDirs:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}

func defaultWorkDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "radt1cal", "work")
	}
	return "~/.cache/radt1cal/work"
}
