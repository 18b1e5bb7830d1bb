package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and reference image configuration.
type Paths struct {
	WorkDir    string `toml:"work_dir"`
	LogDir     string `toml:"log_dir"`
	OutputRoot string `toml:"output_root"`
	Template   string `toml:"template"`
	Atlas      string `toml:"atlas"`
}

// Tools names the external executables each stage invokes.
type Tools struct {
	Reorient        string `toml:"reorient"`
	BrainExtraction string `toml:"brain_extraction"`
	BiasCorrection  string `toml:"bias_correction"`
	Registration    string `toml:"registration"`
	ApplyTransforms string `toml:"apply_transforms"`
	Radiomics       string `toml:"radiomics"`
}

// BrainExtraction contains skull-stripping parameters.
type BrainExtraction struct {
	FractionalIntensity float64 `toml:"fractional_intensity"`
	Robust              bool    `toml:"robust"`
}

// Registration contains template-to-subject registration settings.
type Registration struct {
	// TestMode swaps the full SyN schedule for a handful of iterations.
	TestMode bool `toml:"test_mode"`
	Threads  int  `toml:"threads"`
}

// Features contains per-region volume and radiomics settings.
type Features struct {
	Enabled  bool     `toml:"enabled"`
	Families []string `toml:"families"`
	Workers  int      `toml:"workers"`
	// MaxLabel overrides the highest region id when positive.
	MaxLabel int     `toml:"max_label"`
	BinWidth float64 `toml:"bin_width"`
}

// Workflow contains orchestration knobs.
type Workflow struct {
	PipelineName        string         `toml:"pipeline_name"`
	StageTimeoutSeconds int            `toml:"stage_timeout"`
	StageTimeouts       map[string]int `toml:"stage_timeouts"`
	SubjectWorkers      int            `toml:"subject_workers"`
	ReuseWorkDirs       bool           `toml:"reuse_work_dirs"`
	KeepIntermediates   bool           `toml:"keep_intermediates"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for radt1cal.
//
// Configuration sections by subsystem:
//   - Paths: work, log and output directories plus template/atlas images
//   - Tools: FSL, ANTs and pyradiomics executables
//   - BrainExtraction: bet parameters
//   - Registration: antsRegistration schedule selection
//   - Features: ROI aggregation and radiomics
//   - Workflow: pipeline naming, timeouts and parallelism
//   - Logging: log format, level, and retention
type Config struct {
	Paths           Paths           `toml:"paths"`
	Tools           Tools           `toml:"tools"`
	BrainExtraction BrainExtraction `toml:"brain_extraction"`
	Registration    Registration    `toml:"registration"`
	Features        Features        `toml:"features"`
	Workflow        Workflow        `toml:"workflow"`
	Logging         Logging         `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs(projectConfigName)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the work and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StageTimeout returns the execution budget for the named stage, preferring a
// per-stage override over the workflow default.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Workflow.StageTimeouts[stage]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(c.Workflow.StageTimeoutSeconds) * time.Second
}

// LedgerPath returns the SQLite run ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.LogDir, "runs.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
