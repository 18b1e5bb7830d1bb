package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnvironment()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeTools()
	c.normalizeFeatures()
	c.normalizeWorkflow()
	c.normalizeLogging()
	return nil
}

// applyEnvironment lets deployments (containers in particular) point at
// bundled reference images and request the cheap registration schedule.
func (c *Config) applyEnvironment() {
	if value, ok := os.LookupEnv("RADT1CAL_TEMPLATE"); ok && strings.TrimSpace(value) != "" {
		c.Paths.Template = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("RADT1CAL_ATLAS"); ok && strings.TrimSpace(value) != "" {
		c.Paths.Atlas = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("TEST_MODE"); ok && IsTruthy(value) {
		c.Registration.TestMode = true
	}
}

// IsTruthy reports whether an environment style flag value is enabled.
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		c.Paths.WorkDir = defaultWorkDir()
	}
	if c.Paths.WorkDir, err = expandPath(strings.TrimSpace(c.Paths.WorkDir)); err != nil {
		return fmt.Errorf("paths.work_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.OutputRoot, err = expandPath(strings.TrimSpace(c.Paths.OutputRoot)); err != nil {
		return fmt.Errorf("paths.output_root: %w", err)
	}
	if c.Paths.Template, err = expandPath(strings.TrimSpace(c.Paths.Template)); err != nil {
		return fmt.Errorf("paths.template: %w", err)
	}
	if c.Paths.Atlas, err = expandPath(strings.TrimSpace(c.Paths.Atlas)); err != nil {
		return fmt.Errorf("paths.atlas: %w", err)
	}
	return nil
}

func (c *Config) normalizeTools() {
	defaults := Default().Tools
	fill := func(value *string, fallback string) {
		*value = strings.TrimSpace(*value)
		if *value == "" {
			*value = fallback
		}
	}
	fill(&c.Tools.Reorient, defaults.Reorient)
	fill(&c.Tools.BrainExtraction, defaults.BrainExtraction)
	fill(&c.Tools.BiasCorrection, defaults.BiasCorrection)
	fill(&c.Tools.Registration, defaults.Registration)
	fill(&c.Tools.ApplyTransforms, defaults.ApplyTransforms)
	fill(&c.Tools.Radiomics, defaults.Radiomics)
}

func (c *Config) normalizeFeatures() {
	seen := make(map[string]struct{}, len(c.Features.Families))
	families := make([]string, 0, len(c.Features.Families))
	for _, family := range c.Features.Families {
		family = strings.ToLower(strings.TrimSpace(family))
		if family == "" {
			continue
		}
		if _, ok := seen[family]; ok {
			continue
		}
		seen[family] = struct{}{}
		families = append(families, family)
	}
	sort.Strings(families)
	c.Features.Families = families
	if c.Features.Workers == 0 {
		c.Features.Workers = defaultFeatureWorkers
	}
	if c.Features.BinWidth == 0 {
		c.Features.BinWidth = defaultBinWidth
	}
}

func (c *Config) normalizeWorkflow() {
	c.Workflow.PipelineName = strings.TrimSpace(c.Workflow.PipelineName)
	if c.Workflow.PipelineName == "" {
		c.Workflow.PipelineName = defaultPipelineName
	}
	if c.Workflow.StageTimeoutSeconds == 0 {
		c.Workflow.StageTimeoutSeconds = defaultStageTimeoutSeconds
	}
	if c.Workflow.SubjectWorkers == 0 {
		c.Workflow.SubjectWorkers = defaultSubjectWorkers
	}
	if len(c.Workflow.StageTimeouts) > 0 {
		normalized := make(map[string]int, len(c.Workflow.StageTimeouts))
		for stage, seconds := range c.Workflow.StageTimeouts {
			normalized[strings.ToLower(strings.TrimSpace(stage))] = seconds
		}
		c.Workflow.StageTimeouts = normalized
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
