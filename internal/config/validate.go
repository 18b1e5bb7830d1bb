package config

import (
	"errors"
	"fmt"
	"strings"
)

// FeatureFamilies lists the radiomics feature classes the extractor understands.
var FeatureFamilies = []string{"firstorder", "glcm", "gldm", "glrlm", "glszm", "ngtdm", "shape"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateBrainExtraction(); err != nil {
		return err
	}
	if err := c.validateRegistration(); err != nil {
		return err
	}
	if err := c.validateFeatures(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.Template == "" {
		return errors.New("paths.template must be set (or RADT1CAL_TEMPLATE)")
	}
	if c.Paths.Atlas == "" {
		return errors.New("paths.atlas must be set (or RADT1CAL_ATLAS)")
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	return nil
}

func (c *Config) validateBrainExtraction() error {
	f := c.BrainExtraction.FractionalIntensity
	if f <= 0 || f >= 1 {
		return fmt.Errorf("brain_extraction.fractional_intensity must be between 0 and 1, got %v", f)
	}
	return nil
}

func (c *Config) validateRegistration() error {
	if c.Registration.Threads < 0 {
		return errors.New("registration.threads must be zero (tool default) or positive")
	}
	return nil
}

func (c *Config) validateFeatures() error {
	if c.Features.Workers < 1 {
		return errors.New("features.workers must be positive")
	}
	if c.Features.MaxLabel < 0 {
		return errors.New("features.max_label must be zero (derive from atlas) or positive")
	}
	if c.Features.BinWidth <= 0 {
		return errors.New("features.bin_width must be positive")
	}
	for _, family := range c.Features.Families {
		if !knownFamily(family) {
			return fmt.Errorf("features.families: unknown family %q (expected one of %s)", family, strings.Join(FeatureFamilies, ", "))
		}
	}
	return nil
}

func knownFamily(name string) bool {
	for _, family := range FeatureFamilies {
		if family == name {
			return true
		}
	}
	return false
}

func (c *Config) validateWorkflow() error {
	if strings.ContainsAny(c.Workflow.PipelineName, `/\`) {
		return fmt.Errorf("workflow.pipeline_name must not contain path separators, got %q", c.Workflow.PipelineName)
	}
	if c.Workflow.StageTimeoutSeconds < 0 {
		return errors.New("workflow.stage_timeout must be positive")
	}
	for stage, seconds := range c.Workflow.StageTimeouts {
		if seconds <= 0 {
			return fmt.Errorf("workflow.stage_timeouts.%s must be positive", stage)
		}
	}
	if c.Workflow.SubjectWorkers < 1 {
		return errors.New("workflow.subject_workers must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must be zero (keep forever) or positive")
	}
	return nil
}
