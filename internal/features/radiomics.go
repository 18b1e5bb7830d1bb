package features

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"radt1cal/internal/logging"
	"radt1cal/internal/services"
	"radt1cal/internal/stage"
)

// OriginalPrefix marks features computed on the unfiltered image.
const OriginalPrefix = "original_"

// Radiomics runs the pyradiomics CLI for each region.
type Radiomics struct {
	Binary   string
	Executor services.Executor
	Logger   *slog.Logger
}

// NewRadiomics constructs a Radiomics extractor.
func NewRadiomics(binary string, executor services.Executor, logger *slog.Logger) *Radiomics {
	if executor == nil {
		executor = services.NewExecutor()
	}
	return &Radiomics{
		Binary:   binary,
		Executor: executor,
		Logger:   logging.NewComponentLogger(logger, "radiomics"),
	}
}

type paramsFile struct {
	ImageType    map[string]map[string]any `yaml:"imageType"`
	FeatureClass map[string][]string       `yaml:"featureClass,omitempty"`
	Setting      map[string]any            `yaml:"setting"`
}

// WriteParams renders the pyradiomics parameter file for cfg.
func WriteParams(path string, cfg Config) error {
	params := paramsFile{
		ImageType: map[string]map[string]any{"Original": {}},
		Setting: map[string]any{
			"label":    1,
			"binWidth": cfg.BinWidth,
		},
	}
	if cfg.BinWidth <= 0 {
		delete(params.Setting, "binWidth")
	}
	if !cfg.AllFamilies() {
		params.FeatureClass = make(map[string][]string, len(cfg.EnabledFamilies))
		for _, family := range cfg.EnabledFamilies {
			params.FeatureClass[family] = []string{}
		}
	}
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode radiomics params: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// HealthCheck reports whether the radiomics binary can be found.
func (r *Radiomics) HealthCheck(context.Context) stage.Health {
	if strings.TrimSpace(r.Binary) == "" {
		return stage.Unhealthy("radiomics", "binary not configured")
	}
	if _, err := exec.LookPath(r.Binary); err != nil {
		return stage.Unhealthy("radiomics", fmt.Sprintf("binary %q not found", r.Binary))
	}
	return stage.Healthy("radiomics")
}

// Extract implements Extractor.
func (r *Radiomics) Extract(ctx context.Context, imagePath, maskPath string, cfg Config) (Vector, error) {
	base := strings.TrimSuffix(maskPath, filepath.Ext(maskPath))
	base = strings.TrimSuffix(base, ".nii")
	paramsPath := base + "_params.yaml"
	outputPath := base + "_features.json"
	defer os.Remove(paramsPath)
	defer os.Remove(outputPath)

	if err := WriteParams(paramsPath, cfg); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "radiomics", "params", "", err)
	}

	args := []string{imagePath, maskPath, "--param", paramsPath, "--format", "json", "--out", outputPath}
	logger := logging.WithContext(ctx, r.Logger)
	logger.Debug("radiomics command", logging.String("command", r.Binary+" "+strings.Join(args, " ")))

	if err := r.Executor.Run(ctx, r.Binary, args, func(line string) {
		logger.Debug("radiomics output", logging.String("line", line))
	}); err != nil {
		return nil, services.Wrap(services.ErrExtraction, "radiomics", "extract", filepath.Base(maskPath), err)
	}

	raw, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "radiomics", "read output", "", err)
	}
	vector, err := ParseOutput(raw)
	if err != nil {
		return nil, services.Wrap(services.ErrExtraction, "radiomics", "parse output", "", err)
	}
	if len(vector) == 0 {
		return nil, services.Wrap(services.ErrExtraction, "radiomics", "parse output", "no original_ features returned", nil)
	}
	return vector, nil
}

// ParseOutput decodes pyradiomics JSON output (a single case object or a list
// with one case) and keeps numeric original_ features.
func ParseOutput(raw []byte) (Vector, error) {
	raw = []byte(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty radiomics output")
	}

	var record map[string]any
	if raw[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode radiomics output: %w", err)
		}
		if len(records) != 1 {
			return nil, fmt.Errorf("expected one radiomics case, got %d", len(records))
		}
		record = records[0]
	} else if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode radiomics output: %w", err)
	}

	vector := make(Vector, len(record))
	for key, value := range record {
		if !strings.HasPrefix(key, OriginalPrefix) {
			continue
		}
		switch v := value.(type) {
		case float64:
			vector[key] = v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				vector[key] = f
			}
		}
	}
	return vector, nil
}
