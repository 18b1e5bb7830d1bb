package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"radt1cal/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("XDG_CACHE_HOME", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantWork := filepath.Join(tempHome, ".cache", "radt1cal", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.LogDir != filepath.Join(tempHome, ".local", "share", "radt1cal", "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.Template != "/app/Template/MNI152lin_T1_2mm_brain.nii.gz" {
		t.Fatalf("unexpected template: %q", cfg.Paths.Template)
	}
	if cfg.Workflow.PipelineName != "RadT1cal_Features" {
		t.Fatalf("unexpected pipeline name: %q", cfg.Workflow.PipelineName)
	}
	if cfg.BrainExtraction.FractionalIntensity != 0.5 || !cfg.BrainExtraction.Robust {
		t.Fatalf("unexpected brain extraction defaults: %+v", cfg.BrainExtraction)
	}
	if cfg.Registration.TestMode {
		t.Fatal("expected full registration schedule by default")
	}
	if cfg.LedgerPath() != filepath.Join(cfg.Paths.LogDir, "runs.db") {
		t.Fatalf("unexpected ledger path %q", cfg.LedgerPath())
	}
}

func TestLoadAppliesEnvironment(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("RADT1CAL_TEMPLATE", "/data/template.nii.gz")
	t.Setenv("RADT1CAL_ATLAS", "/data/atlas.nii.gz")
	t.Setenv("TEST_MODE", "true")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.Template != "/data/template.nii.gz" || cfg.Paths.Atlas != "/data/atlas.nii.gz" {
		t.Fatalf("expected env reference images, got %q %q", cfg.Paths.Template, cfg.Paths.Atlas)
	}
	if !cfg.Registration.TestMode {
		t.Fatal("expected TEST_MODE to enable test-mode registration")
	}
}

func TestLoadCustomConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[paths]
work_dir = "` + filepath.Join(dir, "work") + `"
atlas = "` + filepath.Join(dir, "atlas.nii.gz") + `"

[features]
families = ["Shape", "firstorder", "shape"]
workers = 2

[workflow]
stage_timeout = 60

[workflow.stage_timeouts]
Registration = 600
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %q to be loaded, got %q exists=%v", path, resolved, exists)
	}
	if got := strings.Join(cfg.Features.Families, ","); got != "firstorder,shape" {
		t.Fatalf("unexpected families %q", got)
	}
	if cfg.Features.Workers != 2 {
		t.Fatalf("unexpected workers %d", cfg.Features.Workers)
	}
	if cfg.StageTimeout("registration") != 10*time.Minute {
		t.Fatalf("unexpected registration timeout %v", cfg.StageTimeout("registration"))
	}
	if cfg.StageTimeout("bet") != time.Minute {
		t.Fatalf("unexpected default timeout %v", cfg.StageTimeout("bet"))
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[paths]\nstaging_dir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"fraction":      func(c *config.Config) { c.BrainExtraction.FractionalIntensity = 1.5 },
		"workers":       func(c *config.Config) { c.Features.Workers = 0 },
		"family":        func(c *config.Config) { c.Features.Families = []string{"wavelet"} },
		"pipeline name": func(c *config.Config) { c.Workflow.PipelineName = "a/b" },
		"log format":    func(c *config.Config) { c.Logging.Format = "xml" },
		"atlas":         func(c *config.Config) { c.Paths.Atlas = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config is not valid TOML: %v", err)
	}
	defaults := config.Default()
	if decoded.Workflow.PipelineName != defaults.Workflow.PipelineName {
		t.Fatalf("sample pipeline name %q differs from default", decoded.Workflow.PipelineName)
	}
	if decoded.Features.Workers != defaults.Features.Workers {
		t.Fatalf("sample workers %d differs from default", decoded.Features.Workers)
	}
}

func TestIsTruthy(t *testing.T) {
	for _, value := range []string{"1", "true", "YES", " on "} {
		if !config.IsTruthy(value) {
			t.Fatalf("expected %q truthy", value)
		}
	}
	for _, value := range []string{"", "0", "false", "maybe"} {
		if config.IsTruthy(value) {
			t.Fatalf("expected %q falsy", value)
		}
	}
}
