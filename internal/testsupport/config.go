package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"radt1cal/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.WorkDir = filepath.Join(base, "work")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.OutputRoot = filepath.Join(base, "derivatives")
	cfgVal.Paths.Template = filepath.Join(base, "reference", "MNI152lin_T1_2mm_brain.nii.gz")
	cfgVal.Paths.Atlas = filepath.Join(base, "reference", "AAL3v1_CombinedThalami.nii.gz")
	cfgVal.Registration.TestMode = true
	cfgVal.Features.Workers = 2

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFeatures toggles radiomics extraction on the test config.
func WithFeatures(enabled bool, families ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Features.Enabled = enabled
		b.cfg.Features.Families = families
	}
}

// WithReferenceImages writes the label fixture as both template and atlas so
// the stubbed pipeline can warp it onto a subject scan of the same grid.
func WithReferenceImages() ConfigOption {
	return func(b *configBuilder) {
		WriteAtlas(b.t, b.cfg.Paths.Atlas)
		WriteIntensity(b.t, b.cfg.Paths.Template, 100)
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, every configured tool is stubbed
// with a script that produces the files the real tool would.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		scripts := PipelineStubs(b.cfg.Tools)
		if len(names) > 0 {
			selected := make(map[string]string, len(names))
			for _, name := range names {
				body, ok := scripts[name]
				if !ok {
					body = "exit 0"
				}
				selected[name] = body
			}
			scripts = selected
		}
		for name, body := range scripts {
			WriteScript(b.t, filepath.Join(binDir, name), body)
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// WithFailingBinary replaces one stub with a script that exits non-zero.
func WithFailingBinary(name string) ConfigOption {
	return func(b *configBuilder) {
		WriteScript(b.t, filepath.Join(b.baseDir, "bin", name), "echo \"simulated failure\" 1>&2\nexit 1")
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.WorkDir)
}
