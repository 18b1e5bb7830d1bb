package features_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"gopkg.in/yaml.v3"

	"radt1cal/internal/features"
	"radt1cal/internal/logging"
	"radt1cal/internal/services"
)

type fakeExecutor struct {
	calls  [][]string
	output string
	err    error
}

func (f *fakeExecutor) Run(_ context.Context, binary string, args []string, onLine func(string)) error {
	f.calls = append(f.calls, append([]string{binary}, args...))
	if onLine != nil {
		onLine("computing features")
	}
	if f.err != nil {
		return f.err
	}
	for i, arg := range args {
		if arg == "--out" && i+1 < len(args) {
			return os.WriteFile(args[i+1], []byte(f.output), 0o644)
		}
	}
	return errors.New("no --out argument")
}

func TestParseOutputKeepsNumericOriginalFeatures(t *testing.T) {
	raw := []byte(`{
		"diagnostics_Versions_PyRadiomics": "v3.1.0",
		"diagnostics_Mask-original_VoxelNum": 12,
		"original_firstorder_Mean": 101.5,
		"original_shape_VoxelVolume": "96.0",
		"original_glcm_Bad": "n/a",
		"wavelet-LLH_firstorder_Mean": 3
	}`)
	vector, err := features.ParseOutput(raw)
	if err != nil {
		t.Fatalf("ParseOutput returned error: %v", err)
	}
	want := features.Vector{
		"original_firstorder_Mean":   101.5,
		"original_shape_VoxelVolume": 96,
	}
	if !reflect.DeepEqual(vector, want) {
		t.Fatalf("unexpected vector %v", vector)
	}
	if got := vector.Names(); !reflect.DeepEqual(got, []string{"original_firstorder_Mean", "original_shape_VoxelVolume"}) {
		t.Fatalf("unexpected sorted names %v", got)
	}
}

func TestParseOutputAcceptsSingleCaseList(t *testing.T) {
	vector, err := features.ParseOutput([]byte(`[{"original_firstorder_Energy": 7}]`))
	if err != nil {
		t.Fatalf("ParseOutput returned error: %v", err)
	}
	if vector["original_firstorder_Energy"] != 7 {
		t.Fatalf("unexpected vector %v", vector)
	}
	if _, err := features.ParseOutput([]byte(`[{}, {}]`)); err == nil {
		t.Fatal("expected error for multiple cases")
	}
	if _, err := features.ParseOutput(nil); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestWriteParamsRestrictsFamilies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := features.WriteParams(path, features.Config{EnabledFamilies: []string{"firstorder"}, BinWidth: 25}); err != nil {
		t.Fatalf("WriteParams returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read params: %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	classes, ok := decoded["featureClass"].(map[string]any)
	if !ok || len(classes) != 1 {
		t.Fatalf("expected exactly one feature class, got %v", decoded["featureClass"])
	}
	if _, ok := classes["firstorder"]; !ok {
		t.Fatalf("expected firstorder class, got %v", classes)
	}
	if _, ok := decoded["imageType"].(map[string]any)["Original"]; !ok {
		t.Fatalf("expected Original image type, got %v", decoded["imageType"])
	}
}

func TestWriteParamsAllFamiliesOmitsFeatureClass(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	if err := features.WriteParams(path, features.Config{}); err != nil {
		t.Fatalf("WriteParams returned error: %v", err)
	}
	var decoded map[string]any
	data, _ := os.ReadFile(path)
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if _, ok := decoded["featureClass"]; ok {
		t.Fatalf("expected no featureClass when all families enabled, got %v", decoded)
	}
}

func TestRadiomicsExtract(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{output: `{"original_firstorder_Mean": 4.5, "diagnostics_x": "y"}`}
	extractor := features.NewRadiomics("pyradiomics", exec, logging.NewNop())

	maskPath := filepath.Join(dir, "atlas_roi3.nii.gz")
	vector, err := extractor.Extract(context.Background(), "/data/brain.nii.gz", maskPath, features.Config{})
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if vector["original_firstorder_Mean"] != 4.5 || len(vector) != 1 {
		t.Fatalf("unexpected vector %v", vector)
	}
	if len(exec.calls) != 1 || exec.calls[0][0] != "pyradiomics" || exec.calls[0][1] != "/data/brain.nii.gz" || exec.calls[0][2] != maskPath {
		t.Fatalf("unexpected invocation %v", exec.calls)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected scratch files removed, found %v", leftovers)
	}
}

func TestRadiomicsExtractWrapsFailures(t *testing.T) {
	dir := t.TempDir()
	exec := &fakeExecutor{err: &services.CommandError{Binary: "pyradiomics", ExitCode: 1, Tail: []string{"mask too small"}}}
	extractor := features.NewRadiomics("pyradiomics", exec, nil)

	_, err := extractor.Extract(context.Background(), "img.nii.gz", filepath.Join(dir, "m.nii.gz"), features.Config{})
	if !errors.Is(err, services.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}

	exec = &fakeExecutor{output: `{"diagnostics_only": 1}`}
	extractor = features.NewRadiomics("pyradiomics", exec, nil)
	if _, err := extractor.Extract(context.Background(), "img.nii.gz", filepath.Join(dir, "m.nii.gz"), features.Config{}); !errors.Is(err, services.ErrExtraction) {
		t.Fatalf("expected extraction error for empty vector, got %v", err)
	}
}
