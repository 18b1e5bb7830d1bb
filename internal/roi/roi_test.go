package roi_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"radt1cal/internal/features"
	"radt1cal/internal/logging"
	"radt1cal/internal/roi"
	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

// fixture builds a 4x4x2 atlas with labels 1, 2 and 5 and a uniform image.
func fixture(t *testing.T) (*volume.Volume, *volume.Volume) {
	t.Helper()
	labels := make([]float64, 32)
	for i := 0; i < 3; i++ {
		labels[i] = 1
	}
	for i := 3; i < 8; i++ {
		labels[i] = 2
	}
	labels[20] = 5
	labels[21] = 5
	atlas, err := volume.New([3]int{4, 4, 2}, [3]float64{2, 2, 2}, labels)
	if err != nil {
		t.Fatalf("atlas: %v", err)
	}
	atlas.Path = "/ref/AAL3v1_CombinedThalami.nii.gz"

	intensity := make([]float64, 32)
	for i := range intensity {
		intensity[i] = 1
	}
	image, err := volume.New([3]int{4, 4, 2}, [3]float64{2, 2, 2}, intensity)
	if err != nil {
		t.Fatalf("image: %v", err)
	}
	image.Path = "/data/sub-01_brain_restore.nii.gz"
	return atlas, image
}

type recordingExtractor struct {
	mu       sync.Mutex
	seen     []string
	failures map[string]error
	families []string
}

func (r *recordingExtractor) Extract(_ context.Context, imagePath, maskPath string, cfg features.Config) (features.Vector, error) {
	if _, err := os.Stat(maskPath); err != nil {
		return nil, fmt.Errorf("mask missing during extraction: %w", err)
	}
	r.mu.Lock()
	r.seen = append(r.seen, filepath.Base(maskPath))
	r.mu.Unlock()
	if err, ok := r.failures[filepath.Base(maskPath)]; ok {
		return nil, err
	}
	families := cfg.EnabledFamilies
	if len(families) == 0 {
		families = []string{"firstorder", "shape"}
	}
	vector := features.Vector{}
	for _, family := range families {
		vector["original_"+family+"_Mean"] = 1.5
		vector["original_"+family+"_Energy"] = 10
	}
	return vector, nil
}

func TestDeriveMask(t *testing.T) {
	atlas, _ := fixture(t)
	mask, present := roi.DeriveMask(atlas, 2)
	if !present || mask.Count != 5 {
		t.Fatalf("expected region 2 with 5 voxels, got present=%v count=%d", present, mask.Count)
	}
	if _, present := roi.DeriveMask(atlas, 3); present {
		t.Fatal("expected region 3 absent")
	}
}

func TestComputeVolumeUndercountsZeroIntensity(t *testing.T) {
	atlas, image := fixture(t)
	image.Data[0] = 0
	mask, _ := roi.DeriveMask(atlas, 1)
	vol, err := roi.ComputeVolume(image, mask, [3]float64{2, 2, 2})
	if err != nil {
		t.Fatalf("ComputeVolume returned error: %v", err)
	}
	if vol != 2*8 {
		t.Fatalf("expected zero-intensity voxel excluded (16), got %v", vol)
	}

	small, _ := volume.New([3]int{1, 1, 1}, [3]float64{1, 1, 1}, nil)
	if _, err := roi.ComputeVolume(small, mask, [3]float64{1, 1, 1}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestAggregateVolumesSkipAbsentRegions(t *testing.T) {
	atlas, image := fixture(t)
	agg := roi.NewAggregator(nil, logging.NewNop())

	result, err := agg.Aggregate(context.Background(), atlas, image, roi.Options{Workers: 3})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.MaxLabel != 5 {
		t.Fatalf("expected derived max label 5, got %d", result.MaxLabel)
	}
	want := []roi.VolumeRow{{Region: 1, Volume: 24}, {Region: 2, Volume: 40}, {Region: 5, Volume: 16}}
	if got := result.VolumeRows(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected volume rows %+v", got)
	}
	if result.FeaturesEnabled || len(result.FeatureNames) != 0 {
		t.Fatal("expected volume-only result without extractor")
	}
}

func TestAggregateMaxLabelOverride(t *testing.T) {
	atlas, image := fixture(t)
	result, err := roi.NewAggregator(nil, nil).Aggregate(context.Background(), atlas, image, roi.Options{MaxLabel: 2})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(result.Regions) != 2 || result.Regions[1].Region != 2 {
		t.Fatalf("expected regions 1 and 2 only, got %+v", result.Regions)
	}
}

func TestAggregateMaxLabelAboveAtlasSkipsAbsentRegions(t *testing.T) {
	atlas, image := fixture(t)
	result, err := roi.NewAggregator(nil, nil).Aggregate(context.Background(), atlas, image, roi.Options{MaxLabel: 40})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.MaxLabel != 40 {
		t.Fatalf("expected explicit max label kept, got %d", result.MaxLabel)
	}
	want := []roi.VolumeRow{{Region: 1, Volume: 24}, {Region: 2, Volume: 40}, {Region: 5, Volume: 16}}
	if got := result.VolumeRows(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected volume rows %+v", got)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("absent regions must not be reported as failures, got %+v", result.Failures)
	}
}

func TestAggregateEmptyAtlasWritesHeaderOnlyTables(t *testing.T) {
	_, image := fixture(t)
	atlas, err := volume.New(image.Dims, image.Spacing, nil)
	if err != nil {
		t.Fatalf("atlas: %v", err)
	}
	atlas.Path = "/ref/empty_atlas.nii.gz"

	result, err := roi.NewAggregator(&recordingExtractor{}, nil).Aggregate(context.Background(), atlas, image, roi.Options{ScratchDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if result.MaxLabel != 0 || len(result.Regions) != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected an empty result, got %+v", result)
	}

	paths, err := result.WriteTables(t.TempDir())
	if err != nil {
		t.Fatalf("WriteTables returned error: %v", err)
	}
	for path, want := range map[string]string{
		paths.Volumes:  "ROI,Volume_mm3\n",
		paths.Features: "ROI\n",
		paths.Failures: "ROI,Error\n",
	} {
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}
		if string(got) != want {
			t.Fatalf("%s = %q, want %q", filepath.Base(path), got, want)
		}
	}
}

func TestAggregateRejectsUnusableAtlasLabels(t *testing.T) {
	for name, value := range map[string]float64{
		"inf":  math.Inf(1),
		"nan":  math.NaN(),
		"huge": 1e15,
	} {
		t.Run(name, func(t *testing.T) {
			atlas, image := fixture(t)
			atlas.Data[10] = value
			_, err := roi.NewAggregator(nil, nil).Aggregate(context.Background(), atlas, image, roi.Options{})
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	atlas, image := fixture(t)
	_, err := roi.NewAggregator(nil, nil).Aggregate(context.Background(), atlas, image, roi.Options{MaxLabel: volume.MaxRegionLabel + 1})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for oversized max label, got %v", err)
	}
}

func TestAggregateFeaturesShareRowsWithVolumes(t *testing.T) {
	atlas, image := fixture(t)
	scratch := t.TempDir()
	extractor := &recordingExtractor{}
	agg := roi.NewAggregator(extractor, logging.NewNop())

	result, err := agg.Aggregate(context.Background(), atlas, image, roi.Options{
		ScratchDir: scratch,
		Workers:    4,
		Features:   features.Config{EnabledFamilies: []string{"firstorder"}},
	})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if !reflect.DeepEqual(result.FeatureNames, []string{"original_firstorder_Energy", "original_firstorder_Mean"}) {
		t.Fatalf("unexpected feature names %v", result.FeatureNames)
	}
	ids := make([]int, 0, len(result.Regions))
	for _, region := range result.Regions {
		ids = append(ids, region.Region)
		if len(region.Features) != 2 {
			t.Fatalf("region %d has %d features", region.Region, len(region.Features))
		}
	}
	if !reflect.DeepEqual(ids, []int{1, 2, 5}) {
		t.Fatalf("unexpected region ids %v", ids)
	}
	if len(extractor.seen) != 3 {
		t.Fatalf("expected three extractions, got %v", extractor.seen)
	}
	leftovers, _ := filepath.Glob(filepath.Join(scratch, "*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected scratch masks removed, found %v", leftovers)
	}
}

func TestAggregateRecordsExtractionFailure(t *testing.T) {
	atlas, image := fixture(t)
	scratch := t.TempDir()
	failing := roi.MaskFileName(atlas.Path, 2)
	extractor := &recordingExtractor{failures: map[string]error{
		failing: services.Wrap(services.ErrExtraction, "radiomics", "extract", "mask too small", nil),
	}}

	result, err := roi.NewAggregator(extractor, nil).Aggregate(context.Background(), atlas, image, roi.Options{ScratchDir: scratch, Workers: 2})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if len(result.Failures) != 1 || result.Failures[0].Region != 2 {
		t.Fatalf("expected region 2 failure, got %+v", result.Failures)
	}
	if !strings.Contains(result.Failures[0].Error, "mask too small") {
		t.Fatalf("unexpected failure message %q", result.Failures[0].Error)
	}
	for _, region := range result.Regions {
		if region.Region == 2 {
			t.Fatal("failed region must not appear in tables")
		}
	}
	if len(result.Regions) != 2 {
		t.Fatalf("expected remaining regions 1 and 5, got %+v", result.Regions)
	}
	leftovers, _ := filepath.Glob(filepath.Join(scratch, "*"))
	if len(leftovers) != 0 {
		t.Fatalf("expected scratch masks removed after failure, found %v", leftovers)
	}
}

func TestAggregateRejectsGridMismatch(t *testing.T) {
	atlas, _ := fixture(t)
	image, _ := volume.New([3]int{2, 2, 2}, [3]float64{2, 2, 2}, nil)
	_, err := roi.NewAggregator(nil, nil).Aggregate(context.Background(), atlas, image, roi.Options{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAggregateHonoursCancellation(t *testing.T) {
	atlas, image := fixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := roi.NewAggregator(nil, nil).Aggregate(ctx, atlas, image, roi.Options{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestWriteTablesIsDeterministic(t *testing.T) {
	atlas, image := fixture(t)
	run := func(out string) roi.TablePaths {
		extractor := &recordingExtractor{failures: map[string]error{
			roi.MaskFileName(atlas.Path, 5): errors.New("boom"),
		}}
		result, err := roi.NewAggregator(extractor, nil).Aggregate(context.Background(), atlas, image, roi.Options{ScratchDir: t.TempDir(), Workers: 3})
		if err != nil {
			t.Fatalf("Aggregate returned error: %v", err)
		}
		paths, err := result.WriteTables(out)
		if err != nil {
			t.Fatalf("WriteTables returned error: %v", err)
		}
		return paths
	}

	first := run(t.TempDir())
	second := run(t.TempDir())

	if filepath.Base(first.Volumes) != "AAL3v1_CombinedThalami_volumes.csv" {
		t.Fatalf("unexpected volume table name %q", first.Volumes)
	}
	if filepath.Base(first.Features) != "AAL3v1_CombinedThalami_radiomicsFeatures.csv" {
		t.Fatalf("unexpected feature table name %q", first.Features)
	}
	if filepath.Base(first.Failures) != "AAL3v1_CombinedThalami_failedRegions.csv" {
		t.Fatalf("unexpected failure table name %q", first.Failures)
	}
	for _, pair := range [][2]string{{first.Volumes, second.Volumes}, {first.Features, second.Features}, {first.Failures, second.Failures}} {
		a, _ := os.ReadFile(pair[0])
		b, _ := os.ReadFile(pair[1])
		if !bytes.Equal(a, b) {
			t.Fatalf("tables differ between runs:\n%s\n---\n%s", a, b)
		}
	}

	features, _ := os.ReadFile(first.Features)
	wantFeatures := "ROI,original_firstorder_Energy,original_firstorder_Mean,original_shape_Energy,original_shape_Mean\n" +
		"1,10,1.5,10,1.5\n" +
		"2,10,1.5,10,1.5\n"
	if string(features) != wantFeatures {
		t.Fatalf("unexpected feature table:\n%s", features)
	}

	rows, err := roi.ReadVolumeTable(first.Volumes)
	if err != nil {
		t.Fatalf("ReadVolumeTable returned error: %v", err)
	}
	if len(rows) != 2 || rows[0].Region != 1 || rows[1].Region != 2 {
		t.Fatalf("volume rows must match feature rows, got %+v", rows)
	}
}

func TestWriteFeatureTableLeavesMissingCellsEmpty(t *testing.T) {
	var buf bytes.Buffer
	regions := []roi.RegionResult{
		{Region: 1, Features: features.Vector{"a": 1, "b": 2}},
		{Region: 3, Features: features.Vector{"a": 0.25}},
	}
	if err := roi.WriteFeatureTable(&buf, []string{"a", "b"}, regions); err != nil {
		t.Fatalf("WriteFeatureTable returned error: %v", err)
	}
	want := "ROI,a,b\n1,1,2\n3,0.25,\n"
	if buf.String() != want {
		t.Fatalf("unexpected table %q", buf.String())
	}
}

func TestResolveTablePath(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(existing, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Chdir(dir)

	cases := []struct {
		out  string
		want string
	}{
		{"", filepath.Join(dir, "atlas_volumes.csv")},
		{dir, filepath.Join(dir, "atlas_volumes.csv")},
		{existing, filepath.Join(dir, "atlas_volumes.csv")},
		{filepath.Join(dir, "new", "x.csv"), filepath.Join(dir, "new", "atlas_volumes.csv")},
		{filepath.Join(dir, "tables"), filepath.Join(dir, "tables", "atlas_volumes.csv")},
	}
	for _, tc := range cases {
		got, err := roi.ResolveTablePath(tc.out, "/ref/atlas.nii.gz", roi.VolumeSuffix)
		if err != nil {
			t.Fatalf("ResolveTablePath(%q) returned error: %v", tc.out, err)
		}
		if got != tc.want {
			t.Fatalf("ResolveTablePath(%q) = %q, want %q", tc.out, got, tc.want)
		}
	}
}
