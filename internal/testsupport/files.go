package testsupport

import (
	"testing"

	"radt1cal/internal/volume"
)

// FixtureDims is the grid shared by every NIfTI fixture.
var FixtureDims = [3]int{4, 4, 2}

// FixtureSpacing is the voxel size, in millimetres, of every NIfTI fixture.
var FixtureSpacing = [3]float64{2, 2, 2}

// FixtureVolumes are the expected mm^3 volumes of the atlas labels written by
// WriteAtlas against a non-zero image.
var FixtureVolumes = map[int]float64{1: 24, 2: 40, 5: 16}

// AtlasLabels returns the fixture labels: region 1 has 3 voxels, region 2
// has 5, region 5 has 2 and regions 3 and 4 are absent.
func AtlasLabels() []float64 {
	labels := make([]float64, FixtureDims[0]*FixtureDims[1]*FixtureDims[2])
	for i := 0; i < 3; i++ {
		labels[i] = 1
	}
	for i := 3; i < 8; i++ {
		labels[i] = 2
	}
	labels[20] = 5
	labels[21] = 5
	return labels
}

// WriteVolume writes data on the fixture grid to path.
func WriteVolume(t testing.TB, path string, data []float64, datatype int16) *volume.Volume {
	t.Helper()
	v, err := volume.New(FixtureDims, FixtureSpacing, data)
	if err != nil {
		t.Fatalf("build volume: %v", err)
	}
	if err := volume.Write(path, v, datatype); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	v.Path = path
	return v
}

// WriteAtlas writes the fixture label image to path.
func WriteAtlas(t testing.TB, path string) *volume.Volume {
	t.Helper()
	return WriteVolume(t, path, AtlasLabels(), volume.DTInt16)
}

// WriteIntensity writes a uniform intensity image to path.
func WriteIntensity(t testing.TB, path string, value float64) *volume.Volume {
	t.Helper()
	data := make([]float64, FixtureDims[0]*FixtureDims[1]*FixtureDims[2])
	for i := range data {
		data[i] = value
	}
	return WriteVolume(t, path, data, volume.DTFloat32)
}
