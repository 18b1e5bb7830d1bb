package volume_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	"radt1cal/internal/services"
	"radt1cal/internal/volume"
)

func TestWriteThenReadHeaderPreservesGeometry(t *testing.T) {
	v, err := volume.New([3]int{4, 3, 2}, [3]float64{2, 2, 2.5}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	for i := range v.Data {
		v.Data[i] = float64(i % 5)
	}

	for _, name := range []string{"img.nii", "img.nii.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := volume.Write(path, v, volume.DTInt16); err != nil {
				t.Fatalf("Write returned error: %v", err)
			}
			hdr, _, err := volume.ReadHeader(path)
			if err != nil {
				t.Fatalf("ReadHeader returned error: %v", err)
			}
			if hdr.Dim[1] != 4 || hdr.Dim[2] != 3 || hdr.Dim[3] != 2 {
				t.Fatalf("unexpected dims %v", hdr.Dim)
			}
			if hdr.DataType != volume.DTInt16 || hdr.BitPix != 16 {
				t.Fatalf("unexpected datatype %d/%d", hdr.DataType, hdr.BitPix)
			}
			if hdr.PixDim[3] != 2.5 {
				t.Fatalf("unexpected pixdim %v", hdr.PixDim)
			}
			if hdr.CalMax != 4 {
				t.Fatalf("unexpected cal_max %v", hdr.CalMax)
			}
		})
	}
}

func TestWriteMaskUsesUint8(t *testing.T) {
	like, err := volume.New([3]int{2, 2, 1}, [3]float64{1, 1, 1}, []float64{0, 7, 7, 0})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "mask.nii.gz")
	if err := volume.WriteMask(path, like, []bool{false, true, true, false}); err != nil {
		t.Fatalf("WriteMask returned error: %v", err)
	}
	hdr, _, err := volume.ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader returned error: %v", err)
	}
	if hdr.DataType != volume.DTUint8 || hdr.CalMax != 1 {
		t.Fatalf("unexpected mask header datatype=%d cal_max=%v", hdr.DataType, hdr.CalMax)
	}
	if err := volume.WriteMask(path, like, []bool{true}); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	data := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	v, err := volume.New([3]int{2, 2, 2}, [3]float64{1.5, 1.5, 1.5}, data)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "labels.nii")
	if err := volume.Write(path, v, volume.DTFloat32); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	loaded, err := volume.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.Dims != [3]int{2, 2, 2} {
		t.Fatalf("unexpected dims %v", loaded.Dims)
	}
	if loaded.VoxelVolume() != 1.5*1.5*1.5 {
		t.Fatalf("unexpected voxel volume %v", loaded.VoxelVolume())
	}
	for i, want := range data {
		if loaded.Data[i] != want {
			t.Fatalf("voxel %d = %v, want %v", i, loaded.Data[i], want)
		}
	}
	if !volume.SameGrid(v, loaded, 1e-6) {
		t.Fatal("expected written and loaded grids to match")
	}
}

func TestReadHeaderRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nii")
	if err := os.WriteFile(path, make([]byte, 400), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := volume.ReadHeader(path); !errors.Is(err, volume.ErrNotNIfTI) {
		t.Fatalf("expected ErrNotNIfTI, got %v", err)
	}
	if _, err := volume.Load(path); err == nil {
		t.Fatal("expected Load to fail on garbage input")
	}
}

func TestMaxLabelRounds(t *testing.T) {
	cases := []struct {
		data []float64
		want int
	}{
		{[]float64{0, 1, 2.4}, 2},
		{[]float64{0, 3.6, 1}, 4},
		{[]float64{0, 0, 0}, 0},
		{[]float64{-2, -1, -5}, 0},
	}
	for _, tc := range cases {
		v, err := volume.New([3]int{3, 1, 1}, [3]float64{1, 1, 1}, tc.data)
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		got, err := v.MaxLabel()
		if err != nil {
			t.Fatalf("MaxLabel(%v) returned error: %v", tc.data, err)
		}
		if got != tc.want {
			t.Fatalf("MaxLabel(%v) = %d, want %d", tc.data, got, tc.want)
		}
	}
}

func TestMaxLabelRejectsUnusableAtlases(t *testing.T) {
	cases := map[string][]float64{
		"nan":       {0, math.NaN(), 1},
		"inf":       {0, 1, math.Inf(1)},
		"huge":      {0, 1e12, 1},
		"above cap": {0, volume.MaxRegionLabel + 1, 1},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			v, err := volume.New([3]int{3, 1, 1}, [3]float64{1, 1, 1}, data)
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}
			if _, err := v.MaxLabel(); !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}

	v, _ := volume.New([3]int{2, 1, 1}, [3]float64{1, 1, 1}, []float64{0, volume.MaxRegionLabel})
	if got, err := v.MaxLabel(); err != nil || got != volume.MaxRegionLabel {
		t.Fatalf("MaxLabel at cap = %d, %v", got, err)
	}
}

func TestLoadIntegerDatatypes(t *testing.T) {
	cases := []struct {
		name     string
		datatype int16
		data     []float64
	}{
		{"int32 atlas", volume.DTInt32, []float64{0, 1, 2, 5, 5, 0, 1, 2, 0, 5}},
		{"int16 signed", volume.DTInt16, []float64{-300, -1, 0, 1, 2, 300, 7, 8, 9, 1000}},
		{"float64", volume.DTFloat64, []float64{0.25, -1.5, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"uint8", volume.DTUint8, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 255}},
	}
	for _, tc := range cases {
		for _, name := range []string{"atlas.nii", "atlas.nii.gz"} {
			t.Run(tc.name+"/"+name, func(t *testing.T) {
				v, err := volume.New([3]int{5, 2, 1}, [3]float64{1, 1, 1}, tc.data)
				if err != nil {
					t.Fatalf("New returned error: %v", err)
				}
				path := filepath.Join(t.TempDir(), name)
				if err := volume.Write(path, v, tc.datatype); err != nil {
					t.Fatalf("Write returned error: %v", err)
				}
				loaded, err := volume.Load(path)
				if err != nil {
					t.Fatalf("Load returned error: %v", err)
				}
				for i, want := range tc.data {
					if loaded.Data[i] != want {
						t.Fatalf("voxel %d = %v, want %v", i, loaded.Data[i], want)
					}
				}
			})
		}
	}
}

func TestLoadInt32AtlasMaxLabel(t *testing.T) {
	v, err := volume.New([3]int{3, 1, 1}, [3]float64{1, 1, 1}, []float64{1, 2, 5})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "atlas.nii.gz")
	if err := volume.Write(path, v, volume.DTInt32); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	loaded, err := volume.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if got, err := loaded.MaxLabel(); err != nil || got != 5 {
		t.Fatalf("MaxLabel = %d, %v; want 5", got, err)
	}
}

func TestLoadRejectsTruncatedVoxelData(t *testing.T) {
	v, _ := volume.New([3]int{4, 4, 4}, [3]float64{1, 1, 1}, nil)
	path := filepath.Join(t.TempDir(), "short.nii")
	if err := volume.Write(path, v, volume.DTInt16); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(path, raw[:len(raw)-10], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if _, err := volume.Load(path); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSameGridDetectsMismatch(t *testing.T) {
	a, _ := volume.New([3]int{2, 2, 2}, [3]float64{1, 1, 1}, nil)
	b, _ := volume.New([3]int{2, 2, 2}, [3]float64{2, 2, 2}, nil)
	c, _ := volume.New([3]int{2, 2, 3}, [3]float64{1, 1, 1}, nil)
	if volume.SameGrid(a, b, 1e-6) {
		t.Fatal("expected spacing mismatch to be detected")
	}
	if volume.SameGrid(a, c, 1e-6) {
		t.Fatal("expected dimension mismatch to be detected")
	}
	shifted, _ := a.WithData(make([]float64, a.Len()))
	shifted.Affine = mat.DenseCopyOf(a.Affine)
	shifted.Affine.Set(0, 3, 10)
	if volume.SameGrid(a, shifted, 1e-6) {
		t.Fatal("expected origin mismatch to be detected")
	}
}

func TestBaseNameAndExtension(t *testing.T) {
	cases := map[string]string{
		"/data/sub-01_T1w.nii.gz": "sub-01_T1w",
		"sub-01_T1w.nii":          "sub-01_T1w",
		"atlas.NII.GZ":            "atlas",
		"plain":                   "plain",
	}
	for in, want := range cases {
		if got := volume.BaseName(in); got != want {
			t.Fatalf("BaseName(%q) = %q, want %q", in, got, want)
		}
	}
	if volume.Extension("x.nii") != ".nii" || volume.Extension("x.nii.gz") != ".nii.gz" {
		t.Fatal("unexpected extension mapping")
	}
}
