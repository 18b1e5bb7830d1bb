package volume

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/henghuang/nifti"
	"gonum.org/v1/gonum/mat"

	"radt1cal/internal/services"
)

// Volume is a 3D scalar image in voxel space.
type Volume struct {
	Path    string
	Dims    [3]int
	Spacing [3]float64
	// Affine maps voxel indices (i, j, k, 1) to world coordinates.
	Affine *mat.Dense
	// Data holds voxel values with x varying fastest.
	Data []float64

	header Header
	order  binary.ByteOrder
}

// Load reads the first 3D frame of a NIfTI-1 image. Stored values are
// scaled by scl_slope and scl_inter when the slope is non-zero. Datatypes
// other than uint8, int16, int32, float32 and float64 are rejected with
// services.ErrValidation.
func Load(path string) (*Volume, error) {
	hdr, order, err := ReadHeader(path)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "volume", "read header", path, err)
	}
	if err := checkLayout(hdr); err != nil {
		return nil, services.Wrap(services.ErrValidation, "volume", "decode", path, err)
	}
	nx, ny, nz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])

	var data []float64
	if libraryDecodes(hdr, order) {
		data, err = loadWithLibrary(path, nx, ny, nz)
	} else {
		data, err = readVoxels(path, hdr, order, nx*ny*nz)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "volume", "decode", path, err)
	}
	applyScaling(data, hdr)

	return &Volume{
		Path:    path,
		Dims:    [3]int{nx, ny, nz},
		Spacing: spacingFrom(hdr),
		Affine:  affineFrom(hdr),
		Data:    data,
		header:  hdr,
		order:   order,
	}, nil
}

// libraryDecodes reports whether the nifti package reads hdr's voxels
// faithfully. It picks a decoder from bitpix alone, always little-endian,
// which is only unambiguous for uint8 and float32.
func libraryDecodes(hdr Header, order binary.ByteOrder) bool {
	if order != binary.LittleEndian {
		return false
	}
	return hdr.DataType == DTUint8 || hdr.DataType == DTFloat32
}

func loadWithLibrary(path string, nx, ny, nz int) ([]float64, error) {
	img, err := safelyLoadImage(path)
	if err != nil {
		return nil, err
	}
	dims := img.GetDims()
	if dims[0] != nx || dims[1] != ny || dims[2] != nz {
		return nil, fmt.Errorf("voxel grid %dx%dx%d disagrees with header %dx%dx%d", dims[0], dims[1], dims[2], nx, ny, nz)
	}
	data := make([]float64, nx*ny*nz)
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				data[x+nx*(y+ny*z)] = float64(img.GetAt(x, y, z, 0))
			}
		}
	}
	return data, nil
}

// safelyLoadImage converts panics raised by the nifti decoder into errors.
func safelyLoadImage(path string) (img nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()
	img.LoadImage(path, true)
	return
}

// New builds an in-memory volume with an axis-aligned affine. It is mainly
// used to synthesise masks and fixtures.
func New(dims [3]int, spacing [3]float64, data []float64) (*Volume, error) {
	n := dims[0] * dims[1] * dims[2]
	if n <= 0 {
		return nil, fmt.Errorf("volume dimensions must be positive, got %v", dims)
	}
	if data == nil {
		data = make([]float64, n)
	}
	if len(data) != n {
		return nil, fmt.Errorf("volume data has %d voxels, dimensions %v need %d", len(data), dims, n)
	}
	var hdr Header
	hdr.SizeOfHdr = headerSize
	hdr.Dim = [8]int16{3, int16(dims[0]), int16(dims[1]), int16(dims[2]), 1, 1, 1, 1}
	hdr.PixDim = [8]float32{1, float32(spacing[0]), float32(spacing[1]), float32(spacing[2]), 1, 1, 1, 1}
	hdr.SFormCode = 1
	hdr.SRowX = [4]float32{float32(spacing[0]), 0, 0, 0}
	hdr.SRowY = [4]float32{0, float32(spacing[1]), 0, 0}
	hdr.SRowZ = [4]float32{0, 0, float32(spacing[2]), 0}
	hdr.XYZTUnits = 2 // mm
	hdr.Magic = magicSingleFile
	return &Volume{
		Dims:    dims,
		Spacing: spacing,
		Affine:  affineFrom(hdr),
		Data:    data,
		header:  hdr,
		order:   binary.LittleEndian,
	}, nil
}

// Index returns the flat offset of voxel (x, y, z).
func (v *Volume) Index(x, y, z int) int {
	return x + v.Dims[0]*(y+v.Dims[1]*z)
}

// Len reports the voxel count.
func (v *Volume) Len() int {
	return len(v.Data)
}

// VoxelVolume is the product of the voxel spacings, in cubic millimetres for
// images stored in mm.
func (v *Volume) VoxelVolume() float64 {
	return v.Spacing[0] * v.Spacing[1] * v.Spacing[2]
}

// MaxRegionLabel is the largest region id an atlas may carry.
const MaxRegionLabel = 1 << 16

// MaxLabel returns the largest voxel value rounded to the nearest integer.
// Empty or all-negative images report 0. Non-finite voxels and labels above
// MaxRegionLabel are rejected with services.ErrValidation.
func (v *Volume) MaxLabel() (int, error) {
	maxValue := 0.0
	for i, value := range v.Data {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, services.Wrap(services.ErrValidation, "volume", "max label",
				fmt.Sprintf("%s: voxel %d holds %v", v.name(), i, value), nil)
		}
		if value > maxValue {
			maxValue = value
		}
	}
	label := math.Round(maxValue)
	if label > MaxRegionLabel {
		return 0, services.Wrap(services.ErrValidation, "volume", "max label",
			fmt.Sprintf("%s: label %.0f exceeds %d", v.name(), label, MaxRegionLabel), nil)
	}
	return int(label), nil
}

func (v *Volume) name() string {
	if v.Path == "" {
		return "in-memory volume"
	}
	return v.Path
}

// WithData returns a copy of v's geometry carrying data.
func (v *Volume) WithData(data []float64) (*Volume, error) {
	if len(data) != v.Len() {
		return nil, fmt.Errorf("data has %d voxels, grid needs %d", len(data), v.Len())
	}
	clone := *v
	clone.Path = ""
	clone.Data = data
	return &clone, nil
}

// SameGrid reports whether a and b share dimensions and, within tol, the same
// voxel-to-world mapping.
func SameGrid(a, b *Volume, tol float64) bool {
	if a == nil || b == nil || a.Dims != b.Dims {
		return false
	}
	if a.Affine == nil || b.Affine == nil {
		return a.Affine == b.Affine
	}
	return mat.EqualApprox(a.Affine, b.Affine, tol)
}

func spacingFrom(h Header) [3]float64 {
	var s [3]float64
	for i := 0; i < 3; i++ {
		s[i] = math.Abs(float64(h.PixDim[i+1]))
		if s[i] == 0 {
			s[i] = 1
		}
	}
	return s
}

// affineFrom prefers the sform, then the qform, then a pixdim scaling.
func affineFrom(h Header) *mat.Dense {
	affine := mat.NewDense(4, 4, nil)
	affine.Set(3, 3, 1)
	switch {
	case h.SFormCode > 0:
		rows := [3][4]float32{h.SRowX, h.SRowY, h.SRowZ}
		for i, row := range rows {
			for j, value := range row {
				affine.Set(i, j, float64(value))
			}
		}
	case h.QFormCode > 0:
		b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
		a := math.Sqrt(math.Max(0, 1-(b*b+c*c+d*d)))
		rotation := mat.NewDense(3, 3, []float64{
			a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c,
			2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b,
			2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b,
		})
		qfac := float64(h.PixDim[0])
		if qfac == 0 {
			qfac = 1
		}
		spacing := spacingFrom(h)
		scale := mat.NewDiagDense(3, []float64{spacing[0], spacing[1], spacing[2] * qfac})
		var linear mat.Dense
		linear.Mul(rotation, scale)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				affine.Set(i, j, linear.At(i, j))
			}
		}
		affine.Set(0, 3, float64(h.QOffsetX))
		affine.Set(1, 3, float64(h.QOffsetY))
		affine.Set(2, 3, float64(h.QOffsetZ))
	default:
		spacing := spacingFrom(h)
		for i := 0; i < 3; i++ {
			affine.Set(i, i, spacing[i])
		}
	}
	return affine
}
