package volume

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	headerSize   = 348
	headerOffset = 352
)

// NIfTI-1 datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
)

var (
	magicSingleFile = [4]byte{'n', '+', '1', 0}

	// ErrNotNIfTI reports input that does not carry a single-file NIfTI-1 header.
	ErrNotNIfTI = errors.New("not a single-file NIfTI-1 image")
)

// Header mirrors the on-disk NIfTI-1 layout. encoding/binary reads it without
// padding so the struct is exactly 348 bytes.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DBName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// ReadHeader decodes the header of a .nii or .nii.gz file.
func ReadHeader(path string) (Header, binary.ByteOrder, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	var r io.Reader = file
	if IsCompressed(path) {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return Header{}, nil, fmt.Errorf("gunzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, nil, fmt.Errorf("read header %s: %w", path, err)
	}
	return decodeHeader(raw)
}

func decodeHeader(raw []byte) (Header, binary.ByteOrder, error) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, fmt.Errorf("decode header: %w", err)
		}
		if h.SizeOfHdr != headerSize {
			continue
		}
		if h.Magic != magicSingleFile {
			return Header{}, nil, fmt.Errorf("%w: magic %q", ErrNotNIfTI, strings.TrimRight(string(h.Magic[:]), "\x00"))
		}
		if h.Dim[0] < 3 || h.Dim[0] > 7 {
			return Header{}, nil, fmt.Errorf("%w: dim[0]=%d", ErrNotNIfTI, h.Dim[0])
		}
		return h, order, nil
	}
	return Header{}, nil, fmt.Errorf("%w: sizeof_hdr mismatch", ErrNotNIfTI)
}

// IsCompressed reports whether path names a gzip-compressed image.
func IsCompressed(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// BaseName strips the directory and the .nii/.nii.gz extension.
func BaseName(path string) string {
	name := path
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".nii.gz"):
		return name[:len(name)-len(".nii.gz")]
	case strings.HasSuffix(lower, ".nii"):
		return name[:len(name)-len(".nii")]
	default:
		return name
	}
}

// Extension returns ".nii.gz" or ".nii" to match path, defaulting to ".nii.gz".
func Extension(path string) string {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".nii") {
		return ".nii"
	}
	return ".nii.gz"
}

func bitsFor(datatype int16) (int16, error) {
	switch datatype {
	case DTUint8:
		return 8, nil
	case DTInt16:
		return 16, nil
	case DTInt32, DTFloat32:
		return 32, nil
	case DTFloat64:
		return 64, nil
	default:
		return 0, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
}
