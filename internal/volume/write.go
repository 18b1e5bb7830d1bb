package volume

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Write stores v at path using datatype (one of the DT* codes). The source
// header is reused so orientation and spacing are preserved; scaling is reset.
// A ".gz" suffix produces a gzip-compressed file.
func Write(path string, v *Volume, datatype int16) error {
	bitpix, err := bitsFor(datatype)
	if err != nil {
		return err
	}
	hdr := v.header
	hdr.SizeOfHdr = headerSize
	hdr.Dim = [8]int16{3, int16(v.Dims[0]), int16(v.Dims[1]), int16(v.Dims[2]), 1, 1, 1, 1}
	hdr.DataType = datatype
	hdr.BitPix = bitpix
	hdr.VoxOffset = headerOffset
	hdr.SclSlope = 1
	hdr.SclInter = 0
	hdr.Magic = magicSingleFile
	minValue, maxValue := dataRange(v.Data)
	hdr.CalMin, hdr.CalMax = float32(minValue), float32(maxValue)

	order := v.order
	if order == nil {
		order = binary.LittleEndian
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create image directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".volume-*")
	if err != nil {
		return fmt.Errorf("create temp image: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := encode(tmp, path, hdr, order, v.Data, datatype); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// WriteMask stores a binary mask on the grid of like as uint8 voxels.
func WriteMask(path string, like *Volume, mask []bool) error {
	if len(mask) != like.Len() {
		return fmt.Errorf("mask has %d voxels, grid needs %d", len(mask), like.Len())
	}
	data := make([]float64, len(mask))
	for i, on := range mask {
		if on {
			data[i] = 1
		}
	}
	out, err := like.WithData(data)
	if err != nil {
		return err
	}
	return Write(path, out, DTUint8)
}

func encode(f *os.File, path string, hdr Header, order binary.ByteOrder, data []float64, datatype int16) error {
	var w io.Writer
	buffered := bufio.NewWriter(f)
	w = buffered
	var gz *gzip.Writer
	if IsCompressed(path) {
		gz = gzip.NewWriter(buffered)
		w = gz
	}

	var head bytes.Buffer
	if err := binary.Write(&head, order, hdr); err != nil {
		return err
	}
	head.Write([]byte{0, 0, 0, 0}) // no extensions
	if _, err := w.Write(head.Bytes()); err != nil {
		return err
	}
	if err := encodeData(w, order, data, datatype); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return buffered.Flush()
}

func encodeData(w io.Writer, order binary.ByteOrder, data []float64, datatype int16) error {
	switch datatype {
	case DTUint8:
		buf := make([]uint8, len(data))
		for i, value := range data {
			buf[i] = uint8(clamp(math.Round(value), 0, math.MaxUint8))
		}
		return binary.Write(w, order, buf)
	case DTInt16:
		buf := make([]int16, len(data))
		for i, value := range data {
			buf[i] = int16(clamp(math.Round(value), math.MinInt16, math.MaxInt16))
		}
		return binary.Write(w, order, buf)
	case DTInt32:
		buf := make([]int32, len(data))
		for i, value := range data {
			buf[i] = int32(clamp(math.Round(value), math.MinInt32, math.MaxInt32))
		}
		return binary.Write(w, order, buf)
	case DTFloat32:
		buf := make([]float32, len(data))
		for i, value := range data {
			buf[i] = float32(value)
		}
		return binary.Write(w, order, buf)
	case DTFloat64:
		return binary.Write(w, order, data)
	default:
		return fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
}

func clamp(value, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, value))
}

func dataRange(data []float64) (float64, float64) {
	if len(data) == 0 {
		return 0, 0
	}
	lo, hi := data[0], data[0]
	for _, value := range data[1:] {
		lo = math.Min(lo, value)
		hi = math.Max(hi, value)
	}
	return lo, hi
}
