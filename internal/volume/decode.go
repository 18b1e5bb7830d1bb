package volume

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/gzip"
)

// checkLayout rejects headers whose voxel layout cannot be decoded.
func checkLayout(hdr Header) error {
	bitpix, err := bitsFor(hdr.DataType)
	if err != nil {
		return err
	}
	if hdr.BitPix != bitpix {
		return fmt.Errorf("bitpix %d does not match datatype %d", hdr.BitPix, hdr.DataType)
	}
	for axis := 1; axis <= 3; axis++ {
		if hdr.Dim[axis] <= 0 {
			return fmt.Errorf("dim[%d]=%d is not positive", axis, hdr.Dim[axis])
		}
	}
	if math.IsNaN(float64(hdr.VoxOffset)) || hdr.VoxOffset < headerSize {
		return fmt.Errorf("vox_offset %v points inside the header", hdr.VoxOffset)
	}
	return nil
}

// readVoxels decodes the first n voxels after vox_offset using the header's
// datatype and byte order.
func readVoxels(path string, hdr Header, order binary.ByteOrder, n int) ([]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	if IsCompressed(path) {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gunzip: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	if _, err := io.CopyN(io.Discard, r, int64(hdr.VoxOffset)); err != nil {
		return nil, fmt.Errorf("seek to voxel data: %w", err)
	}

	data := make([]float64, n)
	switch hdr.DataType {
	case DTUint8:
		err = decodeAs[uint8](r, order, data)
	case DTInt16:
		err = decodeAs[int16](r, order, data)
	case DTInt32:
		err = decodeAs[int32](r, order, data)
	case DTFloat32:
		err = decodeAs[float32](r, order, data)
	case DTFloat64:
		err = decodeAs[float64](r, order, data)
	default:
		err = fmt.Errorf("unsupported NIfTI datatype %d", hdr.DataType)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("voxel data truncated: want %d voxels", n)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func decodeAs[T uint8 | int16 | int32 | float32 | float64](r io.Reader, order binary.ByteOrder, dst []float64) error {
	buf := make([]T, len(dst))
	if err := binary.Read(r, order, buf); err != nil {
		return err
	}
	for i, value := range buf {
		dst[i] = float64(value)
	}
	return nil
}

// applyScaling maps stored values through scl_slope and scl_inter. A zero or
// non-finite slope means the values are stored unscaled.
func applyScaling(data []float64, hdr Header) {
	slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	if slope == 1 && inter == 0 {
		return
	}
	for i, value := range data {
		data[i] = value*slope + inter
	}
}
