package roi

import (
	"fmt"

	"radt1cal/internal/volume"
)

// Mask selects the voxels of one atlas region.
type Mask struct {
	Region int
	Voxels []bool
	Count  int
}

// DeriveMask builds the mask of voxels whose atlas label equals region.
// present is false when no voxel carries the label; such a mask must not be
// persisted or processed further.
func DeriveMask(atlas *volume.Volume, region int) (Mask, bool) {
	mask := Mask{Region: region, Voxels: make([]bool, atlas.Len())}
	label := float64(region)
	for i, value := range atlas.Data {
		if value == label {
			mask.Voxels[i] = true
			mask.Count++
		}
	}
	return mask, mask.Count > 0
}

// ComputeVolume returns the number of voxels that stay non-zero after the
// image is multiplied by the mask, times the voxel volume dx*dy*dz.
// Voxels inside the region whose intensity is exactly zero are not counted.
func ComputeVolume(image *volume.Volume, mask Mask, voxelDims [3]float64) (float64, error) {
	if image.Len() != len(mask.Voxels) {
		return 0, fmt.Errorf("region %d: image has %d voxels, mask has %d", mask.Region, image.Len(), len(mask.Voxels))
	}
	count := 0
	for i, on := range mask.Voxels {
		if on && image.Data[i] != 0 {
			count++
		}
	}
	return float64(count) * voxelDims[0] * voxelDims[1] * voxelDims[2], nil
}
