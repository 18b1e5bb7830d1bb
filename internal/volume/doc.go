// Package volume reads and writes the single-file NIfTI-1 images the pipeline
// exchanges with FSL and ANTs.
//
// Voxel values are decoded through github.com/henghuang/nifti and held as a
// flat float64 slice in x-fastest order. Geometry (dimensions, spacing and the
// voxel-to-world affine) comes from the raw 348 byte header, which is also kept
// so derived masks can be written on exactly the grid of their source image.
package volume
