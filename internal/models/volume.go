package models

import (
	"fmt"
	"math"

	"segwizard/pkg/geometry"
)

// VolumeDisplay holds the visualization defaults attached to a volume.
type VolumeDisplay struct {
	// ColorTable is the lookup table name used when rendering slices
	ColorTable string

	// Window and Level are the intensity window used for display
	Window float64
	Level  float64
}

// Volume is a 3D scalar image: a rectilinear grid of samples plus the
// transform from voxel indices to the reference coordinate space.
type Volume struct {
	// Name identifies the volume to the user
	Name string

	// Dims is the number of samples along I, J and K
	Dims [3]int

	// Data holds the samples in I-fastest order: k*I*J + j*I + i
	Data []float64

	// IJKToRAS maps continuous voxel indices to reference coordinates
	IJKToRAS geometry.Affine

	// Display is nil until a display style is attached
	Display *VolumeDisplay
}

// NewVolume allocates a zero-filled volume with the given dimensions.
func NewVolume(name string, dims [3]int, ijkToRAS geometry.Affine) *Volume {
	return &Volume{
		Name:     name,
		Dims:     dims,
		Data:     make([]float64, dims[0]*dims[1]*dims[2]),
		IJKToRAS: ijkToRAS,
	}
}

// NewVolumeLike allocates a fresh volume with the same geometry as v.
func NewVolumeLike(name string, v *Volume) *Volume {
	return NewVolume(name, v.Dims, v.IJKToRAS)
}

// Len returns the number of samples the dimensions describe.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// Index returns the flat offset of voxel (i, j, k).
func (v *Volume) Index(i, j, k int) int {
	return k*v.Dims[0]*v.Dims[1] + j*v.Dims[0] + i
}

// At returns the sample at (i, j, k).
func (v *Volume) At(i, j, k int) float64 {
	return v.Data[v.Index(i, j, k)]
}

// Set stores a sample at (i, j, k).
func (v *Volume) Set(i, j, k int, value float64) {
	v.Data[v.Index(i, j, k)] = value
}

// Validate checks that the dimensions are positive and match the data.
func (v *Volume) Validate() error {
	for axis, n := range v.Dims {
		if n <= 0 {
			return fmt.Errorf("volume %q: dimension %d is %d, must be positive", v.Name, axis, n)
		}
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("volume %q: %d samples for dimensions %v (want %d)", v.Name, len(v.Data), v.Dims, v.Len())
	}
	return nil
}

// ScalarRange returns the minimum and maximum sample. NaN samples are skipped.
func (v *Volume) ScalarRange() (min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, s := range v.Data {
		if math.IsNaN(s) {
			continue
		}
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}

// DefaultVolumeDisplay returns the grey display style with a window that
// spans the volume's sample range.
func DefaultVolumeDisplay(v *Volume) *VolumeDisplay {
	lo, hi := v.ScalarRange()
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		lo, hi = 0, 0
	}
	return &VolumeDisplay{
		ColorTable: "Grey",
		Window:     hi - lo,
		Level:      (hi + lo) / 2,
	}
}
