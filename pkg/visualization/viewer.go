// Package visualization renders orthogonal slices of a volume for review.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"segwizard/internal/models"
	"segwizard/pkg/geometry"
)

// Slice axes. Sagittal slices are cut across I, coronal across J and axial
// across K.
const (
	Sagittal = "sagittal"
	Coronal  = "coronal"
	Axial    = "axial"
)

// Viewer cuts grey-level slices out of a volume.
type Viewer struct {
	volume *models.Volume

	// window maps samples in [low, high] onto the grey range
	low, high float64
}

// NewViewer creates a viewer for v. The display window of v is used when
// set; otherwise the window spans the 1st to 99th percentile of the samples.
func NewViewer(v *models.Volume) *Viewer {
	low, high := window(v)
	return &Viewer{volume: v, low: low, high: high}
}

func window(v *models.Volume) (float64, float64) {
	if d := v.Display; d != nil && d.Window > 0 {
		return d.Level - d.Window/2, d.Level + d.Window/2
	}
	samples := make([]float64, 0, len(v.Data))
	for _, s := range v.Data {
		if !math.IsNaN(s) {
			samples = append(samples, s)
		}
	}
	if len(samples) == 0 {
		return 0, 1
	}
	sort.Float64s(samples)
	low := stat.Quantile(0.01, stat.Empirical, samples, nil)
	high := stat.Quantile(0.99, stat.Empirical, samples, nil)
	if high <= low {
		high = low + 1
	}
	return low, high
}

// Window returns the sample range mapped onto black to white.
func (v *Viewer) Window() (low, high float64) {
	return v.low, v.high
}

// SetWindow overrides the display window.
func (v *Viewer) SetWindow(low, high float64) error {
	if !(high > low) {
		return fmt.Errorf("invalid window [%v, %v]", low, high)
	}
	v.low, v.high = low, high
	return nil
}

func (v *Viewer) grey(s float64) color.Gray {
	if math.IsNaN(s) {
		return color.Gray{}
	}
	t := (s - v.low) / (v.high - v.low)
	return color.Gray{Y: uint8(math.Round(255 * math.Max(0, math.Min(1, t))))}
}

// SliceCount returns the number of slices along axis.
func (v *Viewer) SliceCount(axis string) (int, error) {
	dims := v.volume.Dims
	switch axis {
	case Sagittal:
		return dims[0], nil
	case Coronal:
		return dims[1], nil
	case Axial:
		return dims[2], nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be %s, %s or %s)", axis, Sagittal, Coronal, Axial)
}

// ExtractSlice extracts slice position across axis. Axial slices are I wide
// and J high, coronal slices I wide and K high, sagittal slices J wide and K
// high.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	count, err := v.SliceCount(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= count {
		return nil, fmt.Errorf("position %d outside [0, %d) for %s slices", position, count, axis)
	}

	vol := v.volume
	ni, nj, nk := vol.Dims[0], vol.Dims[1], vol.Dims[2]
	var img *image.Gray

	switch axis {
	case Axial:
		img = image.NewGray(image.Rect(0, 0, ni, nj))
		for j := 0; j < nj; j++ {
			for i := 0; i < ni; i++ {
				img.SetGray(i, j, v.grey(vol.At(i, j, position)))
			}
		}
	case Coronal:
		img = image.NewGray(image.Rect(0, 0, ni, nk))
		for k := 0; k < nk; k++ {
			for i := 0; i < ni; i++ {
				img.SetGray(i, k, v.grey(vol.At(i, position, k)))
			}
		}
	case Sagittal:
		img = image.NewGray(image.Rect(0, 0, nj, nk))
		for k := 0; k < nk; k++ {
			for j := 0; j < nj; j++ {
				img.SetGray(j, k, v.grey(vol.At(position, j, k)))
			}
		}
	}
	return img, nil
}

// ExtractRegion copies a box of voxels into a new volume whose IJKToRAS keeps
// every voxel at its original reference position.
func (v *Viewer) ExtractRegion(start, size [3]int) (*models.Volume, error) {
	for a := 0; a < 3; a++ {
		if start[a] < 0 {
			return nil, fmt.Errorf("start coordinates must be non-negative")
		}
		if size[a] <= 0 {
			return nil, fmt.Errorf("size dimensions must be positive")
		}
		if start[a]+size[a] > v.volume.Dims[a] {
			return nil, fmt.Errorf("region extends beyond volume boundaries")
		}
	}

	src := v.volume
	shift := geometry.Translation(r3.Vec{X: float64(start[0]), Y: float64(start[1]), Z: float64(start[2])})
	region := models.NewVolume(src.Name, size, src.IJKToRAS.Mul(shift))
	for k := 0; k < size[2]; k++ {
		for j := 0; j < size[1]; j++ {
			row := src.Index(start[0], start[1]+j, start[2]+k)
			copy(region.Data[region.Index(0, j, k):], src.Data[row:row+size[0]])
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along axis and returns the
// number written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	count, err := v.SliceCount(axis)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	for pos := 0; pos < count; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}

	return count, nil
}
