// Package clipper masks volumes with closed clipping surfaces.
package clipper

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"segwizard/internal/logger"
	"segwizard/internal/models"
	"segwizard/pkg/stencil"
)

// ErrEmptySurface is returned when the clipping surface has no triangles.
var ErrEmptySurface = errors.New("clip: surface has no triangles")

// Options controls which side of the surface is kept.
type Options struct {
	// ClipOutside keeps voxels inside the surface and fills the rest.
	// When false the inside is filled instead.
	ClipOutside bool

	// FillValue is written verbatim into every masked voxel
	FillValue float64
}

// Result summarizes a clip.
type Result struct {
	// Kept and Filled count voxels copied from the input and set to the
	// fill value; they always sum to the voxel count
	Kept   int
	Filled int

	// Inside is the number of voxels inside the surface
	Inside int

	// FillInRange is set when the fill value lies within the input's sample
	// range, so filled voxels cannot be told apart from real samples
	FillInRange bool

	// OddRows is non-zero when the surface was not closed
	OddRows int
}

// DefaultFillValue returns one below the smallest sample of v, so filled
// voxels fall outside the meaningful intensity range.
func DefaultFillValue(v *models.Volume) float64 {
	lo, _ := v.ScalarRange()
	if math.IsInf(lo, 0) {
		return -1
	}
	return lo - 1
}

// Clip writes input into output with voxels on the masked side of surf
// replaced by opts.FillValue.
//
// The surface is placed into the input's voxel index space through its own
// transform and the input's IJK-to-RAS transform. The output receives the
// input's dimensions and an exact copy of its IJK-to-RAS transform; its
// storage is reused when the length matches, which also makes clipping a
// volume into itself work. A default display is attached only when the
// output has none.
func Clip(input *models.Volume, surf *models.Surface, opts Options, output *models.Volume) (*Result, error) {
	if input == nil || output == nil {
		return nil, fmt.Errorf("clip: input and output volumes are required")
	}
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("clip: %w", err)
	}
	if surf.IsEmpty() {
		return nil, ErrEmptySurface
	}

	log := logger.Named("clipper")

	rasToModel, err := surf.ModelToReference().Inverse()
	if err != nil {
		return nil, fmt.Errorf("clip: surface transform: %w", err)
	}
	ijkToModel := rasToModel.Mul(input.IJKToRAS)
	modelToIJK, err := ijkToModel.Inverse()
	if err != nil {
		return nil, fmt.Errorf("clip: volume transform: %w", err)
	}

	vertices := modelToIJK.ApplyAll(surf.Vertices)
	mask := stencil.Rasterize(vertices, surf.Triangles, input.Dims)

	lo, hi := input.ScalarRange()
	res := &Result{
		Inside:      mask.Count(),
		FillInRange: opts.FillValue >= lo && opts.FillValue <= hi,
		OddRows:     mask.OddRows,
	}

	src := input.Data
	if len(output.Data) != len(src) {
		output.Data = make([]float64, len(src))
	}
	dst := output.Data

	ni := input.Dims[0]
	mask.Each(func(j, k int, runs []stencil.Run) {
		row := input.Index(0, j, k)
		i := 0
		for _, r := range runs {
			res.fill(dst, src, row+i, row+r.Start, !opts.ClipOutside, opts.FillValue)
			res.fill(dst, src, row+r.Start, row+r.End, opts.ClipOutside, opts.FillValue)
			i = r.End
		}
		res.fill(dst, src, row+i, row+ni, !opts.ClipOutside, opts.FillValue)
	})

	output.Dims = input.Dims
	output.IJKToRAS = input.IJKToRAS
	if output.Display == nil {
		output.Display = models.DefaultVolumeDisplay(output)
	}

	if res.FillInRange {
		log.Warn("fill value lies inside the input sample range",
			zap.Float64("fill", opts.FillValue),
			zap.Float64("min", lo),
			zap.Float64("max", hi))
	}
	if res.OddRows > 0 {
		log.Warn("clipping surface is not closed, some rows were classified best-effort",
			zap.Int("odd_rows", res.OddRows))
	}
	log.Debug("clipped volume",
		zap.String("input", input.Name),
		zap.String("output", output.Name),
		zap.String("surface", surf.Name),
		zap.Bool("clip_outside", opts.ClipOutside),
		zap.Int("kept", res.Kept),
		zap.Int("filled", res.Filled))

	return res, nil
}

// fill copies src into dst over [from, to) when keep is set, and writes the
// fill value otherwise.
func (r *Result) fill(dst, src []float64, from, to int, keep bool, value float64) {
	if from >= to {
		return
	}
	if keep {
		copy(dst[from:to], src[from:to])
		r.Kept += to - from
		return
	}
	for n := from; n < to; n++ {
		dst[n] = value
	}
	r.Filled += to - from
}
