package clipper

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"segwizard/internal/models"
)

// Summary describes the samples of a clipped volume that differ from the
// fill value.
type Summary struct {
	Kept   int
	Filled int
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

// Summarize computes statistics over the samples of v that are not fill.
// NaN samples are counted as filled.
// The extrema are NaN when nothing was kept.
func Summarize(v *models.Volume, fill float64) Summary {
	kept := make([]float64, 0, len(v.Data))
	for _, s := range v.Data {
		if s != fill && !math.IsNaN(s) {
			kept = append(kept, s)
		}
	}
	sum := Summary{
		Kept:   len(kept),
		Filled: len(v.Data) - len(kept),
		Min:    math.NaN(),
		Max:    math.NaN(),
	}
	if len(kept) == 0 {
		return sum
	}
	sum.Min = floats.Min(kept)
	sum.Max = floats.Max(kept)
	sum.Mean, sum.StdDev = stat.MeanStdDev(kept, nil)
	return sum
}

// ThresholdRange returns the initial threshold window for a clipped volume:
// the smallest and largest samples that are neither fill nor NaN. A volume
// holding only fill gives [fill, fill].
func ThresholdRange(v *models.Volume, fill float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range v.Data {
		if s == fill || math.IsNaN(s) {
			continue
		}
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	if lo > hi {
		return fill, fill
	}
	return lo, hi
}
