// Package stencil rasterizes closed triangle meshes into binary voxel masks.
//
// Geometry is expected in voxel index coordinates: voxel (i, j, k) is the
// sample at the integer point (i, j, k). For every (j, k) row a ray is cast
// along +i and its crossings with the surface are paired even-odd, so the
// mask is exact for closed surfaces and strictly binary per voxel.
package stencil

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// Run is a half-open span [Start, End) of inside voxels along i.
type Run struct {
	Start, End int
}

// Len returns the number of voxels in the run.
func (r Run) Len() int {
	return r.End - r.Start
}

// Mask is a voxel stencil stored as runs per (j, k) row.
type Mask struct {
	Dims [3]int

	// Rows holds the sorted, disjoint runs of row (j, k) at j + k*J
	Rows [][]Run

	// OddRows counts rows whose ray crossed the surface an odd number of
	// times, which only happens for open or self-intersecting meshes
	OddRows int
}

// Row returns the runs of row (j, k).
func (m *Mask) Row(j, k int) []Run {
	return m.Rows[j+k*m.Dims[1]]
}

// Inside reports whether voxel (i, j, k) is inside the surface.
func (m *Mask) Inside(i, j, k int) bool {
	if i < 0 || j < 0 || k < 0 || i >= m.Dims[0] || j >= m.Dims[1] || k >= m.Dims[2] {
		return false
	}
	runs := m.Row(j, k)
	n := sort.Search(len(runs), func(x int) bool { return runs[x].End > i })
	return n < len(runs) && runs[n].Start <= i
}

// Count returns the number of inside voxels.
func (m *Mask) Count() int {
	n := 0
	for _, row := range m.Rows {
		for _, r := range row {
			n += r.Len()
		}
	}
	return n
}

// Each calls fn for every row with its runs, in memory order of the volume.
func (m *Mask) Each(fn func(j, k int, runs []Run)) {
	for k := 0; k < m.Dims[2]; k++ {
		for j := 0; j < m.Dims[1]; j++ {
			fn(j, k, m.Rows[j+k*m.Dims[1]])
		}
	}
}

type point2 struct{ u, v float64 }

// cross2 is twice the signed area of (a, b, p).
func cross2(a, b, p point2) float64 {
	return (b.u-a.u)*(p.v-a.v) - (b.v-a.v)*(p.u-a.u)
}

func less2(a, b point2) bool {
	return a.u < b.u || (a.u == b.u && a.v < b.v)
}

// edgeFunc evaluates cross2 with the endpoints in a canonical order, so an
// edge shared by two triangles gives exactly opposite values in both.
func edgeFunc(a, b, p point2) float64 {
	if less2(b, a) {
		return -cross2(b, a, p)
	}
	return cross2(a, b, p)
}

// owns applies the top-left rule for a point lying exactly on edge a->b of a
// counter-clockwise triangle. Opposite directions never both own an edge.
func owns(a, b point2) bool {
	dv := b.v - a.v
	return dv < 0 || (dv == 0 && b.u > a.u)
}

// Rasterize builds the mask of a closed mesh over a grid of dims voxels.
func Rasterize(vertices []r3.Vec, triangles [][3]int, dims [3]int) *Mask {
	ni, nj, nk := dims[0], dims[1], dims[2]
	m := &Mask{Dims: dims, Rows: make([][]Run, nj*nk)}
	if ni <= 0 || nj <= 0 || nk <= 0 {
		return m
	}

	crossings := make([][]float64, nj*nk)
	for _, t := range triangles {
		p := [3]r3.Vec{vertices[t[0]], vertices[t[1]], vertices[t[2]]}
		q := [3]point2{{p[0].Y, p[0].Z}, {p[1].Y, p[1].Z}, {p[2].Y, p[2].Z}}

		area := edgeFunc(q[0], q[1], q[2])
		if area == 0 || math.IsNaN(area) {
			continue
		}
		if area < 0 {
			p[1], p[2] = p[2], p[1]
			q[1], q[2] = q[2], q[1]
		}

		j0 := max(0, ceilIndex(min(q[0].u, q[1].u, q[2].u)))
		j1 := min(nj-1, floorIndex(max(q[0].u, q[1].u, q[2].u)))
		k0 := max(0, ceilIndex(min(q[0].v, q[1].v, q[2].v)))
		k1 := min(nk-1, floorIndex(max(q[0].v, q[1].v, q[2].v)))

		for k := k0; k <= k1; k++ {
			for j := j0; j <= j1; j++ {
				s := point2{float64(j), float64(k)}
				w0 := edgeFunc(q[1], q[2], s)
				w1 := edgeFunc(q[2], q[0], s)
				w2 := edgeFunc(q[0], q[1], s)
				if w0 < 0 || w1 < 0 || w2 < 0 {
					continue
				}
				if (w0 == 0 && !owns(q[1], q[2])) ||
					(w1 == 0 && !owns(q[2], q[0])) ||
					(w2 == 0 && !owns(q[0], q[1])) {
					continue
				}
				x := (w0*p[0].X + w1*p[1].X + w2*p[2].X) / (w0 + w1 + w2)
				crossings[j+k*nj] = append(crossings[j+k*nj], x)
			}
		}
	}

	for row, xs := range crossings {
		if len(xs) == 0 {
			continue
		}
		sort.Float64s(xs)
		if len(xs)%2 == 1 {
			m.OddRows++
			xs = xs[:len(xs)-1]
		}
		m.Rows[row] = spans(xs, ni)
	}
	return m
}

// spans pairs sorted crossings into runs over [0, n). Voxel i lies inside a
// pair (x0, x1) when x0 <= i < x1.
func spans(xs []float64, n int) []Run {
	var runs []Run
	for p := 0; p+1 < len(xs); p += 2 {
		start := max(0, ceilIndex(xs[p]))
		end := min(n, ceilIndex(xs[p+1]))
		if start >= end {
			continue
		}
		if last := len(runs) - 1; last >= 0 && runs[last].End >= start {
			runs[last].End = max(runs[last].End, end)
			continue
		}
		runs = append(runs, Run{Start: start, End: end})
	}
	return runs
}

// ceilIndex is math.Ceil clamped to the int32 range.
func ceilIndex(x float64) int {
	switch {
	case x < math.MinInt32:
		return math.MinInt32
	case x > math.MaxInt32:
		return math.MaxInt32
	}
	return int(math.Ceil(x))
}

func floorIndex(x float64) int {
	return -ceilIndex(-x)
}
