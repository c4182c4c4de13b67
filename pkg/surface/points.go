package surface

import (
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"
)

// landmark is a point with its index in the landmark set.
type landmark struct {
	r3.Vec
	index int
}

// Compare implements the kdtree.Comparable interface
func (p landmark) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(landmark)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p landmark) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p landmark) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(landmark).Vec))
}

// landmarks is a collection of landmark that satisfies kdtree.Interface
type landmarks []landmark

func (p landmarks) Index(i int) kdtree.Comparable         { return p[i] }
func (p landmarks) Len() int                              { return len(p) }
func (p landmarks) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p landmarks) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(landmarkPlane{landmarks: p, Dim: d}, kdtree.MedianOfRandoms(landmarkPlane{landmarks: p, Dim: d}, 100))
}

// landmarkPlane implements sort.Interface and kdtree.SortSlicer for landmarks
type landmarkPlane struct {
	landmarks
	kdtree.Dim
}

func (p landmarkPlane) Less(i, j int) bool {
	return p.landmarks[i].Compare(p.landmarks[j], p.Dim) < 0
}

func (p landmarkPlane) Slice(start, end int) kdtree.SortSlicer {
	return landmarkPlane{landmarks: p.landmarks[start:end], Dim: p.Dim}
}

func (p landmarkPlane) Swap(i, j int) {
	p.landmarks[i], p.landmarks[j] = p.landmarks[j], p.landmarks[i]
}

// dedupe drops points lying within tol of an earlier kept point. It returns
// the kept points in input order and the indices of the dropped ones.
func dedupe(points []r3.Vec, tol float64) (kept []r3.Vec, dropped []int) {
	if len(points) == 0 {
		return nil, nil
	}
	all := make(landmarks, len(points))
	for i, p := range points {
		all[i] = landmark{Vec: p, index: i}
	}
	// New reorders its argument
	tree := kdtree.New(append(landmarks(nil), all...), false)

	tol2 := tol * tol
	keep := make([]bool, len(points))
	for _, p := range all {
		keeper := kdtree.NewDistKeeper(tol2)
		tree.NearestSet(keeper, p)
		keep[p.index] = true
		for _, c := range keeper.Heap {
			if c.Comparable == nil {
				continue
			}
			if q := c.Comparable.(landmark); q.index < p.index && keep[q.index] {
				keep[p.index] = false
				break
			}
		}
		if keep[p.index] {
			kept = append(kept, p.Vec)
		} else {
			dropped = append(dropped, p.index)
		}
	}
	return kept, dropped
}
