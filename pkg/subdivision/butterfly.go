// Package subdivision implements interpolating subdivision of closed
// triangle meshes.
package subdivision

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrNotManifold is returned for meshes that are open or have edges or
// vertices shared by more than one fan of triangles.
var ErrNotManifold = errors.New("subdivision: mesh is not a closed manifold")

type edge struct{ from, to int }

type topology struct {
	// opposite maps a directed edge a->b to the third vertex of the
	// triangle it bounds.
	opposite map[edge]int

	// rings holds each vertex's one-ring in winding order.
	rings [][]int
}

func buildTopology(nverts int, triangles [][3]int) (*topology, error) {
	top := &topology{
		opposite: make(map[edge]int, len(triangles)*3),
		rings:    make([][]int, nverts),
	}
	start := make([]int, nverts)
	for i := range start {
		start[i] = -1
	}
	valence := make([]int, nverts)

	for n, t := range triangles {
		for k := 0; k < 3; k++ {
			a, b, c := t[k], t[(k+1)%3], t[(k+2)%3]
			if a < 0 || a >= nverts {
				return nil, fmt.Errorf("triangle %d references vertex %d out of %d", n, a, nverts)
			}
			if a == b || b == c || a == c {
				return nil, fmt.Errorf("%w: triangle %d is degenerate", ErrNotManifold, n)
			}
			e := edge{a, b}
			if _, dup := top.opposite[e]; dup {
				return nil, fmt.Errorf("%w: edge %d-%d used twice in the same direction", ErrNotManifold, a, b)
			}
			top.opposite[e] = c
			valence[a]++
			if start[a] < 0 {
				start[a] = b
			}
		}
	}
	for e := range top.opposite {
		if _, ok := top.opposite[edge{e.to, e.from}]; !ok {
			return nil, fmt.Errorf("%w: boundary edge %d-%d", ErrNotManifold, e.from, e.to)
		}
	}

	for v := 0; v < nverts; v++ {
		if start[v] < 0 {
			continue
		}
		ring := make([]int, 0, valence[v])
		n := start[v]
		for {
			ring = append(ring, n)
			n = top.opposite[edge{v, n}]
			if n == start[v] {
				break
			}
			if len(ring) >= valence[v] {
				return nil, fmt.Errorf("%w: vertex %d joins several fans", ErrNotManifold, v)
			}
		}
		if len(ring) != valence[v] {
			return nil, fmt.Errorf("%w: vertex %d joins several fans", ErrNotManifold, v)
		}
		if len(ring) < 3 {
			return nil, fmt.Errorf("%w: vertex %d has valence %d", ErrNotManifold, v, len(ring))
		}
		top.rings[v] = ring
	}
	return top, nil
}

// ringFrom returns v's one-ring rotated to start at neighbor n.
func (top *topology) ringFrom(v, n int) []int {
	ring := top.rings[v]
	for i, u := range ring {
		if u == n {
			out := make([]int, 0, len(ring))
			out = append(out, ring[i:]...)
			return append(out, ring[:i]...)
		}
	}
	return ring
}

// irregularWeights returns the stencil weights applied to the one-ring of an
// extraordinary vertex of valence k. The vertex itself carries 3/4.
func irregularWeights(k int) []float64 {
	switch k {
	case 3:
		return []float64{5.0 / 12, -1.0 / 12, -1.0 / 12}
	case 4:
		return []float64{3.0 / 8, 0, -1.0 / 8, 0}
	}
	w := make([]float64, k)
	for j := range w {
		theta := 2 * math.Pi * float64(j) / float64(k)
		w[j] = (0.25 + math.Cos(theta) + 0.5*math.Cos(2*theta)) / float64(k)
	}
	return w
}

func irregularPoint(vertices []r3.Vec, v int, ring []int) r3.Vec {
	p := r3.Scale(0.75, vertices[v])
	for j, w := range irregularWeights(len(ring)) {
		p = r3.Add(p, r3.Scale(w, vertices[ring[j]]))
	}
	return p
}

// edgePoint computes the new vertex inserted on edge a-b.
func (top *topology) edgePoint(vertices []r3.Vec, a, b int) r3.Vec {
	ringA := top.ringFrom(a, b)
	ringB := top.ringFrom(b, a)
	regularA, regularB := len(ringA) == 6, len(ringB) == 6

	switch {
	case regularA && regularB:
		p := r3.Scale(0.5, r3.Add(vertices[a], vertices[b]))
		p = r3.Add(p, r3.Scale(0.125, r3.Add(vertices[ringA[1]], vertices[ringA[5]])))
		wings := r3.Add(
			r3.Add(vertices[ringA[2]], vertices[ringA[4]]),
			r3.Add(vertices[ringB[2]], vertices[ringB[4]]),
		)
		return r3.Sub(p, r3.Scale(1.0/16, wings))
	case regularB:
		return irregularPoint(vertices, a, ringA)
	case regularA:
		return irregularPoint(vertices, b, ringB)
	default:
		return r3.Scale(0.5, r3.Add(irregularPoint(vertices, a, ringA), irregularPoint(vertices, b, ringB)))
	}
}

// Butterfly applies passes rounds of modified butterfly subdivision to a
// closed manifold triangle mesh. Each pass splits every triangle into four;
// original vertices keep their positions and indices, new edge vertices are
// appended in order of first appearance.
func Butterfly(vertices []r3.Vec, triangles [][3]int, passes int) ([]r3.Vec, [][3]int, error) {
	if passes < 0 {
		return nil, nil, fmt.Errorf("subdivision: negative pass count %d", passes)
	}
	for pass := 0; pass < passes; pass++ {
		var err error
		vertices, triangles, err = butterflyPass(vertices, triangles)
		if err != nil {
			return nil, nil, fmt.Errorf("pass %d: %w", pass+1, err)
		}
	}
	return vertices, triangles, nil
}

func butterflyPass(vertices []r3.Vec, triangles [][3]int) ([]r3.Vec, [][3]int, error) {
	top, err := buildTopology(len(vertices), triangles)
	if err != nil {
		return nil, nil, err
	}

	out := make([]r3.Vec, len(vertices), len(vertices)+len(triangles)*3/2)
	copy(out, vertices)

	mids := make(map[edge]int, len(triangles)*3/2)
	midpoint := func(a, b int) int {
		key := edge{min(a, b), max(a, b)}
		if m, ok := mids[key]; ok {
			return m
		}
		mids[key] = len(out)
		out = append(out, top.edgePoint(vertices, a, b))
		return mids[key]
	}

	faces := make([][3]int, 0, len(triangles)*4)
	for _, t := range triangles {
		a, b, c := t[0], t[1], t[2]
		mab, mbc, mca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
		faces = append(faces,
			[3]int{a, mab, mca},
			[3]int{b, mbc, mab},
			[3]int{c, mca, mbc},
			[3]int{mab, mbc, mca},
		)
	}
	return out, faces, nil
}
