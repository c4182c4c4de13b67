// Package delaunay computes 3D Delaunay tetrahedralizations of small point
// clouds and extracts the boundary surface of the resulting complex.
//
// The triangulation is built incrementally (Bowyer-Watson). Hull faces are
// closed off with "ghost" tetrahedra that share a symbolic vertex at
// infinity, so the boundary of the complex is always the exact convex hull of
// the input and the surface it yields is closed, convex and manifold.
package delaunay

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/pkg/geometry"
)

// ErrDegenerate is returned when the points do not span 3D space
// (fewer than four affinely independent points).
var ErrDegenerate = errors.New("delaunay: degenerate point set")

// infinite is the index of the symbolic vertex at infinity.
const infinite = -1

// Relative tolerances, scaled by the point cloud extent.
const (
	lengthTol = 1e-9
	sphereTol = 1e-10
)

// Tetra is a positively oriented tetrahedron given by point indices.
type Tetra [4]int

// Mesh is the result of a tetrahedralization.
type Mesh struct {
	// Points are the input points, indexed by Tetras
	Points []r3.Vec

	// Tetras are the finite tetrahedra of the complex
	Tetras []Tetra

	// Skipped lists input indices that were not inserted (duplicates)
	Skipped []int

	hull [][3]int
}

type tetra struct {
	v       [4]int
	center  r3.Vec
	radius2 float64
	dead    bool
}

func (t *tetra) ghost() bool {
	return t.v[3] == infinite
}

// faces returns the four faces of t, each wound so its normal points out of t.
func (t *tetra) faces() [4][3]int {
	v := t.v
	return [4][3]int{
		{v[1], v[2], v[3]},
		{v[0], v[3], v[2]},
		{v[0], v[1], v[3]},
		{v[0], v[2], v[1]},
	}
}

type faceKey [3]int

func keyOf(f [3]int) faceKey {
	k := faceKey(f)
	sort.Ints(k[:])
	return k
}

type triangulation struct {
	pts    []r3.Vec
	tets   []*tetra
	volTol float64
}

// Tetrahedralize computes the Delaunay tetrahedralization of points.
// Duplicate points are skipped and reported in Mesh.Skipped.
func Tetrahedralize(points []r3.Vec) (*Mesh, error) {
	scale := geometry.Diagonal(geometry.Bounds(points))
	if len(points) < 4 || scale == 0 {
		return nil, fmt.Errorf("%w: need 4 non-coplanar points, got %d", ErrDegenerate, len(points))
	}

	tr := &triangulation{
		pts:    points,
		volTol: lengthTol * scale * scale * scale,
	}

	seed, err := tr.initialSimplex(scale)
	if err != nil {
		return nil, err
	}
	tr.addSimplex(seed)

	used := map[int]bool{seed[0]: true, seed[1]: true, seed[2]: true, seed[3]: true}
	m := &Mesh{Points: points}
	for i := range points {
		if used[i] {
			continue
		}
		if !tr.insert(i) {
			m.Skipped = append(m.Skipped, i)
		}
	}

	for _, t := range tr.tets {
		if t.dead {
			continue
		}
		if t.ghost() {
			m.hull = append(m.hull, [3]int{t.v[0], t.v[1], t.v[2]})
			continue
		}
		m.Tetras = append(m.Tetras, Tetra(t.v))
	}
	return m, nil
}

// initialSimplex picks four affinely independent points in input order.
func (tr *triangulation) initialSimplex(scale float64) ([4]int, error) {
	pts := tr.pts
	p0 := pts[0]

	i1 := -1
	for i := 1; i < len(pts); i++ {
		if r3.Norm(r3.Sub(pts[i], p0)) > lengthTol*scale {
			i1 = i
			break
		}
	}
	if i1 < 0 {
		return [4]int{}, fmt.Errorf("%w: all points coincide", ErrDegenerate)
	}

	i2 := -1
	for i := i1 + 1; i < len(pts); i++ {
		area := r3.Norm(r3.Cross(r3.Sub(pts[i1], p0), r3.Sub(pts[i], p0)))
		if area > lengthTol*scale*scale {
			i2 = i
			break
		}
	}
	if i2 < 0 {
		return [4]int{}, fmt.Errorf("%w: all points are collinear", ErrDegenerate)
	}

	i3 := -1
	for i := i2 + 1; i < len(pts); i++ {
		if math.Abs(orient(p0, pts[i1], pts[i2], pts[i])) > tr.volTol {
			i3 = i
			break
		}
	}
	if i3 < 0 {
		return [4]int{}, fmt.Errorf("%w: all points are coplanar", ErrDegenerate)
	}

	if orient(p0, pts[i1], pts[i2], pts[i3]) < 0 {
		i1, i2 = i2, i1
	}
	return [4]int{0, i1, i2, i3}, nil
}

// addSimplex installs the first tetrahedron and one ghost per hull face.
func (tr *triangulation) addSimplex(v [4]int) {
	first := tr.newTetra(v)
	tr.tets = append(tr.tets, first)
	for _, f := range first.faces() {
		tr.tets = append(tr.tets, tr.newTetra([4]int{f[0], f[1], f[2], infinite}))
	}
}

func (tr *triangulation) newTetra(v [4]int) *tetra {
	t := &tetra{v: normalize(v)}
	if !t.ghost() {
		a, b, c, d := tr.pts[t.v[0]], tr.pts[t.v[1]], tr.pts[t.v[2]], tr.pts[t.v[3]]
		t.center, t.radius2 = circumsphere(a, b, c, d)
	}
	return t
}

// normalize moves the infinite vertex to the last slot using an even
// permutation, which keeps the orientation.
func normalize(v [4]int) [4]int {
	for i := 0; i < 3; i++ {
		if v[i] != infinite {
			continue
		}
		v[i], v[3] = v[3], v[i]
		j, k := (i+1)%3, (i+2)%3
		v[j], v[k] = v[k], v[j]
		break
	}
	return v
}

// conflict reports whether point p lies strictly inside t's circumsphere.
// For a ghost the "sphere" is the open half-space beyond its hull face,
// plus the face's circumcircle when p is coplanar with it.
func (tr *triangulation) conflict(t *tetra, p r3.Vec) bool {
	if !t.ghost() {
		d2 := r3.Norm2(r3.Sub(p, t.center))
		return d2 < t.radius2*(1-sphereTol)
	}
	a, b, c := tr.pts[t.v[0]], tr.pts[t.v[1]], tr.pts[t.v[2]]
	o := orient(a, b, c, p)
	if o > tr.volTol {
		return true
	}
	if o < -tr.volTol {
		return false
	}
	center, r2 := circumcircle(a, b, c)
	return r3.Norm2(r3.Sub(p, center)) < r2*(1-sphereTol)
}

// contains reports whether finite tetra t contains p (boundary included).
func (tr *triangulation) contains(t *tetra, p r3.Vec) bool {
	for _, f := range t.faces() {
		if orient(tr.pts[f[0]], tr.pts[f[1]], tr.pts[f[2]], p) > tr.volTol {
			return false
		}
	}
	return true
}

func (tr *triangulation) faceIndex() map[faceKey][]*tetra {
	idx := make(map[faceKey][]*tetra, len(tr.tets)*2)
	for _, t := range tr.tets {
		if t.dead {
			continue
		}
		for _, f := range t.faces() {
			k := keyOf(f)
			idx[k] = append(idx[k], t)
		}
	}
	return idx
}

func neighbor(idx map[faceKey][]*tetra, t *tetra, f [3]int) *tetra {
	for _, n := range idx[keyOf(f)] {
		if n != t {
			return n
		}
	}
	return nil
}

// locate returns a conflicting tetrahedron to grow the cavity from: the
// finite tetrahedron containing p, or the ghost whose face p is furthest
// beyond.
func (tr *triangulation) locate(p r3.Vec) *tetra {
	var best *tetra
	bestDist := math.Inf(-1)
	for _, t := range tr.tets {
		if t.dead || !tr.conflict(t, p) {
			continue
		}
		if !t.ghost() {
			if tr.contains(t, p) {
				return t
			}
			continue
		}
		d := orient(tr.pts[t.v[0]], tr.pts[t.v[1]], tr.pts[t.v[2]], p)
		if d > bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

// insert adds point i to the triangulation. It returns false when the point
// conflicts with nothing (a duplicate of an existing vertex).
func (tr *triangulation) insert(i int) bool {
	p := tr.pts[i]
	seed := tr.locate(p)
	if seed == nil {
		return false
	}

	idx := tr.faceIndex()
	cavity := map[*tetra]bool{seed: true}
	queue := []*tetra{seed}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]
		for _, f := range t.faces() {
			n := neighbor(idx, t, f)
			if n == nil || cavity[n] || !tr.conflict(n, p) {
				continue
			}
			cavity[n] = true
			queue = append(queue, n)
		}
	}

	// Grow the cavity until p sees every finite boundary face from inside,
	// so no new tetrahedron is flat or inverted.
	var boundary [][3]int
	for grown := true; grown; {
		grown = false
		boundary = boundary[:0]
		for t := range cavity {
			for _, f := range t.faces() {
				n := neighbor(idx, t, f)
				if n != nil && cavity[n] {
					continue
				}
				if f[0] != infinite && f[1] != infinite && f[2] != infinite && n != nil {
					if orient(tr.pts[f[0]], tr.pts[f[1]], tr.pts[f[2]], p) > -tr.volTol {
						cavity[n] = true
						grown = true
						continue
					}
				}
				boundary = append(boundary, f)
			}
		}
	}

	for t := range cavity {
		t.dead = true
	}
	// Sort for deterministic output independent of map iteration order.
	sort.Slice(boundary, func(a, b int) bool {
		fa, fb := keyOf(boundary[a]), keyOf(boundary[b])
		for k := 0; k < 3; k++ {
			if fa[k] != fb[k] {
				return fa[k] < fb[k]
			}
		}
		return false
	})
	for _, f := range boundary {
		tr.tets = append(tr.tets, tr.newTetra([4]int{f[0], f[2], f[1], i}))
	}
	tr.compact()
	return true
}

func (tr *triangulation) compact() {
	live := tr.tets[:0]
	for _, t := range tr.tets {
		if !t.dead {
			live = append(live, t)
		}
	}
	tr.tets = live
}

// Boundary returns the outer surface of the complex: the convex hull of the
// points, wound with outward normals, over a compacted vertex list. Vertex
// order follows the input order.
func (m *Mesh) Boundary() ([]r3.Vec, [][3]int) {
	used := make(map[int]bool)
	for _, f := range m.hull {
		for _, v := range f {
			used[v] = true
		}
	}
	order := make([]int, 0, len(used))
	for v := range used {
		order = append(order, v)
	}
	sort.Ints(order)

	remap := make(map[int]int, len(order))
	vertices := make([]r3.Vec, len(order))
	for n, v := range order {
		remap[v] = n
		vertices[n] = m.Points[v]
	}

	faces := make([][3]int, len(m.hull))
	for n, f := range m.hull {
		faces[n] = [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
	}
	sort.Slice(faces, func(a, b int) bool {
		for k := 0; k < 3; k++ {
			if faces[a][k] != faces[b][k] {
				return faces[a][k] < faces[b][k]
			}
		}
		return false
	})
	return vertices, faces
}

// Volume returns the total volume of the finite tetrahedra.
func (m *Mesh) Volume() float64 {
	var vol float64
	for _, t := range m.Tetras {
		vol += orient(m.Points[t[0]], m.Points[t[1]], m.Points[t[2]], m.Points[t[3]]) / 6
	}
	return vol
}
