package delaunay

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/internal/models"
)

func cubeCorners() []r3.Vec {
	var pts []r3.Vec
	for _, z := range []float64{0, 1} {
		for _, y := range []float64{0, 1} {
			for _, x := range []float64{0, 1} {
				pts = append(pts, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

func enclosedVolume(vertices []r3.Vec, triangles [][3]int) float64 {
	var vol float64
	for _, t := range triangles {
		vol += r3.Dot(vertices[t[0]], r3.Cross(vertices[t[1]], vertices[t[2]])) / 6
	}
	return vol
}

func checkClosedHull(t *testing.T, vertices []r3.Vec, triangles [][3]int) {
	t.Helper()
	s := &models.Surface{Vertices: vertices, Triangles: triangles}
	if !s.IsClosedManifold() {
		t.Fatalf("boundary is not a closed manifold (%d vertices, %d triangles)", len(vertices), len(triangles))
	}
	// Euler characteristic of a sphere: V - E + F = 2 with E = 3F/2.
	if got := len(vertices) - len(triangles)*3/2 + len(triangles); got != 2 {
		t.Errorf("Euler characteristic = %d, want 2", got)
	}
}

func TestTetrahedralizeCube(t *testing.T) {
	pts := append(cubeCorners(), r3.Vec{X: 0.5, Y: 0.5, Z: 0.5})

	m, err := Tetrahedralize(pts)
	if err != nil {
		t.Fatalf("Tetrahedralize failed: %v", err)
	}
	if v := m.Volume(); math.Abs(v-1) > 1e-9 {
		t.Errorf("tetrahedra volume = %v, want 1", v)
	}
	for _, tet := range m.Tetras {
		if o := orient(pts[tet[0]], pts[tet[1]], pts[tet[2]], pts[tet[3]]); o <= 0 {
			t.Errorf("tetrahedron %v is not positively oriented (%v)", tet, o)
		}
	}

	vertices, triangles := m.Boundary()
	if len(vertices) != 8 {
		t.Errorf("boundary has %d vertices, want the 8 corners", len(vertices))
	}
	if len(triangles) != 12 {
		t.Errorf("boundary has %d triangles, want 12", len(triangles))
	}
	checkClosedHull(t, vertices, triangles)
	if v := enclosedVolume(vertices, triangles); math.Abs(v-1) > 1e-9 {
		t.Errorf("boundary encloses %v, want 1 with outward normals", v)
	}
}

func TestBoundaryContainsAllPoints(t *testing.T) {
	pts := []r3.Vec{
		{X: 35, Y: -10, Z: -10},
		{X: -15, Y: 20, Z: -10},
		{X: -25, Y: -25, Z: -10},
		{X: -5, Y: -60, Z: -15},
		{X: -5, Y: 5, Z: 60},
		{X: -5, Y: -35, Z: -30},
	}

	m, err := Tetrahedralize(pts)
	if err != nil {
		t.Fatalf("Tetrahedralize failed: %v", err)
	}
	vertices, triangles := m.Boundary()
	checkClosedHull(t, vertices, triangles)

	for i, p := range pts {
		for _, tri := range triangles {
			if o := orient(vertices[tri[0]], vertices[tri[1]], vertices[tri[2]], p); o > 1e-6 {
				t.Errorf("point %d lies outside hull face %v (%v)", i, tri, o)
			}
		}
	}
	if hv, tv := enclosedVolume(vertices, triangles), m.Volume(); math.Abs(hv-tv) > 1e-6*tv {
		t.Errorf("hull volume %v differs from tetrahedra volume %v", hv, tv)
	}
}

func TestEmptyCircumsphere(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := make([]r3.Vec, 60)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64() * 10, Y: rng.Float64() * 10, Z: rng.Float64() * 10}
	}

	m, err := Tetrahedralize(pts)
	if err != nil {
		t.Fatalf("Tetrahedralize failed: %v", err)
	}
	if len(m.Skipped) != 0 {
		t.Errorf("skipped %v, want none", m.Skipped)
	}
	for _, tet := range m.Tetras {
		center, r2 := circumsphere(pts[tet[0]], pts[tet[1]], pts[tet[2]], pts[tet[3]])
		for i, p := range pts {
			if d2 := r3.Norm2(r3.Sub(p, center)); d2 < r2*(1-1e-8) {
				t.Fatalf("point %d lies inside circumsphere of %v", i, tet)
			}
		}
	}

	vertices, triangles := m.Boundary()
	checkClosedHull(t, vertices, triangles)
	if hv, tv := enclosedVolume(vertices, triangles), m.Volume(); math.Abs(hv-tv) > 1e-6*tv {
		t.Errorf("hull volume %v differs from tetrahedra volume %v", hv, tv)
	}
}

func TestDuplicatePointIsSkipped(t *testing.T) {
	pts := append(cubeCorners(), r3.Vec{X: 1, Y: 1, Z: 1})

	m, err := Tetrahedralize(pts)
	if err != nil {
		t.Fatalf("Tetrahedralize failed: %v", err)
	}
	if len(m.Skipped) != 1 || m.Skipped[0] != 8 {
		t.Errorf("Skipped = %v, want [8]", m.Skipped)
	}
	vertices, triangles := m.Boundary()
	checkClosedHull(t, vertices, triangles)
}

func TestDegenerateInput(t *testing.T) {
	tests := []struct {
		name string
		pts  []r3.Vec
	}{
		{"too few", []r3.Vec{{X: 0}, {X: 1}, {Y: 1}}},
		{"coincident", []r3.Vec{{X: 1}, {X: 1}, {X: 1}, {X: 1}}},
		{"collinear", []r3.Vec{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}},
		{"coplanar", []r3.Vec{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}, {X: 3, Y: 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Tetrahedralize(tt.pts)
			if !errors.Is(err, ErrDegenerate) {
				t.Errorf("err = %v, want ErrDegenerate", err)
			}
		})
	}
}

func TestNormalizeKeepsOrientation(t *testing.T) {
	// An even permutation of (0,1,2,3) has the same parity.
	parity := func(v [4]int) int {
		n := 0
		for i := 0; i < 4; i++ {
			for j := i + 1; j < 4; j++ {
				if v[i] > v[j] {
					n++
				}
			}
		}
		return n % 2
	}
	for i := 0; i < 3; i++ {
		v := [4]int{10, 11, 12, 13}
		v[i] = infinite
		want := parity(v)
		got := normalize(v)
		if got[3] != infinite {
			t.Errorf("normalize(%v) = %v, infinite vertex not last", v, got)
		}
		if parity(got) != want {
			t.Errorf("normalize(%v) = %v changed orientation", v, got)
		}
	}
}
