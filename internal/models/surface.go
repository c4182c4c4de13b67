package models

import (
	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/pkg/geometry"
)

// SurfaceDisplay holds how a clipping surface is drawn.
type SurfaceDisplay struct {
	Color                    [3]float64
	Opacity                  float64
	BackfaceCulling          bool
	SliceIntersectionVisible bool
}

// DefaultSurfaceDisplay is the style given to a surface on first build:
// semi-transparent solid blue, visible from both sides.
func DefaultSurfaceDisplay() *SurfaceDisplay {
	return &SurfaceDisplay{
		Color:                    [3]float64{0, 0, 1},
		Opacity:                  0.3,
		BackfaceCulling:          false,
		SliceIntersectionVisible: true,
	}
}

// Surface is a closed triangulated clipping surface.
type Surface struct {
	// Name identifies the surface to the user
	Name string

	// Vertices are positions in the surface's model space
	Vertices []r3.Vec

	// Triangles index into Vertices, wound so normals point outward
	Triangles [][3]int

	// Transform places model space in reference space; nil means identity
	Transform *geometry.Affine

	// Display is nil until the first successful build
	Display *SurfaceDisplay
}

// IsEmpty returns true if the surface has no triangles.
func (s *Surface) IsEmpty() bool {
	return s == nil || len(s.Triangles) == 0
}

// VertexCount returns the number of vertices.
func (s *Surface) VertexCount() int {
	return len(s.Vertices)
}

// TriangleCount returns the number of triangles.
func (s *Surface) TriangleCount() int {
	return len(s.Triangles)
}

// ModelToReference returns the surface transform, identity when unset.
func (s *Surface) ModelToReference() geometry.Affine {
	if s.Transform == nil {
		return geometry.Identity()
	}
	return *s.Transform
}

// Bounds returns the bounding box of the vertices in model space.
func (s *Surface) Bounds() r3.Box {
	return geometry.Bounds(s.Vertices)
}

// EnclosedVolume returns the signed volume enclosed by the triangles,
// positive for outward winding.
func (s *Surface) EnclosedVolume() float64 {
	var vol float64
	for _, t := range s.Triangles {
		a, b, c := s.Vertices[t[0]], s.Vertices[t[1]], s.Vertices[t[2]]
		vol += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	return vol
}

// EdgeKey identifies an undirected edge.
type EdgeKey [2]int

// MakeEdgeKey orders the two endpoints.
func MakeEdgeKey(a, b int) EdgeKey {
	if a > b {
		a, b = b, a
	}
	return EdgeKey{a, b}
}

// EdgeUseCounts returns how many triangles use each undirected edge. A closed
// manifold surface uses every edge exactly twice.
func (s *Surface) EdgeUseCounts() map[EdgeKey]int {
	counts := make(map[EdgeKey]int, len(s.Triangles)*3/2)
	for _, tri := range s.Triangles {
		for e := 0; e < 3; e++ {
			counts[MakeEdgeKey(tri[e], tri[(e+1)%3])]++
		}
	}
	return counts
}

// IsClosedManifold reports whether every edge is shared by exactly two
// triangles and traversed once in each direction.
func (s *Surface) IsClosedManifold() bool {
	if s.IsEmpty() {
		return false
	}
	directed := make(map[[2]int]int, len(s.Triangles)*3)
	for _, tri := range s.Triangles {
		for e := 0; e < 3; e++ {
			directed[[2]int{tri[e], tri[(e+1)%3]}]++
		}
	}
	for edge, n := range directed {
		if n != 1 || directed[[2]int{edge[1], edge[0]}] != 1 {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the surface.
func (s *Surface) Clone() *Surface {
	c := &Surface{
		Name:      s.Name,
		Vertices:  append([]r3.Vec(nil), s.Vertices...),
		Triangles: append([][3]int(nil), s.Triangles...),
	}
	if s.Transform != nil {
		t := *s.Transform
		c.Transform = &t
	}
	if s.Display != nil {
		d := *s.Display
		c.Display = &d
	}
	return c
}
