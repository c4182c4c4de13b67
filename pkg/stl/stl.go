// Package stl writes triangle meshes as binary STL files.
//
// Meshes come either from a clipping surface or from an isosurface of a
// label volume. Isosurfaces are extracted by splitting every grid cell into
// six tetrahedra along its main diagonal; neighbouring cells split shared
// faces the same way, so the result is closed.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/internal/models"
	"segwizard/pkg/geometry"
)

// Triangle is one STL facet in single precision.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// NewTriangle builds a facet from three points, computing its unit normal
// from the winding a, b, c.
func NewTriangle(a, b, c r3.Vec) Triangle {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	if l := r3.Norm(n); l > 0 {
		n = r3.Scale(1/l, n)
	}
	return Triangle{
		Normal:  vec32(n),
		Vertex1: vec32(a),
		Vertex2: vec32(b),
		Vertex3: vec32(c),
	}
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// FromSurface returns the facets of s in reference coordinates.
func FromSurface(s *models.Surface) []Triangle {
	if s.IsEmpty() {
		return nil
	}
	world := s.ModelToReference().ApplyAll(s.Vertices)
	tris := make([]Triangle, len(s.Triangles))
	for n, t := range s.Triangles {
		tris[n] = NewTriangle(world[t[0]], world[t[1]], world[t[2]])
	}
	return tris
}

// FromLabel returns the closed boundary of the non-zero voxels of label in
// reference coordinates.
func FromLabel(label *models.Volume) []Triangle {
	mc := NewMarchingCubes(label.Data, label.Dims[0], label.Dims[1], label.Dims[2], 0.5)
	mc.SetTransform(label.IJKToRAS)
	return mc.GenerateTriangles()
}

// MarchingCubes extracts the isosurface of a scalar grid.
type MarchingCubes struct {
	data          []float64
	width, height int
	depth         int
	isoLevel      float64
	transform     geometry.Affine
}

// NewMarchingCubes creates an extractor for data laid out x-fastest with the
// given dimensions. Samples above isoLevel are inside.
func NewMarchingCubes(data []float64, width, height, depth int, isoLevel float64) *MarchingCubes {
	return &MarchingCubes{
		data:      data,
		width:     width,
		height:    height,
		depth:     depth,
		isoLevel:  isoLevel,
		transform: geometry.Identity(),
	}
}

// SetScale scales output coordinates per axis.
func (mc *MarchingCubes) SetScale(x, y, z float64) {
	mc.transform = geometry.Scaling(r3.Vec{X: x, Y: y, Z: z})
}

// SetTransform maps grid indices to output coordinates.
func (mc *MarchingCubes) SetTransform(t geometry.Affine) {
	mc.transform = t
}

// cells are split into these tetrahedra; corner n sits at (n&1, n>>1&1, n>>2&1)
var cellTetras = [6][4]int{
	{0, 1, 3, 7},
	{0, 3, 2, 7},
	{0, 2, 6, 7},
	{0, 6, 4, 7},
	{0, 4, 5, 7},
	{0, 5, 1, 7},
}

// sample returns the value at (x, y, z); the grid is padded with one layer of
// outside samples so the surface closes at the border.
func (mc *MarchingCubes) sample(x, y, z int) float64 {
	if x < 0 || y < 0 || z < 0 || x >= mc.width || y >= mc.height || z >= mc.depth {
		return mc.isoLevel - 1
	}
	return mc.data[z*mc.width*mc.height+y*mc.width+x]
}

// GenerateTriangles returns the isosurface facets with normals pointing from
// inside to outside.
func (mc *MarchingCubes) GenerateTriangles() []Triangle {
	var tris []Triangle
	var vals [8]float64
	var pos [8]r3.Vec

	for z := -1; z < mc.depth; z++ {
		for y := -1; y < mc.height; y++ {
			for x := -1; x < mc.width; x++ {
				inside := 0
				for n := range vals {
					vals[n] = mc.sample(x+(n&1), y+(n>>1&1), z+(n>>2&1))
					if vals[n] > mc.isoLevel {
						inside++
					}
				}
				if inside == 0 || inside == 8 {
					continue
				}
				for n := range pos {
					pos[n] = mc.transform.Apply(r3.Vec{
						X: float64(x + (n & 1)),
						Y: float64(y + (n >> 1 & 1)),
						Z: float64(z + (n >> 2 & 1)),
					})
				}
				for _, tet := range cellTetras {
					tris = mc.appendTetra(tris, tet, &vals, &pos)
				}
			}
		}
	}
	return tris
}

func (mc *MarchingCubes) appendTetra(tris []Triangle, tet [4]int, vals *[8]float64, pos *[8]r3.Vec) []Triangle {
	var in, out []int
	for _, c := range tet {
		if vals[c] > mc.isoLevel {
			in = append(in, c)
		} else {
			out = append(out, c)
		}
	}
	if len(in) == 0 || len(out) == 0 {
		return tris
	}

	edge := func(a, b int) r3.Vec {
		t := (mc.isoLevel - vals[a]) / (vals[b] - vals[a])
		return r3.Add(pos[a], r3.Scale(t, r3.Sub(pos[b], pos[a])))
	}
	outward := r3.Sub(centroid(out, pos), centroid(in, pos))
	emit := func(a, b, c r3.Vec) {
		if r3.Dot(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)), outward) < 0 {
			b, c = c, b
		}
		tris = append(tris, NewTriangle(a, b, c))
	}

	switch {
	case len(in) == 1:
		emit(edge(in[0], out[0]), edge(in[0], out[1]), edge(in[0], out[2]))
	case len(out) == 1:
		emit(edge(in[0], out[0]), edge(in[1], out[0]), edge(in[2], out[0]))
	default:
		ac, ad := edge(in[0], out[0]), edge(in[0], out[1])
		bd, bc := edge(in[1], out[1]), edge(in[1], out[0])
		emit(ac, ad, bd)
		emit(ac, bd, bc)
	}
	return tris
}

func centroid(corners []int, pos *[8]r3.Vec) r3.Vec {
	var c r3.Vec
	for _, n := range corners {
		c = r3.Add(c, pos[n])
	}
	return r3.Scale(1/float64(len(corners)), c)
}

// SaveToSTL writes triangles as a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close STL file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(file)
	if err := Write(w, triangles); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write STL file: %w", err)
	}
	return nil
}

// Write encodes triangles in binary STL form: an 80-byte header, the facet
// count and 50 bytes per facet, little-endian.
func Write(w io.Writer, triangles []Triangle) error {
	var header [80]byte
	copy(header[:], "segwizard binary STL")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}
	for _, t := range triangles {
		if err := binary.Write(w, binary.LittleEndian, t); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
		if err := binary.Write(w, binary.LittleEndian, uint16(0)); err != nil {
			return fmt.Errorf("failed to write triangle attributes: %w", err)
		}
	}
	return nil
}

// maxPrealloc caps the facets reserved before any are read.
const maxPrealloc = 1 << 16

// Read decodes a binary STL stream.
func Read(r io.Reader) ([]Triangle, error) {
	var header [80]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read STL header: %w", err)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("failed to read triangle count: %w", err)
	}
	// the count comes from the file, so only a bounded amount is reserved up front
	tris := make([]Triangle, 0, min(count, maxPrealloc))
	for i := uint32(0); i < count; i++ {
		var t Triangle
		var attr uint16
		if err := binary.Read(r, binary.LittleEndian, &t); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}
		if err := binary.Read(r, binary.LittleEndian, &attr); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d: %w", i, err)
		}
		tris = append(tris, t)
	}
	return tris, nil
}

// LoadSTL reads a binary STL file.
func LoadSTL(filename string) ([]Triangle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open STL file: %w", err)
	}
	defer file.Close()
	return Read(bufio.NewReader(file))
}
