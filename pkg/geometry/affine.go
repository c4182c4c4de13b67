// Package geometry holds the affine transforms used to move geometry between
// a surface's model space, the shared reference (RAS) space and a volume's
// voxel index (IJK) space.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSingular is returned when a transform cannot be inverted.
var ErrSingular = errors.New("geometry: singular transform")

// Affine is a 4x4 homogeneous transform stored row-major. The last row is
// expected to be (0, 0, 0, 1). Values are plain data and copy bit-for-bit.
//
// Layout: [m0  m1  m2  m3 ]
//
//	[m4  m5  m6  m7 ]
//	[m8  m9  m10 m11]
//	[m12 m13 m14 m15]
type Affine [16]float64

// Identity returns the identity transform.
func Identity() Affine {
	return Affine{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a transform that moves points by t.
func Translation(t r3.Vec) Affine {
	return Affine{
		1, 0, 0, t.X,
		0, 1, 0, t.Y,
		0, 0, 1, t.Z,
		0, 0, 0, 1,
	}
}

// Scaling returns an axis-aligned scale transform.
func Scaling(s r3.Vec) Affine {
	return Affine{
		s.X, 0, 0, 0,
		0, s.Y, 0, 0,
		0, 0, s.Z, 0,
		0, 0, 0, 1,
	}
}

// RotationZ returns a rotation about the Z axis, angle in radians.
func RotationZ(angle float64) Affine {
	c, s := math.Cos(angle), math.Sin(angle)
	return Affine{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// IndexToReference builds a voxel-index-to-reference transform from the
// image origin, the voxel spacing and the three axis directions (unit vectors
// for the I, J and K axes).
func IndexToReference(origin, spacing r3.Vec, directions [3]r3.Vec) Affine {
	sp := [3]float64{spacing.X, spacing.Y, spacing.Z}
	var a Affine
	for c := 0; c < 3; c++ {
		d := r3.Scale(sp[c], directions[c])
		a[0*4+c] = d.X
		a[1*4+c] = d.Y
		a[2*4+c] = d.Z
	}
	a[3] = origin.X
	a[7] = origin.Y
	a[11] = origin.Z
	a[15] = 1
	return a
}

// At returns the element at row r, column c.
func (a Affine) At(r, c int) float64 {
	return a[r*4+c]
}

func (a Affine) dense() *mat.Dense {
	data := make([]float64, 16)
	copy(data, a[:])
	return mat.NewDense(4, 4, data)
}

func fromDense(m mat.Matrix) Affine {
	var a Affine
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			a[r*4+c] = m.At(r, c)
		}
	}
	return a
}

// Mul returns a·b, the transform that applies b first and then a.
func (a Affine) Mul(b Affine) Affine {
	var out mat.Dense
	out.Mul(a.dense(), b.dense())
	return fromDense(&out)
}

// Inverse returns the inverse transform, or ErrSingular.
func (a Affine) Inverse() (Affine, error) {
	m := a.dense()
	if det := mat.Det(m); det == 0 || math.IsNaN(det) {
		return Affine{}, ErrSingular
	}

	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return fromDense(&inv), nil
}

// Apply transforms a point (w = 1).
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0]*p.X + a[1]*p.Y + a[2]*p.Z + a[3],
		Y: a[4]*p.X + a[5]*p.Y + a[6]*p.Z + a[7],
		Z: a[8]*p.X + a[9]*p.Y + a[10]*p.Z + a[11],
	}
}

// ApplyAll transforms every point into a new slice.
func (a Affine) ApplyAll(points []r3.Vec) []r3.Vec {
	out := make([]r3.Vec, len(points))
	for i, p := range points {
		out[i] = a.Apply(p)
	}
	return out
}

// Spacing returns the lengths of the first three columns, i.e. the physical
// size of one index step along I, J and K.
func (a Affine) Spacing() r3.Vec {
	col := func(c int) float64 {
		return r3.Norm(r3.Vec{X: a[c], Y: a[4+c], Z: a[8+c]})
	}
	return r3.Vec{X: col(0), Y: col(1), Z: col(2)}
}

// Origin returns the reference position of index (0, 0, 0).
func (a Affine) Origin() r3.Vec {
	return r3.Vec{X: a[3], Y: a[7], Z: a[11]}
}

// IsIdentity reports whether a is exactly the identity.
func (a Affine) IsIdentity() bool {
	return a == Identity()
}

// Compose returns the transform that applies ts in order: ts[0] first.
func Compose(ts ...Affine) Affine {
	out := Identity()
	for _, t := range ts {
		out = t.Mul(out)
	}
	return out
}
