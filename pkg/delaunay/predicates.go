package delaunay

import "gonum.org/v1/gonum/spatial/r3"

// orient returns six times the signed volume of tetrahedron (a, b, c, d).
// It is positive when d lies on the side of plane (a, b, c) that the
// right-handed normal of a->b->c points to.
func orient(a, b, c, d r3.Vec) float64 {
	return r3.Dot(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)), r3.Sub(d, a))
}

// circumsphere returns the center and squared radius of the sphere through
// four non-coplanar points.
func circumsphere(a, b, c, d r3.Vec) (r3.Vec, float64) {
	ba, ca, da := r3.Sub(b, a), r3.Sub(c, a), r3.Sub(d, a)
	den := 2 * r3.Dot(ba, r3.Cross(ca, da))
	num := r3.Add(
		r3.Add(
			r3.Scale(r3.Norm2(ba), r3.Cross(ca, da)),
			r3.Scale(r3.Norm2(ca), r3.Cross(da, ba)),
		),
		r3.Scale(r3.Norm2(da), r3.Cross(ba, ca)),
	)
	off := r3.Scale(1/den, num)
	return r3.Add(a, off), r3.Norm2(off)
}

// circumcircle returns the center and squared radius of the circle through
// three non-collinear points.
func circumcircle(a, b, c r3.Vec) (r3.Vec, float64) {
	u, v := r3.Sub(b, a), r3.Sub(c, a)
	w := r3.Cross(u, v)
	den := 2 * r3.Norm2(w)
	num := r3.Add(
		r3.Scale(r3.Norm2(u), r3.Cross(v, w)),
		r3.Scale(r3.Norm2(v), r3.Cross(w, u)),
	)
	off := r3.Scale(1/den, num)
	return r3.Add(a, off), r3.Norm2(off)
}
