package clipper

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/internal/models"
	"segwizard/pkg/geometry"
	"segwizard/pkg/surface"
)

// boxSurface returns an outward-wound axis-aligned box in model space.
func boxSurface(lo, hi r3.Vec) *models.Surface {
	v := make([]r3.Vec, 8)
	for n := range v {
		p := lo
		if n&1 != 0 {
			p.X = hi.X
		}
		if n&2 != 0 {
			p.Y = hi.Y
		}
		if n&4 != 0 {
			p.Z = hi.Z
		}
		v[n] = p
	}
	return &models.Surface{
		Name:     "box",
		Vertices: v,
		Triangles: [][3]int{
			{0, 2, 3}, {0, 3, 1},
			{4, 5, 7}, {4, 7, 6},
			{0, 1, 5}, {0, 5, 4},
			{2, 6, 7}, {2, 7, 3},
			{0, 4, 6}, {0, 6, 2},
			{1, 3, 7}, {1, 7, 5},
		},
	}
}

func uniformVolume(dims [3]int, value float64, ijkToRAS geometry.Affine) *models.Volume {
	v := models.NewVolume("baseline", dims, ijkToRAS)
	for n := range v.Data {
		v.Data[n] = value
	}
	return v
}

func rampVolume(dims [3]int, ijkToRAS geometry.Affine) *models.Volume {
	v := models.NewVolume("ramp", dims, ijkToRAS)
	for n := range v.Data {
		v.Data[n] = float64(n % 97)
	}
	return v
}

func TestClipUniformHalf(t *testing.T) {
	in := uniformVolume([3]int{20, 20, 20}, 100, geometry.Identity())
	// Encloses i in [0, 9] over the whole j, k range.
	surf := boxSurface(r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}, r3.Vec{X: 9.5, Y: 19.5, Z: 19.5})
	out := models.NewVolumeLike("out", in)

	res, err := Clip(in, surf, Options{ClipOutside: true, FillValue: -1}, out)
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if res.Kept != 4000 || res.Filled != 4000 || res.Inside != 4000 {
		t.Errorf("Kept/Filled/Inside = %d/%d/%d, want 4000 each", res.Kept, res.Filled, res.Inside)
	}

	var hundreds, fills int
	for k := 0; k < 20; k++ {
		for j := 0; j < 20; j++ {
			for i := 0; i < 20; i++ {
				got := out.At(i, j, k)
				switch {
				case got == 100 && i < 10:
					hundreds++
				case got == -1 && i >= 10:
					fills++
				default:
					t.Fatalf("voxel (%d,%d,%d) = %v", i, j, k, got)
				}
			}
		}
	}
	if hundreds+fills != in.Len() {
		t.Errorf("value counts %d + %d do not sum to %d", hundreds, fills, in.Len())
	}
	if res.FillInRange {
		t.Error("FillInRange set for a fill below the sample range")
	}
	if res.OddRows != 0 {
		t.Errorf("OddRows = %d, want 0", res.OddRows)
	}
}

func TestClipInsideInverts(t *testing.T) {
	in := rampVolume([3]int{12, 10, 8}, geometry.Identity())
	surf := boxSurface(r3.Vec{X: 2.2, Y: 1.7, Z: 0.4}, r3.Vec{X: 8.9, Y: 6.1, Z: 5.5})

	outside := models.NewVolumeLike("outside", in)
	inside := models.NewVolumeLike("inside", in)
	resOut, err := Clip(in, surf, Options{ClipOutside: true, FillValue: -5}, outside)
	if err != nil {
		t.Fatalf("Clip outside failed: %v", err)
	}
	resIn, err := Clip(in, surf, Options{ClipOutside: false, FillValue: -5}, inside)
	if err != nil {
		t.Fatalf("Clip inside failed: %v", err)
	}

	if resOut.Kept != resIn.Filled || resOut.Filled != resIn.Kept {
		t.Errorf("counts do not invert: %+v vs %+v", resOut, resIn)
	}
	for n, s := range in.Data {
		a, b := outside.Data[n], inside.Data[n]
		if (a == s) == (b == s) && s != -5 {
			t.Fatalf("sample %d kept or filled on both sides: in=%v outside=%v inside=%v", n, s, a, b)
		}
		if a != s && a != -5 || b != s && b != -5 {
			t.Fatalf("sample %d has a foreign value: in=%v outside=%v inside=%v", n, s, a, b)
		}
	}
}

func TestClipPreservesGeometry(t *testing.T) {
	ijkToRAS := geometry.IndexToReference(
		r3.Vec{X: -12.5, Y: 40.25, Z: 3.125},
		r3.Vec{X: 0.7, Y: 0.9, Z: 2.5},
		[3]r3.Vec{
			{X: math.Cos(0.3), Y: math.Sin(0.3)},
			{X: -math.Sin(0.3), Y: math.Cos(0.3)},
			{Z: -1},
		},
	)
	in := rampVolume([3]int{16, 14, 6}, ijkToRAS)
	surf := boxSurface(r3.Vec{X: -20, Y: 30, Z: -20}, r3.Vec{X: 0, Y: 50, Z: 10})

	out := &models.Volume{Name: "fresh"}
	if _, err := Clip(in, surf, Options{ClipOutside: true, FillValue: -1}, out); err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if out.IJKToRAS != in.IJKToRAS {
		t.Errorf("IJKToRAS = %v, want %v", out.IJKToRAS, in.IJKToRAS)
	}
	if out.Dims != in.Dims || len(out.Data) != in.Len() {
		t.Errorf("Dims = %v with %d samples, want %v with %d", out.Dims, len(out.Data), in.Dims, in.Len())
	}
	if out.Name != "fresh" {
		t.Errorf("Name = %q, output name must not change", out.Name)
	}
}

func TestClipMatchesWorldSpaceTest(t *testing.T) {
	lo := r3.Vec{X: -7.1, Y: -3.3, Z: -11.9}
	hi := r3.Vec{X: 9.3, Y: 12.7, Z: 4.6}
	inBox := func(p r3.Vec) (inside, near bool) {
		const eps = 1e-6
		for _, d := range []float64{p.X - lo.X, hi.X - p.X, p.Y - lo.Y, hi.Y - p.Y, p.Z - lo.Z, hi.Z - p.Z} {
			if math.Abs(d) < eps {
				near = true
			}
		}
		inside = p.X > lo.X && p.X < hi.X && p.Y > lo.Y && p.Y < hi.Y && p.Z > lo.Z && p.Z < hi.Z
		return inside, near
	}

	shift := r3.Vec{X: 5, Y: -2, Z: 1}
	moved := geometry.Translation(shift)

	tests := []struct {
		name      string
		ijkToRAS  geometry.Affine
		transform *geometry.Affine
	}{
		{"identity", geometry.Identity(), nil},
		{"spacing and origin", geometry.IndexToReference(
			r3.Vec{X: -20, Y: -20, Z: -20}, r3.Vec{X: 2, Y: 1.5, Z: 2.5},
			[3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}), nil},
		{"oblique", geometry.Compose(
			geometry.Scaling(r3.Vec{X: 1.2, Y: 1.2, Z: 1.8}),
			geometry.RotationZ(0.4),
			geometry.Translation(r3.Vec{X: -15, Y: -18, Z: -16})), nil},
		{"surface transform", geometry.Translation(r3.Vec{X: -20, Y: -20, Z: -20}), &moved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := uniformVolume([3]int{24, 24, 16}, 7, tt.ijkToRAS)
			surf := boxSurface(lo, hi)
			surf.Transform = tt.transform
			out := models.NewVolumeLike("out", in)

			res, err := Clip(in, surf, Options{ClipOutside: true, FillValue: 0}, out)
			if err != nil {
				t.Fatalf("Clip failed: %v", err)
			}
			if res.Inside == 0 {
				t.Fatal("no voxel inside the surface")
			}

			for k := 0; k < in.Dims[2]; k++ {
				for j := 0; j < in.Dims[1]; j++ {
					for i := 0; i < in.Dims[0]; i++ {
						p := tt.ijkToRAS.Apply(r3.Vec{X: float64(i), Y: float64(j), Z: float64(k)})
						if tt.transform != nil {
							p = r3.Sub(p, shift)
						}
						inside, near := inBox(p)
						if near {
							continue
						}
						if got := out.At(i, j, k) == 7; got != inside {
							t.Fatalf("voxel (%d,%d,%d) at %v: kept = %v, want %v", i, j, k, p, got, inside)
						}
					}
				}
			}
		})
	}
}

func TestSelfClipMatchesSeparateOutput(t *testing.T) {
	surf := boxSurface(r3.Vec{X: 1.5, Y: 2.25, Z: 0.5}, r3.Vec{X: 7.5, Y: 8.75, Z: 4.5})

	in := rampVolume([3]int{10, 11, 6}, geometry.Identity())
	separate := models.NewVolumeLike("separate", in)
	resSep, err := Clip(in, surf, Options{ClipOutside: true, FillValue: -1}, separate)
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}

	self := rampVolume([3]int{10, 11, 6}, geometry.Identity())
	resSelf, err := Clip(self, surf, Options{ClipOutside: true, FillValue: -1}, self)
	if err != nil {
		t.Fatalf("self Clip failed: %v", err)
	}

	if *resSep != *resSelf {
		t.Errorf("results differ: %+v vs %+v", resSep, resSelf)
	}
	for n := range separate.Data {
		if separate.Data[n] != self.Data[n] {
			t.Fatalf("sample %d: separate %v, self %v", n, separate.Data[n], self.Data[n])
		}
	}
}

func TestClipWithBuiltSurface(t *testing.T) {
	set := models.NewLandmarkSet("Test",
		r3.Vec{X: 35, Y: -10, Z: -10},
		r3.Vec{X: -15, Y: 20, Z: -10},
		r3.Vec{X: -25, Y: -25, Z: -10},
		r3.Vec{X: -5, Y: -60, Z: -15},
		r3.Vec{X: -5, Y: 5, Z: 60},
		r3.Vec{X: -5, Y: -35, Z: -30},
	)
	built := surface.NewBuilder().Build(set, nil)
	if built.Status != surface.StatusBuilt {
		t.Fatalf("Build status = %v", built.Status)
	}

	ijkToRAS := geometry.IndexToReference(r3.Vec{X: -40, Y: -70, Z: -40}, r3.Vec{X: 2, Y: 2, Z: 2},
		[3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}})
	in := uniformVolume([3]int{40, 50, 55}, 100, ijkToRAS)
	fill := DefaultFillValue(in)
	out := models.NewVolumeLike("out", in)

	res, err := Clip(in, built.Surface, Options{ClipOutside: true, FillValue: fill}, out)
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if res.OddRows != 0 {
		t.Errorf("OddRows = %d, want 0 for a closed surface", res.OddRows)
	}
	if res.Kept+res.Filled != in.Len() {
		t.Errorf("Kept + Filled = %d, want %d", res.Kept+res.Filled, in.Len())
	}

	// Kept voxels cover roughly the enclosed volume (8 mm^3 per voxel).
	want := built.Surface.EnclosedVolume() / 8
	if got := float64(res.Kept); math.Abs(got-want) > 0.1*want {
		t.Errorf("kept %v voxels, want about %v", got, want)
	}

	center := geometry.Centroid(set.Points())
	ci := int(math.Round((center.X + 40) / 2))
	cj := int(math.Round((center.Y + 70) / 2))
	ck := int(math.Round((center.Z + 40) / 2))
	if got := out.At(ci, cj, ck); got != 100 {
		t.Errorf("voxel at landmark centroid = %v, want 100", got)
	}
	if got := out.At(0, 0, 0); got != fill {
		t.Errorf("corner voxel = %v, want fill %v", got, fill)
	}
}

func TestClipErrors(t *testing.T) {
	in := uniformVolume([3]int{4, 4, 4}, 1, geometry.Identity())
	surf := boxSurface(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 2.5, Y: 2.5, Z: 2.5})
	flat := geometry.Scaling(r3.Vec{X: 0, Y: 1, Z: 1})
	singular := surf.Clone()
	singular.Transform = &flat
	broken := &models.Volume{Dims: [3]int{4, 4, 4}, Data: make([]float64, 10)}
	badGeometry := uniformVolume([3]int{4, 4, 4}, 1, flat)

	tests := []struct {
		name     string
		in, out  *models.Volume
		surf     *models.Surface
		sentinel error
	}{
		{"nil input", nil, in, surf, nil},
		{"nil output", in, nil, surf, nil},
		{"nil surface", in, models.NewVolumeLike("o", in), nil, ErrEmptySurface},
		{"empty surface", in, models.NewVolumeLike("o", in), &models.Surface{}, ErrEmptySurface},
		{"invalid volume", broken, models.NewVolumeLike("o", in), surf, nil},
		{"singular surface transform", in, models.NewVolumeLike("o", in), singular, geometry.ErrSingular},
		{"singular volume transform", badGeometry, models.NewVolumeLike("o", in), surf, geometry.ErrSingular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Clip(tt.in, tt.surf, Options{ClipOutside: true}, tt.out)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("err = %v, want %v", err, tt.sentinel)
			}
		})
	}
}

func TestClipDisplayAndStorage(t *testing.T) {
	in := rampVolume([3]int{6, 6, 6}, geometry.Identity())
	surf := boxSurface(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, r3.Vec{X: 3.5, Y: 3.5, Z: 3.5})

	out := &models.Volume{Name: "out", Data: make([]float64, 3)}
	res, err := Clip(in, surf, Options{ClipOutside: true, FillValue: 50}, out)
	if err != nil {
		t.Fatalf("Clip failed: %v", err)
	}
	if len(out.Data) != in.Len() {
		t.Errorf("output storage has %d samples, want %d", len(out.Data), in.Len())
	}
	if out.Display == nil || out.Display.ColorTable != "Grey" {
		t.Errorf("Display = %+v, want default grey", out.Display)
	}
	if !res.FillInRange {
		t.Error("FillInRange not set for a fill inside the sample range")
	}

	out.Display.Window = 12
	if _, err := Clip(in, surf, Options{ClipOutside: true, FillValue: -1}, out); err != nil {
		t.Fatalf("second Clip failed: %v", err)
	}
	if out.Display.Window != 12 {
		t.Error("existing display was replaced")
	}
}

func TestDefaultFillValueAndSummary(t *testing.T) {
	v := models.NewVolume("v", [3]int{2, 2, 1}, geometry.Identity())
	copy(v.Data, []float64{-20, 5, 180, 40})
	if got := DefaultFillValue(v); got != -21 {
		t.Errorf("DefaultFillValue = %v, want -21", got)
	}
	if got := DefaultFillValue(&models.Volume{}); got != -1 {
		t.Errorf("DefaultFillValue of empty volume = %v, want -1", got)
	}

	copy(v.Data, []float64{-21, 5, 180, -21})
	s := Summarize(v, -21)
	if s.Kept != 2 || s.Filled != 2 || s.Min != 5 || s.Max != 180 || s.Mean != 92.5 {
		t.Errorf("Summarize = %+v", s)
	}
	if lo, hi := ThresholdRange(v, -21); lo != 5 || hi != 180 {
		t.Errorf("ThresholdRange = [%v, %v], want [5, 180]", lo, hi)
	}

	// nothing filled: the true minimum stays in the window
	copy(v.Data, []float64{-20, 5, 180, 40})
	if lo, hi := ThresholdRange(v, -21); lo != -20 || hi != 180 {
		t.Errorf("ThresholdRange without fill = [%v, %v], want [-20, 180]", lo, hi)
	}

	copy(v.Data, []float64{-21, -21, math.NaN(), -21})
	if lo, hi := ThresholdRange(v, -21); lo != -21 || hi != -21 {
		t.Errorf("ThresholdRange of an all-fill volume = [%v, %v], want [-21, -21]", lo, hi)
	}
}
