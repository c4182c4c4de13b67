// Package surface turns landmark points into a closed clipping surface.
//
// The surface is the boundary of the 3D Delaunay tetrahedralization of the
// landmarks, smoothed with butterfly subdivision. Because the boundary of a
// Delaunay complex is the convex hull of its points, the result is always
// convex: concave or multi-lobed regions cannot be represented.
package surface

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"segwizard/internal/logger"
	"segwizard/internal/models"
	"segwizard/pkg/delaunay"
	"segwizard/pkg/subdivision"
)

// Builder defaults.
const (
	DefaultMinPoints          = 3
	DefaultSubdivisions       = 3
	DefaultDuplicateTolerance = 1e-3
)

// Status is the outcome of a build.
type Status int

const (
	// StatusBuilt means the target surface received new geometry.
	StatusBuilt Status = iota
	// StatusInsufficientPoints means there were too few landmarks to try.
	StatusInsufficientPoints
	// StatusDegenerate means the landmarks do not enclose a volume.
	StatusDegenerate
)

func (s Status) String() string {
	switch s {
	case StatusBuilt:
		return "built"
	case StatusInsufficientPoints:
		return "insufficient_points"
	case StatusDegenerate:
		return "degenerate"
	default:
		return "unknown"
	}
}

// Result reports what a build did. Only StatusBuilt touches the target.
type Result struct {
	Status Status

	// Surface is the rebuilt surface, or the untouched target otherwise
	Surface *models.Surface

	// Duplicates lists landmark indices dropped as duplicates
	Duplicates []int

	// Warnings are non-fatal problems found while building
	Warnings []string

	// Err holds the reason for StatusDegenerate
	Err error
}

// Builder builds clipping surfaces from landmark sets.
type Builder struct {
	MinPoints          int
	Subdivisions       int
	DuplicateTolerance float64
}

// NewBuilder returns a builder with the default settings.
func NewBuilder() *Builder {
	return &Builder{
		MinPoints:          DefaultMinPoints,
		Subdivisions:       DefaultSubdivisions,
		DuplicateTolerance: DefaultDuplicateTolerance,
	}
}

// Build rebuilds target from the landmarks. Geometry is replaced wholesale,
// never merged. A nil target gets a new Surface allocated on success. The
// default display style is set only when the target has none.
//
// With fewer than MinPoints landmarks nothing happens. Inputs without four
// affinely independent points report StatusDegenerate and leave the target
// as it was.
func (b *Builder) Build(set *models.LandmarkSet, target *models.Surface) Result {
	log := logger.Named("surface")

	n := 0
	if set != nil {
		n = set.Len()
	}
	if n < b.MinPoints {
		log.Debug("not enough landmarks to build a surface",
			zap.Int("points", n),
			zap.Int("min_points", b.MinPoints))
		return Result{Status: StatusInsufficientPoints, Surface: target}
	}

	res := Result{Surface: target}
	points, dropped := dedupe(set.Points(), b.DuplicateTolerance)
	if len(dropped) > 0 {
		res.Duplicates = dropped
		res.Warnings = append(res.Warnings, fmt.Sprintf("dropped duplicate landmarks %v",
			lo.Map(dropped, func(i int, _ int) int { return i + 1 })))
	}

	mesh, err := delaunay.Tetrahedralize(points)
	if err != nil {
		return b.degenerate(log, res, err)
	}
	if len(mesh.Skipped) > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d landmarks could not be triangulated", len(mesh.Skipped)))
	}

	hullVerts, hullTris := mesh.Boundary()
	if interior := len(points) - len(mesh.Skipped) - len(hullVerts); interior > 0 {
		log.Debug("landmarks inside the hull do not shape the surface", zap.Int("interior", interior))
	}

	vertices, triangles, err := subdivision.Butterfly(hullVerts, hullTris, b.Subdivisions)
	if err != nil {
		return b.degenerate(log, res, err)
	}

	if target == nil {
		target = &models.Surface{Name: set.Name + "_model"}
	}
	target.Vertices = vertices
	target.Triangles = triangles
	if target.Display == nil {
		target.Display = models.DefaultSurfaceDisplay()
	}

	for _, w := range res.Warnings {
		log.Warn(w, zap.String("landmarks", set.Name))
	}
	log.Debug("built clipping surface",
		zap.String("landmarks", set.Name),
		zap.Int("points", len(points)),
		zap.Int("hull_triangles", len(hullTris)),
		zap.Int("vertices", len(vertices)),
		zap.Int("triangles", len(triangles)))

	res.Status = StatusBuilt
	res.Surface = target
	return res
}

func (b *Builder) degenerate(log *zap.Logger, res Result, err error) Result {
	res.Status = StatusDegenerate
	res.Err = err
	switch {
	case errors.Is(err, delaunay.ErrDegenerate):
		res.Warnings = append(res.Warnings, "landmarks do not enclose a volume: "+err.Error())
	default:
		res.Warnings = append(res.Warnings, "surface construction failed: "+err.Error())
	}
	for _, w := range res.Warnings {
		log.Warn(w)
	}
	return res
}
