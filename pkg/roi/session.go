// Package roi tracks the regions of interest of a segmentation session.
//
// Each region pairs a landmark set with the clipping surface built from it.
// Surfaces are rebuilt explicitly after every landmark edit; nothing is
// observed or rebuilt behind the caller's back.
package roi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"segwizard/internal/logger"
	"segwizard/internal/models"
	"segwizard/pkg/clipper"
	"segwizard/pkg/surface"
)

var (
	// ErrUnknownROI is returned for region IDs the session does not hold.
	ErrUnknownROI = errors.New("roi: unknown region")

	// ErrNoROI is returned when clipping is requested before any region exists.
	ErrNoROI = errors.New("roi: no region defined")

	// ErrNoSurface is returned when a region has no clipping surface yet.
	ErrNoSurface = errors.New("roi: region has no clipping surface")
)

// Kind is the shape family of a region.
type Kind string

// KindConvex regions are closed convex surfaces around landmark points.
const KindConvex Kind = "Convex"

// Output name suffixes.
const (
	CroppedSuffix = "_roi_cropped"
	LabelSuffix   = "_roi_label"
)

// ROI is one region of interest.
type ROI struct {
	ID        uuid.UUID
	Kind      Kind
	Landmarks *models.LandmarkSet

	// Surface is nil until the first successful build
	Surface *models.Surface

	// LastBuild is the status of the most recent rebuild
	LastBuild surface.Status
}

// snapshot returns a copy of r sharing no state with the session.
func (r *ROI) snapshot() *ROI {
	c := *r
	c.Landmarks = r.Landmarks.Clone()
	if r.Surface != nil {
		c.Surface = r.Surface.Clone()
	}
	return &c
}

// Session holds the regions of one segmentation. It is safe for concurrent
// use; builds and clips run on the calling goroutine. Regions and surfaces
// handed out by the session are copies, so changes go through its methods.
type Session struct {
	mu      sync.Mutex
	builder *surface.Builder
	rois    []*ROI
}

// NewSession returns an empty session using b to build surfaces.
func NewSession(b *surface.Builder) *Session {
	if b == nil {
		b = surface.NewBuilder()
	}
	return &Session{builder: b}
}

// AddROI creates an empty convex region and returns its ID.
func (s *Session) AddROI(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := &ROI{
		ID:        uuid.New(),
		Kind:      KindConvex,
		Landmarks: models.NewLandmarkSet(name),
		LastBuild: surface.StatusInsufficientPoints,
	}
	s.rois = append(s.rois, r)
	logger.Named("roi").Debug("added region", zap.String("id", r.ID.String()), zap.String("name", name))
	return r.ID
}

// ROIs returns copies of the regions in creation order.
func (s *Session) ROIs() []*ROI {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.rois, func(r *ROI, _ int) *ROI { return r.snapshot() })
}

// Names returns the landmark set names of all regions.
func (s *Session) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Map(s.rois, func(r *ROI, _ int) string { return r.Landmarks.Name })
}

// Get returns a copy of the region with the given ID.
func (s *Session) Get(id uuid.UUID) (*ROI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.find(id)
	if err != nil {
		return nil, err
	}
	return r.snapshot(), nil
}

// SetSurfaceDisplay replaces the display style of a region's surface.
func (s *Session) SetSurfaceDisplay(id uuid.UUID, d models.SurfaceDisplay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.find(id)
	if err != nil {
		return err
	}
	if r.Surface.IsEmpty() {
		return fmt.Errorf("%w: %s", ErrNoSurface, r.Landmarks.Name)
	}
	r.Surface.Display = &d
	return nil
}

func (s *Session) find(id uuid.UUID) (*ROI, error) {
	r, _, ok := lo.FindIndexOf(s.rois, func(r *ROI) bool { return r.ID == id })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownROI, id)
	}
	return r, nil
}

// AddLandmark appends a point to a region and rebuilds its surface.
func (s *Session) AddLandmark(id uuid.UUID, p r3.Vec) (surface.Result, error) {
	return s.edit(id, func(set *models.LandmarkSet) error {
		set.Add(p)
		return nil
	})
}

// MoveLandmark moves point i of a region and rebuilds its surface.
func (s *Session) MoveLandmark(id uuid.UUID, i int, p r3.Vec) (surface.Result, error) {
	return s.edit(id, func(set *models.LandmarkSet) error {
		return set.Move(i, p)
	})
}

// RemoveLandmark deletes point i of a region and rebuilds its surface.
func (s *Session) RemoveLandmark(id uuid.UUID, i int) (surface.Result, error) {
	return s.edit(id, func(set *models.LandmarkSet) error {
		return set.Remove(i)
	})
}

// SetLandmarks replaces all points of a region and rebuilds its surface.
func (s *Session) SetLandmarks(id uuid.UUID, points []r3.Vec) (surface.Result, error) {
	return s.edit(id, func(set *models.LandmarkSet) error {
		set.Clear()
		for _, p := range points {
			set.Add(p)
		}
		return nil
	})
}

func (s *Session) edit(id uuid.UUID, change func(*models.LandmarkSet) error) (surface.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.find(id)
	if err != nil {
		return surface.Result{}, err
	}
	if err := change(r.Landmarks); err != nil {
		return surface.Result{}, fmt.Errorf("roi %s: %w", r.Landmarks.Name, err)
	}
	res := s.rebuild(r)
	if res.Surface != nil {
		res.Surface = res.Surface.Clone()
	}
	return res, nil
}

func (s *Session) rebuild(r *ROI) surface.Result {
	res := s.builder.Build(r.Landmarks, r.Surface)
	r.LastBuild = res.Status
	if res.Status == surface.StatusBuilt {
		r.Surface = res.Surface
	}
	return res
}

// RemoveROI deletes a region together with its surface.
func (s *Session) RemoveROI(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.find(id); err != nil {
		return err
	}
	s.rois = lo.Filter(s.rois, func(r *ROI, _ int) bool { return r.ID != id })
	return nil
}

// Restart discards every surface. With keepLandmarks the regions and their
// points stay and surfaces are rebuilt from them; otherwise all regions are
// removed.
func (s *Session) Restart(keepLandmarks bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !keepLandmarks {
		s.rois = nil
		return
	}
	for _, r := range s.rois {
		r.Surface = nil
		s.rebuild(r)
	}
}

// Crop is the result of clipping a volume to the primary region.
type Crop struct {
	// Output is the cropped volume, named "<baseline>_roi_cropped"
	Output *models.Volume

	// Label marks voxels inside the region with 1
	Label *models.Volume

	Clip      *clipper.Result
	FillValue float64

	// ThresholdMin and ThresholdMax are the starting threshold window
	ThresholdMin float64
	ThresholdMax float64
}

// ClipPrimary crops baseline to the first region, filling everything outside
// it with one below the baseline minimum. A nil output allocates a fresh
// volume; otherwise output is overwritten (it may be baseline itself).
func (s *Session) ClipPrimary(baseline, output *models.Volume) (*Crop, error) {
	if baseline == nil {
		return nil, fmt.Errorf("roi: baseline volume is required")
	}
	return s.ClipPrimaryWith(baseline, output, clipper.Options{
		ClipOutside: true,
		FillValue:   clipper.DefaultFillValue(baseline),
	})
}

// ClipPrimaryWith crops baseline to the first region using opts. The label
// marks every voxel whose cropped value differs from the fill value.
func (s *Session) ClipPrimaryWith(baseline, output *models.Volume, opts clipper.Options) (*Crop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rois) == 0 {
		return nil, ErrNoROI
	}
	primary := s.rois[0]
	if primary.Kind != KindConvex {
		return nil, fmt.Errorf("roi: primary region has unsupported kind %q", primary.Kind)
	}
	if primary.Surface.IsEmpty() {
		return nil, fmt.Errorf("%w: %s", ErrNoSurface, primary.Landmarks.Name)
	}
	if baseline == nil {
		return nil, fmt.Errorf("roi: baseline volume is required")
	}

	fill := opts.FillValue
	if output == nil {
		output = models.NewVolumeLike("", baseline)
	}
	name := baseline.Name
	res, err := clipper.Clip(baseline, primary.Surface, opts, output)
	if err != nil {
		return nil, fmt.Errorf("roi %s: %w", primary.Landmarks.Name, err)
	}
	output.Name = name + CroppedSuffix

	crop := &Crop{
		Output:    output,
		Label:     labelFrom(name+LabelSuffix, output, fill),
		Clip:      res,
		FillValue: fill,
	}
	crop.ThresholdMin, crop.ThresholdMax = clipper.ThresholdRange(output, fill)

	logger.Named("roi").Info("cropped volume to region",
		zap.String("output", output.Name),
		zap.String("region", primary.Landmarks.Name),
		zap.Float64("fill", fill),
		zap.Int("kept", res.Kept),
		zap.Float64("threshold_min", crop.ThresholdMin),
		zap.Float64("threshold_max", crop.ThresholdMax))
	return crop, nil
}

// labelFrom returns a label volume with 1 wherever cropped differs from fill.
func labelFrom(name string, cropped *models.Volume, fill float64) *models.Volume {
	label := models.NewVolumeLike(name, cropped)
	for n, s := range cropped.Data {
		if s != fill {
			label.Data[n] = 1
		}
	}
	label.Display = &models.VolumeDisplay{ColorTable: "GenericAnatomyColors", Window: 1, Level: 0.5}
	return label
}
