// Package pipeline sequences the reduction stages: building (and caching)
// detector masks, optional inpainting, and the split-pixel and range
// reductions that turn exposures into profiles.
package pipeline

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"smireduce/internal/models"
	"smireduce/pkg/detector"
	"smireduce/pkg/geometry"
	"smireduce/pkg/inpaint"
	"smireduce/pkg/integrate"
	"smireduce/pkg/mask"
	"smireduce/pkg/reduce"
)

// Params holds the settings shared by every reduction of a pipeline
type Params struct {
	// DetectorID is used for exposures that do not name their detector
	DetectorID string

	// Energy selects energy-dependent masking
	Energy mask.EnergyMode

	// Beamstop is used for exposures that carry no beamstop of their own
	Beamstop mask.Beamstop

	// ChiDiscontinuity is the upper edge of the chi window in degrees
	ChiDiscontinuity float64

	// CorrectSolidAngle divides intensities by the solid-angle factor
	CorrectSolidAngle bool

	// ZeroIsMasked treats zero pixels as masked in line profiles and in
	// remeshed grazing-incidence images without an explicit mask
	ZeroIsMasked bool

	// NumCores bounds the parallelism of every stage
	NumCores int

	// Inpaint fills masked pixels before the split-pixel reduction
	Inpaint bool
}

// DefaultParams returns the settings used at the beamline
func DefaultParams() *Params {
	return &Params{
		DetectorID:        detector.Pilatus1M,
		Energy:            mask.EnergyNone,
		ChiDiscontinuity:  integrate.DefaultChiDiscontinuity,
		CorrectSolidAngle: true,
		ZeroIsMasked:      true,
		NumCores:          runtime.NumCPU(),
	}
}

// Exposure is one raw detector image and the calibration that goes with it
type Exposure struct {
	// Detector names the detector profile; empty uses Params.DetectorID
	Detector string

	// Beamstop overrides Params.Beamstop when set
	Beamstop *mask.Beamstop

	Image    *models.Image
	Geometry geometry.Provider
	Label    string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the structured logger
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRegistry replaces the built-in detector registry
func WithRegistry(r *detector.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithInpainter replaces the default kriging inpainter
func WithInpainter(in inpaint.Inpainter) Option {
	return func(p *Pipeline) { p.inpainter = in }
}

type maskKey struct {
	detector string
	energy   mask.EnergyMode
	beamstop mask.Beamstop
}

// Pipeline runs reductions. It is safe for concurrent use: masks are
// cached under a lock and the reducers, which own reusable buffers, are
// used by one call at a time.
type Pipeline struct {
	params    *Params
	registry  *detector.Registry
	builder   *mask.Builder
	inpainter inpaint.Inpainter
	logger    *slog.Logger

	mu      sync.Mutex
	reducer *integrate.Reducer
	ranges  *reduce.RangeReducer

	cacheMu sync.Mutex
	masks   map[maskKey]*models.MaskState
}

// NewPipeline creates a pipeline. A nil params uses DefaultParams.
func NewPipeline(params *Params, opts ...Option) *Pipeline {
	if params == nil {
		params = DefaultParams()
	}
	if params.NumCores <= 0 {
		params.NumCores = runtime.NumCPU()
	}

	reducer := integrate.NewReducer(params.NumCores)
	reducer.ChiDiscontinuity = params.ChiDiscontinuity
	reducer.CorrectSolidAngle = params.CorrectSolidAngle

	ranges := reduce.NewRangeReducer()
	ranges.ZeroIsMasked = params.ZeroIsMasked

	kriging := inpaint.NewKriging(inpaint.DefaultKrigingParams())
	kriging.SetWorkers(params.NumCores)

	p := &Pipeline{
		params:    params,
		registry:  detector.DefaultRegistry(),
		builder:   mask.NewBuilder(),
		inpainter: kriging,
		logger:    slog.Default(),
		reducer:   reducer,
		ranges:    ranges,
		masks:     make(map[maskKey]*models.MaskState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Params returns the pipeline settings
func (p *Pipeline) Params() *Params { return p.params }

// MaskFor returns the validity mask of a detector for an energy mode and
// beamstop position. Masks are pure functions of these three inputs and
// are built once per key.
func (p *Pipeline) MaskFor(detectorID string, energy mask.EnergyMode, bs mask.Beamstop) (*models.MaskState, error) {
	prof, err := p.registry.Lookup(detectorID)
	if err != nil {
		return nil, err
	}
	key := maskKey{detector: prof.ID, energy: energy, beamstop: bs}

	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if m, ok := p.masks[key]; ok {
		p.logger.Debug("mask cache hit", "detector", prof.ID, "energy", energy, "beamstop", bs.String())
		return m, nil
	}

	m, err := p.builder.Build(prof, bs, energy)
	if err != nil {
		return nil, err
	}
	p.masks[key] = m
	p.logger.Info("built mask",
		"detector", prof.ID,
		"energy", energy,
		"beamstop", bs.String(),
		"valid", m.Count(),
		"pixels", len(m.Valid))
	return m, nil
}

// Inpaint fills the invalid pixels of img
func (p *Pipeline) Inpaint(img *models.Image, m *models.MaskState) (*models.Image, *models.MaskState, error) {
	start := time.Now()
	filled, full, err := p.inpainter.Inpaint(img, m)
	if err != nil {
		return nil, nil, errors.Wrap(err, "inpainting failed")
	}
	p.logger.Debug("inpainted image", "filled", len(m.Valid)-m.Count(), "elapsed", time.Since(start))
	return filled, full, nil
}

// Frames turns exposures into reducible frames: masks are looked up (or
// built), thresholds applied, and images inpainted when enabled. Exposures
// are prepared concurrently.
func (p *Pipeline) Frames(exposures []Exposure) ([]models.Frame, error) {
	frames := make([]models.Frame, len(exposures))

	var g errgroup.Group
	g.SetLimit(p.params.NumCores)
	for i := range exposures {
		i := i
		g.Go(func() error {
			f, err := p.frame(exposures[i])
			if err != nil {
				return errors.Wrapf(err, "exposure %q", exposures[i].Label)
			}
			frames[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return frames, nil
}

func (p *Pipeline) frame(e Exposure) (models.Frame, error) {
	id := e.Detector
	if id == "" {
		id = p.params.DetectorID
	}
	bs := p.params.Beamstop
	if e.Beamstop != nil {
		bs = *e.Beamstop
	}
	if e.Image == nil {
		return models.Frame{}, &models.ConfigurationError{Field: "image", Value: nil, Reason: "exposure has no image"}
	}

	prof, err := p.registry.Lookup(id)
	if err != nil {
		return models.Frame{}, err
	}
	m, err := p.MaskFor(prof.ID, p.params.Energy, bs)
	if err != nil {
		return models.Frame{}, err
	}
	if prof.Threshold > 0 {
		if m, err = p.builder.ApplyThreshold(prof, m, e.Image); err != nil {
			return models.Frame{}, err
		}
	}

	img := e.Image
	if p.params.Inpaint {
		if img, m, err = p.Inpaint(img, m); err != nil {
			return models.Frame{}, err
		}
	}

	label := e.Label
	if label == "" {
		label = prof.ID
	}
	f := models.Frame{Image: img, Mask: m, Geometry: e.Geometry, Label: label}
	return f, f.CheckShape()
}

// ReduceRadial merges exposures into a 1D radial profile of the pixels
// whose chi lies in azimuthalRange. A zero range takes the full azimuth.
func (p *Pipeline) ReduceRadial(exposures []Exposure, radialRange, azimuthalRange models.Range, bins int) (*models.ReducedProfile, error) {
	frames, err := p.Frames(exposures)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reduceFrames(frames, integrate.Shape{Radial: bins}, radialRange, p.orFullAzimuth(azimuthalRange))
}

// orFullAzimuth must be called with p.mu held
func (p *Pipeline) orFullAzimuth(r models.Range) models.Range {
	if r == (models.Range{}) {
		return p.reducer.FullAzimuth()
	}
	return r
}

// ReduceCake merges exposures into an azimuthal x radial cake
func (p *Pipeline) ReduceCake(exposures []Exposure, radialRange, azimuthalRange models.Range, radialBins, azimuthalBins int) (*models.ReducedProfile, error) {
	if azimuthalBins <= 0 {
		return nil, &models.ConfigurationError{Field: "azimuthalBins", Value: azimuthalBins, Reason: "a cake needs at least one azimuthal bin"}
	}
	frames, err := p.Frames(exposures)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reduceFrames(frames, integrate.Shape{Radial: radialBins, Azimuthal: azimuthalBins}, radialRange, azimuthalRange)
}

// reduceFrames must be called with p.mu held
func (p *Pipeline) reduceFrames(frames []models.Frame, shape integrate.Shape, radialRange, azimuthalRange models.Range) (*models.ReducedProfile, error) {
	start := time.Now()
	prof, err := p.reducer.Reduce(frames, shape, radialRange, azimuthalRange)
	if err != nil {
		return nil, err
	}
	p.logger.Info("reduced frames",
		"frames", len(frames),
		"radialBins", shape.Radial,
		"azimuthalBins", shape.Azimuthal,
		"radialRange", radialRange.String(),
		"emptyBins", prof.EmptyBins(),
		"elapsed", time.Since(start))
	return prof, nil
}

// ReduceAlongAxis averages a grid along one axis inside a coordinate window
func (p *Pipeline) ReduceAlongAxis(g reduce.Grid, colCoords, rowCoords []float64, colRange, rowRange models.Range, axis reduce.Axis) (*models.ReducedProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, prof, err := p.ranges.Reduce(g, colCoords, rowCoords, colRange, rowRange, axis)
	return prof, err
}

// AzimuthalProfile averages a cake over radialRange, giving intensity
// against chi inside azimuthalRange
func (p *Pipeline) AzimuthalProfile(cake *models.ReducedProfile, radialRange, azimuthalRange models.Range) (*models.ReducedProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ranges.AzimuthalProfile(cake, radialRange, azimuthalRange)
}

// QParProfile averages a remeshed grazing-incidence image over q_per
func (p *Pipeline) QParProfile(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range) (*models.ReducedProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ranges.QParProfile(img, m, qPar, qPer, qParRange, qPerRange)
}

// QPerProfile averages a remeshed grazing-incidence image over q_par
func (p *Pipeline) QPerProfile(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range) (*models.ReducedProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ranges.QPerProfile(img, m, qPar, qPer, qParRange, qPerRange)
}

// RadialGI integrates a remeshed grazing-incidence image into a 1D |q|
// profile. Only pixels inside the q_par and q_per windows contribute; a
// zero window spans [0, largest axis value]. A nil mask derives validity
// from the image.
func (p *Pipeline) RadialGI(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange, radialRange models.Range, bins int) (*models.ReducedProfile, error) {
	f, err := p.remeshedFrame(img, m, qPar, qPer)
	if err != nil {
		return nil, err
	}
	if f.Mask, err = windowMask(f.Mask, qPar, qPer, qParRange, qPerRange); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reduceFrames([]models.Frame{f}, integrate.Shape{Radial: bins}, radialRange, p.reducer.FullAzimuth())
}

// CakeGI cakes a remeshed grazing-incidence image in (|q|, chi)
func (p *Pipeline) CakeGI(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, radialRange, azimuthalRange models.Range, radialBins, azimuthalBins int) (*models.ReducedProfile, error) {
	if azimuthalBins <= 0 {
		return nil, &models.ConfigurationError{Field: "azimuthalBins", Value: azimuthalBins, Reason: "a cake needs at least one azimuthal bin"}
	}
	f, err := p.remeshedFrame(img, m, qPar, qPer)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reduceFrames([]models.Frame{f}, integrate.Shape{Radial: radialBins, Azimuthal: azimuthalBins}, radialRange, azimuthalRange)
}

func (p *Pipeline) remeshedFrame(img *models.Image, m *models.MaskState, qPar, qPer [2]float64) (models.Frame, error) {
	if img == nil {
		return models.Frame{}, &models.ConfigurationError{Field: "image", Value: nil, Reason: "no remeshed image"}
	}
	g, err := geometry.Remeshed(img.Rows, img.Cols, qPar, qPer)
	if err != nil {
		return models.Frame{}, errors.Wrap(err, "remeshed geometry")
	}
	if m == nil {
		m = p.validPixels(img)
	}
	f := models.Frame{Image: img, Mask: m, Geometry: g, Label: "remeshed"}
	return f, f.CheckShape()
}

// windowMask invalidates the pixels of a remeshed image whose q_par or
// q_per falls outside the windows
func windowMask(m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range) (*models.MaskState, error) {
	qh, qv := reduce.RemeshedAxes(m.Rows, m.Cols, qPar, qPer)
	qParRange = positiveWindow(qParRange, qh)
	qPerRange = positiveWindow(qPerRange, qv)
	if qParRange.Empty() {
		return nil, &models.EmptyRangeError{Axis: "q_par", Range: qParRange}
	}
	if qPerRange.Empty() {
		return nil, &models.EmptyRangeError{Axis: "q_per", Range: qPerRange}
	}

	invalid := make([]bool, len(m.Valid))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			invalid[r*m.Cols+c] = !qParRange.Contains(qh[c]) || !qPerRange.Contains(qv[r])
		}
	}
	return m.And(models.MaskFromInvalid(m.Rows, m.Cols, invalid))
}

func positiveWindow(r models.Range, coords []float64) models.Range {
	if r != (models.Range{}) {
		return r
	}
	return models.Range{Min: 0, Max: floats.Max(coords)}
}

// validPixels masks NaN pixels and, under the zero-sentinel policy, zeros
func (p *Pipeline) validPixels(img *models.Image) *models.MaskState {
	invalid := make([]bool, len(img.Data))
	for i, v := range img.Data {
		invalid[i] = math.IsNaN(v) || (p.params.ZeroIsMasked && v == 0)
	}
	return models.MaskFromInvalid(img.Rows, img.Cols, invalid)
}
