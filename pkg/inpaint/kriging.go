// Package inpaint fills masked detector pixels from their valid
// neighbourhood. An inpainter returns the filled image together with a
// fully valid mask, and reductions of inpainted frames read every pixel.
package inpaint

import (
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"smireduce/internal/models"
)

// Inpainter replaces the intensity of every invalid pixel with an estimate
// and returns the filled image together with a fully valid mask.
type Inpainter interface {
	Inpaint(img *models.Image, m *models.MaskState) (*models.Image, *models.MaskState, error)
}

// Variogram models supported by the kriging inpainter
type VariogramModel int

const (
	Spherical VariogramModel = iota
	Exponential
	Gaussian
)

func (v VariogramModel) String() string {
	switch v {
	case Spherical:
		return "spherical"
	case Exponential:
		return "exponential"
	case Gaussian:
		return "gaussian"
	}
	return fmt.Sprintf("VariogramModel(%d)", int(v))
}

// ParseVariogramModel accepts the lower-case model names used in config
// files
func ParseVariogramModel(s string) (VariogramModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "spherical":
		return Spherical, nil
	case "exponential":
		return Exponential, nil
	case "gaussian":
		return Gaussian, nil
	}
	return Spherical, &models.ConfigurationError{Field: "inpaint.model", Value: s, Reason: "unknown variogram model"}
}

// KrigingParams holds the parameters for kriging inpainting
type KrigingParams struct {
	Range     float64        // Range of the variogram, in pixels
	Sill      float64        // Sill of the variogram
	Nugget    float64        // Nugget effect
	Model     VariogramModel // Variogram model
	Neighbors int            // Number of valid pixels used per estimate
}

// DefaultKrigingParams suits the few-pixel gaps and defects of hybrid
// pixel detectors
func DefaultKrigingParams() KrigingParams {
	return KrigingParams{
		Range:     8,
		Sill:      1,
		Nugget:    0,
		Model:     Spherical,
		Neighbors: 12,
	}
}

// Point2D is a valid pixel in the neighbour index
type Point2D struct {
	Row, Col float64
	Value    float64
}

// Compare implements the kdtree.Comparable interface
func (p Point2D) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(Point2D)
	switch d {
	case 0:
		return p.Row - q.Row
	case 1:
		return p.Col - q.Col
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p Point2D) Dims() int { return 2 }

// Distance returns the squared Euclidean distance between two points
func (p Point2D) Distance(c kdtree.Comparable) float64 {
	q := c.(Point2D)
	dr := p.Row - q.Row
	dc := p.Col - q.Col
	return dr*dr + dc*dc
}

// Points2D is a collection of Point2D that satisfies kdtree.Interface
type Points2D []Point2D

func (p Points2D) Index(i int) kdtree.Comparable         { return p[i] }
func (p Points2D) Len() int                              { return len(p) }
func (p Points2D) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot implements the kdtree.Interface method
func (p Points2D) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(pointPlane{Points2D: p, Dim: d}, kdtree.MedianOfRandoms(pointPlane{Points2D: p, Dim: d}, 100))
}

// pointPlane implements sort.Interface and kdtree.SortSlicer for Points2D
type pointPlane struct {
	Points2D
	kdtree.Dim
}

func (p pointPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.Points2D[i].Row < p.Points2D[j].Row
	case 1:
		return p.Points2D[i].Col < p.Points2D[j].Col
	default:
		panic("illegal dimension")
	}
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	return pointPlane{Points2D: p.Points2D[start:end], Dim: p.Dim}
}

func (p pointPlane) Swap(i, j int) {
	p.Points2D[i], p.Points2D[j] = p.Points2D[j], p.Points2D[i]
}

// ProgressCallback reports progress while pixels are being filled
type ProgressCallback func(completed, total int, message string)

// Kriging fills invalid pixels by ordinary kriging over the nearest valid
// pixels. Estimates whose kriging system cannot be solved fall back to
// inverse distance weighting.
type Kriging struct {
	params           KrigingParams
	workers          int
	progressCallback ProgressCallback
}

// NewKriging creates a kriging inpainter using every CPU
func NewKriging(params KrigingParams) *Kriging {
	if params.Neighbors < 1 {
		params.Neighbors = DefaultKrigingParams().Neighbors
	}
	if !(params.Range > 0) {
		params.Range = DefaultKrigingParams().Range
	}
	return &Kriging{params: params, workers: runtime.NumCPU()}
}

// SetProgressCallback sets a callback invoked as pixels are filled
func (k *Kriging) SetProgressCallback(cb ProgressCallback) {
	k.progressCallback = cb
}

// SetWorkers overrides the number of goroutines. n <= 0 uses every CPU.
func (k *Kriging) SetWorkers(n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	k.workers = n
}

// Params returns the kriging parameters in use
func (k *Kriging) Params() KrigingParams { return k.params }

// Inpaint implements Inpainter. NaN pixels are treated as invalid even when
// the mask marks them usable.
func (k *Kriging) Inpaint(img *models.Image, m *models.MaskState) (*models.Image, *models.MaskState, error) {
	if img == nil || m == nil {
		return nil, nil, fmt.Errorf("inpaint: image and mask are required")
	}
	if img.Rows != m.Rows || img.Cols != m.Cols {
		return nil, nil, &models.GeometryMismatchError{
			Reason: fmt.Sprintf("mask is %dx%d, image is %dx%d", m.Rows, m.Cols, img.Rows, img.Cols),
		}
	}

	var known Points2D
	var holes []int
	for i, v := range img.Data {
		if m.Valid[i] && !math.IsNaN(v) {
			known = append(known, Point2D{Row: float64(i / img.Cols), Col: float64(i % img.Cols), Value: v})
		} else {
			holes = append(holes, i)
		}
	}

	out := img.Clone()
	full := models.NewMaskState(img.Rows, img.Cols)
	if len(holes) == 0 {
		return out, full, nil
	}
	if len(known) == 0 {
		return nil, nil, fmt.Errorf("inpaint: no valid pixels to interpolate from")
	}

	k.reportProgress(0, len(holes), fmt.Sprintf("Filling %d of %d pixels from %d valid neighbours", len(holes), len(img.Data), len(known)))
	tree := kdtree.New(known, false)

	workers := k.workers
	if workers > len(holes) {
		workers = len(holes)
	}
	if workers < 1 {
		workers = 1
	}

	var done int64
	step := len(holes)/20 + 1
	chunk := (len(holes) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > len(holes) {
			end = len(holes)
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(part []int) {
			defer wg.Done()
			s := newSolver(k.params)
			for _, i := range part {
				q := Point2D{Row: float64(i / img.Cols), Col: float64(i % img.Cols)}
				out.Data[i] = s.estimate(tree, q)
				if n := atomic.AddInt64(&done, 1); n%int64(step) == 0 {
					k.reportProgress(int(n), len(holes), "")
				}
			}
		}(holes[start:end])
	}
	wg.Wait()

	k.reportProgress(len(holes), len(holes), "Inpainting complete")
	return out, full, nil
}

func (k *Kriging) reportProgress(completed, total int, message string) {
	if k.progressCallback != nil {
		k.progressCallback(completed, total, message)
	}
}

// solver holds the per-goroutine buffers of the kriging system
type solver struct {
	params KrigingParams
	near   []Point2D
	dist   []float64
	a      *mat.Dense
	b      *mat.VecDense
	x      *mat.VecDense
	qr     mat.QR
}

func newSolver(params KrigingParams) *solver {
	n := params.Neighbors + 1
	return &solver{
		params: params,
		near:   make([]Point2D, 0, params.Neighbors),
		dist:   make([]float64, 0, params.Neighbors),
		a:      mat.NewDense(n, n, nil),
		b:      mat.NewVecDense(n, nil),
		x:      mat.NewVecDense(n, nil),
	}
}

// estimate returns the kriged value at q
func (s *solver) estimate(tree *kdtree.Tree, q Point2D) float64 {
	keep := kdtree.NewNKeeper(s.params.Neighbors)
	tree.NearestSet(keep, q)

	s.near, s.dist = s.near[:0], s.dist[:0]
	for _, c := range keep.Heap {
		// the keeper is seeded with an empty sentinel that survives when the
		// tree holds fewer points than requested
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(Point2D)
		s.near = append(s.near, p)
		s.dist = append(s.dist, math.Sqrt(c.Dist))
	}

	switch len(s.near) {
	case 0:
		return math.NaN()
	case 1, 2:
		return s.idw()
	}
	if v, ok := s.krige(q); ok {
		return v
	}
	return s.idw()
}

// krige solves the ordinary kriging system for the current neighbours
func (s *solver) krige(q Point2D) (float64, bool) {
	n := len(s.near)
	size := n + 1
	a := s.a.Slice(0, size, 0, size).(*mat.Dense)
	b := s.b.SliceVec(0, size).(*mat.VecDense)
	x := s.x.SliceVec(0, size).(*mat.VecDense)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			h := math.Sqrt(s.near[i].Distance(s.near[j]))
			a.Set(i, j, variogram(h, s.params))
		}
		a.Set(i, n, 1)
		a.Set(n, i, 1)
		b.SetVec(i, variogram(s.dist[i], s.params))
	}
	a.Set(n, n, 0)
	b.SetVec(n, 1)

	s.qr.Factorize(a)
	if err := s.qr.SolveVecTo(x, false, b); err != nil {
		return 0, false
	}

	v := 0.0
	for i := 0; i < n; i++ {
		v += x.AtVec(i) * s.near[i].Value
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// idw is the inverse squared distance weighted mean of the neighbours
func (s *solver) idw() float64 {
	sum, norm := 0.0, 0.0
	for i, p := range s.near {
		d := s.dist[i]
		if d < 1e-12 {
			return p.Value
		}
		w := 1 / (d * d)
		sum += w * p.Value
		norm += w
	}
	if norm == 0 {
		return math.NaN()
	}
	return sum / norm
}

// variogram returns the semivariance at distance h
func variogram(h float64, params KrigingParams) float64 {
	if h == 0 {
		return 0
	}
	gamma := params.Nugget
	switch params.Model {
	case Spherical:
		if h < params.Range {
			r := h / params.Range
			gamma += params.Sill * (1.5*r - 0.5*r*r*r)
		} else {
			gamma += params.Sill
		}
	case Exponential:
		gamma += params.Sill * (1 - math.Exp(-3*h/params.Range))
	case Gaussian:
		gamma += params.Sill * (1 - math.Exp(-3*h*h/(params.Range*params.Range)))
	}
	return gamma
}
