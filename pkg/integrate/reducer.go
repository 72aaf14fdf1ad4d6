// Package integrate projects masked detector frames into physical-space
// histograms. Every pixel is treated as a box in (radial, chi) space and
// its intensity is split across all bins the box overlaps, which keeps
// merged multi-detector profiles free of binning artefacts at module and
// detector gaps.
package integrate

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"smireduce/internal/models"
	"smireduce/pkg/geometry"
)

// DefaultChiDiscontinuity places the azimuthal wrap at +/-180 degrees
const DefaultChiDiscontinuity = 180.0

// Shape is the output shape of a reduction. Azimuthal == 0 selects a 1D
// radial profile, otherwise a Azimuthal x Radial cake is produced.
type Shape struct {
	Radial    int
	Azimuthal int
}

// Is2D reports whether the shape describes a cake
func (s Shape) Is2D() bool { return s.Azimuthal > 0 }

// Reducer accumulates split-pixel histograms. Its accumulation buffers are
// sized on first use and reused by later calls, so one Reducer must not
// be used by several goroutines at once.
type Reducer struct {
	// ChiDiscontinuity is the upper edge of the azimuthal window; chi
	// values are wrapped into [ChiDiscontinuity-360, ChiDiscontinuity)
	ChiDiscontinuity float64

	// CorrectSolidAngle divides every intensity by its solid-angle factor
	CorrectSolidAngle bool

	// Workers is the number of goroutines used for accumulation
	Workers int

	partials []*accumulator
}

// NewReducer creates a reducer with solid-angle correction enabled and the
// chi discontinuity at 180 degrees. workers <= 0 uses every CPU.
func NewReducer(workers int) *Reducer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Reducer{
		ChiDiscontinuity:  DefaultChiDiscontinuity,
		CorrectSolidAngle: true,
		Workers:           workers,
	}
}

// FullAzimuth returns the complete azimuthal window of the reducer
func (r *Reducer) FullAzimuth() models.Range {
	return models.Range{Min: r.ChiDiscontinuity - 360, Max: r.ChiDiscontinuity}
}

// Reduce merges all frames into a single histogram of the given shape.
//
// In 1D mode the azimuthal range filters pixels by the chi of their
// centre; in 2D mode it is the extent of the azimuthal axis. Bins without
// any contributing pixel carry NaN intensity and zero weight.
func (r *Reducer) Reduce(frames []models.Frame, shape Shape, radialRange, azimuthalRange models.Range) (*models.ReducedProfile, error) {
	unit, err := r.check(frames, shape, radialRange, azimuthalRange)
	if err != nil {
		return nil, err
	}

	nBins := shape.Radial
	if shape.Is2D() {
		nBins *= shape.Azimuthal
	}

	b := binning{
		radial:    axis{min: radialRange.Min, max: radialRange.Max, n: shape.Radial},
		azimuthal: axis{min: azimuthalRange.Min, max: azimuthalRange.Max, n: shape.Azimuthal},
		twoD:      shape.Is2D(),
		chiLow:    r.ChiDiscontinuity - 360,
		solid:     r.CorrectSolidAngle,
	}

	tasks := splitTasks(frames, r.workers())
	parts := r.prepare(len(tasks), nBins)

	var wg sync.WaitGroup
	for w := range tasks {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, t := range tasks[w] {
				b.accumulate(parts[w], frames[t.frame], t.row0, t.row1)
			}
		}(w)
	}
	wg.Wait()

	// merge in worker order so the result does not depend on scheduling
	total := parts[0]
	for _, p := range parts[1:] {
		total.add(p)
	}

	return b.profile(total, string(unit)), nil
}

func (r *Reducer) workers() int {
	if r.Workers <= 0 {
		return 1
	}
	return r.Workers
}

// prepare returns n zeroed accumulators of size bins, reusing earlier ones
func (r *Reducer) prepare(n, bins int) []*accumulator {
	for len(r.partials) < n {
		r.partials = append(r.partials, &accumulator{})
	}
	parts := r.partials[:n]
	for _, p := range parts {
		p.reset(bins)
	}
	return parts
}

func (r *Reducer) check(frames []models.Frame, shape Shape, radialRange, azimuthalRange models.Range) (geometry.Unit, error) {
	if len(frames) == 0 {
		return "", &models.ConfigurationError{Field: "frames", Value: 0, Reason: "nothing to reduce"}
	}
	if shape.Radial <= 0 || shape.Azimuthal < 0 {
		return "", &models.ConfigurationError{
			Field:  "shape",
			Value:  fmt.Sprintf("%dx%d", shape.Azimuthal, shape.Radial),
			Reason: "bin counts must be positive",
		}
	}
	if radialRange.Empty() {
		return "", &models.EmptyRangeError{Axis: "radial", Range: radialRange}
	}
	if azimuthalRange.Empty() {
		return "", &models.EmptyRangeError{Axis: "azimuthal", Range: azimuthalRange}
	}

	var unit geometry.Unit
	for i, f := range frames {
		if err := f.CheckShape(); err != nil {
			return "", err
		}
		u := f.Geometry.Unit()
		if i == 0 {
			unit = u
			continue
		}
		if u != unit {
			return "", &models.GeometryMismatchError{
				Frame:  f.Label,
				Reason: fmt.Sprintf("radial unit %s does not match %s", u, unit),
			}
		}
	}
	return unit, nil
}

// task is a band of rows [row0, row1) of one frame
type task struct {
	frame      int
	row0, row1 int
}

// rowsPerTask keeps tasks large enough to amortise scheduling
const rowsPerTask = 64

// splitTasks deals row bands of every frame round-robin over the workers.
// The assignment depends only on the inputs.
func splitTasks(frames []models.Frame, workers int) [][]task {
	var all []task
	for i, f := range frames {
		rows, _ := f.Geometry.Shape()
		for r := 0; r < rows; r += rowsPerTask {
			end := r + rowsPerTask
			if end > rows {
				end = rows
			}
			all = append(all, task{frame: i, row0: r, row1: end})
		}
	}
	if workers > len(all) {
		workers = len(all)
	}
	if workers < 1 {
		workers = 1
	}
	out := make([][]task, workers)
	for i, t := range all {
		out[i%workers] = append(out[i%workers], t)
	}
	return out
}

// accumulator holds the weighted-intensity and weight sums of all bins
type accumulator struct {
	signal []float64
	norm   []float64
}

func (a *accumulator) reset(n int) {
	if cap(a.signal) < n {
		a.signal = make([]float64, n)
		a.norm = make([]float64, n)
		return
	}
	a.signal = a.signal[:n]
	a.norm = a.norm[:n]
	for i := range a.signal {
		a.signal[i] = 0
		a.norm[i] = 0
	}
}

func (a *accumulator) add(o *accumulator) {
	for i := range a.signal {
		a.signal[i] += o.signal[i]
		a.norm[i] += o.norm[i]
	}
}

// Accumulated exposes the raw sums of the last call, in bin order. It is
// meant for diagnostics and tests; the slices are overwritten by the next
// call to Reduce.
func (r *Reducer) Accumulated() (signal, norm []float64) {
	if len(r.partials) == 0 {
		return nil, nil
	}
	return r.partials[0].signal, r.partials[0].norm
}

// empty reports a bin without contributions
func empty(norm float64) bool {
	return norm <= 0 || math.IsNaN(norm)
}
