// Package reduce averages coordinate-annotated 2D arrays (cakes or
// remeshed images) along one axis inside a rectangular coordinate window,
// producing line profiles.
package reduce

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"smireduce/internal/models"
)

// Axis selects the axis that is averaged away
type Axis int

const (
	// AverageRows takes the mean over rows; the profile runs along columns
	AverageRows Axis = iota
	// AverageCols takes the mean over columns; the profile runs along rows
	AverageCols
)

func (a Axis) String() string {
	if a == AverageRows {
		return "rows"
	}
	return "cols"
}

// Grid is a row-major array of values with optional explicit validity.
// A nil Valid slice means every finite value may contribute.
type Grid struct {
	Rows, Cols int
	Values     []float64
	Valid      []bool
}

// GridFromImage wraps an image and its mask. m may be nil.
func GridFromImage(img *models.Image, m *models.MaskState) (Grid, error) {
	if img == nil {
		return Grid{}, fmt.Errorf("reduce: image is required")
	}
	g := Grid{Rows: img.Rows, Cols: img.Cols, Values: img.Data}
	if m != nil {
		if m.Rows != img.Rows || m.Cols != img.Cols {
			return Grid{}, &models.GeometryMismatchError{
				Reason: fmt.Sprintf("mask is %dx%d, image is %dx%d", m.Rows, m.Cols, img.Rows, img.Cols),
			}
		}
		g.Valid = m.Valid
	}
	return g, nil
}

// GridFromCake views a cake as a grid whose validity comes from the bin
// weights, with azimuth along the rows and the radial axis along the
// columns
func GridFromCake(cake *models.ReducedProfile) (Grid, error) {
	if cake == nil || !cake.Is2D() {
		return Grid{}, fmt.Errorf("reduce: profile is not a cake")
	}
	valid := make([]bool, len(cake.Weight))
	for i := range valid {
		valid[i] = cake.HasData(i)
	}
	return Grid{
		Rows:   len(cake.Azimuthal),
		Cols:   len(cake.Coord),
		Values: cake.Intensity,
		Valid:  valid,
	}, nil
}

// RangeReducer computes masked, range-filtered means. It keeps a scratch
// buffer between calls and must not be shared between goroutines.
type RangeReducer struct {
	// ZeroIsMasked excludes values equal to zero, the convention of raw
	// detector images whose masked pixels were zeroed
	ZeroIsMasked bool

	buf []float64
}

// NewRangeReducer creates a reducer that treats zero as masked
func NewRangeReducer() *RangeReducer {
	return &RangeReducer{ZeroIsMasked: true}
}

// Reduce averages g over axis, using only entries that are valid, not NaN,
// non-zero when ZeroIsMasked is set, and whose column and row coordinates
// lie inside colRange and rowRange (inclusive). It returns the coordinates
// of the remaining axis and the profile along it; positions without any
// contributor carry no data.
func (rr *RangeReducer) Reduce(g Grid, colCoords, rowCoords []float64, colRange, rowRange models.Range, axis Axis) ([]float64, *models.ReducedProfile, error) {
	return rr.reduce(g, colCoords, rowCoords, colRange, rowRange, axis, rr.ZeroIsMasked)
}

func (rr *RangeReducer) reduce(g Grid, colCoords, rowCoords []float64, colRange, rowRange models.Range, axis Axis, zeroMasked bool) ([]float64, *models.ReducedProfile, error) {
	if err := checkGrid(g, colCoords, rowCoords); err != nil {
		return nil, nil, err
	}
	if colRange.Empty() {
		return nil, nil, &models.EmptyRangeError{Axis: "column", Range: colRange}
	}
	if rowRange.Empty() {
		return nil, nil, &models.EmptyRangeError{Axis: "row", Range: rowRange}
	}

	outer, inner := g.Cols, g.Rows
	coords := colCoords
	if axis == AverageCols {
		outer, inner = g.Rows, g.Cols
		coords = rowCoords
	}

	p := &models.ReducedProfile{
		Coord:     append([]float64(nil), coords...),
		Intensity: make([]float64, outer),
		Weight:    make([]float64, outer),
	}

	for o := 0; o < outer; o++ {
		rr.buf = rr.buf[:0]
		for in := 0; in < inner; in++ {
			r, c := in, o
			if axis == AverageCols {
				r, c = o, in
			}
			if !colRange.Contains(colCoords[c]) || !rowRange.Contains(rowCoords[r]) {
				continue
			}
			i := r*g.Cols + c
			if g.Valid != nil && !g.Valid[i] {
				continue
			}
			v := g.Values[i]
			if math.IsNaN(v) || (zeroMasked && v == 0) {
				continue
			}
			rr.buf = append(rr.buf, v)
		}

		if len(rr.buf) == 0 {
			p.Intensity[o] = models.NoData
			continue
		}
		p.Intensity[o] = stat.Mean(rr.buf, nil)
		p.Weight[o] = float64(len(rr.buf))
	}
	return p.Coord, p, nil
}

func checkGrid(g Grid, colCoords, rowCoords []float64) error {
	switch {
	case g.Rows <= 0 || g.Cols <= 0:
		return &models.ConfigurationError{Field: "grid", Value: fmt.Sprintf("%dx%d", g.Rows, g.Cols), Reason: "grid is empty"}
	case len(g.Values) != g.Rows*g.Cols:
		return &models.GeometryMismatchError{Reason: fmt.Sprintf("grid is %dx%d but holds %d values", g.Rows, g.Cols, len(g.Values))}
	case g.Valid != nil && len(g.Valid) != len(g.Values):
		return &models.GeometryMismatchError{Reason: fmt.Sprintf("validity holds %d entries for %d values", len(g.Valid), len(g.Values))}
	case len(colCoords) != g.Cols:
		return &models.GeometryMismatchError{Reason: fmt.Sprintf("%d column coordinates for %d columns", len(colCoords), g.Cols)}
	case len(rowCoords) != g.Rows:
		return &models.GeometryMismatchError{Reason: fmt.Sprintf("%d row coordinates for %d rows", len(rowCoords), g.Rows)}
	}
	return nil
}

// FullRange spans the finite values of coords. A zero Range passed to the
// profile helpers below is replaced by it.
func FullRange(coords []float64) models.Range {
	var finite []float64
	for _, v := range coords {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return models.Range{}
	}
	return models.Range{Min: floats.Min(finite), Max: floats.Max(finite)}
}

func orFull(r models.Range, coords []float64) models.Range {
	if r == (models.Range{}) {
		return FullRange(coords)
	}
	return r
}
