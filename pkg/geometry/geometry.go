// Package geometry describes how detector pixels map into scattering
// space. Calibration itself happens elsewhere; this package only consumes
// finished per-pixel coordinates.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"smireduce/internal/models"
)

// Unit names the radial coordinate produced by a Provider.
type Unit = models.Unit

const (
	UnitQ        = models.UnitQ
	UnitTwoTheta = models.UnitTwoTheta
)

// Provider maps pixel coordinates to physical scattering coordinates. It is
// declared next to models.Frame, which carries one.
type Provider = models.Geometry

// ArrayGeometry is a Provider backed by precomputed per-pixel arrays, the
// form in which calibration tools hand over their results.
type ArrayGeometry struct {
	rows, cols int
	unit       Unit

	radial     []float64
	azimuthal  []float64
	solidAngle []float64
	dRadial    []float64
	dAzimuthal []float64
}

// NewArrayGeometry builds a provider from row-major coordinate maps.
// solidAngle may be nil, in which case every pixel has factor 1.
// Footprint half widths are derived from the local coordinate gradient:
// a unit pixel step moves the coordinate by the partial derivative along
// each detector axis, so the bounding half width is half their absolute sum.
func NewArrayGeometry(rows, cols int, unit Unit, radial, azimuthal, solidAngle []float64) (*ArrayGeometry, error) {
	n := rows * cols
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid geometry size %dx%d", rows, cols)
	}
	if len(radial) != n || len(azimuthal) != n {
		return nil, fmt.Errorf("coordinate maps must have %d values, got radial=%d azimuthal=%d", n, len(radial), len(azimuthal))
	}
	if solidAngle == nil {
		solidAngle = make([]float64, n)
		for i := range solidAngle {
			solidAngle[i] = 1
		}
	} else if len(solidAngle) != n {
		return nil, fmt.Errorf("solid angle map must have %d values, got %d", n, len(solidAngle))
	}
	if unit != UnitQ && unit != UnitTwoTheta {
		return nil, fmt.Errorf("unknown radial unit %q", unit)
	}

	return &ArrayGeometry{
		rows:       rows,
		cols:       cols,
		unit:       unit,
		radial:     radial,
		azimuthal:  azimuthal,
		solidAngle: solidAngle,
		dRadial:    halfWidths(radial, rows, cols, false),
		dAzimuthal: halfWidths(azimuthal, rows, cols, true),
	}, nil
}

// WithExtents returns a copy of g that uses explicit footprint half widths.
// Passing nil for either slice keeps the gradient-derived values.
func (g *ArrayGeometry) WithExtents(dRadial, dAzimuthal []float64) (*ArrayGeometry, error) {
	out := *g
	n := g.rows * g.cols
	if dRadial != nil {
		if len(dRadial) != n {
			return nil, fmt.Errorf("radial extent map must have %d values, got %d", n, len(dRadial))
		}
		out.dRadial = dRadial
	}
	if dAzimuthal != nil {
		if len(dAzimuthal) != n {
			return nil, fmt.Errorf("azimuthal extent map must have %d values, got %d", n, len(dAzimuthal))
		}
		out.dAzimuthal = dAzimuthal
	}
	return &out, nil
}

func (g *ArrayGeometry) Shape() (int, int) { return g.rows, g.cols }
func (g *ArrayGeometry) Unit() Unit        { return g.unit }

func (g *ArrayGeometry) PixelToPhysical(row, col int) (float64, float64, float64) {
	i := row*g.cols + col
	return g.radial[i], g.azimuthal[i], g.solidAngle[i]
}

func (g *ArrayGeometry) LocalExtent(row, col int) (float64, float64) {
	i := row*g.cols + col
	return g.dRadial[i], g.dAzimuthal[i]
}

// FromAxes builds a separable geometry in which the radial coordinate
// depends only on the column and chi only on the row.
func FromAxes(unit Unit, radialAxis, azimuthAxis []float64) (*ArrayGeometry, error) {
	rows, cols := len(azimuthAxis), len(radialAxis)
	radial := make([]float64, rows*cols)
	azimuthal := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			radial[r*cols+c] = radialAxis[c]
			azimuthal[r*cols+c] = azimuthAxis[r]
		}
	}
	return NewArrayGeometry(rows, cols, unit, radial, azimuthal, nil)
}

// Remeshed builds the geometry of a grazing-incidence image that has
// already been remeshed onto a regular (q_par, q_per) grid. q_par runs
// along the columns from qPar[0] to qPar[1]; q_per runs along the rows
// with the largest value in row 0. The radial coordinate is |q| and chi
// is -atan2(q_par, q_per) in degrees.
func Remeshed(rows, cols int, qPar, qPer [2]float64) (*ArrayGeometry, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid remeshed size %dx%d", rows, cols)
	}
	qh := Linspace(cols, qPar[0], qPar[1])
	qv := Reversed(Linspace(rows, qPer[0], qPer[1]))

	radial := make([]float64, rows*cols)
	azimuthal := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c
			radial[i] = math.Hypot(qh[c], qv[r])
			azimuthal[i] = -math.Atan2(qh[c], qv[r]) * 180 / math.Pi
		}
	}
	return NewArrayGeometry(rows, cols, UnitQ, radial, azimuthal, nil)
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(n int, lo, hi float64) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{lo}
	}
	return floats.Span(make([]float64, n), lo, hi)
}

// Reversed returns v in reverse order, in place.
func Reversed(v []float64) []float64 {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
	return v
}

// WrapDegrees maps an angle difference into [-180, 180).
func WrapDegrees(d float64) float64 {
	return d - 360*math.Floor((d+180)/360)
}

// halfWidths estimates per-pixel footprint half widths from central
// differences (one-sided on the edges).
func halfWidths(v []float64, rows, cols int, angular bool) []float64 {
	out := make([]float64, len(v))
	diff := func(a, b float64) float64 {
		d := a - b
		if angular {
			d = WrapDegrees(d)
		}
		return d
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			i := r*cols + c

			var dRow, dCol float64
			switch {
			case rows == 1:
			case r == 0:
				dRow = diff(v[i+cols], v[i])
			case r == rows-1:
				dRow = diff(v[i], v[i-cols])
			default:
				dRow = diff(v[i+cols], v[i-cols]) / 2
			}
			switch {
			case cols == 1:
			case c == 0:
				dCol = diff(v[i+1], v[i])
			case c == cols-1:
				dCol = diff(v[i], v[i-1])
			default:
				dCol = diff(v[i+1], v[i-1]) / 2
			}

			out[i] = 0.5 * (math.Abs(dRow) + math.Abs(dCol))
		}
	}
	return out
}
