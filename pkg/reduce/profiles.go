package reduce

import (
	"smireduce/internal/models"
	"smireduce/pkg/geometry"
)

// Units of the line profiles built here
const (
	UnitChi  = "chi_deg"
	UnitQPar = "qpar_A^-1"
	UnitQPer = "qper_A^-1"
)

// AzimuthalProfile averages a cake over its radial axis inside
// radialRange, giving intensity against chi for the chi rows inside
// azRange. Validity comes from the cake weights, so genuine zero
// intensities are kept.
func (rr *RangeReducer) AzimuthalProfile(cake *models.ReducedProfile, radialRange, azRange models.Range) (*models.ReducedProfile, error) {
	g, err := GridFromCake(cake)
	if err != nil {
		return nil, err
	}
	_, p, err := rr.reduce(g, cake.Coord, cake.Azimuthal,
		orFull(radialRange, cake.Coord), orFull(azRange, cake.Azimuthal), AverageCols, false)
	if err != nil {
		return nil, err
	}
	p.Unit = UnitChi
	return p, nil
}

// RemeshedAxes returns the coordinate axes of a grazing-incidence image
// remeshed onto a regular grid: q_par along the columns and q_per along
// the rows, largest first.
func RemeshedAxes(rows, cols int, qPar, qPer [2]float64) (qh, qv []float64) {
	return geometry.Linspace(cols, qPar[0], qPar[1]), geometry.Reversed(geometry.Linspace(rows, qPer[0], qPer[1]))
}

// QParProfile averages a remeshed image over q_per inside qPerRange and
// returns intensity against q_par inside qParRange. Zero ranges select the
// full extent.
func (rr *RangeReducer) QParProfile(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range) (*models.ReducedProfile, error) {
	return rr.remeshed(img, m, qPar, qPer, qParRange, qPerRange, AverageRows, UnitQPar)
}

// QPerProfile averages a remeshed image over q_par inside qParRange and
// returns intensity against q_per inside qPerRange
func (rr *RangeReducer) QPerProfile(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range) (*models.ReducedProfile, error) {
	return rr.remeshed(img, m, qPar, qPer, qParRange, qPerRange, AverageCols, UnitQPer)
}

func (rr *RangeReducer) remeshed(img *models.Image, m *models.MaskState, qPar, qPer [2]float64, qParRange, qPerRange models.Range, axis Axis, unit string) (*models.ReducedProfile, error) {
	g, err := GridFromImage(img, m)
	if err != nil {
		return nil, err
	}
	qh, qv := RemeshedAxes(img.Rows, img.Cols, qPar, qPer)
	_, p, err := rr.Reduce(g, qh, qv, orFull(qParRange, qh), orFull(qPerRange, qv), axis)
	if err != nil {
		return nil, err
	}
	p.Unit = unit
	return p, nil
}
