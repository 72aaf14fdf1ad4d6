package models

import "math"

// ReducedProfile is the output of a reduction: a 1D curve or a 2D cake.
//
// For a 1D profile Azimuthal is nil and Intensity[i] belongs to Coord[i].
// For a cake Intensity is stored row-major with len(Azimuthal) rows and
// len(Coord) columns; rows are ordered by descending azimuth.
//
// Weight carries the accumulated normalisation of every bin. A bin with
// zero weight had no valid contributor: its intensity is NaN and HasData
// reports false. Never compare intensities against zero to detect this.
type ReducedProfile struct {
	Coord     []float64
	Azimuthal []float64
	Intensity []float64
	Weight    []float64

	// Unit names the coordinate axis, e.g. "q_A^-1", "2th_deg", "chi_deg"
	Unit string
}

// NoData is the intensity stored in bins without contributors
var NoData = math.NaN()

// Is2D reports whether the profile is a cake
func (p *ReducedProfile) Is2D() bool {
	return p.Azimuthal != nil
}

// HasData reports whether bin i received any valid contribution
func (p *ReducedProfile) HasData(i int) bool {
	return p.Weight[i] > 0
}

// At returns the cake value at azimuthal row a and radial column r
func (p *ReducedProfile) At(a, r int) (float64, bool) {
	i := a*len(p.Coord) + r
	return p.Intensity[i], p.HasData(i)
}

// EmptyBins returns the number of bins without data
func (p *ReducedProfile) EmptyBins() int {
	n := 0
	for i := range p.Weight {
		if !p.HasData(i) {
			n++
		}
	}
	return n
}
