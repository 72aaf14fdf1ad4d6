package integrate

import (
	"math"

	"smireduce/internal/models"
)

// axis is a regular binning of [min, max] into n bins
type axis struct {
	min, max float64
	n        int
}

func (a axis) delta() float64 {
	return (a.max - a.min) / float64(a.n)
}

// centers returns the bin centre coordinates
func (a axis) centers() []float64 {
	out := make([]float64, a.n)
	d := a.delta()
	for i := range out {
		out[i] = a.min + (float64(i)+0.5)*d
	}
	return out
}

// locate finds the bins touched by the footprint [c-d, c+d]. f0 and f1
// are the footprint edges in bin units, clipped to the axis, so a pixel
// overlapping the range keeps its full weight spread over the bins it
// reaches. A footprint of zero width is a point: it lands wholly in the
// bin containing c, and the upper edge of the axis belongs to the last
// bin.
func (a axis) locate(c, d float64) (first, last int, f0, f1 float64, ok bool) {
	if math.IsNaN(c) {
		return 0, 0, 0, 0, false
	}
	delta := a.delta()
	if !(d > 0) {
		if c < a.min || c > a.max {
			return 0, 0, 0, 0, false
		}
		k := int((c - a.min) / delta)
		if k >= a.n {
			k = a.n - 1
		}
		return k, k, 0, 0, true
	}

	f0 = (c - d - a.min) / delta
	f1 = (c + d - a.min) / delta
	if f1 <= 0 || f0 >= float64(a.n) {
		return 0, 0, 0, 0, false
	}
	f0 = math.Max(f0, 0)
	f1 = math.Min(f1, float64(a.n))
	first = int(math.Floor(f0))
	last = int(math.Floor(f1))
	if last >= a.n {
		last = a.n - 1
	}
	return first, last, f0, f1, true
}

// fraction is the share of the clipped footprint [f0, f1] that falls in
// bin k. The shares over [first, last] sum to one.
func fraction(k int, f0, f1 float64) float64 {
	if f1 == f0 {
		return 1
	}
	lo := math.Max(f0, float64(k))
	hi := math.Min(f1, float64(k+1))
	if hi <= lo {
		return 0
	}
	return (hi - lo) / (f1 - f0)
}

// binning carries everything the per-pixel loop needs for one call
type binning struct {
	radial    axis
	azimuthal axis
	twoD      bool
	chiLow    float64
	solid     bool
}

// wrap maps chi into [chiLow, chiLow+360)
func (b *binning) wrap(chi float64) float64 {
	x := math.Mod(chi-b.chiLow, 360)
	if x < 0 {
		x += 360
	}
	return b.chiLow + x
}

// accumulate adds rows [row0, row1) of a frame to acc. It allocates
// nothing per pixel.
func (b *binning) accumulate(acc *accumulator, f models.Frame, row0, row1 int) {
	img, valid, g := f.Image, f.Mask.Valid, f.Geometry
	cols := img.Cols
	nR := b.radial.n

	for row := row0; row < row1; row++ {
		for col := 0; col < cols; col++ {
			i := row*cols + col
			if !valid[i] {
				continue
			}
			v := img.Data[i]
			if math.IsNaN(v) {
				continue
			}

			rad, chi, sa := g.PixelToPhysical(row, col)
			if b.solid {
				if !(sa > 0) {
					continue
				}
				v /= sa
			}
			dRad, dChi := g.LocalExtent(row, col)
			chi = b.wrap(chi)

			r0, r1, fr0, fr1, ok := b.radial.locate(rad, dRad)
			if !ok {
				continue
			}

			if !b.twoD {
				if chi < b.azimuthal.min || chi > b.azimuthal.max {
					continue
				}
				for k := r0; k <= r1; k++ {
					if w := fraction(k, fr0, fr1); w > 0 {
						acc.signal[k] += v * w
						acc.norm[k] += w
					}
				}
				continue
			}

			a0, a1, fa0, fa1, ok := b.azimuthal.locate(chi, dChi)
			if !ok {
				continue
			}
			for ka := a0; ka <= a1; ka++ {
				wa := fraction(ka, fa0, fa1)
				if wa <= 0 {
					continue
				}
				base := ka * nR
				for kr := r0; kr <= r1; kr++ {
					if w := wa * fraction(kr, fr0, fr1); w > 0 {
						acc.signal[base+kr] += v * w
						acc.norm[base+kr] += w
					}
				}
			}
		}
	}
}

// profile divides the sums and lays out the result. Cake rows come out
// in descending azimuth.
func (b *binning) profile(acc *accumulator, unit string) *models.ReducedProfile {
	p := &models.ReducedProfile{
		Coord: b.radial.centers(),
		Unit:  unit,
	}
	n := len(acc.signal)
	p.Intensity = make([]float64, n)
	p.Weight = make([]float64, n)

	if !b.twoD {
		for i := 0; i < n; i++ {
			p.Weight[i] = acc.norm[i]
			p.Intensity[i] = ratio(acc.signal[i], acc.norm[i])
		}
		return p
	}

	nA, nR := b.azimuthal.n, b.radial.n
	chi := b.azimuthal.centers()
	p.Azimuthal = make([]float64, nA)
	for out := 0; out < nA; out++ {
		in := nA - 1 - out
		p.Azimuthal[out] = chi[in]
		for r := 0; r < nR; r++ {
			p.Weight[out*nR+r] = acc.norm[in*nR+r]
			p.Intensity[out*nR+r] = ratio(acc.signal[in*nR+r], acc.norm[in*nR+r])
		}
	}
	return p
}

func ratio(signal, norm float64) float64 {
	if empty(norm) {
		return models.NoData
	}
	return signal / norm
}
