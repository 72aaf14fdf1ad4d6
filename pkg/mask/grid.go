package mask

import (
	"smireduce/internal/models"
	"smireduce/pkg/detector"
)

// grid tracks invalid pixels while a mask is being composed. It is
// inverted exactly once, in state().
type grid struct {
	invalid    []bool
	rows, cols int
}

func newGrid(rows, cols int) *grid {
	return &grid{invalid: make([]bool, rows*cols), rows: rows, cols: cols}
}

func (g *grid) state() *models.MaskState {
	return models.MaskFromInvalid(g.rows, g.cols, g.invalid)
}

// rect invalidates rows [r0, r1) x cols [c0, c1), clipped to the detector
func (g *grid) rect(r0, r1, c0, c1 int) {
	r0, r1 = clip(r0, g.rows), clip(r1, g.rows)
	c0, c1 = clip(c0, g.cols), clip(c1, g.cols)
	for r := r0; r < r1; r++ {
		row := g.invalid[r*g.cols : (r+1)*g.cols]
		for c := c0; c < c1; c++ {
			row[c] = true
		}
	}
}

func (g *grid) band(axis detector.Axis, from, to int) {
	if axis == detector.AxisRow {
		g.rect(from, to, 0, g.cols)
		return
	}
	g.rect(0, g.rows, from, to)
}

func (g *grid) pixel(r, c int) {
	if r >= 0 && r < g.rows && c >= 0 && c < g.cols {
		g.invalid[r*g.cols+c] = true
	}
}

// sensor removes the inter-module gaps of a tiled detector
func (g *grid) sensor(p *detector.Profile) {
	size, gap := p.ModuleSize, p.ModuleGap
	if size[0] > 0 && gap[0] > 0 {
		for i := size[0]; i < g.rows; i += size[0] + gap[0] {
			g.band(detector.AxisRow, i, i+gap[0])
		}
	}
	if size[1] > 0 && gap[1] > 0 {
		for i := size[1]; i < g.cols; i += size[1] + gap[1] {
			g.band(detector.AxisCol, i, i+gap[1])
		}
	}
}

func (g *grid) borders(p *detector.Profile) {
	w := p.BorderWidth
	g.band(detector.AxisRow, 0, w)
	g.band(detector.AxisRow, g.rows-w, g.rows)
	g.band(detector.AxisCol, 0, w)
	g.band(detector.AxisCol, g.cols-w, g.cols)

	for _, r := range p.SeamRows {
		g.band(detector.AxisRow, r, r+1)
	}
	for _, c := range p.SeamCols {
		g.band(detector.AxisCol, c, c+1)
	}
}

func (g *grid) defects(p *detector.Profile) {
	for _, px := range p.Defects() {
		g.pixel(px.Row, px.Col)
	}
}

func (g *grid) tender(t *detector.TenderPattern) {
	for _, b := range t.Fixed {
		g.band(b.Axis, b.From, b.To)
	}
	for _, s := range t.Series {
		for _, c := range s.Positions() {
			g.band(s.Axis, c+s.Lo, c+s.Hi)
		}
	}
}

// beamstop shades from the beamstop row down to the far edge of the
// detector, plus the kind-specific enlargement
func (g *grid) beamstop(p *detector.Profile, bs Beamstop) {
	hw := p.Beamstop.HalfWidth
	g.rect(bs.Y, g.rows, bs.X-hw, bs.X+hw)

	if kind, ok := p.Beamstop.Kinds[bs.Kind]; ok && bs.Kind != "" {
		depth := kind.Depth
		if depth <= 0 {
			depth = g.rows
		}
		g.rect(bs.Y, bs.Y+depth, bs.X-kind.HalfWidth, bs.X+kind.HalfWidth)
	}
}

func clip(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}
