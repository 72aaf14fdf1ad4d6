// Package visualization writes reduced profiles to disk as CSV tables and
// PNG plots. Bins without data are written as NaN in CSV and left as gaps
// in plots.
package visualization

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"smireduce/internal/models"
)

// Plot sizes
const (
	LineWidth  = 10 * vg.Inch
	LineHeight = 5 * vg.Inch
	CakeWidth  = 10 * vg.Inch
	CakeHeight = 8 * vg.Inch
)

// WriteCSV writes a profile as CSV. 1D profiles give one row per bin with
// columns (coord, intensity, weight); cakes give one row per cell with
// columns (chi, coord, intensity, weight) in stored row order.
func WriteCSV(w io.Writer, p *models.ReducedProfile) error {
	if err := checkProfile(p); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	unit := p.Unit
	if unit == "" {
		unit = "coord"
	}

	if !p.Is2D() {
		if err := cw.Write([]string{unit, "intensity", "weight"}); err != nil {
			return err
		}
		for i, c := range p.Coord {
			if err := cw.Write([]string{format(c), format(p.Intensity[i]), format(p.Weight[i])}); err != nil {
				return err
			}
		}
	} else {
		if err := cw.Write([]string{"chi_deg", unit, "intensity", "weight"}); err != nil {
			return err
		}
		nR := len(p.Coord)
		for a, chi := range p.Azimuthal {
			for r, c := range p.Coord {
				i := a*nR + r
				if err := cw.Write([]string{format(chi), format(c), format(p.Intensity[i]), format(p.Weight[i])}); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV writes a profile to a CSV file, creating parent directories
func SaveCSV(path string, p *models.ReducedProfile) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create CSV file")
	}
	defer f.Close()

	if err := WriteCSV(f, p); err != nil {
		return errors.Wrapf(err, "could not write %s", path)
	}
	return nil
}

func format(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func checkProfile(p *models.ReducedProfile) error {
	if p == nil {
		return fmt.Errorf("nil profile")
	}
	n := len(p.Coord)
	if p.Is2D() {
		n *= len(p.Azimuthal)
	}
	if len(p.Intensity) != n || len(p.Weight) != n {
		return fmt.Errorf("profile holds %d intensities and %d weights, expected %d", len(p.Intensity), len(p.Weight), n)
	}
	return nil
}

// LinePlot builds a plot of a 1D profile. Runs of bins with data become
// separate line segments so empty bins show as gaps.
func LinePlot(p *models.ReducedProfile, title string) (*plot.Plot, error) {
	if err := checkProfile(p); err != nil {
		return nil, err
	}
	if p.Is2D() {
		return nil, fmt.Errorf("line plot needs a 1D profile")
	}

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = p.Unit
	pl.Y.Label.Text = "Intensity"

	segments := dataRuns(p)
	if len(segments) == 0 {
		return nil, fmt.Errorf("profile has no data")
	}
	for _, seg := range segments {
		if len(seg) == 1 {
			pts, err := plotter.NewScatter(seg)
			if err != nil {
				return nil, err
			}
			pts.Radius = vg.Points(1.5)
			pl.Add(pts)
			continue
		}
		line, err := plotter.NewLine(seg)
		if err != nil {
			return nil, err
		}
		line.Width = vg.Points(1)
		pl.Add(line)
	}
	pl.Add(plotter.NewGrid())
	return pl, nil
}

func dataRuns(p *models.ReducedProfile) []plotter.XYs {
	var runs []plotter.XYs
	var cur plotter.XYs
	for i, c := range p.Coord {
		if !p.HasData(i) || math.IsNaN(p.Intensity[i]) || math.IsInf(p.Intensity[i], 0) {
			if len(cur) > 0 {
				runs = append(runs, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: c, Y: p.Intensity[i]})
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}
	return runs
}

// cakeGrid adapts a cake to plotter.GridXYZ. Plot rows run bottom to top,
// so the stored descending-chi rows are flipped.
type cakeGrid struct {
	p        *models.ReducedProfile
	min, max float64
}

func newCakeGrid(p *models.ReducedProfile) (*cakeGrid, error) {
	g := &cakeGrid{p: p, min: math.Inf(1), max: math.Inf(-1)}
	for i, v := range p.Intensity {
		if !p.HasData(i) || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		g.min = math.Min(g.min, v)
		g.max = math.Max(g.max, v)
	}
	if g.min > g.max {
		return nil, fmt.Errorf("cake has no data")
	}
	if g.min == g.max {
		g.max = g.min + 1
	}
	return g, nil
}

func (g *cakeGrid) Dims() (c, r int) { return len(g.p.Coord), len(g.p.Azimuthal) }
func (g *cakeGrid) X(c int) float64  { return g.p.Coord[c] }
func (g *cakeGrid) Y(r int) float64  { return g.p.Azimuthal[len(g.p.Azimuthal)-1-r] }
func (g *cakeGrid) Min() float64     { return g.min }
func (g *cakeGrid) Max() float64     { return g.max }

func (g *cakeGrid) Z(c, r int) float64 {
	i := (len(g.p.Azimuthal)-1-r)*len(g.p.Coord) + c
	if !g.p.HasData(i) {
		return math.NaN()
	}
	return g.p.Intensity[i]
}

// CakePlot builds a heat map of a cake with chi on the vertical axis
func CakePlot(p *models.ReducedProfile, title string) (*plot.Plot, error) {
	if err := checkProfile(p); err != nil {
		return nil, err
	}
	if !p.Is2D() {
		return nil, fmt.Errorf("cake plot needs a 2D profile")
	}
	if len(p.Coord) < 2 || len(p.Azimuthal) < 2 {
		return nil, fmt.Errorf("cake plot needs at least 2x2 bins, got %dx%d", len(p.Azimuthal), len(p.Coord))
	}
	grid, err := newCakeGrid(p)
	if err != nil {
		return nil, err
	}

	pl := plot.New()
	pl.Title.Text = title
	pl.X.Label.Text = p.Unit
	pl.Y.Label.Text = "chi_deg"

	hm := plotter.NewHeatMap(grid, palette.Heat(64, 1))
	hm.NaN = pl.BackgroundColor
	pl.Add(hm)
	return pl, nil
}

// SavePlot renders a profile to an image file. The format follows the file
// extension (png, svg, pdf).
func SavePlot(path string, p *models.ReducedProfile, title string) error {
	var (
		pl   *plot.Plot
		err  error
		w, h vg.Length
	)
	if p != nil && p.Is2D() {
		pl, err = CakePlot(p, title)
		w, h = CakeWidth, CakeHeight
	} else {
		pl, err = LinePlot(p, title)
		w, h = LineWidth, LineHeight
	}
	if err != nil {
		return errors.Wrap(err, "could not build plot")
	}
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := pl.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "could not save plot %s", path)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "could not create output directory")
	}
	return nil
}
