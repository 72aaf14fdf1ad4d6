package pipeline

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smireduce/internal/models"
	"smireduce/pkg/detector"
	"smireduce/pkg/geometry"
	"smireduce/pkg/mask"
	"smireduce/pkg/reduce"
)

const bench = "bench"

// newBenchPipeline returns a pipeline whose registry holds an 8x10 test
// detector with a one-pixel border and a thresholded variant
func newBenchPipeline(t *testing.T, params *Params, opts ...Option) *Pipeline {
	t.Helper()
	reg, err := detector.NewRegistry(
		&detector.Profile{ID: bench, Rows: 8, Cols: 10, BorderWidth: 1, Beamstop: detector.BeamstopShadow{HalfWidth: 1}},
		&detector.Profile{ID: "bench-threshold", Rows: 8, Cols: 10, Threshold: 3},
	)
	require.NoError(t, err)
	if params == nil {
		params = DefaultParams()
	}
	params.DetectorID = bench
	params.NumCores = 2
	return NewPipeline(params, append([]Option{WithRegistry(reg)}, opts...)...)
}

func benchExposure(t *testing.T, value func(r, c int) float64) Exposure {
	t.Helper()
	g, err := geometry.FromAxes(geometry.UnitQ, geometry.Linspace(10, 0, 9), geometry.Linspace(8, -30, 30))
	require.NoError(t, err)
	img := models.NewImage(8, 10)
	for r := 0; r < 8; r++ {
		for c := 0; c < 10; c++ {
			img.Set(r, c, value(r, c))
		}
	}
	return Exposure{Image: img, Geometry: g, Label: "bench-frame"}
}

func constant(v float64) func(r, c int) float64 {
	return func(r, c int) float64 { return v }
}

var fullRadial = models.Range{Min: -0.5, Max: 9.5}

func TestMaskForCaches(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newBenchPipeline(t, nil, WithLogger(logger))

	m1, err := p.MaskFor(bench, mask.EnergyNone, mask.Beamstop{})
	require.NoError(t, err)
	m2, err := p.MaskFor(bench, mask.EnergyNone, mask.Beamstop{})
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 6*8, m1.Count())

	m3, err := p.MaskFor(bench, mask.EnergyNone, mask.Beamstop{X: 5, Y: 4})
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Less(t, m3.Count(), m1.Count())

	assert.Contains(t, logs.String(), "built mask")
	assert.Contains(t, logs.String(), "mask cache hit")

	_, err = p.MaskFor("no-such-detector", mask.EnergyNone, mask.Beamstop{})
	var cfg *models.ConfigurationError
	assert.True(t, errors.As(err, &cfg))
}

func TestReduceRadialHonoursMask(t *testing.T) {
	p := newBenchPipeline(t, nil)
	prof, err := p.ReduceRadial([]Exposure{benchExposure(t, constant(5))}, fullRadial, models.Range{}, 10)
	require.NoError(t, err)

	assert.False(t, prof.HasData(0), "border column")
	assert.False(t, prof.HasData(9), "border column")
	for i := 1; i < 9; i++ {
		assert.InDelta(t, 5.0, prof.Intensity[i], 1e-12, "bin %d", i)
	}
}

func TestReduceRadialWithInpainting(t *testing.T) {
	params := DefaultParams()
	params.Inpaint = true
	p := newBenchPipeline(t, params)

	prof, err := p.ReduceRadial([]Exposure{benchExposure(t, constant(5))}, fullRadial, models.Range{}, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, prof.EmptyBins())
	for i := range prof.Intensity {
		assert.InDelta(t, 5.0, prof.Intensity[i], 1e-6, "bin %d", i)
	}
}

func TestThresholdDetector(t *testing.T) {
	p := newBenchPipeline(t, nil)
	e := benchExposure(t, func(r, c int) float64 {
		if c < 5 {
			return 1
		}
		return 10
	})
	e.Detector = "bench-threshold"

	prof, err := p.ReduceRadial([]Exposure{e}, fullRadial, models.Range{}, 10)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		assert.False(t, prof.HasData(i), "bin %d is below threshold", i)
	}
	for i := 5; i < 10; i++ {
		assert.InDelta(t, 10.0, prof.Intensity[i], 1e-12)
	}
}

func TestReduceErrorsKeepTheirType(t *testing.T) {
	p := newBenchPipeline(t, nil)

	bad := benchExposure(t, constant(1))
	bad.Image = models.NewImage(4, 4)
	_, err := p.ReduceRadial([]Exposure{bad}, fullRadial, models.Range{}, 10)
	var mismatch *models.GeometryMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Contains(t, err.Error(), "bench-frame")

	unknown := benchExposure(t, constant(1))
	unknown.Detector = "nope"
	_, err = p.ReduceRadial([]Exposure{unknown}, fullRadial, models.Range{}, 10)
	var cfg *models.ConfigurationError
	assert.True(t, errors.As(err, &cfg))

	outside := benchExposure(t, constant(1))
	outside.Beamstop = &mask.Beamstop{X: 50, Y: 2}
	_, err = p.ReduceRadial([]Exposure{outside}, fullRadial, models.Range{}, 10)
	assert.True(t, errors.As(err, &cfg))

	_, err = p.ReduceCake([]Exposure{benchExposure(t, constant(1))}, fullRadial, models.Range{Min: -90, Max: 90}, 10, 0)
	assert.True(t, errors.As(err, &cfg))

	_, err = p.ReduceRadial([]Exposure{benchExposure(t, constant(1))}, models.Range{Min: 2, Max: 2}, models.Range{}, 10)
	var empty *models.EmptyRangeError
	assert.True(t, errors.As(err, &empty))
}

func TestCakeAndAzimuthalProfile(t *testing.T) {
	p := newBenchPipeline(t, nil)
	cake, err := p.ReduceCake([]Exposure{benchExposure(t, func(r, c int) float64 { return float64(r) })},
		fullRadial, models.Range{Min: -40, Max: 40}, 10, 4)
	require.NoError(t, err)
	require.True(t, cake.Is2D())
	assert.Len(t, cake.Intensity, 40)
	assert.Greater(t, cake.Azimuthal[0], cake.Azimuthal[3], "chi rows descend")

	azi, err := p.AzimuthalProfile(cake, models.Range{Min: 2, Max: 7}, models.Range{})
	require.NoError(t, err)
	assert.Equal(t, reduce.UnitChi, azi.Unit)
	require.Len(t, azi.Intensity, 4)
	// intensity grows with chi, so descending chi rows give descending means
	assert.Greater(t, azi.Intensity[0], azi.Intensity[3])

	line, err := p.ReduceAlongAxis(reduce.Grid{Rows: 1, Cols: 2, Values: []float64{1, 3}},
		[]float64{0, 1}, []float64{0}, models.Range{Min: 0, Max: 1}, models.Range{Min: -1, Max: 1}, reduce.AverageCols)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, line.Intensity[0], 1e-12)
}

func TestGrazingIncidence(t *testing.T) {
	p := newBenchPipeline(t, nil)
	img := models.NewImage(20, 20)
	for i := range img.Data {
		img.Data[i] = 1
	}
	// a zeroed detector gap, masked by the zero-sentinel policy
	for r := 0; r < 20; r++ {
		img.Set(r, 10, 0)
	}
	qPar := [2]float64{-1, 1}
	qPer := [2]float64{0, 2}

	radial, err := p.RadialGI(img, nil, qPar, qPer, models.Range{}, models.Range{}, models.Range{Min: 0, Max: 2}, 8)
	require.NoError(t, err)
	assert.Equal(t, string(geometry.UnitQ), radial.Unit)
	for i := range radial.Intensity {
		if radial.HasData(i) {
			assert.InDelta(t, 1.0, radial.Intensity[i], 1e-9, "bin %d", i)
		}
	}
	assert.Less(t, radial.EmptyBins(), 8)

	cake, err := p.CakeGI(img, nil, qPar, qPer, models.Range{Min: 0, Max: 2}, models.Range{Min: -90, Max: 90}, 8, 6)
	require.NoError(t, err)
	assert.Len(t, cake.Azimuthal, 6)

	par, err := p.QParProfile(img, nil, qPar, qPer, models.Range{}, models.Range{})
	require.NoError(t, err)
	assert.False(t, par.HasData(10), "zeroed column")
	assert.InDelta(t, 1.0, par.Intensity[0], 1e-12)

	per, err := p.QPerProfile(img, nil, qPar, qPer, models.Range{}, models.Range{})
	require.NoError(t, err)
	assert.Equal(t, 19.0, per.Weight[0])

	_, err = p.CakeGI(img, nil, qPar, qPer, models.Range{Min: 0, Max: 2}, models.Range{Min: -90, Max: 90}, 8, 0)
	assert.Error(t, err)
}

func TestConcurrentReductionsAgree(t *testing.T) {
	p := newBenchPipeline(t, nil)
	want, err := p.ReduceRadial([]Exposure{benchExposure(t, func(r, c int) float64 { return float64(r*c + 1) })}, fullRadial, models.Range{}, 7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*models.ReducedProfile, 8)
	errs := make([]error, 8)
	for i := range results {
		e := benchExposure(t, func(r, c int) float64 { return float64(r*c + 1) })
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.ReduceRadial([]Exposure{e}, fullRadial, models.Range{}, 7)
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		if diff := cmp.Diff(want, results[i], cmpopts.EquateNaNs(), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
			t.Errorf("concurrent reduction %d differs:\n%s", i, diff)
		}
	}
}

func TestReduceRadialAzimuthWindow(t *testing.T) {
	p := newBenchPipeline(t, nil)
	// chi runs from -30 to 30 down the rows; negative chi rows read 1, the others 2
	e := benchExposure(t, func(r, c int) float64 {
		if r < 4 {
			return 1
		}
		return 2
	})

	for _, tc := range []struct {
		name   string
		window models.Range
		want   float64
	}{
		{"lower half", models.Range{Min: -90, Max: 0}, 1},
		{"upper half", models.Range{Min: 0, Max: 90}, 2},
		{"full azimuth", models.Range{}, 1.5},
	} {
		t.Run(tc.name, func(t *testing.T) {
			prof, err := p.ReduceRadial([]Exposure{e}, fullRadial, tc.window, 10)
			require.NoError(t, err)
			for i := 1; i < 9; i++ {
				assert.InDelta(t, tc.want, prof.Intensity[i], 1e-12, "bin %d", i)
			}
		})
	}

	prof, err := p.ReduceRadial([]Exposure{e}, fullRadial, models.Range{Min: 100, Max: 120}, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, prof.EmptyBins())
}

func TestRadialGIWindows(t *testing.T) {
	p := newBenchPipeline(t, nil)
	img := models.NewImage(20, 20)
	for r := 0; r < 20; r++ {
		for c := 0; c < 20; c++ {
			if c < 10 {
				img.Set(r, c, 3) // negative q_par
			} else {
				img.Set(r, c, 1)
			}
		}
	}
	qPar := [2]float64{-1, 1}
	qPer := [2]float64{0, 2}
	radialRange := models.Range{Min: 0, Max: 2}

	// zero windows keep non-negative q_par and q_per only
	prof, err := p.RadialGI(img, nil, qPar, qPer, models.Range{}, models.Range{}, radialRange, 8)
	require.NoError(t, err)
	for i := range prof.Intensity {
		if prof.HasData(i) {
			assert.InDelta(t, 1.0, prof.Intensity[i], 1e-9, "bin %d", i)
		}
	}

	prof, err = p.RadialGI(img, nil, qPar, qPer, models.Range{Min: -1, Max: 1}, models.Range{Min: 0, Max: 2}, radialRange, 8)
	require.NoError(t, err)
	mixed := false
	for i := range prof.Intensity {
		if prof.HasData(i) && prof.Intensity[i] > 1.5 {
			mixed = true
		}
	}
	assert.True(t, mixed, "negative q_par pixels contribute inside an explicit window")

	// a narrow q_per window leaves the large |q| bins empty
	prof, err = p.RadialGI(img, nil, qPar, qPer, models.Range{}, models.Range{Min: 0, Max: 0.5}, radialRange, 8)
	require.NoError(t, err)
	assert.False(t, prof.HasData(7))
	assert.True(t, prof.HasData(2))

	_, err = p.RadialGI(img, nil, qPar, qPer, models.Range{Min: 1, Max: 0.5}, models.Range{}, radialRange, 8)
	var empty *models.EmptyRangeError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, "q_par", empty.Axis)

	_, err = p.RadialGI(img, nil, [2]float64{-1, -0.5}, qPer, models.Range{}, models.Range{}, radialRange, 8)
	assert.True(t, errors.As(err, &empty))
}
