package inpaint

import (
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smireduce/internal/models"
)

// gradientImage returns a ramp that is steep along the columns and shallow
// along the rows
func gradientImage(rows, cols int) *models.Image {
	img := models.NewImage(rows, cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			img.Set(r, c, 10+0.05*float64(r)+0.5*float64(c))
		}
	}
	return img
}

func TestVariogramModels(t *testing.T) {
	for _, model := range []VariogramModel{Spherical, Exponential, Gaussian} {
		params := KrigingParams{Range: 10, Sill: 1, Nugget: 0.1, Model: model}

		if v := variogram(0, params); v != 0 {
			t.Errorf("%s: expected 0 at h=0, got %f", model, v)
		}
		prev := 0.0
		for _, h := range []float64{1, 5, 10, 20} {
			v := variogram(h, params)
			if v < prev {
				t.Errorf("%s: variogram decreased at h=%f", model, h)
			}
			if v > params.Nugget+params.Sill+1e-12 {
				t.Errorf("%s: variogram %f exceeds nugget+sill", model, v)
			}
			prev = v
		}
	}

	// the spherical model reaches the sill exactly at the range
	assert.InDelta(t, 1.1, variogram(10, KrigingParams{Range: 10, Sill: 1, Nugget: 0.1, Model: Spherical}), 1e-12)
}

func TestParseVariogramModel(t *testing.T) {
	m, err := ParseVariogramModel("Gaussian")
	require.NoError(t, err)
	assert.Equal(t, Gaussian, m)

	m, err = ParseVariogramModel("")
	require.NoError(t, err)
	assert.Equal(t, Spherical, m)

	_, err = ParseVariogramModel("linear")
	var cfg *models.ConfigurationError
	assert.True(t, errors.As(err, &cfg))
}

func TestInpaintFillsHolesOnly(t *testing.T) {
	img := gradientImage(16, 16)
	m := models.NewMaskState(16, 16)

	// a 2-pixel module gap and a single hot pixel
	for r := 0; r < 16; r++ {
		m.Valid[r*16+7] = false
		m.Valid[r*16+8] = false
	}
	m.Valid[3*16+2] = false
	in := img.Clone()
	for i, ok := range m.Valid {
		if !ok {
			in.Data[i] = 0
		}
	}

	k := NewKriging(DefaultKrigingParams())
	k.SetWorkers(3)
	out, full, err := k.Inpaint(in, m)
	require.NoError(t, err)

	assert.Equal(t, 256, full.Count())
	assert.Equal(t, 16*14-1, m.Count(), "input mask is not modified")
	for i := range out.Data {
		if m.Valid[i] {
			assert.Equal(t, in.Data[i], out.Data[i], "valid pixel %d changed", i)
			continue
		}
		// a smooth ramp is reproduced closely from both sides of the gap
		assert.InDelta(t, img.Data[i], out.Data[i], 1.0, "pixel %d", i)
	}
	assert.Equal(t, 0.0, in.Data[3*16+2], "input image is not modified")
}

func TestInpaintTreatsNaNAsInvalid(t *testing.T) {
	img := models.NewImage(5, 5)
	for i := range img.Data {
		img.Data[i] = 7
	}
	img.Data[12] = math.NaN()

	out, _, err := NewKriging(DefaultKrigingParams()).Inpaint(img, models.NewMaskState(5, 5))
	require.NoError(t, err)
	assert.InDelta(t, 7.0, out.Data[12], 1e-6)
}

func TestInpaintFewNeighbours(t *testing.T) {
	img := models.NewImage(1, 3)
	img.Data[0], img.Data[2] = 2, 4
	m := models.NewMaskState(1, 3)
	m.Valid[1] = false

	params := DefaultKrigingParams()
	params.Neighbors = 8
	out, _, err := NewKriging(params).Inpaint(img, m)
	require.NoError(t, err)
	// two equidistant neighbours: inverse distance weighting gives the mean
	assert.InDelta(t, 3.0, out.Data[1], 1e-12)
}

func TestInpaintErrors(t *testing.T) {
	k := NewKriging(DefaultKrigingParams())

	_, _, err := k.Inpaint(models.NewImage(2, 2), models.NewMaskState(3, 2))
	var mismatch *models.GeometryMismatchError
	assert.True(t, errors.As(err, &mismatch))

	none := models.MaskFromInvalid(2, 2, []bool{true, true, true, true})
	_, _, err = k.Inpaint(models.NewImage(2, 2), none)
	assert.Error(t, err)

	_, _, err = k.Inpaint(nil, nil)
	assert.Error(t, err)
}

func TestInpaintProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping larger inpainting run in short mode")
	}
	img := gradientImage(64, 64)
	m := models.NewMaskState(64, 64)
	for r := 0; r < 64; r++ {
		for c := 30; c < 34; c++ {
			m.Valid[r*64+c] = false
		}
	}

	var calls, last int64
	k := NewKriging(DefaultKrigingParams())
	k.SetProgressCallback(func(completed, total int, message string) {
		atomic.AddInt64(&calls, 1)
		if completed == total {
			atomic.StoreInt64(&last, int64(completed))
		}
	})
	_, full, err := k.Inpaint(img, m)
	require.NoError(t, err)
	assert.Equal(t, 64*64, full.Count())
	assert.Greater(t, atomic.LoadInt64(&calls), int64(2))
	assert.Equal(t, int64(64*4), atomic.LoadInt64(&last))
}
