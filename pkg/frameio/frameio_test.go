package frameio

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smireduce/internal/models"
	"smireduce/pkg/geometry"
)

func rampImage(rows, cols int) *models.Image {
	img := models.NewImage(rows, cols)
	for i := range img.Data {
		img.Data[i] = float64(3 * i)
	}
	return img
}

func TestTIFFFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.tiff")
	img := rampImage(6, 9)
	img.Data[0] = -4   // clamped to zero
	img.Data[1] = 1e6  // clamped to the 16 bit maximum
	img.Data[2] = 12.4 // rounded
	require.NoError(t, WriteTIFF(path, img))

	got, err := ReadFrame(path)
	require.NoError(t, err)
	assert.Equal(t, 6, got.Rows)
	assert.Equal(t, 9, got.Cols)
	assert.Equal(t, 0.0, got.Data[0])
	assert.Equal(t, 65535.0, got.Data[1])
	assert.Equal(t, 12.0, got.Data[2])
	assert.Equal(t, img.Data[9*5+8], got.At(5, 8))
}

func TestFromImageColour(t *testing.T) {
	src := image.NewRGBA(image.Rect(2, 3, 4, 4))
	src.Set(2, 3, color.RGBA{R: 255, G: 255, B: 255, A: 255})
	src.Set(3, 3, color.RGBA{A: 255})

	got := FromImage(src)
	assert.Equal(t, 1, got.Rows)
	assert.Equal(t, 2, got.Cols)
	assert.Equal(t, 65535.0, got.At(0, 0))
	assert.Equal(t, 0.0, got.At(0, 1))
}

func TestFITSFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.fits")
	img := rampImage(4, 7)
	require.NoError(t, WriteFITSImage(path, img))

	got, err := ReadFrame(path)
	require.NoError(t, err)
	assert.Equal(t, img.Rows, got.Rows)
	assert.Equal(t, img.Cols, got.Cols)
	assert.Equal(t, img.Data, got.Data)
}

func TestGeometryMaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geometry.fits")
	rows, cols := 3, 4
	maps := &GeometryMaps{
		Rows:   rows,
		Cols:   cols,
		Unit:   geometry.UnitTwoTheta,
		Radial: make([]float64, rows*cols),
		Chi:    make([]float64, rows*cols),
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			maps.Radial[r*cols+c] = float64(c) + 1
			maps.Chi[r*cols+c] = float64(10 * r)
		}
	}
	maps.SolidAngle = make([]float64, rows*cols)
	for i := range maps.SolidAngle {
		maps.SolidAngle[i] = 0.5
	}
	require.NoError(t, WriteGeometry(path, maps))

	got, err := ReadGeometry(path)
	require.NoError(t, err)
	assert.Equal(t, geometry.UnitTwoTheta, got.Unit)
	assert.Equal(t, rows, got.Rows)
	assert.Equal(t, cols, got.Cols)
	assert.Nil(t, got.DRadial)

	g, err := got.Geometry()
	require.NoError(t, err)
	radial, chi, sa := g.PixelToPhysical(2, 3)
	assert.Equal(t, 4.0, radial)
	assert.Equal(t, 20.0, chi)
	assert.Equal(t, 0.5, sa)
	dr, _ := g.LocalExtent(1, 1)
	assert.InDelta(t, 0.5, dr, 1e-12)
}

func TestGeometryMapsErrors(t *testing.T) {
	dir := t.TempDir()

	// chi is required
	path := filepath.Join(dir, "radial-only.fits")
	require.NoError(t, WriteGeometry(path, &GeometryMaps{Rows: 1, Cols: 2, Unit: geometry.UnitQ, Radial: []float64{1, 2}}))
	_, err := ReadGeometry(path)
	assert.Error(t, err)

	_, err = ReadGeometry(filepath.Join(dir, "absent.fits"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	err = WriteGeometry(filepath.Join(dir, "short.fits"), &GeometryMaps{Rows: 2, Cols: 2, Radial: []float64{1}})
	assert.Error(t, err)
}

func TestReadFrameUnknownFormat(t *testing.T) {
	_, err := ReadFrame("frame.edf")
	assert.Error(t, err)
}
