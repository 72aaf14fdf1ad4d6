package visualization

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smireduce/internal/models"
)

func radialProfile() *models.ReducedProfile {
	return &models.ReducedProfile{
		Coord:     []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		Intensity: []float64{4, 3.5, models.NoData, 2, 1.25},
		Weight:    []float64{2, 2, 0, 1, 4},
		Unit:      "q_A^-1",
	}
}

func cakeProfile() *models.ReducedProfile {
	p := &models.ReducedProfile{
		Coord:     []float64{0.1, 0.2, 0.3},
		Azimuthal: []float64{45, 0, -45},
		Unit:      "q_A^-1",
	}
	for a := range p.Azimuthal {
		for r := range p.Coord {
			p.Intensity = append(p.Intensity, float64(10*a+r))
			p.Weight = append(p.Weight, 1)
		}
	}
	p.Intensity[4] = models.NoData
	p.Weight[4] = 0
	return p
}

func TestWriteCSVRadial(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, radialProfile()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)
	assert.Equal(t, []string{"q_A^-1", "intensity", "weight"}, records[0])
	assert.Equal(t, []string{"0.1", "4", "2"}, records[1])
	assert.Equal(t, []string{"0.3", "NaN", "0"}, records[3])
}

func TestWriteCSVCake(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, cakeProfile()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10)
	assert.Equal(t, []string{"chi_deg", "q_A^-1", "intensity", "weight"}, records[0])
	assert.Equal(t, []string{"45", "0.1", "0", "1"}, records[1])
	assert.Equal(t, []string{"0", "0.2", "NaN", "0"}, records[5])
	assert.Equal(t, []string{"-45", "0.3", "22", "1"}, records[9])
}

func TestWriteCSVRejectsInconsistentProfile(t *testing.T) {
	p := radialProfile()
	p.Weight = p.Weight[:3]
	assert.Error(t, WriteCSV(&bytes.Buffer{}, p))
	assert.Error(t, WriteCSV(&bytes.Buffer{}, nil))
}

func TestSaveCSVCreatesDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "profile.csv")
	require.NoError(t, SaveCSV(path, radialProfile()))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestDataRunsSplitAtEmptyBins(t *testing.T) {
	runs := dataRuns(radialProfile())
	require.Len(t, runs, 2)
	assert.Len(t, runs[0], 2)
	assert.Len(t, runs[1], 2)
	assert.Equal(t, 0.4, runs[1][0].X)
}

func TestCakeGridFlipsRows(t *testing.T) {
	g, err := newCakeGrid(cakeProfile())
	require.NoError(t, err)
	c, r := g.Dims()
	assert.Equal(t, 3, c)
	assert.Equal(t, 3, r)
	assert.Equal(t, -45.0, g.Y(0))
	assert.Equal(t, 45.0, g.Y(2))
	assert.Equal(t, 20.0, g.Z(0, 0))
	assert.True(t, math.IsNaN(g.Z(1, 1)))
	assert.Equal(t, 0.0, g.Min())
	assert.Equal(t, 22.0, g.Max())
}

func TestSavePlot(t *testing.T) {
	dir := t.TempDir()
	for name, p := range map[string]*models.ReducedProfile{
		"radial.png": radialProfile(),
		"cake.png":   cakeProfile(),
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, SavePlot(path, p, name))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0), name)
	}
}

func TestPlotErrors(t *testing.T) {
	empty := &models.ReducedProfile{
		Coord:     []float64{1, 2},
		Intensity: []float64{models.NoData, models.NoData},
		Weight:    []float64{0, 0},
	}
	_, err := LinePlot(empty, "empty")
	assert.Error(t, err)

	_, err = LinePlot(cakeProfile(), "cake")
	assert.Error(t, err)

	_, err = CakePlot(radialProfile(), "radial")
	assert.Error(t, err)
}
