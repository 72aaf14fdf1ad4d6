package detector

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smireduce/internal/models"
)

func TestDefaultProfilesValidate(t *testing.T) {
	for _, p := range DefaultProfiles() {
		assert.NoError(t, p.Validate(), p.ID)
	}
}

func TestLookupByAlias(t *testing.T) {
	r := DefaultRegistry()

	p, err := r.Lookup("pilatus 300KW (vertical)")
	require.NoError(t, err)
	assert.Equal(t, Pilatus300kwVertical, p.ID)

	p, err = r.Lookup(Pilatus1M)
	require.NoError(t, err)
	assert.Equal(t, 1043, p.Rows)
	assert.Equal(t, 981, p.Cols)

	_, err = r.Lookup("Eiger4M")
	var cfgErr *models.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "Eiger4M", cfgErr.Value)
}

func TestIDsSorted(t *testing.T) {
	assert.Equal(t, []string{Pilatus1M, Pilatus300kwVertical, Rayonix}, DefaultRegistry().IDs())
}

func TestBandSeriesPositions(t *testing.T) {
	s := BandSeries{
		Axis: AxisCol, Start: 60, Step: 61, Limit: 600, Lo: -2, Hi: 2,
		Skips: []BandSkip{{After: 480, Before: 530, ResumeAt: 554}},
	}
	// 60, 121, ..., 487 falls in the skip window and resumes at 554
	assert.Equal(t, []int{60, 121, 182, 243, 304, 365, 426, 554}, s.Positions())

	mirrored := BandSeries{Axis: AxisRow, Start: 59, Step: 61, Limit: 200, Mirror: 1475}
	assert.Equal(t, []int{1416, 1355, 1294}, mirrored.Positions())

	assert.Empty(t, BandSeries{Step: 0, Limit: 10}.Positions())
}

func TestValidateRejectsBadProfiles(t *testing.T) {
	p := rayonix()
	p.DeadPixels = []Pixel{{Row: 5000, Col: 1}}
	assert.Error(t, p.Validate())

	p = rayonix()
	p.BorderWidth = 1000
	assert.Error(t, p.Validate())

	p = pilatus1M()
	p.Tender.Series[0].Axis = "diagonal"
	assert.Error(t, p.Validate())

	p = pilatus1M()
	p.ID = ""
	assert.Error(t, p.Validate())
}

func TestLoadRegistryOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "detectors.yaml")

	yamlData := `
detectors:
  - id: TestDet
    aliases: [bench]
    rows: 20
    cols: 30
    pixelSize: [1.0e-4, 1.0e-4]
    borderWidth: 2
    hotPixels:
      - {row: 10, col: 10}
    beamstop:
      halfWidth: 3
      kinds:
        pindiode: {depth: 4, halfWidth: 5}
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0644))

	r, err := LoadRegistry(path)
	require.NoError(t, err)

	p, err := r.Lookup("BENCH")
	require.NoError(t, err)
	assert.Equal(t, 20, p.Rows)
	assert.Equal(t, 2, p.BorderWidth)
	assert.Equal(t, []Pixel{{Row: 10, Col: 10}}, p.HotPixels)
	assert.True(t, p.HasBeamstopKind("pindiode"))
	assert.False(t, p.HasBeamstopKind("wedge"))

	// built-ins are still present
	_, err = r.Lookup(Rayonix)
	assert.NoError(t, err)

	// saving and reloading keeps the overlay
	out := filepath.Join(dir, "saved.yaml")
	require.NoError(t, r.SaveRegistry(out))
	r2, err := LoadRegistry(out)
	require.NoError(t, err)
	p2, err := r2.Lookup("TestDet")
	require.NoError(t, err)
	assert.Equal(t, p.Beamstop, p2.Beamstop)
}

func TestLoadRegistryMissingFile(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Len(t, r.IDs(), 3)
}
