// Package frameio reads detector frames and calibrated geometry maps from
// disk. Frames come as FITS or TIFF files; geometry maps as multi-extension
// FITS files written by the calibration step.
package frameio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/pkg/errors"

	"smireduce/internal/models"
	"smireduce/pkg/geometry"
)

// Extension names of a geometry map file
const (
	ExtRadial     = "RADIAL"
	ExtChi        = "CHI"
	ExtSolidAngle = "SOLIDANGLE"
	ExtDRadial    = "DRADIAL"
	ExtDChi       = "DCHI"

	// unitKey carries the radial unit in the RADIAL extension header
	unitKey = "RUNIT"
)

// ReadFrame reads a detector image, choosing the decoder from the file
// extension
func ReadFrame(path string) (*models.Image, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return ReadFITSImage(path)
	case ".tif", ".tiff":
		return ReadTIFF(path)
	}
	return nil, fmt.Errorf("unsupported frame format %q", filepath.Ext(path))
}

// ReadFITSImage reads the first image HDU holding data. BSCALE and BZERO
// are applied.
func ReadFITSImage(path string) (*models.Image, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open frame")
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode FITS file %s", path)
	}
	defer f.Close()

	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok || len(img.Header().Axes()) < 2 {
			continue
		}
		out, err := readImage(img)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: HDU %s", path, hdu.Name())
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: no 2D image HDU", path)
}

func readImage(img fitsio.Image) (*models.Image, error) {
	axes := img.Header().Axes()
	cols, rows := axes[0], axes[1]

	var raw []float64
	if err := img.Read(&raw); err != nil {
		return nil, err
	}
	if len(raw) < rows*cols {
		return nil, fmt.Errorf("expected %d pixels, got %d", rows*cols, len(raw))
	}
	raw = raw[:rows*cols]

	scale, zero := cardFloat(img.Header(), "BSCALE", 1), cardFloat(img.Header(), "BZERO", 0)
	if scale != 1 || zero != 0 {
		for i, v := range raw {
			raw[i] = v*scale + zero
		}
	}
	return models.NewImageFromData(rows, cols, raw)
}

func cardFloat(hdr *fitsio.Header, key string, def float64) float64 {
	card := hdr.Get(key)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// GeometryMaps holds the per-pixel calibration arrays of one detector
type GeometryMaps struct {
	Rows, Cols int
	Unit       geometry.Unit

	Radial     []float64
	Chi        []float64
	SolidAngle []float64 // optional
	DRadial    []float64 // optional footprint half widths
	DChi       []float64 // optional footprint half widths
}

// Geometry builds the provider described by the maps
func (m *GeometryMaps) Geometry() (*geometry.ArrayGeometry, error) {
	g, err := geometry.NewArrayGeometry(m.Rows, m.Cols, m.Unit, m.Radial, m.Chi, m.SolidAngle)
	if err != nil {
		return nil, err
	}
	if m.DRadial == nil && m.DChi == nil {
		return g, nil
	}
	return g.WithExtents(m.DRadial, m.DChi)
}

// ReadGeometry reads a geometry map file. RADIAL and CHI are required;
// SOLIDANGLE, DRADIAL and DCHI are used when present.
func ReadGeometry(path string) (*GeometryMaps, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open geometry")
	}
	defer r.Close()

	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode FITS file %s", path)
	}
	defer f.Close()

	maps := &GeometryMaps{Unit: geometry.UnitQ}
	read := func(name string, required bool) ([]float64, error) {
		if !f.Has(name) {
			if required {
				return nil, fmt.Errorf("%s: missing %s extension", path, name)
			}
			return nil, nil
		}
		img, ok := f.Get(name).(fitsio.Image)
		if !ok {
			return nil, fmt.Errorf("%s: %s is not an image", path, name)
		}
		im, err := readImage(img)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: %s", path, name)
		}
		if maps.Rows == 0 {
			maps.Rows, maps.Cols = im.Rows, im.Cols
		} else if im.Rows != maps.Rows || im.Cols != maps.Cols {
			return nil, &models.GeometryMismatchError{
				Frame:  path,
				Reason: fmt.Sprintf("%s is %dx%d, expected %dx%d", name, im.Rows, im.Cols, maps.Rows, maps.Cols),
			}
		}
		if name == ExtRadial {
			if card := img.Header().Get(unitKey); card != nil {
				if s, ok := card.Value.(string); ok && s != "" {
					maps.Unit = geometry.Unit(strings.TrimSpace(s))
				}
			}
		}
		return im.Data, nil
	}

	if maps.Radial, err = read(ExtRadial, true); err != nil {
		return nil, err
	}
	if maps.Chi, err = read(ExtChi, true); err != nil {
		return nil, err
	}
	if maps.SolidAngle, err = read(ExtSolidAngle, false); err != nil {
		return nil, err
	}
	if maps.DRadial, err = read(ExtDRadial, false); err != nil {
		return nil, err
	}
	if maps.DChi, err = read(ExtDChi, false); err != nil {
		return nil, err
	}
	return maps, nil
}

// WriteGeometry stores geometry maps in the layout ReadGeometry expects
func WriteGeometry(path string, m *GeometryMaps) error {
	w, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create geometry file")
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrap(err, "could not start FITS file")
	}
	defer f.Close()

	// an empty primary HDU keeps every map in a named extension
	primary := fitsio.NewImage(8, nil)
	defer primary.Close()
	if err := f.Write(primary); err != nil {
		return errors.Wrap(err, "could not write primary HDU")
	}

	for _, ext := range []struct {
		name string
		data []float64
	}{
		{ExtRadial, m.Radial},
		{ExtChi, m.Chi},
		{ExtSolidAngle, m.SolidAngle},
		{ExtDRadial, m.DRadial},
		{ExtDChi, m.DChi},
	} {
		if ext.data == nil {
			continue
		}
		cards := []fitsio.Card{{Name: "EXTNAME", Value: ext.name}}
		if ext.name == ExtRadial {
			cards = append(cards, fitsio.Card{Name: unitKey, Value: string(m.Unit), Comment: "radial unit"})
		}
		if err := writeImage(f, m.Rows, m.Cols, ext.data, cards...); err != nil {
			return errors.Wrapf(err, "could not write %s", ext.name)
		}
	}
	return nil
}

// WriteFITSImage stores an image as a float64 primary HDU
func WriteFITSImage(path string, img *models.Image) error {
	w, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create frame file")
	}
	defer w.Close()

	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrap(err, "could not start FITS file")
	}
	defer f.Close()

	return writeImage(f, img.Rows, img.Cols, img.Data)
}

func writeImage(f *fitsio.File, rows, cols int, data []float64, cards ...fitsio.Card) error {
	if len(data) != rows*cols {
		return fmt.Errorf("expected %d values, got %d", rows*cols, len(data))
	}
	img := fitsio.NewImage(-64, []int{cols, rows})
	defer img.Close()
	if len(cards) > 0 {
		if err := img.Header().Append(cards...); err != nil {
			return err
		}
	}
	if err := img.Write(data); err != nil {
		return err
	}
	return f.Write(img)
}
