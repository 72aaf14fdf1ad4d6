package frameio

import (
	"image"
	"image/color"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/tiff"

	"smireduce/internal/models"
)

// ReadTIFF reads an 8 or 16 bit greyscale TIFF frame. Colour images are
// reduced to their 16 bit luminance.
func ReadTIFF(path string) (*models.Image, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open frame")
	}
	defer r.Close()

	src, err := tiff.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode TIFF file %s", path)
	}
	return FromImage(src), nil
}

// FromImage converts a decoded image into detector intensities
func FromImage(src image.Image) *models.Image {
	b := src.Bounds()
	out := models.NewImage(b.Dy(), b.Dx())

	switch im := src.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.Set(y, x, float64(im.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				out.Set(y, x, float64(im.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				g := color.Gray16Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				out.Set(y, x, float64(g.Y))
			}
		}
	}
	return out
}

// WriteTIFF stores an image as a 16 bit greyscale TIFF, clamping values to
// [0, 65535]
func WriteTIFF(path string, img *models.Image) error {
	dst := image.NewGray16(image.Rect(0, 0, img.Cols, img.Rows))
	for r := 0; r < img.Rows; r++ {
		for c := 0; c < img.Cols; c++ {
			v := img.At(r, c)
			switch {
			case !(v > 0):
				v = 0
			case v > 65535:
				v = 65535
			}
			dst.SetGray16(c, r, color.Gray16{Y: uint16(v + 0.5)})
		}
	}

	w, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "could not create frame file")
	}
	defer w.Close()
	if err := tiff.Encode(w, dst, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return errors.Wrap(err, "could not encode TIFF")
	}
	return nil
}
