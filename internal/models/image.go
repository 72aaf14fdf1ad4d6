package models

import (
	"fmt"
	"math"
)

// Image is a dense 2D intensity array stored in row-major order.
// Row 0 is the first detector row as read from the frame file.
type Image struct {
	// Data holds Rows*Cols intensities
	Data []float64

	// Rows is the number of detector rows (slow axis)
	Rows int

	// Cols is the number of detector columns (fast axis)
	Cols int
}

// NewImage allocates a zero-filled image of the given size
func NewImage(rows, cols int) *Image {
	return &Image{
		Data: make([]float64, rows*cols),
		Rows: rows,
		Cols: cols,
	}
}

// NewImageFromData wraps data as a rows x cols image.
func NewImageFromData(rows, cols int, data []float64) (*Image, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", rows, cols)
	}
	if len(data) != rows*cols {
		return nil, fmt.Errorf("image data has %d values, expected %d", len(data), rows*cols)
	}
	return &Image{Data: data, Rows: rows, Cols: cols}, nil
}

// At returns the intensity at (row, col)
func (im *Image) At(row, col int) float64 {
	return im.Data[row*im.Cols+col]
}

// Set stores v at (row, col)
func (im *Image) Set(row, col int, v float64) {
	im.Data[row*im.Cols+col] = v
}

// Clone returns a deep copy of the image
func (im *Image) Clone() *Image {
	data := make([]float64, len(im.Data))
	copy(data, im.Data)
	return &Image{Data: data, Rows: im.Rows, Cols: im.Cols}
}

// Range is an interval [Min, Max] on a physical axis.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Width returns Max - Min
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// Empty reports whether the range has no usable span.
func (r Range) Empty() bool {
	return !(r.Max > r.Min) || math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Width(), 0)
}

// Contains reports whether v lies inside the closed interval.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}
