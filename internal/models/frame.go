package models

// Unit names the radial coordinate of a geometry
type Unit string

const (
	// UnitQ is momentum transfer in inverse Angstrom
	UnitQ Unit = "q_A^-1"

	// UnitTwoTheta is the scattering angle in degrees
	UnitTwoTheta Unit = "2th_deg"
)

// Geometry maps pixel coordinates to physical scattering coordinates.
// Implementations must be pure for a fixed calibration so that one
// instance can be shared by concurrent reductions.
type Geometry interface {
	// Shape returns the detector dimensions the geometry was calibrated for
	Shape() (rows, cols int)

	// Unit returns the unit of the radial coordinate
	Unit() Unit

	// PixelToPhysical returns the radial coordinate, the azimuthal angle
	// chi in degrees and the solid-angle correction factor of a pixel
	PixelToPhysical(row, col int) (radial, azimuthal, solidAngle float64)

	// LocalExtent returns the half widths of the pixel footprint along the
	// radial and azimuthal axes
	LocalExtent(row, col int) (dRadial, dAzimuthal float64)
}

// Frame is one detector exposure ready for reduction: intensities, the
// validity state they must be read through, and the calibrated geometry
// that maps each pixel into scattering space.
type Frame struct {
	// Image holds the raw (or inpainted) intensities
	Image *Image

	// Mask selects the pixels allowed to contribute
	Mask *MaskState

	// Geometry maps pixels to physical coordinates
	Geometry Geometry

	// Label identifies the frame in logs, e.g. the detector ID or file name
	Label string
}

// CheckShape verifies that image, mask and geometry agree on the
// detector dimensions.
func (f Frame) CheckShape() error {
	if f.Image == nil || f.Mask == nil || f.Geometry == nil {
		return &GeometryMismatchError{Frame: f.Label, Reason: "frame is missing image, mask or geometry"}
	}
	rows, cols := f.Geometry.Shape()
	if f.Image.Rows != rows || f.Image.Cols != cols {
		return &GeometryMismatchError{
			Frame:  f.Label,
			Reason: shapeReason("image", f.Image.Rows, f.Image.Cols, rows, cols),
		}
	}
	if f.Mask.Rows != rows || f.Mask.Cols != cols {
		return &GeometryMismatchError{
			Frame:  f.Label,
			Reason: shapeReason("mask", f.Mask.Rows, f.Mask.Cols, rows, cols),
		}
	}
	return nil
}
