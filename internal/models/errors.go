package models

import "fmt"

// ConfigurationError reports invalid detector, beamstop, energy-mode or
// reduction parameters. The reduction is never attempted.
type ConfigurationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// GeometryMismatchError reports frames that cannot be merged into one
// reduction, e.g. mixed radial units or mismatched array shapes.
type GeometryMismatchError struct {
	Frame  string
	Reason string
}

func (e *GeometryMismatchError) Error() string {
	if e.Frame == "" {
		return "geometry mismatch: " + e.Reason
	}
	return fmt.Sprintf("geometry mismatch in frame %q: %s", e.Frame, e.Reason)
}

// EmptyRangeError reports a user range with no usable span. The offending
// range is echoed back.
type EmptyRangeError struct {
	Axis  string
	Range Range
}

func (e *EmptyRangeError) Error() string {
	return fmt.Sprintf("empty %s range %s", e.Axis, e.Range)
}

func shapeReason(what string, rows, cols, wantRows, wantCols int) string {
	return fmt.Sprintf("%s is %dx%d, geometry is %dx%d", what, rows, cols, wantRows, wantCols)
}
