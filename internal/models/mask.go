package models

import "fmt"

// MaskState is a per-pixel validity map with the shape of a detector.
// Valid[i] == true means the pixel may contribute to a reduction.
//
// A MaskState is never modified after it has been handed out; every
// transformation returns a new state derived from the receiver.
type MaskState struct {
	Valid []bool
	Rows  int
	Cols  int
}

// NewMaskState returns a state in which every pixel is valid
func NewMaskState(rows, cols int) *MaskState {
	valid := make([]bool, rows*cols)
	for i := range valid {
		valid[i] = true
	}
	return &MaskState{Valid: valid, Rows: rows, Cols: cols}
}

// MaskFromInvalid builds a validity state from an "invalid" grid by
// inverting it once.
func MaskFromInvalid(rows, cols int, invalid []bool) *MaskState {
	valid := make([]bool, len(invalid))
	for i, bad := range invalid {
		valid[i] = !bad
	}
	return &MaskState{Valid: valid, Rows: rows, Cols: cols}
}

// IsValid reports whether the pixel at (row, col) is usable
func (m *MaskState) IsValid(row, col int) bool {
	return m.Valid[row*m.Cols+col]
}

// Count returns the number of valid pixels
func (m *MaskState) Count() int {
	n := 0
	for _, v := range m.Valid {
		if v {
			n++
		}
	}
	return n
}

// And returns the conjunction of two masks of equal shape.
func (m *MaskState) And(other *MaskState) (*MaskState, error) {
	if m.Rows != other.Rows || m.Cols != other.Cols {
		return nil, fmt.Errorf("mask shapes differ: %dx%d vs %dx%d", m.Rows, m.Cols, other.Rows, other.Cols)
	}
	valid := make([]bool, len(m.Valid))
	for i := range valid {
		valid[i] = m.Valid[i] && other.Valid[i]
	}
	return &MaskState{Valid: valid, Rows: m.Rows, Cols: m.Cols}, nil
}

// Equal reports whether two masks have identical shape and contents
func (m *MaskState) Equal(other *MaskState) bool {
	if other == nil || m.Rows != other.Rows || m.Cols != other.Cols {
		return false
	}
	for i := range m.Valid {
		if m.Valid[i] != other.Valid[i] {
			return false
		}
	}
	return true
}
