// Package mask composes the per-detector pixel validity map from the
// sensor layout, static defect tables, energy-dependent chip artefacts
// and the beamstop shadow.
package mask

import (
	"fmt"
	"strings"

	"smireduce/internal/models"
	"smireduce/pkg/detector"
)

// EnergyMode selects optional energy-dependent masking
type EnergyMode string

const (
	// EnergyNone applies no energy-dependent masking
	EnergyNone EnergyMode = "none"

	// EnergyTender masks the chip junctions that show up at tender x-ray
	// energies
	EnergyTender EnergyMode = "tender"
)

// ParseEnergyMode converts a user string into an EnergyMode. The empty
// string means EnergyNone.
func ParseEnergyMode(s string) (EnergyMode, error) {
	switch EnergyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", EnergyNone:
		return EnergyNone, nil
	case EnergyTender:
		return EnergyTender, nil
	}
	return "", &models.ConfigurationError{Field: "energy_mode", Value: s, Reason: "unknown energy mode"}
}

// Beamstop is the beamstop position on the detector in pixels. X is the
// column and Y the row. The position (0, 0) means no beamstop shadow.
type Beamstop struct {
	X    int    `yaml:"x"`
	Y    int    `yaml:"y"`
	Kind string `yaml:"kind,omitempty"`
}

// IsSentinel reports whether the position is the (0, 0) "no shadow" value
func (b Beamstop) IsSentinel() bool {
	return b.X == 0 && b.Y == 0
}

func (b Beamstop) String() string {
	if b.Kind == "" {
		return fmt.Sprintf("(%d,%d)", b.X, b.Y)
	}
	return fmt.Sprintf("(%d,%d,%s)", b.X, b.Y, b.Kind)
}

// Builder builds MaskStates. It holds no state, so one value can serve
// any number of goroutines.
type Builder struct{}

// NewBuilder creates a mask builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the validity mask for a detector, beamstop placement and
// energy mode. The steps run in a fixed order:
//
//  1. intrinsic sensor layout (module gaps)
//  2. detector border and chip seams
//  3. static dead and hot pixels
//  4. tender-energy chip junction bands
//  5. beamstop shadow, skipped for the (0, 0) position
//
// The result depends only on the three inputs.
func (b *Builder) Build(p *detector.Profile, bs Beamstop, mode EnergyMode) (*models.MaskState, error) {
	if err := b.validate(p, bs, mode); err != nil {
		return nil, err
	}

	g := b.static(p, mode)
	if !bs.IsSentinel() {
		g.beamstop(p, bs)
	}
	return g.state(), nil
}

// BuildStatic returns the mask without any beamstop shadow
func (b *Builder) BuildStatic(p *detector.Profile, mode EnergyMode) (*models.MaskState, error) {
	if err := b.validate(p, Beamstop{}, mode); err != nil {
		return nil, err
	}
	return b.static(p, mode).state(), nil
}

// ApplyThreshold returns a new mask in which pixels of img whose
// intensity lies below the profile threshold are invalid as well. Profiles
// without a threshold get the mask back unchanged.
func (b *Builder) ApplyThreshold(p *detector.Profile, m *models.MaskState, img *models.Image) (*models.MaskState, error) {
	if img.Rows != m.Rows || img.Cols != m.Cols {
		return nil, &models.GeometryMismatchError{
			Frame:  p.ID,
			Reason: fmt.Sprintf("image is %dx%d, mask is %dx%d", img.Rows, img.Cols, m.Rows, m.Cols),
		}
	}
	if p.Threshold <= 0 {
		return m, nil
	}

	valid := make([]bool, len(m.Valid))
	for i, ok := range m.Valid {
		valid[i] = ok && img.Data[i] >= p.Threshold
	}
	return &models.MaskState{Valid: valid, Rows: m.Rows, Cols: m.Cols}, nil
}

func (b *Builder) validate(p *detector.Profile, bs Beamstop, mode EnergyMode) error {
	if p == nil {
		return &models.ConfigurationError{Field: "detector", Value: nil, Reason: "no detector profile"}
	}
	if mode != EnergyNone && mode != EnergyTender {
		return &models.ConfigurationError{Field: "energy_mode", Value: string(mode), Reason: "unknown energy mode"}
	}
	if !p.HasBeamstopKind(bs.Kind) {
		return &models.ConfigurationError{
			Field:  "beamstop.kind",
			Value:  bs.Kind,
			Reason: fmt.Sprintf("not a beamstop kind of %s", p.ID),
		}
	}
	if !bs.IsSentinel() && (bs.X < 0 || bs.X >= p.Cols || bs.Y < 0 || bs.Y >= p.Rows) {
		return &models.ConfigurationError{
			Field:  "beamstop",
			Value:  bs.String(),
			Reason: fmt.Sprintf("outside %s bounds %dx%d", p.ID, p.Rows, p.Cols),
		}
	}
	return nil
}

func (b *Builder) static(p *detector.Profile, mode EnergyMode) *grid {
	g := newGrid(p.Rows, p.Cols)
	g.sensor(p)
	g.borders(p)
	g.defects(p)
	if mode == EnergyTender && p.Tender != nil {
		g.tender(p.Tender)
	}
	return g
}
