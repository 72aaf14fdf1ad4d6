// Package detector holds the static description of every supported
// detector model. Profiles are plain data: a new detector variant is
// added by registering a new Profile, never by writing new mask logic.
package detector

import (
	"fmt"
)

// Axis selects the detector axis a band runs across.
type Axis string

const (
	// AxisRow bands invalidate whole rows
	AxisRow Axis = "row"

	// AxisCol bands invalidate whole columns
	AxisCol Axis = "col"
)

// Pixel addresses a single detector pixel
type Pixel struct {
	Row int `yaml:"row"`
	Col int `yaml:"col"`
}

// Band invalidates the half-open index range [From, To) along Axis.
type Band struct {
	Axis Axis `yaml:"axis"`
	From int  `yaml:"from"`
	To   int  `yaml:"to"`
}

// BandSkip moves a band series past a structural gap: when the running
// position p satisfies After < p < Before it jumps to ResumeAt.
type BandSkip struct {
	After    int `yaml:"after"`
	Before   int `yaml:"before"`
	ResumeAt int `yaml:"resumeAt"`
}

// BandSeries is a periodic run of bands at chip junctions.
//
// Positions start at Start and advance by Step while below Limit. At
// every position the first matching skip is applied, then the band
// [c+Lo, c+Hi) is invalidated, where c is the position itself or, when
// Mirror is non-zero, Mirror minus the position.
type BandSeries struct {
	Axis   Axis       `yaml:"axis"`
	Start  int        `yaml:"start"`
	Step   int        `yaml:"step"`
	Limit  int        `yaml:"limit"`
	Lo     int        `yaml:"lo"`
	Hi     int        `yaml:"hi"`
	Mirror int        `yaml:"mirror,omitempty"`
	Skips  []BandSkip `yaml:"skips,omitempty"`
}

// Positions returns the band centres visited by the series, skips applied
func (s BandSeries) Positions() []int {
	var out []int
	if s.Step <= 0 {
		return out
	}
	for p := s.Start; p < s.Limit; p += s.Step {
		for _, skip := range s.Skips {
			if skip.After < p && p < skip.Before {
				p = skip.ResumeAt
				break
			}
		}
		c := p
		if s.Mirror != 0 {
			c = s.Mirror - p
		}
		out = append(out, c)
	}
	return out
}

// TenderPattern is the extra masking needed at tender x-ray energies,
// where chip junctions show up as artefacts. The tables are tuned per
// hardware revision, so they carry the revision they were measured on.
type TenderPattern struct {
	Revision string       `yaml:"revision"`
	Fixed    []Band       `yaml:"fixed,omitempty"`
	Series   []BandSeries `yaml:"series,omitempty"`
}

// BeamstopKind enlarges the shadow for a specific beamstop, e.g. a pin
// diode. Depth rows below the beamstop row are covered with HalfWidth
// columns on each side.
type BeamstopKind struct {
	Depth     int `yaml:"depth"`
	HalfWidth int `yaml:"halfWidth"`
}

// BeamstopShadow holds the per-model shadow constants
type BeamstopShadow struct {
	HalfWidth int                     `yaml:"halfWidth"`
	Kinds     map[string]BeamstopKind `yaml:"kinds,omitempty"`
}

// Profile describes one detector model.
type Profile struct {
	ID      string   `yaml:"id"`
	Aliases []string `yaml:"aliases,omitempty"`

	// Rows and Cols are the pixel dimensions as the frames are stored
	Rows int `yaml:"rows"`
	Cols int `yaml:"cols"`

	// PixelSize is the pitch in metres along rows and columns
	PixelSize [2]float64 `yaml:"pixelSize"`

	// ModuleSize and ModuleGap describe the module tiling (rows, cols).
	// Pixels inside inter-module gaps do not exist on the sensor.
	ModuleSize [2]int `yaml:"moduleSize,omitempty"`
	ModuleGap  [2]int `yaml:"moduleGap,omitempty"`

	// BorderWidth pixels are dropped on every edge
	BorderWidth int `yaml:"borderWidth"`

	// SeamRows and SeamCols are chip seams masked on top of the module gaps
	SeamRows []int `yaml:"seamRows,omitempty"`
	SeamCols []int `yaml:"seamCols,omitempty"`

	DeadPixels []Pixel `yaml:"deadPixels,omitempty"`
	HotPixels  []Pixel `yaml:"hotPixels,omitempty"`

	Tender   *TenderPattern `yaml:"tender,omitempty"`
	Beamstop BeamstopShadow `yaml:"beamstop"`

	// Threshold, when positive, invalidates pixels whose intensity falls
	// below it (detectors without a static defect map)
	Threshold float64 `yaml:"threshold,omitempty"`
}

// Defects returns the dead and hot pixel tables in order
func (p *Profile) Defects() []Pixel {
	out := make([]Pixel, 0, len(p.DeadPixels)+len(p.HotPixels))
	out = append(out, p.DeadPixels...)
	return append(out, p.HotPixels...)
}

// HasBeamstopKind reports whether kind is registered for this detector.
// The empty kind always is.
func (p *Profile) HasBeamstopKind(kind string) bool {
	if kind == "" {
		return true
	}
	_, ok := p.Beamstop.Kinds[kind]
	return ok
}

// Validate checks the profile for internal consistency.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("detector profile has no id")
	}
	if p.Rows <= 0 || p.Cols <= 0 {
		return fmt.Errorf("detector %s: invalid size %dx%d", p.ID, p.Rows, p.Cols)
	}
	if p.BorderWidth < 0 || 2*p.BorderWidth > p.Rows || 2*p.BorderWidth > p.Cols {
		return fmt.Errorf("detector %s: border width %d does not fit %dx%d", p.ID, p.BorderWidth, p.Rows, p.Cols)
	}
	for _, px := range p.Defects() {
		if px.Row < 0 || px.Row >= p.Rows || px.Col < 0 || px.Col >= p.Cols {
			return fmt.Errorf("detector %s: defect (%d, %d) outside detector", p.ID, px.Row, px.Col)
		}
	}
	for i := 0; i < 2; i++ {
		if p.ModuleSize[i] < 0 || p.ModuleGap[i] < 0 {
			return fmt.Errorf("detector %s: negative module tiling", p.ID)
		}
	}
	if p.Beamstop.HalfWidth < 0 {
		return fmt.Errorf("detector %s: negative beamstop half width", p.ID)
	}
	if p.Tender != nil {
		for _, b := range p.Tender.Fixed {
			if b.Axis != AxisRow && b.Axis != AxisCol {
				return fmt.Errorf("detector %s: unknown band axis %q", p.ID, b.Axis)
			}
		}
		for _, s := range p.Tender.Series {
			if s.Axis != AxisRow && s.Axis != AxisCol {
				return fmt.Errorf("detector %s: unknown band axis %q", p.ID, s.Axis)
			}
			if s.Step <= 0 {
				return fmt.Errorf("detector %s: band series step must be positive", p.ID)
			}
		}
	}
	return nil
}
