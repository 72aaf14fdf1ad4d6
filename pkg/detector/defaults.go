package detector

// Built-in profiles for the detectors of the SMI beamline.

const (
	Pilatus1M            = "Pilatus1M_SMI"
	Pilatus300kwVertical = "Pilatus300kw_vertical"
	Rayonix              = "Rayonix"
)

func pilatus1M() *Profile {
	return &Profile{
		ID:          Pilatus1M,
		Aliases:     []string{"Pilatus 1M", "SAXS"},
		Rows:        1043,
		Cols:        981,
		PixelSize:   [2]float64{172e-6, 172e-6},
		ModuleSize:  [2]int{195, 487},
		ModuleGap:   [2]int{17, 7},
		BorderWidth: 5,
		HotPixels: []Pixel{
			{20, 884}, {56, 754}, {111, 620}, {145, 733}, {178, 528}, {189, 571},
			{372, 462}, {454, 739}, {657, 947}, {869, 544}, {870, 546}, {870, 547},
			{870, 544}, {871, 545}, {871, 546}, {871, 547},
		},
		Tender: &TenderPattern{
			Revision: "smi-2019",
			Series: []BandSeries{
				{
					Axis: AxisCol, Start: 60, Step: 61, Limit: 1043, Lo: -2, Hi: 2,
					Skips: []BandSkip{{After: 480, Before: 530, ResumeAt: 554}},
				},
				{
					Axis: AxisRow, Start: 97, Step: 100, Limit: 1043, Lo: -2, Hi: 2,
					Skips: []BandSkip{
						{After: 150, Before: 250, ResumeAt: 310},
						{After: 380, Before: 420, ResumeAt: 520},
						{After: 600, Before: 700, ResumeAt: 734},
						{After: 790, Before: 890, ResumeAt: 945},
					},
				},
			},
		},
		Beamstop: BeamstopShadow{
			HalfWidth: 11,
			Kinds: map[string]BeamstopKind{
				"pindiode": {Depth: 40, HalfWidth: 22},
			},
		},
	}
}

// pilatus300kwVertical is the WAXS Pilatus 300KW mounted rotated by 90
// degrees, so its three modules are stacked along the rows.
func pilatus300kwVertical() *Profile {
	dead := []Pixel{
		{1386, 96}, {1387, 96}, {1386, 97}, {1387, 97}, {228, 21}, {307, 67},
		{733, 170}, {733, 171}, {792, 37}, {1211, 109}, {1211, 110}, {1231, 74},
		{1232, 74}, {1276, 57}, {1321, 81}, {1366, 181}, {1405, 46}, {1467, 188},
		{1355, 84}, {1371, 88}, {1356, 105},
	}
	return &Profile{
		ID:          Pilatus300kwVertical,
		Aliases:     []string{"Pilatus 300kw (Vertical)", "WAXS"},
		Rows:        1475,
		Cols:        195,
		PixelSize:   [2]float64{172e-6, 172e-6},
		ModuleSize:  [2]int{487, 195},
		ModuleGap:   [2]int{7, 17},
		BorderWidth: 5,
		SeamRows:    []int{486, 494, 980, 988},
		DeadPixels:  dead,
		HotPixels: []Pixel{
			{1314, 81},
			{732, 7}, {732, 8}, {733, 8}, {733, 7}, {733, 9},
			{1314, 82}, {1315, 81},
			{674, 133}, {674, 134}, {1130, 20}, {1239, 50},
		},
		Tender: &TenderPattern{
			Revision: "smi-2019",
			Fixed:    []Band{{Axis: AxisCol, From: 92, To: 102}},
			Series: []BandSeries{
				{
					Axis: AxisRow, Start: 59, Step: 61, Limit: 1475, Lo: -6, Hi: 0, Mirror: 1475,
					Skips: []BandSkip{
						{After: 450, Before: 550, ResumeAt: 553},
						{After: 970, Before: 1000, ResumeAt: 1047},
					},
				},
			},
		},
		Beamstop: BeamstopShadow{HalfWidth: 8},
	}
}

// rayonix has no static defect map; pixels are rejected by intensity.
func rayonix() *Profile {
	return &Profile{
		ID:          Rayonix,
		Aliases:     []string{"rayonix"},
		Rows:        1920,
		Cols:        1920,
		PixelSize:   [2]float64{109e-6, 109e-6},
		BorderWidth: 5,
		Threshold:   15,
	}
}

// DefaultProfiles returns fresh copies of the built-in profiles
func DefaultProfiles() []*Profile {
	return []*Profile{pilatus1M(), pilatus300kwVertical(), rayonix()}
}
