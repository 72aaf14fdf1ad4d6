// Package config provides configuration loading and management for smireduce.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"smireduce/internal/models"
	"smireduce/pkg/detector"
	"smireduce/pkg/inpaint"
	"smireduce/pkg/integrate"
	"smireduce/pkg/mask"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detector selection
	Detector struct {
		// ID names a registered detector profile or one of its aliases
		ID string `yaml:"id"`

		// RegistryFile optionally points at a YAML file of extra or
		// overriding detector profiles
		RegistryFile string `yaml:"registryFile"`

		// Energy is the energy mode: "none" or "tender"
		Energy string `yaml:"energy"`
	} `yaml:"detector"`

	// Beamstop position in pixels; (0,0) disables the shadow
	Beamstop struct {
		X    int    `yaml:"x"`
		Y    int    `yaml:"y"`
		Kind string `yaml:"kind"`
	} `yaml:"beamstop"`

	// Reduction parameters
	Reduction struct {
		// RadialBins is the number of radial bins
		RadialBins int `yaml:"radialBins"`

		// AzimuthalBins is the number of chi bins of a cake
		AzimuthalBins int `yaml:"azimuthalBins"`

		// RadialRange in the unit of the geometry (q or 2theta)
		RadialRange models.Range `yaml:"radialRange"`

		// AzimuthalRange in degrees; a zero range means the full circle
		AzimuthalRange models.Range `yaml:"azimuthalRange"`

		// RadialChiRange is the chi sector of a radial profile in degrees;
		// a zero range means the full circle
		RadialChiRange models.Range `yaml:"radialChiRange"`

		// ChiDiscontinuity is the upper edge of the chi window in degrees
		ChiDiscontinuity float64 `yaml:"chiDiscontinuity"`

		// CorrectSolidAngle divides intensities by the solid-angle factor
		CorrectSolidAngle bool `yaml:"correctSolidAngle"`

		// ZeroIsMasked treats zero pixels of raw images as masked in line
		// profiles
		ZeroIsMasked bool `yaml:"zeroIsMasked"`

		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"reduction"`

	// Grazing-incidence remeshing extents
	GI struct {
		QPar [2]float64 `yaml:"qPar"`
		QPer [2]float64 `yaml:"qPer"`

		// QParRange and QPerRange window a grazing-incidence radial
		// profile; a zero range spans [0, largest axis value]
		QParRange models.Range `yaml:"qParRange"`
		QPerRange models.Range `yaml:"qPerRange"`
	} `yaml:"gi"`

	// Inpainting parameters
	Inpaint struct {
		// Enabled fills masked pixels before reduction
		Enabled bool `yaml:"enabled"`

		// Model is the variogram model: spherical, exponential or gaussian
		Model string `yaml:"model"`

		// Range of the variogram in pixels
		Range float64 `yaml:"range"`

		Sill   float64 `yaml:"sill"`
		Nugget float64 `yaml:"nugget"`

		// Neighbors is the number of valid pixels used per estimate
		Neighbors int `yaml:"neighbors"`
	} `yaml:"inpaint"`

	// Output parameters
	Output struct {
		// CSVPath is where the reduced profile is written
		CSVPath string `yaml:"csvPath"`

		// PlotPath is where a PNG rendering of the profile is written
		PlotPath string `yaml:"plotPath"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detector.ID = detector.Pilatus1M
	cfg.Detector.Energy = string(mask.EnergyNone)

	cfg.Reduction.RadialBins = 1000
	cfg.Reduction.AzimuthalBins = 360
	cfg.Reduction.RadialRange = models.Range{Min: 0, Max: 0.5}
	cfg.Reduction.RadialChiRange = models.Range{Min: -90, Max: 0}
	cfg.Reduction.ChiDiscontinuity = integrate.DefaultChiDiscontinuity
	cfg.Reduction.CorrectSolidAngle = true
	cfg.Reduction.ZeroIsMasked = true
	cfg.Reduction.NumCores = runtime.NumCPU()

	cfg.GI.QPar = [2]float64{-0.1, 0.1}
	cfg.GI.QPer = [2]float64{0, 0.2}

	cfg.Inpaint.Enabled = false
	cfg.Inpaint.Model = "spherical"
	cfg.Inpaint.Range = 8
	cfg.Inpaint.Sill = 1
	cfg.Inpaint.Nugget = 0
	cfg.Inpaint.Neighbors = 12

	cfg.Output.Verbose = true

	return cfg
}

// Validate checks the values that would otherwise only fail deep inside a
// reduction
func (c *Config) Validate() error {
	if _, err := mask.ParseEnergyMode(c.Detector.Energy); err != nil {
		return err
	}
	if c.Reduction.RadialBins <= 0 {
		return &models.ConfigurationError{Field: "reduction.radialBins", Value: c.Reduction.RadialBins, Reason: "must be positive"}
	}
	if c.Reduction.AzimuthalBins < 0 {
		return &models.ConfigurationError{Field: "reduction.azimuthalBins", Value: c.Reduction.AzimuthalBins, Reason: "must not be negative"}
	}
	if c.Reduction.RadialRange.Empty() {
		return &models.EmptyRangeError{Axis: "radial", Range: c.Reduction.RadialRange}
	}
	for _, w := range []struct {
		axis string
		r    models.Range
	}{
		{"azimuthal", c.Reduction.AzimuthalRange},
		{"radial chi", c.Reduction.RadialChiRange},
		{"q_par", c.GI.QParRange},
		{"q_per", c.GI.QPerRange},
	} {
		if w.r != (models.Range{}) && w.r.Empty() {
			return &models.EmptyRangeError{Axis: w.axis, Range: w.r}
		}
	}
	if c.Inpaint.Enabled && c.Inpaint.Neighbors <= 0 {
		return &models.ConfigurationError{Field: "inpaint.neighbors", Value: c.Inpaint.Neighbors, Reason: "must be positive"}
	}
	return nil
}

// AzimuthalRange returns the configured chi window, or the full circle
// below the discontinuity when none is set
func (c *Config) AzimuthalRange() models.Range {
	if c.Reduction.AzimuthalRange == (models.Range{}) {
		d := c.Reduction.ChiDiscontinuity
		return models.Range{Min: d - 360, Max: d}
	}
	return c.Reduction.AzimuthalRange
}

// RadialChiRange returns the chi sector of radial profiles, or the full
// circle below the discontinuity when none is set
func (c *Config) RadialChiRange() models.Range {
	if c.Reduction.RadialChiRange == (models.Range{}) {
		d := c.Reduction.ChiDiscontinuity
		return models.Range{Min: d - 360, Max: d}
	}
	return c.Reduction.RadialChiRange
}

// BeamstopSpec returns the configured beamstop position
func (c *Config) BeamstopSpec() mask.Beamstop {
	return mask.Beamstop{X: c.Beamstop.X, Y: c.Beamstop.Y, Kind: c.Beamstop.Kind}
}

// KrigingParams converts the inpaint section
func (c *Config) KrigingParams() (inpaint.KrigingParams, error) {
	model, err := inpaint.ParseVariogramModel(c.Inpaint.Model)
	if err != nil {
		return inpaint.KrigingParams{}, err
	}
	return inpaint.KrigingParams{
		Range:     c.Inpaint.Range,
		Sill:      c.Inpaint.Sill,
		Nugget:    c.Inpaint.Nugget,
		Model:     model,
		Neighbors: c.Inpaint.Neighbors,
	}, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
