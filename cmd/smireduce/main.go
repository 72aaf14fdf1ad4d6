package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"smireduce/internal/models"
	"smireduce/pkg/config"
	"smireduce/pkg/detector"
	"smireduce/pkg/frameio"
	"smireduce/pkg/inpaint"
	"smireduce/pkg/mask"
	"smireduce/pkg/pipeline"
	"smireduce/pkg/visualization"
)

// Reduction modes
const (
	modeRadial    = "radial"
	modeCake      = "cake"
	modeAzimuthal = "azimuthal"
	modeGIRadial  = "gi-radial"
	modeGICake    = "gi-cake"
	modeQPar      = "qpar"
	modeQPer      = "qper"
)

var modes = []string{modeRadial, modeCake, modeAzimuthal, modeGIRadial, modeGICake, modeQPar, modeQPer}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "smireduce: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	initConfig string
	frames     []string
	geometry   string
	detector   string
	bsX, bsY   int
	bsKind     string
	energy     string
	mode       string
	out        string
	plot       string
	chiRange   rangeFlag
	qParRange  rangeFlag
	qPerRange  rangeFlag
}

// rangeFlag parses "min,max"
type rangeFlag struct {
	models.Range
}

func (f *rangeFlag) String() string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g", f.Min, f.Max)
}

func (f *rangeFlag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return fmt.Errorf("range %q is not min,max", s)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return err
	}
	hi, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return err
	}
	f.Range = models.Range{Min: lo, Max: hi}
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*options, map[string]bool, error) {
	fs := flag.NewFlagSet("smireduce", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	var frames string
	fs.StringVar(&o.configPath, "config", "", "YAML configuration file")
	fs.StringVar(&o.initConfig, "init-config", "", "Write a default configuration file to this path and exit")
	fs.StringVar(&frames, "frame", "", "Detector frame(s), comma separated (FITS or TIFF)")
	fs.StringVar(&o.geometry, "geometry", "", "FITS geometry maps of the detector")
	fs.StringVar(&o.detector, "detector", "", "Detector profile ID or alias")
	fs.IntVar(&o.bsX, "bs-x", 0, "Beamstop column; 0 with -bs-y 0 disables the shadow")
	fs.IntVar(&o.bsY, "bs-y", 0, "Beamstop row")
	fs.StringVar(&o.bsKind, "bs-kind", "", "Beamstop kind, e.g. pindiode")
	fs.StringVar(&o.energy, "energy", "", "Energy mode: none or tender")
	fs.StringVar(&o.mode, "mode", modeRadial, "Reduction: "+strings.Join(modes, ", "))
	fs.StringVar(&o.out, "out", "", "CSV output path")
	fs.StringVar(&o.plot, "plot", "", "PNG output path")
	fs.Var(&o.chiRange, "chi-range", "Chi sector of a radial profile as min,max in degrees; 0,0 is the full circle")
	fs.Var(&o.qParRange, "qpar-range", "q_par window of a gi-radial profile as min,max")
	fs.Var(&o.qPerRange, "qper-range", "q_per window of a gi-radial profile as min,max")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	for _, f := range strings.Split(frames, ",") {
		if f = strings.TrimSpace(f); f != "" {
			o.frames = append(o.frames, f)
		}
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return o, set, nil
}

// applyFlags overrides configuration values with the flags given on the
// command line
func applyFlags(cfg *config.Config, o *options, set map[string]bool) {
	if set["detector"] {
		cfg.Detector.ID = o.detector
	}
	if set["energy"] {
		cfg.Detector.Energy = o.energy
	}
	if set["bs-x"] {
		cfg.Beamstop.X = o.bsX
	}
	if set["bs-y"] {
		cfg.Beamstop.Y = o.bsY
	}
	if set["bs-kind"] {
		cfg.Beamstop.Kind = o.bsKind
	}
	if set["out"] {
		cfg.Output.CSVPath = o.out
	}
	if set["plot"] {
		cfg.Output.PlotPath = o.plot
	}
	if set["chi-range"] {
		cfg.Reduction.RadialChiRange = o.chiRange.Range
	}
	if set["qpar-range"] {
		cfg.GI.QParRange = o.qParRange.Range
	}
	if set["qper-range"] {
		cfg.GI.QPerRange = o.qPerRange.Range
	}
}

func run(args []string, stderr io.Writer) error {
	o, set, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if o.initConfig != "" {
		if err := config.CreateDefaultConfigFile(o.initConfig); err != nil {
			return err
		}
		fmt.Fprintf(stderr, "default configuration written to %s\n", o.initConfig)
		return nil
	}

	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, o, set)
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if len(o.frames) == 0 {
		return fmt.Errorf("no frame given, use -frame")
	}

	level := slog.LevelWarn
	if cfg.Output.Verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	p, err := newPipeline(cfg, logger)
	if err != nil {
		return err
	}

	start := time.Now()
	prof, err := reduceMode(p, cfg, o)
	if err != nil {
		return err
	}
	logger.Info("reduction finished",
		"mode", o.mode,
		"frames", len(o.frames),
		"bins", len(prof.Intensity),
		"empty", prof.EmptyBins(),
		"elapsed", time.Since(start))

	if cfg.Output.CSVPath != "" {
		if err := visualization.SaveCSV(cfg.Output.CSVPath, prof); err != nil {
			return err
		}
		logger.Info("wrote profile", "path", cfg.Output.CSVPath)
	} else if err := visualization.WriteCSV(os.Stdout, prof); err != nil {
		return err
	}

	if cfg.Output.PlotPath != "" {
		title := fmt.Sprintf("%s %s", o.mode, filepath.Base(o.frames[0]))
		if err := visualization.SavePlot(cfg.Output.PlotPath, prof, title); err != nil {
			return err
		}
		logger.Info("wrote plot", "path", cfg.Output.PlotPath)
	}
	return nil
}

func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, error) {
	registry, err := detector.LoadRegistry(cfg.Detector.RegistryFile)
	if err != nil {
		return nil, err
	}
	energy, err := mask.ParseEnergyMode(cfg.Detector.Energy)
	if err != nil {
		return nil, err
	}
	kp, err := cfg.KrigingParams()
	if err != nil {
		return nil, err
	}

	params := pipeline.DefaultParams()
	params.DetectorID = cfg.Detector.ID
	params.Energy = energy
	params.Beamstop = cfg.BeamstopSpec()
	params.ChiDiscontinuity = cfg.Reduction.ChiDiscontinuity
	params.CorrectSolidAngle = cfg.Reduction.CorrectSolidAngle
	params.ZeroIsMasked = cfg.Reduction.ZeroIsMasked
	params.NumCores = cfg.Reduction.NumCores
	params.Inpaint = cfg.Inpaint.Enabled

	kriging := inpaint.NewKriging(kp)
	kriging.SetWorkers(params.NumCores)
	kriging.SetProgressCallback(func(completed, total int, message string) {
		logger.Debug(message, "completed", completed, "total", total)
	})

	return pipeline.NewPipeline(params,
		pipeline.WithLogger(logger),
		pipeline.WithRegistry(registry),
		pipeline.WithInpainter(kriging),
	), nil
}

func reduceMode(p *pipeline.Pipeline, cfg *config.Config, o *options) (*models.ReducedProfile, error) {
	r := cfg.Reduction
	switch o.mode {
	case modeRadial, modeCake, modeAzimuthal:
		exposures, err := loadExposures(o)
		if err != nil {
			return nil, err
		}
		if o.mode == modeRadial {
			return p.ReduceRadial(exposures, r.RadialRange, cfg.RadialChiRange(), r.RadialBins)
		}
		cake, err := p.ReduceCake(exposures, r.RadialRange, cfg.AzimuthalRange(), r.RadialBins, r.AzimuthalBins)
		if err != nil || o.mode == modeCake {
			return cake, err
		}
		return p.AzimuthalProfile(cake, r.RadialRange, models.Range{})

	case modeGIRadial, modeGICake, modeQPar, modeQPer:
		if len(o.frames) != 1 {
			return nil, fmt.Errorf("mode %s takes exactly one remeshed frame, got %d", o.mode, len(o.frames))
		}
		img, err := frameio.ReadFrame(o.frames[0])
		if err != nil {
			return nil, err
		}
		qPar, qPer := cfg.GI.QPar, cfg.GI.QPer
		switch o.mode {
		case modeGIRadial:
			return p.RadialGI(img, nil, qPar, qPer, cfg.GI.QParRange, cfg.GI.QPerRange, r.RadialRange, r.RadialBins)
		case modeGICake:
			return p.CakeGI(img, nil, qPar, qPer, r.RadialRange, cfg.AzimuthalRange(), r.RadialBins, r.AzimuthalBins)
		case modeQPar:
			return p.QParProfile(img, nil, qPar, qPer, models.Range{}, models.Range{})
		default:
			return p.QPerProfile(img, nil, qPar, qPer, models.Range{}, models.Range{})
		}
	}
	return nil, &models.ConfigurationError{Field: "mode", Value: o.mode, Reason: "must be one of " + strings.Join(modes, ", ")}
}

// loadExposures reads every frame and the shared geometry maps
func loadExposures(o *options) ([]pipeline.Exposure, error) {
	if o.geometry == "" {
		return nil, fmt.Errorf("mode %s needs -geometry", o.mode)
	}
	maps, err := frameio.ReadGeometry(o.geometry)
	if err != nil {
		return nil, err
	}
	g, err := maps.Geometry()
	if err != nil {
		return nil, errors.Wrap(err, "invalid geometry maps")
	}

	exposures := make([]pipeline.Exposure, 0, len(o.frames))
	for _, path := range o.frames {
		img, err := frameio.ReadFrame(path)
		if err != nil {
			return nil, err
		}
		exposures = append(exposures, pipeline.Exposure{
			Image:    img,
			Geometry: g,
			Label:    filepath.Base(path),
		})
	}
	return exposures, nil
}
