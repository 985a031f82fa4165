package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/banshee-data/fiducial.report/internal/config"
)

// runFlags registers the flags shared by every simulation command. Flags
// that are set on the command line override the -config file.
type runFlags struct {
	fs         *flag.FlagSet
	configPath *string

	points         *int
	alpha          *float64
	width          *int
	height         *int
	trials         *int
	workers        *int
	seed           *uint64
	transformation *string
	truth          *string
	noiseModel     *string
	noiseCov       *string
	configCov      *string
	solver         *string
	restarts       *int
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func addRunFlags(fs *flag.FlagSet) *runFlags {
	def := config.DefaultRunConfig()
	return &runFlags{
		fs:             fs,
		configPath:     fs.String("config", "", "JSON run configuration file"),
		points:         fs.Int("n", *def.Points, "number of fiducials"),
		alpha:          fs.Float64("alpha", *def.Alpha, "confidence level"),
		width:          fs.Int("width", *def.Width, "extent along x"),
		height:         fs.Int("height", *def.Height, "extent along y"),
		trials:         fs.Int("trials", *def.Trials, "number of Monte-Carlo trials"),
		workers:        fs.Int("workers", *def.Workers, "worker goroutines (0 = one per CPU)"),
		seed:           fs.Uint64("seed", *def.Seed, "random seed"),
		transformation: fs.String("transformation-model", *def.Transformation, "fitted transformation model: rigid, similarity or affine"),
		truth:          fs.String("truth", *def.Truth, "family of simulated transformations"),
		noiseModel:     fs.String("noise-model", *def.NoiseModel, "noise model: isotropic or anisotropic"),
		noiseCov:       fs.String("noise-covariance", "", "row-major noise covariance, e.g. 100,0,0,100"),
		configCov:      fs.String("configuration-covariance", "", "row-major covariance of gaussian fiducial configurations"),
		solver:         fs.String("solver", *def.Solver, "maximum-likelihood backend: interior-point, cg or simplex"),
		restarts:       fs.Int("simplex-restarts", *def.SimplexRestarts, "extra random starts for the simplex backend"),
	}
}

// config loads the -config file and applies the flags that were set.
func (r *runFlags) config() (*config.RunConfig, error) {
	cfg := config.EmptyRunConfig()
	if *r.configPath != "" {
		loaded, err := config.LoadRunConfig(*r.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	var parseErr error
	r.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			cfg.Points = r.points
		case "alpha":
			cfg.Alpha = r.alpha
		case "width":
			cfg.Width = r.width
		case "height":
			cfg.Height = r.height
		case "trials":
			cfg.Trials = r.trials
		case "workers":
			cfg.Workers = r.workers
		case "seed":
			cfg.Seed = r.seed
		case "transformation-model":
			cfg.Transformation = r.transformation
		case "truth":
			cfg.Truth = r.truth
		case "noise-model":
			cfg.NoiseModel = r.noiseModel
		case "solver":
			cfg.Solver = r.solver
		case "simplex-restarts":
			cfg.SimplexRestarts = r.restarts
		case "noise-covariance":
			vals, err := parseFloatList(*r.noiseCov)
			if err != nil && parseErr == nil {
				parseErr = fmt.Errorf("-noise-covariance: %w", err)
			}
			cfg.NoiseCovariance = vals
		case "configuration-covariance":
			vals, err := parseFloatList(*r.configCov)
			if err != nil && parseErr == nil {
				parseErr = fmt.Errorf("-configuration-covariance: %w", err)
			}
			cfg.ConfigurationCovariance = vals
		}
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseFloatList parses a comma-separated list of floats.
func parseFloatList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseIntList parses a comma-separated list of ints.
func parseIntList(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid int '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// output opens path for writing; "" and "-" select w.
func output(path string, w io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return w, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, f.Close, nil
}

// required reports a missing flag value.
func required(fs *flag.FlagSet, names ...string) error {
	for _, name := range names {
		if f := fs.Lookup(name); f != nil && f.Value.String() == "" {
			return fmt.Errorf("-%s is required", name)
		}
	}
	return nil
}
