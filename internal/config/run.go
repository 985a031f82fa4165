package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fiducial.report/internal/linalg"
	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/registration/likelihood"
)

// RunConfig holds the parameters shared by the CLI subcommands. Every field
// is optional; the Get* methods supply defaults for omitted values.
type RunConfig struct {
	// Problem size
	Points *int     `json:"points,omitempty"`
	Alpha  *float64 `json:"alpha,omitempty"`
	Width  *int     `json:"width,omitempty"`
	Height *int     `json:"height,omitempty"`

	// Harness
	Trials  *int    `json:"trials,omitempty"`
	Workers *int    `json:"workers,omitempty"` // 0 = one per CPU
	Seed    *uint64 `json:"seed,omitempty"`

	// Models
	Transformation *string `json:"transformation,omitempty"`
	Truth          *string `json:"truth,omitempty"` // family of simulated transformations
	NoiseModel     *string `json:"noise_model,omitempty"`

	// Covariances as row-major d×d arrays
	NoiseCovariance         []float64 `json:"noise_covariance,omitempty"`
	ConfigurationCovariance []float64 `json:"configuration_covariance,omitempty"`

	// Maximum-likelihood solver
	Solver                  *string  `json:"solver,omitempty"`
	SolverFunctionTolerance *float64 `json:"solver_function_tolerance,omitempty"`
	SolverMaxEvaluations    *int     `json:"solver_max_evaluations,omitempty"`
	SolverMaxIterations     *int     `json:"solver_max_iterations,omitempty"`
	SimplexRestarts         *int     `json:"simplex_restarts,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptyRunConfig returns a RunConfig with every field unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// DefaultRunConfig returns a RunConfig with every field set to its default.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Points:                  ptrInt(10),
		Alpha:                   ptrFloat64(0.95),
		Width:                   ptrInt(512),
		Height:                  ptrInt(512),
		Trials:                  ptrInt(1000),
		Workers:                 ptrInt(0),
		Seed:                    ptrUint64(1),
		Transformation:          ptrString(string(registration.Rigid)),
		Truth:                   ptrString(string(registration.Rigid)),
		NoiseModel:              ptrString(string(registration.Isotropic)),
		NoiseCovariance:         []float64{100, 0, 0, 100},
		Solver:                  ptrString("interior-point"),
		SolverFunctionTolerance: ptrFloat64(likelihood.DefaultTolerances.Function),
		SolverMaxEvaluations:    ptrInt(likelihood.DefaultTolerances.MaxEvaluations),
		SolverMaxIterations:     ptrInt(likelihood.DefaultTolerances.MaxIterations),
		SimplexRestarts:         ptrInt(likelihood.DefaultRestarts),
	}
}

// LoadRunConfig loads a RunConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Omitted fields keep
// their defaults, so partial configs are safe.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *RunConfig) Validate() error {
	if c.Points != nil && *c.Points < 2 {
		return fmt.Errorf("points must be at least 2, got %d", *c.Points)
	}
	if c.Alpha != nil && (*c.Alpha <= 0 || *c.Alpha >= 1) {
		return fmt.Errorf("alpha must be in (0, 1), got %f", *c.Alpha)
	}
	if c.Width != nil && *c.Width <= 0 {
		return fmt.Errorf("width must be positive, got %d", *c.Width)
	}
	if c.Height != nil && *c.Height <= 0 {
		return fmt.Errorf("height must be positive, got %d", *c.Height)
	}
	if c.Trials != nil && *c.Trials < 1 {
		return fmt.Errorf("trials must be at least 1, got %d", *c.Trials)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.Transformation != nil {
		if _, err := registration.ParseTransformationType(*c.Transformation); err != nil {
			return err
		}
	}
	if c.Truth != nil {
		if _, err := registration.ParseTransformationType(*c.Truth); err != nil {
			return err
		}
	}
	if c.NoiseModel != nil {
		if _, err := registration.ParseNoiseModel(*c.NoiseModel); err != nil {
			return err
		}
	}
	if c.NoiseCovariance != nil {
		if _, err := squareSym("noise_covariance", c.NoiseCovariance); err != nil {
			return err
		}
	}
	if c.ConfigurationCovariance != nil {
		if _, err := squareSym("configuration_covariance", c.ConfigurationCovariance); err != nil {
			return err
		}
	}
	if c.Solver != nil {
		if _, err := likelihood.New(*c.Solver, likelihood.Tolerances{}, 0); err != nil {
			return err
		}
	}
	if c.SolverFunctionTolerance != nil && *c.SolverFunctionTolerance <= 0 {
		return fmt.Errorf("solver_function_tolerance must be positive, got %g", *c.SolverFunctionTolerance)
	}
	if c.SimplexRestarts != nil && *c.SimplexRestarts < 0 {
		return fmt.Errorf("simplex_restarts must be non-negative, got %d", *c.SimplexRestarts)
	}
	return nil
}

// squareSym reads a row-major d×d array for d = 2 or 3.
func squareSym(name string, vals []float64) (*mat.SymDense, error) {
	var d int
	switch len(vals) {
	case 4:
		d = 2
	case 9:
		d = 3
	default:
		return nil, fmt.Errorf("%s needs 4 or 9 values, got %d", name, len(vals))
	}
	s, err := linalg.SymFromRowMajor(d, vals)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// GetPoints returns the points value or the default.
func (c *RunConfig) GetPoints() int {
	if c.Points == nil {
		return 10
	}
	return *c.Points
}

// GetAlpha returns the alpha value or the default.
func (c *RunConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.95
	}
	return *c.Alpha
}

// GetWidth returns the width value or the default.
func (c *RunConfig) GetWidth() int {
	if c.Width == nil {
		return 512
	}
	return *c.Width
}

// GetHeight returns the height value or the default.
func (c *RunConfig) GetHeight() int {
	if c.Height == nil {
		return 512
	}
	return *c.Height
}

// Extent returns the simulation extent [width, height].
func (c *RunConfig) Extent() []float64 {
	return []float64{float64(c.GetWidth()), float64(c.GetHeight())}
}

// GetTrials returns the trials value or the default.
func (c *RunConfig) GetTrials() int {
	if c.Trials == nil {
		return 1000
	}
	return *c.Trials
}

// GetWorkers returns the workers value or the default.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetSeed returns the seed value or the default.
func (c *RunConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetTransformation returns the fitted transformation type or rigid.
func (c *RunConfig) GetTransformation() registration.TransformationType {
	if c.Transformation == nil {
		return registration.Rigid
	}
	t, err := registration.ParseTransformationType(*c.Transformation)
	if err != nil {
		return registration.Rigid
	}
	return t
}

// GetTruth returns the simulated transformation family or rigid.
func (c *RunConfig) GetTruth() registration.TransformationType {
	if c.Truth == nil {
		return registration.Rigid
	}
	t, err := registration.ParseTransformationType(*c.Truth)
	if err != nil {
		return registration.Rigid
	}
	return t
}

// GetNoiseModel returns the noise model or isotropic.
func (c *RunConfig) GetNoiseModel() registration.NoiseModel {
	if c.NoiseModel == nil {
		return registration.Isotropic
	}
	n, err := registration.ParseNoiseModel(*c.NoiseModel)
	if err != nil {
		return registration.Isotropic
	}
	return n
}

// GetNoiseCovariance returns the noise covariance, defaulting to 100·I in
// the dimension of the extent.
func (c *RunConfig) GetNoiseCovariance() (*mat.SymDense, error) {
	if c.NoiseCovariance == nil {
		return linalg.ScaledIdentity(len(c.Extent()), 100), nil
	}
	return squareSym("noise_covariance", c.NoiseCovariance)
}

// GetConfigurationCovariance returns the configuration covariance, or nil
// when uniform configurations are wanted.
func (c *RunConfig) GetConfigurationCovariance() (*mat.SymDense, error) {
	if c.ConfigurationCovariance == nil {
		return nil, nil
	}
	return squareSym("configuration_covariance", c.ConfigurationCovariance)
}

// GetSolver returns the solver name or the default.
func (c *RunConfig) GetSolver() string {
	if c.Solver == nil {
		return "interior-point"
	}
	return *c.Solver
}

// GetSolverTolerances returns the configured tolerances. Unset fields are
// zero and take the solver defaults.
func (c *RunConfig) GetSolverTolerances() likelihood.Tolerances {
	var tol likelihood.Tolerances
	if c.SolverFunctionTolerance != nil {
		tol.Function = *c.SolverFunctionTolerance
	}
	if c.SolverMaxEvaluations != nil {
		tol.MaxEvaluations = *c.SolverMaxEvaluations
	}
	if c.SolverMaxIterations != nil {
		tol.MaxIterations = *c.SolverMaxIterations
	}
	return tol
}

// GetSimplexRestarts returns the simplex_restarts value or the default.
func (c *RunConfig) GetSimplexRestarts() int {
	if c.SimplexRestarts == nil {
		return likelihood.DefaultRestarts
	}
	return *c.SimplexRestarts
}

// NewSolver builds the configured maximum-likelihood backend.
func (c *RunConfig) NewSolver() (likelihood.Solver, error) {
	s, err := likelihood.New(c.GetSolver(), c.GetSolverTolerances(), c.GetSeed())
	if err != nil {
		return nil, err
	}
	if sx, ok := s.(*likelihood.Simplex); ok {
		sx.Restarts = c.GetSimplexRestarts()
	}
	return s, nil
}

// NewEstimator returns a registration estimator that uses the configured
// solver for the rigid anisotropic case.
func (c *RunConfig) NewEstimator() (*registration.Factory, error) {
	s, err := c.NewSolver()
	if err != nil {
		return nil, err
	}
	return registration.NewFactory(likelihood.NewEstimator(s)), nil
}
