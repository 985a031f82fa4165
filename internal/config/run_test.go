package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/fiducial.report/internal/registration"
	"github.com/banshee-data/fiducial.report/internal/registration/likelihood"
)

func TestDefaultRunConfig(t *testing.T) {
	cfg := DefaultRunConfig()

	if cfg.Points == nil || *cfg.Points != 10 {
		t.Errorf("Expected Points 10, got %v", cfg.Points)
	}
	if cfg.Alpha == nil || *cfg.Alpha != 0.95 {
		t.Errorf("Expected Alpha 0.95, got %v", cfg.Alpha)
	}
	if cfg.Solver == nil || *cfg.Solver != "interior-point" {
		t.Errorf("Expected Solver 'interior-point', got %v", cfg.Solver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}

	// Getters on the defaults and on an empty config agree.
	empty := EmptyRunConfig()
	if cfg.GetPoints() != empty.GetPoints() {
		t.Errorf("GetPoints() = %d, empty = %d", cfg.GetPoints(), empty.GetPoints())
	}
	if cfg.GetAlpha() != empty.GetAlpha() {
		t.Errorf("GetAlpha() = %f, empty = %f", cfg.GetAlpha(), empty.GetAlpha())
	}
	if cfg.GetTransformation() != registration.Rigid || empty.GetTransformation() != registration.Rigid {
		t.Errorf("GetTransformation() = %s/%s, want rigid", cfg.GetTransformation(), empty.GetTransformation())
	}
	if cfg.GetNoiseModel() != registration.Isotropic {
		t.Errorf("GetNoiseModel() = %s, want isotropic", cfg.GetNoiseModel())
	}
	if cfg.GetSimplexRestarts() != likelihood.DefaultRestarts {
		t.Errorf("GetSimplexRestarts() = %d, want %d", cfg.GetSimplexRestarts(), likelihood.DefaultRestarts)
	}

	a, err := cfg.GetNoiseCovariance()
	if err != nil {
		t.Fatalf("GetNoiseCovariance: %v", err)
	}
	b, err := empty.GetNoiseCovariance()
	if err != nil {
		t.Fatalf("GetNoiseCovariance (empty): %v", err)
	}
	if a.At(0, 0) != 100 || b.At(0, 0) != 100 || a.At(0, 1) != 0 {
		t.Errorf("noise covariance defaults differ: %v vs %v", a, b)
	}
	if c, err := cfg.GetConfigurationCovariance(); err != nil || c != nil {
		t.Errorf("GetConfigurationCovariance() = %v, %v; want nil, nil", c, err)
	}
}

func TestLoadRunConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "run.json")

	testJSON := `{
  "points": 25,
  "alpha": 0.9,
  "transformation": "AFFINE",
  "noise_model": "anisotropic",
  "noise_covariance": [4, 1, 1, 2],
  "configuration_covariance": [2500, 0, 0, 900],
  "solver": "simplex",
  "simplex_restarts": 2,
  "seed": 99
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRunConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetPoints() != 25 {
		t.Errorf("GetPoints() = %d, want 25", cfg.GetPoints())
	}
	if cfg.GetTransformation() != registration.Affine {
		t.Errorf("GetTransformation() = %s, want affine", cfg.GetTransformation())
	}
	if cfg.GetNoiseModel() != registration.Anisotropic {
		t.Errorf("GetNoiseModel() = %s, want anisotropic", cfg.GetNoiseModel())
	}
	// Omitted fields fall back to defaults.
	if cfg.GetWidth() != 512 || cfg.GetTrials() != 1000 {
		t.Errorf("defaults not applied: width %d, trials %d", cfg.GetWidth(), cfg.GetTrials())
	}

	cov, err := cfg.GetNoiseCovariance()
	if err != nil {
		t.Fatalf("GetNoiseCovariance: %v", err)
	}
	if cov.At(1, 0) != 1 || cov.At(1, 1) != 2 {
		t.Errorf("unexpected noise covariance %v", cov)
	}
	conf, err := cfg.GetConfigurationCovariance()
	if err != nil || conf == nil || conf.At(1, 1) != 900 {
		t.Errorf("GetConfigurationCovariance() = %v, %v", conf, err)
	}

	solver, err := cfg.NewSolver()
	if err != nil {
		t.Fatalf("NewSolver: %v", err)
	}
	sx, ok := solver.(*likelihood.Simplex)
	if !ok {
		t.Fatalf("NewSolver() = %T, want *likelihood.Simplex", solver)
	}
	if sx.Restarts != 2 {
		t.Errorf("Restarts = %d, want 2", sx.Restarts)
	}
	if _, err := cfg.NewEstimator(); err != nil {
		t.Errorf("NewEstimator: %v", err)
	}
}

func TestLoadRunConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "run.yaml", `{}`, ".json extension"},
		{"bad json", "bad.json", `{"points":`, "parse config JSON"},
		{"alpha out of range", "alpha.json", `{"alpha": 1.5}`, "alpha"},
		{"too few points", "points.json", `{"points": 1}`, "points"},
		{"unknown model", "model.json", `{"transformation": "projective"}`, "transformation type"},
		{"unknown noise", "noise.json", `{"noise_model": "pink"}`, "noise model"},
		{"bad covariance", "cov.json", `{"noise_covariance": [1, 2, 3]}`, "noise_covariance"},
		{"unknown solver", "solver.json", `{"solver": "annealing"}`, "unknown solver"},
		{"negative workers", "workers.json", `{"workers": -1}`, "workers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(tmpDir, tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			_, err := LoadRunConfig(path)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadRunConfig(filepath.Join(tmpDir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRunConfigTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "large.json")
	data := make([]byte, 1024*1024+1)
	for i := range data {
		data[i] = ' '
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadRunConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestExtent(t *testing.T) {
	cfg := &RunConfig{Width: ptrInt(640), Height: ptrInt(480)}
	got := cfg.Extent()
	if len(got) != 2 || got[0] != 640 || got[1] != 480 {
		t.Errorf("Extent() = %v, want [640 480]", got)
	}
}
