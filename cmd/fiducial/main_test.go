package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/report"
	"github.com/banshee-data/fiducial.report/internal/testutil"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func newTestApp() (*app, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &app{stdout: &stdout, stderr: &stderr}, &stdout, &stderr
}

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

// fixture writes a random rigid transformation, fiducials and test points.
func fixture(t *testing.T) (dir, tr, src, test string) {
	t.Helper()
	dir = t.TempDir()
	tr = filepath.Join(dir, "truth.csv")
	src = filepath.Join(dir, "source.csv")
	test = filepath.Join(dir, "test.csv")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{"generate", "-kind", "transformation", "-seed", "2", "-o", tr}))
	require.NoError(t, a.run([]string{"generate", "-kind", "uniform", "-n", "8", "-seed", "3", "-o", src}))
	require.NoError(t, a.run([]string{"generate", "-kind", "test", "-n", "3", "-seed", "4", "-o", test}))
	return dir, tr, src, test
}

func TestRunVersion(t *testing.T) {
	a, stdout, _ := newTestApp()
	require.NoError(t, a.run([]string{"version"}))
	assert.Contains(t, stdout.String(), "fiducial version")
}

func TestRunHelp(t *testing.T) {
	a, _, stderr := newTestApp()
	require.NoError(t, a.run([]string{"help"}))
	assert.Contains(t, stderr.String(), "Usage: fiducial <command>")
}

func TestRunUnknownCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"none", nil},
		{"unknown", []string{"frobnicate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestApp()
			err := a.run(tt.args)
			assert.True(t, errors.Is(err, errUnknownCommand), "got %v", err)
		})
	}
}

func TestCommandHelp(t *testing.T) {
	a, _, stderr := newTestApp()
	err := a.run([]string{"coverage", "-h"})
	assert.True(t, errors.Is(err, flag.ErrHelp))
	assert.Contains(t, stderr.String(), "-trials")
}

func TestComputeRequiresInputs(t *testing.T) {
	a, _, _ := newTestApp()
	err := a.run([]string{"compute", "-target", "t.csv"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-source is required")
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name string
		args []string
		rows int
		cols int
	}{
		{"uniform", []string{"-kind", "uniform", "-n", "5"}, 5, 2},
		{"test", []string{"-kind", "test", "-n", "2"}, 2, 2},
		{"gaussian", []string{"-kind", "gaussian", "-n", "4", "-configuration-covariance", "900,0,0,900"}, 4, 2},
		{"transformation", []string{"-kind", "transformation", "-truth", "affine"}, 3, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, stdout, _ := newTestApp()
			require.NoError(t, a.run(append([]string{"generate"}, tt.args...)))
			rows, err := csv.NewReader(stdout).ReadAll()
			require.NoError(t, err)
			require.Len(t, rows, tt.rows)
			assert.Len(t, rows[0], tt.cols)
		})
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown kind", []string{"-kind", "spiral"}, "unknown -kind"},
		{"gaussian without covariance", []string{"-kind", "gaussian"}, "-configuration-covariance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _, _ := newTestApp()
			err := a.run(append([]string{"generate"}, tt.args...))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCompute(t *testing.T) {
	dir, trPath, srcPath, testPath := fixture(t)

	truth, err := report.ReadTransformationFile(trPath)
	require.NoError(t, err)
	src, err := report.ReadDatasetFile(srcPath, geometry.PointTypeFiducial)
	require.NoError(t, err)
	tgt := truth.ApplyDataset(src)
	for i, p := range tgt.Points() {
		p[i%2] += 0.05 * float64(1-2*(i%3%2))
	}
	tgtPath := filepath.Join(dir, "target.csv")
	require.NoError(t, report.WriteDatasetFile(tgtPath, tgt))

	out := filepath.Join(dir, "fit.csv")
	preds := filepath.Join(dir, "predictions.csv")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"compute", "-source", srcPath, "-target", tgtPath,
		"-o", out, "-test", testPath, "-predictions", preds,
	}))

	fit, err := report.ReadTransformationFile(out)
	require.NoError(t, err)
	testutil.AssertMatrixNear(t, fit.Homogeneous(), truth.Homogeneous(), 0.5)

	rows := readRecords(t, preds)
	require.Len(t, rows, 4)
	assert.Equal(t, report.PredictionHeader(2), rows[0])
}

func TestSolveSynthetic(t *testing.T) {
	out := filepath.Join(t.TempDir(), "solve.csv")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{"solve", "-n", "8", "-seed", "5", "-noise-model", "anisotropic", "-simplex-restarts", "1", "-o", out}))

	rows := readRecords(t, out)
	assert.Equal(t, report.SolverHeader, rows[0])
	assert.GreaterOrEqual(t, len(rows), 2)
}

func TestCoverage(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "coverage.csv")
	chart := filepath.Join(dir, "coverage.html")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"coverage", "-trials", "4", "-n", "8", "-workers", "2", "-seed", "7",
		"-o", out, "-chart", chart,
	}))

	rows := readRecords(t, out)
	assert.Equal(t, report.CoverageHeader, rows[0])
	assert.Greater(t, len(rows), 1)

	html, err := os.ReadFile(chart)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
}

func TestLOO(t *testing.T) {
	dir, tr, src, test := fixture(t)
	out := filepath.Join(dir, "loo.csv")
	chart := filepath.Join(dir, "loo.html")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"loo", "-transformation", tr, "-source-dataset", src, "-test-source-dataset", test,
		"-trials", "3", "-workers", "2", "-o", out, "-chart", chart,
	}))

	rows := readRecords(t, out)
	assert.Equal(t, report.LOOHeader, rows[0])
	assert.Greater(t, len(rows), 1)
	_, err := os.Stat(chart)
	assert.NoError(t, err)
}

func TestLikelihood(t *testing.T) {
	dir, tr, src, _ := fixture(t)
	out := filepath.Join(dir, "lrt.csv")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"likelihood", "-transformation", tr, "-source-dataset", src,
		"-restricted", "rigid/isotropic", "-full", "affine/anisotropic",
		"-trials", "5", "-o", out,
	}))

	rows := readRecords(t, out)
	assert.Equal(t, report.LikelihoodHeader, rows[0])
	assert.Len(t, rows, 6)
}

func TestLikelihoodRejectsBadModel(t *testing.T) {
	_, tr, src, _ := fixture(t)
	a, _, _ := newTestApp()
	err := a.run([]string{"likelihood", "-transformation", tr, "-source-dataset", src, "-full", "affine"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-full")
}

func TestBias(t *testing.T) {
	dir, tr, src, _ := fixture(t)
	residuals := filepath.Join(dir, "residuals.csv")
	a, stdout, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"bias", "-transformation", tr, "-source-dataset", src,
		"-trials", "6", "-residuals", residuals,
	}))

	mean, err := report.ReadMatrix(strings.NewReader(stdout.String()))
	require.NoError(t, err)
	r, c := mean.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 3, c)
	assert.InDelta(t, 1, mean.At(2, 2), 1e-9)

	// One row per fiducial: noiseless target minus the averaged transform
	// applied to the source.
	rows := readRecords(t, residuals)
	require.Len(t, rows, 8)
	for _, row := range rows {
		assert.Len(t, row, 2)
	}
}

func TestSweepSynthetic(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "sweep.csv")
	chart := filepath.Join(dir, "sweep.html")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{
		"sweep", "-iterations", "2,3", "-points", "4,6", "-o", out, "-chart", chart,
	}))

	rows := readRecords(t, out)
	assert.Equal(t, report.SweepHeader, rows[0])
	assert.Len(t, rows, 5)
}

func TestSweepNeedsBothInputs(t *testing.T) {
	_, _, src, _ := fixture(t)
	a, _, _ := newTestApp()
	err := a.run([]string{"sweep", "-source-dataset", src})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-transformation is required")
}

func TestImage(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ellipses.png")
	a, _, _ := newTestApp()
	require.NoError(t, a.run([]string{"image", "-n", "8", "-width", "300", "-height", "200", "-show-fiducials", "-o", out}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestRunFlagsOverrideConfig(t *testing.T) {
	path := testutil.WriteTempFile(t, "run.json", `{"trials": 7, "seed": 9, "noise_model": "anisotropic"}`)

	fs := newFlagSet("test", io.Discard)
	rf := addRunFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", path, "-trials", "3", "-noise-covariance", "4,0,0,9"}))
	cfg, err := rf.config()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.GetTrials())
	assert.Equal(t, uint64(9), cfg.GetSeed())
	assert.Equal(t, "anisotropic", string(cfg.GetNoiseModel()))
	cov, err := cfg.GetNoiseCovariance()
	require.NoError(t, err)
	assert.Equal(t, 9.0, cov.At(1, 1))
}

func TestRunFlagsRejectBadCovariance(t *testing.T) {
	fs := newFlagSet("test", io.Discard)
	rf := addRunFlags(fs)
	require.NoError(t, fs.Parse([]string{"-noise-covariance", "1,x"}))
	_, err := rf.config()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-noise-covariance")
}

func TestParseFloatList(t *testing.T) {
	tests := []struct {
		in      string
		want    []float64
		wantErr bool
	}{
		{"", nil, false},
		{"1", []float64{1}, false},
		{"100, 0,0 ,100", []float64{100, 0, 0, 100}, false},
		{"1e-3,-2.5", []float64{0.001, -2.5}, false},
		{"1,,2", nil, true},
		{"a", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseFloatList(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIntList(t *testing.T) {
	tests := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{"", nil, false},
		{"3,5, 10", []int{3, 5, 10}, false},
		{"2.5", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseIntList(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutputStdout(t *testing.T) {
	var buf bytes.Buffer
	for _, path := range []string{"", "-"} {
		w, closeFn, err := output(path, &buf)
		require.NoError(t, err)
		assert.Same(t, &buf, w)
		assert.NoError(t, closeFn())
	}
}
