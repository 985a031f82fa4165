package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/banshee-data/fiducial.report/internal/harness"
	"github.com/banshee-data/fiducial.report/internal/lrt"
	"github.com/banshee-data/fiducial.report/internal/registration/likelihood"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// Column headers of the statistics tables.
var (
	LOOHeader        = []string{"i", "model", "method", "n", "%in", "area.mean", "area.sd", "nearest"}
	CoverageHeader   = []string{"model", "coverage", "area.mean", "area.sd", "invalid"}
	SweepHeader      = []string{"iterations", "points", "mean.squared", "var.squared", "mean", "var"}
	LikelihoodHeader = []string{"statistic", "dof", "pvalue"}
	SolverHeader     = []string{"backend", "loglik", "converged", "evaluations", "iterations", "status", "constraint"}
)

// CSVWriter wraps csv.Writer with methods for harness output.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter creates a CSVWriter on out.
func NewCSVWriter(out io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(out)}
}

// Flush flushes buffered rows and returns the first write error.
func (c *CSVWriter) Flush() error {
	c.w.Flush()
	return c.w.Error()
}

// WriteLOO writes leave-one-out records. The coverage column is a percentage.
func (c *CSVWriter) WriteLOO(records []harness.LOORecord) error {
	c.w.Write(LOOHeader)
	for _, r := range records {
		c.w.Write([]string{
			fmt.Sprintf("%d", r.Index),
			string(r.Model),
			r.Method,
			fmt.Sprintf("%d", r.N),
			fmt.Sprintf("%.6f", r.PercentIn),
			fmt.Sprintf("%.6f", r.AreaMean),
			fmt.Sprintf("%.6f", r.AreaSD),
			fmt.Sprintf("%.6f", r.Nearest),
		})
	}
	return c.Flush()
}

// WriteCoverage writes one row per region family.
func (c *CSVWriter) WriteCoverage(res *harness.CoverageResult) error {
	c.w.Write(CoverageHeader)
	for _, m := range res.Models {
		c.w.Write([]string{
			m.Model,
			fmt.Sprintf("%.6f", m.Coverage),
			fmt.Sprintf("%.6f", m.AreaMean),
			fmt.Sprintf("%.6f", m.AreaSD),
			fmt.Sprintf("%d", m.Invalid),
		})
	}
	return c.Flush()
}

// WriteSweep writes one row per (iterations, points) cell.
func (c *CSVWriter) WriteSweep(records []harness.SweepRecord) error {
	c.w.Write(SweepHeader)
	for _, r := range records {
		c.w.Write([]string{
			fmt.Sprintf("%d", r.Iterations),
			fmt.Sprintf("%d", r.Points),
			fmt.Sprintf("%.6f", r.MeanSquared),
			fmt.Sprintf("%.6f", r.VarianceSquared),
			fmt.Sprintf("%.6f", r.Mean),
			fmt.Sprintf("%.6f", r.Variance),
		})
	}
	return c.Flush()
}

// WriteLikelihood writes one row per likelihood-ratio test.
func (c *CSVWriter) WriteLikelihood(tests []lrt.Result) error {
	c.w.Write(LikelihoodHeader)
	for _, t := range tests {
		c.w.Write([]string{
			fmt.Sprintf("%.6f", t.Statistic),
			fmt.Sprintf("%d", t.DOF),
			fmt.Sprintf("%.6f", t.PValue),
		})
	}
	return c.Flush()
}

// WriteSolverResults writes one row per maximum-likelihood backend.
func (c *CSVWriter) WriteSolverResults(results []*likelihood.Result) error {
	c.w.Write(SolverHeader)
	for _, r := range results {
		ll := "NaN"
		if r.Parameter != nil {
			ll = fmt.Sprintf("%.9f", r.Parameter.LogLikelihood)
		}
		c.w.Write([]string{
			r.Backend,
			ll,
			fmt.Sprintf("%t", r.Converged),
			fmt.Sprintf("%d", r.Evaluations),
			fmt.Sprintf("%d", r.Iterations),
			r.Status,
			fmt.Sprintf("%.3g", r.ConstraintViolation),
		})
	}
	return c.Flush()
}

// PredictionHeader returns the prediction columns for dimension d.
func PredictionHeader(d int) []string {
	header := []string{"i"}
	for j := 0; j < d; j++ {
		header = append(header, fmt.Sprintf("target.%d", j))
	}
	for j := 0; j < d; j++ {
		header = append(header, fmt.Sprintf("axis.%d", j))
	}
	return append(header, "angle", "area", "valid")
}

// WritePredictions writes the mapped query points with their ellipse
// semi-axes in ascending order. All predictions must share a dimension.
func (c *CSVWriter) WritePredictions(preds []*uncertainty.Prediction) error {
	if len(preds) == 0 {
		return c.Flush()
	}
	c.w.Write(PredictionHeader(preds[0].Target.Dim()))
	for i, p := range preds {
		row := []string{fmt.Sprintf("%d", i)}
		for _, v := range p.Target {
			row = append(row, fmt.Sprintf("%.6f", v))
		}
		for _, v := range p.Ellipse.SemiAxes() {
			row = append(row, fmt.Sprintf("%.6f", v))
		}
		row = append(row,
			fmt.Sprintf("%.6f", p.Ellipse.Angle()),
			fmt.Sprintf("%.6f", p.Ellipse.Area()),
			fmt.Sprintf("%t", p.Ellipse.Valid()),
		)
		c.w.Write(row)
	}
	return c.Flush()
}
