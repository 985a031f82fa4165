package report

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/fiducial.report/internal/harness"
)

// ChartOptions controls the HTML chart pages.
type ChartOptions struct {
	Title string
	// AssetsHost overrides the default echarts asset location.
	AssetsHost string
}

func (o ChartOptions) init(pageTitle string) opts.Initialization {
	init := opts.Initialization{PageTitle: pageTitle, Width: "900px", Height: "500px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}
	return init
}

// WriteCoverageChart renders the empirical coverage and mean area of each
// region family as an HTML page. The nominal level is drawn as a second bar
// series next to the coverage.
func WriteCoverageChart(w io.Writer, res *harness.CoverageResult, alpha float64, o ChartOptions) error {
	if res == nil || len(res.Models) == 0 {
		return fmt.Errorf("report: no coverage results")
	}
	names := make([]string, len(res.Models))
	coverage := make([]opts.BarData, len(res.Models))
	nominal := make([]opts.BarData, len(res.Models))
	area := make([]opts.BarData, len(res.Models))
	for i, m := range res.Models {
		names[i] = m.Model
		coverage[i] = opts.BarData{Value: round(m.Coverage, 4)}
		nominal[i] = opts.BarData{Value: round(alpha, 4)}
		area[i] = opts.BarData{Value: round(m.AreaMean, 2)}
	}

	subtitle := fmt.Sprintf("alpha=%g", alpha)
	if res.Report != nil {
		subtitle += fmt.Sprintf(" trials=%d", res.Report.Completed())
	}
	cov := charts.NewBar()
	cov.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Coverage")),
		charts.WithTitleOpts(opts.Title{Title: titleOr(o.Title, "Confidence region coverage"), Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	cov.SetXAxis(names).
		AddSeries("coverage", coverage, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("nominal", nominal)

	areas := charts.NewBar()
	areas.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Region area")),
		charts.WithTitleOpts(opts.Title{Title: "Mean region area", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	areas.SetXAxis(names).
		AddSeries("area", area, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(cov, areas)
	return page.Render(w)
}

// WriteSweepChart renders the mean squared held-out error against the number
// of fiducials, one line per iteration count.
func WriteSweepChart(w io.Writer, records []harness.SweepRecord, o ChartOptions) error {
	if len(records) == 0 {
		return fmt.Errorf("report: no sweep records")
	}
	pointSet := map[int]bool{}
	byIter := map[int]map[int]float64{}
	for _, r := range records {
		pointSet[r.Points] = true
		if byIter[r.Iterations] == nil {
			byIter[r.Iterations] = map[int]float64{}
		}
		byIter[r.Iterations][r.Points] = r.MeanSquared
	}
	points := sortedKeys(pointSet)
	iters := make([]int, 0, len(byIter))
	for it := range byIter {
		iters = append(iters, it)
	}
	sort.Ints(iters)

	labels := make([]string, len(points))
	for i, k := range points {
		labels[i] = fmt.Sprintf("%d", k)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Error sweep")),
		charts.WithTitleOpts(opts.Title{Title: titleOr(o.Title, "Held-out squared error"), Subtitle: fmt.Sprintf("cells=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "fiducials", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "mean squared error", NameLocation: "middle", NameGap: 50}),
	)
	line.SetXAxis(labels)
	for _, it := range iters {
		data := make([]opts.LineData, len(points))
		for i, k := range points {
			if v, ok := byIter[it][k]; ok {
				data[i] = opts.LineData{Value: round(v, 4)}
			} else {
				data[i] = opts.LineData{Value: "-"}
			}
		}
		line.AddSeries(fmt.Sprintf("iterations=%d", it), data)
	}

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(line)
	return page.Render(w)
}

// WriteLOOChart plots the empirical coverage of each method against the
// distance from the test point to its nearest fiducial.
func WriteLOOChart(w io.Writer, records []harness.LOORecord, o ChartOptions) error {
	if len(records) == 0 {
		return fmt.Errorf("report: no leave-one-out records")
	}
	byMethod := map[string][]opts.ScatterData{}
	var methods []string
	for _, r := range records {
		if _, ok := byMethod[r.Method]; !ok {
			methods = append(methods, r.Method)
		}
		byMethod[r.Method] = append(byMethod[r.Method], opts.ScatterData{
			Name:  fmt.Sprintf("%d", r.Index),
			Value: []interface{}{round(r.Nearest, 3), round(r.PercentIn, 3)},
		})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Leave-one-out")),
		charts.WithTitleOpts(opts.Title{Title: titleOr(o.Title, "Coverage by distance to nearest fiducial"), Subtitle: fmt.Sprintf("records=%d", len(records))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "nearest fiducial", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "% in", NameLocation: "middle", NameGap: 40}),
	)
	for _, m := range methods {
		scatter.AddSeries(m, byMethod[m], charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	}

	page := components.NewPage()
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(scatter)
	return page.Render(w)
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// round keeps the embedded JSON short. Non-finite values become "-", which
// echarts draws as a gap.
func round(v float64, digits int) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	p := math.Pow(10, float64(digits))
	return math.Round(v*p) / p
}
