package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/fiducial.report/internal/geometry"
	"github.com/banshee-data/fiducial.report/internal/monitoring"
	"github.com/banshee-data/fiducial.report/internal/uncertainty"
)

// Overlay colours used by the image command.
var (
	ColorAffine = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	ColorRigid  = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	ColorTruth  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	ColorNoisy  = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	ColorSource = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// Pixels converts an image size in pixels to a plot length at the default
// raster resolution.
func Pixels(px int) vg.Length {
	return vg.Length(px) * vg.Inch / vgimg.DefaultDPI
}

// ellipseSamples is the number of vertices used to trace an ellipse outline.
const ellipseSamples = 128

// PointLayer is a set of markers sharing a label and colour.
type PointLayer struct {
	Label  string
	Color  color.Color
	Shape  draw.GlyphDrawer
	Points []geometry.Point
}

// EllipseLayer is one confidence ellipse outline.
type EllipseLayer struct {
	Label   string
	Color   color.Color
	Ellipse *uncertainty.Ellipse
}

// Overlay collects 2D markers and ellipse outlines for a single figure.
type Overlay struct {
	Title    string
	Points   []PointLayer
	Ellipses []EllipseLayer
}

// AddPoints appends a marker layer.
func (o *Overlay) AddPoints(label string, c color.Color, shape draw.GlyphDrawer, pts ...geometry.Point) {
	o.Points = append(o.Points, PointLayer{Label: label, Color: c, Shape: shape, Points: pts})
}

// AddEllipse appends an ellipse outline.
func (o *Overlay) AddEllipse(label string, c color.Color, e *uncertainty.Ellipse) {
	o.Ellipses = append(o.Ellipses, EllipseLayer{Label: label, Color: c, Ellipse: e})
}

// EllipseOutline traces the boundary c + V·diag(√λ)·(cos θ, sin θ) of a 2D
// ellipse with n vertices. The first vertex is repeated at the end.
func EllipseOutline(e *uncertainty.Ellipse, n int) (plotter.XYs, error) {
	if e == nil || !e.Valid() {
		return nil, fmt.Errorf("report: invalid ellipse")
	}
	if e.Center.Dim() != 2 {
		return nil, fmt.Errorf("report: cannot draw a %dD ellipse", e.Center.Dim())
	}
	if n < 3 {
		n = 3
	}
	axes := e.SemiAxes()
	pts := make(plotter.XYs, n+1)
	for k := 0; k < n; k++ {
		theta := 2 * math.Pi * float64(k) / float64(n)
		u := axes[0] * math.Cos(theta)
		v := axes[1] * math.Sin(theta)
		pts[k] = plotter.XY{
			X: e.Center[0] + e.Vectors.At(0, 0)*u + e.Vectors.At(0, 1)*v,
			Y: e.Center[1] + e.Vectors.At(1, 0)*u + e.Vectors.At(1, 1)*v,
		}
	}
	pts[n] = pts[0]
	return pts, nil
}

func pointXYs(pts []geometry.Point) (plotter.XYs, error) {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		if p.Dim() < 2 {
			return nil, fmt.Errorf("report: point %d has dimension %d", i, p.Dim())
		}
		xys[i] = plotter.XY{X: p[0], Y: p[1]}
	}
	return xys, nil
}

// Plot builds the figure. Invalid ellipses are logged and left out.
func (o *Overlay) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"
	p.Add(plotter.NewGrid())

	for _, layer := range o.Ellipses {
		xys, err := EllipseOutline(layer.Ellipse, ellipseSamples)
		if err != nil {
			monitoring.Logf("[report] skipping ellipse %q: %v", layer.Label, err)
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("ellipse %q: %w", layer.Label, err)
		}
		line.Color = layer.Color
		line.Width = vg.Points(1.5)
		p.Add(line)
		if layer.Label != "" {
			p.Legend.Add(layer.Label, line)
		}
	}

	for _, layer := range o.Points {
		if len(layer.Points) == 0 {
			continue
		}
		xys, err := pointXYs(layer.Points)
		if err != nil {
			return nil, err
		}
		sc, err := plotter.NewScatter(xys)
		if err != nil {
			return nil, fmt.Errorf("points %q: %w", layer.Label, err)
		}
		sc.GlyphStyle.Color = layer.Color
		sc.GlyphStyle.Radius = vg.Points(3)
		if layer.Shape != nil {
			sc.GlyphStyle.Shape = layer.Shape
		} else {
			sc.GlyphStyle.Shape = draw.CircleGlyph{}
		}
		p.Add(sc)
		if layer.Label != "" {
			p.Legend.Add(layer.Label, sc)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// Save renders the figure to path. The format follows the file extension.
func (o *Overlay) Save(path string, width, height vg.Length) error {
	p, err := o.Plot()
	if err != nil {
		return err
	}
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// WritePNG renders the figure as PNG to w.
func (o *Overlay) WritePNG(w io.Writer, width, height vg.Length) error {
	p, err := o.Plot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
