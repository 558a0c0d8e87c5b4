package plot

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"mltrack/internal/errors"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	width  = 5 * vg.Inch
	height = 4 * vg.Inch
	dpi    = 100
)

// blues runs from near-white to dark blue
type blues []color.Color

func (b blues) Colors() []color.Color { return b }

func newBlues(n int) blues {
	from := [3]float64{247, 251, 255}
	to := [3]float64{8, 48, 107}
	out := make(blues, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		c := color.RGBA{A: 255}
		c.R = uint8(from[0] + t*(to[0]-from[0]))
		c.G = uint8(from[1] + t*(to[1]-from[1]))
		c.B = uint8(from[2] + t*(to[2]-from[2]))
		out[i] = c
	}
	return out
}

// matrixGrid exposes a confusion matrix as a heat map grid. Row 0 of the
// matrix is drawn at the top.
type matrixGrid struct {
	cm [][]int
}

func (g matrixGrid) Dims() (c, r int)   { return len(g.cm), len(g.cm) }
func (g matrixGrid) X(c int) float64    { return float64(c) }
func (g matrixGrid) Y(r int) float64    { return float64(r) }
func (g matrixGrid) Z(c, r int) float64 { return float64(g.cm[len(g.cm)-1-r][c]) }

func checkMatrix(cm [][]int, labels []string) error {
	if len(cm) == 0 {
		return errors.InvalidInput("confusion matrix is empty")
	}
	for i, row := range cm {
		if len(row) != len(cm) {
			return errors.InvalidInput(fmt.Sprintf("confusion matrix row %d has %d columns, expected %d", i, len(row), len(cm)))
		}
	}
	if len(labels) != len(cm) {
		return errors.InvalidInput(fmt.Sprintf("got %d labels for a %dx%d matrix", len(labels), len(cm), len(cm)))
	}
	return nil
}

// WriteConfusionMatrix renders cm as an annotated heat map PNG with the
// actual class on the y axis and the predicted class on the x axis
func WriteConfusionMatrix(w io.Writer, cm [][]int, labels []string) error {
	if err := checkMatrix(cm, labels); err != nil {
		return err
	}
	k := len(cm)

	pal := newBlues(9)
	heat := plotter.NewHeatMap(matrixGrid{cm: cm}, pal)
	if heat.Max == heat.Min {
		heat.Max = heat.Min + 1
	}

	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"
	p.Add(heat)

	xTicks := make([]plot.Tick, k)
	yTicks := make([]plot.Tick, k)
	for i, name := range labels {
		xTicks[i] = plot.Tick{Value: float64(i), Label: name}
		yTicks[i] = plot.Tick{Value: float64(k - 1 - i), Label: name}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xTicks)
	p.Y.Tick.Marker = plot.ConstantTicks(yTicks)
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Min, p.X.Max = -0.5, float64(k)-0.5
	p.Y.Min, p.Y.Max = -0.5, float64(k)-0.5

	cells := plotter.XYLabels{
		XYs:    make(plotter.XYs, 0, k*k),
		Labels: make([]string, 0, k*k),
	}
	for i, row := range cm {
		for j, v := range row {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(j), Y: float64(k - 1 - i)})
			cells.Labels = append(cells.Labels, fmt.Sprintf("%d", v))
		}
	}
	annotations, err := plotter.NewLabels(cells)
	if err != nil {
		return errors.Wrap(err, "failed to annotate confusion matrix")
	}
	mid := heat.Min + (heat.Max-heat.Min)/2
	for n := range annotations.TextStyle {
		annotations.TextStyle[n].XAlign = text.XCenter
		annotations.TextStyle[n].YAlign = text.YCenter
		if v := float64(cm[n/k][n%k]); v > mid {
			annotations.TextStyle[n].Color = color.White
		}
	}
	p.Add(annotations)

	legend := plot.NewLegend()
	thumbs := plotter.PaletteThumbnailers(pal)
	for i := len(thumbs) - 1; i >= 0; i-- {
		switch i {
		case len(thumbs) - 1:
			legend.Add(fmt.Sprintf("%.0f", heat.Max), thumbs[i])
		case 0:
			legend.Add(fmt.Sprintf("%.0f", heat.Min), thumbs[i])
		default:
			legend.Add("", thumbs[i])
		}
	}
	legend.Top = true

	img := vgimg.NewWith(vgimg.UseWH(width, height), vgimg.UseDPI(dpi))
	dc := draw.New(img)
	r := legend.Rectangle(dc)
	legend.YOffs = -p.Title.TextStyle.FontExtents().Height
	legend.Draw(dc)
	p.Draw(draw.Crop(dc, 0, -(r.Max.X-r.Min.X)-vg.Millimeter, 0, 0))

	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(w); err != nil {
		return errors.Wrap(err, "failed to encode confusion matrix png")
	}
	return nil
}

// ConfusionMatrixPNG writes the heat map to path
func ConfusionMatrixPNG(cm [][]int, labels []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	if err := WriteConfusionMatrix(f, cm, labels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
