// Package report renders the diagnostics of a calling run: PNG plots of the
// fitted mixtures and of the segment calls, and a terminal histogram.
package report

import (
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
)

const histogramBins = 100

var (
	width  = 20 * vg.Centimeter
	height = 12 * vg.Centimeter

	labelColors = map[caller.Label]color.Color{
		caller.Normal:        color.RGBA{R: 46, G: 139, B: 87, A: 255},
		caller.NotNormal:     color.RGBA{R: 200, G: 30, B: 30, A: 255},
		caller.Indeterminate: color.RGBA{R: 150, G: 150, B: 150, A: 255},
	}
	peakColors = []color.Color{
		color.RGBA{R: 31, G: 119, B: 180, A: 255},
		color.RGBA{R: 255, G: 127, B: 14, A: 255},
		color.RGBA{R: 148, G: 103, B: 189, A: 255},
		color.RGBA{R: 140, G: 86, B: 75, A: 255},
		color.RGBA{R: 227, G: 119, B: 194, A: 255},
	}
)

// fitView returns the one dimensional clustering drawn in the fit plot and
// the axis it lives on.
func fitView(res *caller.Result) (*caller.Clustering, string, [2]float64) {
	if res.CopyRatio != nil {
		return res.CopyRatio, "Copy ratio", res.Normal.CopyRatioRange
	}
	return res.Clustering, "Minor allele fraction", res.Normal.AlleleFractionRange
}

// column returns the first coordinate of every row.
func column(data [][]float64) plotter.Values {
	values := make(plotter.Values, len(data))
	for i, row := range data {
		values[i] = row[0]
	}
	return values
}

// SaveFitPlot draws a histogram of the sampled points with the fitted peaks
// on top and the normal range as dashed lines. The image format follows the
// extension of outfile.
func SaveFitPlot(outfile string, res *caller.Result) error {
	view, axis, normal := fitView(res)
	p := plot.New()
	p.Title.Text = axis + " fit"
	p.X.Label.Text = axis
	p.Y.Label.Text = "Density"

	values := column(view.Data)
	if len(values) > 1 {
		h, err := plotter.NewHist(values, histogramBins)
		if err != nil {
			return fmt.Errorf("histogram: %w", err)
		}
		h.Normalize(1)
		h.FillColor = color.Gray{Y: 200}
		h.LineStyle.Width = 0
		p.Add(h)
	}

	for i, peak := range view.Peaks {
		dist := distuv.Normal{Mu: peak.Mean[0], Sigma: peak.StdDev(0)}
		weight := peak.Weight
		f := plotter.NewFunction(func(x float64) float64 { return weight * dist.Prob(x) })
		f.Color = peakColors[i%len(peakColors)]
		f.Width = vg.Points(1.5)
		f.Samples = 500
		p.Add(f)
		p.Legend.Add(fmt.Sprintf("peak %d (%.2f)", i, peak.Weight), f)
	}

	if res.Normal.Found() && normal != [2]float64{} {
		top := p.Y.Max
		if math.IsInf(top, 0) {
			top = 1
		}
		for _, x := range normal {
			if err := addLine(p, plotter.XY{X: x, Y: 0}, plotter.XY{X: x, Y: top}, labelColors[caller.Normal], true); err != nil {
				return fmt.Errorf("normal range: %w", err)
			}
		}
	}

	if err := p.Save(width, height, outfile); err != nil {
		return fmt.Errorf("saving %s: %w", outfile, err)
	}
	slog.Info("Saved fit plot", "file", outfile)
	return nil
}

// SaveClassificationPlot draws every segment at its posterior mean, colored
// by its call. Segments are placed in copy ratio and allele fraction space
// in joint mode, against their index otherwise.
func SaveClassificationPlot(outfile string, segments []caller.Segment, res *caller.Result) error {
	p := plot.New()
	p.Title.Text = "Segment calls"
	switch res.Mode {
	case caller.JointMode:
		p.X.Label.Text = "Copy ratio"
		p.Y.Label.Text = "Minor allele fraction"
	case caller.CopyRatioMode:
		p.X.Label.Text = "Copy ratio"
		p.Y.Label.Text = "Segment"
	case caller.AlleleFractionMode:
		p.X.Label.Text = "Minor allele fraction"
		p.Y.Label.Text = "Segment"
	}

	byLabel := make(map[caller.Label]plotter.XYs)
	for _, c := range res.Calls {
		s := segments[c.Segment]
		var xy plotter.XY
		switch res.Mode {
		case caller.JointMode:
			if !s.HasCopyRatio() || !s.HasAlleleFraction() {
				continue
			}
			xy = plotter.XY{X: s.CopyRatio(), Y: s.AlleleFraction()}
		case caller.CopyRatioMode:
			if !s.HasCopyRatio() {
				continue
			}
			xy = plotter.XY{X: s.CopyRatio(), Y: float64(c.Segment)}
		case caller.AlleleFractionMode:
			if !s.HasAlleleFraction() {
				continue
			}
			xy = plotter.XY{X: s.AlleleFraction(), Y: float64(c.Segment)}
		}
		byLabel[c.Label] = append(byLabel[c.Label], xy)
	}

	for _, label := range []caller.Label{caller.Normal, caller.NotNormal, caller.Indeterminate} {
		if err := addScatter(p, byLabel[label], labelColors[label], vg.Points(2.5), nil, label.String()); err != nil {
			return err
		}
	}

	if err := p.Save(width, height, outfile); err != nil {
		return fmt.Errorf("saving %s: %w", outfile, err)
	}
	slog.Info("Saved classification plot", "file", outfile)
	return nil
}

// ASCIIHistogram renders a histogram of values in the terminal, or an empty
// string when there is nothing to draw.
func ASCIIHistogram(values []float64, bins int, caption string) string {
	if len(values) == 0 || bins < 1 {
		return ""
	}
	lo, hi := floats.Min(values), floats.Max(values)
	counts := make([]float64, bins)
	for _, v := range values {
		i := 0
		if hi > lo {
			i = int(float64(bins) * (v - lo) / (hi - lo))
		}
		counts[min(i, bins-1)]++
	}
	graph := asciigraph.Plot(counts,
		asciigraph.Height(10),
		asciigraph.Precision(0),
		asciigraph.Caption(fmt.Sprintf("%s [%.3g, %.3g]", caption, lo, hi)),
	)
	return strings.TrimRight(graph, "\n")
}

// WriteHistogram writes the histogram of the copy ratio, or allele
// fraction, of the sampled points to w.
func WriteHistogram(w io.Writer, res *caller.Result) error {
	view, axis, _ := fitView(res)
	graph := ASCIIHistogram(column(view.Data), 60, axis)
	if graph == "" {
		return nil
	}
	_, err := fmt.Fprintln(w, graph)
	return err
}
