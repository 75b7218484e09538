package report

import (
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
)

// ErrNoAlleleFraction is returned when a plot needs an allele fraction
// clustering and the run has none.
var ErrNoAlleleFraction = errors.New("run has no allele fraction clustering")

var (
	pointColor     = color.Gray{Y: 180}
	candidateColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	bandColor      = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	dashes         = []vg.Length{vg.Points(4), vg.Points(2)}
)

// addScatter adds xys to p under the given legend entry. Nothing is added
// for an empty set.
func addScatter(p *plot.Plot, xys plotter.XYs, c color.Color, radius vg.Length, shape draw.GlyphDrawer, legend string) error {
	if len(xys) == 0 {
		return nil
	}
	sc, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("scatter: %w", err)
	}
	sc.GlyphStyle.Color = c
	sc.GlyphStyle.Radius = radius
	if shape != nil {
		sc.GlyphStyle.Shape = shape
	}
	p.Add(sc)
	if legend != "" {
		p.Legend.Add(legend, sc)
	}
	return nil
}

// addLine adds a straight line from a to b.
func addLine(p *plot.Plot, a, b plotter.XY, c color.Color, dashed bool) error {
	l, err := plotter.NewLine(plotter.XYs{a, b})
	if err != nil {
		return fmt.Errorf("line: %w", err)
	}
	l.Color = c
	if dashed {
		l.Dashes = dashes
	}
	p.Add(l)
	return nil
}

// span returns the range of values, or [lo, hi] when there are none.
func span(values []float64, lo, hi float64) (float64, float64) {
	if len(values) == 0 {
		return lo, hi
	}
	return floats.Min(values), floats.Max(values)
}

// pointXY places row of a clustering: copy ratio against allele fraction
// for joint data, the value against the segment of the point otherwise.
func pointXY(res *caller.Result, c *caller.Clustering, row int) plotter.XY {
	if c.Mode == caller.JointMode {
		return plotter.XY{X: c.Data[row][0], Y: c.Data[row][1]}
	}
	return plotter.XY{X: c.Data[row][0], Y: float64(res.Points[c.Index[row]].Segment)}
}

// SaveClustersPlot draws the sampled points of the fit plot against their
// segment, colored by the peak they were assigned to. Points of peaks that
// were filtered out are grey.
func SaveClustersPlot(outfile string, res *caller.Result) error {
	view, axis, _ := fitView(res)
	p := plot.New()
	p.Title.Text = axis + " clusters"
	p.X.Label.Text = axis
	p.Y.Label.Text = "Segment"

	assigned := make([]bool, len(view.Data))
	for i, peak := range view.Peaks {
		xys := make(plotter.XYs, 0, len(peak.Members))
		for _, m := range peak.Members {
			assigned[m] = true
			xys = append(xys, pointXY(res, view, m))
		}
		if err := addScatter(p, xys, peakColors[i%len(peakColors)], vg.Points(1), nil, fmt.Sprintf("peak %d", i)); err != nil {
			return err
		}
	}
	var rest plotter.XYs
	for row, ok := range assigned {
		if !ok {
			rest = append(rest, pointXY(res, view, row))
		}
	}
	if err := addScatter(p, rest, pointColor, vg.Points(1), nil, "filtered"); err != nil {
		return err
	}

	if err := p.Save(width, height, outfile); err != nil {
		return fmt.Errorf("saving %s: %w", outfile, err)
	}
	slog.Info("Saved clusters plot", "file", outfile)
	return nil
}

// SaveAlleleFractionCandidatesPlot draws the peaks the normal peak was
// selected from against the balanced allele fraction band [threshold, 0.5].
// Every peak carries its allele fraction interval of one standard
// deviation. Candidates that passed the balance tests are orange and the
// selected normal peak is circled.
func SaveAlleleFractionCandidatesPlot(outfile string, res *caller.Result, threshold float64) error {
	c := res.Clustering
	if c == nil || c.Mode == caller.CopyRatioMode {
		return ErrNoAlleleFraction
	}
	joint := c.Mode == caller.JointMode
	afDim := 0
	if joint {
		afDim = 1
	}

	p := plot.New()
	p.Title.Text = "Normal allele fraction candidates"
	if joint {
		p.X.Label.Text = "Copy ratio"
		p.Y.Label.Text = "Minor allele fraction"
	} else {
		p.X.Label.Text = "Minor allele fraction"
		p.Y.Label.Text = "Segment"
	}

	points := make(plotter.XYs, len(c.Data))
	for row := range c.Data {
		points[row] = pointXY(res, c, row)
	}
	if err := addScatter(p, points, pointColor, vg.Points(1), nil, ""); err != nil {
		return err
	}

	// the band spans the other axis of the plot
	var across []float64
	for _, xy := range points {
		if joint {
			across = append(across, xy.X)
		} else {
			across = append(across, xy.Y)
		}
	}
	for _, peak := range c.Peaks {
		if joint {
			across = append(across, peak.Mean[0])
		}
	}
	lo, hi := span(across, 0, 1)
	for _, af := range []float64{threshold, 0.5} {
		a, b := plotter.XY{X: lo, Y: af}, plotter.XY{X: hi, Y: af}
		if !joint {
			a, b = plotter.XY{X: af, Y: lo}, plotter.XY{X: af, Y: hi}
		}
		if err := addLine(p, a, b, bandColor, true); err != nil {
			return err
		}
	}

	candidate := make(map[int]bool, len(res.Normal.Candidates))
	for _, i := range res.Normal.Candidates {
		candidate[i] = true
	}
	var others, candidates, normal plotter.XYs
	for i, peak := range c.Peaks {
		mean, sd := peak.Mean[afDim], peak.StdDev(afDim)
		at := plotter.XY{X: mean, Y: float64(i)}
		a, b := plotter.XY{X: mean - sd, Y: float64(i)}, plotter.XY{X: mean + sd, Y: float64(i)}
		if joint {
			at = plotter.XY{X: peak.Mean[0], Y: mean}
			a, b = plotter.XY{X: at.X, Y: mean - sd}, plotter.XY{X: at.X, Y: mean + sd}
		} else {
			// spread the peaks over the segment axis
			at.Y = lo + (hi-lo)*float64(i+1)/float64(len(c.Peaks)+1)
			a.Y, b.Y = at.Y, at.Y
		}
		col := color.Color(color.Black)
		if candidate[i] {
			col = candidateColor
			candidates = append(candidates, at)
		} else {
			others = append(others, at)
		}
		if i == res.Normal.Index {
			normal = append(normal, at)
		}
		if math.IsNaN(sd) {
			continue
		}
		if err := addLine(p, a, b, col, false); err != nil {
			return err
		}
	}
	if err := addScatter(p, others, color.Black, vg.Points(3), draw.CrossGlyph{}, "peak"); err != nil {
		return err
	}
	if err := addScatter(p, candidates, candidateColor, vg.Points(3), draw.TriangleGlyph{}, "candidate"); err != nil {
		return err
	}
	if err := addScatter(p, normal, labelColors[caller.Normal], vg.Points(6), draw.RingGlyph{}, "normal"); err != nil {
		return err
	}

	if err := p.Save(width, height, outfile); err != nil {
		return fmt.Errorf("saving %s: %w", outfile, err)
	}
	slog.Info("Saved allele fraction candidates plot", "file", outfile)
	return nil
}

// SaveSummaryPlot draws every segment along the genome at its posterior
// median, colored by its call, with the normal range as dashed lines.
// Contigs follow each other in the order of the segments. Allele fraction
// is drawn in allele fraction mode, copy ratio otherwise.
func SaveSummaryPlot(outfile string, segments []caller.Segment, res *caller.Result) error {
	_, axis, normal := fitView(res)
	p := plot.New()
	p.Title.Text = "Summary"
	p.X.Label.Text = "Position (Mb)"
	p.Y.Label.Text = axis

	labels := make([]caller.Label, len(segments))
	for i := range labels {
		labels[i] = caller.Indeterminate
	}
	for _, c := range res.Calls {
		labels[c.Segment] = c.Label
	}

	inLegend := make(map[caller.Label]bool)
	var offset, contigEnd float64
	contig := ""
	for i, s := range segments {
		if s.Contig != contig {
			offset += contigEnd
			contigEnd = 0
			contig = s.Contig
		}
		contigEnd = math.Max(contigEnd, float64(s.End))

		var y float64
		switch {
		case res.CopyRatio == nil && s.HasAlleleFraction():
			y = s.AlleleFraction()
		case res.CopyRatio != nil && s.HasCopyRatio():
			y = s.CopyRatio()
		default:
			continue
		}
		if math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		l, err := plotter.NewLine(plotter.XYs{
			{X: (offset + float64(s.Start)) / 1e6, Y: y},
			{X: (offset + float64(s.End)) / 1e6, Y: y},
		})
		if err != nil {
			return fmt.Errorf("segment %s: %w", s, err)
		}
		l.Color = labelColors[labels[i]]
		l.Width = vg.Points(3)
		p.Add(l)
		if !inLegend[labels[i]] {
			inLegend[labels[i]] = true
			p.Legend.Add(labels[i].String(), l)
		}
	}

	if res.Normal.Found() && normal != [2]float64{} && offset+contigEnd > 0 {
		end := (offset + contigEnd) / 1e6
		for _, y := range normal {
			if err := addLine(p, plotter.XY{X: 0, Y: y}, plotter.XY{X: end, Y: y}, labelColors[caller.Normal], true); err != nil {
				return err
			}
		}
	}

	if err := p.Save(width, height, outfile); err != nil {
		return fmt.Errorf("saving %s: %w", outfile, err)
	}
	slog.Info("Saved summary plot", "file", outfile)
	return nil
}
