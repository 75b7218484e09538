package caller

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// Clustering is the outcome of fitting a mixture to one view of the
// sampled points.
type Clustering struct {
	Mode Mode
	// Data holds the fitted coordinates, one row per used point.
	Data [][]float64
	// Index maps a row of Data to its position in the pooled points.
	Index []int
	// Fit is the raw mixture, nil when there were too few points.
	Fit *gmm.Model
	// Peaks are the fitted peaks that passed the weight filter, in
	// ascending order of their first coordinate. Member indices refer to
	// rows of Data.
	Peaks []gmm.Peak
}

// alleleFractionDim returns the column holding the allele fraction, or -1.
func (c *Clustering) alleleFractionDim() int {
	switch c.Mode {
	case AlleleFractionMode:
		return 0
	case JointMode:
		return 1
	default:
		return -1
	}
}

type clusterer struct {
	fitter        gmm.Fitter
	maxComponents int
	minPoints     int
	minWeight     float64
}

func (c clusterer) cluster(mode Mode, data [][]float64, index []int) (*Clustering, error) {
	res := &Clustering{Mode: mode, Data: data, Index: index}
	if len(data) < c.minPoints {
		slog.Info("Too few points to cluster", "mode", mode, "points", len(data), "minimum", c.minPoints)
		return res, nil
	}

	fit, err := c.fitter.Fit(data, c.maxComponents)
	if errors.Is(err, gmm.ErrDegenerateFit) {
		slog.Warn("Mixture fit degenerated, no usable peaks", "mode", mode)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fitting %s mixture: %w", mode, err)
	}
	res.Fit = fit

	if afDim := res.alleleFractionDim(); afDim >= 0 {
		for _, p := range fit.Peaks {
			if af := p.Mean[afDim]; !inRange(af, 0, 0.5) {
				return nil, fmt.Errorf("%w: fitted peak has allele fraction mean %v", ErrAlleleFractionRange, af)
			}
		}
	}

	for _, p := range fit.Peaks {
		if p.Weight < c.minWeight {
			slog.Debug("Discarding light peak", "mode", mode, "peak", p)
			continue
		}
		res.Peaks = append(res.Peaks, p)
	}
	slog.Info("Clustered sampled points", "mode", mode, "points", len(data),
		"components", len(fit.Peaks), "peaks", len(res.Peaks))
	return res, nil
}

// CopyRatioClusterer fits a one dimensional mixture to the copy ratio of
// the sampled points.
type CopyRatioClusterer struct{ clusterer }

// Cluster implements the copy ratio clustering.
func (c CopyRatioClusterer) Cluster(points []SampledPoint) (*Clustering, error) {
	var data [][]float64
	var index []int
	for i, p := range points {
		if isFinite(p.CopyRatio) {
			data = append(data, []float64{p.CopyRatio})
			index = append(index, i)
		}
	}
	return c.cluster(CopyRatioMode, data, index)
}

// JointClusterer fits a two dimensional mixture over copy ratio and allele
// fraction. Points without allele fraction are left out.
type JointClusterer struct{ clusterer }

// Cluster implements the joint clustering.
func (c JointClusterer) Cluster(points []SampledPoint) (*Clustering, error) {
	var data [][]float64
	var index []int
	for i, p := range points {
		if isFinite(p.CopyRatio) && p.HasAlleleFraction {
			data = append(data, []float64{p.CopyRatio, p.AlleleFraction})
			index = append(index, i)
		}
	}
	return c.cluster(JointMode, data, index)
}

// AlleleFractionClusterer fits a one dimensional mixture to the allele
// fraction of the sampled points.
type AlleleFractionClusterer struct{ clusterer }

// Cluster implements the allele fraction clustering.
func (c AlleleFractionClusterer) Cluster(points []SampledPoint) (*Clustering, error) {
	var data [][]float64
	var index []int
	for i, p := range points {
		if p.HasAlleleFraction {
			data = append(data, []float64{p.AlleleFraction})
			index = append(index, i)
		}
	}
	return c.cluster(AlleleFractionMode, data, index)
}
