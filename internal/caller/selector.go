package caller

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// NormalPeakSet is the outcome of the normal peak selection.
type NormalPeakSet struct {
	// Peak is the selected normal peak, nil when none was found.
	Peak *gmm.Peak
	// Index is the position of Peak in the peaks it was selected from, or -1.
	Index int
	// Candidates are the indices of the peaks that passed the normal tests
	// before the final choice.
	Candidates []int
	// CopyRatioRange and AlleleFractionRange span the values considered
	// normal around the selected peak. Zero when the dimension is absent.
	CopyRatioRange      [2]float64
	AlleleFractionRange [2]float64
}

// Found reports whether a normal peak was selected.
func (n NormalPeakSet) Found() bool {
	return n.Peak != nil
}

func noNormalPeak(candidates []int) NormalPeakSet {
	return NormalPeakSet{Index: -1, Candidates: candidates}
}

// NormalPeakSelector identifies the peak of the copy number 2, balanced
// allele fraction population.
type NormalPeakSelector struct {
	AlleleFractionThreshold   float64
	MinFractionAboveThreshold float64
	MinWeightFirstPeak        float64
	MinWeightSecondPeak       float64
	ZeroCopyRatio             float64
	// RangeWidth is the number of standard deviations spanned on each side
	// of the normal peak by the normal ranges.
	RangeWidth float64
}

func newNormalPeakSelector(cfg Config) NormalPeakSelector {
	return NormalPeakSelector{
		AlleleFractionThreshold:   cfg.NormalMinorAlleleFractionThreshold,
		MinFractionAboveThreshold: cfg.MinFractionOfPointsInNormalAlleleFractionRegion,
		MinWeightFirstPeak:        cfg.MinWeightFirstCopyRatioPeak,
		MinWeightSecondPeak:       cfg.MinWeightSecondCopyRatioPeak,
		ZeroCopyRatio:             cfg.ZeroCopyRatio,
		RangeWidth:                cfg.MaxNormalDistance,
	}
}

// Select dispatches on the mode of the clustering.
func (s NormalPeakSelector) Select(c *Clustering) (NormalPeakSet, error) {
	switch c.Mode {
	case CopyRatioMode:
		return s.SelectCopyRatio(c.Peaks), nil
	case JointMode:
		return s.SelectJoint(c)
	case AlleleFractionMode:
		return s.SelectAlleleFraction(c)
	default:
		return noNormalPeak(nil), fmt.Errorf("%w: unknown mode %v", ErrConfig, c.Mode)
	}
}

// SelectCopyRatio selects among copy ratio peaks sorted by ascending mean.
// A single peak is normal. Otherwise the lowest non-zero peak is normal if
// it is heavy enough or if the next peak is too light to compete; if not,
// the lowest peak is taken as a loss and the next one is normal.
func (s NormalPeakSelector) SelectCopyRatio(peaks []gmm.Peak) NormalPeakSet {
	candidates := s.nonZero(peaks)
	if len(candidates) == 0 {
		slog.Info("No copy ratio peak available for normal selection")
		return noNormalPeak(candidates)
	}
	return s.build(CopyRatioMode, peaks, candidates, s.firstOrSecond(peaks, candidates))
}

// SelectJoint selects among joint peaks. A peak is a candidate when its
// allele fraction mean lies within one standard deviation of the band
// (threshold, 0.5] and enough of its points lie above the threshold.
// Among candidates, the lowest copy ratio ones compete as in
// SelectCopyRatio.
func (s NormalPeakSelector) SelectJoint(c *Clustering) (NormalPeakSet, error) {
	candidates, err := s.balanced(c, s.nonZero(c.Peaks))
	if err != nil {
		return noNormalPeak(nil), err
	}
	if len(candidates) == 0 {
		slog.Info("No peak with a balanced allele fraction, no normal peak found")
		return noNormalPeak(candidates), nil
	}
	return s.build(JointMode, c.Peaks, candidates, s.firstOrSecond(c.Peaks, candidates)), nil
}

// SelectAlleleFraction selects among allele fraction peaks. Candidates pass
// the same balance tests as in SelectJoint; the heaviest one is normal.
func (s NormalPeakSelector) SelectAlleleFraction(c *Clustering) (NormalPeakSet, error) {
	all := make([]int, len(c.Peaks))
	for i := range all {
		all[i] = i
	}
	candidates, err := s.balanced(c, all)
	if err != nil {
		return noNormalPeak(nil), err
	}
	if len(candidates) == 0 {
		slog.Info("No balanced allele fraction peak, no normal peak found")
		return noNormalPeak(candidates), nil
	}

	// Peaks ascend in allele fraction, so >= prefers the more balanced one on ties
	chosen := candidates[0]
	for _, i := range candidates[1:] {
		if c.Peaks[i].Weight >= c.Peaks[chosen].Weight {
			chosen = i
		}
	}
	return s.build(AlleleFractionMode, c.Peaks, candidates, chosen), nil
}

// nonZero returns the indices of the peaks above the zero copy ratio.
func (s NormalPeakSelector) nonZero(peaks []gmm.Peak) []int {
	var idx []int
	for i, p := range peaks {
		if p.Mean[0] > s.ZeroCopyRatio {
			idx = append(idx, i)
		}
	}
	return idx
}

func (s NormalPeakSelector) firstOrSecond(peaks []gmm.Peak, candidates []int) int {
	if len(candidates) == 1 {
		return candidates[0]
	}
	first, second := peaks[candidates[0]], peaks[candidates[1]]
	if first.Weight > s.MinWeightFirstPeak || second.Weight < s.MinWeightSecondPeak {
		return candidates[0]
	}
	slog.Debug("Lowest copy ratio peak taken as copy number 1", "peak", first)
	return candidates[1]
}

// balanced filters the given peaks down to those whose allele fraction is
// consistent with a balanced state.
func (s NormalPeakSelector) balanced(c *Clustering, idx []int) ([]int, error) {
	dim := c.alleleFractionDim()
	if dim < 0 {
		return nil, fmt.Errorf("%w: %v clustering has no allele fraction", ErrConfig, c.Mode)
	}

	var candidates []int
	for _, i := range idx {
		p := c.Peaks[i]
		mean, sd := p.Mean[dim], p.StdDev(dim)
		if !inRange(mean, 0, 0.5) {
			return nil, fmt.Errorf("%w: peak %d has allele fraction mean %v", ErrAlleleFractionRange, i, mean)
		}
		if math.Max(0, s.AlleleFractionThreshold-mean) > sd {
			continue
		}
		if len(p.Members) == 0 {
			continue
		}
		var above int
		for _, m := range p.Members {
			if c.Data[m][dim] > s.AlleleFractionThreshold {
				above++
			}
		}
		if frac := float64(above) / float64(len(p.Members)); frac < s.MinFractionAboveThreshold {
			slog.Debug("Peak has too few points in the normal allele fraction region", "peak", p, "fraction", frac)
			continue
		}
		candidates = append(candidates, i)
	}
	return candidates, nil
}

func (s NormalPeakSelector) build(mode Mode, peaks []gmm.Peak, candidates []int, chosen int) NormalPeakSet {
	p := peaks[chosen]
	set := NormalPeakSet{Peak: &p, Index: chosen, Candidates: candidates}
	switch mode {
	case CopyRatioMode:
		set.CopyRatioRange = s.span(p, 0, math.Inf(1))
	case AlleleFractionMode:
		set.AlleleFractionRange = s.span(p, 0, 0.5)
	case JointMode:
		set.CopyRatioRange = s.span(p, 0, math.Inf(1))
		set.AlleleFractionRange = s.span(p, 1, 0.5)
	}
	slog.Info("Selected normal peak", "mode", mode, "index", chosen, "peak", p, "candidates", len(candidates))
	return set
}

func (s NormalPeakSelector) span(p gmm.Peak, dim int, upper float64) [2]float64 {
	half := s.RangeWidth * p.StdDev(dim)
	return [2]float64{math.Max(p.Mean[dim]-half, 0), math.Min(p.Mean[dim]+half, upper)}
}
