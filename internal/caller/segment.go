package caller

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// z90 is the 0.9 quantile of the unit normal. The 10th and 90th posterior
// percentiles are z90 standard deviations away from the median.
var z90 = distuv.UnitNormal.Quantile(0.9)

// Posterior summarizes a posterior distribution by its 10th, 50th and 90th
// percentiles, as written by ModelSegments.
type Posterior struct {
	P10, P50, P90 float64
}

// Mean returns the posterior median, used as the point estimate.
func (p Posterior) Mean() float64 {
	return p.P50
}

// StdDev returns the standard deviation of a normal distribution with the
// same 10th and 90th percentiles.
func (p Posterior) StdDev() float64 {
	return (p.P90 - p.P10) / (2 * z90)
}

func (p Posterior) valid() bool {
	if !isFinite(p.P10) || !isFinite(p.P50) || !isFinite(p.P90) {
		return false
	}
	return p.P10 <= p.P50 && p.P50 <= p.P90
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (p Posterior) within(lo, hi float64) bool {
	return lo <= p.P10 && p.P90 <= hi
}

// Segment is a genomic interval with the posteriors estimated for it.
type Segment struct {
	Contig     string
	Start, End int

	NumPointsCopyRatio      int // copy ratio probes, the sampling weight
	NumPointsAlleleFraction int // heterozygous sites

	Log2CopyRatio       *Posterior // log2 scale
	MinorAlleleFraction *Posterior // nil when no allele fraction data exists
}

func (s Segment) String() string {
	return fmt.Sprintf("%s:%d-%d", s.Contig, s.Start, s.End)
}

// HasCopyRatio reports whether a copy ratio posterior is present.
func (s Segment) HasCopyRatio() bool {
	return s.Log2CopyRatio != nil
}

// HasAlleleFraction reports whether a minor allele fraction posterior is present.
func (s Segment) HasAlleleFraction() bool {
	return s.MinorAlleleFraction != nil
}

// CopyRatio returns the linear copy ratio point estimate.
func (s Segment) CopyRatio() float64 {
	return math.Exp2(s.Log2CopyRatio.Mean())
}

// CopyRatioVariance returns the linear scale variance of the copy ratio,
// propagated from the log2 posterior with the delta method.
func (s Segment) CopyRatioVariance() float64 {
	sd := math.Ln2 * s.CopyRatio() * s.Log2CopyRatio.StdDev()
	return sd * sd
}

// AlleleFraction returns the minor allele fraction point estimate.
func (s Segment) AlleleFraction() float64 {
	return s.MinorAlleleFraction.Mean()
}

// AlleleFractionVariance returns the variance of the minor allele fraction.
func (s Segment) AlleleFractionVariance() float64 {
	sd := s.MinorAlleleFraction.StdDev()
	return sd * sd
}

// probes returns the number of points backing the data used in mode.
func (s Segment) probes(mode Mode) int {
	if mode == AlleleFractionMode {
		if !s.HasAlleleFraction() {
			return 0
		}
		return s.NumPointsAlleleFraction
	}
	return s.NumPointsCopyRatio
}

// features returns the point estimate and its variances in the coordinates
// of mode. ok is false when the segment lacks the data mode needs.
func (s Segment) features(mode Mode) (x, variances []float64, ok bool) {
	switch mode {
	case CopyRatioMode:
		if !s.HasCopyRatio() {
			return nil, nil, false
		}
		return []float64{s.CopyRatio()}, []float64{s.CopyRatioVariance()}, true
	case AlleleFractionMode:
		if !s.HasAlleleFraction() {
			return nil, nil, false
		}
		return []float64{s.AlleleFraction()}, []float64{s.AlleleFractionVariance()}, true
	default:
		if !s.HasCopyRatio() || !s.HasAlleleFraction() {
			return nil, nil, false
		}
		return []float64{s.CopyRatio(), s.AlleleFraction()},
			[]float64{s.CopyRatioVariance(), s.AlleleFractionVariance()}, true
	}
}

// validateSegments checks the posterior fields required by the load flags.
func validateSegments(segments []Segment, cfg Config) error {
	for i, s := range segments {
		if s.End < s.Start {
			return fmt.Errorf("%w: segment %d (%v) ends before it starts", ErrSegment, i, s)
		}
		if s.NumPointsCopyRatio < 0 || s.NumPointsAlleleFraction < 0 {
			return fmt.Errorf("%w: segment %d (%v) has a negative number of points", ErrSegment, i, s)
		}
		if cfg.LoadCopyRatio {
			if !s.HasCopyRatio() {
				return fmt.Errorf("%w: segment %d (%v) has no copy ratio posterior", ErrSegment, i, s)
			}
			if !s.Log2CopyRatio.valid() {
				return fmt.Errorf("%w: segment %d (%v) has an inconsistent copy ratio posterior %+v", ErrSegment, i, s, *s.Log2CopyRatio)
			}
		}
		if cfg.LoadAlleleFraction {
			if !s.HasAlleleFraction() {
				if s.NumPointsAlleleFraction > 0 {
					return fmt.Errorf("%w: segment %d (%v) has %d allele fraction points but no posterior", ErrSegment, i, s, s.NumPointsAlleleFraction)
				}
				continue
			}
			if !s.MinorAlleleFraction.valid() {
				return fmt.Errorf("%w: segment %d (%v) has an inconsistent allele fraction posterior %+v", ErrSegment, i, s, *s.MinorAlleleFraction)
			}
			if !s.MinorAlleleFraction.within(0, 0.5) {
				return fmt.Errorf("%w: segment %d (%v) has posterior %+v", ErrAlleleFractionRange, i, s, *s.MinorAlleleFraction)
			}
		}
	}
	return nil
}
