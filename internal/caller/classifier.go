package caller

import (
	"math"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// Label is the call made for a segment.
type Label int

const (
	Indeterminate Label = iota
	Normal
	NotNormal
)

func (l Label) String() string {
	switch l {
	case Normal:
		return "NORMAL"
	case NotNormal:
		return "NOT_NORMAL"
	default:
		return "INDETERMINATE"
	}
}

// Call is the classification of one input segment.
type Call struct {
	Segment int
	Label   Label
	// Peak is the index of the peak explaining the call: the normal peak
	// for normal segments, the nearest other peak otherwise, -1 if none.
	Peak int
	// Distance is the Mahalanobis distance to the normal peak, NaN when
	// indeterminate.
	Distance float64
}

// SegmentClassifier labels segments against the normal peak. A segment is
// normal when the Mahalanobis distance between its posterior mean and the
// normal peak, under the peak covariance widened by the segment's own
// posterior variance, is at most MaxDistance.
type SegmentClassifier struct {
	Mode        Mode
	MaxDistance float64
}

// Classify returns one call per segment, in input order.
func (c SegmentClassifier) Classify(segments []Segment, peaks []gmm.Peak, normal NormalPeakSet) []Call {
	calls := make([]Call, len(segments))
	for i, s := range segments {
		calls[i] = c.classify(i, s, peaks, normal)
	}
	return calls
}

func (c SegmentClassifier) classify(i int, s Segment, peaks []gmm.Peak, normal NormalPeakSet) Call {
	call := Call{Segment: i, Label: Indeterminate, Peak: -1, Distance: math.NaN()}
	if !normal.Found() {
		return call
	}
	x, variances, ok := s.features(c.Mode)
	if !ok {
		return call
	}

	call.Distance = normal.Peak.Distance(x, variances)
	if call.Distance <= c.MaxDistance {
		call.Label = Normal
		call.Peak = normal.Index
		return call
	}

	call.Label = NotNormal
	best := math.Inf(1)
	for j, p := range peaks {
		if j == normal.Index {
			continue
		}
		if d := p.Distance(x, variances); d < best {
			best = d
			call.Peak = j
		}
	}
	return call
}
