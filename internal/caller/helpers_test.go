package caller_test

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// segment builds a segment with narrow posteriors. A NaN allele fraction
// leaves the allele fraction posterior out.
func segment(contig string, probes int, log2 float64, af float64) caller.Segment {
	s := caller.Segment{
		Contig:             contig,
		Start:              1,
		End:                1000000,
		NumPointsCopyRatio: probes,
		Log2CopyRatio:      &caller.Posterior{P10: log2 - 0.02, P50: log2, P90: log2 + 0.02},
	}
	if !math.IsNaN(af) {
		s.NumPointsAlleleFraction = probes / 10
		s.MinorAlleleFraction = &caller.Posterior{P10: af - 0.01, P50: af, P90: af + 0.01}
	}
	return s
}

// peak builds a peak with a diagonal covariance.
func peak(weight float64, mean, sd []float64, members ...int) gmm.Peak {
	cov := mat.NewSymDense(len(mean), nil)
	for i, s := range sd {
		cov.SetSym(i, i, s*s)
	}
	return gmm.Peak{Mean: mean, Covariance: cov, Weight: weight, Members: members}
}

func span(from, to int) []int {
	var idx []int
	for i := from; i < to; i++ {
		idx = append(idx, i)
	}
	return idx
}

// stubFitter returns fixed peaks regardless of the points.
type stubFitter struct {
	peaks []gmm.Peak
}

func (f stubFitter) Fit(points [][]float64, maxComponents int) (*gmm.Model, error) {
	m := &gmm.Model{Peaks: f.peaks, Assignments: make([]int, len(points)), Converged: true}
	return m, nil
}

func testConfig() caller.Config {
	cfg := caller.DefaultConfig()
	cfg.NumSamples = 2000
	cfg.Threads = 2
	return cfg
}
