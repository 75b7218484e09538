package caller_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

func testSelector() caller.NormalPeakSelector {
	return caller.NormalPeakSelector{
		AlleleFractionThreshold:   0.475,
		MinFractionAboveThreshold: 0.15,
		MinWeightFirstPeak:        0.35,
		MinWeightSecondPeak:       0.05,
		ZeroCopyRatio:             0.1,
		RangeWidth:                2,
	}
}

func TestSelectCopyRatio(t *testing.T) {
	tests := []struct {
		name  string
		peaks []gmm.Peak
		want  int
	}{
		{
			name:  "single peak",
			peaks: []gmm.Peak{peak(1, []float64{1.4}, []float64{0.1})},
			want:  0,
		},
		{
			name: "heavy first peak",
			peaks: []gmm.Peak{
				peak(0.40, []float64{1.0}, []float64{0.1}),
				peak(0.10, []float64{2.0}, []float64{0.1}),
			},
			want: 0,
		},
		{
			name: "light first peak",
			peaks: []gmm.Peak{
				peak(0.30, []float64{1.0}, []float64{0.1}),
				peak(0.60, []float64{2.0}, []float64{0.1}),
			},
			want: 1,
		},
		{
			name: "light first peak without credible competition",
			peaks: []gmm.Peak{
				peak(0.30, []float64{1.0}, []float64{0.1}),
				peak(0.04, []float64{2.0}, []float64{0.1}),
				peak(0.66, []float64{3.0}, []float64{0.1}),
			},
			want: 0,
		},
		{
			name: "zero copy ratio peak skipped",
			peaks: []gmm.Peak{
				peak(0.50, []float64{0.05}, []float64{0.01}),
				peak(0.30, []float64{1.0}, []float64{0.1}),
				peak(0.20, []float64{2.0}, []float64{0.1}),
			},
			want: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := testSelector().SelectCopyRatio(tt.peaks)
			require.True(t, set.Found())
			require.Equal(t, tt.want, set.Index)
			require.Equal(t, tt.peaks[tt.want].Mean, set.Peak.Mean)
		})
	}
}

func TestSelectCopyRatioRange(t *testing.T) {
	set := testSelector().SelectCopyRatio([]gmm.Peak{
		peak(0.40, []float64{1.0}, []float64{0.1}),
		peak(0.10, []float64{2.0}, []float64{0.1}),
	})
	require.InDelta(t, 0.8, set.CopyRatioRange[0], 1e-9)
	require.InDelta(t, 1.2, set.CopyRatioRange[1], 1e-9)
	require.Equal(t, [2]float64{}, set.AlleleFractionRange)
	require.Equal(t, []int{0, 1}, set.Candidates)
}

func TestSelectCopyRatioWithoutPeaks(t *testing.T) {
	set := testSelector().SelectCopyRatio(nil)
	require.False(t, set.Found())
	require.Equal(t, -1, set.Index)

	set = testSelector().SelectCopyRatio([]gmm.Peak{peak(1, []float64{0.02}, []float64{0.01})})
	require.False(t, set.Found())
}

// jointClustering builds two joint peaks of ten points each at the given
// copy ratios and allele fractions.
func jointClustering(w1, cr1, af1, w2, cr2, af2 float64) *caller.Clustering {
	c := &caller.Clustering{Mode: caller.JointMode}
	for i := 0; i < 10; i++ {
		c.Data = append(c.Data, []float64{cr1, af1})
	}
	for i := 0; i < 10; i++ {
		c.Data = append(c.Data, []float64{cr2, af2})
	}
	c.Peaks = []gmm.Peak{
		peak(w1, []float64{cr1, af1}, []float64{0.1, 0.01}, span(0, 10)...),
		peak(w2, []float64{cr2, af2}, []float64{0.1, 0.01}, span(10, 20)...),
	}
	return c
}

func TestSelectJointBalancedPeaks(t *testing.T) {
	// both peaks balanced: the lower copy ratio wins only when heavy enough
	set, err := testSelector().SelectJoint(jointClustering(0.6, 1.0, 0.49, 0.4, 2.0, 0.50))
	require.NoError(t, err)
	require.Equal(t, 0, set.Index)
	require.Equal(t, []int{0, 1}, set.Candidates)

	set, err = testSelector().SelectJoint(jointClustering(0.3, 1.0, 0.49, 0.7, 2.0, 0.50))
	require.NoError(t, err)
	require.Equal(t, 1, set.Index)
	require.InDelta(t, 2.0, set.Peak.Mean[0], 1e-12)
	require.InDelta(t, 1.8, set.CopyRatioRange[0], 1e-9)
	require.InDelta(t, 2.2, set.CopyRatioRange[1], 1e-9)
	require.InDelta(t, 0.48, set.AlleleFractionRange[0], 1e-9)
	require.InDelta(t, 0.5, set.AlleleFractionRange[1], 1e-9)
}

func TestSelectJointImbalancedPeaks(t *testing.T) {
	// the lower peak is imbalanced, so it never competes
	set, err := testSelector().SelectJoint(jointClustering(0.9, 1.0, 0.30, 0.1, 2.0, 0.49))
	require.NoError(t, err)
	require.Equal(t, 1, set.Index)
	require.Equal(t, []int{1}, set.Candidates)

	// mean within one standard deviation of the band, but every point below it
	set, err = testSelector().SelectJoint(jointClustering(0.5, 1.0, 0.466, 0.5, 2.0, 0.2))
	require.NoError(t, err)
	require.False(t, set.Found())
	require.Empty(t, set.Candidates)
}

func TestSelectJointMinimumFraction(t *testing.T) {
	c := jointClustering(0.5, 1.0, 0.48, 0.5, 2.0, 0.2)
	// move 9 of the 10 points of the first peak below the threshold
	for i := 0; i < 9; i++ {
		c.Data[i][1] = 0.46
	}
	set, err := testSelector().SelectJoint(c)
	require.NoError(t, err)
	require.False(t, set.Found())

	s := testSelector()
	s.MinFractionAboveThreshold = 0.1
	set, err = s.SelectJoint(c)
	require.NoError(t, err)
	require.Equal(t, 0, set.Index)
}

func TestSelectJointRejectsInvalidAlleleFraction(t *testing.T) {
	_, err := testSelector().SelectJoint(jointClustering(0.5, 1.0, 0.49, 0.5, 2.0, 0.7))
	require.ErrorIs(t, err, caller.ErrAlleleFractionRange)
}

func TestSelectAlleleFraction(t *testing.T) {
	c := &caller.Clustering{Mode: caller.AlleleFractionMode}
	for _, af := range []float64{0.1, 0.1, 0.49, 0.49, 0.49} {
		c.Data = append(c.Data, []float64{af})
	}
	c.Peaks = []gmm.Peak{
		peak(0.4, []float64{0.1}, []float64{0.02}, 0, 1),
		peak(0.6, []float64{0.49}, []float64{0.01}, 2, 3, 4),
	}

	set, err := testSelector().Select(c)
	require.NoError(t, err)
	require.Equal(t, 1, set.Index)
	require.Equal(t, [2]float64{}, set.CopyRatioRange)
	require.InDelta(t, 0.47, set.AlleleFractionRange[0], 1e-9)
	require.InDelta(t, 0.5, set.AlleleFractionRange[1], 1e-9)
}
