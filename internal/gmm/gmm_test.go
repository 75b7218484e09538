package gmm_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// generate data from a normal distribution around each mean
func generateData(rng *rand.Rand, num int, sd float64, means ...[]float64) [][]float64 {
	var ans [][]float64
	for _, mean := range means {
		for i := 0; i < num; i++ {
			p := make([]float64, len(mean))
			for d := range mean {
				p[d] = mean[d] + rng.NormFloat64()*sd
			}
			ans = append(ans, p)
		}
	}
	return ans
}

func requireValidWeights(t *testing.T, m *gmm.Model) {
	t.Helper()
	require.InDelta(t, 1.0, m.WeightSum(), 1e-6)
	for _, p := range m.Peaks {
		require.GreaterOrEqual(t, p.Weight, 0.0)
	}
}

func TestFitSeparatesOneDimensionalClusters(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	data := generateData(rng, 300, 0.05, []float64{1.0}, []float64{2.0})

	m, err := gmm.NewEM(7).Fit(data, 4)
	require.NoError(t, err)
	require.Len(t, m.Peaks, 2)
	requireValidWeights(t, m)

	require.InDelta(t, 1.0, m.Peaks[0].Mean[0], 0.02)
	require.InDelta(t, 2.0, m.Peaks[1].Mean[0], 0.02)
	require.InDelta(t, 0.5, m.Peaks[0].Weight, 0.02)
	require.InDelta(t, 0.05, m.Peaks[0].StdDev(0), 0.01)
	require.Len(t, m.Peaks[0].Members, 300)
	require.Len(t, m.Peaks[1].Members, 300)
	require.Len(t, m.Assignments, len(data))
}

func TestFitJointClusters(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	data := generateData(rng, 200, 0.02,
		[]float64{1.0, 0.49},
		[]float64{1.5, 0.33},
		[]float64{0.5, 0.05},
	)

	m, err := gmm.NewEM(11).Fit(data, 5)
	require.NoError(t, err)
	require.Len(t, m.Peaks, 3)
	requireValidWeights(t, m)

	// ascending copy ratio
	require.InDelta(t, 0.5, m.Peaks[0].Mean[0], 0.01)
	require.InDelta(t, 0.05, m.Peaks[0].Mean[1], 0.01)
	require.InDelta(t, 1.0, m.Peaks[1].Mean[0], 0.01)
	require.InDelta(t, 0.49, m.Peaks[1].Mean[1], 0.01)
	require.InDelta(t, 1.5, m.Peaks[2].Mean[0], 0.01)
	for _, p := range m.Peaks {
		require.Equal(t, 2, p.Dim())
	}
}

func TestFitIsDeterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	data := generateData(rng, 150, 0.1, []float64{1.0}, []float64{1.4}, []float64{2.1})

	a, err := gmm.NewEM(42).Fit(data, 5)
	require.NoError(t, err)
	b, err := gmm.NewEM(42).Fit(data, 5)
	require.NoError(t, err)

	require.Equal(t, a.Assignments, b.Assignments)
	require.Equal(t, len(a.Peaks), len(b.Peaks))
	for i := range a.Peaks {
		require.Equal(t, a.Peaks[i].Mean, b.Peaks[i].Mean)
		require.Equal(t, a.Peaks[i].Weight, b.Peaks[i].Weight)
	}
}

func TestFitIdenticalPoints(t *testing.T) {
	data := make([][]float64, 50)
	for i := range data {
		data[i] = []float64{1.0}
	}

	m, err := gmm.NewEM(1).Fit(data, 5)
	require.NoError(t, err)
	require.Len(t, m.Peaks, 1)
	require.Equal(t, 1.0, m.Peaks[0].Weight)
	require.InDelta(t, 1.0, m.Peaks[0].Mean[0], 1e-12)
	require.Len(t, m.Peaks[0].Members, 50)
}

func TestFitErrors(t *testing.T) {
	em := gmm.NewEM(1)

	_, err := em.Fit(nil, 2)
	require.ErrorIs(t, err, gmm.ErrNoPoints)

	_, err = em.Fit([][]float64{{1}, {1, 2}}, 2)
	require.ErrorIs(t, err, gmm.ErrDimension)

	_, err = em.Fit([][]float64{{1}, {2}}, 0)
	require.ErrorIs(t, err, gmm.ErrComponents)

	_, err = em.Fit([][]float64{{1}, {math.NaN()}}, 2)
	require.Error(t, err)
}

func TestPeakDistance(t *testing.T) {
	p := gmm.Peak{
		Mean:       []float64{1.0, 0.5},
		Covariance: mat.NewSymDense(2, []float64{0.01, 0, 0, 0.0004}),
		Weight:     1,
	}

	require.InDelta(t, 0.0, p.Distance([]float64{1.0, 0.5}, nil), 1e-12)
	require.InDelta(t, 2.0, p.Distance([]float64{1.2, 0.5}, nil), 1e-9)
	require.InDelta(t, 2.0, p.Distance([]float64{1.0, 0.46}, nil), 1e-9)

	// widening by the point's own variance shrinks the distance
	require.InDelta(t, 0.2/math.Sqrt(0.02), p.Distance([]float64{1.2, 0.5}, []float64{0.01, 0}), 1e-9)
	require.InDelta(t, 0.1, p.StdDev(0), 1e-12)
}
