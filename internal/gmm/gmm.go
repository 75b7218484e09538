// Package gmm fits Gaussian mixture models with expectation maximization.
package gmm

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrNoPoints      = errors.New("gmm: no points to fit")
	ErrDimension     = errors.New("gmm: points have inconsistent dimensions")
	ErrComponents    = errors.New("gmm: at least one component is required")
	ErrDegenerateFit = errors.New("gmm: every component collapsed")
)

// Peak is a single fitted Gaussian component.
type Peak struct {
	Mean       []float64
	Covariance *mat.SymDense
	Weight     float64
	// Members holds the indices of the fitted points whose most likely
	// component is this peak.
	Members []int
}

// Dim returns the dimension of the peak.
func (p Peak) Dim() int {
	return len(p.Mean)
}

// StdDev returns the marginal standard deviation along dimension i.
func (p Peak) StdDev(i int) float64 {
	return math.Sqrt(p.Covariance.At(i, i))
}

func (p Peak) String() string {
	sd := make([]float64, p.Dim())
	for i := range sd {
		sd[i] = p.StdDev(i)
	}
	return fmt.Sprintf("mean=%.4g sd=%.4g weight=%.4f n=%d", p.Mean, sd, p.Weight, len(p.Members))
}

// Model is a fitted mixture. Peaks are sorted by ascending mean along the
// first dimension and their weights sum to one.
type Model struct {
	Peaks         []Peak
	LogLikelihood float64
	BIC           float64
	Iterations    int
	Converged     bool
	// Assignments maps every fitted point to the index of its peak.
	Assignments []int
}

// Fitter fits a mixture of at most maxComponents Gaussians to points.
type Fitter interface {
	Fit(points [][]float64, maxComponents int) (*Model, error)
}

// WeightSum returns the sum of the peak weights.
func (m *Model) WeightSum() float64 {
	var sum float64
	for _, p := range m.Peaks {
		sum += p.Weight
	}
	return sum
}

// sortPeaks orders the peaks by their first coordinate and rewrites the
// assignments and member lists to match.
func (m *Model) sortPeaks() {
	order := make([]int, len(m.Peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := m.Peaks[order[a]], m.Peaks[order[b]]
		for d := range pa.Mean {
			if pa.Mean[d] != pb.Mean[d] {
				return pa.Mean[d] < pb.Mean[d]
			}
		}
		return pa.Weight > pb.Weight
	})

	rank := make([]int, len(order))
	sorted := make([]Peak, len(order))
	for newIdx, oldIdx := range order {
		rank[oldIdx] = newIdx
		sorted[newIdx] = m.Peaks[oldIdx]
		sorted[newIdx].Members = nil
	}
	for i, a := range m.Assignments {
		m.Assignments[i] = rank[a]
		sorted[rank[a]].Members = append(sorted[rank[a]].Members, i)
	}
	m.Peaks = sorted
}

func checkPoints(points [][]float64) (dim int, err error) {
	if len(points) == 0 {
		return 0, ErrNoPoints
	}
	dim = len(points[0])
	if dim == 0 {
		return 0, ErrDimension
	}
	for _, p := range points {
		if len(p) != dim {
			return 0, ErrDimension
		}
		for _, v := range p {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, fmt.Errorf("gmm: non-finite coordinate %v", v)
			}
		}
	}
	return dim, nil
}

// Distance returns the Mahalanobis distance between x and the peak mean
// under the peak covariance widened by the per-dimension variances of x.
// It returns +Inf when the widened covariance is not positive definite.
func (p Peak) Distance(x, variances []float64) float64 {
	dim := p.Dim()
	cov := mat.NewSymDense(dim, nil)
	cov.CopySym(p.Covariance)
	for i := 0; i < dim && i < len(variances); i++ {
		cov.SetSym(i, i, cov.At(i, i)+variances[i])
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return math.Inf(1)
	}
	return stat.Mahalanobis(mat.NewVecDense(dim, x), mat.NewVecDense(dim, p.Mean), &chol)
}
