package gmm

import (
	"log/slog"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// EM fits mixtures by expectation maximization. For every component count
// from one up to the requested maximum it keeps the best of Restarts runs
// and returns the count with the lowest BIC. Fit is deterministic for a
// given Seed.
type EM struct {
	Seed           uint64
	Restarts       int
	MaxIterations  int
	Tolerance      float64 // on the change of the mean log-likelihood
	Regularization float64 // added to covariance diagonals
}

// NewEM returns an EM fitter with defaults close to scikit-learn's.
func NewEM(seed uint64) *EM {
	return &EM{
		Seed:           seed,
		Restarts:       3,
		MaxIterations:  200,
		Tolerance:      1e-6,
		Regularization: 1e-6,
	}
}

// Fit implements Fitter.
func (e *EM) Fit(points [][]float64, maxComponents int) (*Model, error) {
	dim, err := checkPoints(points)
	if err != nil {
		return nil, err
	}
	if maxComponents < 1 {
		return nil, ErrComponents
	}

	// There cannot be more components than distinct points
	maxK := distinctUpTo(points, maxComponents)
	rng := rand.New(rand.NewPCG(e.Seed, uint64(dim)))
	restarts := max(e.Restarts, 1)

	var best *Model
	for k := 1; k <= maxK; k++ {
		var bestK *Model
		for r := 0; r < restarts; r++ {
			m, err := e.fitK(points, dim, k, rng)
			if err != nil {
				continue
			}
			if bestK == nil || m.LogLikelihood > bestK.LogLikelihood {
				bestK = m
			}
		}
		if bestK == nil {
			continue
		}
		slog.Debug("Fitted mixture", "components", len(bestK.Peaks), "bic", bestK.BIC, "iterations", bestK.Iterations)
		if best == nil || bestK.BIC < best.BIC {
			best = bestK
		}
	}
	if best == nil {
		return nil, ErrDegenerateFit
	}
	best.sortPeaks()
	return best, nil
}

type component struct {
	weight float64
	mean   []float64
	cov    *mat.SymDense
	dist   *distmv.Normal
}

func (e *EM) fitK(points [][]float64, dim, k int, rng *rand.Rand) (*Model, error) {
	n := len(points)
	resp := make([][]float64, k)
	for j := range resp {
		resp[j] = make([]float64, n)
	}

	// Hard assignment to k-means++ seeds as the first E-step
	centers := seedCenters(points, k, rng)
	for i, p := range points {
		resp[nearest(p, centers)][i] = 1
	}

	comps := e.maximize(points, dim, resp)
	if len(comps) == 0 {
		return nil, ErrDegenerateFit
	}

	var (
		ll        float64
		prev      = math.Inf(-1)
		converged bool
		iter      int
	)
	for iter = 1; iter <= e.MaxIterations; iter++ {
		resp, ll = expect(points, comps)
		if math.Abs(ll-prev)/float64(n) < e.Tolerance {
			converged = true
			break
		}
		prev = ll
		comps = e.maximize(points, dim, resp)
		if len(comps) == 0 {
			return nil, ErrDegenerateFit
		}
	}
	if !converged {
		resp, ll = expect(points, comps)
		iter = e.MaxIterations
	}

	m := &Model{
		Peaks:         make([]Peak, len(comps)),
		LogLikelihood: ll,
		Iterations:    iter,
		Converged:     converged,
		Assignments:   make([]int, n),
	}
	for j, c := range comps {
		m.Peaks[j] = Peak{Mean: c.mean, Covariance: c.cov, Weight: c.weight}
	}
	column := make([]float64, len(comps))
	for i := range points {
		for j := range comps {
			column[j] = resp[j][i]
		}
		m.Assignments[i] = floats.MaxIdx(column)
	}

	kk := float64(len(comps))
	d := float64(dim)
	params := kk*d + kk*d*(d+1)/2 + kk - 1
	m.BIC = -2*ll + params*math.Log(float64(n))
	return m, nil
}

// expect computes responsibilities for every component and point and
// returns them along with the total log-likelihood.
func expect(points [][]float64, comps []component) ([][]float64, float64) {
	n := len(points)
	resp := make([][]float64, len(comps))
	for j := range resp {
		resp[j] = make([]float64, n)
	}
	logw := make([]float64, len(comps))
	for j, c := range comps {
		logw[j] = math.Log(c.weight)
	}

	var ll float64
	column := make([]float64, len(comps))
	for i, p := range points {
		for j, c := range comps {
			column[j] = logw[j] + c.dist.LogProb(p)
		}
		lse := floats.LogSumExp(column)
		ll += lse
		for j := range comps {
			resp[j][i] = math.Exp(column[j] - lse)
		}
	}
	return resp, ll
}

// maximize re-estimates the components from the responsibilities.
// Components without support are dropped and the remaining weights are
// renormalized.
func (e *EM) maximize(points [][]float64, dim int, resp [][]float64) []component {
	n := float64(len(points))
	var comps []component
	diff := make([]float64, dim)
	for j := range resp {
		nk := floats.Sum(resp[j])
		if nk < 1e-10*n {
			continue
		}

		mean := make([]float64, dim)
		for i, p := range points {
			if resp[j][i] != 0 {
				floats.AddScaled(mean, resp[j][i], p)
			}
		}
		floats.Scale(1/nk, mean)

		cov := mat.NewSymDense(dim, nil)
		for i, p := range points {
			r := resp[j][i]
			if r == 0 {
				continue
			}
			floats.SubTo(diff, p, mean)
			for a := 0; a < dim; a++ {
				for b := a; b < dim; b++ {
					cov.SetSym(a, b, cov.At(a, b)+r*diff[a]*diff[b])
				}
			}
		}
		cov.ScaleSym(1/nk, cov)
		for a := 0; a < dim; a++ {
			cov.SetSym(a, a, cov.At(a, a)+e.Regularization)
		}

		dist, ok := distmv.NewNormal(mean, cov, nil)
		if !ok {
			continue
		}
		comps = append(comps, component{weight: nk, mean: mean, cov: cov, dist: dist})
	}

	var total float64
	for _, c := range comps {
		total += c.weight
	}
	for j := range comps {
		comps[j].weight /= total
	}
	return comps
}

// seedCenters picks k initial centers with k-means++.
func seedCenters(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centers := [][]float64{points[rng.IntN(len(points))]}
	dist := make([]float64, len(points))
	for len(centers) < k {
		var total float64
		for i, p := range points {
			dist[i] = floats.Distance(p, centers[nearest(p, centers)], 2)
			dist[i] *= dist[i]
			total += dist[i]
		}
		if total == 0 {
			centers = append(centers, points[rng.IntN(len(points))])
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centers = append(centers, points[idx])
	}
	return centers
}

func nearest(p []float64, centers [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for j, c := range centers {
		if d := floats.Distance(p, c, 2); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// distinctUpTo counts the distinct points, stopping at limit.
func distinctUpTo(points [][]float64, limit int) int {
	var seen [][]float64
	for _, p := range points {
		dup := false
		for _, s := range seen {
			if floats.Equal(p, s) {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, p)
			if len(seen) == limit {
				break
			}
		}
	}
	return len(seen)
}
