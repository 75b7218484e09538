// Package caller decides which modeled segments are normal. It samples
// points from the segment posteriors, fits Gaussian mixtures to them, picks
// the peak of the copy number 2 population and labels every segment.
package caller

import (
	"fmt"
	"log/slog"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/gmm"
)

// Result holds everything a run produced.
type Result struct {
	Mode   Mode
	Points []SampledPoint
	// CopyRatio is the copy ratio clustering, nil in allele fraction mode.
	// In joint mode it is a diagnostic first pass.
	CopyRatio *Clustering
	// Clustering is the clustering the normal peak was selected from.
	Clustering *Clustering
	Normal     NormalPeakSet
	Calls      []Call
}

// Peaks returns the peaks the normal peak was selected from.
func (r *Result) Peaks() []gmm.Peak {
	return r.Clustering.Peaks
}

// Caller runs the whole calling pipeline.
type Caller struct {
	cfg    Config
	fitter gmm.Fitter
}

// New validates cfg and returns a Caller fitting mixtures by EM.
func New(cfg Config) (*Caller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	em := gmm.NewEM(cfg.Seed)
	em.Restarts = cfg.Restarts
	return &Caller{cfg: cfg, fitter: em}, nil
}

// WithFitter replaces the mixture fitter.
func (c *Caller) WithFitter(f gmm.Fitter) *Caller {
	c.fitter = f
	return c
}

// Run validates cfg and calls segments with it.
func Run(segments []Segment, cfg Config) (*Result, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c.Run(segments)
}

// Run calls the segments. Configuration and data errors abort the run;
// a missing normal peak yields indeterminate calls.
func (c *Caller) Run(segments []Segment) (*Result, error) {
	mode := c.cfg.Mode()
	if err := validateSegments(segments, c.cfg); err != nil {
		return nil, err
	}

	sampler := Sampler{
		Mode:       mode,
		NumSamples: c.cfg.NumSamples,
		Seed:       c.cfg.Seed,
		Threads:    c.cfg.Threads,
	}
	if len(c.cfg.ExcludedContigs) > 0 {
		sampler.Exclude = c.cfg.excluded
	}
	points := sampler.Sample(segments)
	slog.Info("Sampled segment posteriors", "mode", mode, "segments", len(segments), "points", len(points))

	base := clusterer{
		fitter:        c.fitter,
		maxComponents: c.cfg.MaxComponents,
		minPoints:     c.cfg.MinPoints,
		minWeight:     c.cfg.CopyRatioPeakMinWeight,
	}
	res := &Result{Mode: mode, Points: points}

	var err error
	if mode != AlleleFractionMode {
		if res.CopyRatio, err = (CopyRatioClusterer{base}).Cluster(points); err != nil {
			return nil, err
		}
	}
	switch mode {
	case CopyRatioMode:
		res.Clustering = res.CopyRatio
	case JointMode:
		res.Clustering, err = JointClusterer{base}.Cluster(points)
	case AlleleFractionMode:
		res.Clustering, err = AlleleFractionClusterer{base}.Cluster(points)
	}
	if err != nil {
		return nil, err
	}

	if res.Normal, err = newNormalPeakSelector(c.cfg).Select(res.Clustering); err != nil {
		return nil, fmt.Errorf("selecting normal peak: %w", err)
	}

	classifier := SegmentClassifier{Mode: mode, MaxDistance: c.cfg.MaxNormalDistance}
	res.Calls = classifier.Classify(segments, res.Peaks(), res.Normal)

	counts := make(map[Label]int)
	for _, call := range res.Calls {
		counts[call.Label]++
	}
	slog.Info("Called segments", "normal", counts[Normal], "not_normal", counts[NotNormal], "indeterminate", counts[Indeterminate])
	return res, nil
}
