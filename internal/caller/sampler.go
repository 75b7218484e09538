package caller

import (
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/grailbio/base/traverse"
)

// SampledPoint is a draw from the posteriors of one segment. CopyRatio is on
// the linear scale and is NaN when copy ratio data was not loaded.
type SampledPoint struct {
	CopyRatio         float64
	AlleleFraction    float64
	HasAlleleFraction bool
	Segment           int // index of the originating segment
}

// Sampler draws points from segment posteriors. The number of points of a
// segment is proportional to its number of probes, so that long segments
// dominate the pooled distribution.
type Sampler struct {
	Mode       Mode
	NumSamples int
	Seed       uint64
	Threads    int
	// Exclude reports contigs that must not contribute points.
	Exclude func(contig string) bool
}

// Counts returns the number of points drawn for every segment:
// ceil(NumSamples * probes / total probes).
func (s Sampler) Counts(segments []Segment) []int {
	probes := make([]int, len(segments))
	var total int
	for i, seg := range segments {
		if s.Exclude != nil && s.Exclude(seg.Contig) {
			continue
		}
		probes[i] = max(seg.probes(s.Mode), 0)
		total += probes[i]
	}

	counts := make([]int, len(segments))
	if total == 0 {
		return counts
	}
	for i, p := range probes {
		counts[i] = int(math.Ceil(float64(s.NumSamples) * float64(p) / float64(total)))
	}
	return counts
}

// Sample draws the pooled points. Every segment has its own generator
// seeded from Seed and the segment index, so the result does not depend on
// the number of threads. Points are returned in segment order.
func (s Sampler) Sample(segments []Segment) []SampledPoint {
	counts := s.Counts(segments)
	perSegment := make([][]SampledPoint, len(segments))

	threads := s.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	// sampleSegment never fails
	_ = traverse.Limit(threads).Each(len(segments), func(i int) error {
		if counts[i] > 0 {
			perSegment[i] = s.sampleSegment(segments[i], i, counts[i])
		}
		return nil
	})

	var total int
	for _, c := range counts {
		total += c
	}
	points := make([]SampledPoint, 0, total)
	for _, p := range perSegment {
		points = append(points, p...)
	}
	return points
}

func (s Sampler) sampleSegment(seg Segment, index, n int) []SampledPoint {
	rng := rand.New(rand.NewPCG(s.Seed, uint64(index)))
	withCopyRatio := s.Mode != AlleleFractionMode && seg.HasCopyRatio()
	withAlleleFraction := s.Mode != CopyRatioMode && seg.HasAlleleFraction()

	points := make([]SampledPoint, n)
	for j := range points {
		p := SampledPoint{CopyRatio: math.NaN(), Segment: index}
		if withCopyRatio {
			log2 := seg.Log2CopyRatio.Mean() + seg.Log2CopyRatio.StdDev()*rng.NormFloat64()
			p.CopyRatio = math.Exp2(log2)
		}
		if withAlleleFraction {
			af := seg.MinorAlleleFraction.Mean() + seg.MinorAlleleFraction.StdDev()*rng.NormFloat64()
			p.AlleleFraction = foldAlleleFraction(af)
			p.HasAlleleFraction = true
		}
		points[j] = p
	}
	return points
}

// foldAlleleFraction maps an allele fraction onto the minor allele fraction
// range [0, 0.5].
func foldAlleleFraction(af float64) float64 {
	af = math.Mod(math.Abs(af), 1)
	if af > 0.5 {
		af = 1 - af
	}
	return af
}
