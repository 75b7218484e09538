package caller

import (
	"fmt"
	"math"
	"slices"
)

// Mode selects which posterior data feeds the engine.
type Mode int

const (
	CopyRatioMode Mode = iota + 1
	AlleleFractionMode
	JointMode
)

func (m Mode) String() string {
	switch m {
	case CopyRatioMode:
		return "copy-ratio"
	case AlleleFractionMode:
		return "allele-fraction"
	case JointMode:
		return "copy-ratio+allele-fraction"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config holds every option of a calling run. Use DefaultConfig as a
// starting point.
type Config struct {
	LoadCopyRatio      bool
	LoadAlleleFraction bool

	// NormalMinorAlleleFractionThreshold is the lower bound of the balanced
	// allele fraction band (threshold, 0.5].
	NormalMinorAlleleFractionThreshold float64
	// CopyRatioPeakMinWeight discards fitted peaks lighter than this.
	CopyRatioPeakMinWeight float64
	// MinFractionOfPointsInNormalAlleleFractionRegion is the share of a
	// peak's points that must lie above the allele fraction threshold.
	MinFractionOfPointsInNormalAlleleFractionRegion float64
	// MinWeightFirstCopyRatioPeak makes the lowest copy ratio peak normal
	// when it is heavier than this.
	MinWeightFirstCopyRatioPeak float64
	// MinWeightSecondCopyRatioPeak makes the lowest copy ratio peak normal
	// when the second peak is lighter than this.
	MinWeightSecondCopyRatioPeak float64
	// ZeroCopyRatio is the copy ratio at or below which a peak is taken as
	// a complete loss and never considered normal.
	ZeroCopyRatio float64
	// MaxNormalDistance is the largest Mahalanobis distance between a
	// segment and the normal peak for the segment to be called normal.
	MaxNormalDistance float64

	NumSamples    int // points drawn over all segments
	MaxComponents int
	Restarts      int
	MinPoints     int // fewer points than this yield no peaks
	Seed          uint64
	Threads       int // sampling goroutines, 0 for GOMAXPROCS

	// ExcludedContigs are called but contribute no points to clustering.
	ExcludedContigs []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		LoadCopyRatio:                                   true,
		LoadAlleleFraction:                              true,
		NormalMinorAlleleFractionThreshold:              0.475,
		CopyRatioPeakMinWeight:                          0.03,
		MinFractionOfPointsInNormalAlleleFractionRegion: 0.15,
		MinWeightFirstCopyRatioPeak:                     0.35,
		MinWeightSecondCopyRatioPeak:                    0.05,
		ZeroCopyRatio:                                   0.1,
		MaxNormalDistance:                               2.0,
		NumSamples:                                      10000,
		MaxComponents:                                   5,
		Restarts:                                        3,
		MinPoints:                                       10,
		Seed:                                            42,
	}
}

// Mode returns the data mode selected by the load flags.
func (c Config) Mode() Mode {
	switch {
	case c.LoadCopyRatio && c.LoadAlleleFraction:
		return JointMode
	case c.LoadAlleleFraction:
		return AlleleFractionMode
	default:
		return CopyRatioMode
	}
}

func inRange(v, lo, hi float64) bool {
	return lo <= v && v <= hi
}

// Validate reports the first option outside its valid range.
func (c Config) Validate() error {
	switch {
	case !c.LoadCopyRatio && !c.LoadAlleleFraction:
		return fmt.Errorf("%w: at least one of copy ratio and allele fraction data must be loaded", ErrConfig)
	case !inRange(c.NormalMinorAlleleFractionThreshold, 0, 0.5):
		return fmt.Errorf("%w: minor allele fraction threshold for normal peaks has to be between 0 and 0.5, got %v", ErrConfig, c.NormalMinorAlleleFractionThreshold)
	case !inRange(c.CopyRatioPeakMinWeight, 0, 1):
		return fmt.Errorf("%w: weight threshold for copy ratio peaks needs to be between 0 and 1, got %v", ErrConfig, c.CopyRatioPeakMinWeight)
	case !inRange(c.MinFractionOfPointsInNormalAlleleFractionRegion, 0, 1):
		return fmt.Errorf("%w: fraction of points in the normal allele fraction region has to be between 0 and 1, got %v", ErrConfig, c.MinFractionOfPointsInNormalAlleleFractionRegion)
	case !inRange(c.MinWeightFirstCopyRatioPeak, 0, 1):
		return fmt.Errorf("%w: minimum weight of the first copy ratio peak has to be between 0 and 1, got %v", ErrConfig, c.MinWeightFirstCopyRatioPeak)
	case !inRange(c.MinWeightSecondCopyRatioPeak, 0, 1):
		return fmt.Errorf("%w: minimum weight of the second copy ratio peak has to be between 0 and 1, got %v", ErrConfig, c.MinWeightSecondCopyRatioPeak)
	case !(c.ZeroCopyRatio >= 0) || math.IsInf(c.ZeroCopyRatio, 1):
		return fmt.Errorf("%w: zero copy ratio cutoff must be a non-negative number, got %v", ErrConfig, c.ZeroCopyRatio)
	case !(c.MaxNormalDistance > 0) || math.IsInf(c.MaxNormalDistance, 1):
		return fmt.Errorf("%w: normal peak distance cutoff must be positive, got %v", ErrConfig, c.MaxNormalDistance)
	case c.NumSamples <= 0:
		return fmt.Errorf("%w: number of samples must be a positive integer, got %d", ErrConfig, c.NumSamples)
	case c.MaxComponents < 1:
		return fmt.Errorf("%w: maximum number of components must be at least 1, got %d", ErrConfig, c.MaxComponents)
	case c.Restarts < 1:
		return fmt.Errorf("%w: number of restarts must be at least 1, got %d", ErrConfig, c.Restarts)
	case c.MinPoints < 1:
		return fmt.Errorf("%w: minimum number of points must be at least 1, got %d", ErrConfig, c.MinPoints)
	case c.Threads < 0:
		return fmt.Errorf("%w: number of threads must be a non-negative integer, got %d", ErrConfig, c.Threads)
	}
	return nil
}

func (c Config) excluded(contig string) bool {
	return slices.Contains(c.ExcludedContigs, contig)
}
