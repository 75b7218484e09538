package caller

import "errors"

var (
	// ErrConfig marks an invalid option. It is returned before any sampling.
	ErrConfig = errors.New("invalid configuration")
	// ErrSegment marks a segment with missing or inconsistent posterior fields.
	ErrSegment = errors.New("invalid segment")
	// ErrAlleleFractionRange marks a minor allele fraction outside [0, 0.5].
	ErrAlleleFractionRange = errors.New("minor allele fraction outside [0, 0.5]")
)
