package utils

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"

	"github.com/sbinet/npyio/npz"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
)

// Keys of the diagnostics archive.
const (
	KeyCopyRatio      = "copy_ratio"
	KeyAlleleFraction = "allele_fraction"
	KeySegment        = "segment"
	KeyPeakMeans      = "peak_means"
	KeyPeakStdDevs    = "peak_sd"
	KeyPeakWeights    = "peak_weights"
	KeyNormalIndex    = "normal_index"
	KeyCalls          = "calls"
	KeyDistances      = "distances"
)

// Diagnostics flattens a run into the float arrays stored in the
// diagnostics archive. Peak means and standard deviations are stored row
// major, one row per peak. Absent values are NaN.
func Diagnostics(res *caller.Result) map[string][]float64 {
	d := map[string][]float64{
		KeyCopyRatio:      make([]float64, len(res.Points)),
		KeyAlleleFraction: make([]float64, len(res.Points)),
		KeySegment:        make([]float64, len(res.Points)),
		KeyPeakMeans:      {},
		KeyPeakStdDevs:    {},
		KeyPeakWeights:    {},
		KeyNormalIndex:    {float64(res.Normal.Index)},
		KeyCalls:          make([]float64, len(res.Calls)),
		KeyDistances:      make([]float64, len(res.Calls)),
	}
	for i, p := range res.Points {
		d[KeyCopyRatio][i] = p.CopyRatio
		d[KeyAlleleFraction][i] = math.NaN()
		if p.HasAlleleFraction {
			d[KeyAlleleFraction][i] = p.AlleleFraction
		}
		d[KeySegment][i] = float64(p.Segment)
	}
	for _, p := range res.Peaks() {
		d[KeyPeakMeans] = append(d[KeyPeakMeans], p.Mean...)
		for j := range p.Mean {
			d[KeyPeakStdDevs] = append(d[KeyPeakStdDevs], p.StdDev(j))
		}
		d[KeyPeakWeights] = append(d[KeyPeakWeights], p.Weight)
	}
	for i, c := range res.Calls {
		d[KeyCalls][i] = float64(c.Label)
		d[KeyDistances][i] = c.Distance
	}
	return d
}

// WriteDiagnosticsNpzFile stores the diagnostics of a run in an npz archive.
func WriteDiagnosticsNpzFile(outfile string, res *caller.Result) error {
	out, err := npz.Create(outfile)
	if err != nil {
		return fmt.Errorf("unable to create file %s: %w", outfile, err)
	}

	d := Diagnostics(res)
	keys := slices.Sorted(maps.Keys(d))
	for _, k := range keys {
		if err := out.Write(k, d[k]); err != nil {
			out.Close()
			return fmt.Errorf("unable to write %s to file %s: %w", k, outfile, err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("unable to close file %s: %w", outfile, err)
	}
	slog.Info("Wrote diagnostics", "file", outfile)
	return nil
}

// LoadDiagnosticsNpzFile reads back an archive written by
// WriteDiagnosticsNpzFile.
func LoadDiagnosticsNpzFile(infile string) (map[string][]float64, error) {
	in, err := npz.Open(infile)
	if err != nil {
		return nil, fmt.Errorf("unable to open file %s: %w", infile, err)
	}
	defer in.Close()

	d := make(map[string][]float64)
	for _, k := range in.Keys() {
		var v []float64
		if err := in.Read(k, &v); err != nil {
			return nil, fmt.Errorf("unable to read %s from file %s: %w", k, infile, err)
		}
		d[k] = v
	}
	return d, nil
}
