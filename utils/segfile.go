package utils

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/tsv"
	"github.com/klauspost/compress/gzip"
	"v.io/v23/glob"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
)

// modeledSegmentRow is one row of a ModelSegments modelFinal.seg table.
// Additional columns are ignored.
type modeledSegmentRow struct {
	Contig                    string  `tsv:"CONTIG"`
	Start                     int64   `tsv:"START"`
	End                       int64   `tsv:"END"`
	NumPointsCopyRatio        int64   `tsv:"NUM_POINTS_COPY_RATIO"`
	NumPointsAlleleFraction   int64   `tsv:"NUM_POINTS_ALLELE_FRACTION"`
	Log2CopyRatioPosterior10  float64 `tsv:"LOG2_COPY_RATIO_POSTERIOR_10"`
	Log2CopyRatioPosterior50  float64 `tsv:"LOG2_COPY_RATIO_POSTERIOR_50"`
	Log2CopyRatioPosterior90  float64 `tsv:"LOG2_COPY_RATIO_POSTERIOR_90"`
	MinorAlleleFractionPost10 float64 `tsv:"MINOR_ALLELE_FRACTION_POSTERIOR_10"`
	MinorAlleleFractionPost50 float64 `tsv:"MINOR_ALLELE_FRACTION_POSTERIOR_50"`
	MinorAlleleFractionPost90 float64 `tsv:"MINOR_ALLELE_FRACTION_POSTERIOR_90"`
}

var modeledSegmentColumns = []string{
	"CONTIG", "START", "END",
	"NUM_POINTS_COPY_RATIO", "NUM_POINTS_ALLELE_FRACTION",
	"LOG2_COPY_RATIO_POSTERIOR_10", "LOG2_COPY_RATIO_POSTERIOR_50", "LOG2_COPY_RATIO_POSTERIOR_90",
	"MINOR_ALLELE_FRACTION_POSTERIOR_10", "MINOR_ALLELE_FRACTION_POSTERIOR_50", "MINOR_ALLELE_FRACTION_POSTERIOR_90",
}

var calledSegmentColumns = []string{"CALL", "PEAK", "DISTANCE"}

// posterior returns nil when all three deciles are NaN, which is how
// ModelSegments writes a missing posterior.
func posterior(p10, p50, p90 float64) *caller.Posterior {
	if math.IsNaN(p10) && math.IsNaN(p50) && math.IsNaN(p90) {
		return nil
	}
	return &caller.Posterior{P10: p10, P50: p50, P90: p90}
}

func (r *modeledSegmentRow) segment() caller.Segment {
	return caller.Segment{
		Contig:                  r.Contig,
		Start:                   int(r.Start),
		End:                     int(r.End),
		NumPointsCopyRatio:      int(r.NumPointsCopyRatio),
		NumPointsAlleleFraction: int(r.NumPointsAlleleFraction),
		Log2CopyRatio:           posterior(r.Log2CopyRatioPosterior10, r.Log2CopyRatioPosterior50, r.Log2CopyRatioPosterior90),
		MinorAlleleFraction:     posterior(r.MinorAlleleFractionPost10, r.MinorAlleleFractionPost50, r.MinorAlleleFractionPost90),
	}
}

// SegmentFile is a parsed modeled segments table.
type SegmentFile struct {
	// HeaderText holds the leading SAM-style header lines verbatim.
	HeaderText []byte
	// Header is the parsed header, nil when the file has none.
	Header   *sam.Header
	Segments []caller.Segment
}

// LoadModeledSegmentsFile reads a modelFinal.seg file. Files ending in .gz
// are decompressed.
func LoadModeledSegmentsFile(infile string) (*SegmentFile, error) {
	f, err := os.Open(infile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(infile, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", infile, err)
		}
		defer gz.Close()
		r = gz
	}

	sf, err := ReadModeledSegments(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", infile, err)
	}
	slog.Info("Loaded modeled segments", "file", infile, "segments", len(sf.Segments))
	return sf, nil
}

// ReadModeledSegments parses a modeled segments table from r.
func ReadModeledSegments(r io.Reader) (*SegmentFile, error) {
	br := bufio.NewReader(r)
	sf := &SegmentFile{}

	var header bytes.Buffer
	for {
		next, err := br.Peek(1)
		if err != nil || next[0] != '@' {
			break
		}
		line, err := br.ReadBytes('\n')
		header.Write(line)
		if err != nil {
			break
		}
	}
	if header.Len() > 0 {
		sf.HeaderText = header.Bytes()
		h, err := sam.NewHeader(sf.HeaderText, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing header: %w", err)
		}
		sf.Header = h
	}

	tr := tsv.NewReader(br)
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var row modeledSegmentRow
	for n := 1; ; n++ {
		if err := tr.Read(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading segment %d: %w", n, err)
		}
		sf.Segments = append(sf.Segments, row.segment())
	}

	if err := sf.checkContigs(); err != nil {
		return nil, err
	}
	return sf, nil
}

// checkContigs verifies the segments against the @SQ lines of the header,
// if there are any.
func (sf *SegmentFile) checkContigs() error {
	if sf.Header == nil || len(sf.Header.Refs()) == 0 {
		return nil
	}
	lengths := make(map[string]int, len(sf.Header.Refs()))
	for _, ref := range sf.Header.Refs() {
		lengths[ref.Name()] = ref.Len()
	}
	for i, s := range sf.Segments {
		length, ok := lengths[s.Contig]
		if !ok {
			return fmt.Errorf("%w: segment %d (%v) is on a contig missing from the header", caller.ErrSegment, i, s)
		}
		if s.End > length {
			return fmt.Errorf("%w: segment %d (%v) ends beyond the contig length %d", caller.ErrSegment, i, s, length)
		}
	}
	return nil
}

// Contigs returns the distinct contigs of the segments in input order.
func (sf *SegmentFile) Contigs() []string {
	var contigs []string
	for _, s := range sf.Segments {
		if !slices.Contains(contigs, s.Contig) {
			contigs = append(contigs, s.Contig)
		}
	}
	return contigs
}

// expandBraces expands the {a,b} alternations of pattern, which v.io globs
// do not support, into plain glob patterns.
func expandBraces(pattern string) ([]string, error) {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		if strings.IndexByte(pattern, '}') >= 0 {
			return nil, errors.New("unbalanced '}'")
		}
		return []string{pattern}, nil
	}
	depth, end := 0, -1
	var commas []int
	for i := open; i < len(pattern) && end < 0; i++ {
		switch pattern[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		case ',':
			if depth == 1 {
				commas = append(commas, i)
			}
		}
	}
	if end < 0 {
		return nil, errors.New("unbalanced '{'")
	}
	var expanded []string
	start := open + 1
	for _, stop := range append(commas, end) {
		rest, err := expandBraces(pattern[:open] + pattern[start:stop] + pattern[end+1:])
		if err != nil {
			return nil, err
		}
		expanded = append(expanded, rest...)
		start = stop + 1
	}
	return expanded, nil
}

// ExcludedContigs returns the contigs of the file matching the glob pattern.
// Besides the v.io glob syntax the pattern may hold {a,b} alternations.
func (sf *SegmentFile) ExcludedContigs(pattern string) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	alternatives, err := expandBraces(pattern)
	if err != nil {
		return nil, fmt.Errorf("parsing contig exclusion glob %q: %w", pattern, err)
	}
	globs := make([]*glob.Glob, len(alternatives))
	for i, alt := range alternatives {
		if globs[i], err = glob.Parse(alt); err != nil {
			return nil, fmt.Errorf("parsing contig exclusion glob %q: %w", pattern, err)
		}
	}
	var excluded []string
	for _, contig := range sf.Contigs() {
		for _, g := range globs {
			if g.Head().Match(contig) {
				excluded = append(excluded, contig)
				break
			}
		}
	}
	if len(excluded) == 0 {
		slog.Warn("Contig exclusion glob matches no contig", "glob", pattern)
	}
	return excluded, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteCalledSegmentsFile writes the segments with their calls, one row per
// segment. The header of the input is carried over. Files ending in .gz
// are compressed.
func WriteCalledSegmentsFile(outfile string, sf *SegmentFile, calls []caller.Call) (err error) {
	if len(calls) != len(sf.Segments) {
		return fmt.Errorf("%d calls for %d segments", len(calls), len(sf.Segments))
	}
	f, err := os.Create(outfile)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(outfile, ".gz") {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}()
		w = gz
	}

	if err := WriteCalledSegments(w, sf, calls); err != nil {
		return fmt.Errorf("%s: %w", outfile, err)
	}
	slog.Info("Wrote called segments", "file", outfile, "segments", len(calls))
	return nil
}

// WriteCalledSegments writes the called segments table to w.
func WriteCalledSegments(w io.Writer, sf *SegmentFile, calls []caller.Call) error {
	if _, err := w.Write(sf.HeaderText); err != nil {
		return err
	}
	tw := tsv.NewWriter(w)
	for _, col := range modeledSegmentColumns {
		tw.WriteString(col)
	}
	for _, col := range calledSegmentColumns {
		tw.WriteString(col)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}

	nan := caller.Posterior{P10: math.NaN(), P50: math.NaN(), P90: math.NaN()}
	for i, s := range sf.Segments {
		cr, af := nan, nan
		if s.Log2CopyRatio != nil {
			cr = *s.Log2CopyRatio
		}
		if s.MinorAlleleFraction != nil {
			af = *s.MinorAlleleFraction
		}
		tw.WriteString(s.Contig)
		tw.WriteInt64(int64(s.Start))
		tw.WriteInt64(int64(s.End))
		tw.WriteInt64(int64(s.NumPointsCopyRatio))
		tw.WriteInt64(int64(s.NumPointsAlleleFraction))
		for _, v := range []float64{cr.P10, cr.P50, cr.P90, af.P10, af.P50, af.P90} {
			tw.WriteString(formatFloat(v))
		}
		tw.WriteString(calls[i].Label.String())
		tw.WriteInt64(int64(calls[i].Peak))
		tw.WriteString(formatFloat(calls[i].Distance))
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}
