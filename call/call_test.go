package call_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v3"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/call"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/utils"
)

// writeSegments writes a modeled segments file with six normal segments,
// two gains and two losses of heterozygosity.
func writeSegments(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("@HD\tVN:1.6\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "@SQ\tSN:chr%d\tLN:100000000\n", i)
	}
	b.WriteString("CONTIG\tSTART\tEND\tNUM_POINTS_COPY_RATIO\tNUM_POINTS_ALLELE_FRACTION\t" +
		"LOG2_COPY_RATIO_POSTERIOR_10\tLOG2_COPY_RATIO_POSTERIOR_50\tLOG2_COPY_RATIO_POSTERIOR_90\t" +
		"MINOR_ALLELE_FRACTION_POSTERIOR_10\tMINOR_ALLELE_FRACTION_POSTERIOR_50\tMINOR_ALLELE_FRACTION_POSTERIOR_90\n")
	levels := []struct{ log2, af float64 }{
		{0, 0.48}, {0, 0.48}, {0, 0.48}, {0, 0.48}, {0, 0.48}, {0, 0.48},
		{0.585, 0.33}, {0.585, 0.33},
		{-1, 0.03}, {-1, 0.03},
	}
	for i, l := range levels {
		fmt.Fprintf(&b, "chr%d\t1\t50000000\t200\t40\t%g\t%g\t%g\t%g\t%g\t%g\n",
			i+1, l.log2-0.02, l.log2, l.log2+0.02, l.af-0.01, l.af, l.af+0.01)
	}
	path := filepath.Join(dir, "sample.modelFinal.seg")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func testOptions(t *testing.T) call.Options {
	dir := t.TempDir()
	cfg := caller.DefaultConfig()
	cfg.NumSamples = 2000
	return call.Options{
		Infile:      writeSegments(t, dir),
		OutputDir:   filepath.Join(dir, "out"),
		CallsSuffix: ".called.seg",
		ImageSuffix: ".png",
		Config:      cfg,
	}
}

func TestOutputPrefix(t *testing.T) {
	require.Equal(t, "sample.modelFinal", call.Options{Infile: "/data/sample.modelFinal.seg"}.OutputPrefix())
	require.Equal(t, "sample.modelFinal", call.Options{Infile: "sample.modelFinal.seg.gz"}.OutputPrefix())
	require.Equal(t, "custom", call.Options{Infile: "sample.seg", Prefix: "custom"}.OutputPrefix())
}

func TestCallModeledSegments(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, call.CallModeledSegments(opts))

	out := filepath.Join(opts.OutputDir, "sample.modelFinal.called.seg")
	sf, err := utils.LoadModeledSegmentsFile(out)
	require.NoError(t, err)
	require.Len(t, sf.Segments, 10)
	require.NotNil(t, sf.Header)

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 11+1+10)
	for _, line := range lines[12:18] {
		require.Contains(t, line, "\tNORMAL\t")
	}
	for _, line := range lines[18:] {
		require.Contains(t, line, "\tNOT_NORMAL\t")
	}

	// no diagnostics unless interactive
	_, err = os.Stat(filepath.Join(opts.OutputDir, "sample.modelFinal_diagnostics.npz"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCallModeledSegmentsInteractive(t *testing.T) {
	opts := testOptions(t)
	opts.Interactive = true
	opts.Prefix = "run"
	require.NoError(t, call.CallModeledSegments(opts))

	for _, name := range []string{
		"run.called.seg",
		"run_diagnostics.npz",
		"run_copy_ratio_fit.png",
		"run_copy_ratio_clusters.png",
		"run_allele_fraction_CN1_and_CN2_candidate_intervals.png",
		"run_classification.png",
		"run_summary_plot.png",
	} {
		fi, err := os.Stat(filepath.Join(opts.OutputDir, name))
		require.NoError(t, err, name)
		require.Positive(t, fi.Size(), name)
	}

	d, err := utils.LoadDiagnosticsNpzFile(filepath.Join(opts.OutputDir, "run_diagnostics.npz"))
	require.NoError(t, err)
	require.Len(t, d[utils.KeyCalls], 10)

	// no log file unless asked for
	_, err = os.Stat(filepath.Join(opts.OutputDir, "run.log"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCallModeledSegmentsInteractiveCopyRatio(t *testing.T) {
	opts := testOptions(t)
	opts.Interactive = true
	opts.Config.LoadAlleleFraction = false
	require.NoError(t, call.CallModeledSegments(opts))

	for _, name := range []string{"_copy_ratio_fit.png", "_copy_ratio_clusters.png", "_summary_plot.png"} {
		_, err := os.Stat(filepath.Join(opts.OutputDir, "sample.modelFinal"+name))
		require.NoError(t, err, name)
	}
	_, err := os.Stat(filepath.Join(opts.OutputDir, "sample.modelFinal_allele_fraction_CN1_and_CN2_candidate_intervals.png"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCallModeledSegmentsLogFile(t *testing.T) {
	opts := testOptions(t)
	opts.LogFile = true
	prev := slog.Default()
	require.NoError(t, call.CallModeledSegments(opts))
	require.Same(t, prev, slog.Default())

	log, err := os.ReadFile(filepath.Join(opts.OutputDir, "sample.modelFinal.log"))
	require.NoError(t, err)
	require.Contains(t, string(log), "Loaded modeled segments")
	require.Contains(t, string(log), "Called segments")
	require.Contains(t, string(log), "Wrote called segments")
}

func TestCallModeledSegmentsExcludedContigs(t *testing.T) {
	opts := testOptions(t)
	// without the normal contigs no balanced peak remains
	opts.ExcludeContigs = "chr{1,2,3,4,5,6}"
	require.NoError(t, call.CallModeledSegments(opts))

	content, err := os.ReadFile(filepath.Join(opts.OutputDir, "sample.modelFinal.called.seg"))
	require.NoError(t, err)
	require.Equal(t, 10, strings.Count(string(content), "\tINDETERMINATE\t"))
}

func TestCallModeledSegmentsErrors(t *testing.T) {
	opts := testOptions(t)
	opts.Infile = filepath.Join(t.TempDir(), "missing.seg")
	require.ErrorIs(t, call.CallModeledSegments(opts), os.ErrNotExist)

	opts = testOptions(t)
	opts.Config.NumSamples = 0
	require.ErrorIs(t, call.CallModeledSegments(opts), caller.ErrConfig)
}

func TestCallCommand(t *testing.T) {
	exitCode := -1
	cli.OsExiter = func(code int) { exitCode = code }
	t.Cleanup(func() { cli.OsExiter = os.Exit })

	opts := testOptions(t)
	root := &cli.Command{
		Name:     "callmodeledsegments",
		Commands: []*cli.Command{call.CallCmd},
	}
	err := root.Run(context.Background(), []string{
		"callmodeledsegments", "call",
		"--num-samples", "2000",
		"--output-prefix", "cli",
		"--interactive=false",
		opts.Infile, opts.OutputDir,
	})
	require.NoError(t, err)
	require.Equal(t, -1, exitCode)
	_, err = os.Stat(filepath.Join(opts.OutputDir, "cli.called.seg"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(opts.OutputDir, "cli_diagnostics.npz"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestInteractiveByDefault(t *testing.T) {
	for _, f := range call.CallCmd.Flags {
		if b, ok := f.(*cli.BoolFlag); ok && b.Name == "interactive" {
			require.True(t, b.Value)
			return
		}
	}
	t.Fatal("call has no interactive flag")
}
