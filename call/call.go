package call

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/caller"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/internal/report"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/utils"
)

func fraction(name string) func(context.Context, *cli.Command, float64) error {
	return func(ctx context.Context, cmd *cli.Command, v float64) error {
		if v < 0 || v > 1 {
			return cli.Exit("Error: "+name+" must be between 0 and 1", 1)
		}
		return nil
	}
}

var CallCmd = &cli.Command{
	Name:      "call",
	Usage:     "Call normal and not normal segments from modeled segments",
	UsageText: "callmodeledsegments call [options] <input.seg> <output_dir>",
	ArgsUsage: "<input.seg> <output_dir>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "load-copy-ratio",
			Usage: "Use the copy ratio posteriors",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "load-allele-fraction",
			Usage: "Use the minor allele fraction posteriors",
			Value: true,
		},
		&cli.Float64Flag{
			Name:        "normal-minor-allele-fraction-threshold",
			Usage:       "Minor allele fraction above which a peak is considered balanced",
			Value:       0.475,
			DefaultText: "0.475",
			Action: func(ctx context.Context, cmd *cli.Command, v float64) error {
				if v < 0 || v > 0.5 {
					return cli.Exit("Error: Normal minor allele fraction threshold must be between 0 and 0.5", 1)
				}
				return nil
			},
		},
		&cli.Float64Flag{
			Name:        "copy-ratio-peak-min-weight",
			Usage:       "Peaks with a lower weight are discarded",
			Value:       0.03,
			DefaultText: "0.03",
			Action:      fraction("Copy ratio peak minimum weight"),
		},
		&cli.Float64Flag{
			Name:        "min-fraction-of-points-in-normal-allele-fraction-region",
			Usage:       "Fraction of the points of a peak that must lie above the normal minor allele fraction threshold",
			Value:       0.15,
			DefaultText: "0.15",
			Action:      fraction("Minimum fraction of points in the normal allele fraction region"),
		},
		&cli.Float64Flag{
			Name:        "min-weight-first-cr-peak-cr-data-only",
			Usage:       "Weight above which the lowest copy ratio peak is normal",
			Value:       0.35,
			DefaultText: "0.35",
			Action:      fraction("Minimum weight of the first copy ratio peak"),
		},
		&cli.Float64Flag{
			Name:        "min-weight-second-cr-peak",
			Usage:       "Weight below which the second copy ratio peak cannot be normal",
			Value:       0.05,
			DefaultText: "0.05",
			Action:      fraction("Minimum weight of the second copy ratio peak"),
		},
		&cli.Float64Flag{
			Name:        "zero-copy-ratio",
			Usage:       "Peaks at or below this copy ratio are never normal",
			Value:       0.1,
			DefaultText: "0.1",
			Action: func(ctx context.Context, cmd *cli.Command, v float64) error {
				if v < 0 {
					return cli.Exit("Error: Zero copy ratio must be non-negative", 1)
				}
				return nil
			},
		},
		&cli.Float64Flag{
			Name:        "normal-peak-max-distance",
			Usage:       "Mahalanobis distance to the normal peak up to which a segment is normal",
			Value:       2.0,
			DefaultText: "2",
			Action: func(ctx context.Context, cmd *cli.Command, v float64) error {
				if v <= 0 {
					return cli.Exit("Error: Normal peak maximum distance must be positive", 1)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "num-samples",
			Usage:       "Number of points sampled from the segment posteriors",
			Value:       10000,
			DefaultText: "10000",
			Action: func(ctx context.Context, cmd *cli.Command, v int) error {
				if v <= 0 {
					return cli.Exit("Error: Number of samples must be a positive integer", 1)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "max-components",
			Usage:       "Maximum number of mixture components",
			Value:       5,
			DefaultText: "5",
			Action: func(ctx context.Context, cmd *cli.Command, v int) error {
				if v < 1 {
					return cli.Exit("Error: Maximum number of components must be a positive integer", 1)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "min-points",
			Usage:       "Minimum number of sampled points needed to fit a mixture",
			Value:       10,
			DefaultText: "10",
			Action: func(ctx context.Context, cmd *cli.Command, v int) error {
				if v < 1 {
					return cli.Exit("Error: Minimum number of points must be a positive integer", 1)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "seed",
			Usage:       "Random seed for sampling and clustering",
			Value:       42,
			DefaultText: "42",
			Action: func(ctx context.Context, cmd *cli.Command, v int) error {
				if v < 0 {
					return cli.Exit("Error: Seed must be a non-negative integer", 1)
				}
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "Number of sampling threads, 0 to use all CPUs",
			Value:       0,
			DefaultText: "0",
			Action: func(ctx context.Context, cmd *cli.Command, v int) error {
				if v < 0 {
					return cli.Exit("Error: Threads must be a non-negative integer", 1)
				}
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "output-prefix",
			Aliases:     []string{"p"},
			Usage:       "Prefix for output files",
			DefaultText: "input file name without .seg",
		},
		&cli.StringFlag{
			Name:  "output-calls-suffix",
			Usage: "Suffix of the called segments file",
			Value: ".called.seg",
		},
		&cli.StringFlag{
			Name:  "output-image-suffix",
			Usage: "Suffix of the plots, its extension sets the image format",
			Value: ".png",
		},
		&cli.StringFlag{
			Name:    "exclude-contigs",
			Aliases: []string{"e"},
			Usage:   "Glob pattern of contigs left out of the clustering, {a,b} alternations allowed, e.g. {chrX,chrY} or chr{1,2}*",
		},
		&cli.BoolFlag{
			Name:  "interactive",
			Usage: "Write diagnostic plots and an npz archive of the run",
			Value: true,
		},
	},
	Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
		// Check if the correct number of arguments is provided
		if cmd.Args().Len() != 2 {
			cli.ShowSubcommandHelp(cmd)
			return nil, cli.Exit("Error: Incorrect number of arguments. Expected 2 arguments while "+strconv.Itoa(cmd.Args().Len())+" were given", 1)
		}

		// Check if the input file exists
		if _, err := os.Stat(cmd.Args().Get(0)); os.IsNotExist(err) {
			return nil, cli.Exit("Error: Input file does not exist", 1)
		}

		// At least one kind of posterior has to be used
		if !cmd.Bool("load-copy-ratio") && !cmd.Bool("load-allele-fraction") {
			return nil, cli.Exit("Error: At least one of --load-copy-ratio and --load-allele-fraction must be set", 1)
		}
		return ctx, nil
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg := caller.DefaultConfig()
		cfg.LoadCopyRatio = cmd.Bool("load-copy-ratio")
		cfg.LoadAlleleFraction = cmd.Bool("load-allele-fraction")
		cfg.NormalMinorAlleleFractionThreshold = cmd.Float64("normal-minor-allele-fraction-threshold")
		cfg.CopyRatioPeakMinWeight = cmd.Float64("copy-ratio-peak-min-weight")
		cfg.MinFractionOfPointsInNormalAlleleFractionRegion = cmd.Float64("min-fraction-of-points-in-normal-allele-fraction-region")
		cfg.MinWeightFirstCopyRatioPeak = cmd.Float64("min-weight-first-cr-peak-cr-data-only")
		cfg.MinWeightSecondCopyRatioPeak = cmd.Float64("min-weight-second-cr-peak")
		cfg.ZeroCopyRatio = cmd.Float64("zero-copy-ratio")
		cfg.MaxNormalDistance = cmd.Float64("normal-peak-max-distance")
		cfg.NumSamples = cmd.Int("num-samples")
		cfg.MaxComponents = cmd.Int("max-components")
		cfg.MinPoints = cmd.Int("min-points")
		cfg.Seed = uint64(cmd.Int("seed"))
		cfg.Threads = cmd.Int("threads")

		opts := Options{
			Infile:         cmd.Args().Get(0),
			OutputDir:      cmd.Args().Get(1),
			Prefix:         cmd.String("output-prefix"),
			CallsSuffix:    cmd.String("output-calls-suffix"),
			ImageSuffix:    cmd.String("output-image-suffix"),
			ExcludeContigs: cmd.String("exclude-contigs"),
			Interactive:    cmd.Bool("interactive"),
			LogFile:        cmd.Bool("log"),
			Config:         cfg,
		}
		if err := CallModeledSegments(opts); err != nil {
			return cli.Exit("Error: "+err.Error(), 1)
		}
		return nil
	},
}

// Options are the inputs of CallModeledSegments.
type Options struct {
	Infile    string
	OutputDir string
	// Prefix of the output files, derived from Infile when empty.
	Prefix         string
	CallsSuffix    string
	ImageSuffix    string
	ExcludeContigs string // glob
	Interactive    bool
	// LogFile copies the log of the run to <prefix>.log in OutputDir.
	LogFile bool
	Config  caller.Config
}

// OutputPrefix returns the prefix of the output files.
func (o Options) OutputPrefix() string {
	if o.Prefix != "" {
		return o.Prefix
	}
	name := strings.TrimSuffix(filepath.Base(o.Infile), ".gz")
	return strings.TrimSuffix(name, ".seg")
}

func (o Options) output(suffix string) string {
	return filepath.Join(o.OutputDir, o.OutputPrefix()+suffix)
}

// CallModeledSegments loads the modeled segments, calls them and writes the
// called segments, plus the diagnostics in interactive mode.
func CallModeledSegments(opts Options) error {
	if opts.LogFile {
		restore, err := teeLog(opts)
		if err != nil {
			return err
		}
		defer restore()
	}

	sf, err := utils.LoadModeledSegmentsFile(opts.Infile)
	if err != nil {
		return fmt.Errorf("unable to load modeled segments: %w", err)
	}

	cfg := opts.Config
	if cfg.ExcludedContigs, err = sf.ExcludedContigs(opts.ExcludeContigs); err != nil {
		return err
	}
	if len(cfg.ExcludedContigs) > 0 {
		slog.Info("Excluding contigs from clustering", "contigs", cfg.ExcludedContigs)
	}

	res, err := caller.Run(sf.Segments, cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	if err := utils.WriteCalledSegmentsFile(opts.output(opts.CallsSuffix), sf, res.Calls); err != nil {
		return fmt.Errorf("unable to write called segments: %w", err)
	}
	if !opts.Interactive {
		return nil
	}

	if err := utils.WriteDiagnosticsNpzFile(opts.output("_diagnostics.npz"), res); err != nil {
		return err
	}
	if err := report.SaveFitPlot(opts.output("_copy_ratio_fit"+opts.ImageSuffix), res); err != nil {
		return err
	}
	if err := report.SaveClustersPlot(opts.output("_copy_ratio_clusters"+opts.ImageSuffix), res); err != nil {
		return err
	}
	if res.Mode != caller.CopyRatioMode {
		outfile := opts.output("_allele_fraction_CN1_and_CN2_candidate_intervals" + opts.ImageSuffix)
		if err := report.SaveAlleleFractionCandidatesPlot(outfile, res, cfg.NormalMinorAlleleFractionThreshold); err != nil {
			return err
		}
	}
	if err := report.SaveClassificationPlot(opts.output("_classification"+opts.ImageSuffix), sf.Segments, res); err != nil {
		return err
	}
	if err := report.SaveSummaryPlot(opts.output("_summary_plot"+opts.ImageSuffix), sf.Segments, res); err != nil {
		return err
	}
	if slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		return report.WriteHistogram(os.Stderr, res)
	}
	return nil
}

// teeLog sends the default logger to stderr and to the log file of the run
// until the returned function is called.
func teeLog(opts Options) (func(), error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}
	f, err := os.Create(opts.output(".log"))
	if err != nil {
		return nil, fmt.Errorf("unable to create log file: %w", err)
	}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stderr, f), &slog.HandlerOptions{Level: slog.LevelInfo})))
	return func() {
		slog.SetDefault(prev)
		f.Close()
	}, nil
}
