package main

import (
	"context"
	"log/slog"
	"net/mail"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/call"
	"github.com/CenterForMedicalGeneticsGhent/callmodeledsegments/docs"
)

func main() {
	Cmd := &cli.Command{
		Name:    "callmodeledsegments",
		Version: "1.0.0",
		Authors: []any{
			&mail.Address{
				Name:    "CMGG ICT Team",
				Address: "ict.cmgg@uzgent.be",
			},
		},
		Copyright: "Copyright (c) " + time.Now().Format("2006") + " Center for Medical Genetics Ghent, Ghent University Hospital",
		Usage:     "call normal and not normal copy number segments",
		UsageText: "callmodeledsegments [global options] command [command options] [arguments...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "log",
				Usage: "Log progress messages, also to <prefix>.log in the output directory of call. Warnings and errors are always logged",
				Value: true,
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if !cmd.Bool("log") {
				level = slog.LevelWarn
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			call.CallCmd,
			docs.BuildCmd,
		},
		EnableShellCompletion: true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cli.ShowAppHelp(cmd)
			return nil
		},
	}

	if err := Cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
