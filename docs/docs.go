package docs

import (
	"context"
	"log/slog"
	"os"

	docs "github.com/urfave/cli-docs/v3"
	"github.com/urfave/cli/v3"
)

var BuildCmd = &cli.Command{
	Name:    "docs",
	Aliases: []string{"d"},
	Usage:   "Generate CLI documentation",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      "output",
			Aliases:   []string{"o"},
			Usage:     "Markdown file to write",
			Value:     "cli.md",
			TakesFile: true,
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if err := WriteMarkdown(cmd.Root(), cmd.String("output")); err != nil {
			return cli.Exit("Error: Unable to write documentation: "+err.Error(), 1)
		}
		return nil
	},
}

// WriteMarkdown renders the documentation of root and all its commands.
func WriteMarkdown(root *cli.Command, outfile string) error {
	md, err := docs.ToMarkdown(root)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outfile, []byte(md), 0o644); err != nil {
		return err
	}
	slog.Info("Wrote CLI documentation", "file", outfile)
	return nil
}
