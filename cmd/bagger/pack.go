package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kwf/bagger/pkg/archive"
)

func packCmd() *cli.Command {
	return &cli.Command{
		Name:      "pack",
		Usage:     "pack files and directories into an archive",
		ArgsUsage: "<input>...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Required: true,
				Usage:    "path of the archive to create",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude pattern (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "skip-unreadable",
				Usage: "skip unreadable inputs instead of aborting",
			},
		},
		Action: packAction,
	}
}

func packAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: bagger pack -o <archive> <input>...")
	}
	inputs := c.Args().Slice()

	format := c.String("format")
	if format == "" {
		format = archive.DefaultFormat
	}
	// Resolve the codec before creating the output file.
	if _, err := archive.Lookup(format); err != nil {
		return err
	}

	for _, input := range inputs {
		if _, err := os.Lstat(input); err != nil {
			return fmt.Errorf("input %s: %w", input, err)
		}
	}

	outPath := c.String("output")
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", outPath, err)
	}

	count, err := archive.Pack(inputs, out, archive.PackOptions{
		Format:         format,
		Excludes:       c.StringSlice("exclude"),
		SkipUnreadable: c.Bool("skip-unreadable"),
	})
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		// A failed pack leaves no trustworthy output behind.
		os.Remove(outPath)
		return err
	}

	fi, err := os.Stat(outPath)
	if err != nil {
		return err
	}
	slog.Debug("packed", "format", format, "entries", count)
	fmt.Printf(
		"Packed %d entries into %s (%s)\n",
		count, outPath, humanBytes(fi.Size()),
	)
	return nil
}
