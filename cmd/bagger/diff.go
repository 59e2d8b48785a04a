package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/kwf/bagger/pkg/archive"
	"github.com/kwf/bagger/pkg/manifest"
)

func diffCmd() *cli.Command {
	return &cli.Command{
		Name:      "diff",
		Usage:     "compare an archive against a directory",
		ArgsUsage: "<archive> <dir>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude pattern (repeatable)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "JSON output",
			},
		},
		Action: diffAction,
	}
}

func diffAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: bagger diff <archive> <dir>")
	}
	archivePath := c.Args().Get(0)
	dir := c.Args().Get(1)

	format, err := chooseFormat(c, archivePath)
	if err != nil {
		return err
	}
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer in.Close()

	r, err := archive.Open(in, format)
	if err != nil {
		return err
	}
	archived, err := manifest.FromArchive(r)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	slog.Debug("archive manifest", "count", len(archived))

	onDisk, err := manifest.FromDir(dir, c.StringSlice("exclude"))
	if err != nil {
		return fmt.Errorf("walk %s: %w", dir, err)
	}
	slog.Debug("directory manifest", "count", len(onDisk))

	diff := manifest.Diff(archived, onDisk)

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diff); err != nil {
			return err
		}
	} else if diff.Clean() {
		fmt.Println("Archive matches directory.")
	} else {
		printDiff(diff)
	}

	if !diff.Clean() {
		return cli.Exit("", 1)
	}
	return nil
}

func printDiff(diff manifest.DiffResult) {
	var b strings.Builder
	for _, p := range diff.Changed {
		fmt.Fprintf(&b, "  ~ %s\n", p)
	}
	for _, p := range diff.Missing {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	for _, p := range diff.Extra {
		fmt.Fprintf(&b, "  + %s\n", p)
	}
	fmt.Print(b.String())
}
