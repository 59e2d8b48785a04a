package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kwf/bagger/pkg/archive"
)

func unpackCmd() *cli.Command {
	return &cli.Command{
		Name:      "unpack",
		Usage:     "unpack an archive into a directory",
		ArgsUsage: "<archive> <destdir>",
		Action:    unpackAction,
	}
}

func unpackAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: bagger unpack <archive> <destdir>")
	}
	archivePath := c.Args().Get(0)
	dest := c.Args().Get(1)

	format, err := chooseFormat(c, archivePath)
	if err != nil {
		return err
	}
	slog.Debug("unpacking", "archive", archivePath, "format", format)

	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer in.Close()

	count, err := archive.Unpack(in, dest, format)
	if err != nil {
		return err
	}
	fmt.Printf("Unpacked %d entries into %s\n", count, dest)
	return nil
}
