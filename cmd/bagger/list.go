package main

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/kwf/bagger/pkg/archive"
	"github.com/kwf/bagger/pkg/entry"
)

func listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "list the entries of an archive",
		ArgsUsage: "<archive>",
		Action:    listAction,
	}
}

func listAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: bagger list <archive>")
	}
	archivePath := c.Args().Get(0)

	format, err := chooseFormat(c, archivePath)
	if err != nil {
		return err
	}
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer in.Close()

	return archive.List(in, format, func(e entry.Entry) error {
		fmt.Println(formatEntry(e))
		return nil
	})
}

func formatEntry(e entry.Entry) string {
	mode := fs.FileMode(e.Mode & 0777)
	switch e.Kind {
	case entry.Dir:
		mode |= fs.ModeDir
	case entry.Symlink:
		mode |= fs.ModeSymlink
	}
	name := e.Path
	if e.Kind == entry.Symlink {
		name += " -> " + e.LinkTarget
	}
	return fmt.Sprintf(
		"%s %8d %s %s",
		mode,
		e.Size,
		time.Unix(e.MTime, 0).UTC().Format("2006-01-02 15:04"),
		name,
	)
}
