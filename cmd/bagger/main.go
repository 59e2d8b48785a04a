package main

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/kwf/bagger/pkg/archive"
)

const appVersion = "0.1.0"

func main() {
	app := &cli.App{
		Name:  "bagger",
		Usage: "pack file trees into bag or tar archives",
		Before: func(c *cli.Context) error {
			configureLogging(c.Bool("verbose"))
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "archive format: bag or tar",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Commands: []*cli.Command{
			packCmd(),
			unpackCmd(),
			listCmd(),
			diffCmd(),
			{
				Name:  "version",
				Usage: "print version",
				Action: func(c *cli.Context) error {
					fmt.Println(appVersion)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configureLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	))
}

// chooseFormat picks the codec for reading an archive: an explicit
// --format wins, otherwise the file is sniffed for the bag magic and
// falls back to tar.
func chooseFormat(c *cli.Context, archivePath string) (string, error) {
	if f := c.String("format"); f != "" {
		if _, err := archive.Lookup(f); err != nil {
			return "", err
		}
		return f, nil
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", archivePath, err)
	}
	defer f.Close()

	var head [4]byte
	if _, err := io.ReadFull(f, head[:]); err != nil {
		return "", fmt.Errorf("sniff %s: %w", archivePath, err)
	}
	if bytes.Equal(head[:], []byte{0x89, 'B', 'A', 'G'}) {
		return "bag", nil
	}
	return "tar", nil
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
