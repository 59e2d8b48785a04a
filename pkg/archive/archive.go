// Package archive ties the pieces together: it maps format names to
// codecs, drives packing from a tree walk, and materializes decoded
// entries back onto disk.
package archive

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/kwf/bagger/pkg/bag"
	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/collect"
	"github.com/kwf/bagger/pkg/entry"
	"github.com/kwf/bagger/pkg/ustar"
)

// DefaultFormat is used when the caller does not pick one.
const DefaultFormat = "bag"

var codecs = map[string]codec.Codec{
	"bag": bag.Codec{},
	"tar": ustar.Codec{},
}

// Lookup resolves a format identifier. It runs before any I/O, so an
// unknown format never touches the input or output.
func Lookup(format string) (codec.Codec, error) {
	if format == "" {
		format = DefaultFormat
	}
	c, ok := codecs[format]
	if !ok {
		return nil, fmt.Errorf(
			"unknown format %q (have %v)", format, Formats(),
		)
	}
	return c, nil
}

// Formats lists the registered format names, sorted.
func Formats() []string {
	names := make([]string, 0, len(codecs))
	for name := range codecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open wraps an archive stream in the reader for the given format.
func Open(in io.Reader, format string) (codec.Reader, error) {
	c, err := Lookup(format)
	if err != nil {
		return nil, err
	}
	return c.NewReader(in)
}

// PackOptions configure one pack run.
type PackOptions struct {
	Format         string
	Excludes       []string
	SkipUnreadable bool
}

// Pack walks the inputs and streams them into out as one archive,
// returning the number of entries written. The walk is sequential and
// entries are written as they are produced; on error the partially
// written output must be discarded by the caller.
func Pack(inputs []string, out io.Writer, opts PackOptions) (int, error) {
	c, err := Lookup(opts.Format)
	if err != nil {
		return 0, err
	}
	if len(inputs) == 0 {
		return 0, fmt.Errorf("no input paths")
	}

	count := 0
	w := c.NewWriter(out)
	err = collect.Walk(inputs, collect.Options{
		Excludes:       opts.Excludes,
		SkipUnreadable: opts.SkipUnreadable,
	}, func(it collect.Item) error {
		n, err := packItem(w, it, opts.SkipUnreadable)
		count += n
		return err
	})
	if err != nil {
		return count, err
	}
	return count, w.Close()
}

func packItem(w codec.Writer, it collect.Item, skipUnreadable bool) (int, error) {
	if it.Entry.Kind != entry.Regular {
		if err := w.WriteEntry(it.Entry, nil); err != nil {
			return 0, err
		}
		return 1, nil
	}
	f, err := os.Open(it.SysPath)
	if err != nil {
		if skipUnreadable {
			return 0, nil
		}
		return 0, fmt.Errorf("open %s: %w", it.SysPath, err)
	}
	defer f.Close()
	if err := w.WriteEntry(it.Entry, f); err != nil {
		return 0, err
	}
	return 1, nil
}

// List streams the entries of an archive without touching the
// filesystem, calling fn once per entry in archive order.
func List(in io.Reader, format string, fn func(entry.Entry) error) error {
	r, err := Open(in, format)
	if err != nil {
		return err
	}
	for {
		e, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
