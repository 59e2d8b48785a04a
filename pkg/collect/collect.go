// Package collect walks a list of input paths and produces the ordered
// entry sequence an archive is built from: every directory is emitted
// before anything underneath it, children in lexicographic order, and
// symlinks are recorded but never followed.
package collect

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
	"github.com/kwf/bagger/pkg/paths"
)

// ErrCycle reports a directory reached twice through symlinked
// ancestry. It is a format-class failure so callers can treat it like
// any other unarchivable input.
var ErrCycle = fmt.Errorf("directory cycle: %w", codec.ErrFormat)

// Item pairs an archive entry with the filesystem path it came from,
// so the packer can open regular-file payloads lazily.
type Item struct {
	Entry   entry.Entry
	SysPath string
}

type Options struct {
	// Excludes filters archive-relative paths; matching directories
	// are pruned whole.
	Excludes []string
	// SkipUnreadable continues past unreadable nodes instead of
	// aborting on the first one.
	SkipUnreadable bool
}

// Walk visits the inputs in order and calls fn once per entry. It is
// lazy: entries are handed over as the tree is traversed, and fn
// returning an error stops the walk.
func Walk(inputs []string, opts Options, fn func(Item) error) error {
	w := &walker{
		opts:    opts,
		matcher: paths.NewExcludeMatcher(opts.Excludes),
		emitted: make(map[string]bool),
		visited: make(map[string]bool),
		fn:      fn,
	}
	for _, input := range inputs {
		arcPath, err := archivePath(input)
		if err != nil {
			return err
		}
		if err := w.walk(input, arcPath, true); err != nil {
			return err
		}
	}
	return nil
}

// archivePath maps an input path to the path stored in the archive:
// relative inputs keep their cleaned relative path, absolute inputs are
// archived under their base name.
func archivePath(input string) (string, error) {
	var p string
	if filepath.IsAbs(input) {
		p = filepath.Base(input)
	} else {
		p = paths.CleanRelPath(input)
	}
	if err := paths.ValidateRelPath(p); err != nil {
		return "", fmt.Errorf("input %s: %w", input, err)
	}
	return p, nil
}

type walker struct {
	opts    Options
	matcher *paths.ExcludeMatcher
	emitted map[string]bool
	visited map[string]bool
	fn      func(Item) error
}

// walk emits the node at sysPath and recurses if it is a directory.
// Symlinks named directly as inputs (root true) are followed, since the
// user asked for what they point at; symlinks found inside a tree are
// recorded as entries and never followed.
func (w *walker) walk(sysPath, arcPath string, root bool) error {
	fi, err := os.Lstat(sysPath)
	if err != nil {
		if w.opts.SkipUnreadable {
			return nil
		}
		return fmt.Errorf("stat %s: %w", sysPath, err)
	}

	var linkTarget string
	if fi.Mode()&os.ModeSymlink != 0 {
		if root {
			fi, err = os.Stat(sysPath)
			if err != nil {
				if w.opts.SkipUnreadable {
					return nil
				}
				return fmt.Errorf("stat %s: %w", sysPath, err)
			}
		} else {
			linkTarget, err = os.Readlink(sysPath)
			if err != nil {
				if w.opts.SkipUnreadable {
					return nil
				}
				return fmt.Errorf("readlink %s: %w", sysPath, err)
			}
		}
	}

	e, err := entry.FromFileInfo(arcPath, fi, linkTarget)
	if err != nil {
		return err
	}
	if w.emitted[arcPath] {
		return fmt.Errorf("duplicate archive path %s", arcPath)
	}
	w.emitted[arcPath] = true

	if err := w.fn(Item{Entry: e, SysPath: sysPath}); err != nil {
		return err
	}
	if e.Kind != entry.Dir {
		return nil
	}
	return w.walkDir(sysPath, arcPath)
}

func (w *walker) walkDir(sysPath, arcPath string) error {
	// Guard against revisiting a real directory through symlinked
	// ancestry: the identity is its fully resolved path.
	canon, err := filepath.EvalSymlinks(sysPath)
	if err != nil {
		if w.opts.SkipUnreadable {
			return nil
		}
		return fmt.Errorf("resolve %s: %w", sysPath, err)
	}
	if w.visited[canon] {
		return fmt.Errorf("%s: %w", sysPath, ErrCycle)
	}
	w.visited[canon] = true

	// os.ReadDir sorts by name, which is the ordering contract.
	children, err := os.ReadDir(sysPath)
	if err != nil {
		if w.opts.SkipUnreadable {
			return nil
		}
		return fmt.Errorf("readdir %s: %w", sysPath, err)
	}
	for _, child := range children {
		childArc := path.Join(arcPath, child.Name())
		if w.matcher.Match(childArc) {
			continue
		}
		err := w.walk(filepath.Join(sysPath, child.Name()), childArc, false)
		if err != nil {
			return err
		}
	}
	return nil
}
