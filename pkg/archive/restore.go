package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kwf/bagger/pkg/entry"
	"github.com/kwf/bagger/pkg/paths"
)

// Unpack decodes the archive in the given format and recreates its
// tree under destRoot, returning the number of entries restored. The
// first failing entry aborts the rest; a partially unpacked
// destination carries no guarantees.
func Unpack(in io.Reader, destRoot, format string) (int, error) {
	r, err := Open(in, format)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(destRoot, 0755); err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	// Resolve the root once; every entry's real parent is checked
	// against this, so a symlink restored earlier in the stream cannot
	// redirect later entries outside it.
	rootReal, err := filepath.EvalSymlinks(destRoot)
	if err != nil {
		return 0, fmt.Errorf("resolve destination: %w", err)
	}
	count := 0
	for {
		e, err := r.Next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if err := restore(e, r, destRoot, rootReal); err != nil {
			return count, fmt.Errorf("%s: %w", e.Path, err)
		}
		count++
	}
}

func restore(e entry.Entry, payload io.Reader, destRoot, rootReal string) error {
	// The codec validated the decoded path already; the containment
	// check on the joined target is the materializer's own line of
	// defense.
	if err := e.Validate(); err != nil {
		return err
	}
	target := filepath.Join(destRoot, filepath.FromSlash(e.Path))
	if !paths.IsWithinDir(destRoot, target) {
		return fmt.Errorf("target %s: %w", target, paths.ErrTraversal)
	}
	if err := checkRealParent(rootReal, target); err != nil {
		return err
	}

	switch e.Kind {
	case entry.Dir:
		return restoreDir(target, e)
	case entry.Regular:
		return restoreFile(target, e, payload)
	case entry.Symlink:
		return restoreSymlink(target, e)
	}
	return fmt.Errorf("unknown kind %d", e.Kind)
}

// checkRealParent resolves the deepest existing ancestor of target and
// rejects it if it lands outside the resolved destination root. The
// lexical containment check cannot catch this case: a symlink restored
// by an earlier entry may point anywhere, and an entry beneath it would
// otherwise be written through the link.
func checkRealParent(rootReal, target string) error {
	dir := filepath.Dir(target)
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			if !paths.IsWithinDir(rootReal, real) {
				return fmt.Errorf(
					"parent %s resolves outside destination: %w",
					dir, paths.ErrTraversal,
				)
			}
			return nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("resolve %s: %w", dir, err)
		}
		// Missing components are about to be created fresh and cannot
		// be symlinks; walk up to what exists.
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
	}
}

func restoreDir(target string, e entry.Entry) error {
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.Chmod(target, fs.FileMode(e.Mode&0777)); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return nil
}

func restoreFile(target string, e entry.Entry, payload io.Reader) error {
	// Directory entries precede their contents in a well-formed
	// archive, but archives of explicit file inputs carry no parent
	// entries at all, so missing ancestors are created here.
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	// An existing symlink at the target is replaced, not written
	// through; OpenFile would otherwise follow it.
	if fi, err := os.Lstat(target); err == nil && fi.Mode()&fs.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return fmt.Errorf("replace: %w", err)
		}
	}
	f, err := os.OpenFile(
		target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600,
	)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}
	n, copyErr := io.Copy(f, payload)
	closeErr := f.Close()
	if copyErr != nil {
		return fmt.Errorf("write after %d bytes: %w", n, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close: %w", closeErr)
	}

	// Metadata goes on after the data is fully written and closed, so
	// a payload failure never leaves a fully-permissioned stub behind.
	if err := os.Chmod(target, fs.FileMode(e.Mode&0777)); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	mtime := time.Unix(e.MTime, 0)
	if err := os.Chtimes(target, mtime, mtime); err != nil {
		return fmt.Errorf("chtimes: %w", err)
	}
	return nil
}

func restoreSymlink(target string, e entry.Entry) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("mkdir parent: %w", err)
	}
	// Overwrite semantics match regular files: an existing node at the
	// target is replaced.
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replace: %w", err)
	}
	// The recorded target is created verbatim and never resolved or
	// checked; only the link's own location is constrained.
	if err := os.Symlink(e.LinkTarget, target); err != nil {
		return fmt.Errorf("symlink: %w", err)
	}
	return nil
}
