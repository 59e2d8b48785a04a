// Package entry defines the in-memory model of one archived file-tree
// node. Entries are built transiently: the collector produces them
// during packing and codec readers produce them during unpacking; only
// the archive byte stream persists.
package entry

import (
	"fmt"
	"io/fs"

	"github.com/kwf/bagger/pkg/paths"
)

// Kind identifies what a tree node is. The numeric values are also the
// on-disk kind tags of the bag format, so they must not be reordered.
type Kind uint8

const (
	Regular Kind = 0
	Dir     Kind = 1
	Symlink Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Regular:
		return "file"
	case Dir:
		return "dir"
	case Symlink:
		return "symlink"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Entry is one archived node. Path is relative, slash-separated, and
// validated; Size is meaningful only for regular files; LinkTarget only
// for symlinks and is stored raw, never resolved.
type Entry struct {
	Path       string
	Kind       Kind
	Mode       uint32
	Size       int64
	MTime      int64
	LinkTarget string
}

// FromFileInfo builds an entry for the node described by fi, archived
// at relPath. For symlinks the caller supplies the raw link target.
func FromFileInfo(relPath string, fi fs.FileInfo, linkTarget string) (Entry, error) {
	e := Entry{
		Path:  relPath,
		Mode:  uint32(fi.Mode().Perm()),
		MTime: fi.ModTime().Unix(),
	}
	switch {
	case fi.Mode().IsDir():
		e.Kind = Dir
	case fi.Mode()&fs.ModeSymlink != 0:
		e.Kind = Symlink
		e.LinkTarget = linkTarget
	case fi.Mode().IsRegular():
		e.Kind = Regular
		e.Size = fi.Size()
	default:
		return Entry{}, fmt.Errorf(
			"%s: unsupported file type %s", relPath, fi.Mode(),
		)
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// Validate enforces the data-model invariants. It runs when entries are
// collected and again on every entry decoded from an archive, so both
// pack and unpack reject hostile paths independently of each other.
func (e Entry) Validate() error {
	if err := paths.ValidateRelPath(e.Path); err != nil {
		return err
	}
	switch e.Kind {
	case Regular:
		if e.Size < 0 {
			return fmt.Errorf("%s: negative size %d", e.Path, e.Size)
		}
	case Dir, Symlink:
		if e.Size != 0 {
			return fmt.Errorf(
				"%s: %s entry carries size %d", e.Path, e.Kind, e.Size,
			)
		}
	default:
		return fmt.Errorf("%s: unknown kind %d", e.Path, uint8(e.Kind))
	}
	if e.Kind == Symlink && e.LinkTarget == "" {
		return fmt.Errorf("%s: symlink without target", e.Path)
	}
	if e.Kind != Symlink && e.LinkTarget != "" {
		return fmt.Errorf("%s: link target on %s entry", e.Path, e.Kind)
	}
	return nil
}
