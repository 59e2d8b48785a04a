// Package codec defines the contract shared by the archive container
// formats. A codec turns an ordered entry sequence into a byte stream
// and back; it never touches the filesystem itself.
package codec

import (
	"errors"
	"io"

	"github.com/kwf/bagger/pkg/entry"
)

// ErrFormat covers everything wrong with the bytes of an archive: bad
// magic or version, checksum mismatch, truncated record, unrecognized
// kind tag or typeflag.
var ErrFormat = errors.New("malformed archive")

// ErrUnsupported means the input needs something the chosen container
// cannot represent, such as a path longer than the tar name field.
var ErrUnsupported = errors.New("unsupported by archive format")

// Writer streams entries into an archive. For regular files the payload
// reader must supply exactly e.Size bytes. Close writes the end-of-
// archive marker; without it the stream is truncated by definition.
type Writer interface {
	WriteEntry(e entry.Entry, payload io.Reader) error
	Close() error
}

// Reader streams entries out of an archive. Next returns io.EOF after
// the end-of-archive marker; any earlier end of input is ErrFormat.
// After a regular-file entry, Read serves exactly that entry's payload
// and then reports io.EOF until the next call to Next.
type Reader interface {
	Next() (entry.Entry, error)
	io.Reader
}

// Codec binds the two directions of one container format.
type Codec interface {
	// Name is the format identifier used for dispatch ("bag", "tar").
	Name() string
	NewWriter(w io.Writer) Writer
	NewReader(r io.Reader) (Reader, error)
}
