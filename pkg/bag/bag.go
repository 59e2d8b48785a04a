// Package bag implements the compact bag container. The stream is a
// 4-byte magic and a version byte, then one variable-length record per
// entry, then a single end-marker byte.
//
// Record layout, all integers LEB128 unsigned varints:
//
//	path-len, path bytes, kind tag, mode, mtime,
//	then for regular files: size, raw payload (no padding)
//	then for symlinks: target-len, target bytes
//
// The end of the archive is the reserved kind tag 255 written in place
// of a record. A path-length varint can also begin with 0xFF, so the
// reader treats 0xFF as the end marker only when it is the final byte
// of the stream; otherwise it is the first byte of a record.
package bag

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
)

var magic = [4]byte{0x89, 'B', 'A', 'G'}

const (
	version   = 1
	endMarker = 0xFF

	// Caps on variable-length fields so a crafted length cannot force
	// an arbitrary allocation before validation runs.
	maxPathLen = 4096
	maxLinkLen = 4096
)

// Codec is the bag format, registered under the name "bag".
type Codec struct{}

func (Codec) Name() string { return "bag" }

func (Codec) NewWriter(w io.Writer) codec.Writer {
	return &writer{w: w}
}

func (Codec) NewReader(r io.Reader) (codec.Reader, error) {
	return newReader(r)
}

type writer struct {
	w       io.Writer
	started bool
	closed  bool
}

// start emits the magic and version bytes ahead of the first record.
// An archive with no entries still carries the prologue.
func (bw *writer) start() error {
	if bw.started {
		return nil
	}
	bw.started = true
	prologue := append(magic[:len(magic):len(magic)], version)
	if _, err := bw.w.Write(prologue); err != nil {
		return fmt.Errorf("bag: write prologue: %w", err)
	}
	return nil
}

func (bw *writer) WriteEntry(e entry.Entry, payload io.Reader) error {
	if bw.closed {
		return fmt.Errorf("bag: write after close")
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("bag: %w", err)
	}
	if err := bw.start(); err != nil {
		return err
	}

	buf := binary.AppendUvarint(nil, uint64(len(e.Path)))
	buf = append(buf, e.Path...)
	buf = append(buf, byte(e.Kind))
	buf = binary.AppendUvarint(buf, uint64(e.Mode))
	buf = binary.AppendUvarint(buf, clampTime(e.MTime))

	switch e.Kind {
	case entry.Regular:
		buf = binary.AppendUvarint(buf, uint64(e.Size))
	case entry.Symlink:
		buf = binary.AppendUvarint(buf, uint64(len(e.LinkTarget)))
		buf = append(buf, e.LinkTarget...)
	}
	if _, err := bw.w.Write(buf); err != nil {
		return fmt.Errorf("bag: write record %s: %w", e.Path, err)
	}

	if e.Kind == entry.Regular && e.Size > 0 {
		n, err := io.CopyN(bw.w, payload, e.Size)
		if err != nil {
			return fmt.Errorf(
				"bag: payload %s after %d of %d bytes: %w",
				e.Path, n, e.Size, err,
			)
		}
	}
	return nil
}

func (bw *writer) Close() error {
	if bw.closed {
		return nil
	}
	if err := bw.start(); err != nil {
		return err
	}
	bw.closed = true
	if _, err := bw.w.Write([]byte{endMarker}); err != nil {
		return fmt.Errorf("bag: write end marker: %w", err)
	}
	return nil
}

// clampTime maps pre-epoch timestamps to 0; the varint encoding is
// unsigned.
func clampTime(t int64) uint64 {
	if t < 0 {
		return 0
	}
	return uint64(t)
}
