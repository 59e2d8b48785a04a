package bag

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
)

type reader struct {
	br        *bufio.Reader
	off       int64
	remaining int64
	err       error
}

func newReader(r io.Reader) (*reader, error) {
	br := bufio.NewReader(r)
	var prologue [5]byte
	if _, err := io.ReadFull(br, prologue[:]); err != nil {
		return nil, fmt.Errorf(
			"bag: reading magic: %w", codec.ErrFormat,
		)
	}
	if !bytes.Equal(prologue[:4], magic[:]) {
		return nil, fmt.Errorf("bag: bad magic: %w", codec.ErrFormat)
	}
	if prologue[4] != version {
		return nil, fmt.Errorf(
			"bag: unsupported version %d: %w",
			prologue[4], codec.ErrFormat,
		)
	}
	return &reader{br: br, off: 5}, nil
}

func (r *reader) Next() (entry.Entry, error) {
	if r.err != nil {
		return entry.Entry{}, r.err
	}
	e, err := r.next()
	if err != nil {
		r.err = err
	}
	return e, err
}

func (r *reader) next() (entry.Entry, error) {
	// Drain whatever the caller left of the current payload.
	if r.remaining > 0 {
		if _, err := io.Copy(io.Discard, payloadOnly{r}); err != nil {
			return entry.Entry{}, err
		}
	}

	b, err := r.br.ReadByte()
	if err != nil {
		return entry.Entry{}, r.formatErr("record", err)
	}
	if b == endMarker {
		// 0xFF is the end marker only at the very end of the stream;
		// anywhere else it opens a path-length varint.
		if _, err := r.br.Peek(1); err == io.EOF {
			return entry.Entry{}, io.EOF
		}
	}
	if err := r.br.UnreadByte(); err != nil {
		return entry.Entry{}, fmt.Errorf("bag: unread: %w", err)
	}

	pathLen, err := r.readUvarint("path length")
	if err != nil {
		return entry.Entry{}, err
	}
	if pathLen > maxPathLen {
		return entry.Entry{}, fmt.Errorf(
			"bag: path length %d at offset %d: %w",
			pathLen, r.off, codec.ErrFormat,
		)
	}
	path, err := r.readBytes(int(pathLen), "path")
	if err != nil {
		return entry.Entry{}, err
	}

	kind, err := r.br.ReadByte()
	if err != nil {
		return entry.Entry{}, r.formatErr("kind tag", err)
	}
	r.off++
	if kind > uint8(entry.Symlink) {
		return entry.Entry{}, fmt.Errorf(
			"bag: kind tag %d at offset %d: %w",
			kind, r.off-1, codec.ErrFormat,
		)
	}

	mode, err := r.readUvarint("mode")
	if err != nil {
		return entry.Entry{}, err
	}
	mtime, err := r.readUvarint("mtime")
	if err != nil {
		return entry.Entry{}, err
	}
	if mode > math.MaxUint32 || mtime > math.MaxInt64 {
		return entry.Entry{}, fmt.Errorf(
			"bag: field out of range at offset %d: %w",
			r.off, codec.ErrFormat,
		)
	}

	e := entry.Entry{
		Path:  string(path),
		Kind:  entry.Kind(kind),
		Mode:  uint32(mode),
		MTime: int64(mtime),
	}

	switch e.Kind {
	case entry.Regular:
		size, err := r.readUvarint("size")
		if err != nil {
			return entry.Entry{}, err
		}
		if size > math.MaxInt64 {
			return entry.Entry{}, fmt.Errorf(
				"bag: size out of range at offset %d: %w",
				r.off, codec.ErrFormat,
			)
		}
		e.Size = int64(size)
		r.remaining = e.Size
	case entry.Symlink:
		linkLen, err := r.readUvarint("target length")
		if err != nil {
			return entry.Entry{}, err
		}
		if linkLen > maxLinkLen {
			return entry.Entry{}, fmt.Errorf(
				"bag: target length %d at offset %d: %w",
				linkLen, r.off, codec.ErrFormat,
			)
		}
		target, err := r.readBytes(int(linkLen), "target")
		if err != nil {
			return entry.Entry{}, err
		}
		e.LinkTarget = string(target)
	}

	// Validate the decoded entry exactly as on pack, independent of
	// whatever the writer promised.
	if err := e.Validate(); err != nil {
		return entry.Entry{}, fmt.Errorf("bag: %w", err)
	}
	return e, nil
}

// Read serves the payload of the current regular-file entry.
func (r *reader) Read(p []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err := payloadOnly{r}.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

// payloadOnly exposes the raw payload read without the sticky-error
// wrapping, so Next can drain a partially read payload.
type payloadOnly struct{ r *reader }

func (p payloadOnly) Read(b []byte) (int, error) {
	r := p.r
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(b)) > r.remaining {
		b = b[:r.remaining]
	}
	n, err := r.br.Read(b)
	r.off += int64(n)
	r.remaining -= int64(n)
	if err == io.EOF {
		// Stream ended before the declared size was satisfied.
		return n, fmt.Errorf(
			"bag: payload truncated at offset %d, %d bytes missing: %w",
			r.off, r.remaining, codec.ErrFormat,
		)
	}
	return n, err
}

func (r *reader) readUvarint(what string) (uint64, error) {
	v, err := binary.ReadUvarint(countingByteReader{r})
	if err != nil {
		if errors.Is(err, io.EOF) ||
			errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, r.formatErr(what, io.ErrUnexpectedEOF)
		}
		// Varint longer than 64 bits.
		return 0, fmt.Errorf(
			"bag: %s at offset %d: %w", what, r.off, codec.ErrFormat,
		)
	}
	return v, nil
}

func (r *reader) readBytes(n int, what string) ([]byte, error) {
	buf := make([]byte, n)
	m, err := io.ReadFull(r.br, buf)
	r.off += int64(m)
	if err != nil {
		return nil, r.formatErr(what, err)
	}
	return buf, nil
}

// formatErr maps an unexpected end of input (or any other read
// failure) while decoding the field named by what to ErrFormat,
// carrying the byte offset.
func (r *reader) formatErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf(
			"bag: truncated %s at offset %d: %w",
			what, r.off, codec.ErrFormat,
		)
	}
	return fmt.Errorf("bag: read %s at offset %d: %w", what, r.off, err)
}

type countingByteReader struct{ r *reader }

func (c countingByteReader) ReadByte() (byte, error) {
	b, err := c.r.br.ReadByte()
	if err == nil {
		c.r.off++
	}
	return b, err
}
