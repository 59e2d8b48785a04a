// Package ustar implements the tape-archive container: 512-byte header
// blocks with fixed-width octal ASCII fields, zero-padded payloads, and
// a two-zero-block terminator. Output is readable by standard tar
// tools; reading accepts the ustar subset this tool writes (plus the
// prefix field, for archives produced elsewhere).
package ustar

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
)

const blockSize = 512

// Header field offsets and widths.
const (
	posName     = 0
	lenName     = 100
	posMode     = 100
	posUID      = 108
	posGID      = 116
	lenNumeric  = 8
	posSize     = 124
	lenSize     = 12
	posMTime    = 136
	lenMTime    = 12
	posChksum   = 148
	lenChksum   = 8
	posTypeflag = 156
	posLinkname = 157
	lenLinkname = 100
	posMagic    = 257
	posVersion  = 263
	posPrefix   = 345
	lenPrefix   = 155
)

const (
	typeRegular = '0'
	typeSymlink = '2'
	typeDir     = '5'
)

const magicVersion = "ustar\x0000"

// Largest values the 11-digit (size, mtime) and 7-digit (mode, uid,
// gid) octal fields hold.
const (
	maxOctal11 = 1<<33 - 1
	maxOctal7  = 1<<21 - 1
)

// Codec is the tape-archive format, registered under the name "tar".
type Codec struct{}

func (Codec) Name() string { return "tar" }

func (Codec) NewWriter(w io.Writer) codec.Writer {
	return &writer{w: w, uid: os.Getuid(), gid: os.Getgid()}
}

func (Codec) NewReader(r io.Reader) (codec.Reader, error) {
	return &reader{r: r}, nil
}

type writer struct {
	w      io.Writer
	uid    int
	gid    int
	closed bool
}

func (tw *writer) WriteEntry(e entry.Entry, payload io.Reader) error {
	if tw.closed {
		return fmt.Errorf("tar: write after close")
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("tar: %w", err)
	}

	hdr, err := tw.makeHeader(e)
	if err != nil {
		return err
	}
	if _, err := tw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("tar: write header %s: %w", e.Path, err)
	}

	if e.Kind != entry.Regular || e.Size == 0 {
		return nil
	}
	n, err := io.CopyN(tw.w, payload, e.Size)
	if err != nil {
		return fmt.Errorf(
			"tar: payload %s after %d of %d bytes: %w",
			e.Path, n, e.Size, err,
		)
	}
	if pad := padding(e.Size); pad > 0 {
		if _, err := tw.w.Write(make([]byte, pad)); err != nil {
			return fmt.Errorf("tar: pad %s: %w", e.Path, err)
		}
	}
	return nil
}

func (tw *writer) makeHeader(e entry.Entry) ([blockSize]byte, error) {
	var hdr [blockSize]byte

	name := e.Path
	if e.Kind == entry.Dir {
		name += "/"
	}
	// Overlong names fail loudly instead of being truncated; the
	// prefix-field split is deliberately not written.
	if len(name) > lenName {
		return hdr, fmt.Errorf(
			"tar: name %q exceeds %d bytes: %w",
			e.Path, lenName, codec.ErrUnsupported,
		)
	}
	if len(e.LinkTarget) > lenLinkname {
		return hdr, fmt.Errorf(
			"tar: link target %q exceeds %d bytes: %w",
			e.LinkTarget, lenLinkname, codec.ErrUnsupported,
		)
	}
	if e.Size > maxOctal11 {
		return hdr, fmt.Errorf(
			"tar: size %d of %s exceeds octal field: %w",
			e.Size, e.Path, codec.ErrUnsupported,
		)
	}

	copy(hdr[posName:], name)
	putOctal(hdr[posMode:posMode+lenNumeric], int64(e.Mode&0777))
	// uid/gid are best-effort metadata; values the field cannot hold
	// (huge container uids, -1 on platforms without ids) saturate
	// instead of silently truncating to their leading digits.
	putOctal(hdr[posUID:posUID+lenNumeric], clampID(tw.uid))
	putOctal(hdr[posGID:posGID+lenNumeric], clampID(tw.gid))
	putOctal(hdr[posSize:posSize+lenSize], regularSize(e))
	putOctal(hdr[posMTime:posMTime+lenMTime], max(e.MTime, 0))
	copy(hdr[posLinkname:], e.LinkTarget)
	copy(hdr[posMagic:], magicVersion)

	switch e.Kind {
	case entry.Regular:
		hdr[posTypeflag] = typeRegular
	case entry.Dir:
		hdr[posTypeflag] = typeDir
	case entry.Symlink:
		hdr[posTypeflag] = typeSymlink
	}

	putChecksum(&hdr)
	return hdr, nil
}

func (tw *writer) Close() error {
	if tw.closed {
		return nil
	}
	tw.closed = true
	if _, err := tw.w.Write(make([]byte, 2*blockSize)); err != nil {
		return fmt.Errorf("tar: write terminator: %w", err)
	}
	return nil
}

func clampID(id int) int64 {
	return min(max(int64(id), 0), maxOctal7)
}

func regularSize(e entry.Entry) int64 {
	if e.Kind == entry.Regular {
		return e.Size
	}
	return 0
}

// putOctal writes v as zero-padded octal ASCII with a trailing NUL,
// filling the whole field.
func putOctal(field []byte, v int64) {
	s := strconv.FormatInt(v, 8)
	if pad := len(field) - 1 - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	copy(field, s)
	field[len(field)-1] = 0
}

// putChecksum fills the checksum field: the unsigned sum of all 512
// header bytes with the checksum field itself counted as eight ASCII
// spaces, stored as six octal digits, NUL, space.
func putChecksum(hdr *[blockSize]byte) {
	copy(hdr[posChksum:posChksum+lenChksum], "        ")
	sum := headerSum(hdr[:])
	s := strconv.FormatInt(sum, 8)
	if pad := 6 - len(s); pad > 0 {
		s = strings.Repeat("0", pad) + s
	}
	copy(hdr[posChksum:], s)
	hdr[posChksum+6] = 0
	hdr[posChksum+7] = ' '
}

func headerSum(hdr []byte) int64 {
	var sum int64
	for _, b := range hdr {
		sum += int64(b)
	}
	return sum
}

func padding(size int64) int64 {
	if r := size % blockSize; r != 0 {
		return blockSize - r
	}
	return 0
}
