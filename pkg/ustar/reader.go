package ustar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kwf/bagger/pkg/codec"
	"github.com/kwf/bagger/pkg/entry"
)

type reader struct {
	r         io.Reader
	off       int64
	remaining int64
	pad       int64
	err       error
}

func (tr *reader) Next() (entry.Entry, error) {
	if tr.err != nil {
		return entry.Entry{}, tr.err
	}
	e, err := tr.next()
	if err != nil {
		tr.err = err
	}
	return e, err
}

func (tr *reader) next() (entry.Entry, error) {
	if err := tr.skip(tr.remaining + tr.pad); err != nil {
		return entry.Entry{}, err
	}
	tr.remaining, tr.pad = 0, 0

	var hdr [blockSize]byte
	n, err := io.ReadFull(tr.r, hdr[:])
	tr.off += int64(n)
	if err == io.EOF {
		// End of stream at a block boundary counts as termination.
		return entry.Entry{}, io.EOF
	}
	if err != nil {
		return entry.Entry{}, tr.formatErr("header", err)
	}

	if isZeroBlock(hdr[:]) {
		// The terminator is two zero blocks; accept EOF after the
		// first as well.
		n, err := io.ReadFull(tr.r, hdr[:])
		tr.off += int64(n)
		if err == io.EOF {
			return entry.Entry{}, io.EOF
		}
		if err != nil {
			return entry.Entry{}, tr.formatErr("terminator", err)
		}
		if !isZeroBlock(hdr[:]) {
			return entry.Entry{}, fmt.Errorf(
				"tar: lone zero block at offset %d: %w",
				tr.off-2*blockSize, codec.ErrFormat,
			)
		}
		return entry.Entry{}, io.EOF
	}

	return tr.parseHeader(&hdr)
}

func (tr *reader) parseHeader(hdr *[blockSize]byte) (entry.Entry, error) {
	stored, err := parseOctal(hdr[posChksum : posChksum+lenChksum])
	if err != nil {
		return entry.Entry{}, tr.badField("checksum", err)
	}
	var blanked [blockSize]byte
	copy(blanked[:], hdr[:])
	copy(blanked[posChksum:posChksum+lenChksum], "        ")
	if sum := headerSum(blanked[:]); sum != stored {
		return entry.Entry{}, fmt.Errorf(
			"tar: checksum %o != %o at offset %d: %w",
			stored, sum, tr.off-blockSize, codec.ErrFormat,
		)
	}

	name := cString(hdr[posName : posName+lenName])
	if prefix := cString(hdr[posPrefix : posPrefix+lenPrefix]); prefix != "" {
		name = prefix + "/" + name
	}

	mode, err := parseOctal(hdr[posMode : posMode+lenNumeric])
	if err != nil {
		return entry.Entry{}, tr.badField("mode", err)
	}
	size, err := parseOctal(hdr[posSize : posSize+lenSize])
	if err != nil {
		return entry.Entry{}, tr.badField("size", err)
	}
	mtime, err := parseOctal(hdr[posMTime : posMTime+lenMTime])
	if err != nil {
		return entry.Entry{}, tr.badField("mtime", err)
	}

	e := entry.Entry{
		Path:  strings.TrimSuffix(name, "/"),
		Mode:  uint32(mode) & 0777,
		MTime: mtime,
	}
	switch hdr[posTypeflag] {
	case typeRegular, 0:
		e.Kind = entry.Regular
		e.Size = size
		tr.remaining = size
		tr.pad = padding(size)
	case typeDir:
		e.Kind = entry.Dir
	case typeSymlink:
		e.Kind = entry.Symlink
		e.LinkTarget = cString(hdr[posLinkname : posLinkname+lenLinkname])
	default:
		return entry.Entry{}, fmt.Errorf(
			"tar: typeflag %q at offset %d: %w",
			hdr[posTypeflag], tr.off-blockSize, codec.ErrFormat,
		)
	}

	// Same validation as on pack, regardless of who wrote the bytes.
	if err := e.Validate(); err != nil {
		return entry.Entry{}, fmt.Errorf("tar: %w", err)
	}
	return e, nil
}

// Read serves the payload of the current regular-file entry.
func (tr *reader) Read(p []byte) (int, error) {
	if tr.err != nil {
		return 0, tr.err
	}
	if tr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > tr.remaining {
		p = p[:tr.remaining]
	}
	n, err := tr.r.Read(p)
	tr.off += int64(n)
	tr.remaining -= int64(n)
	if err == io.EOF {
		if tr.remaining == 0 {
			return n, nil
		}
		err = fmt.Errorf(
			"tar: payload truncated at offset %d, %d bytes missing: %w",
			tr.off, tr.remaining, codec.ErrFormat,
		)
	}
	if err != nil {
		tr.err = err
	}
	return n, err
}

func (tr *reader) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	m, err := io.CopyN(io.Discard, tr.r, n)
	tr.off += m
	if err != nil {
		return tr.formatErr("payload", err)
	}
	return nil
}

func (tr *reader) formatErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf(
			"tar: truncated %s at offset %d: %w",
			what, tr.off, codec.ErrFormat,
		)
	}
	return fmt.Errorf("tar: read %s at offset %d: %w", what, tr.off, err)
}

func (tr *reader) badField(what string, err error) error {
	return fmt.Errorf(
		"tar: %s field at offset %d: %v: %w",
		what, tr.off-blockSize, err, codec.ErrFormat,
	)
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func cString(field []byte) string {
	if i := bytes.IndexByte(field, 0); i >= 0 {
		field = field[:i]
	}
	return string(field)
}

func parseOctal(field []byte) (int64, error) {
	s := strings.Trim(cString(field), " ")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("bad octal %q", s)
	}
	return v, nil
}
