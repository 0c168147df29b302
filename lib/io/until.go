package iolib

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
)

var ErrZeroLenDelim = errors.New("delim has zero length")

// UntilReader reads a stream in delimiter-bounded pieces. Bytes pulled
// from the underlying reader past a delimiter stay buffered for the
// next call, so mixing [UntilReader.ReadUntil] with plain Reads is
// safe.
type UntilReader struct {
	r   io.Reader
	buf bytes.Buffer
}

func NewUntilReader(r io.Reader) *UntilReader {
	return &UntilReader{r: r}
}

func (ur *UntilReader) Read(p []byte) (n int, err error) {
	if ur.buf.Len() > 0 {
		n, err = ur.buf.Read(p)
		if err == io.EOF {
			err = nil
		}
		return n, err
	}

	return ur.r.Read(p)
}

// ReadUntil reads through the first occurrence of delim and returns
// everything up to and including it. When the underlying reader fails
// first, it returns what accumulated along with the error.
func (ur *UntilReader) ReadUntil(delim []byte) ([]byte, error) {
	if len(delim) == 0 {
		return nil, ErrZeroLenDelim
	}

	acc := bytes.Clone(ur.buf.Bytes())
	ur.buf.Reset()

	searchFrom := 0
	tmp := make([]byte, 1024)
	for {
		if idx := bytes.Index(acc[searchFrom:], delim); idx >= 0 {
			end := searchFrom + idx + len(delim)
			ur.buf.Write(acc[end:])
			return acc[:end:end], nil
		}
		// Keep a delimiter-sized tail in the search window; the
		// delimiter may straddle two reads.
		if len(acc) >= len(delim) {
			searchFrom = len(acc) - len(delim) + 1
		}

		n, err := ur.r.Read(tmp)
		acc = append(acc, tmp[:n]...)
		if err != nil {
			return acc, err
		}
	}
}

// ReadUntilLimit is [UntilReader.ReadUntil] but gives up after reading
// limit additional bytes from the underlying reader. Exceeding the
// limit surfaces as an [io.EOF] before the delimiter.
func (ur *UntilReader) ReadUntilLimit(delim []byte, limit uint) ([]byte, error) {
	if limit > 0 {
		r := ur.r
		ur.r = LimitReader(r, limit)
		defer func() { ur.r = r }() // restore underlying reader
	}

	return ur.ReadUntil(delim)
}
