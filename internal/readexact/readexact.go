// Package readexact provides a variant of io.ReadFull that treats an empty
// stream as a clean end rather than an error.
//
// The typical caller is a decoder walking a sequence of fixed-size headers:
// running out of input exactly on a header boundary means "no more records",
// while running out halfway through one means the input was truncated.
package readexact

import (
	"fmt"
	"io"
)

// maxEmptyReads bounds consecutive (0, nil) reads, the same limit bufio uses.
const maxEmptyReads = 100

// ShortReadError reports a stream that ended after some, but not all, of the
// requested bytes were read. It matches io.ErrUnexpectedEOF under errors.Is.
type ShortReadError struct {
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("failed to fill whole buffer: read %d of %d bytes", e.Got, e.Want)
}

func (e *ShortReadError) Unwrap() error { return io.ErrUnexpectedEOF }

// ReadExactOrEOF reads exactly len(buf) bytes from r, or nothing at all.
//
// It returns true when buf was filled and false when r was already at EOF
// before the first byte. If the stream ends part-way the result is a
// *ShortReadError. Any other error from r is returned unchanged. The contents
// of buf are unspecified when the result is false or an error.
//
// An empty buf is trivially filled: the call returns true without reading.
func ReadExactOrEOF(r io.Reader, buf []byte) (bool, error) {
	n, err := fill(r, buf)
	switch {
	case err == nil:
		return true, nil
	case err == io.EOF && n == 0:
		return false, nil
	case err == io.EOF:
		return false, &ShortReadError{Want: len(buf), Got: n}
	default:
		return false, err
	}
}

// fill reads into buf until it is full or r fails. A read that completes the
// buffer wins over an error returned alongside it, as with io.ReadFull.
func fill(r io.Reader, buf []byte) (int, error) {
	n, empty := 0, 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if n >= len(buf) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}
