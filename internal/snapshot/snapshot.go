// Package snapshot stores a whole search index in one portable file.
//
// Layout:
//
//	magic "DIX1" | compression (1 byte) | body
//
// The body, compressed as the header says, is a sequence of frames
// [uint32 little-endian length][JSON {"name", "doc"}], one per crate,
// followed by a zero-length end frame. Input that runs out before the end
// frame, whether inside a frame or on a frame boundary, is reported as
// truncation. A compressed body may therefore be cut anywhere without being
// mistaken for a shorter snapshot.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jcdickinson/docindex/internal/readexact"
	"github.com/jcdickinson/docindex/internal/searchindex"
)

const maxFrameSize = 256 << 20

var magic = [4]byte{'D', 'I', 'X', '1'}

var (
	// ErrBadMagic is returned when the input does not start with the snapshot magic.
	ErrBadMagic = errors.New("not a docindex snapshot")
	// ErrEmptySnapshot is returned for zero-length input.
	ErrEmptySnapshot = errors.New("empty snapshot")
)

type frame struct {
	Name string               `json:"name"`
	Doc  searchindex.CrateDoc `json:"doc"`
}

// Writer appends crate frames to a snapshot.
type Writer struct {
	bw     *bufio.Writer
	body   io.WriteCloser
	closed bool
}

// NewWriter writes the snapshot header to w and returns a Writer for the
// frames. Close must be called to flush the body; it does not close w.
func NewWriter(w io.Writer, c Compression) (*Writer, error) {
	header := append(magic[:], byte(c))
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("writing snapshot header: %w", err)
	}
	body, err := c.newWriter(w)
	if err != nil {
		return nil, err
	}
	return &Writer{bw: bufio.NewWriter(body), body: body}, nil
}

// WriteCrate appends one crate frame.
func (w *Writer) WriteCrate(name string, doc searchindex.CrateDoc) error {
	if w.closed {
		return errors.New("snapshot writer is closed")
	}
	payload, err := json.Marshal(frame{Name: name, Doc: doc})
	if err != nil {
		return fmt.Errorf("encoding crate %s: %w", name, err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("crate %s: frame of %d bytes exceeds limit", name, len(payload))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// Close writes the end frame and flushes the body.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var end [4]byte
	if _, err := w.bw.Write(end[:]); err != nil {
		w.body.Close()
		return fmt.Errorf("writing end frame: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		w.body.Close()
		return fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := w.body.Close(); err != nil {
		return fmt.Errorf("closing snapshot body: %w", err)
	}
	return nil
}

// Write stores idx in w with crates in name order.
func Write(w io.Writer, idx searchindex.Index, c Compression) error {
	sw, err := NewWriter(w, c)
	if err != nil {
		return err
	}
	for _, name := range idx.Names() {
		if err := sw.WriteCrate(name, idx[name]); err != nil {
			sw.Close()
			return err
		}
	}
	return sw.Close()
}

// Reader iterates over the crate frames of a snapshot.
type Reader struct {
	body        io.Reader
	release     func()
	compression Compression
	done        bool
}

// NewReader validates the snapshot header and prepares to read frames.
func NewReader(r io.Reader) (*Reader, error) {
	var header [5]byte
	ok, err := readexact.ReadExactOrEOF(r, header[:])
	if err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	if !ok {
		return nil, ErrEmptySnapshot
	}
	if [4]byte(header[:4]) != magic {
		return nil, ErrBadMagic
	}

	c := Compression(header[4])
	body, release, err := c.newReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{body: bufio.NewReader(body), release: release, compression: c}, nil
}

// Compression reports the body encoding named in the header.
func (r *Reader) Compression() Compression { return r.compression }

// Next returns the next crate. It returns io.EOF after the end frame; a
// stream that stops before the end frame yields an error matching
// io.ErrUnexpectedEOF.
func (r *Reader) Next() (string, searchindex.CrateDoc, error) {
	if r.done {
		return "", searchindex.CrateDoc{}, io.EOF
	}
	var hdr [4]byte
	ok, err := readexact.ReadExactOrEOF(r.body, hdr[:])
	if err != nil {
		return "", searchindex.CrateDoc{}, fmt.Errorf("reading frame header: %w", err)
	}
	if !ok {
		return "", searchindex.CrateDoc{}, fmt.Errorf("snapshot ends without end frame: %w", io.ErrUnexpectedEOF)
	}

	size := binary.LittleEndian.Uint32(hdr[:])
	if size == 0 {
		r.done = true
		return "", searchindex.CrateDoc{}, io.EOF
	}
	if size > maxFrameSize {
		return "", searchindex.CrateDoc{}, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	payload := make([]byte, size)
	ok, err = readexact.ReadExactOrEOF(r.body, payload)
	if err != nil {
		return "", searchindex.CrateDoc{}, fmt.Errorf("reading frame body: %w", err)
	}
	if !ok {
		return "", searchindex.CrateDoc{}, fmt.Errorf("reading frame body: %w",
			&readexact.ShortReadError{Want: int(size), Got: 0})
	}

	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", searchindex.CrateDoc{}, fmt.Errorf("decoding frame: %w", err)
	}
	if f.Name == "" {
		return "", searchindex.CrateDoc{}, errors.New("decoding frame: missing crate name")
	}
	return f.Name, f.Doc, nil
}

// Close releases decompressor resources. It does not close the source.
func (r *Reader) Close() error {
	r.release()
	return nil
}

// Read loads every crate of a snapshot into an Index.
func Read(r io.Reader) (searchindex.Index, error) {
	sr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	defer sr.Close()

	idx := searchindex.Index{}
	for {
		name, doc, err := sr.Next()
		if err == io.EOF {
			return idx, nil
		}
		if err != nil {
			return nil, err
		}
		if _, dup := idx[name]; dup {
			return nil, fmt.Errorf("%w: %s", searchindex.ErrDuplicateCrate, name)
		}
		idx[name] = doc
	}
}
