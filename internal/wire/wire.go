// Package wire holds the big-endian primitives shared by the view and digest
// codecs. Writers keep the first error they hit so encoders can emit a whole
// structure and check once at the end.
package wire

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

const (
	ByteSize  = 1
	ShortSize = 2
	LongSize  = 8
)

var (
	ErrOutOfBounds = errors.New("wire: out of bounds")
	ErrTooLong     = errors.New("wire: length does not fit in 16 bits")
)

// Len16 checks that n can be written as an unsigned short length prefix.
func Len16(n int) (uint16, error) {
	if n < 0 || n > math.MaxUint16 {
		return 0, errors.Wrapf(ErrTooLong, "length %d", n)
	}
	return uint16(n), nil
}

type Writer struct {
	w   io.Writer
	n   int64
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	w.err = err
}

func (w *Writer) PutUint8(v uint8) {
	w.write([]byte{v})
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
		return
	}
	w.PutUint8(0)
}

func (w *Writer) PutUint16(v uint16) {
	var b [ShortSize]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.write(b[:])
}

func (w *Writer) PutInt64(v int64) {
	var b [LongSize]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.write(b[:])
}

func (w *Writer) PutBytes(b []byte) {
	w.write(b)
}

// Fail records err unless an earlier error is already set.
func (w *Writer) Fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// Written returns the number of bytes handed to the underlying writer.
func (w *Writer) Written() int64 { return w.n }

func (w *Writer) Err() error { return w.err }

type Reader struct {
	i   int
	buf []byte
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Uint8() (uint8, error) {
	if r.i+ByteSize > len(r.buf) {
		return 0, ErrOutOfBounds
	}
	v := r.buf[r.i]
	r.i += ByteSize
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if r.i+ShortSize > len(r.buf) {
		return 0, ErrOutOfBounds
	}
	v := binary.BigEndian.Uint16(r.buf[r.i:])
	r.i += ShortSize
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	if r.i+LongSize > len(r.buf) {
		return 0, ErrOutOfBounds
	}
	v := int64(binary.BigEndian.Uint64(r.buf[r.i:]))
	r.i += LongSize
	return v, nil
}

// Bytes returns the next count bytes. The result aliases the reader's buffer.
func (r *Reader) Bytes(count int) ([]byte, error) {
	if count < 0 || r.i+count > len(r.buf) {
		return nil, ErrOutOfBounds
	}
	v := r.buf[r.i : r.i+count]
	r.i += count
	return v, nil
}

func (r *Reader) Offset() int { return r.i }

func (r *Reader) Remaining() int { return len(r.buf) - r.i }
