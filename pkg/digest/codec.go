package digest

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/internal/wire"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

// Only the ViewID and the seqnos are encoded:
//
//	ViewID | uint16 n | n * (int64 hd | int64 hr)
//
// A decoded digest is unbound until Bind is called with the matching view.

var ErrTrailingBytes = errors.New("digest: trailing bytes after encoding")

func (d *Digest) SerializedSize() int {
	return d.ViewID().SerializedSize() + wire.ShortSize + d.Capacity()*2*wire.LongSize
}

func (d *Digest) encode(w *wire.Writer) {
	view.WriteID(w, d.ViewID())
	n, err := wire.Len16(d.Capacity())
	if err != nil {
		w.Fail(errors.Wrap(err, "digest entries"))
		return
	}
	w.PutUint16(n)
	for _, s := range d.seqnos {
		w.PutInt64(s)
	}
}

func (d *Digest) WriteTo(w io.Writer) (int64, error) {
	ww := wire.NewWriter(w)
	d.encode(ww)
	return ww.Written(), ww.Err()
}

func (d *Digest) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(d.SerializedSize())
	if _, err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary replaces d with the decoded, unbound digest. d is left
// untouched if data is malformed.
func (d *Digest) UnmarshalBinary(data []byte) error {
	dec, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*d = *dec
	return nil
}

func Unmarshal(data []byte) (*Digest, error) {
	r := wire.NewReader(data)
	d, err := Decode(r)
	if err != nil {
		return nil, err
	}
	if n := r.Remaining(); n > 0 {
		return nil, errors.Wrapf(ErrTrailingBytes, "%d bytes at offset %d", n, r.Offset())
	}
	return d, nil
}

func Decode(r *wire.Reader) (*Digest, error) {
	id, err := view.ReadID(r)
	if err != nil {
		return nil, errors.Wrap(err, "digest view id")
	}
	n, err := r.Uint16()
	if err != nil {
		return nil, errors.Wrapf(err, "digest size for %s", id)
	}
	if need := int(n) * 2 * wire.LongSize; need > r.Remaining() {
		return nil, errors.Wrapf(wire.ErrOutOfBounds, "digest for %s needs %d bytes, %d left", id, need, r.Remaining())
	}
	seqnos := make([]int64, 2*int(n))
	for i := range seqnos {
		if seqnos[i], err = r.Int64(); err != nil {
			return nil, errors.Wrapf(err, "digest seqno %d for %s", i, id)
		}
	}
	return &Digest{scope: Unbound{ID: id}, seqnos: seqnos}, nil
}
