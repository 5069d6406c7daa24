package view

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/internal/wire"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

// Wire layout:
//
//	View:      ViewID | uint16 n | n addresses
//	MergeView: View | uint16 k | k * (tag byte | View or MergeView)
//
// where tag is 1 for a MergeView and 0 for a plain View.
const (
	tagView  uint8 = 0
	tagMerge uint8 = 1
)

var (
	ErrBadTag        = errors.New("view: unknown view tag")
	ErrTrailingBytes = errors.New("view: trailing bytes after encoding")
)

func (v *View) SerializedSize() int {
	return v.id.SerializedSize() + address.ListSize(v.members)
}

func (v *View) encode(w *wire.Writer) {
	WriteID(w, v.id)
	address.WriteList(w, v.members)
}

func (v *View) WriteTo(w io.Writer) (int64, error) {
	return writeTo(w, v)
}

func (v *View) MarshalBinary() ([]byte, error) {
	return marshal(v)
}

// UnmarshalBinary replaces v with the decoded view. v is left untouched if
// data is malformed.
func (v *View) UnmarshalBinary(data []byte) error {
	d, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*v = *d
	return nil
}

func (m *MergeView) SerializedSize() int {
	size := m.View.SerializedSize() + wire.ShortSize
	for _, g := range m.subgroups {
		size += wire.ByteSize + g.SerializedSize()
	}
	return size
}

func (m *MergeView) encode(w *wire.Writer) {
	m.View.encode(w)
	n, err := wire.Len16(len(m.subgroups))
	if err != nil {
		w.Fail(errors.Wrap(err, "subgroups"))
		return
	}
	w.PutUint16(n)
	for _, g := range m.subgroups {
		w.PutUint8(g.tag())
		g.encode(w)
	}
}

func (m *MergeView) WriteTo(w io.Writer) (int64, error) {
	return writeTo(w, m)
}

func (m *MergeView) MarshalBinary() ([]byte, error) {
	return marshal(m)
}

func (m *MergeView) UnmarshalBinary(data []byte) error {
	d, err := UnmarshalMerge(data)
	if err != nil {
		return err
	}
	*m = *d
	return nil
}

// Unmarshal decodes a plain view from data.
func Unmarshal(data []byte) (*View, error) {
	r := wire.NewReader(data)
	v, err := Read(r)
	if err != nil {
		return nil, err
	}
	if err := checkDone(r); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalMerge decodes a merge view from data.
func UnmarshalMerge(data []byte) (*MergeView, error) {
	r := wire.NewReader(data)
	m, err := ReadMerge(r)
	if err != nil {
		return nil, err
	}
	if err := checkDone(r); err != nil {
		return nil, err
	}
	return m, nil
}

// MarshalGroup encodes g preceded by its tag, so UnmarshalGroup can tell a
// View from a MergeView.
func MarshalGroup(g Group) ([]byte, error) {
	if isNil(g) {
		return nil, ErrNilView
	}
	var buf bytes.Buffer
	buf.Grow(GroupSize(g))
	w := wire.NewWriter(&buf)
	WriteGroup(w, g)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func UnmarshalGroup(data []byte) (Group, error) {
	r := wire.NewReader(data)
	g, err := ReadGroup(r)
	if err != nil {
		return nil, err
	}
	if err := checkDone(r); err != nil {
		return nil, err
	}
	return g, nil
}

// GroupSize is the length of the tagged encoding written by WriteGroup.
func GroupSize(g Group) int {
	return wire.ByteSize + g.SerializedSize()
}

func WriteGroup(w *wire.Writer, g Group) {
	w.PutUint8(g.tag())
	g.encode(w)
}

func ReadGroup(r *wire.Reader) (Group, error) {
	tag, err := r.Uint8()
	if err != nil {
		return nil, errors.Wrap(err, "view tag")
	}
	return readTagged(r, tag)
}

func Read(r *wire.Reader) (*View, error) {
	id, err := ReadID(r)
	if err != nil {
		return nil, err
	}
	members, err := address.ReadList(r)
	if err != nil {
		return nil, errors.Wrapf(err, "members of %s", id)
	}
	v, err := New(id, members)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", id)
	}
	return v, nil
}

func ReadMerge(r *wire.Reader) (*MergeView, error) {
	v, err := Read(r)
	if err != nil {
		return nil, err
	}
	n, err := r.Uint16()
	if err != nil {
		return nil, errors.Wrapf(err, "subgroup count of %s", v.id)
	}
	m := &MergeView{View: *v}
	if n == 0 {
		return m, nil
	}
	m.subgroups = make([]Group, 0, n)
	for i := 0; i < int(n); i++ {
		tag, err := r.Uint8()
		if err != nil {
			return nil, errors.Wrapf(err, "subgroup %d tag of %s", i, v.id)
		}
		g, err := readTagged(r, tag)
		if err != nil {
			return nil, errors.Wrapf(err, "subgroup %d of %s", i, v.id)
		}
		m.subgroups = append(m.subgroups, g)
	}
	return m, nil
}

func readTagged(r *wire.Reader, tag uint8) (Group, error) {
	switch tag {
	case tagView:
		v, err := Read(r)
		if err != nil {
			return nil, err
		}
		return v, nil
	case tagMerge:
		m, err := ReadMerge(r)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, errors.Wrapf(ErrBadTag, "%d", tag)
	}
}

func checkDone(r *wire.Reader) error {
	if n := r.Remaining(); n > 0 {
		return errors.Wrapf(ErrTrailingBytes, "%d bytes at offset %d", n, r.Offset())
	}
	return nil
}

func writeTo(w io.Writer, g Group) (int64, error) {
	ww := wire.NewWriter(w)
	g.encode(ww)
	return ww.Written(), ww.Err()
}

func marshal(g Group) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(g.SerializedSize())
	if _, err := writeTo(&buf, g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func printList[T fmt.Stringer](sb *strings.Builder, items []T, max int) {
	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		if max > 0 && i >= max {
			fmt.Fprintf(sb, "... %d more", len(items)-i)
			return
		}
		sb.WriteString(item.String())
	}
}
