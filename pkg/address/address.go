// Package address defines the member identifier used by views and digests.
package address

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/internal/wire"
)

// Address identifies a group member. Usually a node ID such as "node1" or a
// name suffixed with a UUID. The zero value is never a member.
type Address string

func (a Address) String() string { return string(a) }

func (a Address) IsZero() bool { return a == "" }

// Compare orders addresses lexicographically.
func Compare(a, b Address) int {
	return strings.Compare(string(a), string(b))
}

// NewRandom returns an address that starts with name and is unique per call.
func NewRandom(name string) Address {
	if name == "" {
		return Address(uuid.NewString())
	}
	return Address(name + "-" + uuid.NewString())
}

// Size is the encoded length of a: a 2-byte length followed by the bytes.
func Size(a Address) int {
	return wire.ShortSize + len(a)
}

func Write(w *wire.Writer, a Address) {
	n, err := wire.Len16(len(a))
	if err != nil {
		w.Fail(errors.Wrap(err, "address"))
		return
	}
	w.PutUint16(n)
	w.PutBytes([]byte(a))
}

func Read(r *wire.Reader) (Address, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", errors.Wrap(err, "address length")
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		return "", errors.Wrap(err, "address")
	}
	return Address(b), nil
}

// ListSize is the encoded length of a count-prefixed address list.
func ListSize(list []Address) int {
	size := wire.ShortSize
	for _, a := range list {
		size += Size(a)
	}
	return size
}

func WriteList(w *wire.Writer, list []Address) {
	n, err := wire.Len16(len(list))
	if err != nil {
		w.Fail(errors.Wrap(err, "address list"))
		return
	}
	w.PutUint16(n)
	for _, a := range list {
		Write(w, a)
	}
}

// ReadList decodes a count-prefixed list. An empty list decodes to a non-nil
// empty slice.
func ReadList(r *wire.Reader) ([]Address, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, errors.Wrap(err, "address list length")
	}
	list := make([]Address, 0, n)
	for i := 0; i < int(n); i++ {
		a, err := Read(r)
		if err != nil {
			return nil, errors.Wrapf(err, "address list entry %d", i)
		}
		list = append(list, a)
	}
	return list, nil
}
