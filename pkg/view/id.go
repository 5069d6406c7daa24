package view

import (
	"cmp"
	"fmt"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/internal/wire"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

// ViewID identifies a view by the member that created it and a Lamport
// timestamp. IDs order by timestamp first and creator second.
type ViewID struct {
	Creator   address.Address
	Timestamp int64
}

func NewID(creator address.Address, timestamp int64) ViewID {
	return ViewID{Creator: creator, Timestamp: timestamp}
}

func (id ViewID) Compare(other ViewID) int {
	if c := cmp.Compare(id.Timestamp, other.Timestamp); c != 0 {
		return c
	}
	return address.Compare(id.Creator, other.Creator)
}

func (id ViewID) IsZero() bool { return id == ViewID{} }

func (id ViewID) String() string {
	return fmt.Sprintf("[%s|%d]", id.Creator, id.Timestamp)
}

func (id ViewID) SerializedSize() int {
	return address.Size(id.Creator) + wire.LongSize
}

// WriteID encodes id as the creator address followed by the timestamp.
func WriteID(w *wire.Writer, id ViewID) {
	address.Write(w, id.Creator)
	w.PutInt64(id.Timestamp)
}

func ReadID(r *wire.Reader) (ViewID, error) {
	creator, err := address.Read(r)
	if err != nil {
		return ViewID{}, errors.Wrap(err, "view id creator")
	}
	ts, err := r.Int64()
	if err != nil {
		return ViewID{}, errors.Wrap(err, "view id timestamp")
	}
	return ViewID{Creator: creator, Timestamp: ts}, nil
}
