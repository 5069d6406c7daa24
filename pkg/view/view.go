// Package view holds the membership snapshots installed by a group: View, an
// ordered member list bound to a ViewID, and MergeView, which also keeps the
// views that were unified after a partition healed.
//
// The first member of a view is the coordinator; the second member takes over
// if the coordinator leaves, and so on. Member order is therefore preserved
// through every copy and every encoding.
//
// Views are immutable once built and may be shared between goroutines.
package view

import (
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/internal/wire"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

// MaxPrint caps the number of members rendered by String.
const MaxPrint = 20

var (
	ErrNilMembers      = errors.New("view: member list is nil")
	ErrInvalidMember   = errors.New("view: zero address in member list")
	ErrDuplicateMember = errors.New("view: duplicate member")
	ErrNilView         = errors.New("view: nil view")
)

// Group is implemented by *View and *MergeView only.
type Group interface {
	ID() ViewID
	// Base returns the plain view carrying the ID and members.
	Base() *View
	Size() int
	Members() []address.Address
	ContainsMember(m address.Address) bool
	SerializedSize() int
	MarshalBinary() ([]byte, error)
	String() string

	tag() uint8
	encode(w *wire.Writer)
}

type View struct {
	id      ViewID
	members []address.Address
}

// New builds a view from id and members. The member list is copied, so later
// changes to it are not seen by the view. An empty list is valid; a nil one is
// rejected, as are zero or repeated addresses.
func New(id ViewID, members []address.Address) (*View, error) {
	if members == nil {
		return nil, ErrNilMembers
	}
	seen := make(map[address.Address]struct{}, len(members))
	for i, m := range members {
		if m.IsZero() {
			return nil, errors.Wrapf(ErrInvalidMember, "index %d", i)
		}
		if _, ok := seen[m]; ok {
			return nil, errors.Wrapf(ErrDuplicateMember, "%s", m)
		}
		seen[m] = struct{}{}
	}
	return &View{id: id, members: slices.Clone(members)}, nil
}

// Create builds the ViewID from creator and timestamp.
func Create(creator address.Address, timestamp int64, members ...address.Address) (*View, error) {
	if members == nil {
		members = []address.Address{}
	}
	return New(NewID(creator, timestamp), members)
}

// MustCreate is like Create but panics on invalid members.
func MustCreate(creator address.Address, timestamp int64, members ...address.Address) *View {
	v, err := Create(creator, timestamp, members...)
	if err != nil {
		panic(err)
	}
	return v
}

func (v *View) ID() ViewID { return v.id }

func (v *View) Base() *View { return v }

func (v *View) Creator() address.Address { return v.id.Creator }

// Coordinator returns the first member, if any.
func (v *View) Coordinator() (address.Address, bool) {
	if len(v.members) == 0 {
		return "", false
	}
	return v.members[0], true
}

// Members returns a copy of the ordered member list.
func (v *View) Members() []address.Address {
	return slices.Clone(v.members)
}

func (v *View) Member(i int) address.Address { return v.members[i] }

// All iterates over the members in view order.
func (v *View) All() iter.Seq[address.Address] {
	return func(yield func(address.Address) bool) {
		for _, m := range v.members {
			if !yield(m) {
				return
			}
		}
	}
}

func (v *View) Size() int { return len(v.members) }

// IndexOf returns the position of m in the member list, or -1.
func (v *View) IndexOf(m address.Address) int {
	if m.IsZero() {
		return -1
	}
	return slices.Index(v.members, m)
}

func (v *View) ContainsMember(m address.Address) bool {
	return v.IndexOf(m) >= 0
}

func (v *View) Compare(other Group) int {
	return v.id.Compare(other.ID())
}

// Equal reports whether other has the same ViewID. Members are not compared.
func (v *View) Equal(other Group) bool {
	if isNil(other) {
		return false
	}
	return v.id == other.ID()
}

// Copy returns a view with its own member storage.
func (v *View) Copy() *View {
	return &View{id: v.id, members: slices.Clone(v.members)}
}

func (v *View) String() string {
	var sb strings.Builder
	sb.WriteString(v.id.String())
	sb.WriteString(" (")
	sb.WriteString(strconv.Itoa(len(v.members)))
	sb.WriteString(") [")
	printList(&sb, v.members, MaxPrint)
	sb.WriteString("]")
	return sb.String()
}

func (v *View) tag() uint8 { return tagView }

// Diff returns the members of to that are not in from (joined, in to's order)
// and the members of from that are not in to (left, in from's order). A nil
// from means there was no earlier view and every member of to has joined.
func Diff(from, to Group) (joined, left []address.Address, err error) {
	if isNil(to) {
		return nil, nil, errors.Wrap(ErrNilView, "diff target")
	}
	if isNil(from) {
		return to.Members(), []address.Address{}, nil
	}
	a, b := from.Base(), to.Base()
	joined = []address.Address{}
	for _, m := range b.members {
		if !a.ContainsMember(m) {
			joined = append(joined, m)
		}
	}
	left = []address.Address{}
	for _, m := range a.members {
		if !b.ContainsMember(m) {
			left = append(left, m)
		}
	}
	return joined, left, nil
}

func isNil(g Group) bool {
	return g == nil || g.Base() == nil
}
