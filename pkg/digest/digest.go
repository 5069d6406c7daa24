// Package digest records, for each member of a view, the highest sequence
// number delivered and the highest sequence number received.
//
// Seqnos are stored positionally: for the member at index i of the view,
// seqnos[2i] is the highest delivered and seqnos[2i+1] the highest received.
// Many digests can therefore share one View without repeating the member list.
//
// A digest decoded off the wire only knows its ViewID. Operations that need
// member identities (Get, Contains, All, printing of entries) require the
// digest to be bound first with Bind; calling them on an unbound digest
// panics with ErrNotBound.
package digest

import (
	"iter"
	"slices"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

var (
	ErrNilView   = errors.New("digest: view is nil")
	ErrNilSeqnos = errors.New("digest: seqnos is nil")
	ErrCapacity  = errors.New("digest: seqnos length is not twice the view size")
	ErrNotBound  = errors.New("digest: not bound to a view")
)

// Scope is what a digest is bound to: Unbound (a bare ViewID, as received
// off the wire) or Bound (the full View).
type Scope interface {
	ViewID() view.ViewID
	isScope()
}

type Unbound struct {
	ID view.ViewID
}

func (s Unbound) ViewID() view.ViewID { return s.ID }
func (Unbound) isScope()              {}

type Bound struct {
	View *view.View
}

func (s Bound) ViewID() view.ViewID { return s.View.ID() }
func (Bound) isScope()              {}

// Entry is one member's seqnos.
type Entry struct {
	Member           address.Address
	HighestDelivered int64
	HighestReceived  int64
}

func (e Entry) Highest() int64 {
	return max(e.HighestDelivered, e.HighestReceived)
}

// Digest is immutable apart from Bind. Use MutableDigest to change seqnos.
type Digest struct {
	scope  Scope
	seqnos []int64
}

// New creates a digest over v. seqnos holds hd/hr pairs in member order and
// must have exactly 2*v.Size() elements; it is copied.
func New(v *view.View, seqnos []int64) (*Digest, error) {
	if v == nil {
		return nil, ErrNilView
	}
	if seqnos == nil {
		return nil, ErrNilSeqnos
	}
	if err := checkCapacity(v, len(seqnos)); err != nil {
		return nil, err
	}
	return &Digest{scope: Bound{View: v}, seqnos: slices.Clone(seqnos)}, nil
}

func checkCapacity(v *view.View, n int) error {
	if n != 2*v.Size() {
		return errors.Wrapf(ErrCapacity, "seqnos.length (%d), view size (%d)", n, v.Size())
	}
	return nil
}

// Capacity is the number of entries, which equals the size of the view.
func (d *Digest) Capacity() int { return len(d.seqnos) / 2 }

func (d *Digest) Scope() Scope { return d.scope }

// View returns the bound view, or nil if the digest only has a ViewID.
func (d *Digest) View() *view.View {
	if b, ok := d.scope.(Bound); ok {
		return b.View
	}
	return nil
}

func (d *Digest) ViewID() view.ViewID { return d.scope.ViewID() }

func (d *Digest) Bound() bool {
	_, ok := d.scope.(Bound)
	return ok
}

// Bind promotes an unbound digest to v if v carries the digest's ViewID and
// has one member per entry. Otherwise, and whenever the digest is already
// bound, Bind does nothing. It returns d.
//
// Bind writes to d, so it must not race with readers of d.
func (d *Digest) Bind(v *view.View) *Digest {
	u, ok := d.scope.(Unbound)
	if !ok || v == nil || u.ID != v.ID() || checkCapacity(v, len(d.seqnos)) != nil {
		return d
	}
	d.scope = Bound{View: v}
	return d
}

func (d *Digest) mustView() *view.View {
	b, ok := d.scope.(Bound)
	if !ok {
		panic(errors.Wrapf(ErrNotBound, "%s", d.scope.ViewID()))
	}
	return b.View
}

func (d *Digest) Contains(m address.Address) bool {
	return d.mustView().ContainsMember(m)
}

func (d *Digest) ContainsAll(members ...address.Address) bool {
	v := d.mustView()
	for _, m := range members {
		if !v.ContainsMember(m) {
			return false
		}
	}
	return true
}

// Get returns the entry for m; ok is false if m is not in the view.
func (d *Digest) Get(m address.Address) (e Entry, ok bool) {
	i := d.mustView().IndexOf(m)
	if i < 0 {
		return Entry{}, false
	}
	return d.entry(m, i), true
}

func (d *Digest) entry(m address.Address, i int) Entry {
	return Entry{Member: m, HighestDelivered: d.seqnos[2*i], HighestReceived: d.seqnos[2*i+1]}
}

// All iterates over the entries in view order. The sequence can be ranged
// over any number of times.
func (d *Digest) All() iter.Seq[Entry] {
	v := d.mustView()
	return func(yield func(Entry) bool) {
		for i := 0; i < d.Capacity(); i++ {
			if !yield(d.entry(v.Member(i), i)) {
				return
			}
		}
	}
}

// Copy returns a digest with its own seqnos and the same scope.
func (d *Digest) Copy() *Digest {
	return &Digest{scope: d.scope, seqnos: slices.Clone(d.seqnos)}
}

// Mutable returns a mutable copy of d.
func (d *Digest) Mutable() *MutableDigest {
	return &MutableDigest{Digest: *d.Copy()}
}

// Equal reports whether both digests have the same ViewID and the same seqnos
// in the same order. Neither digest needs to be bound.
func (d *Digest) Equal(other *Digest) bool {
	if d == other {
		return true
	}
	if other == nil {
		return false
	}
	return d.ViewID() == other.ViewID() && slices.Equal(d.seqnos, other.seqnos)
}
