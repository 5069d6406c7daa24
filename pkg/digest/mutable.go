package digest

import (
	"slices"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

// MutableDigest is a digest whose seqnos can be changed in place. Its
// capacity is fixed by the view it was created with: setting or merging a
// member outside that view does nothing.
//
// A MutableDigest is not safe for concurrent use.
type MutableDigest struct {
	Digest
}

// NewMutable returns a digest over v with all seqnos set to zero.
func NewMutable(v *view.View) (*MutableDigest, error) {
	if v == nil {
		return nil, ErrNilView
	}
	return &MutableDigest{Digest: Digest{scope: Bound{View: v}, seqnos: make([]int64, 2*v.Size())}}, nil
}

// NewMutableWith is like New but returns a mutable digest.
func NewMutableWith(v *view.View, seqnos []int64) (*MutableDigest, error) {
	d, err := New(v, seqnos)
	if err != nil {
		return nil, err
	}
	return &MutableDigest{Digest: *d}, nil
}

// NewMutableFromMembers builds the view for id and members and returns an
// empty digest over it.
func NewMutableFromMembers(id view.ViewID, members ...address.Address) (*MutableDigest, error) {
	if members == nil {
		members = []address.Address{}
	}
	v, err := view.New(id, members)
	if err != nil {
		return nil, err
	}
	return NewMutable(v)
}

// Set overwrites the seqnos of m. It does nothing if m is not in the view.
func (d *MutableDigest) Set(m address.Address, highestDelivered, highestReceived int64) *MutableDigest {
	if i := d.mustView().IndexOf(m); i >= 0 {
		d.seqnos[2*i] = highestDelivered
		d.seqnos[2*i+1] = highestReceived
	}
	return d
}

// SetDigest sets every entry of other that is also in d's view.
func (d *MutableDigest) SetDigest(other *Digest) *MutableDigest {
	if other == nil {
		return d
	}
	if d.samePositions(other) {
		copy(d.seqnos, other.seqnos)
		return d
	}
	for e := range other.All() {
		d.Set(e.Member, e.HighestDelivered, e.HighestReceived)
	}
	return d
}

// Merge raises the seqnos of m to at least the given values:
// hd = max(hd, highestDelivered) and hr = max(hr, highestReceived). It does
// nothing if m is not in the view.
func (d *MutableDigest) Merge(m address.Address, highestDelivered, highestReceived int64) *MutableDigest {
	if i := d.mustView().IndexOf(m); i >= 0 {
		d.seqnos[2*i] = max(d.seqnos[2*i], highestDelivered)
		d.seqnos[2*i+1] = max(d.seqnos[2*i+1], highestReceived)
	}
	return d
}

// MergeDigest merges every entry of other into d.
func (d *MutableDigest) MergeDigest(other *Digest) *MutableDigest {
	if other == nil {
		return d
	}
	if d.samePositions(other) {
		for i, v := range other.seqnos {
			d.seqnos[i] = max(d.seqnos[i], v)
		}
		return d
	}
	for e := range other.All() {
		d.Merge(e.Member, e.HighestDelivered, e.HighestReceived)
	}
	return d
}

// samePositions reports whether entry i of other can be taken as entry i of
// d. An unbound side carries only the ViewID and is trusted to follow that
// view's order; two bound digests must share the View itself, since views
// built separately may list the same members in another order.
func (d *MutableDigest) samePositions(other *Digest) bool {
	if d.ViewID() != other.ViewID() || len(d.seqnos) != len(other.seqnos) {
		return false
	}
	if !d.Bound() || !other.Bound() {
		return true
	}
	return d.View() == other.View()
}

// Freeze returns an immutable copy of d.
func (d *MutableDigest) Freeze() *Digest {
	return &Digest{scope: d.scope, seqnos: slices.Clone(d.seqnos)}
}
