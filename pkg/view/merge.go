package view

import (
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

// MergeView is installed when partitions heal. Besides the merged membership
// it keeps the views that were unified, each of which may itself be a
// MergeView. For example, if V1 (p,q,r,s,t) splits into V2 (p,q,r) and
// V2 (s,t), the merged view V3 (p,q,r,s,t) carries both V2 views.
type MergeView struct {
	View
	subgroups []Group
}

// NewMerge builds a merge view. A nil or empty subgroup list both mean that no
// subgroup information is available.
func NewMerge(id ViewID, members []address.Address, subgroups []Group) (*MergeView, error) {
	v, err := New(id, members)
	if err != nil {
		return nil, err
	}
	for i, g := range subgroups {
		if isNil(g) {
			return nil, errors.Wrapf(ErrNilView, "subgroup %d", i)
		}
	}
	return &MergeView{View: *v, subgroups: slices.Clone(subgroups)}, nil
}

// Merge builds a merge view over subgroups. Its members are the union of the
// subgroups' members, in subgroup order and then in member order.
func Merge(id ViewID, subgroups ...Group) (*MergeView, error) {
	members := []address.Address{}
	seen := make(map[address.Address]struct{})
	for i, g := range subgroups {
		if isNil(g) {
			return nil, errors.Wrapf(ErrNilView, "subgroup %d", i)
		}
		for m := range g.Base().All() {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			members = append(members, m)
		}
	}
	return NewMerge(id, members, subgroups)
}

func (m *MergeView) Base() *View {
	if m == nil {
		return nil
	}
	return &m.View
}

// Subgroups returns a copy of the merged views, in the order they were given.
func (m *MergeView) Subgroups() []Group {
	return slices.Clone(m.subgroups)
}

// Copy returns m itself. A MergeView and its subgroups are immutable, so
// sharing is safe.
func (m *MergeView) Copy() *MergeView {
	return m
}

func (m *MergeView) String() string {
	var sb strings.Builder
	sb.WriteString("MergeView::")
	sb.WriteString(m.View.String())
	if len(m.subgroups) > 0 {
		sb.WriteString(", subgroups=")
		printList(&sb, m.subgroups, MaxPrint)
	}
	return sb.String()
}

func (m *MergeView) tag() uint8 { return tagMerge }
