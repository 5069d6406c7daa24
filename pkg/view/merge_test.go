package view

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
)

func TestMergeUnionsSubgroups(t *testing.T) {
	left := MustCreate(a1, 3, a1, a2)
	right := MustCreate(a3, 4, a3, a4, a2)

	m, err := Merge(NewID(a1, 5), left, right)
	require.NoError(t, err)
	require.Equal(t, []address.Address{a1, a2, a3, a4}, m.Members())
	require.Len(t, m.Subgroups(), 2)
	require.True(t, m.Subgroups()[0].Base().Equal(left))
	require.True(t, m.Subgroups()[1].Base().Equal(right))

	_, err = Merge(NewID(a1, 5), left, nil)
	require.ErrorIs(t, err, ErrNilView)
}

func TestMergeViewIsAView(t *testing.T) {
	m, err := NewMerge(NewID(a1, 2), []address.Address{a1, a2}, nil)
	require.NoError(t, err)

	var g Group = m
	require.Equal(t, 2, g.Size())
	require.True(t, g.ContainsMember(a2))
	require.True(t, MustCreate(a1, 2, a1).Equal(m))
	require.Empty(t, m.Subgroups())

	joined, left, err := Diff(MustCreate(a1, 1, a1, a3), m)
	require.NoError(t, err)
	require.Equal(t, []address.Address{a2}, joined)
	require.Equal(t, []address.Address{a3}, left)
}

func TestMergeViewSubgroupsReadOnly(t *testing.T) {
	sub := MustCreate(a1, 1, a1)
	m, err := NewMerge(NewID(a1, 2), []address.Address{a1}, []Group{sub})
	require.NoError(t, err)

	out := m.Subgroups()
	out[0] = MustCreate(a2, 1, a2)
	require.True(t, m.Subgroups()[0].Base().Equal(sub))
}

func TestMergeViewCopySharesReceiver(t *testing.T) {
	m, err := Merge(NewID(a1, 2), MustCreate(a1, 1, a1))
	require.NoError(t, err)
	require.Same(t, m, m.Copy())
}

func TestMergeViewString(t *testing.T) {
	m, err := Merge(NewID(a1, 3), MustCreate(a1, 1, a1), MustCreate(a2, 2, a2))
	require.NoError(t, err)
	require.Equal(t, "MergeView::[a1|3] (2) [a1, a2], subgroups=[a1|1] (1) [a1], [a2|2] (1) [a2]", m.String())
}

func nestedMergeView(t *testing.T) *MergeView {
	inner, err := Merge(NewID(a2, 4), MustCreate(a2, 2, a2), MustCreate(a3, 3, a3))
	require.NoError(t, err)
	outer, err := Merge(NewID(a1, 9), MustCreate(a1, 5, a1, a4), inner)
	require.NoError(t, err)
	return outer
}

func TestMergeViewRoundTrip(t *testing.T) {
	empty, err := NewMerge(NewID(a1, 1), []address.Address{}, nil)
	require.NoError(t, err)
	emptySubs, err := NewMerge(NewID(a1, 1), []address.Address{a1}, []Group{})
	require.NoError(t, err)

	for _, m := range []*MergeView{empty, emptySubs, nestedMergeView(t)} {
		buf, err := m.MarshalBinary()
		require.NoError(t, err)
		require.Len(t, buf, m.SerializedSize())

		got, err := UnmarshalMerge(buf)
		require.NoError(t, err)
		require.True(t, got.Equal(m))
		require.Equal(t, m.Members(), got.Members())
		require.Equal(t, len(m.Subgroups()), len(got.Subgroups()))
	}
}

func TestMergeViewRoundTripKeepsKinds(t *testing.T) {
	m := nestedMergeView(t)
	buf, err := m.MarshalBinary()
	require.NoError(t, err)

	got, err := UnmarshalMerge(buf)
	require.NoError(t, err)
	subs := got.Subgroups()
	require.Len(t, subs, 2)

	_, ok := subs[0].(*View)
	require.True(t, ok)
	require.Equal(t, []address.Address{a1, a4}, subs[0].Members())

	inner, ok := subs[1].(*MergeView)
	require.True(t, ok)
	require.Equal(t, NewID(a2, 4), inner.ID())
	require.Len(t, inner.Subgroups(), 2)
	require.Equal(t, NewID(a3, 3), inner.Subgroups()[1].ID())
}

func TestMergeViewSubgroupTagLayout(t *testing.T) {
	sub := MustCreate(a2, 1, a2)
	m, err := NewMerge(NewID(a1, 2), []address.Address{a1, a2}, []Group{sub})
	require.NoError(t, err)
	buf, err := m.MarshalBinary()
	require.NoError(t, err)

	base := m.View.SerializedSize()
	require.Equal(t, []byte{0, 1}, buf[base:base+2], "subgroup count")
	require.Equal(t, byte(0), buf[base+2], "plain view tag")

	empty, err := NewMerge(NewID(a1, 2), []address.Address{a1}, nil)
	require.NoError(t, err)
	buf, err = empty.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0}, buf[len(buf)-2:])
}

func TestUnmarshalMergeBadTag(t *testing.T) {
	m := nestedMergeView(t)
	buf, err := m.MarshalBinary()
	require.NoError(t, err)

	buf[m.View.SerializedSize()+2] = 7
	_, err = UnmarshalMerge(buf)
	require.ErrorIs(t, err, ErrBadTag)
}

func TestGroupRoundTrip(t *testing.T) {
	for _, g := range []Group{MustCreate(a1, 1, a1, a2), nestedMergeView(t)} {
		buf, err := MarshalGroup(g)
		require.NoError(t, err)
		require.Len(t, buf, GroupSize(g))

		got, err := UnmarshalGroup(buf)
		require.NoError(t, err)
		require.Equal(t, g.ID(), got.ID())
		require.IsType(t, g, got)
	}

	_, err := MarshalGroup(nil)
	require.ErrorIs(t, err, ErrNilView)
}
