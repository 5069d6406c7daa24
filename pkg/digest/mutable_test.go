package digest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

func mutable(t *testing.T, v *view.View, seqnos ...int64) *MutableDigest {
	t.Helper()
	if seqnos == nil {
		md, err := NewMutable(v)
		require.NoError(t, err)
		return md
	}
	md, err := NewMutableWith(v, seqnos)
	require.NoError(t, err)
	return md
}

func TestMutableConstructors(t *testing.T) {
	v, d := fixture(t)

	md := mutable(t, v)
	require.Equal(t, 3, md.Capacity())
	requireEntry(t, &md.Digest, a2, 0, 0)

	_, err := NewMutable(nil)
	require.ErrorIs(t, err, ErrNilView)
	_, err = NewMutableWith(v, []int64{1})
	require.ErrorIs(t, err, ErrCapacity)

	require.True(t, d.Mutable().Equal(d))
	require.True(t, md.Mutable().Equal(&md.Digest))

	fm, err := NewMutableFromMembers(view.NewID(a1, 1), a1, a2, a3)
	require.NoError(t, err)
	require.Equal(t, 3, fm.Capacity())
	require.True(t, fm.ContainsAll(a1, a2, a3))
	require.Equal(t, v.ID(), fm.ViewID())

	_, err = NewMutableFromMembers(view.NewID(a1, 1), a1, a1)
	require.ErrorIs(t, err, view.ErrDuplicateMember)

	none, err := NewMutableFromMembers(view.NewID(a1, 1))
	require.NoError(t, err)
	require.Zero(t, none.Capacity())
}

func TestSet(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v)
	md.Set(a2, 200, 201)
	requireEntry(t, &md.Digest, a2, 200, 201)
	requireEntry(t, &md.Digest, a1, 0, 0)

	require.Same(t, md, md.Set(a1, 1, 2).Set(a3, 3, 4))
	requireEntry(t, &md.Digest, a1, 1, 2)
	requireEntry(t, &md.Digest, a3, 3, 4)
}

func TestSetIncrements(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v)
	md.Set(a1, 1, 100).Set(a2, 3, 300).Set(a3, 7, 700)

	for _, m := range []address.Address{a1, a2, a3} {
		e, ok := md.Get(m)
		require.True(t, ok)
		md.Set(m, e.HighestDelivered+1, e.HighestDelivered+1)
		got, _ := md.Get(m)
		require.Equal(t, e.HighestDelivered+1, got.HighestDelivered)
	}
}

func TestSetNonMemberIsIgnored(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v)
	before := md.Freeze()

	md.Set(address.NewRandom("p"), 500, 1000)
	md.Set("", 500, 1000)
	require.True(t, md.Equal(before))
	require.Equal(t, 3, md.Capacity())
}

func TestSetDigest(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v)

	tmp := mutable(t, v)
	tmp.Set(address.NewRandom("x"), 2, 3)
	tmp.Set(a2, 2, 3)
	tmp.Set(a3, 2, 3)
	md.SetDigest(&tmp.Digest)
	require.Equal(t, 3, md.Capacity())
	require.True(t, md.Equal(&tmp.Digest))

	require.Same(t, md, md.SetDigest(nil))
}

func TestSetDigestAcrossViews(t *testing.T) {
	x := address.NewRandom("x")
	v, d := fixture(t)
	wider := view.MustCreate(a1, 2, a3, x, a1)
	md := mutable(t, wider)
	md.Set(x, 9, 9)

	md.SetDigest(d)
	requireEntry(t, &md.Digest, a1, 500, 501)
	requireEntry(t, &md.Digest, a3, 25, 33)
	requireEntry(t, &md.Digest, x, 9, 9)

	// only shared members are written back
	back := mutable(t, v)
	back.SetDigest(md.Freeze())
	requireEntry(t, &back.Digest, a1, 500, 501)
	requireEntry(t, &back.Digest, a2, 0, 0)
	requireEntry(t, &back.Digest, a3, 25, 33)
}

func TestFreezeIsIndependent(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v)
	md.Set(a1, 1, 1)
	frozen := md.Freeze()
	md.Set(a1, 2, 2)
	requireEntry(t, frozen, a1, 1, 1)
	require.Same(t, v, frozen.View())
}

func TestMerge(t *testing.T) {
	v, d := fixture(t)
	md := mutable(t, v, 499, 502, 26, 27, 26, 35)

	md.MergeDigest(d)
	require.Equal(t, 3, d.Capacity())
	require.Equal(t, 3, md.Capacity())
	requireEntry(t, &md.Digest, a1, 500, 502)
	requireEntry(t, &md.Digest, a2, 26, 27)
	requireEntry(t, &md.Digest, a3, 26, 35)
}

func TestMergeSingleMember(t *testing.T) {
	v, _ := fixture(t)
	md := mutable(t, v, 10, 20, 0, 0, 0, 0)
	md.Merge(a1, 5, 30).Merge(address.NewRandom("p"), 100, 100)
	requireEntry(t, &md.Digest, a1, 10, 30)
	requireEntry(t, &md.Digest, a2, 0, 0)
}

func TestNonConflictingMerge(t *testing.T) {
	_, d := fixture(t)
	ip1, ip2 := address.NewRandom("x"), address.NewRandom("y")
	wide := view.MustCreate(a1, 1, a1, a2, a3, ip1, ip2)
	md := mutable(t, wide)
	md.Set(ip1, 10, 10).Set(ip2, 20, 20)
	md.MergeDigest(d)

	require.Equal(t, 5, md.Capacity())
	requireEntry(t, &md.Digest, ip1, 10, 10)
	requireEntry(t, &md.Digest, ip2, 20, 20)
	requireEntry(t, &md.Digest, a1, 500, 501)
	requireEntry(t, &md.Digest, a2, 26, 26)
	requireEntry(t, &md.Digest, a3, 25, 33)
}

func TestConflictingMerge(t *testing.T) {
	v, d := fixture(t)
	other := mutable(t, v)
	other.Set(a1, 450, 501).Set(a3, 28, 35)

	md := d.Mutable()
	md.MergeDigest(&other.Digest)
	require.Equal(t, 3, md.Capacity())
	requireEntry(t, &md.Digest, a1, 500, 501)
	requireEntry(t, &md.Digest, a2, 26, 26)
	requireEntry(t, &md.Digest, a3, 28, 35)
}

func TestMergeIdempotentAndCommutative(t *testing.T) {
	x := address.NewRandom("x")
	v, d := fixture(t)
	wide := view.MustCreate(a1, 2, x, a3, a2, a1)
	b, err := New(wide, []int64{7, 7, 30, 40, 20, 20, 400, 600})
	require.NoError(t, err)

	ab := mutable(t, v).MergeDigest(d).MergeDigest(b)
	ba := mutable(t, v).MergeDigest(b).MergeDigest(d)
	require.True(t, ab.Equal(&ba.Digest))
	requireEntry(t, &ab.Digest, a1, 500, 600)
	requireEntry(t, &ab.Digest, a2, 26, 26)
	requireEntry(t, &ab.Digest, a3, 30, 40)

	twice := ab.Freeze().Mutable().MergeDigest(d).MergeDigest(b)
	require.True(t, twice.Equal(&ab.Digest))
}

func TestMergeUnboundSameView(t *testing.T) {
	v, d := fixture(t)
	buf, err := d.MarshalBinary()
	require.NoError(t, err)
	u, err := Unmarshal(buf)
	require.NoError(t, err)
	require.False(t, u.Bound())

	md := mutable(t, v, 499, 502, 26, 27, 26, 35)
	md.MergeDigest(u)
	requireEntry(t, &md.Digest, a1, 500, 502)
	requireEntry(t, &md.Digest, a3, 26, 35)

	md.SetDigest(u)
	require.True(t, md.Equal(d))
}

func TestMergeUnboundOtherViewPanics(t *testing.T) {
	v, _ := fixture(t)
	later, err := New(view.MustCreate(a1, 2, a1, a2, a3), []int64{1, 1, 1, 1, 1, 1})
	require.NoError(t, err)
	buf, err := later.MarshalBinary()
	require.NoError(t, err)
	u, err := Unmarshal(buf)
	require.NoError(t, err)

	md := mutable(t, v)
	requireNotBound(t, func() { md.MergeDigest(u) })
}

func TestSetAndMergeWithReorderedViewGoByMember(t *testing.T) {
	v := view.MustCreate(a1, 1, a1, a2, a3)
	// same id, members listed in another order
	reordered := view.MustCreate(a1, 1, a3, a1, a2)
	other, err := New(reordered, []int64{30, 31, 10, 11, 20, 21})
	require.NoError(t, err)

	md := mutable(t, v)
	md.SetDigest(other)
	requireEntry(t, &md.Digest, a1, 10, 11)
	requireEntry(t, &md.Digest, a2, 20, 21)
	requireEntry(t, &md.Digest, a3, 30, 31)

	md = mutable(t, v, 15, 5, 0, 25, 40, 0)
	md.MergeDigest(other)
	requireEntry(t, &md.Digest, a1, 15, 11)
	requireEntry(t, &md.Digest, a2, 20, 25)
	requireEntry(t, &md.Digest, a3, 40, 31)
}

func TestSetDigestSharedViewIsPositional(t *testing.T) {
	v, d := fixture(t)
	md := mutable(t, v)
	md.SetDigest(d)
	require.True(t, md.Equal(d))
	require.Same(t, v, md.View())
}
