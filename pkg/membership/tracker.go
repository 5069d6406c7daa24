// Package membership tracks the view installed on this node together with the
// digest of delivery progress for that view.
//
// Views are installed in Lamport order: a view whose id does not exceed the
// installed one is discarded. Digests received from peers are merged into the
// local digest when they carry the installed ViewID, parked until the view is
// installed when they are ahead of it, and dropped when they are behind.
package membership

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/digest"
	"github.com/ryandielhenn/zephyrgroup/pkg/kv"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

var (
	ErrStaleView        = errors.New("membership: view is not newer than the installed view")
	ErrNoView           = errors.New("membership: no view installed")
	ErrCapacityMismatch = errors.New("membership: digest size does not match the installed view")
)

const (
	defaultPendingBytes = 1 << 20
	defaultPendingTTL   = 30 * time.Second
)

type Config struct {
	Self   address.Address
	Logger *zap.Logger
	// PendingBytes caps the encoded digests parked for views not yet installed.
	PendingBytes int
	// PendingTTL is how long a parked digest waits for its view.
	PendingTTL time.Duration
}

// Change describes an installed view relative to the one it replaced.
type Change struct {
	Previous view.Group // nil for the first view
	Current  view.Group
	Joined   []address.Address
	Left     []address.Address
}

type MergeResult int

const (
	Applied MergeResult = iota
	Pending
	Stale
)

func (r MergeResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case Pending:
		return "pending"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("MergeResult(%d)", int(r))
	}
}

type Tracker struct {
	self address.Address
	log  *zap.Logger
	ttl  time.Duration

	mu      sync.Mutex
	current view.Group
	digest  *digest.MutableDigest
	pending *kv.Store
	seq     uint64
}

func New(cfg Config) *Tracker {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PendingBytes <= 0 {
		cfg.PendingBytes = defaultPendingBytes
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = defaultPendingTTL
	}
	return &Tracker{
		self:    cfg.Self,
		log:     cfg.Logger.Named("membership"),
		ttl:     cfg.PendingTTL,
		pending: kv.NewStore(cfg.PendingBytes),
	}
}

// Install makes g the current view. Progress recorded for members that stay
// is carried into the new digest, and digests parked for g are merged.
func (t *Tracker) Install(g view.Group) (Change, error) {
	if g == nil || g.Base() == nil {
		return Change{}, view.ErrNilView
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current != nil && g.ID().Compare(t.current.ID()) <= 0 {
		telemetry.StaleViews.Inc()
		t.log.Debug("discarding stale view", zap.Stringer("view", g.ID()), zap.Stringer("installed", t.current.ID()))
		return Change{}, errors.Wrapf(ErrStaleView, "%s, installed %s", g.ID(), t.current.ID())
	}

	joined, left, err := view.Diff(t.current, g)
	if err != nil {
		return Change{}, err
	}
	next, err := digest.NewMutable(g.Base())
	if err != nil {
		return Change{}, err
	}
	if t.digest != nil {
		next.SetDigest(&t.digest.Digest)
	}

	prev := t.current
	t.current, t.digest = g, next
	applied := t.drainPendingLocked(g.ID())

	kind := "view"
	if _, ok := g.(*view.MergeView); ok {
		kind = "merge"
	}
	telemetry.ViewsInstalled.WithLabelValues(kind).Inc()
	telemetry.ViewMembers.Set(float64(g.Size()))
	t.log.Info("installed view",
		zap.Stringer("view", g.ID()),
		zap.String("kind", kind),
		zap.Int("members", g.Size()),
		zap.Stringers("joined", joined),
		zap.Stringers("left", left),
		zap.Int("pending_applied", applied),
	)
	return Change{Previous: prev, Current: g, Joined: joined, Left: left}, nil
}

// MergeDigest folds a digest received from a peer into the local digest. d
// does not have to be bound; it is never modified.
func (t *Tracker) MergeDigest(d *digest.Digest) (MergeResult, error) {
	if d == nil {
		return Stale, errors.New("membership: nil digest")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return t.parkLocked(d)
	}
	switch c := d.ViewID().Compare(t.current.ID()); {
	case c < 0:
		telemetry.DigestMerges.WithLabelValues(Stale.String()).Inc()
		t.log.Debug("dropping digest for old view", zap.Stringer("digest_view", d.ViewID()), zap.Stringer("installed", t.current.ID()))
		return Stale, nil
	case c > 0:
		return t.parkLocked(d)
	}
	if err := t.applyLocked(d); err != nil {
		return Stale, err
	}
	return Applied, nil
}

func (t *Tracker) applyLocked(d *digest.Digest) error {
	if d.Capacity() != t.current.Size() {
		telemetry.DigestMerges.WithLabelValues("rejected").Inc()
		return errors.Wrapf(ErrCapacityMismatch, "digest %s has %d entries, view has %d members", d.ViewID(), d.Capacity(), t.current.Size())
	}
	t.digest.MergeDigest(d)
	telemetry.DigestMerges.WithLabelValues(Applied.String()).Inc()
	return nil
}

func (t *Tracker) parkLocked(d *digest.Digest) (MergeResult, error) {
	raw, err := d.MarshalBinary()
	if err != nil {
		return Stale, errors.Wrap(err, "parking digest")
	}
	t.seq++
	t.pending.Put(fmt.Sprintf("%s%d", pendingPrefix(d.ViewID()), t.seq), raw, t.ttl)
	telemetry.DigestMerges.WithLabelValues(Pending.String()).Inc()
	t.log.Debug("parked digest for future view", zap.Stringer("digest_view", d.ViewID()))
	return Pending, nil
}

func (t *Tracker) drainPendingLocked(id view.ViewID) int {
	applied := 0
	for _, raw := range t.pending.DrainPrefix(pendingPrefix(id)) {
		d, err := digest.Unmarshal(raw)
		if err != nil {
			telemetry.DecodeErrors.WithLabelValues("digest").Inc()
			t.log.Warn("discarding unreadable parked digest", zap.Error(err))
			continue
		}
		if err := t.applyLocked(d); err != nil {
			t.log.Warn("discarding parked digest", zap.Stringer("view", id), zap.Error(err))
			continue
		}
		applied++
	}
	return applied
}

// pendingPrefix is unambiguous for any creator: the hex form holds no '/'.
func pendingPrefix(id view.ViewID) string {
	return fmt.Sprintf("%d/%x/", id.Timestamp, string(id.Creator))
}

// Update overwrites the seqnos recorded for m in the current view. It reports
// whether m is a member of that view.
func (t *Tracker) Update(m address.Address, highestDelivered, highestReceived int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return false, ErrNoView
	}
	t.digest.Set(m, highestDelivered, highestReceived)
	return t.current.ContainsMember(m), nil
}

// View returns the installed view, or nil.
func (t *Tracker) View() view.Group {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Digest returns a snapshot of the local digest, or nil before the first view.
func (t *Tracker) Digest() *digest.Digest {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.digest == nil {
		return nil
	}
	return t.digest.Freeze()
}

func (t *Tracker) IsCoordinator() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return false
	}
	coord, ok := t.current.Base().Coordinator()
	return ok && coord == t.self
}

func (t *Tracker) Self() address.Address { return t.self }

// Pending is the number of parked digests, including ones that have expired
// but not yet been drained.
func (t *Tracker) Pending() int { return t.pending.Len() }
