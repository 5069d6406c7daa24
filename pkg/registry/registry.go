// Package registry keeps node liveness and membership state in etcd.
//
// Nodes register under <prefix>nodes/<id> with a lease. The set of live keys,
// ordered by create revision, defines the view: the oldest registration is the
// coordinator and the revision of the last change under the nodes prefix is
// the view timestamp. Writes elsewhere in the store do not move it, so every
// node that has seen the same registrations derives the same view.
package registry

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/digest"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

const DefaultPrefix = "/zephyrgroup/"

var (
	ErrNoPeers = errors.New("registry: no live peers")
	ErrNoView  = errors.New("registry: no view stored")
)

func NewClient(endpoints []string, logger *zap.Logger) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      logger,
	})
	return cli, errors.Wrapf(err, "connecting to etcd %v", endpoints)
}

// Peer is a live registration.
type Peer struct {
	ID             address.Address
	Addr           string
	CreateRevision int64
}

type Registry struct {
	kv      clientv3.KV
	lease   clientv3.Lease
	watcher clientv3.Watcher
	prefix  string
	log     *zap.Logger
}

func New(cli *clientv3.Client, prefix string, logger *zap.Logger) *Registry {
	return newRegistry(cli, cli, cli, prefix, logger)
}

func newRegistry(kv clientv3.KV, lease clientv3.Lease, watcher clientv3.Watcher, prefix string, logger *zap.Logger) *Registry {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{kv: kv, lease: lease, watcher: watcher, prefix: prefix, log: logger.Named("registry")}
}

func (r *Registry) nodesPrefix() string   { return r.prefix + "nodes/" }
func (r *Registry) viewKey() string       { return r.prefix + "view" }
func (r *Registry) digestsPrefix() string { return r.prefix + "digests/" }
func (r *Registry) nodeKey(id address.Address) string {
	return r.nodesPrefix() + string(id)
}

// RegisterNode publishes id -> addr under a lease of ttl seconds and keeps the
// lease alive until cancel is called or ctx is done.
func (r *Registry) RegisterNode(ctx context.Context, id address.Address, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	if id.IsZero() {
		return 0, nil, errors.New("registry: empty node id")
	}
	grant, err := r.lease.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, errors.Wrap(err, "granting lease")
	}
	if _, err := r.kv.Put(ctx, r.nodeKey(id), addr, clientv3.WithLease(grant.ID)); err != nil {
		return 0, nil, errors.Wrapf(err, "registering %s", id)
	}

	kctx, cancel := context.WithCancel(ctx)
	ch, err := r.lease.KeepAlive(kctx, grant.ID)
	if err != nil {
		cancel()
		return 0, nil, errors.Wrap(err, "keeping lease alive")
	}
	go func() {
		for range ch {
		}
		r.log.Info("lease keepalive stopped", zap.Int64("lease", int64(grant.ID)))
	}()

	r.log.Info("registered node", zap.Stringer("id", id), zap.String("addr", addr), zap.Int64("ttl", ttl))
	return grant.ID, cancel, nil
}

// Deregister revokes the lease, removing the registration at once instead of
// after the ttl.
func (r *Registry) Deregister(ctx context.Context, lease clientv3.LeaseID) error {
	_, err := r.lease.Revoke(ctx, lease)
	return errors.Wrap(err, "revoking lease")
}

// Peers lists live registrations oldest first, with the revision of the
// newest of them.
func (r *Registry) Peers(ctx context.Context) ([]Peer, int64, error) {
	peers, rev, _, err := r.listPeers(ctx)
	return peers, rev, err
}

// peersAt lists the registrations that were live at rev.
func (r *Registry) peersAt(ctx context.Context, rev int64) ([]Peer, error) {
	peers, _, _, err := r.listPeers(ctx, clientv3.WithRev(rev))
	return peers, err
}

// listPeers returns the registrations oldest first, the newest create or
// update revision among them, and the store revision of the read.
func (r *Registry) listPeers(ctx context.Context, opts ...clientv3.OpOption) ([]Peer, int64, int64, error) {
	opts = append([]clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend),
	}, opts...)
	resp, err := r.kv.Get(ctx, r.nodesPrefix(), opts...)
	if err != nil {
		return nil, 0, 0, errors.Wrap(err, "listing peers")
	}
	var newest int64
	peers := make([]Peer, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := strings.TrimPrefix(string(kv.Key), r.nodesPrefix())
		if id == "" {
			continue
		}
		newest = max(newest, kv.ModRevision)
		peers = append(peers, Peer{ID: address.Address(id), Addr: string(kv.Value), CreateRevision: kv.CreateRevision})
	}
	slices.SortStableFunc(peers, func(a, b Peer) int {
		if c := cmp.Compare(a.CreateRevision, b.CreateRevision); c != 0 {
			return c
		}
		return address.Compare(a.ID, b.ID)
	})
	return peers, newest, resp.Header.Revision, nil
}

// WatchPeers calls fn with the current peers and again after every change
// under the nodes prefix, passing the revision of that change. It blocks
// until ctx is done or the watch fails.
func (r *Registry) WatchPeers(ctx context.Context, fn func(peers []Peer, rev int64)) error {
	peers, rev, storeRev, err := r.listPeers(ctx)
	if err != nil {
		return err
	}
	fn(peers, rev)

	// A deletion leaves nothing in the listing, so start right after the
	// newest live registration and replay any deletions since.
	from := storeRev + 1
	if len(peers) > 0 {
		from = rev + 1
	}
	wch := r.watcher.Watch(ctx, r.nodesPrefix(), clientv3.WithPrefix(), clientv3.WithRev(from))
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			if wresp.Canceled {
				return errors.Wrap(err, "watching peers")
			}
			r.log.Warn("peer watch error", zap.Error(err))
			continue
		}
		if len(wresp.Events) == 0 {
			continue
		}
		for _, ev := range wresp.Events {
			r.log.Debug("peer event",
				zap.String("type", eventType(ev.Type)),
				zap.ByteString("key", ev.Kv.Key),
				zap.Int64("rev", ev.Kv.ModRevision))
		}
		rev := wresp.Events[len(wresp.Events)-1].Kv.ModRevision
		peers, err := r.peersAt(ctx, rev)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Warn("relisting peers", zap.Int64("rev", rev), zap.Error(err))
			continue
		}
		fn(peers, rev)
	}
	return ctx.Err()
}

func eventType(t mvccpb.Event_EventType) string {
	if t == mvccpb.DELETE {
		return "delete"
	}
	return "put"
}

// ViewFromPeers derives the view for a peer list whose last change happened
// at rev.
func ViewFromPeers(peers []Peer, rev int64) (*view.View, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	members := make([]address.Address, len(peers))
	for i, p := range peers {
		members[i] = p.ID
	}
	return view.New(view.NewID(members[0], rev), members)
}

// SaveView stores g with its kind tag so LoadView returns the same kind.
func (r *Registry) SaveView(ctx context.Context, g view.Group) error {
	buf, err := view.MarshalGroup(g)
	if err != nil {
		return errors.Wrap(err, "encoding view")
	}
	if _, err := r.kv.Put(ctx, r.viewKey(), string(buf)); err != nil {
		return errors.Wrapf(err, "saving view %s", g.ID())
	}
	return nil
}

func (r *Registry) LoadView(ctx context.Context) (view.Group, error) {
	resp, err := r.kv.Get(ctx, r.viewKey())
	if err != nil {
		return nil, errors.Wrap(err, "loading view")
	}
	if len(resp.Kvs) == 0 {
		return nil, ErrNoView
	}
	g, err := view.UnmarshalGroup(resp.Kvs[0].Value)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("view").Inc()
		return nil, errors.Wrap(err, "decoding stored view")
	}
	return g, nil
}

// SaveDigest publishes the digest self holds for its current view.
func (r *Registry) SaveDigest(ctx context.Context, self address.Address, d *digest.Digest) error {
	buf, err := d.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding digest")
	}
	if _, err := r.kv.Put(ctx, r.digestsPrefix()+string(self), string(buf)); err != nil {
		return errors.Wrapf(err, "saving digest of %s", self)
	}
	return nil
}

// LoadDigests returns the published digests by node. Unreadable entries are
// skipped.
func (r *Registry) LoadDigests(ctx context.Context) (map[address.Address]*digest.Digest, error) {
	resp, err := r.kv.Get(ctx, r.digestsPrefix(), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "loading digests")
	}
	out := make(map[address.Address]*digest.Digest, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		id := address.Address(strings.TrimPrefix(string(kv.Key), r.digestsPrefix()))
		d, err := digest.Unmarshal(kv.Value)
		if err != nil {
			telemetry.DecodeErrors.WithLabelValues("digest").Inc()
			r.log.Warn("skipping unreadable digest", zap.Stringer("node", id), zap.Error(err))
			continue
		}
		out[id] = d
	}
	return out, nil
}
