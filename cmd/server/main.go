package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/membership"
	"github.com/ryandielhenn/zephyrgroup/pkg/node"
	"github.com/ryandielhenn/zephyrgroup/pkg/registry"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer log.Sync()
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("node stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config, log *zap.Logger) error {
	// 1. Membership state and HTTP surface for this node
	tracker := membership.New(membership.Config{
		Self:         cfg.selfID,
		Logger:       log,
		PendingBytes: cfg.pendingBytes,
		PendingTTL:   cfg.pendingTTL,
	})
	n := node.NewNode(tracker, cfg.selfAddr, log)

	// 2. Create etcd client
	log.Info("creating etcd client", zap.Strings("endpoints", cfg.etcdEndpoints))
	cli, err := registry.NewClient(cfg.etcdEndpoints, log.Named("etcd"))
	if err != nil {
		return err
	}
	defer cli.Close()
	reg := registry.New(cli, cfg.prefix, log)

	// 3. Bootstrap from the last view and digests published by the group
	bootstrap(ctx, reg, tracker, log)

	// 4. Register this node
	lease, cancel, err := reg.RegisterNode(ctx, cfg.selfID, n.Addr(), cfg.leaseTTL)
	if err != nil {
		return err
	}
	defer func() {
		cancel()
		rctx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		if err := reg.Deregister(rctx, lease); err != nil {
			log.Warn("deregistering", zap.Error(err))
		}
	}()

	// 5. Watch peers and install a view per change
	peers := &peerSet{}
	go func() {
		err := reg.WatchPeers(ctx, func(list []registry.Peer, rev int64) {
			peers.set(list)
			installFromPeers(ctx, reg, tracker, list, rev, log)
		})
		if err != nil && ctx.Err() == nil {
			log.Error("peer watch ended", zap.Error(err))
		}
	}()

	// 6. Publish and push the local digest periodically
	go gossipDigests(ctx, cfg, reg, n, tracker, peers, log)

	// 7. Serve HTTP until shutdown
	srv := &http.Server{Addr: cfg.listenAddr, Handler: n.Routes(), ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info("zephyrgroup node listening", zap.String("listen", cfg.listenAddr), zap.Stringer("self", cfg.selfID))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		sctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := srv.Shutdown(sctx); err != nil {
			return err
		}
	}
	return nil
}

func bootstrap(ctx context.Context, reg *registry.Registry, tracker *membership.Tracker, log *zap.Logger) {
	g, err := reg.LoadView(ctx)
	switch {
	case errors.Is(err, registry.ErrNoView):
		return
	case err != nil:
		log.Warn("loading stored view", zap.Error(err))
		return
	}
	if _, err := tracker.Install(g); err != nil {
		log.Warn("installing stored view", zap.Error(err))
		return
	}
	digests, err := reg.LoadDigests(ctx)
	if err != nil {
		log.Warn("loading stored digests", zap.Error(err))
		return
	}
	for id, d := range digests {
		if _, err := tracker.MergeDigest(d); err != nil {
			log.Warn("merging stored digest", zap.Stringer("node", id), zap.Error(err))
		}
	}
}

func installFromPeers(ctx context.Context, reg *registry.Registry, tracker *membership.Tracker, list []registry.Peer, rev int64, log *zap.Logger) {
	v, err := registry.ViewFromPeers(list, rev)
	if err != nil {
		log.Warn("deriving view", zap.Int64("rev", rev), zap.Error(err))
		return
	}
	if _, err := tracker.Install(v); err != nil {
		if !errors.Is(err, membership.ErrStaleView) {
			log.Warn("installing view", zap.Stringer("view", v.ID()), zap.Error(err))
		}
		return
	}
	if tracker.IsCoordinator() {
		if err := reg.SaveView(ctx, v); err != nil {
			log.Warn("saving view", zap.Error(err))
		}
	}
}

func gossipDigests(ctx context.Context, cfg config, reg *registry.Registry, n *node.Node, tracker *membership.Tracker, peers *peerSet, log *zap.Logger) {
	t := time.NewTicker(cfg.digestInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		d := tracker.Digest()
		if d == nil {
			continue
		}
		if err := reg.SaveDigest(ctx, cfg.selfID, d); err != nil {
			log.Warn("publishing digest", zap.Error(err))
		}
		var wg sync.WaitGroup
		for _, p := range peers.get() {
			if p.ID == cfg.selfID {
				continue
			}
			wg.Add(1)
			go func(p registry.Peer) {
				defer wg.Done()
				pctx, done := context.WithTimeout(ctx, cfg.digestInterval)
				defer done()
				if _, err := n.PushDigest(pctx, p.Addr, d); err != nil {
					log.Debug("pushing digest", zap.Stringer("peer", p.ID), zap.Error(err))
				}
			}(p)
		}
		wg.Wait()
	}
}

type peerSet struct {
	mu    sync.Mutex
	peers []registry.Peer
}

func (s *peerSet) set(p []registry.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = p
}

func (s *peerSet) get() []registry.Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers
}
