package node

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/membership"
)

// maxDigestBody bounds POST /digest bodies. A digest of the largest
// encodable view stays well below it.
const maxDigestBody = 4 << 20

type Node struct {
	tracker *membership.Tracker
	addr    string
	client  *http.Client
	log     *zap.Logger
}

func NewNode(tracker *membership.Tracker, addr string, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		tracker: tracker,
		addr:    addr,
		client:  http.DefaultClient,
		log:     logger.Named("node"),
	}
}

func (n *Node) Addr() string {
	return n.addr
}

// Routes mounts the node endpoints, each instrumented under its own op label.
func (n *Node) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/view", telemetry.Instrument("view", http.HandlerFunc(n.View)))
	mux.Handle("/digest", telemetry.Instrument("digest", http.HandlerFunc(n.Digest)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	return mux
}
