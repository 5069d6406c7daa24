package node

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrgroup/internal/telemetry"
	"github.com/ryandielhenn/zephyrgroup/pkg/address"
	"github.com/ryandielhenn/zephyrgroup/pkg/digest"
	"github.com/ryandielhenn/zephyrgroup/pkg/membership"
	"github.com/ryandielhenn/zephyrgroup/pkg/view"
)

const contentType = "application/octet-stream"

// Healthz returns 200 OK to indicate the Node is alive.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type infoResponse struct {
	PID         int               `json:"pid"`
	Now         time.Time         `json:"now"`
	Self        address.Address   `json:"self"`
	Addr        string            `json:"addr"`
	View        string            `json:"view,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Members     []address.Address `json:"members,omitempty"`
	Coordinator bool              `json:"coordinator"`
	Digest      string            `json:"digest,omitempty"`
	Pending     int               `json:"pending"`
}

// Info writes a JSON summary of the installed view and digest.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	resp := infoResponse{
		PID:         os.Getpid(),
		Now:         time.Now(),
		Self:        n.tracker.Self(),
		Addr:        n.addr,
		Coordinator: n.tracker.IsCoordinator(),
		Pending:     n.tracker.Pending(),
	}
	if g := n.tracker.View(); g != nil {
		resp.View = g.ID().String()
		resp.Kind = "view"
		if _, ok := g.(*view.MergeView); ok {
			resp.Kind = "merge"
		}
		resp.Members = g.Members()
	}
	if d := n.tracker.Digest(); d != nil {
		resp.Digest = d.String()
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// View writes the installed view in tagged group encoding.
func (n *Node) View(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g := n.tracker.View()
	if g == nil {
		http.Error(w, "no view installed", http.StatusServiceUnavailable)
		return
	}
	buf, err := view.MarshalGroup(g)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(buf)
}

// Digest serves the local digest on GET and merges a peer digest on POST.
func (n *Node) Digest(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		n.getDigest(w)
	case http.MethodPost, http.MethodPut:
		n.postDigest(w, req)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (n *Node) getDigest(w http.ResponseWriter) {
	d := n.tracker.Digest()
	if d == nil {
		http.Error(w, "no view installed", http.StatusServiceUnavailable)
		return
	}
	buf, err := d.MarshalBinary()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(buf)
}

func (n *Node) postDigest(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(io.LimitReader(req.Body, maxDigestBody+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(body) > maxDigestBody {
		http.Error(w, "digest too large", http.StatusRequestEntityTooLarge)
		return
	}
	d, err := digest.Unmarshal(body)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("digest").Inc()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := n.tracker.MergeDigest(d)
	if errors.Is(err, membership.ErrCapacityMismatch) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data, _ := json.Marshal(struct {
		Result string `json:"result"`
	}{res.String()})
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// PushDigest posts d to the node at addr and returns the merge result it
// reported.
func (n *Node) PushDigest(ctx context.Context, addr string, d *digest.Digest) (string, error) {
	if NormalizeHostPort(addr, defaultPort) == NormalizeHostPort(n.addr, defaultPort) {
		return "", errors.New("node: refusing to push to self")
	}
	res, err := PostDigest(ctx, n.client, addr, d)
	if err != nil {
		return "", err
	}
	n.log.Debug("pushed digest", zap.String("peer", addr), zap.Stringer("view", d.ViewID()), zap.String("result", res))
	return res, nil
}

// PostDigest sends d to POST /digest on the node at addr and returns the
// merge result it reported.
func PostDigest(ctx context.Context, client *http.Client, addr string, d *digest.Digest) (string, error) {
	buf, err := d.MarshalBinary()
	if err != nil {
		return "", errors.Wrap(err, "encoding digest")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(addr, "/digest"), bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "pushing digest to %s", addr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("pushing digest to %s: %s: %s", addr, resp.Status, bytes.TrimSpace(msg))
	}
	var out struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "decoding push response")
	}
	return out.Result, nil
}

// FetchView reads the view installed on the node at addr.
func FetchView(ctx context.Context, client *http.Client, addr string) (view.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(addr, "/view"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching view from %s", addr)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetching view from %s: %s", addr, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "reading view from %s", addr)
	}
	g, err := view.UnmarshalGroup(body)
	if err != nil {
		telemetry.DecodeErrors.WithLabelValues("view").Inc()
		return nil, errors.Wrapf(err, "decoding view from %s", addr)
	}
	return g, nil
}
