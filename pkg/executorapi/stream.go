// Package executorapi implements the executor stream endpoint (C4, SSE push)
// and the executor result sink (C5). Grounded on the teacher's pkg/relay
// tunnel registry (map[NodeID]*Tunnel, reconnect-replaces-stale-tunnel) but
// adapted from a bidirectional WebSocket tunnel to a unidirectional
// text/event-stream writer paired with a separate result-posting endpoint,
// per the spec's transport choice.
package executorapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/observability"
	"github.com/kubently/kubently/pkg/queue"
	"github.com/kubently/kubently/pkg/resilience"
)

// connState is the per-connection state machine (spec.md §4.4).
type connState int

const (
	stateOpening connState = iota
	stateConnected
	stateDraining
	stateIdle
	stateClosing
	stateClosed
)

// DefaultInFlightWindow bounds concurrent undelivered commands per
// connection.
const DefaultInFlightWindow = 8

// KeepaliveInterval is how often an idle connection gets a keepalive event,
// within the spec's 15-30s band.
const KeepaliveInterval = 20 * time.Second

// Handler serves GET /executor/stream and POST /executor/results.
type Handler struct {
	queue    *queue.Queue
	logger   *slog.Logger
	serverID string

	inFlightWindow int
	metrics        *observability.Metrics

	mu    sync.Mutex
	conns map[string]*connection // cluster_id -> active connection
}

func NewHandler(q *queue.Queue, logger *slog.Logger, serverID string, inFlightWindow int) *Handler {
	if inFlightWindow <= 0 {
		inFlightWindow = DefaultInFlightWindow
	}
	return &Handler{
		queue:          q,
		logger:         logger,
		serverID:       serverID,
		inFlightWindow: inFlightWindow,
		conns:          make(map[string]*connection),
	}
}

// SetMetrics attaches the control plane's Prometheus collectors.
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

type connection struct {
	clusterID string
	state     connState
	bulkhead  *resilience.Bulkhead
	// inFlight tracks commands popped but not yet resolved, for requeue on
	// disconnect (the visibility-timeout pattern).
	mu       sync.Mutex
	inFlight map[string]*kubently.Command
}

// register replaces any stale connection for the same cluster, matching the
// teacher's reconnect-replaces-stale-tunnel behavior.
func (h *Handler) register(clusterID string) *connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.conns[clusterID]; ok {
		h.logger.Info("replacing stale executor connection", "cluster_id", clusterID)
		existing.requeueAll(h.queue, h.logger)
	}
	conn := &connection{
		clusterID: clusterID,
		state:     stateOpening,
		bulkhead:  resilience.NewBulkhead("executor:"+clusterID, h.inFlightWindow),
		inFlight:  make(map[string]*kubently.Command),
	}
	h.conns[clusterID] = conn
	if h.metrics != nil {
		h.metrics.ExecutorConnections.WithLabelValues(clusterID).Set(1)
		h.metrics.ExecutorReconnects.WithLabelValues(clusterID).Inc()
	}
	return conn
}

// ConnectedClusters lists clusters with a live executor stream, for
// GET /debug/clusters (C6).
func (h *Handler) ConnectedClusters() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

func (h *Handler) deregister(clusterID string, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[clusterID] == conn {
		delete(h.conns, clusterID)
		if h.metrics != nil {
			h.metrics.ExecutorConnections.WithLabelValues(clusterID).Set(0)
		}
	}
	conn.requeueAll(h.queue, h.logger)
}

func (c *connection) requeueAll(q *queue.Queue, logger *slog.Logger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, cmd := range c.inFlight {
		if err := q.Requeue(context.Background(), cmd); err != nil {
			logger.Error("failed to requeue in-flight command on disconnect", "command_id", id, "error", err)
		}
		delete(c.inFlight, id)
	}
}

// Stream serves GET /executor/stream. Requires an *kubently.AuthContext
// attached by the auth middleware and an X-Cluster-ID header.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	clusterID := r.Header.Get("X-Cluster-ID")
	if clusterID == "" {
		writeJSONError(w, kerrors.New(kerrors.InvalidArgument, "missing X-Cluster-ID header"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, kerrors.New(kerrors.Internal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	conn := h.register(clusterID)
	defer h.deregister(clusterID, conn)

	if err := writeEvent(w, "connected", map[string]any{
		"cluster_id": clusterID,
		"server_id":  h.serverID,
		"now":        time.Now().UTC(),
	}); err != nil {
		return
	}
	flusher.Flush()
	conn.state = stateConnected

	ctx := r.Context()
	sub, err := h.queue.SubscribeWakeups(ctx, clusterID)
	if err != nil {
		h.logger.Error("subscribe to command wakeups failed", "cluster_id", clusterID, "error", err)
		return
	}
	defer sub.Close()

	keepalive := time.NewTicker(KeepaliveInterval)
	defer keepalive.Stop()

	for {
		if err := h.drain(ctx, w, flusher, conn); err != nil {
			return
		}
		conn.state = stateIdle
		select {
		case <-sub.Channel():
			conn.state = stateDraining
		case <-keepalive.C:
			if err := writeEvent(w, "keepalive", map[string]any{"now": time.Now().UTC()}); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			conn.state = stateClosing
			return
		}
	}
}

// drain pops commands until the queue is empty, the in-flight window is
// full, or the client disconnects, writing each as a `command` event.
func (h *Handler) drain(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, conn *connection) error {
	for {
		if !conn.bulkhead.TryAcquire() {
			return nil // window full; wait for results to free capacity
		}
		cmd, err := h.queue.PopNextNonBlocking(ctx, conn.clusterID)
		if err != nil || cmd == nil {
			conn.bulkhead.Release()
			return err
		}

		conn.mu.Lock()
		conn.inFlight[cmd.CommandID] = cmd
		conn.mu.Unlock()

		if err := writeEvent(w, "command", cmd); err != nil {
			conn.bulkhead.Release()
			conn.mu.Lock()
			delete(conn.inFlight, cmd.CommandID)
			conn.mu.Unlock()
			_ = h.queue.Requeue(context.Background(), cmd)
			return err
		}
		flusher.Flush()

		// The in-flight slot is released when the result arrives (see
		// ResolveInFlight, called from the ResultsHandler) or the command
		// times out, whichever the awaiting caller observes first.
		go h.releaseOnResolve(conn, cmd)
	}
}

// releaseOnResolve frees the connection's bulkhead slot once cmd's result
// (or timeout) lands, bounding how long a slow command holds the window.
func (h *Handler) releaseOnResolve(conn *connection, cmd *kubently.Command) {
	timeout := time.Duration(cmd.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	_, _ = h.queue.AwaitResult(context.Background(), cmd.CommandID, timeout)
	conn.mu.Lock()
	delete(conn.inFlight, cmd.CommandID)
	conn.mu.Unlock()
	conn.bulkhead.Release()
}

func writeEvent(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return nil
}

func writeJSONError(w http.ResponseWriter, err error) {
	status, body := kerrors.AsHTTPBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
