// Package dispatcher implements the debug REST API (C6): session lifecycle
// and command execution for operator clients. Grounded on
// _examples/wisbric-nightowl's chi-based HTTP server layout; routing uses
// go-chi/chi/v5 rather than the teacher's bare http.ServeMux because the
// route set needs path parameters and a shared middleware chain.
package dispatcher

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kubently/kubently/pkg/audit"
	"github.com/kubently/kubently/pkg/auth"
	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/observability"
	"github.com/kubently/kubently/pkg/queue"
	"github.com/kubently/kubently/pkg/session"
)

// allowedVerbs maps a command_type to the verb its args[0] must equal
// (spec.md §4.6). "events" is fetched via `kubectl get events`, so its
// required verb is "get", not "events".
var allowedVerbs = map[string]string{
	"get":      "get",
	"describe": "describe",
	"logs":     "logs",
	"events":   "get",
	"top":      "top",
}

const defaultCommandTimeout = 30 * time.Second

// Dispatcher wires C2/C3 behind the operator-facing debug endpoints.
type Dispatcher struct {
	sessions *session.Manager
	queue    *queue.Queue
	logger   *slog.Logger
	// presence reports which clusters currently have a connected
	// executor, for GET /debug/clusters.
	presence func() []string

	audit   audit.Store
	metrics *observability.Metrics
}

func New(sessions *session.Manager, q *queue.Queue, logger *slog.Logger, presence func() []string) *Dispatcher {
	return &Dispatcher{sessions: sessions, queue: q, logger: logger, presence: presence}
}

// SetAuditStore attaches an audit log. Every session lifecycle transition
// and command dispatch/result is recorded once a store is set; without one,
// the dispatcher runs with no audit trail (used by unit tests).
func (d *Dispatcher) SetAuditStore(store audit.Store) {
	d.audit = store
}

// SetMetrics attaches the control plane's Prometheus collectors.
func (d *Dispatcher) SetMetrics(m *observability.Metrics) {
	d.metrics = m
}

// logSessionCreate and its siblings below are no-ops until SetAuditStore is
// called; tests that never wire an audit store keep running without one.
func (d *Dispatcher) logSessionCreate(r *http.Request, clusterID, sessionID string) {
	if d.audit == nil {
		return
	}
	if err := d.auditLogger(r).LogSessionCreate(r.Context(), clusterID, sessionID); err != nil {
		d.logger.Warn("audit log failed", "event", "session.create", "error", err)
	}
}

func (d *Dispatcher) logSessionClose(r *http.Request, sessionID string) {
	if d.audit == nil {
		return
	}
	if err := d.auditLogger(r).LogSessionClose(r.Context(), sessionID); err != nil {
		d.logger.Warn("audit log failed", "event", "session.close", "error", err)
	}
}

func (d *Dispatcher) logCommandDispatch(r *http.Request, clusterID, commandID, commandType string, args []string) {
	if d.audit == nil {
		return
	}
	if err := d.auditLogger(r).LogCommandDispatch(r.Context(), clusterID, commandID, commandType, args); err != nil {
		d.logger.Warn("audit log failed", "event", "command.dispatch", "error", err)
	}
}

func (d *Dispatcher) logCommandResult(r *http.Request, clusterID, commandID string, res *kubently.Result) {
	if d.audit == nil {
		return
	}
	errMsg := ""
	if !res.Success {
		errMsg = res.Stderr
	}
	if err := d.auditLogger(r).LogCommandResult(r.Context(), clusterID, commandID, string(res.Status), res.ReturnCode, errMsg); err != nil {
		d.logger.Warn("audit log failed", "event", "command.result", "error", err)
	}
}

// auditLogger binds the audit store to the identity on r, or to "" if the
// request carries none.
func (d *Dispatcher) auditLogger(r *http.Request) *audit.Logger {
	identity := ""
	if ac, ok := kubently.AuthContextFromRequest(r); ok {
		identity = ac.Identity
	}
	return audit.NewLogger(d.audit, identity)
}

// Routes mounts the debug endpoints on r.
func (d *Dispatcher) Routes(r chi.Router) {
	r.Post("/debug/session", d.createSession)
	r.Delete("/debug/session/{id}", d.closeSession)
	r.Post("/debug/execute", d.execute)
	r.Get("/debug/clusters", d.listClusters)
}

type createSessionRequest struct {
	ClusterID string `json:"cluster_id"`
	TTL       int64  `json:"ttl,omitempty"` // seconds
}

// requireScope enforces spec.md §7's PermissionDenied kind: a request with
// a valid identity but an insufficient scope is rejected here, before any
// state is touched. Absence of an AuthContext is treated as no permissions
// at all, not as a bypass.
func requireScope(w http.ResponseWriter, r *http.Request, scope auth.Permission) bool {
	ac, _ := kubently.AuthContextFromRequest(r)
	if !auth.Allow(ac, scope) {
		writeError(w, kerrors.New(kerrors.PermissionDenied, "missing required scope: "+scope))
		return false
	}
	return true
}

func (d *Dispatcher) createSession(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeClusterView) {
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kerrors.Wrap(kerrors.InvalidArgument, "decode request", err))
		return
	}
	if req.ClusterID == "" {
		writeError(w, kerrors.New(kerrors.InvalidArgument, "cluster_id is required"))
		return
	}

	identity := ""
	if ac, ok := kubently.AuthContextFromRequest(r); ok {
		identity = ac.Identity
	}
	clientInfo := r.Header.Get("X-Client-Info")

	var ttl time.Duration
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}

	sess, err := d.sessions.Create(r.Context(), req.ClusterID, identity, clientInfo, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	d.logSessionCreate(r, req.ClusterID, sess.SessionID)
	if d.metrics != nil {
		d.metrics.SessionsActive.WithLabelValues(req.ClusterID).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(sess)
}

func (d *Dispatcher) closeSession(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeClusterView) {
		return
	}
	id := chi.URLParam(r, "id")
	sess, _ := d.sessions.Get(r.Context(), id)
	if err := d.sessions.Close(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	d.logSessionClose(r, id)
	if d.metrics != nil && sess != nil {
		d.metrics.SessionsActive.WithLabelValues(sess.ClusterID).Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

type executeRequest struct {
	SessionID      string   `json:"session_id,omitempty"`
	ClusterID      string   `json:"cluster_id"`
	CommandType    string   `json:"command_type"`
	Args           []string `json:"args"`
	TimeoutSeconds int64    `json:"timeout_seconds,omitempty"`
}

func (d *Dispatcher) execute(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeClusterExec) {
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, kerrors.Wrap(kerrors.InvalidArgument, "decode request", err))
		return
	}
	if req.ClusterID == "" {
		writeError(w, kerrors.New(kerrors.InvalidArgument, "cluster_id is required"))
		return
	}
	if err := ValidateCommand(req.CommandType, req.Args); err != nil {
		writeError(w, err)
		return
	}

	if req.SessionID != "" {
		if err := d.sessions.Touch(r.Context(), req.SessionID, 0); err != nil {
			writeError(w, err)
			return
		}
	}

	timeout := defaultCommandTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	cmd := &kubently.Command{
		ClusterID:   req.ClusterID,
		SessionID:   req.SessionID,
		CommandType: req.CommandType,
		Args:        req.Args,
		TimeoutMs:   timeout.Milliseconds(),
		Source:      kubently.SourceDispatcher,
	}

	enqueuedAt := time.Now()
	commandID, err := d.queue.Enqueue(r.Context(), cmd)
	if err != nil {
		writeError(w, err)
		return
	}
	d.logCommandDispatch(r, req.ClusterID, commandID, req.CommandType, req.Args)
	if d.metrics != nil {
		d.metrics.CommandsEnqueued.WithLabelValues(req.ClusterID).Inc()
		if depth, derr := d.queue.Depth(r.Context(), req.ClusterID); derr == nil {
			d.metrics.QueueDepth.WithLabelValues(req.ClusterID).Set(float64(depth))
		}
	}

	res, err := d.queue.AwaitResult(r.Context(), commandID, timeout)
	if err != nil {
		writeError(w, err)
		return
	}
	d.logCommandResult(r, req.ClusterID, commandID, res)
	if d.metrics != nil {
		d.metrics.CommandsResolved.WithLabelValues(req.ClusterID, string(res.Status)).Inc()
		d.metrics.CommandLatency.WithLabelValues(req.ClusterID).Observe(time.Since(enqueuedAt).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func (d *Dispatcher) listClusters(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, auth.ScopeClusterView) {
		return
	}
	clusters := d.presence()
	type clusterInfo struct {
		ClusterID string `json:"cluster_id"`
	}
	out := make([]clusterInfo, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, clusterInfo{ClusterID: c})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"clusters": out})
}

// ValidateCommand enforces the allowed-verb table: args must be non-empty
// and args[0] must equal the verb required by command_type. Any attempt to
// pass a mutating verb, or an unrecognized command_type, is rejected with
// InvalidArgument.
func ValidateCommand(commandType string, args []string) error {
	verb, known := allowedVerbs[commandType]
	if !known {
		return kerrors.New(kerrors.InvalidArgument, "unknown command_type: "+commandType)
	}
	if len(args) == 0 || args[0] != verb {
		return kerrors.New(kerrors.InvalidArgument, "args[0] must be \""+verb+"\" for command_type \""+commandType+"\"")
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status, body := kerrors.AsHTTPBody(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
