package a2a

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kubently/kubently/pkg/auth"
	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/observability"
)

// Handler serves the single JSON-RPC 2.0 endpoint for message/send,
// message/stream, and the invoke alias.
type Handler struct {
	contexts *ContextStore
	reasoner ReasoningClient
	dispatch Dispatcher
	logger   *slog.Logger
	metrics  *observability.Metrics
}

func NewHandler(contexts *ContextStore, reasoner ReasoningClient, dispatch Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{contexts: contexts, reasoner: reasoner, dispatch: dispatch, logger: logger}
}

// SetMetrics attaches the control plane's Prometheus collectors.
func (h *Handler) SetMetrics(m *observability.Metrics) {
	h.metrics = m
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, kerrors.InvalidRequestCode, "invalid JSON-RPC request")
		return
	}
	if req.JSONRPC != "2.0" {
		writeRPCError(w, req.ID, kerrors.InvalidRequestCode, "jsonrpc must be \"2.0\"")
		return
	}

	if h.metrics != nil {
		h.metrics.A2ARequests.WithLabelValues(req.Method).Inc()
	}

	switch req.Method {
	// "invoke" is a thin alias over message/send (spec.md §9 scope
	// clarification), kept for clients written against the earlier,
	// pre-standardization name.
	case "message/send", "invoke":
		h.handleSend(w, r, req)
	case "message/stream":
		h.handleStream(w, r, req)
	default:
		writeRPCError(w, req.ID, kerrors.MethodNotFoundCode, "unknown method: "+req.Method)
	}
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, req Request) {
	if !h.authorized(r) {
		writeRPCErrorFromKind(w, req.ID, kerrors.New(kerrors.PermissionDenied, "missing required scope: "+auth.ScopeClusterExec))
		return
	}
	clusterID := req.Params.Metadata["cluster_id"]
	contextID, clusterID, err := h.contexts.Resolve(r.Context(), req.Params.ContextID, clusterID)
	if err != nil {
		writeRPCErrorFromKind(w, req.ID, err)
		return
	}

	var finalText string
	emit := func(kubently.StreamEvent) {} // message/send discards intermediate events
	finalText, err = h.reasoner.Respond(r.Context(), clusterID, req.Params.Message.Text(), h.dispatch, emit)
	if err != nil {
		writeRPCErrorFromKind(w, req.ID, err)
		return
	}

	result := SendResult{
		ContextID: contextID,
		Message: Message{
			MessageID: req.Params.Message.MessageID + "-response",
			Role:      "assistant",
			Parts:     []Part{{Kind: "text", Text: finalText}},
		},
	}
	writeJSON(w, Response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// authorized reports whether the request carries cluster:exec: the agent
// protocol binding dispatches kubectl commands on the caller's behalf, the
// same privilege level as the debug REST API's execute endpoint.
func (h *Handler) authorized(r *http.Request) bool {
	ac, _ := kubently.AuthContextFromRequest(r)
	return auth.Allow(ac, auth.ScopeClusterExec)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request, req Request) {
	if !h.authorized(r) {
		writeRPCErrorFromKind(w, req.ID, kerrors.New(kerrors.PermissionDenied, "missing required scope: "+auth.ScopeClusterExec))
		return
	}
	clusterIDOverride := req.Params.Metadata["cluster_id"]
	contextID, clusterID, err := h.contexts.Resolve(r.Context(), req.Params.ContextID, clusterIDOverride)
	if err != nil {
		writeRPCErrorFromKind(w, req.ID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, req.ID, kerrors.InternalErrorCode, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(ev kubently.StreamEvent) {
		ev.ContextID = contextID
		if seq, serr := h.contexts.NextSequence(r.Context(), contextID); serr == nil {
			ev.Sequence = seq
		}
		data, merr := json.Marshal(Response{JSONRPC: "2.0", ID: req.ID, Result: ev})
		if merr != nil {
			return
		}
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
		flusher.Flush()
	}

	finalText, err := h.reasoner.Respond(r.Context(), clusterID, req.Params.Message.Text(), h.dispatch, send)
	if err != nil {
		send(kubently.StreamEvent{Kind: kubently.EventStatusUpdate, State: "failed", Message: err.Error(), Final: true})
		return
	}
	send(kubently.StreamEvent{Kind: kubently.EventArtifactUpdate, Parts: []kubently.Part{{Kind: "text", Text: finalText}}})
	send(kubently.StreamEvent{Kind: kubently.EventStatusUpdate, State: "completed", Final: true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	writeJSON(w, errorResponse(id, code, message))
}

// writeRPCErrorFromKind maps a kerrors.Error (or any error) to its
// JSON-RPC code via Kind.JSONRPCCode, keeping the HTTP and JSON-RPC
// surfaces consistent (pkg/kerrors).
func writeRPCErrorFromKind(w http.ResponseWriter, id json.RawMessage, err error) {
	kind := kerrors.KindOf(err)
	writeRPCError(w, id, kind.JSONRPCCode(), err.Error())
}
