// Package kubently holds the data types shared by every component:
// Session, Command, Result, StreamEvent, and AuthContext (spec.md §3). It
// exists to avoid an import cycle between the fleet-shaped packages
// (session, queue, executorapi, dispatcher, a2a, auth) that all need the
// same wire shapes.
package kubently

import (
	"context"
	"net/http"
	"time"
)

// Session is a client's claim on a cluster (C2). Concurrent sessions
// against the same cluster are allowed and independent.
type Session struct {
	SessionID    string    `json:"session_id"`
	ClusterID    string    `json:"cluster_id"`
	Identity     string    `json:"identity"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	TTLDeadline  time.Time `json:"ttl_deadline"`
	// ClientInfo is a free-form string the CLI sends describing itself
	// (e.g. "kubently-cli/0.4.2"), surfaced on /debug/clusters.
	ClientInfo string `json:"client_info,omitempty"`
}

// CommandSource records which entry point created a Command, for audit/log
// correlation only — it must never influence dispatch logic.
type CommandSource string

const (
	SourceDispatcher CommandSource = "dispatcher"
	SourceA2A        CommandSource = "a2a"
)

// Command is a unit of work queued for an executor (C3), created by C6/C7.
type Command struct {
	CommandID   string        `json:"command_id"`
	ClusterID   string        `json:"cluster_id"`
	SessionID   string        `json:"session_id,omitempty"`
	CommandType string        `json:"command_type"`
	Args        []string      `json:"args"`
	TimeoutMs   int64         `json:"timeout_ms"`
	EnqueuedAt  time.Time     `json:"enqueued_at"`
	Source      CommandSource `json:"source,omitempty"`
}

// ResultStatus is the terminal disposition of a Command.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "SUCCESS"
	StatusFailed  ResultStatus = "FAILED"
	StatusTimeout ResultStatus = "TIMEOUT"
	StatusError   ResultStatus = "ERROR"
)

// Result is produced by C9 and consumed exactly once from its rendezvous
// slot (I2).
type Result struct {
	CommandID     string       `json:"command_id"`
	Success       bool         `json:"success"`
	Stdout        string       `json:"stdout"`
	Stderr        string       `json:"stderr"`
	ReturnCode    int          `json:"return_code"`
	Status        ResultStatus `json:"status"`
	ExecutedAt    time.Time    `json:"executed_at"`
	ExecutionTime int64        `json:"execution_time_ms"`
	// Node is the hostname the executor reported itself as, useful when
	// multiple executor pods serve the same cluster_id.
	Node string `json:"node,omitempty"`
}

// StreamEventKind discriminates the tagged union emitted by C7.
type StreamEventKind string

const (
	EventStatusUpdate   StreamEventKind = "status-update"
	EventArtifactUpdate StreamEventKind = "artifact-update"
	EventToolCall       StreamEventKind = "tool-call"
	EventToolResponse   StreamEventKind = "tool-response"
	EventThinking       StreamEventKind = "thinking"
)

// Part is one element of an artifact-update's parts[]. The agent protocol
// accepts both the bare {"text":...} shape and the explicit
// {"kind":"text","text":...} shape; normalization happens on decode.
type Part struct {
	Kind string `json:"kind,omitempty"`
	Text string `json:"text,omitempty"`
}

// StreamEvent is one server-pushed event of a message/stream response.
type StreamEvent struct {
	Kind      StreamEventKind `json:"kind"`
	ContextID string          `json:"context_id"`
	Sequence  int64           `json:"sequence,omitempty"`

	// status-update
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Final   bool   `json:"final,omitempty"`

	// artifact-update
	ArtifactID string `json:"artifact_id,omitempty"`
	Parts      []Part `json:"parts,omitempty"`

	// tool-call / tool-response
	Tool       string         `json:"tool,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Content    string         `json:"content,omitempty"`
}

// AuthMethod names which credential an inbound request was authenticated
// with.
type AuthMethod string

const (
	AuthAPIKey      AuthMethod = "api_key"
	AuthBearerToken AuthMethod = "bearer_token"
)

// AuthContext is attached to the request and carried to downstream
// components. Never log it verbatim — Identity may be a subject claim and
// Permissions can reveal an access-control policy shape.
type AuthContext struct {
	Identity    string
	Method      AuthMethod
	Permissions map[string]struct{}
}

type authContextKey struct{}

// WithAuthContext attaches ac to ctx, for the auth middleware to hand off
// the authenticated identity to downstream handlers.
func WithAuthContext(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, ac)
}

// AuthContextFromContext retrieves the AuthContext attached by the auth
// middleware, if any.
func AuthContextFromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey{}).(AuthContext)
	return ac, ok
}

// AuthContextFromRequest is a convenience wrapper over
// AuthContextFromContext for HTTP handlers.
func AuthContextFromRequest(r *http.Request) (AuthContext, bool) {
	return AuthContextFromContext(r.Context())
}

// HasPermission reports whether the context carries perm, honoring a
// trailing "*" as a wildcard suffix (e.g. "fleet:*" grants "fleet:exec").
func (a AuthContext) HasPermission(perm string) bool {
	if _, ok := a.Permissions[perm]; ok {
		return true
	}
	for p := range a.Permissions {
		if len(p) > 0 && p[len(p)-1] == '*' && len(perm) >= len(p)-1 && perm[:len(p)-1] == p[:len(p)-1] {
			return true
		}
	}
	return false
}
