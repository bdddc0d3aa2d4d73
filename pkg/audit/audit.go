// Package audit provides an immutable, structured audit log for the
// control plane.
//
// Every command dispatch, command result, session lifecycle transition,
// and authentication decision is recorded as a structured event.
// Events are append-only and can be exported as JSON lines for SIEM
// ingestion.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	EventCommandDispatch EventType = "command.dispatch"
	EventCommandResult   EventType = "command.result"
	EventSessionCreate   EventType = "session.create"
	EventSessionClose    EventType = "session.close"
	EventAuthSuccess     EventType = "auth.success"
	EventAuthFailure     EventType = "auth.failure"
)

// Event is a single immutable audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	User      string         `json:"user"`
	Action    string         `json:"action"`
	Target    *EventTarget   `json:"target,omitempty"`
	Result    *EventResult   `json:"result,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// EventTarget describes what a dispatched command acted on.
type EventTarget struct {
	ClusterID string   `json:"cluster_id,omitempty"`
	CommandID string   `json:"command_id,omitempty"`
	Type      string   `json:"type,omitempty"` // command_type, e.g. "kubectl"
	Args      []string `json:"args,omitempty"`
}

// EventResult captures the outcome of the action.
type EventResult struct {
	Status     string `json:"status"` // SUCCESS|FAILED|TIMEOUT|ERROR
	ReturnCode int    `json:"return_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// QueryOptions filters audit log queries.
type QueryOptions struct {
	User  string
	Type  EventType
	Since time.Time
	Until time.Time
	Limit int
}

// Store is the persistence interface for the audit log.
type Store interface {
	// Append writes an event to the audit log. Events are immutable once written.
	Append(ctx context.Context, event *Event) error

	// Query retrieves events matching the given filters.
	Query(ctx context.Context, opts QueryOptions) ([]*Event, error)

	// Export returns all events since the given time.
	Export(ctx context.Context, since time.Time) ([]*Event, error)
}

// ------------------------------------------------------------------
// File-based audit store (append-only JSONL)
// ------------------------------------------------------------------

// FileStore is an append-only file-based audit store using JSON Lines format.
// Each line is a complete JSON event. The file is never modified, only appended to.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates a file-based audit store at the given directory.
func NewFileStore(dir string) *FileStore {
	os.MkdirAll(dir, 0o700)
	return &FileStore{dir: dir}
}

func (s *FileStore) logFile() string {
	return filepath.Join(s.dir, "audit.jsonl")
}

// Append writes an event to the audit log.
func (s *FileStore) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.logFile(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}

	return nil
}

// Query reads events matching the given filters.
func (s *FileStore) Query(ctx context.Context, opts QueryOptions) ([]*Event, error) {
	all, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var results []*Event
	for _, e := range all {
		if opts.User != "" && e.User != opts.User {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if !opts.Since.IsZero() && e.Timestamp.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && e.Timestamp.After(opts.Until) {
			continue
		}
		results = append(results, e)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	return results, nil
}

// Export returns all events since the given time.
func (s *FileStore) Export(ctx context.Context, since time.Time) ([]*Event, error) {
	return s.Query(ctx, QueryOptions{Since: since})
}

func (s *FileStore) readAll() ([]*Event, error) {
	data, err := os.ReadFile(s.logFile())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []*Event
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		events = append(events, &e)
	}
	return events, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := range data {
		if data[i] == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// ------------------------------------------------------------------
// Logger is a convenience wrapper for emitting audit events
// ------------------------------------------------------------------

// Logger provides helper methods for common audit patterns, bound to one
// authenticated identity.
type Logger struct {
	store Store
	user  string
}

// NewLogger creates an audit logger for the given identity.
func NewLogger(store Store, user string) *Logger {
	return &Logger{store: store, user: user}
}

// LogCommandDispatch records that a command was accepted onto a cluster's
// queue (C3 Enqueue).
func (l *Logger) LogCommandDispatch(ctx context.Context, clusterID, commandID, commandType string, args []string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventCommandDispatch,
		User:   l.user,
		Action: "command.dispatch",
		Target: &EventTarget{
			ClusterID: clusterID,
			CommandID: commandID,
			Type:      commandType,
			Args:      args,
		},
	})
}

// LogCommandResult records a command's terminal disposition, as delivered
// to C5 or produced by a TIMEOUT tombstone.
func (l *Logger) LogCommandResult(ctx context.Context, clusterID, commandID, status string, returnCode int, errMsg string) error {
	return l.store.Append(ctx, &Event{
		Type:   EventCommandResult,
		User:   l.user,
		Action: "command.result",
		Target: &EventTarget{ClusterID: clusterID, CommandID: commandID},
		Result: &EventResult{Status: status, ReturnCode: returnCode, Error: errMsg},
	})
}

// LogSessionCreate records a new debugging session (C2).
func (l *Logger) LogSessionCreate(ctx context.Context, clusterID, sessionID string) error {
	return l.store.Append(ctx, &Event{
		Type:      EventSessionCreate,
		User:      l.user,
		Action:    "session.create",
		Target:    &EventTarget{ClusterID: clusterID},
		SessionID: sessionID,
	})
}

// LogSessionClose records an explicit session close or TTL expiry.
func (l *Logger) LogSessionClose(ctx context.Context, sessionID string) error {
	return l.store.Append(ctx, &Event{
		Type:      EventSessionClose,
		User:      l.user,
		Action:    "session.close",
		SessionID: sessionID,
	})
}

// LogAuthResult records an authentication attempt outcome (C8). success is
// recorded against the resolved identity; failures carry no identity since
// none was established.
func LogAuthResult(ctx context.Context, store Store, method string, success bool, identity, reason string) error {
	typ := EventAuthFailure
	action := "auth.failure"
	if success {
		typ = EventAuthSuccess
		action = "auth.success"
	}
	return store.Append(ctx, &Event{
		Type:   typ,
		User:   identity,
		Action: action,
		Metadata: map[string]any{
			"method": method,
			"reason": reason,
		},
	})
}
