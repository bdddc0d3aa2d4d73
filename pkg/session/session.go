// Package session implements the session manager (C2): create/touch/close
// against the keyed store, plus the best-effort hot-cluster counter.
// Grounded on the teacher's fleet.NodeManager for the shape of a
// registry wrapping a Store (register/heartbeat/drain/gc), adapted here to
// TTL-expiring keys instead of in-memory state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/store"
)

// DefaultTTL is the session lifetime absent an explicit override.
const DefaultTTL = 5 * time.Minute

// Manager owns session lifecycle over a store.Store.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager {
	return &Manager{store: s}
}

func sessionKey(id string) string    { return "session:" + id }
func hotKey(clusterID string) string { return "hot:" + clusterID }
func clusterSetKey(id string) string { return "sessions:" + id }

// Create generates an opaque session id, writes session:{id} with the given
// TTL (DefaultTTL if ttl <= 0), records cluster membership, and increments
// the cluster's hot counter.
func (m *Manager) Create(ctx context.Context, clusterID, identity, clientInfo string, ttl time.Duration) (*kubently.Session, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	sess := &kubently.Session{
		SessionID:   uuid.NewString(),
		ClusterID:   clusterID,
		Identity:    identity,
		CreatedAt:   now,
		LastActive:  now,
		TTLDeadline: now.Add(ttl),
		ClientInfo:  clientInfo,
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "marshal session", err)
	}
	if err := m.store.SetEX(ctx, sessionKey(sess.SessionID), payload, ttl); err != nil {
		return nil, err
	}
	if err := m.store.SAdd(ctx, clusterSetKey(clusterID), sess.SessionID); err != nil {
		return nil, err
	}
	if _, err := m.store.Incr(ctx, hotKey(clusterID)); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by id, kerrors.NotFound if it has expired or never
// existed.
func (m *Manager) Get(ctx context.Context, sessionID string) (*kubently.Session, error) {
	raw, ok, err := m.store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kerrors.New(kerrors.NotFound, fmt.Sprintf("session %s not found or expired", sessionID))
	}
	var sess kubently.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "unmarshal session", err)
	}
	return &sess, nil
}

// Touch refreshes a session's TTL. Fails with kerrors.NotFound ("session
// expired") if the key is already gone — strictly increasing the deadline
// (P6) only has meaning while the session is still alive.
func (m *Manager) Touch(ctx context.Context, sessionID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActive = time.Now()
	sess.TTLDeadline = sess.LastActive.Add(ttl)
	payload, err := json.Marshal(sess)
	if err != nil {
		return kerrors.Wrap(kerrors.Internal, "marshal session", err)
	}
	if err := m.store.SetEX(ctx, sessionKey(sessionID), payload, ttl); err != nil {
		return err
	}
	return nil
}

// Close deletes the session key and decrements the cluster's hot counter
// (never below zero).
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	sess, err := m.Get(ctx, sessionID)
	if err != nil {
		// Already gone; closing a session that already expired is not an
		// error from the caller's point of view.
		if kerrors.KindOf(err) == kerrors.NotFound {
			return nil
		}
		return err
	}
	if err := m.store.Del(ctx, sessionKey(sessionID)); err != nil {
		return err
	}
	if err := m.store.SRem(ctx, clusterSetKey(sess.ClusterID), sessionID); err != nil {
		return err
	}
	if _, err := m.store.DecrFloor0(ctx, hotKey(sess.ClusterID)); err != nil {
		return err
	}
	return nil
}

// List returns the sessions currently live for clusterID, silently
// pruning any membership entry whose key has since expired (the set is
// advisory, not authoritative — TTL expiry on session:{id} is ground
// truth).
func (m *Manager) List(ctx context.Context, clusterID string) ([]*kubently.Session, error) {
	ids, err := m.store.SMembers(ctx, clusterSetKey(clusterID))
	if err != nil {
		return nil, err
	}
	var live []*kubently.Session
	for _, id := range ids {
		sess, err := m.Get(ctx, id)
		if err != nil {
			if kerrors.KindOf(err) == kerrors.NotFound {
				_ = m.store.SRem(ctx, clusterSetKey(clusterID), id)
				continue
			}
			return nil, err
		}
		live = append(live, sess)
	}
	return live, nil
}

// IsHot reports whether clusterID has at least one active session. This is
// an advisory signal only (spec.md §4.2) — no component may depend on it
// for correctness.
func (m *Manager) IsHot(ctx context.Context, clusterID string) (bool, error) {
	raw, ok, err := m.store.Get(ctx, hotKey(clusterID))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return string(raw) != "0", nil
}
