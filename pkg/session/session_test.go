package session

import (
	"context"
	"testing"
	"time"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/store"
)

func newTestManager() *Manager {
	return NewManager(store.NewMemoryStore())
}

func TestManager_CreateGet(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	sess, err := m.Create(ctx, "kind", "alice", "kubently-cli/0.4.2", time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.SessionID == "" {
		t.Fatal("expected a generated session id")
	}

	got, err := m.Get(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ClusterID != "kind" || got.ClientInfo != "kubently-cli/0.4.2" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestManager_CreateDefaultsTTL(t *testing.T) {
	m := newTestManager()
	sess, err := m.Create(context.Background(), "kind", "alice", "", 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !sess.TTLDeadline.After(sess.CreatedAt) {
		t.Fatal("expected TTL deadline after created_at")
	}
}

func TestManager_TouchIsMonotonic(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	sess, _ := m.Create(ctx, "kind", "alice", "", time.Minute)
	first := sess.TTLDeadline

	time.Sleep(2 * time.Millisecond)
	if err := m.Touch(ctx, sess.SessionID, time.Minute); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := m.Get(ctx, sess.SessionID)
	if !got.TTLDeadline.After(first) {
		t.Fatal("expected ttl_deadline to strictly increase after touch")
	}
}

func TestManager_TouchExpiredSessionFails(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	if err := m.Touch(ctx, "nonexistent", time.Minute); kerrors.KindOf(err) != kerrors.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestManager_CloseDecrementsHot(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	sess, _ := m.Create(ctx, "kind", "alice", "", time.Minute)
	hot, err := m.IsHot(ctx, "kind")
	if err != nil || !hot {
		t.Fatalf("expected hot after create, got (%v, %v)", hot, err)
	}

	if err := m.Close(ctx, sess.SessionID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	hot, err = m.IsHot(ctx, "kind")
	if err != nil || hot {
		t.Fatalf("expected not hot after close, got (%v, %v)", hot, err)
	}

	if _, err := m.Get(ctx, sess.SessionID); kerrors.KindOf(err) != kerrors.NotFound {
		t.Fatalf("expected session gone after close, got %v", err)
	}
}

func TestManager_CloseOnUnknownSessionIsNoop(t *testing.T) {
	m := newTestManager()
	if err := m.Close(context.Background(), "nonexistent"); err != nil {
		t.Fatalf("expected no error closing an unknown session, got %v", err)
	}
}

func TestManager_HotNeverGoesNegative(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	s1, _ := m.Create(ctx, "kind", "a", "", time.Minute)
	s2, _ := m.Create(ctx, "kind", "b", "", time.Minute)

	_ = m.Close(ctx, s1.SessionID)
	_ = m.Close(ctx, s2.SessionID)
	_ = m.Close(ctx, s2.SessionID) // double close should never drive the counter negative

	hot, _ := m.IsHot(ctx, "kind")
	if hot {
		t.Fatal("expected hot counter floored at 0")
	}
}

func TestManager_ListPrunesExpired(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	long, _ := m.Create(ctx, "kind", "a", "", time.Minute)
	_, _ = m.Create(ctx, "kind", "b", "", time.Millisecond)

	time.Sleep(5 * time.Millisecond)

	sessions, err := m.List(ctx, "kind")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != long.SessionID {
		t.Fatalf("expected only the live session, got %+v", sessions)
	}
}

func TestManager_ConcurrentSessionsIndependent(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	a, _ := m.Create(ctx, "kind", "alice", "", time.Minute)
	b, _ := m.Create(ctx, "kind", "bob", "", time.Minute)

	if err := m.Close(ctx, a.SessionID); err != nil {
		t.Fatalf("Close a: %v", err)
	}
	if _, err := m.Get(ctx, b.SessionID); err != nil {
		t.Fatalf("expected b unaffected by closing a, got %v", err)
	}
}
