package a2a

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/store"
)

// ContextTTL bounds how long a contextId's association survives between
// calls (spec.md §4.7: "in the store, TTL-bounded").
const ContextTTL = 30 * time.Minute

// convoState is the multi-turn state kept per contextId.
type convoState struct {
	ClusterID string `json:"cluster_id"`
	Sequence  int64  `json:"sequence"`
}

// ContextStore tracks per-contextId state: the cluster a conversation is
// bound to, and the monotonically increasing event sequence within it (I5).
type ContextStore struct {
	store store.Store
}

func NewContextStore(s store.Store) *ContextStore {
	return &ContextStore{store: s}
}

func contextKey(id string) string { return "a2a:context:" + id }

// Resolve returns the contextId to use (minting one if empty) and the
// cluster bound to it, preferring an explicit clusterID override.
func (c *ContextStore) Resolve(ctx context.Context, contextID, clusterIDOverride string) (string, string, error) {
	if contextID == "" {
		contextID = uuid.NewString()
	}
	state, ok, err := c.load(ctx, contextID)
	if err != nil {
		return "", "", err
	}
	if !ok {
		state = convoState{}
	}
	if clusterIDOverride != "" {
		state.ClusterID = clusterIDOverride
	}
	if state.ClusterID == "" {
		return contextID, "", kerrors.New(kerrors.InvalidArgument, "metadata.cluster_id is required for a new context")
	}
	if err := c.save(ctx, contextID, state); err != nil {
		return "", "", err
	}
	return contextID, state.ClusterID, nil
}

// NextSequence atomically advances and returns the next event sequence for
// contextID, giving producer order within a context (I5).
func (c *ContextStore) NextSequence(ctx context.Context, contextID string) (int64, error) {
	state, ok, err := c.load(ctx, contextID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, kerrors.New(kerrors.Internal, "sequence requested for unresolved context")
	}
	state.Sequence++
	if err := c.save(ctx, contextID, state); err != nil {
		return 0, err
	}
	return state.Sequence, nil
}

func (c *ContextStore) load(ctx context.Context, contextID string) (convoState, bool, error) {
	raw, ok, err := c.store.Get(ctx, contextKey(contextID))
	if err != nil || !ok {
		return convoState{}, ok, err
	}
	var state convoState
	if err := json.Unmarshal(raw, &state); err != nil {
		return convoState{}, false, kerrors.Wrap(kerrors.Internal, "unmarshal context state", err)
	}
	return state, true, nil
}

func (c *ContextStore) save(ctx context.Context, contextID string, state convoState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return kerrors.Wrap(kerrors.Internal, "marshal context state", err)
	}
	return c.store.SetEX(ctx, contextKey(contextID), payload, ContextTTL)
}
