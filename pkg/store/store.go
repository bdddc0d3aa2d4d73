// Package store provides the keyed-store abstraction (C1): TTL-bounded
// string keys, atomic counters, list queues, and publish/subscribe, over a
// connection URL supplied at startup. No schema is imposed — values are
// opaque JSON bytes agreed between writers and readers. Reconnection is
// transparent to callers; failures surface as kerrors.Unavailable.
package store

import (
	"context"
	"time"
)

// Subscription is a live pub/sub subscription to one or more channels.
type Subscription interface {
	// Channel yields published messages until Close is called or the
	// underlying connection is lost.
	Channel() <-chan Message
	Close() error
}

// Message is a single pub/sub delivery.
type Message struct {
	Channel string
	Payload string
}

// Store is the interface every component above C1 depends on. RedisStore is
// the only production implementation; MemoryStore backs unit tests.
type Store interface {
	// SetEX writes a TTL-bounded key.
	SetEX(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reads a key; returns (nil, false, nil) when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Del deletes a key, no error if absent.
	Del(ctx context.Context, key string) error
	// Expire resets a key's TTL without altering its value; used by touch().
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Incr/Decr maintain the hot-cluster counters (§4.2). Decr never drives
	// the counter below zero.
	Incr(ctx context.Context, key string) (int64, error)
	DecrFloor0(ctx context.Context, key string) (int64, error)

	// LPush pushes a value onto the list head; BRPop pops from the tail,
	// giving FIFO order (the standard Redis list-as-queue pattern).
	LPush(ctx context.Context, key string, value []byte) error
	// LPushFront re-queues a value at the head (visibility-timeout requeue).
	LPushFront(ctx context.Context, key string, value []byte) error
	// BRPop blocks up to wait for a value, returns (nil, false, nil) on
	// timeout with no error.
	BRPop(ctx context.Context, wait time.Duration, key string) ([]byte, bool, error)
	// RPop is a non-blocking pop: returns (nil, false, nil) immediately if
	// the list is empty, rather than waiting. Used by drain loops that need
	// to detect "empty" without blocking the caller's state machine.
	RPop(ctx context.Context, key string) ([]byte, bool, error)
	// LLen reports queue depth, used for the pending-queue bound (§5).
	LLen(ctx context.Context, key string) (int64, error)

	// Publish/Subscribe back cmd:{cluster_id} and result:{cluster_id}.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// SAdd/SRem/SMembers back the per-cluster session-membership index
	// (§4.2); membership is advisory, pruned lazily by the session manager
	// against each member's own TTL rather than by the set itself expiring.
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Close() error
}
