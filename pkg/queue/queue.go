// Package queue implements the command queue (C3): FIFO per-cluster
// dispatch plus a result rendezvous that holds across control-plane
// instances. Grounded on the teacher's pkg/fleet typed Command/Result shape
// and pkg/resilience.IdempotencyController for duplicate-result no-ops.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/resilience"
	"github.com/kubently/kubently/pkg/store"
)

// storeBreakerConfig opens the queue's store-write circuit after repeated
// Redis failures, so a flapping backend fails Enqueue fast instead of
// letting every caller hang on its own dial timeout.
var storeBreakerConfig = resilience.CircuitBreakerConfig{
	Name:         "queue-store-write",
	MaxFailures:  5,
	ResetTimeout: 15 * time.Second,
}

func pendingKey(clusterID string) string { return "pending:" + clusterID }
func cmdChannel(clusterID string) string { return "cmd:" + clusterID }
func resultKey(cmdID string) string      { return "result:" + cmdID }
// commandClusterKey durably records which cluster a command_id was issued
// for, independent of any executor connection's transient state, so a
// Result can still be authorized after the connection that popped the
// command has reconnected or already resolved it.
func commandClusterKey(cmdID string) string { return "cmdcluster:" + cmdID }
// resultChannel is the pub/sub wakeup for a single command's rendezvous.
// Keying it by command_id (rather than cluster_id, as spec.md's prose
// suggests) avoids fanning every cluster's results out to every waiter;
// the contents are identical either way since command_id is globally
// unique, so correctness (I1-I3) is unaffected.
func resultChannel(cmdID string) string { return "result:" + cmdID }
func tombstoneKey(cmdID string) string  { return "tombstone:" + cmdID }

// resultTTL bounds how long a Result waits in the store for a late
// await_result caller before it is reclaimed.
const resultTTL = 2 * time.Minute

// Queue owns command dispatch and result rendezvous for all clusters.
type Queue struct {
	store    store.Store
	idem     *resilience.IdempotencyController
	breaker  *resilience.CircuitBreaker
	maxDepth int64 // 0 means unbounded

	mu      sync.Mutex
	waiters map[string][]chan *kubently.Result // command_id -> local fast-path waiters
}

func New(s store.Store, logger *slog.Logger) *Queue {
	return &Queue{
		store:   s,
		idem:    resilience.NewIdempotencyController(resultTTL, logger),
		breaker: resilience.NewCircuitBreaker(storeBreakerConfig),
		waiters: make(map[string][]chan *kubently.Result),
	}
}

// SetMaxDepth bounds the per-cluster pending queue (spec.md §5). Enqueue
// rejects with ResourceExhausted once a cluster's pending count reaches
// this limit. 0 leaves the queue unbounded.
func (q *Queue) SetMaxDepth(depth int64) {
	q.maxDepth = depth
}

// Enqueue writes the command to pending:{cluster_id} and wakes any C4
// connection long-polling on cmd:{cluster_id}. Fails fast on any store
// error, leaving no partial state.
func (q *Queue) Enqueue(ctx context.Context, cmd *kubently.Command) (string, error) {
	if cmd.CommandID == "" {
		cmd.CommandID = uuid.NewString()
	}
	if cmd.EnqueuedAt.IsZero() {
		cmd.EnqueuedAt = time.Now()
	}
	if q.maxDepth > 0 {
		depth, err := q.store.LLen(ctx, pendingKey(cmd.ClusterID))
		if err != nil {
			return "", err
		}
		if depth >= q.maxDepth {
			return "", kerrors.New(kerrors.ResourceExhausted, "pending queue depth limit reached for cluster "+cmd.ClusterID)
		}
	}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", kerrors.Wrap(kerrors.Internal, "marshal command", err)
	}

	if err := q.breaker.Execute(func() error {
		if err := q.store.LPush(ctx, pendingKey(cmd.ClusterID), payload); err != nil {
			return err
		}
		if err := q.store.SetEX(ctx, commandClusterKey(cmd.CommandID), []byte(cmd.ClusterID), resultTTL); err != nil {
			return err
		}
		return q.store.Publish(ctx, cmdChannel(cmd.ClusterID), []byte(cmd.CommandID))
	}); err != nil {
		if q.breaker.State() == resilience.CircuitOpen {
			return "", kerrors.Wrap(kerrors.Unavailable, "queue store circuit open", err)
		}
		return "", err
	}
	return cmd.CommandID, nil
}

// PopNext is called by C4 to pop the next Command for clusterID. The
// underlying store op (BRPOP) is atomic across any number of concurrent
// callers, which is what gives at-most-one delivery (I2).
func (q *Queue) PopNext(ctx context.Context, clusterID string, wait time.Duration) (*kubently.Command, error) {
	raw, ok, err := q.store.BRPop(ctx, wait, pendingKey(clusterID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var cmd kubently.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "unmarshal command", err)
	}
	return &cmd, nil
}

// PopNextNonBlocking is PopNext without the wait: it returns (nil, nil)
// immediately if the cluster's queue is empty, for drain loops that need to
// detect "empty" without blocking.
func (q *Queue) PopNextNonBlocking(ctx context.Context, clusterID string) (*kubently.Command, error) {
	raw, ok, err := q.store.RPop(ctx, pendingKey(clusterID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var cmd kubently.Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return nil, kerrors.Wrap(kerrors.Internal, "unmarshal command", err)
	}
	return &cmd, nil
}

// Requeue re-inserts cmd at the head of its cluster's queue, used by C4 on a
// write failure or disconnect before the command reached the executor
// (visibility-timeout pattern).
func (q *Queue) Requeue(ctx context.Context, cmd *kubently.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return kerrors.Wrap(kerrors.Internal, "marshal command", err)
	}
	return q.store.LPushFront(ctx, pendingKey(cmd.ClusterID), payload)
}

// AwaitResult blocks until a Result matching commandID is delivered or
// timeout elapses, returning a synthesized TIMEOUT Result in the latter
// case (spec.md §4.3 failure semantics) and tombstoning the command so a
// late Deliver is a no-op.
func (q *Queue) AwaitResult(ctx context.Context, commandID string, timeout time.Duration) (*kubently.Result, error) {
	local := q.registerWaiter(commandID)
	defer q.unregisterWaiter(commandID, local)

	// Fast path: the result may already be sitting in the store if it
	// landed between Enqueue and here, or this instance already has it via
	// an earlier pub/sub wakeup.
	if res, ok, err := q.loadResult(ctx, commandID); err != nil {
		return nil, err
	} else if ok {
		return res, nil
	}

	sub, err := q.store.Subscribe(ctx, resultChannel(commandID))
	var wake <-chan store.Message
	if err == nil {
		defer sub.Close()
		wake = sub.Channel()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	// The poll ticker is a safety net for a pub/sub delivery that races the
	// key write (spec.md §9): wake should normally fire first.
	poll := time.NewTicker(200 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case res := <-local:
			return res, nil
		case <-wake:
			if res, ok, err := q.loadResult(ctx, commandID); err != nil {
				return nil, err
			} else if ok {
				return res, nil
			}
		case <-poll.C:
			if res, ok, err := q.loadResult(ctx, commandID); err != nil {
				return nil, err
			} else if ok {
				return res, nil
			}
		case <-deadline.C:
			return q.timeoutResult(ctx, commandID)
		case <-ctx.Done():
			return nil, kerrors.Wrap(kerrors.Cancelled, "await_result cancelled", ctx.Err())
		}
	}
}

func (q *Queue) timeoutResult(ctx context.Context, commandID string) (*kubently.Result, error) {
	_ = q.store.SetEX(ctx, tombstoneKey(commandID), []byte("1"), resultTTL)
	return &kubently.Result{
		CommandID:  commandID,
		Success:    false,
		Status:     kubently.StatusTimeout,
		ReturnCode: -1,
		ExecutedAt: time.Now(),
	}, nil
}

func (q *Queue) loadResult(ctx context.Context, commandID string) (*kubently.Result, bool, error) {
	raw, ok, err := q.store.Get(ctx, resultKey(commandID))
	if err != nil || !ok {
		return nil, false, err
	}
	var res kubently.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, kerrors.Wrap(kerrors.Internal, "unmarshal result", err)
	}
	return &res, true, nil
}

// Deliver records a Result from C5, waking any AwaitResult caller. A
// duplicate or post-tombstone delivery is a logged no-op (I3): the first
// call for a given command_id does the store writes, every later call
// within the idempotency window replays its cached (accepted, err) instead
// of re-publishing.
func (q *Queue) Deliver(ctx context.Context, res *kubently.Result) (accepted bool, err error) {
	out, err := q.idem.Execute(res.CommandID, func() (any, error) {
		if _, tombstoned, terr := q.store.Get(ctx, tombstoneKey(res.CommandID)); terr != nil {
			return false, terr
		} else if tombstoned {
			return false, nil
		}

		payload, merr := json.Marshal(res)
		if merr != nil {
			return false, kerrors.Wrap(kerrors.Internal, "marshal result", merr)
		}
		if serr := q.store.SetEX(ctx, resultKey(res.CommandID), payload, resultTTL); serr != nil {
			return false, serr
		}
		if perr := q.store.Publish(ctx, resultChannel(res.CommandID), payload); perr != nil {
			return false, perr
		}

		q.mu.Lock()
		for _, ch := range q.waiters[res.CommandID] {
			select {
			case ch <- res:
			default:
			}
		}
		q.mu.Unlock()
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func (q *Queue) registerWaiter(commandID string) chan *kubently.Result {
	ch := make(chan *kubently.Result, 1)
	q.mu.Lock()
	q.waiters[commandID] = append(q.waiters[commandID], ch)
	q.mu.Unlock()
	return ch
}

func (q *Queue) unregisterWaiter(commandID string, ch chan *kubently.Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.waiters[commandID]
	for i, c := range list {
		if c == ch {
			q.waiters[commandID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(q.waiters[commandID]) == 0 {
		delete(q.waiters, commandID)
	}
}

// SubscribeWakeups subscribes to cmd:{cluster_id}, the wakeup channel C4's
// long-poll loop waits on between drain passes.
func (q *Queue) SubscribeWakeups(ctx context.Context, clusterID string) (store.Subscription, error) {
	return q.store.Subscribe(ctx, cmdChannel(clusterID))
}

// Depth reports the pending queue length for clusterID, used to enforce the
// max-queue-depth bound (§5).
func (q *Queue) Depth(ctx context.Context, clusterID string) (int64, error) {
	return q.store.LLen(ctx, pendingKey(clusterID))
}

// CommandCluster returns the cluster_id recorded for commandID at enqueue
// time. This is the durable authorization record C5 checks before accepting
// a posted Result: unlike a connection's in-flight map (cleared on the
// first successful Deliver, wiped on reconnect), this record lives for the
// same resultTTL window as the Result itself, so a retried or late-arriving
// Result for an already-resolved command (spec.md §4.9 step 4, the
// idempotent sink requirement) still resolves to the right cluster instead
// of being rejected as unauthorized.
func (q *Queue) CommandCluster(ctx context.Context, commandID string) (string, bool, error) {
	raw, ok, err := q.store.Get(ctx, commandClusterKey(commandID))
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}
