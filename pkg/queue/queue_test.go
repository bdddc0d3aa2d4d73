package queue

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue() *Queue {
	return New(store.NewMemoryStore(), testLogger())
}

func TestQueue_EnqueuePopNext(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	cmd, err := q.PopNext(ctx, "kind", time.Second)
	if err != nil {
		t.Fatalf("PopNext: %v", err)
	}
	if cmd == nil || cmd.CommandID != id {
		t.Fatalf("expected popped command %s, got %+v", id, cmd)
	}
}

func TestQueue_PopNextFIFO(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	id1, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})
	id2, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"nodes"}})

	first, _ := q.PopNext(ctx, "kind", time.Second)
	second, _ := q.PopNext(ctx, "kind", time.Second)

	if first.CommandID != id1 || second.CommandID != id2 {
		t.Fatalf("expected FIFO order %s,%s got %s,%s", id1, id2, first.CommandID, second.CommandID)
	}
}

func TestQueue_EnqueueRejectsAtMaxDepth(t *testing.T) {
	q := newTestQueue()
	q.SetMaxDepth(2)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}}); err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	if _, err := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"nodes"}}); err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	_, err := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"services"}})
	if kerrors.KindOf(err) != kerrors.ResourceExhausted {
		t.Fatalf("expected ResourceExhausted at max depth, got %v", err)
	}

	// A different cluster has its own independent depth counter.
	if _, err := q.Enqueue(ctx, &kubently.Command{ClusterID: "other", CommandType: "get", Args: []string{"pods"}}); err != nil {
		t.Fatalf("Enqueue on distinct cluster should not be rejected: %v", err)
	}
}

func TestQueue_PopNextAtMostOneConsumer(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd, err := q.PopNext(ctx, "kind", 50*time.Millisecond)
			if err == nil && cmd != nil {
				mu.Lock()
				got = append(got, cmd.CommandID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(got) != 1 {
		t.Fatalf("expected exactly one consumer to receive the command, got %d: %v", len(got), got)
	}
}

func TestQueue_Requeue(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	_, _ = q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"old"}})
	stale, _ := q.PopNext(ctx, "kind", time.Second)

	if err := q.Requeue(ctx, stale); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	back, err := q.PopNext(ctx, "kind", time.Second)
	if err != nil || back == nil || back.CommandID != stale.CommandID {
		t.Fatalf("expected requeued command to be poppable, got (%+v, %v)", back, err)
	}
}

func TestQueue_DeliverWakesAwaitResult(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	done := make(chan *kubently.Result, 1)
	go func() {
		res, err := q.AwaitResult(ctx, id, 2*time.Second)
		if err != nil {
			done <- nil
			return
		}
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	accepted, err := q.Deliver(ctx, &kubently.Result{CommandID: id, Success: true, Status: kubently.StatusSuccess})
	if err != nil || !accepted {
		t.Fatalf("Deliver: accepted=%v err=%v", accepted, err)
	}

	select {
	case res := <-done:
		if res == nil || !res.Success {
			t.Fatalf("expected successful result, got %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitResult did not wake on Deliver")
	}
}

func TestQueue_AwaitResultTimesOut(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	res, err := q.AwaitResult(ctx, id, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}
	if res.Status != kubently.StatusTimeout || res.ReturnCode != -1 {
		t.Fatalf("expected TIMEOUT result, got %+v", res)
	}
}

func TestQueue_DeliverAfterTimeoutIsNoop(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	if _, err := q.AwaitResult(ctx, id, 10*time.Millisecond); err != nil {
		t.Fatalf("AwaitResult: %v", err)
	}

	accepted, err := q.Deliver(ctx, &kubently.Result{CommandID: id, Success: true, Status: kubently.StatusSuccess})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if accepted {
		t.Fatal("expected delivery after tombstone to be rejected")
	}
}

func TestQueue_DuplicateDeliverIsNoop(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	first, err := q.Deliver(ctx, &kubently.Result{CommandID: id, Success: true, Status: kubently.StatusSuccess})
	if err != nil || !first {
		t.Fatalf("expected first delivery accepted, got (%v, %v)", first, err)
	}
	second, err := q.Deliver(ctx, &kubently.Result{CommandID: id, Success: false, Status: kubently.StatusFailed})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if second {
		t.Fatal("expected duplicate delivery to be a no-op")
	}

	res, err := q.AwaitResult(ctx, id, time.Second)
	if err != nil || !res.Success {
		t.Fatalf("expected the first (successful) result to win, got (%+v, %v)", res, err)
	}
}

func TestQueue_CommandClusterSurvivesPop(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"pods"}})

	owner, ok, err := q.CommandCluster(ctx, id)
	if err != nil || !ok || owner != "kind" {
		t.Fatalf("expected owner kind before pop, got (%s, %v, %v)", owner, ok, err)
	}

	if _, err := q.PopNext(ctx, "kind", time.Second); err != nil {
		t.Fatalf("PopNext: %v", err)
	}

	// The record must still resolve after the command has left the pending
	// list, since a Result can legitimately arrive after it was popped.
	owner, ok, err = q.CommandCluster(ctx, id)
	if err != nil || !ok || owner != "kind" {
		t.Fatalf("expected owner kind after pop, got (%s, %v, %v)", owner, ok, err)
	}

	if _, ok, err := q.CommandCluster(ctx, "never-enqueued"); err != nil || ok {
		t.Fatalf("expected no owner for an unknown command, got (ok=%v, err=%v)", ok, err)
	}
}

func TestQueue_Depth(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()
	_, _ = q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"a"}})
	_, _ = q.Enqueue(ctx, &kubently.Command{ClusterID: "kind", CommandType: "get", Args: []string{"b"}})

	depth, err := q.Depth(ctx, "kind")
	if err != nil || depth != 2 {
		t.Fatalf("expected depth 2, got (%d, %v)", depth, err)
	}
}
