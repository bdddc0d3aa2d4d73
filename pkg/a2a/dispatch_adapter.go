package a2a

import (
	"context"
	"time"

	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/queue"
)

// queueDispatcher adapts pkg/queue.Queue to the Dispatcher interface a
// ReasoningClient uses to run commands.
type queueDispatcher struct {
	queue *queue.Queue
}

func NewQueueDispatcher(q *queue.Queue) Dispatcher {
	return &queueDispatcher{queue: q}
}

func (d *queueDispatcher) Execute(ctx context.Context, clusterID, commandType string, args []string, timeout time.Duration) (*kubently.Result, error) {
	cmd := &kubently.Command{
		ClusterID:   clusterID,
		CommandType: commandType,
		Args:        args,
		TimeoutMs:   timeout.Milliseconds(),
		Source:      kubently.SourceA2A,
	}
	commandID, err := d.queue.Enqueue(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return d.queue.AwaitResult(ctx, commandID, timeout)
}
