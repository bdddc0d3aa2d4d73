package executor

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kubently/kubently/pkg/kerrors"
	"github.com/kubently/kubently/pkg/kubently"
	"github.com/kubently/kubently/pkg/resilience"
)

// Config configures the executor agent's connection to the control plane.
type Config struct {
	APIURL    string
	ClusterID string
	Token     string

	// ReconnectInterval is the fixed delay before re-establishing a dropped
	// SSE stream (spec.md §4.9 step 4); the original agent does not back
	// off this interval.
	ReconnectInterval time.Duration

	// PostRetryMax and PostRetryCap bound the result-posting retry (spec.md
	// §4.9 step 3: exponential backoff, capped at 10s, max 3 attempts).
	PostRetryMax int
	PostRetryCap time.Duration

	TLSConfig *tls.Config
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.PostRetryMax <= 0 {
		c.PostRetryMax = 3
	}
	if c.PostRetryCap <= 0 {
		c.PostRetryCap = 10 * time.Second
	}
	return c
}

// Agent is the in-cluster executor: it pulls Commands from C4's SSE stream,
// runs them through a KubectlExecutor, and posts Results to C5. Grounded on
// the teacher's relay.Agent reconnect loop, generalized from a bidirectional
// tunnel to a one-way SSE consumer paired with a result-posting HTTP client.
type Agent struct {
	config   Config
	executor *KubectlExecutor
	logger   *slog.Logger
	client   *http.Client

	workCh chan *kubently.Command
	stopCh chan struct{}
	once   sync.Once
}

// NewAgent builds an Agent. executor runs each received Command; client, if
// nil, is built from config.TLSConfig.
func NewAgent(config Config, executor *KubectlExecutor, logger *slog.Logger, client *http.Client) *Agent {
	config = config.withDefaults()
	if client == nil {
		client = &http.Client{Transport: &http.Transport{TLSClientConfig: config.TLSConfig}}
	}
	return &Agent{
		config:   config,
		executor: executor,
		logger:   logger,
		client:   client,
		workCh:   make(chan *kubently.Command, 32),
		stopCh:   make(chan struct{}),
	}
}

// Stop signals Run to return once its current connection attempt settles.
func (a *Agent) Stop() {
	a.once.Do(func() { close(a.stopCh) })
}

// Run is the agent's main loop: connect, stream, reconnect on failure,
// until ctx is cancelled or Stop is called.
func (a *Agent) Run(ctx context.Context) error {
	go a.processCommands(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		default:
		}

		if err := a.connectAndStream(ctx); err != nil {
			a.logger.Error("executor stream connection failed, reconnecting",
				"error", err, "retry_in", a.config.ReconnectInterval)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(a.config.ReconnectInterval):
		}
	}
}

func (a *Agent) connectAndStream(ctx context.Context) error {
	url := strings.TrimSuffix(a.config.APIURL, "/") + "/executor/stream"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return kerrors.Wrap(kerrors.Internal, "build stream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.config.Token)
	req.Header.Set("X-Cluster-ID", a.config.ClusterID)

	resp, err := a.client.Do(req)
	if err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "connect to executor stream", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return kerrors.New(kerrors.Unavailable, fmt.Sprintf("executor stream rejected connection: %d", resp.StatusCode))
	}
	a.logger.Info("executor stream connected", "cluster_id", a.config.ClusterID)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			a.handleEvent(event, data)
			event, data = "", ""
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		return kerrors.Wrap(kerrors.Unavailable, "read executor stream", err)
	}
	return kerrors.New(kerrors.Unavailable, "executor stream closed by server")
}

func (a *Agent) handleEvent(event, data string) {
	switch event {
	case "connected":
		a.logger.Info("connected to control plane", "data", data)
	case "command":
		var cmd kubently.Command
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			a.logger.Error("failed to parse command event", "error", err)
			return
		}
		select {
		case a.workCh <- &cmd:
		default:
			a.logger.Warn("work channel full, dropping command", "command_id", cmd.CommandID)
		}
	case "keepalive":
		a.logger.Debug("keepalive received")
	}
}

// processCommands is the single-consumer worker draining workCh, matching
// spec.md §4.9 step 1's "single-consumer work channel".
func (a *Agent) processCommands(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case cmd := <-a.workCh:
			res := a.executor.Execute(ctx, cmd)
			if err := a.postResult(ctx, res); err != nil {
				a.logger.Error("failed to submit result after retries", "command_id", cmd.CommandID, "error", err)
			}
		}
	}
}

// postResult POSTs res to C5 with retry on transient network errors
// (spec.md §4.9 step 3), using the teacher's resilience.Retry helper.
func (a *Agent) postResult(ctx context.Context, res *kubently.Result) error {
	cfg := resilience.RetryConfig{
		MaxAttempts:  a.config.PostRetryMax,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     a.config.PostRetryCap,
		Multiplier:   2.0,
		JitterFrac:   0.1,
	}
	return resilience.Retry(ctx, cfg, func(attempt int) error {
		body, err := json.Marshal(res)
		if err != nil {
			return err
		}
		url := strings.TrimSuffix(a.config.APIURL, "/") + "/executor/results"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+a.config.Token)
		req.Header.Set("X-Cluster-ID", a.config.ClusterID)

		resp, err := a.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("result submission rejected: %d", resp.StatusCode)
		}
		return nil
	})
}
