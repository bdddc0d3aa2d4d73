package a2a

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kubently/kubently/pkg/kubently"
)

// Dispatcher is the tool-calling surface a ReasoningClient uses to run a
// read-only inspection command against a cluster and wait for its Result.
// Implemented by pkg/queue.Queue via the adapter below.
type Dispatcher interface {
	Execute(ctx context.Context, clusterID, commandType string, args []string, timeout time.Duration) (*kubently.Result, error)
}

// ReasoningClient is the external reasoning layer (LLM planner/judge)
// collaborator named in spec.md §1 — this module only depends on this small
// interface, never implements the reasoning itself.
type ReasoningClient interface {
	// Respond handles one conversational turn. emit is called with each
	// StreamEvent as it is produced (thinking/tool-call/tool-response) and
	// must be called in production order; Respond returns the final
	// assistant-visible text after emitting the terminal status-update.
	Respond(ctx context.Context, clusterID, userText string, dispatch Dispatcher, emit func(kubently.StreamEvent)) (string, error)
}

// StubReasoner is a deterministic, keyword-based stand-in for the external
// reasoning layer, grounded on the original source's mock_agent.py
// (MockKubentlyAgent._process_query's keyword-to-kubectl mapping). It exists
// for tests and local development where no real LLM planner is wired in.
type StubReasoner struct{}

func (StubReasoner) Respond(ctx context.Context, clusterID, userText string, dispatch Dispatcher, emit func(kubently.StreamEvent)) (string, error) {
	commandType, args, ok := classify(userText)
	if !ok {
		text := fmt.Sprintf("I understand you want to know about %q, but I can only run get/describe/logs/events/top against the cluster in this mode.", userText)
		return text, nil
	}

	emit(kubently.StreamEvent{Kind: kubently.EventThinking, Content: "running " + strings.Join(args, " ")})
	emit(kubently.StreamEvent{Kind: kubently.EventToolCall, Tool: commandType, Parameters: map[string]any{"args": args}})

	res, err := dispatch.Execute(ctx, clusterID, commandType, args, 30*time.Second)
	if err != nil {
		return "", err
	}

	content := res.Stdout
	if !res.Success {
		content = res.Stderr
		if content == "" {
			content = fmt.Sprintf("command failed with status %s", res.Status)
		}
	}
	emit(kubently.StreamEvent{Kind: kubently.EventToolResponse, Content: content})

	if !res.Success {
		return fmt.Sprintf("The command failed: %s", content), nil
	}
	return fmt.Sprintf("Here's the output of `%s`:\n\n%s", strings.Join(args, " "), content), nil
}

// classify maps a free-form query to a (command_type, args) pair using the
// same keyword heuristic as the original mock agent, restricted to the
// read-only verbs C6 allows.
func classify(query string) (commandType string, args []string, ok bool) {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "pod") && strings.Contains(q, "all namespace"):
		return "get", []string{"get", "pods", "--all-namespaces"}, true
	case strings.Contains(q, "pod"):
		return "get", []string{"get", "pods"}, true
	case strings.Contains(q, "log"):
		return "logs", []string{"logs", "--tail=50"}, true
	case strings.Contains(q, "describe"):
		return "describe", []string{"describe", "pod"}, true
	case strings.Contains(q, "event"):
		return "events", []string{"get", "events"}, true
	case strings.Contains(q, "service"):
		return "get", []string{"get", "services"}, true
	case strings.Contains(q, "deployment"):
		return "get", []string{"get", "deployments"}, true
	case strings.Contains(q, "top") || strings.Contains(q, "usage"):
		return "top", []string{"top", "pods"}, true
	default:
		return "", nil, false
	}
}
