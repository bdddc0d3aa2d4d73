package executor

import (
	"context"
	"testing"
	"time"

	"github.com/kubently/kubently/pkg/kubently"
)

func TestKubectlExecutor_Success(t *testing.T) {
	e := &KubectlExecutor{Bin: "echo", Timeout: time.Second}
	res := e.Execute(context.Background(), &kubently.Command{CommandID: "c1", CommandType: "hello", Args: []string{"world"}})
	if !res.Success || res.Status != kubently.StatusSuccess {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ReturnCode != 0 {
		t.Fatalf("expected return code 0, got %d", res.ReturnCode)
	}
}

func TestKubectlExecutor_NonZeroExit(t *testing.T) {
	e := &KubectlExecutor{Bin: "false", Timeout: time.Second}
	res := e.Execute(context.Background(), &kubently.Command{CommandID: "c1", CommandType: "", Args: nil})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Status != kubently.StatusError {
		t.Fatalf("expected ERROR status, got %s", res.Status)
	}
}

func TestKubectlExecutor_Timeout(t *testing.T) {
	e := &KubectlExecutor{Bin: "sleep", Timeout: 50 * time.Millisecond}
	res := e.Execute(context.Background(), &kubently.Command{CommandID: "c1", CommandType: "1", Args: nil})
	if res.Status != kubently.StatusTimeout {
		t.Fatalf("expected TIMEOUT status, got %s", res.Status)
	}
}

func TestKubectlExecutor_OutputTruncated(t *testing.T) {
	e := &KubectlExecutor{Bin: "yes", Timeout: 200 * time.Millisecond}
	res := e.Execute(context.Background(), &kubently.Command{CommandID: "c1"})
	if len(res.Stdout) > maxOutputBytes+100 {
		t.Fatalf("expected stdout to be truncated, got %d bytes", len(res.Stdout))
	}
}

func TestNewKubectlExecutor_DefaultsBin(t *testing.T) {
	e := NewKubectlExecutor("")
	if e.Bin != "kubectl" {
		t.Fatalf("expected default bin kubectl, got %s", e.Bin)
	}
}
