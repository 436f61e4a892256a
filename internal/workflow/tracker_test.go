package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/pkg/models"
)

func TestLifecycle(t *testing.T) {
	tracker := New(4)
	id, err := tracker.StartExecution(context.Background(), "wf-1", 3)
	if err != nil {
		t.Fatal(err)
	}

	tracker.UpdateStep(id, "step-1")
	tracker.RecordStepResult(id, "step-1", models.StepResult{Status: models.StepCompleted, Output: "ok"})
	tracker.Log(id, "info", "step one done")

	state, ok := tracker.Get(id)
	if !ok {
		t.Fatal("execution missing")
	}
	if state.Status != models.ExecutionRunning || state.CurrentStep != "step-1" {
		t.Errorf("state = %+v", state)
	}
	if len(tracker.ListRunning()) != 1 {
		t.Error("running list should have one entry")
	}

	if !tracker.CompleteExecution(id) {
		t.Fatal("complete failed")
	}
	state, _ = tracker.Get(id)
	if state.Status != models.ExecutionCompleted {
		t.Errorf("status = %v", state.Status)
	}
	if state.CompletedAt.IsZero() || state.CompletedAt.Before(state.StartedAt) {
		t.Errorf("completed_at invariant violated: %+v", state)
	}
	if len(tracker.ListRunning()) != 0 {
		t.Error("running list should be empty")
	}
}

func TestHistoryInvariant(t *testing.T) {
	tracker := New(4)
	ctx := context.Background()

	for i, outcome := range []string{"complete", "fail", "cancel"} {
		id, err := tracker.StartExecution(ctx, "wf", i)
		if err != nil {
			t.Fatal(err)
		}
		switch outcome {
		case "complete":
			tracker.CompleteExecution(id)
		case "fail":
			tracker.FailExecution(id, "boom")
		case "cancel":
			tracker.CancelExecution(id)
		}
	}

	for _, state := range tracker.ListHistory(0) {
		if state.Status == models.ExecutionRunning {
			t.Errorf("running state in history: %+v", state)
		}
		if state.CompletedAt.Before(state.StartedAt) {
			t.Errorf("completed_at < started_at: %+v", state)
		}
	}
}

func TestConcurrencyCapBlocks(t *testing.T) {
	tracker := New(1)
	ctx := context.Background()

	first, err := tracker.StartExecution(ctx, "wf", 1)
	if err != nil {
		t.Fatal(err)
	}

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := tracker.StartExecution(blocked, "wf", 1); err == nil {
		t.Fatal("second start should block until a slot frees")
	}

	tracker.CompleteExecution(first)
	quick, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	second, err := tracker.StartExecution(quick, "wf", 1)
	if err != nil {
		t.Fatalf("slot not released on completion: %v", err)
	}
	tracker.CompleteExecution(second)
}

func TestCancelAbortsTask(t *testing.T) {
	tracker := New(2)
	id, err := tracker.StartExecution(context.Background(), "wf", 1)
	if err != nil {
		t.Fatal(err)
	}

	taskCtx, taskCancel := context.WithCancel(context.Background())
	tracker.RegisterHandle(id, taskCancel)

	if !tracker.CancelExecution(id) {
		t.Fatal("cancel failed")
	}
	select {
	case <-taskCtx.Done():
	case <-time.After(time.Second):
		t.Error("attached task was not aborted")
	}
	state, _ := tracker.Get(id)
	if state.Status != models.ExecutionCancelled {
		t.Errorf("status = %v", state.Status)
	}
}

func TestDoubleFinishIsNoop(t *testing.T) {
	tracker := New(1)
	id, err := tracker.StartExecution(context.Background(), "wf", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !tracker.CompleteExecution(id) {
		t.Fatal("first complete failed")
	}
	if tracker.FailExecution(id, "late") {
		t.Error("finishing a terminal execution must be a no-op")
	}
	state, _ := tracker.Get(id)
	if state.Status != models.ExecutionCompleted {
		t.Errorf("status overwritten: %v", state.Status)
	}
}

func TestWorkflowExecutionsAndCleanup(t *testing.T) {
	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker := New(8, WithNow(func() time.Time { return current }))
	ctx := context.Background()

	a, _ := tracker.StartExecution(ctx, "wf-a", 1)
	b, _ := tracker.StartExecution(ctx, "wf-b", 1)
	tracker.CompleteExecution(a)
	current = current.Add(time.Hour)
	tracker.CompleteExecution(b)

	if got := len(tracker.WorkflowExecutions("wf-a")); got != 1 {
		t.Errorf("wf-a executions = %d", got)
	}

	removed := tracker.CleanupHistory(current.Add(-30 * time.Minute))
	if removed != 1 {
		t.Errorf("removed = %d, want only the old one", removed)
	}
	if _, ok := tracker.Get(b); !ok {
		t.Error("recent execution should survive cleanup")
	}
}

func TestListHistoryLimit(t *testing.T) {
	current := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker := New(8, WithNow(func() time.Time { return current }))
	for i := 0; i < 5; i++ {
		id, _ := tracker.StartExecution(context.Background(), "wf", 1)
		current = current.Add(time.Minute)
		tracker.CompleteExecution(id)
	}
	history := tracker.ListHistory(2)
	if len(history) != 2 {
		t.Fatalf("history = %d entries", len(history))
	}
	if !history[0].CompletedAt.After(history[1].CompletedAt) {
		t.Error("history should be newest first")
	}
}
