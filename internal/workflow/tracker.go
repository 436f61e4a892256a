// Package workflow tracks runtime state of workflow executions with
// bounded concurrency and cancellation.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/neotalk/edge-ai/pkg/models"
)

// Permit is the concurrency slot that StartExecution acquires and keeps for
// the execution; releasing it frees the slot. Terminal transitions release
// it automatically.
type Permit struct {
	once    sync.Once
	tracker *Tracker
}

func (p *Permit) release() {
	p.once.Do(func() {
		p.tracker.sem.Release(1)
	})
}

// Tracker owns the running and historical execution state.
type Tracker struct {
	mu      sync.RWMutex
	running map[string]*models.ExecutionState
	history map[string]*models.ExecutionState
	permits map[string]*Permit
	cancels map[string]context.CancelFunc

	sem    *semaphore.Weighted
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the tracker.
type Option func(*Tracker)

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New creates a tracker capping concurrent executions at maxConcurrent.
func New(maxConcurrent int, opts ...Option) *Tracker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	t := &Tracker{
		running: make(map[string]*models.ExecutionState),
		history: make(map[string]*models.ExecutionState),
		permits: make(map[string]*Permit),
		cancels: make(map[string]context.CancelFunc),
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		logger:  slog.Default().With("component", "workflow"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartExecution acquires a concurrency permit (waiting if necessary) and
// registers a running state. The returned execution id keys all further
// calls.
func (t *Tracker) StartExecution(ctx context.Context, workflowID string, totalSteps int) (string, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("workflow: acquire execution slot: %w", err)
	}

	id := uuid.NewString()
	state := &models.ExecutionState{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      models.ExecutionRunning,
		StartedAt:   t.now(),
		TotalSteps:  totalSteps,
		StepResults: make(map[string]models.StepResult),
	}
	permit := &Permit{tracker: t}

	t.mu.Lock()
	t.running[id] = state
	t.permits[id] = permit
	t.mu.Unlock()
	return id, nil
}

// RegisterHandle attaches the execution's cancel function so
// CancelExecution can abort the underlying task.
func (t *Tracker) RegisterHandle(execID string, cancel context.CancelFunc) {
	t.mu.Lock()
	if _, ok := t.running[execID]; ok {
		t.cancels[execID] = cancel
	}
	t.mu.Unlock()
}

// UpdateStep sets the execution's current step.
func (t *Tracker) UpdateStep(execID, stepID string) {
	t.mu.Lock()
	if state, ok := t.running[execID]; ok {
		state.CurrentStep = stepID
	}
	t.mu.Unlock()
}

// RecordStepResult stores one step's outcome.
func (t *Tracker) RecordStepResult(execID, stepID string, result models.StepResult) {
	t.mu.Lock()
	if state, ok := t.running[execID]; ok {
		state.StepResults[stepID] = result
	}
	t.mu.Unlock()
}

// Log appends a log line to the execution.
func (t *Tracker) Log(execID, level, message string) {
	t.mu.Lock()
	if state, ok := t.running[execID]; ok {
		state.Logs = append(state.Logs, models.ExecutionLogEntry{
			Timestamp: t.now(),
			Level:     level,
			Message:   message,
		})
	}
	t.mu.Unlock()
}

// finish moves the execution from running to history and releases its
// permit. The abort flag also fires the attached cancel.
func (t *Tracker) finish(execID string, status models.ExecutionStatus, errText string, abort bool) bool {
	t.mu.Lock()
	state, ok := t.running[execID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.running, execID)
	state.Status = status
	state.CompletedAt = t.now()
	state.Error = errText
	t.history[execID] = state

	permit := t.permits[execID]
	delete(t.permits, execID)
	cancel := t.cancels[execID]
	delete(t.cancels, execID)
	t.mu.Unlock()

	if abort && cancel != nil {
		cancel()
	}
	if permit != nil {
		permit.release()
	}
	return true
}

// CompleteExecution marks the execution completed.
func (t *Tracker) CompleteExecution(execID string) bool {
	return t.finish(execID, models.ExecutionCompleted, "", false)
}

// FailExecution marks the execution failed.
func (t *Tracker) FailExecution(execID, errText string) bool {
	return t.finish(execID, models.ExecutionFailed, errText, false)
}

// CancelExecution aborts the attached task and marks the execution
// cancelled.
func (t *Tracker) CancelExecution(execID string) bool {
	return t.finish(execID, models.ExecutionCancelled, "cancelled", true)
}

// Get returns a snapshot of an execution, running or historical.
func (t *Tracker) Get(execID string) (*models.ExecutionState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if state, ok := t.running[execID]; ok {
		return state.Clone(), true
	}
	if state, ok := t.history[execID]; ok {
		return state.Clone(), true
	}
	return nil, false
}

// ListRunning returns snapshots of all running executions.
func (t *Tracker) ListRunning() []*models.ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ExecutionState, 0, len(t.running))
	for _, state := range t.running {
		out = append(out, state.Clone())
	}
	return out
}

// ListHistory returns up to limit terminal executions, newest first.
func (t *Tracker) ListHistory(limit int) []*models.ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*models.ExecutionState, 0, len(t.history))
	for _, state := range t.history {
		out = append(out, state.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CompletedAt.After(out[j].CompletedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WorkflowExecutions returns all executions (running and terminal) for one
// workflow.
func (t *Tracker) WorkflowExecutions(workflowID string) []*models.ExecutionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*models.ExecutionState
	for _, state := range t.running {
		if state.WorkflowID == workflowID {
			out = append(out, state.Clone())
		}
	}
	for _, state := range t.history {
		if state.WorkflowID == workflowID {
			out = append(out, state.Clone())
		}
	}
	return out
}

// CleanupHistory prunes terminal states completed before cutoff, returning
// how many were removed.
func (t *Tracker) CleanupHistory(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, state := range t.history {
		if state.CompletedAt.Before(cutoff) {
			delete(t.history, id)
			removed++
		}
	}
	return removed
}
