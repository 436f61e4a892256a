package models

import "time"

// ExecutionStatus tracks a workflow or agent execution lifecycle.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionRunning
}

// StepStatus tracks one step inside an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of a single workflow step.
type StepResult struct {
	Status     StepStatus `json:"status"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
}

// ExecutionLogEntry is one log line attached to an execution.
type ExecutionLogEntry struct {
	Timestamp time.Time `json:"ts"`
	Level     string    `json:"level"`
	Message   string    `json:"msg"`
}

// ExecutionState is the runtime state of one workflow execution.
// Invariant: CompletedAt is non-zero exactly when Status is terminal.
type ExecutionState struct {
	ID          string                `json:"id"`
	ParentID    string                `json:"parent_id,omitempty"`
	WorkflowID  string                `json:"workflow_id"`
	Status      ExecutionStatus       `json:"status"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at,omitempty"`
	CurrentStep string                `json:"current_step,omitempty"`
	TotalSteps  int                   `json:"total_steps,omitempty"`
	StepResults map[string]StepResult `json:"step_results,omitempty"`
	Logs        []ExecutionLogEntry   `json:"logs,omitempty"`
	Error       string                `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand out as a snapshot.
func (s *ExecutionState) Clone() *ExecutionState {
	out := *s
	if s.StepResults != nil {
		out.StepResults = make(map[string]StepResult, len(s.StepResults))
		for k, v := range s.StepResults {
			out.StepResults[k] = v
		}
	}
	if s.Logs != nil {
		out.Logs = append([]ExecutionLogEntry(nil), s.Logs...)
	}
	return &out
}
