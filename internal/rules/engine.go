package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStatus is the lifecycle state of a rule.
type RuleStatus string

const (
	StatusActive    RuleStatus = "active"
	StatusPaused    RuleStatus = "paused"
	StatusTriggered RuleStatus = "triggered"
	StatusDisabled  RuleStatus = "disabled"
)

// RuleState is the mutable evaluation state of a compiled rule.
// ConditionTrueSince is set exactly when the last evaluation was true and
// the rule has a FOR duration; it is cleared on a falling edge.
type RuleState struct {
	TriggerCount       int
	LastTriggered      time.Time
	LastEvaluation     bool
	ConditionTrueSince *time.Time
}

// CompiledRule is a parsed, executable rule.
type CompiledRule struct {
	ID          string
	Name        string
	Condition   Condition
	ForDuration time.Duration
	Actions     []Action
	Status      RuleStatus
	State       RuleState
}

// FromParsed compiles a parsed rule with a fresh UUID.
func FromParsed(parsed *ParsedRule) *CompiledRule {
	return &CompiledRule{
		ID:          uuid.NewString(),
		Name:        parsed.Name,
		Condition:   parsed.Condition,
		ForDuration: parsed.ForDuration,
		Actions:     parsed.Actions,
		Status:      StatusActive,
	}
}

// Render produces the canonical DSL text. Parsing the result yields an
// equivalent rule.
func (r *CompiledRule) Render() string {
	var b []byte
	b = fmt.Appendf(b, "RULE %q\nWHEN %s\n", r.Name, r.Condition.Render())
	if r.ForDuration > 0 {
		b = fmt.Appendf(b, "FOR %d seconds\n", int(r.ForDuration/time.Second))
	}
	b = append(b, "DO\n"...)
	for _, action := range r.Actions {
		b = fmt.Appendf(b, "  %s\n", action.Render())
	}
	b = append(b, "END\n"...)
	return string(b)
}

// ShouldTrigger reports whether the rule fires at the given instant. With a
// FOR duration, it fires only once the condition has held continuously for
// the whole window.
func (r *CompiledRule) ShouldTrigger(vp ValueProvider, now time.Time) bool {
	met := r.Condition.Evaluate(vp)
	if r.ForDuration <= 0 {
		return met
	}
	if !met || r.State.ConditionTrueSince == nil {
		return false
	}
	return now.Sub(*r.State.ConditionTrueSince) >= r.ForDuration
}

// UpdateState tracks the rising and falling edge of the condition.
func (r *CompiledRule) UpdateState(vp ValueProvider, now time.Time) {
	met := r.Condition.Evaluate(vp)
	if met {
		if r.State.ConditionTrueSince == nil && r.ForDuration > 0 {
			t := now
			r.State.ConditionTrueSince = &t
		}
	} else {
		r.State.ConditionTrueSince = nil
	}
	r.State.LastEvaluation = met
}

// ActionExecutor runs a single rule action. Implementations dispatch to the
// device service, alert manager, workflow tracker, and HTTP client.
type ActionExecutor interface {
	ExecuteAction(ctx context.Context, rule *CompiledRule, action Action) error
}

// ActionExecutorFunc adapts a function to an ActionExecutor.
type ActionExecutorFunc func(ctx context.Context, rule *CompiledRule, action Action) error

// ExecuteAction implements ActionExecutor.
func (f ActionExecutorFunc) ExecuteAction(ctx context.Context, rule *CompiledRule, action Action) error {
	return f(ctx, rule, action)
}

// ExecutionResult records one rule run.
type ExecutionResult struct {
	RuleID          string
	RuleName        string
	Success         bool
	ActionsExecuted []string
	Error           string
	DurationMs      int64
	Timestamp       time.Time
}

// DefaultMaxHistory bounds the execution history ring.
const DefaultMaxHistory = 1000

// Engine stores compiled rules, evaluates them against a value provider,
// and executes triggered actions.
type Engine struct {
	mu       sync.RWMutex
	rules    map[string]*CompiledRule
	history  []ExecutionResult
	deps     *DependencyManager
	provider ValueProvider
	executor ActionExecutor
	logger   *slog.Logger
	now      func() time.Time

	maxHistory int
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMaxHistory overrides the execution history bound.
func WithMaxHistory(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxHistory = n
		}
	}
}

// WithActionExecutor sets the action dispatch target.
func WithActionExecutor(executor ActionExecutor) EngineOption {
	return func(e *Engine) {
		if executor != nil {
			e.executor = executor
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates a rule engine reading values from the provider.
func NewEngine(provider ValueProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:      make(map[string]*CompiledRule),
		deps:       NewDependencyManager(),
		provider:   provider,
		logger:     slog.Default().With("component", "rules"),
		now:        time.Now,
		maxHistory: DefaultMaxHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddRule registers a compiled rule.
func (e *Engine) AddRule(rule *CompiledRule) error {
	if rule.ID == "" {
		return parseErr("rule id required")
	}
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()
	e.deps.AddNode(rule.ID)
	return nil
}

// AddRuleFromDSL parses and registers a rule, returning its id.
func (e *Engine) AddRuleFromDSL(dsl string) (string, error) {
	parsed, err := Parse(dsl)
	if err != nil {
		return "", err
	}
	rule := FromParsed(parsed)
	if err := e.AddRule(rule); err != nil {
		return "", err
	}
	return rule.ID, nil
}

// RemoveRule deletes a rule and its dependency edges.
func (e *Engine) RemoveRule(id string) bool {
	e.mu.Lock()
	_, ok := e.rules[id]
	delete(e.rules, id)
	e.mu.Unlock()
	if ok {
		e.deps.RemoveNode(id)
	}
	return ok
}

// Rule returns a snapshot of the rule.
func (e *Engine) Rule(id string) (*CompiledRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rules[id]
	if !ok {
		return nil, false
	}
	copied := *rule
	return &copied, true
}

// ListRules returns snapshots of all rules.
func (e *Engine) ListRules() []*CompiledRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*CompiledRule, 0, len(e.rules))
	for _, rule := range e.rules {
		copied := *rule
		out = append(out, &copied)
	}
	return out
}

// SetStatus pauses, resumes, or disables a rule without touching history.
func (e *Engine) SetStatus(id string, status RuleStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule, ok := e.rules[id]
	if !ok {
		return false
	}
	rule.Status = status
	return true
}

// UpdateStates advances edge tracking for all active rules.
func (e *Engine) UpdateStates() {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range e.rules {
		if rule.Status != StatusActive {
			continue
		}
		rule.UpdateState(e.provider, now)
	}
}

// EvaluateRules returns the ids of active rules that should fire now.
func (e *Engine) EvaluateRules() []string {
	now := e.now()
	var triggered []string
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, rule := range e.rules {
		if rule.Status != StatusActive {
			continue
		}
		if rule.ShouldTrigger(e.provider, now) {
			triggered = append(triggered, id)
		}
	}
	return triggered
}

// ExecuteTriggered updates states, evaluates, and runs every triggered
// rule. One rule's failure does not stop the others.
func (e *Engine) ExecuteTriggered(ctx context.Context) []ExecutionResult {
	e.UpdateStates()
	var results []ExecutionResult
	for _, id := range e.EvaluateRules() {
		results = append(results, e.ExecuteRule(ctx, id))
	}
	return results
}

// ExecuteRule runs a rule's actions sequentially. The first failing action
// short-circuits the remainder. The run is appended to the history ring.
func (e *Engine) ExecuteRule(ctx context.Context, id string) ExecutionResult {
	start := e.now()

	e.mu.RLock()
	rule, ok := e.rules[id]
	var snapshot CompiledRule
	if ok {
		snapshot = *rule
	}
	e.mu.RUnlock()

	if !ok {
		return ExecutionResult{RuleID: id, RuleName: "Unknown", Error: "rule not found", Timestamp: start}
	}

	var executed []string
	var errText string
	for _, action := range snapshot.Actions {
		if e.executor == nil {
			executed = append(executed, string(action.Type))
			continue
		}
		if err := e.executor.ExecuteAction(ctx, &snapshot, action); err != nil {
			errText = err.Error()
			break
		}
		executed = append(executed, string(action.Type))
	}

	now := e.now()
	e.mu.Lock()
	if rule, ok := e.rules[id]; ok {
		rule.State.TriggerCount++
		rule.State.LastTriggered = now
		// Restart the FOR window so a continuously-true condition fires at
		// most once per window.
		if rule.ForDuration > 0 && rule.State.ConditionTrueSince != nil {
			t := now
			rule.State.ConditionTrueSince = &t
		}
	}
	result := ExecutionResult{
		RuleID:          id,
		RuleName:        snapshot.Name,
		Success:         errText == "",
		ActionsExecuted: executed,
		Error:           errText,
		DurationMs:      now.Sub(start).Milliseconds(),
		Timestamp:       start,
	}
	e.history = append(e.history, result)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	e.mu.Unlock()

	return result
}

// History returns a snapshot of recent execution results.
func (e *Engine) History() []ExecutionResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ExecutionResult(nil), e.history...)
}

// AddDependency declares that dependent runs after dependency.
func (e *Engine) AddDependency(dependent, dependency string) error {
	e.mu.RLock()
	_, okDep := e.rules[dependent]
	_, okOn := e.rules[dependency]
	e.mu.RUnlock()
	if !okDep || !okOn {
		return parseErr("dependency references unknown rule")
	}
	return e.deps.AddEdge(dependent, dependency)
}

// ValidateDependencies topologically sorts the dependency DAG, reporting
// cycles and returning the execution order.
func (e *Engine) ValidateDependencies() ([]string, error) {
	return e.deps.TopologicalOrder()
}

// ReadyRules returns rules whose predecessors are all completed.
func (e *Engine) ReadyRules(completed map[string]bool) []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	return e.deps.Ready(ids, completed)
}
