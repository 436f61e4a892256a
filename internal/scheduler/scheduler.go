// Package scheduler runs agents on cron, interval, event, and one-shot
// triggers with bounded concurrent execution.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects how a task's next execution is computed.
type ScheduleKind string

const (
	// KindInterval fires every IntervalSeconds.
	KindInterval ScheduleKind = "interval"
	// KindCron fires per a six-field cron expression.
	KindCron ScheduleKind = "cron"
	// KindEvent never fires on the clock; it is triggered externally.
	KindEvent ScheduleKind = "event"
	// KindOnce fires immediately, then disables itself.
	KindOnce ScheduleKind = "once"
)

// cronParser accepts exactly six fields: sec min hour day month weekday.
var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// ValidateCron rejects malformed expressions at schedule time.
func ValidateCron(expression string) error {
	_, err := cronParser.Parse(expression)
	return err
}

// ScheduledTask is one agent's trigger configuration.
type ScheduledTask struct {
	AgentID         string       `json:"agent_id"`
	Kind            ScheduleKind `json:"kind"`
	NextExecution   int64        `json:"next_execution"`
	IntervalSeconds int64        `json:"interval_seconds,omitempty"`
	CronSchedule    string       `json:"cron_schedule,omitempty"`
	Timezone        string       `json:"timezone,omitempty"`
	Enabled         bool         `json:"enabled"`
}

// AgentRunner executes one scheduled agent.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentID string) error
}

// AgentRunnerFunc adapts a function to an AgentRunner.
type AgentRunnerFunc func(ctx context.Context, agentID string) error

// RunAgent implements AgentRunner.
func (f AgentRunnerFunc) RunAgent(ctx context.Context, agentID string) error {
	return f(ctx, agentID)
}

// Config bounds the scheduler.
type Config struct {
	MaxConcurrent   int
	TickInterval    time.Duration
	DefaultTimezone string
}

// DefaultConfig returns the standard scheduler bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 4,
		TickInterval:  time.Second,
	}
}

// Scheduler drives scheduled agents from a single ticker.
type Scheduler struct {
	mu       sync.RWMutex
	tasks    map[string]*ScheduledTask
	inflight map[string]bool
	running  bool

	cfg    Config
	runner AgentRunner
	logger *slog.Logger
	now    func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a scheduler that executes agents through runner.
func New(cfg Config, runner AgentRunner, opts ...Option) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	s := &Scheduler{
		tasks:    make(map[string]*ScheduledTask),
		inflight: make(map[string]bool),
		cfg:      cfg,
		runner:   runner,
		logger:   slog.Default().With("component", "scheduler"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule registers (or replaces) a task. Cron expressions are validated
// here, not at tick time.
func (s *Scheduler) Schedule(task ScheduledTask) error {
	if task.AgentID == "" {
		return fmt.Errorf("scheduler: agent id required")
	}
	switch task.Kind {
	case KindCron:
		if err := ValidateCron(task.CronSchedule); err != nil {
			return fmt.Errorf("scheduler: invalid cron expression %q: %w", task.CronSchedule, err)
		}
	case KindInterval:
		if task.IntervalSeconds <= 0 {
			return fmt.Errorf("scheduler: interval must be positive")
		}
	case KindEvent, KindOnce:
	default:
		return fmt.Errorf("scheduler: unknown schedule kind %q", task.Kind)
	}

	task.NextExecution = s.nextExecution(&task, s.now().Unix())
	s.mu.Lock()
	s.tasks[task.AgentID] = &task
	s.mu.Unlock()
	return nil
}

// Unschedule removes a task.
func (s *Scheduler) Unschedule(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[agentID]
	delete(s.tasks, agentID)
	return ok
}

// Tasks returns a snapshot of all tasks.
func (s *Scheduler) Tasks() []ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	return out
}

// nextExecution computes the next firing per the schedule kind. Used both
// at schedule time and immediately after a task starts.
func (s *Scheduler) nextExecution(task *ScheduledTask, now int64) int64 {
	switch task.Kind {
	case KindInterval:
		return now + task.IntervalSeconds
	case KindCron:
		schedule, err := cronParser.Parse(task.CronSchedule)
		if err != nil {
			// Validated at schedule time; a failure here means the task
			// was mutated underneath us.
			return now + 60
		}
		loc := s.location(task.Timezone)
		next := schedule.Next(time.Unix(now, 0).In(loc)).Unix()
		if next <= now {
			return now + 60
		}
		return next
	case KindEvent:
		return math.MaxInt64
	case KindOnce:
		return now
	}
	return math.MaxInt64
}

// location resolves task timezone, then the scheduler default, then UTC.
func (s *Scheduler) location(timezone string) *time.Location {
	for _, name := range []string{timezone, s.cfg.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

// Start launches the ticker loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Tick runs one scheduling pass: every enabled, due task either starts or
// is skipped when the concurrency cap is reached.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().Unix()

	s.mu.Lock()
	var due []*ScheduledTask
	for _, task := range s.tasks {
		if task.Enabled && task.NextExecution <= now {
			due = append(due, task)
		}
	}

	for _, task := range due {
		if len(s.inflight) >= s.cfg.MaxConcurrent {
			// Capacity reached: the task keeps its due time and is
			// reconsidered next tick.
			continue
		}
		if s.inflight[task.AgentID] {
			continue
		}
		s.inflight[task.AgentID] = true

		// Advance immediately with the same rule as initial scheduling.
		task.NextExecution = s.nextExecution(task, now)
		if task.Kind == KindOnce {
			task.Enabled = false
		}

		agentID := task.AgentID
		s.wg.Add(1)
		go s.execute(ctx, agentID)
	}
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, agentID string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, agentID)
		s.mu.Unlock()
	}()

	start := s.now()
	err := s.runner.RunAgent(ctx, agentID)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Warn("scheduled agent failed", "agent", agentID, "elapsed", elapsed, "error", err)
		return
	}
	s.logger.Info("scheduled agent completed", "agent", agentID, "elapsed", elapsed)
}

// TriggerEvent fires an event-kind task immediately, honoring the
// concurrency cap.
func (s *Scheduler) TriggerEvent(ctx context.Context, agentID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[agentID]
	if !ok || !task.Enabled || task.Kind != KindEvent ||
		s.inflight[agentID] || len(s.inflight) >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return false
	}
	s.inflight[agentID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, agentID)
	return true
}

// InflightCount returns the number of currently running executions.
func (s *Scheduler) InflightCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.inflight)
}

// Stop halts ticking and waits up to 15 seconds for in-flight executions
// to drain. Executions are not cancelled mid-flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	for i := 0; i < 30; i++ {
		if s.InflightCount() == 0 {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
