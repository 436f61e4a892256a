package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// healthTTL bounds how long a connection test result stays fresh.
const healthTTL = 60 * time.Second

// activeKey is the reserved row holding the active instance pointer.
const activeKey = "__active__"

// RuntimeBuilder constructs a live runtime from an instance record.
type RuntimeBuilder func(instance models.LlmBackendInstance) (Runtime, error)

// DefaultRuntimeBuilder dispatches on the backend type.
func DefaultRuntimeBuilder(instance models.LlmBackendInstance) (Runtime, error) {
	switch instance.BackendType {
	case models.BackendOllama:
		return NewOllamaRuntime(instance), nil
	case models.BackendAnthropic:
		return NewAnthropicRuntime(instance), nil
	case models.BackendGoogle:
		return NewGoogleRuntime(instance)
	default:
		// OpenAI, xAI, and custom endpoints speak the same protocol.
		return NewOpenAIRuntime(instance), nil
	}
}

type healthEntry struct {
	ok      bool
	checked time.Time
}

// ConnectionTestResult reports the outcome of a backend probe.
type ConnectionTestResult struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// InstanceManager is the persistent registry of LLM backend instances with
// a lazy runtime cache and a single active-instance pointer.
type InstanceManager struct {
	mu        sync.RWMutex
	store     *store.Store
	instances map[string]models.LlmBackendInstance
	runtimes  map[string]Runtime
	health    map[string]healthEntry
	activeID  string

	builder RuntimeBuilder
	logger  *slog.Logger
	now     func() time.Time
}

// ManagerOption configures the instance manager.
type ManagerOption func(*InstanceManager)

// WithRuntimeBuilder overrides runtime construction (used by tests).
func WithRuntimeBuilder(builder RuntimeBuilder) ManagerOption {
	return func(m *InstanceManager) {
		if builder != nil {
			m.builder = builder
		}
	}
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *InstanceManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerNow overrides the clock for tests.
func WithManagerNow(now func() time.Time) ManagerOption {
	return func(m *InstanceManager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewInstanceManager loads persisted instances from the store.
func NewInstanceManager(st *store.Store, opts ...ManagerOption) *InstanceManager {
	m := &InstanceManager{
		store:     st,
		instances: make(map[string]models.LlmBackendInstance),
		runtimes:  make(map[string]Runtime),
		health:    make(map[string]healthEntry),
		builder:   DefaultRuntimeBuilder,
		logger:    slog.Default().With("component", "llm"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.load()
	return m
}

func (m *InstanceManager) load() {
	if m.store == nil {
		return
	}
	err := m.store.Iter(store.TableLlmBackends, func(key string, value []byte) error {
		if key == activeKey {
			m.activeID = string(value)
			return nil
		}
		var instance models.LlmBackendInstance
		if err := json.Unmarshal(value, &instance); err != nil {
			m.logger.Warn("skipping corrupt backend row", "key", key, "error", err)
			return nil
		}
		m.instances[instance.ID] = instance
		return nil
	})
	if err != nil {
		m.logger.Warn("backend table scan failed", "error", err)
	}
	// A dangling active pointer is cleared rather than trusted.
	if m.activeID != "" {
		if _, ok := m.instances[m.activeID]; !ok {
			m.activeID = ""
		}
	}
}

func validateInstance(instance *models.LlmBackendInstance) error {
	if strings.TrimSpace(instance.DisplayName) == "" {
		return configErr("display name required")
	}
	if instance.Endpoint != "" {
		parsed, err := url.Parse(instance.Endpoint)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return configErr("malformed endpoint %q", instance.Endpoint)
		}
	}
	if instance.BackendType.RequiresAPIKey() && strings.TrimSpace(instance.APIKey) == "" {
		return configErr("backend type %s requires an api key", instance.BackendType)
	}
	if instance.Temperature != nil && (*instance.Temperature < 0 || *instance.Temperature > 2) {
		return configErr("temperature out of range [0, 2]")
	}
	return nil
}

// UpsertInstance validates, persists, and caches an instance. Any cached
// runtime for the id is invalidated so the next lookup sees the new config.
func (m *InstanceManager) UpsertInstance(instance models.LlmBackendInstance) error {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	if err := validateInstance(&instance); err != nil {
		return err
	}
	instance.Capabilities = ProviderCapabilities(instance.BackendType, instance.Model)

	if m.store != nil {
		data, err := json.Marshal(instance)
		if err != nil {
			return configErr("marshal instance: %v", err)
		}
		if err := m.store.Insert(store.TableLlmBackends, instance.ID, data); err != nil {
			return &Error{Kind: ErrConfig, Message: "persist instance", Err: err}
		}
	}

	m.mu.Lock()
	m.instances[instance.ID] = instance
	delete(m.runtimes, instance.ID)
	delete(m.health, instance.ID)
	m.mu.Unlock()
	return nil
}

// RemoveInstance deletes an instance. Removing the active instance is
// refused.
func (m *InstanceManager) RemoveInstance(id string) error {
	m.mu.Lock()
	if m.activeID == id {
		m.mu.Unlock()
		return configErr("cannot remove the active instance %s", id)
	}
	_, ok := m.instances[id]
	delete(m.instances, id)
	delete(m.runtimes, id)
	delete(m.health, id)
	m.mu.Unlock()

	if !ok {
		return notFoundErr(id)
	}
	if m.store != nil {
		return m.store.Remove(store.TableLlmBackends, id)
	}
	return nil
}

// SetActive switches the active instance and clears the whole runtime
// cache so everything referencing "active" resolves the new choice.
// Setting the already-active id is a no-op apart from the cache clear.
func (m *InstanceManager) SetActive(id string) error {
	m.mu.Lock()
	if _, ok := m.instances[id]; !ok {
		m.mu.Unlock()
		return notFoundErr(id)
	}
	alreadyActive := m.activeID == id
	m.activeID = id
	m.runtimes = make(map[string]Runtime)
	m.mu.Unlock()

	if m.store != nil && !alreadyActive {
		if err := m.store.Insert(store.TableLlmBackends, activeKey, []byte(id)); err != nil {
			return &Error{Kind: ErrConfig, Message: "persist active pointer", Err: err}
		}
	}
	return nil
}

// ActiveID returns the active instance id, if any.
func (m *InstanceManager) ActiveID() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeID, m.activeID != ""
}

// ActiveInstance returns the active instance record.
func (m *InstanceManager) ActiveInstance() (models.LlmBackendInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.instances[m.activeID]
	return instance, ok && m.activeID != ""
}

// Instance returns an instance record by id.
func (m *InstanceManager) Instance(id string) (models.LlmBackendInstance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	instance, ok := m.instances[id]
	return instance, ok
}

// ListInstances returns all instance records.
func (m *InstanceManager) ListInstances() []models.LlmBackendInstance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.LlmBackendInstance, 0, len(m.instances))
	for _, instance := range m.instances {
		out = append(out, instance)
	}
	return out
}

// GetRuntime returns the cached runtime for id, building one on miss with
// double-checked locking.
func (m *InstanceManager) GetRuntime(id string) (Runtime, error) {
	m.mu.RLock()
	runtime, ok := m.runtimes[id]
	m.mu.RUnlock()
	if ok {
		return runtime, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if runtime, ok := m.runtimes[id]; ok {
		return runtime, nil
	}
	instance, ok := m.instances[id]
	if !ok {
		return nil, notFoundErr(id)
	}
	runtime, err := m.builder(instance)
	if err != nil {
		return nil, err
	}
	m.runtimes[id] = runtime
	return runtime, nil
}

// GetActiveRuntime returns the runtime for the active instance.
func (m *InstanceManager) GetActiveRuntime() (Runtime, error) {
	m.mu.RLock()
	id := m.activeID
	m.mu.RUnlock()
	if id == "" {
		return nil, configErr("no active backend instance")
	}
	return m.GetRuntime(id)
}

// HasCachedRuntime reports whether a runtime for id is currently cached.
func (m *InstanceManager) HasCachedRuntime(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.runtimes[id]
	return ok
}

// TestConnection issues a minimal generation against the instance and
// records the result in the health cache.
func (m *InstanceManager) TestConnection(ctx context.Context, id string) (ConnectionTestResult, error) {
	runtime, err := m.GetRuntime(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}

	start := m.now()
	_, genErr := runtime.Generate(ctx, &Input{
		Messages: []models.Message{{Role: models.RoleUser, Content: "ping"}},
		Params:   GenerationParams{MaxTokens: Int(1)},
	})
	latency := m.now().Sub(start).Milliseconds()

	result := ConnectionTestResult{OK: genErr == nil, LatencyMs: latency}
	if genErr != nil {
		result.Message = genErr.Error()
	}

	m.mu.Lock()
	m.health[id] = healthEntry{ok: result.OK, checked: m.now()}
	m.mu.Unlock()
	return result, nil
}

// HealthStatus returns the cached health for id while it is fresh.
func (m *InstanceManager) HealthStatus(id string) (bool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.health[id]
	if !ok || m.now().Sub(entry.checked) > healthTTL {
		return false, false
	}
	return entry.ok, true
}
