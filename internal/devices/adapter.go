// Package devices hosts the adapter framework that bridges protocol
// runtimes to the uniform device model.
package devices

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/neotalk/edge-ai/internal/devices/mapping"
)

// ConnState is the adapter connection state machine.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateError        ConnState = "error"
)

// DeviceEventType classifies adapter events.
type DeviceEventType string

const (
	DeviceEventMetric    DeviceEventType = "metric"
	DeviceEventState     DeviceEventType = "state"
	DeviceEventDiscovery DeviceEventType = "discovery"
)

// DeviceEvent is emitted by adapters on ingress.
type DeviceEvent struct {
	Type      DeviceEventType
	DeviceID  string
	Metric    string
	Value     mapping.MetricValue
	State     ConnState
	Proposed  []string // proposed capability names for discovery events
	Timestamp time.Time
}

// Adapter is the minimal contract for a protocol runtime.
type Adapter interface {
	// Protocol returns the protocol tag (mqtt, hass, ...).
	Protocol() string
	// State returns the current connection state.
	State() ConnState
}

// LifecycleAdapter represents adapters that can start and stop.
type LifecycleAdapter interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CommandAdapter represents adapters that can dispatch downlink commands.
type CommandAdapter interface {
	// SendCommand resolves the destination from the device's mapping, or
	// uses topicOverride when non-empty, and transmits the payload.
	SendCommand(ctx context.Context, deviceID, command string, params map[string]mapping.MetricValue, topicOverride string) error
}

// EventAdapter represents adapters that emit device events.
type EventAdapter interface {
	Events() <-chan DeviceEvent
}

// FullAdapter aggregates all adapter capabilities.
type FullAdapter interface {
	Adapter
	LifecycleAdapter
	CommandAdapter
	EventAdapter
}

// BackoffConfig controls reconnect pacing.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// JitterFraction is the +/- fraction applied to each delay.
	JitterFraction float64
}

// DefaultBackoff returns the standard reconnect pacing: 1s doubling to 60s
// with 20% jitter.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		Initial:        time.Second,
		Max:            60 * time.Second,
		Factor:         2,
		JitterFraction: 0.2,
	}
}

// Delay returns the backoff delay for the given attempt (1-based).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.Initial)
	for i := 1; i < attempt; i++ {
		d *= c.Factor
		if d >= float64(c.Max) {
			d = float64(c.Max)
			break
		}
	}
	if c.JitterFraction > 0 {
		spread := d * c.JitterFraction
		d = d - spread + rand.Float64()*2*spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// connTracker is the shared connection-state holder embedded by adapters.
type connTracker struct {
	mu    sync.RWMutex
	state ConnState
}

func newConnTracker() connTracker {
	return connTracker{state: StateDisconnected}
}

func (t *connTracker) State() ConnState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *connTracker) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}
