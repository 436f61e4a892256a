package hass

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neotalk/edge-ai/internal/devices"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
	"github.com/neotalk/edge-ai/pkg/models"
)

const eventBuffer = 256

// DeviceResolver looks up registered devices.
type DeviceResolver interface {
	Device(id string) (*models.Device, bool)
	ListDevices() []*models.Device
}

// Config configures the Home Assistant adapter.
type Config struct {
	BaseURL string
	Token   string
	Backoff devices.BackoffConfig
}

// Adapter is the Home Assistant protocol runtime. It follows state changes
// over the WebSocket API and dispatches commands as REST service calls.
type Adapter struct {
	cfg      Config
	client   *Client
	resolver DeviceResolver
	logger   *slog.Logger

	mu       sync.RWMutex
	state    devices.ConnState
	mappings map[string]*mapping.HassMapping // by device type
	entities map[string]entityBinding        // by entity id

	events chan devices.DeviceEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type entityBinding struct {
	deviceID string
	metric   string
	mapping  *mapping.HassMapping
}

var _ devices.FullAdapter = (*Adapter)(nil)

// Option configures the adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates a Home Assistant adapter.
func New(cfg Config, resolver DeviceResolver, opts ...Option) (*Adapter, error) {
	client, err := NewClient(ClientConfig{BaseURL: cfg.BaseURL, Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = devices.DefaultBackoff()
	}
	a := &Adapter{
		cfg:      cfg,
		client:   client,
		resolver: resolver,
		logger:   slog.Default().With("component", "hass"),
		state:    devices.StateDisconnected,
		mappings: make(map[string]*mapping.HassMapping),
		entities: make(map[string]entityBinding),
		events:   make(chan devices.DeviceEvent, eventBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Protocol implements devices.Adapter.
func (a *Adapter) Protocol() string { return "hass" }

// State implements devices.Adapter.
func (a *Adapter) State() devices.ConnState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Adapter) setState(s devices.ConnState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Events implements devices.EventAdapter.
func (a *Adapter) Events() <-chan devices.DeviceEvent { return a.events }

// RegisterMapping binds a device type to its HASS mapping.
func (a *Adapter) RegisterMapping(m *mapping.HassMapping) {
	a.mu.Lock()
	a.mappings[m.DeviceType()] = m
	a.mu.Unlock()
}

// wsURL derives the WebSocket endpoint from the REST base URL.
func (a *Adapter) wsURL() string {
	u := strings.TrimRight(a.cfg.BaseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/api/websocket"
}

// Start implements devices.LifecycleAdapter. The WebSocket loop reconnects
// with backoff; transport failures never tear the adapter down.
func (a *Adapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.buildEntityIndex()
	a.setState(devices.StateConnecting)

	a.wg.Add(1)
	go a.runLoop(runCtx)
	return nil
}

// Stop implements devices.LifecycleAdapter.
func (a *Adapter) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.setState(devices.StateDisconnected)
	return nil
}

func (a *Adapter) buildEntityIndex() {
	if a.resolver == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entities = make(map[string]entityBinding)
	for _, dev := range a.resolver.ListDevices() {
		if dev.Connection != "hass" {
			continue
		}
		m, ok := a.mappings[dev.Type]
		if !ok {
			continue
		}
		for _, metric := range m.MappedCapabilities() {
			addr, ok := m.MetricAddress(metric)
			if !ok {
				continue
			}
			a.entities[addr.EntityID] = entityBinding{deviceID: dev.ID, metric: metric, mapping: m}
		}
	}
}

func (a *Adapter) runLoop(ctx context.Context) {
	defer a.wg.Done()
	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := a.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if a.State() == devices.StateError {
			a.logger.Error("websocket authentication rejected, not reconnecting", "error", err)
			return
		}
		a.setState(devices.StateReconnecting)
		a.logger.Warn("websocket session ended, reconnecting", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Backoff.Delay(attempt)):
		}
	}
}

// runOnce dials, authenticates, subscribes to state_changed, and pumps
// events until the connection drops.
func (a *Adapter) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.wsURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// auth_required -> auth -> auth_ok
	var hello struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		return err
	}
	if hello.Type == "auth_required" {
		if err := conn.WriteJSON(map[string]string{"type": "auth", "access_token": a.cfg.Token}); err != nil {
			return err
		}
		var authResp struct {
			Type string `json:"type"`
		}
		if err := conn.ReadJSON(&authResp); err != nil {
			return err
		}
		if authResp.Type != "auth_ok" {
			a.setState(devices.StateError)
			return fmt.Errorf("hass: authentication rejected (%s)", authResp.Type)
		}
	}

	if err := conn.WriteJSON(map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}); err != nil {
		return err
	}
	a.setState(devices.StateConnected)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame wsFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Type != "event" || frame.Event == nil {
			continue
		}
		a.handleStateChange(frame.Event)
	}
}

type wsFrame struct {
	Type  string   `json:"type"`
	Event *wsEvent `json:"event"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Data      struct {
		EntityID string          `json:"entity_id"`
		NewState json.RawMessage `json:"new_state"`
	} `json:"data"`
}

func (a *Adapter) handleStateChange(ev *wsEvent) {
	if ev.EventType != "state_changed" || len(ev.Data.NewState) == 0 {
		return
	}
	a.mu.RLock()
	binding, ok := a.entities[ev.Data.EntityID]
	a.mu.RUnlock()
	if !ok {
		return
	}

	value, err := binding.mapping.ParseMetric(binding.metric, ev.Data.NewState)
	if err != nil {
		a.logger.Warn("state parse failed", "entity", ev.Data.EntityID, "error", err)
		return
	}
	select {
	case a.events <- devices.DeviceEvent{
		Type:      devices.DeviceEventMetric,
		DeviceID:  binding.deviceID,
		Metric:    binding.metric,
		Value:     value,
		Timestamp: time.Now(),
	}:
	default:
		a.logger.Warn("event buffer full, dropping", "entity", ev.Data.EntityID)
	}
}

// SendCommand implements devices.CommandAdapter. Commands become REST
// service calls; the service target comes from the device's mapping.
func (a *Adapter) SendCommand(ctx context.Context, deviceID, command string, params map[string]mapping.MetricValue, topicOverride string) error {
	dev, ok := a.resolver.Device(deviceID)
	if !ok {
		return fmt.Errorf("hass: unknown device %q", deviceID)
	}
	a.mu.RLock()
	m, ok := a.mappings[dev.Type]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("hass: no mapping for device type %q", dev.Type)
	}

	body, err := m.SerializeCommand(command, params)
	if err != nil {
		return err
	}

	var domain, service string
	if topicOverride != "" {
		domain, service, err = splitService(topicOverride)
	} else {
		addr, ok := m.CommandAddress(command)
		if !ok {
			return fmt.Errorf("hass: no service for command %q", command)
		}
		domain, service, err = splitService(strings.TrimPrefix(addr.EntityID, "service:"))
	}
	if err != nil {
		return err
	}

	_, err = a.client.CallService(ctx, domain, service, body)
	return err
}

func splitService(s string) (string, string, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("hass: invalid service %q", s)
	}
	return parts[0], parts[1], nil
}
