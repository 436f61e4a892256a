// Package mqtt implements the MQTT device adapter.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/neotalk/edge-ai/internal/devices"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
	"github.com/neotalk/edge-ai/pkg/models"
)

const eventBuffer = 256

// DeviceResolver looks up registered devices. The device service satisfies
// this interface.
type DeviceResolver interface {
	Device(id string) (*models.Device, bool)
	ListDevices() []*models.Device
}

// Config configures the MQTT adapter.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// Discovery enables events for messages on unmapped topics.
	Discovery bool
	Backoff   devices.BackoffConfig
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
}

type subscription struct {
	deviceID string
	metric   string
	mapping  *mapping.MQTTMapping
}

// Adapter is the MQTT protocol runtime. It subscribes to every mapped
// metric topic, parses payloads through the device-type mapping, and
// publishes downlink commands.
type Adapter struct {
	cfg      Config
	resolver DeviceResolver
	logger   *slog.Logger

	mu       sync.RWMutex
	state    devices.ConnState
	mappings map[string]*mapping.MQTTMapping // by device type
	subs     map[string]subscription         // by rendered topic

	client pahomqtt.Client
	events chan devices.DeviceEvent
	cancel context.CancelFunc
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

// New creates an MQTT adapter.
func New(cfg Config, resolver DeviceResolver, opts ...Option) *Adapter {
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = devices.DefaultBackoff()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "edge-ai"
	}
	a := &Adapter{
		cfg:      cfg,
		resolver: resolver,
		logger:   slog.Default().With("component", "mqtt"),
		state:    devices.StateDisconnected,
		mappings: make(map[string]*mapping.MQTTMapping),
		subs:     make(map[string]subscription),
		events:   make(chan devices.DeviceEvent, eventBuffer),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Protocol implements devices.Adapter.
func (a *Adapter) Protocol() string { return "mqtt" }

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

// RegisterMapping binds a device type to its MQTT mapping.
func (a *Adapter) RegisterMapping(m *mapping.MQTTMapping) {
	a.mu.Lock()
	a.mappings[m.DeviceType()] = m
	a.mu.Unlock()
}

// Start implements devices.LifecycleAdapter. A malformed broker URL is a
// terminal configuration error that leaves the adapter in Error state.
func (a *Adapter) Start(ctx context.Context) error {
	parsed, err := url.Parse(a.cfg.BrokerURL)
	if err != nil || parsed.Host == "" {
		a.setState(devices.StateError)
		return fmt.Errorf("mqtt: invalid broker url %q", a.cfg.BrokerURL)
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.setState(devices.StateConnecting)

	opts := pahomqtt.NewClientOptions().
		AddBroker(a.cfg.BrokerURL).
		SetClientID(a.cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(a.cfg.ConnectTimeout)
	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
		opts.SetPassword(a.cfg.Password)
	}
	opts.SetDefaultPublishHandler(a.handleMessage)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		a.logger.Warn("connection lost", "error", err)
		a.setState(devices.StateReconnecting)
		go a.reconnectLoop(runCtx)
	})
	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		a.setState(devices.StateConnected)
		a.subscribeAll(client)
	})

	a.client = pahomqtt.NewClient(opts)
	a.buildSubscriptions()

	if token := a.client.Connect(); token.WaitTimeout(a.cfg.ConnectTimeout) && token.Error() == nil {
		return nil
	} else if token.Error() != nil {
		// Transport failure at startup: keep retrying in the background.
		a.logger.Warn("initial connect failed, retrying", "error", token.Error())
		a.setState(devices.StateReconnecting)
		go a.reconnectLoop(runCtx)
	}
	return nil
}

// Stop implements devices.LifecycleAdapter.
func (a *Adapter) Stop(context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(250)
	}
	a.setState(devices.StateDisconnected)
	return nil
}

func (a *Adapter) reconnectLoop(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(a.cfg.Backoff.Delay(attempt)):
		}
		if a.client.IsConnected() {
			return
		}
		token := a.client.Connect()
		if token.WaitTimeout(a.cfg.ConnectTimeout) && token.Error() == nil {
			a.logger.Info("reconnected", "attempt", attempt)
			return
		}
		a.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", token.Error())
	}
}

// buildSubscriptions renders the topic table for every registered device.
func (a *Adapter) buildSubscriptions() {
	if a.resolver == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = make(map[string]subscription)
	for _, dev := range a.resolver.ListDevices() {
		if dev.Connection != "mqtt" {
			continue
		}
		m, ok := a.mappings[dev.Type]
		if !ok {
			continue
		}
		for _, metric := range m.MappedCapabilities() {
			if topic, ok := m.MetricTopic(dev.ID, metric); ok {
				a.subs[topic] = subscription{deviceID: dev.ID, metric: metric, mapping: m}
			}
		}
	}
}

func (a *Adapter) subscribeAll(client pahomqtt.Client) {
	a.mu.RLock()
	topics := make([]string, 0, len(a.subs))
	for topic := range a.subs {
		topics = append(topics, topic)
	}
	discovery := a.cfg.Discovery
	a.mu.RUnlock()

	for _, topic := range topics {
		if token := client.Subscribe(topic, 0, a.handleMessage); token.Wait() && token.Error() != nil {
			a.logger.Warn("subscribe failed", "topic", topic, "error", token.Error())
		}
	}
	if discovery {
		if token := client.Subscribe("#", 0, a.handleMessage); token.Wait() && token.Error() != nil {
			a.logger.Warn("discovery subscribe failed", "error", token.Error())
		}
	}
}

func (a *Adapter) handleMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	a.mu.RLock()
	sub, ok := a.subs[msg.Topic()]
	discovery := a.cfg.Discovery
	a.mu.RUnlock()

	if !ok {
		if discovery {
			a.emit(devices.DeviceEvent{
				Type:      devices.DeviceEventDiscovery,
				DeviceID:  deviceIDFromTopic(msg.Topic()),
				Timestamp: time.Now(),
			})
		}
		return
	}

	value, err := sub.mapping.ParseMetric(sub.metric, msg.Payload())
	if err != nil {
		a.logger.Warn("payload parse failed", "topic", msg.Topic(), "metric", sub.metric, "error", err)
		return
	}
	a.emit(devices.DeviceEvent{
		Type:      devices.DeviceEventMetric,
		DeviceID:  sub.deviceID,
		Metric:    sub.metric,
		Value:     value,
		Timestamp: time.Now(),
	})
}

func (a *Adapter) emit(ev devices.DeviceEvent) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("event buffer full, dropping", "device", ev.DeviceID, "metric", ev.Metric)
	}
}

// deviceIDFromTopic guesses a device id from a topic of the form
// prefix/<device_id>/suffix.
func deviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return topic
}

// SendCommand implements devices.CommandAdapter.
func (a *Adapter) SendCommand(ctx context.Context, deviceID, command string, params map[string]mapping.MetricValue, topicOverride string) error {
	dev, ok := a.resolver.Device(deviceID)
	if !ok {
		return fmt.Errorf("mqtt: unknown device %q", deviceID)
	}
	a.mu.RLock()
	m, ok := a.mappings[dev.Type]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mqtt: no mapping for device type %q", dev.Type)
	}

	topic := topicOverride
	if topic == "" {
		topic, ok = m.CommandTopic(deviceID, command)
		if !ok {
			return fmt.Errorf("mqtt: no command topic for %q", command)
		}
	}
	payload, err := m.SerializeCommand(command, params)
	if err != nil {
		return err
	}

	addr, _ := m.CommandAddress(command)
	token := a.client.Publish(topic, addr.QoS, addr.Retain, payload)
	if !token.WaitTimeout(a.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt: publish timed out")
	}
	return token.Error()
}
