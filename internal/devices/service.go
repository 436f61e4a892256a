package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neotalk/edge-ai/internal/bus"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

// Service is the adapter registry and telemetry sink. It routes outbound
// commands to the owning adapter and forwards ingress events to the store
// and the event bus.
type Service struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	commands  map[string]CommandAdapter
	lifecycle map[string]LifecycleAdapter
	eventing  map[string]EventAdapter
	devices   map[string]*models.Device

	store  *store.Store
	bus    *bus.Bus
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates the device service over the given store and bus.
func NewService(st *store.Store, b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		adapters:  make(map[string]Adapter),
		commands:  make(map[string]CommandAdapter),
		lifecycle: make(map[string]LifecycleAdapter),
		eventing:  make(map[string]EventAdapter),
		devices:   make(map[string]*models.Device),
		store:     st,
		bus:       b,
		logger:    slog.Default().With("component", "devices"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loadDevices()
	return s
}

// loadDevices rebuilds the in-memory device registry from the store.
// Corrupted rows are skipped with a warning, never fatal.
func (s *Service) loadDevices() {
	if s.store == nil {
		return
	}
	err := s.store.Iter(store.TableDevices, func(key string, value []byte) error {
		var dev models.Device
		if err := json.Unmarshal(value, &dev); err != nil {
			s.logger.Warn("skipping corrupt device row", "key", key, "error", err)
			return nil
		}
		s.devices[dev.ID] = &dev
		return nil
	})
	if err != nil {
		s.logger.Warn("device table scan failed", "error", err)
	}
}

// RegisterAdapter adds a protocol adapter, replacing any previous adapter
// for the same protocol. Capability interfaces are picked up by assertion.
func (s *Service) RegisterAdapter(adapter Adapter) {
	protocol := adapter.Protocol()
	s.mu.Lock()
	s.adapters[protocol] = adapter
	if cmd, ok := adapter.(CommandAdapter); ok {
		s.commands[protocol] = cmd
	} else {
		delete(s.commands, protocol)
	}
	if lc, ok := adapter.(LifecycleAdapter); ok {
		s.lifecycle[protocol] = lc
	} else {
		delete(s.lifecycle, protocol)
	}
	if ev, ok := adapter.(EventAdapter); ok {
		s.eventing[protocol] = ev
	} else {
		delete(s.eventing, protocol)
	}
	s.mu.Unlock()
}

// Adapter returns the adapter for a protocol.
func (s *Service) Adapter(protocol string) (Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[protocol]
	return a, ok
}

// UpsertDevice registers or updates a device and persists it.
func (s *Service) UpsertDevice(dev *models.Device) error {
	if dev.ID == "" {
		return fmt.Errorf("device id required")
	}
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.devices[dev.ID] = dev
	s.mu.Unlock()

	if s.store != nil {
		data, err := json.Marshal(dev)
		if err != nil {
			return err
		}
		return s.store.Insert(store.TableDevices, dev.ID, data)
	}
	return nil
}

// Device returns a registered device.
func (s *Service) Device(id string) (*models.Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dev, ok := s.devices[id]
	return dev, ok
}

// ListDevices returns all registered devices.
func (s *Service) ListDevices() []*models.Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Device, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, dev)
	}
	return out
}

// Start launches all lifecycle adapters and begins draining their events.
func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(s.lifecycle))
	for _, lc := range s.lifecycle {
		lifecycle = append(lifecycle, lc)
	}
	eventing := make([]EventAdapter, 0, len(s.eventing))
	for _, ev := range s.eventing {
		eventing = append(eventing, ev)
	}
	s.mu.RUnlock()

	for _, lc := range lifecycle {
		if err := lc.Start(runCtx); err != nil {
			return err
		}
	}
	for _, ev := range eventing {
		s.wg.Add(1)
		go s.drainEvents(runCtx, ev)
	}
	return nil
}

// Stop shuts the adapters down and waits for event drains to finish.
func (s *Service) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.RLock()
	lifecycle := make([]LifecycleAdapter, 0, len(s.lifecycle))
	for _, lc := range s.lifecycle {
		lifecycle = append(lifecycle, lc)
	}
	s.mu.RUnlock()

	var lastErr error
	for _, lc := range lifecycle {
		if err := lc.Stop(ctx); err != nil {
			lastErr = err
		}
	}
	s.wg.Wait()
	return lastErr
}

func (s *Service) drainEvents(ctx context.Context, adapter EventAdapter) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-adapter.Events():
			if !ok {
				return
			}
			s.HandleEvent(ev)
		}
	}
}

// HandleEvent sinks a device event: telemetry to the store, everything to
// the bus.
func (s *Service) HandleEvent(ev DeviceEvent) {
	switch ev.Type {
	case DeviceEventMetric:
		if s.store != nil {
			if value, ok := ev.Value.AsFloat(); ok {
				point := models.TelemetryPoint{Timestamp: ev.Timestamp, Value: value}
				if err := s.store.WriteTelemetry(ev.DeviceID, ev.Metric, point); err != nil {
					s.logger.Warn("telemetry write failed", "device", ev.DeviceID, "metric", ev.Metric, "error", err)
				}
			}
		}
		if s.bus != nil {
			s.bus.Publish(bus.EventDeviceMetric, "devices."+ev.DeviceID, ev)
		}
	case DeviceEventDiscovery:
		if s.bus != nil {
			s.bus.Publish(bus.EventDeviceDiscovery, "devices", ev)
		}
	case DeviceEventState:
		if s.bus != nil {
			s.bus.Publish(bus.EventDeviceState, "devices."+ev.DeviceID, ev)
		}
	}
}

// SendCommand routes an outbound command to the adapter owning the device's
// connection protocol.
func (s *Service) SendCommand(ctx context.Context, deviceID, command string, params map[string]mapping.MetricValue, topicOverride string) error {
	s.mu.RLock()
	dev, ok := s.devices[deviceID]
	var adapter CommandAdapter
	if ok {
		adapter = s.commands[dev.Connection]
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown device %q", deviceID)
	}
	if adapter == nil {
		return fmt.Errorf("no command adapter for protocol %q", dev.Connection)
	}
	return adapter.SendCommand(ctx, deviceID, command, params, topicOverride)
}

// LatestValue satisfies the rule engine's value provider contract by
// delegating to the store's time-series index.
func (s *Service) LatestValue(deviceID, metric string) (float64, bool) {
	if s.store == nil {
		return 0, false
	}
	return s.store.LatestValue(deviceID, metric)
}
