package devices

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/internal/bus"
	"github.com/neotalk/edge-ai/internal/devices/mapping"
	"github.com/neotalk/edge-ai/internal/store"
	"github.com/neotalk/edge-ai/pkg/models"
)

type fakeAdapter struct {
	connTracker
	protocol string
	sent     []sentCommand
	events   chan DeviceEvent
}

type sentCommand struct {
	deviceID string
	command  string
	topic    string
}

func newFakeAdapter(protocol string) *fakeAdapter {
	return &fakeAdapter{
		connTracker: newConnTracker(),
		protocol:    protocol,
		events:      make(chan DeviceEvent, 8),
	}
}

func (f *fakeAdapter) Protocol() string { return f.protocol }

func (f *fakeAdapter) Start(context.Context) error {
	f.setState(StateConnected)
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.setState(StateDisconnected)
	close(f.events)
	return nil
}

func (f *fakeAdapter) Events() <-chan DeviceEvent { return f.events }

func (f *fakeAdapter) SendCommand(_ context.Context, deviceID, command string, _ map[string]mapping.MetricValue, topic string) error {
	f.sent = append(f.sent, sentCommand{deviceID: deviceID, command: command, topic: topic})
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "devices.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st, bus.New()), st
}

func TestCommandRouting(t *testing.T) {
	svc, _ := newTestService(t)
	mqttAdapter := newFakeAdapter("mqtt")
	hassAdapter := newFakeAdapter("hass")
	svc.RegisterAdapter(mqttAdapter)
	svc.RegisterAdapter(hassAdapter)

	if err := svc.UpsertDevice(&models.Device{ID: "fan1", Type: "fan", Connection: "mqtt"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := svc.SendCommand(context.Background(), "fan1", "set_speed", nil, ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(mqttAdapter.sent) != 1 || mqttAdapter.sent[0].command != "set_speed" {
		t.Errorf("mqtt adapter sent = %+v", mqttAdapter.sent)
	}
	if len(hassAdapter.sent) != 0 {
		t.Error("command leaked to wrong adapter")
	}
}

func TestCommandUnknownDevice(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.SendCommand(context.Background(), "ghost", "x", nil, ""); err == nil {
		t.Error("unknown device should error")
	}
}

func TestMetricEventSinksToStoreAndBus(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sink.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	b := bus.New()
	sub := b.Subscribe()
	defer sub.Close()

	svc := NewService(st, b)
	svc.HandleEvent(DeviceEvent{
		Type:      DeviceEventMetric,
		DeviceID:  "sensor",
		Metric:    "temperature",
		Value:     mapping.FloatValue(21.5),
		Timestamp: time.Now(),
	})

	if v, ok := st.LatestValue("sensor", "temperature"); !ok || v != 21.5 {
		t.Errorf("telemetry sink: got %v, %v", v, ok)
	}
	select {
	case ev := <-sub.C():
		if ev.Type != bus.EventDeviceMetric {
			t.Errorf("bus event type = %v", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("no bus event published")
	}
}

func TestDevicesReloadOnOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reload.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(st, bus.New())
	if err := svc.UpsertDevice(&models.Device{ID: "d1", Type: "sensor", Connection: "mqtt"}); err != nil {
		t.Fatal(err)
	}
	st.Close()

	st2, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer st2.Close()
	svc2 := NewService(st2, bus.New())
	if _, ok := svc2.Device("d1"); !ok {
		t.Error("device registry not rebuilt from store")
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	cfg := DefaultBackoff()
	for attempt := 1; attempt <= 12; attempt++ {
		d := cfg.Delay(attempt)
		if d < 0 {
			t.Fatalf("negative delay at attempt %d", attempt)
		}
		// 60s cap plus 20% jitter headroom.
		if d > 72*time.Second {
			t.Fatalf("delay %v exceeds cap at attempt %d", d, attempt)
		}
	}
	// Early attempts stay near the initial delay.
	if d := cfg.Delay(1); d > 1500*time.Millisecond {
		t.Errorf("first delay %v too large", d)
	}
}

func TestProposeCapabilities(t *testing.T) {
	caps := ProposeCapabilities([]byte(`{"temperature":21.5,"power":true,"mode":"auto"}`))
	if len(caps) != 3 {
		t.Fatalf("got %d capabilities, want 3", len(caps))
	}
	byName := map[string]models.Capability{}
	for _, c := range caps {
		byName[c.Name] = c
	}
	if byName["temperature"].CapType != models.CapabilityMetric {
		t.Error("temperature should be a metric")
	}
	if byName["power"].Access != models.AccessReadWrite {
		t.Error("power should be read-write")
	}
}
