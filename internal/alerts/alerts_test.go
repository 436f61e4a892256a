package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neotalk/edge-ai/internal/bus"
)

type recordingSender struct {
	sent []Alert
	fail bool
}

func (r *recordingSender) Send(_ context.Context, alert Alert) error {
	if r.fail {
		return errors.New("smtp unavailable")
	}
	r.sent = append(r.sent, alert)
	return nil
}

func TestCreatePublishesAndDispatches(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	defer sub.Close()

	mgr := NewManager(nil, b)
	sender := &recordingSender{}
	mgr.AddSender(sender)

	alert, err := mgr.Create(context.Background(), "fan offline", SeverityWarning, "rule:fan-check")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if alert.ID == "" || alert.Severity != SeverityWarning {
		t.Errorf("alert = %+v", alert)
	}
	if len(sender.sent) != 1 || sender.sent[0].Message != "fan offline" {
		t.Errorf("sender got %+v", sender.sent)
	}
	select {
	case ev := <-sub.C():
		if ev.Type != bus.EventAlertCreated {
			t.Errorf("bus event = %v", ev.Type)
		}
	case <-time.After(time.Second):
		t.Error("no bus event")
	}
}

func TestSenderFailureNotFatal(t *testing.T) {
	mgr := NewManager(nil, nil)
	mgr.AddSender(&recordingSender{fail: true})
	if _, err := mgr.Create(context.Background(), "x", SeverityInfo, "test"); err != nil {
		t.Errorf("sender failure must not fail creation: %v", err)
	}
}

func TestDefaultSeverity(t *testing.T) {
	mgr := NewManager(nil, nil)
	alert, err := mgr.Create(context.Background(), "x", "", "test")
	if err != nil {
		t.Fatal(err)
	}
	if alert.Severity != SeverityInfo {
		t.Errorf("severity = %v, want info default", alert.Severity)
	}
}
