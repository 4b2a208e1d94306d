package emergency

import (
	"testing"

	"github.com/lastmile/courier-core/internal/geo"
)

type fakeNotifier struct {
	sent []string
}

func (f *fakeNotifier) Send(recipientID, channel, templateID string, content map[string]string, priority string) error {
	f.sent = append(f.sent, templateID+":"+priority)
	return nil
}

type fakeBroadcaster struct {
	events []string
}

func (f *fakeBroadcaster) BroadcastToRoles(eventType string, roles []string, payload any) {
	f.events = append(f.events, eventType)
}

func TestPanicRaisesEmergencyAndNotifiesAndBroadcasts(t *testing.T) {
	n := &fakeNotifier{}
	b := &fakeBroadcaster{}
	o := New(n, b)

	e, err := o.Panic("drv1", geo.Point{Lat: -1.28, Lng: 36.8}, "D1")
	if err != nil {
		t.Fatalf("Panic: %v", err)
	}
	if e.Trigger != TriggerPanicButton {
		t.Fatalf("expected panic_button trigger, got %q", e.Trigger)
	}
	if e.Status != StatusResponding {
		t.Fatalf("expected responding after orchestration, got %q", e.Status)
	}
	if len(n.sent) != 1 || n.sent[0] != "emergency_triggered:critical" {
		t.Fatalf("expected one critical notification, got %v", n.sent)
	}
	if len(b.events) != 1 || b.events[0] != "alert:emergency" {
		t.Fatalf("expected one alert:emergency broadcast, got %v", b.events)
	}
}

func TestPanicIsIdempotentWhileActive(t *testing.T) {
	o := New(nil, nil)
	first, err := o.Panic("drv2", geo.Point{}, "D2")
	if err != nil {
		t.Fatalf("first Panic: %v", err)
	}
	second, err := o.Panic("drv2", geo.Point{}, "D2")
	if err != ErrAlreadyActive {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same emergency id, got %q vs %q", second.ID, first.ID)
	}
}

func TestPanicAllowedAgainAfterResolve(t *testing.T) {
	o := New(nil, nil)
	first, _ := o.Panic("drv3", geo.Point{}, "D3")
	if _, err := o.Resolve(first.ID, "officer-1", "handled"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := o.Panic("drv3", geo.Point{}, "D3")
	if err != nil {
		t.Fatalf("expected Panic to succeed after resolve, got %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new emergency id after resolve")
	}
}

func TestAccelerometerBelowThresholdDoesNotRaise(t *testing.T) {
	o := New(nil, nil)
	e, err := o.Accelerometer("drv4", AccelReading{X: 1, Y: 1, Z: 9.8}, geo.Point{}, "D4")
	if err != nil || e != nil {
		t.Fatalf("expected no emergency below threshold, got %+v, %v", e, err)
	}
}

func TestAccelerometerAboveThresholdRaisesAccidentDetected(t *testing.T) {
	o := New(nil, nil)
	// magnitude ~ 50 m/s^2 => ~5.1g, above the 4.0g threshold.
	e, err := o.Accelerometer("drv5", AccelReading{X: 50, Y: 0, Z: 0}, geo.Point{}, "D5")
	if err != nil {
		t.Fatalf("Accelerometer: %v", err)
	}
	if e == nil || e.Trigger != TriggerAccidentDetected {
		t.Fatalf("expected accident_detected emergency, got %+v", e)
	}
}

func TestResolveUnknownEmergencyReturnsNotFound(t *testing.T) {
	o := New(nil, nil)
	if _, err := o.Resolve("missing", "officer-1", "n/a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAcknowledgeMovesRespondingToAcknowledged(t *testing.T) {
	o := New(nil, nil)
	e, _ := o.Panic("drv7", geo.Point{}, "D7")
	if e.Status != StatusResponding {
		t.Fatalf("expected responding before acknowledge, got %q", e.Status)
	}
	ack, err := o.Acknowledge(e.ID, "officer-2")
	if err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}
	if ack.Status != StatusAcknowledged {
		t.Fatalf("expected acknowledged status, got %q", ack.Status)
	}
	if ack.AcknowledgedBy != "officer-2" {
		t.Fatalf("expected AcknowledgedBy to record the actor, got %q", ack.AcknowledgedBy)
	}
	if ack.AcknowledgedAt.IsZero() {
		t.Fatal("expected AcknowledgedAt to be set")
	}
}

func TestAcknowledgeUnknownEmergencyReturnsNotFound(t *testing.T) {
	o := New(nil, nil)
	if _, err := o.Acknowledge("missing", "officer-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestActiveForDriverReflectsLifecycle(t *testing.T) {
	o := New(nil, nil)
	if _, ok := o.ActiveForDriver("drv6"); ok {
		t.Fatal("expected no active emergency initially")
	}
	e, _ := o.Panic("drv6", geo.Point{}, "D6")
	active, ok := o.ActiveForDriver("drv6")
	if !ok || active.ID != e.ID {
		t.Fatalf("expected active emergency to match raised one, got %+v", active)
	}
	o.Resolve(e.ID, "officer-1", "done")
	if _, ok := o.ActiveForDriver("drv6"); ok {
		t.Fatal("expected no active emergency after resolve")
	}
}
