// Package emergency implements panic and accelerometer-based impact
// detection, the active-emergency-per-driver registry, and response
// orchestration (notification + broadcast fan-out).
package emergency

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/lastmile/courier-core/internal/geo"
	"github.com/lastmile/courier-core/internal/ids"
)

// Trigger is what caused an emergency to be raised.
type Trigger string

const (
	TriggerPanicButton      Trigger = "panic_button"
	TriggerAccidentDetected Trigger = "accident_detected"
)

// Status is the emergency lifecycle state.
type Status string

const (
	StatusTriggered    Status = "triggered"
	StatusResponding   Status = "responding"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
)

// ErrAlreadyActive is returned by Panic/Accelerometer when the driver
// already has a non-resolved emergency; the call is a no-op and returns the
// existing record.
var ErrAlreadyActive = errors.New("emergency: driver already has an active emergency")

// ErrNotFound is returned by Acknowledge/Resolve for an unknown emergency id.
var ErrNotFound = errors.New("emergency: not found")

const (
	accelHistoryCap  = 30
	gForceThreshold  = 4.0
	earthG           = 9.80665
)

// AccelReading is one accelerometer sample in m/s^2 per axis.
type AccelReading struct {
	X, Y, Z float64
	T       time.Time
}

// RawLocation carries unobfuscated coordinates. This is the one component
// permitted to hold and transmit raw lat/lng — every other component only
// ever sees obfuscated zone-grained locations.
type RawLocation = geo.Point

// Emergency is an EmergencyEvent record.
type Emergency struct {
	ID             string
	DriverID       string
	DeliveryID     string
	Trigger        Trigger
	Status         Status
	RawLocation    RawLocation
	TriggeredAt    time.Time
	RespondingAt   time.Time
	AcknowledgedAt time.Time
	AcknowledgedBy string
	ResolvedAt     time.Time
	ResolvedBy     string
	ResolutionNote string
}

// Notifier is the narrow interface the orchestrator needs from the
// notification dispatcher.
type Notifier interface {
	Send(recipientID, channel, templateID string, content map[string]string, priority string) error
}

// Broadcaster is the narrow interface the orchestrator needs from the
// realtime broadcaster.
type Broadcaster interface {
	BroadcastToRoles(eventType string, roles []string, payload any)
}

// Orchestrator tracks active emergencies and drives the response sequence.
// Safe for concurrent use; a single mutex guards all state.
type Orchestrator struct {
	mu             sync.Mutex
	activeByDriver map[string]string // driverID -> emergencyID, only while non-resolved
	emergencies    map[string]*Emergency
	order          []string
	accelHistory   map[string][]AccelReading

	notifier    Notifier
	broadcaster Broadcaster
}

// New returns an Orchestrator wired to the given notification and broadcast
// sinks. Either may be nil, in which case the corresponding side effect is
// skipped (useful in tests).
func New(notifier Notifier, broadcaster Broadcaster) *Orchestrator {
	return &Orchestrator{
		activeByDriver: make(map[string]string),
		emergencies:    make(map[string]*Emergency),
		accelHistory:   make(map[string][]AccelReading),
		notifier:       notifier,
		broadcaster:    broadcaster,
	}
}

// Panic raises a panic-button emergency for driverID. Idempotent: if the
// driver already has an active (non-resolved) emergency, it is returned
// unchanged along with ErrAlreadyActive.
func (o *Orchestrator) Panic(driverID string, raw RawLocation, deliveryID string) (Emergency, error) {
	o.mu.Lock()
	if id, ok := o.activeByDriver[driverID]; ok {
		e := *o.emergencies[id]
		o.mu.Unlock()
		return e, ErrAlreadyActive
	}
	e := o.raise(driverID, deliveryID, TriggerPanicButton, raw)
	o.mu.Unlock()

	e = o.initiateEmergencyResponse(e)
	return e, nil
}

// Accelerometer records a reading and, if the instantaneous g-force crosses
// the accident threshold, raises an accident_detected emergency (unless one
// is already active for the driver).
func (o *Orchestrator) Accelerometer(driverID string, reading AccelReading, raw RawLocation, deliveryID string) (*Emergency, error) {
	o.mu.Lock()
	hist := append(o.accelHistory[driverID], reading)
	if len(hist) > accelHistoryCap {
		hist = hist[len(hist)-accelHistoryCap:]
	}
	o.accelHistory[driverID] = hist

	g := magnitude(reading) / earthG
	if g < gForceThreshold {
		o.mu.Unlock()
		return nil, nil
	}
	if id, ok := o.activeByDriver[driverID]; ok {
		e := *o.emergencies[id]
		o.mu.Unlock()
		return &e, ErrAlreadyActive
	}
	e := o.raise(driverID, deliveryID, TriggerAccidentDetected, raw)
	o.mu.Unlock()

	e = o.initiateEmergencyResponse(e)
	return &e, nil
}

func magnitude(r AccelReading) float64 {
	return math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z)
}

// raise must be called with the lock held; it returns a copy for the caller
// to hand off to initiateEmergencyResponse outside the lock.
func (o *Orchestrator) raise(driverID, deliveryID string, trigger Trigger, raw RawLocation) Emergency {
	now := time.Now().UTC()
	e := &Emergency{
		ID:          ids.New(),
		DriverID:    driverID,
		DeliveryID:  deliveryID,
		Trigger:     trigger,
		Status:      StatusTriggered,
		RawLocation: raw,
		TriggeredAt: now,
	}
	o.emergencies[e.ID] = e
	o.order = append(o.order, e.ID)
	o.activeByDriver[driverID] = e.ID
	return *e
}

// initiateEmergencyResponse transitions triggered -> responding, enqueues a
// critical-priority notification, and broadcasts alert:emergency to
// security_officer/admin/dispatcher. Must be called without the lock held.
// It returns the emergency as it stands after the transition.
func (o *Orchestrator) initiateEmergencyResponse(e Emergency) Emergency {
	o.mu.Lock()
	rec, ok := o.emergencies[e.ID]
	if ok && rec.Status == StatusTriggered {
		rec.Status = StatusResponding
		rec.RespondingAt = time.Now().UTC()
		e = *rec
	}
	o.mu.Unlock()

	if o.notifier != nil {
		content := map[string]string{
			"emergencyId": e.ID,
			"driverId":    e.DriverID,
			"trigger":     string(e.Trigger),
		}
		_ = o.notifier.Send("dispatch", "push", "emergency_triggered", content, "critical")
	}
	if o.broadcaster != nil {
		o.broadcaster.BroadcastToRoles("alert:emergency", []string{"security_officer", "admin", "dispatcher"}, e)
	}
	return e
}

// Acknowledge records that a human responder has seen the emergency and
// moves it into the acknowledged state. A triggered emergency is first
// folded into responding, matching initiateEmergencyResponse, before being
// marked acknowledged; resolution is the only transition left after this.
func (o *Orchestrator) Acknowledge(emergencyID, actorID string) (Emergency, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.emergencies[emergencyID]
	if !ok {
		return Emergency{}, ErrNotFound
	}
	now := time.Now().UTC()
	if e.Status == StatusTriggered {
		e.Status = StatusResponding
		e.RespondingAt = now
	}
	if e.Status == StatusResponding {
		e.Status = StatusAcknowledged
		e.AcknowledgedAt = now
		e.AcknowledgedBy = actorID
	}
	return *e, nil
}

// Resolve closes out an emergency and frees the driver's active-emergency
// slot so a future Panic/Accelerometer call for that driver can raise again.
func (o *Orchestrator) Resolve(emergencyID, actorID, note string) (Emergency, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.emergencies[emergencyID]
	if !ok {
		return Emergency{}, ErrNotFound
	}
	e.Status = StatusResolved
	e.ResolvedAt = time.Now().UTC()
	e.ResolvedBy = actorID
	e.ResolutionNote = note
	if o.activeByDriver[e.DriverID] == emergencyID {
		delete(o.activeByDriver, e.DriverID)
	}
	return *e, nil
}

// Get returns an emergency by id.
func (o *Orchestrator) Get(emergencyID string) (Emergency, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.emergencies[emergencyID]
	if !ok {
		return Emergency{}, false
	}
	return *e, true
}

// ActiveForDriver reports the active (non-resolved) emergency for a driver,
// if any.
func (o *Orchestrator) ActiveForDriver(driverID string) (Emergency, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.activeByDriver[driverID]
	if !ok {
		return Emergency{}, false
	}
	return *o.emergencies[id], true
}

// List returns all emergencies, most recent first.
func (o *Orchestrator) List() []Emergency {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Emergency, 0, len(o.order))
	for i := len(o.order) - 1; i >= 0; i-- {
		out = append(out, *o.emergencies[o.order[i]])
	}
	return out
}
