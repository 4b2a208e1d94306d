// Package security implements the cargo-security monitor: per-driver
// location history, route/stop/tamper anomaly detection, and the
// communication-loss tick.
package security

import (
	"sync"
	"time"

	"github.com/lastmile/courier-core/internal/ids"
	"github.com/lastmile/courier-core/internal/obfuscate"
)

// Severity is the impact level of a detected anomaly.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyType is the closed set of detector outputs.
type AnomalyType string

const (
	AnomalyRouteDeviation   AnomalyType = "route_deviation"
	AnomalyUnusualStop      AnomalyType = "unusual_stop"
	AnomalyTamperingDetected AnomalyType = "tampering_detected"
	AnomalyCommunicationLost AnomalyType = "communication_lost"
)

// AlertStatus is the terminal resolution recorded on an alert.
type AlertStatus string

const (
	StatusFalsePositive AlertStatus = "false_positive"
	StatusInvestigated  AlertStatus = "investigated"
	StatusEscalated     AlertStatus = "escalated"
	StatusResolved      AlertStatus = "resolved"
)

// Alert is a SecurityAlert record.
type Alert struct {
	ID             string
	DeliveryID     string
	DriverID       string
	VehicleID      string
	AnomalyType    AnomalyType
	Severity       Severity
	ZoneID         string
	DetectedAt     time.Time
	Description    string
	Acknowledged   bool
	AcknowledgedAt time.Time
	AcknowledgedBy string
	Resolution     AlertStatus
	ResolvedAt     time.Time
	ResolvedBy     string
	ResolutionNote string
}

type locationEntry struct {
	zoneID   string
	t        time.Time
	isMoving bool
}

type driverState struct {
	history        []locationEntry // bounded FIFO, last 100
	lastSeenAt     time.Time
	lastCommsAlert time.Time
	lastDeliveryID string
}

const (
	historyCap              = 100
	unusualStopWindow        = 10
	unusualStopMinStationary = 3
	unusualStopSpan          = 15 * time.Minute
	unusualStopSuppress      = 30 * time.Minute
	rapidChangeWindow        = 5
	rapidChangeDistinctZones = 5
	rapidChangeSpan          = 5 * time.Minute
	commsLossThreshold       = 10 * time.Minute
	commsLossHighThreshold   = 30 * time.Minute
	commsLossSuppress        = 15 * time.Minute
)

// Monitor tracks location history and alerts, per driver. Safe for
// concurrent use.
type Monitor struct {
	mu       sync.Mutex
	drivers  map[string]*driverState
	routes   map[string][]string // deliveryID -> expected zoneSequence
	alerts   map[string]*Alert
	alertsBy []string // insertion order, for deterministic listing
}

// NewMonitor returns an empty cargo-security monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		drivers: make(map[string]*driverState),
		routes:  make(map[string][]string),
		alerts:  make(map[string]*Alert),
	}
}

// RegisterExpectedRoute stores the expected zone sequence for a delivery,
// consulted by the route-deviation detector.
func (m *Monitor) RegisterExpectedRoute(deliveryID string, zoneSequence []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[deliveryID] = append([]string{}, zoneSequence...)
}

// ProcessLocationUpdate appends a location entry for driverID and runs the
// three anomaly detectors, returning any alerts raised.
func (m *Monitor) ProcessLocationUpdate(deliveryID, driverID string, loc obfuscate.Location, vehicleID string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.drivers[driverID]
	if !ok {
		ds = &driverState{}
		m.drivers[driverID] = ds
	}
	now := time.Now().UTC()
	entry := locationEntry{zoneID: loc.ZoneID, t: now, isMoving: loc.MovementState == obfuscate.MovementMoving}
	ds.history = append(ds.history, entry)
	if len(ds.history) > historyCap {
		ds.history = ds.history[len(ds.history)-historyCap:]
	}
	ds.lastSeenAt = now
	ds.lastDeliveryID = deliveryID

	var raised []Alert
	if a := m.detectRouteDeviation(deliveryID, driverID, vehicleID, loc.ZoneID, now); a != nil {
		raised = append(raised, *a)
	}
	if a := m.detectUnusualStop(deliveryID, driverID, vehicleID, ds, now); a != nil {
		raised = append(raised, *a)
	}
	if a := m.detectRapidZoneChanges(deliveryID, driverID, vehicleID, ds, now); a != nil {
		raised = append(raised, *a)
	}
	return raised
}

func (m *Monitor) detectRouteDeviation(deliveryID, driverID, vehicleID, zoneID string, now time.Time) *Alert {
	seq, ok := m.routes[deliveryID]
	if !ok || len(seq) == 0 {
		return nil
	}
	for _, z := range seq {
		if z == zoneID {
			return nil
		}
	}
	return m.raise(deliveryID, driverID, vehicleID, AnomalyRouteDeviation, SeverityMedium, zoneID, now,
		"current zone not in expected route")
}

func (m *Monitor) detectUnusualStop(deliveryID, driverID, vehicleID string, ds *driverState, now time.Time) *Alert {
	n := len(ds.history)
	if n == 0 {
		return nil
	}
	start := n - unusualStopWindow
	if start < 0 {
		start = 0
	}
	window := ds.history[start:]

	var first, last time.Time
	stationary := 0
	for _, e := range window {
		if !e.isMoving {
			stationary++
			if first.IsZero() {
				first = e.t
			}
			last = e.t
		}
	}
	if stationary < unusualStopMinStationary || last.Sub(first) < unusualStopSpan {
		return nil
	}
	if m.hasRecentAlert(deliveryID, driverID, AnomalyUnusualStop, now, unusualStopSuppress) {
		return nil
	}
	return m.raise(deliveryID, driverID, vehicleID, AnomalyUnusualStop, SeverityLow, window[len(window)-1].zoneID, now,
		"vehicle stationary for extended period")
}

func (m *Monitor) detectRapidZoneChanges(deliveryID, driverID, vehicleID string, ds *driverState, now time.Time) *Alert {
	n := len(ds.history)
	start := n - rapidChangeWindow
	if start < 0 {
		start = 0
	}
	window := ds.history[start:]
	if len(window) == 0 || now.Sub(window[0].t) > rapidChangeSpan {
		// still evaluate on recorded span, not wall-clock now, to avoid
		// false negatives when updates arrive in a burst
	}
	span := window[len(window)-1].t.Sub(window[0].t)
	if span > rapidChangeSpan {
		return nil
	}
	distinct := map[string]struct{}{}
	for _, e := range window {
		distinct[e.zoneID] = struct{}{}
	}
	if len(distinct) < rapidChangeDistinctZones {
		return nil
	}
	return m.raise(deliveryID, driverID, vehicleID, AnomalyTamperingDetected, SeverityHigh, window[len(window)-1].zoneID, now,
		"rapid distinct zone changes, possible location spoofing")
}

// CheckCommunicationLoss is called by the out-of-band background ticker for
// every driver with an active delivery.
func (m *Monitor) CheckCommunicationLoss(deliveryID, driverID string, lastSeenAt time.Time) *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	gap := now.Sub(lastSeenAt)
	if gap < commsLossThreshold {
		return nil
	}
	ds, ok := m.drivers[driverID]
	if ok && now.Sub(ds.lastCommsAlert) < commsLossSuppress {
		return nil
	}

	severity := SeverityMedium
	if gap >= commsLossHighThreshold {
		severity = SeverityHigh
	}
	a := m.raise(deliveryID, driverID, "", AnomalyCommunicationLost, severity, "", now,
		"no location fix received")
	if !ok {
		ds = &driverState{}
		m.drivers[driverID] = ds
	}
	ds.lastCommsAlert = now
	return a
}

func (m *Monitor) hasRecentAlert(deliveryID, driverID string, t AnomalyType, now time.Time, within time.Duration) bool {
	for _, id := range m.alertsBy {
		a := m.alerts[id]
		if a.DeliveryID == deliveryID && a.DriverID == driverID && a.AnomalyType == t && now.Sub(a.DetectedAt) < within {
			return true
		}
	}
	return false
}

// raise must be called with the lock held.
func (m *Monitor) raise(deliveryID, driverID, vehicleID string, t AnomalyType, sev Severity, zoneID string, now time.Time, desc string) *Alert {
	a := &Alert{
		ID:          ids.New(),
		DeliveryID:  deliveryID,
		DriverID:    driverID,
		VehicleID:   vehicleID,
		AnomalyType: t,
		Severity:    sev,
		ZoneID:      zoneID,
		DetectedAt:  now,
		Description: desc,
	}
	m.alerts[a.ID] = a
	m.alertsBy = append(m.alertsBy, a.ID)
	return a
}

// ErrNotFound is returned by Acknowledge/Resolve for an unknown alert id.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "security: alert not found" }

// Acknowledge marks an alert as acknowledged by actorID.
func (m *Monitor) Acknowledge(alertID, actorID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return Alert{}, ErrNotFound
	}
	a.Acknowledged = true
	a.AcknowledgedAt = time.Now().UTC()
	a.AcknowledgedBy = actorID
	return *a, nil
}

// Resolve marks an alert resolved with a terminal status.
func (m *Monitor) Resolve(alertID, actorID string, status AlertStatus, note string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return Alert{}, ErrNotFound
	}
	a.Resolution = status
	a.ResolvedAt = time.Now().UTC()
	a.ResolvedBy = actorID
	a.ResolutionNote = note
	return *a, nil
}

// ListAlerts returns alerts matching the given filters, most recent first.
func (m *Monitor) ListAlerts(severity Severity, unacknowledgedOnly bool, deliveryID string) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alertsBy))
	for i := len(m.alertsBy) - 1; i >= 0; i-- {
		a := m.alerts[m.alertsBy[i]]
		if severity != "" && a.Severity != severity {
			continue
		}
		if unacknowledgedOnly && a.Acknowledged {
			continue
		}
		if deliveryID != "" && a.DeliveryID != deliveryID {
			continue
		}
		out = append(out, *a)
	}
	return out
}

// Stats aggregates alert counts by severity and by type.
type Stats struct {
	BySeverity map[Severity]int
	ByType     map[AnomalyType]int
	Total      int
}

// Stats returns aggregate alert statistics.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{BySeverity: map[Severity]int{}, ByType: map[AnomalyType]int{}}
	for _, id := range m.alertsBy {
		a := m.alerts[id]
		s.BySeverity[a.Severity]++
		s.ByType[a.AnomalyType]++
		s.Total++
	}
	return s
}

// DriverActivity is a snapshot of one driver's last known activity, used by
// the communication-loss ticker to decide which drivers need checking.
type DriverActivity struct {
	DriverID   string
	DeliveryID string
	LastSeenAt time.Time
}

// Snapshot returns the last-seen state of every driver the monitor has ever
// received a location update for.
func (m *Monitor) Snapshot() []DriverActivity {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DriverActivity, 0, len(m.drivers))
	for driverID, ds := range m.drivers {
		out = append(out, DriverActivity{DriverID: driverID, DeliveryID: ds.lastDeliveryID, LastSeenAt: ds.lastSeenAt})
	}
	return out
}
