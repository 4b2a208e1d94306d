package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/emergency"
)

type panicRequest struct {
	DriverID   string  `json:"driverId"`
	DeliveryID string  `json:"deliveryId"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
}

// handlePanic is the only location-bearing endpoint permitted to carry raw
// coordinates in its request and broadcast payload.
func (d *Deps) handlePanic(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "emergency"))
	if !ok {
		return
	}
	var req panicRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	e, err := d.Emergency.Panic(req.DriverID, emergency.RawLocation{Lat: req.Lat, Lng: req.Lng}, req.DeliveryID)
	if err != nil && err != emergency.ErrAlreadyActive {
		d.audit(claims.UserID, "emergency.panic", req.DeliveryID, audit.ResultFailure, map[string]any{"driverId": req.DriverID})
		apierrors.Write(w, apierrors.Internal, "panic handling failed", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "emergency.panic", req.DeliveryID, audit.ResultSuccess, map[string]any{"driverId": req.DriverID})
	writeJSON(w, r, http.StatusAccepted, e)
}

type accelerometerRequest struct {
	DriverID   string  `json:"driverId"`
	DeliveryID string  `json:"deliveryId"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
}

func (d *Deps) handleAccelerometer(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "emergency"))
	if !ok {
		return
	}
	var req accelerometerRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	e, err := d.Emergency.Accelerometer(req.DriverID,
		emergency.AccelReading{X: req.X, Y: req.Y, Z: req.Z},
		emergency.RawLocation{Lat: req.Lat, Lng: req.Lng}, req.DeliveryID)
	if err != nil && err != emergency.ErrAlreadyActive {
		d.audit(claims.UserID, "emergency.accelerometer", req.DeliveryID, audit.ResultFailure, map[string]any{"driverId": req.DriverID})
		apierrors.Write(w, apierrors.Internal, "accelerometer handling failed", requestIDFrom(r), nil)
		return
	}
	if e == nil {
		writeJSON(w, r, http.StatusOK, map[string]bool{"triggered": false})
		return
	}
	d.audit(claims.UserID, "emergency.accelerometer", req.DeliveryID, audit.ResultSuccess, map[string]any{"driverId": req.DriverID})
	writeJSON(w, r, http.StatusAccepted, e)
}

type ackEmergencyRequest struct {
	ActorID string `json:"actorId"`
}

func (d *Deps) handleAckEmergency(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("read", "emergency"))
	if !ok {
		return
	}
	var req ackEmergencyRequest
	_ = decodeJSON(r, &req)
	actor := req.ActorID
	if actor == "" {
		actor = claims.UserID
	}
	emergencyID := pathVar(r, "emergencyId")
	e, err := d.Emergency.Acknowledge(emergencyID, actor)
	if err != nil {
		d.audit(claims.UserID, "emergency.ack", emergencyID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.EmergencyNotFound, "emergency not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "emergency.ack", emergencyID, audit.ResultSuccess, map[string]any{"actorId": actor})
	writeJSON(w, r, http.StatusOK, e)
}

type resolveEmergencyRequest struct {
	ActorID string `json:"actorId"`
	Note    string `json:"note"`
}

func (d *Deps) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "emergency"))
	if !ok {
		return
	}
	var req resolveEmergencyRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = claims.UserID
	}
	emergencyID := pathVar(r, "emergencyId")
	e, err := d.Emergency.Resolve(emergencyID, actor, req.Note)
	if err != nil {
		d.audit(claims.UserID, "emergency.resolve", emergencyID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.EmergencyNotFound, "emergency not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "emergency.resolve", emergencyID, audit.ResultSuccess, map[string]any{"actorId": actor})
	writeJSON(w, r, http.StatusOK, e)
}

func (d *Deps) handleListEmergencies(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("read", "emergency"))
	if !ok {
		return
	}
	list := d.Emergency.List()
	d.audit(claims.UserID, "emergency.list", "", audit.ResultSuccess, map[string]any{"count": len(list)})
	writeJSON(w, r, http.StatusOK, list)
}
