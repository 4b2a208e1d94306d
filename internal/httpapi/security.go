package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/security"
)

func (d *Deps) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("read", "security_alert"))
	if !ok {
		return
	}
	q := r.URL.Query()
	sev := security.Severity(q.Get("severity"))
	unackOnly := q.Get("unacknowledged") == "true"
	deliveryID := q.Get("deliveryId")

	alerts := d.Monitor.ListAlerts(sev, unackOnly, deliveryID)
	d.audit(claims.UserID, "security.alert.list", deliveryID, audit.ResultSuccess, map[string]any{"count": len(alerts)})
	writeJSON(w, r, http.StatusOK, alerts)
}

type ackAlertRequest struct {
	ActorID string `json:"actorId"`
}

func (d *Deps) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "security_alert"))
	if !ok {
		return
	}
	var req ackAlertRequest
	_ = decodeJSON(r, &req)
	actor := req.ActorID
	if actor == "" {
		actor = claims.UserID
	}
	alertID := pathVar(r, "alertId")
	a, err := d.Monitor.Acknowledge(alertID, actor)
	if err != nil {
		d.audit(claims.UserID, "security.alert.ack", alertID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.DeliveryNotFound, "alert not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "security.alert.ack", alertID, audit.ResultSuccess, map[string]any{"actorId": actor})
	writeJSON(w, r, http.StatusOK, a)
}

type resolveAlertRequest struct {
	ActorID string `json:"actorId"`
	Status  string `json:"status"`
	Note    string `json:"note"`
}

func (d *Deps) handleResolveAlert(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "security_alert"))
	if !ok {
		return
	}
	var req resolveAlertRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	actor := req.ActorID
	if actor == "" {
		actor = claims.UserID
	}
	alertID := pathVar(r, "alertId")
	a, err := d.Monitor.Resolve(alertID, actor, security.AlertStatus(req.Status), req.Note)
	if err != nil {
		d.audit(claims.UserID, "security.alert.resolve", alertID, audit.ResultFailure, nil)
		apierrors.Write(w, apierrors.DeliveryNotFound, "alert not found", requestIDFrom(r), nil)
		return
	}
	d.audit(claims.UserID, "security.alert.resolve", alertID, audit.ResultSuccess, map[string]any{"actorId": actor, "status": req.Status})
	writeJSON(w, r, http.StatusOK, a)
}

func (d *Deps) handleSecurityStats(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.requirePermission(w, r, access.ParsePermission("read", "security_alert")); !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, d.Monitor.Stats())
}

type registerExpectedRouteRequest struct {
	DeliveryID   string   `json:"deliveryId"`
	ZoneSequence []string `json:"zoneSequence"`
}

// handleRegisterExpectedRoute feeds Monitor.detectRouteDeviation its baseline:
// without a registered zone sequence for a delivery, route deviation is never
// flagged for it.
func (d *Deps) handleRegisterExpectedRoute(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_assignment"))
	if !ok {
		return
	}
	var req registerExpectedRouteRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}
	if req.DeliveryID == "" || len(req.ZoneSequence) == 0 {
		apierrors.Write(w, apierrors.ValidationInvalid, "deliveryId and zoneSequence are required", requestIDFrom(r), nil)
		return
	}
	d.Monitor.RegisterExpectedRoute(req.DeliveryID, req.ZoneSequence)
	d.audit(claims.UserID, "security.route.register", req.DeliveryID, audit.ResultSuccess, map[string]any{"zones": req.ZoneSequence})
	writeJSON(w, r, http.StatusCreated, map[string]string{"status": "registered"})
}
