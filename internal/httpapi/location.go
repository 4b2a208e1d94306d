package httpapi

import (
	"net/http"

	"github.com/lastmile/courier-core/internal/access"
	"github.com/lastmile/courier-core/internal/apierrors"
	"github.com/lastmile/courier-core/internal/audit"
	"github.com/lastmile/courier-core/internal/geo"
	"github.com/lastmile/courier-core/internal/obfuscate"
)

type updateLocationRequest struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DeliveryID string  `json:"deliveryId"`
	VehicleID  string  `json:"vehicleId"`
}

// handleUpdateLocation accepts a driver's raw fix, obfuscates it immediately,
// feeds the result to the security monitor, and never persists or logs the
// raw coordinates themselves.
func (d *Deps) handleUpdateLocation(w http.ResponseWriter, r *http.Request) {
	claims, ok := d.requirePermission(w, r, access.ParsePermission("write", "delivery_status"))
	if !ok {
		return
	}
	driverID := pathVar(r, "driverId")

	var req updateLocationRequest
	if err := decodeJSON(r, &req); err != nil {
		apierrors.Write(w, apierrors.ValidationInvalid, "invalid request body", requestIDFrom(r), nil)
		return
	}

	raw := geo.Point{Lat: req.Lat, Lng: req.Lng}
	loc := obfuscate.Obfuscate(raw, geo.ResolutionForGridSizeMeters(d.LocationGridSizeMeters))

	if d.Monitor != nil {
		alerts := d.Monitor.ProcessLocationUpdate(req.DeliveryID, driverID, loc, req.VehicleID)
		for _, a := range alerts {
			if d.Realtime != nil {
				d.Realtime.BroadcastToRoles("alert:security", []string{"security_officer", "dispatcher"}, a)
			}
		}
	}

	d.audit(claims.UserID, "location.update", req.DeliveryID, audit.ResultSuccess, map[string]any{"driverId": driverID, "zoneId": loc.ZoneID})
	writeJSON(w, r, http.StatusOK, loc)
}

// handleGetLocation is a placeholder read surface for the last known
// obfuscated location of a driver; callers that need history use the
// security alert/stats endpoints instead, since this component keeps no
// durable per-driver location log beyond its bounded FIFO.
func (d *Deps) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.requirePermission(w, r, access.ParsePermission("read", "assigned_delivery")); !ok {
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"driverId": pathVar(r, "driverId")})
}

func (d *Deps) handleZoneCenter(w http.ResponseWriter, r *http.Request) {
	if _, ok := d.requireAuth(w, r); !ok {
		return
	}
	center, ok := obfuscate.ZoneCenter(pathVar(r, "zoneId"))
	if !ok {
		apierrors.Write(w, apierrors.PrivacyZoneUnavailable, "zone not resolvable", requestIDFrom(r), nil)
		return
	}
	writeJSON(w, r, http.StatusOK, center)
}
