// Package obfuscate turns raw GPS coordinates into the zone-grained
// ObfuscatedLocation that is the only location representation ever allowed
// to leave the process outside the emergency path.
package obfuscate

import (
	"time"

	"github.com/lastmile/courier-core/internal/geo"
)

// MovementState describes whether a driver appears to be moving, based on
// location history the obfuscator itself does not keep.
type MovementState string

const (
	MovementStationary MovementState = "stationary"
	MovementMoving     MovementState = "moving"
	MovementUnknown    MovementState = "unknown"
)

// Location replaces RawCoordinates everywhere outside the emergency path.
type Location struct {
	ZoneID         string        `json:"zoneId"`
	ApproxTime     string        `json:"approxTime"` // RFC3339Nano
	MovementState  MovementState `json:"movementState"`
	Resolution     int           `json:"resolution"`
}

// Obfuscate is a pure function from raw coordinates to a zone-grained
// location. resolution is clamped to [7, 9]; movementState is always
// "unknown" at this layer since only higher layers track location history.
func Obfuscate(raw geo.Point, resolution int) Location {
	res := geo.ClampResolution(resolution)
	return Location{
		ZoneID:        geo.ZoneID(raw, res),
		ApproxTime:    time.Now().UTC().Format(time.RFC3339Nano),
		MovementState: MovementUnknown,
		Resolution:    res,
	}
}

// ZoneCenter resolves a zone id back to its hexagonal cell's centroid, for
// endpoints like GET /zones/:id/center that need an approximate point
// without ever handling the original raw coordinates.
func ZoneCenter(zoneID string) (geo.Point, bool) {
	return geo.ZoneCenter(zoneID)
}
