package geo

import "github.com/uber/h3-go/v4"

// ZoneID returns the hexagonal grid cell identifier containing p at the
// given resolution. resolution is clamped to [7, 9] before the lookup.
func ZoneID(p Point, resolution int) string {
	res := ClampResolution(resolution)
	cell := h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, res)
	return cell.String()
}

// ZoneCenter returns the centroid of the hexagonal cell identified by
// zoneID. ok is false if zoneID does not parse as a valid cell.
func ZoneCenter(zoneID string) (Point, bool) {
	var cell h3.Cell
	if err := cell.UnmarshalText([]byte(zoneID)); err != nil {
		return Point{}, false
	}
	ll := cell.LatLng()
	return Point{Lat: ll.Lat, Lng: ll.Lng}, true
}
