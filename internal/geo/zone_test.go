package geo

import "testing"

func TestZoneIDRoundTripsToNearbyCenter(t *testing.T) {
	p := Point{Lat: -1.286, Lng: 36.817}
	zid := ZoneID(p, 8)
	if zid == "" {
		t.Fatal("expected non-empty zone id")
	}
	center, ok := ZoneCenter(zid)
	if !ok {
		t.Fatalf("expected ZoneCenter to resolve %q", zid)
	}
	if HaversineMeters(p, center) > 2000 {
		t.Fatalf("zone center too far from point: %.2fm", HaversineMeters(p, center))
	}
}

func TestZoneIDClampsResolution(t *testing.T) {
	p := Point{Lat: 10, Lng: 10}
	if ZoneID(p, 20) != ZoneID(p, 9) {
		t.Fatal("expected resolution clamp to 9")
	}
}

func TestZoneCenterRejectsGarbage(t *testing.T) {
	if _, ok := ZoneCenter("not-a-cell"); ok {
		t.Fatal("expected invalid cell id to be rejected")
	}
}
