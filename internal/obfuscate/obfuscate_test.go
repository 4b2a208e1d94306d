package obfuscate

import (
	"testing"

	"github.com/lastmile/courier-core/internal/geo"
)

func TestObfuscateClampsResolutionAndNeverLeaksRaw(t *testing.T) {
	raw := geo.Point{Lat: -1.2864, Lng: 36.8172}
	loc := Obfuscate(raw, 20)
	if loc.Resolution != 9 {
		t.Fatalf("expected clamp to 9, got %d", loc.Resolution)
	}
	if loc.MovementState != MovementUnknown {
		t.Fatalf("expected unknown movement state, got %s", loc.MovementState)
	}
	if loc.ZoneID == "" {
		t.Fatal("expected non-empty zone id")
	}
}

func TestObfuscateIsDeterministicForSamePoint(t *testing.T) {
	raw := geo.Point{Lat: 10, Lng: 20}
	a := Obfuscate(raw, 8)
	b := Obfuscate(raw, 8)
	if a.ZoneID != b.ZoneID {
		t.Fatalf("expected same zone id for same point/resolution, got %s vs %s", a.ZoneID, b.ZoneID)
	}
}
