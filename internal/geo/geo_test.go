package geo

import (
	"math"
	"testing"
)

func TestHaversineMetersKnownDistance(t *testing.T) {
	driver := Point{Lat: -1.286, Lng: 36.817}
	delivery := Point{Lat: -1.2861, Lng: 36.8171}
	d := HaversineMeters(driver, delivery)
	if d < 10 || d > 25 {
		t.Fatalf("expected distance near 16m, got %.2f", d)
	}
}

func TestHaversineZeroForSamePoint(t *testing.T) {
	p := Point{Lat: 10, Lng: 20}
	if d := HaversineMeters(p, p); d != 0 {
		t.Fatalf("expected 0, got %.4f", d)
	}
}

func TestBearingDegreesNormalized(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 1, Lng: 0}
	deg := BearingDegrees(a, b)
	if deg < 0 || deg >= 360 {
		t.Fatalf("expected [0,360), got %.2f", deg)
	}
	if math.Abs(deg-0) > 1 {
		t.Fatalf("expected ~0 degrees due north, got %.2f", deg)
	}
}

func TestClampResolution(t *testing.T) {
	cases := map[int]int{5: 7, 7: 7, 8: 8, 9: 9, 12: 9}
	for in, want := range cases {
		if got := ClampResolution(in); got != want {
			t.Fatalf("ClampResolution(%d) = %d, want %d", in, got, want)
		}
	}
}
