package geo

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{name: "same point", lat1: 28.6139, lon1: 77.2090, lat2: 28.6139, lon2: 77.2090, want: 0, tolerance: 1e-9},
		{name: "one degree of latitude", lat1: 0, lon1: 0, lat2: 1, lon2: 0, want: 111194.93, tolerance: 0.5},
		{name: "one degree of longitude on the equator", lat1: 0, lon1: 0, lat2: 0, lon2: 1, want: 111194.93, tolerance: 0.5},
		{name: "antipodal", lat1: 0, lon1: 0, lat2: 0, lon2: 180, want: math.Pi * EarthRadiusMeters, tolerance: 1},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2)
			if math.Abs(got-tc.want) > tc.tolerance {
				t.Fatalf("Distance() = %.3f, want %.3f ± %.3f", got, tc.want, tc.tolerance)
			}
		})
	}
}

func TestDistanceIsSymmetric(t *testing.T) {
	t.Parallel()

	a := Distance(26.1445, 91.7362, 26.1449, 91.7365)
	b := Distance(26.1449, 91.7365, 26.1445, 91.7362)
	if math.Abs(a-b) > 1e-9 {
		t.Fatalf("expected symmetric distance, got %f and %f", a, b)
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{name: "origin", lat: 0, lon: 0, want: true},
		{name: "bounds", lat: -90, lon: 180, want: true},
		{name: "latitude too large", lat: 90.0001, lon: 0, want: false},
		{name: "longitude too small", lat: 0, lon: -180.5, want: false},
		{name: "nan", lat: math.NaN(), lon: 0, want: false},
		{name: "inf", lat: 0, lon: math.Inf(1), want: false},
	}

	for _, tc := range tests {
		if got := Valid(tc.lat, tc.lon); got != tc.want {
			t.Errorf("%s: Valid(%v, %v) = %v, want %v", tc.name, tc.lat, tc.lon, got, tc.want)
		}
	}
}
