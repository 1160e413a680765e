package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceMetersKnownFixture(t *testing.T) {
	// One degree of longitude on the equator.
	d, err := DistanceMeters(Point{0, 0}, Point{0, 1})
	if err != nil {
		t.Fatalf("DistanceMeters failed: %v", err)
	}
	if math.Abs(d-111195) > 50 {
		t.Errorf("DistanceMeters((0,0),(0,1)) = %v, want 111195 +/- 50", d)
	}
}

func TestDistanceMetersSymmetry(t *testing.T) {
	pairs := []struct {
		a, b Point
	}{
		{Point{0, 0}, Point{0, 1}},
		{Point{51.5074, -0.1278}, Point{48.8566, 2.3522}},
		{Point{-33.8688, 151.2093}, Point{35.6762, 139.6503}},
		{Point{89.9, 0}, Point{-89.9, 180}},
	}

	for _, tt := range pairs {
		ab, err := DistanceMeters(tt.a, tt.b)
		if err != nil {
			t.Fatalf("DistanceMeters(%v, %v) failed: %v", tt.a, tt.b, err)
		}
		ba, err := DistanceMeters(tt.b, tt.a)
		if err != nil {
			t.Fatalf("DistanceMeters(%v, %v) failed: %v", tt.b, tt.a, err)
		}
		if ab != ba {
			t.Errorf("distance not symmetric: %v vs %v", ab, ba)
		}
	}
}

func TestDistanceMetersSamePoint(t *testing.T) {
	p := Point{51.5074, -0.1278}
	d, err := DistanceMeters(p, p)
	if err != nil {
		t.Fatalf("DistanceMeters failed: %v", err)
	}
	if d != 0 {
		t.Errorf("DistanceMeters(p, p) = %v, want 0", d)
	}
}

func TestDistanceMetersInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		a, b Point
	}{
		{"nan latitude", Point{math.NaN(), 0}, Point{0, 0}},
		{"inf longitude", Point{0, math.Inf(1)}, Point{0, 0}},
		{"latitude out of range", Point{91, 0}, Point{0, 0}},
		{"longitude out of range", Point{0, 0}, Point{0, -181}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DistanceMeters(tt.a, tt.b)
			if !errors.Is(err, ErrInvalidCoordinate) {
				t.Errorf("expected ErrInvalidCoordinate, got %v", err)
			}
		})
	}
}
