package landing

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
)

func squareMarker(id int, centerX, centerY, side float64) Marker {
	h := side / 2
	return Marker{
		ID: id,
		Corners: [4]r2.Point{
			{X: centerX - h, Y: centerY - h}, // top left (image y grows down)
			{X: centerX + h, Y: centerY - h}, // top right
			{X: centerX + h, Y: centerY + h}, // bottom right
			{X: centerX - h, Y: centerY + h}, // bottom left
		},
	}
}

func TestEstimateMarkerSize(t *testing.T) {
	// 50px wide at fx=500 and 2m of clearance subtends 0.2m.
	m := squareMarker(7, 320, 240, 50)
	size, err := EstimateMarkerSize(m, 2.0, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(size-0.2) > 1e-12 {
		t.Errorf("expected size 0.2, got %v", size)
	}
}

func TestEstimateMarkerSizeScalesWithAltitude(t *testing.T) {
	m := squareMarker(7, 320, 240, 50)
	low, err := EstimateMarkerSize(m, 1.0, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	high, err := EstimateMarkerSize(m, 4.0, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(high-4*low) > 1e-12 {
		t.Errorf("size should scale linearly with altitude: %v vs %v", low, high)
	}
}

func TestEstimateMarkerSizeZeroFocalLength(t *testing.T) {
	m := squareMarker(7, 320, 240, 50)
	_, err := EstimateMarkerSize(m, 2.0, 0)
	if !errors.Is(err, ErrInvalidScale) {
		t.Errorf("expected ErrInvalidScale, got %v", err)
	}
}

func TestEstimateMarkerSizeCoincidentCorners(t *testing.T) {
	// A degenerate zero-width marker yields size 0, which is finite and
	// therefore not a scale error; downstream pose solving rejects it.
	m := squareMarker(7, 100, 100, 0)
	size, err := EstimateMarkerSize(m, 2.0, 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 0 {
		t.Errorf("expected size 0, got %v", size)
	}
}

func TestFiniteCorners(t *testing.T) {
	m := squareMarker(1, 320, 240, 50)
	if !m.FiniteCorners() {
		t.Error("expected finite corners")
	}
	m.Corners[2].X = math.NaN()
	if m.FiniteCorners() {
		t.Error("expected NaN corner to be rejected")
	}
	m.Corners[2].X = math.Inf(1)
	if m.FiniteCorners() {
		t.Error("expected Inf corner to be rejected")
	}
}
