package landing

import (
	"context"
	"image"
	"math"

	"github.com/golang/geo/r2"
)

// Corner indices into Marker.Corners. The winding matches what the ArUco
// detector reports for an upright marker.
const (
	CornerTopLeft = iota
	CornerTopRight
	CornerBottomRight
	CornerBottomLeft
)

// Marker is one fiducial detection in a single frame: its dictionary ID and
// the four corner pixel coordinates. Markers are produced fresh per frame
// and never persisted.
type Marker struct {
	ID      int
	Corners [4]r2.Point
}

// FiniteCorners reports whether all corner coordinates are finite numbers.
func (m Marker) FiniteCorners() bool {
	for _, c := range m.Corners {
		if math.IsNaN(c.X) || math.IsInf(c.X, 0) || math.IsNaN(c.Y) || math.IsInf(c.Y, 0) {
			return false
		}
	}
	return true
}

// Detector finds fiducial markers in a frame. Implementations are configured
// with a fixed marker dictionary at construction and must be side-effect free
// per frame: an empty result is not an error, and callers must not depend on
// the order markers are reported in.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]Marker, error)
	Close() error
}
