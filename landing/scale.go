package landing

import (
	"math"

	"github.com/pkg/errors"

	"github.com/Claudio-Chies/tracktor-beam/utils"
)

// ErrInvalidScale is returned when the estimated marker size is not a finite
// number, which happens when the focal length is degenerate or the marker
// corners are coincident. Such markers are skipped for pose estimation.
var ErrInvalidScale = errors.New("estimated marker size is not finite")

// EstimateMarkerSize infers the physical side length of a marker from its
// pixel footprint and the vehicle's ground clearance, via the thin-lens
// relation size = (pixelWidth / fx) * altitude. The pixel width is measured
// along the top-left to top-right edge. The estimate assumes the marker
// plane is parallel to the image plane at the measured altitude, so it is
// only trustworthy when the vehicle is near-vertical over the target; no
// plausibility bounds are applied beyond finiteness.
func EstimateMarkerSize(m Marker, altitudeMeters, focalLengthX float64) (float64, error) {
	pixelWidth := utils.PixelDistance(m.Corners[CornerTopLeft], m.Corners[CornerTopRight])
	size := (pixelWidth / focalLengthX) * altitudeMeters
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return 0, ErrInvalidScale
	}
	return size, nil
}
