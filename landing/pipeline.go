package landing

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/Claudio-Chies/tracktor-beam/pnp"
)

// Outcome tags what happened to one marker within one frame. A non-solved
// outcome is always local to its marker: siblings in the same frame and all
// subsequent frames are unaffected.
type Outcome string

const (
	OutcomeSolved        Outcome = "solved"
	OutcomeScaleSkipped  Outcome = "scale_skipped"
	OutcomePoseFailed    Outcome = "pose_failed"
	OutcomeNoCalibration Outcome = "no_calibration"
)

// Result is the per-marker outcome of one frame pass. Pose is set only when
// Outcome is OutcomeSolved.
type Result struct {
	Marker     Marker
	Outcome    Outcome
	MarkerSize float64 // meters, zero unless estimated
	Altitude   float64 // meters, the value read for this marker
	Pose       *pnp.Pose
}

// MarkerObjectPoints is the canonical planar marker model: a square of the
// given side length centered at the origin in the marker's own plane
// (z = 0), ordered to correspond exactly to the detector's corner winding.
func MarkerObjectPoints(size float64) [4]r2.Point {
	h := size / 2
	return [4]r2.Point{
		{X: -h, Y: h},  // top left
		{X: h, Y: h},   // top right
		{X: h, Y: -h},  // bottom right
		{X: -h, Y: -h}, // bottom left
	}
}

// Pipeline runs the detect → estimate-scale → solve-pose → annotate pass
// over single frames. It holds no cross-frame state: the same frame with
// the same altitude always produces the same results. A nil calibration
// puts the pipeline in detect-only (degraded) mode.
type Pipeline struct {
	detector    Detector
	calibration *CameraCalibration
	altitude    *AltitudeCell
	opts        AnnotationOptions
	logger      logging.Logger
}

func NewPipeline(
	detector Detector,
	calibration *CameraCalibration,
	altitude *AltitudeCell,
	opts AnnotationOptions,
	logger logging.Logger,
) *Pipeline {
	return &Pipeline{
		detector:    detector,
		calibration: calibration,
		altitude:    altitude,
		opts:        opts,
		logger:      logger,
	}
}

// Process runs one frame through the pipeline, returning the annotated
// frame and the per-marker results. A frame with zero markers is returned
// unmodified with no error. Process only errors when the frame itself is
// unusable (detection failed); such an error drops this frame only.
func (p *Pipeline) Process(ctx context.Context, frame image.Image) (image.Image, []Result, error) {
	markers, err := p.detector.Detect(ctx, frame)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marker detection")
	}
	if len(markers) == 0 {
		return frame, nil, nil
	}

	results := make([]Result, 0, len(markers))
	for _, m := range markers {
		results = append(results, p.processMarker(m))
	}
	return Annotate(frame, results, p.calibration, p.opts), results, nil
}

func (p *Pipeline) processMarker(m Marker) Result {
	res := Result{Marker: m, Outcome: OutcomeNoCalibration}
	if p.calibration == nil {
		return res
	}

	altitude := p.altitude.Current()
	res.Altitude = altitude

	if !m.FiniteCorners() {
		res.Outcome = OutcomeScaleSkipped
		return res
	}
	size, err := EstimateMarkerSize(m, altitude, p.calibration.FocalLengthX())
	if err != nil {
		res.Outcome = OutcomeScaleSkipped
		return res
	}
	res.MarkerSize = size

	pose, err := pnp.SolvePlanar(MarkerObjectPoints(size), m.Corners, p.calibration.Intrinsics, p.calibration.Distortion)
	if err != nil {
		p.logger.Debugw("pose solve failed, skipping marker", "marker_id", m.ID, "error", err)
		res.Outcome = OutcomePoseFailed
		return res
	}
	p.logger.Debugf("marker %d: size %.3fm at altitude %.2fm", m.ID, size, altitude)
	res.Outcome = OutcomeSolved
	res.Pose = &pose
	return res
}
