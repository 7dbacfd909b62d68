package models

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage/transform"
	rdkutils "go.viam.com/rdk/utils"
	"go.viam.com/test"

	"github.com/Claudio-Chies/tracktor-beam/landing"
	"github.com/Claudio-Chies/tracktor-beam/pnp"
)

func validConfig() *TrackerCameraConfig {
	return &TrackerCameraConfig{
		CameraName:      "downward-cam",
		RangeSensorName: "rangefinder",
		CalibrationPath: "/etc/viam/calibration.json",
	}
}

func TestValidateRequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.CameraName = ""
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = validConfig()
	cfg.RangeSensorName = ""
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = validConfig()
	cfg.CalibrationPath = ""
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	deps, optional, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"downward-cam", "rangefinder"})
	test.That(t, optional, test.ShouldBeNil)

	test.That(t, cfg.MarkerDictionary, test.ShouldEqual, "4x4_250")
	test.That(t, cfg.DistanceKey, test.ShouldEqual, "distance")
	test.That(t, cfg.AltitudePollHz, test.ShouldEqual, 10.0)
	test.That(t, cfg.OutlineColor, test.ShouldEqual, "green")
	test.That(t, cfg.AxisLengthScale, test.ShouldEqual, 1.0)
	test.That(t, cfg.LineWidth, test.ShouldEqual, 2.0)
}

func TestValidateRejectsNegativeValues(t *testing.T) {
	cfg := validConfig()
	cfg.AltitudePollHz = -1
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = validConfig()
	cfg.AxisLengthScale = -0.5
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)

	cfg = validConfig()
	cfg.LineWidth = -2
	_, _, err = cfg.Validate("")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := validConfig()
	cfg.MarkerDictionary = "6x6_250"
	cfg.DistanceKey = "range_m"
	cfg.AltitudePollHz = 25
	_, _, err := cfg.Validate("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.MarkerDictionary, test.ShouldEqual, "6x6_250")
	test.That(t, cfg.DistanceKey, test.ShouldEqual, "range_m")
	test.That(t, cfg.AltitudePollHz, test.ShouldEqual, 25.0)
}

func TestDistanceFromReadings(t *testing.T) {
	got, ok := distanceFromReadings(map[string]interface{}{"distance": 2.5}, "distance")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, 2.5)

	got, ok = distanceFromReadings(map[string]interface{}{"distance": 3}, "distance")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, 3.0)

	_, ok = distanceFromReadings(map[string]interface{}{"other": 2.5}, "distance")
	test.That(t, ok, test.ShouldBeFalse)

	_, ok = distanceFromReadings(map[string]interface{}{"distance": "2.5"}, "distance")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestParseColor(t *testing.T) {
	test.That(t, parseColor("red"), test.ShouldResemble, color.Color(color.RGBA{R: 255, A: 255}))
	test.That(t, parseColor("blue"), test.ShouldResemble, color.Color(color.RGBA{B: 255, A: 255}))
	// Unknown names fall back to green.
	test.That(t, parseColor("chartreuse"), test.ShouldResemble, color.Color(color.RGBA{G: 255, A: 255}))
}

// injectCamera overrides Images on an otherwise unimplemented camera.
type injectCamera struct {
	camera.Camera
	imagesFunc func(ctx context.Context, mimeTypes []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error)
}

func (c *injectCamera) Images(ctx context.Context, mimeTypes []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	return c.imagesFunc(ctx, mimeTypes, extra)
}

type fixedDetector struct {
	markers []landing.Marker
}

func (d *fixedDetector) Detect(context.Context, image.Image) ([]landing.Marker, error) {
	return d.markers, nil
}

func (d *fixedDetector) Close() error { return nil }

// gatedDetector blocks Detect until released and fails if used after Close.
type gatedDetector struct {
	started   chan struct{}
	release   chan struct{}
	markers   []landing.Marker
	startOnce sync.Once

	mu     sync.Mutex
	closed bool
}

func (d *gatedDetector) Detect(context.Context, image.Image) ([]landing.Marker, error) {
	d.startOnce.Do(func() { close(d.started) })
	<-d.release
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, errors.New("detect called on a closed detector")
	}
	return d.markers, nil
}

func (d *gatedDetector) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// solvableMarker is a 50px square centered on the principal point of
// frameTestCalibration: a 0.2m marker seen fronto-parallel from 2m.
func solvableMarker() landing.Marker {
	return landing.Marker{
		ID: 3,
		Corners: [4]r2.Point{
			{X: 295, Y: 215},
			{X: 345, Y: 215},
			{X: 345, Y: 265},
			{X: 295, Y: 265},
		},
	}
}

func frameTestCalibration(t *testing.T) *landing.CameraCalibration {
	t.Helper()
	dist, err := transform.NewBrownConrady([]float64{0, 0, 0, 0, 0})
	test.That(t, err, test.ShouldBeNil)
	return &landing.CameraCalibration{
		Intrinsics: &transform.PinholeCameraIntrinsics{
			Width: 640, Height: 480,
			Fx: 500, Fy: 500,
			Ppx: 320, Ppy: 240,
		},
		Distortion: dist,
	}
}

func newFrameTestCamera(t *testing.T, det landing.Detector, cam camera.Camera) *trackerCamera {
	t.Helper()
	logger := logging.NewTestLogger(t)
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	s := &trackerCamera{
		name:       camera.Named("tracker"),
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		altitude:   landing.NewAltitudeCell(),
	}
	s.detector = det
	s.underlyingCam = cam
	s.pipeline = landing.NewPipeline(det, frameTestCalibration(t), s.altitude, landing.DefaultAnnotationOptions(), logger)
	s.altitude.Update(2.0)
	return s
}

func TestImagesDropsUndecodableFrame(t *testing.T) {
	goodImg := image.NewRGBA(image.Rect(0, 0, 640, 480))
	good, err := camera.NamedImageFromImage(goodImg, "color", rdkutils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)
	bad, err := camera.NamedImageFromBytes([]byte{0xde, 0xad, 0xbe, 0xef}, "depth", rdkutils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)

	capturedAt := time.Now()
	cam := &injectCamera{imagesFunc: func(context.Context, []string, map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
		return []camera.NamedImage{bad, good}, resource.ResponseMetadata{CapturedAt: capturedAt}, nil
	}}
	s := newFrameTestCamera(t, &fixedDetector{markers: []landing.Marker{solvableMarker()}}, cam)

	imgs, meta, err := s.Images(context.Background(), nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(imgs), test.ShouldEqual, 1)
	test.That(t, imgs[0].SourceName, test.ShouldEqual, "color")
	test.That(t, meta.CapturedAt, test.ShouldEqual, capturedAt)

	// The surviving frame's results were recorded for DoCommand.
	report, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "get_detections"})
	test.That(t, err, test.ShouldBeNil)
	detections, ok := report["detections"].([]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(detections), test.ShouldEqual, 1)
}

func TestImagesAllFramesUndecodable(t *testing.T) {
	bad, err := camera.NamedImageFromBytes([]byte{0xde, 0xad}, "color", rdkutils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)

	cam := &injectCamera{imagesFunc: func(context.Context, []string, map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
		return []camera.NamedImage{bad}, resource.ResponseMetadata{}, nil
	}}
	s := newFrameTestCamera(t, &fixedDetector{}, cam)

	_, _, err = s.Images(context.Background(), nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCloseWaitsForInflightFrame(t *testing.T) {
	goodImg := image.NewRGBA(image.Rect(0, 0, 640, 480))
	good, err := camera.NamedImageFromImage(goodImg, "color", rdkutils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)

	det := &gatedDetector{
		started: make(chan struct{}),
		release: make(chan struct{}),
		markers: []landing.Marker{solvableMarker()},
	}
	cam := &injectCamera{imagesFunc: func(context.Context, []string, map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
		return []camera.NamedImage{good}, resource.ResponseMetadata{}, nil
	}}
	s := newFrameTestCamera(t, det, cam)

	imagesErr := make(chan error, 1)
	go func() {
		_, _, err := s.Images(context.Background(), nil, nil)
		imagesErr <- err
	}()
	<-det.started

	closeErr := make(chan error, 1)
	go func() { closeErr <- s.Close(context.Background()) }()

	// Close must not release the detector while Detect is still running;
	// if it did, the detector would error once released below.
	time.Sleep(50 * time.Millisecond)
	close(det.release)

	test.That(t, <-imagesErr, test.ShouldBeNil)
	test.That(t, <-closeErr, test.ShouldBeNil)
}

func TestResultToMap(t *testing.T) {
	res := landing.Result{
		Marker:     solvableMarker(),
		Outcome:    landing.OutcomeSolved,
		MarkerSize: 0.2,
		Altitude:   2.0,
		Pose: &pnp.Pose{
			Rotation:    r3.Vector{X: math.Pi},
			Translation: r3.Vector{Z: 2},
		},
	}
	m := resultToMap(res)
	test.That(t, m["id"], test.ShouldEqual, 3)
	test.That(t, m["outcome"], test.ShouldEqual, "solved")

	center, ok := m["center"].(map[string]float64)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, center["x"], test.ShouldEqual, 320.0)
	test.That(t, center["y"], test.ShouldEqual, 240.0)

	deg, ok := m["rotation_deg"].(float64)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, deg, test.ShouldAlmostEqual, 180.0, 1e-9)
}
