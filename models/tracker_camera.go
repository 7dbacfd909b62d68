package models

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/spatialmath"
	rdkutils "go.viam.com/rdk/utils"

	"github.com/Claudio-Chies/tracktor-beam/detectors"
	"github.com/Claudio-Chies/tracktor-beam/landing"
	"github.com/Claudio-Chies/tracktor-beam/utils"
)

var (
	TrackerCamera = resource.NewModel("claudio", "tracktor-beam", "tracker-camera")
)

func init() {
	resource.RegisterComponent(camera.API, TrackerCamera,
		resource.Registration[camera.Camera, *TrackerCameraConfig]{
			Constructor: newTrackerCamera,
		},
	)
}

type TrackerCameraConfig struct {
	CameraName       string  `json:"camera_name"`
	RangeSensorName  string  `json:"range_sensor_name"`
	CalibrationPath  string  `json:"calibration_path"`
	MarkerDictionary string  `json:"marker_dictionary"` // fixed marker vocabulary, e.g. "4x4_250"
	DistanceKey      string  `json:"distance_key"`      // key of the distance reading, meters
	AltitudePollHz   float64 `json:"altitude_poll_hz"`
	OutlineColor     string  `json:"outline_color"`
	AxisLengthScale  float64 `json:"axis_length_scale"` // axis overlay length as a multiple of marker size
	LineWidth        float64 `json:"line_width"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
func (cfg *TrackerCameraConfig) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, errors.New("camera_name is required")
	}
	if cfg.RangeSensorName == "" {
		return nil, nil, errors.New("range_sensor_name is required")
	}
	if cfg.CalibrationPath == "" {
		return nil, nil, errors.New("calibration_path is required")
	}
	// Set defaults for optional parameters
	if cfg.MarkerDictionary == "" {
		cfg.MarkerDictionary = detectors.DefaultDictionary
	}
	if cfg.DistanceKey == "" {
		cfg.DistanceKey = "distance"
	}
	if cfg.AltitudePollHz == 0 {
		cfg.AltitudePollHz = 10
	}
	if cfg.AltitudePollHz < 0 {
		return nil, nil, errors.New("altitude_poll_hz must be greater than 0")
	}
	if cfg.OutlineColor == "" {
		cfg.OutlineColor = "green"
	}
	if cfg.AxisLengthScale == 0 {
		cfg.AxisLengthScale = 1.0
	}
	if cfg.AxisLengthScale < 0 {
		return nil, nil, errors.New("axis_length_scale must be greater than 0")
	}
	if cfg.LineWidth == 0 {
		cfg.LineWidth = 2
	}
	if cfg.LineWidth < 0 {
		return nil, nil, errors.New("line_width must be greater than 0")
	}
	return []string{cfg.CameraName, cfg.RangeSensorName}, nil, nil
}

type trackerCamera struct {
	name   resource.Name
	logger logging.Logger

	cancelCtx  context.Context
	cancelFunc func()
	workers    sync.WaitGroup

	altitude *landing.AltitudeCell

	// frameMu is read-held across a full frame pass so that writers
	// (detector swap on reconfigure, Close) never release the gocv
	// detector while a frame still calls into it. Always acquired
	// before mu.
	frameMu sync.RWMutex

	mu            sync.RWMutex
	detector      landing.Detector
	cfg           *TrackerCameraConfig
	underlyingCam camera.Camera
	rangeSensor   sensor.Sensor
	pipeline      *landing.Pipeline
	lastResults   []landing.Result
	lastFrameAt   time.Time
}

func newTrackerCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*TrackerCameraConfig](rawConf)
	if err != nil {
		return nil, err
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	s := &trackerCamera{
		name:       rawConf.ResourceName(),
		logger:     logger,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		altitude:   landing.NewAltitudeCell(),
	}
	if err := s.applyConfig(deps, conf); err != nil {
		cancelFunc()
		return nil, err
	}

	s.workers.Add(1)
	go s.altitudeLoop(cancelCtx)

	return s, nil
}

// applyConfig wires dependencies and rebuilds the pipeline. The detector is
// only rebuilt when the dictionary changes, since it owns OpenCV resources;
// the previous detector is closed only once no in-flight frame can still
// reference it.
func (s *trackerCamera) applyConfig(deps resource.Dependencies, conf *TrackerCameraConfig) error {
	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return err
	}
	rangeSensor, err := sensor.FromDependencies(deps, conf.RangeSensorName)
	if err != nil {
		return err
	}

	s.mu.RLock()
	rebuildDetector := s.detector == nil || s.cfg == nil || s.cfg.MarkerDictionary != conf.MarkerDictionary
	s.mu.RUnlock()

	var detector landing.Detector
	if rebuildDetector {
		detector, err = detectors.NewArucoDetector(conf.MarkerDictionary)
		if err != nil {
			return err
		}
	}

	// A missing or unusable calibration degrades to detect-only mode for
	// the lifetime of this config; it never prevents startup.
	calibration, err := landing.LoadCalibration(conf.CalibrationPath)
	if err != nil {
		s.logger.Warnf("camera calibration failed to load, running detect-only, pose estimation disabled: %v", err)
		calibration = nil
	}

	opts := landing.AnnotationOptions{
		OutlineColor:    parseColor(conf.OutlineColor),
		AxisLengthScale: conf.AxisLengthScale,
		LineWidth:       conf.LineWidth,
	}

	// Taking frameMu as a writer waits out in-flight frame passes, so the
	// detector being retired is guaranteed idle before it is closed.
	s.frameMu.Lock()
	s.mu.Lock()
	var oldDetector landing.Detector
	if rebuildDetector {
		oldDetector = s.detector
		s.detector = detector
	}
	s.cfg = conf
	s.underlyingCam = cam
	s.rangeSensor = rangeSensor
	s.pipeline = landing.NewPipeline(s.detector, calibration, s.altitude, opts, s.logger)
	s.mu.Unlock()
	s.frameMu.Unlock()

	if oldDetector != nil {
		if err := oldDetector.Close(); err != nil {
			s.logger.Warnf("failed to close previous detector: %v", err)
		}
	}
	return nil
}

func (s *trackerCamera) Reconfigure(ctx context.Context, deps resource.Dependencies, rawConf resource.Config) error {
	conf, err := resource.NativeConfig[*TrackerCameraConfig](rawConf)
	if err != nil {
		return err
	}
	return s.applyConfig(deps, conf)
}

func (s *trackerCamera) Name() resource.Name {
	return s.name
}

func (s *trackerCamera) Close(context.Context) error {
	s.cancelFunc()
	s.workers.Wait()

	// Wait for in-flight frame passes before releasing the detector.
	s.frameMu.Lock()
	defer s.frameMu.Unlock()
	s.mu.Lock()
	detector := s.detector
	s.detector = nil
	s.mu.Unlock()
	if detector != nil {
		return detector.Close()
	}
	return nil
}

// altitudeLoop polls the rangefinder and overwrites the altitude cell with
// the latest ground-clearance value. The frame path never waits on this
// loop; it just reads whatever the cell holds.
func (s *trackerCamera) altitudeLoop(ctx context.Context) {
	defer s.workers.Done()

	s.mu.RLock()
	interval := time.Duration(float64(time.Second) / s.cfg.AltitudePollHz)
	s.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			rangeSensor := s.rangeSensor
			key := s.cfg.DistanceKey
			newInterval := time.Duration(float64(time.Second) / s.cfg.AltitudePollHz)
			s.mu.RUnlock()
			if newInterval != interval {
				interval = newInterval
				ticker.Reset(interval)
			}

			readings, err := rangeSensor.Readings(ctx, nil)
			if err != nil {
				s.logger.Debugw("rangefinder read failed", "error", err)
				continue
			}
			meters, ok := distanceFromReadings(readings, key)
			if !ok {
				s.logger.Debugw("rangefinder readings missing distance", "key", key)
				continue
			}
			s.altitude.Update(meters)
		}
	}
}

func distanceFromReadings(readings map[string]interface{}, key string) (float64, bool) {
	v, ok := readings[key]
	if !ok {
		return 0, false
	}
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	default:
		return 0, false
	}
}

func (s *trackerCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"].(string)
	if !ok {
		return nil, errors.New("command must be a string")
	}
	switch name {
	case "get_detections":
		s.mu.RLock()
		results := s.lastResults
		frameAt := s.lastFrameAt
		s.mu.RUnlock()

		detections := make([]interface{}, 0, len(results))
		for _, res := range results {
			detections = append(detections, resultToMap(res))
		}
		out := map[string]interface{}{
			"detections": detections,
			"altitude_m": s.altitude.Current(),
		}
		if !frameAt.IsZero() {
			out["frame_age_ms"] = float64(time.Since(frameAt).Milliseconds())
		}
		return out, nil
	case "get_altitude":
		meters, age, ok := s.altitude.CurrentWithAge()
		return map[string]interface{}{
			"altitude_m":  meters,
			"age_ms":      float64(age.Milliseconds()),
			"have_sample": ok,
		}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func resultToMap(res landing.Result) map[string]interface{} {
	corners := make([]interface{}, 0, len(res.Marker.Corners))
	for _, c := range res.Marker.Corners {
		corners = append(corners, map[string]float64{"x": c.X, "y": c.Y})
	}
	center := utils.Centroid(res.Marker.Corners[:])
	out := map[string]interface{}{
		"id":      res.Marker.ID,
		"outcome": string(res.Outcome),
		"corners": corners,
		"center":  map[string]float64{"x": center.X, "y": center.Y},
	}
	if res.Outcome == landing.OutcomeSolved || res.Outcome == landing.OutcomePoseFailed {
		out["marker_size_m"] = res.MarkerSize
		out["altitude_m"] = res.Altitude
	}
	if res.Pose != nil {
		out["pose"] = utils.PoseToMap(res.Pose.Spatial())
		out["rotation_vector"] = map[string]float64{
			"x": res.Pose.Rotation.X, "y": res.Pose.Rotation.Y, "z": res.Pose.Rotation.Z,
		}
		out["rotation_deg"] = utils.RadiansToDegrees(res.Pose.Rotation.Norm())
	}
	return out
}

func (s *trackerCamera) Images(ctx context.Context, mimeTypes []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()

	s.mu.RLock()
	cam := s.underlyingCam
	pipeline := s.pipeline
	s.mu.RUnlock()

	imgs, meta, err := cam.Images(ctx, mimeTypes, extra)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	resultImgs := make([]camera.NamedImage, 0, len(imgs))
	for _, namedImg := range imgs {
		img, err := namedImg.Image(ctx)
		if err != nil {
			// A frame that cannot be materialized is dropped; it must not
			// take down the stream.
			s.logger.Errorw("dropping frame, could not decode", "source", namedImg.SourceName, "error", err)
			continue
		}

		annotated, results, err := pipeline.Process(ctx, img)
		if err != nil {
			s.logger.Errorw("dropping frame, pipeline failed", "source", namedImg.SourceName, "error", err)
			continue
		}
		s.recordResults(results)

		resultImg, err := camera.NamedImageFromImage(annotated, namedImg.SourceName, namedImg.MimeType())
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		resultImgs = append(resultImgs, resultImg)
	}
	if len(resultImgs) == 0 {
		return nil, resource.ResponseMetadata{}, errors.New("no frames could be processed")
	}

	return resultImgs, meta, nil
}

func (s *trackerCamera) recordResults(results []landing.Result) {
	s.mu.Lock()
	s.lastResults = results
	s.lastFrameAt = time.Now()
	s.mu.Unlock()
}

func (s *trackerCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	img, err := s.GetImage(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if mimeType == "" {
		mimeType = rdkutils.MimeTypeJPEG
	}
	data, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return data, camera.ImageMetadata{MimeType: mimeType}, nil
}

// GetImage pulls one frame from the source camera and runs it through the
// pipeline.
func (s *trackerCamera) GetImage(ctx context.Context) (image.Image, error) {
	s.frameMu.RLock()
	defer s.frameMu.RUnlock()

	s.mu.RLock()
	cam := s.underlyingCam
	pipeline := s.pipeline
	s.mu.RUnlock()

	imgs, _, err := cam.Images(ctx, []string{"color"}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get images from underlying camera: %w", err)
	}
	if len(imgs) == 0 {
		return nil, errors.New("no images returned from underlying camera")
	}
	img, err := imgs[0].Image(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	annotated, results, err := pipeline.Process(ctx, img)
	if err != nil {
		return nil, err
	}
	s.recordResults(results)
	return annotated, nil
}

func (s *trackerCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, errors.New("next point cloud not implemented")
}

func (s *trackerCamera) Properties(ctx context.Context) (camera.Properties, error) {
	s.mu.RLock()
	cam := s.underlyingCam
	s.mu.RUnlock()
	return cam.Properties(ctx)
}

func (s *trackerCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

// parseColor converts a color name to color.Color
func parseColor(colorName string) color.Color {
	switch colorName {
	case "red":
		return color.RGBA{R: 255, A: 255}
	case "green":
		return color.RGBA{G: 255, A: 255}
	case "blue":
		return color.RGBA{B: 255, A: 255}
	case "yellow":
		return color.RGBA{R: 255, G: 255, A: 255}
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	default:
		return color.RGBA{G: 255, A: 255} // Default to green
	}
}
