package tracktorbeam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/erh/vmodutils"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	genericservice "go.viam.com/rdk/services/generic"
)

var (
	LandingMonitor = resource.NewModel("claudio", "tracktor-beam", "landing-monitor")
)

func init() {
	resource.RegisterService(genericservice.API, LandingMonitor,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newLandingMonitor,
		},
	)
}

type Config struct {
	TrackerCameraName string  `json:"tracker_camera_name"`
	UpdateRateHz      float64 `json:"update_rate_hz"`
	EnableOnStart     bool    `json:"enable_on_start"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit required (first return) and optional (second return) dependencies based on the config.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.TrackerCameraName == "" {
		return nil, nil, errors.New("tracker_camera_name is required")
	}
	// Set defaults for optional parameters
	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = 1.0
	}
	if cfg.UpdateRateHz < 0 {
		return nil, nil, errors.New("update_rate_hz must be greater than 0")
	}
	return nil, nil, nil
}

// landingMonitor periodically asks a tracker camera for its latest landing
// target detections and keeps the most recent report, so non-vision parts
// of the machine can poll landing state without pulling frames.
type landingMonitor struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *Config

	cancelCtx  context.Context
	cancelFunc func()

	robotClient robot.Robot

	mu         sync.Mutex
	running    bool
	loopCancel func()
	loopDone   chan struct{}
	latest     map[string]interface{}
	latestAt   time.Time
}

func newLandingMonitor(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewLandingMonitor(ctx, rawConf.ResourceName(), conf, logger)
}

func NewLandingMonitor(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())

	robotClient, err := vmodutils.ConnectToMachineFromEnv(ctx, logger)
	if err != nil {
		cancelFunc()
		return nil, fmt.Errorf("failed to connect to robot: %w", err)
	}

	s := &landingMonitor{
		name:        name,
		logger:      logger,
		cfg:         conf,
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
		robotClient: robotClient,
	}

	if conf.EnableOnStart {
		s.mu.Lock()
		s.startLocked()
		s.mu.Unlock()
		s.logger.Info("landing monitor started")
	}

	return s, nil
}

func (s *landingMonitor) Name() resource.Name {
	return s.name
}

func (s *landingMonitor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	name, ok := cmd["command"].(string)
	if !ok {
		return nil, errors.New("command must be a string")
	}
	switch name {
	case "latest":
		s.mu.Lock()
		defer s.mu.Unlock()
		out := map[string]interface{}{"running": s.running}
		if s.latest != nil {
			out["report"] = s.latest
			out["age_ms"] = float64(time.Since(s.latestAt).Milliseconds())
		}
		return out, nil
	case "enable":
		s.mu.Lock()
		defer s.mu.Unlock()
		s.startLocked()
		return map[string]interface{}{"running": true}, nil
	case "disable":
		s.mu.Lock()
		done := s.stopLocked()
		s.mu.Unlock()
		if done != nil {
			<-done
		}
		return map[string]interface{}{"running": false}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func (s *landingMonitor) startLocked() {
	if s.running {
		return
	}
	loopCtx, loopCancel := context.WithCancel(s.cancelCtx)
	s.loopCancel = loopCancel
	s.loopDone = make(chan struct{})
	s.running = true
	go s.monitorLoop(loopCtx, s.loopDone)
}

// stopLocked cancels the loop and returns its done channel; the caller must
// wait on it after releasing the mutex, since the loop takes the mutex to
// store reports.
func (s *landingMonitor) stopLocked() chan struct{} {
	if !s.running {
		return nil
	}
	s.loopCancel()
	s.running = false
	return s.loopDone
}

func (s *landingMonitor) Close(ctx context.Context) error {
	s.mu.Lock()
	done := s.stopLocked()
	s.mu.Unlock()
	if done != nil {
		<-done
	}
	s.cancelFunc()
	return s.robotClient.Close(ctx)
}

func (s *landingMonitor) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.logger.Infof("starting landing monitor loop at %v Hz", s.cfg.UpdateRateHz)
	updateInterval := time.Duration(1.0 / s.cfg.UpdateRateHz * float64(time.Second))
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	trackerCam, err := camera.FromRobot(s.robotClient, s.cfg.TrackerCameraName)
	if err != nil {
		s.logger.Errorf("can't find tracker camera %v: %v", s.cfg.TrackerCameraName, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := trackerCam.DoCommand(ctx, map[string]interface{}{"command": "get_detections"})
			if err != nil {
				s.logger.Errorf("failed to get detections: %v", err)
				continue
			}
			s.mu.Lock()
			s.latest = report
			s.latestAt = time.Now()
			s.mu.Unlock()
		}
	}
}
