package landing

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrCalibrationUnavailable means the calibration source could not be
	// opened at all.
	ErrCalibrationUnavailable = errors.New("camera calibration unavailable")
	// ErrCalibrationIncomplete means the source was readable but the
	// intrinsic matrix or distortion coefficients are missing or invalid.
	ErrCalibrationIncomplete = errors.New("camera calibration incomplete")
)

// CameraCalibration holds the camera intrinsic matrix and Brown-Conrady
// distortion coefficients. It is loaded once at startup and never mutated.
// All parameters are float64 regardless of the precision the source stored
// them in.
type CameraCalibration struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *transform.BrownConrady
}

// calibrationFile is the on-disk shape: the rdk pinhole parameters plus the
// distortion coefficients [k1, k2, p1, p2, k3].
type calibrationFile struct {
	transform.PinholeCameraIntrinsics
	DistortionParameters []float64 `json:"distortion_parameters"`
}

// LoadCalibration reads a calibration JSON file. On failure the caller is
// expected to keep running in detect-only mode rather than abort.
func LoadCalibration(path string) (*CameraCalibration, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrCalibrationUnavailable, "opening %s: %v", path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(ErrCalibrationUnavailable, "reading %s: %v", path, err)
	}

	var cf calibrationFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, errors.Wrapf(ErrCalibrationIncomplete, "parsing %s: %v", path, err)
	}
	if err := cf.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(ErrCalibrationIncomplete, "intrinsics in %s: %v", path, err)
	}
	if cf.DistortionParameters == nil {
		return nil, errors.Wrapf(ErrCalibrationIncomplete, "no distortion_parameters in %s", path)
	}
	dist, err := transform.NewBrownConrady(cf.DistortionParameters)
	if err != nil {
		return nil, errors.Wrapf(ErrCalibrationIncomplete, "distortion in %s: %v", path, err)
	}

	intrinsics := cf.PinholeCameraIntrinsics
	return &CameraCalibration{Intrinsics: &intrinsics, Distortion: dist}, nil
}

// FocalLengthX is the horizontal focal length term of the intrinsic matrix,
// the scale factor between pixel widths and depths used by the size
// estimator.
func (c *CameraCalibration) FocalLengthX() float64 {
	return c.Intrinsics.Fx
}

// CameraMatrix returns the 3x3 intrinsic matrix.
func (c *CameraCalibration) CameraMatrix() *mat.Dense {
	return c.Intrinsics.GetCameraMatrix()
}
