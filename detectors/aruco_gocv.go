// Package detectors provides fiducial detector implementations for the
// landing pipeline. The ArUco detector is a thin boundary over OpenCV's
// detection primitive; corner/ID extraction itself is not reimplemented
// here.
package detectors

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Claudio-Chies/tracktor-beam/landing"
)

// DefaultDictionary matches the marker family the original flight rig was
// printed with.
const DefaultDictionary = "4x4_250"

var dictionaryCodes = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":         gocv.ArucoDict4x4_50,
	"4x4_100":        gocv.ArucoDict4x4_100,
	"4x4_250":        gocv.ArucoDict4x4_250,
	"4x4_1000":       gocv.ArucoDict4x4_1000,
	"5x5_50":         gocv.ArucoDict5x5_50,
	"5x5_100":        gocv.ArucoDict5x5_100,
	"5x5_250":        gocv.ArucoDict5x5_250,
	"6x6_50":         gocv.ArucoDict6x6_50,
	"6x6_250":        gocv.ArucoDict6x6_250,
	"7x7_250":        gocv.ArucoDict7x7_250,
	"aruco_original": gocv.ArucoDictArucoOriginal,
}

// SupportedDictionaries lists the marker dictionary names accepted by
// NewArucoDetector.
func SupportedDictionaries() []string {
	names := make([]string, 0, len(dictionaryCodes))
	for name := range dictionaryCodes {
		names = append(names, name)
	}
	return names
}

// ArucoDetector adapts gocv's ArUco detection to the landing.Detector
// interface. The dictionary is fixed at construction and is not
// reconfigurable per frame.
type ArucoDetector struct {
	detector gocv.ArucoDetector
}

// NewArucoDetector builds a detector for one fixed marker dictionary, e.g.
// "4x4_250".
func NewArucoDetector(dictionary string) (*ArucoDetector, error) {
	if dictionary == "" {
		dictionary = DefaultDictionary
	}
	code, ok := dictionaryCodes[dictionary]
	if !ok {
		return nil, errors.Errorf("unknown marker dictionary %q", dictionary)
	}
	params := gocv.NewArucoDetectorParameters()
	dict := gocv.GetPredefinedDictionary(code)
	return &ArucoDetector{
		detector: gocv.NewArucoDetectorWithParams(dict, params),
	}, nil
}

// Detect finds markers in one frame. Zero detections is a normal result,
// not an error. Corner winding follows OpenCV's convention: top-left,
// top-right, bottom-right, bottom-left.
func (d *ArucoDetector) Detect(ctx context.Context, img image.Image) ([]landing.Marker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "converting frame for detection")
	}
	defer mat.Close()

	corners, ids, _ := d.detector.DetectMarkers(mat)

	markers := make([]landing.Marker, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		m := landing.Marker{ID: id}
		for j, pt := range corners[i] {
			m.Corners[j] = r2.Point{X: float64(pt.X), Y: float64(pt.Y)}
		}
		markers = append(markers, m)
	}
	return markers, nil
}

// Close releases the underlying OpenCV detector.
func (d *ArucoDetector) Close() error {
	return d.detector.Close()
}
