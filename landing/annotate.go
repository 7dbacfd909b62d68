package landing

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"

	"github.com/Claudio-Chies/tracktor-beam/utils"
)

// AnnotationOptions controls the detection overlay.
type AnnotationOptions struct {
	OutlineColor color.Color
	// AxisLengthScale is the drawn axis length as a multiple of the
	// estimated marker size.
	AxisLengthScale float64
	LineWidth       float64
}

func DefaultAnnotationOptions() AnnotationOptions {
	return AnnotationOptions{
		OutlineColor:    color.RGBA{G: 255, A: 255},
		AxisLengthScale: 1.0,
		LineWidth:       2,
	}
}

// x red, y green, z blue
var axisColors = [3]color.RGBA{
	{R: 255, A: 255},
	{G: 255, A: 255},
	{B: 255, A: 255},
}

// Annotate draws marker outlines and, where a pose was solved, a 3-axis
// pose overlay onto a copy of the frame. The input frame is never written
// to.
func Annotate(frame image.Image, results []Result, calibration *CameraCalibration, opts AnnotationOptions) image.Image {
	dc := gg.NewContextForImage(frame)
	for _, res := range results {
		drawOutline(dc, res.Marker, opts)
		if res.Pose != nil && calibration != nil {
			drawAxes(dc, res, calibration, opts)
		}
	}
	return dc.Image()
}

func drawOutline(dc *gg.Context, m Marker, opts AnnotationOptions) {
	dc.SetColor(opts.OutlineColor)
	dc.SetLineWidth(opts.LineWidth)
	for i := range m.Corners {
		a := m.Corners[i]
		b := m.Corners[(i+1)%len(m.Corners)]
		dc.DrawLine(a.X, a.Y, b.X, b.Y)
	}
	dc.Stroke()

	// Orientation cue at the top-left corner.
	tl := m.Corners[CornerTopLeft]
	dc.DrawCircle(tl.X, tl.Y, opts.LineWidth*2)
	dc.Fill()
}

func drawAxes(dc *gg.Context, res Result, calibration *CameraCalibration, opts AnnotationOptions) {
	length := res.MarkerSize * opts.AxisLengthScale
	pose := res.Pose.Spatial()

	origin, ok := projectToPixel(calibration, pose, r3.Vector{})
	if !ok {
		return
	}
	ends := [3]r3.Vector{{X: length}, {Y: length}, {Z: length}}
	for i, end := range ends {
		px, ok := projectToPixel(calibration, pose, end)
		if !ok {
			continue
		}
		dc.SetColor(axisColors[i])
		dc.SetLineWidth(opts.LineWidth)
		dc.DrawLine(origin.X, origin.Y, px.X, px.Y)
		dc.Stroke()
	}
}

// projectToPixel maps a point in the marker frame through the solved pose
// and the camera model to distorted pixel coordinates. Points at or behind
// the camera plane are not drawable.
func projectToPixel(calibration *CameraCalibration, pose spatialmath.Pose, p r3.Vector) (r2.Point, bool) {
	pc := utils.TransformPoint(pose, p)
	if pc.Z <= 0 {
		return r2.Point{}, false
	}
	u, v := calibration.Intrinsics.PointToPixel(pc.X, pc.Y, pc.Z)
	if calibration.Distortion != nil {
		model := transform.PinholeCameraModel{
			PinholeCameraIntrinsics: calibration.Intrinsics,
			Distortion:              calibration.Distortion,
		}
		u, v = model.DistortionMap()(u, v)
	}
	return r2.Point{X: u, Y: v}, true
}
