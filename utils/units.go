package utils

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Helper to convert spatialmath.Pose to a user-friendly map
func PoseToMap(pose spatialmath.Pose) map[string]interface{} {
	if pose == nil {
		return nil
	}
	pos := pose.Point()
	ori := pose.Orientation().Quaternion()
	return map[string]interface{}{
		"translation": map[string]float64{
			"x": pos.X,
			"y": pos.Y,
			"z": pos.Z,
		},
		"orientation": map[string]float64{
			"Imag": ori.Imag,
			"Jmag": ori.Jmag,
			"Kmag": ori.Kmag,
			"Real": ori.Real,
		},
	}
}

func RadiansToDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// PixelDistance is the Euclidean distance between two pixel coordinates.
func PixelDistance(a, b r2.Point) float64 {
	return a.Sub(b).Norm()
}

// Centroid of a set of pixel coordinates.
func Centroid(pts []r2.Point) r2.Point {
	if len(pts) == 0 {
		return r2.Point{}
	}
	var c r2.Point
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Mul(1.0 / float64(len(pts)))
}

// TransformPoint applies a pose (rotation then translation) to a point
// using Viam's internal pose math.
func TransformPoint(pose spatialmath.Pose, p r3.Vector) r3.Vector {
	return spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(p)).Point()
}
