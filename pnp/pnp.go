// Package pnp recovers the pose of a planar target from four point
// correspondences between the target's own plane and an image, given camera
// intrinsics. The solve goes through a normalized DLT homography and the
// standard planar decomposition K⁻¹H = [r1 r2 t].
package pnp

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"
)

// ErrPoseSolve is returned when the correspondences are degenerate
// (coincident or collinear points) and no pose can be recovered. Callers
// are expected to contain it per marker.
var ErrPoseSolve = errors.New("perspective-n-point solve failed")

// Pose is a rigid transform from the target's plane frame to the camera
// frame: a Rodrigues rotation vector (axis scaled by angle, radians) and a
// translation in the units of the object points.
type Pose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// Spatial converts the pose into Viam's pose representation.
func (p Pose) Spatial() spatialmath.Pose {
	theta := p.Rotation.Norm()
	if theta < 1e-12 {
		return spatialmath.NewPoseFromPoint(p.Translation)
	}
	axis := p.Rotation.Mul(1 / theta)
	return spatialmath.NewPose(p.Translation, &spatialmath.R4AA{
		Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z,
	})
}

// SolvePlanar solves the perspective-n-point problem for four coplanar
// object points (z = 0 in their own frame) observed at the given image
// pixel coordinates. objectPoints and imagePoints must correspond index by
// index. Detected corners are undistorted with the Brown-Conrady model
// before the solve; pass a nil distortion for an ideal lens.
func SolvePlanar(
	objectPoints, imagePoints [4]r2.Point,
	intrinsics *transform.PinholeCameraIntrinsics,
	distortion *transform.BrownConrady,
) (Pose, error) {
	if intrinsics == nil || intrinsics.Fx == 0 || intrinsics.Fy == 0 {
		return Pose{}, errors.Wrap(ErrPoseSolve, "no usable intrinsics")
	}

	// Move image corners into ideal normalized camera coordinates, so the
	// homography decomposition below can treat K as identity.
	normalized := make([]r2.Point, len(imagePoints))
	for i, p := range imagePoints {
		x := (p.X - intrinsics.Ppx) / intrinsics.Fx
		y := (p.Y - intrinsics.Ppy) / intrinsics.Fy
		if distortion != nil {
			x, y = undistortNormalized(distortion, x, y)
		}
		normalized[i] = r2.Point{X: x, Y: y}
	}

	h, err := homographyFromCorrespondences(objectPoints[:], normalized)
	if err != nil {
		return Pose{}, errors.Wrap(ErrPoseSolve, err.Error())
	}
	pose, err := poseFromHomography(h)
	if err != nil {
		return Pose{}, errors.Wrap(ErrPoseSolve, err.Error())
	}
	if !finite(pose.Rotation) || !finite(pose.Translation) {
		return Pose{}, errors.Wrap(ErrPoseSolve, "non-finite pose")
	}
	return pose, nil
}

// undistortNormalized inverts the forward Brown-Conrady map by fixed-point
// iteration in normalized coordinates. Converges in a handful of steps for
// the narrow-field lenses the model is meant for.
func undistortNormalized(dist *transform.BrownConrady, xd, yd float64) (float64, float64) {
	x, y := xd, yd
	for i := 0; i < 20; i++ {
		xf, yf := dist.Transform(x, y)
		x += xd - xf
		y += yd - yf
	}
	return x, y
}

// normalizePoints translates a point set to its centroid and scales it so
// the mean distance from the origin is sqrt(2), returning the transformed
// points and the 3x3 similarity that was applied. Conditioning step of the
// normalized DLT.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	n := float64(len(pts))
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= n
	cy /= n

	var meanDist float64
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n
	if meanDist < 1e-12 {
		return nil, nil, errors.New("degenerate point set: coincident points")
	}

	s := math.Sqrt2 / meanDist
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = r2.Point{X: s * (p.X - cx), Y: s * (p.Y - cy)}
	}
	t := mat.NewDense(3, 3, []float64{
		s, 0, -s * cx,
		0, s, -s * cy,
		0, 0, 1,
	})
	return out, t, nil
}

// homographyFromCorrespondences computes the 3x3 matrix mapping obj[i] to
// img[i] in homogeneous coordinates via the direct linear transform.
func homographyFromCorrespondences(obj, img []r2.Point) (*mat.Dense, error) {
	objN, tObj, err := normalizePoints(obj)
	if err != nil {
		return nil, err
	}
	imgN, tImg, err := normalizePoints(img)
	if err != nil {
		return nil, err
	}

	a := mat.NewDense(2*len(obj), 9, nil)
	for i := range objN {
		xo, yo := objN[i].X, objN[i].Y
		xi, yi := imgN[i].X, imgN[i].Y
		a.SetRow(2*i, []float64{-xo, -yo, -1, 0, 0, 0, xi * xo, xi * yo, xi})
		a.SetRow(2*i+1, []float64{0, 0, 0, -xo, -yo, -1, yi * xo, yi * yo, yi})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("svd factorization of correspondence matrix failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	// The homography is the right singular vector of the smallest singular
	// value, reshaped row-major.
	hn := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			hn.Set(i, j, v.At(3*i+j, 8))
		}
	}

	// Undo the conditioning transforms: H = Timg⁻¹ Hn Tobj.
	var tImgInv mat.Dense
	if err := tImgInv.Inverse(tImg); err != nil {
		return nil, errors.Wrap(err, "inverting normalization transform")
	}
	var tmp, h mat.Dense
	tmp.Mul(hn, tObj)
	h.Mul(&tImgInv, &tmp)
	return &h, nil
}

// poseFromHomography decomposes a homography expressed in normalized camera
// coordinates into rotation and translation. The first two columns are the
// rotation's first two basis vectors up to a common scale; the third column
// is the translation at that same scale.
func poseFromHomography(h *mat.Dense) (Pose, error) {
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}

	n1, n2 := h1.Norm(), h2.Norm()
	if n1 < 1e-12 || n2 < 1e-12 {
		return Pose{}, errors.New("rank-deficient homography")
	}
	lambda := 2 / (n1 + n2)
	c1 := h1.Mul(lambda)
	c2 := h2.Mul(lambda)
	t := h3.Mul(lambda)

	// Cheirality: the target must sit in front of the camera.
	if t.Z < 0 {
		c1 = c1.Mul(-1)
		c2 = c2.Mul(-1)
		t = t.Mul(-1)
	}
	c3 := c1.Cross(c2)

	approx := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})

	// Project the approximate basis onto the nearest true rotation:
	// R = U diag(1,1,det(UVᵀ)) Vᵀ.
	var svd mat.SVD
	if !svd.Factorize(approx, mat.SVDFull) {
		return Pose{}, errors.New("svd factorization of rotation estimate failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var uvT mat.Dense
	uvT.Mul(&u, v.T())
	sign := 1.0
	if mat.Det(&uvT) < 0 {
		sign = -1.0
	}
	d := mat.NewDiagDense(3, []float64{1, 1, sign})

	var tmp, r mat.Dense
	tmp.Mul(&u, d)
	r.Mul(&tmp, v.T())

	rot, err := spatialmath.NewRotationMatrix(r.RawMatrix().Data)
	if err != nil {
		return Pose{}, errors.Wrap(err, "building rotation")
	}
	return Pose{
		Rotation:    rot.AxisAngles().ToR3(),
		Translation: t,
	}, nil
}

func finite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
