package transform

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/spatialmath"
)

// MarkerCorners returns the corners of a square marker with the given side length in the marker
// frame. The marker lies in its z=0 plane centered at the origin and the corners are ordered
// top-left, top-right, bottom-right, bottom-left.
func MarkerCorners(length float64) []r3.Vector {
	half := length / 2
	return []r3.Vector{
		{X: -half, Y: half},
		{X: half, Y: half},
		{X: half, Y: -half},
		{X: -half, Y: -half},
	}
}

// EstimateMarkerPose recovers the marker to camera rotation (as a rotation vector) and translation
// of a square marker from its four image corners, ordered as in MarkerCorners. The plane to image
// homography is decomposed into rotation columns and translation, and the rotation is then
// projected onto the closest orthonormal matrix.
func EstimateMarkerPose(corners []r2.Point, length float64, camera *PinholeCameraModel) (r3.Vector, r3.Vector, error) {
	if len(corners) != 4 {
		return r3.Vector{}, r3.Vector{}, errors.Errorf("marker needs 4 corners, got %d", len(corners))
	}
	if length <= 0 {
		return r3.Vector{}, r3.Vector{}, errors.Errorf("marker length must be positive, got %v", length)
	}
	if camera == nil {
		return r3.Vector{}, r3.Vector{}, NewNoIntrinsicsError("no camera model")
	}
	if err := camera.CheckValid(); err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}

	objectPts := make([]r2.Point, 0, 4)
	for _, c := range MarkerCorners(length) {
		objectPts = append(objectPts, r2.Point{X: c.X, Y: c.Y})
	}
	imagePts := make([]r2.Point, 0, 4)
	for _, c := range corners {
		imagePts = append(imagePts, camera.NormalizePoint(c))
	}

	h, err := EstimateHomography(objectPts, imagePts)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, errors.Wrap(err, "cannot fit marker homography")
	}

	h1 := toVector(h.Column(0))
	h2 := toVector(h.Column(1))
	h3 := toVector(h.Column(2))
	norm := (h1.Norm() + h2.Norm()) / 2
	if norm == 0 {
		return r3.Vector{}, r3.Vector{}, errors.New("degenerate marker homography")
	}
	lambda := 1 / norm
	if h3.Z < 0 {
		lambda = -lambda
	}
	col1 := h1.Mul(lambda)
	col2 := h2.Mul(lambda)
	tvec := h3.Mul(lambda)
	col3 := col1.Cross(col2)

	approx := mat.NewDense(3, 3, []float64{
		col1.X, col2.X, col3.X,
		col1.Y, col2.Y, col3.Y,
		col1.Z, col2.Z, col3.Z,
	})
	rot, err := closestRotation(approx)
	if err != nil {
		return r3.Vector{}, r3.Vector{}, err
	}
	return rot.RotationVector(), tvec, nil
}

// closestRotation returns U*V^T from the SVD of m, flipping the last column of U if needed so the
// determinant is +1.
func closestRotation(m *mat.Dense) (*spatialmath.RotationMatrix, error) {
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("failed to factorize rotation estimate")
	}
	var rot mat.Dense
	rot.Mul(mats.U, mats.VT)
	if mat.Det(&rot) < 0 {
		u := mat.DenseCopyOf(mats.U)
		for r := 0; r < 3; r++ {
			u.Set(r, 2, -u.At(r, 2))
		}
		rot.Mul(u, mats.VT)
	}
	return spatialmath.NewRotationMatrixFromDense(&rot)
}

func toVector(v []float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}
