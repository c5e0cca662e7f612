package transform

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func rotX(theta float64) *mat.Dense {
	c, s := math.Cos(theta), math.Sin(theta)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}

// rigidInverse maps ground points back into a frame where ground = rot*p + trans.
func rigidInverse(rot *mat.Dense, trans r3.Vector, ground []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, 0, len(ground))
	for _, g := range ground {
		out = append(out, mulVec(rot.T(), g.Sub(trans)))
	}
	return out
}

func expectTransform(t *testing.T, a *AffineTransform, rot *mat.Dense, trans r3.Vector, tol float64) {
	t.Helper()
	linear := a.Linear()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			test.That(t, linear.At(r, c), test.ShouldAlmostEqual, rot.At(r, c), tol)
		}
	}
	got := a.Translation()
	test.That(t, got.X, test.ShouldAlmostEqual, trans.X, tol)
	test.That(t, got.Y, test.ShouldAlmostEqual, trans.Y, tol)
	test.That(t, got.Z, test.ShouldAlmostEqual, trans.Z, tol)
}

func TestEstimateAffine3DTranslation(t *testing.T) {
	src := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 1, Y: 1, Z: 1},
	}
	offset := r3.Vector{X: 0.5, Y: -2, Z: 4}
	dst := make([]r3.Vector, 0, len(src))
	for _, p := range src {
		dst = append(dst, p.Add(offset))
	}

	a, mask, err := EstimateAffine3D(src, dst, AffineEstimateOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask, test.ShouldResemble, []bool{true, true, true, true, true})
	expectTransform(t, a, eye(3), offset, 1e-9)
}

func TestEstimateAffine3DCoplanar(t *testing.T) {
	// Markers lying on the floor are coplanar whatever frame they are measured in.
	ground := []r3.Vector{
		{X: 0, Y: 0},
		{X: 2, Y: 0},
		{X: 0, Y: 2},
		{X: 2, Y: 2},
		{X: 1, Y: 0.5},
	}

	t.Run("pure translation", func(t *testing.T) {
		offset := r3.Vector{X: 1, Y: 1, Z: 0}
		cam := rigidInverse(eye(3), offset, ground)
		a, _, err := EstimateAffine3D(cam, ground, AffineEstimateOptions{})
		test.That(t, err, test.ShouldBeNil)
		expectTransform(t, a, eye(3), offset, 1e-9)
	})

	t.Run("rotation and translation", func(t *testing.T) {
		rot := rotX(2.5)
		trans := r3.Vector{X: 0.3, Y: -1.2, Z: 2.2}
		cam := rigidInverse(rot, trans, ground)
		a, _, err := EstimateAffine3D(cam, ground, AffineEstimateOptions{})
		test.That(t, err, test.ShouldBeNil)
		expectTransform(t, a, rot, trans, 1e-9)

		// Points off the plane follow the rigid motion too.
		point := r3.Vector{X: 0.2, Y: 0.1, Z: 1.5}
		want := mulVec(rot, point).Add(trans)
		got := a.Apply(point)
		test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-9)
	})

	t.Run("exactly four pairs", func(t *testing.T) {
		trans := r3.Vector{X: -3, Y: 0.5, Z: 0.1}
		cam := rigidInverse(rotX(-0.4), trans, ground[:4])
		a, mask, err := EstimateAffine3D(cam, ground[:4], AffineEstimateOptions{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, mask, test.ShouldResemble, []bool{true, true, true, true})
		expectTransform(t, a, rotX(-0.4), trans, 1e-9)
	})
}

func TestEstimateAffine3DOutlier(t *testing.T) {
	rot := rotX(0.7)
	trans := r3.Vector{X: 10, Y: 20, Z: 30}
	ground := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 4, Y: 0, Z: 0},
		{X: 0, Y: 4, Z: 0},
		{X: 0, Y: 0, Z: 4},
		{X: 4, Y: 4, Z: 0},
		{X: 4, Y: 0, Z: 4},
		{X: 0, Y: 4, Z: 4},
		{X: 4, Y: 4, Z: 4},
	}
	cam := rigidInverse(rot, trans, ground)
	cam[5] = cam[5].Add(r3.Vector{X: 100})

	//nolint:gosec
	a, mask, err := EstimateAffine3D(cam, ground, AffineEstimateOptions{Rand: rand.New(rand.NewSource(42))})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask, test.ShouldResemble, []bool{true, true, true, true, true, false, true, true})
	expectTransform(t, a, rot, trans, 1e-6)
}

func TestEstimateAffine3DErrors(t *testing.T) {
	pts := []r3.Vector{{X: 0}, {X: 1}, {X: 2}}
	_, _, err := EstimateAffine3D(pts, pts, AffineEstimateOptions{})
	test.That(t, err, test.ShouldBeError, ErrInsufficientPoints)

	_, _, err = EstimateAffine3D(pts, pts[:2], AffineEstimateOptions{})
	test.That(t, err, test.ShouldNotBeNil)

	collinear := []r3.Vector{{X: 0}, {X: 1}, {X: 2}, {X: 3}, {X: 4}}
	_, _, err = EstimateAffine3D(collinear, collinear, AffineEstimateOptions{})
	test.That(t, err, test.ShouldBeError, ErrDegenerateConfiguration)
}

func TestAffineTransformAccessors(t *testing.T) {
	_, err := NewAffineTransform(mat.NewDense(3, 3, nil))
	test.That(t, err, test.ShouldNotBeNil)

	a, err := NewAffineTransform(mat.NewDense(3, 4, []float64{
		0, -1, 0, 1,
		1, 0, 0, 2,
		0, 0, 1, 3,
	}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.Apply(r3.Vector{X: 1}), test.ShouldResemble, r3.Vector{X: 1, Y: 3, Z: 3})
	test.That(t, a.ApplyLinear(r3.Vector{X: 1}), test.ShouldResemble, r3.Vector{X: 0, Y: 1, Z: 0})
	test.That(t, a.Translation(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	dense := a.Dense()
	dense.Set(0, 3, 99)
	test.That(t, a.Translation().X, test.ShouldEqual, 1.)

	id := IdentityAffineTransform()
	test.That(t, id.Apply(r3.Vector{X: 4, Y: 5, Z: 6}), test.ShouldResemble, r3.Vector{X: 4, Y: 5, Z: 6})
}

func TestRansacIterations(t *testing.T) {
	test.That(t, ransacIterations(0.99, 0, 2000), test.ShouldEqual, 2000)
	test.That(t, ransacIterations(0.99, 1, 2000), test.ShouldEqual, 1)
	// 0.5^4 = 1/16 outlier free samples need about 72 draws for 99% confidence.
	test.That(t, ransacIterations(0.99, 0.5, 2000), test.ShouldEqual, 72)
}
