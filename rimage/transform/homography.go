package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Homography is a 3x3 matrix (represented as a 2D array) used to transform points on one plane to
// another plane. Indices are [row][column].
type Homography [3][3]float64

// At returns the element at row, col.
func (h *Homography) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Column returns column c as a slice of 3 elements.
func (h *Homography) Column(c int) []float64 {
	return []float64{h[0][c], h[1][c], h[2][c]}
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct
// linear transform, as described in Multiple View Geometry, Alg 4.2. At least 4 point pairs are
// needed.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 point pairs to fit a homography, got %d", len(src))
	}
	srcNorm, T1 := normalizePoints(src)
	dstNorm, T2 := normalizePoints(dst)
	if T1 == nil || T2 == nil {
		return nil, errors.New("points are coincident")
	}

	// Pad to at least 9 rows so that the full SVD always yields the null vector in V.
	nRows := 2 * len(src)
	if nRows < 9 {
		nRows = 9
	}
	a := mat.NewDense(nRows, 9, nil)
	for i := range srcNorm {
		s, d := srcNorm[i], dstNorm[i]
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}

	mats := performSVD(a)
	if mats == nil {
		return nil, errors.New("failed to factorize homography system")
	}
	h := mats.V.ColView(8)
	hNorm := mat.NewDense(3, 3, []float64{
		h.AtVec(0), h.AtVec(1), h.AtVec(2),
		h.AtVec(3), h.AtVec(4), h.AtVec(5),
		h.AtVec(6), h.AtVec(7), h.AtVec(8),
	})

	// H = T2^-1 * Hnorm * T1
	var t2Inv, out mat.Dense
	if err := t2Inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization transform")
	}
	out.Mul(&t2Inv, hNorm)
	out.Mul(&out, T1)

	scale := out.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		scale = mat.Norm(&out, 2)
	}
	var hom Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			hom[r][c] = out.At(r, c) / scale
		}
	}
	return &hom, nil
}

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2. The returned
// transform is nil when every point coincides.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	// computer centroid of points
	mu := r2.Point{X: 0, Y: 0}

	for _, pt := range pts {
		mu.X += pt.X
		mu.Y += pt.Y
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		x2 := (pt.X - mu.X) * (pt.X - mu.X)
		y2 := (pt.Y - mu.Y) * (pt.Y - mu.Y)
		d += math.Sqrt(x2+y2) / float64(nPoints)
	}
	if d == 0 {
		return nil, nil
	}
	scale := math.Sqrt(2) / d
	transformData := []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	}
	T := mat.NewDense(3, 3, transformData)
	// apply transform to points
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = r2.Point{X: scale * (pts[i].X - mu.X), Y: scale * (pts[i].Y - mu.Y)}
	}
	return pointsTransformed, T
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  []float64
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	ok := svd.Factorize(inputMatrix, mat.SVDFull)
	if !ok {
		return nil
	}

	u, v, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}

	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())

	return &matsSVD{u, v, vt, svd.Values(nil)}
}
