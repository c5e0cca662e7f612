package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInsufficientPoints is returned when fewer than 4 point pairs are given to an affine fit.
	ErrInsufficientPoints = errors.New("at least 4 point pairs are needed to fit a 3D affine transform")
	// ErrDegenerateConfiguration is returned when the source points do not span a plane.
	ErrDegenerateConfiguration = errors.New("source points are collinear or coincident")
)

const affineSampleSize = 4

// AffineTransform maps a point p to A*[p;1] with a 3x4 matrix A.
type AffineTransform struct {
	m *mat.Dense
}

// NewAffineTransform copies a 3x4 matrix into an AffineTransform.
func NewAffineTransform(m mat.Matrix) (*AffineTransform, error) {
	rows, cols := m.Dims()
	if rows != 3 || cols != 4 {
		return nil, errors.Errorf("affine transform must be 3x4, got %dx%d", rows, cols)
	}
	return &AffineTransform{mat.DenseCopyOf(m)}, nil
}

// IdentityAffineTransform returns the transform that leaves points unchanged.
func IdentityAffineTransform() *AffineTransform {
	return &AffineTransform{mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})}
}

// Apply maps p through the transform.
func (a *AffineTransform) Apply(p r3.Vector) r3.Vector {
	return a.ApplyLinear(p).Add(a.Translation())
}

// ApplyLinear maps a direction through the linear part only.
func (a *AffineTransform) ApplyLinear(v r3.Vector) r3.Vector {
	return mulVec(a.m, v)
}

// Linear returns a copy of the left 3x3 block.
func (a *AffineTransform) Linear() *mat.Dense {
	return mat.DenseCopyOf(a.m.Slice(0, 3, 0, 3))
}

// Translation returns the last column.
func (a *AffineTransform) Translation() r3.Vector {
	return r3.Vector{X: a.m.At(0, 3), Y: a.m.At(1, 3), Z: a.m.At(2, 3)}
}

// Dense returns a copy of the 3x4 matrix.
func (a *AffineTransform) Dense() *mat.Dense {
	return mat.DenseCopyOf(a.m)
}

// AffineEstimateOptions tunes the RANSAC search of EstimateAffine3D. Zero values take defaults.
type AffineEstimateOptions struct {
	// Threshold is the largest residual distance for a pair to count as an inlier. Defaults to 3.
	Threshold float64
	// Confidence is the target probability of having drawn one outlier free sample. Defaults to 0.99.
	Confidence float64
	// MaxIterations caps the number of random samples. Defaults to 2000.
	MaxIterations int
	// Rand is the sample source. Defaults to a fixed seed so fits are reproducible.
	Rand *rand.Rand
}

func (opts AffineEstimateOptions) withDefaults() AffineEstimateOptions {
	if opts.Threshold <= 0 {
		opts.Threshold = 3
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = 0.99
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 2000
	}
	if opts.Rand == nil {
		//nolint:gosec
		opts.Rand = rand.New(rand.NewSource(1))
	}
	return opts
}

// EstimateAffine3D robustly fits the affine transform taking each src point onto its dst point.
// Minimal samples of 4 pairs are drawn at random and scored by how many pairs land within the
// threshold; the best consensus set is then refit with least squares. The returned mask flags the
// inliers of the final model.
//
// When the source points are coplanar the linear part is completed along the plane normal so that
// the in-plane rotation and scale carry over to the normal direction.
func EstimateAffine3D(src, dst []r3.Vector, opts AffineEstimateOptions) (*AffineTransform, []bool, error) {
	if len(src) != len(dst) {
		return nil, nil, errors.Errorf("point sets differ in size: %d != %d", len(src), len(dst))
	}
	if len(src) < affineSampleSize {
		return nil, nil, ErrInsufficientPoints
	}
	opts = opts.withDefaults()
	n := len(src)

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	var (
		best        *AffineTransform
		bestCount   int
		bestResidue = math.Inf(1)
	)
	consider := func(candidate *AffineTransform) {
		count, residue := scoreAffine(candidate, src, dst, opts.Threshold)
		if count > bestCount || (count == bestCount && residue < bestResidue) {
			best, bestCount, bestResidue = candidate, count, residue
		}
	}

	if n == affineSampleSize {
		candidate, err := fitAffine(src, dst, all)
		if err != nil {
			return nil, nil, err
		}
		consider(candidate)
	} else {
		iterations := opts.MaxIterations
		for i := 0; i < iterations; i++ {
			sample := opts.Rand.Perm(n)[:affineSampleSize]
			candidate, err := fitAffine(src, dst, sample)
			if err != nil {
				continue
			}
			consider(candidate)
			if bestCount == n {
				break
			}
			if needed := ransacIterations(opts.Confidence, float64(bestCount)/float64(n), opts.MaxIterations); needed < iterations {
				iterations = needed
			}
		}
	}
	if best == nil {
		return nil, nil, ErrDegenerateConfiguration
	}

	inliers := inlierIndices(best, src, dst, opts.Threshold)
	if len(inliers) >= affineSampleSize {
		if refit, err := fitAffine(src, dst, inliers); err == nil {
			if count, _ := scoreAffine(refit, src, dst, opts.Threshold); count >= bestCount {
				best = refit
			}
		}
	}

	mask := make([]bool, n)
	for _, idx := range inlierIndices(best, src, dst, opts.Threshold) {
		mask[idx] = true
	}
	return best, mask, nil
}

// ransacIterations is the number of samples needed to draw one all inlier sample with the given
// confidence when a fraction inlierRatio of the pairs are inliers.
func ransacIterations(confidence, inlierRatio float64, maxIterations int) int {
	if inlierRatio <= 0 {
		return maxIterations
	}
	outlierFree := math.Pow(inlierRatio, affineSampleSize)
	if outlierFree >= 1 {
		return 1
	}
	denom := math.Log(1 - outlierFree)
	if denom >= 0 {
		return maxIterations
	}
	needed := math.Ceil(math.Log(1-confidence) / denom)
	if needed > float64(maxIterations) {
		return maxIterations
	}
	return int(needed)
}

func scoreAffine(a *AffineTransform, src, dst []r3.Vector, threshold float64) (int, float64) {
	count := 0
	residue := 0.
	for i := range src {
		d := a.Apply(src[i]).Sub(dst[i]).Norm()
		if d <= threshold {
			count++
			residue += d * d
		}
	}
	return count, residue
}

func inlierIndices(a *AffineTransform, src, dst []r3.Vector, threshold float64) []int {
	var out []int
	for i := range src {
		if a.Apply(src[i]).Sub(dst[i]).Norm() <= threshold {
			out = append(out, i)
		}
	}
	return out
}

// fitAffine solves the centered least squares problem over the pairs at idx using the SVD pseudo
// inverse of the centered source points.
func fitAffine(src, dst []r3.Vector, idx []int) (*AffineTransform, error) {
	var srcMean, dstMean r3.Vector
	for _, i := range idx {
		srcMean = srcMean.Add(src[i])
		dstMean = dstMean.Add(dst[i])
	}
	k := float64(len(idx))
	srcMean = srcMean.Mul(1 / k)
	dstMean = dstMean.Mul(1 / k)

	xc := mat.NewDense(len(idx), 3, nil)
	yc := mat.NewDense(len(idx), 3, nil)
	for row, i := range idx {
		s := src[i].Sub(srcMean)
		d := dst[i].Sub(dstMean)
		xc.SetRow(row, []float64{s.X, s.Y, s.Z})
		yc.SetRow(row, []float64{d.X, d.Y, d.Z})
	}

	var svd mat.SVD
	if ok := svd.Factorize(xc, mat.SVDThin); !ok {
		return nil, errors.New("failed to factorize source points")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)
	if len(values) < 2 || values[0] == 0 {
		return nil, ErrDegenerateConfiguration
	}
	const rcond = 1e-9
	rank := 0
	for _, s := range values {
		if s > rcond*values[0] {
			rank++
		}
	}
	if rank < 2 {
		return nil, ErrDegenerateConfiguration
	}

	// M = Yc^T * U * S^+ * V^T
	inv := make([]float64, len(values))
	for i := 0; i < rank; i++ {
		inv[i] = 1 / values[i]
	}
	var ycu, scaled, linear mat.Dense
	ycu.Mul(yc.T(), &u)
	scaled.Mul(&ycu, mat.NewDiagDense(len(inv), inv))
	linear.Mul(&scaled, v.Slice(0, 3, 0, len(values)).T())

	if rank == 2 {
		axis1 := r3.Vector{X: v.At(0, 0), Y: v.At(1, 0), Z: v.At(2, 0)}
		axis2 := r3.Vector{X: v.At(0, 1), Y: v.At(1, 1), Z: v.At(2, 1)}
		normal := axis1.Cross(axis2)
		image1 := mulVec(&linear, axis1)
		image2 := mulVec(&linear, axis2)
		mapped := image1.Cross(image2)
		area := mapped.Norm()
		if area < rcond {
			return nil, ErrDegenerateConfiguration
		}
		mapped = mapped.Mul(1 / math.Sqrt(area))
		var completion mat.Dense
		completion.Outer(1,
			mat.NewVecDense(3, []float64{mapped.X, mapped.Y, mapped.Z}),
			mat.NewVecDense(3, []float64{normal.X, normal.Y, normal.Z}))
		linear.Add(&linear, &completion)
	}

	translation := dstMean.Sub(mulVec(&linear, srcMean))
	out := mat.NewDense(3, 4, nil)
	out.Slice(0, 3, 0, 3).(*mat.Dense).Copy(&linear)
	out.Set(0, 3, translation.X)
	out.Set(1, 3, translation.Y)
	out.Set(2, 3, translation.Z)
	return &AffineTransform{out}, nil
}

func mulVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}
