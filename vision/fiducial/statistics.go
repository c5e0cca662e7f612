package fiducial

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when statistics are requested over an empty set.
var ErrNoSamples = errors.New("no samples to compute statistics over")

// Statistics summarizes the repeated pose estimates of one marker. Covariances are unscaled
// scatter matrices, sum((x-mean)(x-mean)^T), so their determinants grow with the sample count.
type Statistics struct {
	ID                    int
	SampleCount           int
	MeanTranslation       r3.Vector
	MeanRotation          r3.Vector
	TranslationCovariance *mat.SymDense
	RotationCovariance    *mat.SymDense
}

// TranslationDet is the translation confidence metric; lower is tighter.
func (s *Statistics) TranslationDet() float64 {
	return mat.Det(s.TranslationCovariance)
}

// RotationDet is the rotation confidence metric; lower is tighter.
func (s *Statistics) RotationDet() float64 {
	return mat.Det(s.RotationCovariance)
}

// Degenerate reports whether there are too few samples for the covariances to mean anything.
func (s *Statistics) Degenerate() bool {
	return s.SampleCount < 2
}

// ComputeStatistics computes the statistics of a marker's observations from scratch.
func ComputeStatistics(id int, observations []Observation) (*Statistics, error) {
	if len(observations) == 0 {
		return nil, errors.Wrapf(ErrNoSamples, "marker %d", id)
	}
	translations := make([]r3.Vector, 0, len(observations))
	rotations := make([]r3.Vector, 0, len(observations))
	for _, o := range observations {
		translations = append(translations, o.Translation)
		rotations = append(rotations, o.Rotation)
	}
	meanT, covT, err := VectorStatistics(translations)
	if err != nil {
		return nil, err
	}
	meanR, covR, err := VectorStatistics(rotations)
	if err != nil {
		return nil, err
	}
	return &Statistics{
		ID:                    id,
		SampleCount:           len(observations),
		MeanTranslation:       meanT,
		MeanRotation:          meanR,
		TranslationCovariance: covT,
		RotationCovariance:    covR,
	}, nil
}

// VectorStatistics returns the mean and unscaled scatter matrix of vs. A single sample has a zero
// scatter matrix.
func VectorStatistics(vs []r3.Vector) (r3.Vector, *mat.SymDense, error) {
	n := len(vs)
	if n == 0 {
		return r3.Vector{}, nil, ErrNoSamples
	}
	var mean r3.Vector
	for _, v := range vs {
		mean = mean.Add(v)
	}
	mean = mean.Mul(1 / float64(n))

	cov := mat.NewSymDense(3, nil)
	if n < 2 {
		return mean, cov, nil
	}
	data := mat.NewDense(n, 3, nil)
	for i, v := range vs {
		data.SetRow(i, []float64{v.X, v.Y, v.Z})
	}
	stat.CovarianceMatrix(cov, data, nil)
	cov.ScaleSym(float64(n-1), cov)
	return mean, cov, nil
}
