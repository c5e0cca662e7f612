package groundtransform

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/rimage/transform"
	"go.viam.com/markerpose/vision/fiducial"
)

// MinPairs is the fewest qualifying markers a transform can be fitted from.
const MinPairs = 4

// Reason says why a marker did or did not qualify.
type Reason int

// The qualification outcomes, in the order they are checked.
const (
	Qualified Reason = iota
	InsufficientDetections
	TranslationUnstable
	RotationUnstable
	CoordinateNotProvided
)

func (r Reason) String() string {
	switch r {
	case Qualified:
		return "qualified"
	case InsufficientDetections:
		return "insufficient detections"
	case TranslationUnstable:
		return "translation unstable"
	case RotationUnstable:
		return "rotation unstable"
	case CoordinateNotProvided:
		return "coordinate not provided"
	default:
		return "unknown"
	}
}

// A Qualification records how one marker fared.
type Qualification struct {
	ID     int
	Reason Reason
	Stats  *fiducial.Statistics
	Ground r3.Vector
}

// Options configure a Solver. The limits are used as given, zero included; start from
// DefaultOptions for the usual ones.
type Options struct {
	// FrameFraction is the share of processed frames a marker must be seen in.
	FrameFraction float64
	// MaxTranslationDet bounds the translation covariance determinant.
	MaxTranslationDet float64
	// MaxRotationDet bounds the rotation covariance determinant.
	MaxRotationDet float64
	Affine         transform.AffineEstimateOptions
}

// DefaultOptions returns the options the transform command starts from.
func DefaultOptions() Options {
	return Options{
		FrameFraction:     0.75,
		MaxTranslationDet: 1e-15,
		MaxRotationDet:    1e-8,
	}
}

// Validate checks the options.
func (opts Options) Validate() error {
	if opts.FrameFraction < 0 || opts.FrameFraction > 1 {
		return errors.Errorf("frame fraction must be within [0, 1], got %v", opts.FrameFraction)
	}
	if opts.MaxTranslationDet < 0 || opts.MaxRotationDet < 0 {
		return errors.New("covariance determinant limits must not be negative")
	}
	return nil
}

// A Solution is a fitted camera to ground transform.
type Solution struct {
	Transform      *transform.AffineTransform
	Qualifications []Qualification
	// Inliers flags, per qualified marker in id order, whether it agreed with the fit.
	Inliers []bool
}

// Pairs returns the number of markers the transform was fitted from.
func (s *Solution) Pairs() int {
	return len(s.Inliers)
}

// A Solver qualifies markers and fits the camera to ground transform.
type Solver struct {
	opts     Options
	resolver Resolver
	logger   logging.Logger
}

// NewSolver returns a Solver. resolver may be nil, in which case no marker has a coordinate.
func NewSolver(opts Options, resolver Resolver, logger logging.Logger) (*Solver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		resolver = MapResolver{}
	}
	return &Solver{opts: opts, resolver: resolver, logger: logger}, nil
}

// Qualify checks every marker of agg in id order. Checks short circuit on the first failure, so
// coordinates are only asked for markers that are otherwise usable.
func (s *Solver) Qualify(ctx context.Context, agg *fiducial.Aggregator) ([]Qualification, error) {
	minSamples := s.opts.FrameFraction * float64(agg.Frames())
	all, err := agg.AllStatistics()
	if err != nil {
		return nil, err
	}
	quals := make([]Qualification, 0, len(all))
	for _, stats := range all {
		q := Qualification{ID: stats.ID, Stats: stats}
		switch {
		case float64(stats.SampleCount) < minSamples || stats.Degenerate():
			q.Reason = InsufficientDetections
		case stats.TranslationDet() > s.opts.MaxTranslationDet:
			q.Reason = TranslationUnstable
		case stats.RotationDet() > s.opts.MaxRotationDet:
			q.Reason = RotationUnstable
		default:
			coord, ok, err := s.resolver.Resolve(ctx, stats.ID)
			if err != nil {
				return nil, errors.Wrapf(err, "cannot resolve ground coordinate of marker %d", stats.ID)
			}
			if ok {
				q.Reason = Qualified
				q.Ground = coord
			} else {
				q.Reason = CoordinateNotProvided
			}
		}
		s.logger.Infow("marker",
			"id", q.ID,
			"result", q.Reason.String(),
			"samples", stats.SampleCount,
			"translation", stats.MeanTranslation,
			"translation_det", stats.TranslationDet(),
			"rotation_det", stats.RotationDet())
		quals = append(quals, q)
	}
	return quals, nil
}

// Solve qualifies the markers of agg and fits the transform from their mean camera frame
// translations to their ground coordinates.
func (s *Solver) Solve(ctx context.Context, agg *fiducial.Aggregator) (*Solution, error) {
	quals, err := s.Qualify(ctx, agg)
	if err != nil {
		return nil, err
	}
	var src, dst []r3.Vector
	for _, q := range quals {
		if q.Reason != Qualified {
			continue
		}
		src = append(src, q.Stats.MeanTranslation)
		dst = append(dst, q.Ground)
	}
	if len(src) < MinPairs {
		return nil, errors.Wrapf(transform.ErrInsufficientPoints, "%d of %d markers qualified", len(src), len(quals))
	}

	a, inliers, err := transform.EstimateAffine3D(src, dst, s.opts.Affine)
	if err != nil {
		return nil, errors.Wrap(err, "cannot fit ground transform")
	}
	s.logger.Infow("ground transform fitted", "pairs", len(src), "inliers", lo.Count(inliers, true))
	return &Solution{Transform: a, Qualifications: quals, Inliers: inliers}, nil
}
