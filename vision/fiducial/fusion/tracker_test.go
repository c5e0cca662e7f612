package fusion_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/rimage/transform"
	"go.viam.com/markerpose/testutils/inject"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/fusion"
)

// rotZ90 turns camera +X into ground +Y and shifts by (10, 0, 0).
var rotZ90 = mustAffine(mat.NewDense(3, 4, []float64{
	0, -1, 0, 10,
	1, 0, 0, 0,
	0, 0, 1, 0,
}))

func mustAffine(m mat.Matrix) *transform.AffineTransform {
	a, err := transform.NewAffineTransform(m)
	if err != nil {
		panic(err)
	}
	return a
}

// fixedPoses reports every detection at translation with zero rotation.
func fixedPoses(translation r3.Vector) *inject.PoseEstimator {
	return &inject.PoseEstimator{
		EstimatePosesFunc: func(
			ctx context.Context, dets []fiducial.Detection, length float64, camera *config.CameraParameters,
		) ([]fiducial.Pose, error) {
			poses := make([]fiducial.Pose, len(dets))
			for i := range poses {
				poses[i].Translation = translation
			}
			return poses, nil
		},
	}
}

func seeing(ids ...int) *inject.Detector {
	return &inject.Detector{
		DetectFunc: func(ctx context.Context, frame fiducial.Frame, params config.DetectorParameters) ([]fiducial.Detection, error) {
			dets := make([]fiducial.Detection, 0, len(ids))
			for _, id := range ids {
				dets = append(dets, fiducial.Detection{ID: id})
			}
			return dets, nil
		},
	}
}

func endless() *inject.FrameSource {
	return &inject.FrameSource{NextFunc: func(ctx context.Context) (fiducial.Frame, error) {
		return fiducial.Frame{}, ctx.Err()
	}}
}

func newCamera(id int, a *transform.AffineTransform, source fiducial.FrameSource, detector fiducial.Detector, translation r3.Vector) *fusion.Camera {
	return &fusion.Camera{
		ID:     id,
		Source: source,
		Observer: fiducial.Observer{
			Detector:     detector,
			Estimator:    fixedPoses(translation),
			MarkerLength: 0.1,
		},
		Transform: a,
	}
}

func TestHeadingThroughTransform(t *testing.T) {
	identity := newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(1), r3.Vector{})
	pos, heading := identity.ToGround(fiducial.Observation{Translation: r3.Vector{X: 1, Y: 2, Z: 3}})
	test.That(t, pos, test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, heading.X, test.ShouldAlmostEqual, 1)
	test.That(t, math.Atan2(heading.Y, heading.X), test.ShouldAlmostEqual, 0)

	turned := newCamera(1, rotZ90, endless(), seeing(1), r3.Vector{})
	pos, heading = turned.ToGround(fiducial.Observation{Translation: r3.Vector{X: 1, Y: 2, Z: 3}})
	test.That(t, pos.X, test.ShouldAlmostEqual, 8)
	test.That(t, pos.Y, test.ShouldAlmostEqual, 1)
	test.That(t, pos.Z, test.ShouldAlmostEqual, 3)
	test.That(t, heading.Y, test.ShouldAlmostEqual, 1)

	// a marker turned 90 degrees about the camera z axis faces camera -Y after inversion
	_, heading = identity.ToGround(fiducial.Observation{Rotation: r3.Vector{Z: math.Pi / 2}})
	test.That(t, heading.X, test.ShouldAlmostEqual, 0)
	test.That(t, heading.Y, test.ShouldAlmostEqual, -1)
}

func mockOptions(mock clock.Clock, parallel bool) fusion.Options {
	opts := fusion.DefaultOptions()
	opts.Clock = mock
	opts.Parallel = parallel
	return opts
}

func TestTrackerFusesAcrossCameras(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	for _, parallel := range []bool{false, true} {
		cameras := []*fusion.Camera{
			newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(7), r3.Vector{X: 1, Y: 1}),
			// sees marker 7 at ground (9, 2, 0) and marker 8 at the same place
			newCamera(1, rotZ90, endless(), seeing(7, 8), r3.Vector{X: 2, Y: 1}),
		}
		tracker, err := fusion.NewTracker(mockOptions(mock, parallel), cameras, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(tracker.Session()), test.ShouldEqual, 36)

		states, err := tracker.Cycle(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(states), test.ShouldEqual, 2)

		m7 := states[0]
		test.That(t, m7.ID, test.ShouldEqual, 7)
		test.That(t, m7.SampleCount, test.ShouldEqual, 2)
		test.That(t, m7.Cameras, test.ShouldResemble, []int{0, 1})
		test.That(t, m7.Position.X, test.ShouldAlmostEqual, 5)
		test.That(t, m7.Position.Y, test.ShouldAlmostEqual, 1.5)
		// headings (1,0,0) and (0,1,0) average to 45 degrees
		test.That(t, m7.HeadingDeg, test.ShouldAlmostEqual, 45)
		test.That(t, m7.PositionCovariance.At(0, 0), test.ShouldAlmostEqual, 32)

		m8 := states[1]
		test.That(t, m8.ID, test.ShouldEqual, 8)
		test.That(t, m8.Cameras, test.ShouldResemble, []int{1})
		test.That(t, m8.HeadingDeg, test.ShouldAlmostEqual, 90)
		test.That(t, mat.Det(m8.HeadingCovariance), test.ShouldEqual, 0.)
	}
}

func TestTrackerExcludesOldReadings(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	camera := newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(3), r3.Vector{X: 1})
	tracker, err := fusion.NewTracker(fusion.Options{Clock: mock, MaxAge: 500 * time.Millisecond, MaxQueueLen: 4}, []*fusion.Camera{camera}, nil, logger)
	test.That(t, err, test.ShouldBeNil)

	tracker.Ingest(camera, []fiducial.Observation{{ID: 3, Translation: r3.Vector{X: 100}}})
	mock.Add(400 * time.Millisecond)
	tracker.Ingest(camera, []fiducial.Observation{{ID: 3, Translation: r3.Vector{X: 2}}})
	mock.Add(200 * time.Millisecond)

	test.That(t, tracker.QueueLen(3), test.ShouldEqual, 2)
	states := tracker.Fuse(mock.Now())
	test.That(t, len(states), test.ShouldEqual, 1)
	test.That(t, states[0].SampleCount, test.ShouldEqual, 1)
	test.That(t, states[0].Position.X, test.ShouldAlmostEqual, 2)

	for i := 0; i < 10; i++ {
		_, err := tracker.Cycle(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tracker.QueueLen(3), test.ShouldBeLessThanOrEqualTo, 4)
	}

	mock.Add(time.Second)
	test.That(t, len(tracker.Fuse(mock.Now())), test.ShouldEqual, 0)
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]fusion.FusedState
	session string
	closed  bool
	err     error
}

func (s *recordingSink) Write(ctx context.Context, session string, states []fusion.FusedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.batches = append(s.batches, states)
	return s.err
}

func (s *recordingSink) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func TestTrackerSkipsFailingCamera(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	mock := clock.NewMock()
	broken := &inject.FrameSource{NextFunc: func(ctx context.Context) (fiducial.Frame, error) {
		return fiducial.Frame{}, errors.New("usb disconnected")
	}}
	sink := &recordingSink{err: errors.New("disk full")}
	tracker, err := fusion.NewTracker(mockOptions(mock, false), []*fusion.Camera{
		newCamera(0, transform.IdentityAffineTransform(), broken, seeing(1), r3.Vector{}),
		newCamera(1, transform.IdentityAffineTransform(), endless(), seeing(2), r3.Vector{Z: 1}),
	}, []fusion.Sink{sink}, logger)
	test.That(t, err, test.ShouldBeNil)

	states, err := tracker.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(states), test.ShouldEqual, 1)
	test.That(t, states[0].ID, test.ShouldEqual, 2)
	test.That(t, logs.FilterMessage("camera capture failed, skipping").Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage("cannot write fused states").Len(), test.ShouldEqual, 1)
	test.That(t, sink.session, test.ShouldEqual, tracker.Session())
}

func TestTrackerRun(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	sink := &recordingSink{}
	tracker, err := fusion.NewTracker(mockOptions(mock, true), []*fusion.Camera{
		newCamera(0, transform.IdentityAffineTransform(), inject.Frames(make([]fiducial.Frame, 3)...), seeing(1), r3.Vector{}),
		newCamera(1, transform.IdentityAffineTransform(), inject.Frames(make([]fiducial.Frame, 5)...), seeing(2), r3.Vector{}),
	}, []fusion.Sink{sink}, logger)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, tracker.Run(context.Background(), nil), test.ShouldBeNil)
	test.That(t, tracker.Exhausted(), test.ShouldBeTrue)
	test.That(t, len(sink.batches), test.ShouldEqual, 6)
	test.That(t, tracker.QueueLen(1), test.ShouldEqual, 3)
	test.That(t, tracker.QueueLen(2), test.ShouldEqual, 5)
	test.That(t, tracker.Close(context.Background()), test.ShouldBeNil)
	test.That(t, sink.closed, test.ShouldBeTrue)

	stop := make(chan struct{})
	close(stop)
	stopped, err := fusion.NewTracker(mockOptions(mock, false), []*fusion.Camera{
		newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(1), r3.Vector{}),
	}, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stopped.Run(context.Background(), stop), test.ShouldBeNil)
	test.That(t, stopped.QueueLen(1), test.ShouldEqual, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, stopped.Run(ctx, nil), test.ShouldBeError, context.Canceled)
}

func TestTrackerZeroMaxAge(t *testing.T) {
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	newTracker := func(opts fusion.Options) *fusion.Tracker {
		tracker, err := fusion.NewTracker(opts, []*fusion.Camera{
			newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(1), r3.Vector{Z: 1}),
		}, nil, logger)
		test.That(t, err, test.ShouldBeNil)
		return tracker
	}

	opts := mockOptions(mock, false)
	opts.MaxAge = 0
	tracker := newTracker(opts)
	states, err := tracker.Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, states, test.ShouldBeEmpty)
	test.That(t, tracker.QueueLen(1), test.ShouldEqual, 0)

	states, err = newTracker(mockOptions(mock, false)).Cycle(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(states), test.ShouldEqual, 1)
}

func TestNewTrackerValidates(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := fusion.NewTracker(fusion.Options{}, nil, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	camera := newCamera(0, transform.IdentityAffineTransform(), endless(), seeing(1), r3.Vector{})
	_, err = fusion.NewTracker(fusion.Options{}, []*fusion.Camera{camera, camera}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = fusion.NewTracker(fusion.Options{MaxAge: -time.Second}, []*fusion.Camera{camera}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	noTransform := newCamera(2, nil, endless(), seeing(1), r3.Vector{})
	_, err = fusion.NewTracker(fusion.Options{}, []*fusion.Camera{noTransform}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
