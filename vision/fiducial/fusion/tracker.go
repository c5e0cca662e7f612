package fusion

import (
	"context"
	"io"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/utils"
	"go.viam.com/markerpose/vision/fiducial"
)

// Options configure a Tracker. Start from DefaultOptions: MaxAge is used as given, zero included.
type Options struct {
	// MaxAge is how long a reading takes part in fusion. Zero fuses nothing.
	MaxAge time.Duration
	// MaxQueueLen bounds the readings kept per marker. Zero takes DefaultMaxQueueLen.
	MaxQueueLen int
	// Parallel polls the cameras concurrently.
	Parallel bool
	Clock    clock.Clock
}

// DefaultMaxQueueLen is the number of readings kept per marker unless configured.
const DefaultMaxQueueLen = 100

// DefaultOptions returns the options the track command starts from.
func DefaultOptions() Options {
	return Options{MaxAge: time.Second, MaxQueueLen: DefaultMaxQueueLen}
}

func (opts Options) withDefaults() Options {
	if opts.MaxQueueLen == 0 {
		opts.MaxQueueLen = DefaultMaxQueueLen
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return opts
}

// Validate checks the options after defaults are applied.
func (opts Options) Validate() error {
	if opts.MaxAge < 0 {
		return errors.Errorf("max age must not be negative, got %v", opts.MaxAge)
	}
	if opts.MaxQueueLen < 0 {
		return errors.Errorf("max queue length must not be negative, got %d", opts.MaxQueueLen)
	}
	return nil
}

// A FusedState is the ground frame estimate of one marker from its recent readings.
type FusedState struct {
	ID       int
	Time     time.Time
	Position r3.Vector
	Heading  r3.Vector
	// HeadingDeg is the heading angle in the ground XY plane, counterclockwise from +X.
	HeadingDeg         float64
	PositionCovariance *mat.SymDense
	HeadingCovariance  *mat.SymDense
	SampleCount        int
	Cameras            []int
}

// A Sink receives the fused states of every cycle.
type Sink interface {
	Write(ctx context.Context, session string, states []FusedState) error
	Close(ctx context.Context) error
}

// A Tracker polls its cameras and fuses what they see.
type Tracker struct {
	opts    Options
	cameras []*Camera
	sinks   []Sink
	logger  logging.Logger
	session string

	mu        sync.Mutex
	queues    map[int]*ReadingQueue
	exhausted map[int]bool
}

// NewTracker returns a Tracker over cameras, writing every cycle to sinks.
func NewTracker(opts Options, cameras []*Camera, sinks []Sink, logger logging.Logger) (*Tracker, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(cameras) == 0 {
		return nil, errors.New("at least one camera is required")
	}
	seen := map[int]bool{}
	for _, c := range cameras {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.ID] {
			return nil, errors.Errorf("camera %d is given twice", c.ID)
		}
		seen[c.ID] = true
	}
	session := uuid.NewString()
	return &Tracker{
		opts:      opts,
		cameras:   cameras,
		sinks:     sinks,
		logger:    logger.Sublogger(session[:8]),
		session:   session,
		queues:    map[int]*ReadingQueue{},
		exhausted: map[int]bool{},
	}, nil
}

// Session returns the id of this tracking session.
func (t *Tracker) Session() string {
	return t.session
}

// Ingest maps observations from camera into the ground frame and queues them, stamped with the
// current time.
func (t *Tracker) Ingest(camera *Camera, observations []fiducial.Observation) {
	now := t.opts.Clock.Now()
	for _, o := range observations {
		position, heading := camera.ToGround(o)
		o.CameraID = camera.ID
		t.queue(o.ID).Push(PoseReading{Observation: o, Queued: now, Position: position, Heading: heading})
	}
}

func (t *Tracker) queue(id int) *ReadingQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[id]
	if !ok {
		q = NewReadingQueue(t.opts.MaxQueueLen)
		t.queues[id] = q
	}
	return q
}

// QueueLen returns the number of readings queued for marker id.
func (t *Tracker) QueueLen(id int) int {
	t.mu.Lock()
	q, ok := t.queues[id]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Len()
}

// Fuse computes the state of every marker with readings younger than the max age at now.
func (t *Tracker) Fuse(now time.Time) []FusedState {
	t.mu.Lock()
	ids := lo.Keys(t.queues)
	queues := make([]*ReadingQueue, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		queues = append(queues, t.queues[id])
	}
	t.mu.Unlock()

	var states []FusedState
	for i, q := range queues {
		readings := q.Recent(now, t.opts.MaxAge)
		if len(readings) == 0 {
			continue
		}
		positions := make([]r3.Vector, 0, len(readings))
		headings := make([]r3.Vector, 0, len(readings))
		cameras := make([]int, 0, len(readings))
		for _, r := range readings {
			positions = append(positions, r.Position)
			headings = append(headings, r.Heading)
			cameras = append(cameras, r.CameraID)
		}
		//nolint:errcheck // readings is not empty
		position, positionCov, _ := fiducial.VectorStatistics(positions)
		//nolint:errcheck // readings is not empty
		heading, headingCov, _ := fiducial.VectorStatistics(headings)
		cameras = lo.Uniq(cameras)
		sort.Ints(cameras)
		states = append(states, FusedState{
			ID:                 ids[i],
			Time:               now,
			Position:           position,
			Heading:            heading,
			HeadingDeg:         utils.RadToDeg(math.Atan2(heading.Y, heading.X)),
			PositionCovariance: positionCov,
			HeadingCovariance:  headingCov,
			SampleCount:        len(readings),
			Cameras:            cameras,
		})
	}
	return states
}

type pollResult struct {
	camera       *Camera
	observations []fiducial.Observation
	err          error
}

// poll reads one frame from every camera that still has input. Each camera's result stays in
// its own slot until all polls finish.
func (t *Tracker) poll(ctx context.Context) []pollResult {
	var active []*Camera
	t.mu.Lock()
	for _, c := range t.cameras {
		if !t.exhausted[c.ID] {
			active = append(active, c)
		}
	}
	t.mu.Unlock()

	results := make([]pollResult, len(active))
	pollOne := func(i int) {
		c := active[i]
		_, observations, err := c.poll(ctx)
		results[i] = pollResult{camera: c, observations: observations, err: err}
	}
	if !t.opts.Parallel {
		for i := range active {
			pollOne(i)
		}
		return results
	}
	var g errgroup.Group
	for i := range active {
		g.Go(func() error {
			pollOne(i)
			return nil
		})
	}
	goutils.UncheckedError(g.Wait())
	return results
}

// Cycle polls every camera once, queues what they saw and fuses the recent readings. A camera
// that fails is skipped for the cycle.
func (t *Tracker) Cycle(ctx context.Context) ([]FusedState, error) {
	for _, r := range t.poll(ctx) {
		if r.err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(r.err, io.EOF) {
				t.logger.Infow("camera input exhausted", "camera", r.camera.ID)
				t.mu.Lock()
				t.exhausted[r.camera.ID] = true
				t.mu.Unlock()
				continue
			}
			t.logger.Warnw("camera capture failed, skipping", "camera", r.camera.ID, "error", r.err)
			continue
		}
		t.Ingest(r.camera, r.observations)
	}

	states := t.Fuse(t.opts.Clock.Now())
	if len(states) > 0 {
		for _, s := range t.sinks {
			if err := s.Write(ctx, t.session, states); err != nil {
				t.logger.Errorw("cannot write fused states", "error", err)
			}
		}
	}
	return states, nil
}

// Exhausted reports whether no camera has input left.
func (t *Tracker) Exhausted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.exhausted) == len(t.cameras)
}

// Run cycles until stop is closed, ctx is done or every camera runs out of input. The stop
// signal is checked once per cycle.
func (t *Tracker) Run(ctx context.Context, stop <-chan struct{}) error {
	t.logger.Infow("tracking", "session", t.session, "cameras", len(t.cameras), "max_age", t.opts.MaxAge)
	for cycles := 0; ; cycles++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			t.logger.Infow("tracking stopped", "cycles", cycles)
			return nil
		default:
		}
		if _, err := t.Cycle(ctx); err != nil {
			return err
		}
		if t.Exhausted() {
			t.logger.Infow("all camera inputs exhausted", "cycles", cycles+1)
			return nil
		}
	}
}

// Close closes every camera source and sink.
func (t *Tracker) Close(ctx context.Context) error {
	var err error
	for _, c := range t.cameras {
		err = multierr.Combine(err, errors.Wrapf(c.Source.Close(ctx), "camera %d", c.ID))
	}
	for _, s := range t.sinks {
		err = multierr.Combine(err, s.Close(ctx))
	}
	return err
}
