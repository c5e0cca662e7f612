package calibration

import (
	"context"
	"image"
	"io"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/vision/fiducial"
)

var (
	// ErrInputExhausted is returned when the frame source runs out before a calibration succeeds.
	ErrInputExhausted = errors.New("input frames exhausted before calibration succeeded")
	// ErrStopped is returned when capture is stopped before a calibration succeeds.
	ErrStopped = errors.New("capture stopped before calibration succeeded")
)

// State is the stage of the capture loop.
type State int

// The capture states.
const (
	StateAwaitingFrame State = iota
	StateAccumulating
	StateCalibrating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateAccumulating:
		return "accumulating"
	case StateCalibrating:
		return "calibrating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configure an Orchestrator. Start from DefaultOptions: the marker fraction and the frame
// distance are used as given, zero included. The remaining numeric fields fall back to their
// defaults when zero, since zero is not a usable value for them.
type Options struct {
	Board Board
	// MinMarkerFraction of the board's markers must be seen in a frame. Zero only requires one.
	MinMarkerFraction float64
	// MinFrameDistance is the smallest mean marker displacement, in pixels, from the last
	// accepted frame. Zero accepts repeated views.
	MinFrameDistance float64
	// CycleSize is the number of accepted frames between calibration attempts. Defaults to 10.
	CycleSize int
	// WindowSize is the largest number of recent frames handed to the calibrator. Defaults to 30.
	WindowSize int
	// ReprojectionThreshold bounds the reprojection error of an accepted calibration; the error
	// must be strictly below it. Defaults to 1.
	ReprojectionThreshold float64
	Flags                 config.CalibrationFlags
	// AspectRatio is fx/fy when FixAspectRatio is set. Defaults to 1.
	AspectRatio float64
	// OutputPath receives the camera parameters. Nothing is written when empty.
	OutputPath     string
	DetectorParams config.DetectorParameters
	Clock          clock.Clock
}

// DefaultOptions returns the options the calibrate command starts from.
func DefaultOptions() Options {
	return Options{
		MinMarkerFraction:     0.4,
		MinFrameDistance:      200,
		CycleSize:             10,
		WindowSize:            30,
		ReprojectionThreshold: 1,
		AspectRatio:           1,
	}
}

func (opts Options) withDefaults() Options {
	defaults := DefaultOptions()
	if opts.CycleSize == 0 {
		opts.CycleSize = defaults.CycleSize
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = defaults.WindowSize
	}
	if opts.ReprojectionThreshold == 0 {
		opts.ReprojectionThreshold = defaults.ReprojectionThreshold
	}
	if opts.AspectRatio == 0 {
		opts.AspectRatio = defaults.AspectRatio
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return opts
}

// Validate checks the options after defaults are applied.
func (opts Options) Validate() error {
	if err := opts.Board.Validate(); err != nil {
		return err
	}
	if opts.MinMarkerFraction < 0 || opts.MinMarkerFraction > 1 {
		return errors.Errorf("marker fraction must be within [0, 1], got %v", opts.MinMarkerFraction)
	}
	if opts.MinFrameDistance < 0 {
		return errors.Errorf("frame distance must not be negative, got %v", opts.MinFrameDistance)
	}
	if opts.CycleSize <= 0 {
		return errors.Errorf("cycle size must be positive, got %d", opts.CycleSize)
	}
	if opts.WindowSize < opts.CycleSize {
		return errors.Errorf("window size %d must be at least the cycle size %d", opts.WindowSize, opts.CycleSize)
	}
	if opts.ReprojectionThreshold <= 0 {
		return errors.Errorf("reprojection threshold must be positive, got %v", opts.ReprojectionThreshold)
	}
	if opts.AspectRatio <= 0 {
		return errors.Errorf("aspect ratio must be positive, got %v", opts.AspectRatio)
	}
	return nil
}

// An Outcome summarizes a successful capture.
type Outcome struct {
	Parameters     *config.CameraParameters
	Attempts       int
	FramesRead     int
	FramesAccepted int
	// PersistErr is set when the parameters could not be written. The calibration itself still
	// succeeded.
	PersistErr error
}

// An Orchestrator drives one calibration capture session. It is not safe for concurrent use.
type Orchestrator struct {
	opts       Options
	gate       DiversityGate
	source     fiducial.FrameSource
	detector   fiducial.Detector
	calibrator Calibrator
	logger     logging.Logger

	state     State
	window    []*fiducial.FrameSnapshot
	previous  *fiducial.FrameSnapshot
	imageSize image.Point
	read      int
	accepted  int
	attempts  int
}

// NewOrchestrator returns an Orchestrator reading from source.
func NewOrchestrator(
	opts Options,
	source fiducial.FrameSource,
	detector fiducial.Detector,
	calibrator Calibrator,
	logger logging.Logger,
) (*Orchestrator, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if source == nil || detector == nil || calibrator == nil {
		return nil, errors.New("frame source, detector and calibrator are required")
	}
	return &Orchestrator{
		opts: opts,
		gate: DiversityGate{
			MinMarkerFraction: opts.MinMarkerFraction,
			MinDistance:       opts.MinFrameDistance,
			MaxMarkers:        opts.Board.MaxMarkers(),
		},
		source:     source,
		detector:   detector,
		calibrator: calibrator,
		logger:     logger,
		state:      StateAwaitingFrame,
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return o.state
}

// Run reads frames until a calibration is accepted, the input runs out, stop is closed or ctx
// is done.
func (o *Orchestrator) Run(ctx context.Context, stop <-chan struct{}) (*Outcome, error) {
	for {
		select {
		case <-ctx.Done():
			o.reset(StateFailed)
			return nil, ctx.Err()
		case <-stop:
			o.reset(StateFailed)
			return nil, ErrStopped
		default:
		}

		frame, err := o.source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.reset(StateFailed)
				o.logger.Warnw("input exhausted", "frames_read", o.read, "frames_accepted", o.accepted, "attempts", o.attempts)
				return nil, ErrInputExhausted
			}
			if ctx.Err() != nil {
				o.reset(StateFailed)
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "cannot read frame")
		}

		outcome, err := o.Process(ctx, frame)
		if err != nil {
			return nil, err
		}
		if outcome != nil {
			return outcome, nil
		}
	}
}

// Process runs one frame through the state machine. It returns a non-nil Outcome once a
// calibration has been accepted.
func (o *Orchestrator) Process(ctx context.Context, frame fiducial.Frame) (*Outcome, error) {
	if o.state == StateDone || o.state == StateFailed {
		return nil, errors.Errorf("capture already finished in state %s", o.state)
	}
	o.read++
	o.state = StateAwaitingFrame

	detections, err := o.detector.Detect(ctx, frame, o.opts.DetectorParams)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warnw("marker detection failed, skipping frame", "frame", frame.Index, "error", err)
		o.settle()
		return nil, nil
	}

	snapshot := fiducial.NewFrameSnapshot(frame.Size, detections)
	decision := o.gate.Evaluate(snapshot, o.previous)
	if !decision.Accepted() {
		o.logger.Debugw("frame rejected",
			"frame", frame.Index, "reason", decision.Reason.String(),
			"markers", snapshot.Len(), "distance", decision.Distance)
		o.settle()
		return nil, nil
	}

	o.previous = snapshot
	o.imageSize = frame.Size
	o.window = append(o.window, snapshot)
	if len(o.window) > o.opts.WindowSize {
		o.window = o.window[len(o.window)-o.opts.WindowSize:]
	}
	o.accepted++
	o.state = StateAccumulating
	o.logger.Debugw("frame accepted", "frame", frame.Index, "markers", snapshot.Len(), "accepted", o.accepted)

	if o.accepted%o.opts.CycleSize != 0 {
		return nil, nil
	}
	return o.calibrate(ctx)
}

func (o *Orchestrator) settle() {
	if o.accepted > 0 {
		o.state = StateAccumulating
	}
}

func (o *Orchestrator) calibrate(ctx context.Context) (*Outcome, error) {
	o.state = StateCalibrating
	o.attempts++
	req := o.request()
	o.logger.Infow("calibrating", "attempt", o.attempts, "frames", req.Frames(), "markers", len(req.IDs))

	result, err := o.calibrator.Calibrate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warnw("calibration attempt failed, continuing to accumulate", "attempt", o.attempts, "error", err)
		o.state = StateAccumulating
		return nil, nil
	}
	if result.ReprojectionError >= o.opts.ReprojectionThreshold {
		o.logger.Infow("reprojection error not below threshold, continuing to accumulate",
			"attempt", o.attempts, "error", result.ReprojectionError, "threshold", o.opts.ReprojectionThreshold)
		o.state = StateAccumulating
		return nil, nil
	}

	params := &config.CameraParameters{
		ImageWidth:           o.imageSize.X,
		ImageHeight:          o.imageSize.Y,
		AspectRatio:          o.opts.AspectRatio,
		Flags:                o.opts.Flags,
		CameraMatrix:         result.CameraMatrix,
		Distortion:           result.Distortion,
		AvgReprojectionError: result.ReprojectionError,
	}
	params.Stamp(o.opts.Clock.Now())
	o.state = StateDone
	o.logger.Infow("calibration accepted", "attempt", o.attempts, "error", result.ReprojectionError)

	outcome := &Outcome{
		Parameters:     params,
		Attempts:       o.attempts,
		FramesRead:     o.read,
		FramesAccepted: o.accepted,
	}
	if o.opts.OutputPath != "" {
		if err := config.WriteCameraParameters(o.opts.OutputPath, params); err != nil {
			outcome.PersistErr = errors.Wrapf(err, "cannot write camera parameters to %q", o.opts.OutputPath)
			o.logger.Errorw("calibration succeeded but the result was not saved", "path", o.opts.OutputPath, "error", err)
		} else {
			o.logger.Infow("camera parameters saved", "path", o.opts.OutputPath)
		}
	}
	o.window = nil
	return outcome, nil
}

// request flattens the frames in the window into one corpus.
func (o *Orchestrator) request() Request {
	req := Request{
		ImageSize:   o.imageSize,
		Board:       o.opts.Board,
		Flags:       o.opts.Flags,
		AspectRatio: o.opts.AspectRatio,
	}
	for _, s := range o.window {
		req.Corners = append(req.Corners, s.Corners()...)
		req.IDs = append(req.IDs, s.IDs()...)
		req.MarkerCounts = append(req.MarkerCounts, s.Len())
	}
	guess := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if o.opts.Flags.Has(config.FixAspectRatio) {
		guess.Set(0, 0, o.opts.AspectRatio)
	}
	req.CameraMatrix = guess
	return req
}

func (o *Orchestrator) reset(state State) {
	o.state = state
	o.window = nil
	o.previous = nil
}
