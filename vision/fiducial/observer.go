package fiducial

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
)

// An Observer turns frames of one camera into marker observations.
type Observer struct {
	Detector       Detector
	Estimator      PoseEstimator
	Camera         *config.CameraParameters
	DetectorParams config.DetectorParameters
	MarkerLength   float64
	// Logger reports markers dropped from a frame. Optional.
	Logger logging.Logger
}

// Validate checks the observer is usable.
func (o *Observer) Validate() error {
	if o.Detector == nil || o.Estimator == nil {
		return errors.New("a detector and a pose estimator are required")
	}
	if o.MarkerLength <= 0 {
		return errors.Errorf("marker length must be positive, got %v", o.MarkerLength)
	}
	return nil
}

// Observe detects the markers of frame and estimates their poses. A marker whose pose
// cannot be estimated is left out of the result; the frame fails only when no marker
// has a pose.
func (o *Observer) Observe(ctx context.Context, frame Frame) ([]Observation, error) {
	detections, err := o.Detector.Detect(ctx, frame, o.DetectorParams)
	if err != nil {
		return nil, errors.Wrap(err, "detection failed")
	}
	if len(detections) == 0 {
		return nil, nil
	}
	poses, err := o.Estimator.EstimatePoses(ctx, detections, o.MarkerLength, o.Camera)
	if err == nil && len(poses) != len(detections) {
		err = errors.Errorf("got %d poses for %d detections", len(poses), len(detections))
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return o.observeEach(ctx, frame, detections, err)
	}
	observations := make([]Observation, 0, len(detections))
	for i, d := range detections {
		observations = append(observations, NewObservation(d, poses[i], frame))
	}
	return observations, nil
}

// observeEach estimates the pose of every detection on its own, skipping the ones that fail.
func (o *Observer) observeEach(ctx context.Context, frame Frame, detections []Detection, batchErr error) ([]Observation, error) {
	observations := make([]Observation, 0, len(detections))
	for _, d := range detections {
		poses, err := o.Estimator.EstimatePoses(ctx, []Detection{d}, o.MarkerLength, o.Camera)
		if err == nil && len(poses) != 1 {
			err = errors.Errorf("got %d poses for one detection", len(poses))
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if o.Logger != nil {
				o.Logger.Warnw("skipping marker, pose estimation failed", "frame", frame.Index, "marker", d.ID, "error", err)
			}
			continue
		}
		observations = append(observations, NewObservation(d, poses[0], frame))
	}
	if len(observations) == 0 {
		return nil, errors.Wrap(batchErr, "pose estimation failed")
	}
	return observations, nil
}
