// Package inject provides fakes of the capture collaborators whose behavior is set per test.
package inject

import (
	"context"
	"io"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/vision/fiducial"
)

// FrameSource is an injected frame source.
type FrameSource struct {
	NextFunc  func(ctx context.Context) (fiducial.Frame, error)
	CloseFunc func(ctx context.Context) error
}

// Next calls the injected Next or reports the end of input.
func (fs *FrameSource) Next(ctx context.Context) (fiducial.Frame, error) {
	if fs.NextFunc == nil {
		return fiducial.Frame{}, io.EOF
	}
	return fs.NextFunc(ctx)
}

// Close calls the injected Close or does nothing.
func (fs *FrameSource) Close(ctx context.Context) error {
	if fs.CloseFunc == nil {
		return nil
	}
	return fs.CloseFunc(ctx)
}

// Frames returns a source yielding frames in order and then io.EOF.
func Frames(frames ...fiducial.Frame) *FrameSource {
	i := 0
	return &FrameSource{
		NextFunc: func(ctx context.Context) (fiducial.Frame, error) {
			if err := ctx.Err(); err != nil {
				return fiducial.Frame{}, err
			}
			if i >= len(frames) {
				return fiducial.Frame{}, io.EOF
			}
			i++
			return frames[i-1], nil
		},
	}
}

// Detector is an injected marker detector.
type Detector struct {
	DetectFunc func(ctx context.Context, frame fiducial.Frame, params config.DetectorParameters) ([]fiducial.Detection, error)
}

// Detect calls the injected Detect or finds nothing.
func (d *Detector) Detect(
	ctx context.Context,
	frame fiducial.Frame,
	params config.DetectorParameters,
) ([]fiducial.Detection, error) {
	if d.DetectFunc == nil {
		return nil, nil
	}
	return d.DetectFunc(ctx, frame, params)
}

// PoseEstimator is an injected pose estimator.
type PoseEstimator struct {
	EstimatePosesFunc func(
		ctx context.Context,
		detections []fiducial.Detection,
		markerLength float64,
		camera *config.CameraParameters,
	) ([]fiducial.Pose, error)
}

// EstimatePoses calls the injected EstimatePoses or returns a zero pose per detection.
func (pe *PoseEstimator) EstimatePoses(
	ctx context.Context,
	detections []fiducial.Detection,
	markerLength float64,
	camera *config.CameraParameters,
) ([]fiducial.Pose, error) {
	if pe.EstimatePosesFunc == nil {
		return make([]fiducial.Pose, len(detections)), nil
	}
	return pe.EstimatePosesFunc(ctx, detections, markerLength, camera)
}
