// Package fiducial defines the marker observations shared by camera calibration, ground transform
// estimation and multi-camera tracking, along with the collaborators that produce them.
package fiducial

import (
	"context"
	"image"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/markerpose/config"
)

// A Frame is one image pulled from a FrameSource. Image may be nil when the source replays
// previously recorded detections.
type Frame struct {
	CameraID int
	Index    int
	Time     time.Time
	Size     image.Point
	Image    image.Image
}

// A Detection is a marker found in a frame. Corners are ordered top-left, top-right,
// bottom-right, bottom-left in marker orientation.
type Detection struct {
	ID      int
	Corners [4]r2.Point
}

// Centroid returns the sum of the four corners, which is four times the geometric center.
func (d Detection) Centroid() r2.Point {
	var sum r2.Point
	for _, c := range d.Corners {
		sum = sum.Add(c)
	}
	return sum
}

// A Pose is the marker to camera rotation vector and translation of one detection.
type Pose struct {
	Rotation    r3.Vector
	Translation r3.Vector
}

// An Observation is a detected marker together with its estimated pose.
type Observation struct {
	ID          int
	Corners     [4]r2.Point
	Rotation    r3.Vector
	Translation r3.Vector
	CameraID    int
	Time        time.Time
}

// NewObservation combines a detection, its pose and the frame it came from.
func NewObservation(d Detection, p Pose, frame Frame) Observation {
	return Observation{
		ID:          d.ID,
		Corners:     d.Corners,
		Rotation:    p.Rotation,
		Translation: p.Translation,
		CameraID:    frame.CameraID,
		Time:        frame.Time,
	}
}

// A FrameSource yields frames from one camera. Next returns io.EOF once the input is exhausted.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close(ctx context.Context) error
}

// A Detector finds markers in a frame. Params are handed over as read from the detector
// parameter file.
type Detector interface {
	Detect(ctx context.Context, frame Frame, params config.DetectorParameters) ([]Detection, error)
}

// A PoseEstimator computes the pose of each detection, in order, for square markers of the
// given side length.
type PoseEstimator interface {
	EstimatePoses(
		ctx context.Context,
		detections []Detection,
		markerLength float64,
		camera *config.CameraParameters,
	) ([]Pose, error)
}
