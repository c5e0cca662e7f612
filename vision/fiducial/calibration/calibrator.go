package calibration

import (
	"context"
	"image"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/config"
)

// A Request is the observation corpus of one calibration attempt. Corners and IDs are flat over
// all frames of the batch; MarkerCounts holds how many markers each frame contributed.
type Request struct {
	Corners      [][4]r2.Point
	IDs          []int
	MarkerCounts []int
	ImageSize    image.Point
	Board        Board
	Flags        config.CalibrationFlags
	AspectRatio  float64
	// CameraMatrix is the initial intrinsic guess.
	CameraMatrix *mat.Dense
}

// Frames returns the number of frames in the request.
func (r *Request) Frames() int {
	return len(r.MarkerCounts)
}

// A Result is the outcome of one calibration attempt.
type Result struct {
	CameraMatrix      *mat.Dense
	Distortion        []float64
	ReprojectionError float64
}

// A Calibrator solves for camera intrinsics from a marker board corpus.
type Calibrator interface {
	Calibrate(ctx context.Context, req Request) (Result, error)
}

// CalibratorFunc adapts a function to a Calibrator.
type CalibratorFunc func(ctx context.Context, req Request) (Result, error)

// Calibrate calls f.
func (f CalibratorFunc) Calibrate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
