package inject

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/markerpose/vision/fiducial/calibration"
)

// Calibrator is an injected intrinsic calibrator.
type Calibrator struct {
	CalibrateFunc func(ctx context.Context, req calibration.Request) (calibration.Result, error)
}

// Calibrate calls the injected Calibrate or fails.
func (c *Calibrator) Calibrate(ctx context.Context, req calibration.Request) (calibration.Result, error) {
	if c.CalibrateFunc == nil {
		return calibration.Result{}, errors.New("no calibrator injected")
	}
	return c.CalibrateFunc(ctx, req)
}
