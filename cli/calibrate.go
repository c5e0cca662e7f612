package cli

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/vision/fiducial/calibration"
)

// calibrationOptions builds the orchestrator options from the command's flags.
func calibrationOptions(c *cli.Context) calibration.Options {
	opts := calibration.Options{
		Board: calibration.Board{
			MarkersX:         c.Int(boardFlagMarkersX),
			MarkersY:         c.Int(boardFlagMarkersY),
			MarkerLength:     c.Float64(boardFlagLength),
			MarkerSeparation: c.Float64(boardFlagSeparation),
			Dictionary:       c.Int(boardFlagDictionary),
		},
		MinMarkerFraction:     c.Float64(calibrateFlagMarkerFraction),
		MinFrameDistance:      c.Float64(calibrateFlagFrameDistance),
		CycleSize:             c.Int(calibrateFlagCycle),
		WindowSize:            c.Int(calibrateFlagWindow),
		ReprojectionThreshold: c.Float64(calibrateFlagThreshold),
	}
	if c.IsSet(calibrateFlagAspectRatio) {
		opts.Flags |= config.FixAspectRatio
		opts.AspectRatio = c.Float64(calibrateFlagAspectRatio)
	}
	if c.Bool(calibrateFlagZeroTangent) {
		opts.Flags |= config.ZeroTangentDist
	}
	if c.Bool(calibrateFlagFixPrincipal) {
		opts.Flags |= config.FixPrincipalPoint
	}
	return opts
}

// CalibrateAction captures diverse views of a marker board until a calibration is accepted.
func CalibrateAction(c *cli.Context) (err error) {
	cameraID, err := singleCameraID(c)
	if err != nil {
		return err
	}
	out, err := outputPath(c, cameraID)
	if err != nil {
		return err
	}
	logger := newLogger(c, "calibrate")

	opts := calibrationOptions(c)
	opts.OutputPath = out
	if opts.DetectorParams, err = detectorParams(c, cameraID, logger); err != nil {
		return err
	}
	in, err := inputFromFlags(c).open(cameraID, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, in.Close(context.Background()))
	}()

	calibrator := &calibration.ExecCalibrator{
		Path:   c.String(calibrateFlagSolver),
		Args:   c.StringSlice(calibrateFlagSolverArgs),
		Logger: logger.Sublogger("solver"),
	}
	orchestrator, err := calibration.NewOrchestrator(opts, in.Source, in.Detector, calibrator, logger)
	if err != nil {
		return err
	}

	ctx, cancel := interruptible(c)
	defer cancel()
	keys, err := StopOnKey(os.Stdin)
	if err != nil {
		return err
	}
	outcome, err := orchestrator.Run(ctx, keys.Done())
	if closeErr := keys.Close(); closeErr != nil {
		logger.Debugw("cannot restore terminal", "error", closeErr)
	}
	if err != nil {
		return errors.Wrap(err, "calibration failed")
	}

	printf(c.App.Writer, "calibrated after %d attempts from %d of %d frames, reprojection error %.4f",
		outcome.Attempts, outcome.FramesAccepted, outcome.FramesRead, outcome.Parameters.AvgReprojectionError)
	if outcome.PersistErr != nil {
		warningf(c.App.ErrWriter, "calibration could not be saved to %s: %v", out, outcome.PersistErr)
		return nil
	}
	infof(c.App.Writer, "camera parameters written to %s", out)
	return nil
}
