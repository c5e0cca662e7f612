package cli

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/groundtransform"
)

func solverOptions(c *cli.Context) groundtransform.Options {
	return groundtransform.Options{
		FrameFraction:     c.Float64(transformFlagFrameFraction),
		MaxTranslationDet: c.Float64(transformFlagTranslation),
		MaxRotationDet:    c.Float64(transformFlagRotationDet),
	}
}

// TransformAction watches markers at known ground positions and fits the camera to ground
// transform.
func TransformAction(c *cli.Context) (err error) {
	cameraID, err := singleCameraID(c)
	if err != nil {
		return err
	}
	out, err := outputPath(c, cameraID)
	if err != nil {
		return err
	}
	logger := newLogger(c, "transform")

	coords, err := groundtransform.ParseGroundCoordinates(c.String(transformFlagGroundCoords))
	if err != nil {
		return err
	}
	params, err := detectorParams(c, cameraID, logger)
	if err != nil {
		return err
	}
	camera, err := intrinsics(c, cameraID)
	if err != nil {
		return err
	}
	in, err := inputFromFlags(c).open(cameraID, camera)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, in.Close(context.Background()))
	}()
	if in.Estimator == nil {
		return errors.New("camera intrinsics are needed to estimate marker poses from images")
	}
	solverOpts := solverOptions(c)
	if err := solverOpts.Validate(); err != nil {
		return err
	}

	ctx, cancel := interruptible(c)
	defer cancel()
	keys, err := StopOnKey(os.Stdin)
	if err != nil {
		return err
	}
	collector := &groundtransform.Collector{
		Observer: fiducial.Observer{
			Detector:       in.Detector,
			Estimator:      in.Estimator,
			Camera:         camera,
			DetectorParams: params,
			MarkerLength:   c.Float64(boardFlagLength),
			Logger:         logger,
		},
		Source:    in.Source,
		MaxFrames: c.Int(transformFlagMaxFrames),
		Logger:    logger,
	}
	agg, err := collector.Collect(ctx, keys.Done())
	if closeErr := keys.Close(); closeErr != nil {
		logger.Debugw("cannot restore terminal", "error", closeErr)
	}
	if err != nil {
		return err
	}

	resolver := coords.Resolver(groundtransform.NewConsoleResolver(keys.Reader(), c.App.Writer))
	solver, err := groundtransform.NewSolver(solverOpts, resolver, logger)
	if err != nil {
		return err
	}
	solution, err := solver.Solve(ctx, agg)
	if err != nil {
		return errors.Wrap(err, "cannot compute ground transform")
	}
	if err := config.WriteTransform(out, solution.Transform); err != nil {
		return err
	}
	infof(c.App.Writer, "ground transform from %d markers written to %s", solution.Pairs(), out)
	return nil
}
