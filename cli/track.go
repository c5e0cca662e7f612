package cli

import (
	"context"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/utils"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/fusion"
	"go.viam.com/markerpose/vision/fiducial/sink"
)

func trackerOptions(c *cli.Context) fusion.Options {
	return fusion.Options{
		MaxAge:      time.Duration(c.Float64(trackFlagMaxAge) * float64(time.Second)),
		MaxQueueLen: c.Int(trackFlagMaxQueue),
		Parallel:    c.Bool(trackFlagParallel),
	}
}

// openCamera loads the configuration of one tracking camera and opens its input.
func openCamera(c *cli.Context, id int, logger logging.Logger) (*fusion.Camera, error) {
	params, err := detectorParams(c, id, logger)
	if err != nil {
		return nil, err
	}
	camera, err := intrinsics(c, id)
	if err != nil {
		return nil, err
	}
	ground, err := config.ReadTransform(utils.ReplaceCameraID(c.String(trackFlagTransforms), id))
	if err != nil {
		return nil, err
	}
	in, err := inputFromFlags(c).open(id, camera)
	if err != nil {
		return nil, err
	}
	return &fusion.Camera{
		ID:     id,
		Source: in.Source,
		Observer: fiducial.Observer{
			Detector:       in.Detector,
			Estimator:      in.Estimator,
			Camera:         camera,
			DetectorParams: params,
			MarkerLength:   c.Float64(boardFlagLength),
			Logger:         logger,
		},
		Transform: ground,
	}, nil
}

// openSinks opens the outputs selected by flags.
func openSinks(c *cli.Context, logger logging.Logger) ([]fusion.Sink, error) {
	var sinks []fusion.Sink
	if !c.Bool(trackFlagQuiet) {
		sinks = append(sinks, sink.NewLogSink(logger.Sublogger("states")))
	}
	if path := c.String(trackFlagJSONLines); path != "" {
		s, err := sink.OpenJSONLinesSink(path)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}
	if path := c.String(trackFlagSQLite); path != "" {
		s, err := sink.OpenSQLiteSink(path)
		if err != nil {
			return sinks, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// TrackAction fuses what every camera sees until stopped or out of input.
func TrackAction(c *cli.Context) (err error) {
	ids, err := utils.ParseCameraIDs(c.String(inputFlagCameraIDs))
	if err != nil {
		return err
	}
	logger := newLogger(c, "track")
	opts := trackerOptions(c)
	if err := opts.Validate(); err != nil {
		return err
	}

	var cameras []*fusion.Camera
	var sinks []fusion.Sink
	closeAll := func() error {
		var err error
		for _, cam := range cameras {
			err = multierr.Combine(err, cam.Source.Close(context.Background()))
		}
		for _, s := range sinks {
			err = multierr.Combine(err, s.Close(context.Background()))
		}
		return err
	}
	for _, id := range ids {
		cam, err := openCamera(c, id, logger)
		if err != nil {
			return multierr.Combine(errors.Wrapf(err, "camera %d", id), closeAll())
		}
		cameras = append(cameras, cam)
	}
	if sinks, err = openSinks(c, logger); err != nil {
		return multierr.Combine(err, closeAll())
	}

	tracker, err := fusion.NewTracker(opts, cameras, sinks, logger)
	if err != nil {
		return multierr.Combine(err, closeAll())
	}
	defer func() {
		err = multierr.Combine(err, tracker.Close(context.Background()))
	}()

	ctx, cancel := interruptible(c)
	defer cancel()
	keys, err := StopOnKey(os.Stdin)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := keys.Close(); closeErr != nil {
			logger.Debugw("cannot restore terminal", "error", closeErr)
		}
	}()
	infof(c.App.Writer, "tracking session %s with %d cameras, press q to stop", tracker.Session(), len(cameras))
	return tracker.Run(ctx, keys.Done())
}
