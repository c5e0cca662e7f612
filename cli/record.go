package cli

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/replay"
)

// recordFrames runs detection, and pose estimation when camera is set, over every frame of in
// and writes one record per frame. It returns the number of frames recorded.
func recordFrames(
	ctx context.Context,
	stop <-chan struct{},
	in *cameraInput,
	params config.DetectorParameters,
	camera *config.CameraParameters,
	markerLength float64,
	recorder *replay.Recorder,
	logger logging.Logger,
) (int, error) {
	recorded := 0
	for {
		select {
		case <-ctx.Done():
			return recorded, ctx.Err()
		case <-stop:
			return recorded, nil
		default:
		}
		frame, err := in.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return recorded, nil
			}
			return recorded, err
		}
		detections, err := in.Detector.Detect(ctx, frame, params)
		if err != nil {
			logger.Warnw("detection failed", "frame", frame.Index, "error", err)
			continue
		}
		var poses []fiducial.Pose
		if camera != nil && len(detections) > 0 {
			if poses, err = in.Estimator.EstimatePoses(ctx, detections, markerLength, camera); err != nil {
				logger.Warnw("pose estimation failed", "frame", frame.Index, "error", err)
				poses = nil
			}
		}
		rec, err := replay.NewRecord(frame, detections, poses)
		if err != nil {
			return recorded, err
		}
		if err := recorder.Record(rec); err != nil {
			return recorded, errors.Wrap(err, "cannot write record")
		}
		recorded++
		logger.Debugw("frame recorded", "frame", frame.Index, "markers", len(detections))
	}
}

// RecordAction saves the detections of an image directory as a replayable recording.
func RecordAction(c *cli.Context) (err error) {
	cameraID, err := singleCameraID(c)
	if err != nil {
		return err
	}
	out, err := outputPath(c, cameraID)
	if err != nil {
		return err
	}
	logger := newLogger(c, "record")
	params, err := detectorParams(c, cameraID, logger)
	if err != nil {
		return err
	}
	camera, err := intrinsics(c, cameraID)
	if err != nil {
		return err
	}
	cfg := inputFromFlags(c)
	if cfg.DetectorPath == "" {
		return errors.New("recording needs a detector")
	}
	in, err := cfg.open(cameraID, camera)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, in.Close(context.Background()))
	}()

	//nolint:gosec
	f, err := os.Create(out)
	if err != nil {
		return errors.Wrapf(err, "cannot create %q", out)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	ctx, cancel := interruptible(c)
	defer cancel()
	keys, err := StopOnKey(os.Stdin)
	if err != nil {
		return err
	}
	recorded, err := recordFrames(ctx, keys.Done(), in, params, camera, c.Float64(boardFlagLength),
		replay.NewRecorder(f), logger)
	if closeErr := keys.Close(); closeErr != nil {
		logger.Debugw("cannot restore terminal", "error", closeErr)
	}
	if err != nil {
		return err
	}
	infof(c.App.Writer, "%d frames recorded to %s", recorded, out)
	return nil
}
