package cli

import (
	"context"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/utils"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/replay"
)

// inputConfig says where one camera's frames and detections come from. Paths may carry the
// camera id placeholder.
type inputConfig struct {
	// Path is a detection recording or a directory of images.
	Path         string
	DetectorPath string
	DetectorArgs []string
	MaxWidth     int
	Clock        clock.Clock
}

// cameraInput is one opened camera input.
type cameraInput struct {
	Source   fiducial.FrameSource
	Detector fiducial.Detector
	// Estimator is nil when neither intrinsics nor recorded poses are available.
	Estimator fiducial.PoseEstimator
}

// open opens the input of cameraID. A recording supplies its own detections; an image directory
// needs a detector. Intrinsics select planar pose estimation, otherwise
// a recording supplies its recorded poses.
func (cfg inputConfig) open(cameraID int, camera *config.CameraParameters) (*cameraInput, error) {
	if cfg.Path == "" {
		return nil, errors.New("an input recording or image directory is required")
	}
	path := utils.ReplaceCameraID(cfg.Path, cameraID)
	info, err := os.Stat(path)
	if err != nil {
		return nil, config.NewConfigError(path, err)
	}

	var in cameraInput
	if cfg.DetectorPath != "" {
		in.Detector = &fiducial.ExecDetector{
			Path: utils.ReplaceCameraID(cfg.DetectorPath, cameraID),
			Args: cfg.DetectorArgs,
		}
	}
	if info.IsDir() {
		if in.Detector == nil {
			return nil, errors.Errorf("image directory %q needs a detector", path)
		}
		src, err := replay.NewImageDirSource(path, cfg.Clock)
		if err != nil {
			return nil, err
		}
		src.MaxWidth = cfg.MaxWidth
		in.Source = src
	} else {
		if in.Detector != nil {
			return nil, errors.Errorf("recording %q already carries its detections", path)
		}
		rec, err := replay.OpenRecording(path)
		if err != nil {
			return nil, err
		}
		in.Source, in.Detector, in.Estimator = rec, rec, rec
	}
	if camera != nil {
		in.Estimator = fiducial.PlanarPoseEstimator{}
	}
	return &in, nil
}

// Close closes the frame source.
func (in *cameraInput) Close(ctx context.Context) error {
	return in.Source.Close(ctx)
}
