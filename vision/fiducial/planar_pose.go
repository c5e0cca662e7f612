package fiducial

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/rimage/transform"
)

// PlanarPoseEstimator estimates marker poses from the homography between the marker plane and
// the undistorted image.
type PlanarPoseEstimator struct{}

// EstimatePoses estimates the pose of every detection with the camera's intrinsics.
func (PlanarPoseEstimator) EstimatePoses(
	ctx context.Context,
	detections []Detection,
	markerLength float64,
	camera *config.CameraParameters,
) ([]Pose, error) {
	model, err := camera.Model()
	if err != nil {
		return nil, err
	}
	poses := make([]Pose, 0, len(detections))
	for _, d := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rvec, tvec, err := transform.EstimateMarkerPose(d.Corners[:], markerLength, model)
		if err != nil {
			return nil, errors.Wrapf(err, "marker %d", d.ID)
		}
		poses = append(poses, Pose{Rotation: rvec, Translation: tvec})
	}
	return poses, nil
}
