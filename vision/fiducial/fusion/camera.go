package fusion

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/rimage/transform"
	"go.viam.com/markerpose/spatialmath"
	"go.viam.com/markerpose/vision/fiducial"
)

// markerForward is the marker axis whose ground frame direction is reported as its heading.
var markerForward = r3.Vector{X: 1}

// A Camera is one tracked camera and its fixed transform into the ground frame.
type Camera struct {
	ID        int
	Source    fiducial.FrameSource
	Observer  fiducial.Observer
	Transform *transform.AffineTransform
}

// Validate checks the camera can be polled.
func (c *Camera) Validate() error {
	if c.Source == nil {
		return errors.Errorf("camera %d has no frame source", c.ID)
	}
	if c.Transform == nil {
		return errors.Errorf("camera %d has no ground transform", c.ID)
	}
	return errors.Wrapf(c.Observer.Validate(), "camera %d", c.ID)
}

// ToGround maps an observation's position and heading into the ground frame. The heading is the
// ground direction of the marker's forward axis, found by rotating it into the camera frame
// with the inverse of the observed rotation and then applying the linear part of the transform.
func (c *Camera) ToGround(o fiducial.Observation) (position, heading r3.Vector) {
	position = c.Transform.Apply(o.Translation)
	inv := spatialmath.RotationVectorToMatrix(o.Rotation).Transpose()
	heading = c.Transform.ApplyLinear(inv.MulVec(markerForward))
	return position, heading
}

// poll reads and observes one frame.
func (c *Camera) poll(ctx context.Context) (fiducial.Frame, []fiducial.Observation, error) {
	frame, err := c.Source.Next(ctx)
	if err != nil {
		return frame, nil, err
	}
	frame.CameraID = c.ID
	observations, err := c.Observer.Observe(ctx, frame)
	return frame, observations, err
}
