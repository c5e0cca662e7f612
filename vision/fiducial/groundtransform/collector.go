package groundtransform

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/vision/fiducial"
)

// DefaultMaxFrames is the default number of frames a Collector reads.
const DefaultMaxFrames = 100

// A Collector gathers the marker poses one camera sees over a run of frames.
type Collector struct {
	fiducial.Observer
	Source fiducial.FrameSource
	// MaxFrames defaults to DefaultMaxFrames.
	MaxFrames int
	Logger    logging.Logger
}

// Collect reads frames until MaxFrames have been processed, the input runs out, stop is closed
// or ctx is done. A frame whose detection fails still counts as processed, with no markers seen.
func (c *Collector) Collect(ctx context.Context, stop <-chan struct{}) (*fiducial.Aggregator, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.Source == nil {
		return nil, errors.New("a frame source is required")
	}
	maxFrames := c.MaxFrames
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}

	agg := fiducial.NewAggregator()
	for agg.Frames() < maxFrames {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-stop:
			c.Logger.Infow("capture stopped", "frames", agg.Frames())
			return agg, nil
		default:
		}

		frame, err := c.Source.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				c.Logger.Infow("input exhausted", "frames", agg.Frames())
				return agg, nil
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, "cannot read frame")
		}

		observations, err := c.Observe(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.Logger.Warnw("no markers taken from frame", "frame", frame.Index, "error", err)
			observations = nil
		}
		agg.AddFrame(observations)
	}
	return agg, nil
}
