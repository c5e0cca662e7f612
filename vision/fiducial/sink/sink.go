// Package sink holds the destinations fused marker states are written to: the log, a JSON lines
// file and a SQLite database.
package sink

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/vision/fiducial/fusion"
)

var (
	_ fusion.Sink = (*LogSink)(nil)
	_ fusion.Sink = (*JSONLinesSink)(nil)
	_ fusion.Sink = (*SQLiteSink)(nil)
)

// LogSink logs every fused state at info level.
type LogSink struct {
	logger logging.Logger
}

// NewLogSink returns a sink logging to logger.
func NewLogSink(logger logging.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Write logs states.
func (s *LogSink) Write(ctx context.Context, session string, states []fusion.FusedState) error {
	for _, st := range states {
		s.logger.Infow("marker",
			"session", session,
			"id", st.ID,
			"x", st.Position.X,
			"y", st.Position.Y,
			"z", st.Position.Z,
			"heading", st.HeadingDeg,
			"samples", st.SampleCount,
			"cameras", st.Cameras,
		)
	}
	return nil
}

// Close does nothing.
func (s *LogSink) Close(ctx context.Context) error {
	return nil
}

// covariance returns m as a dense 3x3 array, or nil when m is unset.
func covariance(m *mat.SymDense) *[3][3]float64 {
	if m == nil || m.SymmetricDim() != 3 {
		return nil
	}
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m.At(i, j)
		}
	}
	return &out
}
