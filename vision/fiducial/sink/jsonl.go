package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"go.viam.com/markerpose/vision/fiducial/fusion"
)

// A StateRecord is one fused state as written by JSONLinesSink.
type StateRecord struct {
	Session            string         `json:"session"`
	ID                 int            `json:"id"`
	Time               time.Time      `json:"time"`
	Position           [3]float64     `json:"position"`
	Heading            [3]float64     `json:"heading"`
	HeadingDeg         float64        `json:"heading_deg"`
	PositionCovariance *[3][3]float64 `json:"position_covariance,omitempty"`
	HeadingCovariance  *[3][3]float64 `json:"heading_covariance,omitempty"`
	Samples            int            `json:"samples"`
	Cameras            []int          `json:"cameras"`
}

// NewStateRecord converts st.
func NewStateRecord(session string, st fusion.FusedState) StateRecord {
	return StateRecord{
		Session:            session,
		ID:                 st.ID,
		Time:               st.Time,
		Position:           [3]float64{st.Position.X, st.Position.Y, st.Position.Z},
		Heading:            [3]float64{st.Heading.X, st.Heading.Y, st.Heading.Z},
		HeadingDeg:         st.HeadingDeg,
		PositionCovariance: covariance(st.PositionCovariance),
		HeadingCovariance:  covariance(st.HeadingCovariance),
		Samples:            st.SampleCount,
		Cameras:            st.Cameras,
	}
}

// JSONLinesSink writes one JSON object per fused state.
type JSONLinesSink struct {
	mu  sync.Mutex
	w   io.Writer
	enc *json.Encoder
}

// NewJSONLinesSink writes to w. Closing the sink closes w when it is an io.Closer.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w, enc: json.NewEncoder(w)}
}

// OpenJSONLinesSink appends to the file at path, creating it if needed.
func OpenJSONLinesSink(path string) (*JSONLinesSink, error) {
	//nolint:gosec
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open %q", path)
	}
	return NewJSONLinesSink(f), nil
}

// Write appends states.
func (s *JSONLinesSink) Write(ctx context.Context, session string, states []fusion.FusedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if err := s.enc.Encode(NewStateRecord(session, st)); err != nil {
			return errors.Wrapf(err, "cannot write marker %d", st.ID)
		}
	}
	return nil
}

// Close closes the underlying writer if it is closable.
func (s *JSONLinesSink) Close(ctx context.Context) error {
	if c, ok := s.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
