// Package calibration captures frames of a marker board and runs intrinsic camera calibration
// on batches of sufficiently different frames until the reprojection error is acceptable.
package calibration

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/vision/fiducial"
)

// A Board describes the marker grid used for calibration.
type Board struct {
	MarkersX         int     `json:"markers_x"`
	MarkersY         int     `json:"markers_y"`
	MarkerLength     float64 `json:"marker_length"`
	MarkerSeparation float64 `json:"marker_separation"`
	Dictionary       int     `json:"dictionary"`
}

// MaxMarkers is the number of markers on the board.
func (b Board) MaxMarkers() int {
	return b.MarkersX * b.MarkersY
}

// Validate checks the board has markers of positive size.
func (b Board) Validate() error {
	if b.MarkersX <= 0 || b.MarkersY <= 0 {
		return errors.Errorf("board must have at least one marker in each direction, got %dx%d", b.MarkersX, b.MarkersY)
	}
	if b.MarkerLength <= 0 {
		return errors.Errorf("marker length must be positive, got %v", b.MarkerLength)
	}
	if b.MarkerSeparation < 0 {
		return errors.Errorf("marker separation must not be negative, got %v", b.MarkerSeparation)
	}
	return nil
}

// GateReason says why the gate accepted or rejected a frame.
type GateReason int

// The reasons a gate decision can carry.
const (
	GateAccepted GateReason = iota
	GateInsufficientMarkers
	GateNotDiverse
)

func (r GateReason) String() string {
	switch r {
	case GateAccepted:
		return "accepted"
	case GateInsufficientMarkers:
		return "insufficient markers"
	case GateNotDiverse:
		return "not sufficiently different"
	default:
		return "unknown"
	}
}

// A GateDecision is the verdict on one frame. Distance is the mean centroid displacement of the
// markers seen in both frames and is +Inf when none match.
type GateDecision struct {
	Reason   GateReason
	Distance float64
	Matched  int
}

// Accepted reports whether the frame should be accumulated.
func (d GateDecision) Accepted() bool {
	return d.Reason == GateAccepted
}

// A DiversityGate keeps near duplicate frames and frames with too few markers out of a
// calibration batch.
type DiversityGate struct {
	// MinMarkerFraction of MaxMarkers must be detected for a frame to be considered.
	MinMarkerFraction float64
	// MinDistance is the smallest mean centroid displacement, in pixels, from the previously
	// accepted frame.
	MinDistance float64
	MaxMarkers  int
}

// Evaluate decides whether current should be accepted given the previously accepted frame,
// which may be nil.
func (g *DiversityGate) Evaluate(current, previous *fiducial.FrameSnapshot) GateDecision {
	if float64(current.Len()) < g.MinMarkerFraction*float64(g.MaxMarkers) || current.Len() == 0 {
		return GateDecision{Reason: GateInsufficientMarkers, Distance: math.NaN()}
	}

	var distances []float64
	for _, d := range current.Detections() {
		prev, ok := previous.Find(d.ID)
		if !ok {
			continue
		}
		distances = append(distances, d.Centroid().Sub(prev.Centroid()).Norm())
	}
	if len(distances) == 0 {
		return GateDecision{Reason: GateAccepted, Distance: math.Inf(1)}
	}

	//nolint:errcheck // only fails on empty input
	mean, _ := stats.Mean(distances)
	decision := GateDecision{Reason: GateAccepted, Distance: mean, Matched: len(distances)}
	if mean < g.MinDistance {
		decision.Reason = GateNotDiverse
	}
	return decision
}
