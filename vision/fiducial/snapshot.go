package fiducial

import (
	"image"

	"github.com/golang/geo/r2"
)

// A FrameSnapshot holds every marker detected in one frame and the frame size. It is never
// modified after creation.
type FrameSnapshot struct {
	detections []Detection
	size       image.Point
}

// NewFrameSnapshot copies detections into a new snapshot.
func NewFrameSnapshot(size image.Point, detections []Detection) *FrameSnapshot {
	return &FrameSnapshot{
		detections: append([]Detection(nil), detections...),
		size:       size,
	}
}

// Size returns the size of the frame.
func (s *FrameSnapshot) Size() image.Point {
	return s.size
}

// Len returns the number of detected markers.
func (s *FrameSnapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.detections)
}

// Detections returns a copy of the detections.
func (s *FrameSnapshot) Detections() []Detection {
	return append([]Detection(nil), s.detections...)
}

// IDs returns the marker ids in detection order.
func (s *FrameSnapshot) IDs() []int {
	ids := make([]int, 0, len(s.detections))
	for _, d := range s.detections {
		ids = append(ids, d.ID)
	}
	return ids
}

// Corners returns the corners of every marker in detection order.
func (s *FrameSnapshot) Corners() [][4]r2.Point {
	corners := make([][4]r2.Point, 0, len(s.detections))
	for _, d := range s.detections {
		corners = append(corners, d.Corners)
	}
	return corners
}

// Find returns the first detection of marker id.
func (s *FrameSnapshot) Find(id int) (Detection, bool) {
	if s == nil {
		return Detection{}, false
	}
	for _, d := range s.detections {
		if d.ID == id {
			return d, true
		}
	}
	return Detection{}, false
}
