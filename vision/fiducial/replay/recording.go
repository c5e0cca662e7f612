// Package replay feeds previously recorded detections or stored images through the capture
// pipelines in place of a live camera.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"sync"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/vision/fiducial"
)

// A Record is one line of a recording: a frame and the markers seen in it.
type Record struct {
	Frame   int            `json:"frame"`
	Time    time.Time      `json:"time"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	Markers []MarkerRecord `json:"markers"`
}

// A MarkerRecord is a detected marker and, when known, its pose.
type MarkerRecord struct {
	ID          int           `json:"id"`
	Corners     [4][2]float64 `json:"corners"`
	Rotation    *[3]float64   `json:"rvec,omitempty"`
	Translation *[3]float64   `json:"tvec,omitempty"`
}

func (m MarkerRecord) detection() fiducial.Detection {
	d := fiducial.Detection{ID: m.ID}
	for i, c := range m.Corners {
		d.Corners[i] = r2.Point{X: c[0], Y: c[1]}
	}
	return d
}

// NewRecord builds a record of frame. poses may be nil or must match detections.
func NewRecord(frame fiducial.Frame, detections []fiducial.Detection, poses []fiducial.Pose) (Record, error) {
	if poses != nil && len(poses) != len(detections) {
		return Record{}, errors.Errorf("got %d poses for %d detections", len(poses), len(detections))
	}
	rec := Record{Frame: frame.Index, Time: frame.Time, Width: frame.Size.X, Height: frame.Size.Y}
	for i, d := range detections {
		m := MarkerRecord{ID: d.ID}
		for j, c := range d.Corners {
			m.Corners[j] = [2]float64{c.X, c.Y}
		}
		if poses != nil {
			rvec := [3]float64{poses[i].Rotation.X, poses[i].Rotation.Y, poses[i].Rotation.Z}
			tvec := [3]float64{poses[i].Translation.X, poses[i].Translation.Y, poses[i].Translation.Z}
			m.Rotation, m.Translation = &rvec, &tvec
		}
		rec.Markers = append(rec.Markers, m)
	}
	return rec, nil
}

// A Recorder appends records to a JSON lines stream.
type Recorder struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewRecorder returns a Recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: json.NewEncoder(w)}
}

// Record writes one record.
func (r *Recorder) Record(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enc.Encode(rec)
}

type poseKey struct {
	id      int
	corners [4]r2.Point
}

// A Recording replays a JSON lines recording. It is at once the frame source, the detector and,
// for records carrying poses, the pose estimator of the replayed camera.
type Recording struct {
	mu      sync.Mutex
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
	loaded  bool
	index   int
	current []fiducial.Detection
	poses   map[poseKey]fiducial.Pose
}

// NewRecording reads records from r.
func NewRecording(r io.Reader) *Recording {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	rec := &Recording{scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		rec.closer = c
	}
	return rec
}

// OpenRecording opens the recording at path.
func OpenRecording(path string) (*Recording, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, config.NewConfigError(path, err)
	}
	return NewRecording(f), nil
}

// Next returns the next recorded frame, skipping blank lines.
func (r *Recording) Next(ctx context.Context) (fiducial.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return fiducial.Frame{}, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return fiducial.Frame{}, err
			}
			return fiducial.Frame{}, io.EOF
		}
		r.line++
		raw := r.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fiducial.Frame{}, errors.Wrapf(err, "recording line %d", r.line)
		}
		return r.load(rec), nil
	}
}

func (r *Recording) load(rec Record) fiducial.Frame {
	detections := make([]fiducial.Detection, 0, len(rec.Markers))
	r.poses = map[poseKey]fiducial.Pose{}
	for _, m := range rec.Markers {
		d := m.detection()
		detections = append(detections, d)
		if m.Rotation != nil && m.Translation != nil {
			r.poses[poseKey{d.ID, d.Corners}] = fiducial.Pose{
				Rotation:    r3.Vector{X: m.Rotation[0], Y: m.Rotation[1], Z: m.Rotation[2]},
				Translation: r3.Vector{X: m.Translation[0], Y: m.Translation[1], Z: m.Translation[2]},
			}
		}
	}
	r.loaded, r.index, r.current = true, rec.Frame, detections
	return fiducial.Frame{
		Index: rec.Frame,
		Time:  rec.Time,
		Size:  image.Pt(rec.Width, rec.Height),
	}
}

// Detect returns the markers recorded for the frame last returned by Next.
func (r *Recording) Detect(ctx context.Context, frame fiducial.Frame, params config.DetectorParameters) ([]fiducial.Detection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.loaded || frame.Index != r.index {
		return nil, errors.Errorf("frame %d is not the current recorded frame", frame.Index)
	}
	return append([]fiducial.Detection(nil), r.current...), nil
}

// EstimatePoses returns the recorded poses of detections from the current frame.
func (r *Recording) EstimatePoses(
	ctx context.Context,
	detections []fiducial.Detection,
	markerLength float64,
	camera *config.CameraParameters,
) ([]fiducial.Pose, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	poses := make([]fiducial.Pose, 0, len(detections))
	for _, d := range detections {
		p, ok := r.poses[poseKey{d.ID, d.Corners}]
		if !ok {
			return nil, errors.Errorf("no recorded pose for marker %d", d.ID)
		}
		poses = append(poses, p)
	}
	return poses, nil
}

// Close closes the underlying reader if it is closable.
func (r *Recording) Close(ctx context.Context) error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
