package fiducial

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/config"
)

// ExecDetector runs an external marker detector once per frame. The process reads one JSON
// header line followed by the frame as PNG on stdin and writes the detections as a JSON array on
// stdout.
type ExecDetector struct {
	Path string
	Args []string
}

type execDetectHeader struct {
	Camera int                    `json:"camera"`
	Frame  int                    `json:"frame"`
	Width  int                    `json:"width"`
	Height int                    `json:"height"`
	Params map[string]interface{} `json:"params"`
}

type execDetection struct {
	ID      int           `json:"id"`
	Corners [4][2]float64 `json:"corners"`
}

// Detect runs the detector on frame.
func (d *ExecDetector) Detect(ctx context.Context, frame Frame, params config.DetectorParameters) ([]Detection, error) {
	if frame.Image == nil {
		return nil, errors.Errorf("frame %d has no image", frame.Index)
	}
	raw, err := params.Map()
	if err != nil {
		return nil, err
	}
	header := execDetectHeader{
		Camera: frame.CameraID,
		Frame:  frame.Index,
		Width:  frame.Image.Bounds().Dx(),
		Height: frame.Image.Bounds().Dy(),
		Params: raw,
	}
	var stdin bytes.Buffer
	if err := json.NewEncoder(&stdin).Encode(header); err != nil {
		return nil, err
	}
	if err := imaging.Encode(&stdin, frame.Image, imaging.PNG); err != nil {
		return nil, errors.Wrap(err, "cannot encode frame")
	}

	//nolint:gosec // the detector path is operator supplied
	cmd := exec.CommandContext(ctx, d.Path, d.Args...)
	cmd.Stdin = &stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "detector %q failed: %s", d.Path, strings.TrimSpace(stderr.String()))
	}

	var found []execDetection
	if err := json.Unmarshal(stdout.Bytes(), &found); err != nil {
		return nil, errors.Wrap(err, "cannot decode detections")
	}
	detections := make([]Detection, 0, len(found))
	for _, f := range found {
		det := Detection{ID: f.ID}
		for i, c := range f.Corners {
			det.Corners[i] = r2.Point{X: c[0], Y: c[1]}
		}
		detections = append(detections, det)
	}
	return detections, nil
}
