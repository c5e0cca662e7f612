package calibration

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"os/exec"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
)

// ExecCalibrator runs an external solver once per attempt. The request is written to the
// process's stdin as JSON and the result is read from its stdout.
type ExecCalibrator struct {
	Path   string
	Args   []string
	Logger logging.Logger
}

type execRequest struct {
	Corners      [][4][2]float64 `json:"corners"`
	IDs          []int           `json:"ids"`
	MarkerCounts []int           `json:"marker_counts"`
	ImageWidth   int             `json:"image_width"`
	ImageHeight  int             `json:"image_height"`
	Board        Board           `json:"board"`
	Flags        int             `json:"flags"`
	AspectRatio  float64         `json:"aspect_ratio"`
	CameraMatrix []float64       `json:"camera_matrix"`
}

type execResult struct {
	CameraMatrix      []float64 `json:"camera_matrix"`
	Distortion        []float64 `json:"distortion_coefficients"`
	ReprojectionError float64   `json:"reprojection_error"`
}

func newExecRequest(req Request) execRequest {
	wire := execRequest{
		Corners:      make([][4][2]float64, 0, len(req.Corners)),
		IDs:          req.IDs,
		MarkerCounts: req.MarkerCounts,
		ImageWidth:   req.ImageSize.X,
		ImageHeight:  req.ImageSize.Y,
		Board:        req.Board,
		Flags:        int(req.Flags),
		AspectRatio:  req.AspectRatio,
	}
	for _, quad := range req.Corners {
		var pts [4][2]float64
		for i, c := range quad {
			pts[i] = [2]float64{c.X, c.Y}
		}
		wire.Corners = append(wire.Corners, pts)
	}
	if req.CameraMatrix != nil {
		wire.CameraMatrix = mat.DenseCopyOf(req.CameraMatrix).RawMatrix().Data
	}
	return wire
}

func (r execResult) result() (Result, error) {
	if len(r.CameraMatrix) != 9 {
		return Result{}, errors.Errorf("solver returned %d camera matrix values, expected 9", len(r.CameraMatrix))
	}
	if len(r.Distortion) > 5 {
		return Result{}, errors.Errorf("solver returned %d distortion coefficients, expected at most 5", len(r.Distortion))
	}
	return Result{
		CameraMatrix:      mat.NewDense(3, 3, r.CameraMatrix),
		Distortion:        r.Distortion,
		ReprojectionError: r.ReprojectionError,
	}, nil
}

// Calibrate runs the solver on req.
func (c *ExecCalibrator) Calibrate(ctx context.Context, req Request) (Result, error) {
	input, err := json.Marshal(newExecRequest(req))
	if err != nil {
		return Result{}, err
	}

	//nolint:gosec // the solver path is operator supplied
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, errors.Wrapf(err, "solver %q failed: %s", c.Path, strings.TrimSpace(stderr.String()))
	}
	if c.Logger != nil && stderr.Len() > 0 {
		c.Logger.Debugw("solver output", "stderr", strings.TrimSpace(stderr.String()))
	}

	var out execResult
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return Result{}, errors.Wrap(err, "cannot decode solver result")
	}
	return out.result()
}

// DecodeRequest reads a request as written to an external solver's stdin.
func DecodeRequest(r io.Reader) (Request, error) {
	var wire execRequest
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return Request{}, errors.Wrap(err, "cannot decode calibration request")
	}
	req := Request{
		Corners:      make([][4]r2.Point, 0, len(wire.Corners)),
		IDs:          wire.IDs,
		MarkerCounts: wire.MarkerCounts,
		ImageSize:    image.Pt(wire.ImageWidth, wire.ImageHeight),
		Board:        wire.Board,
		Flags:        config.CalibrationFlags(wire.Flags),
		AspectRatio:  wire.AspectRatio,
	}
	for _, quad := range wire.Corners {
		var pts [4]r2.Point
		for i, c := range quad {
			pts[i] = r2.Point{X: c[0], Y: c[1]}
		}
		req.Corners = append(req.Corners, pts)
	}
	if len(wire.CameraMatrix) == 9 {
		req.CameraMatrix = mat.NewDense(3, 3, wire.CameraMatrix)
	}
	return req, nil
}

// EncodeResult writes a result the way ExecCalibrator expects to read it.
func EncodeResult(w io.Writer, result Result) error {
	out := execResult{
		Distortion:        result.Distortion,
		ReprojectionError: result.ReprojectionError,
	}
	if result.CameraMatrix != nil {
		out.CameraMatrix = mat.DenseCopyOf(result.CameraMatrix).RawMatrix().Data
	}
	return json.NewEncoder(w).Encode(out)
}
