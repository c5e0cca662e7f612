package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/markerpose/rimage/transform"
)

// CalibrationFlags is the bitmask of constraints placed on the intrinsic solver.
type CalibrationFlags int

// The bit values match the solver's own flag values so files stay interchangeable.
const (
	UseIntrinsicGuess CalibrationFlags = 1 << iota
	FixAspectRatio
	FixPrincipalPoint
	ZeroTangentDist
)

// Has reports whether every bit of flag is set.
func (f CalibrationFlags) Has(flag CalibrationFlags) bool {
	return f&flag == flag
}

func (f CalibrationFlags) String() string {
	var parts []string
	for _, named := range []struct {
		flag CalibrationFlags
		name string
	}{
		{UseIntrinsicGuess, "use_intrinsic_guess"},
		{FixAspectRatio, "fix_aspectRatio"},
		{FixPrincipalPoint, "fix_principal_point"},
		{ZeroTangentDist, "zero_tangent_dist"},
	} {
		if f.Has(named.flag) {
			parts = append(parts, "+"+named.name)
		}
	}
	return strings.Join(parts, "")
}

// CalibrationTimeFormat is the human readable layout of the calibration timestamp.
const CalibrationTimeFormat = "Mon Jan _2 15:04:05 2006"

// CameraParameters are the intrinsics produced by a successful calibration.
type CameraParameters struct {
	CalibrationTime      string
	ImageWidth           int
	ImageHeight          int
	AspectRatio          float64
	Flags                CalibrationFlags
	CameraMatrix         *mat.Dense
	Distortion           []float64
	AvgReprojectionError float64
}

type cameraParametersFile struct {
	CalibrationTime      string   `yaml:"calibration_time"`
	ImageWidth           int      `yaml:"image_width"`
	ImageHeight          int      `yaml:"image_height"`
	AspectRatio          *float64 `yaml:"aspectRatio,omitempty"`
	Flags                int      `yaml:"flags"`
	CameraMatrix         *Matrix  `yaml:"camera_matrix"`
	Distortion           *Matrix  `yaml:"distortion_coefficients"`
	AvgReprojectionError float64  `yaml:"avg_reprojection_error"`
}

// Stamp sets the calibration time.
func (p *CameraParameters) Stamp(t time.Time) {
	p.CalibrationTime = t.Format(CalibrationTimeFormat)
}

// Intrinsics converts the camera matrix to pinhole intrinsics.
func (p *CameraParameters) Intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if p == nil || p.CameraMatrix == nil {
		return nil, transform.NewNoIntrinsicsError("no camera matrix")
	}
	return transform.NewPinholeCameraIntrinsicsFromMatrix(p.ImageWidth, p.ImageHeight, p.CameraMatrix)
}

// Model returns the pinhole model with lens distortion.
func (p *CameraParameters) Model() (*transform.PinholeCameraModel, error) {
	intrinsics, err := p.Intrinsics()
	if err != nil {
		return nil, err
	}
	var distortion *transform.BrownConrady
	if len(p.Distortion) > 0 {
		if distortion, err = transform.NewBrownConrady(p.Distortion); err != nil {
			return nil, err
		}
	}
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: intrinsics, Distortion: distortion}, nil
}

// Validate checks the image size and matrix shapes.
func (p *CameraParameters) Validate(path string) error {
	if p.ImageWidth <= 0 || p.ImageHeight <= 0 {
		return NewConfigError(path, errors.Errorf("invalid image size %dx%d", p.ImageWidth, p.ImageHeight))
	}
	if p.CameraMatrix == nil {
		return NewConfigError(path, errors.New("camera_matrix is missing"))
	}
	if rows, cols := p.CameraMatrix.Dims(); rows != 3 || cols != 3 {
		return NewConfigError(path, errors.Errorf("camera_matrix must be 3x3, got %dx%d", rows, cols))
	}
	if len(p.Distortion) > 5 {
		return NewConfigError(path, errors.Errorf("expected at most 5 distortion coefficients, got %d", len(p.Distortion)))
	}
	return nil
}

// ReadCameraParameters loads an intrinsics file.
func ReadCameraParameters(path string) (*CameraParameters, error) {
	var file cameraParametersFile
	if err := readFile(path, &file); err != nil {
		return nil, err
	}
	cameraMatrix, err := file.CameraMatrix.Dense()
	if err != nil {
		return nil, NewConfigError(path, errors.Wrap(err, "camera_matrix"))
	}
	params := &CameraParameters{
		CalibrationTime:      file.CalibrationTime,
		ImageWidth:           file.ImageWidth,
		ImageHeight:          file.ImageHeight,
		Flags:                CalibrationFlags(file.Flags),
		CameraMatrix:         cameraMatrix,
		AvgReprojectionError: file.AvgReprojectionError,
	}
	if file.AspectRatio != nil {
		params.AspectRatio = *file.AspectRatio
	}
	if file.Distortion != nil {
		distortion, err := file.Distortion.Dense()
		if err != nil {
			return nil, NewConfigError(path, errors.Wrap(err, "distortion_coefficients"))
		}
		params.Distortion = distortion.RawMatrix().Data
	}
	if err := params.Validate(path); err != nil {
		return nil, err
	}
	return params, nil
}

// WriteCameraParameters atomically writes an intrinsics file. The aspect ratio is only written
// when it was held fixed.
func WriteCameraParameters(path string, params *CameraParameters) error {
	if params.CameraMatrix == nil {
		return errors.New("camera parameters have no camera matrix")
	}
	file := cameraParametersFile{
		CalibrationTime:      params.CalibrationTime,
		ImageWidth:           params.ImageWidth,
		ImageHeight:          params.ImageHeight,
		Flags:                int(params.Flags),
		CameraMatrix:         NewMatrix(params.CameraMatrix),
		AvgReprojectionError: params.AvgReprojectionError,
	}
	if params.Flags.Has(FixAspectRatio) {
		aspect := params.AspectRatio
		file.AspectRatio = &aspect
	}
	distortion := params.Distortion
	if len(distortion) == 0 {
		distortion = make([]float64, 5)
	}
	file.Distortion = NewMatrix(mat.NewDense(len(distortion), 1, append([]float64(nil), distortion...)))
	return writeFile(path, &file)
}
