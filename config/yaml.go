package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/markerpose/utils"
)

// yamlHeader is the directive line the calibration tools expect at the top of every file.
const yamlHeader = "%YAML:1.0\n---\n"

// matrixTag marks a mapping as a dense matrix.
const matrixTag = "!!opencv-matrix"

// Matrix is the on-disk form of a dense matrix of doubles.
type Matrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Dt   string    `yaml:"dt"`
	Data []float64 `yaml:"data"`
}

// NewMatrix copies m into its on-disk form.
func NewMatrix(m mat.Matrix) *Matrix {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data = append(data, m.At(r, c))
		}
	}
	return &Matrix{Rows: rows, Cols: cols, Dt: "d", Data: data}
}

// Dense checks the shape and returns the matrix.
func (m *Matrix) Dense() (*mat.Dense, error) {
	if m == nil {
		return nil, errors.New("matrix is missing")
	}
	if m.Rows <= 0 || m.Cols <= 0 {
		return nil, errors.Errorf("invalid matrix shape %dx%d", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return nil, errors.Errorf("matrix is %dx%d but has %d elements", m.Rows, m.Cols, len(m.Data))
	}
	data := make([]float64, len(m.Data))
	copy(data, m.Data)
	return mat.NewDense(m.Rows, m.Cols, data), nil
}

// MarshalYAML tags the mapping as a matrix and writes the data inline.
func (m *Matrix) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: matrixTag}
	data := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	if err := data.Encode(m.Data); err != nil {
		return nil, err
	}
	data.Style = yaml.FlowStyle
	rows, cols, dt := &yaml.Node{}, &yaml.Node{}, &yaml.Node{}
	if err := rows.Encode(m.Rows); err != nil {
		return nil, err
	}
	if err := cols.Encode(m.Cols); err != nil {
		return nil, err
	}
	if err := dt.Encode(m.Dt); err != nil {
		return nil, err
	}
	node.Content = []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "rows"}, rows,
		{Kind: yaml.ScalarNode, Value: "cols"}, cols,
		{Kind: yaml.ScalarNode, Value: "dt"}, dt,
		{Kind: yaml.ScalarNode, Value: "data"}, data,
	}
	return node, nil
}

// stripHeader removes a leading %YAML directive line, which the yaml package does not accept in
// its colon form.
func stripHeader(data []byte) []byte {
	if !bytes.HasPrefix(data, []byte("%YAML")) {
		return data
	}
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		return data[idx+1:]
	}
	return nil
}

func unmarshalFile(data []byte, out interface{}) error {
	return yaml.Unmarshal(stripHeader(data), out)
}

func marshalFile(in interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(yamlHeader)
	enc := yaml.NewEncoder(&buf)
	if err := enc.Encode(in); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeFile marshals in and replaces path atomically.
func writeFile(path string, in interface{}) error {
	data, err := marshalFile(in)
	if err != nil {
		return errors.Wrapf(err, "cannot encode %q", path)
	}
	return utils.WriteFileAtomic(path, data, 0o644)
}

// readFile reads path and decodes it into out. All failures are configuration errors.
func readFile(path string, out interface{}) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return NewConfigError(path, err)
	}
	if err := unmarshalFile(data, out); err != nil {
		return NewConfigError(path, errors.Wrap(err, "cannot parse file"))
	}
	return nil
}
