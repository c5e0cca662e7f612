package config

import (
	"github.com/pkg/errors"

	"go.viam.com/markerpose/rimage/transform"
)

type transformFile struct {
	TransformationMatrix *Matrix `yaml:"transformationMatrix"`
}

// ReadTransform loads a camera to ground transform file.
func ReadTransform(path string) (*transform.AffineTransform, error) {
	var file transformFile
	if err := readFile(path, &file); err != nil {
		return nil, err
	}
	m, err := file.TransformationMatrix.Dense()
	if err != nil {
		return nil, NewConfigError(path, errors.Wrap(err, "transformationMatrix"))
	}
	a, err := transform.NewAffineTransform(m)
	if err != nil {
		return nil, NewConfigError(path, err)
	}
	return a, nil
}

// WriteTransform atomically writes a camera to ground transform file.
func WriteTransform(path string, a *transform.AffineTransform) error {
	return writeFile(path, &transformFile{TransformationMatrix: NewMatrix(a.Dense())})
}
