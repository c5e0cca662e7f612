// Package config reads and writes the detector parameter, camera intrinsics and ground transform
// files shared by the calibration, transform and tracking commands.
package config

import "github.com/pkg/errors"

// ErrConfig marks failures that must abort a command before its main loop starts.
var ErrConfig = errors.New("configuration error")

// NewConfigError wraps err as a configuration error about path.
func NewConfigError(path string, err error) error {
	return errors.Wrapf(errors.WithMessage(ErrConfig, err.Error()), "%q", path)
}
