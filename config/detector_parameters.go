package config

import (
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/markerpose/logging"
)

// DetectorParameters tunes the marker detector. Field names follow the keys of the detector
// parameter file.
type DetectorParameters struct {
	AdaptiveThreshWinSizeMin              int     `mapstructure:"adaptiveThreshWinSizeMin"`
	AdaptiveThreshWinSizeMax              int     `mapstructure:"adaptiveThreshWinSizeMax"`
	AdaptiveThreshWinSizeStep             int     `mapstructure:"adaptiveThreshWinSizeStep"`
	AdaptiveThreshConstant                float64 `mapstructure:"adaptiveThreshConstant"`
	MinMarkerPerimeterRate                float64 `mapstructure:"minMarkerPerimeterRate"`
	MaxMarkerPerimeterRate                float64 `mapstructure:"maxMarkerPerimeterRate"`
	PolygonalApproxAccuracyRate           float64 `mapstructure:"polygonalApproxAccuracyRate"`
	MinCornerDistanceRate                 float64 `mapstructure:"minCornerDistanceRate"`
	MinDistanceToBorder                   int     `mapstructure:"minDistanceToBorder"`
	MinMarkerDistanceRate                 float64 `mapstructure:"minMarkerDistanceRate"`
	DoCornerRefinement                    bool    `mapstructure:"doCornerRefinement"`
	CornerRefinementWinSize               int     `mapstructure:"cornerRefinementWinSize"`
	CornerRefinementMaxIterations         int     `mapstructure:"cornerRefinementMaxIterations"`
	CornerRefinementMinAccuracy           float64 `mapstructure:"cornerRefinementMinAccuracy"`
	MarkerBorderBits                      int     `mapstructure:"markerBorderBits"`
	PerspectiveRemovePixelPerCell         int     `mapstructure:"perspectiveRemovePixelPerCell"`
	PerspectiveRemoveIgnoredMarginPerCell float64 `mapstructure:"perspectiveRemoveIgnoredMarginPerCell"`
	MaxErroneousBitsInBorderRate          float64 `mapstructure:"maxErroneousBitsInBorderRate"`
	MinOtsuStdDev                         float64 `mapstructure:"minOtsuStdDev"`
	ErrorCorrectionRate                   float64 `mapstructure:"errorCorrectionRate"`

	// Raw holds every key of the file as read so detectors can see keys this struct does not
	// model.
	Raw map[string]interface{} `mapstructure:"-"`
}

// DefaultDetectorParameters returns the detector's stock tuning.
func DefaultDetectorParameters() DetectorParameters {
	return DetectorParameters{
		AdaptiveThreshWinSizeMin:              3,
		AdaptiveThreshWinSizeMax:              23,
		AdaptiveThreshWinSizeStep:             10,
		AdaptiveThreshConstant:                7,
		MinMarkerPerimeterRate:                0.03,
		MaxMarkerPerimeterRate:                4,
		PolygonalApproxAccuracyRate:           0.03,
		MinCornerDistanceRate:                 0.05,
		MinDistanceToBorder:                   3,
		MinMarkerDistanceRate:                 0.05,
		DoCornerRefinement:                    false,
		CornerRefinementWinSize:               5,
		CornerRefinementMaxIterations:         30,
		CornerRefinementMinAccuracy:           0.1,
		MarkerBorderBits:                      1,
		PerspectiveRemovePixelPerCell:         4,
		PerspectiveRemoveIgnoredMarginPerCell: 0.13,
		MaxErroneousBitsInBorderRate:          0.35,
		MinOtsuStdDev:                         5,
		ErrorCorrectionRate:                   0.6,
	}
}

// Validate checks the window sizes and rates are usable.
func (p *DetectorParameters) Validate(path string) error {
	if p.AdaptiveThreshWinSizeMin < 3 || p.AdaptiveThreshWinSizeMax < p.AdaptiveThreshWinSizeMin {
		return NewConfigError(path, errors.Errorf("adaptive threshold window [%d, %d] is invalid",
			p.AdaptiveThreshWinSizeMin, p.AdaptiveThreshWinSizeMax))
	}
	if p.AdaptiveThreshWinSizeStep <= 0 {
		return NewConfigError(path, errors.New("adaptiveThreshWinSizeStep must be positive"))
	}
	if p.MinMarkerPerimeterRate <= 0 || p.MaxMarkerPerimeterRate < p.MinMarkerPerimeterRate {
		return NewConfigError(path, errors.Errorf("marker perimeter rate [%v, %v] is invalid",
			p.MinMarkerPerimeterRate, p.MaxMarkerPerimeterRate))
	}
	if p.MarkerBorderBits <= 0 {
		return NewConfigError(path, errors.New("markerBorderBits must be positive"))
	}
	return nil
}

// ReadDetectorParameters loads the detector parameter file at path over the defaults. A missing
// file yields the defaults; a file that exists but cannot be read or decoded is a configuration
// error.
func ReadDetectorParameters(path string, logger logging.Logger) (DetectorParameters, error) {
	params := DefaultDetectorParameters()
	if path == "" {
		return params, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Infow("detector parameter file not found, using defaults", "path", path)
		return params, nil
	}

	raw := map[string]interface{}{}
	if err := readFile(path, &raw); err != nil {
		return params, err
	}

	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		Metadata:         &md,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return params, NewConfigError(path, err)
	}
	if err := decoder.Decode(raw); err != nil {
		return params, NewConfigError(path, errors.Wrap(err, "cannot decode detector parameters"))
	}
	if len(md.Unused) > 0 {
		logger.Debugw("detector parameter keys passed through", "path", path, "keys", md.Unused)
	}
	params.Raw = raw
	if err := params.Validate(path); err != nil {
		return params, err
	}
	return params, nil
}

// Map returns every parameter keyed by its file key, including keys only present in Raw.
func (p *DetectorParameters) Map() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := mapstructure.Decode(p, &out); err != nil {
		return nil, err
	}
	delete(out, "Raw")
	for k, v := range p.Raw {
		out[k] = v
	}
	return out, nil
}
