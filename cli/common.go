package cli

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/logging"
	"go.viam.com/markerpose/utils"
)

// newLogger logs to the app's error writer and, when requested, to a rotated log file.
func newLogger(c *cli.Context, name string) logging.Logger {
	level := logging.INFO
	if c.Bool(generalFlagDebug) {
		level = logging.DEBUG
	}
	logger := logging.NewWriterLogger(name, level, c.App.ErrWriter)
	if path := c.String(generalFlagLogFile); path != "" {
		logger.AddAppender(logging.NewFileAppender(logging.FileAppenderConfig{
			Path:       path,
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		}))
	}
	return logger
}

// interruptible returns a context cancelled by SIGINT.
func interruptible(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

// singleCameraID parses the camera id flag of the single camera commands.
func singleCameraID(c *cli.Context) (int, error) {
	ids, err := utils.ParseCameraIDs(c.String(inputFlagCameraIDs))
	if err != nil {
		return 0, err
	}
	if len(ids) != 1 {
		return 0, errors.Errorf("exactly one camera id is expected, got %d", len(ids))
	}
	return ids[0], nil
}

// outputPath returns the first positional argument with the camera id substituted.
func outputPath(c *cli.Context, cameraID int) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.New("expected exactly one output file argument")
	}
	return utils.ReplaceCameraID(c.Args().First(), cameraID), nil
}

func inputFromFlags(c *cli.Context) inputConfig {
	return inputConfig{
		Path:         c.String(inputFlagPath),
		DetectorPath: c.String(inputFlagDetector),
		DetectorArgs: c.StringSlice(inputFlagDetectorArgs),
		MaxWidth:     c.Int(inputFlagMaxWidth),
	}
}

func detectorParams(c *cli.Context, cameraID int, logger logging.Logger) (config.DetectorParameters, error) {
	return config.ReadDetectorParameters(utils.ReplaceCameraID(c.String(inputFlagDetectorParams), cameraID), logger)
}

// intrinsics reads the camera intrinsics of cameraID, or returns nil when the flag is unset.
func intrinsics(c *cli.Context, cameraID int) (*config.CameraParameters, error) {
	path := c.String(inputFlagIntrinsics)
	if path == "" {
		return nil, nil
	}
	return config.ReadCameraParameters(utils.ReplaceCameraID(path, cameraID))
}

// VersionAction prints the version of this program.
func VersionAction(c *cli.Context) error {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return errors.New("error reading build info")
	}
	if c.Bool(generalFlagDebug) {
		printf(c.App.Writer, "%s", info.String())
	}
	settings := make(map[string]string, len(info.Settings))
	for _, setting := range info.Settings {
		settings[setting.Key] = setting.Value
	}
	version := "?"
	if rev, ok := settings["vcs.revision"]; ok && len(rev) >= 8 {
		version = rev[:8]
		if settings["vcs.modified"] == "true" {
			version += "+"
		}
	}
	appVersion := info.Main.Version
	if appVersion == "" || appVersion == "(devel)" {
		appVersion = "(dev)"
	}
	printf(c.App.Writer, "Version %s Git=%s Go=%s", appVersion, version, info.GoVersion)
	return nil
}
