package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	// Board.
	boardFlagMarkersX   = "markers-x"
	boardFlagMarkersY   = "markers-y"
	boardFlagLength     = "l"
	boardFlagSeparation = "s"
	boardFlagDictionary = "d"

	// Input.
	inputFlagPath           = "v"
	inputFlagCameraIDs      = "ci"
	inputFlagDetectorParams = "dp"
	inputFlagDetector       = "detector"
	inputFlagDetectorArgs   = "detector-arg"
	inputFlagMaxWidth       = "max-width"
	inputFlagIntrinsics     = "c"

	// Calibration.
	calibrateFlagZeroTangent    = "zt"
	calibrateFlagAspectRatio    = "a"
	calibrateFlagFixPrincipal   = "pc"
	calibrateFlagMarkerFraction = "fmark"
	calibrateFlagFrameDistance  = "frdiff"
	calibrateFlagCycle          = "nfcycle"
	calibrateFlagWindow         = "nfcalib"
	calibrateFlagThreshold      = "rethresh"
	calibrateFlagSolver         = "solver"
	calibrateFlagSolverArgs     = "solver-arg"

	// Ground transform.
	transformFlagFrameFraction = "fframe"
	transformFlagRotationDet   = "rmaxerr"
	transformFlagTranslation   = "tmaxerr"
	transformFlagGroundCoords  = "grcoords"
	transformFlagMaxFrames     = "nframes"

	// Tracking.
	trackFlagTransforms = "t"
	trackFlagMaxAge     = "mposeage"
	trackFlagMaxQueue   = "max-queue"
	trackFlagParallel   = "parallel"
	trackFlagJSONLines  = "jsonl"
	trackFlagSQLite     = "sqlite"
	trackFlagQuiet      = "quiet"
)

func inputFlags(multiCamera bool) []cli.Flag {
	cameraUsage := "camera id substituted for [ci] in path arguments"
	if multiCamera {
		cameraUsage = "comma separated camera ids, each substituted for [ci] in path arguments"
	}
	return []cli.Flag{
		&cli.StringFlag{
			Name:     inputFlagPath,
			Usage:    "detection recording `FILE` or image directory; may contain [ci]",
			Required: true,
		},
		&cli.StringFlag{
			Name:  inputFlagCameraIDs,
			Value: "0",
			Usage: cameraUsage,
		},
		&cli.StringFlag{
			Name:  inputFlagDetectorParams,
			Usage: "marker detector parameter `FILE`; may contain [ci]",
		},
		&cli.StringFlag{
			Name:  inputFlagDetector,
			Usage: "marker detector `EXECUTABLE` run on every image of an image directory",
		},
		&cli.StringSliceFlag{
			Name:  inputFlagDetectorArgs,
			Usage: "argument passed to the detector",
		},
		&cli.IntFlag{
			Name:  inputFlagMaxWidth,
			Usage: "downscale images wider than this many pixels",
		},
	}
}

var app = &cli.App{
	Name:            "markerpose",
	Usage:           "calibrate cameras against marker boards and track markers on the ground plane",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    generalFlagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  generalFlagLogFile,
			Usage: "also write logs to the rotated `FILE`",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "estimate camera intrinsics from views of a marker board",
			ArgsUsage: "<outfile>",
			Flags: append(inputFlags(false),
				&cli.IntFlag{
					Name:     boardFlagMarkersX,
					Aliases:  []string{"w"},
					Usage:    "number of markers in X direction",
					Required: true,
				},
				// -h stays the help flag.
				&cli.IntFlag{Name: boardFlagMarkersY, Usage: "number of markers in Y direction", Required: true},
				&cli.Float64Flag{Name: boardFlagLength, Usage: "marker side length in meters", Required: true},
				&cli.Float64Flag{Name: boardFlagSeparation, Usage: "separation between markers in meters", Required: true},
				&cli.IntFlag{Name: boardFlagDictionary, Usage: "marker dictionary id", Required: true},
				&cli.BoolFlag{Name: calibrateFlagZeroTangent, Usage: "assume zero tangential distortion"},
				&cli.Float64Flag{Name: calibrateFlagAspectRatio, Usage: "fix the aspect ratio fx/fy to this value"},
				&cli.BoolFlag{Name: calibrateFlagFixPrincipal, Usage: "fix the principal point at the center"},
				&cli.Float64Flag{
					Name:  calibrateFlagMarkerFraction,
					Value: 0.4,
					Usage: "fraction of the board's markers a frame must show to be captured",
				},
				&cli.Float64Flag{
					Name:  calibrateFlagFrameDistance,
					Value: 200,
					Usage: "minimum average marker displacement in pixels between captured frames",
				},
				&cli.IntFlag{Name: calibrateFlagCycle, Value: 10, Usage: "frames to capture between calibration attempts"},
				&cli.IntFlag{Name: calibrateFlagWindow, Value: 30, Usage: "maximum frames used by one calibration"},
				&cli.Float64Flag{Name: calibrateFlagThreshold, Value: 1, Usage: "acceptable reprojection error"},
				&cli.StringFlag{
					Name:     calibrateFlagSolver,
					Usage:    "intrinsic calibration solver `EXECUTABLE`",
					Required: true,
				},
				&cli.StringSliceFlag{Name: calibrateFlagSolverArgs, Usage: "argument passed to the solver"},
			),
			Action: CalibrateAction,
		},
		{
			Name:      "transform",
			Usage:     "compute the camera to ground transform from markers at known positions",
			ArgsUsage: "<outfile>",
			Flags: append(inputFlags(false),
				&cli.StringFlag{Name: inputFlagIntrinsics, Usage: "camera intrinsics `FILE`; may contain [ci]"},
				&cli.Float64Flag{Name: boardFlagLength, Value: 0.1, Usage: "marker side length in meters"},
				&cli.Float64Flag{
					Name:  transformFlagFrameFraction,
					Value: 0.75,
					Usage: "fraction of frames a marker must appear in",
				},
				&cli.Float64Flag{
					Name:  transformFlagRotationDet,
					Value: 1e-8,
					Usage: "maximum determinant of a marker's rotation covariance",
				},
				&cli.Float64Flag{
					Name:  transformFlagTranslation,
					Value: 1e-15,
					Usage: "maximum determinant of a marker's translation covariance",
				},
				&cli.StringFlag{
					Name:  transformFlagGroundCoords,
					Value: "u",
					Usage: "ground coordinates as 'id:(x,y,z);...;[i|u]'; u prompts for the others, i ignores them",
				},
				&cli.IntFlag{
					Name:  transformFlagMaxFrames,
					Value: 100,
					Usage: "frames to capture",
				},
			),
			Action: TransformAction,
		},
		{
			Name:  "track",
			Usage: "fuse the marker poses seen by calibrated cameras into ground positions and headings",
			Flags: append(inputFlags(true),
				&cli.StringFlag{
					Name:  inputFlagIntrinsics,
					Usage: "camera intrinsics `FILE` pattern containing [ci]; recordings may carry poses instead",
				},
				&cli.StringFlag{
					Name:     trackFlagTransforms,
					Usage:    "ground transform `FILE` pattern containing [ci]",
					Required: true,
				},
				&cli.Float64Flag{Name: boardFlagLength, Value: 0.1, Usage: "marker side length in meters"},
				&cli.Float64Flag{
					Name:  trackFlagMaxAge,
					Value: 1,
					Usage: "seconds a reading counts towards the fused pose",
				},
				&cli.IntFlag{Name: trackFlagMaxQueue, Value: 100, Usage: "readings kept per marker"},
				&cli.BoolFlag{Name: trackFlagParallel, Usage: "poll cameras concurrently"},
				&cli.StringFlag{Name: trackFlagJSONLines, Usage: "append fused states to the JSON lines `FILE`"},
				&cli.StringFlag{Name: trackFlagSQLite, Usage: "store fused states in the SQLite `FILE`"},
				&cli.BoolFlag{Name: trackFlagQuiet, Usage: "do not log fused states"},
			),
			Action: TrackAction,
		},
		{
			Name:      "record",
			Usage:     "run the detector over an image directory and save the detections for replay",
			ArgsUsage: "<outfile>",
			Flags: append(inputFlags(false),
				&cli.StringFlag{Name: inputFlagIntrinsics, Usage: "camera intrinsics `FILE`; records poses when given"},
				&cli.Float64Flag{Name: boardFlagLength, Value: 0.1, Usage: "marker side length in meters"},
			),
			Action: RecordAction,
		},
		{
			Name:   "version",
			Usage:  "print version info for this program",
			Action: VersionAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
