package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"go.viam.com/markerpose/config"
	"go.viam.com/markerpose/rimage/transform"
	"go.viam.com/markerpose/vision/fiducial"
	"go.viam.com/markerpose/vision/fiducial/calibration"
	"go.viam.com/markerpose/vision/fiducial/fusion"
	"go.viam.com/markerpose/vision/fiducial/groundtransform"
	"go.viam.com/markerpose/vision/fiducial/replay"
	"go.viam.com/markerpose/vision/fiducial/sink"
)

// writeRecording records frames frames in which every marker of translations sits still.
func writeRecording(t *testing.T, path string, frames int, translations map[int]r3.Vector) {
	t.Helper()
	f, err := os.Create(path)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, f.Close(), test.ShouldBeNil)
	}()
	rec := replay.NewRecorder(f)
	for i := 0; i < frames; i++ {
		var dets []fiducial.Detection
		var poses []fiducial.Pose
		for id := 1; id <= 10; id++ {
			tv, ok := translations[id]
			if !ok {
				continue
			}
			x := float64(100 * id)
			dets = append(dets, fiducial.Detection{
				ID:      id,
				Corners: [4]r2.Point{{X: x, Y: 10}, {X: x + 20, Y: 10}, {X: x + 20, Y: 30}, {X: x, Y: 30}},
			})
			poses = append(poses, fiducial.Pose{Translation: tv})
		}
		frame := fiducial.Frame{Index: i, Time: time.Unix(int64(i), 0), Size: image.Pt(1280, 720)}
		r, err := replay.NewRecord(frame, dets, poses)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, rec.Record(r), test.ShouldBeNil)
	}
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"markerpose"}, args...))
	t.Log(errOut.String())
	return out.String(), err
}

func TestTransformCommand(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, filepath.Join(dir, "cam0.jsonl"), 5, map[int]r3.Vector{
		1: {Z: 1},
		2: {X: 1, Z: 1},
		3: {Y: 1, Z: 1},
		4: {X: 1, Y: 1, Z: 2},
	})
	out := filepath.Join(dir, "ground_[ci].yml")

	stdout, err := runApp(t, "transform",
		"--v", filepath.Join(dir, "cam[ci].jsonl"),
		"--grcoords", "1:(10,0,1);2:(11,0,1);3:(10,1,1);4:(11,1,2);i",
		out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stdout, test.ShouldContainSubstring, "4 markers")

	a, err := config.ReadTransform(filepath.Join(dir, "ground_0.yml"))
	test.That(t, err, test.ShouldBeNil)
	p := a.Apply(r3.Vector{X: 0.5, Y: 0.5, Z: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 10.5, 1e-6)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0.5, 1e-6)
	test.That(t, p.Z, test.ShouldAlmostEqual, 1, 1e-6)

	_, err = runApp(t, "transform",
		"--v", filepath.Join(dir, "cam[ci].jsonl"),
		"--grcoords", "1:(10,0,1);2:(11,0,1);i",
		filepath.Join(dir, "too_few.yml"))
	test.That(t, err, test.ShouldWrap, transform.ErrInsufficientPoints)
	_, err = os.Stat(filepath.Join(dir, "too_few.yml"))
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestTrackCommand(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"0", "1"} {
		writeRecording(t, filepath.Join(dir, "cam"+id+".jsonl"), 3, map[int]r3.Vector{5: {X: 1, Y: 2, Z: 3}})
		test.That(t, config.WriteTransform(filepath.Join(dir, "t"+id+".yml"), transform.IdentityAffineTransform()),
			test.ShouldBeNil)
	}
	jsonl := filepath.Join(dir, "states.jsonl")
	db := filepath.Join(dir, "states.db")

	stdout, err := runApp(t, "track",
		"--v", filepath.Join(dir, "cam[ci].jsonl"),
		"--ci", "0,1",
		"--t", filepath.Join(dir, "t[ci].yml"),
		"--jsonl", jsonl,
		"--sqlite", db,
		"--quiet")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, stdout, test.ShouldContainSubstring, "2 cameras")

	f, err := os.Open(jsonl)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, f.Close(), test.ShouldBeNil)
	}()
	var records []sink.StateRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec sink.StateRecord
		test.That(t, json.Unmarshal(scanner.Bytes(), &rec), test.ShouldBeNil)
		records = append(records, rec)
	}
	test.That(t, len(records), test.ShouldBeGreaterThanOrEqualTo, 3)
	last := records[len(records)-1]
	test.That(t, last.ID, test.ShouldEqual, 5)
	test.That(t, last.Position[0], test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, last.Position[2], test.ShouldAlmostEqual, 3, 1e-9)
	test.That(t, last.Cameras, test.ShouldResemble, []int{0, 1})

	store, err := sink.OpenSQLiteSink(db)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, store.Close(context.Background()), test.ShouldBeNil)
	}()
	rows, err := store.States(context.Background(), last.Session)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rows, test.ShouldHaveLength, len(records))
}

func TestTrackCommandRejectsMissingTransform(t *testing.T) {
	dir := t.TempDir()
	writeRecording(t, filepath.Join(dir, "cam0.jsonl"), 1, map[int]r3.Vector{5: {}})
	_, err := runApp(t, "track",
		"--v", filepath.Join(dir, "cam[ci].jsonl"),
		"--t", filepath.Join(dir, "t[ci].yml"),
		"--quiet")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera 0")
}

// runFlags runs the flags of the named command into fn instead of its action.
func runFlags(t *testing.T, name string, fn func(c *cli.Context), args ...string) error {
	t.Helper()
	var cmd cli.Command
	for _, c := range app.Commands {
		if c.Name == name {
			cmd = *c
		}
	}
	test.That(t, cmd.Name, test.ShouldEqual, name)
	cmd.Action = func(c *cli.Context) error {
		fn(c)
		return nil
	}
	flagApp := &cli.App{
		Name:      "markerpose",
		Flags:     app.Flags,
		Commands:  []*cli.Command{&cmd},
		Writer:    io.Discard,
		ErrWriter: io.Discard,
	}
	return flagApp.Run(append([]string{"markerpose", name}, args...))
}

func TestCalibrationFlags(t *testing.T) {
	var opts calibration.Options
	err := runFlags(t, "calibrate", func(c *cli.Context) { opts = calibrationOptions(c) },
		"--w", "5", "--markers-y", "7", "--l", "0.04", "--s", "0.01", "--d", "10",
		"--v", "frames.jsonl", "--solver", "/bin/solver", "--a", "1.5", "--zt", "--nfcycle", "5",
		"out.yml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Board, test.ShouldResemble, calibration.Board{
		MarkersX:         5,
		MarkersY:         7,
		MarkerLength:     0.04,
		MarkerSeparation: 0.01,
		Dictionary:       10,
	})
	test.That(t, opts.Flags.Has(config.FixAspectRatio), test.ShouldBeTrue)
	test.That(t, opts.Flags.Has(config.ZeroTangentDist), test.ShouldBeTrue)
	test.That(t, opts.Flags.Has(config.FixPrincipalPoint), test.ShouldBeFalse)
	test.That(t, opts.AspectRatio, test.ShouldEqual, 1.5)
	test.That(t, opts.MinMarkerFraction, test.ShouldEqual, 0.4)
	test.That(t, opts.MinFrameDistance, test.ShouldEqual, 200.)
	test.That(t, opts.CycleSize, test.ShouldEqual, 5)
	test.That(t, opts.WindowSize, test.ShouldEqual, 30)
	test.That(t, opts.ReprojectionThreshold, test.ShouldEqual, 1.)
	test.That(t, opts.Validate(), test.ShouldBeNil)

	err = runFlags(t, "calibrate", func(c *cli.Context) { opts = calibrationOptions(c) },
		"--w", "5", "--markers-y", "7", "--l", "0.04", "--s", "0.01", "--d", "10", "--v", "frames.jsonl", "--pc",
		"out.yml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Flags.Has(config.FixAspectRatio), test.ShouldBeFalse)
	test.That(t, opts.Flags.Has(config.FixPrincipalPoint), test.ShouldBeTrue)
}

func TestTrackerFlags(t *testing.T) {
	var seen bool
	err := runFlags(t, "track", func(c *cli.Context) {
		seen = true
		opts := trackerOptions(c)
		test.That(t, opts.MaxAge, test.ShouldEqual, 250*time.Millisecond)
		test.That(t, opts.MaxQueueLen, test.ShouldEqual, 100)
		test.That(t, opts.Parallel, test.ShouldBeTrue)
	}, "--v", "cam[ci].jsonl", "--t", "t[ci].yml", "--mposeage", "0.25", "--parallel")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seen, test.ShouldBeTrue)
}

func TestTransformFlags(t *testing.T) {
	var seen bool
	err := runFlags(t, "transform", func(c *cli.Context) {
		seen = true
		opts := solverOptions(c)
		test.That(t, opts.FrameFraction, test.ShouldEqual, 0.75)
		test.That(t, opts.MaxTranslationDet, test.ShouldEqual, 1e-15)
		test.That(t, opts.MaxRotationDet, test.ShouldEqual, 1e-6)
		test.That(t, c.String(transformFlagGroundCoords), test.ShouldEqual, "u")
	}, "--v", "cam.jsonl", "--rmaxerr", "1e-6", "out.yml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seen, test.ShouldBeTrue)
}

func TestSingleCameraCommandsNeedOneOutput(t *testing.T) {
	_, err := runApp(t, "transform", "--v", "cam.jsonl")
	test.That(t, err, test.ShouldNotBeNil)
	_, err = runApp(t, "transform", "--v", "cam.jsonl", "--ci", "0,1", "out.yml")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestZeroFlagsAreKept(t *testing.T) {
	var calib calibration.Options
	err := runFlags(t, "calibrate", func(c *cli.Context) { calib = calibrationOptions(c) },
		"--w", "2", "--markers-y", "2", "--l", "0.04", "--s", "0.01", "--d", "10",
		"--v", "frames.jsonl", "--solver", "/bin/solver", "--frdiff", "0", "--fmark", "0", "out.yml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, calib.MinFrameDistance, test.ShouldEqual, 0.)
	test.That(t, calib.MinMarkerFraction, test.ShouldEqual, 0.)

	var solver groundtransform.Options
	err = runFlags(t, "transform", func(c *cli.Context) { solver = solverOptions(c) },
		"--v", "cam.jsonl", "--fframe", "0", "--tmaxerr", "0", "--rmaxerr", "0", "out.yml")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solver, test.ShouldResemble, groundtransform.Options{})

	var tracker fusion.Options
	err = runFlags(t, "track", func(c *cli.Context) { tracker = trackerOptions(c) },
		"--v", "cam[ci].jsonl", "--t", "t[ci].yml", "--mposeage", "0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tracker.MaxAge, test.ShouldEqual, time.Duration(0))
}
