package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.viam.com/test"

	"depthcapture/device"
)

const sample = `
output_dir = "frames"
family = "structured-light"
color_device = "/dev/video0"
depth_device = "/dev/video2"
budget = "30s"
prefix = "frame-"
digits = 4
raw_depth = true

[calibration]
rotation = [1.0, 0.0, 0.0, 0.0, 1.0, 0.0, 0.0, 0.0, 1.0]
translation = [52.0, 0.0, 0.0]

[calibration.depth]
width = 512
height = 424
fx = 365.0
fy = 365.0
ppx = 256.0
ppy = 212.0

[calibration.color]
width = 1920
height = 1080
fx = 1081.0
fy = 1081.0
ppx = 960.0
ppy = 540.0
`

func writeSample(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "capture.toml")
	test.That(t, os.WriteFile(p, []byte(body), 0o600), test.ShouldBeNil)
	return p
}

func TestLoad(t *testing.T) {
	p := writeSample(t, sample)
	conf, err := Load(p)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Validate(p), test.ShouldBeNil)

	test.That(t, conf.OutputDir, test.ShouldEqual, "frames")
	test.That(t, conf.Calibration, test.ShouldNotBeNil)
	test.That(t, conf.Calibration.Depth.Width, test.ShouldEqual, 512)
	test.That(t, conf.Calibration.Color.Fx, test.ShouldEqual, 1081.0)
	test.That(t, conf.Calibration.Translation[0], test.ShouldEqual, 52.0)

	lc, err := conf.LoopConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lc.Budget, test.ShouldEqual, 30*time.Second)
	test.That(t, lc.Align, test.ShouldBeTrue)
	test.That(t, lc.SkipConsumesIndex, test.ShouldBeTrue)
	test.That(t, lc.DepthMax, test.ShouldEqual, 65535.0)

	dc, err := conf.DeviceConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dc.Profile.Depth.Width, test.ShouldEqual, 512)
	test.That(t, dc.ColorPath, test.ShouldEqual, "/dev/video0")

	po := conf.PersistOptions()
	test.That(t, po.Prefix, test.ShouldEqual, "frame-")
	test.That(t, po.Digits, test.ShouldEqual, 4)
	test.That(t, po.RawDepth, test.ShouldBeTrue)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Load(writeSample(t, "family = ["))
	test.That(t, err, test.ShouldNotBeNil)

	conf, err := Load("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Family, test.ShouldEqual, device.FamilyStructuredLight)
}

func TestProfileDefaults(t *testing.T) {
	conf := &Config{OutputDir: "out", Family: device.FamilyStereo, ColorDevice: "/dev/video4", DepthDevice: "/dev/video2"}
	test.That(t, conf.Validate("test"), test.ShouldBeNil)
	lc, err := conf.LoopConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lc.Budget, test.ShouldEqual, time.Duration(0))
	test.That(t, lc.Warmup, test.ShouldEqual, 30)
	test.That(t, lc.Align, test.ShouldBeFalse)
	test.That(t, conf.GetPollDelay(), test.ShouldEqual, 10*time.Millisecond)

	zero := 0
	no := false
	conf.Warmup = &zero
	conf.SkipConsumesIndex = &no
	conf.Budget = "0"
	lc, err = conf.LoopConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lc.Warmup, test.ShouldEqual, 0)
	test.That(t, lc.SkipConsumesIndex, test.ShouldBeFalse)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{OutputDir: "out", Family: device.FamilySynthetic}
	}
	test.That(t, base().Validate("test"), test.ShouldBeNil)

	c := base()
	c.OutputDir = ""
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)

	c = base()
	c.Family = "kinect"
	test.That(t, c.Validate("test").Error(), test.ShouldContainSubstring, "unknown family")

	c = base()
	c.Budget = "ten seconds"
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)

	c = base()
	c.Budget = "-1s"
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)

	c = base()
	neg := -1
	c.Warmup = &neg
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)

	c = base()
	c.Family = device.FamilyStructuredLight
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)

	c = base()
	c.Family = device.FamilyStereoPair
	c.LeftDevice, c.RightDevice = "/dev/video0", "/dev/video1"
	test.That(t, c.Validate("test"), test.ShouldNotBeNil)
	c.Stereo.Baseline, c.Stereo.FocalLength = 0.06, 700
	test.That(t, c.Validate("test"), test.ShouldBeNil)
}

func TestApplyFlags(t *testing.T) {
	flagConf := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flagConf.BindFlags(fs)
	test.That(t, fs.Parse([]string{"--budget=5s", "--warmup", "3", "--align=false", "--raw-depth"}), test.ShouldBeNil)

	conf, err := Load(writeSample(t, sample))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.ApplyFlags(fs), test.ShouldBeNil)

	test.That(t, conf.Budget, test.ShouldEqual, "5s")
	test.That(t, *conf.Warmup, test.ShouldEqual, 3)
	test.That(t, *conf.Align, test.ShouldBeFalse)
	test.That(t, conf.RawDepth, test.ShouldBeTrue)
	// untouched flags keep the file's values
	test.That(t, conf.Family, test.ShouldEqual, device.FamilyStructuredLight)
	test.That(t, conf.ColorDevice, test.ShouldEqual, "/dev/video0")
	test.That(t, conf.Digits, test.ShouldEqual, 4)
}

func TestOptionalBoolWithoutValue(t *testing.T) {
	conf := Default()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	conf.BindFlags(fs)
	test.That(t, conf.Align, test.ShouldBeNil)
	test.That(t, fs.Parse([]string{"--align"}), test.ShouldBeNil)
	test.That(t, *conf.Align, test.ShouldBeTrue)
}
