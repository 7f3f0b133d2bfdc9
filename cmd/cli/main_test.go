package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"depthcapture/persist"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func entries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	list, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	return list
}

func TestMissingOutputDir(t *testing.T) {
	out, err := execute(t)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, out, test.ShouldContainSubstring, "arg")
}

func TestBadViewerFlag(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	_, err := execute(t, "--family=synthetic", dir, "maybe")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "viewer-enabled")

	_, err = os.Stat(dir)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
}

func TestDeviceOpenFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	out, err := execute(t,
		"--family=structured-light", "--color-device=/nonexistent", "--depth-device=/nonexistent", dir)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device error calling Open")
	test.That(t, out, test.ShouldContainSubstring, "device error calling Open")

	// the tree is created before the device is opened and stays empty
	test.That(t, entries(t, filepath.Join(dir, persist.ColorDir)), test.ShouldBeEmpty)
	test.That(t, entries(t, filepath.Join(dir, persist.DepthDir)), test.ShouldBeEmpty)
}

func TestSyntheticRun(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	_, err := execute(t, "--family=synthetic", "--budget=100ms", "--digits=4", dir, "false")
	test.That(t, err, test.ShouldBeNil)

	colors := entries(t, filepath.Join(dir, persist.ColorDir))
	depths := entries(t, filepath.Join(dir, persist.DepthDir))
	test.That(t, len(colors), test.ShouldBeGreaterThan, 0)
	test.That(t, len(depths), test.ShouldEqual, len(colors))
	test.That(t, colors[0].Name(), test.ShouldEqual, "0000.png")
}

func TestConfigFileWithFlagOverride(t *testing.T) {
	tmp := t.TempDir()
	conf := filepath.Join(tmp, "capture.toml")
	body := "family = \"synthetic\"\nbudget = \"1h\"\nraw_depth = true\n"
	test.That(t, os.WriteFile(conf, []byte(body), 0o600), test.ShouldBeNil)

	dir := filepath.Join(tmp, "out")
	_, err := execute(t, "-c", conf, "--budget=50ms", dir)
	test.That(t, err, test.ShouldBeNil)

	raw := entries(t, filepath.Join(dir, persist.RawDepthDir))
	test.That(t, len(raw), test.ShouldBeGreaterThan, 0)
	test.That(t, len(raw), test.ShouldEqual, len(entries(t, filepath.Join(dir, persist.ColorDir))))
}
