package persist

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/test"

	"depthcapture/device"
)

func testFrame(index int) Frame {
	col := image.NewRGBA(image.Rect(0, 0, 4, 3))
	col.SetRGBA(1, 1, color.RGBA{R: 200, A: 255})
	depth := image.NewGray(image.Rect(0, 0, 4, 3))
	depth.SetGray(2, 1, color.Gray{Y: 99})
	raw := rimage.NewEmptyDepthMap(4, 3)
	raw.Set(2, 1, rimage.Depth(40000))
	return Frame{
		Index:    index,
		Color:    col,
		Depth:    depth,
		RawDepth: raw,
		Metadata: map[device.Kind][]device.Attribute{
			device.KindColor: {{Name: "Frame Counter", Value: "7"}},
		},
	}
}

func TestName(t *testing.T) {
	w := NewWriter(Options{Dir: "out", Prefix: "frame-", Digits: 4}, logging.NewTestLogger(t))
	test.That(t, w.Name(5, ".color"), test.ShouldEqual, "frame-0005.color")
	test.That(t, w.ColorPath(12), test.ShouldEqual, filepath.Join("out", "color", "frame-0012.png"))

	w = NewWriter(Options{Dir: "out"}, logging.NewTestLogger(t))
	test.That(t, w.DepthPath(3), test.ShouldEqual, filepath.Join("out", "depth", "000003.png"))
}

func TestNamesSortInCaptureOrder(t *testing.T) {
	w := NewWriter(Options{Digits: 4}, logging.NewTestLogger(t))
	var names []string
	for i := 0; i < 300; i++ {
		names = append(names, w.Name(i, ""))
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	test.That(t, sorted, test.ShouldResemble, names)
}

func TestPrepareAndWrite(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "frames")
	w := NewWriter(Options{Dir: dir, Digits: 4, RawDepth: true, Metadata: true}, logging.NewTestLogger(t))
	test.That(t, w.Prepare(), test.ShouldBeNil)

	for _, d := range []string{ColorDir, DepthDir, RawDepthDir, MetadataDir} {
		st, err := os.Stat(filepath.Join(dir, d))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, st.IsDir(), test.ShouldBeTrue)
	}

	test.That(t, w.Write(ctx, testFrame(3)), test.ShouldBeNil)

	col, err := rimage.ReadImageFromFile(filepath.Join(dir, ColorDir, "0003.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, col.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))
	r, _, _, _ := col.At(1, 1).RGBA()
	test.That(t, r>>8, test.ShouldEqual, uint32(200))

	depth, err := rimage.ReadImageFromFile(filepath.Join(dir, DepthDir, "0003.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Bounds(), test.ShouldResemble, image.Rect(0, 0, 4, 3))

	_, err = os.Stat(filepath.Join(dir, RawDepthDir, "0003.png"))
	test.That(t, err, test.ShouldBeNil)

	csv, err := os.ReadFile(filepath.Join(dir, MetadataDir, "0003.color.csv"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(csv), test.ShouldEqual, "stream,color\nMetadata Attribute,Value\nFrame Counter,7\n")
}

func TestWriteWithoutPrepare(t *testing.T) {
	w := NewWriter(Options{Dir: filepath.Join(t.TempDir(), "missing")}, logging.NewTestLogger(t))
	test.That(t, w.Write(context.Background(), testFrame(0)), test.ShouldNotBeNil)
}

func TestPrepareFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	test.That(t, os.WriteFile(file, []byte("x"), 0o600), test.ShouldBeNil)
	w := NewWriter(Options{Dir: file}, logging.NewTestLogger(t))
	test.That(t, w.Prepare(), test.ShouldNotBeNil)
}

func TestWriteMetadata(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMetadata(&buf, device.KindDepth, []device.Attribute{
		{Name: "Frame Timestamp", Value: "1000"},
		{Name: "Resolution", Value: "640x480"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual,
		"stream,depth\nMetadata Attribute,Value\nFrame Timestamp,1000\nResolution,640x480\n")
}

func TestFailedWriteLeavesNoFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewWriter(Options{Dir: dir, Digits: 4, RawDepth: true, Metadata: true}, logging.NewTestLogger(t))
	test.That(t, w.Prepare(), test.ShouldBeNil)

	f := testFrame(5)
	f.Depth = nil
	test.That(t, w.Write(ctx, f), test.ShouldNotBeNil)
	for _, d := range []string{ColorDir, DepthDir, RawDepthDir, MetadataDir} {
		entries, err := os.ReadDir(filepath.Join(dir, d))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, entries, test.ShouldBeEmpty)
	}

	// the last file of the frame fails: a file where the metadata directory should be
	test.That(t, os.Remove(filepath.Join(dir, MetadataDir)), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(dir, MetadataDir), []byte("x"), 0o600), test.ShouldBeNil)
	test.That(t, w.Write(ctx, testFrame(6)), test.ShouldNotBeNil)
	for _, p := range []string{w.ColorPath(6), w.DepthPath(6), w.RawDepthPath(6)} {
		_, err := os.Stat(p)
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	}

	// a later frame on the same index is written normally
	test.That(t, os.Remove(filepath.Join(dir, MetadataDir)), test.ShouldBeNil)
	test.That(t, os.Mkdir(filepath.Join(dir, MetadataDir), 0o755), test.ShouldBeNil)
	test.That(t, w.Write(ctx, testFrame(6)), test.ShouldBeNil)
	_, err := os.Stat(w.ColorPath(6))
	test.That(t, err, test.ShouldBeNil)
}
