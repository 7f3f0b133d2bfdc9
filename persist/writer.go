// Package persist writes frame pairs to parallel color and depth directory trees.
package persist

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/utils"

	"depthcapture/device"
)

// Subdirectories of the output directory.
const (
	ColorDir    = "color"
	DepthDir    = "depth"
	RawDepthDir = "depth-raw"
	MetadataDir = "metadata"
)

// Frame is one processed pair ready to be written.
type Frame struct {
	Index    int
	Color    image.Image
	Depth    image.Image
	RawDepth *rimage.DepthMap
	Metadata map[device.Kind][]device.Attribute
}

// Options control file naming and the optional outputs.
type Options struct {
	Dir         string
	Prefix      string
	Digits      int
	ColorSuffix string
	DepthSuffix string

	// RawDepth also writes the unscaled 16-bit depth.
	RawDepth bool
	// Metadata writes one CSV sidecar per stream and frame.
	Metadata bool
}

// Writer encodes frames as PNG. It does not retry and does not write atomically.
type Writer struct {
	opts   Options
	logger logging.Logger
}

// NewWriter returns a writer for opts.
func NewWriter(opts Options, logger logging.Logger) *Writer {
	if opts.Digits <= 0 {
		opts.Digits = 6
	}
	return &Writer{opts: opts, logger: logger}
}

func (w *Writer) dirs() []string {
	dirs := []string{ColorDir, DepthDir}
	if w.opts.RawDepth {
		dirs = append(dirs, RawDepthDir)
	}
	if w.opts.Metadata {
		dirs = append(dirs, MetadataDir)
	}
	return dirs
}

// Prepare creates the output tree, parents included.
func (w *Writer) Prepare() error {
	for _, d := range w.dirs() {
		p := filepath.Join(w.opts.Dir, d)
		if err := os.MkdirAll(p, 0o755); err != nil {
			return errors.Wrapf(err, "cannot create output directory %s", p)
		}
	}
	w.logger.Infow("writing frames", "dir", w.opts.Dir)
	return nil
}

// Name is the base file name of frame index without extension. Zero padding keeps
// lexical order equal to capture order.
func (w *Writer) Name(index int, suffix string) string {
	return fmt.Sprintf("%s%0*d%s", w.opts.Prefix, w.opts.Digits, index, suffix)
}

// ColorPath is where the color image of frame index goes.
func (w *Writer) ColorPath(index int) string {
	return filepath.Join(w.opts.Dir, ColorDir, w.Name(index, w.opts.ColorSuffix)+".png")
}

// DepthPath is where the 8-bit depth image of frame index goes.
func (w *Writer) DepthPath(index int) string {
	return filepath.Join(w.opts.Dir, DepthDir, w.Name(index, w.opts.DepthSuffix)+".png")
}

// Write stores one frame. Either every file of the frame is written or none is left behind.
func (w *Writer) Write(ctx context.Context, f Frame) (err error) {
	var written []string
	defer func() {
		if err != nil {
			w.remove(written)
		}
	}()

	put := func(path string, img image.Image) error {
		if err := writePNG(ctx, path, img); err != nil {
			return err
		}
		written = append(written, path)
		return nil
	}
	if err := put(w.ColorPath(f.Index), f.Color); err != nil {
		return err
	}
	if err := put(w.DepthPath(f.Index), f.Depth); err != nil {
		return err
	}
	if w.opts.RawDepth && f.RawDepth != nil {
		if err := put(w.RawDepthPath(f.Index), f.RawDepth); err != nil {
			return err
		}
	}
	if w.opts.Metadata {
		for _, kind := range sortedKinds(f.Metadata) {
			p := filepath.Join(w.opts.Dir, MetadataDir, w.Name(f.Index, "."+string(kind))+".csv")
			err := WriteMetadataFile(p, kind, f.Metadata[kind])
			// a partially written sidecar goes too
			written = append(written, p)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// RawDepthPath is where the unscaled depth of frame index goes.
func (w *Writer) RawDepthPath(index int) string {
	return filepath.Join(w.opts.Dir, RawDepthDir, w.Name(index, w.opts.DepthSuffix)+".png")
}

func (w *Writer) remove(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			w.logger.Warnw("cannot remove partial frame file", "path", p, "error", err)
		}
	}
}

func sortedKinds(m map[device.Kind][]device.Attribute) []device.Kind {
	kinds := make([]device.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func writePNG(ctx context.Context, path string, img image.Image) error {
	if img == nil {
		return errors.Errorf("no image for %s", path)
	}
	data, err := rimage.EncodeImage(ctx, img, utils.MimeTypePNG)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}
