package device

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"

	"depthcapture/register"
)

func init() {
	Register(FamilyStructuredLight, openV4L2)
	Register(FamilyStereo, openV4L2)
}

const defaultWaitTimeout = 5

// v4l2Stream is one V4L2 node delivering one stream kind.
type v4l2Stream struct {
	path      string
	req       StreamRequest
	cam       *webcam.Webcam
	streaming bool
	frames    int
}

func openStream(path string, req StreamRequest, logger logging.Logger) (*v4l2Stream, error) {
	if path == "" {
		return nil, &SessionError{Op: "Open", Args: string(req.Kind), Err: errors.New("no device node configured")}
	}
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, &SessionError{Op: "Open", Args: path, Err: err}
	}

	args := fmt.Sprintf("%s, %s", path, req)
	want := fourcc(req.Format)
	if _, ok := cam.GetSupportedFormats()[want]; !ok {
		cam.Close()
		return nil, &SessionError{Op: "EnableStream", Args: args, Err: ErrUnsupportedStream}
	}
	_, w, h, err := cam.SetImageFormat(want, uint32(req.Width), uint32(req.Height))
	if err != nil {
		cam.Close()
		return nil, &SessionError{Op: "EnableStream", Args: args, Err: err}
	}
	if int(w) != req.Width || int(h) != req.Height {
		cam.Close()
		return nil, &SessionError{
			Op:   "EnableStream",
			Args: args,
			Err:  errors.Wrapf(ErrUnsupportedStream, "device offered %dx%d", w, h),
		}
	}
	if req.FPS > 0 {
		if err := cam.SetFramerate(float32(req.FPS)); err != nil {
			// not every driver exposes frame interval control
			logger.Debugw("cannot set frame rate", "path", path, "fps", req.FPS, "error", err)
		}
	}
	return &v4l2Stream{path: path, req: req, cam: cam}, nil
}

func (st *v4l2Stream) start() error {
	if err := st.cam.StartStreaming(); err != nil {
		return &SessionError{Op: "StartStreaming", Args: st.path, Err: err}
	}
	st.streaming = true
	return nil
}

// heldFrames are driver buffers dequeued by read and not yet requeued.
type heldFrames []heldFrame

type heldFrame struct {
	st    *v4l2Stream
	index uint32
}

// release requeues every held buffer. The driver stops filling a buffer while it is held.
func (h *heldFrames) release(logger logging.Logger) {
	for _, f := range *h {
		if err := f.st.cam.ReleaseFrame(f.index); err != nil {
			logger.Warnw("cannot release frame buffer", "path", f.st.path, "index", f.index, "error", err)
		}
	}
	*h = nil
}

// read blocks for one frame and adds its buffer to held. Timeouts are transient,
// anything else drops the stream. The returned bytes are only valid until held is released.
func (st *v4l2Stream) read(timeout uint32, held *heldFrames) ([]byte, error) {
	err := st.cam.WaitForFrame(timeout)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return nil, errors.Wrapf(err, "waiting for %s frame on %s", st.req.Kind, st.path)
	default:
		return nil, &SessionError{Op: "WaitForFrame", Args: st.path, Err: err}
	}

	frame, index, err := st.cam.GetFrame()
	if err != nil {
		return nil, &SessionError{Op: "GetFrame", Args: st.path, Err: err}
	}
	*held = append(*held, heldFrame{st: st, index: index})
	if len(frame) == 0 {
		return nil, errors.Errorf("empty %s frame on %s", st.req.Kind, st.path)
	}
	st.frames++
	return frame, nil
}

func (st *v4l2Stream) attributes(ts time.Time) []Attribute {
	return []Attribute{
		{Name: "Frame Counter", Value: strconv.Itoa(st.frames)},
		{Name: "Frame Timestamp", Value: strconv.FormatInt(ts.UnixMilli(), 10)},
		{Name: "Pixel Format", Value: st.req.Format},
		{Name: "Resolution", Value: fmt.Sprintf("%dx%d", st.req.Width, st.req.Height)},
		{Name: "Device", Value: st.path},
	}
}

func (st *v4l2Stream) stop() error {
	if !st.streaming {
		return nil
	}
	st.streaming = false
	return st.cam.StopStreaming()
}

// v4l2Session reads color, depth and optionally IR from separate V4L2 nodes of one device.
type v4l2Session struct {
	logger  logging.Logger
	profile Profile
	calib   *register.Calibration
	timeout uint32

	color, depth, ir *v4l2Stream
	closed           bool
}

func openV4L2(ctx context.Context, conf Config, logger logging.Logger) (Session, error) {
	p := conf.Profile
	s := &v4l2Session{
		logger:  logger,
		profile: p,
		calib:   conf.Calibration,
		timeout: conf.WaitTimeout,
	}
	if s.timeout == 0 {
		s.timeout = defaultWaitTimeout
	}
	if p.NeedsRegistration {
		if s.calib == nil {
			s.calib = register.DefaultStructuredLight()
		}
		if err := s.calib.CheckValid(); err != nil {
			return nil, &SessionError{Op: "Registration", Args: p.Family, Err: err}
		}
	}

	var err error
	if s.color, err = openStream(conf.ColorPath, p.Color, logger); err != nil {
		return nil, err
	}
	if s.depth, err = openStream(conf.DepthPath, p.Depth, logger); err != nil {
		return nil, multierr.Combine(err, s.Close(ctx))
	}
	if p.IR != nil && conf.IRPath != "" {
		if s.ir, err = openStream(conf.IRPath, *p.IR, logger); err != nil {
			return nil, multierr.Combine(err, s.Close(ctx))
		}
	}
	for _, st := range s.streams() {
		if err := st.start(); err != nil {
			return nil, multierr.Combine(err, s.Stop(ctx), s.Close(ctx))
		}
	}
	logger.Infow("device started", "color", conf.ColorPath, "depth", conf.DepthPath, "ir", conf.IRPath)
	return s, nil
}

func (s *v4l2Session) streams() []*v4l2Stream {
	var out []*v4l2Stream
	for _, st := range []*v4l2Stream{s.color, s.depth, s.ir} {
		if st != nil {
			out = append(out, st)
		}
	}
	return out
}

func (s *v4l2Session) NextFramePair(ctx context.Context) (pair *FramePair, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var held heldFrames
	defer func() {
		if err != nil {
			held.release(s.logger)
		}
	}()

	raw, err := s.color.read(s.timeout, &held)
	if err != nil {
		return nil, err
	}
	colorImg, err := decodeColor(ctx, raw, s.color.req.Format, s.color.req.Width, s.color.req.Height)
	if err != nil {
		return nil, errors.Wrap(err, "decoding color frame")
	}

	raw, err = s.depth.read(s.timeout, &held)
	if err != nil {
		return nil, err
	}
	depth, err := decodeDepth(raw, s.depth.req.Width, s.depth.req.Height)
	if err != nil {
		return nil, errors.Wrap(err, "decoding depth frame")
	}

	now := time.Now()
	pair = &FramePair{
		Color:    colorImg,
		Depth:    depth,
		Captured: now,
		Metadata: map[Kind][]Attribute{
			KindColor: s.color.attributes(now),
			KindDepth: s.depth.attributes(now),
		},
	}
	if s.ir != nil {
		raw, err = s.ir.read(s.timeout, &held)
		if err != nil {
			return nil, err
		}
		if pair.IR, err = decodeDepth(raw, s.ir.req.Width, s.ir.req.Height); err != nil {
			return nil, errors.Wrap(err, "decoding ir frame")
		}
		pair.Metadata[KindIR] = s.ir.attributes(now)
	}
	pair.SetRelease(func() { held.release(s.logger) })
	return pair, nil
}

// Align replaces the pair's color image with the color sampled onto the depth grid.
func (s *v4l2Session) Align(ctx context.Context, pair *FramePair) (*FramePair, error) {
	if s.calib == nil {
		return pair, nil
	}
	registered, err := s.calib.Apply(pair.Color, pair.Depth)
	if err != nil {
		return nil, errors.Wrap(err, "registration")
	}
	pair.Color = registered
	return pair, nil
}

func (s *v4l2Session) Intrinsics() *transform.PinholeCameraIntrinsics {
	if s.calib == nil {
		return nil
	}
	in := s.calib.Depth
	return &in
}

func (s *v4l2Session) Stop(ctx context.Context) error {
	var err error
	for _, st := range s.streams() {
		if stopErr := st.stop(); stopErr != nil {
			err = multierr.Combine(err, &SessionError{Op: "StopStreaming", Args: st.path, Err: stopErr})
		}
	}
	return err
}

func (s *v4l2Session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, st := range s.streams() {
		err = multierr.Combine(err, st.cam.Close())
	}
	return err
}
