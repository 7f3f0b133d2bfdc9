package device

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
)

func init() {
	Register(FamilyStereoPair, openStereoPair)
}

// stereoPair is a rig of two plain cameras; depth is computed on the host from the left/right disparity.
type stereoPair struct {
	logger  logging.Logger
	profile Profile
	cfg     StereoConfig
	timeout uint32

	left, right *v4l2Stream
	closed      bool
}

func openStereoPair(ctx context.Context, conf Config, logger logging.Logger) (Session, error) {
	if err := conf.Stereo.Validate(); err != nil {
		return nil, &SessionError{Op: "Open", Args: FamilyStereoPair, Err: err}
	}
	s := &stereoPair{
		logger:  logger,
		profile: conf.Profile,
		cfg:     conf.Stereo,
		timeout: conf.WaitTimeout,
	}
	if s.timeout == 0 {
		s.timeout = defaultWaitTimeout
	}

	var err error
	if s.left, err = openStream(conf.LeftPath, conf.Profile.Color, logger); err != nil {
		return nil, err
	}
	if s.right, err = openStream(conf.RightPath, conf.Profile.Depth, logger); err != nil {
		return nil, multierr.Combine(err, s.Close(ctx))
	}
	for _, st := range []*v4l2Stream{s.left, s.right} {
		if err := st.start(); err != nil {
			return nil, multierr.Combine(err, s.Stop(ctx), s.Close(ctx))
		}
	}
	logger.Infow("stereo pair started", "left", conf.LeftPath, "right", conf.RightPath,
		"baseline_m", s.cfg.Baseline, "focal_length_px", s.cfg.FocalLength)
	return s, nil
}

func (s *stereoPair) NextFramePair(ctx context.Context) (pair *FramePair, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var held heldFrames
	defer func() {
		if err != nil {
			held.release(s.logger)
		}
	}()

	// TODO: read both nodes concurrently; sequential reads skew left and right by up to one frame.
	rawLeft, err := s.left.read(s.timeout, &held)
	if err != nil {
		return nil, err
	}
	rawRight, err := s.right.read(s.timeout, &held)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	leftImg, err := decodeColor(ctx, rawLeft, s.left.req.Format, s.left.req.Width, s.left.req.Height)
	if err != nil {
		return nil, errors.Wrap(err, "decoding left frame")
	}
	rightImg, err := decodeColor(ctx, rawRight, s.right.req.Format, s.right.req.Width, s.right.req.Height)
	if err != nil {
		return nil, errors.Wrap(err, "decoding right frame")
	}
	// both images are decoded copies, the driver can have its buffers back
	held.release(s.logger)

	depth, err := DepthFromDisparity(leftImg, rightImg, s.cfg)
	if err != nil {
		return nil, err
	}
	return &FramePair{
		Color:    leftImg,
		Depth:    depth,
		Captured: now,
		Metadata: map[Kind][]Attribute{
			KindColor: s.left.attributes(now),
			KindDepth: s.right.attributes(now),
		},
	}, nil
}

// Intrinsics are those of the left camera, which defines the depth grid.
func (s *stereoPair) Intrinsics() *transform.PinholeCameraIntrinsics {
	w, h := s.profile.Color.Width, s.profile.Color.Height
	return &transform.PinholeCameraIntrinsics{
		Width: w, Height: h,
		Fx: s.cfg.FocalLength, Fy: s.cfg.FocalLength,
		Ppx: float64(w) / 2, Ppy: float64(h) / 2,
	}
}

func (s *stereoPair) Stop(ctx context.Context) error {
	var err error
	for _, st := range []*v4l2Stream{s.left, s.right} {
		if st == nil {
			continue
		}
		if stopErr := st.stop(); stopErr != nil {
			err = multierr.Combine(err, &SessionError{Op: "StopStreaming", Args: st.path, Err: stopErr})
		}
	}
	return err
}

func (s *stereoPair) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	var err error
	for _, st := range []*v4l2Stream{s.left, s.right} {
		if st != nil {
			err = multierr.Combine(err, st.cam.Close())
		}
	}
	return err
}
