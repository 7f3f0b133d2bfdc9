package device

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
)

func init() {
	Register(FamilySynthetic, openSynthetic)
}

// ErrInjected is the transient fault produced by SyntheticOptions.FailAt.
var ErrInjected = errors.New("injected frame wait failure")

// synthetic generates deterministic frames at the profile's rate. It backs tests and dry runs.
type synthetic struct {
	logger  logging.Logger
	profile Profile
	opts    SyntheticOptions
	clk     clock.Clock
	period  time.Duration

	waits int
	// outstanding counts delivered pairs that were not released yet.
	outstanding int
	stopped     bool
	closed  bool
	failAt  map[int]bool
	fatalAt map[int]bool
}

func openSynthetic(ctx context.Context, conf Config, logger logging.Logger) (Session, error) {
	p := conf.Profile
	if p.Family == "" {
		p = profiles[FamilySynthetic]
	}
	if conf.Synthetic.FailOpen {
		return nil, &SessionError{Op: "Open", Args: "synthetic", Err: errors.New("no device connected")}
	}
	if p.Color.Width <= 0 || p.Depth.Width <= 0 || p.Color.FPS <= 0 {
		return nil, &SessionError{Op: "EnableStream", Args: p.Color.String(), Err: ErrUnsupportedStream}
	}
	clk := conf.Synthetic.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &synthetic{
		logger:  logger,
		profile: p,
		opts:    conf.Synthetic,
		clk:     clk,
		period:  time.Second / time.Duration(p.Color.FPS),
		failAt:  map[int]bool{},
		fatalAt: map[int]bool{},
	}
	for _, i := range conf.Synthetic.FailAt {
		s.failAt[i] = true
	}
	for _, i := range conf.Synthetic.FatalAt {
		s.fatalAt[i] = true
	}
	logger.Debugw("synthetic device started", "period", s.period, "color", p.Color.String(), "depth", p.Depth.String())
	return s, nil
}

func (s *synthetic) tick(ctx context.Context) error {
	if mock, ok := s.clk.(*clock.Mock); ok {
		mock.Add(s.period)
		return ctx.Err()
	}
	t := s.clk.Timer(s.period)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *synthetic) NextFramePair(ctx context.Context) (*FramePair, error) {
	if s.stopped {
		return nil, &SessionError{Op: "NextFramePair", Err: errors.New("session stopped")}
	}
	i := s.waits
	s.waits++
	if err := s.tick(ctx); err != nil {
		return nil, err
	}
	if s.fatalAt[i] {
		return nil, &SessionError{Op: "NextFramePair", Args: strconv.Itoa(i), Err: errors.New("stream dropped")}
	}
	if s.failAt[i] {
		return nil, errors.Wrapf(ErrInjected, "wait %d", i)
	}

	now := s.clk.Now()
	pair := &FramePair{
		Color:    syntheticColor(s.profile.Color.Width, s.profile.Color.Height, i),
		Depth:    syntheticDepth(s.profile.Depth.Width, s.profile.Depth.Height, i),
		Captured: now,
		Metadata: map[Kind][]Attribute{
			KindColor: frameAttributes(i, now, s.profile.Color),
			KindDepth: frameAttributes(i, now, s.profile.Depth),
		},
	}
	s.outstanding++
	pair.SetRelease(func() { s.outstanding-- })
	return pair, nil
}

func frameAttributes(i int, ts time.Time, req StreamRequest) []Attribute {
	return []Attribute{
		{Name: "Frame Counter", Value: strconv.Itoa(i)},
		{Name: "Frame Timestamp", Value: strconv.FormatInt(ts.UnixMilli(), 10)},
		{Name: "Actual Fps", Value: strconv.Itoa(req.FPS)},
		{Name: "Resolution", Value: fmt.Sprintf("%dx%d", req.Width, req.Height)},
	}
}

func syntheticColor(w, h, i int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x + i), G: uint8(y + i), B: uint8(i), A: 255})
		}
	}
	return img
}

// syntheticDepth is a horizontal ramp spanning the full 16-bit range, shifted by i.
func syntheticDepth(w, h, i int) *rimage.DepthMap {
	dm := rimage.NewEmptyDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (x*65535/max(w-1, 1) + i) % 65536
			dm.Set(x, y, rimage.Depth(v))
		}
	}
	return dm
}

func (s *synthetic) Intrinsics() *transform.PinholeCameraIntrinsics {
	w, h := s.profile.Depth.Width, s.profile.Depth.Height
	return &transform.PinholeCameraIntrinsics{
		Width: w, Height: h,
		Fx: float64(w), Fy: float64(w),
		Ppx: float64(w) / 2, Ppy: float64(h) / 2,
	}
}

func (s *synthetic) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}

func (s *synthetic) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.outstanding > 0 {
		s.logger.Warnw("synthetic device closed with unreleased frames", "frames", s.outstanding)
	}
	s.logger.Debugw("synthetic device closed", "waits", s.waits)
	return nil
}

// Align resamples nothing; synthetic color and depth already share a grid.
func (s *synthetic) Align(ctx context.Context, pair *FramePair) (*FramePair, error) {
	return pair, nil
}
