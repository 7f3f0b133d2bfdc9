// Package device opens depth camera sessions and hands out synchronized color/depth frame pairs.
package device

import (
	"context"
	"fmt"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
)

// Kind names one stream of a device.
type Kind string

// Stream kinds a session can be asked for.
const (
	KindColor Kind = "color"
	KindDepth Kind = "depth"
	KindIR    Kind = "ir"
)

// StreamRequest is one (kind, width, height, pixel format, rate) request.
// Format is a V4L2 fourcc such as "YUYV" or "Z16 ".
type StreamRequest struct {
	Kind   Kind
	Width  int
	Height int
	Format string
	FPS    int
}

func (r StreamRequest) String() string {
	return fmt.Sprintf("%s, %d, %d, %s, %d", r.Kind, r.Width, r.Height, r.Format, r.FPS)
}

// Attribute is one metadata key/value reported for a frame.
type Attribute struct {
	Name  string
	Value string
}

// FramePair is one synchronized sample. It is only valid until Release is called.
type FramePair struct {
	Color    image.Image
	Depth    *rimage.DepthMap
	IR       *rimage.DepthMap
	Captured time.Time
	Metadata map[Kind][]Attribute

	releaseOnce sync.Once
	release     func()
}

// Release hands the frame buffers back to the session. Safe to call more than once.
func (fp *FramePair) Release() {
	if fp == nil {
		return
	}
	fp.releaseOnce.Do(func() {
		if fp.release != nil {
			fp.release()
		}
	})
}

// SetRelease sets the function that hands the pair's buffers back. It runs at most once.
func (fp *FramePair) SetRelease(fn func()) {
	fp.release = fn
}

// Kinds returns the metadata stream kinds present in the pair, sorted.
func (fp *FramePair) Kinds() []Kind {
	kinds := make([]Kind, 0, len(fp.Metadata))
	for k := range fp.Metadata {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Session is an open, streaming device.
type Session interface {
	// NextFramePair blocks until a full set of requested frames is available.
	NextFramePair(ctx context.Context) (*FramePair, error)
	// Intrinsics returns the depth camera intrinsics, or nil when unknown.
	Intrinsics() *transform.PinholeCameraIntrinsics
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

// Aligner is implemented by sessions whose color and depth come from separate sensors.
type Aligner interface {
	Align(ctx context.Context, pair *FramePair) (*FramePair, error)
}

// Opener opens a session for one device family.
type Opener func(ctx context.Context, conf Config, logger logging.Logger) (Session, error)

var (
	familiesMu sync.Mutex
	families   = map[string]Opener{}
)

// Register makes a device family available to Open.
func Register(family string, opener Opener) {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	if _, ok := families[family]; ok {
		panic(fmt.Sprintf("device family %q registered twice", family))
	}
	families[family] = opener
}

// Families lists the registered family names.
func Families() []string {
	familiesMu.Lock()
	defer familiesMu.Unlock()
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open starts a session for conf.Family.
func Open(ctx context.Context, conf Config, logger logging.Logger) (Session, error) {
	familiesMu.Lock()
	opener, ok := families[conf.Family]
	familiesMu.Unlock()
	if !ok {
		return nil, &SessionError{Op: "Open", Args: conf.Family, Err: ErrUnknownFamily}
	}
	return opener(ctx, conf, logger.Sublogger(conf.Family))
}

// WithSession opens a session, runs fn and always stops and closes the session afterwards.
func WithSession(ctx context.Context, conf Config, logger logging.Logger, fn func(Session) error) (err error) {
	s, err := Open(ctx, conf, logger)
	if err != nil {
		return err
	}
	defer func() {
		// the caller's context may already be cancelled; shutdown must still run.
		cleanupCtx := context.WithoutCancel(ctx)
		err = multierr.Combine(err, s.Stop(cleanupCtx), s.Close(cleanupCtx))
	}()
	return fn(s)
}

// ErrUnknownFamily is returned by Open for an unregistered family.
var ErrUnknownFamily = errors.New("unknown device family")

// ErrUnsupportedStream means the hardware refused a stream request.
var ErrUnsupportedStream = errors.New("unsupported stream configuration")

// SessionError is a fatal device error. It carries the failing operation and its arguments.
type SessionError struct {
	Op   string
	Args string
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("device error calling %s(%s): %v", e.Op, e.Args, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err ends the session.
func IsFatal(err error) bool {
	var se *SessionError
	return errors.As(err, &se)
}
