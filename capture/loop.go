// Package capture runs the wait, convert, save and display loop over one device session.
package capture

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"depthcapture/device"
	"depthcapture/persist"
)

// Config is the loop policy.
type Config struct {
	// Budget ends the loop after this much wall-clock time; zero runs until stopped.
	Budget time.Duration
	// Warmup frames are read and dropped before the budget starts.
	Warmup int
	// DepthMax is the raw depth mapped to 255.
	DepthMax float64
	// Align asks an Aligner session to register color onto depth before saving.
	Align bool
	// SkipConsumesIndex keeps a file index reserved for iterations that failed.
	SkipConsumesIndex bool
}

// Sink persists accepted frames.
type Sink interface {
	Write(ctx context.Context, f persist.Frame) error
}

// Monitor shows accepted frames to the operator.
type Monitor interface {
	Show(color, depth image.Image) error
}

// Outcome is what happened to one iteration.
type Outcome int

const (
	// Accepted frames were written.
	Accepted Outcome = iota
	// SkippedTransient iterations failed to wait, convert or write and were dropped.
	SkippedTransient
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case SkippedTransient:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result describes one iteration.
type Result struct {
	Index   int
	Outcome Outcome
	Fault   error
	// Elapsed is the time since the loop started when the iteration finished.
	Elapsed time.Duration
}

// StopReason says why the loop ended.
type StopReason string

// Stop reasons.
const (
	StopBudget    StopReason = "budget"
	StopRequested StopReason = "requested"
	StopFatal     StopReason = "fatal"
)

// Stats summarize a run.
type Stats struct {
	// Iterations counts completed iterations; the one ending in a fatal error is not included.
	Iterations int
	Accepted   int
	Skipped    int
	// NextIndex is the frame counter after the run.
	NextIndex int
	Elapsed   time.Duration
	Reason    StopReason
}

// Option customizes Run.
type Option func(*loop)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(l *loop) { l.clk = clk }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *loop) { l.logger = logger }
}

// WithMonitor shows every accepted frame.
func WithMonitor(m Monitor) Option {
	return func(l *loop) { l.monitor = m }
}

// WithMetrics records iterations in m.
func WithMetrics(m *Metrics) Option {
	return func(l *loop) { l.metrics = m }
}

// WithResults calls fn after every iteration.
func WithResults(fn func(Result)) Option {
	return func(l *loop) { l.onResult = fn }
}

var errInterrupted = errors.New("frame wait interrupted")

type loop struct {
	session device.Session
	aligner device.Aligner
	sink    Sink
	conf    Config

	clk      clock.Clock
	logger   logging.Logger
	monitor  Monitor
	metrics  *Metrics
	onResult func(Result)

	start time.Time
}

// Run captures from session into sink until the budget elapses, ctx is cancelled or the
// session fails fatally. Only a fatal session error is returned.
func Run(ctx context.Context, session device.Session, sink Sink, conf Config, opts ...Option) (Stats, error) {
	l := &loop{session: session, sink: sink, conf: conf}
	for _, opt := range opts {
		opt(l)
	}
	if l.clk == nil {
		l.clk = clock.New()
	}
	if l.logger == nil {
		l.logger = logging.NewLogger("capture")
	}
	if conf.Align {
		if a, ok := session.(device.Aligner); ok {
			l.aligner = a
		} else {
			l.logger.Warn("device does not support registration, saving frames unaligned")
		}
	}
	return l.run(ctx)
}

func (l *loop) warmup(ctx context.Context) error {
	for i := 0; i < l.conf.Warmup; i++ {
		pair, err := l.session.NextFramePair(ctx)
		switch {
		case err == nil:
			pair.Release()
		case device.IsFatal(err):
			return err
		case ctx.Err() != nil:
			return errInterrupted
		default:
			l.logger.Debugw("warm-up frame failed", "frame", i, "error", err)
		}
	}
	if l.conf.Warmup > 0 {
		l.logger.Debugf("dropped %d warm-up frames", l.conf.Warmup)
	}
	return nil
}

func (l *loop) run(ctx context.Context) (stats Stats, err error) {
	if err := l.warmup(ctx); err != nil {
		if errors.Is(err, errInterrupted) {
			stats.Reason = StopRequested
			return stats, nil
		}
		stats.Reason = StopFatal
		return stats, err
	}

	l.start = l.clk.Now()
	defer func() { stats.Elapsed = l.clk.Since(l.start) }()

	index := 0
	for {
		if ctx.Err() != nil {
			stats.Reason = StopRequested
			break
		}
		if l.conf.Budget > 0 && l.clk.Since(l.start) >= l.conf.Budget {
			stats.Reason = StopBudget
			break
		}

		var res Result
		res, err = l.step(ctx, index)
		if errors.Is(err, errInterrupted) {
			err = nil
			stats.Reason = StopRequested
			break
		}
		if err != nil {
			stats.Reason = StopFatal
			stats.NextIndex = index
			return stats, err
		}
		stats.Iterations++

		l.metrics.observeOutcome(res.Outcome)
		if res.Outcome == Accepted {
			stats.Accepted++
		} else {
			stats.Skipped++
		}
		if res.Outcome == Accepted || l.conf.SkipConsumesIndex {
			index++
		}
		if l.onResult != nil {
			l.onResult(res)
		}
	}
	stats.NextIndex = index
	return stats, nil
}

// step handles one frame pair. A non-nil error is either fatal or errInterrupted.
func (l *loop) step(ctx context.Context, index int) (Result, error) {
	res := Result{Index: index}

	waitStart := l.clk.Now()
	pair, err := l.session.NextFramePair(ctx)
	l.metrics.observeWait(l.clk.Since(waitStart))
	if err != nil {
		return l.fault(ctx, res, err)
	}
	defer pair.Release()

	processStart := l.clk.Now()
	defer func() { l.metrics.observeProcess(l.clk.Since(processStart)) }()

	if l.aligner != nil {
		aligned, err := l.aligner.Align(ctx, pair)
		if err != nil {
			return l.fault(ctx, res, err)
		}
		if aligned != pair {
			defer aligned.Release()
		}
		pair = aligned
	}

	depth := RescaleDepth(pair.Depth, l.conf.DepthMax)
	frame := persist.Frame{
		Index:    index,
		Color:    pair.Color,
		Depth:    depth,
		RawDepth: pair.Depth,
		Metadata: pair.Metadata,
	}
	if err := l.sink.Write(ctx, frame); err != nil {
		return l.fault(ctx, res, err)
	}

	if l.monitor != nil {
		if err := l.monitor.Show(pair.Color, depth); err != nil {
			l.logger.Warnw("cannot display frame", "frame", index, "error", err)
		}
	}

	res.Outcome = Accepted
	res.Elapsed = l.clk.Since(l.start)
	return res, nil
}

func (l *loop) fault(ctx context.Context, res Result, err error) (Result, error) {
	if device.IsFatal(err) {
		return res, err
	}
	if ctx.Err() != nil {
		return res, errInterrupted
	}
	l.logger.Debugw("skipping frame", "frame", res.Index, "error", err)
	res.Outcome = SkippedTransient
	res.Fault = err
	res.Elapsed = l.clk.Since(l.start)
	return res, nil
}
