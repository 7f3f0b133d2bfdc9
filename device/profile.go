package device

import (
	"time"

	"github.com/benbjohnson/clock"

	"depthcapture/register"
)

// Device families.
const (
	FamilyStructuredLight = "structured-light"
	FamilyStereo          = "stereo"
	FamilyStereoPair      = "stereo-pair"
	FamilySynthetic       = "synthetic"
)

// Profile is the fixed stream setup and capture policy of a family.
type Profile struct {
	Family string

	Color StreamRequest
	Depth StreamRequest
	IR    *StreamRequest

	// NeedsRegistration is set when color and depth come from physically separate sensors.
	NeedsRegistration bool

	// DepthMax is the raw depth value mapped to 255 when rescaling for display and logging.
	DepthMax float64

	// Warmup frames are discarded before logging so auto exposure can settle.
	Warmup int

	// Budget is the default wall-clock capture budget, zero for unbounded.
	Budget time.Duration
}

var profiles = map[string]Profile{
	FamilyStructuredLight: {
		Family:            FamilyStructuredLight,
		Color:             StreamRequest{Kind: KindColor, Width: 1920, Height: 1080, Format: "YUYV", FPS: 30},
		Depth:             StreamRequest{Kind: KindDepth, Width: 512, Height: 424, Format: "Z16 ", FPS: 30},
		IR:                &StreamRequest{Kind: KindIR, Width: 512, Height: 424, Format: "Y16 ", FPS: 30},
		NeedsRegistration: true,
		DepthMax:          65535,
		Budget:            10 * time.Second,
	},
	FamilyStereo: {
		Family:   FamilyStereo,
		Color:    StreamRequest{Kind: KindColor, Width: 640, Height: 480, Format: "YUYV", FPS: 30},
		Depth:    StreamRequest{Kind: KindDepth, Width: 640, Height: 480, Format: "Z16 ", FPS: 30},
		DepthMax: 65535,
		Warmup:   30,
	},
	FamilyStereoPair: {
		Family:   FamilyStereoPair,
		Color:    StreamRequest{Kind: KindColor, Width: 640, Height: 480, Format: "YUYV", FPS: 30},
		Depth:    StreamRequest{Kind: KindDepth, Width: 640, Height: 480, Format: "YUYV", FPS: 30},
		DepthMax: 10000,
	},
	FamilySynthetic: {
		Family:   FamilySynthetic,
		Color:    StreamRequest{Kind: KindColor, Width: 640, Height: 480, Format: "RGB3", FPS: 30},
		Depth:    StreamRequest{Kind: KindDepth, Width: 640, Height: 480, Format: "Z16 ", FPS: 30},
		DepthMax: 65535,
		Budget:   10 * time.Second,
	},
}

// LookupProfile returns the profile of a family.
func LookupProfile(family string) (Profile, bool) {
	p, ok := profiles[family]
	return p, ok
}

// Config selects and configures one device.
type Config struct {
	Family  string
	Profile Profile

	// V4L2 device nodes.
	ColorPath string
	DepthPath string
	IRPath    string
	LeftPath  string
	RightPath string

	// WaitTimeout bounds a single V4L2 frame wait, in seconds.
	WaitTimeout uint32

	Calibration *register.Calibration
	Stereo      StereoConfig
	Synthetic   SyntheticOptions
}

// SyntheticOptions drive the synthetic device.
type SyntheticOptions struct {
	// Clock paces frames; a *clock.Mock is advanced instead of slept on.
	Clock clock.Clock
	// FailAt lists wait indices (counting from zero, warm-up included) that fail transiently.
	FailAt []int
	// FatalAt lists wait indices that fail with a SessionError.
	FatalAt []int
	// FailOpen makes Open fail as if no device were attached.
	FailOpen bool
}
