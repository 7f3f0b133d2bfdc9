// Package config loads capture settings from a TOML file and command line flags.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"depthcapture/capture"
	"depthcapture/device"
	"depthcapture/persist"
	"depthcapture/register"
)

// Config is everything one capture run needs. Zero values fall back to the family profile.
type Config struct {
	OutputDir string `toml:"output_dir"`
	Viewer    bool   `toml:"viewer"`
	Family    string `toml:"family"`

	ColorDevice string `toml:"color_device"`
	DepthDevice string `toml:"depth_device"`
	IRDevice    string `toml:"ir_device"`
	LeftDevice  string `toml:"left_device"`
	RightDevice string `toml:"right_device"`
	WaitTimeout uint32 `toml:"wait_timeout"`

	// Budget is a Go duration; "0" captures until stopped.
	Budget            string  `toml:"budget"`
	Warmup            *int    `toml:"warmup"`
	DepthMax          float64 `toml:"depth_max"`
	Align             *bool   `toml:"align"`
	SkipConsumesIndex *bool   `toml:"skip_consumes_index"`
	PollDelay         string  `toml:"poll_delay"`

	Prefix      string `toml:"prefix"`
	Digits      int    `toml:"digits"`
	ColorSuffix string `toml:"color_suffix"`
	DepthSuffix string `toml:"depth_suffix"`
	RawDepth    bool   `toml:"raw_depth"`
	Metadata    bool   `toml:"metadata"`

	MetricsAddr string `toml:"metrics_addr"`
	Debug       bool   `toml:"debug"`

	Calibration *register.Calibration `toml:"calibration"`
	Stereo      device.StereoConfig   `toml:"stereo"`
}

// Default is the configuration used when no file is given.
func Default() *Config {
	return &Config{Family: device.FamilyStructuredLight}
}

// Load reads a TOML file over the defaults.
func Load(path string) (*Config, error) {
	conf := Default()
	if path == "" {
		return conf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read config")
	}
	if err := toml.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %s", path)
	}
	return conf, nil
}

// Validate checks the configuration. path names the source in error messages.
func (c *Config) Validate(path string) error {
	if c.OutputDir == "" {
		return errors.Errorf("%s: need output directory", path)
	}
	p, err := c.Profile()
	if err != nil {
		return errors.Wrap(err, path)
	}
	if _, err := c.getBudget(p); err != nil {
		return errors.Wrapf(err, "%s: budget", path)
	}
	if _, err := c.getPollDelay(); err != nil {
		return errors.Wrapf(err, "%s: poll_delay", path)
	}
	if c.Warmup != nil && *c.Warmup < 0 {
		return errors.Errorf("%s: warmup must not be negative", path)
	}
	if c.DepthMax < 0 {
		return errors.Errorf("%s: depth_max must not be negative", path)
	}
	if c.Calibration != nil {
		if err := c.Calibration.CheckValid(); err != nil {
			return errors.Wrapf(err, "%s: calibration", path)
		}
	}
	switch c.Family {
	case device.FamilyStructuredLight, device.FamilyStereo:
		if c.ColorDevice == "" || c.DepthDevice == "" {
			return errors.Errorf("%s: %s needs color_device and depth_device", path, c.Family)
		}
	case device.FamilyStereoPair:
		if c.LeftDevice == "" || c.RightDevice == "" {
			return errors.Errorf("%s: %s needs left_device and right_device", path, c.Family)
		}
		if err := c.Stereo.Validate(); err != nil {
			return errors.Wrap(err, path)
		}
	}
	return nil
}

// Profile is the stream profile of the configured family.
func (c *Config) Profile() (device.Profile, error) {
	p, ok := device.LookupProfile(c.Family)
	if !ok {
		return device.Profile{}, errors.Errorf("unknown family %q, want one of %s",
			c.Family, strings.Join(device.Families(), ", "))
	}
	return p, nil
}

func (c *Config) getBudget(p device.Profile) (time.Duration, error) {
	if c.Budget == "" {
		return p.Budget, nil
	}
	d, err := time.ParseDuration(c.Budget)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func (c *Config) getWarmup(p device.Profile) int {
	if c.Warmup == nil {
		return p.Warmup
	}
	return *c.Warmup
}

func (c *Config) getDepthMax(p device.Profile) float64 {
	if c.DepthMax <= 0 {
		return p.DepthMax
	}
	return c.DepthMax
}

func (c *Config) getAlign(p device.Profile) bool {
	if c.Align == nil {
		return p.NeedsRegistration
	}
	return *c.Align
}

func (c *Config) getSkipConsumesIndex() bool {
	if c.SkipConsumesIndex == nil {
		return true
	}
	return *c.SkipConsumesIndex
}

func (c *Config) getPollDelay() (time.Duration, error) {
	if c.PollDelay == "" {
		return 10 * time.Millisecond, nil
	}
	return time.ParseDuration(c.PollDelay)
}

// GetPollDelay is how long the viewer waits for input after each frame.
func (c *Config) GetPollDelay() time.Duration {
	d, err := c.getPollDelay()
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// LoopConfig is the capture loop policy. Call Validate first.
func (c *Config) LoopConfig() (capture.Config, error) {
	p, err := c.Profile()
	if err != nil {
		return capture.Config{}, err
	}
	budget, err := c.getBudget(p)
	if err != nil {
		return capture.Config{}, err
	}
	return capture.Config{
		Budget:            budget,
		Warmup:            c.getWarmup(p),
		DepthMax:          c.getDepthMax(p),
		Align:             c.getAlign(p),
		SkipConsumesIndex: c.getSkipConsumesIndex(),
	}, nil
}

// DeviceConfig selects the device.
func (c *Config) DeviceConfig() (device.Config, error) {
	p, err := c.Profile()
	if err != nil {
		return device.Config{}, err
	}
	return device.Config{
		Family:      c.Family,
		Profile:     p,
		ColorPath:   c.ColorDevice,
		DepthPath:   c.DepthDevice,
		IRPath:      c.IRDevice,
		LeftPath:    c.LeftDevice,
		RightPath:   c.RightDevice,
		WaitTimeout: c.WaitTimeout,
		Calibration: c.Calibration,
		Stereo:      c.Stereo,
	}, nil
}

// PersistOptions configure the frame writer.
func (c *Config) PersistOptions() persist.Options {
	return persist.Options{
		Dir:         c.OutputDir,
		Prefix:      c.Prefix,
		Digits:      c.Digits,
		ColorSuffix: c.ColorSuffix,
		DepthSuffix: c.DepthSuffix,
		RawDepth:    c.RawDepth,
		Metadata:    c.Metadata,
	}
}

// BindFlags registers one flag per setting, writing into c.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Family, "family", c.Family, "device family: "+strings.Join(device.Families(), ", "))
	fs.StringVar(&c.ColorDevice, "color-device", c.ColorDevice, "V4L2 node of the color stream")
	fs.StringVar(&c.DepthDevice, "depth-device", c.DepthDevice, "V4L2 node of the depth stream")
	fs.StringVar(&c.IRDevice, "ir-device", c.IRDevice, "V4L2 node of the infrared stream")
	fs.StringVar(&c.LeftDevice, "left-device", c.LeftDevice, "V4L2 node of the left camera (stereo-pair)")
	fs.StringVar(&c.RightDevice, "right-device", c.RightDevice, "V4L2 node of the right camera (stereo-pair)")
	fs.Uint32Var(&c.WaitTimeout, "wait-timeout", c.WaitTimeout, "seconds to wait for a single frame")
	fs.StringVar(&c.Budget, "budget", c.Budget, "capture duration, 0 to run until stopped (default: family profile)")
	fs.Var(optionalInt{&c.Warmup}, "warmup", "frames dropped before logging (default: family profile)")
	fs.Float64Var(&c.DepthMax, "depth-max", c.DepthMax, "raw depth mapped to 255 (default: family profile)")
	fs.VarPF(optionalBool{&c.Align}, "align", "", "register color onto depth (default: family profile)").NoOptDefVal = "true"
	fs.VarPF(optionalBool{&c.SkipConsumesIndex}, "skip-consumes-index", "",
		"failed frames keep their file index (default true)").NoOptDefVal = "true"
	fs.StringVar(&c.PollDelay, "poll-delay", c.PollDelay, "viewer input polling delay")
	fs.StringVar(&c.Prefix, "prefix", c.Prefix, "file name prefix")
	fs.IntVar(&c.Digits, "digits", c.Digits, "zero padded digits of the frame index (default 6)")
	fs.StringVar(&c.ColorSuffix, "color-suffix", c.ColorSuffix, "suffix before .png of color files")
	fs.StringVar(&c.DepthSuffix, "depth-suffix", c.DepthSuffix, "suffix before .png of depth files")
	fs.BoolVar(&c.RawDepth, "raw-depth", c.RawDepth, "also write unscaled 16-bit depth")
	fs.BoolVar(&c.Metadata, "metadata", c.Metadata, "write per frame metadata CSV files")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "debug logging")
}

// ApplyFlags copies every flag explicitly set in from onto c.
func (c *Config) ApplyFlags(from *pflag.FlagSet) error {
	target := pflag.NewFlagSet("config", pflag.ContinueOnError)
	c.BindFlags(target)
	var err error
	from.Visit(func(f *pflag.Flag) {
		if err != nil || target.Lookup(f.Name) == nil {
			return
		}
		if f.Value.Type() == "optional" && f.Value.String() == "" {
			return
		}
		err = target.Set(f.Name, f.Value.String())
	})
	return err
}

// optionalInt is an int flag that stays nil unless set.
type optionalInt struct{ p **int }

func (o optionalInt) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.Itoa(**o.p)
}

func (o optionalInt) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

func (o optionalInt) Type() string { return "optional" }

// optionalBool is a bool flag that stays nil unless set.
type optionalBool struct{ p **bool }

func (o optionalBool) String() string {
	if o.p == nil || *o.p == nil {
		return ""
	}
	return strconv.FormatBool(**o.p)
}

func (o optionalBool) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	*o.p = &v
	return nil
}

func (o optionalBool) Type() string { return "optional" }
