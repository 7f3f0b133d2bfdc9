package depthcapture

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/utils"

	"depthcapture/device"
	"depthcapture/register"
)

var (
	NamespaceFamily = resource.NewModelFamily("depthcapture", "camera")
	DepthCamera     = NamespaceFamily.WithModel("depth-camera")
)

func init() {
	resource.RegisterComponent(camera.API, DepthCamera,
		resource.Registration[camera.Camera, *Config]{
			Constructor: newDepthCamera,
		},
	)
}

type Config struct {
	Family      string `json:"family"`
	ColorDevice string `json:"color-device"`
	DepthDevice string `json:"depth-device"`
	IRDevice    string `json:"ir-device"`
	LeftDevice  string `json:"left-device"`
	RightDevice string `json:"right-device"`

	// Align registers color onto the depth grid before returning images. Defaults to the family profile.
	Align *bool `json:"align,omitempty"`

	Calibration *register.Calibration `json:"calibration,omitempty"`
	Stereo      device.StereoConfig   `json:"stereo"`
}

func (cfg *Config) profile() (device.Profile, error) {
	p, ok := device.LookupProfile(cfg.Family)
	if !ok {
		return device.Profile{}, fmt.Errorf("unknown family %q", cfg.Family)
	}
	return p, nil
}

func (cfg *Config) getAlign(p device.Profile) bool {
	if cfg.Align == nil {
		return p.NeedsRegistration
	}
	return *cfg.Align
}

func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.Family == "" {
		return nil, fmt.Errorf("need family")
	}
	if _, err := cfg.profile(); err != nil {
		return nil, err
	}
	if cfg.Family == device.FamilyStereoPair {
		if err := cfg.Stereo.Validate(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (cfg *Config) deviceConfig() (device.Config, error) {
	p, err := cfg.profile()
	if err != nil {
		return device.Config{}, err
	}
	return device.Config{
		Family:      cfg.Family,
		Profile:     p,
		ColorPath:   cfg.ColorDevice,
		DepthPath:   cfg.DepthDevice,
		IRPath:      cfg.IRDevice,
		LeftPath:    cfg.LeftDevice,
		RightPath:   cfg.RightDevice,
		Calibration: cfg.Calibration,
		Stereo:      cfg.Stereo,
	}, nil
}

type depthCamera struct {
	resource.AlwaysRebuild

	name resource.Name

	logger logging.Logger
	cfg    *Config

	mu      sync.Mutex
	session device.Session
	aligner device.Aligner
}

func newDepthCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewDepthCamera(ctx, rawConf.ResourceName(), conf, logger)
}

// NewDepthCamera opens the configured device and serves it as a camera.
func NewDepthCamera(ctx context.Context, name resource.Name, conf *Config, logger logging.Logger) (camera.Camera, error) {
	devConf, err := conf.deviceConfig()
	if err != nil {
		return nil, err
	}
	session, err := device.Open(ctx, devConf, logger)
	if err != nil {
		return nil, err
	}

	c := &depthCamera{
		name:    name,
		logger:  logger,
		cfg:     conf,
		session: session,
	}
	if a, ok := session.(device.Aligner); ok && conf.getAlign(devConf.Profile) {
		c.aligner = a
	}
	return c, nil
}

func (c *depthCamera) Name() resource.Name {
	return c.name
}

func (c *depthCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

func (c *depthCamera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return multierr.Combine(c.session.Stop(ctx), c.session.Close(ctx))
}

// next returns one aligned pair. The caller must Release it.
func (c *depthCamera) next(ctx context.Context) (*device.FramePair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pair, err := c.session.NextFramePair(ctx)
	if err != nil {
		return nil, err
	}
	if c.aligner == nil {
		return pair, nil
	}
	aligned, err := c.aligner.Align(ctx, pair)
	if err != nil {
		pair.Release()
		return nil, err
	}
	if aligned != pair {
		pair.Release()
	}
	return aligned, nil
}

func (c *depthCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	pair, err := c.next(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	defer pair.Release()

	if mimeType == "" {
		mimeType = utils.MimeTypeJPEG
	}
	data, err := rimage.EncodeImage(ctx, pair.Color, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return data, camera.ImageMetadata{MimeType: mimeType}, nil
}

func (c *depthCamera) Images(ctx context.Context) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	pair, err := c.next(ctx)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}
	defer pair.Release()

	return []camera.NamedImage{
		{Image: pair.Color, SourceName: string(device.KindColor)},
		{Image: pair.Depth, SourceName: string(device.KindDepth)},
	}, resource.ResponseMetadata{CapturedAt: pair.Captured}, nil
}

func (c *depthCamera) NextPointCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	intrinsics := c.session.Intrinsics()
	if intrinsics == nil {
		return nil, fmt.Errorf("%s has no depth intrinsics", c.cfg.Family)
	}

	pair, err := c.next(ctx)
	if err != nil {
		return nil, err
	}
	defer pair.Release()

	return DepthToPointCloud(pair.Color, pair.Depth, intrinsics, 1)
}

func (c *depthCamera) Properties(ctx context.Context) (camera.Properties, error) {
	intrinsics := c.session.Intrinsics()
	return camera.Properties{
		SupportsPCD:     intrinsics != nil,
		ImageType:       camera.ColorStream,
		IntrinsicParams: intrinsics,
	}, nil
}
