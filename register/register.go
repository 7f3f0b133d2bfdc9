// Package register maps color pixels onto the depth sensor's grid.
package register

import (
	"image"
	"image/draw"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
)

// Calibration holds both sensors' intrinsics and the rigid transform from the depth
// frame into the color frame. Translation is in the depth map's units (millimeters).
type Calibration struct {
	Depth       transform.PinholeCameraIntrinsics `toml:"depth"`
	Color       transform.PinholeCameraIntrinsics `toml:"color"`
	Rotation    [9]float64                        `toml:"rotation"`
	Translation [3]float64                        `toml:"translation"`
}

// DefaultStructuredLight is the nominal factory calibration of a 512x424 time-of-flight
// depth sensor paired with a 1920x1080 color sensor 52mm to its side.
func DefaultStructuredLight() *Calibration {
	return &Calibration{
		Depth: transform.PinholeCameraIntrinsics{
			Width: 512, Height: 424,
			Fx: 365.456, Fy: 365.456,
			Ppx: 254.878, Ppy: 205.395,
		},
		Color: transform.PinholeCameraIntrinsics{
			Width: 1920, Height: 1080,
			Fx: 1081.37, Fy: 1081.37,
			Ppx: 959.5, Ppy: 539.5,
		},
		Rotation:    [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
		Translation: [3]float64{52, 0, 0},
	}
}

// CheckValid reports whether the calibration can be used.
func (c *Calibration) CheckValid() error {
	if c == nil {
		return errors.New("no calibration")
	}
	if err := c.Depth.CheckValid(); err != nil {
		return errors.Wrap(err, "depth intrinsics")
	}
	if err := c.Color.CheckValid(); err != nil {
		return errors.Wrap(err, "color intrinsics")
	}
	if c.Rotation == [9]float64{} {
		return errors.New("rotation must not be all zero")
	}
	return nil
}

func (c *Calibration) rows() (r3.Vector, r3.Vector, r3.Vector) {
	r := c.Rotation
	return r3.Vector{X: r[0], Y: r[1], Z: r[2]},
		r3.Vector{X: r[3], Y: r[4], Z: r[5]},
		r3.Vector{X: r[6], Y: r[7], Z: r[8]}
}

// ToColorFrame moves a point from the depth camera frame into the color camera frame.
func (c *Calibration) ToColorFrame(p r3.Vector) r3.Vector {
	r0, r1, r2 := c.rows()
	t := c.Translation
	return r3.Vector{
		X: r0.Dot(p) + t[0],
		Y: r1.Dot(p) + t[1],
		Z: r2.Dot(p) + t[2],
	}
}

// Apply returns the color image resampled onto the depth grid. Depth pixels that are
// zero or project outside the color image come out opaque black.
func (c *Calibration) Apply(colorImg image.Image, depth *rimage.DepthMap) (*image.RGBA, error) {
	if depth.Width() != c.Depth.Width || depth.Height() != c.Depth.Height {
		return nil, errors.Errorf("depth map is %dx%d, calibration expects %dx%d",
			depth.Width(), depth.Height(), c.Depth.Width, c.Depth.Height)
	}
	cb := colorImg.Bounds()
	if cb.Dx() != c.Color.Width || cb.Dy() != c.Color.Height {
		return nil, errors.Errorf("color image is %dx%d, calibration expects %dx%d",
			cb.Dx(), cb.Dy(), c.Color.Width, c.Color.Height)
	}

	registered := image.NewRGBA(image.Rect(0, 0, depth.Width(), depth.Height()))
	draw.Draw(registered, registered.Bounds(), image.Black, image.Point{}, draw.Src)
	for y := 0; y < depth.Height(); y++ {
		for x := 0; x < depth.Width(); x++ {
			d := depth.GetDepth(x, y)
			if d == 0 {
				continue
			}
			px, py, pz := c.Depth.PixelToPoint(float64(x), float64(y), float64(d))
			q := c.ToColorFrame(r3.Vector{X: px, Y: py, Z: pz})
			if q.Z <= 0 {
				continue
			}
			u, v := c.Color.PointToPixel(q.X, q.Y, q.Z)
			pt := image.Pt(int(math.Round(u))+cb.Min.X, int(math.Round(v))+cb.Min.Y)
			if !pt.In(cb) {
				continue
			}
			registered.Set(x, y, colorImg.At(pt.X, pt.Y))
		}
	}
	return registered, nil
}
