package depthcapture

import (
	"image"
	"image/color"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
)

// DepthToPointCloud projects every step'th depth pixel through the depth intrinsics.
// Points are in millimeters. When colorImg is on the depth grid each point carries its color.
func DepthToPointCloud(colorImg image.Image, dm *rimage.DepthMap, intrinsics *transform.PinholeCameraIntrinsics, step int) (pointcloud.PointCloud, error) {
	if dm == nil {
		return nil, errors.New("no depth map")
	}
	if intrinsics == nil {
		return nil, errors.New("no intrinsics")
	}
	if step <= 0 {
		step = 1
	}

	colored := colorImg != nil &&
		colorImg.Bounds().Dx() == dm.Width() && colorImg.Bounds().Dy() == dm.Height()
	var cb image.Rectangle
	if colored {
		cb = colorImg.Bounds()
	}

	pc := pointcloud.New()
	for y := 0; y < dm.Height(); y += step {
		for x := 0; x < dm.Width(); x += step {
			z := dm.GetDepth(x, y)
			if z == 0 {
				continue
			}
			px, py, pz := intrinsics.PixelToPoint(float64(x), float64(y), float64(z))

			var d pointcloud.Data
			if colored {
				r, g, b, _ := colorImg.At(cb.Min.X+x, cb.Min.Y+y).RGBA()
				d = pointcloud.NewColoredData(color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: 255})
			} else {
				d = pointcloud.NewBasicData()
			}
			if err := pc.Set(r3.Vector{X: px, Y: py, Z: pz}, d); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
