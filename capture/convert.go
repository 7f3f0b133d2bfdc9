package capture

import (
	"image"
	"math"

	"go.viam.com/rdk/rimage"
)

// RescaleDepth maps raw depth linearly into 8 bits: 0 stays 0, depthMax and above become 255.
func RescaleDepth(dm *rimage.DepthMap, depthMax float64) *image.Gray {
	if depthMax <= 0 {
		depthMax = math.MaxUint16
	}
	scale := 255 / depthMax
	out := image.NewGray(image.Rect(0, 0, dm.Width(), dm.Height()))
	for y := 0; y < dm.Height(); y++ {
		row := out.Pix[y*out.Stride:]
		for x := 0; x < dm.Width(); x++ {
			row[x] = rescale(float64(dm.GetDepth(x, y)), scale)
		}
	}
	return out
}

func rescale(v, scale float64) uint8 {
	return uint8(math.Min(math.Round(v*scale), 255))
}
