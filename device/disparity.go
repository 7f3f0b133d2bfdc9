package device

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage"
)

// StereoConfig holds the rig geometry and matcher settings for host-side stereo depth.
type StereoConfig struct {
	Baseline    float64 `toml:"baseline"`     // distance between cameras in meters
	FocalLength float64 `toml:"focal_length"` // focal length of the camera in pixels

	MinDisparity float64 `toml:"min_disparity"`
	MaxDisparity float64 `toml:"max_disparity"`

	// DisparityStep controls how many pixels to skip when comparing (higher = faster but less dense)
	DisparityStep int `toml:"disparity_step"`
	// PixelStep controls how many pixels to skip in the image (higher = faster but less dense)
	PixelStep int `toml:"pixel_step"`
}

func (cfg *StereoConfig) getMinDisparity() float64 {
	if cfg.MinDisparity <= 0 {
		return 1
	}
	return cfg.MinDisparity
}

func (cfg *StereoConfig) getMaxDisparity() float64 {
	if cfg.MaxDisparity <= 0 {
		return 64
	}
	return cfg.MaxDisparity
}

func (cfg *StereoConfig) getDisparityStep() int {
	if cfg.DisparityStep <= 0 {
		return 1
	}
	return cfg.DisparityStep
}

func (cfg *StereoConfig) getPixelStep() int {
	if cfg.PixelStep <= 0 {
		return 1
	}
	return cfg.PixelStep
}

// Validate checks the rig geometry.
func (cfg *StereoConfig) Validate() error {
	if cfg.Baseline <= 0 {
		return errors.New("need stereo baseline")
	}
	if cfg.FocalLength <= 0 {
		return errors.New("need stereo focal_length")
	}
	if cfg.getMinDisparity() >= cfg.getMaxDisparity() {
		return errors.Errorf("min_disparity %v must be below max_disparity %v", cfg.getMinDisparity(), cfg.getMaxDisparity())
	}
	return nil
}

func calculatePixelDifference(img1, img2 image.Image, x1, y1, x2, y2 int) float64 {
	// Simple SAD (Sum of Absolute Differences) for the RGB values
	r1, g1, b1, _ := img1.At(x1, y1).RGBA()
	r2, g2, b2, _ := img2.At(x2, y2).RGBA()

	rDiff := math.Abs(float64(r1) - float64(r2))
	gDiff := math.Abs(float64(g1) - float64(g2))
	bDiff := math.Abs(float64(b1) - float64(b2))

	return rDiff + gDiff + bDiff
}

// DepthFromDisparity matches every left pixel along its row in the right image and
// converts the best disparity to depth in millimeters. Unmatched pixels stay zero.
func DepthFromDisparity(leftImg, rightImg image.Image, cfg StereoConfig) (*rimage.DepthMap, error) {
	bounds := leftImg.Bounds()
	rightBounds := rightImg.Bounds()

	if bounds.Dx() != rightBounds.Dx() || bounds.Dy() != rightBounds.Dy() {
		return nil, errors.New("images must have the same dimensions")
	}
	// right image coordinates are addressed relative to the left bounds
	offset := rightBounds.Min.Sub(bounds.Min)

	minDisparity, maxDisparity := cfg.getMinDisparity(), cfg.getMaxDisparity()
	disparityStep, pixelStep := cfg.getDisparityStep(), cfg.getPixelStep()

	dm := rimage.NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y += pixelStep {
		for x := bounds.Min.X; x < bounds.Max.X; x += pixelStep {
			bestDisparity := 0.0
			minDiff := math.MaxFloat64

			lowestX := max(x-int(maxDisparity), bounds.Min.X)
			for searchX := x; searchX >= lowestX; searchX -= disparityStep {
				diff := calculatePixelDifference(leftImg, rightImg, x, y, searchX+offset.X, y+offset.Y)
				if diff < minDiff {
					minDiff = diff
					bestDisparity = float64(x - searchX)
				}
			}

			// Filter out low confidence disparity values
			if bestDisparity <= minDisparity || bestDisparity >= maxDisparity {
				continue
			}
			// Z = (baseline * focal_length) / disparity, meters to millimeters
			z := math.Min(1000*cfg.Baseline*cfg.FocalLength/bestDisparity, math.MaxUint16)
			fillBlock(dm, x-bounds.Min.X, y-bounds.Min.Y, pixelStep, rimage.Depth(z))
		}
	}
	return dm, nil
}

func fillBlock(dm *rimage.DepthMap, x0, y0, size int, d rimage.Depth) {
	for y := y0; y < min(y0+size, dm.Height()); y++ {
		for x := x0; x < min(x0+size, dm.Width()); x++ {
			dm.Set(x, y, d)
		}
	}
}
