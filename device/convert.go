package device

import (
	"context"
	"encoding/binary"
	"image"

	"github.com/blackjack/webcam"
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/utils"
	"gocv.io/x/gocv"
)

// fourcc packs a four character V4L2 format code.
func fourcc(code string) webcam.PixelFormat {
	var b [4]byte
	copy(b[:], code)
	return webcam.PixelFormat(binary.LittleEndian.Uint32(b[:]))
}

func needBytes(data []byte, n int, format string) error {
	if len(data) < n {
		return errors.Errorf("short %s frame: got %d bytes, want %d", format, len(data), n)
	}
	return nil
}

// decodeColor converts a raw color frame into an image.
func decodeColor(ctx context.Context, data []byte, format string, w, h int) (image.Image, error) {
	switch format {
	case "YUYV":
		if err := needBytes(data, w*h*2, format); err != nil {
			return nil, err
		}
		src, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC2, data[:w*h*2])
		if err != nil {
			return nil, err
		}
		defer src.Close()
		dst := gocv.NewMat()
		defer dst.Close()
		gocv.CvtColor(src, &dst, gocv.ColorYUVToBGRYUY2)
		return dst.ToImage()
	case "MJPG":
		return rimage.DecodeImage(ctx, data, utils.MimeTypeJPEG)
	case "GREY":
		if err := needBytes(data, w*h, format); err != nil {
			return nil, err
		}
		img := image.NewGray(image.Rect(0, 0, w, h))
		copy(img.Pix, data)
		return img, nil
	case "RGB3":
		if err := needBytes(data, w*h*3, format); err != nil {
			return nil, err
		}
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < w*h; i++ {
			copy(img.Pix[i*4:i*4+3], data[i*3:i*3+3])
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	default:
		return nil, errors.Wrap(ErrUnsupportedStream, format)
	}
}

// decodeDepth reads a little-endian 16-bit frame (Z16 depth or Y16 infrared).
func decodeDepth(data []byte, w, h int) (*rimage.DepthMap, error) {
	if err := needBytes(data, w*h*2, "16-bit"); err != nil {
		return nil, err
	}
	dm := rimage.NewEmptyDepthMap(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 2
			dm.Set(x, y, rimage.Depth(binary.LittleEndian.Uint16(data[i:])))
		}
	}
	return dm, nil
}
