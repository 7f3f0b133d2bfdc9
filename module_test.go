package depthcapture

import (
	"context"
	"image"
	"image/color"
	"testing"

	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/utils"
	"go.viam.com/test"

	"depthcapture/device"
)

func TestConfigValidate(t *testing.T) {
	_, err := (&Config{}).Validate("x")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = (&Config{Family: "kinect"}).Validate("x")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = (&Config{Family: device.FamilyStereoPair}).Validate("x")
	test.That(t, err, test.ShouldNotBeNil)

	deps, err := (&Config{Family: device.FamilySynthetic}).Validate("x")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeNil)
}

func TestDepthCamera(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	cam, err := NewDepthCamera(ctx, camera.Named("cam"), &Config{Family: device.FamilySynthetic}, logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, cam.Close(ctx), test.ShouldBeNil)
	}()

	data, meta, err := cam.Image(ctx, "", nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.MimeType, test.ShouldEqual, utils.MimeTypeJPEG)
	img, err := rimage.DecodeImage(ctx, data, utils.MimeTypeJPEG)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 640)

	imgs, md, err := cam.Images(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(imgs), test.ShouldEqual, 2)
	test.That(t, imgs[0].SourceName, test.ShouldEqual, "color")
	test.That(t, imgs[1].SourceName, test.ShouldEqual, "depth")
	test.That(t, md.CapturedAt.IsZero(), test.ShouldBeFalse)

	props, err := cam.Properties(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, props.SupportsPCD, test.ShouldBeTrue)
	test.That(t, props.IntrinsicParams.Width, test.ShouldEqual, 640)

	pc, err := cam.NextPointCloud(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldBeGreaterThan, 0)
	test.That(t, pc.Size(), test.ShouldBeLessThanOrEqualTo, 640*480)
}

func TestDepthCameraOpenFailure(t *testing.T) {
	_, err := NewDepthCamera(context.Background(), resource.NewName(camera.API, "cam"),
		&Config{Family: "kinect"}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDepthToPointCloud(t *testing.T) {
	in := &transform.PinholeCameraIntrinsics{Width: 4, Height: 2, Fx: 100, Fy: 100, Ppx: 2, Ppy: 1}
	dm := rimage.NewEmptyDepthMap(4, 2)
	dm.Set(2, 1, 1000)
	dm.Set(3, 1, 500)

	rgb := image.NewRGBA(image.Rect(0, 0, 4, 2))
	rgb.Set(2, 1, color.RGBA{R: 200, G: 10, B: 20, A: 255})

	pc, err := DepthToPointCloud(rgb, dm, in, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	d, ok := pc.At(0, 0, 1000)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeTrue)
	r, g, b := d.RGB255()
	test.That(t, r, test.ShouldEqual, uint8(200))
	test.That(t, g, test.ShouldEqual, uint8(10))
	test.That(t, b, test.ShouldEqual, uint8(20))

	_, ok = pc.At(5, 0, 500)
	test.That(t, ok, test.ShouldBeTrue)

	// color on another grid is dropped
	pc, err = DepthToPointCloud(image.NewRGBA(image.Rect(0, 0, 8, 8)), dm, in, 1)
	test.That(t, err, test.ShouldBeNil)
	d, ok = pc.At(0, 0, 1000)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.HasColor(), test.ShouldBeFalse)

	_, err = DepthToPointCloud(nil, dm, nil, 1)
	test.That(t, err, test.ShouldNotBeNil)
}
