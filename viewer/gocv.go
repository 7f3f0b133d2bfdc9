package viewer

import (
	"image"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// highgui's EVENT_LBUTTONDOWN.
const eventLeftButtonDown = 1

// Windows is a Display backed by OpenCV highgui windows. Like every highgui
// call it must be used from the main OS thread.
type Windows struct {
	names   []string
	windows map[string]*gocv.Window
}

// NewWindows opens one window per name.
func NewWindows(names ...string) *Windows {
	w := &Windows{names: names, windows: map[string]*gocv.Window{}}
	for _, name := range names {
		w.windows[name] = gocv.NewWindow(name)
	}
	return w
}

func (w *Windows) window(name string) (*gocv.Window, error) {
	win, ok := w.windows[name]
	if !ok {
		return nil, errors.Errorf("no window named %q", name)
	}
	return win, nil
}

// Show converts img to a Mat and pushes it into the window.
func (w *Windows) Show(name string, img image.Image) error {
	win, err := w.window(name)
	if err != nil {
		return err
	}
	mat, err := toMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	win.IMShow(mat)
	return nil
}

func toMat(img image.Image) (gocv.Mat, error) {
	if gray, ok := img.(*image.Gray); ok {
		return gocv.ImageGrayToMatGray(gray)
	}
	return gocv.ImageToMatRGB(img)
}

// Poll runs the highgui event loop; mouse callbacks fire from inside it.
func (w *Windows) Poll(delay time.Duration) int {
	if len(w.names) == 0 {
		return -1
	}
	ms := int(delay / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return w.windows[w.names[0]].WaitKey(ms)
}

// OnClick calls fn on a left button press inside the named window.
func (w *Windows) OnClick(name string, fn func()) {
	win, err := w.window(name)
	if err != nil {
		return
	}
	win.SetMouseHandler(func(event int, x int, y int, flags int, userdata interface{}) {
		if event == eventLeftButtonDown {
			fn()
		}
	}, nil)
}

// Close destroys every window.
func (w *Windows) Close() error {
	var err error
	for _, name := range w.names {
		err = multierr.Combine(err, w.windows[name].Close())
	}
	return err
}
