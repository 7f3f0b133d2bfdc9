// Package viewer shows the latest color and depth frames and turns a click into a stop request.
package viewer

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
)

// Window names.
const (
	ColorWindow = "color"
	DepthWindow = "depth"
)

const (
	keyEscape = 27
	keyQuit   = 'q'
)

// Display is a windowing toolkit. Click handlers run synchronously inside Poll.
type Display interface {
	Show(window string, img image.Image) error
	// Poll processes pending input for up to delay and returns the pressed key or -1.
	Poll(delay time.Duration) int
	OnClick(window string, fn func())
	Close() error
}

// Viewer displays frame pairs on a Display.
type Viewer struct {
	display Display
	stop    context.CancelFunc
	delay   time.Duration
}

// New wires a left click on either window, or q/ESC, to stop.
func New(display Display, stop context.CancelFunc, delay time.Duration) *Viewer {
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}
	v := &Viewer{display: display, stop: stop, delay: delay}
	display.OnClick(ColorWindow, stop)
	display.OnClick(DepthWindow, stop)
	return v
}

// Show replaces both windows' images and polls for input once. Input is polled even
// when a window cannot be updated, so the operator can still stop the capture.
func (v *Viewer) Show(color, depth image.Image) error {
	var err error
	if showErr := v.display.Show(ColorWindow, color); showErr != nil {
		err = errors.Wrap(showErr, "color window")
	} else if showErr := v.display.Show(DepthWindow, depth); showErr != nil {
		err = errors.Wrap(showErr, "depth window")
	}
	switch v.display.Poll(v.delay) {
	case keyQuit, keyEscape:
		v.stop()
	}
	return err
}

// Close destroys the windows.
func (v *Viewer) Close() error {
	return v.display.Close()
}
