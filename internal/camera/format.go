package camera

import (
	"fmt"

	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// Format is one capturable combination of device, pixel format, frame size
// and frame interval.
type Format struct {
	Device      string
	Card        string
	Driver      string
	PixelFormat uint32
	Width       uint32
	Height      uint32
	Numerator   uint32
	Denominator uint32
}

// String returns the canonical description used to persist a selection:
// "<device> <card> (<fourcc>) <w>x<h> <num>/<denom>".
func (f Format) String() string {
	return fmt.Sprintf("%s %s (%s) %dx%d %d/%d",
		f.Device, f.Card, f.FourCC(), f.Width, f.Height, f.Numerator, f.Denominator)
}

// FourCC returns the pixel format name.
func (f Format) FourCC() string {
	return v4l2.FormatFourCC(f.PixelFormat)
}

// FPS returns the nominal frame rate.
func (f Format) FPS() float64 {
	return v4l2.Framerate{Numerator: f.Numerator, Denominator: f.Denominator}.FPS()
}
