package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// MaxDevices bounds the /dev/videoN scan range.
const MaxDevices = 64

// InfoHandle is an open device node used for enumeration.
// *v4l2.Stream satisfies it.
type InfoHandle interface {
	Capability() (v4l2.Capability, error)
	Formats() ([]v4l2.FormatInfo, error)
	FrameSizes(pixelFormat uint32) ([]v4l2.FrameSize, error)
	FrameIntervals(pixelFormat, width, height uint32) ([]v4l2.FrameInterval, error)
	Close() error
}

// Inspector opens device nodes for enumeration.
type Inspector interface {
	Inspect(path string) (InfoHandle, error)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(path string) (InfoHandle, error)

// Inspect calls f(path).
func (f InspectorFunc) Inspect(path string) (InfoHandle, error) {
	return f(path)
}

// V4L2Inspector opens real device nodes.
var V4L2Inspector = InspectorFunc(func(path string) (InfoHandle, error) {
	s, err := v4l2.OpenStream(path)
	if err != nil {
		return nil, err
	}
	return s, nil
})

// Catalog enumerates the capture formats of every attached device in a
// stable order: device index, then pixel format, frame size and frame
// interval in driver order. Every query re-enumerates, so indices are only
// stable while the attached hardware is.
type Catalog struct {
	inspector  Inspector
	maxDevices int
	logger     *slog.Logger
}

// NewCatalog creates a catalog backed by inspector.
func NewCatalog(inspector Inspector) *Catalog {
	if inspector == nil {
		inspector = V4L2Inspector
	}
	return &Catalog{
		inspector:  inspector,
		maxDevices: MaxDevices,
		logger:     logging.GetLogger("camera"),
	}
}

// DevicePath returns the node inspected for device index i.
func DevicePath(i int) string {
	return fmt.Sprintf("/dev/video%d", i)
}

// Enumerate inspects all devices and returns their discrete formats.
// Enumeration performs blocking ioctls and may take noticeable time.
func (c *Catalog) Enumerate() []Format {
	var formats []Format
	for i := 0; i < c.maxDevices; i++ {
		formats = append(formats, c.enumerateDevice(DevicePath(i))...)
	}
	return formats
}

func (c *Catalog) enumerateDevice(path string) []Format {
	h, err := c.inspector.Inspect(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("Failed to open video device", "path", path, "error", err)
		}
		return nil
	}
	defer h.Close()

	caps, err := h.Capability()
	if err != nil {
		c.logger.Warn("Skipping device, capability query failed", "path", path, "error", err)
		return nil
	}
	if !caps.IsVideoCapture() {
		c.logger.Debug("Skipping non-capture device", "path", path, "card", caps.Card)
		return nil
	}

	pixfmts, err := h.Formats()
	if err != nil {
		c.logger.Warn("Failed to enumerate formats", "path", path, "error", err)
		return nil
	}

	var formats []Format
	for _, pf := range pixfmts {
		sizes, err := h.FrameSizes(pf.PixelFormat)
		if err != nil {
			c.logger.Warn("Failed to enumerate frame sizes", "path", path, "format", v4l2.FormatFourCC(pf.PixelFormat), "error", err)
			continue
		}

		for _, size := range sizes {
			if size.Kind != v4l2.KindDiscrete {
				c.logger.Debug("Skipping non-discrete frame size",
					"path", path,
					"format", v4l2.FormatFourCC(pf.PixelFormat),
					"kind", size.Kind.String(),
					"min", fmt.Sprintf("%dx%d", size.Width, size.Height),
					"max", fmt.Sprintf("%dx%d", size.MaxWidth, size.MaxHeight))
				continue
			}

			intervals, err := h.FrameIntervals(pf.PixelFormat, size.Width, size.Height)
			if err != nil {
				c.logger.Warn("Failed to enumerate frame intervals", "path", path, "format", v4l2.FormatFourCC(pf.PixelFormat), "error", err)
				continue
			}

			for _, iv := range intervals {
				if iv.Kind != v4l2.KindDiscrete {
					c.logger.Debug("Skipping non-discrete frame interval", "path", path, "kind", iv.Kind.String())
					continue
				}
				formats = append(formats, Format{
					Device:      path,
					Card:        caps.Card,
					Driver:      caps.Driver,
					PixelFormat: pf.PixelFormat,
					Width:       size.Width,
					Height:      size.Height,
					Numerator:   iv.Interval.Numerator,
					Denominator: iv.Interval.Denominator,
				})
			}
		}
	}

	return formats
}

// Strings returns the canonical string of every enumerated format.
func (c *Catalog) Strings() []string {
	formats := c.Enumerate()
	out := make([]string, len(formats))
	for i, f := range formats {
		out[i] = f.String()
	}
	return out
}

// IndexOf returns the position of the format whose canonical string is s.
func (c *Catalog) IndexOf(s string) (int, bool) {
	for i, f := range c.Enumerate() {
		if f.String() == s {
			return i, true
		}
	}
	return -1, false
}

// StringAt returns the canonical string at index i.
func (c *Catalog) StringAt(i int) (string, bool) {
	f, ok := c.FormatAt(i)
	if !ok {
		return "", false
	}
	return f.String(), true
}

// FormatAt returns the format at index i.
func (c *Catalog) FormatAt(i int) (Format, bool) {
	formats := c.Enumerate()
	if i < 0 || i >= len(formats) {
		return Format{}, false
	}
	return formats[i], true
}
