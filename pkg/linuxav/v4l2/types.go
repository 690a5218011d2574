//go:build linux

package v4l2

import (
	"errors"
	"time"
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capability bits that apply to the opened node.
func (c Capability) Effective() uint32 {
	if c.Capabilities&capDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// IsVideoCapture reports whether the node can capture video.
func (c Capability) IsVideoCapture() bool {
	return c.Effective()&capVideoCapture != 0
}

// SupportsStreaming reports whether the node supports streaming I/O.
func (c Capability) SupportsStreaming() bool {
	return c.Effective()&capStreaming != 0
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a frame interval as a fraction of a second.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// EnumKind is the shape of a frame size or frame interval enumeration entry.
type EnumKind uint32

// Enumeration kinds.
const (
	KindDiscrete   EnumKind = 1
	KindContinuous EnumKind = 2
	KindStepwise   EnumKind = 3
)

func (k EnumKind) String() string {
	switch k {
	case KindDiscrete:
		return "discrete"
	case KindContinuous:
		return "continuous"
	case KindStepwise:
		return "stepwise"
	default:
		return "unknown"
	}
}

// FrameSize is one VIDIOC_ENUM_FRAMESIZES entry. Width and Height hold the
// discrete size, or the minimum for stepwise and continuous ranges.
type FrameSize struct {
	Kind      EnumKind
	Width     uint32
	Height    uint32
	MaxWidth  uint32
	MaxHeight uint32
}

// FrameInterval is one VIDIOC_ENUM_FRAMEINTERVALS entry. Interval holds the
// discrete value, or the minimum for stepwise and continuous ranges.
type FrameInterval struct {
	Kind     EnumKind
	Interval Framerate
}

// PixFormat is the format the driver accepted in VIDIOC_S_FMT.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// Buffer describes a dequeued capture buffer.
type Buffer struct {
	Index     uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
	Timestamp time.Duration
}

// ErrTimePerFrameUnsupported is returned when the driver cannot set a frame interval.
var ErrTimePerFrameUnsupported = errors.New("v4l2: device does not support time per frame")

// ErrClosed is returned for operations on a closed stream.
var ErrClosed = errors.New("v4l2: stream closed")

// Capability flags.
const (
	capVideoCapture = 0x00000001
	capStreaming    = 0x04000000
	capDeviceCaps   = 0x80000000
	capTimePerFrame = 0x1000
)

// Format flags.
const (
	fmtFlagEmulated = 0x0002
)

// Buffer flags reported by DequeueBuffer.
const (
	BufFlagMapped = 0x0001
	BufFlagError  = 0x0040
)

// Pixel formats understood by the capture pipeline.
const (
	PixFmtGREY  = 0x59455247 // 'GREY'
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtBGR24 = 0x33524742 // 'BGR3'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtJPEG  = 0x4745504A // 'JPEG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Buffer type, field order and memory model.
const (
	bufTypeVideoCapture = 1
	fieldNone           = 1
	memoryMmap          = 1
)
