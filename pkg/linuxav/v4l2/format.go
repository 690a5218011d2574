//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Capability runs VIDIOC_QUERYCAP on the stream.
func (s *Stream) Capability() (Capability, error) {
	if s.fd < 0 {
		return Capability{}, ErrClosed
	}

	c := v4l2Capability{}
	if err := ioctlRetry(s.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, fmt.Errorf("query capabilities: %w", err)
	}

	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

// Formats returns the capture pixel formats in driver order.
func (s *Stream) Formats() ([]FormatInfo, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}

	var formats []FormatInfo

	for i := uint32(0); ; i++ {
		fmtdesc := v4l2Fmtdesc{
			index: i,
			typ:   bufTypeVideoCapture,
		}

		if err := ioctlRetry(s.fd, vidiocEnumFmt, unsafe.Pointer(&fmtdesc)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			return nil, fmt.Errorf("failed to enumerate format %d: %w", i, err)
		}

		formats = append(formats, FormatInfo{
			PixelFormat: fmtdesc.pixelformat,
			FormatName:  cstr(fmtdesc.description[:]),
			Emulated:    fmtdesc.flags&fmtFlagEmulated != 0,
		})
	}

	return formats, nil
}

// FrameSizes returns the frame sizes for a pixel format in driver order.
// Stepwise and continuous ranges are reported as a single entry.
func (s *Stream) FrameSizes(pixelFormat uint32) ([]FrameSize, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}

	var sizes []FrameSize

	for i := uint32(0); ; i++ {
		frmsize := v4l2Frmsizeenum{
			index:       i,
			pixelFormat: pixelFormat,
		}

		if err := ioctlRetry(s.fd, vidiocEnumFramesizes, unsafe.Pointer(&frmsize)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			// ENOTTY means device doesn't support frame size enumeration
			if errors.Is(err, unix.ENOTTY) {
				return []FrameSize{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame size %d: %w", i, err)
		}

		switch EnumKind(frmsize.typ) {
		case KindDiscrete:
			w, h := frmsize.discrete()
			sizes = append(sizes, FrameSize{Kind: KindDiscrete, Width: w, Height: h})
		default:
			sw := frmsize.stepwise()
			sizes = append(sizes, FrameSize{
				Kind:      EnumKind(frmsize.typ),
				Width:     sw.minWidth,
				Height:    sw.minHeight,
				MaxWidth:  sw.maxWidth,
				MaxHeight: sw.maxHeight,
			})
			return sizes, nil // Only one stepwise entry
		}
	}

	return sizes, nil
}

// FrameIntervals returns the frame intervals for a format and size in driver order.
func (s *Stream) FrameIntervals(pixelFormat, width, height uint32) ([]FrameInterval, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}

	var intervals []FrameInterval

	for i := uint32(0); ; i++ {
		frmival := v4l2Frmivalenum{
			index:       i,
			pixelFormat: pixelFormat,
			width:       width,
			height:      height,
		}

		if err := ioctlRetry(s.fd, vidiocEnumFrameintervals, unsafe.Pointer(&frmival)); err != nil {
			if errors.Is(err, unix.EINVAL) {
				break // End of enumeration
			}
			if errors.Is(err, unix.ENOTTY) {
				return []FrameInterval{}, nil
			}
			return nil, fmt.Errorf("failed to enumerate frame interval %d: %w", i, err)
		}

		intervals = append(intervals, FrameInterval{
			Kind: EnumKind(frmival.typ),
			Interval: Framerate{
				Numerator:   frmival.discrete.numerator,
				Denominator: frmival.discrete.denominator,
			},
		})

		if EnumKind(frmival.typ) != KindDiscrete {
			return intervals, nil
		}
	}

	return intervals, nil
}

// FormatFourCC converts a pixel format code to its four character name.
// Only the low seven bits of each byte are used; a set bit 31 marks a
// big-endian variant and appends "-BE".
func FormatFourCC(format uint32) string {
	b := []byte{
		byte(format & 0x7f),
		byte((format >> 8) & 0x7f),
		byte((format >> 16) & 0x7f),
		byte((format >> 24) & 0x7f),
	}
	if format&(1<<31) != 0 {
		return string(b) + "-BE"
	}
	return string(b)
}
