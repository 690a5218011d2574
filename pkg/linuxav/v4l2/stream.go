//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Stream is an open V4L2 capture node.
// A Stream is not safe for concurrent use.
type Stream struct {
	path string
	fd   int
}

// OpenStream opens a device node for non-blocking capture.
func OpenStream(path string) (*Stream, error) {
	fd, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Stream{path: path, fd: fd}, nil
}

// Path returns the device node path.
func (s *Stream) Path() string {
	return s.path
}

// Close releases the file descriptor. It is safe to call more than once.
func (s *Stream) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := closeFd(s.fd)
	s.fd = -1
	return err
}

// SetFormat negotiates a progressive capture format and returns what the
// driver actually selected, which may differ from the request.
func (s *Stream) SetFormat(pixelFormat, width, height uint32) (PixFormat, error) {
	if s.fd < 0 {
		return PixFormat{}, ErrClosed
	}

	f := v4l2Format{typ: bufTypeVideoCapture}
	f.pix.width = width
	f.pix.height = height
	f.pix.pixelformat = pixelFormat
	f.pix.field = fieldNone

	if err := ioctlRetry(s.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("set format %s %dx%d: %w", FormatFourCC(pixelFormat), width, height, err)
	}

	return PixFormat{
		Width:        f.pix.width,
		Height:       f.pix.height,
		PixelFormat:  f.pix.pixelformat,
		BytesPerLine: f.pix.bytesperline,
		SizeImage:    f.pix.sizeimage,
	}, nil
}

// SetFrameInterval requests a time per frame of numerator/denominator seconds.
// It returns ErrTimePerFrameUnsupported when the driver does not advertise
// V4L2_CAP_TIMEPERFRAME, and otherwise the interval the driver applied.
func (s *Stream) SetFrameInterval(numerator, denominator uint32) (Framerate, error) {
	if s.fd < 0 {
		return Framerate{}, ErrClosed
	}

	parm := v4l2Streamparm{typ: bufTypeVideoCapture}
	if err := ioctlRetry(s.fd, vidiocGParm, unsafe.Pointer(&parm)); err != nil {
		return Framerate{}, fmt.Errorf("get stream parameters: %w", err)
	}

	if parm.capture.capability&capTimePerFrame == 0 {
		return Framerate{}, ErrTimePerFrameUnsupported
	}

	parm.capture.timeperframe = v4l2Fract{numerator: numerator, denominator: denominator}
	if err := ioctlRetry(s.fd, vidiocSParm, unsafe.Pointer(&parm)); err != nil {
		return Framerate{}, fmt.Errorf("set frame interval %d/%d: %w", numerator, denominator, err)
	}

	return Framerate{
		Numerator:   parm.capture.timeperframe.numerator,
		Denominator: parm.capture.timeperframe.denominator,
	}, nil
}

// RequestBuffers asks the driver for count memory-mapped buffers and returns
// how many it allocated. A count of zero frees all buffers.
func (s *Stream) RequestBuffers(count uint32) (uint32, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}

	req := v4l2Requestbuffers{
		count:  count,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}

	if err := ioctlRetry(s.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("request %d buffers: %w", count, err)
	}

	return req.count, nil
}

// MapBuffer queries buffer index and maps it into memory.
func (s *Stream) MapBuffer(index uint32) ([]byte, error) {
	if s.fd < 0 {
		return nil, ErrClosed
	}

	buf := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}

	if err := ioctlRetry(s.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return nil, fmt.Errorf("query buffer %d: %w", index, err)
	}

	mem, err := unix.Mmap(s.fd, int64(buf.offset), int(buf.length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d: %w", index, err)
	}

	return mem, nil
}

// UnmapBuffer releases memory returned by MapBuffer.
func (s *Stream) UnmapBuffer(mem []byte) error {
	return unix.Munmap(mem)
}

// QueueBuffer hands buffer index back to the driver.
func (s *Stream) QueueBuffer(index uint32) error {
	if s.fd < 0 {
		return ErrClosed
	}

	buf := v4l2Buffer{
		index:  index,
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}

	if err := ioctlRetry(s.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("queue buffer %d: %w", index, err)
	}
	return nil
}

// DequeueBuffer takes the oldest filled buffer from the driver.
// The returned Buffer is populated even when the error wraps EIO, since
// drivers may hand back a buffer alongside that error.
func (s *Stream) DequeueBuffer() (Buffer, error) {
	if s.fd < 0 {
		return Buffer{}, ErrClosed
	}

	buf := v4l2Buffer{
		typ:    bufTypeVideoCapture,
		memory: memoryMmap,
	}

	err := ioctl(s.fd, vidiocDqbuf, unsafe.Pointer(&buf))
	out := Buffer{
		Index:     buf.index,
		BytesUsed: buf.bytesused,
		Flags:     buf.flags,
		Sequence:  buf.sequence,
		Timestamp: time.Duration(buf.timestamp.Nano()),
	}
	if err != nil {
		return out, fmt.Errorf("dequeue buffer: %w", err)
	}
	return out, nil
}

// StreamOn starts capture.
func (s *Stream) StreamOn() error {
	return s.streamCtl(vidiocStreamOn)
}

// StreamOff stops capture and returns all buffers to the dequeued state.
func (s *Stream) StreamOff() error {
	return s.streamCtl(vidiocStreamOff)
}

func (s *Stream) streamCtl(req uint) error {
	if s.fd < 0 {
		return ErrClosed
	}

	typ := uint32(bufTypeVideoCapture)
	if err := ioctlRetry(s.fd, req, unsafe.Pointer(&typ)); err != nil {
		if req == vidiocStreamOn {
			return fmt.Errorf("stream on: %w", err)
		}
		return fmt.Errorf("stream off: %w", err)
	}
	return nil
}

// WaitReadable blocks until a buffer can be dequeued or the timeout expires.
// A timeout of zero or less waits forever. It reports false on timeout and
// when the wait is interrupted by a signal.
func (s *Stream) WaitReadable(timeout time.Duration) (bool, error) {
	if s.fd < 0 {
		return false, ErrClosed
	}

	fds := &unix.FdSet{}
	fds.Set(s.fd)

	var tv *unix.Timeval
	if timeout > 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	n, err := unix.Select(s.fd+1, fds, nil, nil, tv)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("select: %w", err)
	}

	return n > 0, nil
}
