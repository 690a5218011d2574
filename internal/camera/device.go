package camera

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/metrics"
	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// DefaultBufferCount is the number of mmap buffers requested from the driver.
const DefaultBufferCount = 4

// minBufferCount is the fewest buffers streaming can work with.
const minBufferCount = 2

// State is the lifecycle stage of a Device.
type State int32

// Device states.
const (
	StateClosed State = iota
	StateInitialized
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateInitialized:
		return "initialized"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handle is the device I/O a Device needs. *v4l2.Stream satisfies it.
type Handle interface {
	SetFormat(pixelFormat, width, height uint32) (v4l2.PixFormat, error)
	SetFrameInterval(numerator, denominator uint32) (v4l2.Framerate, error)
	RequestBuffers(count uint32) (uint32, error)
	MapBuffer(index uint32) ([]byte, error)
	UnmapBuffer(mem []byte) error
	QueueBuffer(index uint32) error
	DequeueBuffer() (v4l2.Buffer, error)
	StreamOn() error
	StreamOff() error
	WaitReadable(timeout time.Duration) (bool, error)
	Close() error
}

// Opener opens a device node.
type Opener func(path string) (Handle, error)

// OpenV4L2 opens a real device node.
func OpenV4L2(path string) (Handle, error) {
	s, err := v4l2.OpenStream(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Frame is one decoded capture.
type Frame struct {
	Image     image.Image
	Sequence  uint32
	Timestamp time.Duration // driver timestamp, CLOCK_MONOTONIC based
}

// DeviceOption configures a Device.
type DeviceOption func(*Device)

// WithOpener replaces the function used to open the device node.
func WithOpener(open Opener) DeviceOption {
	return func(d *Device) {
		d.open = open
	}
}

// WithBufferCount sets how many buffers to request.
func WithBufferCount(n uint32) DeviceOption {
	return func(d *Device) {
		d.bufferCount = n
	}
}

// Device streams frames from one capture format.
//
// Lifecycle: Init (Closed -> Initialized), Start (Initialized -> Streaming),
// Stop (any -> Closed). ReadFrame may run on another goroutine than the
// lifecycle calls.
type Device struct {
	format      Format
	open        Opener
	bufferCount uint32
	logger      *slog.Logger

	mu     sync.Mutex
	state  State
	handle Handle
	pool   *bufferPool
	layout Layout
}

// NewDevice creates a closed device for format.
func NewDevice(format Format, opts ...DeviceOption) *Device {
	d := &Device{
		format:      format,
		open:        OpenV4L2,
		bufferCount: DefaultBufferCount,
		logger:      logging.GetLogger("camera").With("device", format.Device),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Format returns the requested format.
func (d *Device) Format() Format {
	return d.format
}

// State returns the current lifecycle state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Init opens the device, negotiates the format and frame interval, and maps
// the capture buffers. On failure the device is left Closed with nothing held.
func (d *Device) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateClosed {
		return newError(CodeDeviceOpen, fmt.Sprintf("device already %s", d.state), nil)
	}

	h, err := d.open(d.format.Device)
	if err != nil {
		return newError(CodeDeviceOpen, d.format.Device, err)
	}

	layout, err := d.negotiate(h)
	if err != nil {
		_ = h.Close()
		return err
	}

	count, err := h.RequestBuffers(d.bufferCount)
	if err != nil {
		_ = h.Close()
		return newError(CodeBufferAllocation, "request buffers", err)
	}
	if count < minBufferCount {
		_ = h.Close()
		return newError(CodeBufferAllocation, fmt.Sprintf("driver granted %d buffers", count), nil)
	}

	pool, err := mapBuffers(h, count)
	if err != nil {
		_ = h.Close()
		return newError(CodeBufferAllocation, "map buffers", err)
	}

	d.handle = h
	d.pool = pool
	d.layout = layout
	d.state = StateInitialized

	d.logger.Info("Capture device initialized",
		"format", d.format.FourCC(),
		"width", layout.Width,
		"height", layout.Height,
		"fps", d.format.FPS(),
		"buffers", count)

	return nil
}

func (d *Device) negotiate(h Handle) (Layout, error) {
	f := d.format

	pf, err := h.SetFormat(f.PixelFormat, f.Width, f.Height)
	if err != nil {
		return Layout{}, newError(CodeFormatNegotiation, f.String(), err)
	}
	if pf.PixelFormat != f.PixelFormat {
		return Layout{}, newError(CodeFormatNegotiation,
			fmt.Sprintf("driver selected %s instead of %s", v4l2.FormatFourCC(pf.PixelFormat), f.FourCC()), nil)
	}
	if pf.Width != f.Width || pf.Height != f.Height {
		d.logger.Warn("Driver adjusted frame size",
			"requested", fmt.Sprintf("%dx%d", f.Width, f.Height),
			"selected", fmt.Sprintf("%dx%d", pf.Width, pf.Height))
	}

	if _, err := h.SetFrameInterval(f.Numerator, f.Denominator); err != nil {
		return Layout{}, newError(CodeFrameRateUnsupported, fmt.Sprintf("%d/%d", f.Numerator, f.Denominator), err)
	}

	return Layout{
		PixelFormat:  pf.PixelFormat,
		Width:        int(pf.Width),
		Height:       int(pf.Height),
		BytesPerLine: int(pf.BytesPerLine),
	}, nil
}

// Start queues every buffer and turns streaming on.
func (d *Device) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateStreaming:
		return nil
	case StateClosed:
		return newError(CodeStreamStart, "device not initialized", nil)
	}

	if err := d.pool.queueAll(d.handle); err != nil {
		return newError(CodeStreamStart, "queue buffers", err)
	}
	if err := d.handle.StreamOn(); err != nil {
		return newError(CodeStreamStart, "stream on", err)
	}

	d.state = StateStreaming
	return nil
}

// ReadFrame waits up to timeout for the next frame. A timeout of zero or
// less waits indefinitely. It returns (nil, nil) when the device is not
// streaming, when no frame arrived in time, and when a frame could not be
// decoded.
func (d *Device) ReadFrame(timeout time.Duration) (*Frame, error) {
	d.mu.Lock()
	if d.state != StateStreaming {
		d.mu.Unlock()
		return nil, nil
	}
	h := d.handle
	d.mu.Unlock()

	ready, waitErr := h.WaitReadable(timeout)

	raw, buf, layout, err := d.dequeue(h, ready, waitErr)
	if err != nil || raw == nil {
		return nil, err
	}

	img, err := Decode(layout, raw)
	if err != nil {
		metrics.IncDecodeErrors(v4l2.FormatFourCC(layout.PixelFormat))
		d.logger.Warn("Dropping frame", "sequence", buf.Sequence, "error", err)
		return nil, nil
	}

	return &Frame{
		Image:     img,
		Sequence:  buf.Sequence,
		Timestamp: buf.Timestamp,
	}, nil
}

// dequeue copies the next filled buffer out of the arena and hands the slot
// back to the driver. A nil slice with a nil error means no frame.
func (d *Device) dequeue(h Handle, ready bool, waitErr error) ([]byte, v4l2.Buffer, Layout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Stop may have run while we were waiting.
	if d.state != StateStreaming || d.handle != h {
		return nil, v4l2.Buffer{}, Layout{}, nil
	}
	if waitErr != nil {
		return nil, v4l2.Buffer{}, Layout{}, newError(CodeHardwareRead, "wait for frame", waitErr)
	}
	if !ready {
		return nil, v4l2.Buffer{}, Layout{}, nil
	}

	buf, err := h.DequeueBuffer()
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			return nil, v4l2.Buffer{}, Layout{}, nil
		case errors.Is(err, unix.EIO) && buf.Flags&v4l2.BufFlagMapped != 0:
			// The buffer still came back; its slot must be requeued.
		default:
			return nil, v4l2.Buffer{}, Layout{}, newError(CodeHardwareRead, "dequeue buffer", err)
		}
	}

	mem, err := d.pool.take(buf.Index)
	if err != nil {
		return nil, v4l2.Buffer{}, Layout{}, newError(CodeHardwareRead, "dequeue buffer", err)
	}

	n := int(buf.BytesUsed)
	if n > len(mem) {
		n = len(mem)
	}
	raw := make([]byte, n)
	copy(raw, mem[:n])

	if err := d.pool.requeue(h, buf.Index); err != nil {
		return nil, v4l2.Buffer{}, Layout{}, newError(CodeHardwareRead, "requeue buffer", err)
	}

	return raw, buf, d.layout, nil
}

// Stop turns streaming off, unmaps the buffers and closes the device. It is
// safe on a device in any state and safe to call repeatedly.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle == nil {
		d.state = StateClosed
		return nil
	}

	var errs []error
	if d.state == StateStreaming {
		if err := d.handle.StreamOff(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.pool != nil {
		d.pool.reclaim()
		if err := d.pool.unmap(d.handle); err != nil {
			errs = append(errs, err)
		}
	}
	if err := d.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}

	d.handle = nil
	d.pool = nil
	d.state = StateClosed

	if err := errors.Join(errs...); err != nil {
		d.logger.Warn("Errors while stopping capture device", "error", err)
		return err
	}

	d.logger.Info("Capture device stopped")
	return nil
}
