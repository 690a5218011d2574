package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// fakeHandle emulates a V4L2 capture node with an in-memory buffer arena.
type fakeHandle struct {
	mu sync.Mutex

	bufSize       int
	granted       uint32
	selectFormat  uint32 // pixel format the "driver" picks; zero echoes the request
	setFormatErr  error
	setRateErr    error
	reqErr        error
	mapFailAt     int // -1 disables
	streamOnErr   error
	dequeueErr    error
	failedBuffer  bool // next dequeue returns a filled buffer together with EIO
	bytesPerLine  uint32
	pendingFrames [][]byte

	buffers   [][]byte
	driverQ   []uint32
	queued    map[uint32]int
	mapped    int
	unmapped  int
	streaming bool
	closed    bool
	streamOff int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		bufSize:   64,
		granted:   DefaultBufferCount,
		mapFailAt: -1,
		queued:    make(map[uint32]int),
	}
}

func (f *fakeHandle) opener() Opener {
	return func(string) (Handle, error) { return f, nil }
}

func (f *fakeHandle) push(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingFrames = append(f.pendingFrames, frame)
}

func (f *fakeHandle) SetFormat(pixelFormat, width, height uint32) (v4l2.PixFormat, error) {
	if f.setFormatErr != nil {
		return v4l2.PixFormat{}, f.setFormatErr
	}
	pf := pixelFormat
	if f.selectFormat != 0 {
		pf = f.selectFormat
	}
	return v4l2.PixFormat{Width: width, Height: height, PixelFormat: pf, BytesPerLine: f.bytesPerLine}, nil
}

func (f *fakeHandle) SetFrameInterval(numerator, denominator uint32) (v4l2.Framerate, error) {
	if f.setRateErr != nil {
		return v4l2.Framerate{}, f.setRateErr
	}
	return v4l2.Framerate{Numerator: numerator, Denominator: denominator}, nil
}

func (f *fakeHandle) RequestBuffers(count uint32) (uint32, error) {
	if f.reqErr != nil {
		return 0, f.reqErr
	}
	if f.granted < count {
		return f.granted, nil
	}
	return count, nil
}

func (f *fakeHandle) MapBuffer(index uint32) ([]byte, error) {
	if int(index) == f.mapFailAt {
		return nil, errors.New("mmap failed")
	}
	mem := make([]byte, f.bufSize)
	f.buffers = append(f.buffers, mem)
	f.mapped++
	return mem, nil
}

func (f *fakeHandle) UnmapBuffer([]byte) error {
	f.unmapped++
	return nil
}

func (f *fakeHandle) QueueBuffer(index uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driverQ = append(f.driverQ, index)
	f.queued[index]++
	return nil
}

func (f *fakeHandle) DequeueBuffer() (v4l2.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dequeueErr != nil {
		return v4l2.Buffer{}, f.dequeueErr
	}
	if len(f.driverQ) == 0 || len(f.pendingFrames) == 0 {
		return v4l2.Buffer{}, errAgain
	}
	idx := f.driverQ[0]
	f.driverQ = f.driverQ[1:]
	frame := f.pendingFrames[0]
	f.pendingFrames = f.pendingFrames[1:]
	n := copy(f.buffers[idx], frame)
	buf := v4l2.Buffer{Index: idx, BytesUsed: uint32(n), Flags: v4l2.BufFlagMapped, Sequence: uint32(f.queued[idx])}
	if f.failedBuffer {
		f.failedBuffer = false
		buf.Flags |= v4l2.BufFlagError
		return buf, fmt.Errorf("dequeue buffer: %w", unix.EIO)
	}
	return buf, nil
}

func (f *fakeHandle) StreamOn() error {
	if f.streamOnErr != nil {
		return f.streamOnErr
	}
	f.streaming = true
	return nil
}

func (f *fakeHandle) StreamOff() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streaming = false
	f.streamOff++
	f.driverQ = nil
	return nil
}

func (f *fakeHandle) WaitReadable(time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dequeueErr != nil || (len(f.driverQ) > 0 && len(f.pendingFrames) > 0), nil
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

func (f *fakeHandle) driverOwned() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.driverQ)
}

// fakeNode describes one device for fakeInspector.
type fakeNode struct {
	caps      v4l2.Capability
	capsErr   error
	formats   []v4l2.FormatInfo
	sizes     map[uint32][]v4l2.FrameSize
	intervals map[v4l2.Resolution][]v4l2.FrameInterval
}

type fakeInfoHandle struct {
	node   *fakeNode
	closed *int
}

func (h fakeInfoHandle) Capability() (v4l2.Capability, error) {
	return h.node.caps, h.node.capsErr
}

func (h fakeInfoHandle) Formats() ([]v4l2.FormatInfo, error) {
	return h.node.formats, nil
}

func (h fakeInfoHandle) FrameSizes(pixelFormat uint32) ([]v4l2.FrameSize, error) {
	return h.node.sizes[pixelFormat], nil
}

func (h fakeInfoHandle) FrameIntervals(_, width, height uint32) ([]v4l2.FrameInterval, error) {
	return h.node.intervals[v4l2.Resolution{Width: width, Height: height}], nil
}

func (h fakeInfoHandle) Close() error {
	*h.closed++
	return nil
}

type fakeInspector struct {
	nodes  map[string]*fakeNode
	closed int
}

func (p *fakeInspector) Inspect(path string) (InfoHandle, error) {
	n, ok := p.nodes[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fakeInfoHandle{node: n, closed: &p.closed}, nil
}
