package grabber

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// fakeCam is a capture node that produces a zeroed frame every interval.
type fakeCam struct {
	mu       sync.Mutex
	width    uint32
	height   uint32
	queued   []uint32
	seq      uint32
	interval time.Duration
}

func (c *fakeCam) SetFormat(pf, w, h uint32) (v4l2.PixFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.width, c.height = w, h
	return v4l2.PixFormat{Width: w, Height: h, PixelFormat: pf, BytesPerLine: w, SizeImage: w * h}, nil
}

func (c *fakeCam) SetFrameInterval(n, d uint32) (v4l2.Framerate, error) {
	return v4l2.Framerate{Numerator: n, Denominator: d}, nil
}

func (c *fakeCam) RequestBuffers(count uint32) (uint32, error) { return count, nil }

func (c *fakeCam) MapBuffer(uint32) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return make([]byte, c.width*c.height), nil
}

func (c *fakeCam) UnmapBuffer([]byte) error { return nil }

func (c *fakeCam) QueueBuffer(index uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queued = append(c.queued, index)
	return nil
}

func (c *fakeCam) DequeueBuffer() (v4l2.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queued) == 0 {
		return v4l2.Buffer{}, unix.EAGAIN
	}
	index := c.queued[0]
	c.queued = c.queued[1:]
	c.seq++
	return v4l2.Buffer{Index: index, BytesUsed: c.width * c.height, Sequence: c.seq}, nil
}

func (c *fakeCam) StreamOn() error  { return nil }
func (c *fakeCam) StreamOff() error { return nil }
func (c *fakeCam) Close() error     { return nil }

func (c *fakeCam) WaitReadable(time.Duration) (bool, error) {
	time.Sleep(c.interval)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queued) > 0, nil
}

func fakeOpener(path string) (camera.Handle, error) {
	if path == "/dev/video-missing" {
		return nil, errors.New("no such device")
	}
	return &fakeCam{interval: 2 * time.Millisecond}, nil
}

type fakeCatalog struct {
	formats []camera.Format
}

func (c *fakeCatalog) Strings() []string {
	out := make([]string, len(c.formats))
	for i, f := range c.formats {
		out[i] = f.String()
	}
	return out
}

func (c *fakeCatalog) IndexOf(s string) (int, bool) {
	for i, f := range c.formats {
		if f.String() == s {
			return i, true
		}
	}
	return -1, false
}

func (c *fakeCatalog) FormatAt(i int) (camera.Format, bool) {
	if i < 0 || i >= len(c.formats) {
		return camera.Format{}, false
	}
	return c.formats[i], true
}

func greyFormat(device string) camera.Format {
	return camera.Format{
		Device:      device,
		Card:        "Fake Cam",
		Driver:      "fake",
		PixelFormat: v4l2.PixFmtGREY,
		Width:       8,
		Height:      4,
		Numerator:   1,
		Denominator: 100,
	}
}

type fakeClock struct {
	mu sync.Mutex
	n  int64
}

func (c *fakeClock) SourceTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n * 1000
}

func (c *fakeClock) SoftwareTimestamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.events...)
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (s *countingSink) ShowFrame(_ image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type fixture struct {
	g       *Grabber
	node    *LocalRecordNode
	pub     *recordingPublisher
	preview *countingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		node:    NewLocalRecordNode(t.TempDir()),
		pub:     &recordingPublisher{},
		preview: &countingSink{},
	}
	f.g = New(
		WithCatalog(&fakeCatalog{formats: []camera.Format{
			greyFormat("/dev/video0"),
			greyFormat("/dev/video1"),
			greyFormat("/dev/video-missing"),
		}}),
		WithDeviceOptions(camera.WithOpener(fakeOpener)),
		WithClock(&fakeClock{}),
		WithRecordNode(f.node),
		WithPreviewSink(f.preview),
		WithEventPublisher(f.pub),
		WithReadTimeout(20*time.Millisecond),
	)
	t.Cleanup(f.g.Close)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
