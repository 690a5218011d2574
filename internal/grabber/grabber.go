// Package grabber ties a capture device, the capture loop and the frame
// writer together and exposes camera and recording control.
package grabber

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/metrics"
	"github.com/smazurov/framegrabber/internal/writer"
)

// Settings defaults.
const (
	DefaultImageQuality  = 25
	DefaultDirectoryName = "frames"
)

// Errors returned by Grabber.
var (
	ErrInvalidDirectoryName = errors.New("invalid directory name")
	ErrFormatIndex          = errors.New("format index out of range")
	ErrFormatNotFound       = errors.New("format not available")
)

// flushPoll is how often StopAndFlush checks the writer queue.
const flushPoll = 20 * time.Millisecond

// Camera stop reasons reported in CameraStoppedEvent.
const (
	StopRequested = "requested"
	StopReplaced  = "replaced"
	StopRemoved   = "removed"
	StopClosed    = "closed"
)

// FormatCatalog lists capture formats. *camera.Catalog satisfies it.
type FormatCatalog interface {
	Strings() []string
	IndexOf(s string) (int, bool)
	FormatAt(i int) (camera.Format, bool)
}

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Option configures a Grabber.
type Option func(*Grabber)

// WithCatalog sets the format catalog.
func WithCatalog(c FormatCatalog) Option {
	return func(g *Grabber) {
		g.catalog = c
	}
}

// WithDeviceOptions sets the options every capture device is created with.
func WithDeviceOptions(opts ...camera.DeviceOption) Option {
	return func(g *Grabber) {
		g.deviceOpts = opts
	}
}

// WithWriter sets the frame writer. The Grabber takes ownership of it.
func WithWriter(w *writer.Engine) Option {
	return func(g *Grabber) {
		g.writer = w
	}
}

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(g *Grabber) {
		g.clock = c
	}
}

// WithRecordNode sets where recordings go.
func WithRecordNode(n RecordNode) Option {
	return func(g *Grabber) {
		g.node = n
	}
}

// WithPreviewSink sets the live preview receiver.
func WithPreviewSink(p PreviewSink) Option {
	return func(g *Grabber) {
		g.preview = p
	}
}

// WithEventPublisher sets where lifecycle events are published.
func WithEventPublisher(p EventPublisher) Option {
	return func(g *Grabber) {
		g.publisher = p
	}
}

// WithReadTimeout sets how long one frame read may block. Values of zero
// or less keep the default.
func WithReadTimeout(d time.Duration) Option {
	return func(g *Grabber) {
		if d > 0 {
			g.readTimeout = d
		}
	}
}

// Stats is a snapshot of grabber state.
type Stats struct {
	CameraRunning   bool         `json:"camera_running"`
	Device          string       `json:"device,omitempty"`
	Format          string       `json:"format,omitempty"`
	FormatIndex     int          `json:"format_index"`
	FPS             float64      `json:"fps"`
	FramesCaptured  uint64       `json:"frames_captured"`
	FramesSubmitted uint64       `json:"frames_submitted"`
	Recording       bool         `json:"recording"`
	SessionID       string       `json:"session_id,omitempty"`
	WriteMode       string       `json:"write_mode"`
	Writer          writer.Stats `json:"writer"`
}

// Grabber owns one capture device at a time and the frame writer.
type Grabber struct {
	catalog     FormatCatalog
	deviceOpts  []camera.DeviceOption
	writer      *writer.Engine
	clock       Clock
	node        RecordNode
	preview     PreviewSink
	publisher   EventPublisher
	readTimeout time.Duration
	logger      *slog.Logger

	// lifecycle serializes camera and recording transitions.
	lifecycle sync.Mutex

	mu            sync.Mutex
	device        *camera.Device
	loop          *captureLoop
	format        camera.Format
	formatIndex   int
	quality       int
	colorMode     ColorMode
	writeMode     WriteMode
	resetCounter  bool
	directoryName string
	recording     bool
	sessionID     string
	startedFrames uint64

	frames    atomic.Uint64
	submitted atomic.Uint64
}

// New creates a Grabber with no camera open. The frame writer is started
// immediately and stays running until Close.
func New(opts ...Option) *Grabber {
	g := &Grabber{
		readTimeout:   ReadTimeout,
		logger:        logging.GetLogger("grabber"),
		formatIndex:   -1,
		quality:       DefaultImageQuality,
		colorMode:     ColorGray,
		writeMode:     WriteRecording,
		directoryName: DefaultDirectoryName,
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.catalog == nil {
		g.catalog = camera.NewCatalog(nil)
	}
	if g.clock == nil {
		g.clock = NewSystemClock()
	}
	if g.node == nil {
		g.node = NewLocalRecordNode(".")
	}
	if g.writer == nil {
		var wopts []writer.Option
		if g.publisher != nil {
			wopts = append(wopts, writer.WithEventPublisher(g.publisher))
		}
		g.writer = writer.New(wopts...)
	}

	g.writer.Start()
	return g
}

// Formats returns the canonical strings of every available capture format.
func (g *Grabber) Formats() []string {
	return g.catalog.Strings()
}

// StartCamera opens the format at index and starts capturing. A running
// camera is stopped first. On failure no device is left open.
func (g *Grabber) StartCamera(index int) error {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	return g.startCamera(index)
}

func (g *Grabber) startCamera(index int) error {
	g.stopCamera(StopReplaced)

	format, ok := g.catalog.FormatAt(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrFormatIndex, index)
	}

	dev := camera.NewDevice(format, g.deviceOpts...)
	if err := dev.Init(); err != nil {
		_ = dev.Stop()
		g.logger.Error("Could not open camera", "format", format.String(), "error", err)
		return err
	}
	if err := dev.Start(); err != nil {
		_ = dev.Stop()
		g.logger.Error("Could not start camera", "format", format.String(), "error", err)
		return err
	}

	loop := newCaptureLoop(dev, format.Device, g.readTimeout, g.handleFrame, g.logger.With("device", format.Device))

	g.mu.Lock()
	g.device = dev
	g.loop = loop
	g.format = format
	g.formatIndex = index
	g.startedFrames = g.frames.Load()
	mode := g.writeMode
	recording := g.recording
	g.mu.Unlock()

	switch {
	case mode == WriteAcquisition:
		g.beginSession()
	case mode == WriteRecording && recording && !g.writer.Stats().Active:
		g.beginSession()
	}

	metrics.SetStreaming(format.Device, true)
	loop.start()

	g.logger.Info("Camera started", "format", format.String(), "index", index)
	g.publish(events.CameraStartedEvent{
		Device:      format.Device,
		Format:      format.String(),
		FormatIndex: index,
		Timestamp:   time.Now().Format(time.RFC3339),
	})
	return nil
}

// StopCamera stops capturing and releases the device. It does nothing when
// no camera is open.
func (g *Grabber) StopCamera() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	g.stopCamera(StopRequested)
}

// StopAndFlush stops the camera like StopCamera but keeps the writer
// running until every queued frame is persisted or timeout elapses. It
// reports whether the queue emptied in time.
func (g *Grabber) StopAndFlush(timeout time.Duration) bool {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	mode := g.releaseCamera(StopRequested)

	deadline := time.Now().Add(timeout)
	flushed := true
	for g.writer.Stats().QueueDepth > 0 {
		if time.Now().After(deadline) {
			flushed = false
			break
		}
		time.Sleep(flushPoll)
	}

	if mode == WriteAcquisition {
		g.writer.SetActive(false)
	}
	return flushed
}

func (g *Grabber) stopCamera(reason string) {
	if g.releaseCamera(reason) == WriteAcquisition {
		g.writer.SetActive(false)
	}
}

// releaseCamera stops the capture loop and the device without touching the
// writer. It returns the write mode in effect.
func (g *Grabber) releaseCamera(reason string) WriteMode {
	g.mu.Lock()
	dev := g.device
	loop := g.loop
	format := g.format
	mode := g.writeMode
	frames := g.frames.Load() - g.startedFrames
	g.device = nil
	g.loop = nil
	g.format = camera.Format{}
	g.formatIndex = -1
	g.mu.Unlock()

	if dev == nil {
		return mode
	}

	if loop != nil && !loop.stop(StopTimeout) {
		g.logger.Warn("Capture loop did not exit in time", "device", format.Device, "timeout", StopTimeout)
	}
	if err := dev.Stop(); err != nil {
		g.logger.Warn("Error releasing camera", "device", format.Device, "error", err)
	}

	if p, ok := g.preview.(*LatestFrame); ok {
		p.Reset()
	}

	metrics.SetStreaming(format.Device, false)
	metrics.SetCaptureFPS(format.Device, 0)

	g.logger.Info("Camera stopped", "device", format.Device, "reason", reason, "frames", frames)
	g.publish(events.CameraStoppedEvent{
		Device:    format.Device,
		Reason:    reason,
		Frames:    frames,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	return mode
}

// IsCameraRunning reports whether a camera is open and streaming.
func (g *Grabber) IsCameraRunning() bool {
	g.mu.Lock()
	dev := g.device
	g.mu.Unlock()
	return dev != nil && dev.State() == camera.StateStreaming
}

// CurrentFormatIndex returns the catalog index of the open format, or -1.
func (g *Grabber) CurrentFormatIndex() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.formatIndex
}

// CurrentFormat returns the open format and whether a camera is open.
func (g *Grabber) CurrentFormat() (camera.Format, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.format, g.device != nil
}

// HandleDeviceRemoved stops the camera if it captures from path.
func (g *Grabber) HandleDeviceRemoved(path string) {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	active := g.device != nil && g.format.Device == path
	g.mu.Unlock()

	if active {
		g.logger.Warn("Capture device removed", "device", path)
		g.stopCamera(StopRemoved)
	}

	g.publish(events.DeviceRemovedEvent{
		DevicePath: path,
		Active:     active,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

// handleFrame runs on the capture goroutine for every frame read.
func (g *Grabber) handleFrame(frame *camera.Frame) {
	g.mu.Lock()
	quality := g.quality
	colorMode := g.colorMode
	mode := g.writeMode
	recording := g.recording
	g.mu.Unlock()

	var img image.Image = frame.Image
	if colorMode == ColorGray {
		img = toGray(img)
	}

	if ShouldPersist(mode, recording) {
		src := g.clock.SourceTimestamp()
		sw := g.clock.SoftwareTimestamp()
		if g.writer.Submit(img, src, sw, quality) {
			g.submitted.Add(1)
		}
	}

	if g.preview != nil {
		g.preview.ShowFrame(img)
	}

	g.frames.Add(1)
}

// SetImageQuality sets the JPEG quality, clamped to 1..100.
func (g *Grabber) SetImageQuality(q int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quality = writer.ClampQuality(q)
}

// ImageQuality returns the JPEG quality.
func (g *Grabber) ImageQuality() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quality
}

// SetColorMode sets the color mode of processed frames.
func (g *Grabber) SetColorMode(m ColorMode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidColorMode, int(m))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.colorMode = m
	return nil
}

// ColorMode returns the color mode.
func (g *Grabber) ColorMode() ColorMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.colorMode
}

// SetWriteMode changes which frames are persisted. Switching to Recording
// during a recording opens a session right away; otherwise the writer is
// activated or suspended only when a camera is open.
func (g *Grabber) SetWriteMode(m WriteMode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidWriteMode, int(m))
	}

	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	prev := g.writeMode
	g.writeMode = m
	running := g.device != nil
	recording := g.recording
	g.mu.Unlock()

	if prev == m {
		return nil
	}
	switch {
	case m == WriteRecording && recording:
		g.beginSession()
	case !running:
	case m == WriteAcquisition:
		g.beginSession()
	default:
		g.writer.SetActive(false)
	}
	return nil
}

// WriteMode returns the write mode.
func (g *Grabber) WriteMode() WriteMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.writeMode
}

// SetResetFrameCounter sets whether each recording restarts frame numbering.
func (g *Grabber) SetResetFrameCounter(enable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetCounter = enable
}

// ResetFrameCounter reports whether each recording restarts frame numbering.
func (g *Grabber) ResetFrameCounter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.resetCounter
}

// SetDirectoryName sets the session subdirectory name. Names that are empty,
// contain a path separator or refer to the current or parent directory are
// rejected and the previous name is kept.
func (g *Grabber) SetDirectoryName(name string) error {
	if err := ValidateDirectoryName(name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.directoryName = name
	return nil
}

// DirectoryName returns the session subdirectory name.
func (g *Grabber) DirectoryName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.directoryName
}

// ValidateDirectoryName checks that name is a single path element.
func ValidateDirectoryName(name string) error {
	switch {
	case strings.TrimSpace(name) == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidDirectoryName, name)
	case strings.ContainsRune(name, filepath.Separator), strings.ContainsRune(name, '/'), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidDirectoryName, name)
	}
	return nil
}

// FrameCount returns how many frames have been captured since creation.
func (g *Grabber) FrameCount() uint64 {
	return g.frames.Load()
}

// WrittenFrameCount returns the writer's frame counter.
func (g *Grabber) WrittenFrameCount() int64 {
	return g.writer.FrameCount()
}

// Stats returns a snapshot of grabber and writer state.
func (g *Grabber) Stats() Stats {
	g.mu.Lock()
	s := Stats{
		CameraRunning: g.device != nil,
		FormatIndex:   g.formatIndex,
		Recording:     g.recording,
		SessionID:     g.sessionID,
		WriteMode:     g.writeMode.String(),
	}
	if g.device != nil {
		s.Device = g.format.Device
		s.Format = g.format.String()
	}
	g.mu.Unlock()

	if s.Device != "" {
		if m := metrics.GetDeviceMetrics(s.Device); m != nil {
			s.FPS = m.FPS
		}
	}
	s.FramesCaptured = g.frames.Load()
	s.FramesSubmitted = g.submitted.Load()
	s.Writer = g.writer.Stats()
	return s
}

// ExportSettings returns the current settings in their persisted form.
func (g *Grabber) ExportSettings() config.Settings {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := config.Settings{
		ImageQuality:      g.quality,
		ColorMode:         int(g.colorMode),
		WriteMode:         int(g.writeMode),
		ResetFrameCounter: g.resetCounter,
		DirectoryName:     g.directoryName,
		Device:            config.DeviceSettings{API: config.DefaultAPI},
	}
	if g.device != nil {
		s.Device.Format = g.format.String()
	}
	return s
}

// ApplySettings applies s. Invalid values are skipped and reported in the
// returned error while the remaining values still apply. When the device
// format differs from the open one, the camera is restarted on it; a format
// that is not available leaves the camera as it is.
func (g *Grabber) ApplySettings(s config.Settings) error {
	var errs []error

	g.SetImageQuality(s.ImageQuality)
	if err := g.SetColorMode(ColorMode(s.ColorMode)); err != nil {
		errs = append(errs, err)
	}
	if err := g.SetWriteMode(WriteMode(s.WriteMode)); err != nil {
		errs = append(errs, err)
	}
	g.SetResetFrameCounter(s.ResetFrameCounter)
	if err := g.SetDirectoryName(s.DirectoryName); err != nil {
		g.logger.Warn("Ignoring directory name", "error", err, "kept", g.DirectoryName())
		errs = append(errs, err)
	}

	if api := s.Device.API; api != "" && !strings.EqualFold(api, config.DefaultAPI) {
		g.logger.Warn("Capture API not supported", "api", api)
		return errors.Join(errs...)
	}
	if s.Device.Format == "" {
		return errors.Join(errs...)
	}

	if current, open := g.CurrentFormat(); open && current.String() == s.Device.Format {
		return errors.Join(errs...)
	}

	index, ok := g.catalog.IndexOf(s.Device.Format)
	if !ok {
		g.logger.Warn("Configured format not available", "format", s.Device.Format)
		errs = append(errs, fmt.Errorf("%w: %q", ErrFormatNotFound, s.Device.Format))
		return errors.Join(errs...)
	}
	if err := g.StartCamera(index); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close stops the camera and the writer. Queued frames are discarded.
func (g *Grabber) Close() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.stopCamera(StopClosed)
	g.writer.Shutdown()
}

func (g *Grabber) publish(ev events.Event) {
	if g.publisher != nil {
		g.publisher.Publish(ev)
	}
}
