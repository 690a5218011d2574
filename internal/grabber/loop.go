package grabber

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/metrics"
)

// Capture loop timing.
const (
	ReadTimeout  = 500 * time.Millisecond
	ErrorBackoff = 50 * time.Millisecond
	StopTimeout  = time.Second
)

// errorLogEvery limits repeated read error logs while a device keeps failing.
const errorLogEvery = 100

// fpsWindow is the interval over which the capture rate is measured.
const fpsWindow = time.Second

type frameReader interface {
	ReadFrame(timeout time.Duration) (*camera.Frame, error)
}

// captureLoop reads frames on its own goroutine until stopped.
type captureLoop struct {
	reader      frameReader
	device      string
	readTimeout time.Duration
	handle      func(*camera.Frame)
	logger      *slog.Logger

	running atomic.Bool
	done    chan struct{}

	windowStart time.Time
	windowCount int
}

func newCaptureLoop(reader frameReader, device string, readTimeout time.Duration, handle func(*camera.Frame), logger *slog.Logger) *captureLoop {
	return &captureLoop{
		reader:      reader,
		device:      device,
		readTimeout: readTimeout,
		handle:      handle,
		logger:      logger,
		done:        make(chan struct{}),
	}
}

func (l *captureLoop) start() {
	l.running.Store(true)
	go l.run()
}

// stop clears the running flag and waits up to timeout for the goroutine to
// exit. It reports whether the goroutine exited in time.
func (l *captureLoop) stop(timeout time.Duration) bool {
	l.running.Store(false)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}

func (l *captureLoop) run() {
	defer close(l.done)

	consecutiveErrors := 0
	l.windowStart = time.Now()

	for l.running.Load() {
		frame, err := l.reader.ReadFrame(l.readTimeout)
		if err != nil {
			consecutiveErrors++
			metrics.IncReadErrors(l.device)
			if consecutiveErrors%errorLogEvery == 1 {
				l.logger.Warn("Frame read failed", "error", err, "consecutive", consecutiveErrors)
			}
			time.Sleep(ErrorBackoff)
			continue
		}
		if frame == nil {
			continue
		}
		if consecutiveErrors > 0 {
			l.logger.Info("Frame reads recovered", "failed_reads", consecutiveErrors)
			consecutiveErrors = 0
		}

		l.handle(frame)
		metrics.IncFramesCaptured(l.device)
		l.tick(time.Now())
	}
}

// tick counts a frame and publishes the rate once per window.
func (l *captureLoop) tick(now time.Time) {
	l.windowCount++
	elapsed := now.Sub(l.windowStart)
	if elapsed < fpsWindow {
		return
	}
	metrics.SetCaptureFPS(l.device, float64(l.windowCount)/elapsed.Seconds())
	l.windowStart = now
	l.windowCount = 0
}
