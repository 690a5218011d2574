// Package writer persists captured frames as JPEG files plus a CSV timestamp
// ledger on a dedicated goroutine.
package writer

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/metrics"
)

// IdleInterval is how long the drain goroutine waits when there is nothing to do.
const IdleInterval = 10 * time.Millisecond

// dropLogEvery limits eviction warnings to one per this many evictions.
const dropLogEvery = 100

// ErrNoDestination is returned by CreateLedger before a destination is set.
var ErrNoDestination = errors.New("writer: no destination directory")

// Encoder writes img to w at the given JPEG quality.
type Encoder func(w io.Writer, img image.Image, quality int) error

// EncodeJPEG is the default Encoder.
func EncodeJPEG(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueueCapacity sets the frame queue bound.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		e.queue = NewQueue(n)
	}
}

// WithEncoder replaces the image encoder.
func WithEncoder(enc Encoder) Option {
	return func(e *Engine) {
		e.encode = enc
	}
}

// WithEventPublisher publishes a FrameWriteFailedEvent for every failed frame.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// Stats is a snapshot of engine state.
type Stats struct {
	Running     bool   `json:"running"`
	Active      bool   `json:"active"`
	Destination string `json:"destination"`
	Ledger      string `json:"ledger"`
	Experiment  int    `json:"experiment_number"`
	Recording   int    `json:"recording_number"`
	Counter     int64  `json:"frame_counter"`
	Written     uint64 `json:"frames_written"`
	Failed      uint64 `json:"frames_failed"`
	QueueDepth  int    `json:"queue_depth"`
	Dropped     uint64 `json:"queue_dropped"`
}

// Engine drains a Queue to disk. Session fields are individually atomic;
// callers that change several of them should SetActive(false) first and
// SetActive(true) afterwards so the drain goroutine never sees a mix.
type Engine struct {
	queue     *Queue
	encode    Encoder
	publisher EventPublisher
	logger    *slog.Logger

	mu          sync.Mutex
	running     bool
	active      bool
	destination string
	ledger      *Ledger
	experiment  int
	recording   int
	counter     int64
	written     uint64
	failed      uint64
	stop        chan struct{}
	done        chan struct{}
}

// job is a popped frame with the session state it will be written under.
type job struct {
	frame       PendingFrame
	counter     int64
	experiment  int
	recording   int
	destination string
	ledger      *Ledger
}

// New creates a stopped engine with experiment number 1 and recording number 0.
func New(opts ...Option) *Engine {
	e := &Engine{
		queue:      NewQueue(DefaultQueueCapacity),
		encode:     EncodeJPEG,
		logger:     logging.GetLogger("writer"),
		experiment: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the drain goroutine. Calling Start on a running engine does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.run(e.stop, e.done)

	e.logger.Debug("Frame writer started", "queue_capacity", e.queue.Cap())
}

// Shutdown stops the drain goroutine, discards queued frames and closes the
// ledger. A frame being written when Shutdown is called is completed first.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	done := e.done
	e.mu.Unlock()

	<-done

	if n := e.queue.Clear(); n > 0 {
		metrics.AddFramesDiscarded(n)
		e.logger.Warn("Discarded queued frames at shutdown", "count", n)
	}
	metrics.SetQueueDepth(0)

	e.mu.Lock()
	ledger := e.ledger
	e.ledger = nil
	e.mu.Unlock()

	if ledger != nil {
		if err := ledger.Close(); err != nil {
			e.logger.Warn("Failed to close ledger", "path", ledger.Path(), "error", err)
		}
	}

	e.logger.Debug("Frame writer stopped")
}

// Submit queues a private copy of img. It returns false when the engine is
// not running or img is nil.
func (e *Engine) Submit(img image.Image, sourceTs, softwareTs int64, quality int) bool {
	if img == nil {
		return false
	}
	frame := PendingFrame{
		Image:             CloneImage(img),
		SourceTimestamp:   sourceTs,
		SoftwareTimestamp: softwareTs,
		Quality:           ClampQuality(quality),
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return false
	}
	evicted := e.queue.Push(frame)
	e.mu.Unlock()

	if evicted {
		metrics.IncQueueDropped()
		if dropped := e.queue.Dropped(); dropped%dropLogEvery == 1 {
			e.logger.Warn("Frame queue full, dropping oldest frames", "dropped_total", dropped, "capacity", e.queue.Cap())
		}
	}
	metrics.SetQueueDepth(e.queue.Len())
	return true
}

// SetDestination sets the directory frames are written to. An empty path
// pauses writing.
func (e *Engine) SetDestination(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destination = dir
}

// SetExperimentNumber sets the experiment number used in file names and ledger rows.
func (e *Engine) SetExperimentNumber(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiment = n
}

// SetRecordingNumber sets the recording number used in file names and ledger rows.
func (e *Engine) SetRecordingNumber(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recording = n
}

// CreateLedger opens <destination>/<name>.csv as the ledger, replacing any
// previous one. An existing file is appended to.
func (e *Engine) CreateLedger(name string) error {
	if name == "" {
		name = LedgerName
	}

	e.mu.Lock()
	dest := e.destination
	e.mu.Unlock()

	if dest == "" {
		return ErrNoDestination
	}

	ledger, err := OpenLedger(filepath.Join(dest, name+".csv"))
	if err != nil {
		return err
	}

	e.mu.Lock()
	prev := e.ledger
	e.ledger = ledger
	e.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	e.logger.Debug("Ledger opened", "path", ledger.Path())
	return nil
}

// ResetCounter sets the frame counter back to zero.
func (e *Engine) ResetCounter() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter = 0
}

// SetActive enables or suspends draining. Frames keep queuing while suspended.
func (e *Engine) SetActive(active bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = active
}

// FrameCount returns the current frame counter, which counts attempted writes.
func (e *Engine) FrameCount() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	s := Stats{
		Running:     e.running,
		Active:      e.active,
		Destination: e.destination,
		Experiment:  e.experiment,
		Recording:   e.recording,
		Counter:     e.counter,
		Written:     e.written,
		Failed:      e.failed,
	}
	if e.ledger != nil {
		s.Ledger = e.ledger.Path()
	}
	e.mu.Unlock()

	s.QueueDepth = e.queue.Len()
	s.Dropped = e.queue.Dropped()
	return s
}

func (e *Engine) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		j, ok, idle := e.next()
		if ok {
			e.write(j)
			continue
		}

		wait := e.queue.Ready()
		if idle {
			wait = nil
		}
		select {
		case <-stop:
			return
		case <-wait:
		case <-time.After(IdleInterval):
		}
	}
}

// next pops a frame and assigns it the next counter value. idle reports that
// the engine is suspended or has nowhere to write.
func (e *Engine) next() (j job, ok, idle bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.active || e.destination == "" {
		return job{}, false, true
	}
	frame, ok := e.queue.Pop()
	if !ok {
		return job{}, false, false
	}

	e.counter++
	return job{
		frame:       frame,
		counter:     e.counter,
		experiment:  e.experiment,
		recording:   e.recording,
		destination: e.destination,
		ledger:      e.ledger,
	}, true, false
}

func (e *Engine) write(j job) {
	metrics.SetQueueDepth(e.queue.Len())

	name := fmt.Sprintf("frame_%010d_%d_%d.jpg", j.counter, j.experiment, j.recording)
	path := filepath.Join(j.destination, name)

	imageErr := e.writeImage(path, j.frame)
	if imageErr != nil {
		e.fail(j.counter, "encode", imageErr)
	}

	if j.ledger != nil {
		err := j.ledger.Append(Row{
			Counter:           j.counter,
			Recording:         j.recording,
			Experiment:        j.experiment,
			SourceTimestamp:   j.frame.SourceTimestamp,
			SoftwareTimestamp: j.frame.SoftwareTimestamp,
		})
		if err != nil {
			e.fail(j.counter, "ledger", err)
			return
		}
	}

	if imageErr == nil {
		e.mu.Lock()
		e.written++
		e.mu.Unlock()
		metrics.IncFramesWritten()
	}
}

// writeImage encodes into a temporary file next to path and renames it into
// place, so path either holds a complete image or does not exist.
func (e *Engine) writeImage(path string, f PendingFrame) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := e.encode(tmp, f.Image, f.Quality); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (e *Engine) fail(counter int64, stage string, err error) {
	e.mu.Lock()
	e.failed++
	e.mu.Unlock()

	metrics.IncWriteErrors(stage)
	e.logger.Error("Failed to write frame", "frame", counter, "stage", stage, "error", err)

	if e.publisher != nil {
		e.publisher.Publish(events.FrameWriteFailedEvent{
			FrameIndex: counter,
			Stage:      stage,
			Error:      err.Error(),
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	}
}
