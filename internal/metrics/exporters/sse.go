package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/metrics"
)

// DefaultInterval is how often metrics are published.
const DefaultInterval = time.Second

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEOption configures an SSEExporter.
type SSEOption func(*SSEExporter)

// WithInterval sets the publish interval.
func WithInterval(d time.Duration) SSEOption {
	return func(s *SSEExporter) {
		if d > 0 {
			s.interval = d
		}
	}
}

// SSEExporter publishes a CaptureMetricsEvent per streaming device on every
// tick. While no device streams but the writer still has work (a session
// is open or frames are queued) it publishes one event with an empty Device
// so clients can follow the queue draining.
type SSEExporter struct {
	eventBus EventPublisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSSEExporter creates a stopped exporter.
func NewSSEExporter(eventBus EventPublisher, opts ...SSEOption) *SSEExporter {
	s := &SSEExporter{
		eventBus: eventBus,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the publish loop. It does nothing if already started.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the publish loop and waits for it. The exporter can be started again.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SSEExporter) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	w := metrics.GetWriterMetrics()

	streaming := 0
	for device, d := range metrics.GetAllDeviceMetrics() {
		if !d.Streaming {
			continue
		}
		streaming++
		ev := writerEvent(w)
		ev.Device = device
		ev.FPS = d.FPS
		ev.FramesCaptured = d.FramesCaptured
		ev.ReadErrors = d.ReadErrors
		s.eventBus.Publish(ev)
	}

	if streaming == 0 && (w.Recording || w.QueueDepth > 0) {
		s.eventBus.Publish(writerEvent(w))
	}
}

func writerEvent(w metrics.WriterStats) events.CaptureMetricsEvent {
	return events.CaptureMetricsEvent{
		EventType:     "capture_metrics",
		Recording:     w.Recording,
		FramesWritten: w.FramesWritten,
		WriteErrors:   w.WriteErrors,
		QueueDepth:    w.QueueDepth,
		QueueDropped:  w.QueueDropped,
	}
}

// EventTypes maps SSE event names to payload types for endpoint registration.
func EventTypes() map[string]any {
	return map[string]any{
		"capture-metrics": events.CaptureMetricsEvent{},
	}
}
