package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "frames_written_total",
		Help:      "Frames encoded and recorded in the ledger",
	})

	writeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "errors_total",
		Help:      "Frames that failed to persist, by failing stage",
	}, []string{"stage"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "queue_depth",
		Help:      "Frames waiting to be written",
	})

	queueDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "queue_dropped_total",
		Help:      "Frames evicted from a full queue",
	})

	framesDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "frames_discarded_total",
		Help:      "Queued frames discarded at shutdown",
	})

	recording = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "framegrabber",
		Subsystem: "writer",
		Name:      "recording",
		Help:      "Whether a recording session is active (1) or not (0)",
	})

	writerMu    sync.RWMutex
	writerStats WriterStats
)

// WriterStats holds current metric values for the frame writer.
type WriterStats struct {
	FramesWritten   uint64
	WriteErrors     uint64
	QueueDepth      int
	QueueDropped    uint64
	FramesDiscarded uint64
	Recording       bool
}

// IncFramesWritten counts one persisted frame.
func IncFramesWritten() {
	framesWritten.Inc()
	updateWriter(func(s *WriterStats) { s.FramesWritten++ })
}

// IncWriteErrors counts one frame that failed at stage.
func IncWriteErrors(stage string) {
	writeErrors.WithLabelValues(stage).Inc()
	updateWriter(func(s *WriterStats) { s.WriteErrors++ })
}

// SetQueueDepth records the number of frames waiting to be written.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
	updateWriter(func(s *WriterStats) { s.QueueDepth = n })
}

// IncQueueDropped counts one frame evicted from a full queue.
func IncQueueDropped() {
	queueDropped.Inc()
	updateWriter(func(s *WriterStats) { s.QueueDropped++ })
}

// AddFramesDiscarded counts n frames dropped at shutdown.
func AddFramesDiscarded(n int) {
	if n <= 0 {
		return
	}
	framesDiscarded.Add(float64(n))
	updateWriter(func(s *WriterStats) { s.FramesDiscarded += uint64(n) })
}

// SetRecording records whether a recording session is active.
func SetRecording(active bool) {
	v := 0.0
	if active {
		v = 1
	}
	recording.Set(v)
	updateWriter(func(s *WriterStats) { s.Recording = active })
}

// GetWriterMetrics returns a copy of the current writer values.
func GetWriterMetrics() WriterStats {
	writerMu.RLock()
	defer writerMu.RUnlock()
	return writerStats
}

func updateWriter(update func(*WriterStats)) {
	writerMu.Lock()
	defer writerMu.Unlock()
	update(&writerStats)
}
