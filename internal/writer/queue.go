package writer

import (
	"image"
	"sync"
)

// DefaultQueueCapacity is the number of frames held before the oldest is evicted.
const DefaultQueueCapacity = 256

// PendingFrame is a captured frame waiting to be written.
type PendingFrame struct {
	Image             image.Image
	SourceTimestamp   int64
	SoftwareTimestamp int64
	Quality           int
}

// Queue is a bounded FIFO of pending frames. When full, Push evicts the
// oldest frame to make room.
type Queue struct {
	mu      sync.Mutex
	frames  []PendingFrame
	head    int
	count   int
	dropped uint64
	ready   chan struct{}
}

// NewQueue creates a queue holding at most capacity frames. A capacity of
// zero or less selects DefaultQueueCapacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		frames: make([]PendingFrame, capacity),
		ready:  make(chan struct{}, 1),
	}
}

// Push appends f and reports whether an older frame was evicted.
func (q *Queue) Push(f PendingFrame) bool {
	q.mu.Lock()
	evicted := false
	if q.count == len(q.frames) {
		q.frames[q.head] = PendingFrame{}
		q.head = (q.head + 1) % len(q.frames)
		q.count--
		q.dropped++
		evicted = true
	}
	q.frames[(q.head+q.count)%len(q.frames)] = f
	q.count++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop removes and returns the oldest frame.
func (q *Queue) Pop() (PendingFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return PendingFrame{}, false
	}
	f := q.frames[q.head]
	q.frames[q.head] = PendingFrame{}
	q.head = (q.head + 1) % len(q.frames)
	q.count--
	return f, true
}

// Clear discards every queued frame and returns how many there were.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	clear(q.frames)
	q.head = 0
	q.count = 0
	return n
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return len(q.frames)
}

// Dropped returns how many frames have been evicted since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after a push. The signal may be stale.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
