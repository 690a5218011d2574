package grabber

import (
	"sync"
	"time"
)

// Clock supplies the timestamps recorded with every persisted frame.
type Clock interface {
	SourceTimestamp() int64
	SoftwareTimestamp() int64
}

// SystemClock stamps frames with the monotonic nanoseconds elapsed since it
// was created and the wall-clock time in milliseconds since the Unix epoch.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock whose source timeline starts now.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// SourceTimestamp returns nanoseconds since the clock was created.
func (c *SystemClock) SourceTimestamp() int64 {
	return time.Since(c.start).Nanoseconds()
}

// SoftwareTimestamp returns milliseconds since the Unix epoch.
func (c *SystemClock) SoftwareTimestamp() int64 {
	return time.Now().UnixMilli()
}

// RecordNode supplies where and under which numbers a recording is stored.
type RecordNode interface {
	RecordingPath() string
	ExperimentNumber() int
	RecordingNumber() int
}

// LocalRecordNode is a RecordNode whose values are set by the caller.
type LocalRecordNode struct {
	mu         sync.RWMutex
	path       string
	experiment int
	recording  int
}

// NewLocalRecordNode creates a record node rooted at path, starting at
// experiment 1, recording 0.
func NewLocalRecordNode(path string) *LocalRecordNode {
	return &LocalRecordNode{path: path, experiment: 1}
}

// RecordingPath returns the session root directory.
func (n *LocalRecordNode) RecordingPath() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.path
}

// ExperimentNumber returns the current experiment number.
func (n *LocalRecordNode) ExperimentNumber() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.experiment
}

// RecordingNumber returns the current recording number.
func (n *LocalRecordNode) RecordingNumber() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.recording
}

// SetRecordingPath changes the session root directory.
func (n *LocalRecordNode) SetRecordingPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.path = path
}

// SetExperimentNumber changes the experiment number.
func (n *LocalRecordNode) SetExperimentNumber(v int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.experiment = v
}

// SetRecordingNumber changes the recording number.
func (n *LocalRecordNode) SetRecordingNumber(v int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recording = v
}
