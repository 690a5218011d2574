package events

// Event type constants for kelindar/event.
const (
	TypeCameraStarted uint32 = iota + 1
	TypeCameraStopped
	TypeRecordingStarted
	TypeRecordingStopped
	TypeFrameWriteFailed
	TypeDeviceRemoved
	TypeCaptureMetrics
	TypeSettingsChanged
	TypeLogEntry
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// CameraStartedEvent is published once a capture device is streaming.
type CameraStartedEvent struct {
	Device      string `json:"device" example:"/dev/video0" doc:"Device node"`
	Format      string `json:"format" example:"/dev/video0 HD Webcam (YUYV) 640x480 1/30" doc:"Canonical format string"`
	FormatIndex int    `json:"format_index" example:"0" doc:"Index in the format catalog"`
	Timestamp   string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStartedEvent.
func (e CameraStartedEvent) Type() uint32 { return TypeCameraStarted }

// CameraStoppedEvent is published after the capture device is released.
type CameraStoppedEvent struct {
	Device    string `json:"device" example:"/dev/video0" doc:"Device node"`
	Reason    string `json:"reason" example:"requested" doc:"Why the camera stopped: requested, removed, replaced, error"`
	Frames    uint64 `json:"frames" example:"1200" doc:"Frames captured while running"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for CameraStoppedEvent.
func (e CameraStoppedEvent) Type() uint32 { return TypeCameraStopped }

// RecordingStartedEvent marks the beginning of a recording session.
type RecordingStartedEvent struct {
	SessionID        string `json:"session_id" doc:"Unique session identifier"`
	Directory        string `json:"directory" example:"/data/rec1/frames" doc:"Destination directory, empty if it could not be created"`
	ExperimentNumber int    `json:"experiment_number" example:"1" doc:"Experiment number"`
	RecordingNumber  int    `json:"recording_number" example:"3" doc:"Recording number"`
	WriteMode        string `json:"write_mode" example:"recording" doc:"Write mode in effect"`
	Timestamp        string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingStartedEvent.
func (e RecordingStartedEvent) Type() uint32 { return TypeRecordingStarted }

// RecordingStoppedEvent marks the end of a recording session.
type RecordingStoppedEvent struct {
	SessionID     string `json:"session_id" doc:"Unique session identifier"`
	FramesWritten uint64 `json:"frames_written" example:"900" doc:"Frames persisted since the writer started"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecordingStoppedEvent.
func (e RecordingStoppedEvent) Type() uint32 { return TypeRecordingStopped }

// FrameWriteFailedEvent reports a frame that could not be persisted.
type FrameWriteFailedEvent struct {
	FrameIndex int64  `json:"frame_index" example:"42" doc:"Counter value assigned to the frame"`
	Stage      string `json:"stage" example:"encode" doc:"Failing stage: encode or ledger"`
	Error      string `json:"error" doc:"Error description"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameWriteFailedEvent.
func (e FrameWriteFailedEvent) Type() uint32 { return TypeFrameWriteFailed }

// DeviceRemovedEvent is published when a video device node disappears.
type DeviceRemovedEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Removed device node"`
	Active     bool   `json:"active" doc:"Whether the removed device was capturing"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeviceRemovedEvent.
func (e DeviceRemovedEvent) Type() uint32 { return TypeDeviceRemoved }

// CaptureMetricsEvent is a periodic snapshot of capture and writer counters.
type CaptureMetricsEvent struct {
	EventType      string  `json:"type"`
	Device         string  `json:"device"`
	FPS            float64 `json:"fps"`
	FramesCaptured uint64  `json:"frames_captured"`
	ReadErrors     uint64  `json:"read_errors"`
	Recording      bool    `json:"recording"`
	FramesWritten  uint64  `json:"frames_written"`
	WriteErrors    uint64  `json:"write_errors"`
	QueueDepth     int     `json:"queue_depth"`
	QueueDropped   uint64  `json:"queue_dropped"`
}

// Type returns the event type identifier for CaptureMetricsEvent.
func (e CaptureMetricsEvent) Type() uint32 { return TypeCaptureMetrics }

// SettingsChangedEvent is published after settings are applied.
type SettingsChangedEvent struct {
	Source    string `json:"source" example:"file" doc:"Where the change came from: file or api"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SettingsChangedEvent.
func (e SettingsChangedEvent) Type() uint32 { return TypeSettingsChanged }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"writer" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }
