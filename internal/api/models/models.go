// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/grabber"
	"github.com/smazurov/framegrabber/internal/logging"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-09T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Device models
type DeviceInfo struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Device node"`
	DeviceName string `json:"device_name" example:"HD Webcam" doc:"Card name reported by the driver"`
	DeviceID   string `json:"device_id" example:"usb-046d_HD_Webcam-video-index0" doc:"Stable device identifier"`
	Caps       uint32 `json:"caps" doc:"V4L2 capability bits"`
}

type DeviceData struct {
	Devices []DeviceInfo `json:"devices" doc:"Video capture devices"`
	Count   int          `json:"count" example:"1" doc:"Number of devices"`
}

type DevicesResponse struct {
	Body DeviceData
}

// Format models
type FormatInfo struct {
	Index  int    `json:"index" example:"0" doc:"Index to pass to the camera start endpoint"`
	Format string `json:"format" example:"/dev/video0 HD Webcam (YUYV) 640x480 1/30" doc:"Canonical format string"`
}

type FormatData struct {
	Formats []FormatInfo `json:"formats" doc:"Capture formats, in enumeration order"`
	Count   int          `json:"count" example:"12" doc:"Number of formats"`
}

type FormatsResponse struct {
	Body FormatData
}

// Camera models
type CameraStartInput struct {
	Body struct {
		Index  *int   `json:"index,omitempty" minimum:"0" example:"0" doc:"Format index from the formats endpoint"`
		Format string `json:"format,omitempty" example:"/dev/video0 HD Webcam (YUYV) 640x480 1/30" doc:"Canonical format string, used when index is omitted"`
	}
}

type StatusResponse struct {
	Body grabber.Stats
}

// Recording models
type RecordingStartInput struct {
	Body struct {
		Path             string `json:"path,omitempty" example:"/data/recordings" doc:"Recording root directory"`
		ExperimentNumber *int   `json:"experiment_number,omitempty" minimum:"0" example:"1" doc:"Experiment number for file names and ledger rows"`
		RecordingNumber  *int   `json:"recording_number,omitempty" minimum:"0" example:"0" doc:"Recording number for file names and ledger rows"`
	}
}

type RecordingData struct {
	Recording bool   `json:"recording" example:"true" doc:"Whether a session is active"`
	SessionID string `json:"session_id,omitempty" example:"3f1c2b1e-8f0a-4c4e-9d55-3b7f2f0d9e11" doc:"Session identifier"`
	Directory string `json:"directory,omitempty" example:"/data/recordings/frames" doc:"Destination of written frames"`
	Written   uint64 `json:"frames_written" example:"1500" doc:"Frames written by the writer so far"`
}

type RecordingResponse struct {
	Body RecordingData
}

// Settings models
type SettingsResponse struct {
	Body config.Settings
}

type SettingsInput struct {
	Body config.Settings
}

// Preview models
type PreviewInput struct {
	Width   int `query:"width" minimum:"0" example:"320" doc:"Scale to this width, keeping the aspect ratio. 0 keeps the frame size"`
	Quality int `query:"quality" minimum:"0" maximum:"100" example:"80" doc:"JPEG quality, 0 for the default"`
}

type PreviewResponse struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	FrameSeq     string `header:"X-Frame-Seq"`
	Body         []byte
}

// Log models
type LogsInput struct {
	Since uint64 `query:"since" example:"120" doc:"Only return entries with a larger sequence number"`
	Limit int    `query:"limit" minimum:"0" maximum:"1000" example:"100" doc:"Return at most this many of the newest entries, 0 for all"`
}

type LogsData struct {
	Entries []logging.LogEntry `json:"entries" doc:"Log entries, oldest first"`
	LastSeq uint64             `json:"last_seq" example:"240" doc:"Sequence number of the newest buffered entry"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelInput struct {
	Body struct {
		Module string `json:"module" minLength:"1" example:"writer" doc:"Logger module name"`
		Level  string `json:"level" enum:"debug,info,warn,warning,error" example:"debug" doc:"New level"`
	}
}

type LogLevelData struct {
	Module string `json:"module" example:"writer"`
	Level  string `json:"level" example:"debug"`
}

type LogLevelResponse struct {
	Body LogLevelData
}
