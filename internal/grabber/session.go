package grabber

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/metrics"
	"github.com/smazurov/framegrabber/internal/writer"
)

// StartRecording begins a recording session. In Recording write mode the
// writer is pointed at a fresh session directory and resumed; in the other
// modes only the recording flag changes. Calling it during a session starts
// a new one. It returns the session ID.
func (g *Grabber) StartRecording() string {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	mode := g.writeMode
	g.mu.Unlock()

	var dest string
	if mode == WriteRecording {
		dest = g.beginSession()
	}

	id := uuid.New().String()

	g.mu.Lock()
	g.recording = true
	g.sessionID = id
	g.mu.Unlock()

	metrics.SetRecording(true)
	g.logger.Info("Recording started",
		"session_id", id,
		"write_mode", mode.String(),
		"directory", dest,
		"experiment", g.node.ExperimentNumber(),
		"recording", g.node.RecordingNumber())

	g.publish(events.RecordingStartedEvent{
		SessionID:        id,
		Directory:        dest,
		ExperimentNumber: g.node.ExperimentNumber(),
		RecordingNumber:  g.node.RecordingNumber(),
		WriteMode:        mode.String(),
		Timestamp:        time.Now().Format(time.RFC3339),
	})
	return id
}

// StopRecording ends the recording session. In Recording write mode the
// writer is suspended; queued frames stay queued until the next session.
func (g *Grabber) StopRecording() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()

	g.mu.Lock()
	if !g.recording {
		g.mu.Unlock()
		return
	}
	g.recording = false
	id := g.sessionID
	g.sessionID = ""
	mode := g.writeMode
	g.mu.Unlock()

	if mode == WriteRecording {
		g.writer.SetActive(false)
	}

	metrics.SetRecording(false)
	written := g.writer.Stats().Written
	g.logger.Info("Recording stopped", "session_id", id, "frames_written", written)

	g.publish(events.RecordingStoppedEvent{
		SessionID:     id,
		FramesWritten: written,
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

// IsRecording reports whether a recording session is active.
func (g *Grabber) IsRecording() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.recording
}

// SessionID returns the active session ID, or an empty string.
func (g *Grabber) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// beginSession suspends the writer, points it at the session directory under
// the record node's path and resumes it. When the directory cannot be
// created the writer resumes without a destination and writes nothing.
// It returns the destination, or an empty string.
func (g *Grabber) beginSession() string {
	g.mu.Lock()
	dirName := g.directoryName
	reset := g.resetCounter
	g.mu.Unlock()

	dest := filepath.Join(g.node.RecordingPath(), dirName)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		g.logger.Error("Failed to create frame directory, frames will not be saved", "path", dest, "error", err)
		dest = ""
	}

	g.writer.SetActive(false)
	if reset {
		g.writer.ResetCounter()
	}
	g.writer.SetDestination(dest)
	g.writer.SetExperimentNumber(g.node.ExperimentNumber())
	g.writer.SetRecordingNumber(g.node.RecordingNumber())
	if dest != "" {
		if err := g.writer.CreateLedger(writer.LedgerName); err != nil {
			g.logger.Error("Failed to create frame ledger", "path", dest, "error", err)
		}
	}
	g.writer.SetActive(true)

	return dest
}
