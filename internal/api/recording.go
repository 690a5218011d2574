package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framegrabber/internal/api/models"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/events"
)

func (s *Server) registerRecordingRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "start-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/start",
		Summary:     "Start Recording",
		Description: "Begin a recording session. Path and numbers, when given, apply to this and later sessions.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.RecordingStartInput) (*models.RecordingResponse, error) {
		body := input.Body
		if body.Path != "" || body.ExperimentNumber != nil || body.RecordingNumber != nil {
			if s.opts.RecordNode == nil {
				return nil, huma.Error422UnprocessableEntity("Recording parameters cannot be changed on this server")
			}
			if body.Path != "" {
				s.opts.RecordNode.SetRecordingPath(body.Path)
			}
			if body.ExperimentNumber != nil {
				s.opts.RecordNode.SetExperimentNumber(*body.ExperimentNumber)
			}
			if body.RecordingNumber != nil {
				s.opts.RecordNode.SetRecordingNumber(*body.RecordingNumber)
			}
		}

		id := s.opts.Grabber.StartRecording()
		return &models.RecordingResponse{Body: s.recordingData(id)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recording",
		Method:      http.MethodPost,
		Path:        "/api/recording/stop",
		Summary:     "Stop Recording",
		Description: "End the recording session. Queued frames are written once the mode allows it again.",
		Tags:        []string{"recording"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.RecordingResponse, error) {
		s.opts.Grabber.StopRecording()
		return &models.RecordingResponse{Body: s.recordingData("")}, nil
	})
}

func (s *Server) recordingData(sessionID string) models.RecordingData {
	st := s.opts.Grabber.Stats()
	if sessionID == "" {
		sessionID = st.SessionID
	}
	return models.RecordingData{
		Recording: st.Recording,
		SessionID: sessionID,
		Directory: st.Writer.Destination,
		Written:   st.Writer.Written,
	}
}

func (s *Server) registerSettingsRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-settings",
		Method:      http.MethodGet,
		Path:        "/api/settings",
		Summary:     "Get Settings",
		Description: "Current grabber settings in their persisted form",
		Tags:        []string{"settings"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.SettingsResponse, error) {
		return &models.SettingsResponse{Body: s.opts.Grabber.ExportSettings()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "put-settings",
		Method:      http.MethodPut,
		Path:        "/api/settings",
		Summary:     "Update Settings",
		Description: "Apply settings and persist the resulting state. " +
			"Valid fields are applied even when others are rejected; the response reports the rejected ones.",
		Tags:     []string{"settings"},
		Security: withAuth(),
		Errors:   []int{401, 422, 500},
	}, func(_ context.Context, input *models.SettingsInput) (*models.SettingsResponse, error) {
		applyErr := s.opts.Grabber.ApplySettings(input.Body)
		current := s.opts.Grabber.ExportSettings()

		if s.opts.SettingsPath != "" {
			if err := config.SaveSettings(s.opts.SettingsPath, current); err != nil {
				return nil, huma.Error500InternalServerError("Failed to save settings", err)
			}
		}
		s.eventBus.Publish(events.SettingsChangedEvent{
			Source:    "api",
			Timestamp: time.Now().Format(time.RFC3339),
		})

		if applyErr != nil {
			return nil, huma.Error422UnprocessableEntity("Some settings were rejected", unwrapJoined(applyErr)...)
		}
		return &models.SettingsResponse{Body: current}, nil
	})
}

// unwrapJoined splits an errors.Join result so each failure is reported
// separately.
func unwrapJoined(err error) []error {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		return joined.Unwrap()
	}
	return []error{err}
}
