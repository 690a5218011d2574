package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/framegrabber/internal/api/models"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/logging"
)

// PublishLogs forwards every log entry to bus as a LogEntryEvent.
func PublishLogs(bus *events.Bus) {
	logging.SetLogCallback(func(e logging.LogEntry) {
		bus.Publish(toLogEvent(e))
	})
}

func toLogEvent(e logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        e.Seq,
		Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
		Level:      e.Level,
		Module:     e.Module,
		Message:    e.Message,
		Attributes: e.Attributes,
	}
}

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Entries from the in-memory log history",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		data := models.LogsData{Entries: []logging.LogEntry{}}
		if buffer := logging.GetBuffer(); buffer != nil {
			if entries := buffer.Since(input.Since, input.Limit); entries != nil {
				data.Entries = entries
			}
			data.LastSeq = buffer.LastSeq()
		}
		return &models.LogsResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/level",
		Summary:     "Set Log Level",
		Description: "Change the level of one logger module until the next restart",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401, 422},
	}, func(_ context.Context, input *models.LogLevelInput) (*models.LogLevelResponse, error) {
		if !logging.SetModuleLevel(input.Body.Module, input.Body.Level) {
			return nil, huma.Error422UnprocessableEntity("invalid log level: " + input.Body.Level)
		}
		s.logger.Info("Log level changed", "target_module", input.Body.Module, "level", input.Body.Level)
		return &models.LogLevelResponse{Body: models.LogLevelData{
			Module: input.Body.Module,
			Level:  input.Body.Level,
		}}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Buffered history followed by live log entries",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost;
		// the sequence number drops duplicates.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var last uint64
		if buffer := logging.GetBuffer(); buffer != nil {
			for _, e := range buffer.ReadAll() {
				if err := send.Data(toLogEvent(e)); err != nil {
					return
				}
				last = e.Seq
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-eventCh:
				if e, ok := ev.(events.LogEntryEvent); ok && e.Seq != 0 && e.Seq <= last {
					continue
				}
				if err := send.Data(ev); err != nil {
					return
				}
			}
		}
	})
}
