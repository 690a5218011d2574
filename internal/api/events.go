package api

import (
	"context"
	"maps"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/metrics/exporters"
)

// eventTypes maps SSE event names to payloads for /api/events.
func eventTypes() map[string]any {
	types := map[string]any{
		"camera-started":     events.CameraStartedEvent{},
		"camera-stopped":     events.CameraStoppedEvent{},
		"recording-started":  events.RecordingStartedEvent{},
		"recording-stopped":  events.RecordingStoppedEvent{},
		"frame-write-failed": events.FrameWriteFailedEvent{},
		"device-removed":     events.DeviceRemovedEvent{},
		"settings-changed":   events.SettingsChangedEvent{},
	}
	maps.Copy(types, exporters.EventTypes())
	return types
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Event Stream",
		Description: "Camera, recording, write failure, hotplug and capture metric events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, eventTypes(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CameraStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CameraStoppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecordingStartedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecordingStoppedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.FrameWriteFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceRemovedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SettingsChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.CaptureMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		forward(ctx, eventCh, send)
	})
}

// forward sends events until the client goes away or a write fails.
func forward(ctx context.Context, ch <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := send.Data(ev); err != nil {
				return
			}
		}
	}
}
