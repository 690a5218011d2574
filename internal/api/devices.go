package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/framegrabber/internal/api/models"
	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/grabber"
)

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List V4L2 capture nodes with stable identifiers",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(_ context.Context, _ *struct{}) (*models.DevicesResponse, error) {
		found, err := s.opts.Devices()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to enumerate devices", err)
		}

		devices := make([]models.DeviceInfo, 0, len(found))
		for _, d := range found {
			devices = append(devices, models.DeviceInfo{
				DevicePath: d.DevicePath,
				DeviceName: d.DeviceName,
				DeviceID:   d.DeviceID,
				Caps:       d.Caps,
			})
		}
		return &models.DevicesResponse{Body: models.DeviceData{Devices: devices, Count: len(devices)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-formats",
		Method:      http.MethodGet,
		Path:        "/api/formats",
		Summary:     "List Formats",
		Description: "Enumerate every supported (device, pixel format, size, frame rate) combination",
		Tags:        []string{"devices"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.FormatsResponse, error) {
		list := s.opts.Grabber.Formats()
		formats := make([]models.FormatInfo, len(list))
		for i, f := range list {
			formats[i] = models.FormatInfo{Index: i, Format: f}
		}
		return &models.FormatsResponse{Body: models.FormatData{Formats: formats, Count: len(formats)}}, nil
	})
}

func (s *Server) registerCameraRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Camera, recording and writer state",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		return &models.StatusResponse{Body: s.opts.Grabber.Stats()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-camera",
		Method:      http.MethodPost,
		Path:        "/api/camera/start",
		Summary:     "Start Camera",
		Description: "Open a capture format by index or canonical string. A running camera is stopped first.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422, 500},
	}, func(_ context.Context, input *models.CameraStartInput) (*models.StatusResponse, error) {
		index, err := s.resolveFormat(input.Body.Index, input.Body.Format)
		if err != nil {
			return nil, err
		}

		if err := s.opts.Grabber.StartCamera(index); err != nil {
			if errors.Is(err, grabber.ErrFormatIndex) {
				return nil, huma.Error404NotFound("Format index out of range", err)
			}
			var camErr *camera.Error
			if errors.As(err, &camErr) {
				return nil, huma.Error500InternalServerError("Failed to start camera: "+string(camErr.Code), err)
			}
			return nil, huma.Error500InternalServerError("Failed to start camera", err)
		}
		return &models.StatusResponse{Body: s.opts.Grabber.Stats()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-camera",
		Method:      http.MethodPost,
		Path:        "/api/camera/stop",
		Summary:     "Stop Camera",
		Description: "Stop capturing. Frames already queued are still written.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		s.opts.Grabber.StopCamera()
		return &models.StatusResponse{Body: s.opts.Grabber.Stats()}, nil
	})
}

// resolveFormat turns a start request into a catalog index.
func (s *Server) resolveFormat(index *int, format string) (int, error) {
	if index != nil {
		return *index, nil
	}
	if format == "" {
		return 0, huma.Error422UnprocessableEntity("Either index or format is required")
	}
	for i, f := range s.opts.Grabber.Formats() {
		if f == format {
			return i, nil
		}
	}
	return 0, huma.Error404NotFound("Format not found: " + format)
}
