// Package api exposes the grabber over HTTP with huma.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/framegrabber/internal/api/models"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/grabber"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/version"
	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

// Controller is the part of *grabber.Grabber the API drives.
type Controller interface {
	Formats() []string
	StartCamera(index int) error
	StopCamera()
	Stats() grabber.Stats
	StartRecording() string
	StopRecording()
	ExportSettings() config.Settings
	ApplySettings(s config.Settings) error
}

// RecordNode lets a recording request override where and under which
// numbers frames are written. *grabber.LocalRecordNode satisfies it.
type RecordNode interface {
	RecordingPath() string
	SetRecordingPath(path string)
	SetExperimentNumber(n int)
	SetRecordingNumber(n int)
}

// FrameSource returns the most recent preview frame.
type FrameSource interface {
	Frame() (img image.Image, at time.Time, seq uint64)
}

// DeviceLister enumerates capture nodes.
type DeviceLister func() ([]v4l2.DeviceInfo, error)

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string

	Grabber    Controller
	RecordNode RecordNode
	Preview    FrameSource
	EventBus   *events.Bus
	Devices    DeviceLister

	// SettingsPath is where PUT /api/settings persists. Empty disables saving.
	SettingsPath string

	// PrometheusHandler is mounted at /metrics when set.
	PrometheusHandler http.Handler
}

// Server is the HTTP API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	opts       *Options
	eventBus   *events.Bus
	logger     *slog.Logger
}

// NewServer builds the API and registers every route.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	cors := DefaultCORSConfig()
	AddCORSHandler(mux, cors)

	cfg := huma.DefaultConfig("FrameGrabber API", version.String())
	cfg.Info.Description = "Control a V4L2 frame grabber and its JPEG recorder"
	cfg.Servers = []*huma.Server{}
	cfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {Type: "http", Scheme: "basic"},
	}

	api := humago.New(mux, cfg)

	s := &Server{
		api:      api,
		mux:      mux,
		opts:     opts,
		eventBus: opts.EventBus,
		logger:   logging.GetLogger("api"),
	}
	if s.eventBus == nil {
		s.eventBus = events.New()
	}
	if s.opts.Devices == nil {
		s.opts.Devices = v4l2.FindDevices
	}

	api.UseMiddleware(NewCORSMiddleware(cors))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(s.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	s.registerRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// API returns the huma API, mainly for OpenAPI generation.
func (s *Server) API() huma.API {
	return s.api
}

// Start serves on addr until Stop is called. It returns http.ErrServerClosed
// after a clean stop.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, including SSE streams.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping API server")
	if err := s.httpServer.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{Body: models.HealthData{Status: "ok", Message: "API is healthy"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{Body: models.VersionData{
			Version:   v.Version,
			GitCommit: v.GitCommit,
			BuildDate: v.BuildDate,
			BuildID:   v.BuildID,
			GoVersion: v.GoVersion,
			Compiler:  v.Compiler,
			Platform:  v.Platform,
		}}, nil
	})

	s.registerDeviceRoutes()
	s.registerCameraRoutes()
	s.registerRecordingRoutes()
	s.registerSettingsRoutes()
	s.registerPreviewRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLogRoutes()
}

// withAuth returns the basic auth security requirement.
func withAuth() []map[string][]string {
	return []map[string][]string{{"basicAuth": {}}}
}

// basicAuthMiddleware rejects requests to secured operations without valid
// credentials. EventSource cannot set headers, so SSE clients may pass
// base64("user:pass") in the auth query parameter instead.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	deny := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", `Basic realm="FrameGrabber API"`)
		_ = huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		var encoded string
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				deny(ctx, "Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		} else {
			encoded = ctx.Query("auth")
		}
		if encoded == "" {
			deny(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			deny(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			deny(ctx, "Invalid credentials format")
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			deny(ctx, "Invalid credentials")
			return
		}

		next(ctx)
	}
}
