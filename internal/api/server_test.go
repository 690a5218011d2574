package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/grabber"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/writer"
	"github.com/smazurov/framegrabber/pkg/linuxav/v4l2"
)

type fakeController struct {
	mu         sync.Mutex
	formats    []string
	started    []int
	startErr   error
	stopped    int
	recording  bool
	settings   config.Settings
	applyErr   error
	stats      grabber.Stats
	sessionSeq int
}

func newFakeController() *fakeController {
	return &fakeController{
		formats: []string{
			"/dev/video0 Fake Cam (YUYV) 640x480 1/30",
			"/dev/video0 Fake Cam (MJPG) 1280x720 1/30",
		},
		settings: config.DefaultSettings(),
	}
}

func (f *fakeController) Formats() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.formats
}

func (f *fakeController) StartCamera(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if index < 0 || index >= len(f.formats) {
		return fmt.Errorf("%w: %d", grabber.ErrFormatIndex, index)
	}
	f.started = append(f.started, index)
	f.stats.CameraRunning = true
	f.stats.FormatIndex = index
	f.stats.Format = f.formats[index]
	return nil
}

func (f *fakeController) StopCamera() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	f.stats.CameraRunning = false
	f.stats.FormatIndex = -1
}

func (f *fakeController) Stats() grabber.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeController) StartRecording() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionSeq++
	f.recording = true
	f.stats.Recording = true
	f.stats.SessionID = fmt.Sprintf("session-%d", f.sessionSeq)
	f.stats.Writer.Destination = "/data/frames"
	return f.stats.SessionID
}

func (f *fakeController) StopRecording() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recording = false
	f.stats.Recording = false
	f.stats.SessionID = ""
	f.stats.Writer.Written = 42
}

func (f *fakeController) ExportSettings() config.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeController) ApplySettings(s config.Settings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		s.DirectoryName = f.settings.DirectoryName
	}
	s.ImageQuality = writer.ClampQuality(s.ImageQuality)
	f.settings = s
	return f.applyErr
}

type fakeFrames struct {
	img image.Image
}

func (f *fakeFrames) Frame() (image.Image, time.Time, uint64) {
	if f.img == nil {
		return nil, time.Time{}, 0
	}
	return f.img, time.Now(), 7
}

type testEnv struct {
	server   *Server
	ctrl     *fakeController
	node     *grabber.LocalRecordNode
	frames   *fakeFrames
	bus      *events.Bus
	settings string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ctrl:     newFakeController(),
		node:     grabber.NewLocalRecordNode(t.TempDir()),
		frames:   &fakeFrames{},
		bus:      events.New(),
		settings: filepath.Join(t.TempDir(), "settings.toml"),
	}
	env.server = NewServer(&Options{
		AuthUsername: "admin",
		AuthPassword: "secret",
		Grabber:      env.ctrl,
		RecordNode:   env.node,
		Preview:      env.frames,
		EventBus:     env.bus,
		SettingsPath: env.settings,
		Devices: func() ([]v4l2.DeviceInfo, error) {
			return []v4l2.DeviceInfo{{DevicePath: "/dev/video0", DeviceName: "Fake Cam", DeviceID: "usb-fake-video-index0", Caps: 1}}, nil
		},
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "framegrabber_capture_fps 0\n")
		}),
	})
	return env
}

func basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", basicAuth())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthWithoutAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t)
	encoded := base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	wrong := base64.StdEncoding.EncodeToString([]byte("admin:nope"))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"valid header", "Basic " + encoded, "", http.StatusOK},
		{"wrong password", "Basic " + wrong, "", http.StatusUnauthorized},
		{"bearer", "Bearer token", "", http.StatusUnauthorized},
		{"garbage", "Basic !!!", "", http.StatusUnauthorized},
		{"query param", "", "?auth=" + encoded, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/formats"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/formats", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestListFormatsAndDevices(t *testing.T) {
	env := newTestEnv(t)

	formats := decode[struct {
		Formats []struct {
			Index  int    `json:"index"`
			Format string `json:"format"`
		} `json:"formats"`
		Count int `json:"count"`
	}](t, env.do(t, http.MethodGet, "/api/formats", nil))

	if formats.Count != 2 || formats.Formats[1].Index != 1 || formats.Formats[1].Format != env.ctrl.formats[1] {
		t.Errorf("formats = %+v", formats)
	}

	devices := decode[struct {
		Devices []struct {
			DevicePath string `json:"device_path"`
			DeviceID   string `json:"device_id"`
		} `json:"devices"`
		Count int `json:"count"`
	}](t, env.do(t, http.MethodGet, "/api/devices", nil))

	if devices.Count != 1 || devices.Devices[0].DeviceID != "usb-fake-video-index0" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestStartCamera(t *testing.T) {
	tests := []struct {
		name      string
		body      map[string]any
		startErr  error
		want      int
		wantIndex int
	}{
		{"by index", map[string]any{"index": 1}, nil, http.StatusOK, 1},
		{"by format", map[string]any{"format": "/dev/video0 Fake Cam (YUYV) 640x480 1/30"}, nil, http.StatusOK, 0},
		{"unknown format", map[string]any{"format": "/dev/video9 Nope (GREY) 1x1 1/1"}, nil, http.StatusNotFound, -1},
		{"index out of range", map[string]any{"index": 5}, nil, http.StatusNotFound, -1},
		{"neither", map[string]any{}, nil, http.StatusUnprocessableEntity, -1},
		{"device error", map[string]any{"index": 0}, camera.ErrDeviceOpen, http.StatusInternalServerError, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ctrl.startErr = tt.startErr

			rec := env.do(t, http.MethodPost, "/api/camera/start", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if tt.wantIndex < 0 {
				if len(env.ctrl.started) != 0 {
					t.Errorf("started = %v, want none", env.ctrl.started)
				}
				return
			}

			stats := decode[grabber.Stats](t, rec)
			if !stats.CameraRunning || stats.FormatIndex != tt.wantIndex {
				t.Errorf("stats = %+v", stats)
			}
		})
	}
}

func TestStopCamera(t *testing.T) {
	env := newTestEnv(t)
	_ = env.ctrl.StartCamera(0)

	rec := env.do(t, http.MethodPost, "/api/camera/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if stats := decode[grabber.Stats](t, rec); stats.CameraRunning {
		t.Error("camera still running")
	}
	if env.ctrl.stopped != 1 {
		t.Errorf("stopped = %d, want 1", env.ctrl.stopped)
	}

	status := decode[grabber.Stats](t, env.do(t, http.MethodGet, "/api/status", nil))
	if status.FormatIndex != -1 {
		t.Errorf("FormatIndex = %d, want -1", status.FormatIndex)
	}
}

func TestRecordingLifecycle(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	rec := env.do(t, http.MethodPost, "/api/recording/start", map[string]any{
		"path":              dir,
		"experiment_number": 4,
		"recording_number":  2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	started := decode[struct {
		Recording bool   `json:"recording"`
		SessionID string `json:"session_id"`
		Directory string `json:"directory"`
	}](t, rec)
	if !started.Recording || started.SessionID != "session-1" || started.Directory != "/data/frames" {
		t.Errorf("start response = %+v", started)
	}

	if env.node.RecordingPath() != dir || env.node.ExperimentNumber() != 4 || env.node.RecordingNumber() != 2 {
		t.Errorf("record node = %q %d %d", env.node.RecordingPath(), env.node.ExperimentNumber(), env.node.RecordingNumber())
	}

	stopped := decode[struct {
		Recording bool   `json:"recording"`
		Written   uint64 `json:"frames_written"`
	}](t, env.do(t, http.MethodPost, "/api/recording/stop", nil))
	if stopped.Recording || stopped.Written != 42 {
		t.Errorf("stop response = %+v", stopped)
	}
}

func TestRecordingParametersWithoutNode(t *testing.T) {
	env := newTestEnv(t)
	env.server.opts.RecordNode = nil

	rec := env.do(t, http.MethodPost, "/api/recording/start", map[string]any{"experiment_number": 1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if env.ctrl.recording {
		t.Error("recording should not start when parameters are rejected")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	changed := make(chan any, 1)
	unsub := events.SubscribeToChannel[events.SettingsChangedEvent](env.bus, changed)
	defer unsub()

	s := config.DefaultSettings()
	s.ImageQuality = 70
	s.WriteMode = 2
	s.DirectoryName = "run"

	rec := env.do(t, http.MethodPut, "/api/settings", s)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[config.Settings](t, rec); got != s {
		t.Errorf("PUT response = %+v, want %+v", got, s)
	}

	saved, err := config.LoadSettings(env.settings)
	if err != nil {
		t.Fatal(err)
	}
	if saved != s {
		t.Errorf("saved = %+v, want %+v", saved, s)
	}

	select {
	case ev := <-changed:
		if ev.(events.SettingsChangedEvent).Source != "api" {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("no SettingsChangedEvent")
	}

	if got := decode[config.Settings](t, env.do(t, http.MethodGet, "/api/settings", nil)); got != s {
		t.Errorf("GET = %+v, want %+v", got, s)
	}
}

func TestSettingsPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ctrl.applyErr = errors.Join(grabber.ErrInvalidDirectoryName, grabber.ErrFormatNotFound)

	s := config.DefaultSettings()
	s.ImageQuality = 90
	s.DirectoryName = "bad/name"

	rec := env.do(t, http.MethodPut, "/api/settings", s)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	// Accepted fields are still persisted.
	saved, err := config.LoadSettings(env.settings)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ImageQuality != 90 || saved.DirectoryName != "frames" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestSettingsQualityOutOfRangeIsClamped(t *testing.T) {
	env := newTestEnv(t)
	s := config.DefaultSettings()
	s.ImageQuality = 150

	rec := env.do(t, http.MethodPut, "/api/settings", s)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[config.Settings](t, rec).ImageQuality; got != 100 {
		t.Errorf("ImageQuality = %d, want 100", got)
	}
	saved, err := config.LoadSettings(env.settings)
	if err != nil {
		t.Fatal(err)
	}
	if saved.ImageQuality != 100 {
		t.Errorf("saved ImageQuality = %d, want 100", saved.ImageQuality)
	}
}

func TestSettingsValidation(t *testing.T) {
	env := newTestEnv(t)
	s := config.DefaultSettings()
	s.WriteMode = 7

	rec := env.do(t, http.MethodPut, "/api/settings", s)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
	if _, err := os.Stat(env.settings); !os.IsNotExist(err) {
		t.Error("invalid settings were persisted")
	}
}

func TestPreview(t *testing.T) {
	env := newTestEnv(t)

	if rec := env.do(t, http.MethodGet, "/api/preview", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status without frame = %d, want 503", rec.Code)
	}

	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	img.SetGray(0, 0, color.Gray{Y: 255})
	env.frames.img = img

	tests := []struct {
		query         string
		width, height int
	}{
		{"", 64, 32},
		{"?width=16", 16, 8},
		{"?width=128&quality=90", 64, 32},
	}
	for _, tt := range tests {
		rec := env.do(t, http.MethodGet, "/api/preview"+tt.query, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d: %s", tt.query, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("%s: Content-Type = %q", tt.query, ct)
		}
		if seq := rec.Header().Get("X-Frame-Seq"); seq != "7" {
			t.Errorf("%s: X-Frame-Seq = %q", tt.query, seq)
		}
		cfg, err := jpeg.DecodeConfig(rec.Body)
		if err != nil {
			t.Fatalf("%s: decode: %v", tt.query, err)
		}
		if cfg.Width != tt.width || cfg.Height != tt.height {
			t.Errorf("%s: size = %dx%d, want %dx%d", tt.query, cfg.Width, cfg.Height, tt.width, tt.height)
		}
	}
}

func TestPreviewDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.server.opts.Preview = nil

	if rec := env.do(t, http.MethodGet, "/api/preview", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestLogs(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info"})
	env := newTestEnv(t)

	start := logging.GetBuffer().LastSeq()
	logger := logging.GetLogger("apitest")
	logger.Info("first")
	logger.Info("second")

	body := decode[struct {
		Entries []logging.LogEntry `json:"entries"`
		LastSeq uint64             `json:"last_seq"`
	}](t, env.do(t, http.MethodGet, fmt.Sprintf("/api/logs?since=%d&limit=1", start), nil))

	if len(body.Entries) != 1 || body.Entries[0].Message != "second" || body.Entries[0].Module != "apitest" {
		t.Errorf("entries = %+v", body.Entries)
	}
	if body.LastSeq < start+2 {
		t.Errorf("LastSeq = %d, want >= %d", body.LastSeq, start+2)
	}
}

func TestSetLogLevel(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info"})
	env := newTestEnv(t)

	tests := []struct {
		name       string
		level      string
		wantStatus int
	}{
		{name: "debug", level: "debug", wantStatus: http.StatusOK},
		{name: "unknown level", level: "verbose", wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, "/api/logs/level", map[string]string{
				"module": "apilevel",
				"level":  tt.level,
			})
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if !logging.GetLogger("apilevel").Enabled(context.Background(), slog.LevelDebug) {
		t.Error("apilevel logger should be at debug after the update")
	}
}

func TestPrometheusMounted(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "framegrabber_capture_fps") {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", basicAuth())

	// Headers are only flushed with the first event and the handler
	// subscribes on connect, so keep publishing until one gets through.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				env.bus.Publish(events.CameraStartedEvent{Device: "/dev/video0", FormatIndex: 3})
			}
		}
	}()

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	timeout := time.After(3 * time.Second)
	sawEvent := false
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if line == "event: camera-started" {
				sawEvent = true
				continue
			}
			if sawEvent && strings.HasPrefix(line, "data: ") {
				var ev events.CameraStartedEvent
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					t.Fatal(err)
				}
				if ev.Device != "/dev/video0" || ev.FormatIndex != 3 {
					t.Errorf("event = %+v", ev)
				}
				return
			}
		case <-timeout:
			t.Fatal("timeout waiting for camera-started event")
		}
	}
}
