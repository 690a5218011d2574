package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/framegrabber/cmd"
	"github.com/smazurov/framegrabber/internal/api"
	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/events"
	"github.com/smazurov/framegrabber/internal/grabber"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/metrics/exporters"
	"github.com/smazurov/framegrabber/internal/writer"
	"github.com/smazurov/framegrabber/pkg/linuxav/hotplug"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Grabber settings file, shared with the settings API
	SettingsFile       string `help:"Grabber settings file" default:"settings.toml" toml:"settings.file" env:"SETTINGS_FILE"`
	SettingsWatch      bool   `help:"Apply edits of the settings file while running" default:"true" toml:"settings.watch" env:"SETTINGS_WATCH"`
	SettingsDebounceMS int    `help:"Quiet period in milliseconds before a settings edit is applied" default:"500" toml:"settings.debounce_ms" env:"SETTINGS_DEBOUNCE_MS"`

	// Recording destination
	RecordingPath    string `help:"Root directory for recordings" default:"." toml:"recording.path" env:"RECORDING_PATH"`
	ExperimentNumber int    `help:"Initial experiment number" default:"1" toml:"recording.experiment_number" env:"RECORDING_EXPERIMENT_NUMBER"`
	RecordingNumber  int    `help:"Initial recording number" default:"0" toml:"recording.recording_number" env:"RECORDING_RECORDING_NUMBER"`

	// Writer settings
	WriterQueueCapacity int `help:"Frames buffered for the writer before the oldest are dropped" default:"256" toml:"writer.queue_capacity" env:"WRITER_QUEUE_CAPACITY"`

	// Device settings
	CaptureBuffers       int  `help:"Number of mmap buffers requested from the driver" default:"4" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	CaptureReadTimeoutMS int  `help:"Longest wait in milliseconds for one frame" default:"500" toml:"capture.read_timeout_ms" env:"CAPTURE_READ_TIMEOUT_MS"`
	DevicesHotplug       bool `help:"Stop capture when the device is unplugged" default:"true" toml:"devices.hotplug" env:"DEVICES_HOTPLUG"`
	PreviewEnabled       bool `help:"Keep the latest frame for the preview endpoint" default:"true" toml:"preview.enabled" env:"PREVIEW_ENABLED"`

	// Observability settings
	ObsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`
	ObsSSEEnabled        bool `help:"Enable metrics SSE" default:"true" toml:"obs.sse_enabled" env:"OBS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCamera  string `help:"Camera logging level" default:"info" toml:"logging.camera" env:"LOGGING_CAMERA"`
	LoggingGrabber string `help:"Grabber logging level" default:"info" toml:"logging.grabber" env:"LOGGING_GRABBER"`
	LoggingWriter  string `help:"Writer logging level" default:"info" toml:"logging.writer" env:"LOGGING_WRITER"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"camera":  opts.LoggingCamera,
				"grabber": opts.LoggingGrabber,
				"writer":  opts.LoggingWriter,
				"api":     opts.LoggingAPI,
				"http":    opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		api.PublishLogs(eventBus)

		node := grabber.NewLocalRecordNode(opts.RecordingPath)
		node.SetExperimentNumber(opts.ExperimentNumber)
		node.SetRecordingNumber(opts.RecordingNumber)

		frameWriter := writer.New(
			writer.WithQueueCapacity(opts.WriterQueueCapacity),
			writer.WithEventPublisher(eventBus),
		)

		grabberOpts := []grabber.Option{
			grabber.WithRecordNode(node),
			grabber.WithWriter(frameWriter),
			grabber.WithEventPublisher(eventBus),
			grabber.WithDeviceOptions(camera.WithBufferCount(uint32(max(opts.CaptureBuffers, 2)))),
			grabber.WithReadTimeout(time.Duration(opts.CaptureReadTimeoutMS) * time.Millisecond),
		}
		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			RecordNode:   node,
			EventBus:     eventBus,
			SettingsPath: opts.SettingsFile,
		}
		if opts.PreviewEnabled {
			preview := grabber.NewLatestFrame()
			grabberOpts = append(grabberOpts, grabber.WithPreviewSink(preview))
			apiOpts.Preview = preview
		}
		if opts.ObsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}

		g := grabber.New(grabberOpts...)
		apiOpts.Grabber = g

		settings, loadErr := config.LoadSettings(opts.SettingsFile)
		if loadErr != nil {
			logger.Warn("Failed to load settings, using defaults", "path", opts.SettingsFile, "error", loadErr)
		}
		if applyErr := g.ApplySettings(settings); applyErr != nil {
			logger.Warn("Some settings were not applied", "error", applyErr)
		}

		var watcher *config.Watcher[config.Settings]
		if opts.SettingsWatch {
			watcher = config.NewConfigWatcher(opts.SettingsFile, config.LoadSettings, logging.GetLogger("config"),
				config.WithDebounce[config.Settings](time.Duration(opts.SettingsDebounceMS)*time.Millisecond))
			watcher.OnReload(func(s config.Settings) {
				if applyErr := g.ApplySettings(s); applyErr != nil {
					logger.Warn("Some reloaded settings were not applied", "error", applyErr)
				}
				eventBus.Publish(events.SettingsChangedEvent{
					Source:    "file",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			})
		}

		var sseExporter *exporters.SSEExporter
		if opts.ObsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		server := api.NewServer(apiOpts)
		ctx, cancel := context.WithCancel(context.Background())
		hotplugDone := make(chan struct{})

		hooks.OnStart(func() {
			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Failed to watch settings file", "path", opts.SettingsFile, "error", startErr)
					watcher = nil
				}
			}

			if opts.DevicesHotplug {
				go func() {
					defer close(hotplugDone)
					runHotplug(ctx, g, logging.GetLogger("hotplug"))
				}()
			} else {
				close(hotplugDone)
			}

			if sseExporter != nil {
				sseExporter.Start(ctx)
			}

			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping settings watcher", "error", stopErr)
				}
			}

			cancel()
			<-hotplugDone
			if sseExporter != nil {
				sseExporter.Stop()
			}

			if saveErr := config.SaveSettings(opts.SettingsFile, g.ExportSettings()); saveErr != nil {
				logger.Warn("Failed to save settings", "path", opts.SettingsFile, "error", saveErr)
			}
			g.Close()
		})
	})

	cli.Root().Use = "framegrabber"
	cli.Root().Short = "V4L2 frame grabber with JPEG and timestamp recording"
	cli.Root().AddCommand(cmd.FormatsCmd)
	cli.Root().AddCommand(cmd.RecordCmd)
	cli.Root().AddCommand(cmd.VersionCmd)

	cli.Run()
}

// runHotplug stops the camera when its device node is removed. It returns
// when ctx is cancelled or the netlink socket fails.
func runHotplug(ctx context.Context, g *grabber.Grabber, logger *slog.Logger) {
	monitor, err := hotplug.NewMonitor(hotplug.SubsystemVideo4Linux)
	if err != nil {
		logger.Warn("Hotplug monitoring unavailable", "error", err)
		return
	}
	defer monitor.Close()

	ch := make(chan hotplug.Event, 16)
	go func() {
		if runErr := monitor.Run(ctx, ch); runErr != nil && !errors.Is(runErr, context.Canceled) {
			logger.Warn("Hotplug monitor stopped", "error", runErr)
		}
	}()

	logger.Info("Hotplug monitoring started")
	for ev := range ch {
		node := ev.DeviceNode()
		if node == "" {
			continue
		}
		switch ev.Action {
		case hotplug.ActionRemove:
			logger.Info("Video device removed", "device", node)
			g.HandleDeviceRemoved(node)
		case hotplug.ActionAdd:
			logger.Info("Video device added", "device", node)
		}
	}
}
