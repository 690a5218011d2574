package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/framegrabber/internal/camera"
	"github.com/smazurov/framegrabber/internal/config"
	"github.com/smazurov/framegrabber/internal/grabber"
	"github.com/smazurov/framegrabber/internal/logging"
	"github.com/smazurov/framegrabber/internal/writer"
)

// RecordCmd captures to disk without the HTTP server.
var RecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record frames to disk without starting the server",
	Long: `Opens a capture format, records JPEG frames and the timestamp ledger
until the duration elapses or the process is interrupted, then flushes the
writer queue and exits.`,
	RunE: runRecord,
}

func init() {
	f := RecordCmd.Flags()
	f.IntP("index", "i", -1, "Format index as printed by the formats command")
	f.StringP("format", "f", "", "Canonical format string, used when --index is not set")
	f.DurationP("duration", "d", 0, "Stop after this long, 0 records until interrupted")
	f.String("dir", ".", "Recording root directory")
	f.String("directory-name", "frames", "Session subdirectory for images and ledger")
	f.IntP("quality", "q", 25, "JPEG quality (1-100)")
	f.String("color", "gray", "Color mode: gray or rgb")
	f.String("write-mode", "recording", "Write mode: recording or acquisition")
	f.Int("experiment", 1, "Experiment number")
	f.Int("recording", 0, "Recording number")
	f.Bool("reset-counter", false, "Start frame numbering at 1")
	f.Int("queue-capacity", writer.DefaultQueueCapacity, "Frames buffered for the writer")
	f.Duration("flush-timeout", 10*time.Second, "Longest wait for queued frames after capture stops")
	f.StringP("config", "c", "config.toml", "Configuration file whose [logging] table is used")
	f.String("log-level", "", "Logging level override (debug, info, warn, error)")
}

func runRecord(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	index, _ := flags.GetInt("index")
	formatStr, _ := flags.GetString("format")
	duration, _ := flags.GetDuration("duration")
	dir, _ := flags.GetString("dir")
	dirName, _ := flags.GetString("directory-name")
	quality, _ := flags.GetInt("quality")
	colorStr, _ := flags.GetString("color")
	writeModeStr, _ := flags.GetString("write-mode")
	experiment, _ := flags.GetInt("experiment")
	recording, _ := flags.GetInt("recording")
	resetCounter, _ := flags.GetBool("reset-counter")
	queueCapacity, _ := flags.GetInt("queue-capacity")
	flushTimeout, _ := flags.GetDuration("flush-timeout")
	configPath, _ := flags.GetString("config")
	logLevel, _ := flags.GetString("log-level")

	logCfg := config.LoadLoggingConfig(configPath)
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logging.Initialize(logCfg)
	logger := logging.GetLogger("record")

	colorMode, err := grabber.ParseColorMode(colorStr)
	if err != nil {
		return err
	}

	writeMode, err := grabber.ParseWriteMode(writeModeStr)
	if err != nil {
		return err
	}
	if writeMode == grabber.WriteNever {
		return errors.New("write mode never would record nothing")
	}

	catalog := camera.NewCatalog(nil)
	if index < 0 {
		if formatStr == "" {
			return errors.New("either --index or --format is required")
		}
		i, ok := catalog.IndexOf(formatStr)
		if !ok {
			return fmt.Errorf("format not available: %q", formatStr)
		}
		index = i
	}

	node := grabber.NewLocalRecordNode(dir)
	node.SetExperimentNumber(experiment)
	node.SetRecordingNumber(recording)

	g := grabber.New(
		grabber.WithCatalog(catalog),
		grabber.WithRecordNode(node),
		grabber.WithWriter(writer.New(writer.WithQueueCapacity(queueCapacity))),
	)
	defer g.Close()

	g.SetImageQuality(quality)
	if err := g.SetColorMode(colorMode); err != nil {
		return err
	}
	if err := g.SetWriteMode(writeMode); err != nil {
		return err
	}
	g.SetResetFrameCounter(resetCounter)
	if err := g.SetDirectoryName(dirName); err != nil {
		return err
	}

	if err := g.StartCamera(index); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	sessionID := g.StartRecording()
	logger.Info("Recording", "session_id", sessionID, "duration", duration)

	<-ctx.Done()

	if !g.StopAndFlush(flushTimeout) {
		logger.Warn("Writer queue not empty after flush timeout", "remaining", g.Stats().Writer.QueueDepth)
	}
	g.StopRecording()

	stats := g.Stats()
	fmt.Printf("Session %s: %d frames captured, %d written, %d failed, %d dropped\n",
		sessionID,
		stats.FramesCaptured,
		stats.Writer.Written,
		stats.Writer.Failed,
		stats.Writer.Dropped)
	if stats.Writer.Destination != "" {
		fmt.Printf("Output: %s\n", stats.Writer.Destination)
	}
	return nil
}
