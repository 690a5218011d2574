// Package logging provides per-module slog loggers.
//
// Every module logger writes to stdout when something is attached to it, to
// the systemd journal when journald is reachable, and to an in-memory
// history buffer served by the API and streamed as log events.
//
// Initialize once at startup; loggers obtained earlier pick up the new
// levels in place:
//
//	logging.Initialize(logging.Config{
//		Level:   "info",
//		Format:  "text",
//		Modules: map[string]string{"camera": "debug"},
//	})
//
//	logger := logging.GetLogger("writer")
//	logger.Info("Ledger opened", "path", path)
//
// The matching TOML configuration is
//
//	[logging]
//	level = "info"
//	format = "text"
//	camera = "debug"
//
// Journal entries carry SYSLOG_IDENTIFIER=framegrabber and one upper-case
// field per attribute:
//
//	journalctl -t framegrabber MODULE=writer -p warning
package logging
