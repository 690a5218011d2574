// Package exporters publishes the metrics package's values to Prometheus
// and to the event bus.
package exporters

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smazurov/framegrabber/internal/logging"
)

// HTTPHandler serves the default registry in text or OpenMetrics format.
// Collection errors are logged and the remaining metrics are still served.
func HTTPHandler() http.Handler {
	errorLog := slog.NewLogLogger(logging.GetLogger("metrics").Handler(), slog.LevelError)
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:          errorLog,
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
