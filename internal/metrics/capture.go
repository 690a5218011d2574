// Package metrics provides Prometheus metrics for frame capture and the frame writer.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrabber",
		Subsystem: "capture",
		Name:      "fps",
		Help:      "Measured capture rate in frames per second",
	}, []string{"device"})

	captureFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames read from the capture device",
	}, []string{"device"})

	captureReadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "capture",
		Name:      "read_errors_total",
		Help:      "Failed frame reads",
	}, []string{"device"})

	captureStreaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "framegrabber",
		Subsystem: "capture",
		Name:      "streaming",
		Help:      "Whether the device is streaming (1) or not (0)",
	}, []string{"device"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrabber",
		Subsystem: "capture",
		Name:      "decode_errors_total",
		Help:      "Frames dropped because they could not be decoded",
	}, []string{"format"})

	// Local cache for SSE exporter access.
	deviceCache   = make(map[string]*DeviceStats)
	deviceCacheMu sync.RWMutex
)

// DeviceStats holds current metric values for a capture device.
type DeviceStats struct {
	FPS            float64
	FramesCaptured uint64
	ReadErrors     uint64
	Streaming      bool
}

// IncFramesCaptured counts one frame read from device.
func IncFramesCaptured(device string) {
	captureFrames.WithLabelValues(device).Inc()
	updateDevice(device, func(s *DeviceStats) { s.FramesCaptured++ })
}

// SetCaptureFPS sets the measured capture rate of device.
func SetCaptureFPS(device string, fps float64) {
	captureFPS.WithLabelValues(device).Set(fps)
	updateDevice(device, func(s *DeviceStats) { s.FPS = fps })
}

// IncReadErrors counts one failed read on device.
func IncReadErrors(device string) {
	captureReadErrors.WithLabelValues(device).Inc()
	updateDevice(device, func(s *DeviceStats) { s.ReadErrors++ })
}

// SetStreaming records whether device is streaming.
func SetStreaming(device string, streaming bool) {
	v := 0.0
	if streaming {
		v = 1
	}
	captureStreaming.WithLabelValues(device).Set(v)
	updateDevice(device, func(s *DeviceStats) { s.Streaming = streaming })
}

// IncDecodeErrors counts one undecodable frame in the given pixel format.
func IncDecodeErrors(format string) {
	decodeErrors.WithLabelValues(format).Inc()
}

// DeleteDeviceMetrics removes all metrics for device.
func DeleteDeviceMetrics(device string) {
	captureFPS.DeleteLabelValues(device)
	captureFrames.DeleteLabelValues(device)
	captureReadErrors.DeleteLabelValues(device)
	captureStreaming.DeleteLabelValues(device)

	deviceCacheMu.Lock()
	delete(deviceCache, device)
	deviceCacheMu.Unlock()
}

// GetDeviceMetrics returns current metric values for device, or nil.
func GetDeviceMetrics(device string) *DeviceStats {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	if s, ok := deviceCache[device]; ok {
		dup := *s
		return &dup
	}
	return nil
}

// GetAllDeviceMetrics returns metrics for every device seen since its last delete.
func GetAllDeviceMetrics() map[string]*DeviceStats {
	deviceCacheMu.RLock()
	defer deviceCacheMu.RUnlock()
	result := make(map[string]*DeviceStats, len(deviceCache))
	for id, s := range deviceCache {
		dup := *s
		result[id] = &dup
	}
	return result
}

func updateDevice(device string, update func(*DeviceStats)) {
	deviceCacheMu.Lock()
	defer deviceCacheMu.Unlock()
	s, ok := deviceCache[device]
	if !ok {
		s = &DeviceStats{}
		deviceCache[device] = s
	}
	update(s)
}
