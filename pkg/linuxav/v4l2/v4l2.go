//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format negotiation and memory-mapped streaming.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, frame sizes and frame intervals on an open stream:
//
//	s, _ := v4l2.OpenStream("/dev/video0")
//	defer s.Close()
//	formats, _ := s.Formats()
//	for _, f := range formats {
//	    sizes, _ := s.FrameSizes(f.PixelFormat)
//	    for _, size := range sizes {
//	        intervals, _ := s.FrameIntervals(f.PixelFormat, size.Width, size.Height)
//	    }
//	}
//
// # Streaming
//
// Negotiate a format, map buffers and read frames:
//
//	s.SetFormat(v4l2.PixFmtYUYV, 640, 480)
//	n, _ := s.RequestBuffers(4)
//	for i := uint32(0); i < n; i++ {
//	    mem, _ := s.MapBuffer(i)
//	    s.QueueBuffer(i)
//	}
//	s.StreamOn()
//	if ok, _ := s.WaitReadable(time.Second); ok {
//	    buf, _ := s.DequeueBuffer()
//	    // use mem[buf.Index][:buf.BytesUsed], then QueueBuffer(buf.Index)
//	}
package v4l2
