//go:build linux

// Package hotplug watches kernel uevents over netlink so a running capture
// can react when its device node disappears.
package hotplug

import (
	"bytes"
	"context"
	"errors"
	"path"

	"golang.org/x/sys/unix"
)

// Actions reported by the kernel.
const (
	ActionAdd    = "add"
	ActionRemove = "remove"
	ActionChange = "change"
)

// SubsystemVideo4Linux is the uevent subsystem of V4L2 device nodes.
const SubsystemVideo4Linux = "video4linux"

// Event represents a kernel device event.
type Event struct {
	Action    string            // "add", "remove", "change", etc.
	KObj      string            // Kernel object path: /devices/pci0000:00/...
	Subsystem string            // "video4linux", "usb", ...
	DevName   string            // Device name relative to /dev (e.g., "video0")
	Env       map[string]string // All environment variables from the event
}

// DeviceNode returns the /dev path of the event's device, or "" when the
// event carries no DEVNAME.
func (e Event) DeviceNode() string {
	if e.DevName == "" {
		return ""
	}
	return path.Join("/dev", e.DevName)
}

// netlinkKobjectUEvent is the netlink protocol for kernel object events.
const netlinkKobjectUEvent = 15

// pollInterval bounds how long Run waits before rechecking its context.
const pollInterval = 1000 // milliseconds

// Monitor listens for kernel device events via netlink.
type Monitor struct {
	fd         int
	subsystems map[string]struct{}
}

// NewMonitor binds a netlink socket to the kernel broadcast group. When
// subsystems are given only events from those subsystems are delivered.
func NewMonitor(subsystems ...string) (*Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKobjectUEvent)
	if err != nil {
		return nil, err
	}

	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: 1, // Kernel broadcast group
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	m := &Monitor{fd: fd, subsystems: make(map[string]struct{}, len(subsystems))}
	for _, s := range subsystems {
		m.subsystems[s] = struct{}{}
	}
	return m, nil
}

// Close releases the monitor resources.
func (m *Monitor) Close() error {
	return unix.Close(m.fd)
}

func (m *Monitor) accepts(e *Event) bool {
	if len(m.subsystems) == 0 {
		return true
	}
	_, ok := m.subsystems[e.Subsystem]
	return ok
}

// Run delivers events until the context is cancelled or the socket fails.
// The events channel is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	defer close(events)

	buf := make([]byte, 8192)
	fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLIN}}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := unix.Poll(fds, pollInterval)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}

		for {
			r, _, err := unix.Recvfrom(m.fd, buf, 0)
			if err != nil {
				if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
					break
				}
				return err
			}

			event := ParseUEvent(buf[:r])
			if event == nil || !m.accepts(event) {
				continue
			}

			select {
			case events <- *event:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// ParseUEvent parses a kernel uevent message of the form
// "ACTION@KOBJ\0KEY=VALUE\0KEY=VALUE\0...". It returns nil for messages
// that are not kernel uevents, including udev's re-broadcasts.
func ParseUEvent(data []byte) *Event {
	header, rest, _ := bytes.Cut(data, []byte{0})
	action, kobj, ok := bytes.Cut(header, []byte("@"))
	if !ok || len(action) == 0 {
		return nil
	}

	event := &Event{
		Action: string(action),
		KObj:   string(kobj),
		Env:    make(map[string]string),
	}

	for _, part := range bytes.Split(rest, []byte{0}) {
		key, value, ok := bytes.Cut(part, []byte("="))
		if !ok || len(key) == 0 {
			continue
		}
		event.Env[string(key)] = string(value)
	}

	event.Subsystem = event.Env["SUBSYSTEM"]
	event.DevName = event.Env["DEVNAME"]

	return event
}
