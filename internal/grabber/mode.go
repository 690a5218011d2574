package grabber

import (
	"errors"
	"fmt"
	"strings"
)

// WriteMode selects which captured frames are persisted.
type WriteMode int

// Write modes. The numeric values are part of the settings file format.
const (
	WriteNever       WriteMode = 0
	WriteRecording   WriteMode = 1
	WriteAcquisition WriteMode = 2
)

// ErrInvalidWriteMode is returned for write modes outside the known set.
var ErrInvalidWriteMode = errors.New("invalid write mode")

// ShouldPersist reports whether a frame captured under mode should be
// written, given whether a recording session is active.
func ShouldPersist(mode WriteMode, recording bool) bool {
	return mode == WriteAcquisition || (mode == WriteRecording && recording)
}

// Valid reports whether m is a known write mode.
func (m WriteMode) Valid() bool {
	return m >= WriteNever && m <= WriteAcquisition
}

func (m WriteMode) String() string {
	switch m {
	case WriteNever:
		return "never"
	case WriteRecording:
		return "recording"
	case WriteAcquisition:
		return "acquisition"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// ParseWriteMode accepts a mode name or its numeric value.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "never", "0":
		return WriteNever, nil
	case "recording", "1":
		return WriteRecording, nil
	case "acquisition", "2":
		return WriteAcquisition, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWriteMode, s)
}

// ColorMode selects the color representation of processed frames.
type ColorMode int

// Color modes.
const (
	ColorGray ColorMode = 0
	ColorRGB  ColorMode = 1
)

// ErrInvalidColorMode is returned for color modes outside the known set.
var ErrInvalidColorMode = errors.New("invalid color mode")

// Valid reports whether c is a known color mode.
func (c ColorMode) Valid() bool {
	return c == ColorGray || c == ColorRGB
}

func (c ColorMode) String() string {
	switch c {
	case ColorGray:
		return "gray"
	case ColorRGB:
		return "rgb"
	default:
		return fmt.Sprintf("ColorMode(%d)", int(c))
	}
}

// ParseColorMode accepts a mode name or its numeric value.
func ParseColorMode(s string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gray", "grey", "0":
		return ColorGray, nil
	case "rgb", "color", "1":
		return ColorRGB, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidColorMode, s)
}
