package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// DefaultAPI is the only capture API understood by the device section.
const DefaultAPI = "V4L2"

// Settings is the persisted grabber configuration, stored as TOML.
type Settings struct {
	ImageQuality      int            `toml:"image_quality" json:"image_quality" example:"25" doc:"JPEG quality, clamped to 1..100"`
	ColorMode         int            `toml:"color_mode" json:"color_mode" enum:"0,1" example:"0" doc:"0 = gray, 1 = RGB"`
	WriteMode         int            `toml:"write_mode" json:"write_mode" enum:"0,1,2" example:"1" doc:"0 = never, 1 = while recording, 2 = while capturing"`
	ResetFrameCounter bool           `toml:"reset_frame_counter" json:"reset_frame_counter" doc:"Restart frame numbering at every recording"`
	DirectoryName     string         `toml:"directory_name" json:"directory_name" example:"frames" doc:"Session subdirectory for images and ledger"`
	Device            DeviceSettings `toml:"device" json:"device"`
}

// DeviceSettings identifies the capture format to open.
type DeviceSettings struct {
	API    string `toml:"api" json:"api" example:"V4L2" doc:"Capture API"`
	Format string `toml:"format" json:"format" example:"/dev/video0 HD Webcam (YUYV) 640x480 1/30" doc:"Canonical format string, empty for none"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		ImageQuality:  25,
		ColorMode:     0,
		WriteMode:     1,
		DirectoryName: "frames",
		Device:        DeviceSettings{API: DefaultAPI},
	}
}

// LoadSettings reads settings from path. Keys missing from the file keep
// their default values. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := toml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	return s, nil
}

// SaveSettings writes s to path through a temporary file so readers never
// see a partial file.
func SaveSettings(path string, s Settings) error {
	data, err := toml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.toml")
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to save settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
