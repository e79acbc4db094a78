package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
)

// Camera fallback policies for a degenerate view matrix.
const (
	CameraFallbackLastKnown = "last-known"
	CameraFallbackZero      = "zero"
)

type RendererConfig struct {
	// Number of in-flight copies kept per uniform buffer. Clamped to [1, 3].
	FramesInFlight uint32 `toml:"frames_in_flight"`
	// Enables backend validation where the API supports it.
	Validation bool `toml:"validation"`
	// What the lighting camera position falls back to when the view
	// matrix cannot be inverted.
	CameraFallback string `toml:"camera_fallback"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type Config struct {
	Renderer RendererConfig `toml:"renderer"`
	Logging  LoggingConfig  `toml:"logging"`
}

func Default() Config {
	return Config{
		Renderer: RendererConfig{
			FramesInFlight: 3,
			Validation:     false,
			CameraFallback: CameraFallbackLastKnown,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML configuration file on top of the defaults. A missing
// file is not an error; the defaults are returned as-is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			core.LogDebug("config file '%s' not found, using defaults", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config '%s': %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config '%s': %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Renderer.FramesInFlight = math.Clamp(c.Renderer.FramesInFlight, 1, 3)
	switch c.Renderer.CameraFallback {
	case CameraFallbackLastKnown, CameraFallbackZero:
	default:
		core.LogWarn("unknown camera fallback '%s', using '%s'", c.Renderer.CameraFallback, CameraFallbackLastKnown)
		c.Renderer.CameraFallback = CameraFallbackLastKnown
	}
}

// ApplyLogging pushes the logging section into the engine logger.
func (c *Config) ApplyLogging() {
	core.SetLogLevel(c.Logging.Level)
}
