package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/lumerender/engine/core"
)

/**
 * @brief Engine wide settings, read from engine.toml.
 */
type EngineConfig struct {
	/** @brief One of debug, info, warn, error, fatal. */
	LogLevel string `toml:"log_level"`
	/** @brief Enables the non-fatal descriptor and command list checks. */
	Validation bool `toml:"validation"`
	/** @brief Frames the CPU may run ahead of the GPU. */
	BufferingCount uint32 `toml:"buffering_count"`
	/** @brief Descriptor count factor of the platform conversion pool. */
	PlatformConversionMultiplier uint32 `toml:"platform_conversion_multiplier"`
	/** @brief Frames the headless runner renders. Zero runs until interrupted. */
	Frames uint64 `toml:"frames"`
	/** @brief Path of the render node graph file. */
	RenderGraph string `toml:"render_graph"`
	/** @brief Watch the graph file and recompile on change. */
	HotReload bool `toml:"hot_reload"`

	Camera CameraConfig `toml:"camera"`
}

type CameraConfig struct {
	Name   string `toml:"name"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LogLevel:                     "info",
		Validation:                   true,
		BufferingCount:               3,
		PlatformConversionMultiplier: 3,
		Frames:                       120,
		RenderGraph:                  "assets/render_graph.toml",
		Camera: CameraConfig{
			Name:   "main",
			Width:  1280,
			Height: 720,
		},
	}
}

// ParseEngineConfig decodes data on top of the defaults. Unknown keys are errors.
func ParseEngineConfig(data []byte) (EngineConfig, error) {
	cfg := DefaultEngineConfig()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("engine config: %w", err)
	}
	if _, err := core.ParseLogLevel(cfg.LogLevel); err != nil {
		return cfg, fmt.Errorf("engine config log_level %q: %w", cfg.LogLevel, err)
	}
	if cfg.BufferingCount == 0 {
		cfg.BufferingCount = 1
	}
	return cfg, nil
}

func LoadEngineConfig(path string) (EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultEngineConfig(), err
	}
	return ParseEngineConfig(data)
}
