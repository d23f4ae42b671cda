package engine

import (
	"github.com/spaghettifunk/lumerender/engine/config"
)

type ApplicationConfig struct {
	// The application name used in logs.
	Name string
	// Engine settings, usually read from engine.toml.
	Engine config.EngineConfig
	// Graph replaces the graph file of Engine.RenderGraph when set. Hot
	// reload is off for in memory graphs.
	Graph *config.RenderNodeGraphDesc
}

// NewApplicationConfig loads engine.toml. A missing file falls back to the defaults.
func NewApplicationConfig(name, path string) (*ApplicationConfig, error) {
	cfg, err := config.LoadEngineConfig(path)
	if err != nil {
		return nil, err
	}
	return &ApplicationConfig{Name: name, Engine: cfg}, nil
}
