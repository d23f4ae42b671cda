package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumerender/engine/core"
)

const testGraph = `
name = "post"

[[nodes]]
name = "bloom"
type = "RenderPostProcessBloomNode"
  [nodes.config]
  enabled = true
  scale_factor = 0.5
  output = "bloom_output"

[[nodes]]
type = "RenderNodeCameraSinglePostProcess"
queue = "compute"
`

func TestParseEngineConfigDefaults(t *testing.T) {
	cfg, err := ParseEngineConfig([]byte(`frames = 10`))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), cfg.Frames)
	assert.Equal(t, uint32(3), cfg.BufferingCount)
	assert.Equal(t, uint32(3), cfg.PlatformConversionMultiplier)
	assert.Equal(t, "main", cfg.Camera.Name)
	assert.True(t, cfg.Validation)
}

func TestParseEngineConfigOverrides(t *testing.T) {
	cfg, err := ParseEngineConfig([]byte(`
log_level = "debug"
validation = false
buffering_count = 2
platform_conversion_multiplier = 4

[camera]
name = "side"
width = 640
height = 480
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.Validation)
	assert.Equal(t, uint32(2), cfg.BufferingCount)
	assert.Equal(t, uint32(4), cfg.PlatformConversionMultiplier)
	assert.Equal(t, CameraConfig{Name: "side", Width: 640, Height: 480}, cfg.Camera)
}

func TestParseEngineConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseEngineConfig([]byte(`no_such_key = 1`))
	assert.Error(t, err)
}

func TestParseEngineConfigRejectsBadLogLevel(t *testing.T) {
	_, err := ParseEngineConfig([]byte(`log_level = "loud"`))
	assert.Error(t, err)
}

func TestParseRenderNodeGraph(t *testing.T) {
	desc, err := ParseRenderNodeGraph([]byte(testGraph))
	require.NoError(t, err)
	require.Len(t, desc.Nodes, 2)
	assert.Equal(t, "post", desc.Name)
	assert.Equal(t, "bloom", desc.Nodes[0].Name)
	assert.Equal(t, "RenderNodeCameraSinglePostProcess_1", desc.Nodes[1].Name)
	assert.Equal(t, "compute", desc.Nodes[1].Queue)

	var bloom struct {
		Enabled     bool    `toml:"enabled"`
		ScaleFactor float32 `toml:"scale_factor"`
		Output      string  `toml:"output"`
	}
	require.NoError(t, desc.Nodes[0].Decode(&bloom))
	assert.True(t, bloom.Enabled)
	assert.InDelta(t, 0.5, bloom.ScaleFactor, 1e-6)
	assert.Equal(t, "bloom_output", bloom.Output)

	// nodes without a config table keep their defaults
	other := struct {
		Enabled bool `toml:"enabled"`
	}{Enabled: true}
	require.NoError(t, desc.Nodes[1].Decode(&other))
	assert.True(t, other.Enabled)
}

func TestParseRenderNodeGraphErrors(t *testing.T) {
	_, err := ParseRenderNodeGraph([]byte("[[nodes]]\nname = \"a\"\n"))
	assert.Error(t, err, "missing type")

	_, err = ParseRenderNodeGraph([]byte(`
[[nodes]]
name = "a"
type = "X"
[[nodes]]
name = "a"
type = "Y"
`))
	assert.Error(t, err, "duplicate name")
}

func TestWatcherFiresReloadEvent(t *testing.T) {
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	dir := t.TempDir()
	path := filepath.Join(dir, "graph.toml")
	require.NoError(t, os.WriteFile(path, []byte(testGraph), 0o644))

	received := make(chan RenderNodeGraphDesc, 4)
	listener := new(int)
	require.True(t, core.EventRegister(core.EVENT_CODE_RENDER_GRAPH_RELOAD, listener,
		func(code core.SystemEventCode, sender, listenerInst interface{}, data core.EventContext) bool {
			if desc, ok := data.Data.(RenderNodeGraphDesc); ok {
				select {
				case received <- desc:
				default:
				}
			}
			return true
		}))

	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(testGraph), 0o644))

	select {
	case desc := <-received:
		assert.Len(t, desc.Nodes, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload event")
	}
}

func TestWatcherDoubleClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.toml")
	require.NoError(t, os.WriteFile(path, []byte(testGraph), 0o644))
	w, err := NewWatcher(path)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.Close())
}

func TestShippedAssetsParse(t *testing.T) {
	cfg, err := LoadEngineConfig("../../assets/engine.toml")
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Camera.Name)
	assert.True(t, cfg.HotReload)

	graph, err := LoadRenderNodeGraph("../../assets/render_graph.toml")
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 2)
	assert.Equal(t, "bloom", graph.Nodes[0].Name)
	assert.Equal(t, "tonemap", graph.Nodes[1].Name)
}
