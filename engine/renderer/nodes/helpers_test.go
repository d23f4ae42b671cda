package nodes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumerender/testbed"
)

// harness runs a render node graph against the headless testbed and the
// Vulkan backend on the null device.
type harness struct {
	t       *testing.T
	hl      *testbed.Headless
	images  *imageLog
	backend *vulkan.RenderBackendVk
	graph   *rendergraph.RenderNodeGraph
}

// imageLog remembers the descriptor every image was requested with,
// before the testbed fills in defaults.
type imageLog struct {
	*testbed.GpuResources
	requested map[string]metadata.GpuImageDesc
}

func (l *imageLog) Create(name string, desc metadata.GpuImageDesc) *metadata.RenderHandleReference {
	l.requested[name] = desc
	return l.GpuResources.Create(name, desc)
}

func (l *imageLog) withPrefix(prefix string) []metadata.GpuImageDesc {
	var descs []metadata.GpuImageDesc
	for name, desc := range l.requested {
		if strings.HasPrefix(name, prefix) {
			descs = append(descs, desc)
		}
	}
	return descs
}

func newHarness(t *testing.T, nodes ...config.RenderNodeDesc) *harness {
	t.Helper()
	hl, err := testbed.NewHeadless(testbed.Options{Resolution: metadata.Size2D{Width: 1280, Height: 720}})
	require.NoError(t, err)
	images := &imageLog{GpuResources: hl.Resources, requested: make(map[string]metadata.GpuImageDesc)}
	backend := vulkan.NewRenderBackendVk(hl.Device, hl.Resources, hl.Recorder, vulkan.ManagerConfig{Validation: true})
	graph := rendergraph.NewRenderNodeGraph(hl.Device, backend, rendergraph.Collaborators{
		Shaders:   hl.Shaders,
		Psos:      hl.Psos,
		Resources: images,
		Cameras:   hl.Cameras,
	}, true)
	require.NoError(t, graph.Compile(graphOf(nodes...)))
	return &harness{t: t, hl: hl, images: images, backend: backend, graph: graph}
}

func (h *harness) render(frames int) {
	h.t.Helper()
	for i := 0; i < frames; i++ {
		require.NoError(h.t, h.graph.RenderFrame())
	}
}

func (h *harness) output(node string) metadata.RenderHandle {
	return h.graph.Share().GetRenderNodeOutput(node, "output")
}

func (h *harness) state(node string) rendergraph.NodeState {
	state, ok := h.graph.NodeState(node)
	require.True(h.t, ok, "node %s", node)
	return state
}

func (h *harness) count(op testbed.OpType) int {
	n := 0
	for _, o := range h.hl.Recorder.Ops() {
		if o.Type == op {
			n++
		}
	}
	return n
}

func (h *harness) opsOf(op testbed.OpType) []testbed.Op {
	var ops []testbed.Op
	for _, o := range h.hl.Recorder.Ops() {
		if o.Type == op {
			ops = append(ops, o)
		}
	}
	return ops
}

// shutdown destroys the graph and checks that the device saw no misuse.
func (h *harness) shutdown() {
	h.t.Helper()
	require.NoError(h.t, h.hl.Device.WaitIdle())
	h.graph.Destroy()
	assert.Empty(h.t, h.backend.Managers())
	assert.Zero(h.t, h.hl.Device.LivePoolCount())
	assert.Empty(h.t, h.hl.Device.Violations())
	require.NoError(h.t, h.hl.Shutdown())
}

func graphOf(nodes ...config.RenderNodeDesc) config.RenderNodeGraphDesc {
	return config.RenderNodeGraphDesc{Name: "test", Nodes: nodes}
}

func sceneColor() map[string]interface{} {
	return map[string]interface{}{"name": "scene_color"}
}

func bloomDesc(name string, cfg map[string]interface{}) config.RenderNodeDesc {
	if _, ok := cfg["input"]; !ok {
		cfg["input"] = sceneColor()
	}
	return config.RenderNodeDesc{Name: name, Type: BloomNodeType, Config: cfg}
}

func postProcessDesc(name, shader string, cfg map[string]interface{}) config.RenderNodeDesc {
	cfg["shader"] = shader
	if _, ok := cfg["inputs"]; !ok {
		cfg["inputs"] = []interface{}{sceneColor()}
	}
	return config.RenderNodeDesc{Name: name, Type: CameraSinglePostProcessNodeType, Config: cfg}
}

func TestDefaultOutputImageText(t *testing.T) {
	for _, d := range []DefaultOutputImage{
		DefaultOutputImageOutput, DefaultOutputImageInputOutputCopy, DefaultOutputImageInput,
		DefaultOutputImageBlack, DefaultOutputImageWhite,
	} {
		text, err := d.MarshalText()
		require.NoError(t, err)
		var back DefaultOutputImage
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, d, back)
	}
	var d DefaultOutputImage
	assert.Error(t, d.UnmarshalText([]byte("grey")))
}

func TestExecuteFlags(t *testing.T) {
	assert.Equal(t, rendergraph.ExecuteFlagDoNotExecute, executeFlags(false, true, DefaultOutputImageOutput))
	assert.Zero(t, executeFlags(true, true, DefaultOutputImageInput))
	assert.Equal(t, rendergraph.ExecuteFlagDoNotExecute, executeFlags(true, false, DefaultOutputImageInput))
	assert.Equal(t, rendergraph.ExecuteFlagDoNotExecute, executeFlags(true, false, DefaultOutputImageBlack))
	assert.Zero(t, executeFlags(true, false, DefaultOutputImageInputOutputCopy))
}

func TestNodeTypesRegistered(t *testing.T) {
	types := rendergraph.RegisteredNodeTypes()
	assert.Contains(t, types, BloomNodeType)
	assert.Contains(t, types, CameraSinglePostProcessNodeType)
}
