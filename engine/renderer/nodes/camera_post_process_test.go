package nodes

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/testbed"
)

const (
	tonemapShader        = "rendershaders://shader/camera_tonemap.shader"
	tonemapComputeShader = "rendershaders://computeshader/camera_tonemap.shader"
	mismatchShader       = "rendershaders://shader/camera_mismatch.shader"
)

func postProcessNode(t *testing.T, h *harness, name string) *RenderNodeCameraSinglePostProcess {
	t.Helper()
	n, ok := h.graph.Node(name).(*RenderNodeCameraSinglePostProcess)
	require.True(t, ok)
	return n
}

// boundImage returns the image bound to the first image descriptor of the
// static set at index in the manager of the node at position node.
func (h *harness) boundImage(node, index int) metadata.RenderHandle {
	h.t.Helper()
	managers := h.backend.Managers()
	require.Greater(h.t, len(managers), node)
	sets := managers[node].Sets(descriptor.SetIndexTypeStatic)
	require.Greater(h.t, len(sets), index)
	require.NotEmpty(h.t, sets[index].Images)
	return sets[index].Images[0].Resource.Handle
}

func TestCameraPostProcessGraphics(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{}))
	n := postProcessNode(t, h, "tonemap")
	require.True(t, n.IsValid())
	assert.True(t, n.IsLayoutCompatible())
	assert.False(t, n.IsCompute())

	h.render(int(h.hl.Device.CommandBufferingCount()) + 1)
	out := h.output("tonemap")
	require.True(t, out.IsValid())
	desc := h.hl.Resources.GetImageDescriptor(out)
	assert.Equal(t, metadata.Size2D{Width: 1280, Height: 720}, metadata.Size2D{Width: desc.Width, Height: desc.Height})

	ops := h.hl.Recorder.Ops()
	types := make([]testbed.OpType, 0, len(ops))
	for _, op := range ops {
		types = append(types, op.Type)
	}
	assert.Equal(t, []testbed.OpType{
		testbed.OpBeginRenderPass,
		testbed.OpBindPipeline,
		testbed.OpSetViewport,
		testbed.OpSetScissor,
		testbed.OpBindDescriptorSets,
		testbed.OpBindDescriptorSets,
		testbed.OpPushConstants,
		testbed.OpDraw,
		testbed.OpEndRenderPass,
	}, types)
	assert.Equal(t, out, ops[0].RenderPass.Attachments[0].Handle)
	assert.Equal(t, uint32(0), ops[4].FirstSet)
	assert.Equal(t, uint32(1), ops[5].FirstSet)

	var push [4]float32
	require.NoError(t, binary.Read(bytes.NewReader(ops[6].PushData), binary.LittleEndian, &push))
	assert.Equal(t, [4]float32{1280, 720, 1.0 / 1280, 1.0 / 720}, push)

	// set 0 holds the camera buffer, set 1 the scene color
	sets := h.backend.Managers()[0].Sets(descriptor.SetIndexTypeStatic)
	require.NotEmpty(t, sets[0].Buffers)
	assert.Equal(t, h.hl.Camera.UniformBuffer, sets[0].Buffers[0].Resource.Handle)
	assert.Equal(t, h.hl.SceneColor.Handle(), h.boundImage(0, 1))
	h.shutdown()
}

func TestCameraPostProcessCompute(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapComputeShader, map[string]interface{}{}))
	n := postProcessNode(t, h, "tonemap")
	require.True(t, n.IsValid())
	assert.True(t, n.IsCompute())

	h.render(2)
	assert.Zero(t, h.hl.Recorder.DrawCount())
	dispatches := h.opsOf(testbed.OpDispatch)
	require.Len(t, dispatches, 1)
	assert.Equal(t, [4]uint32{160, 90, 1, 0}, dispatches[0].Args)

	// the output is written as a storage image, the input sampled after it
	sets := h.backend.Managers()[0].Sets(descriptor.SetIndexTypeStatic)
	require.Len(t, sets[1].Images, 2)
	assert.Equal(t, h.output("tonemap"), sets[1].Images[0].Resource.Handle)
	assert.Equal(t, metadata.IMAGE_LAYOUT_GENERAL, sets[1].Images[0].Resource.ImageLayout)
	assert.Equal(t, h.hl.SceneColor.Handle(), sets[1].Images[1].Resource.Handle)
	h.shutdown()
}

func TestCameraPostProcessLayoutMismatchKeepsRunning(t *testing.T) {
	var logs bytes.Buffer
	core.SetLogOutput(&logs)
	t.Cleanup(func() { core.SetLogOutput(os.Stderr) })

	h := newHarness(t, postProcessDesc("mismatch", mismatchShader, map[string]interface{}{}))
	n := postProcessNode(t, h, "mismatch")
	assert.True(t, n.IsValid())
	assert.False(t, n.IsLayoutCompatible())
	assert.Contains(t, logs.String(), "common post process layout")

	h.render(1)
	assert.Equal(t, 1, h.hl.Recorder.DrawCount())
	assert.Zero(t, h.backend.SkippedListCount())
	h.shutdown()
}

func TestCameraPostProcessFollowsCameraResolution(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{}))
	h.render(1)
	first := h.output("tonemap")

	h.hl.Resize(metadata.Size2D{Width: 640, Height: 480})
	h.render(1)
	out := h.output("tonemap")
	assert.NotEqual(t, first, out)
	desc := h.hl.Resources.GetImageDescriptor(out)
	assert.Equal(t, uint32(640), desc.Width)
	assert.Equal(t, uint32(480), desc.Height)
	assert.Equal(t, [4]uint32{3, 1, 0, 0}, h.opsOf(testbed.OpDraw)[0].Args)
	h.shutdown()
}

func TestCameraPostProcessReadsSharedInput(t *testing.T) {
	h := newHarness(t,
		bloomDesc("bloom", map[string]interface{}{}),
		postProcessDesc("tonemap", tonemapShader, map[string]interface{}{
			"inputs": []interface{}{map[string]interface{}{"name": "output", "node": "bloom"}},
		}),
	)
	h.render(1)
	bloomOut := h.output("bloom")
	require.True(t, bloomOut.IsValid())
	assert.Equal(t, bloomOut, h.boundImage(1, 1))

	// bloom now passes scene color through, the tonemap input follows
	bloomNode(t, h, "bloom").SetEnabled(false)
	bloomNode(t, h, "bloom").config.DefaultOutputImage = DefaultOutputImageInput
	h.render(1)
	assert.Equal(t, h.hl.SceneColor.Handle(), h.output("bloom"))
	assert.Equal(t, h.hl.SceneColor.Handle(), h.boundImage(1, 1))
	h.shutdown()
}

func TestCameraPostProcessMissingInputReadsBlack(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{
		"inputs": []interface{}{map[string]interface{}{"name": "missing"}},
	}))
	h.render(1)
	assert.Equal(t, h.hl.Resources.GetImageHandle(testbed.DefaultImageBlack), h.boundImage(0, 1))
	assert.Equal(t, 1, h.hl.Recorder.DrawCount())
	h.shutdown()
}

func TestCameraPostProcessDisabled(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{
		"enabled":              false,
		"default_output_image": "white",
	}))
	h.render(1)
	assert.Equal(t, h.hl.Resources.GetImageHandle(testbed.DefaultImageWhite), h.output("tonemap"))
	assert.Equal(t, rendergraph.NodeStatePreExecuted, h.state("tonemap"))
	assert.Empty(t, h.hl.Recorder.Ops())
	h.shutdown()
}

func TestCameraPostProcessDisabledCopy(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{
		"enabled":              false,
		"default_output_image": "input_output_copy",
	}))
	h.render(1)
	assert.Equal(t, rendergraph.NodeStateExecuted, h.state("tonemap"))
	assert.Equal(t, 1, h.hl.Recorder.DrawCount())
	assert.NotEqual(t, h.hl.SceneColor.Handle(), h.output("tonemap"))
	h.shutdown()
}

func TestCameraPostProcessUnknownShader(t *testing.T) {
	h := newHarness(t, postProcessDesc("broken", "rendershaders://shader/missing.shader", map[string]interface{}{
		"default_output_image": "input",
	}))
	assert.False(t, postProcessNode(t, h, "broken").IsValid())

	h.render(1)
	assert.Equal(t, rendergraph.NodeStatePreExecuted, h.state("broken"))
	assert.Equal(t, h.hl.SceneColor.Handle(), h.output("broken"))
	assert.Empty(t, h.hl.Recorder.Ops())
	h.shutdown()
}

func TestCameraPostProcessInvalidPassesInputThrough(t *testing.T) {
	for _, policy := range []string{"output", "input_output_copy", "black"} {
		h := newHarness(t, postProcessDesc("broken", "rendershaders://shader/missing.shader", map[string]interface{}{
			"default_output_image": policy,
		}))
		require.False(t, postProcessNode(t, h, "broken").IsValid())

		h.render(1)
		assert.Equal(t, h.hl.SceneColor.Handle(), h.output("broken"), policy)
		assert.Empty(t, h.images.withPrefix("camera_post_process_"), "no output image for %s", policy)
		assert.Empty(t, h.hl.Recorder.Ops())
		h.shutdown()
	}
}

func TestCameraPostProcessOutputImageIsSingleMipLayer(t *testing.T) {
	h := newHarness(t, postProcessDesc("tonemap", tonemapShader, map[string]interface{}{}))
	h.render(1)
	descs := h.images.withPrefix("camera_post_process_")
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(1), descs[0].Depth)
	assert.Equal(t, uint32(1), descs[0].MipCount)
	assert.Equal(t, uint32(1), descs[0].LayerCount)
	h.shutdown()
}

func TestCameraPostProcessUnknownCameraUsesInputSize(t *testing.T) {
	small := func(h *harness) *metadata.RenderHandleReference {
		return h.hl.Resources.Create("small", metadata.GpuImageDesc{
			Format:     metadata.FORMAT_R8G8B8A8_UNORM,
			UsageFlags: metadata.IMAGE_USAGE_SAMPLED_BIT,
			Width:      64,
			Height:     32,
		})
	}
	h := newHarness(t)
	img := small(h)
	defer img.Release()
	require.NoError(t, h.graph.Compile(graphOf(postProcessDesc("tonemap", tonemapShader, map[string]interface{}{
		"camera": "nobody",
		"inputs": []interface{}{map[string]interface{}{"name": "small"}},
	}))))
	h.render(1)
	desc := h.hl.Resources.GetImageDescriptor(h.output("tonemap"))
	assert.Equal(t, uint32(64), desc.Width)
	assert.Equal(t, uint32(32), desc.Height)
	h.shutdown()
}
