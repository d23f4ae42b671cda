package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/testbed"
)

func bloomNode(t *testing.T, h *harness, name string) *RenderPostProcessBloomNode {
	t.Helper()
	n, ok := h.graph.Node(name).(*RenderPostProcessBloomNode)
	require.True(t, ok)
	return n
}

func TestBloomMipSizesAreMonotonic(t *testing.T) {
	for _, base := range []metadata.Size2D{
		{Width: 1280, Height: 720},
		{Width: 1, Height: 1},
		{Width: 3, Height: 1000},
		{Width: 4096, Height: 17},
		{Width: 0, Height: 0},
	} {
		sizes := BloomMipSizes(base)
		assert.Equal(t, max(1, base.Width/2), sizes[0].Width, "base %v", base)
		assert.Equal(t, max(1, base.Height/2), sizes[0].Height, "base %v", base)
		for i := 1; i < BloomTargetCount; i++ {
			assert.Equal(t, max(1, sizes[i-1].Width/2), sizes[i].Width, "base %v rung %d", base, i)
			assert.Equal(t, max(1, sizes[i-1].Height/2), sizes[i].Height, "base %v rung %d", base, i)
			assert.LessOrEqual(t, sizes[i].Width, sizes[i-1].Width)
			assert.LessOrEqual(t, sizes[i].Height, sizes[i-1].Height)
			assert.GreaterOrEqual(t, sizes[i].Width, uint32(1))
			assert.GreaterOrEqual(t, sizes[i].Height, uint32(1))
		}
	}
}

func TestBloomFrameScaleCount(t *testing.T) {
	for _, tc := range []struct {
		scale    float32
		expected int
	}{
		{scale: -1, expected: 2},
		{scale: 0, expected: 2},
		{scale: 0.2, expected: 2},
		{scale: 0.5, expected: 3},
		{scale: 1, expected: BloomTargetCount},
		{scale: 4, expected: BloomTargetCount},
	} {
		assert.Equal(t, tc.expected, BloomFrameScaleCount(tc.scale), "scale %v", tc.scale)
	}
}

func TestBloomDecodesConfig(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{
		"threshold_hard":       1.5,
		"scatter":              0.7,
		"quality":              2,
		"default_output_image": "white",
		"dirt":                 map[string]interface{}{"name": "lens_dirt"},
	}))
	cfg := bloomNode(t, h, "bloom").Config()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, float32(1.5), cfg.ThresholdHard)
	assert.Equal(t, float32(2.0), cfg.ThresholdSoft)
	assert.Equal(t, float32(0.7), cfg.Scatter)
	assert.Equal(t, BloomQualityHigh, cfg.Quality)
	assert.Equal(t, DefaultOutputImageWhite, cfg.DefaultOutputImage)
	assert.Equal(t, "scene_color", cfg.Input.Name)
	assert.Equal(t, "lens_dirt", cfg.Dirt.Name)
	h.shutdown()
}

func TestBloomDisabledPassesInputThrough(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{
		"enabled":              false,
		"default_output_image": "input",
	}))
	require.True(t, bloomNode(t, h, "bloom").IsValid())

	h.render(2)
	assert.Equal(t, h.hl.SceneColor.Handle(), h.output("bloom"))
	assert.Equal(t, rendergraph.NodeStatePreExecuted, h.state("bloom"), "ExecuteFrame must not run")
	assert.Empty(t, h.hl.Recorder.Ops())
	h.shutdown()
}

func TestBloomDisabledPublishesDefaultImages(t *testing.T) {
	for policy, image := range map[string]string{
		"black": testbed.DefaultImageBlack,
		"white": testbed.DefaultImageWhite,
	} {
		h := newHarness(t, bloomDesc("bloom", map[string]interface{}{
			"enabled":              false,
			"default_output_image": policy,
		}))
		h.render(1)
		assert.Equal(t, h.hl.Resources.GetImageHandle(image), h.output("bloom"), policy)
		assert.Equal(t, rendergraph.NodeStatePreExecuted, h.state("bloom"))
		h.shutdown()
	}
}

func TestBloomDisabledCopiesInput(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{"enabled": false}))
	h.render(1)

	out := h.output("bloom")
	require.True(t, out.IsValid())
	assert.NotEqual(t, h.hl.SceneColor.Handle(), out)
	assert.Equal(t, rendergraph.NodeStateExecuted, h.state("bloom"))
	assert.Equal(t, 1, h.hl.Recorder.DrawCount())
	passes := h.opsOf(testbed.OpBeginRenderPass)
	require.Len(t, passes, 1)
	assert.Equal(t, out, passes[0].RenderPass.Attachments[0].Handle)
	h.shutdown()
}

func TestBloomTargetsFollowInputSize(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{}))
	n := bloomNode(t, h, "bloom")
	h.render(1)

	targets := n.Targets()
	assert.Equal(t, metadata.Size2D{Width: 640, Height: 360}, targets.Tex1Size[0])
	handles := make(map[metadata.RenderHandle]struct{})
	for i := 0; i < BloomTargetCount; i++ {
		require.True(t, targets.Tex1[i].IsValid())
		require.True(t, targets.Tex2[i].IsValid())
		desc := h.hl.Resources.GetImageDescriptor(targets.Tex1[i].Handle())
		assert.Equal(t, targets.Tex1Size[i], metadata.Size2D{Width: desc.Width, Height: desc.Height})
		assert.Equal(t, metadata.FORMAT_B10G11R11_UFLOAT_PACK32, desc.Format)
		handles[targets.Tex1[i].Handle()] = struct{}{}
		handles[targets.Tex2[i].Handle()] = struct{}{}
	}
	assert.Len(t, handles, 2*BloomTargetCount)

	old := targets.Tex1[0].Handle()
	h.hl.Resize(metadata.Size2D{Width: 800, Height: 600})
	h.render(1)
	assert.Equal(t, metadata.Size2D{Width: 400, Height: 300}, targets.Tex1Size[0])
	assert.NotEqual(t, old, targets.Tex1[0].Handle())
	h.shutdown()
}

func TestBloomRecordsFullChain(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{}))
	// enough frames to wrap every ring buffer
	h.render(int(h.hl.Device.CommandBufferingCount()) + 2)

	// threshold, 6 downscales, 6 upscales, combine
	assert.Equal(t, 14, h.hl.Recorder.DrawCount())
	assert.Equal(t, 14, h.count(testbed.OpBindDescriptorSets))
	assert.Equal(t, 14, h.count(testbed.OpPushConstants))
	assert.Zero(t, h.hl.Recorder.DispatchCount())
	assert.Zero(t, h.backend.SkippedListCount())

	passes := h.opsOf(testbed.OpBeginRenderPass)
	require.Len(t, passes, 14)
	n := bloomNode(t, h, "bloom")
	assert.Equal(t, n.Targets().Tex1[0].Handle(), passes[0].RenderPass.Attachments[0].Handle)
	assert.Equal(t, n.Targets().Tex2[0].Handle(), passes[12].RenderPass.Attachments[0].Handle)
	assert.Equal(t, h.output("bloom"), passes[13].RenderPass.Attachments[0].Handle)
	assert.Empty(t, h.hl.Device.Violations())
	h.shutdown()
}

func TestBloomReservesOnlyBoundSets(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{}))
	n := bloomNode(t, h, "bloom")
	assert.Nil(t, n.downscaleBinders[0])
	assert.Nil(t, n.upscaleBinders[0])
	h.render(1)

	managers := h.backend.Managers()
	require.Len(t, managers, 1)
	sets := managers[0].Sets(descriptor.SetIndexTypeStatic)
	// threshold, 6 downscales, 6 upscales, combine and the copy set
	require.Len(t, sets, 15)
	written := 0
	for _, set := range sets {
		if set.GpuState != descriptor.GpuStateNotCreated {
			written++
		}
	}
	// only the copy set waits for a disabled frame
	assert.Equal(t, 14, written)
	h.shutdown()
}

func TestBloomOutputImageIsSingleMipLayer(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{}))
	h.render(1)
	descs := h.images.withPrefix("bloom_output_")
	require.Len(t, descs, 1)
	assert.Equal(t, uint32(1280), descs[0].Width)
	assert.Equal(t, uint32(1), descs[0].Depth)
	assert.Equal(t, uint32(1), descs[0].MipCount)
	assert.Equal(t, uint32(1), descs[0].LayerCount)
	for _, desc := range h.images.withPrefix("bloom_tex") {
		assert.Equal(t, uint32(1), desc.MipCount)
	}
	h.shutdown()
}

func TestBloomScaleFactorShortensChain(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{"scale_factor": 0.5}))
	h.render(1)
	// threshold, 2 downscales, 2 upscales, combine
	assert.Equal(t, 6, h.hl.Recorder.DrawCount())
	h.shutdown()
}

func TestBloomComputeDispatches(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{"use_compute": true}))
	require.True(t, bloomNode(t, h, "bloom").IsValid())
	h.render(int(h.hl.Device.CommandBufferingCount()) + 1)

	assert.Zero(t, h.hl.Recorder.DrawCount())
	assert.Zero(t, h.count(testbed.OpBeginRenderPass))
	dispatches := h.opsOf(testbed.OpDispatch)
	require.Len(t, dispatches, 14)
	// 640x360 threshold target with 8x8 groups
	assert.Equal(t, [4]uint32{80, 45, 1, 0}, dispatches[0].Args)
	// full resolution combine
	assert.Equal(t, [4]uint32{160, 90, 1, 0}, dispatches[13].Args)
	h.shutdown()
}

func TestBloomMissingInputSkipsFrame(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{
		"input": map[string]interface{}{"name": "missing"},
	}))
	h.render(1)
	assert.Equal(t, rendergraph.NodeStatePreExecuted, h.state("bloom"))
	assert.False(t, h.output("bloom").IsValid())
	assert.Empty(t, h.hl.Recorder.Ops())
	h.shutdown()
}

func TestBloomReadsSharedInput(t *testing.T) {
	h := newHarness(t,
		bloomDesc("first", map[string]interface{}{}),
		bloomDesc("second", map[string]interface{}{
			"input": map[string]interface{}{"name": "output", "node": "first"},
		}),
	)
	h.render(2)
	first := bloomNode(t, h, "first")
	second := bloomNode(t, h, "second")
	require.True(t, h.output("second").IsValid())
	assert.NotEqual(t, h.output("first"), h.output("second"))
	assert.NotEqual(t, first.Targets().Tex1[0].Handle(), second.Targets().Tex1[0].Handle())
	assert.Equal(t, 28, h.hl.Recorder.DrawCount())
	h.shutdown()
}

func TestBloomDestroyReleasesTargets(t *testing.T) {
	h := newHarness(t)
	before := h.hl.Resources.ImageCount()
	require.NoError(t, h.graph.Compile(graphOf(bloomDesc("bloom", map[string]interface{}{}))))
	h.render(1)
	assert.Greater(t, h.hl.Resources.ImageCount(), before)

	require.NoError(t, h.hl.Device.WaitIdle())
	h.graph.Destroy()
	assert.Equal(t, before, h.hl.Resources.ImageCount())
	h.shutdown()
}

func TestBloomRuntimeToggle(t *testing.T) {
	h := newHarness(t, bloomDesc("bloom", map[string]interface{}{"default_output_image": "input"}))
	n := bloomNode(t, h, "bloom")
	h.render(1)
	assert.Equal(t, 14, h.hl.Recorder.DrawCount())

	n.SetEnabled(false)
	h.render(1)
	assert.Equal(t, h.hl.SceneColor.Handle(), h.output("bloom"))
	assert.Empty(t, h.hl.Recorder.Ops())

	n.SetEnabled(true)
	h.render(1)
	assert.Equal(t, 14, h.hl.Recorder.DrawCount())
	h.shutdown()
}
