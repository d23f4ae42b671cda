package nodes

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/math"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
)

const BloomNodeType = "RenderPostProcessBloom"

/** @brief Rungs of the bloom mip chain. */
const BloomTargetCount = 7

const bloomTargetFormat = metadata.FORMAT_B10G11R11_UFLOAT_PACK32

const (
	BloomQualityLow uint32 = iota
	BloomQualityNormal
	BloomQualityHigh
)

type BloomConfig struct {
	Enabled             bool    `toml:"enabled"`
	ThresholdHard       float32 `toml:"threshold_hard"`
	ThresholdSoft       float32 `toml:"threshold_soft"`
	AmountCoefficient   float32 `toml:"amount_coefficient"`
	DirtMaskCoefficient float32 `toml:"dirt_mask_coefficient"`
	Scatter             float32 `toml:"scatter"`
	/** @brief Fraction of the mip chain that runs, clamped to [0, 1]. */
	ScaleFactor float32 `toml:"scale_factor"`
	UseCompute  bool    `toml:"use_compute"`
	/** @brief BloomQualityLow, BloomQualityNormal or BloomQualityHigh. */
	Quality            uint32             `toml:"quality"`
	DefaultOutputImage DefaultOutputImage `toml:"default_output_image"`

	Input  config.ResourceReference `toml:"input"`
	Output config.ResourceReference `toml:"output"`
	Dirt   config.ResourceReference `toml:"dirt"`
}

func DefaultBloomConfig() BloomConfig {
	return BloomConfig{
		Enabled:            true,
		ThresholdHard:      1.0,
		ThresholdSoft:      2.0,
		AmountCoefficient:  0.25,
		Scatter:            1.0,
		ScaleFactor:        1.0,
		Quality:            BloomQualityNormal,
		DefaultOutputImage: DefaultOutputImageInputOutputCopy,
	}
}

/**
 * @brief Mip chain targets. Tex1 holds the downscaled chain, Tex2 the
 * upscaled one. Both have the same size per rung.
 */
type BloomTargets struct {
	Tex1     [BloomTargetCount]*metadata.RenderHandleReference
	Tex2     [BloomTargetCount]*metadata.RenderHandleReference
	Tex1Size [BloomTargetCount]metadata.Size2D
}

func (t *BloomTargets) release() {
	for i := range t.Tex1 {
		t.Tex1[i].Release()
		t.Tex2[i].Release()
		t.Tex1[i], t.Tex2[i] = nil, nil
	}
}

// BloomMipSizes returns the rung sizes for a base size. Each rung halves the
// previous one and never drops below one pixel.
func BloomMipSizes(base metadata.Size2D) [BloomTargetCount]metadata.Size2D {
	var sizes [BloomTargetCount]metadata.Size2D
	size := metadata.Size2D{
		Width:  math.Max(1, base.Width/2),
		Height: math.Max(1, base.Height/2),
	}
	for i := range sizes {
		sizes[i] = size
		size = metadata.Size2D{
			Width:  math.Max(1, size.Width/2),
			Height: math.Max(1, size.Height/2),
		}
	}
	return sizes
}

// BloomFrameScaleCount is the number of rungs that run for a scale factor.
func BloomFrameScaleCount(scaleFactor float32) int {
	count := int(float32(BloomTargetCount) * math.Clamp(scaleFactor, 0, 1))
	return math.Clamp(count, 2, BloomTargetCount)
}

type bloomPushConstant struct {
	ViewportSizeInvSize [4]float32
	Factors             [4]float32
}

type bloomPipeline struct {
	shader         metadata.RenderHandle
	pso            metadata.RenderHandle
	pipelineLayout metadata.PipelineLayout
	threadGroup    metadata.ThreadGroupSize
}

func (p *bloomPipeline) bindings() []metadata.DescriptorSetLayoutBinding {
	return p.pipelineLayout.DescriptorSetLayouts[0].Bindings
}

var bloomShaderNames = [...]string{"bloom_downscale_threshold", "bloom_downscale", "bloom_upscale", "bloom_combine"}

const (
	bloomThreshold = iota
	bloomDownscale
	bloomUpscale
	bloomCombine
	bloomPipelineCount
)

/**
 * @brief Bloom post process. Thresholds the input into a mip chain, blurs
 * it back up and combines the result with the input.
 */
type RenderPostProcessBloomNode struct {
	ctx    *rendergraph.RenderNodeContextManager
	logger *log.Logger
	config BloomConfig
	valid  bool
	// Suffix that keeps target names unique per node instance.
	id string

	pipelines [bloomPipelineCount]bloomPipeline
	copy      *copyPass
	sampler   metadata.RenderHandle

	thresholdBinder  *descriptor.DescriptorSetBinder
	downscaleBinders [BloomTargetCount]*descriptor.DescriptorSetBinder
	upscaleBinders   [BloomTargetCount]*descriptor.DescriptorSetBinder
	combineBinder    *descriptor.DescriptorSetBinder

	targets   BloomTargets
	baseSize  metadata.Size2D
	ownOutput *metadata.RenderHandleReference

	input  metadata.RenderHandle
	output metadata.RenderHandle
	dirt   metadata.RenderHandle
}

func NewRenderPostProcessBloomNode() rendergraph.RenderNode {
	return &RenderPostProcessBloomNode{
		config: DefaultBloomConfig(),
		id:     uuid.NewString(),
		input:  metadata.InvalidRenderHandle,
		output: metadata.InvalidRenderHandle,
		dirt:   metadata.InvalidRenderHandle,
	}
}

func (n *RenderPostProcessBloomNode) Config() BloomConfig {
	return n.config
}

// SetEnabled toggles the effect at runtime. Takes effect on the next frame.
func (n *RenderPostProcessBloomNode) SetEnabled(enabled bool) {
	n.config.Enabled = enabled
}

func (n *RenderPostProcessBloomNode) IsValid() bool {
	return n.valid
}

func (n *RenderPostProcessBloomNode) Targets() *BloomTargets {
	return &n.targets
}

func (n *RenderPostProcessBloomNode) InitNode(ctx *rendergraph.RenderNodeContextManager) {
	n.ctx = ctx
	n.logger = ctx.Logger()
	n.valid = false
	n.targets.release()
	n.baseSize = metadata.Size2D{}

	desc := ctx.GetNodeDesc()
	if err := desc.Decode(&n.config); err != nil {
		n.logger.Error("invalid bloom config", "err", err)
		return
	}
	if ctx.GetGpuResourceManager() != nil {
		n.sampler = ctx.GetGpuResourceManager().GetSamplerHandle(rendergraph.DefaultSampler)
	}

	if !n.initPipelines() {
		return
	}
	n.copy = newCopyPass(ctx)
	if !n.copy.valid() {
		n.logger.Error("full screen copy unavailable", "shader", fullscreenCopyShader)
		return
	}
	if err := n.createDescriptorSets(); err != nil {
		n.logger.Error("bloom descriptor sets", "err", err)
		return
	}
	n.valid = true
	n.logger.Debug("bloom initialized", "compute", n.config.UseCompute, "quality", n.config.Quality)
}

func (n *RenderPostProcessBloomNode) initPipelines() bool {
	shaders := n.ctx.GetShaderManager()
	psos := n.ctx.GetPsoManager()
	prefix := "rendershaders://shader/"
	if n.config.UseCompute {
		prefix = "rendershaders://computeshader/"
	}
	for i := range n.pipelines {
		path := prefix + bloomShaderNames[i] + ".shader"
		p := &n.pipelines[i]
		p.shader = shaders.GetShaderHandle(path)
		if !p.shader.IsValid() {
			n.logger.Error("bloom shader not found", "path", path)
			return false
		}
		p.pipelineLayout = shaders.GetReflectionPipelineLayout(p.shader)
		if !p.pipelineLayout.HasSet(0) {
			n.logger.Error("bloom shader has no descriptor set 0", "path", path)
			return false
		}
		specData := metadata.ShaderSpecializationConstantData{Constants: shaders.GetReflectionSpecialization(p.shader)}
		if len(specData.Constants) > 0 {
			specData.Data = []uint32{n.config.Quality}
		}
		if n.config.UseCompute {
			p.threadGroup = shaders.GetReflectionThreadGroupSize(p.shader)
			p.pso = psos.GetComputePsoHandle(p.shader, p.pipelineLayout, specData)
		} else {
			p.pso = psos.GetGraphicsPsoHandle(p.shader, shaders.GetGraphicsStateHandleByShaderHandle(p.shader), p.pipelineLayout,
				specData, metadata.DYNAMIC_STATE_VIEWPORT_BIT|metadata.DYNAMIC_STATE_SCISSOR_BIT)
		}
		if !p.pso.IsValid() {
			n.logger.Error("bloom pipeline not created", "path", path)
			return false
		}
	}
	return true
}

// createDescriptorSets reserves threshold, downscale, upscale and combine
// sets plus the copy set in one go.
func (n *RenderPostProcessBloomNode) createDescriptorSets() error {
	descriptors := n.ctx.GetDescriptorSetManager()
	counts := descriptor.DescriptorCountsFromLayouts([]metadata.PipelineLayout{
		n.pipelines[bloomThreshold].pipelineLayout,
		n.pipelines[bloomDownscale].pipelineLayout,
		n.pipelines[bloomUpscale].pipelineLayout,
		n.pipelines[bloomCombine].pipelineLayout,
	}, []uint32{1, BloomTargetCount - 1, BloomTargetCount - 1, 1})
	if err := descriptors.ResetAndReserveMany([]metadata.DescriptorCounts{counts, n.copy.descriptorCounts()}); err != nil {
		return err
	}

	create := func(p *bloomPipeline) (*descriptor.DescriptorSetBinder, error) {
		h, err := descriptors.CreateDescriptorSetFromLayout(0, p.pipelineLayout)
		if err != nil {
			return nil, err
		}
		return descriptors.CreateDescriptorSetBinder(h, p.bindings()), nil
	}
	var err error
	if n.thresholdBinder, err = create(&n.pipelines[bloomThreshold]); err != nil {
		return err
	}
	// rung 0 is written by the threshold pass and read by combine
	for i := 1; i < BloomTargetCount; i++ {
		if n.downscaleBinders[i], err = create(&n.pipelines[bloomDownscale]); err != nil {
			return err
		}
		if n.upscaleBinders[i], err = create(&n.pipelines[bloomUpscale]); err != nil {
			return err
		}
	}
	if n.combineBinder, err = create(&n.pipelines[bloomCombine]); err != nil {
		return err
	}
	return n.copy.createSet(descriptors)
}

// CreateTargets (re)creates the mip chain for a base size.
func (n *RenderPostProcessBloomNode) CreateTargets(base metadata.Size2D) {
	n.targets.release()
	n.baseSize = base
	n.targets.Tex1Size = BloomMipSizes(base)

	resources := n.ctx.GetGpuResourceManager()
	usage := metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_COLOR_ATTACHMENT_BIT
	if n.config.UseCompute {
		usage = metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_STORAGE_BIT
	}
	for i := 0; i < BloomTargetCount; i++ {
		desc := metadata.GpuImageDesc{
			ImageType:           metadata.IMAGE_TYPE_2D,
			Format:              bloomTargetFormat,
			UsageFlags:          usage,
			EngineCreationFlags: metadata.ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS,
			Width:               n.targets.Tex1Size[i].Width,
			Height:              n.targets.Tex1Size[i].Height,
			Depth:               1,
			MipCount:            1,
			LayerCount:          1,
		}
		n.targets.Tex1[i] = resources.Create(fmt.Sprintf("bloom_tex1_%d_%s", i, n.id), desc)
		n.targets.Tex2[i] = resources.Create(fmt.Sprintf("bloom_tex2_%d_%s", i, n.id), desc)
	}
	n.logger.Debug("bloom targets created", "width", base.Width, "height", base.Height)
}

func (n *RenderPostProcessBloomNode) ensureOutput(base metadata.Size2D) {
	if !n.config.Output.IsEmpty() {
		n.output = n.ctx.GetImageHandle(n.config.Output)
		return
	}
	if n.ownOutput.IsValid() {
		desc := n.ctx.GetGpuResourceManager().GetImageDescriptor(n.ownOutput.Handle())
		if imageSize(desc) == base {
			n.output = n.ownOutput.Handle()
			return
		}
		n.ownOutput.Release()
	}
	usage := metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_COLOR_ATTACHMENT_BIT
	if n.config.UseCompute {
		usage = metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_STORAGE_BIT
	}
	n.ownOutput = n.ctx.GetGpuResourceManager().Create("bloom_output_"+n.id, metadata.GpuImageDesc{
		ImageType:           metadata.IMAGE_TYPE_2D,
		Format:              metadata.FORMAT_R16G16B16A16_SFLOAT,
		UsageFlags:          usage,
		EngineCreationFlags: metadata.ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS,
		Width:               base.Width,
		Height:              base.Height,
		Depth:               1,
		MipCount:            1,
		LayerCount:          1,
	})
	n.output = n.ownOutput.Handle()
}

func (n *RenderPostProcessBloomNode) PreExecuteFrame() {
	if n.ctx == nil {
		return
	}
	share := n.ctx.GetShareManager()
	n.input = n.ctx.GetImageHandle(n.config.Input)
	if !n.input.IsValid() {
		n.output = metadata.InvalidRenderHandle
		n.logger.Warn("bloom input not available", "input", n.config.Input.Name)
		return
	}
	n.dirt = n.ctx.GetImageHandle(n.config.Dirt)
	if !n.dirt.IsValid() {
		n.dirt = n.ctx.GetImageHandle(config.ResourceReference{Name: rendergraph.DefaultImageWhite})
	}

	if !n.valid {
		share.RegisterRenderNodeOutput("output", n.input)
		return
	}
	base := imageSize(n.ctx.GetGpuResourceManager().GetImageDescriptor(n.input))
	if base != n.baseSize {
		n.CreateTargets(base)
	}
	if n.config.Enabled || n.config.DefaultOutputImage == DefaultOutputImageOutput ||
		n.config.DefaultOutputImage == DefaultOutputImageInputOutputCopy {
		n.ensureOutput(base)
	}

	if n.config.Enabled {
		share.RegisterRenderNodeOutput("output", n.output)
		return
	}
	share.RegisterRenderNodeOutput("output", fallbackOutput(n.ctx, n.config.DefaultOutputImage, n.input, n.output))
}

func (n *RenderPostProcessBloomNode) GetExecuteFlags() rendergraph.ExecuteFlags {
	if !n.input.IsValid() {
		return rendergraph.ExecuteFlagDoNotExecute
	}
	return executeFlags(n.valid, n.config.Enabled, n.config.DefaultOutputImage)
}

func (n *RenderPostProcessBloomNode) ExecuteFrame(cmdList rendergraph.CommandList) {
	if !n.valid || !n.input.IsValid() || !n.output.IsValid() {
		return
	}
	if !n.config.Enabled {
		if n.config.DefaultOutputImage == DefaultOutputImageInputOutputCopy {
			n.copy.execute(cmdList, n.input, n.output, n.baseSize)
		}
		return
	}

	count := BloomFrameScaleCount(n.config.ScaleFactor)
	tex1 := func(i int) metadata.RenderHandle { return n.targets.Tex1[i].Handle() }
	tex2 := func(i int) metadata.RenderHandle { return n.targets.Tex2[i].Handle() }
	factors := [4]float32{n.config.ThresholdHard, n.config.ThresholdSoft, n.config.AmountCoefficient, n.config.DirtMaskCoefficient}

	// threshold, input into rung 0
	n.pass(cmdList, bloomThreshold, n.thresholdBinder, tex1(0), n.targets.Tex1Size[0], factors, n.input)
	// downscale chain
	for i := 1; i < count; i++ {
		n.pass(cmdList, bloomDownscale, n.downscaleBinders[i], tex1(i), n.targets.Tex1Size[i], factors, tex1(i-1))
	}
	// upscale chain, tex2 accumulates
	scatter := [4]float32{n.config.Scatter, 0, 0, 0}
	for i := count - 1; i > 0; i-- {
		low := tex2(i)
		if i == count-1 {
			low = tex1(i)
		}
		n.pass(cmdList, bloomUpscale, n.upscaleBinders[i], tex2(i-1), n.targets.Tex1Size[i-1], scatter, low, tex1(i-1))
	}
	// combine at full resolution
	n.pass(cmdList, bloomCombine, n.combineBinder, n.output, n.baseSize, factors, n.input, tex2(0), n.dirt)
}

// pass renders or dispatches one step of the chain. Inputs bind in order
// after the storage target of the compute variant.
func (n *RenderPostProcessBloomNode) pass(cmdList rendergraph.CommandList, pipeline int, binder *descriptor.DescriptorSetBinder,
	target metadata.RenderHandle, size metadata.Size2D, factors [4]float32, inputs ...metadata.RenderHandle) {
	p := &n.pipelines[pipeline]
	binder.ClearBindings()
	binding := uint32(0)
	layout := metadata.IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL
	if n.config.UseCompute {
		binder.BindImage(0, metadata.BindableImage{Handle: target, ImageLayout: metadata.IMAGE_LAYOUT_GENERAL})
		binding = 1
	}
	for _, input := range inputs {
		binder.BindImage(binding, metadata.BindableImage{Handle: input, ImageLayout: layout, SamplerHandle: n.sampler})
		binding++
	}

	if !n.config.UseCompute {
		cmdList.BeginRenderPass(colorPass(target, size))
	}
	cmdList.BindPipeline(p.pso)
	if !n.config.UseCompute {
		cmdList.SetDynamicStateViewport(metadata.NewViewport(size))
		cmdList.SetDynamicStateScissor(metadata.NewScissor(size))
	}
	cmdList.UpdateDescriptorSet(binder.GetDescriptorSetHandle(), binder.GetDescriptorSetLayoutBindingResources())
	cmdList.BindDescriptorSet(0, binder.GetDescriptorSetHandle())
	cmdList.PushConstantData(p.pipelineLayout.PushConstant, bloomPushConstant{
		ViewportSizeInvSize: viewportSizeInvSize(size),
		Factors:             factors,
	})
	if n.config.UseCompute {
		cmdList.Dispatch(math.DivideRoundUp(size.Width, math.Max(1, p.threadGroup.X)),
			math.DivideRoundUp(size.Height, math.Max(1, p.threadGroup.Y)), 1)
		return
	}
	cmdList.Draw(3, 1, 0, 0)
	cmdList.EndRenderPass()
}

func (n *RenderPostProcessBloomNode) Destroy() {
	n.targets.release()
	n.ownOutput.Release()
	n.ownOutput = nil
	n.valid = false
}

func init() {
	rendergraph.RegisterNodeType(BloomNodeType, NewRenderPostProcessBloomNode)
}
