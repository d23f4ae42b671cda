package nodes

import (
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/math"
	"github.com/spaghettifunk/lumerender/engine/renderer/components"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
)

const CameraSinglePostProcessNodeType = "RenderNodeCameraSinglePostProcess"

// Layout every camera post process shader shares for set 0.
const PostProcessCommonPipelineLayout = "renderpipelinelayouts://core_post_process_common.shaderpl"

const (
	globalSet = 0
	localSet  = 1
)

type CameraPostProcessConfig struct {
	Enabled bool `toml:"enabled"`
	/** @brief Graphics or compute shader path. The queue follows the shader type. */
	Shader string `toml:"shader"`
	/** @brief Camera that sizes the output. Empty selects the default camera. */
	Camera             string                     `toml:"camera"`
	Inputs             []config.ResourceReference `toml:"inputs"`
	Output             config.ResourceReference   `toml:"output"`
	DefaultOutputImage DefaultOutputImage         `toml:"default_output_image"`
}

func DefaultCameraPostProcessConfig() CameraPostProcessConfig {
	return CameraPostProcessConfig{
		Enabled:            true,
		Camera:             components.DEFAULT_CAMERA_NAME,
		DefaultOutputImage: DefaultOutputImageOutput,
	}
}

/**
 * @brief Runs one full screen shader for a camera. Set 0 carries the camera
 * data, set 1 the inputs of the node.
 */
type RenderNodeCameraSinglePostProcess struct {
	ctx    *rendergraph.RenderNodeContextManager
	logger *log.Logger
	config CameraPostProcessConfig
	valid  bool
	id     string

	shader         metadata.RenderHandle
	pso            metadata.RenderHandle
	pipelineLayout metadata.PipelineLayout
	threadGroup    metadata.ThreadGroupSize
	compute        bool
	binder         *descriptor.PipelineDescriptorSetBinder
	copy           *copyPass
	sampler        metadata.RenderHandle

	// Set when an input is the output of another node and may move every frame.
	changeable       bool
	layoutCompatible bool

	inputs    []metadata.RenderHandle
	output    metadata.RenderHandle
	ownOutput *metadata.RenderHandleReference
	size      metadata.Size2D
	ubo       metadata.RenderHandle
}

func NewRenderNodeCameraSinglePostProcess() rendergraph.RenderNode {
	return &RenderNodeCameraSinglePostProcess{
		config: DefaultCameraPostProcessConfig(),
		id:     uuid.NewString(),
		output: metadata.InvalidRenderHandle,
		ubo:    metadata.InvalidRenderHandle,
	}
}

func (n *RenderNodeCameraSinglePostProcess) Config() CameraPostProcessConfig {
	return n.config
}

func (n *RenderNodeCameraSinglePostProcess) SetEnabled(enabled bool) {
	n.config.Enabled = enabled
}

func (n *RenderNodeCameraSinglePostProcess) IsValid() bool {
	return n.valid
}

// IsLayoutCompatible reports whether set 0 matches the common post process layout.
func (n *RenderNodeCameraSinglePostProcess) IsLayoutCompatible() bool {
	return n.layoutCompatible
}

func (n *RenderNodeCameraSinglePostProcess) IsCompute() bool {
	return n.compute
}

func (n *RenderNodeCameraSinglePostProcess) InitNode(ctx *rendergraph.RenderNodeContextManager) {
	n.ctx = ctx
	n.logger = ctx.Logger()
	n.valid = false
	n.inputs = nil

	desc := ctx.GetNodeDesc()
	if err := desc.Decode(&n.config); err != nil {
		n.logger.Error("invalid camera post process config", "err", err)
		return
	}
	if n.config.Camera == "" {
		n.config.Camera = components.DEFAULT_CAMERA_NAME
	}
	n.changeable = false
	for _, ref := range n.config.Inputs {
		if ref.IsShared() {
			n.changeable = true
		}
	}
	if ctx.GetGpuResourceManager() != nil {
		n.sampler = ctx.GetGpuResourceManager().GetSamplerHandle(rendergraph.DefaultSampler)
	}

	shaders := ctx.GetShaderManager()
	n.shader = shaders.GetShaderHandle(n.config.Shader)
	if !n.shader.IsValid() {
		n.logger.Error("post process shader not found", "shader", n.config.Shader)
		return
	}
	n.compute = n.shader.Type() == metadata.RenderHandleTypeComputeShaderStateObject
	n.pipelineLayout = shaders.GetReflectionPipelineLayout(n.shader)
	n.layoutCompatible = n.checkCommonLayout()

	specData := metadata.ShaderSpecializationConstantData{Constants: shaders.GetReflectionSpecialization(n.shader)}
	if n.compute {
		n.threadGroup = shaders.GetReflectionThreadGroupSize(n.shader)
		n.pso = ctx.GetPsoManager().GetComputePsoHandle(n.shader, n.pipelineLayout, specData)
	} else {
		n.pso = ctx.GetPsoManager().GetGraphicsPsoHandle(n.shader, shaders.GetGraphicsStateHandleByShaderHandle(n.shader),
			n.pipelineLayout, specData, metadata.DYNAMIC_STATE_VIEWPORT_BIT|metadata.DYNAMIC_STATE_SCISSOR_BIT)
	}
	if !n.pso.IsValid() {
		n.logger.Error("post process pipeline not created", "shader", n.config.Shader)
		return
	}

	n.copy = newCopyPass(ctx)
	if err := n.createDescriptorSets(); err != nil {
		n.logger.Error("post process descriptor sets", "err", err)
		return
	}
	n.valid = true
}

// checkCommonLayout compares set 0 against the common layout by binding,
// type and count. A mismatch is logged and the node keeps running.
func (n *RenderNodeCameraSinglePostProcess) checkCommonLayout() bool {
	shaders := n.ctx.GetShaderManager()
	common := shaders.GetPipelineLayout(shaders.GetPipelineLayoutHandle(PostProcessCommonPipelineLayout))
	expected := common.DescriptorSetLayouts[globalSet].Bindings
	actual := n.pipelineLayout.DescriptorSetLayouts[globalSet].Bindings
	if len(expected) != len(actual) {
		n.logger.Error("set 0 does not match the common post process layout",
			"shader", n.config.Shader, "bindings", len(actual), "expected", len(expected))
		return false
	}
	for i := range expected {
		a, e := actual[i], expected[i]
		if a.Binding != e.Binding || a.DescriptorType != e.DescriptorType || a.DescriptorCount != e.DescriptorCount {
			n.logger.Error("set 0 does not match the common post process layout",
				"shader", n.config.Shader, "binding", a.Binding)
			return false
		}
	}
	return true
}

func (n *RenderNodeCameraSinglePostProcess) createDescriptorSets() error {
	descriptors := n.ctx.GetDescriptorSetManager()
	counts := []metadata.DescriptorCounts{descriptor.DescriptorCountsFromPipelineLayout(n.pipelineLayout)}
	if n.copy.valid() {
		counts = append(counts, n.copy.descriptorCounts())
	}
	if err := descriptors.ResetAndReserveMany(counts); err != nil {
		return err
	}

	var (
		handles      []metadata.RenderHandle
		bindingsList [][]metadata.DescriptorSetLayoutBinding
	)
	// global set first so it is shared by every frame of the node
	for set := uint32(0); set < metadata.MaxDescriptorSetCount; set++ {
		if !n.pipelineLayout.HasSet(set) {
			continue
		}
		h, err := descriptors.CreateDescriptorSetFromLayout(set, n.pipelineLayout)
		if err != nil {
			return err
		}
		handles = append(handles, h)
		bindingsList = append(bindingsList, n.pipelineLayout.DescriptorSetLayouts[set].Bindings)
	}
	binder, err := descriptors.CreatePipelineDescriptorSetBinderWithHandles(n.pipelineLayout, handles, bindingsList)
	if err != nil {
		return err
	}
	n.binder = binder
	if n.copy.valid() {
		return n.copy.createSet(descriptors)
	}
	return nil
}

func (n *RenderNodeCameraSinglePostProcess) resolveInputs() {
	if n.inputs != nil && !n.changeable {
		valid := true
		for _, h := range n.inputs {
			valid = valid && h.IsValid()
		}
		if valid {
			return
		}
	}
	n.inputs = n.inputs[:0]
	for _, ref := range n.config.Inputs {
		n.inputs = append(n.inputs, n.ctx.GetImageHandle(ref))
	}
}

func (n *RenderNodeCameraSinglePostProcess) firstInput() metadata.RenderHandle {
	if len(n.inputs) == 0 {
		return metadata.InvalidRenderHandle
	}
	return n.inputs[0]
}

func (n *RenderNodeCameraSinglePostProcess) PreExecuteFrame() {
	if n.ctx == nil {
		return
	}
	n.resolveInputs()
	share := n.ctx.GetShareManager()
	if !n.valid {
		// nothing would write an output image
		n.output = metadata.InvalidRenderHandle
		share.RegisterRenderNodeOutput("output", n.firstInput())
		return
	}
	resources := n.ctx.GetGpuResourceManager()

	n.ubo = metadata.InvalidRenderHandle
	n.size = metadata.Size2D{}
	if store := n.ctx.GetCameraStore(); store != nil {
		if camera, ok := store.GetCamera(n.config.Camera); ok {
			n.size = camera.GetResolution()
			n.ubo = camera.UniformBuffer
		}
	}
	if !n.config.Output.IsEmpty() {
		n.output = n.ctx.GetImageHandle(n.config.Output)
		if n.size.Width == 0 && n.output.IsValid() {
			n.size = imageSize(resources.GetImageDescriptor(n.output))
		}
	} else {
		if n.size.Width == 0 && n.firstInput().IsValid() {
			n.size = imageSize(resources.GetImageDescriptor(n.firstInput()))
		}
		n.ensureOutput()
	}

	if n.config.Enabled {
		share.RegisterRenderNodeOutput("output", n.output)
		return
	}
	share.RegisterRenderNodeOutput("output", fallbackOutput(n.ctx, n.config.DefaultOutputImage, n.firstInput(), n.output))
}

func (n *RenderNodeCameraSinglePostProcess) ensureOutput() {
	if n.size.Width == 0 || n.size.Height == 0 {
		n.output = metadata.InvalidRenderHandle
		return
	}
	resources := n.ctx.GetGpuResourceManager()
	if n.ownOutput.IsValid() && imageSize(resources.GetImageDescriptor(n.ownOutput.Handle())) == n.size {
		n.output = n.ownOutput.Handle()
		return
	}
	n.ownOutput.Release()
	usage := metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_COLOR_ATTACHMENT_BIT
	if n.compute {
		usage = metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_STORAGE_BIT
	}
	n.ownOutput = resources.Create("camera_post_process_"+n.id, metadata.GpuImageDesc{
		ImageType:           metadata.IMAGE_TYPE_2D,
		Format:              metadata.FORMAT_R16G16B16A16_SFLOAT,
		UsageFlags:          usage,
		EngineCreationFlags: metadata.ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS,
		Width:               n.size.Width,
		Height:              n.size.Height,
		Depth:               1,
		MipCount:            1,
		LayerCount:          1,
	})
	n.output = n.ownOutput.Handle()
}

func (n *RenderNodeCameraSinglePostProcess) GetExecuteFlags() rendergraph.ExecuteFlags {
	if !n.output.IsValid() {
		return rendergraph.ExecuteFlagDoNotExecute
	}
	return executeFlags(n.valid, n.config.Enabled, n.config.DefaultOutputImage)
}

func (n *RenderNodeCameraSinglePostProcess) ExecuteFrame(cmdList rendergraph.CommandList) {
	if !n.valid || !n.output.IsValid() {
		return
	}
	if !n.config.Enabled {
		if n.config.DefaultOutputImage == DefaultOutputImageInputOutputCopy && n.copy.valid() {
			n.copy.execute(cmdList, n.firstInput(), n.output, n.size)
		}
		return
	}

	n.binder.ClearBindings()
	n.bindGlobalSet()
	n.bindLocalSet()

	if !n.compute {
		cmdList.BeginRenderPass(colorPass(n.output, n.size))
	}
	cmdList.BindPipeline(n.pso)
	if !n.compute {
		cmdList.SetDynamicStateViewport(metadata.NewViewport(n.size))
		cmdList.SetDynamicStateScissor(metadata.NewScissor(n.size))
	}
	descriptors := n.ctx.GetDescriptorSetManager()
	for _, set := range n.binder.GetSetIndices() {
		h := n.binder.GetDescriptorSetHandle(set)
		cmdList.UpdateDescriptorSet(h, n.binder.GetDescriptorSetLayoutBindingResources(set))
		cmdList.BindDescriptorSet(set, h, make([]uint32, descriptors.GetDynamicOffsetDescriptorCount(h))...)
	}
	if n.pipelineLayout.PushConstant.ByteSize > 0 {
		cmdList.PushConstantData(n.pipelineLayout.PushConstant, viewportSizeInvSize(n.size))
	}

	if n.compute {
		cmdList.Dispatch(math.DivideRoundUp(n.size.Width, math.Max(1, n.threadGroup.X)),
			math.DivideRoundUp(n.size.Height, math.Max(1, n.threadGroup.Y)), 1)
		return
	}
	cmdList.Draw(3, 1, 0, 0)
	cmdList.EndRenderPass()
}

// bindGlobalSet binds the camera uniform buffer to every buffer binding of
// set 0. Image bindings of an incompatible layout get the black image.
func (n *RenderNodeCameraSinglePostProcess) bindGlobalSet() {
	black := n.ctx.GetImageHandle(config.ResourceReference{Name: rendergraph.DefaultImageBlack})
	for _, b := range n.pipelineLayout.DescriptorSetLayouts[globalSet].Bindings {
		switch {
		case b.DescriptorType.IsBuffer():
			n.binder.BindBuffer(globalSet, b.Binding, metadata.BindableBuffer{Handle: n.ubo})
		case b.DescriptorType.IsImage():
			n.bindImage(globalSet, b, black)
		}
	}
}

// bindLocalSet binds the output to storage bindings and the inputs, in
// order, to the sampled ones. Missing inputs read black.
func (n *RenderNodeCameraSinglePostProcess) bindLocalSet() {
	if !n.pipelineLayout.HasSet(localSet) {
		return
	}
	black := n.ctx.GetImageHandle(config.ResourceReference{Name: rendergraph.DefaultImageBlack})
	next := 0
	for _, b := range n.pipelineLayout.DescriptorSetLayouts[localSet].Bindings {
		if !b.DescriptorType.IsImage() {
			continue
		}
		if b.DescriptorType == metadata.DESCRIPTOR_TYPE_STORAGE_IMAGE {
			n.binder.BindImage(localSet, b.Binding, metadata.BindableImage{Handle: n.output, ImageLayout: metadata.IMAGE_LAYOUT_GENERAL})
			continue
		}
		input := black
		if next < len(n.inputs) && n.inputs[next].IsValid() {
			input = n.inputs[next]
		}
		next++
		n.bindImage(localSet, b, input)
	}
}

func (n *RenderNodeCameraSinglePostProcess) bindImage(set uint32, b metadata.DescriptorSetLayoutBinding, image metadata.RenderHandle) {
	layout := metadata.IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL
	if b.DescriptorType == metadata.DESCRIPTOR_TYPE_STORAGE_IMAGE {
		layout = metadata.IMAGE_LAYOUT_GENERAL
	}
	n.binder.BindImage(set, b.Binding, metadata.BindableImage{Handle: image, ImageLayout: layout, SamplerHandle: n.sampler})
}

func (n *RenderNodeCameraSinglePostProcess) Destroy() {
	n.ownOutput.Release()
	n.ownOutput = nil
	n.valid = false
}

func init() {
	rendergraph.RegisterNodeType(CameraSinglePostProcessNodeType, NewRenderNodeCameraSinglePostProcess)
}
