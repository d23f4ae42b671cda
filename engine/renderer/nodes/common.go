package nodes

import (
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
)

/**
 * @brief What a disabled effect publishes as its output.
 */
type DefaultOutputImage uint8

const (
	/** @brief The output image, left untouched. */
	DefaultOutputImageOutput DefaultOutputImage = iota
	/** @brief The output image, filled by copying the input. */
	DefaultOutputImageInputOutputCopy
	/** @brief The input image itself. */
	DefaultOutputImageInput
	/** @brief The global black image. */
	DefaultOutputImageBlack
	/** @brief The global white image. */
	DefaultOutputImageWhite
)

var defaultOutputImageNames = [...]string{
	DefaultOutputImageOutput:          "output",
	DefaultOutputImageInputOutputCopy: "input_output_copy",
	DefaultOutputImageInput:           "input",
	DefaultOutputImageBlack:           "black",
	DefaultOutputImageWhite:           "white",
}

func (d DefaultOutputImage) String() string {
	if int(d) < len(defaultOutputImageNames) {
		return defaultOutputImageNames[d]
	}
	return fmt.Sprintf("DefaultOutputImage(%d)", uint8(d))
}

func (d DefaultOutputImage) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *DefaultOutputImage) UnmarshalText(text []byte) error {
	for i, name := range defaultOutputImageNames {
		if name == string(text) {
			*d = DefaultOutputImage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown default output image %q", string(text))
}

// fallbackOutput returns the image a disabled node registers as its output.
func fallbackOutput(ctx *rendergraph.RenderNodeContextManager, policy DefaultOutputImage, input, output metadata.RenderHandle) metadata.RenderHandle {
	switch policy {
	case DefaultOutputImageInput:
		return input
	case DefaultOutputImageBlack:
		return ctx.GetImageHandle(config.ResourceReference{Name: rendergraph.DefaultImageBlack})
	case DefaultOutputImageWhite:
		return ctx.GetImageHandle(config.ResourceReference{Name: rendergraph.DefaultImageWhite})
	default:
		return output
	}
}

// executeFlags skips disabled nodes unless they still owe a copy.
func executeFlags(valid, enabled bool, policy DefaultOutputImage) rendergraph.ExecuteFlags {
	if !valid {
		return rendergraph.ExecuteFlagDoNotExecute
	}
	if !enabled && policy != DefaultOutputImageInputOutputCopy {
		return rendergraph.ExecuteFlagDoNotExecute
	}
	return 0
}

func imageSize(desc metadata.GpuImageDesc) metadata.Size2D {
	return metadata.Size2D{Width: desc.Width, Height: desc.Height}
}

// viewportSizeInvSize packs width, height, 1/width and 1/height.
func viewportSizeInvSize(size metadata.Size2D) [4]float32 {
	w := float32(size.Width)
	h := float32(size.Height)
	if w == 0 || h == 0 {
		return [4]float32{}
	}
	return [4]float32{w, h, 1.0 / w, 1.0 / h}
}

func colorPass(target metadata.RenderHandle, size metadata.Size2D) metadata.RenderPassDesc {
	return metadata.RenderPassDesc{
		Attachments: []metadata.RenderPassAttachment{{
			Handle:  target,
			LoadOp:  metadata.ATTACHMENT_LOAD_OP_DONT_CARE,
			StoreOp: metadata.ATTACHMENT_STORE_OP_STORE,
		}},
		RenderArea: metadata.NewScissor(size),
	}
}

const fullscreenCopyShader = "rendershaders://shader/fullscreen_copy.shader"

/**
 * @brief Full screen copy of one image into another. Disabled effects use
 * it for the input_output_copy policy.
 */
type copyPass struct {
	shader         metadata.RenderHandle
	pso            metadata.RenderHandle
	pipelineLayout metadata.PipelineLayout
	sampler        metadata.RenderHandle
	binder         *descriptor.DescriptorSetBinder
}

func newCopyPass(ctx *rendergraph.RenderNodeContextManager) *copyPass {
	shaders := ctx.GetShaderManager()
	c := &copyPass{
		shader: shaders.GetShaderHandle(fullscreenCopyShader),
		pso:    metadata.InvalidRenderHandle,
	}
	c.pipelineLayout = shaders.GetReflectionPipelineLayout(c.shader)
	if ctx.GetGpuResourceManager() != nil {
		c.sampler = ctx.GetGpuResourceManager().GetSamplerHandle(rendergraph.DefaultSampler)
	}
	if !c.shader.IsValid() {
		return c
	}
	c.pso = ctx.GetPsoManager().GetGraphicsPsoHandle(c.shader, shaders.GetGraphicsStateHandleByShaderHandle(c.shader),
		c.pipelineLayout, metadata.ShaderSpecializationConstantData{},
		metadata.DYNAMIC_STATE_VIEWPORT_BIT|metadata.DYNAMIC_STATE_SCISSOR_BIT)
	return c
}

func (c *copyPass) valid() bool {
	return c.pso.IsValid() && c.pipelineLayout.HasSet(0)
}

func (c *copyPass) descriptorCounts() metadata.DescriptorCounts {
	return descriptor.DescriptorCountsFromPipelineLayout(c.pipelineLayout)
}

// createSet must run after the owning node reserved descriptorCounts.
func (c *copyPass) createSet(descriptors descriptor.NodeContextDescriptorSetManager) error {
	h, err := descriptors.CreateDescriptorSetFromLayout(0, c.pipelineLayout)
	if err != nil {
		return err
	}
	c.binder = descriptors.CreateDescriptorSetBinder(h, c.pipelineLayout.DescriptorSetLayouts[0].Bindings)
	return nil
}

func (c *copyPass) execute(cmdList rendergraph.CommandList, input, output metadata.RenderHandle, size metadata.Size2D) {
	if c.binder == nil || !input.IsValid() || !output.IsValid() || input == output {
		return
	}
	cmdList.BeginRenderPass(colorPass(output, size))
	cmdList.BindPipeline(c.pso)
	cmdList.SetDynamicStateViewport(metadata.NewViewport(size))
	cmdList.SetDynamicStateScissor(metadata.NewScissor(size))

	c.binder.ClearBindings()
	c.binder.BindImage(0, metadata.BindableImage{
		Handle:        input,
		ImageLayout:   metadata.IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL,
		SamplerHandle: c.sampler,
	})
	cmdList.UpdateDescriptorSet(c.binder.GetDescriptorSetHandle(), c.binder.GetDescriptorSetLayoutBindingResources())
	cmdList.BindDescriptorSet(0, c.binder.GetDescriptorSetHandle())
	cmdList.Draw(3, 1, 0, 0)
	cmdList.EndRenderPass()
}
