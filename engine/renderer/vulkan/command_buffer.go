package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// CommandRecorder receives a replayed render command list. Descriptor sets
// arrive already resolved to native sets.
type CommandRecorder interface {
	Begin() error
	End() error

	BeginRenderPass(desc metadata.RenderPassDesc)
	EndRenderPass()
	BindPipeline(pso metadata.RenderHandle)
	BindDescriptorSets(pso metadata.RenderHandle, firstSet uint32, sets []vk.DescriptorSet, dynamicOffsets []uint32)
	SetViewport(viewport metadata.ViewportDesc)
	SetScissor(scissor metadata.ScissorDesc)
	PushConstants(pso metadata.RenderHandle, pc metadata.PushConstant, data []byte)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	Dispatch(x, y, z uint32)
	DispatchIndirect(buffer metadata.RenderHandle, offset uint32)
}
