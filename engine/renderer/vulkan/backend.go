package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
)

/**
 * @brief Vulkan side of the render graph. Creates the per node descriptor
 * managers and replays recorded command lists into a command recorder.
 */
type RenderBackendVk struct {
	device    DescriptorDevice
	resources NativeResourceProvider
	recorder  CommandRecorder
	config    ManagerConfig

	managers []*NodeContextDescriptorSetManagerVk
	// Lists dropped by the last Render call.
	skipped int
}

func NewRenderBackendVk(device DescriptorDevice, resources NativeResourceProvider, recorder CommandRecorder,
	config ManagerConfig) *RenderBackendVk {
	return &RenderBackendVk{
		device:    device,
		resources: resources,
		recorder:  recorder,
		config:    config,
	}
}

func (b *RenderBackendVk) CreateDescriptorSetManager() descriptor.NodeContextDescriptorSetManager {
	m := NewNodeContextDescriptorSetManagerVk(b.device, b.resources, b.config)
	b.managers = append(b.managers, m)
	return m
}

func (b *RenderBackendVk) DestroyDescriptorSetManager(manager descriptor.NodeContextDescriptorSetManager) {
	for i, m := range b.managers {
		if descriptor.NodeContextDescriptorSetManager(m) == manager {
			m.Destroy()
			b.managers = append(b.managers[:i], b.managers[i+1:]...)
			return
		}
	}
	core.LogWarn("destroy of a descriptor set manager not created by this backend")
}

func (b *RenderBackendVk) Managers() []*NodeContextDescriptorSetManagerVk {
	return b.managers
}

func (b *RenderBackendVk) SkippedListCount() int {
	return b.skipped
}

// Render creates the per frame pools of every manager, then records the
// valid lists in order. Invalid lists are dropped as a whole.
func (b *RenderBackendVk) Render(lists []*rendergraph.RenderCommandList) error {
	for _, m := range b.managers {
		m.BeginBackendFrame()
	}

	if err := b.recorder.Begin(); err != nil {
		return fmt.Errorf("render backend: %w", err)
	}
	b.skipped = 0
	for _, cl := range lists {
		if !cl.IsValid() {
			core.LogWarn("skipping command list of node %s with %d errors", cl.NodeName(), len(cl.Errors()))
			b.skipped++
			continue
		}
		m, ok := cl.DescriptorSetManager().(*NodeContextDescriptorSetManagerVk)
		if !ok {
			core.LogError("command list of node %s uses a foreign descriptor set manager", cl.NodeName())
			b.skipped++
			continue
		}
		b.replay(cl, m)
	}
	if err := b.recorder.End(); err != nil {
		return fmt.Errorf("render backend: %w", err)
	}
	return nil
}

func (b *RenderBackendVk) replay(cl *rendergraph.RenderCommandList, m *NodeContextDescriptorSetManagerVk) {
	for _, cmd := range cl.Commands() {
		switch cmd.Type {
		case rendergraph.CommandTypeBeginRenderPass:
			b.recorder.BeginRenderPass(cmd.RenderPass)
		case rendergraph.CommandTypeEndRenderPass:
			b.recorder.EndRenderPass()
		case rendergraph.CommandTypeBindPipeline:
			b.recorder.BindPipeline(cmd.Pso)
		case rendergraph.CommandTypeBindDescriptorSets:
			sets := make([]vk.DescriptorSet, 0, len(cmd.DescriptorSets))
			for _, h := range cmd.DescriptorSets {
				m.UpdateDescriptorSetGpuHandle(h)
				sets = append(sets, m.GetDescriptorSet(h))
			}
			b.recorder.BindDescriptorSets(cmd.Pso, cmd.FirstSet, sets, cmd.DynamicOffsets)
		case rendergraph.CommandTypeSetViewport:
			b.recorder.SetViewport(cmd.Viewport)
		case rendergraph.CommandTypeSetScissor:
			b.recorder.SetScissor(cmd.Scissor)
		case rendergraph.CommandTypePushConstant:
			b.recorder.PushConstants(cmd.Pso, cmd.PushConstant, cmd.PushData)
		case rendergraph.CommandTypeDraw:
			b.recorder.Draw(cmd.Args[0], cmd.Args[1], cmd.Args[2], cmd.Args[3])
		case rendergraph.CommandTypeDispatch:
			b.recorder.Dispatch(cmd.Args[0], cmd.Args[1], cmd.Args[2])
		case rendergraph.CommandTypeDispatchIndirect:
			b.recorder.DispatchIndirect(cmd.IndirectBuffer, cmd.IndirectOffset)
		}
	}
}

// Destroy destroys every manager still alive. The device must be idle.
func (b *RenderBackendVk) Destroy() {
	for _, m := range b.managers {
		m.Destroy()
	}
	b.managers = nil
}
