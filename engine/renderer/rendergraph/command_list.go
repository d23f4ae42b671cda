package rendergraph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// CommandList is what a node records into during ExecuteFrame.
type CommandList interface {
	BeginRenderPass(desc metadata.RenderPassDesc)
	EndRenderPass()
	BindPipeline(pso metadata.RenderHandle)

	// UpdateDescriptorSet writes the resources into the CPU mirror of the set right away.
	UpdateDescriptorSet(handle metadata.RenderHandle, resources metadata.DescriptorSetLayoutBindingResources)
	UpdateDescriptorSets(handles []metadata.RenderHandle, resources []metadata.DescriptorSetLayoutBindingResources)
	BindDescriptorSet(set uint32, handle metadata.RenderHandle, dynamicOffsets ...uint32)
	BindDescriptorSets(firstSet uint32, handles []metadata.RenderHandle)

	SetDynamicStateViewport(viewport metadata.ViewportDesc)
	SetDynamicStateScissor(scissor metadata.ScissorDesc)
	PushConstant(pc metadata.PushConstant, data []byte)
	// PushConstantData encodes a fixed size value little endian.
	PushConstantData(pc metadata.PushConstant, value interface{})

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	Dispatch(x, y, z uint32)
	DispatchIndirect(buffer metadata.RenderHandle, offset uint32)
}

type CommandType uint8

const (
	CommandTypeBeginRenderPass CommandType = iota
	CommandTypeEndRenderPass
	CommandTypeBindPipeline
	CommandTypeBindDescriptorSets
	CommandTypeSetViewport
	CommandTypeSetScissor
	CommandTypePushConstant
	CommandTypeDraw
	CommandTypeDispatch
	CommandTypeDispatchIndirect
)

func (t CommandType) String() string {
	switch t {
	case CommandTypeBeginRenderPass:
		return "begin_render_pass"
	case CommandTypeEndRenderPass:
		return "end_render_pass"
	case CommandTypeBindPipeline:
		return "bind_pipeline"
	case CommandTypeBindDescriptorSets:
		return "bind_descriptor_sets"
	case CommandTypeSetViewport:
		return "set_viewport"
	case CommandTypeSetScissor:
		return "set_scissor"
	case CommandTypePushConstant:
		return "push_constant"
	case CommandTypeDraw:
		return "draw"
	case CommandTypeDispatch:
		return "dispatch"
	default:
		return "dispatch_indirect"
	}
}

/**
 * @brief One recorded command. Only the fields of its type are set.
 */
type Command struct {
	Type CommandType

	RenderPass metadata.RenderPassDesc
	/** @brief Pipeline bound when the command was recorded. */
	Pso metadata.RenderHandle

	FirstSet       uint32
	DescriptorSets []metadata.RenderHandle
	DynamicOffsets []uint32

	Viewport metadata.ViewportDesc
	Scissor  metadata.ScissorDesc

	PushConstant metadata.PushConstant
	PushData     []byte

	/** @brief Draw: vertex count, instance count, first vertex, first instance. Dispatch: x, y, z. */
	Args [4]uint32

	IndirectBuffer metadata.RenderHandle
	IndirectOffset uint32
}

/**
 * @brief Recorded commands of one node for one frame. An invalid list is
 * skipped by the backend.
 */
type RenderCommandList struct {
	nodeName    string
	descriptors descriptor.NodeContextDescriptorSetManager
	queue       metadata.GpuQueue
	validation  bool

	commands []Command
	errors   []error

	inRenderPass bool
	boundPso     metadata.RenderHandle
	updated      map[metadata.RenderHandle]struct{}
}

func NewRenderCommandList(nodeName string, descriptors descriptor.NodeContextDescriptorSetManager,
	queue metadata.GpuQueue, validation bool) *RenderCommandList {
	return &RenderCommandList{
		nodeName:    nodeName,
		descriptors: descriptors,
		queue:       queue,
		validation:  validation,
		boundPso:    metadata.InvalidRenderHandle,
		updated:     make(map[metadata.RenderHandle]struct{}),
	}
}

func (cl *RenderCommandList) NodeName() string {
	return cl.nodeName
}

func (cl *RenderCommandList) DescriptorSetManager() descriptor.NodeContextDescriptorSetManager {
	return cl.descriptors
}

func (cl *RenderCommandList) Commands() []Command {
	return cl.commands
}

func (cl *RenderCommandList) Errors() []error {
	return cl.errors
}

func (cl *RenderCommandList) IsValid() bool {
	return len(cl.errors) == 0
}

// Finish closes the list. A render pass left open invalidates it.
func (cl *RenderCommandList) Finish() {
	if cl.inRenderPass {
		cl.fail("render pass not ended")
	}
}

func (cl *RenderCommandList) fail(format string, args ...interface{}) {
	err := fmt.Errorf("%s: %s: %w", cl.nodeName, fmt.Sprintf(format, args...), core.ErrInvalidCommandList)
	core.LogError("%s", err.Error())
	cl.errors = append(cl.errors, err)
}

func (cl *RenderCommandList) BeginRenderPass(desc metadata.RenderPassDesc) {
	if cl.inRenderPass {
		cl.fail("begin render pass inside a render pass")
		return
	}
	if len(desc.Attachments) == 0 {
		cl.fail("render pass without attachments")
		return
	}
	for i, att := range desc.Attachments {
		if !att.Handle.IsValid() {
			cl.fail("render pass attachment %d is invalid", i)
			return
		}
	}
	cl.inRenderPass = true
	cl.commands = append(cl.commands, Command{Type: CommandTypeBeginRenderPass, RenderPass: desc})
}

func (cl *RenderCommandList) EndRenderPass() {
	if !cl.inRenderPass {
		cl.fail("end render pass without a render pass")
		return
	}
	cl.inRenderPass = false
	cl.commands = append(cl.commands, Command{Type: CommandTypeEndRenderPass})
}

func (cl *RenderCommandList) BindPipeline(pso metadata.RenderHandle) {
	t := pso.Type()
	if !pso.IsValid() || (t != metadata.RenderHandleTypeGraphicsPso && t != metadata.RenderHandleTypeComputePso) {
		cl.fail("bind pipeline with invalid pso %s", pso)
		return
	}
	cl.boundPso = pso
	cl.commands = append(cl.commands, Command{Type: CommandTypeBindPipeline, Pso: pso})
}

func (cl *RenderCommandList) UpdateDescriptorSet(handle metadata.RenderHandle, resources metadata.DescriptorSetLayoutBindingResources) {
	if !cl.descriptors.UpdateCpuDescriptorSet(handle, resources, cl.queue) {
		cl.fail("update descriptor set %s failed", handle)
		return
	}
	cl.updated[handle] = struct{}{}
}

func (cl *RenderCommandList) UpdateDescriptorSets(handles []metadata.RenderHandle, resources []metadata.DescriptorSetLayoutBindingResources) {
	if len(handles) != len(resources) {
		cl.fail("update descriptor sets: %d handles, %d resources", len(handles), len(resources))
		return
	}
	for i := range handles {
		cl.UpdateDescriptorSet(handles[i], resources[i])
	}
}

func (cl *RenderCommandList) BindDescriptorSet(set uint32, handle metadata.RenderHandle, dynamicOffsets ...uint32) {
	if !cl.checkDescriptorSet(handle) {
		return
	}
	if expected := cl.descriptors.GetDynamicOffsetDescriptorCount(handle); uint32(len(dynamicOffsets)) != expected {
		cl.fail("descriptor set %s needs %d dynamic offsets, got %d", handle, expected, len(dynamicOffsets))
		return
	}
	cl.bindDescriptorSets(set, []metadata.RenderHandle{handle}, dynamicOffsets)
}

func (cl *RenderCommandList) BindDescriptorSets(firstSet uint32, handles []metadata.RenderHandle) {
	for _, h := range handles {
		if !cl.checkDescriptorSet(h) {
			return
		}
		if cl.descriptors.GetDynamicOffsetDescriptorCount(h) != 0 {
			cl.fail("descriptor set %s has dynamic offsets, bind it alone", h)
			return
		}
	}
	cl.bindDescriptorSets(firstSet, append([]metadata.RenderHandle(nil), handles...), nil)
}

func (cl *RenderCommandList) bindDescriptorSets(firstSet uint32, handles []metadata.RenderHandle, dynamicOffsets []uint32) {
	if !cl.boundPso.IsValid() {
		cl.fail("bind descriptor sets without a pipeline")
		return
	}
	if firstSet+uint32(len(handles)) > metadata.MaxDescriptorSetCount {
		cl.fail("descriptor sets %d..%d out of range", firstSet, firstSet+uint32(len(handles)))
		return
	}
	cl.commands = append(cl.commands, Command{
		Type:           CommandTypeBindDescriptorSets,
		Pso:            cl.boundPso,
		FirstSet:       firstSet,
		DescriptorSets: handles,
		DynamicOffsets: append([]uint32(nil), dynamicOffsets...),
	})
}

// checkDescriptorSet rejects stale handles and sets whose CPU mirror was
// never written.
func (cl *RenderCommandList) checkDescriptorSet(handle metadata.RenderHandle) bool {
	if err := cl.descriptors.ValidateDescriptorSetHandle(handle); err != nil {
		cl.fail("bind descriptor set: %s", err.Error())
		return false
	}
	if _, ok := cl.updated[handle]; ok {
		return true
	}
	if cl.descriptors.GetCpuDescriptorSetData(handle).BindingMask == 0 {
		cl.fail("descriptor set %s bound before any update", handle)
		return false
	}
	return true
}

func (cl *RenderCommandList) SetDynamicStateViewport(viewport metadata.ViewportDesc) {
	cl.commands = append(cl.commands, Command{Type: CommandTypeSetViewport, Viewport: viewport})
}

func (cl *RenderCommandList) SetDynamicStateScissor(scissor metadata.ScissorDesc) {
	cl.commands = append(cl.commands, Command{Type: CommandTypeSetScissor, Scissor: scissor})
}

func (cl *RenderCommandList) PushConstant(pc metadata.PushConstant, data []byte) {
	if !cl.boundPso.IsValid() {
		cl.fail("push constant without a pipeline")
		return
	}
	if pc.ByteSize > metadata.MaxPushConstantByteSize || uint32(len(data)) < pc.ByteSize {
		cl.fail("push constant of %d bytes with %d bytes of data", pc.ByteSize, len(data))
		return
	}
	cl.commands = append(cl.commands, Command{
		Type:         CommandTypePushConstant,
		Pso:          cl.boundPso,
		PushConstant: pc,
		PushData:     append([]byte(nil), data[:pc.ByteSize]...),
	})
}

func (cl *RenderCommandList) PushConstantData(pc metadata.PushConstant, value interface{}) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, value); err != nil {
		cl.fail("push constant data: %s", err.Error())
		return
	}
	cl.PushConstant(pc, buf.Bytes())
}

func (cl *RenderCommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !cl.inRenderPass {
		cl.fail("draw outside a render pass")
		return
	}
	if cl.boundPso.Type() != metadata.RenderHandleTypeGraphicsPso {
		cl.fail("draw without a graphics pipeline")
		return
	}
	cl.commands = append(cl.commands, Command{
		Type: CommandTypeDraw,
		Pso:  cl.boundPso,
		Args: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance},
	})
}

func (cl *RenderCommandList) Dispatch(x, y, z uint32) {
	if !cl.checkDispatch() {
		return
	}
	cl.commands = append(cl.commands, Command{
		Type: CommandTypeDispatch,
		Pso:  cl.boundPso,
		Args: [4]uint32{x, y, z, 0},
	})
}

func (cl *RenderCommandList) DispatchIndirect(buffer metadata.RenderHandle, offset uint32) {
	if !cl.checkDispatch() {
		return
	}
	if buffer.Type() != metadata.RenderHandleTypeGpuBuffer {
		cl.fail("dispatch indirect with %s", buffer)
		return
	}
	cl.commands = append(cl.commands, Command{
		Type:           CommandTypeDispatchIndirect,
		Pso:            cl.boundPso,
		IndirectBuffer: buffer,
		IndirectOffset: offset,
	})
}

func (cl *RenderCommandList) checkDispatch() bool {
	if cl.inRenderPass {
		cl.fail("dispatch inside a render pass")
		return false
	}
	if cl.boundPso.Type() != metadata.RenderHandleTypeComputePso {
		cl.fail("dispatch without a compute pipeline")
		return false
	}
	return true
}
