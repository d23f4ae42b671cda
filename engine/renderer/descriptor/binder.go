package descriptor

import (
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Accumulates resources for one descriptor set. The result is handed
 * to RenderCommandList.UpdateDescriptorSet.
 */
type DescriptorSetBinder struct {
	handle          metadata.RenderHandle
	resources       metadata.DescriptorSetLayoutBindingResources
	allBindingsMask uint64
}

func NewDescriptorSetBinder(handle metadata.RenderHandle, bindings []metadata.DescriptorSetLayoutBinding) *DescriptorSetBinder {
	layout := newCpuDescriptorSet[struct{}](bindings)
	b := &DescriptorSetBinder{
		handle: handle,
		resources: metadata.DescriptorSetLayoutBindingResources{
			Bindings: layout.Bindings,
			Buffers:  layout.Buffers,
			Images:   layout.Images,
			Samplers: layout.Samplers,
		},
	}
	for i := range bindings {
		if i < metadata.MaxBindingMaskCount {
			b.allBindingsMask |= 1 << uint(i)
		}
	}
	return b
}

// ClearBindings marks every binding unbound. The resources stay in place so a
// partial rebind keeps the old references for untouched bindings.
func (b *DescriptorSetBinder) ClearBindings() {
	b.resources.BindingMask = 0
	b.resources.DescriptorMask = 0
}

func (b *DescriptorSetBinder) GetDescriptorSetHandle() metadata.RenderHandle {
	return b.handle
}

func (b *DescriptorSetBinder) GetDescriptorSetLayoutBindingResources() metadata.DescriptorSetLayoutBindingResources {
	return b.resources
}

// GetDescriptorSetLayoutBindingValidity is true when every binding has a resource.
func (b *DescriptorSetBinder) GetDescriptorSetLayoutBindingValidity() bool {
	return b.resources.BindingMask == b.allBindingsMask
}

func (b *DescriptorSetBinder) findBinding(binding uint32) (int, *metadata.DescriptorSetLayoutBindingResource) {
	for i := range b.resources.Bindings {
		if b.resources.Bindings[i].Binding.Binding == binding {
			return i, &b.resources.Bindings[i]
		}
	}
	return -1, nil
}

func (b *DescriptorSetBinder) markBound(position int) {
	if position < metadata.MaxBindingMaskCount {
		b.resources.BindingMask |= 1 << uint(position)
	}
	if number := b.resources.Bindings[position].Binding.Binding; number < metadata.MaxBindingMaskCount {
		b.resources.DescriptorMask |= 1 << number
	}
}

func (b *DescriptorSetBinder) BindBuffer(binding uint32, resource metadata.BindableBuffer) bool {
	return b.BindBuffers(binding, []metadata.BindableBuffer{resource})
}

// BindBuffers fills the array elements of a buffer binding starting at zero.
func (b *DescriptorSetBinder) BindBuffers(binding uint32, resources []metadata.BindableBuffer) bool {
	pos, res := b.findBinding(binding)
	if res == nil || !res.Binding.DescriptorType.IsBuffer() || len(resources) == 0 {
		core.LogDebug("bind buffer: binding %d missing or not a buffer binding", binding)
		return false
	}
	count := min(uint32(len(resources)), descriptorCount(res.Binding))
	for i := uint32(0); i < count; i++ {
		b.resources.Buffers[res.ResourceIndex+i].Resource = resources[i]
	}
	b.markBound(pos)
	return true
}

func (b *DescriptorSetBinder) BindImage(binding uint32, resource metadata.BindableImage) bool {
	return b.BindImageWithFlags(binding, resource, 0)
}

// BindImageWithFlags binds an image with extra flags, e.g. the immutable sampler bit.
func (b *DescriptorSetBinder) BindImageWithFlags(binding uint32, resource metadata.BindableImage, flags metadata.AdditionalDescriptorFlags) bool {
	return b.bindImages(binding, []metadata.BindableImage{resource}, flags)
}

func (b *DescriptorSetBinder) BindImages(binding uint32, resources []metadata.BindableImage) bool {
	return b.bindImages(binding, resources, 0)
}

func (b *DescriptorSetBinder) bindImages(binding uint32, resources []metadata.BindableImage, flags metadata.AdditionalDescriptorFlags) bool {
	pos, res := b.findBinding(binding)
	if res == nil || !res.Binding.DescriptorType.IsImage() || len(resources) == 0 {
		core.LogDebug("bind image: binding %d missing or not an image binding", binding)
		return false
	}
	count := min(uint32(len(resources)), descriptorCount(res.Binding))
	for i := uint32(0); i < count; i++ {
		desc := &b.resources.Images[res.ResourceIndex+i]
		desc.Resource = resources[i]
		desc.AdditionalFlags = flags
	}
	b.markBound(pos)
	return true
}

func (b *DescriptorSetBinder) BindSampler(binding uint32, resource metadata.BindableSampler) bool {
	return b.BindSamplers(binding, []metadata.BindableSampler{resource})
}

func (b *DescriptorSetBinder) BindSamplers(binding uint32, resources []metadata.BindableSampler) bool {
	pos, res := b.findBinding(binding)
	if res == nil || !res.Binding.DescriptorType.IsSampler() || len(resources) == 0 {
		core.LogDebug("bind sampler: binding %d missing or not a sampler binding", binding)
		return false
	}
	count := min(uint32(len(resources)), descriptorCount(res.Binding))
	for i := uint32(0); i < count; i++ {
		b.resources.Samplers[res.ResourceIndex+i].Resource = resources[i]
	}
	b.markBound(pos)
	return true
}

/**
 * @brief Binder spanning every set declared by a pipeline layout.
 */
type PipelineDescriptorSetBinder struct {
	setIndices []uint32
	binders    [metadata.MaxDescriptorSetCount]*DescriptorSetBinder
}

// NewPipelineDescriptorSetBinder pairs handles with the used sets of the layout, in set order.
func NewPipelineDescriptorSetBinder(pipelineLayout metadata.PipelineLayout, handles []metadata.RenderHandle,
	bindingsList [][]metadata.DescriptorSetLayoutBinding) (*PipelineDescriptorSetBinder, error) {
	if len(handles) != len(bindingsList) {
		return nil, fmt.Errorf("pipeline binder: %d handles for %d binding lists: %w", len(handles), len(bindingsList), core.ErrBindingLayoutMismatch)
	}
	pb := &PipelineDescriptorSetBinder{}
	next := 0
	for set := uint32(0); set < metadata.MaxDescriptorSetCount; set++ {
		if !pipelineLayout.HasSet(set) {
			continue
		}
		if next >= len(handles) {
			return nil, fmt.Errorf("pipeline binder: no handle for set %d: %w", set, core.ErrInvalidSetIndex)
		}
		pb.setIndices = append(pb.setIndices, set)
		pb.binders[set] = NewDescriptorSetBinder(handles[next], bindingsList[next])
		next++
	}
	return pb, nil
}

func (pb *PipelineDescriptorSetBinder) GetSetIndices() []uint32 {
	return pb.setIndices
}

// GetFirstSet returns InvalidIDUint32 for a layout without sets.
func (pb *PipelineDescriptorSetBinder) GetFirstSet() uint32 {
	if len(pb.setIndices) == 0 {
		return metadata.InvalidIDUint32
	}
	return pb.setIndices[0]
}

// GetDescriptorSetBinder returns nil for unused sets.
func (pb *PipelineDescriptorSetBinder) GetDescriptorSetBinder(set uint32) *DescriptorSetBinder {
	if set >= metadata.MaxDescriptorSetCount {
		return nil
	}
	return pb.binders[set]
}

func (pb *PipelineDescriptorSetBinder) GetDescriptorSetHandle(set uint32) metadata.RenderHandle {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.handle
	}
	return metadata.InvalidRenderHandle
}

// GetDescriptorSetHandles returns the handles of all sets for one multi-set bind.
func (pb *PipelineDescriptorSetBinder) GetDescriptorSetHandles() []metadata.RenderHandle {
	handles := make([]metadata.RenderHandle, 0, len(pb.setIndices))
	for _, set := range pb.setIndices {
		handles = append(handles, pb.binders[set].handle)
	}
	return handles
}

func (pb *PipelineDescriptorSetBinder) GetDescriptorSetLayoutBindingResources(set uint32) metadata.DescriptorSetLayoutBindingResources {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.resources
	}
	return metadata.DescriptorSetLayoutBindingResources{}
}

// GetPipelineDescriptorSetLayoutBindingValidity is true iff every binding of every set is bound.
func (pb *PipelineDescriptorSetBinder) GetPipelineDescriptorSetLayoutBindingValidity() bool {
	for _, set := range pb.setIndices {
		if !pb.binders[set].GetDescriptorSetLayoutBindingValidity() {
			return false
		}
	}
	return true
}

func (pb *PipelineDescriptorSetBinder) ClearBindings() {
	for _, set := range pb.setIndices {
		pb.binders[set].ClearBindings()
	}
}

func (pb *PipelineDescriptorSetBinder) BindBuffer(set, binding uint32, resource metadata.BindableBuffer) bool {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.BindBuffer(binding, resource)
	}
	return false
}

func (pb *PipelineDescriptorSetBinder) BindImage(set, binding uint32, resource metadata.BindableImage) bool {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.BindImage(binding, resource)
	}
	return false
}

func (pb *PipelineDescriptorSetBinder) BindImageWithFlags(set, binding uint32, resource metadata.BindableImage, flags metadata.AdditionalDescriptorFlags) bool {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.BindImageWithFlags(binding, resource, flags)
	}
	return false
}

func (pb *PipelineDescriptorSetBinder) BindSampler(set, binding uint32, resource metadata.BindableSampler) bool {
	if b := pb.GetDescriptorSetBinder(set); b != nil {
		return b.BindSampler(binding, resource)
	}
	return false
}
