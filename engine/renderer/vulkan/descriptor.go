package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Native side of one logical descriptor set.
 */
type DescriptorSetData struct {
	/** @brief Layout shared by all buffered sets. Created with the first set. */
	Layout vk.DescriptorSetLayout
	/** @brief One native set per buffered frame. One-frame sets only use slot 0. */
	BufferingSets [VULKAN_MAX_BUFFERING_COUNT]vk.DescriptorSet

	/** @brief Layout with the immutable samplers baked in. */
	AdditionalPlatformLayout vk.DescriptorSetLayout
	/** @brief Single buffered set from the additional platform pool. */
	AdditionalPlatformSet vk.DescriptorSet
	/** @brief Immutable samplers indexed by binding, see ImmutableSamplerBitmask. */
	ImmutableSamplers [metadata.MaxDescriptorSetBindingCount]vk.Sampler
}

/**
 * @brief A pool plus the layouts that were allocated against it. Destroyed
 * once the GPU can no longer reference them.
 */
type PendingDeallocation struct {
	/** @brief Frame the pool was retired in. */
	FrameIndex uint64
	Pool       vk.DescriptorPool
	Layouts    []vk.DescriptorSetLayout
}

// DescriptorDevice is the set of native calls a descriptor manager makes.
type DescriptorDevice interface {
	descriptor.DeviceInfo

	CreateDescriptorPool(info *vk.DescriptorPoolCreateInfo) (vk.DescriptorPool, error)
	DestroyDescriptorPool(pool vk.DescriptorPool)
	CreateDescriptorSetLayout(info *vk.DescriptorSetLayoutCreateInfo) (vk.DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout vk.DescriptorSetLayout)
	AllocateDescriptorSet(pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error)
	UpdateDescriptorSets(writes []vk.WriteDescriptorSet)
}

// NativeResourceProvider resolves render handles to native objects.
// Unknown handles resolve to nil.
type NativeResourceProvider interface {
	GetImageView(handle metadata.RenderHandle, mip, layer uint32) vk.ImageView
	GetBuffer(handle metadata.RenderHandle) vk.Buffer
	GetBufferView(handle metadata.RenderHandle) vk.BufferView
	GetSampler(handle metadata.RenderHandle) vk.Sampler
	// GetImmutableSampler returns the conversion sampler of a platform image.
	GetImmutableSampler(imageHandle metadata.RenderHandle) vk.Sampler
}

// layoutBindings converts the CPU layout into native bindings. Bindings
// flagged in the mask get their immutable sampler when one is known.
func layoutBindings(set *descriptor.CpuDescriptorSet[DescriptorSetData], withImmutableSamplers bool) []vk.DescriptorSetLayoutBinding {
	binds := make([]vk.DescriptorSetLayoutBinding, 0, len(set.Bindings))
	for _, res := range set.Bindings {
		b := res.Binding
		count := b.DescriptorCount
		if count == 0 {
			count = 1
		}
		bd := vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vulkanDescriptorType(b.DescriptorType),
			DescriptorCount: count,
			StageFlags:      vulkanShaderStageFlags(b.ShaderStageFlags),
		}
		if withImmutableSamplers && b.Binding < metadata.MaxDescriptorSetBindingCount &&
			set.ImmutableSamplerBitmask&(1<<b.Binding) != 0 {
			if sampler := set.Gpu.ImmutableSamplers[b.Binding]; sampler != nil {
				samplers := make([]vk.Sampler, count)
				for i := range samplers {
					samplers[i] = sampler
				}
				bd.PImmutableSamplers = samplers
			}
		}
		binds = append(binds, bd)
	}
	return binds
}

// descriptorWrites builds the writes that point dst at the resources of the
// CPU mirror. Invalid resources and acceleration structures are skipped.
func descriptorWrites(set *descriptor.CpuDescriptorSet[DescriptorSetData], dst vk.DescriptorSet,
	resources NativeResourceProvider) []vk.WriteDescriptorSet {
	writes := make([]vk.WriteDescriptorSet, 0, len(set.Buffers)+len(set.Images)+len(set.Samplers))

	for _, buf := range set.Buffers {
		dt := buf.Binding.DescriptorType
		if dt == metadata.DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE || !buf.Resource.Handle.IsValid() {
			continue
		}
		wd := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dst,
			DstBinding:      buf.Binding.Binding,
			DstArrayElement: buf.ArrayOffset,
			DescriptorCount: 1,
			DescriptorType:  vulkanDescriptorType(dt),
		}
		if dt == metadata.DESCRIPTOR_TYPE_UNIFORM_TEXEL_BUFFER || dt == metadata.DESCRIPTOR_TYPE_STORAGE_TEXEL_BUFFER {
			wd.PTexelBufferView = []vk.BufferView{resources.GetBufferView(buf.Resource.Handle)}
		} else {
			size := vk.DeviceSize(^uint64(0))
			if buf.Resource.ByteSize != 0 && buf.Resource.ByteSize != metadata.InvalidIDUint32 {
				size = vk.DeviceSize(buf.Resource.ByteSize)
			}
			wd.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: resources.GetBuffer(buf.Resource.Handle),
				Offset: vk.DeviceSize(buf.Resource.ByteOffset),
				Range:  size,
			}}
		}
		writes = append(writes, wd)
	}

	for _, img := range set.Images {
		if !img.Resource.Handle.IsValid() {
			continue
		}
		dt := img.Binding.DescriptorType
		info := vk.DescriptorImageInfo{
			ImageView:   resources.GetImageView(img.Resource.Handle, img.Resource.Mip, img.Resource.Layer),
			ImageLayout: vulkanImageLayout(img.Resource.ImageLayout),
		}
		if dt == metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER && img.Resource.SamplerHandle.IsValid() {
			info.Sampler = resources.GetSampler(img.Resource.SamplerHandle)
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dst,
			DstBinding:      img.Binding.Binding,
			DstArrayElement: img.ArrayOffset,
			DescriptorCount: 1,
			DescriptorType:  vulkanDescriptorType(dt),
			PImageInfo:      []vk.DescriptorImageInfo{info},
		})
	}

	for _, smp := range set.Samplers {
		if !smp.Resource.Handle.IsValid() {
			continue
		}
		writes = append(writes, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dst,
			DstBinding:      smp.Binding.Binding,
			DstArrayElement: smp.ArrayOffset,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorTypeSampler,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler: resources.GetSampler(smp.Resource.Handle),
			}},
		})
	}
	return writes
}
