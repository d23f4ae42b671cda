package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

func vulkanDescriptorType(t metadata.DescriptorType) vk.DescriptorType {
	switch t {
	case metadata.DESCRIPTOR_TYPE_SAMPLER:
		return vk.DescriptorTypeSampler
	case metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER:
		return vk.DescriptorTypeCombinedImageSampler
	case metadata.DESCRIPTOR_TYPE_SAMPLED_IMAGE:
		return vk.DescriptorTypeSampledImage
	case metadata.DESCRIPTOR_TYPE_STORAGE_IMAGE:
		return vk.DescriptorTypeStorageImage
	case metadata.DESCRIPTOR_TYPE_UNIFORM_TEXEL_BUFFER:
		return vk.DescriptorTypeUniformTexelBuffer
	case metadata.DESCRIPTOR_TYPE_STORAGE_TEXEL_BUFFER:
		return vk.DescriptorTypeStorageTexelBuffer
	case metadata.DESCRIPTOR_TYPE_UNIFORM_BUFFER:
		return vk.DescriptorTypeUniformBuffer
	case metadata.DESCRIPTOR_TYPE_STORAGE_BUFFER:
		return vk.DescriptorTypeStorageBuffer
	case metadata.DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC:
		return vk.DescriptorTypeUniformBufferDynamic
	case metadata.DESCRIPTOR_TYPE_STORAGE_BUFFER_DYNAMIC:
		return vk.DescriptorTypeStorageBufferDynamic
	case metadata.DESCRIPTOR_TYPE_INPUT_ATTACHMENT:
		return vk.DescriptorTypeInputAttachment
	default:
		return vk.DescriptorType(vulkanDescriptorTypeAccelerationStructure)
	}
}

func vulkanImageLayout(l metadata.ImageLayout) vk.ImageLayout {
	switch l {
	case metadata.IMAGE_LAYOUT_GENERAL:
		return vk.ImageLayoutGeneral
	case metadata.IMAGE_LAYOUT_COLOR_ATTACHMENT_OPTIMAL:
		return vk.ImageLayoutColorAttachmentOptimal
	case metadata.IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case metadata.IMAGE_LAYOUT_TRANSFER_SRC_OPTIMAL:
		return vk.ImageLayoutTransferSrcOptimal
	case metadata.IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL:
		return vk.ImageLayoutTransferDstOptimal
	default:
		return vk.ImageLayoutUndefined
	}
}

func vulkanShaderStageFlags(f metadata.ShaderStageFlags) vk.ShaderStageFlags {
	// bit values match the native ones
	return vk.ShaderStageFlags(f)
}

// vulkanPoolSizes converts aggregated counts into pool sizes, each count
// multiplied by factor. Zero counts are dropped.
func vulkanPoolSizes(counts metadata.DescriptorCounts, factor uint32) []vk.DescriptorPoolSize {
	sizes := make([]vk.DescriptorPoolSize, 0, len(counts.Counts))
	for _, c := range counts.Counts {
		if c.Count == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{
			Type:            vulkanDescriptorType(c.DescriptorType),
			DescriptorCount: c.Count * factor,
		})
	}
	return sizes
}
