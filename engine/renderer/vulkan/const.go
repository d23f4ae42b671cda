package vulkan

/**
 * @brief Max frames in flight a descriptor manager ring-buffers.
 */
const VULKAN_MAX_BUFFERING_COUNT uint32 = 4

/**
 * @brief Default factor applied to descriptor counts of the additional
 * platform pool. Multi-planar formats may consume several descriptors each.
 */
const VULKAN_DEFAULT_PLATFORM_CONVERSION_MULTIPLIER uint32 = 3

/**
 * @brief Initial capacity of the pending deallocation queue.
 * @note Grows when more pools are pending.
 */
const VULKAN_PENDING_DEALLOCATION_CAPACITY int = 8

/** @brief VK_DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE_KHR */
const vulkanDescriptorTypeAccelerationStructure = 1000150000
