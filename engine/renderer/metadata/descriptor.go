package metadata

/** @brief The 11 descriptor kinds plus acceleration structures. */
type DescriptorType uint32

const (
	DESCRIPTOR_TYPE_SAMPLER DescriptorType = iota
	DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER
	DESCRIPTOR_TYPE_SAMPLED_IMAGE
	DESCRIPTOR_TYPE_STORAGE_IMAGE
	DESCRIPTOR_TYPE_UNIFORM_TEXEL_BUFFER
	DESCRIPTOR_TYPE_STORAGE_TEXEL_BUFFER
	DESCRIPTOR_TYPE_UNIFORM_BUFFER
	DESCRIPTOR_TYPE_STORAGE_BUFFER
	DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC
	DESCRIPTOR_TYPE_STORAGE_BUFFER_DYNAMIC
	DESCRIPTOR_TYPE_INPUT_ATTACHMENT
	DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE

	DESCRIPTOR_TYPE_MAX_ENUM
)

func (d DescriptorType) IsBuffer() bool {
	switch d {
	case DESCRIPTOR_TYPE_UNIFORM_TEXEL_BUFFER, DESCRIPTOR_TYPE_STORAGE_TEXEL_BUFFER,
		DESCRIPTOR_TYPE_UNIFORM_BUFFER, DESCRIPTOR_TYPE_STORAGE_BUFFER,
		DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC, DESCRIPTOR_TYPE_STORAGE_BUFFER_DYNAMIC,
		DESCRIPTOR_TYPE_ACCELERATION_STRUCTURE:
		return true
	}
	return false
}

func (d DescriptorType) IsImage() bool {
	switch d {
	case DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER, DESCRIPTOR_TYPE_SAMPLED_IMAGE,
		DESCRIPTOR_TYPE_STORAGE_IMAGE, DESCRIPTOR_TYPE_INPUT_ATTACHMENT:
		return true
	}
	return false
}

func (d DescriptorType) IsSampler() bool {
	return d == DESCRIPTOR_TYPE_SAMPLER
}

func (d DescriptorType) IsDynamicBuffer() bool {
	return d == DESCRIPTOR_TYPE_UNIFORM_BUFFER_DYNAMIC || d == DESCRIPTOR_TYPE_STORAGE_BUFFER_DYNAMIC
}

type ShaderStageFlags uint32

const (
	SHADER_STAGE_VERTEX_BIT   ShaderStageFlags = 0x00000001
	SHADER_STAGE_FRAGMENT_BIT ShaderStageFlags = 0x00000010
	SHADER_STAGE_COMPUTE_BIT  ShaderStageFlags = 0x00000020
	SHADER_STAGE_ALL_GRAPHICS ShaderStageFlags = 0x0000001F
	SHADER_STAGE_ALL          ShaderStageFlags = 0x7FFFFFFF
)

/** @brief One binding slot of a descriptor set layout, from shader reflection. */
type DescriptorSetLayoutBinding struct {
	Binding          uint32           `toml:"binding"`
	DescriptorType   DescriptorType   `toml:"descriptor_type"`
	DescriptorCount  uint32           `toml:"descriptor_count"`
	ShaderStageFlags ShaderStageFlags `toml:"shader_stage_flags"`
}

/** @brief Max bindings per set that can carry immutable samplers. */
const MaxDescriptorSetBindingCount uint32 = 16

/** @brief Max entries a binding mask can track. */
const MaxBindingMaskCount = 64

/** @brief Max sets in a pipeline layout. */
const MaxDescriptorSetCount uint32 = 4

/** @brief Max push constant size in bytes. */
const MaxPushConstantByteSize uint32 = 128

type DescriptorSetLayout struct {
	/** @brief Set index, InvalidIDUint32 when unused. */
	Set      uint32
	Bindings []DescriptorSetLayoutBinding
}

type PushConstant struct {
	ShaderStageFlags ShaderStageFlags
	ByteSize         uint32
}

/** @brief Reflected pipeline layout. Sets are addressed by index. */
type PipelineLayout struct {
	PushConstant         PushConstant
	DescriptorSetCount   uint32
	DescriptorSetLayouts [MaxDescriptorSetCount]DescriptorSetLayout
}

/** @brief Returns an empty layout with every set marked unused. */
func NewPipelineLayout() PipelineLayout {
	var pl PipelineLayout
	for i := range pl.DescriptorSetLayouts {
		pl.DescriptorSetLayouts[i].Set = InvalidIDUint32
	}
	return pl
}

/** @brief True when the set index is in range and used by this layout. */
func (pl *PipelineLayout) HasSet(set uint32) bool {
	return set < MaxDescriptorSetCount && pl.DescriptorSetLayouts[set].Set == set
}

type DescriptorTypeCount struct {
	DescriptorType DescriptorType
	Count          uint32
}

/** @brief Aggregated descriptor counts used to size pools. */
type DescriptorCounts struct {
	Counts []DescriptorTypeCount
}

/** @brief Adds count descriptors of the given type, merging equal types. */
func (dc *DescriptorCounts) Add(descriptorType DescriptorType, count uint32) {
	for i := range dc.Counts {
		if dc.Counts[i].DescriptorType == descriptorType {
			dc.Counts[i].Count += count
			return
		}
	}
	dc.Counts = append(dc.Counts, DescriptorTypeCount{DescriptorType: descriptorType, Count: count})
}

func (dc *DescriptorCounts) AddCounts(other DescriptorCounts) {
	for _, c := range other.Counts {
		dc.Add(c.DescriptorType, c.Count)
	}
}

/** @brief Extra per-descriptor flags. */
type AdditionalDescriptorFlags uint32

const (
	/** @brief Binding needs an immutable sampler baked into the layout. */
	ADDITIONAL_DESCRIPTOR_IMMUTABLE_SAMPLER_BIT AdditionalDescriptorFlags = 1 << 0
)

type ImageLayout uint32

const (
	IMAGE_LAYOUT_UNDEFINED ImageLayout = iota
	IMAGE_LAYOUT_GENERAL
	IMAGE_LAYOUT_COLOR_ATTACHMENT_OPTIMAL
	IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL
	IMAGE_LAYOUT_TRANSFER_SRC_OPTIMAL
	IMAGE_LAYOUT_TRANSFER_DST_OPTIMAL
)

type BindableBuffer struct {
	Handle     RenderHandle
	ByteOffset uint32
	/** @brief Zero binds the whole buffer. */
	ByteSize uint32
}

type BindableImage struct {
	Handle        RenderHandle
	Mip           uint32
	Layer         uint32
	ImageLayout   ImageLayout
	SamplerHandle RenderHandle
}

type BindableSampler struct {
	Handle RenderHandle
}

/** @brief Binding slot plus the index of its first descriptor in the category array. */
type DescriptorSetLayoutBindingResource struct {
	Binding       DescriptorSetLayoutBinding
	ResourceIndex uint32
}

type BufferDescriptor struct {
	Binding         DescriptorSetLayoutBinding
	Resource        BindableBuffer
	ArrayOffset     uint32
	AdditionalFlags AdditionalDescriptorFlags
}

type ImageDescriptor struct {
	Binding         DescriptorSetLayoutBinding
	Resource        BindableImage
	ArrayOffset     uint32
	AdditionalFlags AdditionalDescriptorFlags
}

type SamplerDescriptor struct {
	Binding         DescriptorSetLayoutBinding
	Resource        BindableSampler
	ArrayOffset     uint32
	AdditionalFlags AdditionalDescriptorFlags
}

/**
 * @brief Snapshot of every resource bound to a descriptor set.
 * Bindings are ordered by layout position; the category arrays hold
 * DescriptorCount entries per binding.
 */
type DescriptorSetLayoutBindingResources struct {
	Bindings []DescriptorSetLayoutBindingResource
	Buffers  []BufferDescriptor
	Images   []ImageDescriptor
	Samplers []SamplerDescriptor
	/** @brief One bit per layout binding number that has a bound resource. */
	DescriptorMask uint64
	/** @brief One bit per entry of Bindings that has a bound resource. */
	BindingMask uint64
}

/** @brief Queue that records and owns the GPU work using a set. */
type GpuQueueType uint32

const (
	GPU_QUEUE_TYPE_UNDEFINED GpuQueueType = iota
	GPU_QUEUE_TYPE_GRAPHICS
	GPU_QUEUE_TYPE_COMPUTE
	GPU_QUEUE_TYPE_TRANSFER
)

type GpuQueue struct {
	Type  GpuQueueType
	Index uint32
}
