package metadata

type Format uint32

const (
	FORMAT_UNDEFINED Format = iota
	FORMAT_R8G8B8A8_UNORM
	FORMAT_R8G8B8A8_SRGB
	FORMAT_R16G16B16A16_SFLOAT
	FORMAT_B10G11R11_UFLOAT_PACK32
	FORMAT_D32_SFLOAT
	/** @brief Multi-planar YCbCr, only sampled through a conversion sampler. */
	FORMAT_G8_B8R8_2PLANE_420_UNORM
)

type ImageType uint32

const (
	IMAGE_TYPE_2D ImageType = iota
	IMAGE_TYPE_3D
)

type ImageUsageFlags uint32

const (
	IMAGE_USAGE_TRANSFER_SRC_BIT         ImageUsageFlags = 0x00000001
	IMAGE_USAGE_TRANSFER_DST_BIT         ImageUsageFlags = 0x00000002
	IMAGE_USAGE_SAMPLED_BIT              ImageUsageFlags = 0x00000004
	IMAGE_USAGE_STORAGE_BIT              ImageUsageFlags = 0x00000008
	IMAGE_USAGE_COLOR_ATTACHMENT_BIT     ImageUsageFlags = 0x00000010
	IMAGE_USAGE_INPUT_ATTACHMENT_BIT     ImageUsageFlags = 0x00000080
	IMAGE_USAGE_DEPTH_STENCIL_ATTACH_BIT ImageUsageFlags = 0x00000020
)

type EngineImageCreationFlags uint32

const (
	ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS EngineImageCreationFlags = 0x00000001
	ENGINE_IMAGE_CREATION_RESET_STATE      EngineImageCreationFlags = 0x00000002
)

/**
 * @brief Description of a GPU image as the resource manager creates it.
 */
type GpuImageDesc struct {
	ImageType           ImageType
	Format              Format
	UsageFlags          ImageUsageFlags
	EngineCreationFlags EngineImageCreationFlags
	Width               uint32
	Height              uint32
	Depth               uint32
	MipCount            uint32
	LayerCount          uint32
	/** @brief Set for platform hw buffers that need an immutable conversion sampler. */
	PlatformConversion bool
}

type Size2D struct {
	Width  uint32
	Height uint32
}

type Filter uint32

const (
	FILTER_NEAREST Filter = iota
	FILTER_LINEAR
)

type SamplerAddressMode uint32

const (
	SAMPLER_ADDRESS_MODE_REPEAT SamplerAddressMode = iota
	SAMPLER_ADDRESS_MODE_CLAMP_TO_EDGE
)

type GpuSamplerDesc struct {
	MagFilter   Filter
	MinFilter   Filter
	AddressMode SamplerAddressMode
}

type BufferUsageFlags uint32

const (
	BUFFER_USAGE_UNIFORM_BUFFER_BIT BufferUsageFlags = 0x00000010
	BUFFER_USAGE_STORAGE_BUFFER_BIT BufferUsageFlags = 0x00000020
	BUFFER_USAGE_INDIRECT_BIT       BufferUsageFlags = 0x00000100
)

type GpuBufferDesc struct {
	UsageFlags BufferUsageFlags
	ByteSize   uint32
}
