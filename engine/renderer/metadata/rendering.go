package metadata

type AttachmentLoadOp uint32

const (
	ATTACHMENT_LOAD_OP_LOAD AttachmentLoadOp = iota
	ATTACHMENT_LOAD_OP_CLEAR
	ATTACHMENT_LOAD_OP_DONT_CARE
)

type AttachmentStoreOp uint32

const (
	ATTACHMENT_STORE_OP_STORE AttachmentStoreOp = iota
	ATTACHMENT_STORE_OP_DONT_CARE
)

type RenderPassAttachment struct {
	Handle     RenderHandle
	Mip        uint32
	Layer      uint32
	LoadOp     AttachmentLoadOp
	StoreOp    AttachmentStoreOp
	ClearColor [4]float32
}

/** @brief A single subpass render pass writing into color attachments. */
type RenderPassDesc struct {
	Attachments []RenderPassAttachment
	RenderArea  ScissorDesc
}

type ViewportDesc struct {
	X        float32
	Y        float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type ScissorDesc struct {
	OffsetX int32
	OffsetY int32
	Width   uint32
	Height  uint32
}

/** @brief Viewport covering the whole size. */
func NewViewport(size Size2D) ViewportDesc {
	return ViewportDesc{Width: float32(size.Width), Height: float32(size.Height), MaxDepth: 1.0}
}

func NewScissor(size Size2D) ScissorDesc {
	return ScissorDesc{Width: size.Width, Height: size.Height}
}

type DynamicStateFlags uint32

const (
	DYNAMIC_STATE_VIEWPORT_BIT DynamicStateFlags = 1 << 0
	DYNAMIC_STATE_SCISSOR_BIT  DynamicStateFlags = 1 << 1
)

type ShaderSpecializationConstant struct {
	ShaderStage ShaderStageFlags
	ID          uint32
	/** @brief Byte offset into the data block. */
	Offset uint32
}

/** @brief Reflected constants plus the values to feed them. */
type ShaderSpecializationConstantData struct {
	Constants []ShaderSpecializationConstant
	Data      []uint32
}

type ThreadGroupSize struct {
	X uint32
	Y uint32
	Z uint32
}
