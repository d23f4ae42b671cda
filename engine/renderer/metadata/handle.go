package metadata

import (
	"fmt"
	"sync/atomic"
)

/** @brief The kind of resource a render handle points to. Fits in 4 bits. */
type RenderHandleType uint8

const (
	RenderHandleTypeUndefined RenderHandleType = iota
	RenderHandleTypeGpuBuffer
	RenderHandleTypeGpuImage
	RenderHandleTypeGpuSampler
	RenderHandleTypeDescriptorSet
	RenderHandleTypeShaderStateObject
	RenderHandleTypeComputeShaderStateObject
	RenderHandleTypeGraphicsPso
	RenderHandleTypeComputePso
	RenderHandleTypePipelineLayout
	RenderHandleTypeGraphicsState
)

func (t RenderHandleType) String() string {
	switch t {
	case RenderHandleTypeGpuBuffer:
		return "gpu_buffer"
	case RenderHandleTypeGpuImage:
		return "gpu_image"
	case RenderHandleTypeGpuSampler:
		return "gpu_sampler"
	case RenderHandleTypeDescriptorSet:
		return "descriptor_set"
	case RenderHandleTypeShaderStateObject:
		return "shader"
	case RenderHandleTypeComputeShaderStateObject:
		return "compute_shader"
	case RenderHandleTypeGraphicsPso:
		return "graphics_pso"
	case RenderHandleTypeComputePso:
		return "compute_pso"
	case RenderHandleTypePipelineLayout:
		return "pipeline_layout"
	case RenderHandleTypeGraphicsState:
		return "graphics_state"
	default:
		return "undefined"
	}
}

/** @brief Additional data bits stored in a render handle. 12 bits available. */
type RenderHandleFlags uint16

const (
	/** @brief Resource state is tracked by the render graph, needs dynamic barriers. */
	HandleFlagDynamicTrack RenderHandleFlags = 1 << 0
	/** @brief Descriptor set that lives for one frame only. */
	HandleFlagOneFrame RenderHandleFlags = 1 << 1
	/** @brief Image needs a platform conversion through an immutable sampler (e.g. YCbCr hw buffer). */
	HandleFlagPlatformConversion RenderHandleFlags = 1 << 2
	/** @brief Buffer backed by a platform object. */
	HandleFlagPlatformBuffer RenderHandleFlags = 1 << 3
	/** @brief Descriptor set created from a reset pool. Diagnostics only. */
	HandleFlagReset RenderHandleFlags = 1 << 4
)

const (
	handleTypeBits       = 4
	handleFlagsBits      = 12
	handleIndexBits      = 24
	handleGenerationBits = 8

	handleFlagsShift      = handleTypeBits
	handleIndexShift      = handleFlagsShift + handleFlagsBits
	handleGenerationShift = handleIndexShift + handleIndexBits

	handleTypeMask       uint64 = (1 << handleTypeBits) - 1
	handleFlagsMask      uint64 = (1 << handleFlagsBits) - 1
	handleIndexMask      uint64 = (1 << handleIndexBits) - 1
	handleGenerationMask uint64 = (1 << handleGenerationBits) - 1

	/** @brief Largest index a render handle can carry. */
	MaxRenderHandleIndex uint32 = uint32(handleIndexMask) - 1
)

/**
 * @brief Opaque 64-bit key into a manager owned table.
 * Layout, low to high: type (4), flags (12), index (24), generation (8).
 * A handle never owns memory; equality is plain value equality.
 */
type RenderHandle struct {
	ID uint64
}

/** @brief The invalid handle. All bits set. */
var InvalidRenderHandle = RenderHandle{ID: ^uint64(0)}

func NewRenderHandle(handleType RenderHandleType, index uint32, generation uint8, flags RenderHandleFlags) RenderHandle {
	if index > MaxRenderHandleIndex {
		return InvalidRenderHandle
	}
	id := uint64(handleType)&handleTypeMask |
		(uint64(flags)&handleFlagsMask)<<handleFlagsShift |
		(uint64(index)&handleIndexMask)<<handleIndexShift |
		(uint64(generation)&handleGenerationMask)<<handleGenerationShift
	return RenderHandle{ID: id}
}

func (h RenderHandle) IsValid() bool {
	return h.ID != InvalidRenderHandle.ID
}

func (h RenderHandle) Type() RenderHandleType {
	if !h.IsValid() {
		return RenderHandleTypeUndefined
	}
	return RenderHandleType(h.ID & handleTypeMask)
}

func (h RenderHandle) Flags() RenderHandleFlags {
	if !h.IsValid() {
		return 0
	}
	return RenderHandleFlags((h.ID >> handleFlagsShift) & handleFlagsMask)
}

func (h RenderHandle) HasFlag(flag RenderHandleFlags) bool {
	return h.Flags()&flag == flag
}

func (h RenderHandle) Index() uint32 {
	return uint32((h.ID >> handleIndexShift) & handleIndexMask)
}

func (h RenderHandle) Generation() uint8 {
	return uint8((h.ID >> handleGenerationShift) & handleGenerationMask)
}

func (h RenderHandle) String() string {
	if !h.IsValid() {
		return "RenderHandle(invalid)"
	}
	return fmt.Sprintf("RenderHandle(%s idx=%d gen=%d flags=%#x)", h.Type(), h.Index(), h.Generation(), uint16(h.Flags()))
}

type handleCounter struct {
	count     atomic.Int32
	onRelease func(RenderHandle)
}

/**
 * @brief Reference counted owner of a render handle. The owning manager is
 * notified once the last reference is released.
 */
type RenderHandleReference struct {
	handle   RenderHandle
	counter  *handleCounter
	released atomic.Bool
}

func NewRenderHandleReference(handle RenderHandle, onRelease func(RenderHandle)) *RenderHandleReference {
	c := &handleCounter{onRelease: onRelease}
	c.count.Store(1)
	return &RenderHandleReference{
		handle:  handle,
		counter: c,
	}
}

/** @brief Returns the raw handle, invalid for nil or released references. */
func (r *RenderHandleReference) Handle() RenderHandle {
	if r == nil || r.released.Load() {
		return InvalidRenderHandle
	}
	return r.handle
}

func (r *RenderHandleReference) IsValid() bool {
	return r.Handle().IsValid()
}

/** @brief Adds a new reference to the same handle. */
func (r *RenderHandleReference) Clone() *RenderHandleReference {
	if r == nil || r.released.Load() {
		return nil
	}
	r.counter.count.Add(1)
	return &RenderHandleReference{
		handle:  r.handle,
		counter: r.counter,
	}
}

func (r *RenderHandleReference) RefCount() int32 {
	if r == nil || r.counter == nil {
		return 0
	}
	return r.counter.count.Load()
}

/** @brief Drops this reference. Releasing twice is a no-op. */
func (r *RenderHandleReference) Release() {
	if r == nil || r.counter == nil || !r.released.CompareAndSwap(false, true) {
		return
	}
	if r.counter.count.Add(-1) == 0 && r.counter.onRelease != nil {
		r.counter.onRelease(r.handle)
	}
}
