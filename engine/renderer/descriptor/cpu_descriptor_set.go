package descriptor

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// GpuState tracks the native object behind a logical descriptor set.
type GpuState uint8

const (
	// No native set exists yet. Creation is deferred until the first bind.
	GpuStateNotCreated GpuState = iota
	// The native set at CurrentGpuBufferingIndex matches the CPU mirror.
	GpuStateClean
	// The CPU mirror changed since the last native write.
	GpuStateDirty
)

func (s GpuState) String() string {
	switch s {
	case GpuStateClean:
		return "clean"
	case GpuStateDirty:
		return "dirty"
	default:
		return "not_created"
	}
}

type SetIndexType uint8

const (
	SetIndexTypeStatic SetIndexType = iota
	SetIndexTypeOneFrame

	setIndexTypeCount
)

/**
 * @brief CPU mirror of one logical descriptor set. G is the backend payload,
 * e.g. the buffered native sets for Vulkan.
 */
type CpuDescriptorSet[G any] struct {
	Bindings []metadata.DescriptorSetLayoutBindingResource
	Buffers  []metadata.BufferDescriptor
	Images   []metadata.ImageDescriptor
	Samplers []metadata.SamplerDescriptor
	/** @brief Dynamic uniform/storage buffers in binding order. */
	DynamicOffsetDescriptors []metadata.RenderHandle
	DescriptorMask           uint64
	BindingMask              uint64

	GpuState GpuState
	/** @brief Active slot of the buffered native sets. */
	CurrentGpuBufferingIndex uint32

	HasDynamicBarrierResources    bool
	HasPlatformConversionBindings bool
	HasPlatformBufferBindings     bool
	HasImmutableSamplers          bool
	/** @brief One bit per binding index that needs an immutable sampler. */
	ImmutableSamplerBitmask uint16

	GpuQueue metadata.GpuQueue

	Gpu G
}

func newCpuDescriptorSet[G any](bindings []metadata.DescriptorSetLayoutBinding) *CpuDescriptorSet[G] {
	set := &CpuDescriptorSet[G]{
		Bindings: make([]metadata.DescriptorSetLayoutBindingResource, 0, len(bindings)),
	}
	dynamicCount := 0
	for _, b := range bindings {
		count := descriptorCount(b)
		res := metadata.DescriptorSetLayoutBindingResource{Binding: b}
		switch {
		case b.DescriptorType.IsBuffer():
			res.ResourceIndex = uint32(len(set.Buffers))
			for i := uint32(0); i < count; i++ {
				set.Buffers = append(set.Buffers, metadata.BufferDescriptor{
					Binding:     b,
					Resource:    metadata.BindableBuffer{Handle: metadata.InvalidRenderHandle},
					ArrayOffset: i,
				})
			}
			if b.DescriptorType.IsDynamicBuffer() {
				dynamicCount += int(count)
			}
		case b.DescriptorType.IsImage():
			res.ResourceIndex = uint32(len(set.Images))
			for i := uint32(0); i < count; i++ {
				set.Images = append(set.Images, metadata.ImageDescriptor{
					Binding: b,
					Resource: metadata.BindableImage{
						Handle:        metadata.InvalidRenderHandle,
						SamplerHandle: metadata.InvalidRenderHandle,
					},
					ArrayOffset: i,
				})
			}
		case b.DescriptorType.IsSampler():
			res.ResourceIndex = uint32(len(set.Samplers))
			for i := uint32(0); i < count; i++ {
				set.Samplers = append(set.Samplers, metadata.SamplerDescriptor{
					Binding:     b,
					Resource:    metadata.BindableSampler{Handle: metadata.InvalidRenderHandle},
					ArrayOffset: i,
				})
			}
		}
		set.Bindings = append(set.Bindings, res)
	}
	set.DynamicOffsetDescriptors = make([]metadata.RenderHandle, 0, dynamicCount)
	return set
}

func descriptorCount(b metadata.DescriptorSetLayoutBinding) uint32 {
	if b.DescriptorCount == 0 {
		return 1
	}
	return b.DescriptorCount
}

// LayoutBindings returns the plain layout bindings of the set.
func (s *CpuDescriptorSet[G]) LayoutBindings() []metadata.DescriptorSetLayoutBinding {
	out := make([]metadata.DescriptorSetLayoutBinding, len(s.Bindings))
	for i := range s.Bindings {
		out[i] = s.Bindings[i].Binding
	}
	return out
}

func (s *CpuDescriptorSet[G]) snapshot() metadata.DescriptorSetLayoutBindingResources {
	return metadata.DescriptorSetLayoutBindingResources{
		Bindings:       append([]metadata.DescriptorSetLayoutBindingResource(nil), s.Bindings...),
		Buffers:        append([]metadata.BufferDescriptor(nil), s.Buffers...),
		Images:         append([]metadata.ImageDescriptor(nil), s.Images...),
		Samplers:       append([]metadata.SamplerDescriptor(nil), s.Samplers...),
		DescriptorMask: s.DescriptorMask,
		BindingMask:    s.BindingMask,
	}
}

func (s *CpuDescriptorSet[G]) matchesLayout(res *metadata.DescriptorSetLayoutBindingResources) bool {
	if len(res.Bindings) != len(s.Bindings) ||
		len(res.Buffers) != len(s.Buffers) ||
		len(res.Images) != len(s.Images) ||
		len(res.Samplers) != len(s.Samplers) {
		return false
	}
	for i := range s.Bindings {
		a, b := s.Bindings[i], res.Bindings[i]
		if a.Binding.Binding != b.Binding.Binding ||
			a.Binding.DescriptorType != b.Binding.DescriptorType ||
			a.ResourceIndex != b.ResourceIndex {
			return false
		}
	}
	return true
}

// copyFrom takes the descriptors and recomputes the derived flags.
func (s *CpuDescriptorSet[G]) copyFrom(res *metadata.DescriptorSetLayoutBindingResources) {
	copy(s.Buffers, res.Buffers)
	copy(s.Images, res.Images)
	copy(s.Samplers, res.Samplers)
	s.DescriptorMask = res.DescriptorMask
	s.BindingMask = res.BindingMask

	s.HasDynamicBarrierResources = false
	s.HasPlatformBufferBindings = false
	s.HasPlatformConversionBindings = false
	s.HasImmutableSamplers = false
	s.ImmutableSamplerBitmask = 0
	s.DynamicOffsetDescriptors = s.DynamicOffsetDescriptors[:0]

	for _, b := range s.Bindings {
		count := descriptorCount(b.Binding)
		dt := b.Binding.DescriptorType
		for i := uint32(0); i < count; i++ {
			idx := b.ResourceIndex + i
			switch {
			case dt.IsBuffer():
				h := s.Buffers[idx].Resource.Handle
				if h.HasFlag(metadata.HandleFlagDynamicTrack) {
					s.HasDynamicBarrierResources = true
				}
				if h.HasFlag(metadata.HandleFlagPlatformBuffer) {
					s.HasPlatformBufferBindings = true
				}
				if dt.IsDynamicBuffer() {
					s.DynamicOffsetDescriptors = append(s.DynamicOffsetDescriptors, h)
				}
			case dt.IsImage():
				img := s.Images[idx]
				if img.Resource.Handle.HasFlag(metadata.HandleFlagDynamicTrack) {
					s.HasDynamicBarrierResources = true
				}
				if dt != metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER {
					continue
				}
				if img.Resource.Handle.HasFlag(metadata.HandleFlagPlatformConversion) ||
					img.AdditionalFlags&metadata.ADDITIONAL_DESCRIPTOR_IMMUTABLE_SAMPLER_BIT != 0 {
					s.HasPlatformConversionBindings = true
					if b.Binding.Binding < metadata.MaxDescriptorSetBindingCount {
						s.HasImmutableSamplers = true
						s.ImmutableSamplerBitmask |= 1 << b.Binding.Binding
					}
				}
			}
		}
	}
}
