package descriptor

import (
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// DeviceInfo is the part of the device a descriptor manager reads every frame.
type DeviceInfo interface {
	// FrameCount is the monotonically increasing index of the frame being recorded.
	FrameCount() uint64
	// CommandBufferingCount is the number of frames the CPU may run ahead of the GPU.
	CommandBufferingCount() uint32
}

// NodeContextDescriptorSetManager owns the descriptor sets of one render node.
// Each backend provides an implementation.
type NodeContextDescriptorSetManager interface {
	// ResetAndReserve drops every static set and reserves room for the counts.
	// Called once per render graph compile.
	ResetAndReserve(counts metadata.DescriptorCounts) error
	ResetAndReserveMany(counts []metadata.DescriptorCounts) error

	CreateDescriptorSet(bindings []metadata.DescriptorSetLayoutBinding) (metadata.RenderHandle, error)
	CreateDescriptorSets(bindingsList [][]metadata.DescriptorSetLayoutBinding) ([]metadata.RenderHandle, error)
	CreateDescriptorSetFromLayout(set uint32, pipelineLayout metadata.PipelineLayout) (metadata.RenderHandle, error)
	// CreateOneFrameDescriptorSet returns a handle that is only valid until the next BeginFrame.
	CreateOneFrameDescriptorSet(bindings []metadata.DescriptorSetLayoutBinding) (metadata.RenderHandle, error)

	CreateDescriptorSetBinder(handle metadata.RenderHandle, bindings []metadata.DescriptorSetLayoutBinding) *DescriptorSetBinder
	CreatePipelineDescriptorSetBinder(pipelineLayout metadata.PipelineLayout) (*PipelineDescriptorSetBinder, error)
	CreatePipelineDescriptorSetBinderWithHandles(pipelineLayout metadata.PipelineLayout, handles []metadata.RenderHandle,
		bindingsList [][]metadata.DescriptorSetLayoutBinding) (*PipelineDescriptorSetBinder, error)

	GetCpuDescriptorSetData(handle metadata.RenderHandle) metadata.DescriptorSetLayoutBindingResources
	GetDynamicOffsetDescriptors(handle metadata.RenderHandle) []metadata.RenderHandle

	BeginFrame()

	HasDynamicBarrierResources(handle metadata.RenderHandle) bool
	GetDynamicOffsetDescriptorCount(handle metadata.RenderHandle) uint32
	HasPlatformBufferBindings(handle metadata.RenderHandle) bool
	HasPlatformConversionBindings(handle metadata.RenderHandle) bool

	UpdateCpuDescriptorSet(handle metadata.RenderHandle, resources metadata.DescriptorSetLayoutBindingResources, queue metadata.GpuQueue) bool
	// UpdateDescriptorSetGpuHandle runs right before the set is bound in a command list.
	UpdateDescriptorSetGpuHandle(handle metadata.RenderHandle)

	ValidateDescriptorSetHandle(handle metadata.RenderHandle) error
}

/**
 * @brief Backend independent part of a node context descriptor set manager.
 * Backends embed it and add the native side on top.
 */
type Manager[G any] struct {
	device     DeviceInfo
	validation bool

	maxSets uint32
	// Advances on every reset so handles from a previous compile are rejected.
	staticGeneration uint8
	// Advances on every BeginFrame.
	oneFrameGeneration uint8

	sets [setIndexTypeCount][]*CpuDescriptorSet[G]
}

func NewManager[G any](device DeviceInfo, validation bool) *Manager[G] {
	return &Manager[G]{
		device:     device,
		validation: validation,
	}
}

func (m *Manager[G]) Device() DeviceInfo {
	return m.device
}

func (m *Manager[G]) ValidationEnabled() bool {
	return m.validation
}

func (m *Manager[G]) MaxSets() uint32 {
	return m.maxSets
}

func (m *Manager[G]) OneFrameGeneration() uint8 {
	return m.oneFrameGeneration
}

// Sets gives backends access to the CPU tables, e.g. to size pools.
func (m *Manager[G]) Sets(indexType SetIndexType) []*CpuDescriptorSet[G] {
	return m.sets[indexType]
}

func (m *Manager[G]) ResetAndReserve(counts metadata.DescriptorCounts) error {
	return m.ResetAndReserveMany([]metadata.DescriptorCounts{counts})
}

func (m *Manager[G]) ResetAndReserveMany(counts []metadata.DescriptorCounts) error {
	m.maxSets = 0
	for _, dc := range counts {
		for _, c := range dc.Counts {
			// every set holds at least one descriptor
			m.maxSets += c.Count
		}
	}
	m.sets[SetIndexTypeStatic] = make([]*CpuDescriptorSet[G], 0, m.maxSets)
	m.staticGeneration++
	return nil
}

func (m *Manager[G]) CreateDescriptorSet(bindings []metadata.DescriptorSetLayoutBinding) (metadata.RenderHandle, error) {
	static := m.sets[SetIndexTypeStatic]
	if uint32(len(static)) >= m.maxSets {
		core.LogError("descriptor set capacity exhausted (max sets %d)", m.maxSets)
		return metadata.InvalidRenderHandle, fmt.Errorf("create descriptor set: %w", core.ErrDescriptorSetCapacity)
	}
	m.validateBindingCount(bindings)

	index := uint32(len(static))
	m.sets[SetIndexTypeStatic] = append(static, newCpuDescriptorSet[G](bindings))
	return metadata.NewRenderHandle(metadata.RenderHandleTypeDescriptorSet, index, m.staticGeneration, 0), nil
}

func (m *Manager[G]) CreateDescriptorSets(bindingsList [][]metadata.DescriptorSetLayoutBinding) ([]metadata.RenderHandle, error) {
	handles := make([]metadata.RenderHandle, 0, len(bindingsList))
	for _, bindings := range bindingsList {
		h, err := m.CreateDescriptorSet(bindings)
		if err != nil {
			return handles, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func (m *Manager[G]) CreateDescriptorSetFromLayout(set uint32, pipelineLayout metadata.PipelineLayout) (metadata.RenderHandle, error) {
	if !pipelineLayout.HasSet(set) {
		core.LogError("descriptor set index %d not used by pipeline layout", set)
		return metadata.InvalidRenderHandle, fmt.Errorf("create descriptor set %d: %w", set, core.ErrInvalidSetIndex)
	}
	return m.CreateDescriptorSet(pipelineLayout.DescriptorSetLayouts[set].Bindings)
}

func (m *Manager[G]) CreateOneFrameDescriptorSet(bindings []metadata.DescriptorSetLayoutBinding) (metadata.RenderHandle, error) {
	m.validateBindingCount(bindings)
	oneFrame := m.sets[SetIndexTypeOneFrame]
	index := uint32(len(oneFrame))
	m.sets[SetIndexTypeOneFrame] = append(oneFrame, newCpuDescriptorSet[G](bindings))
	return metadata.NewRenderHandle(metadata.RenderHandleTypeDescriptorSet, index, m.oneFrameGeneration, metadata.HandleFlagOneFrame), nil
}

func (m *Manager[G]) CreateDescriptorSetBinder(handle metadata.RenderHandle, bindings []metadata.DescriptorSetLayoutBinding) *DescriptorSetBinder {
	return NewDescriptorSetBinder(handle, bindings)
}

func (m *Manager[G]) CreatePipelineDescriptorSetBinder(pipelineLayout metadata.PipelineLayout) (*PipelineDescriptorSetBinder, error) {
	handles := make([]metadata.RenderHandle, 0, pipelineLayout.DescriptorSetCount)
	bindingsList := make([][]metadata.DescriptorSetLayoutBinding, 0, pipelineLayout.DescriptorSetCount)
	for set := uint32(0); set < metadata.MaxDescriptorSetCount; set++ {
		if !pipelineLayout.HasSet(set) {
			continue
		}
		bindings := pipelineLayout.DescriptorSetLayouts[set].Bindings
		h, err := m.CreateDescriptorSet(bindings)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
		bindingsList = append(bindingsList, bindings)
	}
	return NewPipelineDescriptorSetBinder(pipelineLayout, handles, bindingsList)
}

func (m *Manager[G]) CreatePipelineDescriptorSetBinderWithHandles(pipelineLayout metadata.PipelineLayout,
	handles []metadata.RenderHandle, bindingsList [][]metadata.DescriptorSetLayoutBinding) (*PipelineDescriptorSetBinder, error) {
	return NewPipelineDescriptorSetBinder(pipelineLayout, handles, bindingsList)
}

// BeginFrame clears the one-frame table and moves to the next one-frame generation.
func (m *Manager[G]) BeginFrame() {
	previous := len(m.sets[SetIndexTypeOneFrame])
	m.sets[SetIndexTypeOneFrame] = make([]*CpuDescriptorSet[G], 0, previous)
	m.oneFrameGeneration++
}

// ValidateDescriptorSetHandle reports why a handle cannot be used in this frame.
func (m *Manager[G]) ValidateDescriptorSetHandle(handle metadata.RenderHandle) error {
	_, err := m.DescriptorSet(handle)
	return err
}

// DescriptorSet resolves a handle to its CPU mirror.
func (m *Manager[G]) DescriptorSet(handle metadata.RenderHandle) (*CpuDescriptorSet[G], error) {
	if handle.Type() != metadata.RenderHandleTypeDescriptorSet {
		return nil, fmt.Errorf("%s: %w", handle, core.ErrInvalidHandle)
	}
	indexType := SetIndexTypeStatic
	generation := m.staticGeneration
	if handle.HasFlag(metadata.HandleFlagOneFrame) {
		indexType = SetIndexTypeOneFrame
		generation = m.oneFrameGeneration
	}
	if handle.Generation() != generation {
		if indexType == SetIndexTypeOneFrame {
			if m.validation {
				core.LogError("stale one-frame descriptor set handle %s (current generation %d)", handle, generation)
			}
			return nil, fmt.Errorf("%s: %w", handle, core.ErrStaleOneFrameHandle)
		}
		return nil, fmt.Errorf("%s from a previous reset: %w", handle, core.ErrInvalidHandle)
	}
	sets := m.sets[indexType]
	index := handle.Index()
	if index >= uint32(len(sets)) {
		return nil, fmt.Errorf("%s out of range: %w", handle, core.ErrInvalidHandle)
	}
	return sets[index], nil
}

func (m *Manager[G]) GetCpuDescriptorSetData(handle metadata.RenderHandle) metadata.DescriptorSetLayoutBindingResources {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return metadata.DescriptorSetLayoutBindingResources{}
	}
	return set.snapshot()
}

// GetDynamicOffsetDescriptors returns a copy in binding order.
func (m *Manager[G]) GetDynamicOffsetDescriptors(handle metadata.RenderHandle) []metadata.RenderHandle {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return nil
	}
	return append([]metadata.RenderHandle(nil), set.DynamicOffsetDescriptors...)
}

func (m *Manager[G]) HasDynamicBarrierResources(handle metadata.RenderHandle) bool {
	set, err := m.DescriptorSet(handle)
	return err == nil && set.HasDynamicBarrierResources
}

func (m *Manager[G]) GetDynamicOffsetDescriptorCount(handle metadata.RenderHandle) uint32 {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return 0
	}
	return uint32(len(set.DynamicOffsetDescriptors))
}

func (m *Manager[G]) HasPlatformBufferBindings(handle metadata.RenderHandle) bool {
	set, err := m.DescriptorSet(handle)
	return err == nil && set.HasPlatformBufferBindings
}

func (m *Manager[G]) HasPlatformConversionBindings(handle metadata.RenderHandle) bool {
	set, err := m.DescriptorSet(handle)
	return err == nil && set.HasPlatformConversionBindings
}

// UpdateCpuDescriptorSet writes the binder output into the CPU mirror and
// marks the native set dirty.
func (m *Manager[G]) UpdateCpuDescriptorSet(handle metadata.RenderHandle, resources metadata.DescriptorSetLayoutBindingResources,
	queue metadata.GpuQueue) bool {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		if m.validation {
			core.LogError("update cpu descriptor set: %s", err.Error())
		}
		return false
	}
	if !set.matchesLayout(&resources) {
		core.LogError("update cpu descriptor set %s: %s", handle, core.ErrBindingLayoutMismatch.Error())
		return false
	}
	set.copyFrom(&resources)
	if set.GpuState == GpuStateClean {
		set.GpuState = GpuStateDirty
	}
	set.GpuQueue = queue
	return true
}

func (m *Manager[G]) validateBindingCount(bindings []metadata.DescriptorSetLayoutBinding) {
	if !m.validation {
		return
	}
	if uint32(len(bindings)) > metadata.MaxDescriptorSetBindingCount {
		core.LogWarn("descriptor set has %d bindings, max %d: %s", len(bindings),
			metadata.MaxDescriptorSetBindingCount, core.ErrTooManyBindings.Error())
	}
	if len(bindings) > metadata.MaxBindingMaskCount {
		core.LogError("descriptor set has %d bindings, binding mask tracks only %d", len(bindings), metadata.MaxBindingMaskCount)
	}
}
