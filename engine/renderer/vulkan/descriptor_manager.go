package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/containers"
	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/math"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

type cpuSet = descriptor.CpuDescriptorSet[DescriptorSetData]

/**
 * @brief Descriptor set manager of one render node, backed by native pools.
 *
 * Static sets are allocated from one pool sized at ResetAndReserve, with
 * bufferingCount native sets per logical set. One-frame sets come from a
 * pool rebuilt every frame. Sets with platform conversion bindings live in
 * a separate single buffered pool whose layouts carry immutable samplers.
 */
type NodeContextDescriptorSetManagerVk struct {
	*descriptor.Manager[DescriptorSetData]

	device             DescriptorDevice
	resources          NativeResourceProvider
	bufferingCount     uint32
	platformMultiplier uint32

	staticPool   vk.DescriptorPool
	oneFramePool vk.DescriptorPool
	platformPool vk.DescriptorPool

	pending *containers.RingQueue[PendingDeallocation]
}

type ManagerConfig struct {
	Validation bool
	/** @brief Descriptor count factor of the platform pool. Zero selects the default. */
	PlatformConversionMultiplier uint32
}

func NewNodeContextDescriptorSetManagerVk(device DescriptorDevice, resources NativeResourceProvider,
	config ManagerConfig) *NodeContextDescriptorSetManagerVk {
	multiplier := config.PlatformConversionMultiplier
	if multiplier == 0 {
		multiplier = VULKAN_DEFAULT_PLATFORM_CONVERSION_MULTIPLIER
	}
	return &NodeContextDescriptorSetManagerVk{
		Manager:            descriptor.NewManager[DescriptorSetData](device, config.Validation),
		device:             device,
		resources:          resources,
		bufferingCount:     math.Clamp(device.CommandBufferingCount(), 1, VULKAN_MAX_BUFFERING_COUNT),
		platformMultiplier: multiplier,
		pending:            containers.NewRingQueue[PendingDeallocation](VULKAN_PENDING_DEALLOCATION_CAPACITY),
	}
}

func (m *NodeContextDescriptorSetManagerVk) BufferingCount() uint32 {
	return m.bufferingCount
}

func (m *NodeContextDescriptorSetManagerVk) PendingDeallocationCount() int {
	return m.pending.Len()
}

func (m *NodeContextDescriptorSetManagerVk) ResetAndReserve(counts metadata.DescriptorCounts) error {
	return m.ResetAndReserveMany([]metadata.DescriptorCounts{counts})
}

// ResetAndReserveMany retires the current static pool and creates a new one
// for maxSets * bufferingCount native sets.
func (m *NodeContextDescriptorSetManagerVk) ResetAndReserveMany(counts []metadata.DescriptorCounts) error {
	m.retire(m.staticPool, collectLayouts(m.Sets(descriptor.SetIndexTypeStatic)))
	m.staticPool = nil

	if err := m.Manager.ResetAndReserveMany(counts); err != nil {
		return err
	}
	if m.MaxSets() == 0 {
		return nil
	}

	var total metadata.DescriptorCounts
	for _, dc := range counts {
		total.AddCounts(dc)
	}
	pool, err := m.createPool(m.MaxSets()*m.bufferingCount, total, m.bufferingCount)
	if err != nil {
		return fmt.Errorf("reset and reserve %d sets: %w", m.MaxSets(), err)
	}
	m.staticPool = pool
	return nil
}

// BeginFrame retires the one-frame pool, advances the one-frame generation
// and destroys pools the GPU is done with.
func (m *NodeContextDescriptorSetManagerVk) BeginFrame() {
	m.retire(m.oneFramePool, collectLayouts(m.Sets(descriptor.SetIndexTypeOneFrame)))
	m.oneFramePool = nil

	m.Manager.BeginFrame()
	m.destroyPending(false)
}

// BeginBackendFrame builds the pools for the sets created during this frame.
// Runs after every node executed and before any command list is replayed.
func (m *NodeContextDescriptorSetManagerVk) BeginBackendFrame() {
	m.createOneFramePool()
	m.createPlatformPool()
}

func (m *NodeContextDescriptorSetManagerVk) createOneFramePool() {
	oneFrame := m.Sets(descriptor.SetIndexTypeOneFrame)
	if len(oneFrame) == 0 || m.oneFramePool != nil {
		return
	}
	var counts metadata.DescriptorCounts
	for _, set := range oneFrame {
		counts.AddCounts(descriptor.DescriptorCountsFromBindings(set.LayoutBindings()))
	}
	pool, err := m.createPool(uint32(len(oneFrame)), counts, 1)
	if err != nil {
		core.LogError("one-frame descriptor pool: %s", err.Error())
		return
	}
	m.oneFramePool = pool
}

// createPlatformPool rebuilds the additional pool every frame there is at
// least one platform conversion set. The previous pool and the layouts
// allocated against it are retired.
func (m *NodeContextDescriptorSetManagerVk) createPlatformPool() {
	var (
		counts  metadata.DescriptorCounts
		flagged uint32
		layouts []vk.DescriptorSetLayout
	)
	sets := append(append([]*cpuSet(nil), m.Sets(descriptor.SetIndexTypeStatic)...), m.Sets(descriptor.SetIndexTypeOneFrame)...)
	for _, set := range sets {
		if set.Gpu.AdditionalPlatformLayout != nil {
			layouts = append(layouts, set.Gpu.AdditionalPlatformLayout)
		}
		set.Gpu.AdditionalPlatformLayout = nil
		set.Gpu.AdditionalPlatformSet = nil
		if !set.HasPlatformConversionBindings {
			continue
		}
		flagged++
		counts.AddCounts(descriptor.DescriptorCountsFromBindings(set.LayoutBindings()))
	}
	m.retire(m.platformPool, layouts)
	m.platformPool = nil
	if flagged == 0 {
		return
	}
	pool, err := m.createPool(flagged, counts, m.platformMultiplier)
	if err != nil {
		core.LogError("platform conversion descriptor pool: %s", err.Error())
		return
	}
	m.platformPool = pool
}

// UpdateCpuDescriptorSet also resolves the immutable samplers of platform
// conversion bindings. A missing sampler is logged and the set is used without it.
func (m *NodeContextDescriptorSetManagerVk) UpdateCpuDescriptorSet(handle metadata.RenderHandle,
	resources metadata.DescriptorSetLayoutBindingResources, queue metadata.GpuQueue) bool {
	if !m.Manager.UpdateCpuDescriptorSet(handle, resources, queue) {
		return false
	}
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return false
	}
	set.Gpu.ImmutableSamplers = [metadata.MaxDescriptorSetBindingCount]vk.Sampler{}
	if !set.HasImmutableSamplers {
		return true
	}
	for _, img := range set.Images {
		binding := img.Binding.Binding
		if binding >= metadata.MaxDescriptorSetBindingCount || set.ImmutableSamplerBitmask&(1<<binding) == 0 {
			continue
		}
		if set.Gpu.ImmutableSamplers[binding] != nil {
			continue
		}
		sampler := m.resources.GetImmutableSampler(img.Resource.Handle)
		if sampler == nil {
			core.LogWarn("no immutable sampler for %s at binding %d", img.Resource.Handle, binding)
			continue
		}
		set.Gpu.ImmutableSamplers[binding] = sampler
	}
	return true
}

// UpdateDescriptorSetGpuHandle makes the native set match the CPU mirror.
// Runs right before the set is bound.
func (m *NodeContextDescriptorSetManagerVk) UpdateDescriptorSetGpuHandle(handle metadata.RenderHandle) {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		if m.ValidationEnabled() {
			core.LogError("update descriptor set gpu handle: %s", err.Error())
		}
		return
	}
	switch {
	case set.HasPlatformConversionBindings:
		m.updatePlatformSet(handle, set)
	case handle.HasFlag(metadata.HandleFlagOneFrame):
		m.updateOneFrameSet(handle, set)
	default:
		m.updateStaticSet(handle, set)
	}
}

func (m *NodeContextDescriptorSetManagerVk) updateStaticSet(handle metadata.RenderHandle, set *cpuSet) {
	if set.GpuState == descriptor.GpuStateClean {
		return
	}
	// a set that was platform converted so far has no buffered sets yet
	if set.GpuState == descriptor.GpuStateNotCreated || set.Gpu.BufferingSets[0] == nil {
		if m.staticPool == nil {
			core.LogError("descriptor set %s: no descriptor pool reserved", handle)
			return
		}
		layout, err := m.layout(set)
		if err != nil {
			core.LogError("descriptor set %s layout: %s", handle, err.Error())
			return
		}
		for i := uint32(0); i < m.bufferingCount; i++ {
			ds, err := m.device.AllocateDescriptorSet(m.staticPool, layout)
			if err != nil {
				core.LogError("descriptor set %s allocation: %s", handle, err.Error())
				return
			}
			set.Gpu.BufferingSets[i] = ds
		}
		// freshly allocated, nothing is in flight yet
		set.CurrentGpuBufferingIndex = 0
	} else {
		// the set written in the previous frames may still be in flight
		set.CurrentGpuBufferingIndex = (set.CurrentGpuBufferingIndex + 1) % m.bufferingCount
	}
	m.write(set, set.Gpu.BufferingSets[set.CurrentGpuBufferingIndex])
	set.GpuState = descriptor.GpuStateClean
}

func (m *NodeContextDescriptorSetManagerVk) updateOneFrameSet(handle metadata.RenderHandle, set *cpuSet) {
	if set.GpuState == descriptor.GpuStateNotCreated || set.Gpu.BufferingSets[0] == nil {
		if m.oneFramePool == nil {
			core.LogError("one-frame descriptor set %s: no pool for this frame", handle)
			return
		}
		layout, err := m.layout(set)
		if err != nil {
			core.LogError("one-frame descriptor set %s layout: %s", handle, err.Error())
			return
		}
		ds, err := m.device.AllocateDescriptorSet(m.oneFramePool, layout)
		if err != nil {
			core.LogError("one-frame descriptor set %s allocation: %s", handle, err.Error())
			return
		}
		set.Gpu.BufferingSets[0] = ds
	} else if set.GpuState == descriptor.GpuStateClean {
		return
	}
	set.CurrentGpuBufferingIndex = 0
	m.write(set, set.Gpu.BufferingSets[0])
	set.GpuState = descriptor.GpuStateClean
}

func (m *NodeContextDescriptorSetManagerVk) updatePlatformSet(handle metadata.RenderHandle, set *cpuSet) {
	if set.GpuState == descriptor.GpuStateClean && set.Gpu.AdditionalPlatformSet != nil {
		return
	}
	if m.platformPool == nil {
		core.LogError("platform descriptor set %s: no additional pool for this frame", handle)
		return
	}
	if set.Gpu.AdditionalPlatformLayout != nil {
		m.retire(nil, []vk.DescriptorSetLayout{set.Gpu.AdditionalPlatformLayout})
		set.Gpu.AdditionalPlatformLayout = nil
	}
	binds := layoutBindings(set, true)
	layout, err := m.device.CreateDescriptorSetLayout(&vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	})
	if err != nil {
		core.LogError("platform descriptor set %s layout: %s", handle, err.Error())
		return
	}
	set.Gpu.AdditionalPlatformLayout = layout
	ds, err := m.device.AllocateDescriptorSet(m.platformPool, layout)
	if err != nil {
		core.LogError("platform descriptor set %s allocation: %s", handle, err.Error())
		return
	}
	set.Gpu.AdditionalPlatformSet = ds
	m.write(set, ds)
	set.GpuState = descriptor.GpuStateClean
}

func (m *NodeContextDescriptorSetManagerVk) write(set *cpuSet, dst vk.DescriptorSet) {
	if dst == nil {
		return
	}
	if writes := descriptorWrites(set, dst, m.resources); len(writes) > 0 {
		m.device.UpdateDescriptorSets(writes)
	}
}

// GetDescriptorSet returns the native set to bind for the handle, nil when
// the set was never written.
func (m *NodeContextDescriptorSetManagerVk) GetDescriptorSet(handle metadata.RenderHandle) vk.DescriptorSet {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return nil
	}
	var ds vk.DescriptorSet
	if set.HasPlatformConversionBindings && set.Gpu.AdditionalPlatformSet != nil {
		ds = set.Gpu.AdditionalPlatformSet
	} else {
		ds = set.Gpu.BufferingSets[set.CurrentGpuBufferingIndex]
	}
	if ds == nil && m.ValidationEnabled() {
		core.LogError("descriptor set %s has no native set, bound without an update", handle)
	}
	return ds
}

// GetDescriptorSetLayout returns the layout a pipeline must be compatible
// with, creating it on first use.
func (m *NodeContextDescriptorSetManagerVk) GetDescriptorSetLayout(handle metadata.RenderHandle) vk.DescriptorSetLayout {
	set, err := m.DescriptorSet(handle)
	if err != nil {
		return nil
	}
	if set.HasPlatformConversionBindings && set.Gpu.AdditionalPlatformLayout != nil {
		return set.Gpu.AdditionalPlatformLayout
	}
	layout, err := m.layout(set)
	if err != nil {
		core.LogError("descriptor set %s layout: %s", handle, err.Error())
		return nil
	}
	return layout
}

func (m *NodeContextDescriptorSetManagerVk) layout(set *cpuSet) (vk.DescriptorSetLayout, error) {
	if set.Gpu.Layout != nil {
		return set.Gpu.Layout, nil
	}
	binds := layoutBindings(set, false)
	layout, err := m.device.CreateDescriptorSetLayout(&vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(binds)),
		PBindings:    binds,
	})
	if err != nil {
		return nil, err
	}
	set.Gpu.Layout = layout
	return layout, nil
}

func (m *NodeContextDescriptorSetManagerVk) createPool(maxSets uint32, counts metadata.DescriptorCounts, factor uint32) (vk.DescriptorPool, error) {
	sizes := vulkanPoolSizes(counts, factor)
	return m.device.CreateDescriptorPool(&vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	})
}

func (m *NodeContextDescriptorSetManagerVk) retire(pool vk.DescriptorPool, layouts []vk.DescriptorSetLayout) {
	if pool == nil && len(layouts) == 0 {
		return
	}
	m.pending.Enqueue(PendingDeallocation{
		FrameIndex: m.device.FrameCount(),
		Pool:       pool,
		Layouts:    layouts,
	})
}

// destroyPending pops retired pools in FIFO order. Unless forced, a pool is
// kept until bufferingCount + 1 frames have passed since its retirement.
func (m *NodeContextDescriptorSetManagerVk) destroyPending(force bool) {
	current := m.device.FrameCount()
	for !m.pending.IsEmpty() {
		next, err := m.pending.Peek()
		if err != nil {
			return
		}
		if !force && next.FrameIndex+uint64(m.bufferingCount)+1 >= current {
			return
		}
		if _, err := m.pending.Dequeue(); err != nil {
			return
		}
		for _, layout := range next.Layouts {
			m.device.DestroyDescriptorSetLayout(layout)
		}
		if next.Pool != nil {
			m.device.DestroyDescriptorPool(next.Pool)
		}
	}
}

// Destroy releases every native object now. The device must be idle.
func (m *NodeContextDescriptorSetManagerVk) Destroy() {
	for indexType := descriptor.SetIndexTypeStatic; indexType <= descriptor.SetIndexTypeOneFrame; indexType++ {
		sets := m.Sets(indexType)
		m.retire(nil, collectLayouts(sets))
		for _, set := range sets {
			set.Gpu = DescriptorSetData{}
			set.GpuState = descriptor.GpuStateNotCreated
		}
	}
	m.retire(m.staticPool, nil)
	m.retire(m.oneFramePool, nil)
	m.retire(m.platformPool, nil)
	m.staticPool, m.oneFramePool, m.platformPool = nil, nil, nil
	m.destroyPending(true)
}

func collectLayouts(sets []*cpuSet) []vk.DescriptorSetLayout {
	var layouts []vk.DescriptorSetLayout
	for _, set := range sets {
		if set.Gpu.Layout != nil {
			layouts = append(layouts, set.Gpu.Layout)
		}
		if set.Gpu.AdditionalPlatformLayout != nil {
			layouts = append(layouts, set.Gpu.AdditionalPlatformLayout)
		}
	}
	return layouts
}
