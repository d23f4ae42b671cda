package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/testbed"
)

var graphicsQueue = metadata.GpuQueue{Type: metadata.GPU_QUEUE_TYPE_GRAPHICS}

func imageBindings() []metadata.DescriptorSetLayoutBinding {
	return []metadata.DescriptorSetLayoutBinding{
		{Binding: 0, DescriptorType: metadata.DESCRIPTOR_TYPE_COMBINED_IMAGE_SAMPLER, DescriptorCount: 1, ShaderStageFlags: metadata.SHADER_STAGE_FRAGMENT_BIT},
	}
}

type managerFixture struct {
	t         *testing.T
	device    *testbed.NullDescriptorDevice
	resources *testbed.GpuResources
	m         *NodeContextDescriptorSetManagerVk
	counts    metadata.DescriptorCounts
	image     metadata.RenderHandle
	sampler   metadata.RenderHandle
}

func newManagerFixture(t *testing.T, buffering uint32) *managerFixture {
	t.Helper()
	device := testbed.NewNullDescriptorDevice(buffering)
	resources := testbed.NewGpuResources()
	f := &managerFixture{
		t:         t,
		device:    device,
		resources: resources,
		m:         NewNodeContextDescriptorSetManagerVk(device, resources, ManagerConfig{Validation: true}),
		image:     resources.GetImageHandle(testbed.DefaultImageWhite),
		sampler:   resources.GetSamplerHandle(testbed.DefaultSampler),
	}
	for i := 0; i < 4; i++ {
		f.counts.AddCounts(descriptor.DescriptorCountsFromBindings(imageBindings()))
	}
	require.NoError(t, f.m.ResetAndReserve(f.counts))
	return f
}

// update writes image into the CPU mirror of h.
func (f *managerFixture) update(h, image metadata.RenderHandle) {
	f.t.Helper()
	binder := f.m.CreateDescriptorSetBinder(h, imageBindings())
	require.True(f.t, binder.BindImage(0, metadata.BindableImage{
		Handle:        image,
		ImageLayout:   metadata.IMAGE_LAYOUT_SHADER_READ_ONLY_OPTIMAL,
		SamplerHandle: f.sampler,
	}))
	require.True(f.t, f.m.UpdateCpuDescriptorSet(h, binder.GetDescriptorSetLayoutBindingResources(), graphicsQueue))
}

// bind does what the backend does when a list binds h.
func (f *managerFixture) bind(h metadata.RenderHandle) vk.DescriptorSet {
	f.m.UpdateDescriptorSetGpuHandle(h)
	ds := f.m.GetDescriptorSet(h)
	if ds != nil {
		f.device.MarkBound(ds)
	}
	return ds
}

// frame runs one frame: record runs between the node and backend phases.
func (f *managerFixture) frame(record func(), submit func()) {
	f.m.BeginFrame()
	if record != nil {
		record()
	}
	f.m.BeginBackendFrame()
	if submit != nil {
		submit()
	}
	require.NoError(f.t, f.device.EndFrame())
}

func (f *managerFixture) shutdown() {
	require.NoError(f.t, f.device.WaitIdle())
	f.m.Destroy()
	assert.Empty(f.t, f.device.Violations())
	assert.Zero(f.t, f.device.LivePoolCount())
	assert.Zero(f.t, f.device.LiveLayoutCount())
}

func TestBufferingCountClamped(t *testing.T) {
	for _, tc := range []struct {
		device   uint32
		expected uint32
	}{
		{device: 0, expected: 1},
		{device: 1, expected: 1},
		{device: 3, expected: 3},
		{device: 9, expected: VULKAN_MAX_BUFFERING_COUNT},
	} {
		m := NewNodeContextDescriptorSetManagerVk(testbed.NewNullDescriptorDevice(tc.device), testbed.NewGpuResources(), ManagerConfig{})
		assert.Equal(t, tc.expected, m.BufferingCount(), "device buffering %d", tc.device)
	}
}

func TestStaticPoolSizedForEveryBufferedSet(t *testing.T) {
	f := newManagerFixture(t, 3)
	h, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, f.image)

	var ds vk.DescriptorSet
	f.frame(nil, func() { ds = f.bind(h) })
	require.NotNil(t, ds)
	assert.Equal(t, f.m.MaxSets()*3, f.device.PoolMaxSets(f.device.PoolOf(ds)))
	f.shutdown()
}

func TestRingBufferNonAliasing(t *testing.T) {
	for _, buffering := range []uint32{1, 2, 3, 4} {
		f := newManagerFixture(t, buffering)
		h, err := f.m.CreateDescriptorSet(imageBindings())
		require.NoError(t, err)
		f.update(h, f.image)
		f.frame(nil, func() { f.bind(h) })

		set, err := f.m.DescriptorSet(h)
		require.NoError(t, err)
		start := set.CurrentGpuBufferingIndex

		visited := make(map[uint32]vk.DescriptorSet)
		for i := uint32(0); i < buffering; i++ {
			var ds vk.DescriptorSet
			f.frame(func() { f.update(h, f.image) }, func() { ds = f.bind(h) })
			require.NotNil(t, ds)
			visited[set.CurrentGpuBufferingIndex] = ds
			assert.Equal(t, descriptor.GpuStateClean, set.GpuState)
		}

		assert.Equal(t, start, set.CurrentGpuBufferingIndex, "buffering %d", buffering)
		assert.Len(t, visited, int(buffering))
		natives := make(map[vk.DescriptorSet]struct{})
		for _, ds := range visited {
			natives[ds] = struct{}{}
		}
		assert.Len(t, natives, int(buffering), "every slot owns its own native set")
		// no write ever hit a set a frame in flight still reads
		assert.Empty(t, f.device.Violations())
		f.shutdown()
	}
}

func TestFirstWriteUsesSlotZero(t *testing.T) {
	for _, buffering := range []uint32{1, 2, 3} {
		f := newManagerFixture(t, buffering)
		h, err := f.m.CreateDescriptorSet(imageBindings())
		require.NoError(t, err)
		f.update(h, f.image)

		set, err := f.m.DescriptorSet(h)
		require.NoError(t, err)
		require.Equal(t, descriptor.GpuStateNotCreated, set.GpuState)

		var ds vk.DescriptorSet
		f.frame(nil, func() { ds = f.bind(h) })
		assert.Equal(t, uint32(0), set.CurrentGpuBufferingIndex, "buffering %d", buffering)
		assert.True(t, ds == set.Gpu.BufferingSets[0], "buffering %d", buffering)
		assert.NotEmpty(t, f.device.SetWrites(set.Gpu.BufferingSets[0]))
		for i := uint32(1); i < buffering; i++ {
			assert.Empty(t, f.device.SetWrites(set.Gpu.BufferingSets[i]), "slot %d written before use", i)
		}

		if buffering > 1 {
			f.frame(func() { f.update(h, f.image) }, func() { ds = f.bind(h) })
			assert.Equal(t, uint32(1), set.CurrentGpuBufferingIndex)
			assert.True(t, ds == set.Gpu.BufferingSets[1])
		}
		f.shutdown()
	}
}

func TestCleanSetIsNotRewritten(t *testing.T) {
	f := newManagerFixture(t, 2)
	h, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, f.image)

	var first, second vk.DescriptorSet
	f.frame(nil, func() { first = f.bind(h) })
	writes := f.device.WriteCount()
	f.frame(nil, func() { second = f.bind(h) })

	assert.True(t, first == second, "a clean set binds the same native set")
	assert.Equal(t, writes, f.device.WriteCount())
	f.shutdown()
}

func TestDescriptorWritesFollowMirror(t *testing.T) {
	f := newManagerFixture(t, 2)
	h, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, f.image)

	var ds vk.DescriptorSet
	f.frame(nil, func() { ds = f.bind(h) })
	writes := f.device.SetWrites(ds)
	require.Len(t, writes, 1)
	require.Len(t, writes[0].PImageInfo, 1)
	assert.True(t, f.resources.GetImageView(f.image, 0, 0) == writes[0].PImageInfo[0].ImageView)
	assert.True(t, f.resources.GetSampler(f.sampler) == writes[0].PImageInfo[0].Sampler)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, writes[0].DescriptorType)
	f.shutdown()
}

func TestDeferredPoolDestruction(t *testing.T) {
	const buffering = 3
	f := newManagerFixture(t, buffering)
	h, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, f.image)

	var old vk.DescriptorSet
	for i := 0; i < buffering; i++ {
		f.frame(nil, func() { old = f.bind(h) })
	}
	oldPool := f.device.PoolOf(old)
	require.NotNil(t, oldPool)

	retiredAt := f.device.FrameCount()
	require.NoError(t, f.m.ResetAndReserve(f.counts))
	assert.Equal(t, 1, f.m.PendingDeallocationCount())
	assert.ErrorIs(t, f.m.ValidateDescriptorSetHandle(h), core.ErrInvalidHandle)

	h, err = f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, f.image)

	for f.device.FrameCount() <= retiredAt+buffering {
		f.frame(nil, func() { f.bind(h) })
		assert.False(t, f.device.IsPoolDestroyed(oldPool), "pool destroyed in frame %d", f.device.FrameCount()-1)
	}
	for i := 0; i < 2; i++ {
		f.frame(nil, func() { f.bind(h) })
	}
	assert.True(t, f.device.IsPoolDestroyed(oldPool))
	assert.Zero(t, f.m.PendingDeallocationCount())
	assert.Empty(t, f.device.Violations())
	f.shutdown()
}

func TestIdempotentReset(t *testing.T) {
	f := newManagerFixture(t, 3)
	maxSets := f.m.MaxSets()
	assert.Equal(t, 1, f.device.LivePoolCount())

	require.NoError(t, f.m.ResetAndReserve(f.counts))
	assert.Equal(t, maxSets, f.m.MaxSets())
	assert.Equal(t, 1, f.m.PendingDeallocationCount(), "first pool queued once")
	assert.Equal(t, 2, f.device.LivePoolCount())

	for i := 0; i < 6; i++ {
		f.frame(nil, nil)
	}
	assert.Zero(t, f.m.PendingDeallocationCount())
	assert.Equal(t, 1, f.device.LivePoolCount())
	// a double destroy would be reported by the device
	assert.Empty(t, f.device.Violations())
	f.shutdown()
}

func TestResetWithoutCountsCreatesNoPool(t *testing.T) {
	device := testbed.NewNullDescriptorDevice(2)
	m := NewNodeContextDescriptorSetManagerVk(device, testbed.NewGpuResources(), ManagerConfig{Validation: true})
	require.NoError(t, m.ResetAndReserve(metadata.DescriptorCounts{}))
	assert.Zero(t, m.MaxSets())
	assert.Zero(t, device.LivePoolCount())
}

func TestOneFrameSetLifetime(t *testing.T) {
	const buffering = 2
	f := newManagerFixture(t, buffering)

	var h metadata.RenderHandle
	var ds vk.DescriptorSet
	f.frame(func() {
		var err error
		h, err = f.m.CreateOneFrameDescriptorSet(imageBindings())
		require.NoError(t, err)
		f.update(h, f.image)
	}, func() { ds = f.bind(h) })
	require.NotNil(t, ds)
	pool := f.device.PoolOf(ds)
	assert.Equal(t, uint32(1), f.device.PoolMaxSets(pool))

	f.frame(nil, nil)
	f.frame(func() {
		assert.ErrorIs(t, f.m.ValidateDescriptorSetHandle(h), core.ErrStaleOneFrameHandle)
		assert.Nil(t, f.m.GetDescriptorSet(h))
	}, nil)

	for i := 0; i < buffering+2; i++ {
		f.frame(nil, nil)
	}
	assert.True(t, f.device.IsPoolDestroyed(pool))
	assert.Empty(t, f.device.Violations())
	f.shutdown()
}

func TestOneFrameSetsShareOnePoolPerFrame(t *testing.T) {
	f := newManagerFixture(t, 2)
	var (
		handles []metadata.RenderHandle
		pools   []vk.DescriptorPool
	)
	f.frame(func() {
		for i := 0; i < 3; i++ {
			h, err := f.m.CreateOneFrameDescriptorSet(imageBindings())
			require.NoError(t, err)
			f.update(h, f.image)
			handles = append(handles, h)
		}
	}, func() {
		for _, h := range handles {
			pools = append(pools, f.device.PoolOf(f.bind(h)))
		}
	})
	require.Len(t, pools, 3)
	assert.True(t, pools[0] == pools[1])
	assert.True(t, pools[1] == pools[2])
	assert.Equal(t, uint32(3), f.device.PoolMaxSets(pools[0]))
	f.shutdown()
}

func TestPlatformConversionIsolation(t *testing.T) {
	const buffering = 3
	f := newManagerFixture(t, buffering)
	ycbcr := f.resources.Create("camera_preview", metadata.GpuImageDesc{
		Format:             metadata.FORMAT_G8_B8R8_2PLANE_420_UNORM,
		UsageFlags:         metadata.IMAGE_USAGE_SAMPLED_BIT,
		Width:              640,
		Height:             480,
		PlatformConversion: true,
	})
	defer ycbcr.Release()

	h, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(h, ycbcr.Handle())
	assert.True(t, f.m.HasPlatformConversionBindings(h))

	set, err := f.m.DescriptorSet(h)
	require.NoError(t, err)

	var staticPool vk.DescriptorPool
	plain, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(plain, f.image)

	for frame := 0; frame < buffering+2; frame++ {
		dirty := frame%2 == 0
		f.frame(func() {
			if dirty {
				f.update(h, ycbcr.Handle())
			}
		}, func() {
			staticPool = f.device.PoolOf(f.bind(plain))
			ds := f.bind(h)
			require.NotNil(t, ds)
			require.True(t, set.Gpu.AdditionalPlatformSet == ds, "frame %d binds the platform set", frame)
			assert.True(t, staticPool != f.device.PoolOf(ds), "platform set outside the static pool")

			for idx := uint32(0); idx < buffering; idx++ {
				set.CurrentGpuBufferingIndex = idx
				assert.True(t, set.Gpu.AdditionalPlatformSet == f.m.GetDescriptorSet(h), "buffering index %d", idx)
			}
			assert.True(t, set.Gpu.AdditionalPlatformLayout == f.m.GetDescriptorSetLayout(h))

			binds := f.device.LayoutOf(ds)
			require.Len(t, binds, 1)
			require.Len(t, binds[0].PImmutableSamplers, 1)
			assert.True(t, f.resources.GetImmutableSampler(ycbcr.Handle()) == binds[0].PImmutableSamplers[0])
		})
	}
	for _, native := range set.Gpu.BufferingSets {
		assert.Nil(t, native, "platform sets never use buffered slots")
	}
	assert.Empty(t, f.device.Violations())
	f.shutdown()
}

func TestOneFrameSetAfterBackendFrameHasNoNativeSet(t *testing.T) {
	f := newManagerFixture(t, 2)
	f.frame(nil, func() {
		h, err := f.m.CreateOneFrameDescriptorSet(imageBindings())
		require.NoError(t, err)
		f.update(h, f.image)
		f.m.UpdateDescriptorSetGpuHandle(h)
		assert.Nil(t, f.m.GetDescriptorSet(h))
	})
	f.shutdown()
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := newManagerFixture(t, 3)
	static, err := f.m.CreateDescriptorSet(imageBindings())
	require.NoError(t, err)
	f.update(static, f.image)
	var oneFrame metadata.RenderHandle
	f.frame(func() {
		var err error
		oneFrame, err = f.m.CreateOneFrameDescriptorSet(imageBindings())
		require.NoError(t, err)
		f.update(oneFrame, f.image)
	}, func() {
		f.bind(static)
		f.bind(oneFrame)
	})

	require.NoError(t, f.device.WaitIdle())
	f.m.Destroy()
	assert.Zero(t, f.m.PendingDeallocationCount())
	assert.Zero(t, f.device.LivePoolCount())
	assert.Zero(t, f.device.LiveLayoutCount())
	assert.Empty(t, f.device.Violations())
}
