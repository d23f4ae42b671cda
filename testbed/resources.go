package testbed

import (
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// Names of the resources every GpuResources starts with.
const (
	DefaultImageBlack = "CORE_DEFAULT_GPU_IMAGE"
	DefaultImageWhite = "CORE_DEFAULT_GPU_IMAGE_WHITE"
	DefaultSampler    = "CORE_DEFAULT_SAMPLER_LINEAR_CLAMP"
)

type gpuImage struct {
	name      string
	desc      metadata.GpuImageDesc
	view      unsafe.Pointer
	immutable unsafe.Pointer
}

type gpuBuffer struct {
	name   string
	desc   metadata.GpuBufferDesc
	data   []byte
	buffer unsafe.Pointer
	mapped bool
}

type gpuSampler struct {
	name    string
	desc    metadata.GpuSamplerDesc
	sampler unsafe.Pointer
}

/**
 * @brief In memory gpu resource manager. Serves the render nodes by name and
 * the Vulkan descriptor managers with fake native objects.
 */
type GpuResources struct {
	mu sync.Mutex

	images   map[metadata.RenderHandle]*gpuImage
	buffers  map[metadata.RenderHandle]*gpuBuffer
	samplers map[metadata.RenderHandle]*gpuSampler
	names    map[string]metadata.RenderHandle

	// Slot reuse bumps the generation, so a released handle never matches a new one.
	ids [metadata.RenderHandleTypeGraphicsState + 1]*core.IdentifierPool
}

func NewGpuResources() *GpuResources {
	r := &GpuResources{
		images:   make(map[metadata.RenderHandle]*gpuImage),
		buffers:  make(map[metadata.RenderHandle]*gpuBuffer),
		samplers: make(map[metadata.RenderHandle]*gpuSampler),
		names:    make(map[string]metadata.RenderHandle),
	}
	defaultImage := metadata.GpuImageDesc{
		Format:     metadata.FORMAT_R8G8B8A8_UNORM,
		UsageFlags: metadata.IMAGE_USAGE_SAMPLED_BIT,
		Width:      2,
		Height:     2,
		Depth:      1,
		MipCount:   1,
		LayerCount: 1,
	}
	r.Create(DefaultImageBlack, defaultImage)
	r.Create(DefaultImageWhite, defaultImage)
	r.CreateSampler(DefaultSampler, metadata.GpuSamplerDesc{
		MagFilter:   metadata.FILTER_LINEAR,
		MinFilter:   metadata.FILTER_LINEAR,
		AddressMode: metadata.SAMPLER_ADDRESS_MODE_CLAMP_TO_EDGE,
	})
	return r
}

func (r *GpuResources) newHandle(handleType metadata.RenderHandleType, flags metadata.RenderHandleFlags) metadata.RenderHandle {
	if r.ids[handleType] == nil {
		r.ids[handleType] = core.NewIdentifierPool(64)
	}
	index, generation := r.ids[handleType].Acquire(handleType)
	return metadata.NewRenderHandle(handleType, index, generation, flags)
}

// Create makes a named image. A platform conversion image gets a handle
// flagged for conversion and an immutable sampler.
func (r *GpuResources) Create(name string, desc metadata.GpuImageDesc) *metadata.RenderHandleReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	if desc.Depth == 0 {
		desc.Depth = 1
	}
	if desc.MipCount == 0 {
		desc.MipCount = 1
	}
	if desc.LayerCount == 0 {
		desc.LayerCount = 1
	}
	var flags metadata.RenderHandleFlags
	if desc.EngineCreationFlags&metadata.ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS != 0 {
		flags |= metadata.HandleFlagDynamicTrack
	}
	if desc.PlatformConversion {
		flags |= metadata.HandleFlagPlatformConversion
	}
	h := r.newHandle(metadata.RenderHandleTypeGpuImage, flags)
	img := &gpuImage{name: name, desc: desc, view: newNullHandle()}
	if desc.PlatformConversion {
		img.immutable = newNullHandle()
	}
	r.images[h] = img
	if name != "" {
		r.names[name] = h
	}
	return metadata.NewRenderHandleReference(h, r.release)
}

func (r *GpuResources) CreateBuffer(name string, desc metadata.GpuBufferDesc) *metadata.RenderHandleReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.newHandle(metadata.RenderHandleTypeGpuBuffer, 0)
	r.buffers[h] = &gpuBuffer{name: name, desc: desc, data: make([]byte, desc.ByteSize), buffer: newNullHandle()}
	if name != "" {
		r.names[name] = h
	}
	return metadata.NewRenderHandleReference(h, r.release)
}

func (r *GpuResources) CreateSampler(name string, desc metadata.GpuSamplerDesc) *metadata.RenderHandleReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.newHandle(metadata.RenderHandleTypeGpuSampler, 0)
	r.samplers[h] = &gpuSampler{name: name, desc: desc, sampler: newNullHandle()}
	if name != "" {
		r.names[name] = h
	}
	return metadata.NewRenderHandleReference(h, r.release)
}

func (r *GpuResources) release(h metadata.RenderHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var name string
	switch h.Type() {
	case metadata.RenderHandleTypeGpuImage:
		img, ok := r.images[h]
		if !ok {
			return
		}
		name = img.name
		delete(r.images, h)
	case metadata.RenderHandleTypeGpuBuffer:
		buf, ok := r.buffers[h]
		if !ok {
			return
		}
		name = buf.name
		delete(r.buffers, h)
	case metadata.RenderHandleTypeGpuSampler:
		smp, ok := r.samplers[h]
		if !ok {
			return
		}
		name = smp.name
		delete(r.samplers, h)
	default:
		return
	}
	if name != "" && r.names[name] == h {
		delete(r.names, name)
	}
	if err := r.ids[h.Type()].Release(h.Index()); err != nil {
		core.LogWarn("testbed: %s", err.Error())
	}
}

func (r *GpuResources) ImageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.images)
}

func (r *GpuResources) GetImageDescriptor(handle metadata.RenderHandle) metadata.GpuImageDesc {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.images[handle]; ok {
		return img.desc
	}
	return metadata.GpuImageDesc{}
}

// ResizeImage changes the size of an existing image, e.g. a swapchain image.
func (r *GpuResources) ResizeImage(handle metadata.RenderHandle, size metadata.Size2D) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.images[handle]; ok {
		img.desc.Width = size.Width
		img.desc.Height = size.Height
	}
}

func (r *GpuResources) lookup(name string, handleType metadata.RenderHandleType) metadata.RenderHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.names[name]; ok && h.Type() == handleType {
		return h
	}
	return metadata.InvalidRenderHandle
}

func (r *GpuResources) GetImageHandle(name string) metadata.RenderHandle {
	return r.lookup(name, metadata.RenderHandleTypeGpuImage)
}

func (r *GpuResources) GetBufferHandle(name string) metadata.RenderHandle {
	return r.lookup(name, metadata.RenderHandleTypeGpuBuffer)
}

func (r *GpuResources) GetSamplerHandle(name string) metadata.RenderHandle {
	return r.lookup(name, metadata.RenderHandleTypeGpuSampler)
}

func (r *GpuResources) MapBuffer(handle metadata.RenderHandle) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[handle]
	if !ok {
		return nil
	}
	if buf.mapped {
		core.LogWarn("buffer %s mapped twice", handle)
	}
	buf.mapped = true
	return buf.data
}

func (r *GpuResources) UnmapBuffer(handle metadata.RenderHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[handle]; ok {
		buf.mapped = false
	}
}

func (r *GpuResources) GetImageView(handle metadata.RenderHandle, mip, layer uint32) vk.ImageView {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[handle]
	if !ok || mip >= img.desc.MipCount || layer >= img.desc.LayerCount {
		return nil
	}
	return vk.ImageView(img.view)
}

func (r *GpuResources) GetBuffer(handle metadata.RenderHandle) vk.Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[handle]; ok {
		return vk.Buffer(buf.buffer)
	}
	return nil
}

func (r *GpuResources) GetBufferView(handle metadata.RenderHandle) vk.BufferView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[handle]; ok {
		return vk.BufferView(buf.buffer)
	}
	return nil
}

func (r *GpuResources) GetSampler(handle metadata.RenderHandle) vk.Sampler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if smp, ok := r.samplers[handle]; ok {
		return vk.Sampler(smp.sampler)
	}
	return nil
}

func (r *GpuResources) GetImmutableSampler(imageHandle metadata.RenderHandle) vk.Sampler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.images[imageHandle]; ok && img.immutable != nil {
		return vk.Sampler(img.immutable)
	}
	return nil
}
