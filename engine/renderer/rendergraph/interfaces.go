package rendergraph

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/components"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

// Well known global images, registered by the gpu resource manager.
const (
	DefaultImageBlack = "CORE_DEFAULT_GPU_IMAGE"
	DefaultImageWhite = "CORE_DEFAULT_GPU_IMAGE_WHITE"
	DefaultSampler    = "CORE_DEFAULT_SAMPLER_LINEAR_CLAMP"
)

// ShaderManager is queried for shaders and their reflection data.
// Unknown paths resolve to InvalidRenderHandle.
type ShaderManager interface {
	GetShaderHandle(path string) metadata.RenderHandle
	GetReflectionPipelineLayout(shader metadata.RenderHandle) metadata.PipelineLayout
	GetReflectionSpecialization(shader metadata.RenderHandle) []metadata.ShaderSpecializationConstant
	GetReflectionThreadGroupSize(shader metadata.RenderHandle) metadata.ThreadGroupSize
	GetGraphicsStateHandleByShaderHandle(shader metadata.RenderHandle) metadata.RenderHandle
	GetPipelineLayoutHandle(path string) metadata.RenderHandle
	GetPipelineLayout(handle metadata.RenderHandle) metadata.PipelineLayout
}

// PsoManager creates or returns cached pipeline state objects.
type PsoManager interface {
	GetGraphicsPsoHandle(shader, graphicsState metadata.RenderHandle, pipelineLayout metadata.PipelineLayout,
		specialization metadata.ShaderSpecializationConstantData, dynamicStates metadata.DynamicStateFlags) metadata.RenderHandle
	GetComputePsoHandle(shader metadata.RenderHandle, pipelineLayout metadata.PipelineLayout,
		specialization metadata.ShaderSpecializationConstantData) metadata.RenderHandle
}

// GpuResourceManager owns GPU images, buffers and samplers.
type GpuResourceManager interface {
	// Create returns a reference; the image is destroyed when the last reference is released.
	Create(name string, desc metadata.GpuImageDesc) *metadata.RenderHandleReference
	CreateBuffer(name string, desc metadata.GpuBufferDesc) *metadata.RenderHandleReference
	GetImageDescriptor(handle metadata.RenderHandle) metadata.GpuImageDesc
	GetImageHandle(name string) metadata.RenderHandle
	GetBufferHandle(name string) metadata.RenderHandle
	GetSamplerHandle(name string) metadata.RenderHandle
	MapBuffer(handle metadata.RenderHandle) []byte
	UnmapBuffer(handle metadata.RenderHandle)
}

// ShareManager exchanges resources between the nodes of one graph.
type ShareManager interface {
	// RegisterRenderNodeOutput publishes an output of the calling node for this frame.
	RegisterRenderNodeOutput(name string, handle metadata.RenderHandle)
	GetRenderNodeOutput(nodeName, name string) metadata.RenderHandle
	GetGlobalResource(name string) metadata.RenderHandle
}

// CameraDataStore is the data source for camera driven nodes.
type CameraDataStore interface {
	GetCamera(name string) (*components.Camera, bool)
}

// Device is the part of the device the graph drives.
type Device interface {
	descriptor.DeviceInfo
	EndFrame() error
}

// Backend creates per node descriptor managers and turns recorded command
// lists into GPU work.
type Backend interface {
	CreateDescriptorSetManager() descriptor.NodeContextDescriptorSetManager
	DestroyDescriptorSetManager(manager descriptor.NodeContextDescriptorSetManager)
	// Render runs after every node executed, in graph order.
	Render(lists []*RenderCommandList) error
}

// Collaborators are the engine services handed to every node.
type Collaborators struct {
	Shaders   ShaderManager
	Psos      PsoManager
	Resources GpuResourceManager
	Cameras   CameraDataStore
}
