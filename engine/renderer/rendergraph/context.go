package rendergraph

import (
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/descriptor"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Everything a render node may use. One per node, alive from
 * compile to the next compile.
 */
type RenderNodeContextManager struct {
	id       uuid.UUID
	nodeDesc config.RenderNodeDesc
	logger   *log.Logger
	queue    metadata.GpuQueue

	descriptorSets descriptor.NodeContextDescriptorSetManager
	collaborators  Collaborators
	share          ShareManager
	validation     bool
}

func NewRenderNodeContextManager(desc config.RenderNodeDesc, descriptorSets descriptor.NodeContextDescriptorSetManager,
	collaborators Collaborators, share ShareManager, validation bool) *RenderNodeContextManager {
	queue := metadata.GpuQueue{Type: metadata.GPU_QUEUE_TYPE_GRAPHICS}
	if desc.Queue == "compute" {
		queue.Type = metadata.GPU_QUEUE_TYPE_COMPUTE
	}
	return &RenderNodeContextManager{
		id:             uuid.New(),
		nodeDesc:       desc,
		logger:         core.LogWith(desc.Name),
		queue:          queue,
		descriptorSets: descriptorSets,
		collaborators:  collaborators,
		share:          share,
		validation:     validation,
	}
}

func (c *RenderNodeContextManager) ID() uuid.UUID {
	return c.id
}

func (c *RenderNodeContextManager) GetName() string {
	return c.nodeDesc.Name
}

func (c *RenderNodeContextManager) GetNodeDesc() config.RenderNodeDesc {
	return c.nodeDesc
}

// Logger is prefixed with the node name.
func (c *RenderNodeContextManager) Logger() *log.Logger {
	return c.logger
}

func (c *RenderNodeContextManager) GetGpuQueue() metadata.GpuQueue {
	return c.queue
}

func (c *RenderNodeContextManager) ValidationEnabled() bool {
	return c.validation
}

func (c *RenderNodeContextManager) GetDescriptorSetManager() descriptor.NodeContextDescriptorSetManager {
	return c.descriptorSets
}

func (c *RenderNodeContextManager) GetShaderManager() ShaderManager {
	return c.collaborators.Shaders
}

func (c *RenderNodeContextManager) GetPsoManager() PsoManager {
	return c.collaborators.Psos
}

func (c *RenderNodeContextManager) GetGpuResourceManager() GpuResourceManager {
	return c.collaborators.Resources
}

func (c *RenderNodeContextManager) GetShareManager() ShareManager {
	return c.share
}

func (c *RenderNodeContextManager) GetCameraStore() CameraDataStore {
	return c.collaborators.Cameras
}

// GetImageHandle resolves a reference: node output, then global resource,
// then a named gpu image.
func (c *RenderNodeContextManager) GetImageHandle(ref config.ResourceReference) metadata.RenderHandle {
	if ref.IsEmpty() {
		return metadata.InvalidRenderHandle
	}
	if ref.IsShared() {
		return c.share.GetRenderNodeOutput(ref.Node, ref.Name)
	}
	if h := c.share.GetGlobalResource(ref.Name); h.IsValid() {
		return h
	}
	if c.collaborators.Resources == nil {
		return metadata.InvalidRenderHandle
	}
	return c.collaborators.Resources.GetImageHandle(ref.Name)
}
