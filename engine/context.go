package engine

import (
	"fmt"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/engine/renderer/vulkan"
)

// RenderDevice is the device the engine records descriptor work on.
type RenderDevice interface {
	vulkan.DescriptorDevice
	EndFrame() error
	// WaitIdle blocks until no submitted frame is in flight.
	WaitIdle() error
	// Violations lists the lifetime errors the device detected so far.
	Violations() []string
}

// RenderResources resolves render handles for the graph and the backend.
type RenderResources interface {
	rendergraph.GpuResourceManager
	vulkan.NativeResourceProvider
}

// RenderContext is the GPU side a render graph runs on.
type RenderContext struct {
	Device    RenderDevice
	Resources RenderResources
	Recorder  vulkan.CommandRecorder
	Shaders   rendergraph.ShaderManager
	Psos      rendergraph.PsoManager
	Cameras   rendergraph.CameraDataStore

	// Resize follows the render target size. Optional.
	Resize func(size metadata.Size2D)
	// Close runs once the device is idle and the graph is destroyed. Optional.
	Close func() error
}

// CreateRenderContext builds the render context for an engine configuration.
type CreateRenderContext func(cfg config.EngineConfig) (*RenderContext, error)

func (c *RenderContext) validate() error {
	switch {
	case c == nil:
		return fmt.Errorf("engine: nil render context")
	case c.Device == nil:
		return fmt.Errorf("engine: render context without device")
	case c.Resources == nil:
		return fmt.Errorf("engine: render context without resources")
	case c.Recorder == nil:
		return fmt.Errorf("engine: render context without command recorder")
	case c.Shaders == nil || c.Psos == nil:
		return fmt.Errorf("engine: render context without shader or pso manager")
	}
	return nil
}

func (c *RenderContext) collaborators() rendergraph.Collaborators {
	return rendergraph.Collaborators{
		Shaders:   c.Shaders,
		Psos:      c.Psos,
		Resources: c.Resources,
		Cameras:   c.Cameras,
	}
}
