package components

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Render side view of a camera. Post process nodes size their
 * outputs from it and bind its uniform buffer.
 */
type Camera struct {
	Name string
	/** @brief Render resolution in pixels. */
	Resolution metadata.Size2D
	/** @brief Uniform buffer with the camera matrices, owned by the camera system. */
	UniformBuffer metadata.RenderHandle
	/** @brief Set when the resolution changed since the last frame. */
	IsDirty bool
}

type CameraLookup struct {
	ID             uint16
	ReferenceCount uint16
	Camera         *Camera
}

/** @brief The name of the default camera. */
const DEFAULT_CAMERA_NAME string = "default"

func NewCamera(name string) *Camera {
	camera := &Camera{Name: name}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.Resolution = metadata.Size2D{Width: 1, Height: 1}
	c.UniformBuffer = metadata.InvalidRenderHandle
	c.IsDirty = false
}

func (c *Camera) GetResolution() metadata.Size2D {
	return c.Resolution
}

func (c *Camera) SetResolution(resolution metadata.Size2D) {
	if resolution.Width == 0 || resolution.Height == 0 {
		return
	}
	if resolution != c.Resolution {
		c.Resolution = resolution
		c.IsDirty = true
	}
}

// InverseResolution returns 1/width and 1/height.
func (c *Camera) InverseResolution() (float32, float32) {
	return 1.0 / float32(c.Resolution.Width), 1.0 / float32(c.Resolution.Height)
}
