// Package testbed is a headless stand-in for the GPU side of the renderer.
// It fakes a Vulkan device, resources, shaders and pipelines in host memory
// so render graphs run without a GPU.
package testbed

import (
	"github.com/spaghettifunk/lumerender/engine/renderer/components"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/systems"
)

// Name of the uniform buffer of the main camera.
const CameraUniformBuffer = "CORE_CAMERA_UNIFORM_BUFFER"

// Headless bundles every headless collaborator of a render graph.
type Headless struct {
	Device    *NullDescriptorDevice
	Resources *GpuResources
	Shaders   *ShaderManager
	Psos      *PsoManager
	Recorder  *RecordingRecorder
	Cameras   *systems.CameraSystem

	Camera *components.Camera
	// SceneColor is the image a scene pass would have rendered into.
	SceneColor *metadata.RenderHandleReference
	cameraUbo  *metadata.RenderHandleReference
}

type Options struct {
	BufferingCount uint32
	CameraName     string
	Resolution     metadata.Size2D
}

func NewHeadless(opts Options) (*Headless, error) {
	if opts.BufferingCount == 0 {
		opts.BufferingCount = 3
	}
	if opts.CameraName == "" {
		opts.CameraName = components.DEFAULT_CAMERA_NAME
	}
	if opts.Resolution.Width == 0 || opts.Resolution.Height == 0 {
		opts.Resolution = metadata.Size2D{Width: 1280, Height: 720}
	}

	shaders, err := NewShaderManager()
	if err != nil {
		return nil, err
	}
	cameras, err := systems.NewCameraSystem(&systems.CameraSystemConfig{
		MaxCameraCount:    8,
		DefaultResolution: opts.Resolution,
	})
	if err != nil {
		return nil, err
	}
	camera, err := cameras.Acquire(opts.CameraName)
	if err != nil {
		return nil, err
	}

	device := NewNullDescriptorDevice(opts.BufferingCount)
	h := &Headless{
		Device:    device,
		Resources: NewGpuResources(),
		Shaders:   shaders,
		Psos:      NewPsoManager(shaders),
		Recorder:  NewRecordingRecorder(device),
		Cameras:   cameras,
		Camera:    camera,
	}
	h.cameraUbo = h.Resources.CreateBuffer(CameraUniformBuffer, metadata.GpuBufferDesc{
		UsageFlags: metadata.BUFFER_USAGE_UNIFORM_BUFFER_BIT,
		ByteSize:   256,
	})
	camera.UniformBuffer = h.cameraUbo.Handle()
	h.SceneColor = h.Resources.Create("scene_color", metadata.GpuImageDesc{
		Format:              metadata.FORMAT_R16G16B16A16_SFLOAT,
		UsageFlags:          metadata.IMAGE_USAGE_SAMPLED_BIT | metadata.IMAGE_USAGE_COLOR_ATTACHMENT_BIT | metadata.IMAGE_USAGE_STORAGE_BIT,
		EngineCreationFlags: metadata.ENGINE_IMAGE_CREATION_DYNAMIC_BARRIERS,
		Width:               opts.Resolution.Width,
		Height:              opts.Resolution.Height,
	})
	return h, nil
}

// Resize changes the camera resolution and the scene color image with it.
func (h *Headless) Resize(size metadata.Size2D) {
	h.Camera.SetResolution(size)
	h.Resources.ResizeImage(h.SceneColor.Handle(), size)
}

// Shutdown releases the headless resources. The device must be idle.
func (h *Headless) Shutdown() error {
	h.SceneColor.Release()
	h.cameraUbo.Release()
	return h.Cameras.Shutdown()
}
