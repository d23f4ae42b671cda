package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/components"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
)

/**
 * @brief Named, reference counted cameras. Serves as the camera data store
 * of the render graph.
 */
type CameraSystem struct {
	Config  *CameraSystemConfig
	Lookup  map[string]uint16
	Cameras []*components.CameraLookup
	// A default, non-registered camera that always exists as a fallback.
	DefaultCamera *components.Camera

	mutex sync.RWMutex
}

/** @brief The camera system configuration. */
type CameraSystemConfig struct {
	/**
	 * @brief NOTE: The maximum number of cameras that can be managed by
	 * the system.
	 */
	MaxCameraCount uint16
	/** @brief Resolution new cameras start with. */
	DefaultResolution metadata.Size2D
}

func NewCameraSystem(config *CameraSystemConfig) (*CameraSystem, error) {
	if config.MaxCameraCount == 0 {
		err := fmt.Errorf("func NewCameraSystem - config.MaxCameraCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	cs := &CameraSystem{
		Config:  config,
		Cameras: make([]*components.CameraLookup, config.MaxCameraCount),
		Lookup:  make(map[string]uint16, config.MaxCameraCount),
	}
	// Invalidate all cameras in the array.
	for i := uint16(0); i < cs.Config.MaxCameraCount; i++ {
		cs.Cameras[i] = &components.CameraLookup{
			ID:             metadata.InvalidIDUint16,
			ReferenceCount: 0,
		}
	}
	// Setup default camera.
	cs.DefaultCamera = components.NewCamera(components.DEFAULT_CAMERA_NAME)
	cs.DefaultCamera.SetResolution(config.DefaultResolution)
	return cs, nil
}

func (cs *CameraSystem) Shutdown() error {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()
	for _, c := range cs.Cameras {
		if c.Camera != nil {
			c.Camera.Reset()
		}
		c.ID = metadata.InvalidIDUint16
		c.ReferenceCount = 0
	}
	cs.Lookup = make(map[string]uint16, cs.Config.MaxCameraCount)
	return nil
}

/**
 * @brief Acquires a camera by name.
 * If one is not found, a new one is created and returned.
 * Internal reference counter is incremented.
 */
func (cs *CameraSystem) Acquire(name string) (*components.Camera, error) {
	if name == components.DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, nil
	}
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	id, ok := cs.Lookup[name]
	if !ok {
		// Find free slot
		id = metadata.InvalidIDUint16
		for i := uint16(0); i < cs.Config.MaxCameraCount; i++ {
			if cs.Cameras[i].ID == metadata.InvalidIDUint16 {
				id = i
				break
			}
		}
		if id == metadata.InvalidIDUint16 {
			err := fmt.Errorf("func CameraSystemAcquire failed to acquire new slot for %s. Adjust camera system config to allow more", name)
			core.LogError(err.Error())
			return nil, err
		}

		core.LogDebug("Creating new camera named '%s'...", name)
		cs.Cameras[id].Camera = components.NewCamera(name)
		cs.Cameras[id].Camera.SetResolution(cs.Config.DefaultResolution)
		cs.Cameras[id].ID = id
		cs.Lookup[name] = id
	}
	cs.Cameras[id].ReferenceCount++
	return cs.Cameras[id].Camera, nil
}

/**
 * @brief Releases a camera with the given name. When the reference count
 * reaches 0 the camera is reset and its slot reused.
 */
func (cs *CameraSystem) Release(name string) {
	if name == components.DEFAULT_CAMERA_NAME {
		core.LogDebug("Cannot release default camera. Nothing was done.")
		return
	}
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	id, ok := cs.Lookup[name]
	if !ok {
		core.LogWarn("CameraSystemRelease failed lookup for %s. Nothing was done.", name)
		return
	}
	cs.Cameras[id].ReferenceCount--
	if cs.Cameras[id].ReferenceCount < 1 {
		cs.Cameras[id].Camera.Reset()
		cs.Cameras[id].ID = metadata.InvalidIDUint16
		delete(cs.Lookup, name)
	}
}

// GetCamera looks a camera up without taking a reference.
func (cs *CameraSystem) GetCamera(name string) (*components.Camera, bool) {
	if name == "" || name == components.DEFAULT_CAMERA_NAME {
		return cs.DefaultCamera, true
	}
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()
	id, ok := cs.Lookup[name]
	if !ok {
		return nil, false
	}
	return cs.Cameras[id].Camera, true
}

func (cs *CameraSystem) GetDefault() *components.Camera {
	return cs.DefaultCamera
}
