package engine

type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	// FnCreateRenderContext provides the device, resources and recorder the graph renders with.
	FnCreateRenderContext CreateRenderContext
	FnInitialize          Initialize
	FnUpdate              Update
	FnOnResize            OnResize
}

// Initialize runs once the graph compiled.
type Initialize func(e *Engine) error

// Update runs before every frame of the graph.
type Update func(frame uint64, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
