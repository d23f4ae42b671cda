package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/engine/renderer/rendergraph"
	"github.com/spaghettifunk/lumerender/engine/renderer/vulkan"

	// node types referenced by graph files
	_ "github.com/spaghettifunk/lumerender/engine/renderer/nodes"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything
	EngineStageShutdown
)

func (s Stage) String() string {
	switch s {
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting_down"
	case EngineStageShutdown:
		return "shutdown"
	default:
		return "uninitialized"
	}
}

/**
 * @brief Drives one render node graph frame by frame on an injected
 * render context. Graph reloads and resizes arrive as events and are applied
 * between frames on the render loop.
 */
type Engine struct {
	currentStage Stage
	gameInstance *Game
	config       config.EngineConfig

	isRunning   atomic.Bool
	isSuspended bool
	width       uint32
	height      uint32

	rctx     *RenderContext
	backend  *vulkan.RenderBackendVk
	graph    *rendergraph.RenderNodeGraph
	watcher  *config.Watcher

	// Written by event handlers, drained by the render loop.
	pendingGraph  chan config.RenderNodeGraphDesc
	pendingResize chan core.ResizeEvent

	clock  *core.Clock
	frames uint64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil {
		return nil, fmt.Errorf("engine: missing application config")
	}
	if g.FnCreateRenderContext == nil {
		return nil, fmt.Errorf("engine: missing render context factory")
	}
	cfg := g.ApplicationConfig.Engine
	return &Engine{
		currentStage:  EngineStageUninitialized,
		gameInstance:  g,
		config:        cfg,
		width:         cfg.Camera.Width,
		height:        cfg.Camera.Height,
		pendingGraph:  make(chan config.RenderNodeGraphDesc, 1),
		pendingResize: make(chan core.ResizeEvent, 1),
		clock:         core.NewClock(),
	}, nil
}

func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing

	level, err := core.ParseLogLevel(e.config.LogLevel)
	if err != nil {
		return err
	}
	core.SetLogLevel(level)

	// initialize events
	if !core.EventSystemInitialize() {
		return fmt.Errorf("failed to initialize the event system")
	}
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	core.EventRegister(core.EVENT_CODE_RESIZED, e, e.onResized)
	core.EventRegister(core.EVENT_CODE_RENDER_GRAPH_RELOAD, e, e.onGraphReload)

	rctx, err := e.gameInstance.FnCreateRenderContext(e.config)
	if err != nil {
		return err
	}
	if err := rctx.validate(); err != nil {
		return err
	}
	e.rctx = rctx
	e.backend = vulkan.NewRenderBackendVk(rctx.Device, rctx.Resources, rctx.Recorder, vulkan.ManagerConfig{
		Validation:                   e.config.Validation,
		PlatformConversionMultiplier: e.config.PlatformConversionMultiplier,
	})
	e.graph = rendergraph.NewRenderNodeGraph(rctx.Device, e.backend, rctx.collaborators(), e.config.Validation)

	desc, err := e.loadGraph()
	if err != nil {
		return err
	}
	if err := e.graph.Compile(desc); err != nil {
		return err
	}

	if e.config.HotReload && e.gameInstance.ApplicationConfig.Graph == nil {
		if e.watcher, err = config.NewWatcher(e.config.RenderGraph); err != nil {
			return err
		}
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized: graph %s, %d nodes, buffering %d", e.gameInstance.ApplicationConfig.Name,
		e.graph.Name(), e.graph.NodeCount(), e.rctx.Device.CommandBufferingCount())
	return nil
}

func (e *Engine) loadGraph() (config.RenderNodeGraphDesc, error) {
	if g := e.gameInstance.ApplicationConfig.Graph; g != nil {
		return *g, nil
	}
	return config.LoadRenderNodeGraph(e.config.RenderGraph)
}

// Run renders until the configured frame count is reached or Stop is called.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("engine: run in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	e.clock.Start()
	e.clock.Update()
	lastTime := e.clock.Elapsed()

	for e.isRunning.Load() {
		if e.config.Frames != 0 && e.frames >= e.config.Frames {
			break
		}
		if err := e.applyPending(); err != nil {
			core.LogError("render graph reload failed: %s", err.Error())
		}
		if e.isSuspended {
			time.Sleep(time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e.frames, delta); err != nil {
				core.LogError("Game update failed, shutting down.")
				e.isRunning.Store(false)
				return err
			}
		}
		if err := e.graph.RenderFrame(); err != nil {
			e.isRunning.Store(false)
			return err
		}
		e.frames++
		if e.frames%60 == 0 {
			fps, frameTime := e.graph.Metrics().Frame()
			core.LogDebug("frame %d: %.1f fps, %.3f ms, %d lists skipped", e.frames, fps, frameTime*1000, e.backend.SkippedListCount())
		}
		lastTime = currentTime
	}
	e.isRunning.Store(false)
	e.currentStage = EngineStageInitialized
	return nil
}

// applyPending recompiles or resizes between frames. The device is idled
// first so replaced pools are never in use.
func (e *Engine) applyPending() error {
	select {
	case size := <-e.pendingResize:
		e.resize(size)
	default:
	}
	select {
	case desc := <-e.pendingGraph:
		if err := e.rctx.Device.WaitIdle(); err != nil {
			return err
		}
		return e.graph.Compile(desc)
	default:
	}
	return nil
}

func (e *Engine) resize(size core.ResizeEvent) {
	if size.Width == 0 || size.Height == 0 {
		core.LogInfo("Render target minimized, suspending application.")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("Render target restored, resuming application.")
		e.isSuspended = false
	}
	if size.Width == e.width && size.Height == e.height {
		return
	}
	e.width, e.height = size.Width, size.Height
	if e.rctx.Resize != nil {
		e.rctx.Resize(metadata.Size2D{Width: size.Width, Height: size.Height})
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(size.Width, size.Height); err != nil {
			core.LogError(err.Error())
		}
	}
	core.LogDebug("resize: %d, %d", size.Width, size.Height)
}

// Stop asks the render loop to return after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	e.isRunning.Store(false)
}

func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)

	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn(err.Error())
		}
		e.watcher = nil
	}
	if e.rctx != nil {
		if err := e.rctx.Device.WaitIdle(); err != nil {
			return err
		}
		e.graph.Destroy()
		e.backend.Destroy()
		if violations := e.rctx.Device.Violations(); len(violations) > 0 {
			core.LogWarn("device reported %d violations, first: %s", len(violations), violations[0])
		}
		if e.rctx.Close != nil {
			if err := e.rctx.Close(); err != nil {
				return err
			}
		}
	}
	core.EventUnregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	core.EventUnregister(core.EVENT_CODE_RESIZED, e)
	core.EventUnregister(core.EVENT_CODE_RENDER_GRAPH_RELOAD, e)
	if err := core.EventSystemShutdown(); err != nil {
		return err
	}
	e.currentStage = EngineStageShutdown
	return nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

// FrameCount is the number of frames rendered so far.
func (e *Engine) FrameCount() uint64 {
	return e.frames
}

func (e *Engine) Graph() *rendergraph.RenderNodeGraph {
	return e.graph
}

func (e *Engine) Backend() *vulkan.RenderBackendVk {
	return e.backend
}

func (e *Engine) RenderContext() *RenderContext {
	return e.rctx
}

func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	size, ok := context.Data.(core.ResizeEvent)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", code)
		return false
	}
	replaceLatest(e.pendingResize, size)
	return false
}

func (e *Engine) onGraphReload(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	desc, ok := context.Data.(config.RenderNodeGraphDesc)
	if !ok {
		core.LogError("wrong event associated with the event type `%d`", code)
		return false
	}
	replaceLatest(e.pendingGraph, desc)
	return true
}

// replaceLatest keeps only the newest value in a one slot channel.
func replaceLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
