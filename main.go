/*
Headless runner: loads assets/engine.toml, compiles the render node graph
and renders frames until the configured frame count is reached or a signal arrives.
*/
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumerender/engine"
	"github.com/spaghettifunk/lumerender/engine/config"
	"github.com/spaghettifunk/lumerender/engine/core"
	"github.com/spaghettifunk/lumerender/engine/renderer/metadata"
	"github.com/spaghettifunk/lumerender/testbed"
)

// headlessContext renders on the host memory device of the testbed.
func headlessContext(cfg config.EngineConfig) (*engine.RenderContext, error) {
	hl, err := testbed.NewHeadless(testbed.Options{
		BufferingCount: cfg.BufferingCount,
		CameraName:     cfg.Camera.Name,
		Resolution:     metadata.Size2D{Width: cfg.Camera.Width, Height: cfg.Camera.Height},
	})
	if err != nil {
		return nil, err
	}
	return &engine.RenderContext{
		Device:    hl.Device,
		Resources: hl.Resources,
		Recorder:  hl.Recorder,
		Shaders:   hl.Shaders,
		Psos:      hl.Psos,
		Cameras:   hl.Cameras,
		Resize:    hl.Resize,
		Close:     hl.Shutdown,
	}, nil
}

func main() {
	configPath := flag.String("config", "assets/engine.toml", "engine configuration file")
	flag.Parse()

	appConfig, err := engine.NewApplicationConfig("lumerender", *configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			core.LogFatal(err.Error())
		}
		core.LogWarn("%s not found, using defaults", *configPath)
		appConfig = &engine.ApplicationConfig{Name: "lumerender", Engine: config.DefaultEngineConfig()}
	}

	e, err := engine.New(&engine.Game{ApplicationConfig: appConfig, FnCreateRenderContext: headlessContext})
	if err != nil {
		core.LogFatal(err.Error())
	}
	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal(err.Error())
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError(err.Error())
	}
	if runErr != nil {
		core.LogFatal(runErr.Error())
	}
}
