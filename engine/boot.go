package engine

import (
	"os"
	"path"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/assets"
	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/platform"
	"github.com/spaghettifunk/envgraph/engine/renderer/vulkan"
)

// Boot loads the configuration at cfgPath and opens a GLFW window with a
// Vulkan device behind it. It must be called from the main goroutine.
func Boot(cfgPath string) (*Engine, error) {
	cfg, err := core.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := core.NewLogger(core.LoggerOptions{
		Output:       os.Stderr,
		Level:        cfg.Log.Level,
		ReportCaller: cfg.Log.ReportCaller,
		Prefix:       cfg.Window.Name,
	})
	if err != nil {
		return nil, err
	}

	am := assets.NewAssetManager(logger)
	dirs := []string{}
	if cfg.Pipelines.Mesh || cfg.Pipelines.Signal || cfg.Pipelines.Text {
		dirs = append(dirs, cfg.Pipelines.Shaders)
	}
	if cfg.Pipelines.Text {
		dirs = append(dirs, path.Dir(cfg.Pipelines.Font))
	}
	if err := am.Index(dirs...); err != nil {
		return nil, err
	}

	events := core.NewEventBus()
	window, err := platform.New(platform.Options{
		Name:   cfg.Window.Name,
		X:      int(cfg.Window.PosX),
		Y:      int(cfg.Window.PosY),
		Width:  int(cfg.Window.Width),
		Height: int(cfg.Window.Height),
	}, events, logger)
	if err != nil {
		return nil, errors.Wrap(err, "open window")
	}

	backend, err := vulkan.New(vulkan.Options{
		AppName:       cfg.Window.Name,
		Validation:    cfg.Render.Validation,
		PreferMailbox: cfg.Render.PreferMailbox,
	}, window, logger)
	if err != nil {
		window.Shutdown()
		return nil, errors.Wrap(err, "create vulkan device")
	}

	e, err := New(Options{
		Config:        cfg,
		ConfigPath:    cfgPath,
		Logger:        logger,
		Events:        events,
		Window:        window,
		Device:        backend,
		Assets:        am,
		ReleaseDevice: backend.Shutdown,
	})
	if err != nil {
		backend.Shutdown()
		window.Shutdown()
		return nil, err
	}
	return e, nil
}
