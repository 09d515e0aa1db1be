package engine

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/envgraph/engine/assets"
	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines/mesh"
	"github.com/spaghettifunk/envgraph/engine/pipelines/signal"
	"github.com/spaghettifunk/envgraph/engine/pipelines/text"
	"github.com/spaghettifunk/envgraph/engine/platform"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
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
)

const statusInterval = 500 * time.Millisecond

// Window is what the engine needs from the platform layer. Every method is
// called from the goroutine running Run, which must be the main thread for
// a GLFW window.
type Window interface {
	PumpMessages()
	WaitMessages(seconds float64)
	ShouldClose() bool
	FramebufferSize() (uint32, uint32)
	SetTitle(title string)
	Shutdown()
}

type Options struct {
	Config *core.Config
	// ConfigPath is watched for changes while running when set.
	ConfigPath string
	Logger     *core.Logger
	Events     *core.EventBus
	Window     Window
	Device     renderer.Device
	Assets     *assets.AssetManager
	// ReleaseDevice runs after the host shut down.
	ReleaseDevice func()
}

// Engine wires the window, the rendering host and the shipped pipelines
// together and runs the main loop.
type Engine struct {
	opts   Options
	logger *core.Logger
	events *core.EventBus
	window Window
	host   *renderer.Host
	status *text.Pipeline

	mu    sync.Mutex
	stage Stage
	cfg   *core.Config

	// ctl serializes pause/resume with the main loop's recovery.
	ctl          sync.Mutex
	renderWanted bool

	quit     chan struct{}
	quitOnce sync.Once
	shutdown sync.Once
}

func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = core.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = core.NewDiscardLogger()
	}
	if opts.Events == nil {
		opts.Events = core.NewEventBus()
	}
	if opts.Window == nil || opts.Device == nil {
		return nil, errors.Wrap(core.ErrInvalidConfig, "engine needs a window and a device")
	}
	return &Engine{
		opts:   opts,
		logger: opts.Logger.Named("engine"),
		events: opts.Events,
		window: opts.Window,
		cfg:    opts.Config,
		quit:   make(chan struct{}),
	}, nil
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stage
}

func (e *Engine) setStage(s Stage) {
	e.mu.Lock()
	e.stage = s
	e.mu.Unlock()
}

func (e *Engine) Host() *renderer.Host {
	return e.host
}

// Initialize creates the host, registers the configured pipelines and hooks
// the engine to the event bus. A pipeline failing setup is logged and left
// out of the frame.
func (e *Engine) Initialize() error {
	e.setStage(EngineStageInitializing)
	cfg := e.config()

	width, height := e.window.FramebufferSize()
	if width == 0 || height == 0 {
		width, height = cfg.Window.Width, cfg.Window.Height
	}
	host, err := renderer.NewHost(e.opts.Device, renderer.HostOptions{
		Extent: metadata.Extent2D{Width: width, Height: height},
		Clear: metadata.ClearValues{
			Color: cfg.Render.ClearColor,
			Depth: cfg.Render.ClearDepth,
		},
		FenceTimeout: cfg.Render.FenceTimeout.Duration,
	}, e.opts.Logger)
	if err != nil {
		return errors.Wrap(err, "create host")
	}
	e.host = host

	pipelines, err := e.buildPipelines(cfg)
	if err != nil {
		return err
	}
	e.host.QueuePipelines(uint32(len(pipelines)))
	for _, p := range pipelines {
		if _, err := e.host.NewPipeline(p); err != nil {
			e.logger.Error("pipeline unavailable", "pipeline", p.Name(), "err", err)
		}
	}

	e.events.Register(core.EventCodeApplicationQuit, e, e.onEvent)
	e.events.Register(core.EventCodeKeyPressed, e, e.onKey)
	e.events.Register(core.EventCodeResized, e, e.onResized)

	e.setStage(EngineStageInitialized)
	e.logger.Info("engine initialized", "pipelines", len(pipelines))
	return nil
}

func (e *Engine) buildPipelines(cfg *core.Config) ([]renderer.Pipeline, error) {
	var out []renderer.Pipeline
	if cfg.Pipelines.Mesh {
		vert, frag, err := e.shaders(cfg, "mesh")
		if err != nil {
			return nil, err
		}
		out = append(out, mesh.New(mesh.Options{
			VertexShader:   vert,
			FragmentShader: frag,
			Source:         mesh.NewGridSource(int(cfg.Pipelines.MeshGrid)),
			RotationSpeed:  0.3,
		}))
	}
	if cfg.Pipelines.Signal {
		vert, frag, err := e.shaders(cfg, "signal")
		if err != nil {
			return nil, err
		}
		out = append(out, signal.New(signal.Options{
			VertexShader:   vert,
			FragmentShader: frag,
			Source:         signal.NewSpectrumSource(int(cfg.Pipelines.SignalBins)),
			Average:        int(cfg.Pipelines.SignalAverage),
			History:        int(cfg.Pipelines.SignalHistory),
		}))
	}
	// drawn last, on top of everything else
	if cfg.Pipelines.Text {
		vert, frag, err := e.shaders(cfg, "text")
		if err != nil {
			return nil, err
		}
		if e.opts.Assets == nil {
			return nil, errors.Wrap(core.ErrInvalidConfig, "text pipeline needs assets")
		}
		font, err := e.opts.Assets.Font(cfg.Pipelines.Font)
		if err != nil {
			return nil, err
		}
		e.status = text.New(text.Options{
			VertexShader:   vert,
			FragmentShader: frag,
			Font:           font,
			Anchor:         text.AnchorBottomLeft,
			Margin:         8,
		})
		out = append(out, e.status)
	}
	return out, nil
}

func (e *Engine) shaders(cfg *core.Config, name string) ([]byte, []byte, error) {
	if e.opts.Assets == nil {
		return nil, nil, errors.Wrapf(core.ErrInvalidConfig, "%s pipeline needs assets", name)
	}
	vert, err := e.opts.Assets.Shader(path.Join(cfg.Pipelines.Shaders, name+".vert.spv"))
	if err != nil {
		return nil, nil, err
	}
	frag, err := e.opts.Assets.Shader(path.Join(cfg.Pipelines.Shaders, name+".frag.spv"))
	if err != nil {
		return nil, nil, err
	}
	return vert, frag, nil
}

// Run starts rendering and pumps window events until the window closes, a
// quit event arrives, ctx is cancelled or the render loop dies.
func (e *Engine) Run(ctx context.Context) error {
	if e.host == nil {
		return errors.Wrap(core.ErrNotInitialized, "run")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.ConfigPath != "" {
		watcher, err := core.NewConfigWatcher(e.opts.ConfigPath, e.opts.Logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
		g.Go(func() error {
			for cfg := range watcher.Updates() {
				e.applyConfig(cfg)
			}
			return nil
		})
	}

	e.ctl.Lock()
	e.renderWanted = true
	err := e.host.StartRender()
	e.ctl.Unlock()
	if err != nil {
		cancel()
		return errors.CombineErrors(err, g.Wait())
	}
	e.setStage(EngineStageRunning)

	err = e.loop(gctx)
	cancel()
	return errors.CombineErrors(err, g.Wait())
}

func (e *Engine) loop(ctx context.Context) error {
	lastStatus := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.quit:
			return nil
		default:
		}
		if e.window.ShouldClose() {
			return nil
		}
		e.window.WaitMessages(0.05)

		if err := e.restartStalled(); err != nil {
			return err
		}

		if time.Since(lastStatus) >= statusInterval {
			lastStatus = time.Now()
			e.updateStatus()
		}
	}
}

// restartStalled restarts a render loop that stopped on its own. A loop that died
// on an error ends the run. A rebuild that finds the surface out of date again
// is retried on the next tick.
func (e *Engine) restartStalled() error {
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.host.Running() || !e.renderWanted {
		return nil
	}
	if err := e.host.Err(); err != nil {
		return errors.Wrap(err, "render loop stopped")
	}
	// stale swapchain: rebuild at the current size
	w, h := e.window.FramebufferSize()
	err := e.host.UpdateWindowExtents(w, h)
	if errors.Is(err, core.ErrSwapchainOutOfDate) {
		e.logger.Warn("swapchain rebuild deferred", "width", w, "height", h, "err", err)
		return nil
	}
	return err
}

func (e *Engine) updateStatus() {
	m := e.host.Metrics()
	var active int
	for _, st := range e.host.Pipelines() {
		if st.State == renderer.PipelineSetUp {
			active++
		}
	}
	state := "running"
	if !e.host.Running() {
		state = "paused"
	}
	status := fmt.Sprintf("%.0f fps  %.2f ms\n%d pipelines  %s", m.FPS, m.FrameTimeMS, active, state)
	if e.status != nil {
		e.status.SetText(status)
	}
	e.window.SetTitle(fmt.Sprintf("%s - %s", e.config().Window.Name, strings.ReplaceAll(status, "\n", "  ")))
}

func (e *Engine) config() *core.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// applyConfig takes the settings that can change while running. The others
// are reported and picked up on the next start.
func (e *Engine) applyConfig(cfg *core.Config) {
	e.mu.Lock()
	prev := e.cfg
	e.cfg = cfg
	e.mu.Unlock()

	if cfg.Log.Level != prev.Log.Level {
		if err := e.opts.Logger.SetLevelName(cfg.Log.Level); err != nil {
			e.logger.Warn("log level not applied", "err", err)
		} else {
			e.logger.Info("log level changed", "level", cfg.Log.Level)
		}
	}
	if cfg.Render != prev.Render || cfg.Pipelines != prev.Pipelines {
		e.logger.Warn("render and pipeline settings apply on restart")
	}
}

// Quit makes Run return. Safe from any goroutine.
func (e *Engine) Quit() {
	e.quitOnce.Do(func() { close(e.quit) })
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code == core.EventCodeApplicationQuit {
		e.logger.Info("EventCodeApplicationQuit received, shutting down.")
		e.Quit()
		return true
	}
	return false
}

// onKey toggles rendering with the space bar.
func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if data.Data.U16[0] != platform.KeySpace {
		return false
	}
	e.ctl.Lock()
	defer e.ctl.Unlock()
	if e.renderWanted {
		e.renderWanted = false
		e.host.StopRender()
		e.logger.Info("rendering paused")
	} else {
		e.renderWanted = true
		if err := e.host.StartRender(); err != nil {
			e.logger.Warn("rendering not resumed", "err", err)
			return true
		}
		e.logger.Info("rendering resumed")
	}
	return true
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	width, height := data.Data.U32[0], data.Data.U32[1]
	if err := e.host.UpdateWindowExtents(width, height); err != nil {
		e.logger.Error("resize failed", "width", width, "height", height, "err", err)
	}
	// other listeners may care as well
	return false
}

// Shutdown releases the host, the device and the window, in that order.
func (e *Engine) Shutdown() error {
	var err error
	e.shutdown.Do(func() {
		e.setStage(EngineStageShuttingDown)
		e.Quit()
		e.events.Unregister(core.EventCodeApplicationQuit, e)
		e.events.Unregister(core.EventCodeKeyPressed, e)
		e.events.Unregister(core.EventCodeResized, e)
		if e.host != nil {
			err = e.host.Shutdown()
		}
		if e.opts.ReleaseDevice != nil {
			e.opts.ReleaseDevice()
		}
		e.window.Shutdown()
		e.events.Shutdown()
		e.setStage(EngineStageUninitialized)
		e.logger.Info("engine shut down")
	})
	return err
}
