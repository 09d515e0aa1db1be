package engine

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/assets"
	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/platform"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
	"github.com/spaghettifunk/envgraph/engine/renderer/rendertest"
)

type fakeWindow struct {
	mu       sync.Mutex
	width    uint32
	height   uint32
	title    string
	closed   atomic.Bool
	shutdown int
}

func (w *fakeWindow) PumpMessages() {}

func (w *fakeWindow) WaitMessages(seconds float64) {
	time.Sleep(time.Millisecond)
}

func (w *fakeWindow) ShouldClose() bool {
	return w.closed.Load()
}

func (w *fakeWindow) FramebufferSize() (uint32, uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *fakeWindow) SetTitle(title string) {
	w.mu.Lock()
	w.title = title
	w.mu.Unlock()
}

func (w *fakeWindow) Title() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.title
}

func (w *fakeWindow) Shutdown() {
	w.mu.Lock()
	w.shutdown++
	w.mu.Unlock()
}

type fixture struct {
	engine *Engine
	dev    *rendertest.Device
	window *fakeWindow
	events *core.EventBus
}

func newFixture(t *testing.T, configure func(cfg *core.Config)) (*fixture, error) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "shaders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"mesh.vert.spv", "mesh.frag.spv", "signal.vert.spv", "signal.frag.spv", "text.vert.spv", "text.frag.spv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0x03, 0x02, 0x23, 0x07}, 0o644); err != nil {
			t.Fatalf("write shader: %v", err)
		}
	}

	cfg := core.DefaultConfig()
	cfg.Render.FenceTimeout = core.Duration{Duration: time.Millisecond}
	cfg.Pipelines.Mesh = true
	cfg.Pipelines.MeshGrid = 4
	cfg.Pipelines.Text = false
	cfg.Pipelines.Shaders = filepath.ToSlash(dir)
	if configure != nil {
		configure(cfg)
	}

	logger := core.NewDiscardLogger()
	am := assets.NewAssetManager(logger)
	if err := am.Index(dir); err != nil {
		t.Fatalf("Index: %v", err)
	}

	f := &fixture{
		dev:    rendertest.NewDevice(rendertest.DefaultOptions()),
		window: &fakeWindow{width: 800, height: 600},
		events: core.NewEventBus(),
	}
	e, err := New(Options{
		Config: cfg,
		Logger: logger,
		Events: f.events,
		Window: f.window,
		Device: f.dev,
		Assets: am,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.engine = e
	t.Cleanup(func() { _ = e.Shutdown() })
	return f, e.Initialize()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// run starts Run in the background and returns a channel with its result.
func (f *fixture) run(t *testing.T) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()
	waitFor(t, "engine running", func() bool { return f.engine.Stage() == EngineStageRunning })
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

func TestNewRequiresWindowAndDevice(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Errorf("New(empty) err = %v, want %v", err, core.ErrInvalidConfig)
	}
}

func TestInitializeRegistersConfiguredPipelines(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got := f.engine.Stage(); got != EngineStageInitialized {
		t.Errorf("Stage() = %v, want %v", got, EngineStageInitialized)
	}
	statuses := f.engine.Host().Pipelines()
	if len(statuses) != 1 {
		t.Fatalf("pipelines = %d, want 1", len(statuses))
	}
	if statuses[0].Name != "mesh" || statuses[0].State != renderer.PipelineSetUp {
		t.Errorf("pipeline = %s %v, want mesh %v", statuses[0].Name, statuses[0].State, renderer.PipelineSetUp)
	}
	if got := f.engine.Host().Extent(); got != (metadata.Extent2D{Width: 800, Height: 600}) {
		t.Errorf("Extent() = %v, want the framebuffer size", got)
	}
}

func TestInitializeSignalAfterMesh(t *testing.T) {
	f, err := newFixture(t, func(cfg *core.Config) {
		cfg.Pipelines.Signal = true
		cfg.Pipelines.SignalBins = 16
		cfg.Pipelines.SignalHistory = 8
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	statuses := f.engine.Host().Pipelines()
	want := []string{"mesh", "signal"}
	if len(statuses) != len(want) {
		t.Fatalf("pipelines = %d, want %d", len(statuses), len(want))
	}
	for i, name := range want {
		if statuses[i].Name != name || statuses[i].State != renderer.PipelineSetUp {
			t.Errorf("pipeline %d = %s %v, want %s %v", i, statuses[i].Name, statuses[i].State, name, renderer.PipelineSetUp)
		}
	}

	done := f.run(t)
	waitFor(t, "frames", func() bool { return f.dev.Presents() >= 3 })
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestInitializeMissingFont(t *testing.T) {
	_, err := newFixture(t, func(cfg *core.Config) {
		cfg.Pipelines.Text = true
		cfg.Pipelines.Font = path.Join(cfg.Pipelines.Shaders, "missing.fnt")
	})
	if !errors.Is(err, core.ErrUnknownResource) {
		t.Errorf("Initialize err = %v, want %v", err, core.ErrUnknownResource)
	}
}

func TestInitializeMissingShaders(t *testing.T) {
	_, err := newFixture(t, func(cfg *core.Config) {
		cfg.Pipelines.Shaders = "nowhere"
	})
	if !errors.Is(err, core.ErrUnknownResource) {
		t.Errorf("Initialize err = %v, want %v", err, core.ErrUnknownResource)
	}
}

func TestRunUntilQuitEvent(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	done := f.run(t)
	waitFor(t, "frames", func() bool { return f.dev.Presents() >= 3 })

	f.events.Fire(core.EventCodeApplicationQuit, nil, core.EventContext{})
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
	if err := f.engine.Shutdown(); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if f.dev.LiveCount() != 0 {
		t.Errorf("live objects after shutdown: %v", f.dev.LiveObjects())
	}
	if f.window.shutdown != 1 {
		t.Errorf("window shut down %d times, want 1", f.window.shutdown)
	}
}

func TestRunStopsWhenWindowCloses(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	done := f.run(t)
	f.window.closed.Store(true)
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(Options{Window: &fakeWindow{}, Device: rendertest.NewDevice(rendertest.DefaultOptions())})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Run(context.Background()); !errors.Is(err, core.ErrNotInitialized) {
		t.Errorf("Run err = %v, want %v", err, core.ErrNotInitialized)
	}
}

func TestResizeEventRebuildsSwapchain(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	done := f.run(t)

	f.window.mu.Lock()
	f.window.width, f.window.height = 1024, 512
	f.window.mu.Unlock()
	var ctx core.EventContext
	ctx.Data.U32[0], ctx.Data.U32[1] = 1024, 512
	f.events.Fire(core.EventCodeResized, nil, ctx)

	want := metadata.Extent2D{Width: 1024, Height: 512}
	if got := f.engine.Host().Extent(); got != want {
		t.Errorf("Extent() = %v, want %v", got, want)
	}
	if !f.engine.Host().Running() {
		t.Errorf("render loop not restarted after resize")
	}
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestSpaceTogglesRendering(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	done := f.run(t)

	var ctx core.EventContext
	ctx.Data.U16[0] = platform.KeySpace
	f.events.Fire(core.EventCodeKeyPressed, nil, ctx)
	if f.engine.Host().Running() {
		t.Errorf("render loop still running after pause")
	}
	// the main loop must not restart a paused host
	time.Sleep(20 * time.Millisecond)
	if f.engine.Host().Running() {
		t.Errorf("render loop restarted while paused")
	}

	f.events.Fire(core.EventCodeKeyPressed, nil, ctx)
	if !f.engine.Host().Running() {
		t.Errorf("render loop not resumed")
	}
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestRecoversFromOutOfDateSwapchain(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	f.dev.ScriptAcquire(metadata.ErrorOutOfDate)
	done := f.run(t)

	waitFor(t, "swapchain rebuild", func() bool { return len(f.dev.OldSwapchains()) == 1 })
	waitFor(t, "frames after rebuild", func() bool { return f.dev.Presents() >= 2 })
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestOutOfDateRebuildIsRetried(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	stale := errors.Mark(errors.New("surface not ready"), core.ErrSwapchainOutOfDate)
	f.dev.FailOn("CreateSwapchain", stale)
	f.dev.ScriptAcquire(metadata.ErrorOutOfDate)
	done := f.run(t)

	// NewHost built the first one, the rest are retries from the main loop
	waitFor(t, "repeated rebuild attempts", func() bool { return f.dev.SwapchainCreates() >= 4 })
	select {
	case err := <-done:
		t.Fatalf("Run returned %v while the swapchain was out of date", err)
	default:
	}

	f.dev.FailOn("CreateSwapchain", nil)
	waitFor(t, "render loop restarted", func() bool { return f.engine.Host().Running() })
	before := f.dev.Presents()
	waitFor(t, "frames after rebuild", func() bool { return f.dev.Presents() >= before+2 })
	if old := f.dev.OldSwapchains(); len(old) != 1 {
		t.Errorf("old swapchains passed = %v, want exactly one", old)
	}
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestRunReturnsRenderFailure(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	f.dev.ScriptAcquire(metadata.ErrorDeviceLost)
	done := f.run(t)
	if err := waitDone(t, done); !errors.Is(err, core.ErrDeviceLost) {
		t.Errorf("Run = %v, want %v", err, core.ErrDeviceLost)
	}
}

func TestStatusTitle(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	done := f.run(t)
	waitFor(t, "title update", func() bool { return f.window.Title() != "" })
	f.engine.Quit()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run = %v", err)
	}
}

func TestApplyConfigChangesLogLevel(t *testing.T) {
	f, err := newFixture(t, nil)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	next := *f.engine.config()
	next.Log.Level = "debug"
	f.engine.applyConfig(&next)
	if got := f.engine.opts.Logger.GetLevel(); got != log.DebugLevel {
		t.Errorf("level = %v, want %v", got, log.DebugLevel)
	}
	if f.engine.config() != &next {
		t.Errorf("config not replaced")
	}
}
