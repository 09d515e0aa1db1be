package platform

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

// Key codes carried in data.U16[0] of key events.
const (
	KeySpace  = uint16(glfw.KeySpace)
	KeyEscape = uint16(glfw.KeyEscape)
)

type Options struct {
	Name          string
	X, Y          int
	Width, Height int
}

// Window is a GLFW window without a client API, presented to by Vulkan.
// Input and framebuffer changes are forwarded to the event bus.
type Window struct {
	window *glfw.Window
	events *core.EventBus
	logger *core.Logger
}

func New(opts Options, events *core.EventBus, logger *core.Logger) (*Window, error) {
	logger = logger.Named("platform")
	if err := glfw.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize glfw")
	}
	if !glfw.VulkanSupported() {
		glfw.Terminate()
		return nil, errors.Wrap(core.ErrUnsupportedConfiguration, "glfw reports no vulkan loader")
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI) // Required for Vulkan.

	window, err := glfw.CreateWindow(opts.Width, opts.Height, opts.Name, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, errors.Wrap(err, "failed to create window")
	}
	w := &Window{window: window, events: events, logger: logger}

	window.SetKeyCallback(w.keyCallback)
	window.SetMouseButtonCallback(w.mouseButtonCallback)
	window.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	window.SetCloseCallback(w.closeCallback)
	window.SetPos(opts.X, opts.Y)
	window.Show()

	logger.Info("window created", "name", opts.Name, "width", opts.Width, "height", opts.Height)
	return w, nil
}

func (w *Window) RequiredInstanceExtensions() []string {
	return w.window.GetRequiredInstanceExtensions()
}

func (w *Window) CreateSurface(instance vk.Instance) (vk.Surface, error) {
	ptr, err := w.window.CreateWindowSurface(instance, nil)
	if err != nil {
		return vk.NullSurface, errors.Wrap(err, "create window surface")
	}
	return vk.SurfaceFromPointer(ptr), nil
}

// FramebufferSize is the drawable size in pixels, 0x0 while minimised.
func (w *Window) FramebufferSize() (uint32, uint32) {
	width, height := w.window.GetFramebufferSize()
	return uint32(max(width, 0)), uint32(max(height, 0))
}

// PumpMessages dispatches pending window events. Callbacks run on the
// calling goroutine, which must be the main thread.
func (w *Window) PumpMessages() {
	glfw.PollEvents()
}

// WaitMessages blocks until an event arrives or the timeout expires.
func (w *Window) WaitMessages(seconds float64) {
	glfw.WaitEventsTimeout(seconds)
}

// Wake unblocks a pending WaitMessages from any goroutine.
func (w *Window) Wake() {
	glfw.PostEmptyEvent()
}

func (w *Window) ShouldClose() bool {
	return w.window.ShouldClose()
}

func (w *Window) SetTitle(title string) {
	w.window.SetTitle(title)
}

func (w *Window) Shutdown() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
	glfw.Terminate()
}

func (w *Window) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if code, ctx, ok := keyEvent(key, action); ok {
		w.events.Fire(code, w, ctx)
	}
	if key == glfw.KeyEscape && action == glfw.Press {
		w.events.Fire(core.EventCodeApplicationQuit, w, core.EventContext{})
	}
}

func (w *Window) mouseButtonCallback(_ *glfw.Window, button glfw.MouseButton, action glfw.Action, _ glfw.ModifierKey) {
	var ctx core.EventContext
	ctx.Data.U16[0] = uint16(button)
	switch action {
	case glfw.Press:
		w.events.Fire(core.EventCodeButtonPressed, w, ctx)
	case glfw.Release:
		w.events.Fire(core.EventCodeButtonReleased, w, ctx)
	}
}

func (w *Window) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	w.logger.Debug("framebuffer resized", "width", width, "height", height)
	w.events.Fire(core.EventCodeResized, w, resizeEvent(width, height))
}

func (w *Window) closeCallback(_ *glfw.Window) {
	w.events.Fire(core.EventCodeApplicationQuit, w, core.EventContext{})
}

// keyEvent converts a GLFW key action. Repeats are dropped.
func keyEvent(key glfw.Key, action glfw.Action) (core.SystemEventCode, core.EventContext, bool) {
	var ctx core.EventContext
	if key < 0 {
		return 0, ctx, false
	}
	ctx.Data.U16[0] = uint16(key)
	switch action {
	case glfw.Press:
		return core.EventCodeKeyPressed, ctx, true
	case glfw.Release:
		return core.EventCodeKeyReleased, ctx, true
	}
	return 0, ctx, false
}

func resizeEvent(width, height int) core.EventContext {
	var ctx core.EventContext
	ctx.Data.U32[0] = uint32(max(width, 0))
	ctx.Data.U32[1] = uint32(max(height, 0))
	return ctx
}
