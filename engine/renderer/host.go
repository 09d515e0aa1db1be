package renderer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type HostOptions struct {
	Extent       metadata.Extent2D
	Clear        metadata.ClearValues
	FenceTimeout time.Duration
}

func DefaultHostOptions() HostOptions {
	return HostOptions{
		Extent: metadata.Extent2D{Width: core.DefaultWindowWidth, Height: core.DefaultWindowHeight},
		Clear: metadata.ClearValues{
			Color: [4]float32{0.2, 0.2, 0.2, 0.2},
			Depth: 1.0,
		},
		FenceTimeout: core.DefaultFenceTimeout,
	}
}

// Host owns the swapchain, the frame submission queue and the registered
// pipelines, and runs the render loop on its own goroutine.
//
// Lock order: resizeMu, runMu, stateMu. A resize takes the registry lock
// after releasing stateMu; pipeline setup reads stateMu through Extent while
// holding the registry lock.
type Host struct {
	device Device
	logger *core.Logger
	opts   HostOptions

	registry *Registry
	metrics  *core.FrameMetrics

	graphicsQueue metadata.QueueHandle
	presentQueue  metadata.QueueHandle
	commandPool   metadata.CommandPoolHandle
	commandBuffer CommandBuffer

	stateMu   sync.RWMutex
	swapchain *SwapchainState
	requested metadata.Extent2D
	minimized bool

	runMu           sync.Mutex
	renderRequested bool
	shutdown        bool
	enabled         atomic.Bool
	wg              sync.WaitGroup

	resizeMu sync.Mutex

	errMu sync.Mutex
	err   error
}

// NewHost builds the swapchain state and the host's command buffer. The
// device stays owned by the caller and must outlive the host.
func NewHost(device Device, opts HostOptions, logger *core.Logger) (*Host, error) {
	if logger == nil {
		logger = core.NewDiscardLogger()
	}
	if opts.FenceTimeout <= 0 {
		opts.FenceTimeout = core.DefaultFenceTimeout
	}
	if opts.Extent.IsZero() {
		return nil, errors.Wrapf(core.ErrInvalidConfig, "initial extent %dx%d", opts.Extent.Width, opts.Extent.Height)
	}
	h := &Host{
		device:    device,
		logger:    logger.Named("host"),
		opts:      opts,
		metrics:   core.NewFrameMetrics(),
		requested: opts.Extent,
	}

	families := device.QueueFamilies()
	var err error
	if h.graphicsQueue, err = device.GetQueue(families.Graphics, 0); err != nil {
		return nil, errors.Wrap(err, "get graphics queue")
	}
	if h.presentQueue, err = device.GetQueue(families.Present, 0); err != nil {
		return nil, errors.Wrap(err, "get present queue")
	}
	if h.swapchain, err = BuildSwapchainState(device, opts.Extent, metadata.NullHandle); err != nil {
		return nil, err
	}
	if h.commandPool, err = device.CreateCommandPool(families.Graphics); err != nil {
		h.swapchain.Destroy(device)
		return nil, errors.Wrap(err, "create host command pool")
	}
	if h.commandBuffer, err = device.AllocateCommandBuffer(h.commandPool); err != nil {
		device.DestroyCommandPool(h.commandPool)
		h.swapchain.Destroy(device)
		return nil, errors.Wrap(err, "allocate host command buffer")
	}

	h.registry = NewRegistry(SetupEnvironment{
		Device:           device,
		MemoryProperties: device.MemoryProperties(),
		QueueFamilies:    families,
		RenderPass:       device.RenderPass(),
		Extent:           h.Extent,
	}, logger)

	h.logger.Info("host created",
		"width", h.swapchain.Extent.Width, "height", h.swapchain.Extent.Height,
		"images", len(h.swapchain.Images),
		"graphicsQueues", families.GraphicsCount, "computeQueues", families.ComputeCount)
	return h, nil
}

func (h *Host) QueuePipelines(n uint32) {
	h.registry.QueuePipelines(n)
}

func (h *Host) DequeuePipelines(n uint32) error {
	return h.registry.DequeuePipelines(n)
}

func (h *Host) NewPipeline(p Pipeline) (uuid.UUID, error) {
	return h.registry.NewPipeline(p)
}

func (h *Host) CreateComponentPipelines() error {
	return h.registry.CreateComponentPipelines()
}

// StartRender starts the render loop. If the window is minimised the loop
// starts on the next resize instead.
func (h *Host) StartRender() error {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.shutdown {
		return errors.Wrap(core.ErrHostShutdown, "start render")
	}
	if h.enabled.Load() {
		return errors.Wrap(core.ErrAlreadyRunning, "start render")
	}
	h.renderRequested = true
	h.stateMu.RLock()
	minimized := h.minimized
	missing := h.swapchain.Handle == metadata.NullHandle
	h.stateMu.RUnlock()
	if minimized {
		h.logger.Debug("window minimised, render loop deferred")
		return nil
	}
	if missing {
		h.logger.Debug("no swapchain, render loop deferred to the next resize")
		return nil
	}
	h.startLocked()
	return nil
}

// StopRender stops the render loop and waits for the in-flight frame.
func (h *Host) StopRender() {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	h.renderRequested = false
	h.stopLocked()
}

func (h *Host) startLocked() {
	// a loop that exited on its own still has to be joined
	h.wg.Wait()
	h.stateMu.RLock()
	sc := h.swapchain
	h.stateMu.RUnlock()

	h.setErr(nil)
	h.enabled.Store(true)
	h.wg.Add(1)
	go h.renderLoop(sc)
}

func (h *Host) stopLocked() {
	h.enabled.Store(false)
	h.wg.Wait()
}

// Running reports whether the render loop is active.
func (h *Host) Running() bool {
	return h.enabled.Load()
}

// Err returns the error that stopped the render loop, if any.
func (h *Host) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

func (h *Host) setErr(err error) {
	h.errMu.Lock()
	h.err = err
	h.errMu.Unlock()
}

func (h *Host) Extent() metadata.Extent2D {
	h.stateMu.RLock()
	defer h.stateMu.RUnlock()
	return h.swapchain.Extent
}

func (h *Host) Pipelines() []PipelineStatus {
	return h.registry.Statuses()
}

func (h *Host) Metrics() core.MetricsSnapshot {
	return h.metrics.Snapshot()
}

func (h *Host) Registry() *Registry {
	return h.registry
}

// Shutdown stops rendering and releases, in order: pipelines, framebuffers
// and views, the depth attachment, the host command pool and the swapchain.
// The device itself is left to its owner.
func (h *Host) Shutdown() error {
	h.resizeMu.Lock()
	defer h.resizeMu.Unlock()
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if h.shutdown {
		return nil
	}
	h.shutdown = true
	h.renderRequested = false
	h.stopLocked()

	var combined error
	if err := h.device.DeviceWaitIdle(); err != nil {
		combined = errors.CombineErrors(combined, errors.Wrap(err, "wait device idle"))
	}
	if err := h.registry.CleanupAll(); err != nil {
		combined = errors.CombineErrors(combined, err)
	}

	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	h.swapchain.DestroyAttachments(h.device)
	h.device.FreeCommandBuffer(h.commandPool, h.commandBuffer)
	h.device.DestroyCommandPool(h.commandPool)
	h.swapchain.DestroySwapchain(h.device)
	h.logger.Info("host shut down")
	return combined
}
