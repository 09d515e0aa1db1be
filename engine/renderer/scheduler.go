package renderer

import (
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// frameSync is reused by every iteration of one render loop.
type frameSync struct {
	fence     metadata.FenceHandle
	available metadata.SemaphoreHandle
}

func newFrameSync(device Device) (*frameSync, error) {
	fence, err := device.CreateFence(false)
	if err != nil {
		return nil, errors.Wrap(err, "create frame fence")
	}
	sem, err := device.CreateSemaphore()
	if err != nil {
		device.DestroyFence(fence)
		return nil, errors.Wrap(err, "create image available semaphore")
	}
	return &frameSync{fence: fence, available: sem}, nil
}

func (fs *frameSync) destroy(device Device) {
	device.DestroySemaphore(fs.available)
	device.DestroyFence(fs.fence)
}

func (h *Host) renderLoop(sc *SwapchainState) {
	defer h.wg.Done()

	fs, err := newFrameSync(h.device)
	if err != nil {
		h.logger.Error("render loop not started", "err", err)
		h.setErr(err)
		h.enabled.Store(false)
		return
	}
	defer func() {
		if err := h.device.DeviceWaitIdle(); err != nil {
			h.logger.Warn("wait idle at render loop exit", "err", err)
		}
		fs.destroy(h.device)
	}()

	h.logger.Debug("render loop started")
	for h.enabled.Load() {
		err := h.drawFrame(sc, fs)
		if err == nil {
			continue
		}
		if errors.Is(err, core.ErrSwapchainOutOfDate) {
			h.logger.Warn("swapchain out of date, render loop stopped")
			h.enabled.Store(false)
			break
		}
		h.logger.Error("render loop stopped", "err", err)
		// observers check Err once Running reports false
		h.setErr(err)
		h.enabled.Store(false)
	}
	h.logger.Debug("render loop exited")
}

// drawFrame runs one iteration: pre-render stages, acquire, record every
// active pipeline in registration order, submit, wait, present.
func (h *Host) drawFrame(sc *SwapchainState, fs *frameSync) error {
	frameStart := hrtime.Now()
	active := h.registry.Active()
	extent := sc.Extent

	for _, rec := range active {
		if !rec.caps.preRender {
			continue
		}
		if err := rec.Pipeline.(PreRenderer).PreRender(h.device, extent); err != nil {
			rec.logger.Error("prerender failed", "err", err)
		}
	}

	imageIndex, res := h.device.AcquireNextImage(sc.Handle, fs.available)
	switch {
	case res == metadata.ErrorOutOfDate:
		return errors.Wrap(core.ErrSwapchainOutOfDate, "acquire next image")
	case res.IsError():
		return errors.Wrap(resultError(res), "acquire next image")
	}

	cb := h.commandBuffer
	if err := cb.Reset(); err != nil {
		return errors.Wrap(err, "reset command buffer")
	}
	if err := cb.Begin(true); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	cb.BeginRenderPass(h.device.RenderPass(), sc.Framebuffers[imageIndex], extent, h.opts.Clear)
	cb.SetViewport(metadata.FullViewport(extent))
	cb.SetScissor(metadata.Rect2D{Extent: extent})

	for _, rec := range active {
		if rec.Requirements.Compute > 0 && rec.caps.compute {
			if err := rec.Pipeline.(Computer).Compute(h.device); err != nil {
				rec.logger.Error("compute failed", "err", err)
			}
		}
		if rec.Requirements.Graphics > 0 && rec.caps.render {
			if err := rec.Pipeline.(Renderer).Render(h.device, cb, extent); err != nil {
				rec.logger.Error("render failed", "err", err)
			}
		}
	}

	cb.EndRenderPass()
	if err := cb.End(); err != nil {
		return errors.Wrap(err, "end command buffer")
	}

	if res := h.device.QueueSubmit(h.graphicsQueue, cb, fs.available, fs.fence); res.IsError() {
		return errors.Wrap(resultError(res), "submit frame")
	}
	if err := h.waitFrameFence(fs.fence); err != nil {
		return err
	}

	res = h.device.QueuePresent(h.presentQueue, sc.Handle, imageIndex, metadata.NullHandle)
	switch {
	case res == metadata.Success:
	case res == metadata.ErrorOutOfDate:
		return errors.Wrap(core.ErrSwapchainOutOfDate, "present")
	case res == metadata.ErrorDeviceLost:
		return errors.Wrap(resultError(res), "present")
	default:
		h.logger.Warn("present did not succeed", "result", res.String())
	}

	h.metrics.Update(hrtime.Since(frameStart))
	return nil
}

// waitFrameFence blocks until the frame fence signals. Timeouts are retried.
func (h *Host) waitFrameFence(fence metadata.FenceHandle) error {
	for {
		res := h.device.WaitForFence(fence, h.opts.FenceTimeout)
		switch res {
		case metadata.Success:
			if err := h.device.ResetFence(fence); err != nil {
				return errors.Wrap(err, "reset frame fence")
			}
			return nil
		case metadata.Timeout, metadata.NotReady:
			continue
		default:
			return errors.Wrap(resultError(res), "wait for frame fence")
		}
	}
}
