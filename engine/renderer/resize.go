package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// UpdateWindowExtents rebuilds the swapchain for a new window size. The
// render loop is stopped for the duration and restarted if rendering had
// been requested. A 0x0 size only marks the window as minimised. A size equal
// to the last requested one is a no-op while the loop runs; after the loop
// stopped on an out-of-date swapchain it forces a rebuild.
//
// A failed rebuild leaves the host without a swapchain. The next call builds
// a fresh one, since the driver retires the old handle even on failure.
func (h *Host) UpdateWindowExtents(width, height uint32) error {
	h.resizeMu.Lock()
	defer h.resizeMu.Unlock()

	extent := metadata.Extent2D{Width: width, Height: height}

	h.stateMu.Lock()
	if extent.IsZero() {
		h.minimized = true
		h.stateMu.Unlock()
		h.logger.Debug("window minimised")
		return nil
	}
	// the built extent may be clamped by the surface, so compare requests
	unchanged := h.requested == extent && !h.minimized && h.enabled.Load()
	h.stateMu.Unlock()
	if unchanged {
		return nil
	}

	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.shutdown {
		return errors.Wrap(core.ErrHostShutdown, "resize")
	}
	h.stopLocked()

	if err := h.device.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "wait device idle before resize")
	}

	h.stateMu.Lock()
	old := h.swapchain
	next, err := BuildSwapchainState(h.device, extent, old.Handle)
	if err != nil {
		old.Destroy(h.device)
		h.swapchain = &SwapchainState{Extent: old.Extent}
		h.stateMu.Unlock()
		return errors.Wrapf(err, "rebuild swapchain for %dx%d", width, height)
	}
	old.Destroy(h.device)
	h.swapchain = next
	h.requested = extent
	h.minimized = false
	h.stateMu.Unlock()

	h.logger.Info("swapchain rebuilt", "width", next.Extent.Width, "height", next.Extent.Height)

	h.registry.NotifyResized(next.Extent)

	if h.renderRequested {
		h.startLocked()
	}
	return nil
}
