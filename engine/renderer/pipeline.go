package renderer

import (
	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// Pipeline is a rendering module hosted by a Host. Beyond this core contract
// a pipeline opts into frame stages by implementing PreRenderer, Computer,
// Renderer and ResizeListener. Capabilities are detected once, when the
// pipeline is registered.
type Pipeline interface {
	Name() string
	// QueueRequirements is queried once, right before Setup.
	QueueRequirements() metadata.QueueRequirements
	// Setup allocates every device resource the pipeline needs. On error the
	// host calls Cleanup and releases the binder, so Setup may leave partial
	// state behind.
	Setup(info *SetupInfo) error
	Cleanup(device Device) error
}

// PreRenderer runs once per frame before the swapchain image is acquired,
// outside the render pass. Uploads belong here.
type PreRenderer interface {
	PreRender(device Device, extent metadata.Extent2D) error
}

// Computer records compute work for the frame. It is only called when the
// pipeline claimed at least one compute queue.
type Computer interface {
	Compute(device Device) error
}

// Renderer records draw commands inside the host's render pass. It is only
// called when the pipeline claimed at least one graphics queue.
type Renderer interface {
	Render(device Device, cb CommandBuffer, extent metadata.Extent2D) error
}

// ResizeListener is notified after the swapchain was rebuilt.
type ResizeListener interface {
	Resized(extent metadata.Extent2D)
}

// SetupInfo is everything a pipeline receives to build its resources.
type SetupInfo struct {
	Device           Device
	MemoryProperties metadata.MemoryProperties
	QueueFamilies    metadata.QueueFamilyIndices
	QueueStart       metadata.QueueStartIndices
	Requirements     metadata.QueueRequirements
	RenderPass       metadata.RenderPassHandle
	Extent           metadata.Extent2D
	Binder           *ResourceBinder
	Logger           *core.Logger
}

type capabilities struct {
	preRender bool
	compute   bool
	render    bool
	resize    bool
}

func detectCapabilities(p Pipeline) capabilities {
	_, pre := p.(PreRenderer)
	_, cmp := p.(Computer)
	_, rnd := p.(Renderer)
	_, rsz := p.(ResizeListener)
	return capabilities{preRender: pre, compute: cmp, render: rnd, resize: rsz}
}
