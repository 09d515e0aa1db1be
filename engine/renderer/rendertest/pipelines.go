package rendertest

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// EventLog collects "<pipeline>:<stage>" entries from recording pipelines.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *EventLog) Add(name, stage string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf("%s:%s", name, stage))
	l.mu.Unlock()
}

func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Count returns how many times an entry was logged.
func (l *EventLog) Count(entry string) int {
	n := 0
	for _, e := range l.Events() {
		if e == entry {
			n++
		}
	}
	return n
}

// Pipeline implements only the core contract: it has no frame stages.
type Pipeline struct {
	ID       string
	Req      metadata.QueueRequirements
	Log      *EventLog
	SetupErr error
	// SetupFunc, when set, runs inside Setup before SetupErr is returned.
	SetupFunc func(info *renderer.SetupInfo) error

	mu       sync.Mutex
	info     *renderer.SetupInfo
	setups   int
	cleanups int
}

func (p *Pipeline) Name() string { return p.ID }

func (p *Pipeline) QueueRequirements() metadata.QueueRequirements { return p.Req }

func (p *Pipeline) Setup(info *renderer.SetupInfo) error {
	p.mu.Lock()
	p.setups++
	p.info = info
	p.mu.Unlock()
	p.Log.Add(p.ID, "setup")
	if p.SetupFunc != nil {
		if err := p.SetupFunc(info); err != nil {
			return err
		}
	}
	return p.SetupErr
}

func (p *Pipeline) Cleanup(device renderer.Device) error {
	p.mu.Lock()
	p.cleanups++
	p.mu.Unlock()
	p.Log.Add(p.ID, "cleanup")
	return nil
}

func (p *Pipeline) SetupCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setups
}

func (p *Pipeline) CleanupCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cleanups
}

// Info returns the SetupInfo of the last Setup call.
func (p *Pipeline) Info() *renderer.SetupInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// RenderPipeline records a draw whose vertex count is Marker.
type RenderPipeline struct {
	Pipeline
	Marker uint32
}

func (p *RenderPipeline) Render(device renderer.Device, cb renderer.CommandBuffer, extent metadata.Extent2D) error {
	p.Log.Add(p.ID, "render")
	cb.Draw(p.Marker, 1, 0, 0)
	return nil
}

// PreRenderPipeline has a pre-render stage on top of rendering.
type PreRenderPipeline struct {
	RenderPipeline
}

func (p *PreRenderPipeline) PreRender(device renderer.Device, extent metadata.Extent2D) error {
	p.Log.Add(p.ID, "prerender")
	return nil
}

// ComputePipeline only computes.
type ComputePipeline struct {
	Pipeline
}

func (p *ComputePipeline) Compute(device renderer.Device) error {
	p.Log.Add(p.ID, "compute")
	return nil
}

// ResizePipeline records every extent it is resized to.
type ResizePipeline struct {
	RenderPipeline

	rmu     sync.Mutex
	extents []metadata.Extent2D
}

func (p *ResizePipeline) Resized(extent metadata.Extent2D) {
	p.rmu.Lock()
	p.extents = append(p.extents, extent)
	p.rmu.Unlock()
	p.Log.Add(p.ID, "resized")
}

func (p *ResizePipeline) Extents() []metadata.Extent2D {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	return append([]metadata.Extent2D(nil), p.extents...)
}

var (
	_ renderer.Pipeline       = (*Pipeline)(nil)
	_ renderer.Renderer       = (*RenderPipeline)(nil)
	_ renderer.PreRenderer    = (*PreRenderPipeline)(nil)
	_ renderer.Computer       = (*ComputePipeline)(nil)
	_ renderer.ResizeListener = (*ResizePipeline)(nil)
)
