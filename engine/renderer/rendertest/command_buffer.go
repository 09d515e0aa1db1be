package rendertest

import (
	"sync"

	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

const (
	OpBeginRenderPass    = "BeginRenderPass"
	OpEndRenderPass      = "EndRenderPass"
	OpSetViewport        = "SetViewport"
	OpSetScissor         = "SetScissor"
	OpBindPipeline       = "BindGraphicsPipeline"
	OpBindDescriptorSets = "BindDescriptorSets"
	OpBindVertexBuffers  = "BindVertexBuffers"
	OpPushConstants      = "PushConstants"
	OpDraw               = "Draw"
	OpCopyBuffer         = "CopyBuffer"
	OpCopyBufferToImage  = "CopyBufferToImage"
	OpPipelineBarrier    = "PipelineBarrier"
)

// Command is one recorded command. Only the fields relevant to Op are set.
type Command struct {
	Op          string
	Framebuffer metadata.FramebufferHandle
	Extent      metadata.Extent2D
	Clear       metadata.ClearValues
	Pipeline    metadata.PipelineHandle
	Src, Dst    uint64
	Copies      []metadata.BufferCopy
	Barriers    []metadata.ImageBarrier
	VertexCount uint32
	Data        []byte
}

// CommandBuffer records commands in memory.
type CommandBuffer struct {
	mu        sync.Mutex
	handle    uint64
	commands  []Command
	recording bool
}

func (cb *CommandBuffer) Handle() uint64 { return cb.handle }

func (cb *CommandBuffer) Begin(oneTimeSubmit bool) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.commands = nil
	cb.recording = true
	return nil
}

func (cb *CommandBuffer) End() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.recording = false
	return nil
}

func (cb *CommandBuffer) Reset() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.commands = nil
	cb.recording = false
	return nil
}

// Commands returns a copy of what was recorded since the last Begin.
func (cb *CommandBuffer) Commands() []Command {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return append([]Command(nil), cb.commands...)
}

func (cb *CommandBuffer) record(c Command) {
	cb.mu.Lock()
	cb.commands = append(cb.commands, c)
	cb.mu.Unlock()
}

func (cb *CommandBuffer) BeginRenderPass(pass metadata.RenderPassHandle, framebuffer metadata.FramebufferHandle, extent metadata.Extent2D, clear metadata.ClearValues) {
	cb.record(Command{Op: OpBeginRenderPass, Framebuffer: framebuffer, Extent: extent, Clear: clear})
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.record(Command{Op: OpEndRenderPass})
}

func (cb *CommandBuffer) SetViewport(viewport metadata.Viewport) {
	cb.record(Command{Op: OpSetViewport, Extent: metadata.Extent2D{Width: uint32(viewport.Width), Height: uint32(viewport.Height)}})
}

func (cb *CommandBuffer) SetScissor(scissor metadata.Rect2D) {
	cb.record(Command{Op: OpSetScissor, Extent: scissor.Extent})
}

func (cb *CommandBuffer) BindGraphicsPipeline(pipeline metadata.PipelineHandle) {
	cb.record(Command{Op: OpBindPipeline, Pipeline: pipeline})
}

func (cb *CommandBuffer) BindDescriptorSets(bindPoint metadata.PipelineBindPoint, layout metadata.PipelineLayoutHandle, firstSet uint32, sets []metadata.DescriptorSetHandle) {
	cb.record(Command{Op: OpBindDescriptorSets})
}

func (cb *CommandBuffer) BindVertexBuffers(first uint32, buffers []metadata.BufferHandle, offsets []uint64) {
	c := Command{Op: OpBindVertexBuffers}
	if len(buffers) > 0 {
		c.Src = uint64(buffers[0])
	}
	cb.record(c)
}

func (cb *CommandBuffer) PushConstants(layout metadata.PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	cb.record(Command{Op: OpPushConstants, Data: append([]byte(nil), data...)})
}

func (cb *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	cb.record(Command{Op: OpDraw, VertexCount: vertexCount})
}

func (cb *CommandBuffer) CopyBuffer(src, dst metadata.BufferHandle, regions []metadata.BufferCopy) {
	cb.record(Command{Op: OpCopyBuffer, Src: uint64(src), Dst: uint64(dst), Copies: append([]metadata.BufferCopy(nil), regions...)})
}

func (cb *CommandBuffer) CopyBufferToImage(src metadata.BufferHandle, dst metadata.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	cb.record(Command{Op: OpCopyBufferToImage, Src: uint64(src), Dst: uint64(dst)})
}

func (cb *CommandBuffer) PipelineBarrier(srcStage, dstStage metadata.PipelineStageFlags, barriers []metadata.ImageBarrier) {
	cb.record(Command{Op: OpPipelineBarrier, Barriers: append([]metadata.ImageBarrier(nil), barriers...)})
}

var _ renderer.CommandBuffer = (*CommandBuffer)(nil)
