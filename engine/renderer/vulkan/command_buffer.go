package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// VulkanCommandBuffer is a primary command buffer. Object handles passed to
// its recording methods are resolved through the context tables.
type VulkanCommandBuffer struct {
	Buffer vk.CommandBuffer
	State  VulkanCommandBufferState

	id      uint64
	context *VulkanContext
}

var _ renderer.CommandBuffer = (*VulkanCommandBuffer)(nil)

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	vCommandBuffer := &VulkanCommandBuffer{
		State:   COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		context: context,
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}

	buffers := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, buffers); res != vk.Success {
		return nil, resultError(res, "allocate command buffer")
	}
	vCommandBuffer.Buffer = buffers[0]
	vCommandBuffer.State = COMMAND_BUFFER_STATE_READY
	return vCommandBuffer, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Buffer != nil {
		vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Buffer})
	}
	v.Buffer = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

func (v *VulkanCommandBuffer) Handle() uint64 {
	return v.id
}

func (v *VulkanCommandBuffer) Begin(oneTimeSubmit bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}
	if oneTimeSubmit {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if res := vk.BeginCommandBuffer(v.Buffer, beginInfo); res != vk.Success {
		return resultError(res, "begin command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return errors.New("end command buffer inside a render pass")
	}
	if res := vk.EndCommandBuffer(v.Buffer); res != vk.Success {
		return resultError(res, "end command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() error {
	if res := vk.ResetCommandBuffer(v.Buffer, 0); res != vk.Success {
		return resultError(res, "reset command buffer")
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

func (v *VulkanCommandBuffer) BeginRenderPass(pass metadata.RenderPassHandle, framebuffer metadata.FramebufferHandle, extent metadata.Extent2D, clear metadata.ClearValues) {
	rp := lookup(v.context.objects.renderPasses, uint64(pass))
	fb := lookup(v.context.objects.framebuffers, uint64(framebuffer))
	if rp == nil || fb == nil {
		return
	}
	rp.RenderpassBegin(v, fb.Handle, extent, clear)
}

func (v *VulkanCommandBuffer) EndRenderPass() {
	if v.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return
	}
	vk.CmdEndRenderPass(v.Buffer)
	v.State = COMMAND_BUFFER_STATE_RECORDING
}

func (v *VulkanCommandBuffer) SetViewport(viewport metadata.Viewport) {
	vk.CmdSetViewport(v.Buffer, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (v *VulkanCommandBuffer) SetScissor(scissor metadata.Rect2D) {
	vk.CmdSetScissor(v.Buffer, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.Offset.X, Y: scissor.Offset.Y},
		Extent: vk.Extent2D{Width: scissor.Extent.Width, Height: scissor.Extent.Height},
	}})
}

func (v *VulkanCommandBuffer) BindGraphicsPipeline(pipeline metadata.PipelineHandle) {
	vk.CmdBindPipeline(v.Buffer, vk.PipelineBindPointGraphics, lookup(v.context.objects.pipelines, uint64(pipeline)))
}

func (v *VulkanCommandBuffer) BindDescriptorSets(bindPoint metadata.PipelineBindPoint, layout metadata.PipelineLayoutHandle, firstSet uint32, sets []metadata.DescriptorSetHandle) {
	if len(sets) == 0 {
		return
	}
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = lookup(v.context.objects.descriptorSets, uint64(s))
	}
	vk.CmdBindDescriptorSets(v.Buffer,
		vk.PipelineBindPoint(bindPoint),
		lookup(v.context.objects.pipelineLayouts, uint64(layout)),
		firstSet, uint32(len(handles)), handles, 0, nil)
}

func (v *VulkanCommandBuffer) BindVertexBuffers(first uint32, buffers []metadata.BufferHandle, offsets []uint64) {
	if len(buffers) == 0 {
		return
	}
	handles := make([]vk.Buffer, len(buffers))
	sizes := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = lookup(v.context.objects.buffers, uint64(b))
		if i < len(offsets) {
			sizes[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(v.Buffer, first, uint32(len(handles)), handles, sizes)
}

func (v *VulkanCommandBuffer) PushConstants(layout metadata.PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(v.Buffer,
		lookup(v.context.objects.pipelineLayouts, uint64(layout)),
		vk.ShaderStageFlags(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (v *VulkanCommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(v.Buffer, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (v *VulkanCommandBuffer) CopyBuffer(src, dst metadata.BufferHandle, regions []metadata.BufferCopy) {
	copies := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(v.Buffer,
		lookup(v.context.objects.buffers, uint64(src)),
		lookup(v.context.objects.buffers, uint64(dst)),
		uint32(len(copies)), copies)
}

func (v *VulkanCommandBuffer) CopyBufferToImage(src metadata.BufferHandle, dst metadata.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy) {
	copies := make([]vk.BufferImageCopy, len(regions))
	for i, r := range regions {
		copies[i] = vk.BufferImageCopy{
			BufferOffset: vk.DeviceSize(r.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: vk.ImageAspectFlags(r.Aspect),
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: r.Extent.Depth},
		}
	}
	vk.CmdCopyBufferToImage(v.Buffer,
		lookup(v.context.objects.buffers, uint64(src)),
		lookup(v.context.objects.images, uint64(dst)),
		vk.ImageLayout(layout), uint32(len(copies)), copies)
}

func (v *VulkanCommandBuffer) PipelineBarrier(srcStage, dstStage metadata.PipelineStageFlags, barriers []metadata.ImageBarrier) {
	imageBarriers := make([]vk.ImageMemoryBarrier, len(barriers))
	for i, b := range barriers {
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               lookup(v.context.objects.images, uint64(b.Image)),
			SubresourceRange:    subresourceRange(b.Range),
		}
	}
	vk.CmdPipelineBarrier(v.Buffer,
		vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage),
		0, 0, nil, 0, nil, uint32(len(imageBarriers)), imageBarriers)
}

func (b *Backend) CreateCommandPool(family uint32) (metadata.CommandPoolHandle, error) {
	context := b.context
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: family,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	err := context.locks.SafeCall(CommandPoolManagement, func() error {
		return resultError(vk.CreateCommandPool(context.Device.LogicalDevice, &poolCreateInfo, context.Allocator, &pool), "create command pool")
	})
	if err != nil {
		return metadata.NullHandle, err
	}
	id := context.objects.commandPools.Acquire(&commandPool{
		handle:  pool,
		family:  family,
		buffers: make(map[uint64]struct{}),
	})
	b.logger.Debug("Command pool created.", "family", family, "handle", id)
	return metadata.CommandPoolHandle(id), nil
}

// DestroyCommandPool frees the pool and every command buffer still
// allocated from it.
func (b *Backend) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	context := b.context
	cp, err := context.objects.commandPools.Release(uint64(pool))
	if err != nil {
		b.logger.Warn("destroy of unknown command pool", "handle", pool)
		return
	}
	context.objects.mu.Lock()
	for id := range cp.buffers {
		if cb, err := context.objects.commandBuffers.Release(id); err == nil {
			cb.Buffer = nil
			cb.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
		}
	}
	cp.buffers = nil
	context.objects.mu.Unlock()

	_ = context.locks.SafeCall(CommandPoolManagement, func() error {
		vk.DestroyCommandPool(context.Device.LogicalDevice, cp.handle, context.Allocator)
		return nil
	})
}

func (b *Backend) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (renderer.CommandBuffer, error) {
	context := b.context
	cp, ok := context.objects.commandPools.Get(uint64(pool))
	if !ok {
		return nil, unknownHandle("command pool", uint64(pool))
	}
	var cb *VulkanCommandBuffer
	err := context.locks.SafeCall(CommandPoolManagement, func() error {
		var err error
		cb, err = NewVulkanCommandBuffer(context, cp.handle)
		return err
	})
	if err != nil {
		return nil, err
	}
	cb.id = context.objects.commandBuffers.Acquire(cb)

	context.objects.mu.Lock()
	cp.buffers[cb.id] = struct{}{}
	context.objects.mu.Unlock()
	return cb, nil
}

func (b *Backend) FreeCommandBuffer(pool metadata.CommandPoolHandle, cb renderer.CommandBuffer) {
	context := b.context
	vcb, ok := cb.(*VulkanCommandBuffer)
	if !ok {
		b.logger.Warn("free of a foreign command buffer", "handle", cb.Handle())
		return
	}
	cp, ok := context.objects.commandPools.Get(uint64(pool))
	if !ok {
		b.logger.Warn("free of a command buffer from an unknown pool", "pool", pool)
		return
	}
	if _, err := context.objects.commandBuffers.Release(vcb.id); err != nil {
		return
	}
	context.objects.mu.Lock()
	delete(cp.buffers, vcb.id)
	context.objects.mu.Unlock()

	_ = context.locks.SafeCall(CommandPoolManagement, func() error {
		vcb.Free(context, cp.handle)
		return nil
	})
}

func (b *Backend) GetQueue(family, index uint32) (metadata.QueueHandle, error) {
	context := b.context
	count := context.Device.QueueCounts[family]
	if index >= count {
		return metadata.NullHandle, errors.Wrapf(core.ErrResourceExhausted,
			"queue %d of family %d (family has %d)", index, family, count)
	}
	id, created := context.objects.queue(family, index, func() *VulkanQueue {
		var q vk.Queue
		vk.GetDeviceQueue(context.Device.LogicalDevice, family, index, &q)
		return &VulkanQueue{Handle: q, Family: family, Index: index}
	})
	if created {
		context.locks.AddQueue(id)
	}
	return metadata.QueueHandle(id), nil
}

func (b *Backend) QueueSubmit(queue metadata.QueueHandle, cb renderer.CommandBuffer, wait metadata.SemaphoreHandle, fence metadata.FenceHandle) metadata.Result {
	context := b.context
	q, ok := context.objects.queues.Get(uint64(queue))
	vcb, cbOK := cb.(*VulkanCommandBuffer)
	if !ok || !cbOK {
		return metadata.ErrorUnknown
	}

	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{vcb.Buffer},
	}
	if wait != metadata.NullHandle {
		submitInfo.WaitSemaphoreCount = 1
		submitInfo.PWaitSemaphores = []vk.Semaphore{lookup(context.objects.semaphores, uint64(wait))}
		submitInfo.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	}
	var vkFence vk.Fence
	if f, ok := context.objects.fences.Get(uint64(fence)); ok {
		vkFence = f.Handle
	}

	var res vk.Result
	_ = context.locks.SafeQueueCall(uint64(queue), func() error {
		res = vk.QueueSubmit(q.Handle, 1, []vk.SubmitInfo{submitInfo}, vkFence)
		return nil
	})
	if res == vk.Success {
		vcb.UpdateSubmitted()
	} else {
		b.logger.Error("queue submit failed", "result", VulkanResultString(res))
	}
	return toResult(res)
}

func (b *Backend) QueueWaitIdle(queue metadata.QueueHandle) error {
	q, ok := b.context.objects.queues.Get(uint64(queue))
	if !ok {
		return unknownHandle("queue", uint64(queue))
	}
	return b.context.locks.SafeQueueCall(uint64(queue), func() error {
		return resultError(vk.QueueWaitIdle(q.Handle), "queue wait idle")
	})
}

func (b *Backend) DeviceWaitIdle() error {
	return b.context.locks.SafeDeviceCall(func() error {
		return resultError(vk.DeviceWaitIdle(b.context.Device.LogicalDevice), "device wait idle")
	})
}
