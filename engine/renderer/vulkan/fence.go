package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type VulkanFence struct {
	Handle     vk.Fence
	IsSignaled bool
}

func NewFence(context *VulkanContext, createSignaled bool) (*VulkanFence, error) {
	fence := &VulkanFence{
		IsSignaled: createSignaled,
	}

	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if fence.IsSignaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}

	var pFence vk.Fence
	if res := vk.CreateFence(context.Device.LogicalDevice, &fenceCreateInfo, context.Allocator, &pFence); res != vk.Success {
		return nil, resultError(res, "create fence")
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) FenceDestroy(context *VulkanContext) {
	if vf.Handle != nil {
		vk.DestroyFence(context.Device.LogicalDevice, vf.Handle, context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

// FenceWait waits up to timeout for the fence. Timeouts are reported to
// the caller, which decides whether to retry.
func (vf *VulkanFence) FenceWait(context *VulkanContext, timeout time.Duration, logger *core.Logger) vk.Result {
	if vf.IsSignaled {
		return vk.Success
	}
	result := vk.WaitForFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, uint64(timeout.Nanoseconds()))
	switch result {
	case vk.Success:
		vf.IsSignaled = true
	case vk.Timeout:
		logger.Debug("fence wait timed out", "timeout", timeout)
	default:
		logger.Error("fence wait failed", "result", VulkanResultString(result))
	}
	return result
}

func (vf *VulkanFence) FenceReset(context *VulkanContext) error {
	if res := vk.ResetFences(context.Device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		return resultError(res, "reset fence")
	}
	vf.IsSignaled = false
	return nil
}

func (b *Backend) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	f, err := NewFence(b.context, signaled)
	if err != nil {
		return metadata.NullHandle, err
	}
	return metadata.FenceHandle(b.context.objects.fences.Acquire(f)), nil
}

func (b *Backend) DestroyFence(fence metadata.FenceHandle) {
	f, err := b.context.objects.fences.Release(uint64(fence))
	if err != nil {
		b.logger.Warn("destroy of unknown fence", "handle", fence)
		return
	}
	f.FenceDestroy(b.context)
}

func (b *Backend) WaitForFence(fence metadata.FenceHandle, timeout time.Duration) metadata.Result {
	f, ok := b.context.objects.fences.Get(uint64(fence))
	if !ok {
		return metadata.ErrorUnknown
	}
	return toResult(f.FenceWait(b.context, timeout, b.logger))
}

func (b *Backend) ResetFence(fence metadata.FenceHandle) error {
	f, ok := b.context.objects.fences.Get(uint64(fence))
	if !ok {
		return unknownHandle("fence", uint64(fence))
	}
	return f.FenceReset(b.context)
}

func (b *Backend) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(b.context.Device.LogicalDevice, &info, b.context.Allocator, &semaphore); res != vk.Success {
		return metadata.NullHandle, resultError(res, "create semaphore")
	}
	return metadata.SemaphoreHandle(b.context.objects.semaphores.Acquire(semaphore)), nil
}

func (b *Backend) DestroySemaphore(semaphore metadata.SemaphoreHandle) {
	s, err := b.context.objects.semaphores.Release(uint64(semaphore))
	if err != nil {
		b.logger.Warn("destroy of unknown semaphore", "handle", semaphore)
		return
	}
	vk.DestroySemaphore(b.context.Device.LogicalDevice, s, b.context.Allocator)
}
