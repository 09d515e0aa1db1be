package renderer

import (
	"time"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// Device is the GPU collaborator the host drives. A Vulkan implementation
// lives in the vulkan package and a recording fake in rendertest.
//
// Methods that return a metadata.Result report conditions the caller is
// expected to handle (timeouts, out-of-date swapchains). Everything else
// reports failure through the error.
type Device interface {
	MemoryProperties() metadata.MemoryProperties
	QueueFamilies() metadata.QueueFamilyIndices
	// RenderPass returns the colour+depth render pass every pipeline draws in.
	RenderPass() metadata.RenderPassHandle
	DepthFormat() metadata.Format
	GetQueue(family, index uint32) (metadata.QueueHandle, error)

	CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error)
	DestroyBuffer(buffer metadata.BufferHandle)
	AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.MemoryHandle, error)
	FreeMemory(memory metadata.MemoryHandle)
	BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle, offset uint64) error
	// MapMemory returns a slice aliasing the mapped range. It stays valid
	// until UnmapMemory.
	MapMemory(memory metadata.MemoryHandle, offset, size uint64) ([]byte, error)
	UnmapMemory(memory metadata.MemoryHandle)

	CreateImage(info *metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error)
	DestroyImage(image metadata.ImageHandle)
	BindImageMemory(image metadata.ImageHandle, memory metadata.MemoryHandle, offset uint64) error
	CreateImageView(info *metadata.ImageViewCreateInfo) (metadata.ImageViewHandle, error)
	DestroyImageView(view metadata.ImageViewHandle)
	CreateSampler(info *metadata.SamplerCreateInfo) (metadata.SamplerHandle, error)
	DestroySampler(sampler metadata.SamplerHandle)

	CreateDescriptorSetLayout(bindings []metadata.DescriptorBindingSpec) (metadata.DescriptorSetLayoutHandle, error)
	DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle)
	CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPoolHandle, error)
	DestroyDescriptorPool(pool metadata.DescriptorPoolHandle)
	AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layouts []metadata.DescriptorSetLayoutHandle) ([]metadata.DescriptorSetHandle, error)
	UpdateDescriptorSets(writes []metadata.DescriptorWrite)

	CreateCommandPool(family uint32) (metadata.CommandPoolHandle, error)
	DestroyCommandPool(pool metadata.CommandPoolHandle)
	AllocateCommandBuffer(pool metadata.CommandPoolHandle) (CommandBuffer, error)
	FreeCommandBuffer(pool metadata.CommandPoolHandle, cb CommandBuffer)

	CreateFence(signaled bool) (metadata.FenceHandle, error)
	DestroyFence(fence metadata.FenceHandle)
	WaitForFence(fence metadata.FenceHandle, timeout time.Duration) metadata.Result
	ResetFence(fence metadata.FenceHandle) error
	CreateSemaphore() (metadata.SemaphoreHandle, error)
	DestroySemaphore(semaphore metadata.SemaphoreHandle)

	// QueueSubmit submits one command buffer. A non-null wait semaphore gates
	// the colour-attachment-output stage; a non-null fence is signalled on
	// completion.
	QueueSubmit(queue metadata.QueueHandle, cb CommandBuffer, wait metadata.SemaphoreHandle, fence metadata.FenceHandle) metadata.Result
	QueueWaitIdle(queue metadata.QueueHandle) error
	DeviceWaitIdle() error

	// CreateSwapchain builds a swapchain for the given extent. A non-null old
	// swapchain is handed to the driver for reuse and must still be destroyed
	// by the caller.
	CreateSwapchain(extent metadata.Extent2D, old metadata.SwapchainHandle) (*metadata.SwapchainInfo, error)
	DestroySwapchain(swapchain metadata.SwapchainHandle)
	AcquireNextImage(swapchain metadata.SwapchainHandle, signal metadata.SemaphoreHandle) (uint32, metadata.Result)
	QueuePresent(queue metadata.QueueHandle, swapchain metadata.SwapchainHandle, imageIndex uint32, wait metadata.SemaphoreHandle) metadata.Result
	CreateFramebuffer(pass metadata.RenderPassHandle, attachments []metadata.ImageViewHandle, extent metadata.Extent2D) (metadata.FramebufferHandle, error)
	DestroyFramebuffer(framebuffer metadata.FramebufferHandle)

	CreatePipelineLayout(layouts []metadata.DescriptorSetLayoutHandle, pushConstants []metadata.PushConstantRange) (metadata.PipelineLayoutHandle, error)
	DestroyPipelineLayout(layout metadata.PipelineLayoutHandle)
	CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error)
	DestroyShaderModule(module metadata.ShaderModuleHandle)
	CreateGraphicsPipeline(config *metadata.GraphicsPipelineConfig) (metadata.PipelineHandle, error)
	DestroyPipeline(pipeline metadata.PipelineHandle)
}

// CommandBuffer records commands for later submission.
type CommandBuffer interface {
	Handle() uint64
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	BeginRenderPass(pass metadata.RenderPassHandle, framebuffer metadata.FramebufferHandle, extent metadata.Extent2D, clear metadata.ClearValues)
	EndRenderPass()
	SetViewport(viewport metadata.Viewport)
	SetScissor(scissor metadata.Rect2D)

	BindGraphicsPipeline(pipeline metadata.PipelineHandle)
	BindDescriptorSets(bindPoint metadata.PipelineBindPoint, layout metadata.PipelineLayoutHandle, firstSet uint32, sets []metadata.DescriptorSetHandle)
	BindVertexBuffers(first uint32, buffers []metadata.BufferHandle, offsets []uint64)
	PushConstants(layout metadata.PipelineLayoutHandle, stages metadata.ShaderStageFlags, offset uint32, data []byte)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)

	CopyBuffer(src, dst metadata.BufferHandle, regions []metadata.BufferCopy)
	CopyBufferToImage(src metadata.BufferHandle, dst metadata.ImageHandle, layout metadata.ImageLayout, regions []metadata.BufferImageCopy)
	PipelineBarrier(srcStage, dstStage metadata.PipelineStageFlags, barriers []metadata.ImageBarrier)
}
