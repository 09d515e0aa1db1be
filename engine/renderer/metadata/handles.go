package metadata

// Opaque device object handles. The zero value of every handle is the null
// handle. Backends map them to their native objects.
type (
	BufferHandle              uint64
	MemoryHandle              uint64
	ImageHandle               uint64
	ImageViewHandle           uint64
	SamplerHandle             uint64
	DescriptorSetLayoutHandle uint64
	DescriptorPoolHandle      uint64
	DescriptorSetHandle       uint64
	PipelineLayoutHandle      uint64
	PipelineHandle            uint64
	ShaderModuleHandle        uint64
	RenderPassHandle          uint64
	FramebufferHandle         uint64
	CommandPoolHandle         uint64
	FenceHandle               uint64
	SemaphoreHandle           uint64
	QueueHandle               uint64
	SwapchainHandle           uint64
)

const NullHandle = 0
