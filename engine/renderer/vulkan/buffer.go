package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

func memoryRequirements(reqs vk.MemoryRequirements) metadata.MemoryRequirements {
	reqs.Deref()
	return metadata.MemoryRequirements{
		Size:           uint64(reqs.Size),
		Alignment:      uint64(reqs.Alignment),
		MemoryTypeBits: reqs.MemoryTypeBits,
	}
}

func (b *Backend) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	context := b.context
	createInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var buffer vk.Buffer
	var reqs vk.MemoryRequirements
	err := context.locks.SafeCall(ResourceManagement, func() error {
		if res := vk.CreateBuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &buffer); res != vk.Success {
			return resultError(res, "create buffer")
		}
		vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer, &reqs)
		return nil
	})
	if err != nil {
		return metadata.NullHandle, metadata.MemoryRequirements{}, err
	}
	id := context.objects.buffers.Acquire(buffer)
	return metadata.BufferHandle(id), memoryRequirements(reqs), nil
}

func (b *Backend) DestroyBuffer(buffer metadata.BufferHandle) {
	context := b.context
	buf, err := context.objects.buffers.Release(uint64(buffer))
	if err != nil {
		b.logger.Warn("destroy of unknown buffer", "handle", buffer)
		return
	}
	_ = context.locks.SafeCall(ResourceManagement, func() error {
		vk.DestroyBuffer(context.Device.LogicalDevice, buf, context.Allocator)
		return nil
	})
}

func (b *Backend) AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.MemoryHandle, error) {
	context := b.context
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		return metadata.NullHandle, resultError(res, "allocate memory")
	}
	return metadata.MemoryHandle(context.objects.memories.Acquire(memory)), nil
}

func (b *Backend) FreeMemory(memory metadata.MemoryHandle) {
	mem, err := b.context.objects.memories.Release(uint64(memory))
	if err != nil {
		b.logger.Warn("free of unknown memory", "handle", memory)
		return
	}
	vk.FreeMemory(b.context.Device.LogicalDevice, mem, b.context.Allocator)
}

func (b *Backend) BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle, offset uint64) error {
	context := b.context
	buf, ok := context.objects.buffers.Get(uint64(buffer))
	if !ok {
		return unknownHandle("buffer", uint64(buffer))
	}
	mem, ok := context.objects.memories.Get(uint64(memory))
	if !ok {
		return unknownHandle("memory", uint64(memory))
	}
	return resultError(vk.BindBufferMemory(context.Device.LogicalDevice, buf, mem, vk.DeviceSize(offset)), "bind buffer memory")
}

func (b *Backend) MapMemory(memory metadata.MemoryHandle, offset, size uint64) ([]byte, error) {
	context := b.context
	mem, ok := context.objects.memories.Get(uint64(memory))
	if !ok {
		return nil, unknownHandle("memory", uint64(memory))
	}
	var data unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, mem, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data); res != vk.Success {
		return nil, resultError(res, "map memory")
	}
	return unsafe.Slice((*byte)(data), size), nil
}

func (b *Backend) UnmapMemory(memory metadata.MemoryHandle) {
	mem, ok := b.context.objects.memories.Get(uint64(memory))
	if !ok {
		return
	}
	vk.UnmapMemory(b.context.Device.LogicalDevice, mem)
}
