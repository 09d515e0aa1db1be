package metadata

import "math"

// Logical resource identifiers chosen by a pipeline. They are only
// meaningful inside the pipeline that declared them.
type (
	BufferID  uint32
	ImageID   uint32
	SamplerID uint32
)

// DescriptorSetID indexes the descriptor set layouts a pipeline declared,
// starting at 0.
type DescriptorSetID uint32

// InvalidDescriptorSetID means "no binding requested".
const InvalidDescriptorSetID DescriptorSetID = math.MaxUint32

// DescriptorBinding names one binding slot inside one declared set.
type DescriptorBinding struct {
	Set     DescriptorSetID
	Binding uint32
}

// Bind is shorthand for a DescriptorBinding literal.
func Bind(set DescriptorSetID, binding uint32) DescriptorBinding {
	return DescriptorBinding{Set: set, Binding: binding}
}

type DescriptorBindingSpec struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStageFlags
}

type DescriptorPoolSize struct {
	Type  DescriptorType
	Count uint32
}

type DescriptorBufferInfo struct {
	Buffer BufferHandle
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler SamplerHandle
	View    ImageViewHandle
	Layout  ImageLayout
}

// DescriptorWrite updates one binding of one descriptor set. Exactly one of
// BufferInfo and ImageInfo is set.
type DescriptorWrite struct {
	Set        DescriptorSetHandle
	Binding    uint32
	Type       DescriptorType
	BufferInfo *DescriptorBufferInfo
	ImageInfo  *DescriptorImageInfo
}

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
}

type ImageSubresourceRange struct {
	AspectMask     ImageAspectFlags
	BaseMipLevel   uint32
	LevelCount     uint32
	BaseArrayLayer uint32
	LayerCount     uint32
}

// ColorRange is the single mip, single layer color range.
func ColorRange() ImageSubresourceRange {
	return ImageSubresourceRange{AspectMask: ImageAspectColor, LevelCount: 1, LayerCount: 1}
}

type ImageCreateInfo struct {
	Type          ImageType
	Format        Format
	Extent        Extent3D
	MipLevels     uint32
	ArrayLayers   uint32
	Tiling        ImageTiling
	Usage         ImageUsageFlags
	InitialLayout ImageLayout
}

type ImageViewCreateInfo struct {
	Image  ImageHandle
	Type   ImageViewType
	Format Format
	Range  ImageSubresourceRange
}

type SamplerCreateInfo struct {
	MagFilter        Filter
	MinFilter        Filter
	MipmapMode       SamplerMipmapMode
	AddressModeU     SamplerAddressMode
	AddressModeV     SamplerAddressMode
	AddressModeW     SamplerAddressMode
	AnisotropyEnable bool
	MaxAnisotropy    float32
	BorderColor      BorderColor
	MinLod           float32
	MaxLod           float32
}

// SwapchainInfo describes a freshly created swapchain.
type SwapchainInfo struct {
	Handle SwapchainHandle
	Format Format
	Extent Extent2D
	Images []ImageHandle
}
