package metadata

// The enumerations below carry the numeric values of their Vulkan
// counterparts so a Vulkan backend can convert them with a plain cast.

type Format uint32

const (
	FormatUndefined          Format = 0
	FormatR8Unorm            Format = 9
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatR16Uint            Format = 74
	FormatR32Sfloat          Format = 100
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD16Unorm           Format = 124
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
	FormatD32SfloatS8Uint    Format = 130
)

func (f Format) IsDepth() bool {
	switch f {
	case FormatD16Unorm, FormatD32Sfloat, FormatD24UnormS8Uint, FormatD32SfloatS8Uint:
		return true
	}
	return false
}

type ImageLayout uint32

const (
	ImageLayoutUndefined                     ImageLayout = 0
	ImageLayoutGeneral                       ImageLayout = 1
	ImageLayoutColorAttachmentOptimal        ImageLayout = 2
	ImageLayoutDepthStencilAttachmentOptimal ImageLayout = 3
	ImageLayoutShaderReadOnlyOptimal         ImageLayout = 5
	ImageLayoutTransferSrcOptimal            ImageLayout = 6
	ImageLayoutTransferDstOptimal            ImageLayout = 7
	ImageLayoutPresentSrc                    ImageLayout = 1000001002
)

type DescriptorType uint32

const (
	DescriptorTypeSampler              DescriptorType = 0
	DescriptorTypeCombinedImageSampler DescriptorType = 1
	DescriptorTypeSampledImage         DescriptorType = 2
	DescriptorTypeStorageImage         DescriptorType = 3
	DescriptorTypeUniformTexelBuffer   DescriptorType = 4
	DescriptorTypeStorageTexelBuffer   DescriptorType = 5
	DescriptorTypeUniformBuffer        DescriptorType = 6
	DescriptorTypeStorageBuffer        DescriptorType = 7
)

// IsBuffer reports whether descriptors of this type reference a buffer.
func (t DescriptorType) IsBuffer() bool {
	return t == DescriptorTypeUniformBuffer || t == DescriptorTypeStorageBuffer
}

// IsImage reports whether descriptors of this type reference an image view.
func (t DescriptorType) IsImage() bool {
	return t == DescriptorTypeCombinedImageSampler || t == DescriptorTypeSampledImage || t == DescriptorTypeStorageImage
}

// IsSampler reports whether descriptors of this type reference a sampler.
func (t DescriptorType) IsSampler() bool {
	return t == DescriptorTypeSampler || t == DescriptorTypeCombinedImageSampler
}

type ShaderStageFlags uint32

const (
	ShaderStageVertex      ShaderStageFlags = 0x00000001
	ShaderStageGeometry    ShaderStageFlags = 0x00000008
	ShaderStageFragment    ShaderStageFlags = 0x00000010
	ShaderStageCompute     ShaderStageFlags = 0x00000020
	ShaderStageAllGraphics ShaderStageFlags = 0x0000001F
)

type BufferUsageFlags uint32

const (
	BufferUsageTransferSrc BufferUsageFlags = 0x00000001
	BufferUsageTransferDst BufferUsageFlags = 0x00000002
	BufferUsageUniform     BufferUsageFlags = 0x00000010
	BufferUsageStorage     BufferUsageFlags = 0x00000020
	BufferUsageIndex       BufferUsageFlags = 0x00000040
	BufferUsageVertex      BufferUsageFlags = 0x00000080
)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal  MemoryPropertyFlags = 0x00000001
	MemoryPropertyHostVisible  MemoryPropertyFlags = 0x00000002
	MemoryPropertyHostCoherent MemoryPropertyFlags = 0x00000004
	MemoryPropertyHostCached   MemoryPropertyFlags = 0x00000008
)

// Has reports whether every bit of want is set.
func (f MemoryPropertyFlags) Has(want MemoryPropertyFlags) bool {
	return f&want == want
}

type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc            ImageUsageFlags = 0x00000001
	ImageUsageTransferDst            ImageUsageFlags = 0x00000002
	ImageUsageSampled                ImageUsageFlags = 0x00000004
	ImageUsageStorage                ImageUsageFlags = 0x00000008
	ImageUsageColorAttachment        ImageUsageFlags = 0x00000010
	ImageUsageDepthStencilAttachment ImageUsageFlags = 0x00000020
)

type ImageType uint32

const (
	ImageType1D ImageType = 0
	ImageType2D ImageType = 1
	ImageType3D ImageType = 2
)

type ImageViewType uint32

const (
	ImageViewType1D ImageViewType = 0
	ImageViewType2D ImageViewType = 1
	ImageViewType3D ImageViewType = 2
)

// ViewType returns the view type matching an image type.
func (t ImageType) ViewType() ImageViewType {
	switch t {
	case ImageType1D:
		return ImageViewType1D
	case ImageType3D:
		return ImageViewType3D
	default:
		return ImageViewType2D
	}
}

type ImageTiling uint32

const (
	ImageTilingOptimal ImageTiling = 0
	ImageTilingLinear  ImageTiling = 1
)

type ImageAspectFlags uint32

const (
	ImageAspectColor   ImageAspectFlags = 0x00000001
	ImageAspectDepth   ImageAspectFlags = 0x00000002
	ImageAspectStencil ImageAspectFlags = 0x00000004
)

type Filter uint32

const (
	FilterNearest Filter = 0
	FilterLinear  Filter = 1
)

type SamplerMipmapMode uint32

const (
	SamplerMipmapModeNearest SamplerMipmapMode = 0
	SamplerMipmapModeLinear  SamplerMipmapMode = 1
)

type SamplerAddressMode uint32

const (
	SamplerAddressModeRepeat         SamplerAddressMode = 0
	SamplerAddressModeMirroredRepeat SamplerAddressMode = 1
	SamplerAddressModeClampToEdge    SamplerAddressMode = 2
	SamplerAddressModeClampToBorder  SamplerAddressMode = 3
)

type BorderColor uint32

const (
	BorderColorFloatTransparentBlack BorderColor = 0
	BorderColorIntOpaqueBlack        BorderColor = 3
	BorderColorFloatOpaqueWhite      BorderColor = 4
)

type PipelineBindPoint uint32

const (
	PipelineBindPointGraphics PipelineBindPoint = 0
	PipelineBindPointCompute  PipelineBindPoint = 1
)

type PrimitiveTopology uint32

const (
	PrimitiveTopologyPointList    PrimitiveTopology = 0
	PrimitiveTopologyLineList     PrimitiveTopology = 1
	PrimitiveTopologyLineStrip    PrimitiveTopology = 2
	PrimitiveTopologyTriangleList PrimitiveTopology = 3
)

type PipelineStageFlags uint32

const (
	PipelineStageTopOfPipe             PipelineStageFlags = 0x00000001
	PipelineStageVertexInput           PipelineStageFlags = 0x00000004
	PipelineStageVertexShader          PipelineStageFlags = 0x00000008
	PipelineStageFragmentShader        PipelineStageFlags = 0x00000080
	PipelineStageColorAttachmentOutput PipelineStageFlags = 0x00000400
	PipelineStageComputeShader         PipelineStageFlags = 0x00000800
	PipelineStageTransfer              PipelineStageFlags = 0x00001000
	PipelineStageBottomOfPipe          PipelineStageFlags = 0x00002000
)

type AccessFlags uint32

const (
	AccessVertexAttributeRead AccessFlags = 0x00000004
	AccessUniformRead         AccessFlags = 0x00000008
	AccessShaderRead          AccessFlags = 0x00000020
	AccessShaderWrite         AccessFlags = 0x00000040
	AccessTransferRead        AccessFlags = 0x00000800
	AccessTransferWrite       AccessFlags = 0x00001000
	AccessHostWrite           AccessFlags = 0x00004000
)
