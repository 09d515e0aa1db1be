package metadata

/** @brief Determines face culling mode during rendering. */
type FaceCullMode int

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

type Extent2D struct {
	Width  uint32
	Height uint32
}

func (e Extent2D) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

// Aspect returns width/height, or 1 for an empty extent.
func (e Extent2D) Aspect() float32 {
	if e.IsZero() {
		return 1
	}
	return float32(e.Width) / float32(e.Height)
}

type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

type Offset2D struct {
	X int32
	Y int32
}

type Rect2D struct {
	Offset Offset2D
	Extent Extent2D
}

type Viewport struct {
	X, Y          float32
	Width, Height float32
	MinDepth      float32
	MaxDepth      float32
}

// FullViewport covers the whole extent with a [0,1] depth range.
func FullViewport(extent Extent2D) Viewport {
	return Viewport{
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
}

/** @brief Clear values used when the main render pass begins. */
type ClearValues struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
}

/** @brief A range of push constant data visible to the given stages. */
type PushConstantRange struct {
	Stages ShaderStageFlags
	Offset uint32
	Size   uint32
}

/** @brief A single vertex attribute read from binding 0. */
type VertexAttribute struct {
	Location uint32
	Format   Format
	Offset   uint32
}

/**
 * @brief Describes a graphics pipeline state object targeting the main
 * render pass. Viewport and scissor are always dynamic.
 */
type GraphicsPipelineConfig struct {
	Layout         PipelineLayoutHandle
	RenderPass     RenderPassHandle
	VertexShader   ShaderModuleHandle
	FragmentShader ShaderModuleHandle
	/** @brief The stride of the vertex data, zero for pipelines without vertex input. */
	Stride     uint32
	Attributes []VertexAttribute
	Topology   PrimitiveTopology
	CullMode   FaceCullMode
	DepthTest  bool
	DepthWrite bool
	Blend      bool
}

type BufferCopy struct {
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       ImageAspectFlags
	Extent       Extent3D
}

/** @brief A layout transition for one image. */
type ImageBarrier struct {
	Image     ImageHandle
	OldLayout ImageLayout
	NewLayout ImageLayout
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Range     ImageSubresourceRange
}
