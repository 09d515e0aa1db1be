package text

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

const (
	vertexBuffer metadata.BufferID = iota
	atlasStaging
)

const (
	atlasImage   metadata.ImageID   = 0
	atlasSampler metadata.SamplerID = 0
)

// projection matrix followed by the text color
const pushConstantSize = 64 + 16

// Anchor selects the window corner the text block is placed against.
type Anchor int

const (
	AnchorTopLeft Anchor = iota
	AnchorBottomLeft
)

type Options struct {
	VertexShader   []byte
	FragmentShader []byte
	Font           *Font
	// MaxGlyphs bounds the visible glyphs; extra ones are not drawn.
	MaxGlyphs int
	Color     [4]float32
	Scale     float32
	Anchor    Anchor
	// Margin is the distance in pixels from the anchored corner.
	Margin float32
}

// Pipeline draws a block of text with alpha blending. It is meant to be
// registered last so it lands on top of everything else.
type Pipeline struct {
	opts   Options
	logger *core.Logger

	queues   *renderer.QueueSet
	shaders  pipelines.Shaders
	pipeline metadata.PipelineHandle
	layout   metadata.PipelineLayoutHandle
	set      metadata.DescriptorSetHandle
	vertices *renderer.BufferResource
	atlas    *renderer.ImageResource

	scratch []Vertex

	mu         sync.Mutex
	text       string
	dirty      bool
	extent     metadata.Extent2D
	projection mgl32.Mat4
	count      uint32
}

func New(opts Options) *Pipeline {
	if opts.MaxGlyphs <= 0 {
		opts.MaxGlyphs = 256
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}
	if opts.Color == ([4]float32{}) {
		opts.Color = [4]float32{1, 1, 1, 1}
	}
	return &Pipeline{
		opts:       opts,
		logger:     core.NewDiscardLogger(),
		projection: mgl32.Ident4(),
	}
}

func (p *Pipeline) Name() string { return "text" }

// QueueRequirements claims one graphics queue for the atlas upload.
func (p *Pipeline) QueueRequirements() metadata.QueueRequirements {
	return metadata.QueueRequirements{Graphics: 1}
}

// SetText replaces the displayed text. The vertex buffer is rebuilt on the
// next PreRender.
func (p *Pipeline) SetText(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s == p.text {
		return
	}
	p.text = s
	p.dirty = true
}

func (p *Pipeline) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.text
}

func (p *Pipeline) Setup(info *renderer.SetupInfo) error {
	p.logger = info.Logger
	device := info.Device
	font := p.opts.Font
	if font == nil || font.Atlas == nil {
		return errors.Wrap(core.ErrInvalidConfig, "text pipeline needs a font with an atlas")
	}

	queues, err := renderer.NewQueueSet(device, info.QueueFamilies.Graphics, info.QueueStart.Graphics, info.Requirements.Graphics)
	if err != nil {
		return err
	}
	p.queues = queues

	binder := info.Binder
	set, err := binder.DeclareDescriptorSet([]metadata.DescriptorBindingSpec{
		{Binding: 0, Type: metadata.DescriptorTypeCombinedImageSampler, Count: 1, Stages: metadata.ShaderStageFragment},
	})
	if err != nil {
		return err
	}

	hostMemory := metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent
	size := uint64(p.opts.MaxGlyphs * verticesPerQuad * vertexStride)
	if p.vertices, err = binder.AllocateBuffer(vertexBuffer, size, metadata.BufferUsageVertex, hostMemory); err != nil {
		return err
	}

	sampler, err := binder.AllocateSampler(atlasSampler, &metadata.SamplerCreateInfo{
		MagFilter:    metadata.FilterLinear,
		MinFilter:    metadata.FilterLinear,
		MipmapMode:   metadata.SamplerMipmapModeLinear,
		AddressModeU: metadata.SamplerAddressModeClampToEdge,
		AddressModeV: metadata.SamplerAddressModeClampToEdge,
		AddressModeW: metadata.SamplerAddressModeClampToEdge,
		BorderColor:  metadata.BorderColorFloatTransparentBlack,
	})
	if err != nil {
		return err
	}
	bounds := font.Atlas.Bounds()
	if p.atlas, err = binder.AllocateImage(atlasImage, &metadata.ImageCreateInfo{
		Type:        metadata.ImageType2D,
		Format:      metadata.FormatR8G8B8A8Unorm,
		Extent:      metadata.Extent3D{Width: uint32(bounds.Dx()), Height: uint32(bounds.Dy()), Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Tiling:      metadata.ImageTilingOptimal,
		Usage:       metadata.ImageUsageTransferDst | metadata.ImageUsageSampled,
	}, metadata.ColorRange(), metadata.ImageLayoutShaderReadOnlyOptimal, sampler, metadata.Bind(set, 0)); err != nil {
		return err
	}
	if err := p.uploadAtlas(device, binder); err != nil {
		return err
	}

	if err := binder.FinalizeBindings(metadata.PushConstantRange{
		Stages: metadata.ShaderStageVertex | metadata.ShaderStageFragment,
		Offset: 0,
		Size:   pushConstantSize,
	}); err != nil {
		return err
	}
	if p.set, err = binder.DescriptorSet(set); err != nil {
		return err
	}
	p.layout = binder.PipelineLayout()

	if p.shaders, err = pipelines.LoadShaders(device, p.opts.VertexShader, p.opts.FragmentShader); err != nil {
		return err
	}
	p.pipeline, err = device.CreateGraphicsPipeline(&metadata.GraphicsPipelineConfig{
		Layout:         p.layout,
		RenderPass:     info.RenderPass,
		VertexShader:   p.shaders.Vertex,
		FragmentShader: p.shaders.Fragment,
		Stride:         vertexStride,
		Attributes: []metadata.VertexAttribute{
			{Location: 0, Format: metadata.FormatR32G32Sfloat, Offset: 0},
			{Location: 1, Format: metadata.FormatR32G32Sfloat, Offset: 8},
		},
		Topology: metadata.PrimitiveTopologyTriangleList,
		CullMode: metadata.FaceCullModeNone,
		Blend:    true,
	})
	if err != nil {
		return errors.Wrap(err, "create text pipeline")
	}

	p.scratch = make([]Vertex, 0, p.opts.MaxGlyphs*verticesPerQuad)
	p.Resized(info.Extent)
	p.logger.Debug("text pipeline ready", "face", font.Face, "glyphs", len(font.Glyphs))
	return nil
}

// uploadAtlas copies the font atlas through a staging buffer that is
// released once the copy completed.
func (p *Pipeline) uploadAtlas(device renderer.Device, binder *renderer.ResourceBinder) error {
	pixels := p.opts.Font.Atlas.Pix
	hostMemory := metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent
	staging, err := binder.AllocateBuffer(atlasStaging, uint64(len(pixels)), metadata.BufferUsageTransferSrc, hostMemory)
	if err != nil {
		return err
	}
	copy(staging.Mapped, pixels)

	image := p.atlas
	err = p.queues.SubmitOneShot(device, func(cb renderer.CommandBuffer) error {
		renderer.TransitionImage(cb, image.Handle, image.Range, metadata.ImageLayoutUndefined, metadata.ImageLayoutTransferDstOptimal)
		cb.CopyBufferToImage(staging.Handle, image.Handle, metadata.ImageLayoutTransferDstOptimal, []metadata.BufferImageCopy{
			{BufferOffset: 0, Aspect: metadata.ImageAspectColor, Extent: image.Info.Extent},
		})
		renderer.TransitionImage(cb, image.Handle, image.Range, metadata.ImageLayoutTransferDstOptimal, metadata.ImageLayoutShaderReadOnlyOptimal)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "upload font atlas")
	}
	return binder.ReleaseBuffer(atlasStaging)
}

func (p *Pipeline) origin(width, height float32) mgl32.Vec2 {
	m := p.opts.Margin
	if p.opts.Anchor == AnchorBottomLeft {
		return mgl32.Vec2{m, float32(p.extent.Height) - height - m}
	}
	return mgl32.Vec2{m, m}
}

// PreRender lays the text out again when it or the extent changed.
func (p *Pipeline) PreRender(device renderer.Device, extent metadata.Extent2D) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return nil
	}
	p.dirty = false

	font, scale := p.opts.Font, p.opts.Scale
	w, h := Measure(font, p.text, scale)
	p.scratch = Layout(font, p.text, p.origin(w, h), scale, p.scratch[:0])
	if limit := p.opts.MaxGlyphs * verticesPerQuad; len(p.scratch) > limit {
		p.logger.Warn("text truncated", "glyphs", len(p.scratch)/verticesPerQuad, "max", p.opts.MaxGlyphs)
		p.scratch = p.scratch[:limit]
	}
	for i, v := range p.scratch {
		pipelines.PutFloats(p.vertices.Mapped[i*vertexStride:], v.X, v.Y, v.U, v.V)
	}
	p.count = uint32(len(p.scratch))
	return nil
}

func (p *Pipeline) Render(device renderer.Device, cb renderer.CommandBuffer, extent metadata.Extent2D) error {
	p.mu.Lock()
	count, projection := p.count, p.projection
	p.mu.Unlock()
	if count == 0 {
		return nil
	}

	constants := make([]byte, pushConstantSize)
	copy(constants, pipelines.MatrixBytes(projection))
	c := p.opts.Color
	pipelines.PutFloats(constants[64:], c[0], c[1], c[2], c[3])

	cb.BindGraphicsPipeline(p.pipeline)
	cb.BindDescriptorSets(metadata.PipelineBindPointGraphics, p.layout, 0, []metadata.DescriptorSetHandle{p.set})
	cb.BindVertexBuffers(0, []metadata.BufferHandle{p.vertices.Handle}, []uint64{0})
	cb.PushConstants(p.layout, metadata.ShaderStageVertex|metadata.ShaderStageFragment, 0, constants)
	cb.Draw(count, 1, 0, 0)
	return nil
}

// Resized maps pixels to clip space for the new extent. Bottom anchored text
// is laid out again.
func (p *Pipeline) Resized(extent metadata.Extent2D) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.extent = extent
	if extent.IsZero() {
		return
	}
	// Vulkan clip space has y pointing down, so pixel rows map directly.
	p.projection = mgl32.Ortho(0, float32(extent.Width), 0, float32(extent.Height), -1, 1)
	if p.opts.Anchor != AnchorTopLeft {
		p.dirty = true
	}
}

func (p *Pipeline) Projection() mgl32.Mat4 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.projection
}

func (p *Pipeline) Cleanup(device renderer.Device) error {
	if p.pipeline != metadata.NullHandle {
		device.DestroyPipeline(p.pipeline)
		p.pipeline = metadata.NullHandle
	}
	p.shaders.Destroy(device)
	p.queues.Destroy(device)
	p.queues = nil
	return nil
}
