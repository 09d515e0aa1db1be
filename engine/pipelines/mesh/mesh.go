// Package mesh draws a point cloud that is re-uploaded every frame.
package mesh

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/pipelines"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

const (
	viewParamsBuffer metadata.BufferID = iota
	stagingBuffer
	vertexBuffer
)

const (
	// vec4 per point
	pointStride = 16
	// point size, time, two floats of padding
	viewParamsSize = 16
	mvpSize        = 64
)

type Options struct {
	VertexShader   []byte
	FragmentShader []byte
	Source         FrameSource
	PointSize      float32
	// RotationSpeed is in radians per second.
	RotationSpeed float32
}

// Pipeline uploads the source's latest frame in PreRender and draws it as
// points with depth testing.
type Pipeline struct {
	opts   Options
	logger *core.Logger

	queues   *renderer.QueueSet
	shaders  pipelines.Shaders
	pipeline metadata.PipelineHandle
	layout   metadata.PipelineLayoutHandle
	set      metadata.DescriptorSetHandle

	viewParams *renderer.BufferResource
	staging    *renderer.BufferResource
	vertices   *renderer.BufferResource

	clock  *core.Clock
	points []mgl32.Vec4

	mu      sync.Mutex
	aspect  float32
	elapsed time.Duration
	count   uint32
}

func New(opts Options) *Pipeline {
	if opts.Source == nil {
		opts.Source = NewGridSource(64)
	}
	if opts.PointSize <= 0 {
		opts.PointSize = 2
	}
	return &Pipeline{
		opts:   opts,
		logger: core.NewDiscardLogger(),
		clock:  core.NewClock(),
		aspect: 1,
	}
}

func (p *Pipeline) Name() string { return "mesh" }

// QueueRequirements claims one graphics queue, used for the per-frame
// staging copy.
func (p *Pipeline) QueueRequirements() metadata.QueueRequirements {
	return metadata.QueueRequirements{Graphics: 1}
}

func (p *Pipeline) Setup(info *renderer.SetupInfo) error {
	p.logger = info.Logger
	device := info.Device

	queues, err := renderer.NewQueueSet(device, info.QueueFamilies.Graphics, info.QueueStart.Graphics, info.Requirements.Graphics)
	if err != nil {
		return err
	}
	p.queues = queues

	binder := info.Binder
	set, err := binder.DeclareDescriptorSet([]metadata.DescriptorBindingSpec{
		{Binding: 0, Type: metadata.DescriptorTypeUniformBuffer, Count: 1, Stages: metadata.ShaderStageVertex},
	})
	if err != nil {
		return err
	}
	hostMemory := metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent
	if p.viewParams, err = binder.AllocateBuffer(viewParamsBuffer, viewParamsSize, metadata.BufferUsageUniform, hostMemory, metadata.Bind(set, 0)); err != nil {
		return err
	}
	size := uint64(p.opts.Source.MaxPoints()) * pointStride
	if size == 0 {
		return errors.Wrap(core.ErrInvalidConfig, "frame source has no points")
	}
	if p.staging, err = binder.AllocateBuffer(stagingBuffer, size, metadata.BufferUsageTransferSrc, hostMemory); err != nil {
		return err
	}
	if p.vertices, err = binder.AllocateBuffer(vertexBuffer, size, metadata.BufferUsageVertex|metadata.BufferUsageTransferDst, metadata.MemoryPropertyDeviceLocal); err != nil {
		return err
	}
	if err := binder.FinalizeBindings(metadata.PushConstantRange{Stages: metadata.ShaderStageVertex, Offset: 0, Size: mvpSize}); err != nil {
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
		Stride:         pointStride,
		Attributes: []metadata.VertexAttribute{
			{Location: 0, Format: metadata.FormatR32G32B32A32Sfloat, Offset: 0},
		},
		Topology:   metadata.PrimitiveTopologyPointList,
		CullMode:   metadata.FaceCullModeNone,
		DepthTest:  true,
		DepthWrite: true,
	})
	if err != nil {
		return errors.Wrap(err, "create mesh pipeline")
	}

	p.Resized(info.Extent)
	p.points = make([]mgl32.Vec4, 0, p.opts.Source.MaxPoints())
	p.clock.Start()
	p.logger.Debug("mesh pipeline ready", "maxPoints", p.opts.Source.MaxPoints())
	return nil
}

// PreRender pulls the next frame from the source and copies it into the
// device-local vertex buffer.
func (p *Pipeline) PreRender(device renderer.Device, extent metadata.Extent2D) error {
	p.clock.Update()
	elapsed := p.clock.Elapsed()

	p.points = p.opts.Source.Frame(elapsed, p.points[:0])
	n := len(p.points)
	if maxPoints := p.opts.Source.MaxPoints(); n > maxPoints {
		n = maxPoints
	}
	for i := 0; i < n; i++ {
		pt := p.points[i]
		pipelines.PutFloats(p.staging.Mapped[i*pointStride:], pt[0], pt[1], pt[2], pt[3])
	}
	pipelines.PutFloats(p.viewParams.Mapped, p.opts.PointSize, float32(elapsed.Seconds()), 0, 0)

	if n > 0 {
		err := p.queues.SubmitOneShot(device, func(cb renderer.CommandBuffer) error {
			cb.CopyBuffer(p.staging.Handle, p.vertices.Handle, []metadata.BufferCopy{
				{SrcOffset: 0, DstOffset: 0, Size: uint64(n) * pointStride},
			})
			return nil
		})
		if err != nil {
			return errors.Wrap(err, "upload mesh frame")
		}
	}

	p.mu.Lock()
	p.count = uint32(n)
	p.elapsed = elapsed
	p.mu.Unlock()
	return nil
}

// MVP returns the model-view-projection matrix for the current frame.
func (p *Pipeline) MVP() mgl32.Mat4 {
	p.mu.Lock()
	aspect, elapsed := p.aspect, p.elapsed
	p.mu.Unlock()

	projection := pipelines.VulkanPerspective(mgl32.DegToRad(45), aspect, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 1.5, 3}, mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 1, 0})
	model := mgl32.HomogRotate3DY(float32(elapsed.Seconds()) * p.opts.RotationSpeed)
	return projection.Mul4(view).Mul4(model)
}

func (p *Pipeline) Render(device renderer.Device, cb renderer.CommandBuffer, extent metadata.Extent2D) error {
	p.mu.Lock()
	count := p.count
	p.mu.Unlock()
	if count == 0 {
		return nil
	}
	cb.BindGraphicsPipeline(p.pipeline)
	cb.BindDescriptorSets(metadata.PipelineBindPointGraphics, p.layout, 0, []metadata.DescriptorSetHandle{p.set})
	cb.BindVertexBuffers(0, []metadata.BufferHandle{p.vertices.Handle}, []uint64{0})
	cb.PushConstants(p.layout, metadata.ShaderStageVertex, 0, pipelines.MatrixBytes(p.MVP()))
	cb.Draw(count, 1, 0, 0)
	return nil
}

func (p *Pipeline) Resized(extent metadata.Extent2D) {
	p.mu.Lock()
	p.aspect = extent.Aspect()
	p.mu.Unlock()
}

// Cleanup destroys what Setup created outside the binder. It tolerates a
// partial setup.
func (p *Pipeline) Cleanup(device renderer.Device) error {
	if p.pipeline != metadata.NullHandle {
		device.DestroyPipeline(p.pipeline)
		p.pipeline = metadata.NullHandle
	}
	p.shaders.Destroy(device)
	p.queues.Destroy(device)
	p.queues = nil
	p.clock.Stop()
	return nil
}
