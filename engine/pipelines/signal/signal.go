// Package signal draws a scrolling history of averaged spectrum rows as a
// waterfall of line plots.
package signal

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
	settingsBuffer metadata.BufferID = iota
	stagingBuffer
	historyBuffer
)

const (
	// one strength value per vertex
	vertexStride = 4
	// bins, history depth, strength offset, newest row
	settingsSize = 16
	mvpSize      = 64
)

const (
	// DefaultFloor, in dB, fills bins a source leaves out.
	DefaultFloor          = -25
	DefaultAverage        = 4
	DefaultHistory        = 256
	DefaultStrengthOffset = 30
)

type Options struct {
	VertexShader   []byte
	FragmentShader []byte
	Source         SampleSource
	// Average is the number of rows averaged into each plotted row.
	Average int
	// History is the number of plotted rows kept on the device.
	History int
	// StrengthOffset lifts dB values above zero before plotting.
	StrengthOffset float32
}

// Pipeline averages the source's rows in PreRender and copies each result
// into the next slot of a device-local ring of rows, which Render draws as
// line lists.
type Pipeline struct {
	opts   Options
	logger *core.Logger

	queues   *renderer.QueueSet
	shaders  pipelines.Shaders
	pipeline metadata.PipelineHandle
	layout   metadata.PipelineLayoutHandle
	set      metadata.DescriptorSetHandle

	settings *renderer.BufferResource
	staging  *renderer.BufferResource
	history  *renderer.BufferResource

	bins       int
	rowVerts   uint32
	clock      *core.Clock
	averager   *Averager
	samples    []float32
	mean       []float32
	line       []float32
	nextSlot   int
	filledRows int

	mu     sync.Mutex
	aspect float32
	drawn  uint32
}

func New(opts Options) *Pipeline {
	if opts.Source == nil {
		opts.Source = NewSpectrumSource(512)
	}
	if opts.Average <= 0 {
		opts.Average = DefaultAverage
	}
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if opts.StrengthOffset <= 0 {
		opts.StrengthOffset = DefaultStrengthOffset
	}
	return &Pipeline{
		opts:   opts,
		logger: core.NewDiscardLogger(),
		clock:  core.NewClock(),
		aspect: 1,
	}
}

func (p *Pipeline) Name() string { return "signal" }

// QueueRequirements claims one graphics queue for the per-frame row upload.
func (p *Pipeline) QueueRequirements() metadata.QueueRequirements {
	return metadata.QueueRequirements{Graphics: 1}
}

func (p *Pipeline) Setup(info *renderer.SetupInfo) error {
	p.logger = info.Logger
	device := info.Device

	p.bins = p.opts.Source.Bins()
	if p.bins < 2 {
		return errors.Wrapf(core.ErrInvalidConfig, "sample source has %d bins, need at least 2", p.bins)
	}
	p.rowVerts = uint32(2 * (p.bins - 1))
	rowSize := uint64(p.rowVerts) * vertexStride

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
	if p.settings, err = binder.AllocateBuffer(settingsBuffer, settingsSize, metadata.BufferUsageUniform, hostMemory, metadata.Bind(set, 0)); err != nil {
		return err
	}
	if p.staging, err = binder.AllocateBuffer(stagingBuffer, rowSize, metadata.BufferUsageTransferSrc, hostMemory); err != nil {
		return err
	}
	historySize := rowSize * uint64(p.opts.History)
	if p.history, err = binder.AllocateBuffer(historyBuffer, historySize, metadata.BufferUsageVertex|metadata.BufferUsageTransferDst, metadata.MemoryPropertyDeviceLocal); err != nil {
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
		Stride:         vertexStride,
		Attributes: []metadata.VertexAttribute{
			{Location: 0, Format: metadata.FormatR32Sfloat, Offset: 0},
		},
		Topology:   metadata.PrimitiveTopologyLineList,
		CullMode:   metadata.FaceCullModeNone,
		DepthTest:  true,
		DepthWrite: true,
	})
	if err != nil {
		return errors.Wrap(err, "create signal pipeline")
	}

	p.averager = NewAverager(p.opts.Average, p.bins, DefaultFloor)
	p.samples = make([]float32, 0, p.bins)
	p.mean = make([]float32, 0, p.bins)
	p.line = make([]float32, 0, p.rowVerts)
	p.Resized(info.Extent)
	p.clock.Start()
	p.logger.Debug("signal pipeline ready", "bins", p.bins, "average", p.opts.Average, "history", p.opts.History)
	return nil
}

// PreRender averages the next source row and copies its line vertices into
// the next history slot. The slot wraps after History rows.
func (p *Pipeline) PreRender(device renderer.Device, extent metadata.Extent2D) error {
	p.clock.Update()

	p.samples = p.opts.Source.Samples(p.clock.Elapsed(), p.samples[:0])
	p.averager.Add(p.samples)
	p.mean = p.averager.Mean(p.mean[:0])
	p.line = LineVertices(p.mean, p.line[:0])
	pipelines.PutFloats(p.staging.Mapped, p.line...)

	slot := p.nextSlot
	rowSize := uint64(p.rowVerts) * vertexStride
	err := p.queues.SubmitOneShot(device, func(cb renderer.CommandBuffer) error {
		cb.CopyBuffer(p.staging.Handle, p.history.Handle, []metadata.BufferCopy{
			{SrcOffset: 0, DstOffset: uint64(slot) * rowSize, Size: rowSize},
		})
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "upload signal row")
	}
	pipelines.PutFloats(p.settings.Mapped, float32(p.bins), float32(p.opts.History), p.opts.StrengthOffset, float32(slot))

	p.nextSlot = (slot + 1) % p.opts.History
	if p.filledRows < p.opts.History {
		p.filledRows++
	}
	p.mu.Lock()
	p.drawn = uint32(p.filledRows) * p.rowVerts
	p.mu.Unlock()
	return nil
}

// MVP looks down the history from in front of the newest row.
func (p *Pipeline) MVP() mgl32.Mat4 {
	p.mu.Lock()
	aspect := p.aspect
	p.mu.Unlock()

	projection := pipelines.VulkanPerspective(mgl32.DegToRad(45), aspect, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 1, -1.5}, mgl32.Vec3{0, 0, 0.8}, mgl32.Vec3{0, 1, 0})
	return projection.Mul4(view)
}

func (p *Pipeline) Render(device renderer.Device, cb renderer.CommandBuffer, extent metadata.Extent2D) error {
	p.mu.Lock()
	count := p.drawn
	p.mu.Unlock()
	if count == 0 {
		return nil
	}
	cb.BindGraphicsPipeline(p.pipeline)
	cb.BindDescriptorSets(metadata.PipelineBindPointGraphics, p.layout, 0, []metadata.DescriptorSetHandle{p.set})
	cb.BindVertexBuffers(0, []metadata.BufferHandle{p.history.Handle}, []uint64{0})
	cb.PushConstants(p.layout, metadata.ShaderStageVertex, 0, pipelines.MatrixBytes(p.MVP()))
	cb.Draw(count, 1, 0, 0)
	return nil
}

func (p *Pipeline) Resized(extent metadata.Extent2D) {
	p.mu.Lock()
	p.aspect = extent.Aspect()
	p.mu.Unlock()
}

// Cleanup tolerates a partial setup.
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
