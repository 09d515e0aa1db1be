package renderer

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type BufferResource struct {
	ID     metadata.BufferID
	Handle metadata.BufferHandle
	Memory metadata.MemoryHandle
	Size   uint64
	Usage  metadata.BufferUsageFlags
	// Mapped aliases the buffer memory for host-visible buffers and stays
	// mapped until the buffer is released.
	Mapped   []byte
	Bindings []metadata.DescriptorBinding
}

type ImageResource struct {
	ID       metadata.ImageID
	Handle   metadata.ImageHandle
	View     metadata.ImageViewHandle
	Memory   metadata.MemoryHandle
	Info     metadata.ImageCreateInfo
	Range    metadata.ImageSubresourceRange
	Layout   metadata.ImageLayout
	Bindings []metadata.DescriptorBinding
}

type SamplerResource struct {
	ID       metadata.SamplerID
	Handle   metadata.SamplerHandle
	Bindings []metadata.DescriptorBinding
}

type pendingWrite struct {
	location metadata.DescriptorBinding
	kind     metadata.DescriptorType
	buffer   *metadata.DescriptorBufferInfo
	image    *metadata.DescriptorImageInfo
}

// ResourceBinder owns the device resources of one pipeline and builds its
// descriptor sets.
//
// The protocol is: DeclareDescriptorSet for every set, then any number of
// Allocate* calls naming the binding slots each resource fills, then exactly
// one FinalizeBindings. Every binding slot may be filled once. Release frees
// everything in reverse dependency order.
type ResourceBinder struct {
	mu       sync.Mutex
	device   Device
	memProps metadata.MemoryProperties
	logger   *core.Logger

	layouts    []metadata.DescriptorSetLayoutHandle
	specs      []map[uint32]metadata.DescriptorBindingSpec
	typeCounts map[metadata.DescriptorType]uint32

	buffers  map[metadata.BufferID]*BufferResource
	images   map[metadata.ImageID]*ImageResource
	samplers map[metadata.SamplerID]*SamplerResource
	// allocation order, used to release in reverse
	bufferOrder  []metadata.BufferID
	imageOrder   []metadata.ImageID
	samplerOrder []metadata.SamplerID

	written map[metadata.DescriptorBinding]bool
	pending []pendingWrite

	pool           metadata.DescriptorPoolHandle
	sets           []metadata.DescriptorSetHandle
	pipelineLayout metadata.PipelineLayoutHandle
	finalized      bool
	released       bool
}

func NewResourceBinder(device Device, memProps metadata.MemoryProperties, logger *core.Logger) *ResourceBinder {
	if logger == nil {
		logger = core.NewDiscardLogger()
	}
	return &ResourceBinder{
		device:     device,
		memProps:   memProps,
		logger:     logger,
		typeCounts: make(map[metadata.DescriptorType]uint32),
		buffers:    make(map[metadata.BufferID]*BufferResource),
		images:     make(map[metadata.ImageID]*ImageResource),
		samplers:   make(map[metadata.SamplerID]*SamplerResource),
		written:    make(map[metadata.DescriptorBinding]bool),
	}
}

// DeclareDescriptorSet creates a set layout and returns its identifier.
// Identifiers are handed out from 0 in declaration order.
func (rb *ResourceBinder) DeclareDescriptorSet(bindings []metadata.DescriptorBindingSpec) (metadata.DescriptorSetID, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.finalized {
		return metadata.InvalidDescriptorSetID, errors.Wrap(core.ErrBindingsFinalized, "declare descriptor set")
	}
	specs := make(map[uint32]metadata.DescriptorBindingSpec, len(bindings))
	for _, b := range bindings {
		if _, dup := specs[b.Binding]; dup {
			return metadata.InvalidDescriptorSetID, errors.Wrapf(core.ErrInvalidBinding, "binding %d declared twice", b.Binding)
		}
		if b.Count == 0 {
			b.Count = 1
		}
		specs[b.Binding] = b
	}
	layout, err := rb.device.CreateDescriptorSetLayout(bindings)
	if err != nil {
		return metadata.InvalidDescriptorSetID, errors.Wrap(err, "create descriptor set layout")
	}
	for _, b := range specs {
		rb.typeCounts[b.Type] += b.Count
	}
	id := metadata.DescriptorSetID(len(rb.layouts))
	rb.layouts = append(rb.layouts, layout)
	rb.specs = append(rb.specs, specs)
	return id, nil
}

// validateBindings checks every slot against the declared layouts and
// returns the descriptor type of each one. accept tells whether the resource
// can fill a slot of the given type.
func (rb *ResourceBinder) validateBindings(bindings []metadata.DescriptorBinding, accept func(metadata.DescriptorType) bool) ([]metadata.DescriptorType, error) {
	kinds := make([]metadata.DescriptorType, 0, len(bindings))
	seen := make(map[metadata.DescriptorBinding]bool, len(bindings))
	for _, loc := range bindings {
		if loc.Set == metadata.InvalidDescriptorSetID {
			continue
		}
		if int(loc.Set) >= len(rb.specs) {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "descriptor set %d was never declared", loc.Set)
		}
		spec, ok := rb.specs[loc.Set][loc.Binding]
		if !ok {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "set %d has no binding %d", loc.Set, loc.Binding)
		}
		if !accept(spec.Type) {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "set %d binding %d has incompatible type %d", loc.Set, loc.Binding, spec.Type)
		}
		if rb.written[loc] || seen[loc] {
			return nil, errors.Wrapf(core.ErrInvalidBinding, "set %d binding %d is already bound", loc.Set, loc.Binding)
		}
		seen[loc] = true
		kinds = append(kinds, spec.Type)
	}
	return kinds, nil
}

func (rb *ResourceBinder) precheck(op string) error {
	if rb.finalized {
		return errors.Wrap(core.ErrBindingsFinalized, op)
	}
	if rb.released {
		return errors.Wrap(core.ErrNotInitialized, op)
	}
	return nil
}

func validLocations(bindings []metadata.DescriptorBinding) []metadata.DescriptorBinding {
	var out []metadata.DescriptorBinding
	for _, loc := range bindings {
		if loc.Set != metadata.InvalidDescriptorSetID {
			out = append(out, loc)
		}
	}
	return out
}

// AllocateBuffer creates a buffer with its own memory allocation. The memory
// type is the first one satisfying memFlags; host-visible buffers are mapped
// for their whole lifetime.
func (rb *ResourceBinder) AllocateBuffer(id metadata.BufferID, size uint64, usage metadata.BufferUsageFlags, memFlags metadata.MemoryPropertyFlags, bindings ...metadata.DescriptorBinding) (*BufferResource, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if err := rb.precheck("allocate buffer"); err != nil {
		return nil, err
	}
	if _, exists := rb.buffers[id]; exists {
		return nil, errors.Wrapf(core.ErrInvalidBinding, "buffer %d already allocated", id)
	}
	kinds, err := rb.validateBindings(bindings, metadata.DescriptorType.IsBuffer)
	if err != nil {
		return nil, err
	}

	handle, reqs, err := rb.device.CreateBuffer(size, usage)
	if err != nil {
		return nil, errors.Wrapf(err, "create buffer %d", id)
	}
	typeIndex, err := FindMemoryType(rb.memProps, reqs.MemoryTypeBits, memFlags)
	if err != nil {
		rb.device.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "buffer %d", id)
	}
	memory, err := rb.device.AllocateMemory(metadata.GetAligned(reqs.Size, reqs.Alignment), typeIndex)
	if err != nil {
		rb.device.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "allocate memory for buffer %d", id)
	}
	if err := rb.device.BindBufferMemory(handle, memory, 0); err != nil {
		rb.device.FreeMemory(memory)
		rb.device.DestroyBuffer(handle)
		return nil, errors.Wrapf(err, "bind memory for buffer %d", id)
	}

	res := &BufferResource{ID: id, Handle: handle, Memory: memory, Size: size, Usage: usage, Bindings: validLocations(bindings)}
	if memFlags.Has(metadata.MemoryPropertyHostVisible) {
		mapped, err := rb.device.MapMemory(memory, 0, size)
		if err != nil {
			rb.device.FreeMemory(memory)
			rb.device.DestroyBuffer(handle)
			return nil, errors.Wrapf(err, "map buffer %d", id)
		}
		res.Mapped = mapped
	}

	for i, loc := range res.Bindings {
		rb.written[loc] = true
		rb.pending = append(rb.pending, pendingWrite{
			location: loc,
			kind:     kinds[i],
			buffer:   &metadata.DescriptorBufferInfo{Buffer: handle, Offset: 0, Range: size},
		})
	}
	rb.buffers[id] = res
	rb.bufferOrder = append(rb.bufferOrder, id)
	rb.logger.Debug("buffer allocated", "id", id, "size", size, "memoryType", typeIndex)
	return res, nil
}

// ReleaseBuffer destroys a buffer that is not referenced by any descriptor,
// typically a one-shot staging buffer once its copy completed.
func (rb *ResourceBinder) ReleaseBuffer(id metadata.BufferID) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	res, ok := rb.buffers[id]
	if !ok {
		return errors.Wrapf(core.ErrUnknownResource, "buffer %d", id)
	}
	if len(res.Bindings) > 0 {
		return errors.Wrapf(core.ErrInvalidBinding, "buffer %d is bound to %d descriptor slots", id, len(res.Bindings))
	}
	rb.destroyBuffer(res)
	delete(rb.buffers, id)
	for i, bid := range rb.bufferOrder {
		if bid == id {
			rb.bufferOrder = append(rb.bufferOrder[:i], rb.bufferOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (rb *ResourceBinder) destroyBuffer(res *BufferResource) {
	if res.Mapped != nil {
		rb.device.UnmapMemory(res.Memory)
		res.Mapped = nil
	}
	rb.device.DestroyBuffer(res.Handle)
	rb.device.FreeMemory(res.Memory)
}

// AllocateImage creates a device-local image and a view over subresource.
// With a sampler the descriptor is written as a combined image sampler.
func (rb *ResourceBinder) AllocateImage(id metadata.ImageID, info *metadata.ImageCreateInfo, subresource metadata.ImageSubresourceRange, finalLayout metadata.ImageLayout, sampler *SamplerResource, bindings ...metadata.DescriptorBinding) (*ImageResource, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if err := rb.precheck("allocate image"); err != nil {
		return nil, err
	}
	if _, exists := rb.images[id]; exists {
		return nil, errors.Wrapf(core.ErrInvalidBinding, "image %d already allocated", id)
	}
	accept := func(t metadata.DescriptorType) bool {
		if sampler != nil {
			return t == metadata.DescriptorTypeCombinedImageSampler
		}
		return t == metadata.DescriptorTypeSampledImage || t == metadata.DescriptorTypeStorageImage
	}
	kinds, err := rb.validateBindings(bindings, accept)
	if err != nil {
		return nil, err
	}

	handle, reqs, err := rb.device.CreateImage(info)
	if err != nil {
		return nil, errors.Wrapf(err, "create image %d", id)
	}
	typeIndex, err := FindMemoryType(rb.memProps, reqs.MemoryTypeBits, metadata.MemoryPropertyDeviceLocal)
	if err != nil {
		rb.device.DestroyImage(handle)
		return nil, errors.Wrapf(err, "image %d", id)
	}
	memory, err := rb.device.AllocateMemory(metadata.GetAligned(reqs.Size, reqs.Alignment), typeIndex)
	if err != nil {
		rb.device.DestroyImage(handle)
		return nil, errors.Wrapf(err, "allocate memory for image %d", id)
	}
	if err := rb.device.BindImageMemory(handle, memory, 0); err != nil {
		rb.device.FreeMemory(memory)
		rb.device.DestroyImage(handle)
		return nil, errors.Wrapf(err, "bind memory for image %d", id)
	}
	view, err := rb.device.CreateImageView(&metadata.ImageViewCreateInfo{
		Image:  handle,
		Type:   info.Type.ViewType(),
		Format: info.Format,
		Range:  subresource,
	})
	if err != nil {
		rb.device.FreeMemory(memory)
		rb.device.DestroyImage(handle)
		return nil, errors.Wrapf(err, "create view for image %d", id)
	}

	res := &ImageResource{
		ID:       id,
		Handle:   handle,
		View:     view,
		Memory:   memory,
		Info:     *info,
		Range:    subresource,
		Layout:   finalLayout,
		Bindings: validLocations(bindings),
	}
	var samplerHandle metadata.SamplerHandle
	if sampler != nil {
		samplerHandle = sampler.Handle
	}
	for i, loc := range res.Bindings {
		rb.written[loc] = true
		rb.pending = append(rb.pending, pendingWrite{
			location: loc,
			kind:     kinds[i],
			image:    &metadata.DescriptorImageInfo{Sampler: samplerHandle, View: view, Layout: finalLayout},
		})
	}
	rb.images[id] = res
	rb.imageOrder = append(rb.imageOrder, id)
	rb.logger.Debug("image allocated", "id", id, "width", info.Extent.Width, "height", info.Extent.Height)
	return res, nil
}

// AllocateSampler creates a sampler. Bindings name standalone sampler slots;
// samplers used through a combined image sampler are passed to
// AllocateImage instead.
func (rb *ResourceBinder) AllocateSampler(id metadata.SamplerID, info *metadata.SamplerCreateInfo, bindings ...metadata.DescriptorBinding) (*SamplerResource, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if err := rb.precheck("allocate sampler"); err != nil {
		return nil, err
	}
	if _, exists := rb.samplers[id]; exists {
		return nil, errors.Wrapf(core.ErrInvalidBinding, "sampler %d already allocated", id)
	}
	kinds, err := rb.validateBindings(bindings, func(t metadata.DescriptorType) bool {
		return t == metadata.DescriptorTypeSampler
	})
	if err != nil {
		return nil, err
	}
	handle, err := rb.device.CreateSampler(info)
	if err != nil {
		return nil, errors.Wrapf(err, "create sampler %d", id)
	}
	res := &SamplerResource{ID: id, Handle: handle, Bindings: validLocations(bindings)}
	for i, loc := range res.Bindings {
		rb.written[loc] = true
		rb.pending = append(rb.pending, pendingWrite{
			location: loc,
			kind:     kinds[i],
			image:    &metadata.DescriptorImageInfo{Sampler: handle},
		})
	}
	rb.samplers[id] = res
	rb.samplerOrder = append(rb.samplerOrder, id)
	return res, nil
}

// FinalizeBindings creates the descriptor pool, allocates one set per
// declared layout, writes every recorded binding in one batch and creates
// the pipeline layout. It may run only once.
func (rb *ResourceBinder) FinalizeBindings(pushConstants ...metadata.PushConstantRange) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if err := rb.precheck("finalize bindings"); err != nil {
		return err
	}
	rb.finalized = true

	if len(rb.layouts) > 0 {
		sizes := make([]metadata.DescriptorPoolSize, 0, len(rb.typeCounts))
		for t, n := range rb.typeCounts {
			sizes = append(sizes, metadata.DescriptorPoolSize{Type: t, Count: n})
		}
		sort.Slice(sizes, func(i, j int) bool { return sizes[i].Type < sizes[j].Type })

		pool, err := rb.device.CreateDescriptorPool(uint32(len(rb.layouts)), sizes)
		if err != nil {
			return errors.Wrap(err, "create descriptor pool")
		}
		rb.pool = pool
		sets, err := rb.device.AllocateDescriptorSets(pool, rb.layouts)
		if err != nil {
			return errors.Wrap(err, "allocate descriptor sets")
		}
		rb.sets = sets

		sort.SliceStable(rb.pending, func(i, j int) bool {
			a, b := rb.pending[i].location, rb.pending[j].location
			if a.Set != b.Set {
				return a.Set < b.Set
			}
			return a.Binding < b.Binding
		})
		writes := make([]metadata.DescriptorWrite, 0, len(rb.pending))
		for _, p := range rb.pending {
			writes = append(writes, metadata.DescriptorWrite{
				Set:        sets[p.location.Set],
				Binding:    p.location.Binding,
				Type:       p.kind,
				BufferInfo: p.buffer,
				ImageInfo:  p.image,
			})
		}
		if len(writes) > 0 {
			rb.device.UpdateDescriptorSets(writes)
		}
	}

	layout, err := rb.device.CreatePipelineLayout(rb.layouts, pushConstants)
	if err != nil {
		return errors.Wrap(err, "create pipeline layout")
	}
	rb.pipelineLayout = layout
	rb.logger.Debug("bindings finalized", "sets", len(rb.sets), "writes", len(rb.pending))
	rb.pending = nil
	return nil
}

func (rb *ResourceBinder) Finalized() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.finalized
}

// DescriptorSet returns the set allocated for a declared identifier.
func (rb *ResourceBinder) DescriptorSet(id metadata.DescriptorSetID) (metadata.DescriptorSetHandle, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if !rb.finalized {
		return metadata.NullHandle, errors.Wrap(core.ErrNotInitialized, "descriptor sets are allocated by FinalizeBindings")
	}
	if int(id) >= len(rb.sets) {
		return metadata.NullHandle, errors.Wrapf(core.ErrUnknownResource, "descriptor set %d", id)
	}
	return rb.sets[id], nil
}

// DescriptorSets returns every allocated set in identifier order.
func (rb *ResourceBinder) DescriptorSets() []metadata.DescriptorSetHandle {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return append([]metadata.DescriptorSetHandle(nil), rb.sets...)
}

func (rb *ResourceBinder) Layouts() []metadata.DescriptorSetLayoutHandle {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return append([]metadata.DescriptorSetLayoutHandle(nil), rb.layouts...)
}

func (rb *ResourceBinder) PipelineLayout() metadata.PipelineLayoutHandle {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.pipelineLayout
}

// PoolSizes returns the accumulated per-type descriptor counts.
func (rb *ResourceBinder) PoolSizes() map[metadata.DescriptorType]uint32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	out := make(map[metadata.DescriptorType]uint32, len(rb.typeCounts))
	for t, n := range rb.typeCounts {
		out[t] = n
	}
	return out
}

func (rb *ResourceBinder) Buffer(id metadata.BufferID) (*BufferResource, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	res, ok := rb.buffers[id]
	return res, ok
}

func (rb *ResourceBinder) Image(id metadata.ImageID) (*ImageResource, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	res, ok := rb.images[id]
	return res, ok
}

func (rb *ResourceBinder) Sampler(id metadata.SamplerID) (*SamplerResource, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	res, ok := rb.samplers[id]
	return res, ok
}

// Release destroys every resource the binder created. The device must be
// idle. Calling it again is a no-op.
func (rb *ResourceBinder) Release() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.released {
		return
	}
	rb.released = true

	if rb.pipelineLayout != metadata.NullHandle {
		rb.device.DestroyPipelineLayout(rb.pipelineLayout)
		rb.pipelineLayout = metadata.NullHandle
	}
	// sets are freed with their pool
	if rb.pool != metadata.NullHandle {
		rb.device.DestroyDescriptorPool(rb.pool)
		rb.pool = metadata.NullHandle
	}
	rb.sets = nil
	for i := len(rb.layouts) - 1; i >= 0; i-- {
		rb.device.DestroyDescriptorSetLayout(rb.layouts[i])
	}
	rb.layouts = nil

	for i := len(rb.imageOrder) - 1; i >= 0; i-- {
		res := rb.images[rb.imageOrder[i]]
		rb.device.DestroyImageView(res.View)
		rb.device.DestroyImage(res.Handle)
		rb.device.FreeMemory(res.Memory)
	}
	for i := len(rb.samplerOrder) - 1; i >= 0; i-- {
		rb.device.DestroySampler(rb.samplers[rb.samplerOrder[i]].Handle)
	}
	for i := len(rb.bufferOrder) - 1; i >= 0; i-- {
		rb.destroyBuffer(rb.buffers[rb.bufferOrder[i]])
	}
	rb.images = map[metadata.ImageID]*ImageResource{}
	rb.samplers = map[metadata.SamplerID]*SamplerResource{}
	rb.buffers = map[metadata.BufferID]*BufferResource{}
	rb.imageOrder, rb.samplerOrder, rb.bufferOrder = nil, nil, nil
}
