// Package rendertest provides a GPU-free Device and recording pipelines for
// exercising the renderer host in tests.
package rendertest

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// Default memory layout: type 0 device-local, type 1 host-visible+coherent,
// type 2 device-local+host-visible.
var DefaultMemoryTypes = []metadata.MemoryType{
	{PropertyFlags: metadata.MemoryPropertyDeviceLocal, HeapIndex: 0},
	{PropertyFlags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent, HeapIndex: 1},
	{PropertyFlags: metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible, HeapIndex: 0},
}

type Options struct {
	MemoryTypes []metadata.MemoryType
	Families    metadata.QueueFamilyIndices
	ImageCount  int
	// MemoryTypeBits is reported for every buffer and image. Zero means all
	// memory types are allowed.
	MemoryTypeBits uint32
	// MaxExtent clamps swapchain extents like a surface's maxImageExtent.
	// Zero means no limit.
	MaxExtent metadata.Extent2D
}

func DefaultOptions() Options {
	return Options{
		MemoryTypes: DefaultMemoryTypes,
		Families: metadata.QueueFamilyIndices{
			Graphics:      0,
			Compute:       1,
			Present:       0,
			GraphicsCount: 4,
			ComputeCount:  2,
		},
		ImageCount: 3,
	}
}

type fakeBuffer struct {
	size   uint64
	usage  metadata.BufferUsageFlags
	memory metadata.MemoryHandle
	offset uint64
}

type fakeMemory struct {
	data      []byte
	typeIndex uint32
	mapped    bool
}

type fakeImage struct {
	info   metadata.ImageCreateInfo
	memory metadata.MemoryHandle
	data   []byte
}

type fakeSwapchain struct {
	extent metadata.Extent2D
	images []metadata.ImageHandle
	next   uint32
}

// Submission is one command buffer handed to QueueSubmit.
type Submission struct {
	Queue    metadata.QueueHandle
	Commands []Command
	Waited   metadata.SemaphoreHandle
	Fence    metadata.FenceHandle
}

// HasRenderPass reports whether the submission recorded a render pass.
func (s Submission) HasRenderPass() bool {
	for _, c := range s.Commands {
		if c.Op == OpBeginRenderPass {
			return true
		}
	}
	return false
}

// Device is an in-memory renderer.Device. Buffer copies recorded in command
// buffers are executed on submit so data movement can be checked.
type Device struct {
	mu   sync.Mutex
	opts Options
	next uint64

	live         map[uint64]string
	buffers      map[metadata.BufferHandle]*fakeBuffer
	memories     map[metadata.MemoryHandle]*fakeMemory
	images       map[metadata.ImageHandle]*fakeImage
	swapchains   map[metadata.SwapchainHandle]*fakeSwapchain
	fences       map[metadata.FenceHandle]bool
	renderPass   metadata.RenderPassHandle
	writes       []metadata.DescriptorWrite
	poolSizes    [][]metadata.DescriptorPoolSize
	submissions  []Submission
	presents     int
	waitIdle     int
	oldHandles   []metadata.SwapchainHandle
	retired      map[metadata.SwapchainHandle]bool
	scCreates    int
	failures     map[string]error
	acquireQueue []metadata.Result
	presentQueue []metadata.Result
	fenceQueue   []metadata.Result
	onPresent    func(n int)
}

func NewDevice(opts Options) *Device {
	if len(opts.MemoryTypes) == 0 {
		opts.MemoryTypes = DefaultMemoryTypes
	}
	if opts.ImageCount <= 0 {
		opts.ImageCount = 3
	}
	d := &Device{
		opts:       opts,
		live:       make(map[uint64]string),
		buffers:    make(map[metadata.BufferHandle]*fakeBuffer),
		memories:   make(map[metadata.MemoryHandle]*fakeMemory),
		images:     make(map[metadata.ImageHandle]*fakeImage),
		swapchains: make(map[metadata.SwapchainHandle]*fakeSwapchain),
		fences:     make(map[metadata.FenceHandle]bool),
		failures:   make(map[string]error),
		retired:    make(map[metadata.SwapchainHandle]bool),
	}
	// the render pass belongs to the device, like the Vulkan backend's
	d.next++
	d.renderPass = metadata.RenderPassHandle(d.next)
	return d
}

func (d *Device) newHandle(kind string) uint64 {
	d.next++
	d.live[d.next] = kind
	return d.next
}

func (d *Device) drop(h uint64) {
	delete(d.live, h)
}

// FailOn makes the named operation (for example "CreateBuffer") return err
// until cleared with a nil error.
func (d *Device) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

func (d *Device) failure(op string) error {
	return d.failures[op]
}

// ScriptAcquire queues results returned by the next AcquireNextImage calls.
func (d *Device) ScriptAcquire(results ...metadata.Result) {
	d.mu.Lock()
	d.acquireQueue = append(d.acquireQueue, results...)
	d.mu.Unlock()
}

// ScriptPresent queues results returned by the next QueuePresent calls.
func (d *Device) ScriptPresent(results ...metadata.Result) {
	d.mu.Lock()
	d.presentQueue = append(d.presentQueue, results...)
	d.mu.Unlock()
}

// ScriptFenceWait queues results returned by the next WaitForFence calls.
func (d *Device) ScriptFenceWait(results ...metadata.Result) {
	d.mu.Lock()
	d.fenceQueue = append(d.fenceQueue, results...)
	d.mu.Unlock()
}

// OnPresent installs a callback run, without the device lock, after every
// present with the running present count.
func (d *Device) OnPresent(fn func(n int)) {
	d.mu.Lock()
	d.onPresent = fn
	d.mu.Unlock()
}

// LiveObjects returns how many device objects are currently alive, by kind.
func (d *Device) LiveObjects() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int)
	for _, kind := range d.live {
		out[kind]++
	}
	return out
}

func (d *Device) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// Frames returns the submissions that recorded a render pass.
func (d *Device) Frames() []Submission {
	var out []Submission
	for _, s := range d.Submissions() {
		if s.HasRenderPass() {
			out = append(out, s)
		}
	}
	return out
}

func (d *Device) Presents() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.presents
}

func (d *Device) WaitIdleCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waitIdle
}

func (d *Device) DescriptorWrites() []metadata.DescriptorWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]metadata.DescriptorWrite(nil), d.writes...)
}

func (d *Device) DescriptorPoolSizes() [][]metadata.DescriptorPoolSize {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]metadata.DescriptorPoolSize(nil), d.poolSizes...)
}

// SwapchainCreates counts CreateSwapchain calls, failed ones included.
func (d *Device) SwapchainCreates() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scCreates
}

// OldSwapchains returns the non-null old handles passed to CreateSwapchain.
func (d *Device) OldSwapchains() []metadata.SwapchainHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]metadata.SwapchainHandle(nil), d.oldHandles...)
}

// ReadBuffer returns a copy of the bytes backing a buffer.
func (d *Device) ReadBuffer(b metadata.BufferHandle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return nil, errors.Newf("unknown buffer %d", b)
	}
	mem, ok := d.memories[buf.memory]
	if !ok {
		return nil, errors.Newf("buffer %d has no memory", b)
	}
	out := make([]byte, buf.size)
	copy(out, mem.data[buf.offset:])
	return out, nil
}

// MemoryTypeOf returns the memory type index a buffer was allocated from.
func (d *Device) MemoryTypeOf(b metadata.BufferHandle) (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[b]
	if !ok {
		return 0, false
	}
	mem, ok := d.memories[buf.memory]
	if !ok {
		return 0, false
	}
	return mem.typeIndex, true
}

func (d *Device) MemoryProperties() metadata.MemoryProperties {
	return metadata.MemoryProperties{
		Types: append([]metadata.MemoryType(nil), d.opts.MemoryTypes...),
		Heaps: []metadata.MemoryHeap{{Size: 1 << 30, DeviceLocal: true}, {Size: 1 << 28}},
	}
}

func (d *Device) QueueFamilies() metadata.QueueFamilyIndices {
	return d.opts.Families
}

func (d *Device) RenderPass() metadata.RenderPassHandle {
	return d.renderPass
}

func (d *Device) DepthFormat() metadata.Format {
	return metadata.FormatD16Unorm
}

func (d *Device) GetQueue(family, index uint32) (metadata.QueueHandle, error) {
	f := d.opts.Families
	var count uint32
	switch family {
	case f.Graphics:
		count = f.GraphicsCount
	case f.Compute:
		count = f.ComputeCount
	case f.Present:
		count = 1
	}
	if index >= count {
		return metadata.NullHandle, errors.Newf("queue %d of family %d does not exist", index, family)
	}
	// stable, non-zero handles
	return metadata.QueueHandle(uint64(family+1)<<32 | uint64(index+1)), nil
}

func (d *Device) memoryTypeBits() uint32 {
	if d.opts.MemoryTypeBits != 0 {
		return d.opts.MemoryTypeBits
	}
	return uint32(1)<<uint(len(d.opts.MemoryTypes)) - 1
}

func (d *Device) CreateBuffer(size uint64, usage metadata.BufferUsageFlags) (metadata.BufferHandle, metadata.MemoryRequirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("CreateBuffer"); err != nil {
		return metadata.NullHandle, metadata.MemoryRequirements{}, err
	}
	h := metadata.BufferHandle(d.newHandle("buffer"))
	d.buffers[h] = &fakeBuffer{size: size, usage: usage}
	return h, metadata.MemoryRequirements{Size: size, Alignment: 256, MemoryTypeBits: d.memoryTypeBits()}, nil
}

func (d *Device) DestroyBuffer(buffer metadata.BufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, buffer)
	d.drop(uint64(buffer))
}

func (d *Device) AllocateMemory(size uint64, memoryTypeIndex uint32) (metadata.MemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("AllocateMemory"); err != nil {
		return metadata.NullHandle, err
	}
	if int(memoryTypeIndex) >= len(d.opts.MemoryTypes) {
		return metadata.NullHandle, errors.Newf("memory type %d does not exist", memoryTypeIndex)
	}
	h := metadata.MemoryHandle(d.newHandle("memory"))
	d.memories[h] = &fakeMemory{data: make([]byte, size), typeIndex: memoryTypeIndex}
	return h, nil
}

func (d *Device) FreeMemory(memory metadata.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.memories, memory)
	d.drop(uint64(memory))
}

func (d *Device) BindBufferMemory(buffer metadata.BufferHandle, memory metadata.MemoryHandle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers[buffer]
	if !ok {
		return errors.Newf("unknown buffer %d", buffer)
	}
	if _, ok := d.memories[memory]; !ok {
		return errors.Newf("unknown memory %d", memory)
	}
	buf.memory, buf.offset = memory, offset
	return nil
}

func (d *Device) MapMemory(memory metadata.MemoryHandle, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	mem, ok := d.memories[memory]
	if !ok {
		return nil, errors.Newf("unknown memory %d", memory)
	}
	if !d.opts.MemoryTypes[mem.typeIndex].PropertyFlags.Has(metadata.MemoryPropertyHostVisible) {
		return nil, errors.Newf("memory %d is not host visible", memory)
	}
	if offset+size > uint64(len(mem.data)) {
		return nil, errors.Newf("map range %d+%d exceeds allocation of %d", offset, size, len(mem.data))
	}
	mem.mapped = true
	return mem.data[offset : offset+size], nil
}

func (d *Device) UnmapMemory(memory metadata.MemoryHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mem, ok := d.memories[memory]; ok {
		mem.mapped = false
	}
}

func (d *Device) CreateImage(info *metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("CreateImage"); err != nil {
		return metadata.NullHandle, metadata.MemoryRequirements{}, err
	}
	h := metadata.ImageHandle(d.newHandle("image"))
	d.images[h] = &fakeImage{info: *info}
	size := uint64(info.Extent.Width) * uint64(info.Extent.Height) * uint64(max(info.Extent.Depth, 1)) * 4
	return h, metadata.MemoryRequirements{Size: size, Alignment: 1024, MemoryTypeBits: d.memoryTypeBits()}, nil
}

func (d *Device) DestroyImage(image metadata.ImageHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, image)
	d.drop(uint64(image))
}

func (d *Device) BindImageMemory(image metadata.ImageHandle, memory metadata.MemoryHandle, offset uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images[image]
	if !ok {
		return errors.Newf("unknown image %d", image)
	}
	img.memory = memory
	return nil
}

// ReadImage returns the bytes last copied into an image.
func (d *Device) ReadImage(image metadata.ImageHandle) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if img, ok := d.images[image]; ok {
		return append([]byte(nil), img.data...)
	}
	return nil
}

func (d *Device) CreateImageView(info *metadata.ImageViewCreateInfo) (metadata.ImageViewHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("CreateImageView"); err != nil {
		return metadata.NullHandle, err
	}
	return metadata.ImageViewHandle(d.newHandle("imageView")), nil
}

func (d *Device) DestroyImageView(view metadata.ImageViewHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(view))
}

func (d *Device) CreateSampler(info *metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.SamplerHandle(d.newHandle("sampler")), nil
}

func (d *Device) DestroySampler(sampler metadata.SamplerHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(sampler))
}

func (d *Device) CreateDescriptorSetLayout(bindings []metadata.DescriptorBindingSpec) (metadata.DescriptorSetLayoutHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.DescriptorSetLayoutHandle(d.newHandle("descriptorSetLayout")), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(layout))
}

func (d *Device) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPoolHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.poolSizes = append(d.poolSizes, append([]metadata.DescriptorPoolSize(nil), sizes...))
	return metadata.DescriptorPoolHandle(d.newHandle("descriptorPool")), nil
}

func (d *Device) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(pool))
}

func (d *Device) AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layouts []metadata.DescriptorSetLayoutHandle) ([]metadata.DescriptorSetHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sets := make([]metadata.DescriptorSetHandle, len(layouts))
	for i := range layouts {
		// freed with the pool, not tracked as live
		d.next++
		sets[i] = metadata.DescriptorSetHandle(d.next)
	}
	return sets, nil
}

func (d *Device) UpdateDescriptorSets(writes []metadata.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = append(d.writes, writes...)
}

func (d *Device) CreateCommandPool(family uint32) (metadata.CommandPoolHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.CommandPoolHandle(d.newHandle("commandPool")), nil
}

func (d *Device) DestroyCommandPool(pool metadata.CommandPoolHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(pool))
}

func (d *Device) AllocateCommandBuffer(pool metadata.CommandPoolHandle) (renderer.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &CommandBuffer{handle: d.newHandle("commandBuffer")}, nil
}

func (d *Device) FreeCommandBuffer(pool metadata.CommandPoolHandle, cb renderer.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(cb.Handle())
}

func (d *Device) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := metadata.FenceHandle(d.newHandle("fence"))
	d.fences[h] = signaled
	return h, nil
}

func (d *Device) DestroyFence(fence metadata.FenceHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, fence)
	d.drop(uint64(fence))
}

func (d *Device) WaitForFence(fence metadata.FenceHandle, timeout time.Duration) metadata.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.fenceQueue) > 0 {
		res := d.fenceQueue[0]
		d.fenceQueue = d.fenceQueue[1:]
		return res
	}
	if d.fences[fence] {
		return metadata.Success
	}
	return metadata.Timeout
}

func (d *Device) ResetFence(fence metadata.FenceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[fence]; !ok {
		return errors.Newf("unknown fence %d", fence)
	}
	d.fences[fence] = false
	return nil
}

func (d *Device) CreateSemaphore() (metadata.SemaphoreHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.SemaphoreHandle(d.newHandle("semaphore")), nil
}

func (d *Device) DestroySemaphore(semaphore metadata.SemaphoreHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(semaphore))
}

func (d *Device) QueueSubmit(queue metadata.QueueHandle, cb renderer.CommandBuffer, wait metadata.SemaphoreHandle, fence metadata.FenceHandle) metadata.Result {
	fcb, ok := cb.(*CommandBuffer)
	if !ok {
		return metadata.ErrorUnknown
	}
	cmds := fcb.Commands()

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range cmds {
		switch c.Op {
		case OpCopyBuffer:
			d.copyBufferLocked(c)
		case OpCopyBufferToImage:
			d.copyBufferToImageLocked(c)
		}
	}
	d.submissions = append(d.submissions, Submission{Queue: queue, Commands: cmds, Waited: wait, Fence: fence})
	if fence != metadata.NullHandle {
		d.fences[fence] = true
	}
	return metadata.Success
}

func (d *Device) copyBufferLocked(c Command) {
	src, sok := d.buffers[metadata.BufferHandle(c.Src)]
	dst, dok := d.buffers[metadata.BufferHandle(c.Dst)]
	if !sok || !dok {
		return
	}
	smem, dmem := d.memories[src.memory], d.memories[dst.memory]
	if smem == nil || dmem == nil {
		return
	}
	for _, r := range c.Copies {
		copy(dmem.data[dst.offset+r.DstOffset:dst.offset+r.DstOffset+r.Size], smem.data[src.offset+r.SrcOffset:])
	}
}

func (d *Device) copyBufferToImageLocked(c Command) {
	src, ok := d.buffers[metadata.BufferHandle(c.Src)]
	img, iok := d.images[metadata.ImageHandle(c.Dst)]
	if !ok || !iok {
		return
	}
	smem := d.memories[src.memory]
	if smem == nil {
		return
	}
	img.data = append([]byte(nil), smem.data[src.offset:src.offset+src.size]...)
}

func (d *Device) QueueWaitIdle(queue metadata.QueueHandle) error {
	return nil
}

func (d *Device) DeviceWaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.waitIdle++
	return d.failure("DeviceWaitIdle")
}

func (d *Device) CreateSwapchain(extent metadata.Extent2D, old metadata.SwapchainHandle) (*metadata.SwapchainInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scCreates++
	// the old swapchain is retired even when creation fails
	if old != metadata.NullHandle {
		if d.retired[old] {
			return nil, errors.Newf("swapchain %d is already retired", old)
		}
		d.retired[old] = true
		d.oldHandles = append(d.oldHandles, old)
	}
	if err := d.failure("CreateSwapchain"); err != nil {
		return nil, err
	}
	if limit := d.opts.MaxExtent; !limit.IsZero() {
		extent.Width = min(extent.Width, limit.Width)
		extent.Height = min(extent.Height, limit.Height)
	}
	h := metadata.SwapchainHandle(d.newHandle("swapchain"))
	sc := &fakeSwapchain{extent: extent}
	for i := 0; i < d.opts.ImageCount; i++ {
		// owned by the swapchain
		d.next++
		sc.images = append(sc.images, metadata.ImageHandle(d.next))
	}
	d.swapchains[h] = sc
	return &metadata.SwapchainInfo{
		Handle: h,
		Format: metadata.FormatB8G8R8A8Unorm,
		Extent: extent,
		Images: append([]metadata.ImageHandle(nil), sc.images...),
	}, nil
}

func (d *Device) DestroySwapchain(swapchain metadata.SwapchainHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.swapchains, swapchain)
	d.drop(uint64(swapchain))
}

func (d *Device) AcquireNextImage(swapchain metadata.SwapchainHandle, signal metadata.SemaphoreHandle) (uint32, metadata.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.acquireQueue) > 0 {
		res := d.acquireQueue[0]
		d.acquireQueue = d.acquireQueue[1:]
		if res.IsError() {
			return 0, res
		}
	}
	sc, ok := d.swapchains[swapchain]
	if !ok {
		return 0, metadata.ErrorSurfaceLost
	}
	idx := sc.next
	sc.next = (sc.next + 1) % uint32(len(sc.images))
	return idx, metadata.Success
}

func (d *Device) QueuePresent(queue metadata.QueueHandle, swapchain metadata.SwapchainHandle, imageIndex uint32, wait metadata.SemaphoreHandle) metadata.Result {
	d.mu.Lock()
	res := metadata.Success
	if len(d.presentQueue) > 0 {
		res = d.presentQueue[0]
		d.presentQueue = d.presentQueue[1:]
	}
	d.presents++
	n, fn := d.presents, d.onPresent
	d.mu.Unlock()
	if fn != nil {
		fn(n)
	}
	return res
}

func (d *Device) CreateFramebuffer(pass metadata.RenderPassHandle, attachments []metadata.ImageViewHandle, extent metadata.Extent2D) (metadata.FramebufferHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.FramebufferHandle(d.newHandle("framebuffer")), nil
}

func (d *Device) DestroyFramebuffer(framebuffer metadata.FramebufferHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(framebuffer))
}

func (d *Device) CreatePipelineLayout(layouts []metadata.DescriptorSetLayoutHandle, pushConstants []metadata.PushConstantRange) (metadata.PipelineLayoutHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return metadata.PipelineLayoutHandle(d.newHandle("pipelineLayout")), nil
}

func (d *Device) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(layout))
}

func (d *Device) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(code) == 0 || len(code)%4 != 0 {
		return metadata.NullHandle, errors.Newf("shader code size %d is not a multiple of 4", len(code))
	}
	return metadata.ShaderModuleHandle(d.newHandle("shaderModule")), nil
}

func (d *Device) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(module))
}

func (d *Device) CreateGraphicsPipeline(config *metadata.GraphicsPipelineConfig) (metadata.PipelineHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.failure("CreateGraphicsPipeline"); err != nil {
		return metadata.NullHandle, err
	}
	return metadata.PipelineHandle(d.newHandle("pipeline")), nil
}

func (d *Device) DestroyPipeline(pipeline metadata.PipelineHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drop(uint64(pipeline))
}

var _ renderer.Device = (*Device)(nil)
