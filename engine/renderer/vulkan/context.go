package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	debugCallback vk.DebugReportCallback

	Device         *VulkanDevice
	MainRenderpass *VulkanRenderpass

	locks   *VulkanLockPool
	objects *objectTables
	logger  *core.Logger
}

// VulkanQueue is one queue fetched from the logical device.
type VulkanQueue struct {
	Handle vk.Queue
	Family uint32
	Index  uint32
}

type descriptorPool struct {
	handle vk.DescriptorPool
	sets   []uint64
}

type commandPool struct {
	handle  vk.CommandPool
	family  uint32
	buffers map[uint64]struct{}
}

type queueKey struct {
	family, index uint32
}

// objectTables maps the opaque handles handed to the renderer onto the
// Vulkan objects they stand for. Child objects (descriptor sets, command
// buffers, swapchain images) are released together with their parent.
type objectTables struct {
	buffers         *core.HandleTable[vk.Buffer]
	memories        *core.HandleTable[vk.DeviceMemory]
	images          *core.HandleTable[vk.Image]
	views           *core.HandleTable[vk.ImageView]
	samplers        *core.HandleTable[vk.Sampler]
	setLayouts      *core.HandleTable[vk.DescriptorSetLayout]
	descriptorPools *core.HandleTable[*descriptorPool]
	descriptorSets  *core.HandleTable[vk.DescriptorSet]
	pipelineLayouts *core.HandleTable[vk.PipelineLayout]
	pipelines       *core.HandleTable[vk.Pipeline]
	shaders         *core.HandleTable[vk.ShaderModule]
	renderPasses    *core.HandleTable[*VulkanRenderpass]
	framebuffers    *core.HandleTable[*VulkanFramebuffer]
	commandPools    *core.HandleTable[*commandPool]
	commandBuffers  *core.HandleTable[*VulkanCommandBuffer]
	fences          *core.HandleTable[*VulkanFence]
	semaphores      *core.HandleTable[vk.Semaphore]
	queues          *core.HandleTable[*VulkanQueue]
	swapchains      *core.HandleTable[*VulkanSwapchain]

	// mu guards queueIndex and the buffer sets of every command pool.
	mu         sync.Mutex
	queueIndex map[queueKey]uint64
}

func newObjectTables() *objectTables {
	return &objectTables{
		buffers:         core.NewHandleTable[vk.Buffer](),
		memories:        core.NewHandleTable[vk.DeviceMemory](),
		images:          core.NewHandleTable[vk.Image](),
		views:           core.NewHandleTable[vk.ImageView](),
		samplers:        core.NewHandleTable[vk.Sampler](),
		setLayouts:      core.NewHandleTable[vk.DescriptorSetLayout](),
		descriptorPools: core.NewHandleTable[*descriptorPool](),
		descriptorSets:  core.NewHandleTable[vk.DescriptorSet](),
		pipelineLayouts: core.NewHandleTable[vk.PipelineLayout](),
		pipelines:       core.NewHandleTable[vk.Pipeline](),
		shaders:         core.NewHandleTable[vk.ShaderModule](),
		renderPasses:    core.NewHandleTable[*VulkanRenderpass](),
		framebuffers:    core.NewHandleTable[*VulkanFramebuffer](),
		commandPools:    core.NewHandleTable[*commandPool](),
		commandBuffers:  core.NewHandleTable[*VulkanCommandBuffer](),
		fences:          core.NewHandleTable[*VulkanFence](),
		semaphores:      core.NewHandleTable[vk.Semaphore](),
		queues:          core.NewHandleTable[*VulkanQueue](),
		swapchains:      core.NewHandleTable[*VulkanSwapchain](),
		queueIndex:      make(map[queueKey]uint64),
	}
}

// lookup returns the object behind id, or the zero value (a null Vulkan
// handle) when id is unknown.
func lookup[T any](t *core.HandleTable[T], id uint64) T {
	v, _ := t.Get(id)
	return v
}

// queue returns the id of a queue, registering it on first use.
func (o *objectTables) queue(family, index uint32, fetch func() *VulkanQueue) (uint64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := queueKey{family, index}
	if id, ok := o.queueIndex[key]; ok {
		return id, false
	}
	id := o.queues.Acquire(fetch())
	o.queueIndex[key] = id
	return id, true
}

// leaked reports how many objects of each kind are still registered.
func (o *objectTables) leaked() map[string]int {
	counts := map[string]int{
		"buffer":                o.buffers.Len(),
		"memory":                o.memories.Len(),
		"image":                 o.images.Len(),
		"image view":            o.views.Len(),
		"sampler":               o.samplers.Len(),
		"descriptor set layout": o.setLayouts.Len(),
		"descriptor pool":       o.descriptorPools.Len(),
		"pipeline layout":       o.pipelineLayouts.Len(),
		"pipeline":              o.pipelines.Len(),
		"shader module":         o.shaders.Len(),
		"framebuffer":           o.framebuffers.Len(),
		"command pool":          o.commandPools.Len(),
		"fence":                 o.fences.Len(),
		"semaphore":             o.semaphores.Len(),
		"swapchain":             o.swapchains.Len(),
	}
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	return counts
}
