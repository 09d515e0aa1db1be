package vulkan

import (
	"sort"
	"sync"
)

// LockGroup names a class of Vulkan objects whose creation and destruction
// must be externally synchronized.
type LockGroup string

const (
	ResourceManagement        LockGroup = "resource_management"
	CommandPoolManagement     LockGroup = "command_pool_management"
	DescriptorManagement      LockGroup = "descriptor_management"
	SwapchainManagement       LockGroup = "swapchain_management"
	PipelineManagement        LockGroup = "pipeline_management"
	SynchronizationManagement LockGroup = "synchronization_management"
)

// VulkanLockPool hands out one mutex per lock group and one per queue.
// Queue mutexes are keyed by the queue's handle id so two pipelines that
// claimed different queues of one family never contend.
type VulkanLockPool struct {
	mu     sync.Mutex // protects the maps, never held across a call
	locks  map[LockGroup]*sync.Mutex
	queues map[uint64]*sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:  make(map[LockGroup]*sync.Mutex),
		queues: make(map[uint64]*sync.Mutex),
	}
}

func (vs *VulkanLockPool) groupLock(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.locks[group]
	if !ok {
		l = &sync.Mutex{}
		vs.locks[group] = l
	}
	return l
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.groupLock(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// AddQueue registers the mutex guarding one queue.
func (vs *VulkanLockPool) AddQueue(id uint64) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.queues[id]; !exists {
		vs.queues[id] = &sync.Mutex{}
	}
}

func (vs *VulkanLockPool) queueLock(id uint64) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	l, ok := vs.queues[id]
	if !ok {
		l = &sync.Mutex{}
		vs.queues[id] = l
	}
	return l
}

// SafeQueueCall runs fn while holding the mutex of one queue.
func (vs *VulkanLockPool) SafeQueueCall(queue uint64, fn func() error) error {
	l := vs.queueLock(queue)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SafeDeviceCall runs fn while holding every queue mutex, as required by
// vkDeviceWaitIdle. Queues are locked in id order.
func (vs *VulkanLockPool) SafeDeviceCall(fn func() error) error {
	vs.mu.Lock()
	ids := make([]uint64, 0, len(vs.queues))
	for id := range vs.queues {
		ids = append(ids, id)
	}
	locks := make([]*sync.Mutex, 0, len(ids))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		locks = append(locks, vs.queues[id])
	}
	vs.mu.Unlock()

	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()
	return fn()
}
