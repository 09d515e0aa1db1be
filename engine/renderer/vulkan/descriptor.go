package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

func (b *Backend) CreateDescriptorSetLayout(bindings []metadata.DescriptorBindingSpec) (metadata.DescriptorSetLayoutHandle, error) {
	context := b.context
	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, binding := range bindings {
		count := binding.Count
		if count == 0 {
			count = 1
		}
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         binding.Binding,
			DescriptorType:  vk.DescriptorType(binding.Type),
			DescriptorCount: count,
			StageFlags:      vk.ShaderStageFlags(binding.Stages),
		}
	}
	layoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}

	var layout vk.DescriptorSetLayout
	err := context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.CreateDescriptorSetLayout(context.Device.LogicalDevice, &layoutInfo, context.Allocator, &layout), "create descriptor set layout")
	})
	if err != nil {
		return metadata.NullHandle, err
	}
	return metadata.DescriptorSetLayoutHandle(context.objects.setLayouts.Acquire(layout)), nil
}

func (b *Backend) DestroyDescriptorSetLayout(layout metadata.DescriptorSetLayoutHandle) {
	context := b.context
	l, err := context.objects.setLayouts.Release(uint64(layout))
	if err != nil {
		b.logger.Warn("destroy of unknown descriptor set layout", "handle", layout)
		return
	}
	_ = context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, l, context.Allocator)
		return nil
	})
}

func (b *Backend) CreateDescriptorPool(maxSets uint32, sizes []metadata.DescriptorPoolSize) (metadata.DescriptorPoolHandle, error) {
	context := b.context
	poolSizes := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		poolSizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(s.Type),
			DescriptorCount: s.Count,
		}
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}

	var pool vk.DescriptorPool
	err := context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.CreateDescriptorPool(context.Device.LogicalDevice, &poolInfo, context.Allocator, &pool), "create descriptor pool")
	})
	if err != nil {
		return metadata.NullHandle, err
	}
	return metadata.DescriptorPoolHandle(context.objects.descriptorPools.Acquire(&descriptorPool{handle: pool})), nil
}

// DestroyDescriptorPool destroys the pool and every set allocated from it.
func (b *Backend) DestroyDescriptorPool(pool metadata.DescriptorPoolHandle) {
	context := b.context
	p, err := context.objects.descriptorPools.Release(uint64(pool))
	if err != nil {
		b.logger.Warn("destroy of unknown descriptor pool", "handle", pool)
		return
	}
	context.objects.mu.Lock()
	for _, id := range p.sets {
		_, _ = context.objects.descriptorSets.Release(id)
	}
	p.sets = nil
	context.objects.mu.Unlock()

	_ = context.locks.SafeCall(DescriptorManagement, func() error {
		vk.DestroyDescriptorPool(context.Device.LogicalDevice, p.handle, context.Allocator)
		return nil
	})
}

func (b *Backend) AllocateDescriptorSets(pool metadata.DescriptorPoolHandle, layouts []metadata.DescriptorSetLayoutHandle) ([]metadata.DescriptorSetHandle, error) {
	context := b.context
	if len(layouts) == 0 {
		return nil, nil
	}
	p, ok := context.objects.descriptorPools.Get(uint64(pool))
	if !ok {
		return nil, unknownHandle("descriptor pool", uint64(pool))
	}
	setLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		layout, ok := context.objects.setLayouts.Get(uint64(l))
		if !ok {
			return nil, unknownHandle("descriptor set layout", uint64(l))
		}
		setLayouts[i] = layout
	}
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: uint32(len(setLayouts)),
		PSetLayouts:        setLayouts,
	}

	sets := make([]vk.DescriptorSet, len(setLayouts))
	err := context.locks.SafeCall(DescriptorManagement, func() error {
		return resultError(vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &sets[0]), "allocate descriptor sets")
	})
	if err != nil {
		return nil, err
	}

	out := make([]metadata.DescriptorSetHandle, len(sets))
	context.objects.mu.Lock()
	for i, s := range sets {
		id := context.objects.descriptorSets.Acquire(s)
		p.sets = append(p.sets, id)
		out[i] = metadata.DescriptorSetHandle(id)
	}
	context.objects.mu.Unlock()
	return out, nil
}

// UpdateDescriptorSets applies writes in one call. Writes naming unknown
// handles are dropped with a warning.
func (b *Backend) UpdateDescriptorSets(writes []metadata.DescriptorWrite) {
	context := b.context
	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		set, ok := context.objects.descriptorSets.Get(uint64(w.Set))
		if !ok {
			b.logger.Warn("descriptor write to unknown set", "handle", w.Set)
			continue
		}
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  vk.DescriptorType(w.Type),
		}
		switch {
		case w.BufferInfo != nil:
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: lookup(context.objects.buffers, uint64(w.BufferInfo.Buffer)),
				Offset: vk.DeviceSize(w.BufferInfo.Offset),
				Range:  vk.DeviceSize(w.BufferInfo.Range),
			}}
		case w.ImageInfo != nil:
			write.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     lookup(context.objects.samplers, uint64(w.ImageInfo.Sampler)),
				ImageView:   lookup(context.objects.views, uint64(w.ImageInfo.View)),
				ImageLayout: vk.ImageLayout(w.ImageInfo.Layout),
			}}
		default:
			b.logger.Warn("descriptor write without resource", "set", w.Set, "binding", w.Binding)
			continue
		}
		vkWrites = append(vkWrites, write)
	}
	if len(vkWrites) == 0 {
		return
	}
	_ = context.locks.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(context.Device.LogicalDevice, uint32(len(vkWrites)), vkWrites, 0, nil)
		return nil
	})
}
