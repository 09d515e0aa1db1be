package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

func subresourceRange(r metadata.ImageSubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.AspectMask),
		BaseMipLevel:   r.BaseMipLevel,
		LevelCount:     r.LevelCount,
		BaseArrayLayer: r.BaseArrayLayer,
		LayerCount:     r.LayerCount,
	}
}

func (b *Backend) CreateImage(info *metadata.ImageCreateInfo) (metadata.ImageHandle, metadata.MemoryRequirements, error) {
	context := b.context
	mipLevels := info.MipLevels
	if mipLevels == 0 {
		mipLevels = 1
	}
	arrayLayers := info.ArrayLayers
	if arrayLayers == 0 {
		arrayLayers = 1
	}
	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType(info.Type),
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  info.Extent.Width,
			Height: info.Extent.Height,
			Depth:  info.Extent.Depth,
		},
		MipLevels:     mipLevels,
		ArrayLayers:   arrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTiling(info.Tiling),
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayout(info.InitialLayout),
	}

	var image vk.Image
	var reqs vk.MemoryRequirements
	err := context.locks.SafeCall(ResourceManagement, func() error {
		if res := vk.CreateImage(context.Device.LogicalDevice, &imageCreateInfo, context.Allocator, &image); res != vk.Success {
			return resultError(res, "create image")
		}
		vk.GetImageMemoryRequirements(context.Device.LogicalDevice, image, &reqs)
		return nil
	})
	if err != nil {
		return metadata.NullHandle, metadata.MemoryRequirements{}, err
	}
	return metadata.ImageHandle(context.objects.images.Acquire(image)), memoryRequirements(reqs), nil
}

func (b *Backend) DestroyImage(image metadata.ImageHandle) {
	context := b.context
	img, err := context.objects.images.Release(uint64(image))
	if err != nil {
		b.logger.Warn("destroy of unknown image", "handle", image)
		return
	}
	_ = context.locks.SafeCall(ResourceManagement, func() error {
		vk.DestroyImage(context.Device.LogicalDevice, img, context.Allocator)
		return nil
	})
}

func (b *Backend) BindImageMemory(image metadata.ImageHandle, memory metadata.MemoryHandle, offset uint64) error {
	context := b.context
	img, ok := context.objects.images.Get(uint64(image))
	if !ok {
		return unknownHandle("image", uint64(image))
	}
	mem, ok := context.objects.memories.Get(uint64(memory))
	if !ok {
		return unknownHandle("memory", uint64(memory))
	}
	return resultError(vk.BindImageMemory(context.Device.LogicalDevice, img, mem, vk.DeviceSize(offset)), "bind image memory")
}

func (b *Backend) CreateImageView(info *metadata.ImageViewCreateInfo) (metadata.ImageViewHandle, error) {
	context := b.context
	img, ok := context.objects.images.Get(uint64(info.Image))
	if !ok {
		return metadata.NullHandle, unknownHandle("image", uint64(info.Image))
	}
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType(info.Type),
		Format:   vk.Format(info.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(info.Range),
	}
	var view vk.ImageView
	if res := vk.CreateImageView(context.Device.LogicalDevice, &viewCreateInfo, context.Allocator, &view); res != vk.Success {
		return metadata.NullHandle, resultError(res, "create image view")
	}
	return metadata.ImageViewHandle(context.objects.views.Acquire(view)), nil
}

func (b *Backend) DestroyImageView(view metadata.ImageViewHandle) {
	v, err := b.context.objects.views.Release(uint64(view))
	if err != nil {
		b.logger.Warn("destroy of unknown image view", "handle", view)
		return
	}
	vk.DestroyImageView(b.context.Device.LogicalDevice, v, b.context.Allocator)
}

func (b *Backend) CreateSampler(info *metadata.SamplerCreateInfo) (metadata.SamplerHandle, error) {
	context := b.context
	anisotropy := info.AnisotropyEnable
	if anisotropy && context.Device.Features.SamplerAnisotropy != vk.True {
		b.logger.Debug("sampler anisotropy requested but not supported by the device")
		anisotropy = false
	}
	samplerCreateInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(info.MagFilter),
		MinFilter:               vk.Filter(info.MinFilter),
		MipmapMode:              vk.SamplerMipmapMode(info.MipmapMode),
		AddressModeU:            vk.SamplerAddressMode(info.AddressModeU),
		AddressModeV:            vk.SamplerAddressMode(info.AddressModeV),
		AddressModeW:            vk.SamplerAddressMode(info.AddressModeW),
		AnisotropyEnable:        vk.False,
		MaxAnisotropy:           1.0,
		BorderColor:             vk.BorderColor(info.BorderColor),
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MinLod:                  info.MinLod,
		MaxLod:                  info.MaxLod,
	}
	if anisotropy {
		samplerCreateInfo.AnisotropyEnable = vk.True
		samplerCreateInfo.MaxAnisotropy = info.MaxAnisotropy
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(context.Device.LogicalDevice, &samplerCreateInfo, context.Allocator, &sampler); res != vk.Success {
		return metadata.NullHandle, resultError(res, "create sampler")
	}
	return metadata.SamplerHandle(context.objects.samplers.Acquire(sampler)), nil
}

func (b *Backend) DestroySampler(sampler metadata.SamplerHandle) {
	s, err := b.context.objects.samplers.Release(uint64(sampler))
	if err != nil {
		b.logger.Warn("destroy of unknown sampler", "handle", sampler)
		return
	}
	vk.DestroySampler(b.context.Device.LogicalDevice, s, b.context.Allocator)
}
