package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type VulkanSwapchain struct {
	Handle      vk.Swapchain
	ImageFormat vk.SurfaceFormat
	Extent      vk.Extent2D
	PresentMode vk.PresentMode
	Images      []vk.Image
	// ids of Images in the image table, released with the swapchain
	imageIDs []uint64
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, format := range formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return format
		}
	}
	return formats[0]
}

func choosePresentMode(modes []vk.PresentMode, preferMailbox bool) vk.PresentMode {
	if preferMailbox {
		for _, mode := range modes {
			if mode == vk.PresentModeMailbox {
				return mode
			}
		}
	}
	// FIFO is always available.
	return vk.PresentModeFifo
}

func chooseExtent(caps *vk.SurfaceCapabilities, requested metadata.Extent2D) vk.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return caps.CurrentExtent
	}
	return vk.Extent2D{
		Width:  core.Clamp(requested.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: core.Clamp(requested.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// CreateSwapchain re-queries the surface, so it also serves resizes.
func (b *Backend) CreateSwapchain(extent metadata.Extent2D, old metadata.SwapchainHandle) (*metadata.SwapchainInfo, error) {
	context := b.context
	var info *metadata.SwapchainInfo
	err := context.locks.SafeCall(SwapchainManagement, func() error {
		support, err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface)
		if err != nil {
			return err
		}
		if len(support.Formats) == 0 {
			return errors.Wrap(core.ErrUnsupportedConfiguration, "surface reports no formats")
		}
		caps := &support.Capabilities
		swapchain := &VulkanSwapchain{
			ImageFormat: chooseSurfaceFormat(support.Formats),
			Extent:      chooseExtent(caps, extent),
			PresentMode: choosePresentMode(support.PresentModes, b.opts.PreferMailbox),
		}
		if swapchain.Extent.Width == 0 || swapchain.Extent.Height == 0 {
			return errors.Wrap(core.ErrSwapchainOutOfDate, "surface has a zero extent")
		}

		imageCount := caps.MinImageCount + 1
		if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
			imageCount = caps.MaxImageCount
		}

		createInfo := vk.SwapchainCreateInfo{
			SType:            vk.StructureTypeSwapchainCreateInfo,
			Surface:          context.Surface,
			MinImageCount:    imageCount,
			ImageFormat:      swapchain.ImageFormat.Format,
			ImageColorSpace:  swapchain.ImageFormat.ColorSpace,
			ImageExtent:      swapchain.Extent,
			ImageArrayLayers: 1,
			ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
			PreTransform:     caps.CurrentTransform,
			CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
			PresentMode:      swapchain.PresentMode,
			Clipped:          vk.True,
			OldSwapchain:     lookup(context.objects.swapchains, uint64(old)).handle(),
		}
		families := context.Device.Families
		if families.Graphics != families.Present {
			createInfo.ImageSharingMode = vk.SharingModeConcurrent
			createInfo.QueueFamilyIndexCount = 2
			createInfo.PQueueFamilyIndices = []uint32{families.Graphics, families.Present}
		} else {
			createInfo.ImageSharingMode = vk.SharingModeExclusive
		}

		var handle vk.Swapchain
		if res := vk.CreateSwapchain(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
			return resultError(res, "create swapchain")
		}
		swapchain.Handle = handle

		var count uint32
		if res := vk.GetSwapchainImages(context.Device.LogicalDevice, handle, &count, nil); res != vk.Success {
			vk.DestroySwapchain(context.Device.LogicalDevice, handle, context.Allocator)
			return resultError(res, "get swapchain images")
		}
		swapchain.Images = make([]vk.Image, count)
		if res := vk.GetSwapchainImages(context.Device.LogicalDevice, handle, &count, swapchain.Images); res != vk.Success {
			vk.DestroySwapchain(context.Device.LogicalDevice, handle, context.Allocator)
			return resultError(res, "get swapchain images")
		}

		info = &metadata.SwapchainInfo{
			Format: metadata.Format(swapchain.ImageFormat.Format),
			Extent: metadata.Extent2D{Width: swapchain.Extent.Width, Height: swapchain.Extent.Height},
		}
		// Swapchain images are owned by the swapchain and never destroyed
		// through DestroyImage.
		for _, img := range swapchain.Images {
			id := context.objects.images.Acquire(img)
			swapchain.imageIDs = append(swapchain.imageIDs, id)
			info.Images = append(info.Images, metadata.ImageHandle(id))
		}
		info.Handle = metadata.SwapchainHandle(context.objects.swapchains.Acquire(swapchain))

		b.logger.Info("Swapchain created.",
			"width", swapchain.Extent.Width, "height", swapchain.Extent.Height,
			"images", count, "mailbox", swapchain.PresentMode == vk.PresentModeMailbox)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (vs *VulkanSwapchain) handle() vk.Swapchain {
	if vs == nil {
		return nil
	}
	return vs.Handle
}

func (b *Backend) DestroySwapchain(swapchain metadata.SwapchainHandle) {
	context := b.context
	_ = context.locks.SafeCall(SwapchainManagement, func() error {
		sc, err := context.objects.swapchains.Release(uint64(swapchain))
		if err != nil {
			b.logger.Warn("destroy of unknown swapchain", "handle", swapchain)
			return nil
		}
		for _, id := range sc.imageIDs {
			_, _ = context.objects.images.Release(id)
		}
		vk.DestroySwapchain(context.Device.LogicalDevice, sc.Handle, context.Allocator)
		return nil
	})
}

// AcquireNextImage blocks until an image is available.
func (b *Backend) AcquireNextImage(swapchain metadata.SwapchainHandle, signal metadata.SemaphoreHandle) (uint32, metadata.Result) {
	context := b.context
	sc, ok := context.objects.swapchains.Get(uint64(swapchain))
	if !ok {
		return 0, metadata.ErrorUnknown
	}
	var imageIndex uint32
	res := vk.AcquireNextImage(
		context.Device.LogicalDevice,
		sc.Handle,
		math.MaxUint64,
		lookup(context.objects.semaphores, uint64(signal)),
		vk.NullFence,
		&imageIndex)
	return imageIndex, toResult(res)
}

func (b *Backend) QueuePresent(queue metadata.QueueHandle, swapchain metadata.SwapchainHandle, imageIndex uint32, wait metadata.SemaphoreHandle) metadata.Result {
	context := b.context
	q, ok := context.objects.queues.Get(uint64(queue))
	sc, scOK := context.objects.swapchains.Get(uint64(swapchain))
	if !ok || !scOK {
		return metadata.ErrorUnknown
	}
	presentInfo := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{sc.Handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if wait != metadata.NullHandle {
		presentInfo.WaitSemaphoreCount = 1
		presentInfo.PWaitSemaphores = []vk.Semaphore{lookup(context.objects.semaphores, uint64(wait))}
	}
	var res vk.Result
	_ = context.locks.SafeQueueCall(uint64(queue), func() error {
		res = vk.QueuePresent(q.Handle, &presentInfo)
		return nil
	})
	return toResult(res)
}
