package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
}

func FramebufferCreate(context *VulkanContext, renderpass *VulkanRenderpass, width, height uint32, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
	}

	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           width,
		Height:          height,
		Layers:          1,
	}

	var pFramebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &framebufferCreateInfo, context.Allocator, &pFramebuffer); res != vk.Success {
		return nil, resultError(res, "create framebuffer")
	}
	outFramebuffer.Handle = pFramebuffer
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy(context *VulkanContext) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, vfb.Handle, context.Allocator)
	}
	vfb.Handle = nil
	vfb.Attachments = nil
	vfb.Renderpass = nil
}

func (b *Backend) CreateFramebuffer(pass metadata.RenderPassHandle, attachments []metadata.ImageViewHandle, extent metadata.Extent2D) (metadata.FramebufferHandle, error) {
	context := b.context
	rp, ok := context.objects.renderPasses.Get(uint64(pass))
	if !ok {
		return metadata.NullHandle, unknownHandle("render pass", uint64(pass))
	}
	views := make([]vk.ImageView, len(attachments))
	for i, a := range attachments {
		views[i] = lookup(context.objects.views, uint64(a))
	}
	fb, err := FramebufferCreate(context, rp, extent.Width, extent.Height, views)
	if err != nil {
		return metadata.NullHandle, err
	}
	return metadata.FramebufferHandle(context.objects.framebuffers.Acquire(fb)), nil
}

func (b *Backend) DestroyFramebuffer(framebuffer metadata.FramebufferHandle) {
	fb, err := b.context.objects.framebuffers.Release(uint64(framebuffer))
	if err != nil {
		b.logger.Warn("destroy of unknown framebuffer", "handle", framebuffer)
		return
	}
	fb.Destroy(b.context)
}
