package renderer

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// SwapchainState is the swapchain together with every object sized after
// it. It is built and torn down as a unit.
type SwapchainState struct {
	Handle       metadata.SwapchainHandle
	Format       metadata.Format
	Extent       metadata.Extent2D
	Images       []metadata.ImageHandle
	Views        []metadata.ImageViewHandle
	Framebuffers []metadata.FramebufferHandle

	DepthImage  metadata.ImageHandle
	DepthMemory metadata.MemoryHandle
	DepthView   metadata.ImageViewHandle
}

// BuildSwapchainState creates a swapchain for extent, one view and one
// framebuffer per image and a shared depth attachment. A non-null old
// swapchain is passed to the driver for reuse; the caller still destroys it.
func BuildSwapchainState(device Device, extent metadata.Extent2D, old metadata.SwapchainHandle) (*SwapchainState, error) {
	info, err := device.CreateSwapchain(extent, old)
	if err != nil {
		return nil, errors.Wrap(err, "create swapchain")
	}
	s := &SwapchainState{
		Handle: info.Handle,
		Format: info.Format,
		Extent: info.Extent,
		Images: info.Images,
	}
	if err := s.buildAttachments(device); err != nil {
		s.DestroyAttachments(device)
		s.DestroySwapchain(device)
		return nil, err
	}
	return s, nil
}

func (s *SwapchainState) buildAttachments(device Device) error {
	for i, img := range s.Images {
		view, err := device.CreateImageView(&metadata.ImageViewCreateInfo{
			Image:  img,
			Type:   metadata.ImageViewType2D,
			Format: s.Format,
			Range:  metadata.ColorRange(),
		})
		if err != nil {
			return errors.Wrapf(err, "create swapchain image view %d", i)
		}
		s.Views = append(s.Views, view)
	}

	depthFormat := device.DepthFormat()
	depth, reqs, err := device.CreateImage(&metadata.ImageCreateInfo{
		Type:          metadata.ImageType2D,
		Format:        depthFormat,
		Extent:        metadata.Extent3D{Width: s.Extent.Width, Height: s.Extent.Height, Depth: 1},
		MipLevels:     1,
		ArrayLayers:   1,
		Tiling:        metadata.ImageTilingOptimal,
		Usage:         metadata.ImageUsageDepthStencilAttachment,
		InitialLayout: metadata.ImageLayoutUndefined,
	})
	if err != nil {
		return errors.Wrap(err, "create depth image")
	}
	s.DepthImage = depth
	typeIndex, err := FindMemoryType(device.MemoryProperties(), reqs.MemoryTypeBits, metadata.MemoryPropertyDeviceLocal)
	if err != nil {
		return errors.Wrap(err, "depth image")
	}
	mem, err := device.AllocateMemory(metadata.GetAligned(reqs.Size, reqs.Alignment), typeIndex)
	if err != nil {
		return errors.Wrap(err, "allocate depth memory")
	}
	s.DepthMemory = mem
	if err := device.BindImageMemory(depth, mem, 0); err != nil {
		return errors.Wrap(err, "bind depth memory")
	}
	s.DepthView, err = device.CreateImageView(&metadata.ImageViewCreateInfo{
		Image:  depth,
		Type:   metadata.ImageViewType2D,
		Format: depthFormat,
		Range:  metadata.ImageSubresourceRange{AspectMask: metadata.ImageAspectDepth, LevelCount: 1, LayerCount: 1},
	})
	if err != nil {
		return errors.Wrap(err, "create depth view")
	}

	for i, view := range s.Views {
		fb, err := device.CreateFramebuffer(device.RenderPass(), []metadata.ImageViewHandle{view, s.DepthView}, s.Extent)
		if err != nil {
			return errors.Wrapf(err, "create framebuffer %d", i)
		}
		s.Framebuffers = append(s.Framebuffers, fb)
	}
	return nil
}

// DestroyAttachments releases framebuffers, views and the depth attachment,
// leaving the swapchain handle alive.
func (s *SwapchainState) DestroyAttachments(device Device) {
	for _, fb := range s.Framebuffers {
		device.DestroyFramebuffer(fb)
	}
	s.Framebuffers = nil
	for _, v := range s.Views {
		device.DestroyImageView(v)
	}
	s.Views = nil
	if s.DepthView != metadata.NullHandle {
		device.DestroyImageView(s.DepthView)
		s.DepthView = metadata.NullHandle
	}
	if s.DepthImage != metadata.NullHandle {
		device.DestroyImage(s.DepthImage)
		s.DepthImage = metadata.NullHandle
	}
	if s.DepthMemory != metadata.NullHandle {
		device.FreeMemory(s.DepthMemory)
		s.DepthMemory = metadata.NullHandle
	}
}

func (s *SwapchainState) DestroySwapchain(device Device) {
	if s.Handle != metadata.NullHandle {
		device.DestroySwapchain(s.Handle)
		s.Handle = metadata.NullHandle
	}
	s.Images = nil
}

func (s *SwapchainState) Destroy(device Device) {
	s.DestroyAttachments(device)
	s.DestroySwapchain(device)
}
