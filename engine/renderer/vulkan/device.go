package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

type VulkanDevice struct {
	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device

	Families metadata.QueueFamilyIndices
	// queues created per family
	QueueCounts map[uint32]uint32

	Properties vk.PhysicalDeviceProperties
	Features   vk.PhysicalDeviceFeatures
	Memory     metadata.MemoryProperties
	Name       string

	DepthFormat vk.Format
}

type VulkanSwapchainSupportInfo struct {
	Capabilities vk.SurfaceCapabilities
	Formats      []vk.SurfaceFormat
	PresentModes []vk.PresentMode
}

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	Compute              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

const portabilitySubset = "VK_KHR_portability_subset"

// DeviceCreate selects a physical device and creates a logical device that
// exposes every queue of the graphics, compute and present families.
func DeviceCreate(context *VulkanContext) error {
	if err := SelectPhysicalDevice(context); err != nil {
		return err
	}
	dev := context.Device
	logger := context.logger

	// NOTE: one create info per unique family, requesting all of its queues.
	counts := map[uint32]uint32{
		dev.Families.Graphics: dev.Families.GraphicsCount,
		dev.Families.Compute:  dev.Families.ComputeCount,
	}
	if _, ok := counts[dev.Families.Present]; !ok {
		counts[dev.Families.Present] = 1
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, 0, len(counts))
	for family, n := range counts {
		if n == 0 {
			n = 1
			counts[family] = n
		}
		priorities := make([]float32, n)
		for i := range priorities {
			priorities[i] = 1.0
		}
		queueCreateInfos = append(queueCreateInfos, vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       n,
			PQueuePriorities: priorities,
		})
	}

	deviceFeatures := vk.PhysicalDeviceFeatures{}
	if dev.Features.SamplerAnisotropy == vk.True {
		deviceFeatures.SamplerAnisotropy = vk.True
	}

	extensions, err := deviceExtensions(dev.PhysicalDevice)
	if err != nil {
		return err
	}
	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if _, ok := extensions[portabilitySubset]; ok {
		logger.Info("Adding required extension", "name", portabilitySubset)
		extensionNames = append(extensionNames, portabilitySubset)
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{deviceFeatures},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}

	var device vk.Device
	if res := vk.CreateDevice(dev.PhysicalDevice, &deviceCreateInfo, context.Allocator, &device); res != vk.Success {
		return resultError(res, "create logical device")
	}
	dev.LogicalDevice = device
	dev.QueueCounts = counts

	logger.Info("Logical device created.",
		"graphicsFamily", dev.Families.Graphics, "graphicsQueues", dev.Families.GraphicsCount,
		"computeFamily", dev.Families.Compute, "computeQueues", dev.Families.ComputeCount,
		"presentFamily", dev.Families.Present)
	return nil
}

func DeviceDestroy(context *VulkanContext) {
	if context.Device == nil {
		return
	}
	if context.Device.LogicalDevice != nil {
		context.logger.Debug("Destroying logical device...")
		vk.DestroyDevice(context.Device.LogicalDevice, context.Allocator)
		context.Device.LogicalDevice = nil
	}
	// Physical devices are not destroyed.
	context.Device.PhysicalDevice = nil
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]struct{}, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return nil, resultError(res, "enumerate device extensions")
	}
	available := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, available); res != vk.Success {
			return nil, resultError(res, "enumerate device extensions")
		}
	}
	names := make(map[string]struct{}, count)
	for i := range available {
		available[i].Deref()
		names[cString(available[i].ExtensionName[:])] = struct{}{}
	}
	return names, nil
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface) (*VulkanSwapchainSupportInfo, error) {
	info := &VulkanSwapchainSupportInfo{}
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &info.Capabilities); res != vk.Success {
		return nil, resultError(res, "get surface capabilities")
	}
	info.Capabilities.Deref()
	info.Capabilities.CurrentExtent.Deref()
	info.Capabilities.MinImageExtent.Deref()
	info.Capabilities.MaxImageExtent.Deref()

	var formatCount uint32
	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, nil); res != vk.Success {
		return nil, resultError(res, "get surface formats")
	}
	if formatCount != 0 {
		info.Formats = make([]vk.SurfaceFormat, formatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &formatCount, info.Formats); res != vk.Success {
			return nil, resultError(res, "get surface formats")
		}
		for i := range info.Formats {
			info.Formats[i].Deref()
		}
	}

	var modeCount uint32
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, nil); res != vk.Success {
		return nil, resultError(res, "get surface present modes")
	}
	if modeCount != 0 {
		info.PresentModes = make([]vk.PresentMode, modeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &modeCount, info.PresentModes); res != vk.Success {
			return nil, resultError(res, "get surface present modes")
		}
	}
	return info, nil
}

// DeviceDetectDepthFormat picks the first depth format usable as an
// optimally tiled attachment, trying D16 first.
func DeviceDetectDepthFormat(device *VulkanDevice) error {
	candidates := []vk.Format{
		vk.FormatD16Unorm,
		vk.FormatD32Sfloat,
		vk.FormatD24UnormS8Uint,
	}
	flags := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
	for _, candidate := range candidates {
		var properties vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(device.PhysicalDevice, candidate, &properties)
		properties.Deref()
		if properties.OptimalTilingFeatures&flags == flags {
			device.DepthFormat = candidate
			return nil
		}
	}
	return errors.Wrap(core.ErrUnsupportedConfiguration, "no supported depth format")
}

func SelectPhysicalDevice(context *VulkanContext) error {
	logger := context.logger

	var physicalDeviceCount uint32
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, nil); res != vk.Success {
		return resultError(res, "enumerate physical devices")
	}
	if physicalDeviceCount == 0 {
		return errors.Wrap(core.ErrUnsupportedConfiguration, "no devices which support Vulkan were found")
	}
	physicalDevices := make([]vk.PhysicalDevice, physicalDeviceCount)
	if res := vk.EnumeratePhysicalDevices(context.Instance, &physicalDeviceCount, physicalDevices); res != vk.Success {
		return resultError(res, "enumerate physical devices")
	}

	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		Compute:              true,
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
		DiscreteGPU:          runtime.GOOS != "darwin",
	}

	var fallback *VulkanDevice
	for _, pd := range physicalDevices {
		var properties vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(pd, &properties)
		properties.Deref()

		var features vk.PhysicalDeviceFeatures
		vk.GetPhysicalDeviceFeatures(pd, &features)
		features.Deref()

		name := cString(properties.DeviceName[:])
		families, ok := PhysicalDeviceMeetsRequirements(pd, context.Surface, &requirements, logger.WithFields("device", name))
		if !ok {
			continue
		}
		candidate := &VulkanDevice{
			PhysicalDevice: pd,
			Families:       families,
			Properties:     properties,
			Features:       features,
			Memory:         memoryProperties(pd),
			Name:           name,
		}
		// Integrated GPUs are only used when nothing discrete qualifies.
		if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			if fallback == nil {
				fallback = candidate
			}
			continue
		}
		context.Device = candidate
		break
	}
	if context.Device == nil {
		context.Device = fallback
	}
	if context.Device == nil {
		return errors.Wrap(core.ErrUnsupportedConfiguration, "no physical device meets the requirements")
	}

	dev := context.Device
	driver := vk.Version(dev.Properties.DriverVersion)
	api := vk.Version(dev.Properties.ApiVersion)
	logger.Info("Selected device",
		"name", dev.Name,
		"type", deviceTypeName(dev.Properties.DeviceType),
		"driver", []uint32{uint32(driver.Major()), uint32(driver.Minor()), uint32(driver.Patch())},
		"api", []uint32{uint32(api.Major()), uint32(api.Minor()), uint32(api.Patch())})
	for _, heap := range dev.Memory.Heaps {
		gib := float64(heap.Size) / 1024.0 / 1024.0 / 1024.0
		if heap.DeviceLocal {
			logger.Info("Local GPU memory", "GiB", gib)
		} else {
			logger.Info("Shared System memory", "GiB", gib)
		}
	}
	return DeviceDetectDepthFormat(dev)
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "unknown"
	}
}

// PhysicalDeviceMeetsRequirements resolves the queue families of a device.
// Compute prefers a family without graphics support and falls back to the
// graphics family.
func PhysicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, requirements *VulkanPhysicalDeviceRequirements, logger *core.Logger) (metadata.QueueFamilyIndices, bool) {
	var out metadata.QueueFamilyIndices

	var queueFamilyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, nil)
	queueFamilies := make([]vk.QueueFamilyProperties, queueFamilyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &queueFamilyCount, queueFamilies)

	graphics, compute, dedicatedCompute, present := -1, -1, -1, -1
	for i := range queueFamilies {
		queueFamilies[i].Deref()
		flags := queueFamilies[i].QueueFlags
		hasGraphics := flags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		hasCompute := flags&vk.QueueFlags(vk.QueueComputeBit) != 0

		if hasGraphics && graphics < 0 {
			graphics = i
		}
		if hasCompute {
			if !hasGraphics && dedicatedCompute < 0 {
				dedicatedCompute = i
			}
			if hasGraphics && compute < 0 {
				compute = i
			}
		}

		var supportsPresent vk.Bool32
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			logger.Warn("Surface support query failed", "family", i, "result", VulkanResultString(res))
			return out, false
		}
		// Prefer presenting from the graphics family.
		if supportsPresent == vk.True && (present < 0 || (hasGraphics && i == graphics)) {
			present = i
		}
	}
	if dedicatedCompute >= 0 {
		compute = dedicatedCompute
	}

	logger.Debug("Queue families", "graphics", graphics, "compute", compute, "present", present)
	if (requirements.Graphics && graphics < 0) ||
		(requirements.Present && present < 0) ||
		(requirements.Compute && compute < 0) {
		logger.Info("Device does not meet queue requirements, skipping.")
		return out, false
	}

	out.Graphics = uint32(graphics)
	out.Present = uint32(present)
	out.GraphicsCount = queueFamilies[graphics].QueueCount
	if compute >= 0 {
		out.Compute = uint32(compute)
		out.ComputeCount = queueFamilies[compute].QueueCount
	} else {
		out.Compute = out.Graphics
	}

	support, err := DeviceQuerySwapchainSupport(device, surface)
	if err != nil || len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		logger.Info("Required swapchain support not present, skipping device.")
		return out, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return out, false
	}
	for _, ext := range requirements.DeviceExtensionNames {
		if _, ok := available[ext]; !ok {
			logger.Info("Required extension not found, skipping device.", "extension", ext)
			return out, false
		}
	}
	return out, true
}

func memoryProperties(device vk.PhysicalDevice) metadata.MemoryProperties {
	var memory vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(device, &memory)
	memory.Deref()

	props := metadata.MemoryProperties{
		Types: make([]metadata.MemoryType, memory.MemoryTypeCount),
		Heaps: make([]metadata.MemoryHeap, memory.MemoryHeapCount),
	}
	for i := range props.Types {
		t := memory.MemoryTypes[i]
		t.Deref()
		props.Types[i] = metadata.MemoryType{
			PropertyFlags: metadata.MemoryPropertyFlags(t.PropertyFlags),
			HeapIndex:     t.HeapIndex,
		}
	}
	for i := range props.Heaps {
		h := memory.MemoryHeaps[i]
		h.Deref()
		props.Heaps[i] = metadata.MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		}
	}
	return props
}
