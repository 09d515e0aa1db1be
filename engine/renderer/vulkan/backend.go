package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Options struct {
	AppName string
	// Validation enables the Khronos validation layer and routes its
	// reports to the logger.
	Validation bool
	// PreferMailbox selects mailbox presentation when available instead of
	// FIFO.
	PreferMailbox bool
}

// Surface is the window the backend presents to.
type Surface interface {
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

// Backend implements renderer.Device on top of Vulkan. Every object it
// creates is handed out as an opaque handle.
type Backend struct {
	context    *VulkanContext
	opts       Options
	logger     *core.Logger
	renderPass uint64

	shutdown sync.Once
}

var _ renderer.Device = (*Backend)(nil)

// New creates the instance, surface, logical device and main render pass.
func New(opts Options, surface Surface, logger *core.Logger) (*Backend, error) {
	logger = logger.Named("vulkan")
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, errors.Mark(errors.New("GetInstanceProcAddress is nil"), core.ErrUnsupportedConfiguration)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize vulkan")
	}

	b := &Backend{
		opts:   opts,
		logger: logger,
		context: &VulkanContext{
			Allocator: nil,
			locks:     NewVulkanLockPool(),
			objects:   newObjectTables(),
			logger:    logger,
		},
	}
	if err := b.createInstance(surface.RequiredInstanceExtensions()); err != nil {
		b.Shutdown()
		return nil, err
	}

	s, err := surface.CreateSurface(b.context.Instance)
	if err != nil {
		b.Shutdown()
		return nil, errors.Wrap(err, "failed to create platform surface")
	}
	b.context.Surface = s
	logger.Debug("Vulkan surface created.")

	if err := DeviceCreate(b.context); err != nil {
		b.Shutdown()
		return nil, err
	}

	support, err := DeviceQuerySwapchainSupport(b.context.Device.PhysicalDevice, b.context.Surface)
	if err != nil {
		b.Shutdown()
		return nil, err
	}
	if len(support.Formats) == 0 {
		b.Shutdown()
		return nil, errors.Wrap(core.ErrUnsupportedConfiguration, "surface reports no formats")
	}
	rp, err := RenderpassCreate(b.context, chooseSurfaceFormat(support.Formats).Format, b.context.Device.DepthFormat)
	if err != nil {
		b.Shutdown()
		return nil, err
	}
	b.context.MainRenderpass = rp
	b.renderPass = b.context.objects.renderPasses.Acquire(rp)

	logger.Info("Vulkan backend initialized.", "device", b.context.Device.Name)
	return b, nil
}

func (b *Backend) createInstance(platformExtensions []string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 0, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(b.opts.AppName),
		PEngineName:        VulkanSafeString("envgraph"),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := []string{"VK_KHR_surface"}
	extensions = append(extensions, platformExtensions...)
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	if b.opts.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
	}
	b.logger.Debug("Required instance extensions", "names", extensions)
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = VulkanSafeStrings(extensions)

	var layers []string
	if b.opts.Validation {
		if err := checkLayers(validationLayer); err != nil {
			return err
		}
		layers = append(layers, validationLayer)
		b.logger.Info("Validation layers enabled.")
	}
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = VulkanSafeStrings(layers)

	if res := vk.CreateInstance(&createInfo, b.context.Allocator, &b.context.Instance); res != vk.Success {
		return resultError(res, "create instance")
	}
	if err := vk.InitInstance(b.context.Instance); err != nil {
		return errors.Wrap(err, "failed to load instance functions")
	}
	b.logger.Info("Vulkan Instance created.")

	if b.opts.Validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: b.debugReport,
		}
		var dbg vk.DebugReportCallback
		if res := vk.CreateDebugReportCallback(b.context.Instance, &debugCreateInfo, nil, &dbg); res != vk.Success {
			return resultError(res, "create debug report callback")
		}
		b.context.debugCallback = dbg
		b.logger.Debug("Vulkan debugger created.")
	}
	return nil
}

// checkLayers fails with ErrUnsupportedConfiguration unless every named
// instance layer is installed.
func checkLayers(names ...string) error {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return resultError(res, "enumerate instance layers")
	}
	available := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, available); res != vk.Success {
		return resultError(res, "enumerate instance layers")
	}
	installed := make(map[string]struct{}, count)
	for i := range available {
		available[i].Deref()
		installed[cString(available[i].LayerName[:])] = struct{}{}
	}
	for _, name := range names {
		if _, ok := installed[name]; !ok {
			return errors.Wrapf(core.ErrUnsupportedConfiguration, "required layer %s is missing", name)
		}
	}
	return nil
}

func (b *Backend) debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		b.logger.Error(pMessage, "layer", pLayerPrefix, "code", messageCode)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		b.logger.Warn(pMessage, "layer", pLayerPrefix, "code", messageCode)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		b.logger.Warn(pMessage, "layer", pLayerPrefix, "code", messageCode, "performance", true)
	default:
		b.logger.Debug(pMessage, "layer", pLayerPrefix, "code", messageCode)
	}
	return vk.Bool32(vk.False)
}

func (b *Backend) MemoryProperties() metadata.MemoryProperties {
	return b.context.Device.Memory
}

func (b *Backend) QueueFamilies() metadata.QueueFamilyIndices {
	return b.context.Device.Families
}

func (b *Backend) RenderPass() metadata.RenderPassHandle {
	return metadata.RenderPassHandle(b.renderPass)
}

func (b *Backend) DepthFormat() metadata.Format {
	return metadata.Format(b.context.Device.DepthFormat)
}

// Shutdown releases the device, surface and instance. Objects still
// registered are reported as leaks. It is safe to call more than once.
func (b *Backend) Shutdown() {
	b.shutdown.Do(func() {
		context := b.context
		if context.Device != nil && context.Device.LogicalDevice != nil {
			if err := b.DeviceWaitIdle(); err != nil {
				b.logger.Warn("device wait idle failed during shutdown", "err", err)
			}
			if context.MainRenderpass != nil {
				_, _ = context.objects.renderPasses.Release(b.renderPass)
				context.MainRenderpass.RenderpassDestroy(context)
				context.MainRenderpass = nil
			}
			if leaks := context.objects.leaked(); len(leaks) > 0 {
				b.logger.Warn("device objects still alive at shutdown", "counts", leaks)
			}
		}
		DeviceDestroy(context)

		if context.Surface != vk.NullSurface {
			b.logger.Debug("Destroying Vulkan surface...")
			vk.DestroySurface(context.Instance, context.Surface, context.Allocator)
			context.Surface = vk.NullSurface
		}
		if context.debugCallback != nil {
			vk.DestroyDebugReportCallback(context.Instance, context.debugCallback, context.Allocator)
			context.debugCallback = nil
		}
		if context.Instance != nil {
			b.logger.Debug("Destroying Vulkan instance...")
			vk.DestroyInstance(context.Instance, context.Allocator)
			context.Instance = nil
		}
	})
}
