package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

var resultNames = map[vk.Result]string{
	vk.Success:                          "VK_SUCCESS",
	vk.NotReady:                         "VK_NOT_READY",
	vk.Timeout:                          "VK_TIMEOUT",
	vk.EventSet:                         "VK_EVENT_SET",
	vk.EventReset:                       "VK_EVENT_RESET",
	vk.Incomplete:                       "VK_INCOMPLETE",
	vk.Suboptimal:                       "VK_SUBOPTIMAL_KHR",
	vk.ErrorOutOfHostMemory:             "VK_ERROR_OUT_OF_HOST_MEMORY",
	vk.ErrorOutOfDeviceMemory:           "VK_ERROR_OUT_OF_DEVICE_MEMORY",
	vk.ErrorInitializationFailed:        "VK_ERROR_INITIALIZATION_FAILED",
	vk.ErrorDeviceLost:                  "VK_ERROR_DEVICE_LOST",
	vk.ErrorMemoryMapFailed:             "VK_ERROR_MEMORY_MAP_FAILED",
	vk.ErrorLayerNotPresent:             "VK_ERROR_LAYER_NOT_PRESENT",
	vk.ErrorExtensionNotPresent:         "VK_ERROR_EXTENSION_NOT_PRESENT",
	vk.ErrorFeatureNotPresent:           "VK_ERROR_FEATURE_NOT_PRESENT",
	vk.ErrorIncompatibleDriver:          "VK_ERROR_INCOMPATIBLE_DRIVER",
	vk.ErrorTooManyObjects:              "VK_ERROR_TOO_MANY_OBJECTS",
	vk.ErrorFormatNotSupported:          "VK_ERROR_FORMAT_NOT_SUPPORTED",
	vk.ErrorFragmentedPool:              "VK_ERROR_FRAGMENTED_POOL",
	vk.ErrorSurfaceLost:                 "VK_ERROR_SURFACE_LOST_KHR",
	vk.ErrorNativeWindowInUse:           "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR",
	vk.ErrorOutOfDate:                   "VK_ERROR_OUT_OF_DATE_KHR",
	vk.ErrorIncompatibleDisplay:         "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR",
	vk.ErrorOutOfPoolMemory:             "VK_ERROR_OUT_OF_POOL_MEMORY",
	vk.ErrorInvalidExternalHandle:       "VK_ERROR_INVALID_EXTERNAL_HANDLE",
	vk.ErrorFragmentation:               "VK_ERROR_FRAGMENTATION",
	vk.ErrorFullScreenExclusiveModeLost: "VK_ERROR_FULL_SCREEN_EXCLUSIVE_MODE_LOST_EXT",
	vk.ErrorUnknown:                     "VK_ERROR_UNKNOWN",
}

func VulkanResultString(result vk.Result) string {
	if s, ok := resultNames[result]; ok {
		return s
	}
	return "VK_RESULT_UNKNOWN"
}

// VulkanResultIsSuccess reports whether result is one of the non-error
// codes. Negative values are errors.
func VulkanResultIsSuccess(result vk.Result) bool {
	return result >= 0
}

func toResult(res vk.Result) metadata.Result {
	switch res {
	case vk.Success:
		return metadata.Success
	case vk.NotReady:
		return metadata.NotReady
	case vk.Timeout:
		return metadata.Timeout
	case vk.Suboptimal:
		return metadata.Suboptimal
	case vk.ErrorOutOfDate:
		return metadata.ErrorOutOfDate
	case vk.ErrorDeviceLost:
		return metadata.ErrorDeviceLost
	case vk.ErrorSurfaceLost:
		return metadata.ErrorSurfaceLost
	}
	if VulkanResultIsSuccess(res) {
		return metadata.Success
	}
	return metadata.ErrorUnknown
}

// resultError returns nil for success codes and a marked error otherwise.
func resultError(res vk.Result, op string) error {
	if VulkanResultIsSuccess(res) {
		return nil
	}
	err := errors.Newf("%s: %s", op, VulkanResultString(res))
	switch res {
	case vk.ErrorOutOfDate:
		return errors.Mark(err, core.ErrSwapchainOutOfDate)
	case vk.ErrorDeviceLost:
		return errors.Mark(err, core.ErrDeviceLost)
	case vk.ErrorFeatureNotPresent, vk.ErrorFormatNotSupported, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent:
		return errors.Mark(err, core.ErrUnsupportedConfiguration)
	case vk.ErrorOutOfDeviceMemory, vk.ErrorOutOfHostMemory, vk.ErrorOutOfPoolMemory, vk.ErrorTooManyObjects:
		return errors.Mark(err, core.ErrResourceExhausted)
	}
	return err
}

const endChar byte = '\x00'

// VulkanSafeString returns s terminated by a NUL byte.
func VulkanSafeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != endChar {
		return s + string(endChar)
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString returns the text of a fixed size NUL padded byte array.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == endChar {
			return string(arr[:i])
		}
	}
	return string(arr)
}

func unknownHandle(kind string, id uint64) error {
	return errors.Wrapf(core.ErrUnknownResource, "%s handle %d", kind, id)
}
