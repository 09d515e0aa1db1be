package vulkan

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// spirvWords reinterprets a SPIR-V binary as the little endian words
// Vulkan expects.
func spirvWords(code []byte) ([]uint32, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Mark(errors.Newf("shader code size %d is not a multiple of 4", len(code)), core.ErrInvalidConfig)
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, errors.Mark(errors.Newf("bad SPIR-V magic 0x%08x", words[0]), core.ErrInvalidConfig)
	}
	return words, nil
}

func (b *Backend) CreateShaderModule(code []byte) (metadata.ShaderModuleHandle, error) {
	context := b.context
	words, err := spirvWords(code)
	if err != nil {
		return metadata.NullHandle, err
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &module); res != vk.Success {
		return metadata.NullHandle, resultError(res, "create shader module")
	}
	return metadata.ShaderModuleHandle(context.objects.shaders.Acquire(module)), nil
}

func (b *Backend) DestroyShaderModule(module metadata.ShaderModuleHandle) {
	m, err := b.context.objects.shaders.Release(uint64(module))
	if err != nil {
		b.logger.Warn("destroy of unknown shader module", "handle", module)
		return
	}
	vk.DestroyShaderModule(b.context.Device.LogicalDevice, m, b.context.Allocator)
}
