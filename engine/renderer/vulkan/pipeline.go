package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/envgraph/engine/core"
	"github.com/spaghettifunk/envgraph/engine/renderer/metadata"
)

// maxPushConstantRanges is the most ranges a layout may declare; the
// guaranteed 128 bytes of push constant space split on 4 byte boundaries.
const maxPushConstantRanges = 32

func (b *Backend) CreatePipelineLayout(layouts []metadata.DescriptorSetLayoutHandle, pushConstants []metadata.PushConstantRange) (metadata.PipelineLayoutHandle, error) {
	context := b.context
	if len(pushConstants) > maxPushConstantRanges {
		return metadata.NullHandle, errors.Mark(
			errors.Newf("cannot have more than %d push constant ranges, got %d", maxPushConstantRanges, len(pushConstants)),
			core.ErrInvalidConfig)
	}

	setLayouts := make([]vk.DescriptorSetLayout, len(layouts))
	for i, l := range layouts {
		layout, ok := context.objects.setLayouts.Get(uint64(l))
		if !ok {
			return metadata.NullHandle, unknownHandle("descriptor set layout", uint64(l))
		}
		setLayouts[i] = layout
	}

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	if len(pushConstants) > 0 {
		ranges := make([]vk.PushConstantRange, len(pushConstants))
		for i, r := range pushConstants {
			ranges[i] = vk.PushConstantRange{
				StageFlags: vk.ShaderStageFlags(r.Stages),
				Offset:     r.Offset,
				Size:       r.Size,
			}
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = uint32(len(ranges))
		pipelineLayoutCreateInfo.PPushConstantRanges = ranges
	}

	var pPipelineLayout vk.PipelineLayout
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pPipelineLayout), "create pipeline layout")
	}); err != nil {
		return metadata.NullHandle, err
	}
	return metadata.PipelineLayoutHandle(context.objects.pipelineLayouts.Acquire(pPipelineLayout)), nil
}

func (b *Backend) DestroyPipelineLayout(layout metadata.PipelineLayoutHandle) {
	context := b.context
	l, err := context.objects.pipelineLayouts.Release(uint64(layout))
	if err != nil {
		b.logger.Warn("destroy of unknown pipeline layout", "handle", layout)
		return
	}
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipelineLayout(context.Device.LogicalDevice, l, context.Allocator)
		return nil
	})
}

func cullMode(mode metadata.FaceCullMode) vk.CullModeFlags {
	switch mode {
	case metadata.FaceCullModeFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case metadata.FaceCullModeFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeNone)
	}
}

// CreateGraphicsPipeline builds a pipeline for one subpass of the main
// render pass. Viewport and scissor are dynamic state.
func (b *Backend) CreateGraphicsPipeline(config *metadata.GraphicsPipelineConfig) (metadata.PipelineHandle, error) {
	context := b.context

	layout, ok := context.objects.pipelineLayouts.Get(uint64(config.Layout))
	if !ok {
		return metadata.NullHandle, unknownHandle("pipeline layout", uint64(config.Layout))
	}
	renderpass, ok := context.objects.renderPasses.Get(uint64(config.RenderPass))
	if !ok {
		return metadata.NullHandle, unknownHandle("render pass", uint64(config.RenderPass))
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, 0, 2)
	for _, s := range []struct {
		module metadata.ShaderModuleHandle
		stage  vk.ShaderStageFlagBits
	}{
		{config.VertexShader, vk.ShaderStageVertexBit},
		{config.FragmentShader, vk.ShaderStageFragmentBit},
	} {
		module, ok := context.objects.shaders.Get(uint64(s.module))
		if !ok {
			return metadata.NullHandle, unknownHandle("shader module", uint64(s.module))
		}
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  s.stage,
			Module: module,
			PName:  VulkanSafeString("main"),
		})
	}

	// Viewport state
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	// Rasterizer
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                cullMode(config.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}

	// Multisampling.
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}

	// Depth and stencil testing.
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:                 vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:       vk.False,
		DepthWriteEnable:      vk.False,
		DepthCompareOp:        vk.CompareOpLess,
		DepthBoundsTestEnable: vk.False,
		StencilTestEnable:     vk.False,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		BlendEnable:         vk.False,
		SrcColorBlendFactor: vk.BlendFactorSrcAlpha,
		DstColorBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorSrcAlpha,
		DstAlphaBlendFactor: vk.BlendFactorOneMinusSrcAlpha,
		AlphaBlendOp:        vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if config.Blend {
		colorBlendAttachmentState.BlendEnable = vk.True
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	// Dynamic state
	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	// Vertex input. A zero stride means the shaders generate their vertices.
	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		attributes := make([]vk.VertexInputAttributeDescription, len(config.Attributes))
		for i, a := range config.Attributes {
			attributes[i] = vk.VertexInputAttributeDescription{
				Location: a.Location,
				Binding:  0,
				Format:   vk.Format(a.Format),
				Offset:   a.Offset,
			}
		}
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInputInfo.PVertexAttributeDescriptions = attributes
	}

	// Input assembly
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(config.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              layout,
		RenderPass:          renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pPipelines := make([]vk.Pipeline, 1)
	if err := context.locks.SafeCall(PipelineManagement, func() error {
		return resultError(vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pPipelines), "create graphics pipeline")
	}); err != nil {
		return metadata.NullHandle, err
	}
	if pPipelines[0] == nil {
		return metadata.NullHandle, errors.Mark(errors.New("graphics pipeline handle is nil"), core.ErrPipelineSetup)
	}

	b.logger.Debug("graphics pipeline created", "stride", config.Stride, "topology", config.Topology)
	return metadata.PipelineHandle(context.objects.pipelines.Acquire(pPipelines[0])), nil
}

func (b *Backend) DestroyPipeline(pipeline metadata.PipelineHandle) {
	context := b.context
	p, err := context.objects.pipelines.Release(uint64(pipeline))
	if err != nil {
		b.logger.Warn("destroy of unknown pipeline", "handle", pipeline)
		return
	}
	_ = context.locks.SafeCall(PipelineManagement, func() error {
		vk.DestroyPipeline(context.Device.LogicalDevice, p, context.Allocator)
		return nil
	})
}
