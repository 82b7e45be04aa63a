// Package renderpassmgr implements the Render-Pass Manager: a builder over
// dynamic rendering (vkCmdBeginRendering) that assembles attachment lists
// and the pre-pass image barriers a pass's attachments need, reading each
// Resource View's tracked pipeline stage so a barrier's srcStage reflects
// whatever last touched the resource instead of a conservative ALL_COMMANDS
// wait. Grounded on the render pass setup in
// vulkan-go-asche/renderpass.go, rebuilt around dynamic rendering instead of
// VkRenderPass/VkFramebuffer objects.
package renderpassmgr

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkresource"
)

// ColourAttachment configures one colour output of a dynamic rendering pass.
type ColourAttachment struct {
	View       *vkresource.View
	LoadOp     vk.AttachmentLoadOp
	StoreOp    vk.AttachmentStoreOp
	ClearValue vk.ClearValue
}

// DepthStencilAttachment configures the depth and/or stencil output.
type DepthStencilAttachment struct {
	View       *vkresource.View
	LoadOp     vk.AttachmentLoadOp
	StoreOp    vk.AttachmentStoreOp
	ClearValue vk.ClearValue
}

// Pass accumulates attachments and start barriers for one dynamic rendering
// pass, then records vkCmdBeginRendering/vkCmdEndRendering around the
// caller's draw calls.
type Pass struct {
	extent vk.Extent2D

	colour       []ColourAttachment
	depth        *DepthStencilAttachment
	stencil      *DepthStencilAttachment
	startBarriers []func(cmd vk.CommandBuffer)
}

// New creates a Pass targeting the given render extent.
func New(extent vk.Extent2D) *Pass {
	return &Pass{extent: extent}
}

// AddColourAttachment appends a colour output.
func (p *Pass) AddColourAttachment(a ColourAttachment) {
	p.colour = append(p.colour, a)
}

// SetDepthAttachment configures the depth output.
func (p *Pass) SetDepthAttachment(a DepthStencilAttachment) {
	p.depth = &a
}

// SetStencilAttachment configures the stencil output.
func (p *Pass) SetStencilAttachment(a DepthStencilAttachment) {
	p.stencil = &a
}

// AddColourStartBarrier queues an Undefined/whatever-it-was -> ColorAttachment
// transition for view, reading its tracked CurrentStage as the barrier's
// srcStage so it waits precisely on whichever prior stage last wrote it.
func (p *Pass) AddColourStartBarrier(view *vkresource.View) {
	p.startBarriers = append(p.startBarriers, func(cmd vk.CommandBuffer) {
		recordBarrier(cmd, view, vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
			vk.ImageAspectFlags(vk.ImageAspectColorBit))
	})
}

// AddDepthOrStencilStartBarrier queues the matching transition for a
// depth/stencil attachment.
func (p *Pass) AddDepthOrStencilStartBarrier(view *vkresource.View, aspect vk.ImageAspectFlags) {
	p.startBarriers = append(p.startBarriers, func(cmd vk.CommandBuffer) {
		recordBarrier(cmd, view, vk.ImageLayoutDepthStencilAttachmentOptimal,
			vk.AccessFlags(vk.AccessDepthStencilAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit)|vk.PipelineStageFlags(vk.PipelineStageLateFragmentTestsBit),
			aspect)
	})
}

func recordBarrier(cmd vk.CommandBuffer, view *vkresource.View, newLayout vk.ImageLayout, dstAccess vk.AccessFlags, dstStage vk.PipelineStageFlags, aspect vk.ImageAspectFlags) {
	vk.CmdPipelineBarrier(cmd, view.CurrentStage(), dstStage, 0, 0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       0,
			DstAccessMask:       dstAccess,
			OldLayout:           view.CurrentLayout(),
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               view.Image(),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
	view.SetCurrentLayout(newLayout)
	view.SetCurrentStage(dstStage)
}

// StartPass records every queued start barrier, then begins dynamic
// rendering over the accumulated attachments.
func (p *Pass) StartPass(cmd vk.CommandBuffer) {
	for _, b := range p.startBarriers {
		b(cmd)
	}
	p.startBarriers = nil

	colourAttachments := make([]vk.RenderingAttachmentInfo, len(p.colour))
	for i, c := range p.colour {
		colourAttachments[i] = vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   c.View.ImageView(),
			ImageLayout: vk.ImageLayoutColorAttachmentOptimal,
			LoadOp:      c.LoadOp,
			StoreOp:     c.StoreOp,
			ClearValue:  c.ClearValue,
		}
	}

	info := vk.RenderingInfo{
		SType:               vk.StructureTypeRenderingInfo,
		RenderArea:          vk.Rect2D{Offset: vk.Offset2D{}, Extent: p.extent},
		LayerCount:          1,
		ColorAttachmentCount: uint32(len(colourAttachments)),
		PColorAttachments:   colourAttachments,
	}
	if p.depth != nil {
		info.PDepthAttachment = &vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   p.depth.View.ImageView(),
			ImageLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:      p.depth.LoadOp,
			StoreOp:     p.depth.StoreOp,
			ClearValue:  p.depth.ClearValue,
		}
	}
	if p.stencil != nil {
		info.PStencilAttachment = &vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   p.stencil.View.ImageView(),
			ImageLayout: vk.ImageLayoutDepthStencilAttachmentOptimal,
			LoadOp:      p.stencil.LoadOp,
			StoreOp:     p.stencil.StoreOp,
			ClearValue:  p.stencil.ClearValue,
		}
	}
	vk.CmdBeginRendering(cmd, &info)
}

// EndPass ends dynamic rendering. The swapchain variant additionally
// transitions the colour attachment to PresentSrc so the present call does
// not need its own barrier.
func (p *Pass) EndPass(cmd vk.CommandBuffer) {
	vk.CmdEndRendering(cmd)
}

// EndPassForSwapchain ends dynamic rendering and transitions swapchainView
// to PresentSrcKHR.
func (p *Pass) EndPassForSwapchain(cmd vk.CommandBuffer, swapchainView *vkresource.View) {
	vk.CmdEndRendering(cmd)
	vk.CmdPipelineBarrier(cmd,
		swapchainView.CurrentStage(), vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit),
		0, 0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			DstAccessMask:       0,
			OldLayout:           swapchainView.CurrentLayout(),
			NewLayout:           vk.ImageLayoutPresentSrc,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               swapchainView.Image(),
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
	swapchainView.SetCurrentLayout(vk.ImageLayoutPresentSrc)
	swapchainView.SetCurrentStage(vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit))
}
