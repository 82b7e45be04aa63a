// Package vkresource implements Resource Views: thin owners
// of a VkBuffer or VkImage plus the memory sub-allocation backing it,
// grounded on CoreBuffer/CoreImage's value types
// (vulkan-go-asche/buffers.go, image.go) generalized to cover bind, copy
// and queue-ownership-transfer operations.
package vkresource

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
)

// Kind distinguishes a buffer-backed view from an image-backed one.
type Kind int

const (
	BufferKind Kind = iota
	ImageKind
)

// View owns exactly one Vulkan buffer or image handle and a memory
// sub-allocation. It holds a non-owning reference to the Allocator it was
// carved from and returns its range to that Allocator in CleanUp.
type View struct {
	device    vk.Device
	allocator *vkmemory.Allocator
	kind      Kind

	buffer vk.Buffer
	image  vk.Image

	imageView vk.ImageView
	format    vk.Format

	alloc vkmemory.Allocation
	size  uint64

	currentStage  vk.PipelineStageFlags
	currentLayout vk.ImageLayout // images only
	firstCopyDone bool
}

// NewBuffer creates an unbound VkBuffer of size bytes with usageFlags,
// ready for BindToMemory.
func NewBuffer(device vk.Device, size uint64, usageFlags vk.BufferUsageFlags) (*View, error) {
	var buf vk.Buffer
	ret := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usageFlags,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if vkerr.IsResultError(ret) {
		return nil, vkerr.FromResult(ret, "vkCreateBuffer")
	}
	return &View{device: device, kind: BufferKind, buffer: buf, size: size, currentStage: vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)}, nil
}

// NewImage2D creates an unbound 2D VkImage of the given extent and format.
func NewImage2D(device vk.Device, width, height uint32, format vk.Format, usageFlags vk.ImageUsageFlags) (*View, error) {
	var img vk.Image
	ret := vk.CreateImage(device, &vk.ImageCreateInfo{
		SType:       vk.StructureTypeImageCreateInfo,
		ImageType:   vk.ImageType2d,
		Format:      format,
		Extent:      vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Samples:     vk.SampleCountFlagBits(vk.SampleCount1Bit),
		Tiling:      vk.ImageTilingOptimal,
		Usage:       usageFlags,
		SharingMode: vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if vkerr.IsResultError(ret) {
		return nil, vkerr.FromResult(ret, "vkCreateImage")
	}
	return &View{
		device:        device,
		kind:          ImageKind,
		image:         img,
		format:        format,
		currentLayout: vk.ImageLayoutUndefined,
		currentStage:  vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
	}, nil
}

func (v *View) memoryRequirements() vk.MemoryRequirements {
	var reqs vk.MemoryRequirements
	if v.kind == BufferKind {
		vk.GetBufferMemoryRequirements(v.device, v.buffer, &reqs)
	} else {
		vk.GetImageMemoryRequirements(v.device, v.image, &reqs)
	}
	reqs.Deref()
	return reqs
}

// BindToMemory sub-allocates from allocator and binds the handle via
// vkBindBufferMemory/vkBindImageMemory at the allocator-chosen offset.
func (v *View) BindToMemory(allocator *vkmemory.Allocator, t vkmemory.Type) error {
	reqs := v.memoryRequirements()
	alloc, err := allocator.Allocate(reqs, t)
	if err != nil {
		return err
	}
	var ret vk.Result
	if v.kind == BufferKind {
		ret = vk.BindBufferMemory(v.device, v.buffer, alloc.Memory, vk.DeviceSize(alloc.Offset))
	} else {
		ret = vk.BindImageMemory(v.device, v.image, alloc.Memory, vk.DeviceSize(alloc.Offset))
	}
	if vkerr.IsResultError(ret) {
		allocator.Deallocate(alloc)
		return vkerr.FromResult(ret, "vkBind{Buffer,Image}Memory")
	}
	v.allocator = allocator
	v.alloc = alloc
	if v.size == 0 {
		v.size = reqs.Size
	}
	return nil
}

// CleanUp destroys the Vulkan handle and returns the memory range to the
// allocator. Safe to call once; the View must not be used afterward.
func (v *View) CleanUp() {
	if v.kind == BufferKind {
		if v.buffer != vk.NullBuffer {
			vk.DestroyBuffer(v.device, v.buffer, nil)
			v.buffer = vk.NullBuffer
		}
	} else {
		if v.imageView != vk.NullImageView {
			vk.DestroyImageView(v.device, v.imageView, nil)
			v.imageView = vk.NullImageView
		}
		if v.image != vk.NullImage {
			vk.DestroyImage(v.device, v.image, nil)
			v.image = vk.NullImage
		}
	}
	if v.allocator != nil {
		v.allocator.Deallocate(v.alloc)
		v.allocator = nil
	}
}

// CreateImageView makes the VkImageView used for sampling/attachments.
func (v *View) CreateImageView(aspect vk.ImageAspectFlags) error {
	var iv vk.ImageView
	ret := vk.CreateImageView(v.device, &vk.ImageViewCreateInfo{
		SType:      vk.StructureTypeImageViewCreateInfo,
		Image:      v.image,
		ViewType:   vk.ImageViewType2d,
		Format:     v.format,
		Components: vk.ComponentMapping{R: vk.ComponentSwizzleIdentity, G: vk.ComponentSwizzleIdentity, B: vk.ComponentSwizzleIdentity, A: vk.ComponentSwizzleIdentity},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     aspect,
			LevelCount:     1,
			LayerCount:     1,
		},
	}, nil, &iv)
	if vkerr.IsResultError(ret) {
		return vkerr.FromResult(ret, "vkCreateImageView")
	}
	v.imageView = iv
	return nil
}

// Handle returns the underlying VkBuffer handle; callers must check Kind.
func (v *View) Handle() vk.Buffer { return v.buffer }

// Image returns the underlying VkImage handle; callers must check Kind.
func (v *View) Image() vk.Image { return v.image }

// ImageView returns the sampled/attachment view, valid after CreateImageView.
func (v *View) ImageView() vk.ImageView { return v.imageView }

// Size returns the view's byte size (buffers) or backing allocation size.
func (v *View) Size() uint64 { return v.size }

// MappedRange returns the host-visible slice covering [offset, offset+size)
// of the view's backing allocation. Panics if the view was bound to
// device-local memory; callers are expected to only call this on buffers
// bound HostCoherent.
func (v *View) MappedRange(offset, size uint64) []byte {
	return v.alloc.MappedBase[offset : offset+size]
}

// Kind reports whether this view wraps a buffer or an image.
func (v *View) Kind() Kind { return v.kind }

// CurrentStage reports the pipeline stage of the most recent consumer, used
// by the Render-Pass Manager to fill in a start barrier's srcStage.
func (v *View) CurrentStage() vk.PipelineStageFlags { return v.currentStage }

// SetCurrentStage records the stage the next consumer should wait on.
func (v *View) SetCurrentStage(stage vk.PipelineStageFlags) { v.currentStage = stage }

// CurrentLayout reports the image's tracked layout; meaningless for buffers.
func (v *View) CurrentLayout() vk.ImageLayout { return v.currentLayout }

// SetCurrentLayout records a layout transition the caller already recorded.
func (v *View) SetCurrentLayout(layout vk.ImageLayout) { v.currentLayout = layout }

// RecordCopy records a copy from src (the staging temp buffer) into v. For
// images the first copy also performs the required Undefined->TransferDst
// layout transition.
func (v *View) RecordCopy(cmd vk.CommandBuffer, src *View, opts CopyOptions) {
	if v.kind == BufferKind {
		vk.CmdCopyBuffer(cmd, src.buffer, v.buffer, 1, []vk.BufferCopy{{
			SrcOffset: vk.DeviceSize(opts.SrcOffset),
			DstOffset: vk.DeviceSize(opts.DstOffset),
			Size:      vk.DeviceSize(opts.Size),
		}})
		return
	}

	if !v.firstCopyDone {
		recordImageBarrier(cmd, v.image, vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
			0, vk.AccessFlags(vk.AccessTransferWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit),
			vk.QueueFamilyIgnored, vk.QueueFamilyIgnored, opts.AspectMask)
		v.currentLayout = vk.ImageLayoutTransferDstOptimal
		v.firstCopyDone = true
	}

	vk.CmdCopyBufferToImage(cmd, src.buffer, v.image, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
		BufferOffset: vk.DeviceSize(opts.SrcOffset),
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: opts.AspectMask,
			MipLevel:   opts.MipLevel,
			LayerCount: 1,
		},
		ImageOffset: opts.ImageOffset,
		ImageExtent: opts.ImageExtent,
	}})
}

// CopyOptions parameterizes RecordCopy for both buffer and image views.
type CopyOptions struct {
	SrcOffset, DstOffset, Size uint64
	AspectMask                 vk.ImageAspectFlags
	MipLevel                   uint32
	ImageOffset                vk.Offset3D
	ImageExtent                vk.Extent3D
}

// ReleaseOwnership emits the release half of a queue-family ownership
// transfer on cmd, recorded on the source family's command buffer.
func (v *View) ReleaseOwnership(cmd vk.CommandBuffer, srcFamily, dstFamily uint32, srcAccess vk.AccessFlags, srcStage vk.PipelineStageFlags, aspect vk.ImageAspectFlags) {
	if v.kind == BufferKind {
		recordBufferBarrier(cmd, v.buffer, srcAccess, 0, srcStage, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), srcFamily, dstFamily)
		return
	}
	recordImageBarrier(cmd, v.image, v.currentLayout, v.currentLayout, srcAccess, 0, srcStage, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), srcFamily, dstFamily, aspect)
}

// AcquireOwnership emits the acquire half, recorded on the destination
// family's command buffer, and updates the tracked stage/layout so later
// barriers chain correctly.
func (v *View) AcquireOwnership(cmd vk.CommandBuffer, srcFamily, dstFamily uint32, dstAccess vk.AccessFlags, dstStage vk.PipelineStageFlags, newLayout vk.ImageLayout, aspect vk.ImageAspectFlags) {
	if v.kind == BufferKind {
		recordBufferBarrier(cmd, v.buffer, 0, dstAccess, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), dstStage, srcFamily, dstFamily)
		v.currentStage = dstStage
		return
	}
	recordImageBarrier(cmd, v.image, v.currentLayout, newLayout, 0, dstAccess, vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), dstStage, srcFamily, dstFamily, aspect)
	v.currentLayout = newLayout
	v.currentStage = dstStage
}

func recordBufferBarrier(cmd vk.CommandBuffer, buf vk.Buffer, srcAccess, dstAccess vk.AccessFlags, srcStage, dstStage vk.PipelineStageFlags, srcFamily, dstFamily uint32) {
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil,
		1, []vk.BufferMemoryBarrier{{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			SrcQueueFamilyIndex: srcFamily,
			DstQueueFamilyIndex: dstFamily,
			Buffer:              buf,
			Offset:              0,
			Size:                vk.WholeSize,
		}}, 0, nil)
}

func recordImageBarrier(cmd vk.CommandBuffer, img vk.Image, oldLayout, newLayout vk.ImageLayout, srcAccess, dstAccess vk.AccessFlags, srcStage, dstStage vk.PipelineStageFlags, srcFamily, dstFamily uint32, aspect vk.ImageAspectFlags) {
	if aspect == 0 {
		aspect = vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	vk.CmdPipelineBarrier(cmd, srcStage, dstStage, 0, 0, nil, 0, nil,
		1, []vk.ImageMemoryBarrier{{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       srcAccess,
			DstAccessMask:       dstAccess,
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: srcFamily,
			DstQueueFamilyIndex: dstFamily,
			Image:               img,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: aspect,
				LevelCount: 1,
				LayerCount: 1,
			},
		}})
}
