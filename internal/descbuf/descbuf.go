// Package descbuf implements the Descriptor Buffer: an ordered set of
// descriptor set layouts backed by one host-coherent storage buffer, written
// to directly with vkGetDescriptorEXT instead of through
// vkUpdateDescriptorSets. Grounded on CoreBuffer's "one persistently-mapped
// buffer, many logical regions" shape (vulkan-go-asche/buffers.go), with
// per-binding offsets and sizes sourced from vkdevice.Properties.Descriptors
// the way a feature manager caches device limits once at startup.
package descbuf

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkdevice"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
	"github.com/andewx/vkforge/internal/vkresource"
)

func unsafePointerOf(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

// BindingKind selects which vkGetDescriptorEXT union member a binding uses.
type BindingKind int

const (
	UniformBufferBinding BindingKind = iota
	StorageBufferBinding
	CombinedImageSamplerBinding
	SampledImageBinding
	StorageImageBinding
	SamplerBinding
)

// bindingLayout is one entry in the ordered layout this buffer mirrors.
type bindingLayout struct {
	binding    uint32
	kind       BindingKind
	count      uint32
	stageFlags vk.ShaderStageFlags
	offset     uint64 // byte offset into the backing buffer
	descSize   uint64 // per-element size
}

// Buffer owns a descriptor set layout, the host-coherent storage buffer
// mirroring it, and the bookkeeping to recreate the layout while preserving
// data for bindings present in both the old and new layout.
type Buffer struct {
	device    vk.Device
	allocator *vkmemory.Allocator
	props     *vkdevice.Properties

	layout   vk.DescriptorSetLayout
	bindings []bindingLayout
	size     uint64

	view *vkresource.View
}

// New creates an empty Descriptor Buffer with no bindings.
func New(device vk.Device, allocator *vkmemory.Allocator, props *vkdevice.Properties) *Buffer {
	return &Buffer{device: device, allocator: allocator, props: props}
}

func (b *Buffer) descriptorSize(kind BindingKind) uint64 {
	d := b.props.Descriptors
	switch kind {
	case UniformBufferBinding:
		return d.UniformBuffer
	case StorageBufferBinding:
		return d.StorageBuffer
	case CombinedImageSamplerBinding:
		return d.CombinedImageSampler
	case SampledImageBinding:
		return d.SampledImage
	case StorageImageBinding:
		return d.StorageImage
	case SamplerBinding:
		return d.Sampler
	default:
		return 0
	}
}

func vkDescriptorType(kind BindingKind) vk.DescriptorType {
	switch kind {
	case UniformBufferBinding:
		return vk.DescriptorTypeUniformBuffer
	case StorageBufferBinding:
		return vk.DescriptorTypeStorageBuffer
	case CombinedImageSamplerBinding:
		return vk.DescriptorTypeCombinedImageSampler
	case SampledImageBinding:
		return vk.DescriptorTypeSampledImage
	case StorageImageBinding:
		return vk.DescriptorTypeStorageImage
	case SamplerBinding:
		return vk.DescriptorTypeSampler
	default:
		return vk.DescriptorTypeUniformBuffer
	}
}

// AddBinding appends a new binding to the pending layout. It takes effect on
// the next RecreateSetLayout call.
func (b *Buffer) AddBinding(binding uint32, kind BindingKind, count uint32, stageFlags vk.ShaderStageFlags) {
	b.bindings = append(b.bindings, bindingLayout{binding: binding, kind: kind, count: count, stageFlags: stageFlags})
}

// RecreateSetLayout builds a new VkDescriptorSetLayout and backing buffer
// from the bindings added since the last call, recomputes every offset, and
// copies forward the bytes for any binding that existed in the old layout at
// the same binding number, so live descriptor writes are not lost across a
// layout change caused by adding new bindings mid-session.
func (b *Buffer) RecreateSetLayout() error {
	oldOffsets := make(map[uint32]uint64, len(b.bindings))
	for _, bl := range b.bindings {
		if bl.descSize == 0 {
			continue // added since the last layout: no old bytes to carry over
		}
		oldOffsets[bl.binding] = bl.offset
	}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(b.bindings))
	offset := uint64(0)
	for i := range b.bindings {
		bl := &b.bindings[i]
		bl.descSize = b.descriptorSize(bl.kind)
		bl.offset = offset
		offset += bl.descSize * uint64(bl.count)
		layoutBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         bl.binding,
			DescriptorType:  vkDescriptorType(bl.kind),
			DescriptorCount: bl.count,
			StageFlags:      bl.stageFlags,
		}
	}

	var newLayout vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(b.device, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateDescriptorBufferBitExt),
		BindingCount: uint32(len(layoutBindings)),
		PBindings:    layoutBindings,
	}, nil, &newLayout)
	if vkerr.IsResultError(ret) {
		return vkerr.FromResult(ret, "vkCreateDescriptorSetLayout")
	}

	newView, err := vkresource.NewBuffer(b.device, offset,
		vk.BufferUsageFlags(vk.BufferUsageResourceDescriptorBufferBitExt)|
			vk.BufferUsageFlags(vk.BufferUsageSamplerDescriptorBufferBitExt)|
			vk.BufferUsageFlags(vk.BufferUsageTransferDstBit)|
			vk.BufferUsageFlags(vk.BufferUsageShaderDeviceAddressBit))
	if err != nil {
		vk.DestroyDescriptorSetLayout(b.device, newLayout, nil)
		return err
	}
	if err := newView.BindToMemory(b.allocator, vkmemory.HostCoherent); err != nil {
		vk.DestroyDescriptorSetLayout(b.device, newLayout, nil)
		return err
	}

	if b.view != nil {
		oldView := b.view
		for i := range b.bindings {
			bl := &b.bindings[i]
			oldOffset, existed := oldOffsets[bl.binding]
			if !existed {
				continue
			}
			n := bl.descSize * uint64(bl.count)
			copy(newView.MappedRange(bl.offset, n), oldView.MappedRange(oldOffset, n))
		}
		vk.DestroyDescriptorSetLayout(b.device, b.layout, nil)
		oldView.CleanUp()
	}

	b.layout = newLayout
	b.view = newView
	b.size = offset
	return nil
}

// Layout returns the current VkDescriptorSetLayout.
func (b *Buffer) Layout() vk.DescriptorSetLayout { return b.layout }

// View exposes the backing buffer for binding into a descriptor buffer
// binding info / shader resource address computation.
func (b *Buffer) View() *vkresource.View { return b.view }

// Size returns the current backing buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) find(binding uint32) (*bindingLayout, error) {
	for i := range b.bindings {
		if b.bindings[i].binding == binding {
			return &b.bindings[i], nil
		}
	}
	return nil, vkerr.New(vkerr.KindInvalidHandle, "no such descriptor binding %d", binding)
}

// SetUniformBufferDescriptor writes the descriptor for buf at element index
// within binding.
func (b *Buffer) SetUniformBufferDescriptor(binding uint32, index uint32, buf *vkresource.View, offset, rangeBytes uint64) error {
	bl, err := b.find(binding)
	if err != nil {
		return err
	}
	return b.writeBufferDescriptor(bl, index, buf, offset, rangeBytes)
}

// SetStorageBufferDescriptor writes the descriptor for buf at element index
// within binding.
func (b *Buffer) SetStorageBufferDescriptor(binding uint32, index uint32, buf *vkresource.View, offset, rangeBytes uint64) error {
	bl, err := b.find(binding)
	if err != nil {
		return err
	}
	return b.writeBufferDescriptor(bl, index, buf, offset, rangeBytes)
}

func (b *Buffer) writeBufferDescriptor(bl *bindingLayout, index uint32, buf *vkresource.View, offset, rangeBytes uint64) error {
	addr := vk.GetBufferDeviceAddress(b.device, &vk.BufferDeviceAddressInfo{
		SType:  vk.StructureTypeBufferDeviceAddressInfo,
		Buffer: buf.Handle(),
	})
	addrInfo := &vk.DescriptorAddressInfoEXT{
		SType:   vk.StructureTypeDescriptorAddressInfoExt,
		Address: vk.DeviceAddress(addr) + vk.DeviceAddress(offset),
		Range:   vk.DeviceSize(rangeBytes),
	}
	data := vk.DescriptorDataEXT{}
	if bl.kind == UniformBufferBinding {
		data.PUniformBuffer = addrInfo
	} else {
		data.PStorageBuffer = addrInfo
	}
	dst := b.view.MappedRange(bl.offset+uint64(index)*bl.descSize, bl.descSize)
	vk.GetDescriptorEXT(b.device, &vk.DescriptorGetInfoEXT{
		SType: vk.StructureTypeDescriptorGetInfoExt,
		Type:  vkDescriptorType(bl.kind),
		Data:  data,
	}, uintptr(bl.descSize), unsafePointerOf(dst))
	return nil
}

// SetCombinedImageDescriptor writes a combined image+sampler descriptor.
func (b *Buffer) SetCombinedImageDescriptor(binding uint32, index uint32, imageView vk.ImageView, sampler vk.Sampler, layout vk.ImageLayout) error {
	bl, err := b.find(binding)
	if err != nil {
		return err
	}
	imageInfo := &vk.DescriptorImageInfo{Sampler: sampler, ImageView: imageView, ImageLayout: layout}
	dst := b.view.MappedRange(bl.offset+uint64(index)*bl.descSize, bl.descSize)
	vk.GetDescriptorEXT(b.device, &vk.DescriptorGetInfoEXT{
		SType: vk.StructureTypeDescriptorGetInfoExt,
		Type:  vk.DescriptorTypeCombinedImageSampler,
		Data:  vk.DescriptorDataEXT{PCombinedImageSampler: imageInfo},
	}, uintptr(bl.descSize), unsafePointerOf(dst))
	return nil
}

// SetSampledImageDescriptor writes a sampled-image-only descriptor.
func (b *Buffer) SetSampledImageDescriptor(binding uint32, index uint32, imageView vk.ImageView, layout vk.ImageLayout) error {
	bl, err := b.find(binding)
	if err != nil {
		return err
	}
	imageInfo := &vk.DescriptorImageInfo{ImageView: imageView, ImageLayout: layout}
	dst := b.view.MappedRange(bl.offset+uint64(index)*bl.descSize, bl.descSize)
	vk.GetDescriptorEXT(b.device, &vk.DescriptorGetInfoEXT{
		SType: vk.StructureTypeDescriptorGetInfoExt,
		Type:  vk.DescriptorTypeSampledImage,
		Data:  vk.DescriptorDataEXT{PSampledImage: imageInfo},
	}, uintptr(bl.descSize), unsafePointerOf(dst))
	return nil
}

// SetSamplerDescriptor writes a sampler-only descriptor.
func (b *Buffer) SetSamplerDescriptor(binding uint32, index uint32, sampler vk.Sampler) error {
	bl, err := b.find(binding)
	if err != nil {
		return err
	}
	dst := b.view.MappedRange(bl.offset+uint64(index)*bl.descSize, bl.descSize)
	vk.GetDescriptorEXT(b.device, &vk.DescriptorGetInfoEXT{
		SType: vk.StructureTypeDescriptorGetInfoExt,
		Type:  vk.DescriptorTypeSampler,
		Data:  vk.DescriptorDataEXT{PSampler: &sampler},
	}, uintptr(bl.descSize), unsafePointerOf(dst))
	return nil
}

// BindingInfo returns the VkDescriptorBufferBindingInfoEXT for
// vkCmdBindDescriptorBuffersEXT.
func (b *Buffer) BindingInfo() vk.DescriptorBufferBindingInfoEXT {
	addr := vk.GetBufferDeviceAddress(b.device, &vk.BufferDeviceAddressInfo{
		SType:  vk.StructureTypeBufferDeviceAddressInfo,
		Buffer: b.view.Handle(),
	})
	return vk.DescriptorBufferBindingInfoEXT{
		SType:   vk.StructureTypeDescriptorBufferBindingInfoExt,
		Address: vk.DeviceAddress(addr),
		Usage: vk.BufferUsageFlags(vk.BufferUsageResourceDescriptorBufferBitExt) |
			vk.BufferUsageFlags(vk.BufferUsageSamplerDescriptorBufferBitExt),
	}
}

// BindSetOffset returns this buffer's offset within the bound descriptor
// buffer array (always 0: the core uses one descriptor buffer per set),
// kept as a method so the Render Engine reads it symmetrically with the
// other per-set accessors.
func (b *Buffer) BindSetOffset() uint64 { return 0 }

// CleanUp destroys the layout and backing buffer.
func (b *Buffer) CleanUp() {
	if b.view != nil {
		b.view.CleanUp()
	}
	if b.layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(b.device, b.layout, nil)
	}
}
