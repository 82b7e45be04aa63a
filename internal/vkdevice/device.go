// Package vkdevice holds the small pieces of device state the render
// orchestration core needs but does not own the lifecycle of: physical
// device enumeration, extension/feature discovery and swapchain/surface
// creation are external collaborators. What lives here is
// the data contract those collaborators hand to the core: cached
// alignments/descriptor sizes, mapped onto a Properties struct constructed
// once and passed by reference instead of mutable package globals, and
// resolved queue-family indices.
package vkdevice

import (
	"strings"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkerr"
)

// DescriptorSizes mirrors VkPhysicalDeviceDescriptorBufferPropertiesEXT,
// queried once by the collaborator that discovers the descriptor-buffer
// extension and cached here for internal/descbuf to consult.
type DescriptorSizes struct {
	UniformBuffer      uint64
	StorageBuffer      uint64
	SampledImage       uint64
	StorageImage       uint64
	Sampler            uint64
	CombinedImageSampler uint64
}

// Properties caches device alignments and descriptor sizes other packages
// need repeatedly, instead of leaving them as mutable package globals.
type Properties struct {
	UniformBufferAlignment uint64
	StorageBufferAlignment uint64
	Descriptors            DescriptorSizes
	// HeapBudget, indexed by memory heap index, is refreshed by the
	// collaborator that calls vkGetPhysicalDeviceMemoryProperties2 with
	// VkPhysicalDeviceMemoryBudgetPropertiesEXT chained in.
	HeapBudget []uint64
}

// FromPhysicalDeviceProperties extracts the alignments that must be
// queried once from VkPhysicalDeviceProperties.
func FromPhysicalDeviceProperties(limits vk.PhysicalDeviceLimits) Properties {
	limits.Deref()
	return Properties{
		UniformBufferAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		StorageBufferAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
	}
}

// QueueFamilies resolves the graphics/transfer/compute family indices used
// across the core. Per the original source's VkCommandQueue, a family may
// serve more than one role on devices with few queue families; NeedsTransfer
// / NeedsCompute report whether a dedicated family exists so staging and the
// indirect model manager can skip emitting no-op ownership barriers.
type QueueFamilies struct {
	Graphics uint32
	Transfer uint32
	Compute  uint32

	hasDedicatedTransfer bool
	hasDedicatedCompute  bool
}

// NewQueueFamilies records the chosen indices and whether compute/transfer
// are distinct from graphics.
func NewQueueFamilies(graphics, transfer, compute uint32) QueueFamilies {
	return QueueFamilies{
		Graphics:             graphics,
		Transfer:             transfer,
		Compute:              compute,
		hasDedicatedTransfer: transfer != graphics,
		hasDedicatedCompute:  compute != graphics,
	}
}

// NeedsTransfer reports whether a resource produced on the transfer family
// needs an ownership transfer before dstFamily may use it.
func (q QueueFamilies) NeedsTransfer(dstFamily uint32) bool {
	return dstFamily != q.Transfer
}

// NeedsCompute reports whether a resource produced on the compute family
// needs an ownership transfer before dstFamily may use it.
func (q QueueFamilies) NeedsCompute(dstFamily uint32) bool {
	return dstFamily != q.Compute
}

// RequiredFeature names one device-level feature or extension the engine
// needs, and whether its absence is a hard init failure or merely disables
// one engine variant (VK_EXT_mesh_shader only gates the MS engine, split
// between required and optional features the way a device feature manager
// typically would).
type RequiredFeature struct {
	Name     string
	Hard     bool
	Variant  string // non-empty when Hard is false: which engine variant this gates
}

// RequiredFeatures lists the device-level extensions and features the
// engine depends on.
func RequiredFeatures() []RequiredFeature {
	return []RequiredFeature{
		{Name: "VK_KHR_swapchain", Hard: true},
		{Name: "VK_EXT_descriptor_buffer", Hard: true},
		{Name: "VK_EXT_memory_budget", Hard: true},
		{Name: "VK_EXT_mesh_shader", Hard: false, Variant: "MS"},
		{Name: "shaderDrawParameters", Hard: true},
		{Name: "drawIndirectCount", Hard: true},
		{Name: "descriptorIndexing", Hard: true},
		{Name: "bufferDeviceAddress", Hard: true},
		{Name: "timelineSemaphore", Hard: true},
		{Name: "synchronization2", Hard: true},
		{Name: "samplerAnisotropy", Hard: true},
		{Name: "runtimeDescriptorArray", Hard: true},
	}
}

// Validate checks supported (built by the out-of-scope extension/feature
// discovery collaborator) against RequiredFeatures. A missing hard feature
// is UnsupportedDevice; a missing soft feature only disables its Variant,
// returned in disabledVariants. Without the mesh-shader extension present,
// Validate returns a nil error and lists "MS" in disabledVariants;
// engine.New does not consult this result, so it does not refuse to build
// the MS engine.
func Validate(supported map[string]bool) (disabledVariants []string, err error) {
	var missingHard []string
	for _, f := range RequiredFeatures() {
		if supported[f.Name] {
			continue
		}
		if f.Hard {
			missingHard = append(missingHard, f.Name)
			continue
		}
		disabledVariants = append(disabledVariants, f.Variant)
	}
	if len(missingHard) > 0 {
		return disabledVariants, vkerr.New(vkerr.KindUnsupportedDevice,
			"missing required features: %s", strings.Join(missingHard, ", "))
	}
	return disabledVariants, nil
}
