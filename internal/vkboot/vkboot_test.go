package vkboot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestFilterSupportedKeepsOnlyAvailableNames(t *testing.T) {
	got := filterSupported([]string{"A", "B", "C"}, []string{"B", "C", "D"})
	assert.Equal(t, []string{"B", "C"}, got)
}

func TestFilterSupportedEmptyWantedReturnsNil(t *testing.T) {
	assert.Nil(t, filterSupported(nil, []string{"A"}))
}

func familyWithFlags(flags vk.QueueFlagBits) vk.QueueFamilyProperties {
	return vk.QueueFamilyProperties{QueueFlags: vk.QueueFlags(flags)}
}

func TestSelectQueueFamiliesPrefersDedicatedTransferAndCompute(t *testing.T) {
	dev := PhysicalDevice{
		Families: []vk.QueueFamilyProperties{
			familyWithFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit),
			familyWithFlags(vk.QueueTransferBit),
			familyWithFlags(vk.QueueComputeBit),
		},
	}

	families, err := SelectQueueFamilies(dev)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), families.Graphics)
	assert.Equal(t, uint32(1), families.Transfer)
	assert.Equal(t, uint32(2), families.Compute)
}

func TestSelectQueueFamiliesFallsBackToGraphicsFamily(t *testing.T) {
	dev := PhysicalDevice{
		Families: []vk.QueueFamilyProperties{
			familyWithFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit),
		},
	}

	families, err := SelectQueueFamilies(dev)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0), families.Graphics)
	assert.Equal(t, uint32(0), families.Transfer)
	assert.Equal(t, uint32(0), families.Compute)
	assert.False(t, families.NeedsTransfer(0))
	assert.False(t, families.NeedsCompute(0))
}

func TestSelectQueueFamiliesRequiresGraphics(t *testing.T) {
	dev := PhysicalDevice{
		Families: []vk.QueueFamilyProperties{
			familyWithFlags(vk.QueueTransferBit),
		},
	}

	_, err := SelectQueueFamilies(dev)
	assert.Error(t, err)
}

func TestSupportsRequiredChecksHardExtensionNames(t *testing.T) {
	full := PhysicalDevice{Extensions: []string{
		"VK_KHR_swapchain", "VK_EXT_descriptor_buffer", "VK_EXT_memory_budget",
	}}
	assert.True(t, supportsRequired(full))

	partial := PhysicalDevice{Extensions: []string{"VK_KHR_swapchain"}}
	assert.False(t, supportsRequired(partial))
}

func TestPickPhysicalDeviceReturnsFirstSuitable(t *testing.T) {
	unsuitable := PhysicalDevice{Extensions: nil}
	suitable := PhysicalDevice{
		Extensions: []string{"VK_KHR_swapchain", "VK_EXT_descriptor_buffer", "VK_EXT_memory_budget"},
	}

	got, err := PickPhysicalDevice([]PhysicalDevice{unsuitable, suitable})
	assert.NoError(t, err)
	assert.Equal(t, suitable, got)
}

func TestPickPhysicalDeviceErrorsWhenNoneSuitable(t *testing.T) {
	_, err := PickPhysicalDevice([]PhysicalDevice{{Extensions: nil}})
	assert.Error(t, err)
}
