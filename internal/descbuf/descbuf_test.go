package descbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkdevice"
)

func testProps() *vkdevice.Properties {
	return &vkdevice.Properties{
		Descriptors: vkdevice.DescriptorSizes{
			UniformBuffer:        16,
			StorageBuffer:        16,
			SampledImage:         32,
			StorageImage:         32,
			Sampler:              24,
			CombinedImageSampler: 48,
		},
	}
}

func TestDescriptorSizeMatchesBindingKind(t *testing.T) {
	var dev vk.Device
	b := New(dev, nil, testProps())

	assert.Equal(t, uint64(16), b.descriptorSize(UniformBufferBinding))
	assert.Equal(t, uint64(16), b.descriptorSize(StorageBufferBinding))
	assert.Equal(t, uint64(48), b.descriptorSize(CombinedImageSamplerBinding))
	assert.Equal(t, uint64(32), b.descriptorSize(SampledImageBinding))
	assert.Equal(t, uint64(32), b.descriptorSize(StorageImageBinding))
	assert.Equal(t, uint64(24), b.descriptorSize(SamplerBinding))
}

func TestVkDescriptorTypeMapping(t *testing.T) {
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, vkDescriptorType(UniformBufferBinding))
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, vkDescriptorType(StorageBufferBinding))
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, vkDescriptorType(CombinedImageSamplerBinding))
	assert.Equal(t, vk.DescriptorTypeSampledImage, vkDescriptorType(SampledImageBinding))
	assert.Equal(t, vk.DescriptorTypeStorageImage, vkDescriptorType(StorageImageBinding))
	assert.Equal(t, vk.DescriptorTypeSampler, vkDescriptorType(SamplerBinding))
}

func TestFindReturnsErrorForUnknownBinding(t *testing.T) {
	var dev vk.Device
	b := New(dev, nil, testProps())
	b.AddBinding(3, UniformBufferBinding, 1, vk.ShaderStageFlags(vk.ShaderStageVertexBit))

	bl, err := b.find(3)
	assert.NoError(t, err)
	assert.Equal(t, UniformBufferBinding, bl.kind)

	_, err = b.find(99)
	assert.Error(t, err)
}

func TestUnsafePointerOfEmptySliceIsNil(t *testing.T) {
	assert.Nil(t, unsafePointerOf(nil))
	assert.NotNil(t, unsafePointerOf([]byte{1, 2, 3}))
}

func TestBindSetOffsetIsAlwaysZero(t *testing.T) {
	var dev vk.Device
	b := New(dev, nil, testProps())
	assert.Equal(t, uint64(0), b.BindSetOffset())
}
