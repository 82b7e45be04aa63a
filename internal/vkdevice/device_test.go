package vkdevice

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andewx/vkforge/internal/vkerr"
)

func allHard(extra map[string]bool) map[string]bool {
	supported := map[string]bool{}
	for _, f := range RequiredFeatures() {
		if f.Hard {
			supported[f.Name] = true
		}
	}
	for k, v := range extra {
		supported[k] = v
	}
	return supported
}

func TestValidateSucceedsWithoutOptionalMeshShader(t *testing.T) {
	disabled, err := Validate(allHard(nil))
	assert.NoError(t, err)
	assert.Equal(t, []string{"MS"}, disabled)
}

func TestValidateFailsWhenHardFeatureMissing(t *testing.T) {
	supported := allHard(nil)
	delete(supported, "VK_KHR_swapchain")

	_, err := Validate(supported)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, vkerr.ErrUnsupportedDevice))
}

func TestValidateEnablesMeshShaderVariantWhenPresent(t *testing.T) {
	supported := allHard(map[string]bool{"VK_EXT_mesh_shader": true})
	disabled, err := Validate(supported)
	assert.NoError(t, err)
	assert.Empty(t, disabled)
}

func TestQueueFamiliesNeedsTransfer(t *testing.T) {
	shared := NewQueueFamilies(0, 0, 0)
	assert.False(t, shared.NeedsTransfer(0))

	dedicated := NewQueueFamilies(0, 1, 2)
	assert.True(t, dedicated.NeedsTransfer(0))
	assert.False(t, dedicated.NeedsTransfer(1))
	assert.True(t, dedicated.NeedsCompute(0))
	assert.False(t, dedicated.NeedsCompute(2))
}
