package vkerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestRendererErrorIsMatchesByKind(t *testing.T) {
	err := New(KindOutOfMemory, "pool exhausted")
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.False(t, errors.Is(err, ErrDeviceLost))
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("vkAllocateMemory failed")
	wrapped := Wrap(KindOutOfMemory, cause, "allocating block")

	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrOutOfMemory)
}

func TestKindOfUnknownForPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("not ours")))
	assert.Equal(t, KindDeviceLost, KindOf(New(KindDeviceLost, "lost")))
}

func TestFromResultMapsKnownCodes(t *testing.T) {
	cases := []struct {
		ret  vk.Result
		kind Kind
	}{
		{vk.ErrorOutOfHostMemory, KindOutOfMemory},
		{vk.ErrorOutOfDeviceMemory, KindOutOfMemory},
		{vk.ErrorDeviceLost, KindDeviceLost},
		{vk.ErrorOutOfDate, KindSwapchainOutOfDate},
	}
	for _, c := range cases {
		err := FromResult(c.ret, "vkSomething")
		assert.Equal(t, c.kind, KindOf(err), "result %v", c.ret)
	}
}

func TestIsResultErrorTreatsSuccessAsNotError(t *testing.T) {
	assert.False(t, IsResultError(vk.Success))
	assert.True(t, IsResultError(vk.ErrorDeviceLost))
}
