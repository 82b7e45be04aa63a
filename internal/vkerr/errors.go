// Package vkerr implements the error taxonomy of the render-orchestration
// core. It keeps the isError/newError shape of vulkan-go-asche/errors.go
// around vk.Result and layers a small set of error kinds on top as sentinel
// values so call sites use errors.Is/errors.As the stdlib way.
package vkerr

import (
	"errors"
	"fmt"

	vk "github.com/vulkan-go/vulkan"
)

// Kind enumerates the renderer's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindOutOfMemory
	KindUnsupportedDevice
	KindSwapchainOutOfDate
	KindDeviceLost
	KindInvalidHandle
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindUnsupportedDevice:
		return "UnsupportedDevice"
	case KindSwapchainOutOfDate:
		return "SwapchainOutOfDate"
	case KindDeviceLost:
		return "DeviceLost"
	case KindInvalidHandle:
		return "InvalidHandle"
	default:
		return "Unknown"
	}
}

// Sentinel values for errors.Is comparisons. Any RendererError built by New
// or Wrap matches the sentinel of the same Kind through RendererError.Is.
var (
	ErrOutOfMemory        = &RendererError{kind: KindOutOfMemory, msg: "out of memory"}
	ErrUnsupportedDevice  = &RendererError{kind: KindUnsupportedDevice, msg: "unsupported device"}
	ErrSwapchainOutOfDate = &RendererError{kind: KindSwapchainOutOfDate, msg: "swapchain out of date"}
	ErrDeviceLost         = &RendererError{kind: KindDeviceLost, msg: "device lost"}
	ErrInvalidHandle      = &RendererError{kind: KindInvalidHandle, msg: "invalid handle"}
)

// RendererError is the concrete error type carrying a Kind.
type RendererError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *RendererError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *RendererError) Unwrap() error { return e.cause }

// Is lets errors.Is(err, vkerr.ErrOutOfMemory) match any RendererError of the
// same Kind, regardless of attached message/cause.
func (e *RendererError) Is(target error) bool {
	t, ok := target.(*RendererError)
	if !ok {
		return false
	}
	return e.kind == t.kind
}

// New builds a RendererError of the given kind with a formatted context
// message and no cause; Wrap attaches a cause.
func New(kind Kind, format string, args ...any) *RendererError {
	return &RendererError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/context to cause while preserving errors.Is/As.
func Wrap(kind Kind, cause error, format string, args ...any) *RendererError {
	return &RendererError{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf extracts the Kind from err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var re *RendererError
	if errors.As(err, &re) {
		return re.kind
	}
	return KindUnknown
}

// IsResultError reports whether ret signals a Vulkan failure, mirroring the
// teacher's isError(ret vk.Result).
func IsResultError(ret vk.Result) bool {
	return ret != vk.Success
}

// FromResult converts a failing vk.Result into an error, matching the
// teacher's newError but returning nil on vk.Success like the stdlib
// convention instead of a non-nil always-present error value.
func FromResult(ret vk.Result, context string) error {
	if ret == vk.Success {
		return nil
	}
	switch ret {
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory:
		return Wrap(KindOutOfMemory, fmt.Errorf("vulkan result %d", ret), "%s", context)
	case vk.ErrorDeviceLost:
		return Wrap(KindDeviceLost, fmt.Errorf("vulkan result %d", ret), "%s", context)
	case vk.ErrorOutOfDate:
		return Wrap(KindSwapchainOutOfDate, fmt.Errorf("vulkan result %d", ret), "%s", context)
	default:
		return fmt.Errorf("%s: vulkan result %d", context, ret)
	}
}
