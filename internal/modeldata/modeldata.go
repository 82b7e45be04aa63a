// Package modeldata implements the per-model and per-material uniform data
// buffers: host-coherent storage buffers ring-buffered across frames in
// flight, growable in place, with a slot free list so removed entries don't
// shift every other entry's index. Grounded on
// CoreUniformBuffer (vulkan-go-asche/buffers.go), which already frame-rings
// a mapped buffer; generalized here with ds.ReusableVector-backed slots and
// a growth policy instead of a single fixed-capacity array.
package modeldata

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/ds"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
	"github.com/andewx/vkforge/internal/vkresource"
)

// growthFactor and growthExtra grow geometrically rather than by exactly
// what's needed, matching CoreBuffer's resize helper.
const (
	growthFactor = 1.5
	growthExtra  = 16
)

// Ring is a per-frame-in-flight set of identical host-coherent buffers, each
// holding the same slot layout so writes this frame never race reads from a
// prior frame still in flight.
type Ring struct {
	device     vk.Device
	allocator  *vkmemory.Allocator
	usage      vk.BufferUsageFlags
	stride     uint64
	frameCount int

	views    []*vkresource.View
	capacity uint32 // slot capacity, same across all frames' views

	slots              *ds.ReusableVector[struct{}]
	needsDescriptorSync bool
}

// NewRing allocates frameCount identical buffers, each sized for
// initialCapacity slots of stride bytes.
func NewRing(device vk.Device, allocator *vkmemory.Allocator, usage vk.BufferUsageFlags, stride uint64, frameCount int, initialCapacity uint32) (*Ring, error) {
	if initialCapacity == 0 {
		initialCapacity = 1
	}
	r := &Ring{
		device:     device,
		allocator:  allocator,
		usage:      usage | vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		stride:     stride,
		frameCount: frameCount,
		capacity:   initialCapacity,
		slots:      ds.NewReusableVector[struct{}](),
	}
	if err := r.allocateViews(initialCapacity); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Ring) allocateViews(capacity uint32) error {
	views := make([]*vkresource.View, r.frameCount)
	for i := 0; i < r.frameCount; i++ {
		v, err := vkresource.NewBuffer(r.device, uint64(capacity)*r.stride, r.usage)
		if err != nil {
			for _, created := range views[:i] {
				if created != nil {
					created.CleanUp()
				}
			}
			return err
		}
		if err := v.BindToMemory(r.allocator, vkmemory.HostCoherent); err != nil {
			return err
		}
		views[i] = v
	}
	r.views = views
	return nil
}

// Add reserves a slot and returns its stable index.
func (r *Ring) Add() uint32 {
	idx := r.slots.Add(struct{}{})
	r.ensureCapacity(idx + 1)
	return idx
}

// AddMultiple reserves count contiguous slot intents (each slot individually
// tracked in the free list; the indices are not guaranteed contiguous once
// prior removals leave gaps, matching ds.ReusableVector's reuse-oldest-first
// policy).
func (r *Ring) AddMultiple(count int) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = r.Add()
	}
	return out
}

// Remove frees idx's slot for reuse.
func (r *Ring) Remove(idx uint32) {
	r.slots.Remove(idx)
}

func (r *Ring) ensureCapacity(need uint32) {
	if need <= r.capacity {
		return
	}
	newCap := uint32(float64(r.capacity)*growthFactor) + growthExtra
	if newCap < need {
		newCap = need
	}
	oldViews := r.views
	oldCap := r.capacity
	if err := r.allocateViews(newCap); err != nil {
		// leave old views in place; the next Add that needs more capacity
		// retries the growth
		r.views = oldViews
		return
	}
	for i, v := range r.views {
		copy(v.MappedRange(0, uint64(oldCap)*r.stride), oldViews[i].MappedRange(0, uint64(oldCap)*r.stride))
		oldViews[i].CleanUp()
	}
	r.capacity = newCap
	r.needsDescriptorSync = true
}

// NeedsDescriptorSync reports whether growth since the last call requires
// the owner to rewrite this buffer's descriptor across every frame.
func (r *Ring) NeedsDescriptorSync() bool {
	v := r.needsDescriptorSync
	r.needsDescriptorSync = false
	return v
}

// Update writes data into slot idx's region of frameIndex's buffer.
func (r *Ring) Update(frameIndex int, idx uint32, data []byte) {
	dst := r.views[frameIndex].MappedRange(uint64(idx)*r.stride, uint64(len(data)))
	copy(dst, data)
}

// View returns frameIndex's backing buffer for descriptor binding.
func (r *Ring) View(frameIndex int) *vkresource.View { return r.views[frameIndex] }

// Capacity returns the current per-frame slot capacity.
func (r *Ring) Capacity() uint32 { return r.capacity }

// Stride returns the per-slot byte size.
func (r *Ring) Stride() uint64 { return r.stride }

// CleanUp destroys every frame's buffer.
func (r *Ring) CleanUp() {
	for _, v := range r.views {
		v.CleanUp()
	}
}

// ModelBuffers is the per-frame ring of per-model uniform data, plus a
// fragment-only mirrored slot set for the vertex/fragment split: vertex-stage
// data updates every frame, fragment-only data (material index, flags) is
// written once and mirrored across frames lazily.
type ModelBuffers struct {
	*Ring
	fragmentMirror *Ring
}

// NewModelBuffers builds the vertex-stage ring and, if fragmentStride > 0,
// a second ring for fragment-only per-model data.
func NewModelBuffers(device vk.Device, allocator *vkmemory.Allocator, vertexStride, fragmentStride uint64, frameCount int, initialCapacity uint32) (*ModelBuffers, error) {
	vertexUsage := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	ring, err := NewRing(device, allocator, vertexUsage, vertexStride, frameCount, initialCapacity)
	if err != nil {
		return nil, err
	}
	mb := &ModelBuffers{Ring: ring}
	if fragmentStride > 0 {
		fr, err := NewRing(device, allocator, vertexUsage, fragmentStride, frameCount, initialCapacity)
		if err != nil {
			ring.CleanUp()
			return nil, err
		}
		mb.fragmentMirror = fr
	}
	return mb, nil
}

// UpdateFragmentData mirrors fragment-only per-model data across every
// frame's buffer in one call, since it changes far less often than the
// per-frame vertex-stage data.
func (mb *ModelBuffers) UpdateFragmentData(idx uint32, data []byte) error {
	if mb.fragmentMirror == nil {
		return vkerr.New(vkerr.KindInvalidHandle, "model buffers were created without a fragment mirror")
	}
	for f := 0; f < mb.fragmentMirror.frameCount; f++ {
		mb.fragmentMirror.Update(f, idx, data)
	}
	return nil
}

// FragmentView exposes frameIndex's fragment-mirror buffer, or nil if this
// ModelBuffers has no fragment mirror.
func (mb *ModelBuffers) FragmentView(frameIndex int) *vkresource.View {
	if mb.fragmentMirror == nil {
		return nil
	}
	return mb.fragmentMirror.View(frameIndex)
}

// CleanUp destroys both rings.
func (mb *ModelBuffers) CleanUp() {
	mb.Ring.CleanUp()
	if mb.fragmentMirror != nil {
		mb.fragmentMirror.CleanUp()
	}
}

// MaterialBuffers is the single-copy variant: materials are shared across
// frames in flight rather than ring-buffered, since they're written once at
// load time and read-only thereafter (no per-frame write race to guard
// against, unlike per-frame model transforms).
type MaterialBuffers struct {
	device    vk.Device
	allocator *vkmemory.Allocator
	stride    uint64
	capacity  uint32
	view      *vkresource.View
	slots     *ds.ReusableVector[struct{}]
}

// NewMaterialBuffers allocates a single host-coherent buffer for
// initialCapacity materials of stride bytes each.
func NewMaterialBuffers(device vk.Device, allocator *vkmemory.Allocator, stride uint64, initialCapacity uint32) (*MaterialBuffers, error) {
	if initialCapacity == 0 {
		initialCapacity = 1
	}
	view, err := vkresource.NewBuffer(device, uint64(initialCapacity)*stride,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return nil, err
	}
	if err := view.BindToMemory(allocator, vkmemory.HostCoherent); err != nil {
		return nil, err
	}
	return &MaterialBuffers{device: device, allocator: allocator, stride: stride, capacity: initialCapacity, view: view, slots: ds.NewReusableVector[struct{}]()}, nil
}

// Add reserves and writes a material slot, growing the buffer if full.
func (m *MaterialBuffers) Add(data []byte) uint32 {
	idx := m.slots.Add(struct{}{})
	m.ensureCapacity(idx + 1)
	copy(m.view.MappedRange(uint64(idx)*m.stride, uint64(len(data))), data)
	return idx
}

// Remove frees idx's slot.
func (m *MaterialBuffers) Remove(idx uint32) { m.slots.Remove(idx) }

func (m *MaterialBuffers) ensureCapacity(need uint32) {
	if need <= m.capacity {
		return
	}
	newCap := uint32(float64(m.capacity)*growthFactor) + growthExtra
	if newCap < need {
		newCap = need
	}
	newView, err := vkresource.NewBuffer(m.device, uint64(newCap)*m.stride,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageTransferDstBit))
	if err != nil {
		return
	}
	if err := newView.BindToMemory(m.allocator, vkmemory.HostCoherent); err != nil {
		return
	}
	copy(newView.MappedRange(0, uint64(m.capacity)*m.stride), m.view.MappedRange(0, uint64(m.capacity)*m.stride))
	m.view.CleanUp()
	m.view = newView
	m.capacity = newCap
}

// View exposes the backing buffer for descriptor binding.
func (m *MaterialBuffers) View() *vkresource.View { return m.view }

// CleanUp destroys the backing buffer.
func (m *MaterialBuffers) CleanUp() { m.view.CleanUp() }
