// Package sharedbuf implements a Resource View plus a free-list
// sub-allocator, with two extend policies: grow-and-copy for GPU buffers,
// recreate-and-invalidate for write-only buffers. Grounded on
// CoreBuffer (vulkan-go-asche/buffers.go) for the "one buffer, N logical
// slots" shape, generalized with a real free list instead of a single
// uniform-buffer-object allocation.
package sharedbuf

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
	"github.com/andewx/vkforge/internal/vkresource"
)

// Data is a live sub-allocation inside a Shared Buffer.
type Data struct {
	Buffer *vkresource.View
	Offset uint64
	Size   uint64
}

type freeRange struct{ offset, size uint64 }

// base is the free-list allocator shared by both variants.
type base struct {
	device    vk.Device
	allocator *vkmemory.Allocator
	memType   vkmemory.Type
	usage     vk.BufferUsageFlags

	view     *vkresource.View
	capacity uint64
	free     []freeRange

	extendedThisFrame bool
	pendingGrowth     uint64
}

func newBase(device vk.Device, allocator *vkmemory.Allocator, memType vkmemory.Type, usage vk.BufferUsageFlags, initialSize uint64) (*base, error) {
	// extend-copies must be legal, so both variants augment caller-requested usage
	usage |= vk.BufferUsageFlags(vk.BufferUsageTransferDstBit) | vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit)
	view, err := vkresource.NewBuffer(device, initialSize, usage)
	if err != nil {
		return nil, err
	}
	if err := view.BindToMemory(allocator, memType); err != nil {
		return nil, err
	}
	return &base{
		device:    device,
		allocator: allocator,
		memType:   memType,
		usage:     usage,
		view:      view,
		capacity:  initialSize,
		free:      []freeRange{{offset: 0, size: initialSize}},
	}, nil
}

// View exposes the backing Resource View, e.g. to bind vertex/index buffers.
func (b *base) View() *vkresource.View { return b.view }

// Capacity returns the buffer's current total size.
func (b *base) Capacity() uint64 { return b.capacity }

func (b *base) tryCarve(size uint64) (uint64, bool) {
	for i, r := range b.free {
		if r.size < size {
			continue
		}
		start := r.offset
		var remainder []freeRange
		if r.size > size {
			remainder = append(remainder, freeRange{offset: start + size, size: r.size - size})
		}
		b.free = append(b.free[:i], append(remainder, b.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

// relinquish returns [offset, offset+size) to the free list, merging with
// adjacent ranges so fragmentation does not accumulate.
func (b *base) relinquish(offset, size uint64) {
	b.free = append(b.free, freeRange{offset: offset, size: size})
	mergeFreeList(b.free)
	b.free = sortAndMerge(b.free)
}

func mergeFreeList(r []freeRange) {} // kept as a hook; sortAndMerge does the real work

func sortAndMerge(ranges []freeRange) []freeRange {
	// insertion sort: free lists stay small relative to model/mesh counts
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j-1].offset > ranges[j].offset; j-- {
			ranges[j-1], ranges[j] = ranges[j], ranges[j-1]
		}
	}
	out := ranges[:0]
	for _, r := range ranges {
		if n := len(out); n > 0 && out[n-1].offset+out[n-1].size == r.offset {
			out[n-1].size += r.size
			continue
		}
		out = append(out, r)
	}
	return out
}

// resetFrameState clears the "one extend per frame" guard; called through
// GPU.EndFrame once the frame's CopyOldBuffer has been recorded.
func (b *base) resetFrameState() {
	b.extendedThisFrame = false
	b.pendingGrowth = 0
}

// ErrTempBufferBusy signals a second SharedBufferGPU extension was
// requested before the first's CopyOldBuffer was flushed.
var ErrTempBufferBusy = vkerr.New(vkerr.KindUnknown, "temp buffer busy: a prior extension has not been flushed")

// ---- SharedBufferGPU ------------------------------------------------------

// GPU is the grow-and-copy variant used for GPU-only data the compute/
// graphics passes read back (mesh streams, argument buffers).
type GPU struct {
	*base
	oldView    *vkresource.View
	oldSize    uint64
	copyQueued bool
}

// NewGPU creates a device-local Shared Buffer.
func NewGPU(device vk.Device, allocator *vkmemory.Allocator, usage vk.BufferUsageFlags, initialSize uint64) (*GPU, error) {
	b, err := newBase(device, allocator, vkmemory.DeviceLocal, usage, initialSize)
	if err != nil {
		return nil, err
	}
	return &GPU{base: b}, nil
}

// AllocateAndGetSharedData carves size bytes, extending the buffer first if
// no free range fits.
func (g *GPU) AllocateAndGetSharedData(size uint64) (Data, error) {
	if off, ok := g.tryCarve(size); ok {
		return Data{Buffer: g.view, Offset: off, Size: size}, nil
	}
	if err := g.extend(size); err != nil {
		return Data{}, err
	}
	off, ok := g.tryCarve(size)
	if !ok {
		return Data{}, vkerr.New(vkerr.KindOutOfMemory, "shared buffer extension did not yield enough space")
	}
	return Data{Buffer: g.view, Offset: off, Size: size}, nil
}

// extend grows the buffer, coalescing with any growth already pending this
// frame per the "at most one extend per frame" invariant.
func (g *GPU) extend(size uint64) error {
	if g.copyQueued {
		return ErrTempBufferBusy
	}
	if g.extendedThisFrame {
		// a further extension this frame, after the first one's copy was
		// recorded: the new size is the pre-frame size plus every request
		// this frame (oldSize + sum(pendingAllocs)), i.e. capacity + size
		g.pendingGrowth += size
		return g.recreate(g.capacity + size)
	}
	g.extendedThisFrame = true
	g.pendingGrowth = size
	return g.recreate(g.capacity + size)
}

func (g *GPU) recreate(newSize uint64) error {
	newView, err := vkresource.NewBuffer(g.device, newSize, g.usage)
	if err != nil {
		return err
	}
	if err := newView.BindToMemory(g.allocator, g.memType); err != nil {
		return err
	}

	if g.oldView == nil {
		g.oldView = g.view
		g.oldSize = g.capacity
	} else {
		// not reached through extend, which refuses a new extension while a
		// previous one's copy is still pending; the older temp is released.
		g.oldView.CleanUp()
		g.oldView = g.view
		g.oldSize = g.capacity
	}

	freeWindow := newSize - g.capacity
	g.view = newView
	g.capacity = newSize
	g.free = append(g.free, freeRange{offset: newSize - freeWindow, size: freeWindow})
	g.free = sortAndMerge(g.free)
	g.copyQueued = true
	return nil
}

// CopyOldBuffer records the deferred grow-copy into cmd and releases the
// stale buffer. Must be called at most once per extension, on the transfer
// command buffer, before the next frame's extension may proceed.
func (g *GPU) CopyOldBuffer(cmd vk.CommandBuffer) {
	if g.oldView == nil {
		return
	}
	vk.CmdCopyBuffer(cmd, g.oldView.Handle(), g.view.Handle(), 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: 0,
		Size:      vk.DeviceSize(g.oldSize),
	}})
	g.oldView.CleanUp()
	g.oldView = nil
	g.oldSize = 0
	g.copyQueued = false
}

// RelinquishMemory returns d's range to the free list.
func (g *GPU) RelinquishMemory(d Data) { g.relinquish(d.Offset, d.Size) }

// EndFrame clears the per-frame extend guard; call after CopyOldBuffer has
// been recorded (or confirmed unnecessary) for the frame.
func (g *GPU) EndFrame() { g.resetFrameState() }

// CleanUp destroys the backing view(s).
func (g *GPU) CleanUp() {
	if g.oldView != nil {
		g.oldView.CleanUp()
	}
	g.view.CleanUp()
}

// ---- SharedBufferWriteOnly -------------------------------------------------

// WriteOnly is the recreate-on-grow variant for per-frame CPU-visible
// buffers where the caller always rewrites every live range before use.
type WriteOnly struct {
	*base
}

// NewWriteOnly creates a host-coherent Shared Buffer for CPU-write or
// upload-style usage.
func NewWriteOnly(device vk.Device, allocator *vkmemory.Allocator, usage vk.BufferUsageFlags, initialSize uint64) (*WriteOnly, error) {
	b, err := newBase(device, allocator, vkmemory.HostCoherent, usage, initialSize)
	if err != nil {
		return nil, err
	}
	return &WriteOnly{base: b}, nil
}

// AllocateAndGetSharedData carves size bytes, recreating the buffer if no
// free range fits. After a recreate (reported by the bool) every existing
// Data keeps its offset, but its Buffer still names the destroyed view and
// its contents are gone.
func (w *WriteOnly) AllocateAndGetSharedData(size uint64) (Data, bool, error) {
	if off, ok := w.tryCarve(size); ok {
		return Data{Buffer: w.view, Offset: off, Size: size}, false, nil
	}
	if err := w.recreate(size); err != nil {
		return Data{}, false, err
	}
	off, ok := w.tryCarve(size)
	if !ok {
		return Data{}, false, vkerr.New(vkerr.KindOutOfMemory, "write-only buffer recreation did not yield enough space")
	}
	return Data{Buffer: w.view, Offset: off, Size: size}, true, nil
}

// recreate destroys the old buffer immediately: write-only semantics let it
// skip the copy since every caller rewrites its range before the buffer is
// read again. This is intentional, not an oversight.
func (w *WriteOnly) recreate(extra uint64) error {
	newSize := w.capacity + extra
	newView, err := vkresource.NewBuffer(w.device, newSize, w.usage)
	if err != nil {
		return err
	}
	if err := newView.BindToMemory(w.allocator, w.memType); err != nil {
		return err
	}
	w.view.CleanUp()
	w.view = newView
	// live ranges keep their offsets; only the new tail becomes free
	w.free = append(w.free, freeRange{offset: w.capacity, size: extra})
	w.free = sortAndMerge(w.free)
	w.capacity = newSize
	return nil
}

// RelinquishMemory returns d's range to the free list.
func (w *WriteOnly) RelinquishMemory(d Data) { w.relinquish(d.Offset, d.Size) }

// CleanUp destroys the backing view.
func (w *WriteOnly) CleanUp() { w.view.CleanUp() }
