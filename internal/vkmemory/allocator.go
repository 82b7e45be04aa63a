// Package vkmemory implements a small pool of large VkDeviceMemory blocks
// sub-allocated by a free-list, in the
// style of other_examples' cogentcore-core/vgpu Memory.AllocMem but split
// into growable blocks instead of one fixed buffer, and budget-checked per
// VkPhysicalDeviceMemoryBudgetPropertiesEXT.
package vkmemory

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/vkdevice"
	"github.com/andewx/vkforge/internal/vkerr"
)

// Type distinguishes the two pools the allocator maintains.
type Type int

const (
	DeviceLocal Type = iota
	HostCoherent
)

const (
	defaultGPUBlockSize = 2 << 30  // 2 GiB
	defaultCPUBlockSize = 100 << 20 // 100 MiB
)

// Range is an [Offset, Offset+Size) span inside a block.
type Range struct {
	Offset uint64
	Size   uint64
}

// Allocation is what Allocate hands back to a Resource View.
type Allocation struct {
	BlockID   uint32
	Offset    uint64
	Size      uint64
	Alignment uint64
	Type      Type
	Memory    vk.DeviceMemory
	// MappedBase is non-nil for HostCoherent allocations, set by the block
	// at creation time via vkMapMemory over the whole block.
	MappedBase []byte
}

type block struct {
	id       uint32
	memory   vk.DeviceMemory
	size     uint64
	typ      Type
	heapIdx  uint32
	free     []Range
	mapped   []byte
}

// Allocator owns the device-local and host-coherent block pools.
type Allocator struct {
	device vk.Device
	props  *vkdevice.Properties

	gpuBlocks   []*block
	gpuFreeIDs  []uint32
	cpuBlocks   []*block
	cpuFreeIDs  []uint32

	// memoryTypeIndex resolves a (Type, requirement bits) pair to a Vulkan
	// memory type index; this table is built by the out-of-scope physical
	// device collaborator and handed in, since enumerating memory types is
	// physical-device discovery.
	deviceLocalTypeIndex  uint32
	hostCoherentTypeIndex uint32
	deviceLocalHeap       uint32
	hostCoherentHeap      uint32
}

// New builds an Allocator. deviceLocalTypeIndex/hostCoherentTypeIndex and
// their heap indices are resolved once by the collaborator that enumerates
// VkPhysicalDeviceMemoryProperties.
func New(device vk.Device, props *vkdevice.Properties, deviceLocalTypeIndex, deviceLocalHeap, hostCoherentTypeIndex, hostCoherentHeap uint32) *Allocator {
	return &Allocator{
		device:                device,
		props:                 props,
		deviceLocalTypeIndex:  deviceLocalTypeIndex,
		deviceLocalHeap:       deviceLocalHeap,
		hostCoherentTypeIndex: hostCoherentTypeIndex,
		hostCoherentHeap:      hostCoherentHeap,
	}
}

func (a *Allocator) blocksFor(t Type) ([]*block, []uint32) {
	if t == DeviceLocal {
		return a.gpuBlocks, a.gpuFreeIDs
	}
	return a.cpuBlocks, a.cpuFreeIDs
}

func (a *Allocator) setBlocks(t Type, blocks []*block, freeIDs []uint32) {
	if t == DeviceLocal {
		a.gpuBlocks, a.gpuFreeIDs = blocks, freeIDs
	} else {
		a.cpuBlocks, a.cpuFreeIDs = blocks, freeIDs
	}
}

func (a *Allocator) defaultBlockSize(t Type) uint64 {
	if t == DeviceLocal {
		return defaultGPUBlockSize
	}
	return defaultCPUBlockSize
}

func (a *Allocator) heapIndex(t Type) uint32 {
	if t == DeviceLocal {
		return a.deviceLocalHeap
	}
	return a.hostCoherentHeap
}

func (a *Allocator) memoryTypeIndex(t Type) uint32 {
	if t == DeviceLocal {
		return a.deviceLocalTypeIndex
	}
	return a.hostCoherentTypeIndex
}

// budgetRemaining reports how many bytes of the heap budget have not yet
// been committed to existing blocks.
func (a *Allocator) budgetRemaining(t Type) uint64 {
	heap := a.heapIndex(t)
	if int(heap) >= len(a.props.HeapBudget) {
		return ^uint64(0) // no budget reported: do not artificially constrain
	}
	budget := a.props.HeapBudget[heap]
	var used uint64
	blocks, _ := a.blocksFor(t)
	for _, b := range blocks {
		used += b.size
	}
	if used >= budget {
		return 0
	}
	return budget - used
}

func align(offset, alignment uint64) uint64 {
	if alignment == 0 {
		return offset
	}
	return (offset + alignment - 1) &^ (alignment - 1)
}

// fitInBlock scans b's free list for a range that fits size at alignment,
// first-fit. Returns the carved range's start offset.
func fitInBlock(b *block, size, alignment uint64) (uint64, bool) {
	for i, r := range b.free {
		start := align(r.Offset, alignment)
		end := start + size
		if end > r.Offset+r.Size {
			continue
		}
		// carve [start, end) out of r, keeping the leading/trailing remainders
		var remainder []Range
		if start > r.Offset {
			remainder = append(remainder, Range{Offset: r.Offset, Size: start - r.Offset})
		}
		if end < r.Offset+r.Size {
			remainder = append(remainder, Range{Offset: end, Size: r.Offset + r.Size - end})
		}
		b.free = append(b.free[:i], append(remainder, b.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

// Allocate sub-allocates reqs.size bytes at reqs.alignment from t's pool,
// creating a new block if no existing one fits.
func (a *Allocator) Allocate(reqs vk.MemoryRequirements, t Type) (Allocation, error) {
	reqs.Deref()
	size := reqs.Size
	alignment := reqs.Alignment
	blocks, freeIDs := a.blocksFor(t)

	for _, b := range blocks {
		if off, ok := fitInBlock(b, size, alignment); ok {
			return a.toAllocation(b, off, size, alignment, t), nil
		}
	}

	newSize := size
	if def := a.defaultBlockSize(t); def > newSize {
		newSize = def
	}

	remaining := a.budgetRemaining(t)
	if newSize > remaining {
		if size > remaining {
			return Allocation{}, vkerr.New(vkerr.KindOutOfMemory,
				"requested %d bytes exceeds remaining heap budget %d", size, remaining)
		}
		// retry with exactly the remaining budget instead of failing outright
		newSize = remaining
	}

	b, err := a.newBlock(t, newSize)
	if err != nil {
		if size < newSize {
			// fall back to exactly the request before giving up entirely
			b, err = a.newBlock(t, size)
		}
		if err != nil {
			return Allocation{}, vkerr.Wrap(vkerr.KindOutOfMemory, err, "allocating new %v block", t)
		}
	}

	blocks = append(blocks, b)
	a.setBlocks(t, blocks, freeIDs)

	off, ok := fitInBlock(b, size, alignment)
	if !ok {
		return Allocation{}, vkerr.New(vkerr.KindOutOfMemory, "new block too small for aligned allocation")
	}
	return a.toAllocation(b, off, size, alignment, t), nil
}

func (a *Allocator) toAllocation(b *block, offset, size, alignment uint64, t Type) Allocation {
	alloc := Allocation{
		BlockID:   b.id,
		Offset:    offset,
		Size:      size,
		Alignment: alignment,
		Type:      t,
		Memory:    b.memory,
	}
	if b.mapped != nil {
		alloc.MappedBase = b.mapped[offset : offset+size]
	}
	return alloc
}

func (a *Allocator) nextBlockID(t Type) (uint32, []uint32) {
	_, freeIDs := a.blocksFor(t)
	if n := len(freeIDs); n > 0 {
		id := freeIDs[0]
		return id, freeIDs[1:]
	}
	blocks, _ := a.blocksFor(t)
	return uint32(len(blocks)) + uint32(len(freeIDs)), freeIDs
}

func (a *Allocator) newBlock(t Type, size uint64) (*block, error) {
	id, freeIDs := a.nextBlockID(t)
	var memory vk.DeviceMemory
	ret := vk.AllocateMemory(a.device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: a.memoryTypeIndex(t),
	}, nil, &memory)
	if vkerr.IsResultError(ret) {
		return nil, vkerr.FromResult(ret, "vkAllocateMemory")
	}

	b := &block{
		id:      id,
		memory:  memory,
		size:    size,
		typ:     t,
		heapIdx: a.heapIndex(t),
		free:    []Range{{Offset: 0, Size: size}},
	}

	if t == HostCoherent {
		var mapped unsafe.Pointer
		res := vk.MapMemory(a.device, memory, 0, vk.DeviceSize(size), 0, &mapped)
		if vkerr.IsResultError(res) {
			vk.FreeMemory(a.device, memory, nil)
			return nil, vkerr.FromResult(res, "vkMapMemory")
		}
		b.mapped = unsafe.Slice((*byte)(mapped), int(size))
	}

	blocks, _ := a.blocksFor(t)
	a.setBlocks(t, append(blocks, b), freeIDs)
	return b, nil
}

// Deallocate returns alloc's range to its block's free list. If the block
// becomes fully empty, it is destroyed and its id is queued for reuse.
func (a *Allocator) Deallocate(alloc Allocation) {
	blocks, freeIDs := a.blocksFor(alloc.Type)
	for i, b := range blocks {
		if b.id != alloc.BlockID {
			continue
		}
		b.free = append(b.free, Range{Offset: alloc.Offset, Size: alloc.Size})
		if blockFullyFree(b) {
			if b.mapped != nil {
				vk.UnmapMemory(a.device, b.memory)
			}
			vk.FreeMemory(a.device, b.memory, nil)
			blocks = append(blocks[:i], blocks[i+1:]...)
			freeIDs = append(freeIDs, b.id)
		}
		a.setBlocks(alloc.Type, blocks, freeIDs)
		return
	}
}

func blockFullyFree(b *block) bool {
	var total uint64
	for _, r := range b.free {
		total += r.Size
	}
	return total == b.size
}

// SetHeapBudget records the latest VkPhysicalDeviceMemoryBudgetPropertiesEXT
// reading for heapIndex, called by the collaborator after every
// vkGetPhysicalDeviceMemoryProperties2 query.
func (a *Allocator) SetHeapBudget(heapIndex uint32, budgetBytes uint64) {
	for uint32(len(a.props.HeapBudget)) <= heapIndex {
		a.props.HeapBudget = append(a.props.HeapBudget, 0)
	}
	a.props.HeapBudget[heapIndex] = budgetBytes
}
