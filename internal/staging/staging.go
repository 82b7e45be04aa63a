// Package staging implements the Staging Manager: a queue of pending
// host-to-device buffer and texture copies, flushed in batches through a
// temporary host-visible buffer. Host-side memcpys are parallelized across
// threadpool workers; each flush's temp buffer is kept until
// RetireFlushedTemps, which the caller invokes once the transfer submission
// that read it has completed. Grounded on the transfer-queue
// handling in vulkan-go-asche/queue.go and buffers.go, with the
// batching/threshold policy generalized for queue-ownership round trips.
package staging

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/threadpool"
	"github.com/andewx/vkforge/internal/vkdevice"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
	"github.com/andewx/vkforge/internal/vkresource"
)

// hostCopyChunk caps how much a single worker task copies in one call, so a
// large upload splits across the pool instead of serializing on one worker.
const hostCopyChunk = 250 << 20 // 250 MiB

// BufferCopy describes one queued host->device buffer copy.
type BufferCopy struct {
	Dst       *vkresource.View
	DstOffset uint64
	Data      []byte
}

// TextureCopy describes one queued host->device image copy.
type TextureCopy struct {
	Dst    *vkresource.View
	Opts   vkresource.CopyOptions
	Data   []byte
}

// Manager owns the temp staging buffers and the pending-copy queues.
type Manager struct {
	device    vk.Device
	allocator *vkmemory.Allocator
	pool      *threadpool.Pool
	queues    vkdevice.QueueFamilies

	bufferQueue  []BufferCopy
	textureQueue []TextureCopy

	temps []*vkresource.View
}

// New builds a Staging Manager. pool may be shared with other subsystems;
// RunBatch calls here interleave safely with theirs since each call owns its
// own WaitGroup.
func New(device vk.Device, allocator *vkmemory.Allocator, pool *threadpool.Pool, queues vkdevice.QueueFamilies) *Manager {
	return &Manager{device: device, allocator: allocator, pool: pool, queues: queues}
}

// EnqueueBuffer queues a host->device buffer copy for the next flush.
func (m *Manager) EnqueueBuffer(c BufferCopy) {
	m.bufferQueue = append(m.bufferQueue, c)
}

// EnqueueTexture queues a host->device image copy for the next flush.
func (m *Manager) EnqueueTexture(c TextureCopy) {
	m.textureQueue = append(m.textureQueue, c)
}

// Pending reports whether any copies are queued.
func (m *Manager) Pending() bool {
	return len(m.bufferQueue) > 0 || len(m.textureQueue) > 0
}

// CopyAndClearQueuedBuffers allocates one temp buffer sized to the queued
// total, memcpys every queued source into it in parallel host-side batches,
// records the device-side copies on transferCmd, and clears both queues. No
// partial enqueue is committed on allocation failure: the queues are left
// untouched so a retry after freeing memory elsewhere can succeed.
func (m *Manager) CopyAndClearQueuedBuffers(transferCmd vk.CommandBuffer) error {
	if !m.Pending() {
		return nil
	}

	var total uint64
	offsets := make([]uint64, len(m.bufferQueue)+len(m.textureQueue))
	for i, c := range m.bufferQueue {
		offsets[i] = total
		total += uint64(len(c.Data))
	}
	base := len(m.bufferQueue)
	for i, c := range m.textureQueue {
		offsets[base+i] = total
		total += uint64(len(c.Data))
	}
	if total == 0 {
		m.bufferQueue = nil
		m.textureQueue = nil
		return nil
	}

	temp, err := vkresource.NewBuffer(m.device, total, vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit))
	if err != nil {
		return vkerr.Wrap(vkerr.KindOutOfMemory, err, "creating staging temp buffer")
	}
	if err := temp.BindToMemory(m.allocator, vkmemory.HostCoherent); err != nil {
		temp.CleanUp()
		return err
	}

	var tasks []func()
	for i, c := range m.bufferQueue {
		tasks = append(tasks, copyTasksFor(temp, offsets[i], c.Data)...)
	}
	for i, c := range m.textureQueue {
		tasks = append(tasks, copyTasksFor(temp, offsets[base+i], c.Data)...)
	}
	m.pool.RunBatch(tasks)

	for i, c := range m.bufferQueue {
		vk.CmdCopyBuffer(transferCmd, temp.Handle(), c.Dst.Handle(), 1, []vk.BufferCopy{{
			SrcOffset: vk.DeviceSize(offsets[i]),
			DstOffset: vk.DeviceSize(c.DstOffset),
			Size:      vk.DeviceSize(len(c.Data)),
		}})
	}
	for i, c := range m.textureQueue {
		opts := c.Opts
		opts.SrcOffset = offsets[base+i]
		opts.Size = uint64(len(c.Data))
		c.Dst.RecordCopy(transferCmd, temp, opts)
	}

	m.temps = append(m.temps, temp)
	m.bufferQueue = nil
	m.textureQueue = nil
	return nil
}

// copyTasksFor splits data into hostCopyChunk-sized closures that memcpy
// into dst's mapped region starting at offset.
func copyTasksFor(dst *vkresource.View, offset uint64, data []byte) []func() {
	mapped := dst.MappedRange(offset, uint64(len(data)))
	var tasks []func()
	for start := 0; start < len(data); start += hostCopyChunk {
		end := start + hostCopyChunk
		if end > len(data) {
			end = len(data)
		}
		s, e := start, end
		tasks = append(tasks, func() {
			copy(mapped[s:e], data[s:e])
		})
	}
	return tasks
}

// ReleaseOwnership releases queue ownership of each view in views from
// srcFamily to dstFamily, recorded on cmd (srcFamily's command buffer).
// Nothing is recorded when dstFamily is the transfer family.
func (m *Manager) ReleaseOwnership(cmd vk.CommandBuffer, srcFamily, dstFamily uint32, views []*vkresource.View, srcAccess vk.AccessFlags, srcStage vk.PipelineStageFlags) {
	if !m.queues.NeedsTransfer(dstFamily) {
		return
	}
	for _, v := range views {
		v.ReleaseOwnership(cmd, srcFamily, dstFamily, srcAccess, srcStage, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	}
}

// AcquireOwnership completes the ownership hand-off on dstFamily's command
// buffer.
func (m *Manager) AcquireOwnership(cmd vk.CommandBuffer, srcFamily, dstFamily uint32, views []*vkresource.View, dstAccess vk.AccessFlags, dstStage vk.PipelineStageFlags, newLayout vk.ImageLayout) {
	if !m.queues.NeedsTransfer(dstFamily) {
		return
	}
	for _, v := range views {
		v.AcquireOwnership(cmd, srcFamily, dstFamily, dstAccess, dstStage, newLayout, vk.ImageAspectFlags(vk.ImageAspectColorBit))
	}
}

// RetireFlushedTemps destroys every temp buffer from a flush whose transfer
// submission is now known to have completed (the caller tracks that via its
// own frame fence/timeline value).
func (m *Manager) RetireFlushedTemps() {
	for _, t := range m.temps {
		t.CleanUp()
	}
	m.temps = nil
}

// CleanUp destroys any temp buffers still outstanding. Callers must only
// invoke this after confirming the GPU is idle.
func (m *Manager) CleanUp() {
	m.RetireFlushedTemps()
}
