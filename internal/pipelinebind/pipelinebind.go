// Package pipelinebind implements the Pipeline-Model Binder variants: the
// per-pipeline argument buffers a Model Manager hands to
// vkCmdDrawIndexed/vkCmdDrawMeshTasksEXT/vkCmdDispatch, each holding the
// per-model indices and push-constant-sized argument words a shader needs to
// find its own model/material data. Grounded on CoreUniformBuffer's binding
// pattern, composed with sharedbuf for the growable backing storage.
package pipelinebind

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/ds"
	"github.com/andewx/vkforge/internal/sharedbuf"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
)

// argStride is the per-model argument record size: one model-data index and
// one material-data index, both uint32, matching the std430 layout the
// vertex/mesh shaders expect for their per-instance lookup.
const argStride = 8

// modelSlot tracks one model's live argument-buffer allocation.
type modelSlot struct {
	data sharedbuf.Data
}

// individualBase is shared by the three per-pipeline-argument variants
// (VSIndividual, MSIndividual, CSIndirect's argument-input side): a
// write-only shared buffer of one argStride record per bound model.
type individualBase struct {
	args   *sharedbuf.WriteOnly
	models *ds.ReusableVector[modelSlot]
}

func newIndividualBase(device vk.Device, allocator *vkmemory.Allocator) (*individualBase, error) {
	buf, err := sharedbuf.NewWriteOnly(device, allocator, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), argStride*64)
	if err != nil {
		return nil, err
	}
	return &individualBase{args: buf, models: ds.NewReusableVector[modelSlot]()}, nil
}

// AllocateBuffers reserves argument-buffer space for a newly bound model and
// returns its handle.
func (b *individualBase) AllocateBuffers() (uint32, error) {
	d, invalidated, err := b.args.AllocateAndGetSharedData(argStride)
	if err != nil {
		return 0, err
	}
	idx := b.models.Add(modelSlot{data: d})
	if invalidated {
		b.rewriteAll()
	}
	return idx, nil
}

// rewriteAll re-derives every live model slot's Data after a WriteOnly
// recreate invalidated the old buffer handle; offsets are stable (the
// recreate preserves the free-list layout), only the backing View changes.
func (b *individualBase) rewriteAll() {
	view := b.args.View()
	b.models.Each(func(idx uint32, s *modelSlot) {
		s.data.Buffer = view
	})
}

// Release frees modelIdx's argument slot.
func (b *individualBase) Release(modelIdx uint32) {
	if s, ok := b.models.Remove(modelIdx); ok {
		b.args.RelinquishMemory(s.data)
	}
}

// Update writes modelIdx's (modelDataIndex, materialDataIndex) pair.
func (b *individualBase) Update(modelIdx, modelDataIndex, materialDataIndex uint32) error {
	s, ok := b.models.Get(modelIdx)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such bound model %d", modelIdx)
	}
	var record [argStride]byte
	le32(record[0:], modelDataIndex)
	le32(record[4:], materialDataIndex)
	dst := s.data.Buffer.MappedRange(s.data.Offset, argStride)
	copy(dst, record[:])
	return nil
}

// View exposes the backing argument buffer for binding.
func (b *individualBase) View() *sharedbuf.WriteOnly { return b.args }

// CleanUp destroys the backing buffer.
func (b *individualBase) CleanUp() { b.args.CleanUp() }

// PipelineModelsVSIndividual backs vkCmdDrawIndexed per-model draws issued
// directly from the CPU-side model list.
type PipelineModelsVSIndividual struct{ *individualBase }

// NewPipelineModelsVSIndividual creates the argument buffer for a vertex
// pipeline drawing each model with its own draw call.
func NewPipelineModelsVSIndividual(device vk.Device, allocator *vkmemory.Allocator) (*PipelineModelsVSIndividual, error) {
	b, err := newIndividualBase(device, allocator)
	if err != nil {
		return nil, err
	}
	return &PipelineModelsVSIndividual{individualBase: b}, nil
}

// PipelineModelsMSIndividual backs vkCmdDrawMeshTasksEXT per-model dispatches.
type PipelineModelsMSIndividual struct{ *individualBase }

// NewPipelineModelsMSIndividual creates the argument buffer for a mesh-shader
// pipeline dispatching task groups per model.
func NewPipelineModelsMSIndividual(device vk.Device, allocator *vkmemory.Allocator) (*PipelineModelsMSIndividual, error) {
	b, err := newIndividualBase(device, allocator)
	if err != nil {
		return nil, err
	}
	return &PipelineModelsMSIndividual{individualBase: b}, nil
}

// PipelineModelsCSIndirect is the compute-culling variant's argument-input
// side: the compute shader reads this list of candidate models and writes
// surviving ones into the indirect-draw argument-output buffer.
type PipelineModelsCSIndirect struct {
	*individualBase
	counter *sharedbuf.GPU
}

// NewPipelineModelsCSIndirect additionally allocates the atomic counter
// buffer the culling compute shader increments per surviving model.
func NewPipelineModelsCSIndirect(device vk.Device, allocator *vkmemory.Allocator) (*PipelineModelsCSIndirect, error) {
	b, err := newIndividualBase(device, allocator)
	if err != nil {
		return nil, err
	}
	counter, err := sharedbuf.NewGPU(device, allocator,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit), 4)
	if err != nil {
		b.CleanUp()
		return nil, err
	}
	return &PipelineModelsCSIndirect{individualBase: b, counter: counter}, nil
}

// CounterBuffer exposes the atomic draw-counter buffer.
func (p *PipelineModelsCSIndirect) CounterBuffer() *sharedbuf.GPU { return p.counter }

// CleanUp destroys the argument and counter buffers.
func (p *PipelineModelsCSIndirect) CleanUp() {
	p.individualBase.CleanUp()
	p.counter.CleanUp()
}

// indirectDrawArgStride matches VkDrawIndexedIndirectCommand's 20-byte
// layout the GPU writes and vkCmdDrawIndexedIndirectCount consumes
// unmodified.
const indirectDrawArgStride = 20

// PipelineModelsVSIndirect is the GPU-driven variant: a culling compute pass
// writes VkDrawIndexedIndirectCommand records plus a live count, and
// rendering issues a single vkCmdDrawIndexedIndirectCount call instead of
// one draw per model.
type PipelineModelsVSIndirect struct {
	argOutput    *sharedbuf.GPU
	counter      *sharedbuf.GPU
	modelIndices *sharedbuf.GPU
	maxDraws     uint32
}

// NewPipelineModelsVSIndirect allocates the GPU-side argument-output,
// counter and model-index buffers sized for maxDraws candidate models.
func NewPipelineModelsVSIndirect(device vk.Device, allocator *vkmemory.Allocator, maxDraws uint32) (*PipelineModelsVSIndirect, error) {
	argOutput, err := sharedbuf.NewGPU(device, allocator,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit),
		uint64(maxDraws)*indirectDrawArgStride)
	if err != nil {
		return nil, err
	}
	counter, err := sharedbuf.NewGPU(device, allocator,
		vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)|vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit), 4)
	if err != nil {
		argOutput.CleanUp()
		return nil, err
	}
	modelIndices, err := sharedbuf.NewGPU(device, allocator, vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit), uint64(maxDraws)*4)
	if err != nil {
		argOutput.CleanUp()
		counter.CleanUp()
		return nil, err
	}
	return &PipelineModelsVSIndirect{argOutput: argOutput, counter: counter, modelIndices: modelIndices, maxDraws: maxDraws}, nil
}

// ArgumentBuffer exposes the indirect draw command buffer.
func (p *PipelineModelsVSIndirect) ArgumentBuffer() *sharedbuf.GPU { return p.argOutput }

// CounterBuffer exposes the live draw-count buffer the vkCmdDrawIndexed
// IndirectCount call reads its count from.
func (p *PipelineModelsVSIndirect) CounterBuffer() *sharedbuf.GPU { return p.counter }

// ModelIndexBuffer exposes the per-draw-slot model-index lookup buffer.
func (p *PipelineModelsVSIndirect) ModelIndexBuffer() *sharedbuf.GPU { return p.modelIndices }

// MaxDraws returns the upper bound on simultaneous indirect draws this
// variant was sized for.
func (p *PipelineModelsVSIndirect) MaxDraws() uint32 { return p.maxDraws }

// ResetCounter clears the atomic draw counter to zero, recorded before the
// culling compute dispatch each frame.
func (p *PipelineModelsVSIndirect) ResetCounter(cmd vk.CommandBuffer) {
	vk.CmdFillBuffer(cmd, p.counter.View().Handle(), 0, 4, 0)
}

// CleanUp destroys all three GPU buffers.
func (p *PipelineModelsVSIndirect) CleanUp() {
	p.argOutput.CleanUp()
	p.counter.CleanUp()
	p.modelIndices.CleanUp()
}

func le32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
