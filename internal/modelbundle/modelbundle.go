// Package modelbundle implements Model Bundles: a reusable slot table of
// Pipeline Binders, plus the reconfiguration that runs when a model moves
// from one pipeline partition to another within the same bundle. Grounded
// on ds.ReusableVector for slot stability; the binder move itself has no
// counterpart in vulkan-go-asche, which hardcodes one pipeline per scene.
package modelbundle

import (
	"github.com/andewx/vkforge/internal/ds"
	"github.com/andewx/vkforge/internal/vkerr"
)

// BinderState is the lifecycle a pipeline binder slot moves through as
// models are added and removed: Empty while it holds no model (initially,
// and again once its model count drops to zero), Allocated(N) once
// AllocateBuffers has reserved room for N models.
type BinderState int

const (
	BinderEmpty BinderState = iota
	BinderAllocated
)

// Binder is the minimal surface a Pipeline-Model Binder variant must expose
// for a Model Bundle to manage it generically. PipelineModelsVSIndividual,
// PipelineModelsMSIndividual and PipelineModelsCSIndirect implement it;
// PipelineModelsVSIndirect does not. Each implementation creates its own
// argument buffer at construction time, so AllocateBuffers/Release need no
// buffer handles threaded through every call.
type Binder interface {
	AllocateBuffers() (uint32, error)
	Release(modelIdx uint32)
}

// binderSlot tracks one registered binder's live model count and state.
type binderSlot struct {
	binder     Binder
	state      BinderState
	modelCount int
}

// Bundle owns a reusable set of pipeline binders and the model-to-pipeline
// routing a draw call needs: which binder a given model's argument data
// lives in.
type Bundle struct {
	binders *ds.ReusableVector[binderSlot]
}

// New creates an empty Model Bundle.
func New() *Bundle {
	return &Bundle{binders: ds.NewReusableVector[binderSlot]()}
}

// AddNewPipelinesFromBundle registers a freshly constructed binder (caller
// built it via one of pipelinebind's constructors, matching the pipeline
// this bundle's models render with), reserves its first model slot via
// SetupPipelineBuffers, and returns the binder's handle.
func (b *Bundle) AddNewPipelinesFromBundle(binder Binder) (uint32, error) {
	idx := b.binders.Add(binderSlot{binder: binder, state: BinderEmpty})
	if err := b.SetupPipelineBuffers(idx); err != nil {
		return idx, err
	}
	return idx, nil
}

// SetupPipelineBuffers grows pipelineIdx's binder by one model slot,
// allocating the model's argument-buffer entry and marking the binder
// Allocated.
func (b *Bundle) SetupPipelineBuffers(pipelineIdx uint32) error {
	slot, ok := b.binders.Get(pipelineIdx)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such pipeline binder %d", pipelineIdx)
	}
	if _, err := slot.binder.AllocateBuffers(); err != nil {
		return err
	}
	slot.modelCount++
	slot.state = BinderAllocated
	return nil
}

// ReconfigureModels moves one model's reservation from decreasedPipelineIdx
// to increasedPipelineIdx within this bundle: the decreased binder's
// per-pipeline record is decremented (the model itself has already moved
// partitions externally, so the compute shader simply stops seeing it
// there), then the increased binder grows by one via SetupPipelineBuffers.
// A no-op when the two indices are equal.
func (b *Bundle) ReconfigureModels(decreasedPipelineIdx, increasedPipelineIdx uint32) error {
	if decreasedPipelineIdx == increasedPipelineIdx {
		return nil
	}

	decreased, ok := b.binders.Get(decreasedPipelineIdx)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such pipeline binder %d", decreasedPipelineIdx)
	}
	if _, ok := b.binders.Get(increasedPipelineIdx); !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such pipeline binder %d", increasedPipelineIdx)
	}

	if err := b.SetupPipelineBuffers(increasedPipelineIdx); err != nil {
		return err
	}

	decreased.modelCount--
	if decreased.modelCount <= 0 {
		decreased.modelCount = 0
		decreased.state = BinderEmpty
	}
	return nil
}

// ModelCount reports pipelineIdx's current per-pipeline model count, for
// tests and callers inspecting reconfiguration results.
func (b *Bundle) ModelCount(pipelineIdx uint32) (int, error) {
	slot, ok := b.binders.Get(pipelineIdx)
	if !ok {
		return 0, vkerr.New(vkerr.KindInvalidHandle, "no such pipeline binder %d", pipelineIdx)
	}
	return slot.modelCount, nil
}

// Release frees modelIdx from pipelineIdx's binder, for callers that do know
// which model handle to drop (as opposed to ReconfigureModels's bookkeeping
// move, which does not).
func (b *Bundle) Release(pipelineIdx uint32, modelIdx uint32) error {
	slot, ok := b.binders.Get(pipelineIdx)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such pipeline binder %d", pipelineIdx)
	}
	slot.binder.Release(modelIdx)
	slot.modelCount--
	if slot.modelCount <= 0 {
		slot.modelCount = 0
		slot.state = BinderEmpty
	}
	return nil
}

// CleanupData removes every binder slot, releasing the bundle's hold on
// each one (the binder's own buffers are the caller's to destroy, since
// Bundle does not own the pipelinebind instances it was handed).
func (b *Bundle) CleanupData() {
	b.binders.Each(func(idx uint32, s *binderSlot) {
		b.binders.Remove(idx)
	})
}

// BinderCount reports how many pipeline binders this bundle manages.
func (b *Bundle) BinderCount() int { return b.binders.Len() }
