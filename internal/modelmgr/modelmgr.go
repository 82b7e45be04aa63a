// Package modelmgr implements the three Model Manager variants: the
// embedder-facing owners of Model Bundles that issue the actual draw or
// dispatch calls each frame. Grounded on the render-loop structure in
// vulkan-go-asche/application.go (per-frame Update/Draw split), generalized
// to own N bundles instead of one fixed scene.
package modelmgr

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/ds"
	"github.com/andewx/vkforge/internal/mesh"
	"github.com/andewx/vkforge/internal/modelbundle"
	"github.com/andewx/vkforge/internal/pipelinebind"
	"github.com/andewx/vkforge/internal/vkerr"
)

// ModelHandle identifies one model bound into a bundle's pipeline binder.
type ModelHandle struct {
	BundleIdx   uint32
	PipelineIdx uint32
	ModelIdx    uint32
}

// VSIndividual owns the registered model bundles and issues
// vkCmdDrawIndexed calls for them. Binder argument buffers never shrink:
// releasing a model returns its range to the binder's free list for reuse.
// AllocatedModelCount is not a high-water mark; it falls when models are
// released or bundles removed.
type VSIndividual struct {
	bundles *ds.ReusableVector[*modelbundle.Bundle]
	meshes  *mesh.VSIndividual
}

// NewVSIndividual creates an empty vertex-shader individual-draw manager
// backed by meshes for vertex/index data.
func NewVSIndividual(meshes *mesh.VSIndividual) *VSIndividual {
	return &VSIndividual{bundles: ds.NewReusableVector[*modelbundle.Bundle](), meshes: meshes}
}

// AddModelBundle registers a new bundle and returns its handle.
func (m *VSIndividual) AddModelBundle(b *modelbundle.Bundle) uint32 {
	return m.bundles.Add(b)
}

// RemoveModelBundle unregisters bundleIdx; callers must have already
// released every model bound into it.
func (m *VSIndividual) RemoveModelBundle(bundleIdx uint32) {
	m.bundles.Remove(bundleIdx)
}

// AllocatedModelCount sums every live bundle's binder model counts. It
// decreases when a model is released from a binder or a bundle is removed.
func (m *VSIndividual) AllocatedModelCount() int {
	total := 0
	m.bundles.Each(func(_ uint32, b **modelbundle.Bundle) {
		bundle := *b
		for idx, found := uint32(0), 0; found < bundle.BinderCount(); idx++ {
			if count, err := bundle.ModelCount(idx); err == nil {
				total += count
				found++
			}
		}
	})
	return total
}

// DrawPipeline issues one vkCmdDrawIndexed call (one instance) for the mesh
// meshHandle. bundleIdx and pipelineIdx are not consulted: it does not walk
// the models bound to a pipeline. The caller is responsible for having
// already bound the pipeline, descriptor buffer offsets and vertex/index
// buffers.
func (m *VSIndividual) DrawPipeline(cmd vk.CommandBuffer, bundleIdx, pipelineIdx uint32, meshHandle uint32) error {
	details, ok := m.meshes.Mesh(meshHandle)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such mesh %d", meshHandle)
	}
	vk.CmdDrawIndexed(cmd, details.IndexCount, 1,
		uint32(details.IndexData.Offset/4), int32(details.VertexData.Offset/m.meshes.VertexStride()), 0)
	return nil
}

// VSIndirect draws every bundle in a single vkCmdDrawIndexedIndirectCount
// call per pipeline after the culling compute pass has populated the
// argument-output and counter buffers.
type VSIndirect struct {
	bundles    *ds.ReusableVector[*modelbundle.Bundle]
	meshes     *mesh.VSIndirect
	indirect   map[uint32]*pipelinebind.PipelineModelsVSIndirect
}

// NewVSIndirect creates an empty indirect-draw manager.
func NewVSIndirect(meshes *mesh.VSIndirect) *VSIndirect {
	return &VSIndirect{
		bundles:  ds.NewReusableVector[*modelbundle.Bundle](),
		meshes:   meshes,
		indirect: make(map[uint32]*pipelinebind.PipelineModelsVSIndirect),
	}
}

// AddModelBundle registers a new bundle.
func (m *VSIndirect) AddModelBundle(b *modelbundle.Bundle) uint32 {
	return m.bundles.Add(b)
}

// RemoveModelBundle unregisters bundleIdx.
func (m *VSIndirect) RemoveModelBundle(bundleIdx uint32) {
	m.bundles.Remove(bundleIdx)
}

// RegisterIndirectPipeline associates pipelineIdx with the GPU-driven
// argument buffers the culling compute shader writes into.
func (m *VSIndirect) RegisterIndirectPipeline(pipelineIdx uint32, p *pipelinebind.PipelineModelsVSIndirect) {
	m.indirect[pipelineIdx] = p
}

// ResetCounterBuffer zeroes pipelineIdx's atomic draw counter before the
// culling compute dispatch.
func (m *VSIndirect) ResetCounterBuffer(cmd vk.CommandBuffer, pipelineIdx uint32) error {
	p, ok := m.indirect[pipelineIdx]
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no indirect pipeline %d registered", pipelineIdx)
	}
	p.ResetCounter(cmd)
	return nil
}

// Dispatch issues the culling compute shader's workgroups, one invocation
// per candidate model; the shader itself writes into the argument-output
// and counter buffers bound through pipelineIdx's descriptor set.
func (m *VSIndirect) Dispatch(cmd vk.CommandBuffer, pipelineIdx uint32, candidateCount uint32, workgroupSize uint32) error {
	if _, ok := m.indirect[pipelineIdx]; !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no indirect pipeline %d registered", pipelineIdx)
	}
	groups := (candidateCount + workgroupSize - 1) / workgroupSize
	vk.CmdDispatch(cmd, groups, 1, 1)
	return nil
}

// UpdatePipelinePerFrame reports whether pipelineIdx is registered. It
// writes no per-frame argument, per-model or descriptor data.
func (m *VSIndirect) UpdatePipelinePerFrame(pipelineIdx uint32) error {
	if _, ok := m.indirect[pipelineIdx]; !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no indirect pipeline %d registered", pipelineIdx)
	}
	return nil
}

// DrawPipeline issues the single indirect draw call for pipelineIdx,
// sourcing its count from the counter buffer the compute pass wrote.
func (m *VSIndirect) DrawPipeline(cmd vk.CommandBuffer, pipelineIdx uint32) error {
	p, ok := m.indirect[pipelineIdx]
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no indirect pipeline %d registered", pipelineIdx)
	}
	vk.CmdDrawIndexedIndirectCount(cmd,
		p.ArgumentBuffer().View().Handle(), 0,
		p.CounterBuffer().View().Handle(), 0,
		p.MaxDraws(), 20)
	return nil
}

// MS draws every bundle's models with vkCmdDrawMeshTasksEXT, one dispatch
// per model's meshlet count.
type MS struct {
	bundles *ds.ReusableVector[*modelbundle.Bundle]
	meshes  *mesh.MS
}

// NewMS creates an empty mesh-shader manager.
func NewMS(meshes *mesh.MS) *MS {
	return &MS{bundles: ds.NewReusableVector[*modelbundle.Bundle](), meshes: meshes}
}

// AddModelBundle registers a new bundle.
func (m *MS) AddModelBundle(b *modelbundle.Bundle) uint32 {
	return m.bundles.Add(b)
}

// RemoveModelBundle unregisters bundleIdx.
func (m *MS) RemoveModelBundle(bundleIdx uint32) {
	m.bundles.Remove(bundleIdx)
}

// DrawPipeline dispatches mesh shader task groups sized to cover
// meshHandle's meshlet count.
func (m *MS) DrawPipeline(cmd vk.CommandBuffer, meshHandle uint32) error {
	details, ok := m.meshes.Mesh(meshHandle)
	if !ok {
		return vkerr.New(vkerr.KindInvalidHandle, "no such mesh %d", meshHandle)
	}
	vk.CmdDrawMeshTasksEXT(cmd, details.MeshletCount, 1, 1)
	return nil
}
