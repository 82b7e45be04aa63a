// Package mesh implements the three Mesh Manager variants that own vertex,
// index and (for the mesh-shader variant) meshlet storage on the GPU.
// Grounded on CoreBuffer's growth pattern
// (vulkan-go-asche/buffers.go) composed with sharedbuf.GPU for the
// grow-and-copy semantics a vertex/index buffer that is appended to at
// runtime needs.
package mesh

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/andewx/vkforge/internal/ds"
	"github.com/andewx/vkforge/internal/sharedbuf"
	"github.com/andewx/vkforge/internal/vkerr"
	"github.com/andewx/vkforge/internal/vkmemory"
)

// AABB is an axis-aligned bounding box, used by the indirect variant for
// GPU-side frustum culling.
type AABB struct {
	Min, Max [3]float32
}

// Details is the handle returned for a registered mesh: where its vertex and
// index data live inside the manager's shared buffers.
type Details struct {
	Index       uint32
	VertexData  sharedbuf.Data
	IndexData   sharedbuf.Data
	IndexCount  uint32
	VertexCount uint32
	Bounds      AABB
}

// bundleEntry groups every mesh belonging to one loaded asset, so
// RemoveMeshBundle can free them all in one call.
type bundleEntry struct {
	meshIndices []uint32
}

// VSIndividual is the vertex-shader individual-draw variant: one vertex
// buffer and one index buffer, each mesh's data contiguous and referenced by
// offset/count pairs recorded per draw call.
type VSIndividual struct {
	vertexStride uint64

	vertices *sharedbuf.GPU
	indices  *sharedbuf.GPU

	meshes  *ds.ReusableVector[Details]
	bundles *ds.ReusableVector[bundleEntry]
}

// NewVSIndividual creates the vertex+index shared buffers sized for an
// initial working set; both grow on demand.
func NewVSIndividual(device vk.Device, allocator *vkmemory.Allocator, vertexStride uint64, initialBytes uint64) (*VSIndividual, error) {
	vtx, err := sharedbuf.NewGPU(device, allocator, vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit), initialBytes)
	if err != nil {
		return nil, err
	}
	idx, err := sharedbuf.NewGPU(device, allocator, vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit), initialBytes/4)
	if err != nil {
		vtx.CleanUp()
		return nil, err
	}
	return &VSIndividual{
		vertexStride: vertexStride,
		vertices:     vtx,
		indices:      idx,
		meshes:       ds.NewReusableVector[Details](),
		bundles:      ds.NewReusableVector[bundleEntry](),
	}, nil
}

// AddMeshBundle reserves vertex and index ranges for every mesh in
// verts/indices (one entry per mesh) and returns a bundle handle plus the
// per-mesh Details for binder setup. It does not copy the vertex or index
// bytes into those ranges.
func (m *VSIndividual) AddMeshBundle(verts [][]byte, indices [][]uint32) (uint32, []Details, error) {
	if len(verts) != len(indices) {
		return 0, nil, vkerr.New(vkerr.KindInvalidHandle, "vertex and index mesh counts differ: %d vs %d", len(verts), len(indices))
	}
	var entry bundleEntry
	var details []Details
	for i := range verts {
		vData, err := m.vertices.AllocateAndGetSharedData(uint64(len(verts[i])))
		if err != nil {
			return 0, nil, err
		}
		idxBytes := make([]byte, len(indices[i])*4)
		for j, v := range indices[i] {
			le32(idxBytes[j*4:], v)
		}
		iData, err := m.indices.AllocateAndGetSharedData(uint64(len(idxBytes)))
		if err != nil {
			return 0, nil, err
		}
		d := Details{
			VertexData:  vData,
			IndexData:   iData,
			IndexCount:  uint32(len(indices[i])),
			VertexCount: uint32(len(verts[i])) / uint32(m.vertexStride),
		}
		d.Index = m.meshes.Add(d)
		entry.meshIndices = append(entry.meshIndices, d.Index)
		details = append(details, d)
	}
	return m.bundles.Add(entry), details, nil
}

// RemoveMeshBundle releases every mesh registered under bundleIdx.
func (m *VSIndividual) RemoveMeshBundle(bundleIdx uint32) {
	entry, ok := m.bundles.Remove(bundleIdx)
	if !ok {
		return
	}
	for _, idx := range entry.meshIndices {
		if d, ok := m.meshes.Remove(idx); ok {
			m.vertices.RelinquishMemory(d.VertexData)
			m.indices.RelinquishMemory(d.IndexData)
		}
	}
}

// CopyOldBuffers records any grow-copy pending on the vertex/index buffers.
func (m *VSIndividual) CopyOldBuffers(cmd vk.CommandBuffer) {
	m.vertices.CopyOldBuffer(cmd)
	m.indices.CopyOldBuffer(cmd)
}

// EndFrame clears the per-frame extend guard on both buffers.
func (m *VSIndividual) EndFrame() {
	m.vertices.EndFrame()
	m.indices.EndFrame()
}

// VertexBuffer exposes the shared vertex buffer view for binding.
func (m *VSIndividual) VertexBuffer() *sharedbuf.GPU { return m.vertices }

// IndexBuffer exposes the shared index buffer view for binding.
func (m *VSIndividual) IndexBuffer() *sharedbuf.GPU { return m.indices }

// Mesh looks up a previously registered mesh's Details.
func (m *VSIndividual) Mesh(idx uint32) (Details, bool) {
	d, ok := m.meshes.Get(idx)
	if !ok {
		return Details{}, false
	}
	return *d, true
}

// VertexStride returns the per-vertex byte size used to compute
// vkCmdDrawIndexed's firstVertex offsets from byte offsets.
func (m *VSIndividual) VertexStride() uint64 { return m.vertexStride }

// CleanUp destroys both shared buffers.
func (m *VSIndividual) CleanUp() {
	m.vertices.CleanUp()
	m.indices.CleanUp()
}

// VSIndirect extends VSIndividual with per-mesh AABBs and a per-bundle
// offset table, so a compute pass can cull and build an indirect draw
// stream without walking CPU-side mesh lists.
type VSIndirect struct {
	*VSIndividual
	bundleOffsets *ds.ReusableVector[[]uint32] // bundle index -> mesh indices, duplicated for O(1) GPU upload
}

// NewVSIndirect wraps a VSIndividual with the additional bookkeeping the
// indirect draw path needs.
func NewVSIndirect(device vk.Device, allocator *vkmemory.Allocator, vertexStride uint64, initialBytes uint64) (*VSIndirect, error) {
	base, err := NewVSIndividual(device, allocator, vertexStride, initialBytes)
	if err != nil {
		return nil, err
	}
	return &VSIndirect{VSIndividual: base, bundleOffsets: ds.NewReusableVector[[]uint32]()}, nil
}

// AddMeshBundle reserves the bundle's ranges as VSIndividual does (no bytes
// are copied) and additionally records, on the CPU side, bounds for each
// mesh and a bundle->mesh-index table for the culling compute shader.
func (m *VSIndirect) AddMeshBundle(verts [][]byte, indices [][]uint32, bounds []AABB) (uint32, []Details, error) {
	bundleIdx, details, err := m.VSIndividual.AddMeshBundle(verts, indices)
	if err != nil {
		return 0, nil, err
	}
	meshIndices := make([]uint32, len(details))
	for i := range details {
		if i < len(bounds) {
			details[i].Bounds = bounds[i]
			m.meshes.Set(details[i].Index, details[i])
		}
		meshIndices[i] = details[i].Index
	}
	gotIdx := m.bundleOffsets.Add(meshIndices)
	if gotIdx != bundleIdx {
		// bundles and bundleOffsets are kept index-aligned by construction;
		// a mismatch means a caller removed one without the other.
		return 0, nil, vkerr.New(vkerr.KindInvalidHandle, "mesh/indirect bundle index tables diverged")
	}
	return bundleIdx, details, nil
}

// RemoveMeshBundle releases the bundle from both the base manager and the
// bundle-offset table.
func (m *VSIndirect) RemoveMeshBundle(bundleIdx uint32) {
	m.VSIndividual.RemoveMeshBundle(bundleIdx)
	m.bundleOffsets.Remove(bundleIdx)
}

// MeshIndicesForBundle returns the mesh indices registered under bundleIdx.
func (m *VSIndirect) MeshIndicesForBundle(bundleIdx uint32) ([]uint32, bool) {
	v, ok := m.bundleOffsets.Get(bundleIdx)
	if !ok {
		return nil, false
	}
	return *v, true
}

// meshShaderVertexStride is fixed at 48 bytes (three vec4-aligned fields) so
// the mesh shader's storage-buffer reads stay 16-byte aligned regardless of
// the actual attribute layout, per the GLSL std430 packing rules.
const meshShaderVertexStride = 48

// MeshletRecord is one entry in the per-meshlet metadata buffer the mesh
// shader indexes to find its vertex/primitive index ranges.
type MeshletRecord struct {
	VertexOffset    uint32
	VertexCount     uint32
	PrimitiveOffset uint32
	PrimitiveCount  uint32
}

// MS is the mesh-shader variant: vertices are padded to a fixed 16-byte
// aligned stride, and two additional shared buffers hold per-meshlet vertex
// indices and packed primitive (triangle) indices.
type MS struct {
	vertices  *sharedbuf.GPU
	vtxIndex  *sharedbuf.GPU
	primIndex *sharedbuf.GPU
	meshlets  *sharedbuf.GPU

	meshes  *ds.ReusableVector[MSMeshDetails]
	bundles *ds.ReusableVector[bundleEntry]
}

// MSMeshDetails is the mesh-shader variant's per-mesh handle: beyond the
// vertex data it records where this mesh's meshlet records live.
type MSMeshDetails struct {
	Index         uint32
	VertexData    sharedbuf.Data
	VertexIndices sharedbuf.Data
	Primitives    sharedbuf.Data
	Meshlets      sharedbuf.Data
	MeshletCount  uint32
	Bounds        AABB
}

// NewMS creates the four shared buffers the mesh-shader pipeline reads.
func NewMS(device vk.Device, allocator *vkmemory.Allocator, initialBytes uint64) (*MS, error) {
	storage := vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit)
	vtx, err := sharedbuf.NewGPU(device, allocator, storage, initialBytes)
	if err != nil {
		return nil, err
	}
	vtxIdx, err := sharedbuf.NewGPU(device, allocator, storage, initialBytes/4)
	if err != nil {
		vtx.CleanUp()
		return nil, err
	}
	primIdx, err := sharedbuf.NewGPU(device, allocator, storage, initialBytes/4)
	if err != nil {
		vtx.CleanUp()
		vtxIdx.CleanUp()
		return nil, err
	}
	meshlets, err := sharedbuf.NewGPU(device, allocator, storage, initialBytes/8)
	if err != nil {
		vtx.CleanUp()
		vtxIdx.CleanUp()
		primIdx.CleanUp()
		return nil, err
	}
	return &MS{
		vertices:  vtx,
		vtxIndex:  vtxIdx,
		primIndex: primIdx,
		meshlets:  meshlets,
		meshes:    ds.NewReusableVector[MSMeshDetails](),
		bundles:   ds.NewReusableVector[bundleEntry](),
	}, nil
}

// MeshInput is one mesh's pre-meshletized data for the MS variant: vertices
// already padded to meshShaderVertexStride, plus per-meshlet index/primitive
// streams and records.
type MeshInput struct {
	PaddedVertices []byte // len must be a multiple of meshShaderVertexStride
	VertexIndices  []uint32
	Primitives     []byte // packed triangle indices, driver-defined encoding
	Meshlets       []MeshletRecord
	Bounds         AABB
}

// AddMeshBundle reserves vertex, vertex-index, primitive and meshlet ranges
// for a set of pre-meshletized meshes. It does not copy the input bytes into
// those ranges.
func (m *MS) AddMeshBundle(inputs []MeshInput) (uint32, []MSMeshDetails, error) {
	var entry bundleEntry
	var details []MSMeshDetails
	for _, in := range inputs {
		if len(in.PaddedVertices)%meshShaderVertexStride != 0 {
			return 0, nil, vkerr.New(vkerr.KindInvalidHandle, "padded vertex buffer not a multiple of %d bytes", meshShaderVertexStride)
		}
		vData, err := m.vertices.AllocateAndGetSharedData(uint64(len(in.PaddedVertices)))
		if err != nil {
			return 0, nil, err
		}
		idxBytes := make([]byte, len(in.VertexIndices)*4)
		for j, v := range in.VertexIndices {
			le32(idxBytes[j*4:], v)
		}
		vIdxData, err := m.vtxIndex.AllocateAndGetSharedData(uint64(len(idxBytes)))
		if err != nil {
			return 0, nil, err
		}
		primData, err := m.primIndex.AllocateAndGetSharedData(uint64(len(in.Primitives)))
		if err != nil {
			return 0, nil, err
		}
		mlBytes := make([]byte, len(in.Meshlets)*16)
		for j, rec := range in.Meshlets {
			le32(mlBytes[j*16:], rec.VertexOffset)
			le32(mlBytes[j*16+4:], rec.VertexCount)
			le32(mlBytes[j*16+8:], rec.PrimitiveOffset)
			le32(mlBytes[j*16+12:], rec.PrimitiveCount)
		}
		mlData, err := m.meshlets.AllocateAndGetSharedData(uint64(len(mlBytes)))
		if err != nil {
			return 0, nil, err
		}
		d := MSMeshDetails{
			VertexData:    vData,
			VertexIndices: vIdxData,
			Primitives:    primData,
			Meshlets:      mlData,
			MeshletCount:  uint32(len(in.Meshlets)),
			Bounds:        in.Bounds,
		}
		d.Index = m.meshes.Add(d)
		entry.meshIndices = append(entry.meshIndices, d.Index)
		details = append(details, d)
	}
	return m.bundles.Add(entry), details, nil
}

// RemoveMeshBundle releases every mesh registered under bundleIdx.
func (m *MS) RemoveMeshBundle(bundleIdx uint32) {
	entry, ok := m.bundles.Remove(bundleIdx)
	if !ok {
		return
	}
	for _, idx := range entry.meshIndices {
		if d, ok := m.meshes.Remove(idx); ok {
			m.vertices.RelinquishMemory(d.VertexData)
			m.vtxIndex.RelinquishMemory(d.VertexIndices)
			m.primIndex.RelinquishMemory(d.Primitives)
			m.meshlets.RelinquishMemory(d.Meshlets)
		}
	}
}

// CopyOldBuffers records any grow-copy pending across all four buffers.
func (m *MS) CopyOldBuffers(cmd vk.CommandBuffer) {
	m.vertices.CopyOldBuffer(cmd)
	m.vtxIndex.CopyOldBuffer(cmd)
	m.primIndex.CopyOldBuffer(cmd)
	m.meshlets.CopyOldBuffer(cmd)
}

// EndFrame clears the per-frame extend guard on all four buffers.
func (m *MS) EndFrame() {
	m.vertices.EndFrame()
	m.vtxIndex.EndFrame()
	m.primIndex.EndFrame()
	m.meshlets.EndFrame()
}

// Mesh looks up a previously registered mesh's Details.
func (m *MS) Mesh(idx uint32) (MSMeshDetails, bool) {
	d, ok := m.meshes.Get(idx)
	if !ok {
		return MSMeshDetails{}, false
	}
	return *d, true
}

// CleanUp destroys all four shared buffers.
func (m *MS) CleanUp() {
	m.vertices.CleanUp()
	m.vtxIndex.CleanUp()
	m.primIndex.CleanUp()
	m.meshlets.CleanUp()
}

func le32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
