// Package meshsource decodes glTF/GLB assets into the raw vertex/index
// streams the mesh managers consume. Grounded on
// mrigankad-gorenderengine/scene/gltf_loader.go's use of qmuntal/gltf and
// qmuntal/gltf/modeler, adapted to emit flat byte buffers keyed by the
// render core's fixed vertex layout instead of an intermediate scene graph.
package meshsource

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/andewx/vkforge/internal/mesh"
)

// VertexStride matches mesh.VSIndividual's assumed 48-byte interleaved
// layout: position (vec3), normal (vec3), uv (vec2), padded to 16-byte
// alignment for storage-buffer access from the vertex shader.
const VertexStride = 48

// MeshPrimitive is one decoded glTF primitive, ready to hand to a mesh
// manager's AddMeshBundle.
type MeshPrimitive struct {
	Name        string
	Vertices    []byte // VertexStride-strided interleaved pos/normal/uv
	Indices     []uint32
	MaterialIdx int // -1 if the primitive has no material
	Bounds      mesh.AABB
}

// Load opens a .glb or .gltf file and flattens every mesh primitive into a
// MeshPrimitive, ready for mesh.VSIndividual.AddMeshBundle or, after
// computing AABBs per mesh.AABB, mesh.VSIndirect.AddMeshBundle.
func Load(path string) ([]MeshPrimitive, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("meshsource: open %q: %w", path, err)
	}

	var out []MeshPrimitive
	for mi, gm := range doc.Meshes {
		for pi, prim := range gm.Primitives {
			p, err := loadPrimitive(doc, gm.Name, pi, prim)
			if err != nil {
				return nil, fmt.Errorf("meshsource: mesh %d prim %d: %w", mi, pi, err)
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func loadPrimitive(doc *gltf.Document, meshName string, primIdx int, prim *gltf.Primitive) (MeshPrimitive, error) {
	name := fmt.Sprintf("%s_p%d", meshName, primIdx)

	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return MeshPrimitive{}, fmt.Errorf("no POSITION attribute")
	}
	positions, err := modeler.ReadPosition(doc, doc.Accessors[posIdx], nil)
	if err != nil {
		return MeshPrimitive{}, fmt.Errorf("positions: %w", err)
	}

	var normals [][3]float32
	var uvs [][2]float32
	if idx, ok := prim.Attributes["NORMAL"]; ok {
		normals, _ = modeler.ReadNormal(doc, doc.Accessors[idx], nil)
	}
	if idx, ok := prim.Attributes["TEXCOORD_0"]; ok {
		uvs, _ = modeler.ReadTextureCoord(doc, doc.Accessors[idx], nil)
	}

	vertexBytes := make([]byte, len(positions)*VertexStride)
	bounds := mesh.AABB{
		Min: [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
	for i, p := range positions {
		off := i * VertexStride
		putFloat3(vertexBytes[off:], p)
		for axis := 0; axis < 3; axis++ {
			if p[axis] < bounds.Min[axis] {
				bounds.Min[axis] = p[axis]
			}
			if p[axis] > bounds.Max[axis] {
				bounds.Max[axis] = p[axis]
			}
		}
		if i < len(normals) {
			putFloat3(vertexBytes[off+16:], normals[i])
		}
		if i < len(uvs) {
			putFloat2(vertexBytes[off+32:], uvs[i])
		}
	}

	var indices []uint32
	if prim.Indices != nil {
		indices, err = modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
		if err != nil {
			return MeshPrimitive{}, fmt.Errorf("indices: %w", err)
		}
	}

	matIdx := -1
	if prim.Material != nil {
		matIdx = *prim.Material
	}

	return MeshPrimitive{Name: name, Vertices: vertexBytes, Indices: indices, MaterialIdx: matIdx, Bounds: bounds}, nil
}

func putFloat3(dst []byte, v [3]float32) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v[1]))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v[2]))
}

func putFloat2(dst []byte, v [2]float32) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v[0]))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v[1]))
}

// ToMeshBundle flattens a slice of decoded primitives into the parallel
// vertex/index slices mesh.VSIndividual.AddMeshBundle expects.
func ToMeshBundle(prims []MeshPrimitive) ([][]byte, [][]uint32) {
	verts := make([][]byte, len(prims))
	indices := make([][]uint32, len(prims))
	for i, p := range prims {
		verts[i] = p.Vertices
		indices[i] = p.Indices
	}
	return verts, indices
}

// Bounds extracts the per-primitive AABBs in order, for
// mesh.VSIndirect.AddMeshBundle.
func Bounds(prims []MeshPrimitive) []mesh.AABB {
	bounds := make([]mesh.AABB, len(prims))
	for i, p := range prims {
		bounds[i] = p.Bounds
	}
	return bounds
}
