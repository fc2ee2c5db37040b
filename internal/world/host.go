package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Mesh is the render-side buffer set owned by one pool slot.
type Mesh struct {
	Origin  Offset
	Heights []float32
	Normals []mgl32.Vec3
}

// ResourceHost owns the per-slot geometry buffers and render origins.
type ResourceHost interface {
	// Mesh returns the mutable buffers for a slot.
	Mesh(id SlotID) (*Mesh, error)
	// Place moves the render origin of a slot to a new grid offset.
	Place(id SlotID, origin Offset)
}

// MeshHost is an in-memory ResourceHost. Buffers are sized once and never
// reallocated; each slot's buffers are written by at most one goroutine at a
// time, so the host does no locking of its own.
type MeshHost struct {
	resolution int
	meshes     []*Mesh
	triangles  []uint32
}

func NewMeshHost(slots, resolution int) *MeshHost {
	count := VertexCount(resolution)
	meshes := make([]*Mesh, slots)
	for i := range meshes {
		meshes[i] = &Mesh{
			Heights: make([]float32, count),
			Normals: make([]mgl32.Vec3, count),
		}
	}
	return &MeshHost{
		resolution: resolution,
		meshes:     meshes,
		triangles:  buildTriangles(resolution),
	}
}

func (h *MeshHost) Mesh(id SlotID) (*Mesh, error) {
	if int(id) < 0 || int(id) >= len(h.meshes) {
		return nil, fmt.Errorf("mesh for slot %d: %w", id, ErrSlotRange)
	}
	return h.meshes[id], nil
}

func (h *MeshHost) Place(id SlotID, origin Offset) {
	if int(id) < 0 || int(id) >= len(h.meshes) {
		panic(fmt.Sprintf("world: place slot %d outside host of %d", id, len(h.meshes)))
	}
	h.meshes[id].Origin = origin
}

// Resolution is the number of quads along one chunk edge.
func (h *MeshHost) Resolution() int {
	return h.resolution
}

// Triangles returns the index buffer shared by every chunk mesh.
func (h *MeshHost) Triangles() []uint32 {
	return h.triangles
}

// Vertex returns the local position of a vertex. The chunk spans one grid
// unit centred on its origin.
func (h *MeshHost) Vertex(id SlotID, index int) (mgl32.Vec3, error) {
	mesh, err := h.Mesh(id)
	if err != nil {
		return mgl32.Vec3{}, err
	}
	x, y := VertexCoord(index, h.resolution)
	step := 1 / float32(h.resolution)
	return mgl32.Vec3{float32(x)*step - 0.5, mesh.Heights[index], float32(y)*step - 0.5}, nil
}

func buildTriangles(resolution int) []uint32 {
	if resolution <= 0 {
		return nil
	}
	side := uint32(resolution + 1)
	triangles := make([]uint32, 0, resolution*resolution*6)
	for y := 0; y < resolution; y++ {
		for x := 0; x < resolution; x++ {
			i := uint32(y)*side + uint32(x)
			triangles = append(triangles,
				i, i+side, i+1,
				i+1, i+side, i+side+1,
			)
		}
	}
	return triangles
}
