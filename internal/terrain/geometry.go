package terrain

import (
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"terrainstream/internal/world"
)

// Normals writes per-vertex normals for a (resolution+1)^2 height grid using
// central differences inside the grid and one-sided differences on its edges.
func Normals(heights []float32, resolution int, out []mgl32.Vec3) {
	count := world.VertexCount(resolution)
	if len(heights) < count || len(out) < count {
		panic(fmt.Sprintf("terrain: normals need %d vertices, got %d heights and %d normals", count, len(heights), len(out)))
	}
	side := resolution + 1
	res := float32(resolution)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			i := y*side + x
			dx := slope(heights, i, x, 1, side, res)
			dz := slope(heights, i, y, side, side, res)
			out[i] = mgl32.Vec3{-dx, 1, -dz}.Normalize()
		}
	}
}

// slope differentiates along one axis. coord is the vertex position on that
// axis and stride the index distance between neighbours.
func slope(heights []float32, i, coord, stride, side int, res float32) float32 {
	switch {
	case side < 2:
		return 0
	case coord == 0:
		return (heights[i+stride] - heights[i]) * res
	case coord == side-1:
		return (heights[i] - heights[i-stride]) * res
	default:
		return (heights[i+stride] - heights[i-stride]) * 0.5 * res
	}
}

// ElevationRange is the running min/max of every height merged since the last
// reset. It only ever widens.
type ElevationRange struct {
	Min   float32
	Max   float32
	valid bool
}

// Merge widens the range to include [lo, hi] and reports whether it changed.
func (r *ElevationRange) Merge(lo, hi float32) bool {
	if !r.valid {
		r.Min, r.Max, r.valid = lo, hi, true
		return true
	}
	changed := false
	if lo < r.Min {
		r.Min = lo
		changed = true
	}
	if hi > r.Max {
		r.Max = hi
		changed = true
	}
	return changed
}

func (r *ElevationRange) Reset() {
	*r = ElevationRange{}
}

// Bounds returns the range and whether anything has been merged yet.
func (r ElevationRange) Bounds() (float32, float32, bool) {
	return r.Min, r.Max, r.valid
}

// AssemblyReport describes one Assemble call.
type AssemblyReport struct {
	Slots   int
	Range   ElevationRange
	Widened bool
}

// Assembler turns recomputed heights into normals and maintains the global
// elevation range.
type Assembler struct {
	resolution int
	mu         sync.Mutex
	elevation  ElevationRange
}

func NewAssembler(resolution int) *Assembler {
	return &Assembler{resolution: resolution}
}

// Assemble computes normals for every job in parallel, then folds each job's
// local extremes into the elevation range once all of them are done.
func (a *Assembler) Assemble(jobs []Job) AssemblyReport {
	type extremes struct {
		lo, hi float32
	}
	local := make([]extremes, len(jobs))

	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(i int, mesh *world.Mesh) {
			defer wg.Done()
			Normals(mesh.Heights, a.resolution, mesh.Normals)
			lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
			for _, h := range mesh.Heights {
				lo = min(lo, h)
				hi = max(hi, h)
			}
			local[i] = extremes{lo: lo, hi: hi}
		}(i, job.Mesh)
	}
	wg.Wait()

	a.mu.Lock()
	defer a.mu.Unlock()
	widened := false
	for _, e := range local {
		if a.elevation.Merge(e.lo, e.hi) {
			widened = true
		}
	}
	return AssemblyReport{Slots: len(jobs), Range: a.elevation, Widened: widened}
}

// Range returns the current elevation range.
func (a *Assembler) Range() ElevationRange {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.elevation
}

// Reset clears the elevation range. Called when the pool is re-initialised.
func (a *Assembler) Reset() {
	a.mu.Lock()
	a.elevation.Reset()
	a.mu.Unlock()
}
