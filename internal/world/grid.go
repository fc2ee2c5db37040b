package world

import (
	"fmt"
	"math"
)

// Offset identifies a chunk cell in the global chunk grid. It is comparable
// and used directly as a map key.
type Offset struct {
	X int
	Y int
}

// Add translates o by d.
func (o Offset) Add(d Offset) Offset {
	return Offset{X: o.X + d.X, Y: o.Y + d.Y}
}

// Sub returns the offset of o relative to origin.
func (o Offset) Sub(origin Offset) Offset {
	return Offset{X: o.X - origin.X, Y: o.Y - origin.Y}
}

func (o Offset) String() string {
	return fmt.Sprintf("(%d,%d)", o.X, o.Y)
}

// Float2 is a continuous position in chunk units.
type Float2 struct {
	X float64
	Y float64
}

// Round snaps the position to the nearest grid cell.
func (f Float2) Round() Offset {
	return Offset{X: int(math.Round(f.X)), Y: int(math.Round(f.Y))}
}

// Outside reports whether f lies further than threshold+0.5 from the centre
// of cell on either axis.
func (f Float2) Outside(cell Offset, threshold float64) bool {
	limit := threshold + 0.5
	return math.Abs(f.X-float64(cell.X)) > limit || math.Abs(f.Y-float64(cell.Y)) > limit
}

// VertexCount is the number of vertices in a chunk grid of the given resolution.
func VertexCount(resolution int) int {
	side := resolution + 1
	return side * side
}

// VertexCoord maps a vertex index to its (x, y) position on the chunk grid.
func VertexCoord(index, resolution int) (int, int) {
	side := resolution + 1
	if index < 0 || index >= side*side {
		panic(fmt.Sprintf("world: vertex index %d outside %dx%d grid", index, side, side))
	}
	return index % side, index / side
}

// VertexIndex is the inverse of VertexCoord.
func VertexIndex(x, y, resolution int) int {
	side := resolution + 1
	if x < 0 || y < 0 || x >= side || y >= side {
		panic(fmt.Sprintf("world: vertex (%d,%d) outside %dx%d grid", x, y, side, side))
	}
	return y*side + x
}
