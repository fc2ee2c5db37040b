package world

import (
	"fmt"
	"math"
)

// SpiralPosition returns the grid offset of the n-th cell of a square spiral
// around the origin. Ring m holds 8m cells: it walks the right edge from
// (m, 1-m) up to (m, m), then the top, left and bottom edges, ending at (m, -m).
func SpiralPosition(n int) Offset {
	if n < 0 {
		panic(fmt.Sprintf("world: negative spiral index %d", n))
	}
	m := (isqrt(n) + 1) / 2
	k := n - 4*m*(m-1)
	switch {
	case k <= 2*m:
		return Offset{X: m, Y: k - m}
	case k <= 4*m:
		return Offset{X: 3*m - k, Y: m}
	case k <= 6*m:
		return Offset{X: -m, Y: 5*m - k}
	default:
		return Offset{X: k - 7*m, Y: -m}
	}
}

// SpiralIndex is the inverse of SpiralPosition.
func SpiralIndex(o Offset) int {
	m := Ring(o)
	base := 4 * m * (m - 1)
	switch {
	case o.X == m && o.Y != -m:
		return base + m + o.Y
	case o.Y == m:
		return base + 3*m - o.X
	case o.X == -m:
		return base + 5*m - o.Y
	default:
		return base + 7*m + o.X
	}
}

// Ring returns the Chebyshev distance of o from the origin.
func Ring(o Offset) int {
	return max(abs(o.X), abs(o.Y))
}

// SpiralPattern returns the first n spiral offsets.
func SpiralPattern(n int) []Offset {
	if n <= 0 {
		return nil
	}
	pattern := make([]Offset, n)
	for i := range pattern {
		pattern[i] = SpiralPosition(i)
	}
	return pattern
}

func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
