package world

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sort"
)

// GradientKey is a color stop at a normalized time in [0, 1].
type GradientKey struct {
	Time  float64
	Color color.NRGBA
}

// Gradient maps normalized elevation to color. It keeps both the key list and
// a precomputed lookup strip of the configured resolution.
type Gradient struct {
	keys  []GradientKey
	blend bool
	strip []color.NRGBA
}

// NewGradient builds a gradient from keys. With blend unset the color of the
// next key to the right is used, producing hard bands.
func NewGradient(keys []GradientKey, blend bool, resolution int) (*Gradient, error) {
	if len(keys) == 0 {
		return nil, errors.New("gradient needs at least one key")
	}
	if resolution < 2 {
		return nil, fmt.Errorf("gradient resolution must be at least 2, got %d", resolution)
	}
	sorted := append([]GradientKey(nil), keys...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	g := &Gradient{keys: sorted, blend: blend}
	g.strip = make([]color.NRGBA, resolution)
	for i := range g.strip {
		g.strip[i] = g.Evaluate(float64(i) / float64(resolution-1))
	}
	return g, nil
}

// NewGradientFromHex builds a gradient from parallel time and "#rrggbb" lists.
func NewGradientFromHex(times []float64, colors []string, blend bool, resolution int) (*Gradient, error) {
	if len(times) != len(colors) {
		return nil, fmt.Errorf("gradient has %d times for %d colors", len(times), len(colors))
	}
	keys := make([]GradientKey, len(times))
	for i := range times {
		col, ok := parseHexColor(colors[i])
		if !ok {
			return nil, fmt.Errorf("gradient key %d: invalid color %q", i, colors[i])
		}
		keys[i] = GradientKey{Time: times[i], Color: col}
	}
	return NewGradient(keys, blend, resolution)
}

// DefaultGradient runs from deep water through sand and grass to snow.
func DefaultGradient() *Gradient {
	g, _ := NewGradientFromHex(
		[]float64{0, 0.3, 0.45, 0.7, 1},
		[]string{"#1d3f6e", "#c2b280", "#4f7942", "#6b6256", "#f4f4f4"},
		true,
		256,
	)
	return g
}

// Evaluate computes the color at t directly from the keys.
func (g *Gradient) Evaluate(t float64) color.NRGBA {
	left := g.keys[0]
	right := g.keys[len(g.keys)-1]
	for _, key := range g.keys {
		if key.Time < t {
			left = key
		}
		if key.Time > t {
			right = key
			break
		}
	}
	if !g.blend {
		return right.Color
	}
	return lerpColor(left.Color, right.Color, inverseLerp(left.Time, right.Time, t))
}

// Lookup samples the precomputed strip, clamping t to [0, 1].
func (g *Gradient) Lookup(t float64) color.NRGBA {
	t = clamp(t, 0, 1)
	idx := int(math.Round(t * float64(len(g.strip)-1)))
	return g.strip[idx]
}

// Strip returns the precomputed lookup colors.
func (g *Gradient) Strip() []color.NRGBA {
	return append([]color.NRGBA(nil), g.strip...)
}

func inverseLerp(a, b, v float64) float64 {
	if a == b {
		return 0
	}
	return clamp((v-a)/(b-a), 0, 1)
}

func lerpColor(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t))
	}
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}
