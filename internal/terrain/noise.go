package terrain

import (
	"math"

	"terrainstream/internal/config"
)

// Field samples repeatable fractal value noise. It holds no mutable state and
// is safe for concurrent use.
type Field struct {
	seed        int64
	frequency   float64
	octaves     int
	lacunarity  float64
	persistence float64
	amplitude   float64
}

func NewField(cfg config.NoiseConfig) *Field {
	octaves := cfg.Octaves
	if octaves < 1 {
		octaves = 1
	}
	return &Field{
		seed:        cfg.Seed,
		frequency:   cfg.Frequency,
		octaves:     octaves,
		lacunarity:  cfg.Lacunarity,
		persistence: cfg.Persistence,
		amplitude:   cfg.Amplitude,
	}
}

// Sample returns the normalized octave sum at a world position. The result
// stays within the range of the value noise primitive, [-1, 1].
func (f *Field) Sample(x, y float64) float64 {
	frequency := f.frequency
	amplitude := f.amplitude
	value := f.valueNoise(x*frequency, y*frequency) * amplitude
	valueRange := amplitude
	for o := 1; o < f.octaves; o++ {
		frequency *= f.lacunarity
		amplitude *= f.persistence
		valueRange += amplitude
		value += f.valueNoise(x*frequency, y*frequency) * amplitude
	}
	if valueRange == 0 {
		return 0
	}
	return value / valueRange
}

// Sample4 evaluates four positions in lockstep, one octave at a time.
func (f *Field) Sample4(xs, ys [4]float64) [4]float64 {
	var value [4]float64
	frequency := f.frequency
	amplitude := f.amplitude
	valueRange := 0.0
	for o := 0; o < f.octaves; o++ {
		if o > 0 {
			frequency *= f.lacunarity
			amplitude *= f.persistence
		}
		valueRange += amplitude
		for lane := range value {
			value[lane] += f.valueNoise(xs[lane]*frequency, ys[lane]*frequency) * amplitude
		}
	}
	if valueRange == 0 {
		return [4]float64{}
	}
	for lane := range value {
		value[lane] /= valueRange
	}
	return value
}

func (f *Field) valueNoise(x, y float64) float64 {
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	x1 := x0 + 1
	y1 := y0 + 1

	sx := smooth(x - float64(x0))
	sy := smooth(y - float64(y0))

	n0 := random2D(x0, y0, f.seed)
	n1 := random2D(x1, y0, f.seed)
	ix0 := lerp(n0, n1, sx)

	n2 := random2D(x0, y1, f.seed)
	n3 := random2D(x1, y1, f.seed)
	ix1 := lerp(n2, n3, sx)

	return lerp(ix0, ix1, sy)
}

func smooth(t float64) float64 {
	return t * t * (3 - 2*t)
}

func lerp(a, b, t float64) float64 {
	return a + t*(b-a)
}

func random2D(x, y int, seed int64) float64 {
	return float64(hash3(x, y, int(seed))&0xFFFF)/0x8000 - 1.0
}

func hash3(x, y, z int) uint32 {
	h := uint32(x*374761393 + y*668265263 + z*2147483647)
	h = (h ^ (h >> 13)) * 1274126177
	return h ^ (h >> 16)
}
