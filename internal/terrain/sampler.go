package terrain

import "terrainstream/internal/world"

// SamplePosition maps vertex index of a chunk at origin to the world position
// the noise field is sampled at. The chunk covers the unit cell centred on its
// origin, so neighbouring chunks share their edge samples exactly.
func SamplePosition(origin world.Offset, index, resolution int) (float64, float64) {
	x, y := world.VertexCoord(index, resolution)
	res := float64(resolution)
	return lerp(float64(origin.X)-0.5, float64(origin.X)+0.5, float64(x)/res),
		lerp(float64(origin.Y)-0.5, float64(origin.Y)+0.5, float64(y)/res)
}

// sampleRange writes field samples for vertices [start, end) of one chunk,
// four at a time with a scalar tail.
func sampleRange(field *Field, origin world.Offset, resolution int, heights []float32, start, end int) {
	i := start
	for ; i+4 <= end; i += 4 {
		var xs, ys [4]float64
		for lane := 0; lane < 4; lane++ {
			xs[lane], ys[lane] = SamplePosition(origin, i+lane, resolution)
		}
		values := field.Sample4(xs, ys)
		for lane, v := range values {
			heights[i+lane] = float32(v)
		}
	}
	for ; i < end; i++ {
		x, y := SamplePosition(origin, i, resolution)
		heights[i] = float32(field.Sample(x, y))
	}
}
