package terrain

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"terrainstream/internal/config"
)

// Fingerprint identifies the inputs that determine a chunk's heights apart
// from its offset. Cached tiles are only reused under the same fingerprint.
func Fingerprint(resolution int, cfg config.NoiseConfig) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	write := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	write(uint64(resolution))
	write(uint64(cfg.Seed))
	write(math.Float64bits(cfg.Frequency))
	write(uint64(cfg.Octaves))
	write(math.Float64bits(cfg.Lacunarity))
	write(math.Float64bits(cfg.Persistence))
	write(math.Float64bits(cfg.Amplitude))
	return h.Sum64()
}
