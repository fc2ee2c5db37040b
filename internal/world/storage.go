package world

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// TileKey addresses a cached height tile. Fingerprint identifies the terrain
// parameters the tile was sampled with, so tiles never leak across configs.
type TileKey struct {
	Offset      Offset
	Fingerprint uint64
}

// TileStore persists sampled height tiles keyed by offset and fingerprint.
type TileStore interface {
	Load(key TileKey) ([]float32, bool, error)
	Save(key TileKey, heights []float32) error
	// Len reports how many tiles the store holds across all fingerprints.
	Len() (int, error)
	Close() error
}

// Tile store backends accepted by OpenTileStore.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
)

// OpenTileStore opens the named backend. BackendNone yields a nil store,
// which disables tile caching.
func OpenTileStore(backend, path string) (TileStore, error) {
	switch backend {
	case "", BackendNone:
		return nil, nil
	case BackendMemory:
		return NewMemoryTileStore(), nil
	case BackendDisk:
		if path == "" {
			return nil, errors.New("disk tile store requires a path")
		}
		return NewDiskTileStore(path)
	case BackendSQLite:
		if path == "" {
			return nil, errors.New("sqlite tile store requires a path")
		}
		return NewSQLiteTileStore(path)
	default:
		return nil, fmt.Errorf("unknown tile store backend %q", backend)
	}
}

const tileMagic = "TLE1"

var (
	tileEncoder = mustTileEncoder(zstd.WithEncoderLevel(zstd.SpeedFastest))
	tileDecoder = mustTileDecoder()
)

func mustTileEncoder(opts ...zstd.EOption) *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		panic(fmt.Sprintf("world: zstd encoder: %v", err))
	}
	return enc
}

func mustTileDecoder(opts ...zstd.DOption) *zstd.Decoder {
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		panic(fmt.Sprintf("world: zstd decoder: %v", err))
	}
	return dec
}

// EncodeTile packs heights as little-endian float32 values and compresses
// them with zstd.
func EncodeTile(heights []float32) []byte {
	raw := make([]byte, len(tileMagic)+4+4*len(heights))
	copy(raw, tileMagic)
	binary.LittleEndian.PutUint32(raw[len(tileMagic):], uint32(len(heights)))
	body := raw[len(tileMagic)+4:]
	for i, h := range heights {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(h))
	}
	return tileEncoder.EncodeAll(raw, nil)
}

// DecodeTile reverses EncodeTile.
func DecodeTile(payload []byte) ([]float32, error) {
	raw, err := tileDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress tile: %w", err)
	}
	header := len(tileMagic) + 4
	if len(raw) < header || !bytes.Equal(raw[:len(tileMagic)], []byte(tileMagic)) {
		return nil, errors.New("tile payload has no header")
	}
	count := int(binary.LittleEndian.Uint32(raw[len(tileMagic):header]))
	if len(raw)-header != count*4 {
		return nil, fmt.Errorf("tile payload holds %d bytes for %d heights", len(raw)-header, count)
	}
	heights := make([]float32, count)
	for i := range heights {
		heights[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[header+i*4:]))
	}
	return heights, nil
}
