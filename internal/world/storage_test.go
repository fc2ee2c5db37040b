package world

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func sampleHeights(n int, seed float32) []float32 {
	heights := make([]float32, n)
	for i := range heights {
		heights[i] = float32(math.Sin(float64(i)*0.37)) * seed
	}
	return heights
}

func TestTileCodecRoundTrip(t *testing.T) {
	heights := sampleHeights(129*129, 0.8)
	payload := EncodeTile(heights)
	if len(payload) == 0 {
		t.Fatalf("expected a payload")
	}
	decoded, err := DecodeTile(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, heights) {
		t.Fatalf("decoded heights mismatch")
	}
}

func TestTileCodecCompressesFlatTiles(t *testing.T) {
	heights := make([]float32, 64*64)
	payload := EncodeTile(heights)
	if len(payload) >= len(heights)*4 {
		t.Fatalf("expected flat tile to compress, got %d bytes for %d heights", len(payload), len(heights))
	}
}

func TestTileCodecRejectsGarbage(t *testing.T) {
	if _, err := DecodeTile([]byte("not a tile")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestTileCodecConstructorsPanicOnBadOptions(t *testing.T) {
	tests := []struct {
		name  string
		build func()
		want  string
	}{
		{"encoder", func() { mustTileEncoder(zstd.WithEncoderConcurrency(0)) }, "world: zstd encoder: concurrency must be at least 1"},
		{"decoder", func() { mustTileDecoder(zstd.WithDecoderConcurrency(-1)) }, "world: zstd decoder: concurrency must be at least 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if r := recover(); r != tt.want {
					t.Fatalf("panic = %v, want %q", r, tt.want)
				}
			}()
			tt.build()
		})
	}
	if tileEncoder == nil || tileDecoder == nil {
		t.Fatalf("package codec not initialised")
	}
}

func TestTileStores(t *testing.T) {
	dir := t.TempDir()
	backends := []struct {
		name string
		open func() (TileStore, error)
	}{
		{name: BackendMemory, open: func() (TileStore, error) { return OpenTileStore(BackendMemory, "") }},
		{name: BackendDisk, open: func() (TileStore, error) { return OpenTileStore(BackendDisk, filepath.Join(dir, "disk", "tiles.bin")) }},
		{name: BackendSQLite, open: func() (TileStore, error) { return OpenTileStore(BackendSQLite, filepath.Join(dir, "tiles.db")) }},
	}

	for _, backend := range backends {
		t.Run(backend.name, func(t *testing.T) {
			store, err := backend.open()
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer store.Close()

			keyA := TileKey{Offset: Offset{X: -3, Y: 12}, Fingerprint: 0xdeadbeefcafef00d}
			keyB := TileKey{Offset: Offset{X: -3, Y: 12}, Fingerprint: 1}
			heights := sampleHeights(25, 0.5)

			if _, ok, err := store.Load(keyA); err != nil || ok {
				t.Fatalf("load before save: ok=%v err=%v", ok, err)
			}
			if err := store.Save(keyA, heights); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, ok, err := store.Load(keyA)
			if err != nil || !ok {
				t.Fatalf("load after save: ok=%v err=%v", ok, err)
			}
			if !reflect.DeepEqual(got, heights) {
				t.Fatalf("loaded heights mismatch")
			}
			if _, ok, _ := store.Load(keyB); ok {
				t.Fatalf("tile leaked across fingerprints")
			}

			replaced := sampleHeights(25, -2)
			if err := store.Save(keyA, replaced); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, _, _ = store.Load(keyA)
			if !reflect.DeepEqual(got, replaced) {
				t.Fatalf("overwrite not visible")
			}
			if n, err := store.Len(); err != nil || n != 1 {
				t.Fatalf("Len = %d, %v; want 1", n, err)
			}

			if err := store.Save(keyB, heights); err != nil {
				t.Fatalf("save second fingerprint: %v", err)
			}
			if n, err := store.Len(); err != nil || n != 2 {
				t.Fatalf("Len = %d, %v; want 2", n, err)
			}
		})
	}
}

func TestDiskTileStoreReplaysLog(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("far offsets need 64-bit ints")
	}
	path := filepath.Join(t.TempDir(), "tiles.bin")

	store, err := NewDiskTileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	shift := 33
	near := TileKey{Offset: Offset{X: 7, Y: -7}, Fingerprint: 42}
	far := TileKey{Offset: Offset{X: 7 + 1<<shift, Y: -7 - 1<<shift}, Fingerprint: 42}
	heights := sampleHeights(16, 1)
	if err := store.Save(near, sampleHeights(16, 3)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(near, heights); err != nil {
		t.Fatalf("save: %v", err)
	}
	farHeights := sampleHeights(16, -4)
	if err := store.Save(far, farHeights); err != nil {
		t.Fatalf("save far: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewDiskTileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if n, err := reopened.Len(); err != nil || n != 2 {
		t.Fatalf("Len after replay = %d, %v; want 2", n, err)
	}
	got, ok, err := reopened.Load(near)
	if err != nil || !ok {
		t.Fatalf("load near: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, heights) {
		t.Fatalf("replayed tile is not the latest write")
	}
	got, ok, err = reopened.Load(far)
	if err != nil || !ok {
		t.Fatalf("load far: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(got, farHeights) {
		t.Fatalf("far tile aliased with a nearer offset")
	}
}

func TestDiskTileStoreRejectsUnknownOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.bin")
	header := encodeDiskHeader(9, TileKey{Offset: Offset{X: 1, Y: 2}, Fingerprint: 3}, 0)
	if err := os.WriteFile(path, header, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewDiskTileStore(path)
	if err == nil || err.Error() != "unknown tile record op 9 at 0" {
		t.Fatalf("error = %v, want unknown op", err)
	}
}

func TestDiskTileStoreRejectsTruncatedLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.bin")
	if err := os.WriteFile(path, []byte{diskOpSet, 1, 2}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := NewDiskTileStore(path)
	if err == nil || !strings.Contains(err.Error(), "truncated tile header") {
		t.Fatalf("expected truncated header error, got %v", err)
	}
}

func TestOpenTileStoreBackends(t *testing.T) {
	store, err := OpenTileStore(BackendNone, "")
	if err != nil || store != nil {
		t.Fatalf("none backend = %v, %v; want nil store", store, err)
	}
	tests := []struct {
		backend string
		wantErr string
	}{
		{backend: BackendDisk, wantErr: "disk tile store requires a path"},
		{backend: BackendSQLite, wantErr: "sqlite tile store requires a path"},
		{backend: "redis", wantErr: `unknown tile store backend "redis"`},
	}
	for _, tt := range tests {
		_, err := OpenTileStore(tt.backend, "")
		if err == nil || err.Error() != tt.wantErr {
			t.Fatalf("OpenTileStore(%q) error = %v, want %q", tt.backend, err, tt.wantErr)
		}
	}
}
