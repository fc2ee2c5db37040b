package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestValidateDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
	if err := cfg.ValidateSchema(); err != nil {
		t.Fatalf("default configuration should match the schema: %v", err)
	}
}

func TestValidateDetectsInvalidConfigurations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing server id",
			mutate:  func(cfg *Config) { cfg.Server.ID = "" },
			wantErr: "server.id must be set",
		},
		{
			name:    "zero frame rate",
			mutate:  func(cfg *Config) { cfg.Server.FrameRate = 0 },
			wantErr: "server.frameRate must be positive",
		},
		{
			name:    "resolution not 32k-1",
			mutate:  func(cfg *Config) { cfg.Terrain.Resolution = 100 },
			wantErr: "terrain.resolution must be 32k-1 between 31 and 255",
		},
		{
			name:    "resolution too large",
			mutate:  func(cfg *Config) { cfg.Terrain.Resolution = 287 },
			wantErr: "terrain.resolution must be 32k-1 between 31 and 255",
		},
		{
			name:    "zero chunk count",
			mutate:  func(cfg *Config) { cfg.Terrain.ChunkCount = 0 },
			wantErr: "terrain.chunkCount must be between 1 and 1000",
		},
		{
			name:    "budget above chunk count",
			mutate:  func(cfg *Config) { cfg.Terrain.ChunksPerFrame = 26 },
			wantErr: "terrain.chunksPerFrame must be between 1 and terrain.chunkCount",
		},
		{
			name:    "zero budget",
			mutate:  func(cfg *Config) { cfg.Terrain.ChunksPerFrame = 0 },
			wantErr: "terrain.chunksPerFrame must be between 1 and terrain.chunkCount",
		},
		{
			name:    "threshold too large",
			mutate:  func(cfg *Config) { cfg.Terrain.ChangeThreshold = 6 },
			wantErr: "terrain.changeThreshold must be between 0 and 5",
		},
		{
			name:    "batch size not multiple of four",
			mutate:  func(cfg *Config) { cfg.Terrain.BatchSize = 510 },
			wantErr: "terrain.batchSize must be a positive multiple of 4",
		},
		{
			name:    "negative terrain workers",
			mutate:  func(cfg *Config) { cfg.Terrain.Workers = -1 },
			wantErr: "terrain.workers cannot be negative",
		},
		{
			name:    "octaves out of range",
			mutate:  func(cfg *Config) { cfg.Noise.Octaves = 9 },
			wantErr: "noise.octaves must be between 1 and 8",
		},
		{
			name:    "lacunarity below one",
			mutate:  func(cfg *Config) { cfg.Noise.Lacunarity = 0.5 },
			wantErr: "noise.lacunarity must be between 1 and 8",
		},
		{
			name:    "persistence above one",
			mutate:  func(cfg *Config) { cfg.Noise.Persistence = 1.5 },
			wantErr: "noise.persistence must be between 0 and 1",
		},
		{
			name:    "missing network listen address",
			mutate:  func(cfg *Config) { cfg.Network.Listen = "" },
			wantErr: "network.listen must be set",
		},
		{
			name:    "relative websocket path",
			mutate:  func(cfg *Config) { cfg.Network.Path = "ws" },
			wantErr: "network.path must start with /",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(cfg *Config) { cfg.Storage.Backend = "redis" },
			wantErr: "storage.backend must be one of none, memory, disk, sqlite",
		},
		{
			name:    "sqlite without path",
			mutate:  func(cfg *Config) { cfg.Storage.Backend = "sqlite" },
			wantErr: "storage.path must be set for disk and sqlite backends",
		},
		{
			name:    "bad gradient resolution",
			mutate:  func(cfg *Config) { cfg.Preview.GradientResolution = 100 },
			wantErr: "preview.gradientResolution must be 64, 128 or 256",
		},
		{
			name:    "bad gradient color",
			mutate:  func(cfg *Config) { cfg.Preview.Gradient[2].Color = "green" },
			wantErr: "preview.gradient[2].color must be a #rrggbb color",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected an error, got nil")
			}
			if err.Error() != tt.wantErr {
				t.Fatalf("unexpected error: got %q want %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSchemaRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	if err := cfg.ValidateSchema(); err == nil {
		t.Fatalf("expected schema validation to fail")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if want := Default(); !reflect.DeepEqual(cfg, want) {
		t.Fatalf("default configuration mismatch:\nwant: %#v\n got: %#v", want, cfg)
	}
}

func TestLoadReadsJSONAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Server.Description = "custom description"
	cfg.Network.Listen = ":9999"
	cfg.Terrain.Resolution = 63

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Fatalf("loaded configuration mismatch:\nwant: %#v\n got: %#v", cfg, got)
	}
}

func TestLoadReadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terrain.yaml")
	doc := `
server:
  id: yaml-terrain
  frameRate: 16ms
  initialViewpoint: {x: 3.5, y: -2}
terrain:
  resolution: 31
  chunkCount: 9
  chunksPerFrame: 3
noise:
  seed: 7
  octaves: 2
storage:
  backend: none
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Server.ID != "yaml-terrain" || cfg.Server.FrameRate.Duration() != 16*time.Millisecond {
		t.Fatalf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Server.InitialViewpoint != (Viewpoint{X: 3.5, Y: -2}) {
		t.Fatalf("initial viewpoint = %+v", cfg.Server.InitialViewpoint)
	}
	if cfg.Terrain.ChunkCount != 9 || cfg.Terrain.ChunksPerFrame != 3 || cfg.Terrain.BatchSize != 512 {
		t.Fatalf("terrain section = %+v", cfg.Terrain)
	}
	if cfg.Noise.Seed != 7 || cfg.Noise.Octaves != 2 || cfg.Noise.Lacunarity != 2.0 {
		t.Fatalf("noise section = %+v", cfg.Noise)
	}
}

func TestDurationYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if !strings.Contains(string(data), "frameRate: 33ms") {
		t.Fatalf("frame rate should be written as a duration string:\n%s", data)
	}
	var decoded Config
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal yaml: %v", err)
	}
	if !reflect.DeepEqual(&decoded, cfg) {
		t.Fatalf("yaml round trip mismatch:\nwant: %#v\n got: %#v", cfg, &decoded)
	}
}

func TestDurationAcceptsNumbers(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte("1000000"), &d); err != nil {
		t.Fatalf("unmarshal json number: %v", err)
	}
	if d.Duration() != time.Millisecond {
		t.Fatalf("json duration = %v", d.Duration())
	}
	if err := yaml.Unmarshal([]byte("2000000"), &d); err != nil {
		t.Fatalf("unmarshal yaml number: %v", err)
	}
	if d.Duration() != 2*time.Millisecond {
		t.Fatalf("yaml duration = %v", d.Duration())
	}
}

func TestLoadInvalidConfiguration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.Terrain.ChunksPerFrame = cfg.Terrain.ChunkCount + 1

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err = Load(path)
	if err == nil {
		t.Fatalf("expected load to fail")
	}
	if !strings.Contains(err.Error(), "validate config: terrain.chunksPerFrame must be between 1 and terrain.chunkCount") {
		t.Fatalf("unexpected error: %v", err)
	}
}
