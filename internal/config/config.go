package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a JSON-friendly wrapper around time.Duration that accepts human
// readable strings such as "150ms" in configuration files while still
// allowing numeric representations when necessary.
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalJSON encodes the duration using the canonical string representation.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON decodes a duration from either a string (e.g. "250ms") or a
// numeric value representing nanoseconds. Empty strings and null values decode
// to zero.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("duration: empty value")
	}
	if string(b) == "null" {
		*d = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("duration: decode string: %w", err)
		}
		return d.parse(s)
	}
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(time.Duration(n))
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		*d = Duration(time.Duration(f))
		return nil
	}
	return fmt.Errorf("duration: invalid value %s", string(b))
}

// MarshalYAML mirrors MarshalJSON.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts the same forms as UnmarshalJSON.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: expected scalar at line %d", node.Line)
	}
	if node.Tag == "!!int" || node.Tag == "!!float" {
		var f float64
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("duration: decode number: %w", err)
		}
		*d = Duration(time.Duration(f))
		return nil
	}
	if node.Tag == "!!null" {
		*d = 0
		return nil
	}
	return d.parse(node.Value)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: parse %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config captures the tunable parameters of a terrain streaming server. It is
// treated as immutable once an engine has been built from it.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	Terrain TerrainConfig `json:"terrain" yaml:"terrain"`
	Noise   NoiseConfig   `json:"noise" yaml:"noise"`
	Network NetworkConfig `json:"network" yaml:"network"`
	Storage StorageConfig `json:"storage" yaml:"storage"`
	Preview PreviewConfig `json:"preview" yaml:"preview"`
}

type ServerConfig struct {
	ID               string    `json:"id" yaml:"id"`
	Description      string    `json:"description" yaml:"description"`
	FrameRate        Duration  `json:"frameRate" yaml:"frameRate"` // e.g. "33ms"
	InitialViewpoint Viewpoint `json:"initialViewpoint" yaml:"initialViewpoint"`
}

type Viewpoint struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

type TerrainConfig struct {
	Resolution      int `json:"resolution" yaml:"resolution"`           // quads per chunk edge
	ChunkCount      int `json:"chunkCount" yaml:"chunkCount"`           // fixed pool size
	ChunksPerFrame  int `json:"chunksPerFrame" yaml:"chunksPerFrame"`   // recompute budget
	ChangeThreshold int `json:"changeThreshold" yaml:"changeThreshold"` // cells of slack before recentering
	BatchSize       int `json:"batchSize" yaml:"batchSize"`             // vertices per parallel task
	Workers         int `json:"workers" yaml:"workers"`                 // 0 selects GOMAXPROCS*2
}

type NoiseConfig struct {
	Seed        int64   `json:"seed" yaml:"seed"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Lacunarity  float64 `json:"lacunarity" yaml:"lacunarity"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
	Amplitude   float64 `json:"amplitude" yaml:"amplitude"`
}

type NetworkConfig struct {
	Listen         string   `json:"listen" yaml:"listen"`                 // ":19100"
	Path           string   `json:"path" yaml:"path"`                     // websocket endpoint
	SendQueue      int      `json:"sendQueue" yaml:"sendQueue"`           // outbound messages buffered per client
	ViewpointRate  float64  `json:"viewpointRate" yaml:"viewpointRate"`   // inbound messages per second per client
	ViewpointBurst int      `json:"viewpointBurst" yaml:"viewpointBurst"` // burst allowance
	ReadTimeout    Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout   Duration `json:"writeTimeout" yaml:"writeTimeout"`
}

type StorageConfig struct {
	Backend string `json:"backend" yaml:"backend"` // none, memory, disk or sqlite
	Path    string `json:"path" yaml:"path"`
}

type PreviewConfig struct {
	Dir                string           `json:"dir" yaml:"dir"`     // empty disables previews
	Every              int              `json:"every" yaml:"every"` // frames between renders, 0 renders on shutdown only
	Blend              bool             `json:"blend" yaml:"blend"`
	GradientResolution int              `json:"gradientResolution" yaml:"gradientResolution"`
	Gradient           []GradientKeyRef `json:"gradient" yaml:"gradient"`
}

type GradientKeyRef struct {
	Time  float64 `json:"time" yaml:"time"`
	Color string  `json:"color" yaml:"color"`
}

// Load reads configuration from a JSON or YAML file if provided. An empty
// path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := Decode(data, filepath.Ext(path), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.ValidateSchema(); err != nil {
		return nil, fmt.Errorf("validate config schema: %w", err)
	}
	return cfg, nil
}

// Decode parses data into cfg, choosing YAML for .yaml/.yml extensions and
// JSON otherwise.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ID:          "terrain-0",
			Description: "local development terrain stream",
			FrameRate:   Duration(33 * time.Millisecond),
		},
		Terrain: TerrainConfig{
			Resolution:      127,
			ChunkCount:      25,
			ChunksPerFrame:  5,
			ChangeThreshold: 1,
			BatchSize:       512,
		},
		Noise: NoiseConfig{
			Seed:        1337,
			Frequency:   0.35,
			Octaves:     4,
			Lacunarity:  2.0,
			Persistence: 0.45,
			Amplitude:   1.0,
		},
		Network: NetworkConfig{
			Listen:         ":19100",
			Path:           "/ws",
			SendQueue:      32,
			ViewpointRate:  60,
			ViewpointBurst: 10,
			ReadTimeout:    Duration(60 * time.Second),
			WriteTimeout:   Duration(5 * time.Second),
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Preview: PreviewConfig{
			Blend:              true,
			GradientResolution: 256,
			Gradient: []GradientKeyRef{
				{Time: 0, Color: "#1d3f6e"},
				{Time: 0.3, Color: "#c2b280"},
				{Time: 0.45, Color: "#4f7942"},
				{Time: 0.7, Color: "#6b6256"},
				{Time: 1, Color: "#f4f4f4"},
			},
		},
	}
}

var hexColor = regexp.MustCompile(`^#?[0-9a-fA-F]{6}$`)

func (c *Config) Validate() error {
	if c.Server.ID == "" {
		return errors.New("server.id must be set")
	}
	if c.Server.FrameRate <= 0 {
		return errors.New("server.frameRate must be positive")
	}
	if r := c.Terrain.Resolution; r < 31 || r > 255 || (r+1)%32 != 0 {
		return errors.New("terrain.resolution must be 32k-1 between 31 and 255")
	}
	if c.Terrain.ChunkCount < 1 || c.Terrain.ChunkCount > 1000 {
		return errors.New("terrain.chunkCount must be between 1 and 1000")
	}
	if c.Terrain.ChunksPerFrame < 1 || c.Terrain.ChunksPerFrame > c.Terrain.ChunkCount {
		return errors.New("terrain.chunksPerFrame must be between 1 and terrain.chunkCount")
	}
	if c.Terrain.ChangeThreshold < 0 || c.Terrain.ChangeThreshold > 5 {
		return errors.New("terrain.changeThreshold must be between 0 and 5")
	}
	if c.Terrain.BatchSize <= 0 || c.Terrain.BatchSize%4 != 0 {
		return errors.New("terrain.batchSize must be a positive multiple of 4")
	}
	if c.Terrain.Workers < 0 {
		return errors.New("terrain.workers cannot be negative")
	}
	if c.Noise.Frequency < -10 || c.Noise.Frequency > 10 {
		return errors.New("noise.frequency must be between -10 and 10")
	}
	if c.Noise.Octaves < 1 || c.Noise.Octaves > 8 {
		return errors.New("noise.octaves must be between 1 and 8")
	}
	if c.Noise.Lacunarity < 1 || c.Noise.Lacunarity > 8 {
		return errors.New("noise.lacunarity must be between 1 and 8")
	}
	if c.Noise.Persistence < 0 || c.Noise.Persistence > 1 {
		return errors.New("noise.persistence must be between 0 and 1")
	}
	if c.Noise.Amplitude < 0 || c.Noise.Amplitude > 1 {
		return errors.New("noise.amplitude must be between 0 and 1")
	}
	if c.Network.Listen == "" {
		return errors.New("network.listen must be set")
	}
	if !strings.HasPrefix(c.Network.Path, "/") {
		return errors.New("network.path must start with /")
	}
	if c.Network.SendQueue <= 0 {
		return errors.New("network.sendQueue must be positive")
	}
	if c.Network.ViewpointRate <= 0 || c.Network.ViewpointBurst <= 0 {
		return errors.New("network viewpoint rate and burst must be positive")
	}
	switch c.Storage.Backend {
	case "none", "memory":
	case "disk", "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage.path must be set for disk and sqlite backends")
		}
	default:
		return errors.New("storage.backend must be one of none, memory, disk, sqlite")
	}
	if c.Preview.Every < 0 {
		return errors.New("preview.every cannot be negative")
	}
	switch c.Preview.GradientResolution {
	case 64, 128, 256:
	default:
		return errors.New("preview.gradientResolution must be 64, 128 or 256")
	}
	if len(c.Preview.Gradient) == 0 {
		return errors.New("preview.gradient must have at least one key")
	}
	for i, key := range c.Preview.Gradient {
		if key.Time < 0 || key.Time > 1 {
			return fmt.Errorf("preview.gradient[%d].time must be between 0 and 1", i)
		}
		if !hexColor.MatchString(key.Color) {
			return fmt.Errorf("preview.gradient[%d].color must be a #rrggbb color", i)
		}
	}
	return nil
}
