package server

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"terrainstream/internal/config"
	"terrainstream/internal/terrain"
	"terrainstream/internal/world"
)

// ElevationUniform holds the elevation range the way a material uniform
// would: two floats, overwritten after each frame.
type ElevationUniform struct {
	mu  sync.RWMutex
	min float32
	max float32
	set bool
}

func (u *ElevationUniform) SetElevationRange(r terrain.ElevationRange) {
	lo, hi, ok := r.Bounds()
	if !ok {
		return
	}
	u.mu.Lock()
	u.min, u.max, u.set = lo, hi, true
	u.mu.Unlock()
}

// Value returns the last range and whether one was ever published.
func (u *ElevationUniform) Value() (float32, float32, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.min, u.max, u.set
}

// previewWriter renders heightmap PNGs, normalised by the published
// elevation range.
type previewWriter struct {
	ElevationUniform
	dir        string
	every      int
	resolution int
	gradient   *world.Gradient
	logger     *log.Logger
}

// newPreviewWriter returns nil when previews are disabled.
func newPreviewWriter(cfg config.PreviewConfig, resolution int, logger *log.Logger) (*previewWriter, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	times := make([]float64, len(cfg.Gradient))
	colors := make([]string, len(cfg.Gradient))
	for i, key := range cfg.Gradient {
		times[i] = key.Time
		colors[i] = key.Color
	}
	gradient, err := world.NewGradientFromHex(times, colors, cfg.Blend, cfg.GradientResolution)
	if err != nil {
		return nil, fmt.Errorf("preview gradient: %w", err)
	}
	return &previewWriter{
		dir:        cfg.Dir,
		every:      cfg.Every,
		resolution: resolution,
		gradient:   gradient,
		logger:     logger,
	}, nil
}

func (p *previewWriter) due(frame uint64) bool {
	return p != nil && p.every > 0 && frame%uint64(p.every) == 0
}

// Write renders tiles to dir/frame-NNNNNN.png and returns the path.
func (p *previewWriter) Write(frame uint64, centroid world.Offset, tiles []world.PreviewTile) (string, error) {
	lo, hi, _ := p.Value()
	path := filepath.Join(p.dir, fmt.Sprintf("frame-%06d.png", frame))
	err := world.SaveHeightmapPreview(path, tiles, world.PreviewOptions{
		Resolution: p.resolution,
		Min:        lo,
		Max:        hi,
		Gradient:   p.gradient,
		Centroid:   centroid,
		Marker:     true,
	})
	if err != nil {
		return "", err
	}
	p.logger.Printf("wrote preview %s (%d tiles)", path, len(tiles))
	return path, nil
}
