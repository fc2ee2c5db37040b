package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"terrainstream/internal/config"
	"terrainstream/internal/terrain"
	"terrainstream/internal/world"
)

// ElevationSink receives the global elevation range after every frame that
// assembled geometry.
type ElevationSink interface {
	SetElevationRange(r terrain.ElevationRange)
}

// FrameReport describes one engine step.
type FrameReport struct {
	Frame      uint64
	Centroid   world.Offset
	Recentered bool
	Confirmed  map[world.Offset]world.SlotID
	Recompute  terrain.RecomputeReport
	Assembly   terrain.AssemblyReport
	Ready      int
	Pending    int
	Duration   time.Duration
}

// Engine runs the per-frame pipeline: recenter, drain, recompute, assemble,
// publish. Steps are serialised; a frame always completes before the next
// one starts.
type Engine struct {
	terrain   config.TerrainConfig
	host      *world.MeshHost
	pool      *world.Pool
	scheduler *terrain.Scheduler
	assembler *terrain.Assembler
	logger    *log.Logger

	mu    sync.Mutex
	sinks []ElevationSink
	frame atomic.Uint64
}

// NewEngine wires the pool, scheduler and assembler for cfg. store may be nil.
func NewEngine(cfg *config.Config, store world.TileStore, logger *log.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	tc := cfg.Terrain
	if tc.ChunkCount <= 0 {
		return nil, fmt.Errorf("chunk count must be positive, got %d", tc.ChunkCount)
	}
	if tc.ChunksPerFrame < 1 || tc.ChunksPerFrame > tc.ChunkCount {
		return nil, fmt.Errorf("chunks per frame must be within [1, %d], got %d", tc.ChunkCount, tc.ChunksPerFrame)
	}
	if tc.Resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %d", tc.Resolution)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "terrain-engine ", log.LstdFlags|log.Lmicroseconds)
	}

	host := world.NewMeshHost(tc.ChunkCount, tc.Resolution)
	e := &Engine{
		terrain:   tc,
		host:      host,
		pool:      world.NewPool(float64(tc.ChangeThreshold), host, logger),
		scheduler: terrain.NewScheduler(terrain.NewField(cfg.Noise), host, tc, cfg.Noise, store, logger),
		assembler: terrain.NewAssembler(tc.Resolution),
		logger:    logger,
	}
	return e, nil
}

// AddSink registers an elevation sink.
func (e *Engine) AddSink(sink ElevationSink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, sink)
	e.mu.Unlock()
}

// Init (re)binds every slot around centroid, resets the elevation range and
// computes geometry for the whole pool so that every ready slot is valid.
func (e *Engine) Init(ctx context.Context, centroid world.Offset) (FrameReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return FrameReport{}, err
	}
	if err := e.pool.Init(e.terrain.ChunkCount, centroid); err != nil {
		return FrameReport{}, fmt.Errorf("init pool: %w", err)
	}
	e.assembler.Reset()
	e.frame.Store(0)
	return e.buildLocked(ctx, time.Now(), e.pool.Positions(), false)
}

// Step advances one frame for the given viewpoint. A cancelled context is
// only honoured before the pool is touched; once slots are drained the frame
// runs to completion.
func (e *Engine) Step(ctx context.Context, viewpoint world.Float2) (FrameReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return FrameReport{}, err
	}
	started := time.Now()
	_, recentered, err := e.pool.Recenter(viewpoint)
	if err != nil {
		return FrameReport{}, fmt.Errorf("recenter: %w", err)
	}
	confirmed, err := e.pool.DrainPending(e.terrain.ChunksPerFrame)
	if err != nil {
		return FrameReport{}, fmt.Errorf("drain pending: %w", err)
	}
	return e.buildLocked(ctx, started, confirmed, recentered)
}

// buildLocked runs after the pool has committed, so cancellation no longer
// applies: confirmed slots must end the frame with fresh geometry.
func (e *Engine) buildLocked(ctx context.Context, started time.Time, confirmed map[world.Offset]world.SlotID, recentered bool) (FrameReport, error) {
	recompute, err := e.scheduler.Recompute(context.WithoutCancel(ctx), confirmed)
	if err != nil {
		return FrameReport{}, fmt.Errorf("recompute: %w", err)
	}
	assembly := e.assembler.Assemble(recompute.Jobs)
	if len(recompute.Jobs) > 0 {
		for _, sink := range e.sinks {
			sink.SetElevationRange(assembly.Range)
		}
	}

	report := FrameReport{
		Frame:      e.frame.Add(1),
		Centroid:   e.pool.Centroid(),
		Recentered: recentered,
		Confirmed:  confirmed,
		Recompute:  recompute,
		Assembly:   assembly,
		Ready:      e.pool.ReadyLen(),
		Pending:    e.pool.PendingLen(),
		Duration:   time.Since(started),
	}
	if len(recompute.Jobs) > 0 {
		e.logger.Printf("frame %d: recomputed %d (cached %d) in %s, pending %d",
			report.Frame, recompute.Sampled, recompute.Cached, report.Duration, report.Pending)
	}
	return report, nil
}

// Frame returns the number of the last completed frame.
func (e *Engine) Frame() uint64 {
	return e.frame.Load()
}

func (e *Engine) Pool() *world.Pool {
	return e.pool
}

func (e *Engine) Host() *world.MeshHost {
	return e.host
}

func (e *Engine) Resolution() int {
	return e.terrain.Resolution
}

func (e *Engine) Range() terrain.ElevationRange {
	return e.assembler.Range()
}

// Fingerprint is the tile cache key for this engine's terrain settings.
func (e *Engine) Fingerprint() uint64 {
	return e.scheduler.Fingerprint()
}

// Tiles returns preview tiles for every ready slot. The returned buffers alias
// the host and must be consumed before the next Step.
func (e *Engine) Tiles() ([]world.PreviewTile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	slots := e.pool.ReadySlots()
	tiles := make([]world.PreviewTile, 0, len(slots))
	for _, slot := range slots {
		mesh, err := e.host.Mesh(slot.ID)
		if err != nil {
			return nil, err
		}
		tiles = append(tiles, world.PreviewTile{Offset: slot.Offset, Heights: mesh.Heights, Normals: mesh.Normals})
	}
	return tiles, nil
}
