package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"os"
	"time"

	"terrainstream/internal/config"
	terrainserver "terrainstream/internal/server"
	"terrainstream/internal/world"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run steps the engine along a random viewpoint walk and writes the profile
// report to out.
func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("terrainprofile", flag.ContinueOnError)
	var (
		cfgPath    = fs.String("config", "", "optional configuration file to start from")
		frames     = fs.Int("frames", 600, "number of frames to step")
		resolution = fs.Int("resolution", 0, "override terrain resolution (0 keeps config)")
		chunks     = fs.Int("chunks", 0, "override chunk count (0 keeps config)")
		budget     = fs.Int("budget", 0, "override chunks per frame (0 keeps config)")
		workers    = fs.Int("workers", 0, "override sampling workers (0 keeps config)")
		backend    = fs.String("store", "", "tile store backend: none, memory, disk, sqlite (empty keeps config)")
		storePath  = fs.String("store-path", "", "path for disk and sqlite stores")
		speed      = fs.Float64("speed", 0.25, "viewpoint speed in chunks per frame")
		turn       = fs.Float64("turn", 0.05, "probability of changing heading each frame")
		seed       = fs.Int64("seed", 1337, "random seed for the viewpoint walk")
		verbose    = fs.Bool("verbose", false, "keep engine logging")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *frames <= 0 {
		return errors.New("frames must be positive")
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *resolution > 0 {
		cfg.Terrain.Resolution = *resolution
	}
	if *chunks > 0 {
		cfg.Terrain.ChunkCount = *chunks
	}
	if *budget > 0 {
		cfg.Terrain.ChunksPerFrame = *budget
	}
	if *workers > 0 {
		cfg.Terrain.Workers = *workers
	}
	if *backend != "" {
		cfg.Storage.Backend = *backend
		cfg.Storage.Path = *storePath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := world.OpenTileStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open tile store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "[profile] ", log.LstdFlags|log.Lmicroseconds)
	}
	engine, err := terrainserver.NewEngine(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("new engine: %w", err)
	}

	ctx := context.Background()
	start := world.Float2{X: cfg.Server.InitialViewpoint.X, Y: cfg.Server.InitialViewpoint.Y}
	initReport, err := engine.Init(ctx, start.Round())
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	var (
		recenters   int
		confirmed   int
		sampled     int
		cached      int
		batches     int
		stalled     int
		totalFrame  time.Duration
		maxFrame    time.Duration
		totalSample time.Duration
	)

	rng := rand.New(rand.NewSource(*seed))
	heading := world.Float2{X: 1}
	viewpoint := start
	startWall := time.Now()
	for i := 0; i < *frames; i++ {
		if rng.Float64() < *turn {
			heading = randomHeading(rng)
		}
		viewpoint.X += heading.X * *speed
		viewpoint.Y += heading.Y * *speed

		report, err := engine.Step(ctx, viewpoint)
		if err != nil {
			return fmt.Errorf("frame %d: %w", i+1, err)
		}
		if report.Recentered {
			recenters++
		}
		if report.Pending > 0 {
			stalled++
		}
		confirmed += len(report.Confirmed)
		sampled += report.Recompute.Sampled
		cached += report.Recompute.Cached
		batches += report.Recompute.Batches
		totalSample += report.Recompute.Duration
		totalFrame += report.Duration
		if report.Duration > maxFrame {
			maxFrame = report.Duration
		}
	}
	wallDuration := time.Since(startWall)

	hitRatio := 0.0
	if sampled+cached > 0 {
		hitRatio = float64(cached) / float64(sampled+cached) * 100
	}
	lo, hi, _ := engine.Range().Bounds()

	fmt.Fprintln(out, "== Terrain Streaming Profile ==")
	fmt.Fprintf(out, "Resolution: %d (%d vertices per chunk)\n", cfg.Terrain.Resolution, world.VertexCount(cfg.Terrain.Resolution))
	fmt.Fprintf(out, "Chunks: %d, budget per frame: %d\n", cfg.Terrain.ChunkCount, cfg.Terrain.ChunksPerFrame)
	fmt.Fprintf(out, "Tile store: %s\n", cfg.Storage.Backend)
	if store != nil {
		tiles, err := store.Len()
		if err != nil {
			return fmt.Errorf("count cached tiles: %w", err)
		}
		fmt.Fprintf(out, "Tiles cached: %d\n", tiles)
	}
	fmt.Fprintf(out, "Init: %d chunks in %s\n", initReport.Recompute.Sampled+initReport.Recompute.Cached, initReport.Duration)
	fmt.Fprintf(out, "Frames: %d, recenters: %d, frames with pending chunks: %d\n", *frames, recenters, stalled)
	fmt.Fprintf(out, "Chunks recomputed: %d (%d sampled, %d cached, %.2f%% hit ratio)\n", confirmed, sampled, cached, hitRatio)
	fmt.Fprintf(out, "Sampling batches: %d\n", batches)
	fmt.Fprintf(out, "Average frame duration: %s, max: %s\n", totalFrame/time.Duration(*frames), maxFrame)
	fmt.Fprintf(out, "Average recompute duration: %s\n", totalSample/time.Duration(*frames))
	fmt.Fprintf(out, "Wall clock duration: %s\n", wallDuration)
	fmt.Fprintf(out, "Final viewpoint: (%.2f,%.2f), centroid %v\n", viewpoint.X, viewpoint.Y, engine.Pool().Centroid())
	fmt.Fprintf(out, "Elevation range: [%.4f, %.4f]\n", lo, hi)
	return nil
}

func randomHeading(rng *rand.Rand) world.Float2 {
	headings := []world.Float2{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}, {X: 0.7071, Y: 0.7071}, {X: -0.7071, Y: 0.7071}}
	return headings[rng.Intn(len(headings))]
}
