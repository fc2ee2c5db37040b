package terrain

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"time"

	"terrainstream/internal/config"
	"terrainstream/internal/world"
)

// Job is one slot recomputed during a frame.
type Job struct {
	Offset world.Offset
	Slot   world.SlotID
	Mesh   *world.Mesh
	Cached bool
}

// RecomputeReport summarises a Recompute call.
type RecomputeReport struct {
	Jobs     []Job
	Sampled  int
	Cached   int
	Batches  int
	Duration time.Duration
}

// Scheduler fills the height buffers of confirmed slots. Sampling is split
// into fixed-size batches that run on a worker pool and join on a barrier
// before Recompute returns.
type Scheduler struct {
	field       *Field
	host        world.ResourceHost
	resolution  int
	batchSize   int
	workers     int
	store       world.TileStore
	fingerprint uint64
	logger      *log.Logger
}

// NewScheduler builds a scheduler. A nil store disables the tile cache.
func NewScheduler(field *Field, host world.ResourceHost, terrain config.TerrainConfig, noise config.NoiseConfig, store world.TileStore, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "recompute ", log.LstdFlags|log.Lmicroseconds)
	}
	batch := terrain.BatchSize
	if batch <= 0 {
		batch = 512
	}
	return &Scheduler{
		field:       field,
		host:        host,
		resolution:  terrain.Resolution,
		batchSize:   batch,
		workers:     terrain.Workers,
		store:       store,
		fingerprint: Fingerprint(terrain.Resolution, noise),
		logger:      logger,
	}
}

type batchTask struct {
	mesh   *world.Mesh
	origin world.Offset
	start  int
	end    int
}

// Recompute writes fresh heights for every confirmed slot. The context is
// only consulted before work is dispatched; once batches are queued the frame
// runs to completion.
func (s *Scheduler) Recompute(ctx context.Context, confirmed map[world.Offset]world.SlotID) (RecomputeReport, error) {
	started := time.Now()
	if err := ctx.Err(); err != nil {
		return RecomputeReport{}, err
	}

	jobs := make([]Job, 0, len(confirmed))
	for offset, id := range confirmed {
		jobs = append(jobs, Job{Offset: offset, Slot: id})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Slot < jobs[j].Slot })

	count := world.VertexCount(s.resolution)
	for i := range jobs {
		mesh, err := s.host.Mesh(jobs[i].Slot)
		if err != nil {
			return RecomputeReport{}, fmt.Errorf("recompute slot %d: %w", jobs[i].Slot, err)
		}
		if len(mesh.Heights) != count || len(mesh.Normals) != count {
			return RecomputeReport{}, fmt.Errorf("recompute slot %d: buffer holds %d heights, want %d: %w",
				jobs[i].Slot, len(mesh.Heights), count, world.ErrInvariant)
		}
		jobs[i].Mesh = mesh
		jobs[i].Cached = s.loadCached(jobs[i])
	}

	var tasks []batchTask
	for _, job := range jobs {
		if job.Cached {
			continue
		}
		for start := 0; start < count; start += s.batchSize {
			tasks = append(tasks, batchTask{
				mesh:   job.Mesh,
				origin: job.Offset,
				start:  start,
				end:    min(start+s.batchSize, count),
			})
		}
	}
	s.run(tasks)

	report := RecomputeReport{Jobs: jobs, Batches: len(tasks)}
	for _, job := range jobs {
		if job.Cached {
			report.Cached++
			continue
		}
		report.Sampled++
		s.saveCached(job)
	}
	report.Duration = time.Since(started)
	return report, nil
}

func (s *Scheduler) run(tasks []batchTask) {
	if len(tasks) == 0 {
		return
	}
	workers := s.workerCount(len(tasks))
	queue := make(chan batchTask, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range queue {
				sampleRange(s.field, task.origin, s.resolution, task.mesh.Heights, task.start, task.end)
			}
		}()
	}
	for _, task := range tasks {
		queue <- task
	}
	close(queue)
	wg.Wait()
}

func (s *Scheduler) loadCached(job Job) bool {
	if s.store == nil {
		return false
	}
	key := world.TileKey{Offset: job.Offset, Fingerprint: s.fingerprint}
	heights, ok, err := s.store.Load(key)
	if err != nil {
		s.logger.Printf("load tile %v: %v", job.Offset, err)
		return false
	}
	if !ok {
		return false
	}
	if len(heights) != len(job.Mesh.Heights) {
		s.logger.Printf("discarding tile %v: %d heights, want %d", job.Offset, len(heights), len(job.Mesh.Heights))
		return false
	}
	copy(job.Mesh.Heights, heights)
	return true
}

func (s *Scheduler) saveCached(job Job) {
	if s.store == nil {
		return
	}
	key := world.TileKey{Offset: job.Offset, Fingerprint: s.fingerprint}
	if err := s.store.Save(key, job.Mesh.Heights); err != nil {
		s.logger.Printf("save tile %v: %v", job.Offset, err)
	}
}

// Fingerprint reports the cache fingerprint tiles are stored under.
func (s *Scheduler) Fingerprint() uint64 {
	return s.fingerprint
}

func (s *Scheduler) workerCount(total int) int {
	if total <= 0 {
		return 0
	}
	if s.workers > 0 {
		return min(s.workers, total)
	}
	workers := runtime.GOMAXPROCS(0) * 2
	if workers <= 0 {
		workers = 1
	}
	return min(workers, total)
}
