package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/time/rate"

	"terrainstream/internal/config"
	"terrainstream/internal/network"
	"terrainstream/internal/world"
)

const keepAliveInterval = 5 * time.Second

// Server streams terrain around the latest client viewpoint.
type Server struct {
	cfg      *config.Config
	engine   *Engine
	net      *network.Server
	store    world.TileStore
	tracker  *viewpointTracker
	uniform  *ElevationUniform
	preview  *previewWriter
	logger   *log.Logger
	keepTick time.Duration
}

func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	logger := log.New(log.Writer(), "terrain-server ", log.LstdFlags|log.Lmicroseconds)

	store, err := world.OpenTileStore(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open tile store: %w", err)
	}

	engine, err := NewEngine(cfg, store, logger)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	preview, err := newPreviewWriter(cfg.Preview, cfg.Terrain.Resolution, logger)
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	netSrv, err := network.Listen(cfg.Network.Listen, cfg.Network.Path, logger, network.Options{
		SendQueue:    cfg.Network.SendQueue,
		Rate:         rate.Limit(cfg.Network.ViewpointRate),
		Burst:        cfg.Network.ViewpointBurst,
		ReadTimeout:  cfg.Network.ReadTimeout.Duration(),
		WriteTimeout: cfg.Network.WriteTimeout.Duration(),
	})
	if err != nil {
		closeStore(store, logger)
		return nil, err
	}

	initial := world.Float2{X: cfg.Server.InitialViewpoint.X, Y: cfg.Server.InitialViewpoint.Y}
	srv := &Server{
		cfg:      cfg,
		engine:   engine,
		net:      netSrv,
		store:    store,
		tracker:  newViewpointTracker(initial),
		uniform:  &ElevationUniform{},
		preview:  preview,
		logger:   logger,
		keepTick: keepAliveInterval,
	}
	engine.AddSink(srv.uniform)
	if preview != nil {
		engine.AddSink(preview)
	}
	srv.registerHandlers()
	return srv, nil
}

func (s *Server) registerHandlers() {
	s.net.Register(network.MessageHello, s.onHello)
	s.net.Register(network.MessageViewpoint, s.onViewpoint)
}

// Addr is the websocket listen address.
func (s *Server) Addr() string {
	return s.net.Addr().String()
}

func (s *Server) Run(ctx context.Context) error {
	defer closeStore(s.store, s.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	netDone := make(chan struct{})
	go func() {
		defer close(netDone)
		if err := s.net.Serve(ctx); err != nil && ctx.Err() == nil {
			s.logger.Printf("network server stopped: %v", err)
			cancel()
		}
	}()
	defer func() {
		cancel()
		<-netDone
	}()

	if _, err := s.engine.Init(ctx, s.tracker.Get().Round()); err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	loop := newFrameLoop(s, s.cfg.Server.FrameRate.Duration())
	loop.Start(ctx, func(err error) {
		s.logger.Printf("frame loop stopped: %v", err)
		cancel()
	})

	keepAlive := time.NewTicker(s.keepTick)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			stepErr := loop.Wait()
			s.writeFinalPreview()
			if stepErr != nil {
				return stepErr
			}
			return ctx.Err()
		case now := <-keepAlive.C:
			if s.net.Clients() == 0 {
				continue
			}
			if _, err := s.net.Broadcast(network.MessageKeepAlive, network.KeepAlive{ServerID: s.cfg.Server.ID, Time: now.UTC()}); err != nil {
				s.logger.Printf("broadcast keepalive: %v", err)
			}
		}
	}
}

// stepFrame runs one engine step and publishes its results.
func (s *Server) stepFrame(ctx context.Context, _ time.Duration) error {
	report, err := s.engine.Step(ctx, s.tracker.Get())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	s.publish(report)
	if s.preview.due(report.Frame) {
		s.writePreview(report.Frame, report.Centroid)
	}
	return nil
}

func (s *Server) publish(report FrameReport) {
	if s.net.Clients() == 0 {
		return
	}
	lo, hi, _ := report.Assembly.Range.Bounds()
	frame := network.Frame{
		Number:       report.Frame,
		Centroid:     network.Coord{X: report.Centroid.X, Y: report.Centroid.Y},
		Recentered:   report.Recentered,
		Ready:        report.Ready,
		Pending:      report.Pending,
		Recomputed:   report.Recompute.Sampled,
		Cached:       report.Recompute.Cached,
		MinElevation: lo,
		MaxElevation: hi,
	}
	if _, err := s.net.Broadcast(network.MessageFrame, frame); err != nil {
		s.logger.Printf("broadcast frame %d: %v", report.Frame, err)
		return
	}
	for _, job := range report.Recompute.Jobs {
		update := network.ChunkUpdate{
			Frame:      report.Frame,
			Slot:       int(job.Slot),
			Offset:     network.Coord{X: job.Offset.X, Y: job.Offset.Y},
			Resolution: s.engine.Resolution(),
			Heights:    world.EncodeTile(job.Mesh.Heights),
		}
		if _, err := s.net.Broadcast(network.MessageChunkUpdate, update); err != nil {
			s.logger.Printf("broadcast chunk %v: %v", job.Offset, err)
		}
	}
}

func (s *Server) writePreview(frame uint64, centroid world.Offset) {
	tiles, err := s.engine.Tiles()
	if err != nil {
		s.logger.Printf("collect preview tiles: %v", err)
		return
	}
	if len(tiles) == 0 {
		return
	}
	if _, err := s.preview.Write(frame, centroid, tiles); err != nil {
		s.logger.Printf("write preview: %v", err)
	}
}

func (s *Server) writeFinalPreview() {
	if s.preview == nil {
		return
	}
	s.writePreview(s.engine.Frame(), s.engine.Pool().Centroid())
}

func (s *Server) onHello(ctx context.Context, client *network.Client, env network.Envelope) {
	var hello network.Hello
	if err := network.DecodePayload(env, &hello); err != nil {
		s.logger.Printf("decode hello from %s: %v", client.ID, err)
		return
	}
	if hello.Version != network.ProtocolVersion {
		s.logger.Printf("client %s speaks protocol %d, want %d", client.ID, hello.Version, network.ProtocolVersion)
	}
	centroid := s.engine.Pool().Centroid()
	welcome := network.Welcome{
		SessionID:  client.ID,
		ServerID:   s.cfg.Server.ID,
		Version:    network.ProtocolVersion,
		Resolution: s.engine.Resolution(),
		ChunkCount: s.cfg.Terrain.ChunkCount,
		Centroid:   network.Coord{X: centroid.X, Y: centroid.Y},
		Frame:      s.engine.Frame(),
	}
	if err := client.Send(network.MessageWelcome, welcome); err != nil {
		s.logger.Printf("send welcome to %s: %v", client.ID, err)
	}
}

func (s *Server) onViewpoint(ctx context.Context, client *network.Client, env network.Envelope) {
	var vp network.Viewpoint
	if err := network.DecodePayload(env, &vp); err != nil {
		s.logger.Printf("decode viewpoint from %s: %v", client.ID, err)
		return
	}
	if !s.tracker.Set(world.Float2{X: vp.X, Y: vp.Y}, client.ID) {
		s.logger.Printf("client %s sent non-finite viewpoint", client.ID)
	}
}

func closeStore(store world.TileStore, logger *log.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.Printf("close tile store: %v", err)
	}
}
