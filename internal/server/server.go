// Package server hosts a world: it drives the frame loop at a fixed rate
// and serves the network feed next to it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeusync/simcore/internal/core/observability/log"
	"github.com/zeusync/simcore/internal/core/world"
)

type Config struct {
	// Listen is empty when no HTTP endpoint is served.
	Listen string
	Path   string

	// TickRate is both the wall-clock period and the simulated delta.
	TickRate time.Duration
	// Ticks ends the loop after that many frames; 0 runs until Stop.
	Ticks int

	StatsInterval time.Duration
}

func DefaultServerConfig() Config {
	return Config{
		Path:          "/feed",
		TickRate:      time.Second / 60,
		StatsInterval: 10 * time.Second,
	}
}

type Server struct {
	world  *world.World
	feed   http.Handler
	config Config
	logger log.Log

	http     *http.Server
	listener net.Listener

	running int32
	closed  int32

	stopChan    chan struct{}
	done        chan struct{}
	workerGroup sync.WaitGroup

	frames atomic.Uint64
	err    atomic.Pointer[error]
}

// NewServer hosts w. feed may be nil when Config.Listen is empty.
func NewServer(w *world.World, feed http.Handler, config Config, logger log.Log) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		world:    w,
		feed:     feed,
		config:   config,
		logger:   logger.With(log.String("component", "server")),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Server) Start(ctx context.Context) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return ErrServerClosed
	}
	if s.config.TickRate <= 0 || (s.config.Listen != "" && s.feed == nil) {
		return ErrInvalidConfig
	}
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	if s.config.Listen != "" {
		listener, err := net.Listen("tcp", s.config.Listen)
		if err != nil {
			atomic.StoreInt32(&s.running, 0)
			s.logger.Error("Failed to listen", log.String("addr", s.config.Listen), log.Error(err))
			return fmt.Errorf("listen %s: %w", s.config.Listen, err)
		}
		mux := http.NewServeMux()
		mux.Handle(s.config.Path, s.feed)
		s.listener = listener
		s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Feed endpoint failed", log.Error(err))
			}
		}()
		s.logger.Info("Feed listening", log.String("addr", listener.Addr().String()), log.String("path", s.config.Path))
	}

	s.workerGroup.Add(1)
	go func() {
		defer s.workerGroup.Done()
		s.tickLoop(ctx)
	}()
	if s.config.StatsInterval > 0 {
		s.workerGroup.Add(1)
		go func() {
			defer s.workerGroup.Done()
			s.statsMonitor()
		}()
	}

	s.logger.Info("Server started", log.Duration("tick_rate", s.config.TickRate), log.Int("ticks", s.config.Ticks))
	return nil
}

// Stop ends the frame loop after the frame in flight and shuts the feed
// endpoint down.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}
	close(s.stopChan)

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.workerGroup.Wait()
	s.logger.Info("Server stopped", log.Uint64("frames", s.frames.Load()))
	return err
}

func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if atomic.LoadInt32(&s.running) == 1 {
		return s.Stop(context.Background())
	}
	return nil
}

// Done is closed when the frame loop ends on its own: tick budget reached
// or a frame failed.
func (s *Server) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the frame loop, if any.
func (s *Server) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Addr returns the feed listener address, nil when not listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) tickLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.world.Tick(ctx, s.config.TickRate); err != nil {
			s.err.Store(&err)
			s.logger.Error("Frame failed", log.Uint64("frame", s.world.Frame()), log.Error(err))
			return
		}
		if n := s.frames.Add(1); s.config.Ticks > 0 && n >= uint64(s.config.Ticks) {
			return
		}
	}
}

func (s *Server) statsMonitor() {
	ticker := time.NewTicker(s.config.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			st := s.world.Stats()
			s.logger.Info("World stats",
				log.Uint64("frame", st.Frame),
				log.Int("entities", st.Entities),
				log.Int("components", st.Components),
				log.Int("systems", st.Systems),
				log.Duration("elapsed", st.Elapsed))
		case <-s.stopChan:
			return
		case <-s.done:
			return
		}
	}
}

type Stats struct {
	Frames  uint64
	Running bool
}

func (s *Server) GetStats() Stats {
	return Stats{
		Frames:  s.frames.Load(),
		Running: atomic.LoadInt32(&s.running) == 1,
	}
}
