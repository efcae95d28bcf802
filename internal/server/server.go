// Package server provides the development event server. It keeps purchase
// requests in memory, pushes every change over WebSocket and SSE, answers
// poll requests and can generate mock workflow traffic.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/reqsync/internal/clock"
	"github.com/agentstation/reqsync/internal/server/broker"
	"github.com/agentstation/reqsync/internal/server/broker/adapters"
	"github.com/agentstation/reqsync/internal/server/cache"
	"github.com/agentstation/reqsync/internal/server/middleware"
	"github.com/agentstation/reqsync/internal/server/mock"
	"github.com/agentstation/reqsync/internal/server/sse"
	"github.com/agentstation/reqsync/internal/server/store"
	ws "github.com/agentstation/reqsync/internal/server/websocket"
	"github.com/agentstation/reqsync/pkg/errors"
	"github.com/agentstation/reqsync/pkg/logging"
)

// sweepInterval is how often idle rate-limit visitors are dropped.
const sweepInterval = time.Minute

// Server holds the HTTP server state and dependencies.
type Server struct {
	store          *store.Store
	generator      *mock.Generator
	cache          *cache.Cache
	broker         *broker.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	rateLimiter    *middleware.RateLimiter
	upgrader       websocket.Upgrader
	clock          clock.Clock
	logger         *zerolog.Logger
	config         Config
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	startOnce      sync.Once
	startTime      time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock sets the clock used for timestamps and the mock generator.
func WithClock(c clock.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a new server instance with the given configuration.
func New(cfg Config, opts ...Option) (*Server, error) {
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if cfg.AuthEnabled && cfg.AuthToken == "" {
		return nil, errors.NewConfigError("server", "auth is enabled but no token is set", nil)
	}
	if cfg.SeedCount < 0 {
		return nil, errors.NewConfigError("server", "seed count must not be negative", nil)
	}

	s := &Server{
		config:    cfg,
		clock:     clock.Real(),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // Dev server accepts any origin
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Component("server")
	}
	logger := s.logger

	logger.Debug().Msg("Creating event broker")
	s.broker = broker.NewBroker(logger)
	s.wsHub = ws.NewHub(logger)
	s.sseBroadcaster = sse.NewBroadcaster(logger)

	// Subscribe transports to broker
	s.broker.Subscribe(adapters.NewWebSocketSubscriber(s.wsHub))
	s.broker.Subscribe(adapters.NewSSESubscriber(s.sseBroadcaster))
	logger.Debug().Int("subscribers", s.broker.SubscriberCount()).Msg("Transports subscribed to event broker")

	s.store = store.New(s.broker,
		store.WithChannel(cfg.Channel),
		store.WithApprovalsChannel(cfg.ApprovalsChannel),
		store.WithClock(s.clock),
		store.WithLogger(logger),
	)

	genOpts := []mock.Option{mock.WithClock(s.clock), mock.WithLogger(logger)}
	if cfg.Seed != 0 {
		genOpts = append(genOpts, mock.WithSeed(cfg.Seed))
	}
	if cfg.MaxOpen > 0 {
		genOpts = append(genOpts, mock.WithMaxOpen(cfg.MaxOpen))
	}
	s.generator = mock.NewGenerator(s.store, genOpts...)
	if err := s.generator.Seed(cfg.SeedCount); err != nil {
		return nil, errors.NewConfigError("server", "seeding purchase requests", err)
	}

	s.cache = cache.New(cfg.CacheTTL, cfg.CacheTTL*2)
	if cfg.RateLimit > 0 {
		s.rateLimiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	logger.Debug().Int("purchase_requests", s.store.Len()).Msg("Server instance created")
	return s, nil
}

// Start starts background services (broker, WebSocket hub, SSE broadcaster
// and, when configured, the mock generator). Later calls are no-ops.
func (s *Server) Start() {
	s.startOnce.Do(func() {
		s.logger.Debug().Msg("Starting background services")

		s.goRun(s.broker.Run)
		s.goRun(s.wsHub.Run)
		s.goRun(s.sseBroadcaster.Run)

		if s.config.GenerateInterval > 0 {
			interval := s.config.GenerateInterval
			s.goRun(func(ctx context.Context) { s.generator.Run(ctx, interval) })
		}
		if s.rateLimiter != nil {
			s.goRun(s.sweepVisitors)
		}

		s.logger.Debug().Msg("All background services started")
	})
}

func (s *Server) goRun(fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Server) sweepVisitors(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.rateLimiter.Sweep(); n > 0 {
				s.logger.Debug().Int("visitors", n).Msg("Dropped idle rate limit visitors")
			}
		}
	}
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown stops background services and waits for them until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Background services shut down successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Background services shutdown timed out")
		return errors.NewTimeoutError("server shutdown", 0, ctx.Err())
	}
}

// Store returns the purchase-request store.
func (s *Server) Store() *store.Store {
	return s.store
}

// Generator returns the mock traffic generator.
func (s *Server) Generator() *mock.Generator {
	return s.generator
}

// Cache returns the server's cache instance.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// WSHub returns the WebSocket hub.
func (s *Server) WSHub() *ws.Hub {
	return s.wsHub
}

// SSEBroadcaster returns the SSE broadcaster.
func (s *Server) SSEBroadcaster() *sse.Broadcaster {
	return s.sseBroadcaster
}

// Broker returns the event broker.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Config returns the server configuration.
func (s *Server) Config() Config {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *zerolog.Logger {
	return s.logger
}
