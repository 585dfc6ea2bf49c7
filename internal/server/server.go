/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the session coordinator together: database, render
// node gateway, registry, event router, caches, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_sessions/internal/api"
	"github.com/friendsincode/bragi_sessions/internal/cache"
	"github.com/friendsincode/bragi_sessions/internal/config"
	"github.com/friendsincode/bragi_sessions/internal/db"
	"github.com/friendsincode/bragi_sessions/internal/eventbus"
	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/history"
	"github.com/friendsincode/bragi_sessions/internal/logbuffer"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/session"
	"github.com/friendsincode/bragi_sessions/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db        *gorm.DB
	bus       *events.Bus
	gateway   *node.Gateway
	registry  *session.Registry
	nodeRtr   *session.Router
	history   *history.Service
	snapshots *cache.Cache
	publisher *eventbus.Publisher
	logBuffer *logbuffer.Buffer
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("bragi-sessions-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the events WebSocket; everything else gets 60s.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		bus:       events.NewBus(),
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 so the events WebSocket is not cut off;
		// the middleware timeout covers plain routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return fmt.Errorf("register db callbacks: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	gateway, err := s.dialNode()
	if err != nil {
		return fmt.Errorf("connect render node: %w", err)
	}
	s.gateway = gateway
	s.DeferClose(func() error { return gateway.Close(context.Background()) })

	s.history = history.NewService(database, s.bus, gateway, s.logger)

	s.registry = session.NewRegistry(session.RegistryOptions{
		Client:         gateway,
		Bus:            s.bus,
		Recorder:       s.history,
		Logger:         s.logger,
		WatchdogMargin: s.cfg.WatchdogMargin,
		HistoryDepth:   s.cfg.HistoryDepth,
		DefaultVolume:  s.cfg.DefaultVolume,
	})
	s.nodeRtr = session.NewRouter(s.registry, s.logger)

	if s.cfg.RedisAddr != "" {
		snapshots, err := cache.New(cache.Config{
			RedisAddr:      s.cfg.RedisAddr,
			RedisPassword:  s.cfg.RedisPassword,
			RedisDB:        s.cfg.RedisDB,
			DisableOnError: true,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("init snapshot cache: %w", err)
		}
		s.snapshots = snapshots
		s.DeferClose(snapshots.Close)
	}

	if s.cfg.NATSURL != "" {
		publisher, err := eventbus.Connect(s.cfg.NATSURL, s.cfg.InstanceID, s.logger)
		if err != nil {
			return fmt.Errorf("connect NATS: %w", err)
		}
		s.publisher = publisher
		s.DeferClose(func() error { publisher.Drain(); return nil })
	}

	var jwtSecret []byte
	if s.cfg.JWTSigningKey != "" {
		jwtSecret = []byte(s.cfg.JWTSigningKey)
	} else {
		s.logger.Warn().Msg("no JWT signing key configured, API is unauthenticated")
	}

	s.api = api.New(s.registry, gateway, s.history, s.snapshots, s.bus, s.logBuffer, jwtSecret, s.logger)
	return nil
}

// dialNode connects to the render node, trying roster entries in order
// when a roster file is configured.
func (s *Server) dialNode() (*node.Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	configs := []node.GatewayConfig{{
		Name:     "default",
		Addr:     s.cfg.NodeAddr,
		Password: s.cfg.NodePassword,
		Secure:   s.cfg.NodeSecure,
	}}
	if s.cfg.NodesFile != "" {
		roster, err := node.LoadRoster(s.cfg.NodesFile)
		if err != nil {
			return nil, err
		}
		configs = roster.Nodes
	}

	var lastErr error
	for _, nodeCfg := range configs {
		gateway, err := node.Dial(ctx, nodeCfg, s.logger)
		if err == nil {
			s.logger.Info().Str("node", nodeCfg.Name).Str("addr", nodeCfg.Addr).Msg("connected to render node")
			return gateway, nil
		}
		s.logger.Warn().Err(err).Str("node", nodeCfg.Name).Msg("render node unreachable, trying next")
		lastErr = err
	}
	return nil, lastErr
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.nodeRtr.Run(ctx, s.gateway.Events())
	}()

	if s.snapshots != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runSnapshotBridge(ctx)
		}()
	}

	if s.publisher != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.publisher.Forward(ctx, s.bus,
				events.EventTrackStarted,
				events.EventTrackQueued,
				events.EventSessionIdle,
				events.EventSessionClosed,
				events.EventNodeError,
			)
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()
}

// runSnapshotBridge mirrors session state changes into the Redis cache.
func (s *Server) runSnapshotBridge(ctx context.Context) {
	started := s.bus.Subscribe(events.EventTrackStarted)
	idle := s.bus.Subscribe(events.EventSessionIdle)
	closed := s.bus.Subscribe(events.EventSessionClosed)
	defer func() {
		s.bus.Unsubscribe(events.EventTrackStarted, started)
		s.bus.Unsubscribe(events.EventSessionIdle, idle)
		s.bus.Unsubscribe(events.EventSessionClosed, closed)
	}()

	store := func(payload events.Payload) {
		key, _ := payload["session_key"].(string)
		if key == "" {
			return
		}
		live := s.registry.Get(key)
		if live == nil {
			return
		}
		if err := s.snapshots.SetSnapshot(ctx, live.Snapshot()); err != nil {
			s.logger.Debug().Err(err).Str("session_key", key).Msg("snapshot cache write failed")
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-started:
			store(payload)
		case payload := <-idle:
			store(payload)
		case payload := <-closed:
			if key, ok := payload["session_key"].(string); ok && key != "" {
				if err := s.snapshots.DeleteSnapshot(ctx, key); err != nil {
					s.logger.Debug().Err(err).Str("session_key", key).Msg("snapshot cache delete failed")
				}
			}
		}
	}
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}

// HTTPServer exposes the configured http.Server for the caller to run.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Registry exposes the session registry, used by shutdown.
func (s *Server) Registry() *session.Registry {
	return s.registry
}

// Close releases owned resources in reverse order. Live sessions are torn
// down first so their final events still reach the cache and NATS.
func (s *Server) Close() error {
	teardownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	s.registry.Shutdown(teardownCtx)
	cancel()

	s.stopBackgroundWorkers()

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel != nil {
		s.bgCancel()
	}
	s.bgWG.Wait()
}
