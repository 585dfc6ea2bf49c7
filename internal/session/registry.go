/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/telemetry"
)

// Registry owns the live sessions, one per channel key. Lookups and
// creation are serialized; each session removes itself from the registry
// when it tears down.
type Registry struct {
	client   node.Client
	bus      *events.Bus
	recorder PlayRecorder
	logger   zerolog.Logger

	margin       time.Duration
	historyDepth int
	volume       int

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOptions configures session defaults applied at creation.
type RegistryOptions struct {
	Client         node.Client
	Bus            *events.Bus
	Recorder       PlayRecorder
	Logger         zerolog.Logger
	WatchdogMargin time.Duration
	HistoryDepth   int
	DefaultVolume  int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	return &Registry{
		client:       opts.Client,
		bus:          opts.Bus,
		recorder:     opts.Recorder,
		logger:       opts.Logger.With().Str("component", "session_registry").Logger(),
		margin:       opts.WatchdogMargin,
		historyDepth: opts.HistoryDepth,
		volume:       opts.DefaultVolume,
		sessions:     make(map[string]*Session),
	}
}

// Get returns the live session for key, or nil if there is none.
func (r *Registry) Get(key string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[key]
}

// GetOrCreate returns the live session for key, connecting a new node
// player and creating one if needed.
func (r *Registry) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, nil
	}

	conn, err := r.client.Connect(ctx, key)
	if err != nil {
		return nil, err
	}

	s := New(Options{
		Key:            key,
		Conn:           conn,
		Bus:            r.bus,
		Recorder:       r.recorder,
		Logger:         r.logger,
		WatchdogMargin: r.margin,
		HistoryDepth:   r.historyDepth,
		Volume:         r.volume,
		OnClose:        r.forget,
	})
	r.sessions[key] = s
	telemetry.ActiveSessions.Set(float64(len(r.sessions)))
	r.logger.Info().Str("session_key", key).Int("live", len(r.sessions)).Msg("session created")
	return s, nil
}

// Remove tears down and forgets the session for key, if any.
func (r *Registry) Remove(ctx context.Context, key string) error {
	r.mu.Lock()
	s := r.sessions[key]
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.StopAndTeardown(ctx)
}

// Shutdown tears down every live session.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		if err := s.StopAndTeardown(ctx); err != nil {
			r.logger.Error().Err(err).Str("session_key", s.Key()).Msg("teardown during shutdown failed")
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Keys returns the keys of all live sessions.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// forget drops a torn-down session from the map. Called by the session
// itself while it holds its own lock, never the registry's, so the lock
// order here is safe.
func (r *Registry) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
	telemetry.ActiveSessions.Set(float64(len(r.sessions)))
	r.logger.Info().Str("session_key", key).Int("live", len(r.sessions)).Msg("session removed")
}
