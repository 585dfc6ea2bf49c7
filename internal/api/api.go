/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP control surface for playback sessions.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/auth"
	"github.com/friendsincode/bragi_sessions/internal/cache"
	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/history"
	"github.com/friendsincode/bragi_sessions/internal/logbuffer"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/session"
)

// API exposes HTTP handlers.
type API struct {
	registry  *session.Registry
	resolver  node.Client
	history   *history.Service
	snapshots *cache.Cache
	bus       *events.Bus
	logBuffer *logbuffer.Buffer
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper. jwtSecret may be nil, which leaves
// the API unauthenticated (development only).
func New(registry *session.Registry, resolver node.Client, historySvc *history.Service, snapshots *cache.Cache, bus *events.Bus, logBuf *logbuffer.Buffer, jwtSecret []byte, logger zerolog.Logger) *API {
	return &API{
		registry:  registry,
		resolver:  resolver,
		history:   historySvc,
		snapshots: snapshots,
		bus:       bus,
		logBuffer: logBuf,
		jwtSecret: jwtSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			if a.jwtSecret != nil {
				pr.Use(auth.Middleware(a.jwtSecret))
			}

			pr.Get("/sessions", a.handleSessionsList)
			pr.Route("/sessions/{sessionKey}", func(r chi.Router) {
				r.Get("/", a.handleSessionGet)
				r.Get("/queue", a.handleQueueGet)
				r.Get("/history", a.handleSessionHistory)

				r.Post("/play", a.handlePlay)
				r.Post("/skip", a.handleSkip)
				r.Post("/previous", a.handlePrevious)
				r.Post("/pause", a.handlePause)
				r.Post("/resume", a.handleResume)
				r.Post("/loop", a.handleLoop)
				r.Post("/volume", a.handleVolume)
				r.Post("/always-on", a.handleAlwaysOn)
				r.Post("/shuffle", a.handleShuffle)
				r.Post("/mix", a.handleDailyMix)
				r.Delete("/", a.handleStop)
			})

			pr.Get("/users/{userID}/history", a.handleUserHistory)
			pr.Get("/tracks/top", a.handleTopTracks)

			pr.Route("/logs", func(r chi.Router) {
				r.Get("/", a.handleLogs)
				r.Get("/stats", a.handleLogStats)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": a.registry.Keys()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
