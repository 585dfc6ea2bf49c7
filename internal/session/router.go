/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/node"
)

// Router consumes the node event stream and dispatches each event to the
// owning session. Events for unknown sessions are dropped; the node keeps
// reporting on players we have already torn down.
type Router struct {
	registry *Registry
	logger   zerolog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(registry *Registry, logger zerolog.Logger) *Router {
	return &Router{
		registry: registry,
		logger:   logger.With().Str("component", "node_router").Logger(),
	}
}

// Run dispatches events until the stream closes or ctx is cancelled.
// Dispatch is synchronous: session handlers only hold their own lock
// briefly, and per-session ordering of node events is preserved.
func (r *Router) Run(ctx context.Context, events <-chan node.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Info().Msg("node event stream closed")
				return
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, ev node.Event) {
	s := r.registry.Get(ev.SessionKey)
	if s == nil {
		r.logger.Debug().Str("session_key", ev.SessionKey).Str("type", string(ev.Type)).Msg("event for unknown session, dropping")
		return
	}

	switch ev.Type {
	case node.EventTrackStart:
		r.logger.Debug().Str("session_key", ev.SessionKey).Str("track_id", ev.TrackID).Msg("node confirmed track start")

	case node.EventTrackEnd:
		s.HandleTrackEnd(ctx, ev.TrackID, ev.Nonce, triggerNodeEvent)

	case node.EventTrackStuck:
		r.logger.Warn().Str("session_key", ev.SessionKey).Str("track_id", ev.TrackID).Int64("threshold_ms", ev.ThresholdMS).Msg("track stuck, advancing")
		s.HandleTrackEnd(ctx, ev.TrackID, ev.Nonce, triggerNodeEvent)

	case node.EventTrackException:
		r.logger.Error().Str("session_key", ev.SessionKey).Str("track_id", ev.TrackID).Str("error", ev.Error).Msg("track exception, advancing")
		s.HandleTrackEnd(ctx, ev.TrackID, ev.Nonce, triggerNodeEvent)

	case node.EventPlayerUpdate:
		s.HandlePositionUpdate(ctx, ev.PositionMS, ev.Nonce)

	default:
		r.logger.Debug().Str("type", string(ev.Type)).Msg("unhandled node event type")
	}
}
