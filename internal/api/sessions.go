/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/bragi_sessions/internal/history"
	"github.com/friendsincode/bragi_sessions/internal/queue"
	"github.com/friendsincode/bragi_sessions/internal/session"
)

type playRequest struct {
	Query     string          `json:"query"`
	Requester queue.Requester `json:"requester"`
}

type playResponse struct {
	Status   session.EnqueueStatus `json:"status"`
	Queued   int                   `json:"queued"`
	Playlist string                `json:"playlist,omitempty"`
	Snapshot session.Snapshot      `json:"snapshot"`
}

// handlePlay resolves a query on the render node and feeds the result
// into the channel's session, creating it if needed.
func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")

	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := a.resolver.Resolve(r.Context(), req.Query)
	if err != nil {
		a.logger.Error().Err(err).Str("query", req.Query).Msg("resolve failed")
		writeError(w, http.StatusBadGateway, "resolve_failed")
		return
	}
	if result.Empty() {
		writeError(w, http.StatusNotFound, "no_matches")
		return
	}

	tracks := result.Tracks
	if result.Playlist == "" {
		// Single-track resolves return the best match first; queue only that.
		tracks = tracks[:1]
	}
	entries := make([]queue.Entry, 0, len(tracks))
	for _, t := range tracks {
		entries = append(entries, queue.Entry{Track: t, Requester: req.Requester})
	}

	s, err := a.registry.GetOrCreate(r.Context(), key)
	if err != nil {
		a.logger.Error().Err(err).Str("session_key", key).Msg("session connect failed")
		writeError(w, http.StatusBadGateway, "node_connect_failed")
		return
	}

	status, err := s.EnqueueAndMaybeStart(r.Context(), entries...)
	if err != nil {
		a.sessionError(w, err)
		return
	}

	resp := playResponse{
		Status:   status,
		Queued:   len(entries),
		Snapshot: s.Snapshot(),
	}
	resp.Playlist = result.Playlist
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	if err := s.Skip(r.Context()); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handlePrevious(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	if err := s.PlayPrevious(r.Context()); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	if err := s.Pause(r.Context()); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	if err := s.Resume(r.Context()); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}

	var req struct {
		Mode session.LoopMode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	switch req.Mode {
	case session.LoopNone, session.LoopTrack, session.LoopQueue:
	default:
		writeError(w, http.StatusBadRequest, "invalid_loop_mode")
		return
	}

	s.SetLoopMode(req.Mode)
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}

	var req struct {
		Volume int `json:"volume"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	applied, err := s.SetVolume(r.Context(), req.Volume)
	if err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"volume": applied})
}

func (a *API) handleAlwaysOn(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	enabled, err := s.ToggleAlwaysOn(r.Context())
	if err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"always_on": enabled})
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	if err := s.Shuffle(); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")
	if err := a.registry.Remove(r.Context(), key); err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// handleDailyMix replaces the session queue with the requesting user's
// daily mix, generating one if today's does not exist yet.
func (a *API) handleDailyMix(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")

	var req struct {
		Requester queue.Requester `json:"requester"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Requester.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	mix, err := a.history.DailyMix(r.Context(), req.Requester.ID)
	if err != nil {
		a.sessionError(w, err)
		return
	}
	entries, err := a.history.ResolveMix(r.Context(), mix, req.Requester)
	if err != nil {
		a.sessionError(w, err)
		return
	}

	s, err := a.registry.GetOrCreate(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusBadGateway, "node_connect_failed")
		return
	}
	status, err := s.ReplaceQueue(r.Context(), entries)
	if err != nil {
		a.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, playResponse{
		Status:   status,
		Queued:   len(entries),
		Snapshot: s.Snapshot(),
	})
}

// handleSessionGet serves the now-playing snapshot, preferring the cached
// copy so dashboards never contend with the playback path.
func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")

	if a.snapshots != nil {
		if snap, ok, _ := a.snapshots.GetSnapshot(r.Context(), key); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	s := a.registry.Get(key)
	if s == nil {
		writeError(w, http.StatusNotFound, "session_not_found")
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (a *API) handleQueueGet(w http.ResponseWriter, r *http.Request) {
	s := a.live(w, r)
	if s == nil {
		return
	}
	limit := queryInt(r, "limit", 25)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.Upcoming(limit),
	})
}

// live fetches the session for the request or writes a 404.
func (a *API) live(w http.ResponseWriter, r *http.Request) *session.Session {
	key := chi.URLParam(r, "sessionKey")
	s := a.registry.Get(key)
	if s == nil {
		writeError(w, http.StatusNotFound, "session_not_found")
	}
	return s
}

func (a *API) sessionError(w http.ResponseWriter, err error) {
	var nodeErr *session.NodeCommandError
	switch {
	case errors.Is(err, session.ErrNoCurrentTrack):
		writeError(w, http.StatusConflict, "nothing_playing")
	case errors.Is(err, session.ErrNoHistory):
		writeError(w, http.StatusConflict, "no_history")
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed")
	case errors.Is(err, session.ErrNothingToPlay):
		writeError(w, http.StatusBadRequest, "nothing_to_play")
	case errors.Is(err, queue.ErrTooFewEntries):
		writeError(w, http.StatusConflict, "queue_too_short")
	case errors.Is(err, history.ErrNotEnoughHistory):
		writeError(w, http.StatusConflict, "not_enough_history")
	case errors.As(err, &nodeErr):
		a.logger.Error().Err(err).Msg("node command failed")
		writeError(w, http.StatusBadGateway, "node_command_failed")
	default:
		a.logger.Error().Err(err).Msg("session operation failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return def
}
