/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")
	records, err := a.history.RecentBySession(r.Context(), key, queryInt(r, "limit", 25))
	if err != nil {
		a.logger.Error().Err(err).Str("session_key", key).Msg("session history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plays": records})
}

func (a *API) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	records, err := a.history.RecentByUser(r.Context(), userID, queryInt(r, "limit", 25))
	if err != nil {
		a.logger.Error().Err(err).Str("user_id", userID).Msg("user history query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"plays": records})
}

func (a *API) handleTopTracks(w http.ResponseWriter, r *http.Request) {
	counts, err := a.history.MostPlayed(r.Context(), queryInt(r, "limit", 10))
	if err != nil {
		a.logger.Error().Err(err).Msg("top tracks query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": counts})
}
