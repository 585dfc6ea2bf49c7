/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/bragi_sessions/internal/logbuffer"
)

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusNotFound, "log_buffer_disabled")
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		SessionKey: r.URL.Query().Get("session_key"),
		Search:     r.URL.Query().Get("search"),
		Limit:      queryInt(r, "limit", 200),
		Descending: true,
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if since, err := time.Parse(time.RFC3339, raw); err == nil {
			params.Since = since
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": a.logBuffer.Query(params)})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusNotFound, "log_buffer_disabled")
		return
	}
	writeJSON(w, http.StatusOK, a.logBuffer.Stats(r.URL.Query().Get("session_key")))
}
