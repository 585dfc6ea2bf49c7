/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package node

import "time"

// Track is one playable unit resolved from the render node's catalog.
// Immutable once fetched.
type Track struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Author     string        `json:"author"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	ArtworkURL string        `json:"artwork_url,omitempty"`
}

// ResolveResult is the outcome of a catalog query. Playlist carries the
// playlist name when the query matched one; empty means a plain track
// match, where only the first entry should be queued.
type ResolveResult struct {
	Tracks   []Track
	Playlist string
}

// Empty reports whether the lookup matched nothing.
func (r ResolveResult) Empty() bool {
	return len(r.Tracks) == 0
}
