/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue holds the per-session pending queue and the bounded stack
// of previously played entries. Neither type is concurrency safe; both are
// owned and serialized by their playback session.
package queue

import (
	"errors"
	"math/rand"

	"github.com/friendsincode/bragi_sessions/internal/node"
)

// ErrTooFewEntries is returned by Shuffle when the queue holds fewer than
// three entries.
var ErrTooFewEntries = errors.New("shuffle requires at least 3 queued entries")

// Requester identifies the user an entry is attributed to.
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entry couples a track with the user who submitted it, so attribution
// survives duplicate tracks in the queue.
type Entry struct {
	Track     node.Track `json:"track"`
	Requester Requester  `json:"requester"`
}

// Queue is an ordered sequence of pending entries. Insertion order is
// significant and duplicates are allowed.
type Queue struct {
	entries []Entry
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// PushBack appends an entry to the tail.
func (q *Queue) PushBack(e Entry) {
	q.entries = append(q.entries, e)
}

// PushFront inserts an entry at the head. Used when an aborted "previous"
// restores the displaced current entry.
func (q *Queue) PushFront(e Entry) {
	q.entries = append([]Entry{e}, q.entries...)
}

// PopFront removes and returns the head entry.
func (q *Queue) PopFront() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// PeekFront returns up to n entries from the head without removing them.
func (q *Queue) PeekFront(n int) []Entry {
	if n > len(q.entries) {
		n = len(q.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	copy(out, q.entries[:n])
	return out
}

// Shuffle randomly permutes the queue in place. Queues shorter than three
// entries are left untouched and an error is returned.
func (q *Queue) Shuffle() error {
	if len(q.entries) < 3 {
		return ErrTooFewEntries
	}
	rand.Shuffle(len(q.entries), func(i, j int) {
		q.entries[i], q.entries[j] = q.entries[j], q.entries[i]
	})
	return nil
}

// Clear removes all entries.
func (q *Queue) Clear() {
	q.entries = nil
}

// Len returns the number of pending entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// History is a bounded stack of previously played entries, most recent
// last. Pushing past the depth limit drops the oldest entry.
type History struct {
	entries []Entry
	depth   int
}

// NewHistory creates a history stack with the given maximum depth.
func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = 1
	}
	return &History{depth: depth}
}

// Push records an entry the session advanced away from.
func (h *History) Push(e Entry) {
	h.entries = append(h.entries, e)
	if len(h.entries) > h.depth {
		h.entries = h.entries[len(h.entries)-h.depth:]
	}
}

// Pop removes and returns the most recent entry.
func (h *History) Pop() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	last := h.entries[len(h.entries)-1]
	h.entries = h.entries[:len(h.entries)-1]
	return last, true
}

// Len returns the number of recorded entries.
func (h *History) Len() int {
	return len(h.entries)
}
