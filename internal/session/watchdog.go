/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package session

import (
	"context"
	"time"

	"github.com/friendsincode/bragi_sessions/internal/telemetry"
)

// watchdog is the fallback completion detector for one playback. If the
// node never reports an ending, the watchdog fires after the track
// duration plus the configured margin and forces an advance. The handle
// carries the generation it was armed under; a firing whose generation no
// longer matches the session's is a no-op.
type watchdog struct {
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// awaitWatchdog blocks until a superseded watchdog goroutine has fully
// exited. Callers must not hold the session lock.
func awaitWatchdog(w *watchdog) {
	if w != nil {
		<-w.done
	}
}

// armWatchdogLocked starts the timer goroutine for the given generation.
// The session lock must be held; the returned handle is stored as s.wd by
// the caller.
func (s *Session) armWatchdogLocked(gen uint64, d time.Duration) *watchdog {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watchdog{
		generation: gen,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	timer := time.NewTimer(d)
	go func() {
		defer close(w.done)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// The timer and the cancel can race; losing the race after the
		// timer drains still means this watchdog was superseded.
		if ctx.Err() != nil {
			return
		}
		s.fireWatchdog(w, d)
	}()
	return w
}

// fireWatchdog runs on the watchdog goroutine after the timer expires. It
// re-validates under the session lock before forcing an advance: anything
// that moved the session on since arming makes the firing stale.
// The advance runs on a fresh context: the firing watchdog is about to be
// superseded and cancelled by its own advance, and the node commands it
// issues must outlive that cancellation.
func (s *Session) fireWatchdog(w *watchdog, waited time.Duration) {
	ctx := context.Background()

	s.mu.Lock()
	if s.closed || s.skipping || s.current == nil || w.generation != s.generation {
		telemetry.StaleSignalsTotal.WithLabelValues(triggerWatchdog).Inc()
		s.mu.Unlock()
		return
	}

	telemetry.WatchdogFiredTotal.Inc()
	s.logger.Warn().
		Str("track", s.current.Track.Title).
		Dur("waited", waited).
		Uint64("generation", w.generation).
		Msg("no end signal from node, forcing advance")

	prev, err := s.advanceLocked(ctx, triggerWatchdog)
	s.mu.Unlock()

	// advanceLocked supersedes the live watchdog, which on this path is
	// the one currently firing. Awaiting our own done channel here would
	// deadlock with the deferred close.
	if prev != nil && prev != w {
		<-prev.done
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("watchdog-forced advance failed")
	}
}
