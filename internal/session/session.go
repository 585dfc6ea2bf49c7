/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package session implements per-channel playback coordination: the queue
// and loop state machine, the end-of-item watchdog, the session registry,
// and the router for asynchronous render node events.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/queue"
	"github.com/friendsincode/bragi_sessions/internal/telemetry"
)

// LoopMode controls what happens when a track ends.
type LoopMode string

const (
	LoopNone  LoopMode = "none"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

// EnqueueStatus reports whether playback started immediately or the
// entries were merely queued.
type EnqueueStatus string

const (
	StatusStarted EnqueueStatus = "started"
	StatusQueued  EnqueueStatus = "queued"
)

// Ending triggers, used as metric labels and log fields.
const (
	triggerNodeEvent = "node_event"
	triggerWatchdog  = "watchdog"
	triggerSkip      = "skip"
	triggerPosition  = "position_update"
)

const (
	// DefaultVolume is the initial playback volume.
	DefaultVolume = 100
	// MaxVolume is the upper clamp for SetVolume.
	MaxVolume = 200
	// DefaultHistoryDepth bounds the previously-played stack.
	DefaultHistoryDepth = 50
	// DefaultWatchdogMargin is added to the track duration before the
	// watchdog assumes the node silently finished.
	DefaultWatchdogMargin = 2 * time.Second
)

// PlayRecorder persists play history. Implementations are fire-and-forget;
// failures must be logged, never surfaced to the playback path.
type PlayRecorder interface {
	RecordPlay(entry queue.Entry, sessionKey string)
}

// Snapshot is the read-only view handed to presentation collaborators.
type Snapshot struct {
	Key       string          `json:"key"`
	Current   *node.Track     `json:"current,omitempty"`
	Requester queue.Requester `json:"requester,omitempty"`
	QueueLen  int             `json:"queue_len"`
	LoopMode  LoopMode        `json:"loop_mode"`
	Volume    int             `json:"volume"`
	AlwaysOn  bool            `json:"always_on"`
	Paused    bool            `json:"paused"`
}

// Session coordinates playback for one channel against the render node.
// All mutating operations are serialized by the session mutex; the
// generation counter discards completion signals that arrive after the
// session has already moved on.
type Session struct {
	key      string
	conn     node.Conn
	bus      *events.Bus
	recorder PlayRecorder
	logger   zerolog.Logger
	margin   time.Duration
	onClose  func(key string)

	mu         sync.Mutex
	generation uint64
	current    *queue.Entry
	pending    *queue.Queue
	history    *queue.History
	loopMode   LoopMode
	alwaysOn   bool
	volume     int
	paused     bool
	lastUser   queue.Requester
	skipping   bool
	wd         *watchdog
	closed     bool
}

// Options configures a new session.
type Options struct {
	Key            string
	Conn           node.Conn
	Bus            *events.Bus
	Recorder       PlayRecorder
	Logger         zerolog.Logger
	WatchdogMargin time.Duration
	HistoryDepth   int
	Volume         int
	OnClose        func(key string)
}

// New creates an idle session bound to a node connection.
func New(opts Options) *Session {
	if opts.WatchdogMargin <= 0 {
		opts.WatchdogMargin = DefaultWatchdogMargin
	}
	if opts.HistoryDepth <= 0 {
		opts.HistoryDepth = DefaultHistoryDepth
	}
	if opts.Volume <= 0 || opts.Volume > MaxVolume {
		opts.Volume = DefaultVolume
	}
	return &Session{
		key:      opts.Key,
		conn:     opts.Conn,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		logger:   opts.Logger.With().Str("component", "session").Str("session_key", opts.Key).Logger(),
		margin:   opts.WatchdogMargin,
		onClose:  opts.OnClose,
		pending:  queue.New(),
		history:  queue.NewHistory(opts.HistoryDepth),
		loopMode: LoopNone,
		volume:   opts.Volume,
	}
}

// Key returns the session key.
func (s *Session) Key() string {
	return s.key
}

// EnqueueAndMaybeStart appends entries to the queue and starts playback if
// the session is idle. The returned status reports which happened.
func (s *Session) EnqueueAndMaybeStart(ctx context.Context, entries ...queue.Entry) (EnqueueStatus, error) {
	if len(entries) == 0 {
		return "", ErrNothingToPlay
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	for _, e := range entries {
		s.pending.PushBack(e)
	}
	if s.current != nil {
		queueLen := s.pending.Len()
		s.mu.Unlock()
		s.bus.Publish(events.EventTrackQueued, events.Payload{
			"session_key": s.key,
			"queued":      len(entries),
			"queue_len":   queueLen,
		})
		return StatusQueued, nil
	}

	next, _ := s.pending.PopFront()
	prev, err := s.playLocked(ctx, next)
	s.mu.Unlock()
	awaitWatchdog(prev)
	if err != nil {
		return StatusStarted, err
	}
	return StatusStarted, nil
}

// Skip ends the current track explicitly and advances. The skip flag keeps
// the forced stop from triggering a second advance through the node event
// or watchdog path.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.current == nil {
		s.mu.Unlock()
		return ErrNoCurrentTrack
	}

	s.skipping = true
	if err := s.conn.Stop(ctx); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		s.logger.Error().Err(err).Msg("stop command failed during skip")
	}
	prev, err := s.advanceLocked(ctx, triggerSkip)
	s.skipping = false
	s.mu.Unlock()
	awaitWatchdog(prev)
	return err
}

// PlayPrevious pops the most recent history entry and plays it, pushing
// the displaced current entry back to the front of the queue.
func (s *Session) PlayPrevious(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	prevEntry, ok := s.history.Pop()
	if !ok {
		s.mu.Unlock()
		return ErrNoHistory
	}
	if s.current != nil {
		s.pending.PushFront(*s.current)
	}
	prev, err := s.playLocked(ctx, prevEntry)
	s.mu.Unlock()
	awaitWatchdog(prev)
	return err
}

// Pause suspends node playback without touching queue state.
func (s *Session) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if err := s.conn.Pause(ctx); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		return &NodeCommandError{Op: "pause", Err: err}
	}
	s.paused = true
	return nil
}

// Resume restarts node playback after a pause.
func (s *Session) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.current == nil {
		return ErrNoCurrentTrack
	}
	if err := s.conn.Resume(ctx); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		return &NodeCommandError{Op: "resume", Err: err}
	}
	s.paused = false
	return nil
}

// SetLoopMode updates the loop mode.
func (s *Session) SetLoopMode(mode LoopMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loopMode = mode
}

// LoopModeValue returns the current loop mode.
func (s *Session) LoopModeValue() LoopMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopMode
}

// SetVolume clamps v to [0, MaxVolume] and forwards it to the node.
// The clamped value is returned.
func (s *Session) SetVolume(ctx context.Context, v int) (int, error) {
	if v < 0 {
		v = 0
	}
	if v > MaxVolume {
		v = MaxVolume
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.volume, ErrSessionClosed
	}
	s.volume = v
	if err := s.conn.SetVolume(ctx, v); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		return v, &NodeCommandError{Op: "volume", Err: err}
	}
	return v, nil
}

// ToggleAlwaysOn flips the always-on flag. Turning it off while idle with
// an empty queue tears the session down immediately.
func (s *Session) ToggleAlwaysOn(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSessionClosed
	}
	s.alwaysOn = !s.alwaysOn
	enabled := s.alwaysOn
	if !enabled && s.current == nil && s.pending.Len() == 0 {
		prev := s.teardownLocked(ctx)
		s.mu.Unlock()
		awaitWatchdog(prev)
		return enabled, nil
	}
	s.mu.Unlock()
	return enabled, nil
}

// Shuffle randomly permutes the pending queue. Track loop is cleared, as
// shuffling under single-track repeat is never what the caller meant.
func (s *Session) Shuffle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.pending.Shuffle(); err != nil {
		return err
	}
	if s.loopMode == LoopTrack {
		s.loopMode = LoopNone
	}
	return nil
}

// ReplaceQueue swaps the pending queue contents. Used by the daily mix.
// Clear and refill happen under one lock hold, so an ending that races the
// swap never sees the momentarily empty queue.
func (s *Session) ReplaceQueue(ctx context.Context, entries []queue.Entry) (EnqueueStatus, error) {
	if len(entries) == 0 {
		return "", ErrNothingToPlay
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSessionClosed
	}
	s.pending.Clear()
	for _, e := range entries {
		s.pending.PushBack(e)
	}
	if s.current != nil {
		queueLen := s.pending.Len()
		s.mu.Unlock()
		s.bus.Publish(events.EventTrackQueued, events.Payload{
			"session_key": s.key,
			"queued":      len(entries),
			"queue_len":   queueLen,
		})
		return StatusQueued, nil
	}

	next, _ := s.pending.PopFront()
	prev, err := s.playLocked(ctx, next)
	s.mu.Unlock()
	awaitWatchdog(prev)
	return StatusStarted, err
}

// Upcoming returns up to n entries from the head of the queue.
func (s *Session) Upcoming(n int) []queue.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.PeekFront(n)
}

// StopAndTeardown stops playback, clears the queue, and disconnects.
func (s *Session) StopAndTeardown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.current != nil {
		if err := s.conn.Stop(ctx); err != nil {
			telemetry.NodeCommandErrorsTotal.Inc()
			s.logger.Error().Err(err).Msg("stop command failed during teardown")
		}
	}
	s.pending.Clear()
	prev := s.teardownLocked(ctx)
	s.mu.Unlock()
	awaitWatchdog(prev)
	return nil
}

// Snapshot returns the current presentation view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// HandleTrackEnd processes an end-of-track signal from the node event
// stream. Signals carrying a nonce from a superseded playback, naming a
// track that is no longer current, or arriving while a skip is in flight
// are dropped as stale.
func (s *Session) HandleTrackEnd(ctx context.Context, trackID string, nonce uint64, source string) {
	s.mu.Lock()
	if !s.endingValidLocked(trackID, nonce, source) {
		s.mu.Unlock()
		return
	}
	prev, err := s.advanceLocked(ctx, source)
	s.mu.Unlock()
	awaitWatchdog(prev)
	if err != nil {
		s.logger.Error().Err(err).Str("trigger", source).Msg("advance after track end failed")
	}
}

// HandlePositionUpdate feeds the redundant completion detector: a reported
// position at or past the track duration is treated as an ended signal,
// guarded exactly like the primary path.
func (s *Session) HandlePositionUpdate(ctx context.Context, positionMS int64, nonce uint64) {
	s.mu.Lock()
	cur := s.current
	if cur == nil || s.closed {
		s.mu.Unlock()
		return
	}
	if time.Duration(positionMS)*time.Millisecond < cur.Track.Duration {
		s.mu.Unlock()
		return
	}
	if !s.endingValidLocked(cur.Track.ID, nonce, triggerPosition) {
		s.mu.Unlock()
		return
	}
	s.logger.Debug().Str("track", cur.Track.Title).Int64("position_ms", positionMS).Msg("position passed duration, treating as ended")
	prev, err := s.advanceLocked(ctx, triggerPosition)
	s.mu.Unlock()
	awaitWatchdog(prev)
	if err != nil {
		s.logger.Error().Err(err).Msg("advance after position overrun failed")
	}
}

// endingValidLocked is the shared staleness guard for every asynchronous
// completion source. The nonce must name the live generation: a track-ID
// match alone cannot distinguish the ending of a superseded playback from
// the current one when both play the same track (track loop, single-entry
// queue loop, duplicate queue entries).
func (s *Session) endingValidLocked(trackID string, nonce uint64, source string) bool {
	if s.closed || s.current == nil || s.skipping {
		telemetry.StaleSignalsTotal.WithLabelValues(source).Inc()
		return false
	}
	if nonce != s.generation {
		telemetry.StaleSignalsTotal.WithLabelValues(source).Inc()
		return false
	}
	if trackID != "" && trackID != s.current.Track.ID {
		telemetry.StaleSignalsTotal.WithLabelValues(source).Inc()
		return false
	}
	return true
}

// playLocked is the single playback entry point: it supersedes the live
// watchdog, commits the new current entry, sends the play command, and
// arms a fresh watchdog. The superseded watchdog handle is returned so the
// caller can await it after releasing the session lock; the generation
// bump has already made any in-flight firing inert.
func (s *Session) playLocked(ctx context.Context, entry queue.Entry) (*watchdog, error) {
	s.generation++
	gen := s.generation

	prev := s.wd
	if prev != nil {
		prev.cancel()
		s.wd = nil
	}

	s.current = &entry
	s.lastUser = entry.Requester
	s.paused = false

	var cmdErr error
	if err := s.conn.Play(ctx, entry.Track, gen); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		s.logger.Error().Err(err).Str("track", entry.Track.Title).Msg("play command failed")
		s.bus.Publish(events.EventNodeError, events.Payload{
			"session_key": s.key,
			"op":          "play",
			"error":       err.Error(),
		})
		cmdErr = &NodeCommandError{Op: "play", Err: err}
	}

	s.wd = s.armWatchdogLocked(gen, entry.Track.Duration+s.margin)

	s.logger.Info().
		Str("track", entry.Track.Title).
		Str("author", entry.Track.Author).
		Uint64("generation", gen).
		Msg("playback started")

	s.bus.Publish(events.EventTrackStarted, snapshotPayload(s.snapshotLocked()))
	return prev, cmdErr
}

// advanceLocked decides what happens after an ending. It runs at most once
// per actual ending; callers guarantee the staleness guard has passed.
func (s *Session) advanceLocked(ctx context.Context, trigger string) (*watchdog, error) {
	telemetry.AdvancesTotal.WithLabelValues(trigger).Inc()

	ended := s.current
	if ended != nil {
		s.recordPlay(*ended)
	}

	switch {
	case s.pending.Len() == 0 && !s.alwaysOn:
		if ended != nil {
			s.history.Push(*ended)
		}
		return s.teardownLocked(ctx), nil

	// A skip is an explicit request to move on; it never replays under
	// track loop, and the skipped entry still lands in history below.
	case s.loopMode == LoopTrack && s.current != nil && trigger != triggerSkip:
		return s.playLocked(ctx, *s.current)

	case s.loopMode == LoopQueue && s.pending.Len() > 0:
		if ended != nil {
			s.history.Push(*ended)
			s.pending.PushBack(*ended)
		}
		next, _ := s.pending.PopFront()
		return s.playLocked(ctx, next)

	case s.pending.Len() > 0:
		if ended != nil {
			s.history.Push(*ended)
		}
		next, _ := s.pending.PopFront()
		return s.playLocked(ctx, next)

	default:
		// Queue drained with always-on set: go idle, keep the connection.
		if ended != nil {
			s.history.Push(*ended)
		}
		prev := s.disarmLocked()
		s.current = nil
		s.paused = false
		s.logger.Info().Msg("queue drained, session idle")
		s.bus.Publish(events.EventSessionIdle, snapshotPayload(s.snapshotLocked()))
		return prev, nil
	}
}

// teardownLocked drains to idle, disconnects from the node, and removes
// the session from its registry.
func (s *Session) teardownLocked(ctx context.Context) *watchdog {
	prev := s.disarmLocked()
	s.current = nil
	s.paused = false
	s.closed = true

	if err := s.conn.Close(ctx); err != nil {
		telemetry.NodeCommandErrorsTotal.Inc()
		s.logger.Error().Err(err).Msg("node disconnect failed")
	}

	s.logger.Info().Msg("session torn down")
	s.bus.Publish(events.EventSessionClosed, events.Payload{"session_key": s.key})
	if s.onClose != nil {
		s.onClose(s.key)
	}
	return prev
}

func (s *Session) disarmLocked() *watchdog {
	prev := s.wd
	if prev != nil {
		prev.cancel()
		s.wd = nil
	}
	return prev
}

func (s *Session) recordPlay(entry queue.Entry) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordPlay(entry, s.key)
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Key:      s.key,
		QueueLen: s.pending.Len(),
		LoopMode: s.loopMode,
		Volume:   s.volume,
		AlwaysOn: s.alwaysOn,
		Paused:   s.paused,
	}
	if s.current != nil {
		track := s.current.Track
		snap.Current = &track
		snap.Requester = s.current.Requester
	}
	return snap
}

func snapshotPayload(snap Snapshot) events.Payload {
	payload := events.Payload{
		"session_key": snap.Key,
		"queue_len":   snap.QueueLen,
		"loop_mode":   string(snap.LoopMode),
		"volume":      snap.Volume,
		"always_on":   snap.AlwaysOn,
		"paused":      snap.Paused,
	}
	if snap.Current != nil {
		payload["track_id"] = snap.Current.ID
		payload["title"] = snap.Current.Title
		payload["author"] = snap.Current.Author
		payload["duration_ms"] = snap.Current.DurationMS
		payload["artwork_url"] = snap.Current.ArtworkURL
		payload["requested_by"] = snap.Requester.Name
	}
	return payload
}
