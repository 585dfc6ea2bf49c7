/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history persists finished playbacks and builds per-user daily
// mixes from them.
package history

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/models"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/queue"
)

const (
	// mixWindow is how far back listening history feeds a daily mix.
	mixWindow = 14 * 24 * time.Hour
	// mixSize caps the number of tracks in a generated mix.
	mixSize = 25
)

// ErrNotEnoughHistory means the user has not listened to enough distinct
// tracks to build a mix.
var ErrNotEnoughHistory = errors.New("not enough listening history for a daily mix")

// Resolver turns a stored track reference back into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (node.ResolveResult, error)
}

// Service records plays and answers history queries.
type Service struct {
	db       *gorm.DB
	bus      *events.Bus
	resolver Resolver
	logger   zerolog.Logger
}

// NewService creates the history service.
func NewService(db *gorm.DB, bus *events.Bus, resolver Resolver, logger zerolog.Logger) *Service {
	return &Service{
		db:       db,
		bus:      bus,
		resolver: resolver,
		logger:   logger.With().Str("component", "history").Logger(),
	}
}

// RecordPlay persists one finished playback. The write happens on its own
// goroutine; playback never waits on the database, and failures are
// logged, not surfaced.
func (s *Service) RecordPlay(entry queue.Entry, sessionKey string) {
	record := models.PlayRecord{
		ID:         uuid.NewString(),
		SessionKey: sessionKey,
		UserID:     entry.Requester.ID,
		UserName:   entry.Requester.Name,
		TrackID:    entry.Track.ID,
		Title:      entry.Track.Title,
		Author:     entry.Track.Author,
		DurationMS: entry.Track.DurationMS,
		ArtworkURL: entry.Track.ArtworkURL,
		PlayedAt:   time.Now().UTC(),
	}

	go func() {
		if err := s.db.Create(&record).Error; err != nil {
			s.logger.Error().Err(err).Str("track", record.Title).Msg("failed to record play")
			return
		}
		if s.bus != nil {
			s.bus.Publish(events.EventPlayRecorded, events.Payload{
				"session_key": record.SessionKey,
				"user_id":     record.UserID,
				"track_id":    record.TrackID,
				"title":       record.Title,
			})
		}
	}()
}

// RecentBySession returns the newest plays for a session, newest first.
func (s *Service) RecentBySession(ctx context.Context, sessionKey string, limit int) ([]models.PlayRecord, error) {
	var records []models.PlayRecord
	err := s.db.WithContext(ctx).
		Where("session_key = ?", sessionKey).
		Order("played_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	return records, err
}

// RecentByUser returns the newest plays attributed to a user, newest first.
func (s *Service) RecentByUser(ctx context.Context, userID string, limit int) ([]models.PlayRecord, error) {
	var records []models.PlayRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("played_at DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	return records, err
}

// TrackCount pairs a track with its play count for leaderboards.
type TrackCount struct {
	TrackID string `json:"track_id"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Plays   int64  `json:"plays"`
}

// MostPlayed returns the most played tracks across all sessions.
func (s *Service) MostPlayed(ctx context.Context, limit int) ([]TrackCount, error) {
	var counts []TrackCount
	err := s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Select("track_id, title, author, COUNT(*) AS plays").
		Group("track_id, title, author").
		Order("plays DESC").
		Limit(clampLimit(limit)).
		Scan(&counts).Error
	return counts, err
}

// DailyMix returns the user's mix for today, generating it from recent
// listening history if it does not exist yet. At most one mix is built
// per user per UTC day; repeat calls return the stored one.
func (s *Service) DailyMix(ctx context.Context, userID string) (*models.DailyMix, error) {
	today := time.Now().UTC().Format("2006-01-02")

	var existing models.DailyMix
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND date = ?", userID, today).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	trackIDs, err := s.mixCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	mix := models.DailyMix{
		ID:       uuid.NewString(),
		UserID:   userID,
		Date:     today,
		TrackIDs: strings.Join(trackIDs, "\n"),
	}
	if err := s.db.WithContext(ctx).Create(&mix).Error; err != nil {
		return nil, fmt.Errorf("store daily mix: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Int("tracks", len(trackIDs)).Msg("daily mix generated")
	return &mix, nil
}

// ResolveMix turns a stored mix back into playable queue entries. Tracks
// the node can no longer resolve are skipped.
func (s *Service) ResolveMix(ctx context.Context, mix *models.DailyMix, requester queue.Requester) ([]queue.Entry, error) {
	ids := strings.Split(mix.TrackIDs, "\n")
	entries := make([]queue.Entry, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		result, err := s.resolver.Resolve(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Str("track_id", id).Msg("mix track no longer resolvable, skipping")
			continue
		}
		if len(result.Tracks) == 0 {
			continue
		}
		entries = append(entries, queue.Entry{Track: result.Tracks[0], Requester: requester})
	}
	if len(entries) == 0 {
		return nil, ErrNotEnoughHistory
	}
	return entries, nil
}

// mixCandidates picks distinct recently played tracks for the user,
// shuffled, capped at mixSize.
func (s *Service) mixCandidates(ctx context.Context, userID string) ([]string, error) {
	since := time.Now().UTC().Add(-mixWindow)

	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.PlayRecord{}).
		Distinct("track_id").
		Where("user_id = ? AND played_at >= ?", userID, since).
		Pluck("track_id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotEnoughHistory
	}

	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if len(ids) > mixSize {
		ids = ids[:mixSize]
	}
	return ids, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 25
	}
	return limit
}
