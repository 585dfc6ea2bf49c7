package history

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/bragi_sessions/internal/models"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/queue"
)

type fakeResolver struct {
	missing map[string]bool
}

func (r *fakeResolver) Resolve(ctx context.Context, query string) (node.ResolveResult, error) {
	if r.missing[query] {
		return node.ResolveResult{}, nil
	}
	return node.ResolveResult{Tracks: []node.Track{{ID: query, Title: "title " + query}}}, nil
}

func testService(t *testing.T) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// A second pooled connection would see its own empty :memory: database.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&models.PlayRecord{}, &models.DailyMix{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db, nil, &fakeResolver{}, zerolog.Nop())
}

func seedPlay(t *testing.T, s *Service, sessionKey, userID, trackID string, playedAt time.Time) {
	t.Helper()
	record := models.PlayRecord{
		ID:         trackID + "-" + playedAt.Format("150405.000000000"),
		SessionKey: sessionKey,
		UserID:     userID,
		UserName:   "user " + userID,
		TrackID:    trackID,
		Title:      "title " + trackID,
		Author:     "author",
		DurationMS: 180000,
		PlayedAt:   playedAt,
	}
	if err := s.db.Create(&record).Error; err != nil {
		t.Fatalf("seed play: %v", err)
	}
}

func TestRecordPlayPersistsAsynchronously(t *testing.T) {
	s := testService(t)

	s.RecordPlay(queue.Entry{
		Track:     node.Track{ID: "trk-1", Title: "first", Author: "someone", DurationMS: 200000},
		Requester: queue.Requester{ID: "u1", Name: "alice"},
	}, "chan-1")

	deadline := time.Now().Add(2 * time.Second)
	for {
		var count int64
		if err := s.db.Model(&models.PlayRecord{}).Count(&count).Error; err != nil {
			t.Fatalf("count: %v", err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("play record never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var record models.PlayRecord
	if err := s.db.First(&record).Error; err != nil {
		t.Fatalf("load: %v", err)
	}
	if record.SessionKey != "chan-1" || record.TrackID != "trk-1" || record.UserID != "u1" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRecentBySessionOrdersNewestFirst(t *testing.T) {
	s := testService(t)
	now := time.Now().UTC()

	seedPlay(t, s, "chan-1", "u1", "a", now.Add(-3*time.Hour))
	seedPlay(t, s, "chan-1", "u1", "b", now.Add(-2*time.Hour))
	seedPlay(t, s, "chan-1", "u2", "c", now.Add(-time.Hour))
	seedPlay(t, s, "chan-2", "u1", "d", now)

	records, err := s.RecentBySession(context.Background(), "chan-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, want := range []string{"c", "b", "a"} {
		if records[i].TrackID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, records[i].TrackID)
		}
	}
}

func TestRecentByUserHonorsLimit(t *testing.T) {
	s := testService(t)
	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c", "d"} {
		seedPlay(t, s, "chan-1", "u1", id, now.Add(time.Duration(i)*time.Minute))
	}

	records, err := s.RecentByUser(context.Background(), "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TrackID != "d" || records[1].TrackID != "c" {
		t.Fatalf("unexpected order: %s, %s", records[0].TrackID, records[1].TrackID)
	}
}

func TestMostPlayed(t *testing.T) {
	s := testService(t)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		seedPlay(t, s, "chan-1", "u1", "hit", now.Add(time.Duration(i)*time.Minute))
	}
	seedPlay(t, s, "chan-1", "u2", "other", now)

	counts, err := s.MostPlayed(context.Background(), 10)
	if err != nil {
		t.Fatalf("most played: %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(counts))
	}
	if counts[0].TrackID != "hit" || counts[0].Plays != 3 {
		t.Fatalf("unexpected leader: %+v", counts[0])
	}
}

func TestDailyMixRequiresHistory(t *testing.T) {
	s := testService(t)

	if _, err := s.DailyMix(context.Background(), "u1"); err != ErrNotEnoughHistory {
		t.Fatalf("expected ErrNotEnoughHistory, got %v", err)
	}
}

func TestDailyMixGeneratedOncePerDay(t *testing.T) {
	s := testService(t)
	now := time.Now().UTC()

	for _, id := range []string{"a", "b", "c"} {
		seedPlay(t, s, "chan-1", "u1", id, now.Add(-time.Hour))
	}
	// Outside the mix window, must not contribute.
	seedPlay(t, s, "chan-1", "u1", "stale", now.Add(-30*24*time.Hour))

	mix, err := s.DailyMix(context.Background(), "u1")
	if err != nil {
		t.Fatalf("daily mix: %v", err)
	}
	ids := strings.Split(mix.TrackIDs, "\n")
	if len(ids) != 3 {
		t.Fatalf("expected 3 track ids, got %v", ids)
	}
	for _, id := range ids {
		if id == "stale" {
			t.Fatal("mix included a track outside the window")
		}
	}

	again, err := s.DailyMix(context.Background(), "u1")
	if err != nil {
		t.Fatalf("second daily mix: %v", err)
	}
	if again.ID != mix.ID {
		t.Fatal("expected the stored mix on repeat calls")
	}
}

func TestDailyMixDeduplicatesTracks(t *testing.T) {
	s := testService(t)
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		seedPlay(t, s, "chan-1", "u1", "repeat", now.Add(time.Duration(i)*time.Minute))
	}

	mix, err := s.DailyMix(context.Background(), "u1")
	if err != nil {
		t.Fatalf("daily mix: %v", err)
	}
	if mix.TrackIDs != "repeat" {
		t.Fatalf("expected single distinct track, got %q", mix.TrackIDs)
	}
}

func TestResolveMixSkipsUnresolvable(t *testing.T) {
	s := testService(t)
	s.resolver = &fakeResolver{missing: map[string]bool{"gone": true}}

	mix := &models.DailyMix{TrackIDs: "a\ngone\nb"}
	entries, err := s.ResolveMix(context.Background(), mix, queue.Requester{ID: "u1", Name: "alice"})
	if err != nil {
		t.Fatalf("resolve mix: %v", err)
	}
	if len(entries) != 2 || entries[0].Track.ID != "a" || entries[1].Track.ID != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	s.resolver = &fakeResolver{missing: map[string]bool{"a": true}}
	if _, err := s.ResolveMix(context.Background(), &models.DailyMix{TrackIDs: "a"}, queue.Requester{}); err != ErrNotEnoughHistory {
		t.Fatalf("expected ErrNotEnoughHistory, got %v", err)
	}
}
