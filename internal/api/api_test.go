package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/friendsincode/bragi_sessions/internal/auth"
	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/history"
	"github.com/friendsincode/bragi_sessions/internal/models"
	"github.com/friendsincode/bragi_sessions/internal/node"
	"github.com/friendsincode/bragi_sessions/internal/queue"
	"github.com/friendsincode/bragi_sessions/internal/session"
)

// stubClient serves canned resolve results and in-memory player conns.
type stubClient struct {
	results map[string]node.ResolveResult
	events  chan node.Event
}

func newStubClient() *stubClient {
	return &stubClient{
		results: make(map[string]node.ResolveResult),
		events:  make(chan node.Event, 16),
	}
}

func (c *stubClient) Connect(ctx context.Context, sessionKey string) (node.Conn, error) {
	return stubConn{}, nil
}

func (c *stubClient) Resolve(ctx context.Context, query string) (node.ResolveResult, error) {
	return c.results[query], nil
}

func (c *stubClient) Events() <-chan node.Event { return c.events }

func (c *stubClient) Close(ctx context.Context) error { return nil }

type stubConn struct{}

func (stubConn) Play(ctx context.Context, track node.Track, nonce uint64) error { return nil }
func (stubConn) Pause(ctx context.Context) error                                { return nil }
func (stubConn) Resume(ctx context.Context) error                               { return nil }
func (stubConn) Stop(ctx context.Context) error                                 { return nil }
func (stubConn) SetVolume(ctx context.Context, volume int) error                { return nil }
func (stubConn) Close(ctx context.Context) error                                { return nil }

type testEnv struct {
	api      *API
	router   chi.Router
	client   *stubClient
	registry *session.Registry
	db       *gorm.DB
}

func newTestEnv(t *testing.T, jwtSecret []byte) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&models.PlayRecord{}, &models.DailyMix{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := newStubClient()
	bus := events.NewBus()
	registry := session.NewRegistry(session.RegistryOptions{
		Client:         client,
		Bus:            bus,
		Logger:         zerolog.Nop(),
		WatchdogMargin: time.Hour,
	})
	historySvc := history.NewService(db, bus, client, zerolog.Nop())

	a := New(registry, client, historySvc, nil, bus, nil, jwtSecret, zerolog.Nop())
	r := chi.NewRouter()
	a.Routes(r)
	return &testEnv{api: a, router: r, client: client, registry: registry, db: db}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, http.MethodGet, "/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPlayStartsSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["song"] = node.ResolveResult{
		Tracks: []node.Track{
			{ID: "t1", Title: "first match", Duration: time.Minute, DurationMS: 60000},
			{ID: "t2", Title: "second match", Duration: time.Minute, DurationMS: 60000},
		},
	}

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{
		Query:     "song",
		Requester: queue.Requester{ID: "u1", Name: "alice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp playResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != session.StatusStarted {
		t.Fatalf("expected started, got %q", resp.Status)
	}
	if resp.Queued != 1 {
		t.Fatalf("plain query must queue only the best match, queued %d", resp.Queued)
	}
	if resp.Snapshot.Current == nil || resp.Snapshot.Current.ID != "t1" {
		t.Fatalf("unexpected snapshot: %+v", resp.Snapshot)
	}
}

func TestPlayPlaylistQueuesAll(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["list"] = node.ResolveResult{
		Tracks: []node.Track{
			{ID: "t1", Duration: time.Minute, DurationMS: 60000},
			{ID: "t2", Duration: time.Minute, DurationMS: 60000},
			{ID: "t3", Duration: time.Minute, DurationMS: 60000},
		},
		Playlist: "road trip",
	}

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{
		Query:     "list",
		Requester: queue.Requester{ID: "u1", Name: "alice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp playResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Queued != 3 || resp.Playlist != "road trip" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Snapshot.QueueLen != 2 {
		t.Fatalf("expected 2 pending after the first started, got %d", resp.Snapshot.QueueLen)
	}
}

func TestPlayRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty query: expected 400, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{Query: "unknown"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("no matches: expected 404, got %d", rec.Code)
	}
}

func TestControlsRequireLiveSession(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{
		"/v1/sessions/ghost/skip",
		"/v1/sessions/ghost/pause",
		"/v1/sessions/ghost/shuffle",
	} {
		if rec := env.request(t, http.MethodPost, path, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
	if rec := env.request(t, http.MethodGet, "/v1/sessions/ghost", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("snapshot: expected 404, got %d", rec.Code)
	}
}

func TestSkipWithEmptyQueueTearsDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["song"] = node.ResolveResult{
		Tracks: []node.Track{{ID: "t1", Duration: time.Minute, DurationMS: 60000}},
	}
	env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{Query: "song"})

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/skip", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if env.registry.Get("chan-1") != nil {
		t.Fatal("skip past the last track must tear the session down")
	}
}

func TestLoopModeValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["song"] = node.ResolveResult{
		Tracks: []node.Track{{ID: "t1", Duration: time.Minute, DurationMS: 60000}},
	}
	env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{Query: "song"})

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/loop", map[string]string{"mode": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad mode, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/v1/sessions/chan-1/loop", map[string]string{"mode": "queue"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.LoopMode != session.LoopQueue {
		t.Fatalf("expected queue loop, got %q", snap.LoopMode)
	}
}

func TestVolumeEndpointClamps(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["song"] = node.ResolveResult{
		Tracks: []node.Track{{ID: "t1", Duration: time.Minute, DurationMS: 60000}},
	}
	env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{Query: "song"})

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/volume", map[string]int{"volume": 999})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["volume"] != session.MaxVolume {
		t.Fatalf("expected clamp to %d, got %d", session.MaxVolume, resp["volume"])
	}
}

func TestStopRemovesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.client.results["song"] = node.ResolveResult{
		Tracks: []node.Track{{ID: "t1", Duration: time.Minute, DurationMS: 60000}},
	}
	env.request(t, http.MethodPost, "/v1/sessions/chan-1/play", playRequest{Query: "song"})

	rec := env.request(t, http.MethodDelete, "/v1/sessions/chan-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", env.registry.Len())
	}
}

func TestDailyMixEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		record := models.PlayRecord{
			ID: id, SessionKey: "chan-1", UserID: "u1", TrackID: id,
			Title: "title " + id, PlayedAt: time.Now().UTC().Add(-time.Hour),
		}
		if err := env.db.Create(&record).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
		env.client.results[id] = node.ResolveResult{
			Tracks: []node.Track{{ID: id, Title: "title " + id, Duration: time.Minute, DurationMS: 60000}},
		}
	}

	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/mix", map[string]any{
		"requester": map[string]string{"id": "u1", "name": "alice"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp playResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Queued != 3 {
		t.Fatalf("expected 3 mix entries, got %d", resp.Queued)
	}
	if resp.Snapshot.Current == nil {
		t.Fatal("expected playback started from the mix")
	}
}

func TestDailyMixWithoutHistoryConflicts(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.request(t, http.MethodPost, "/v1/sessions/chan-1/mix", map[string]any{
		"requester": map[string]string{"id": "u1"},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestJWTGuardsProtectedRoutes(t *testing.T) {
	secret := []byte("test-secret")
	env := newTestEnv(t, secret)

	// Health stays open.
	if rec := env.request(t, http.MethodGet, "/v1/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	// Protected route without a token.
	if rec := env.request(t, http.MethodGet, "/v1/sessions", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token, err := auth.Issue(secret, auth.Claims{UserID: "u1", Name: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	recd := httptest.NewRecorder()
	env.router.ServeHTTP(recd, req)
	if recd.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", recd.Code)
	}
}
