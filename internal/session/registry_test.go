package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_sessions/internal/events"
	"github.com/friendsincode/bragi_sessions/internal/node"
)

// fakeClient hands out a fresh fakeConn per session key.
type fakeClient struct {
	mu         sync.Mutex
	conns      map[string]*fakeConn
	connectErr error
	events     chan node.Event
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		conns:  make(map[string]*fakeConn),
		events: make(chan node.Event, 16),
	}
}

func (c *fakeClient) Connect(ctx context.Context, sessionKey string) (node.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	conn := &fakeConn{}
	c.conns[sessionKey] = conn
	return conn, nil
}

func (c *fakeClient) Resolve(ctx context.Context, query string) (node.ResolveResult, error) {
	return node.ResolveResult{Tracks: []node.Track{{ID: query, Title: query}}}, nil
}

func (c *fakeClient) Events() <-chan node.Event {
	return c.events
}

func (c *fakeClient) Close(ctx context.Context) error {
	return nil
}

func (c *fakeClient) conn(key string) *fakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns[key]
}

func newTestRegistry(client *fakeClient) *Registry {
	return NewRegistry(RegistryOptions{
		Client:         client,
		Bus:            events.NewBus(),
		Logger:         zerolog.Nop(),
		WatchdogMargin: time.Hour,
	})
}

func TestRegistryGetOrCreateReusesSession(t *testing.T) {
	client := newFakeClient()
	r := newTestRegistry(client)
	ctx := context.Background()

	s1, err := r.GetOrCreate(ctx, "chan-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	s2, err := r.GetOrCreate(ctx, "chan-1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if s1 != s2 {
		t.Fatal("expected the same session for the same key")
	}
	if r.Len() != 1 {
		t.Fatalf("expected one live session, got %d", r.Len())
	}
}

func TestRegistryConnectFailure(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("node unreachable")
	r := newTestRegistry(client)

	if _, err := r.GetOrCreate(context.Background(), "chan-1"); err == nil {
		t.Fatal("expected connect error to surface")
	}
	if r.Len() != 0 {
		t.Fatalf("failed connect must not register a session, got %d", r.Len())
	}
}

func TestRegistryForgetsOnTeardown(t *testing.T) {
	client := newFakeClient()
	r := newTestRegistry(client)
	ctx := context.Background()

	s, err := r.GetOrCreate(ctx, "chan-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.EnqueueAndMaybeStart(ctx, testEntry("a", time.Minute)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Draining the queue with always-on off tears the session down,
	// which must drop it from the registry.
	s.HandleTrackEnd(ctx, "a", client.conn("chan-1").lastNonce(), "node_event")

	if got := r.Get("chan-1"); got != nil {
		t.Fatal("expected torn-down session removed from registry")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
}

func TestRegistryRemove(t *testing.T) {
	client := newFakeClient()
	r := newTestRegistry(client)
	ctx := context.Background()

	if _, err := r.GetOrCreate(ctx, "chan-1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.Remove(ctx, "chan-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Len())
	}
	if conn := client.conn("chan-1"); conn == nil || !conn.isClosed() {
		t.Fatal("expected node connection closed on remove")
	}
	if err := r.Remove(ctx, "chan-1"); err != nil {
		t.Fatalf("remove of unknown key must be a no-op, got %v", err)
	}
}

func TestRegistryShutdownTearsDownEverything(t *testing.T) {
	client := newFakeClient()
	r := newTestRegistry(client)
	ctx := context.Background()

	for _, key := range []string{"chan-1", "chan-2", "chan-3"} {
		if _, err := r.GetOrCreate(ctx, key); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if got := len(r.Keys()); got != 3 {
		t.Fatalf("expected 3 keys, got %d", got)
	}

	r.Shutdown(ctx)

	if r.Len() != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", r.Len())
	}
	for _, key := range []string{"chan-1", "chan-2", "chan-3"} {
		if conn := client.conn(key); conn == nil || !conn.isClosed() {
			t.Fatalf("expected %s connection closed", key)
		}
	}
}
