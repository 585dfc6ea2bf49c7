package queue

import (
	"testing"

	"github.com/friendsincode/bragi_sessions/internal/node"
)

func entry(id string) Entry {
	return Entry{
		Track:     node.Track{ID: id, Title: "track " + id},
		Requester: Requester{ID: "u1", Name: "alice"},
	}
}

func TestQueueOrdering(t *testing.T) {
	q := New()
	q.PushBack(entry("a"))
	q.PushBack(entry("b"))
	q.PushFront(entry("c"))

	if q.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", q.Len())
	}

	want := []string{"c", "a", "b"}
	for _, id := range want {
		got, ok := q.PopFront()
		if !ok {
			t.Fatalf("expected entry %q, queue empty", id)
		}
		if got.Track.ID != id {
			t.Fatalf("expected %q, got %q", id, got.Track.ID)
		}
	}

	if _, ok := q.PopFront(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestQueuePeekFrontDoesNotConsume(t *testing.T) {
	q := New()
	q.PushBack(entry("a"))
	q.PushBack(entry("b"))

	peeked := q.PeekFront(5)
	if len(peeked) != 2 {
		t.Fatalf("expected 2 peeked entries, got %d", len(peeked))
	}
	if q.Len() != 2 {
		t.Fatalf("peek consumed entries, len now %d", q.Len())
	}
	if peeked[0].Track.ID != "a" || peeked[1].Track.ID != "b" {
		t.Fatalf("unexpected peek order: %v", peeked)
	}
}

func TestQueueShuffleRequiresThreeEntries(t *testing.T) {
	q := New()
	q.PushBack(entry("a"))
	q.PushBack(entry("b"))

	if err := q.Shuffle(); err != ErrTooFewEntries {
		t.Fatalf("expected ErrTooFewEntries, got %v", err)
	}

	q.PushBack(entry("c"))
	if err := q.Shuffle(); err != nil {
		t.Fatalf("shuffle with 3 entries: %v", err)
	}
	if q.Len() != 3 {
		t.Fatalf("shuffle changed length to %d", q.Len())
	}
}

func TestQueueShufflePreservesMultiset(t *testing.T) {
	q := New()
	ids := map[string]int{}
	for _, id := range []string{"a", "b", "c", "d", "a"} {
		q.PushBack(entry(id))
		ids[id]++
	}

	if err := q.Shuffle(); err != nil {
		t.Fatalf("shuffle: %v", err)
	}

	for q.Len() > 0 {
		got, _ := q.PopFront()
		ids[got.Track.ID]--
	}
	for id, n := range ids {
		if n != 0 {
			t.Fatalf("entry %q count off by %d after shuffle", id, n)
		}
	}
}

func TestHistoryBoundedDepth(t *testing.T) {
	h := NewHistory(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		h.Push(entry(id))
	}

	if h.Len() != 3 {
		t.Fatalf("expected depth-bounded length 3, got %d", h.Len())
	}

	// Oldest entry "a" was dropped; pops are most recent first.
	want := []string{"d", "c", "b"}
	for _, id := range want {
		got, ok := h.Pop()
		if !ok || got.Track.ID != id {
			t.Fatalf("expected %q, got %q (ok=%v)", id, got.Track.ID, ok)
		}
	}
	if _, ok := h.Pop(); ok {
		t.Fatal("expected empty history")
	}
}
