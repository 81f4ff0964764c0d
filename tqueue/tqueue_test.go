package tqueue

import (
	"testing"

	"github.com/actorkit/tdcore/internal/telemetry"
)

func newTestQueue() *TQueue {
	return New(NewMemoryStorage(), telemetry.New(nil, 0))
}

func TestPushAndGet(t *testing.T) {
	q := newTestQueue()
	id1, err := q.Push(1, []byte("a"), 0, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != 100 {
		t.Fatalf("expected hinted id 100, got %d", id1)
	}
	id2, err := q.Push(1, []byte("b"), 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1+1 {
		t.Fatalf("expected monotone id %d, got %d", id1+1, id2)
	}

	out := make([]RawEvent, 10)
	got := q.Get(1, 0, false, 0, out)
	if len(got) != 2 || string(got[0].Data) != "a" || string(got[1].Data) != "b" {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestGetForgetPrevious(t *testing.T) {
	q := newTestQueue()
	id1, _ := q.Push(1, []byte("a"), 0, 0, 50)
	id2, _ := q.Push(1, []byte("b"), 0, 0, 0)

	out := make([]RawEvent, 10)
	got := q.Get(1, id2, true, 0, out)
	if len(got) != 1 || got[0].ID != id2 {
		t.Fatalf("expected only id2 to survive forget_previous, got %+v", got)
	}
	if q.GetSize(1) != 1 {
		t.Fatalf("expected forgotten event actually removed, size=%d", q.GetSize(1))
	}
	_ = id1
}

func TestGetSkipsExpired(t *testing.T) {
	q := newTestQueue()
	q.Push(1, []byte("old"), 10, 0, 50)
	q.Push(1, []byte("new"), 1000, 0, 0)

	out := make([]RawEvent, 10)
	got := q.Get(1, 0, false, 500, out)
	if len(got) != 1 || string(got[0].Data) != "new" {
		t.Fatalf("expected expired event dropped, got %+v", got)
	}
	if q.GetSize(1) != 1 {
		t.Fatalf("expired event should have been popped, size=%d", q.GetSize(1))
	}
}

func TestForget(t *testing.T) {
	q := newTestQueue()
	id, _ := q.Push(1, []byte("a"), 0, 0, 50)
	if err := q.Forget(1, id); err != nil {
		t.Fatal(err)
	}
	if q.GetSize(1) != 0 {
		t.Fatalf("expected queue empty after forget, size=%d", q.GetSize(1))
	}
	if err := q.Forget(1, id); err != nil {
		t.Fatalf("forgetting an already-gone id must be a no-op, got %v", err)
	}
}

func TestClearKeepsTail(t *testing.T) {
	q := newTestQueue()
	q.Push(1, []byte("a"), 0, 0, 50)
	q.Push(1, []byte("b"), 0, 0, 0)
	q.Push(1, []byte("c"), 0, 0, 0)

	popped, err := q.Clear(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(popped) != 2 {
		t.Fatalf("expected 2 popped, got %d", len(popped))
	}
	if q.GetSize(1) != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.GetSize(1))
	}
}

func TestPushForcesWrapAtMaxID(t *testing.T) {
	q := newTestQueue()
	q.Push(1, []byte("a"), 0, 0, 50)
	q.Push(1, []byte("b"), 0, 0, 0)
	if q.GetSize(1) != 2 {
		t.Fatalf("expected two events queued, got %d", q.GetSize(1))
	}

	// White-box: drive tail_id to MAX_ID-1 directly, the way a queue that
	// has been pushed to 2e9 times would arrive there naturally.
	q.queues[1].tailID = maxEventID - 1

	idAtWrap, err := q.Push(1, []byte("c"), 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if idAtWrap == maxEventID-1 {
		t.Fatalf("expected the overflowing tail id to never be assigned to an event, got %d", idAtWrap)
	}
	if idAtWrap < minRandomEventID || idAtWrap >= maxEventID {
		t.Fatalf("expected a fresh random id in range after forced wrap, got %d", idAtWrap)
	}
	if q.GetSize(1) != 1 {
		t.Fatalf("expected the whole queue drained by the forced wrap, leaving only the new push, size=%d", q.GetSize(1))
	}

	out := make([]RawEvent, 10)
	got := q.Get(1, 0, false, 0, out)
	if len(got) != 1 || got[0].ID != idAtWrap || string(got[0].Data) != "c" {
		t.Fatalf("expected only the post-wrap push to survive, got %+v", got)
	}

	id2, err := q.Push(1, []byte("d"), 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != idAtWrap+1 {
		t.Fatalf("expected the next push to resume monotone from the fresh tail, got %d want %d", id2, idAtWrap+1)
	}
	if q.GetSize(1) != 2 {
		t.Fatalf("expected both post-wrap pushes present, size=%d", q.GetSize(1))
	}
}

func TestRunGC(t *testing.T) {
	q := newTestQueue()
	q.Push(1, []byte("a"), 10, 0, 50)
	q.Push(1, []byte("b"), 10, 0, 0)
	q.Push(1, []byte("c"), 1000, 0, 0)

	count, completed := q.RunGC(500, 10)
	if count != 2 {
		t.Fatalf("expected 2 expired events collected, got %d", count)
	}
	if !completed {
		t.Fatal("expected gc to complete within budget")
	}
	if q.GetSize(1) != 1 {
		t.Fatalf("expected only the unexpired event left, size=%d", q.GetSize(1))
	}
}

func TestRunGCRespectsBudget(t *testing.T) {
	q := newTestQueue()
	for i := 0; i < 5; i++ {
		q.Push(QueueID(i), []byte("x"), 10, 0, EventId(50+i))
	}
	count, completed := q.RunGC(500, 2)
	if count != 2 {
		t.Fatalf("expected exactly budget=2 events collected, got %d", count)
	}
	if completed {
		t.Fatal("expected gc to report incomplete when budget is exhausted with more work left")
	}
}
