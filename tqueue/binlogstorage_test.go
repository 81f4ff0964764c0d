package tqueue

import (
	"testing"

	"github.com/actorkit/tdcore/binlog/eventsproc"
)

func TestEncodeDecodeQueueEventRoundTrip(t *testing.T) {
	ev := RawEvent{ID: 12345, ExpireAt: 1700000000, Extra: 77, Data: []byte("hello world")}
	payload := encodeQueueEvent(42, ev)
	if len(payload)%4 != 0 {
		t.Fatalf("expected 4-byte aligned payload, got %d", len(payload))
	}

	gotQueueID, gotEv, err := decodeQueueEvent(payload)
	if err != nil {
		t.Fatal(err)
	}
	if gotQueueID != 42 {
		t.Fatalf("queue id mismatch: got %d", gotQueueID)
	}
	if gotEv.ID != ev.ID || gotEv.ExpireAt != ev.ExpireAt || gotEv.Extra != ev.Extra || string(gotEv.Data) != string(ev.Data) {
		t.Fatalf("event mismatch: got %+v, want %+v", gotEv, ev)
	}
}

func TestReplayQueueEventIgnoresForeignTypes(t *testing.T) {
	called := false
	err := ReplayQueueEvent(eventsproc.Record{Type: 7}, func(QueueID, RawEvent) { called = true })
	if err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("expected non-matching record type to be ignored")
	}
}

func TestReplayQueueEventDispatchesMatchingType(t *testing.T) {
	payload := encodeQueueEvent(9, RawEvent{ID: 5, Data: []byte("x")})
	var gotQueueID QueueID
	var gotEvent RawEvent
	err := ReplayQueueEvent(eventsproc.Record{ID: 100, Type: QueueEventType, Payload: payload}, func(q QueueID, e RawEvent) {
		gotQueueID, gotEvent = q, e
	})
	if err != nil {
		t.Fatal(err)
	}
	if gotQueueID != 9 || gotEvent.ID != 5 || gotEvent.LogEventID != 100 {
		t.Fatalf("unexpected dispatch: queueID=%d event=%+v", gotQueueID, gotEvent)
	}
}
