package eventsproc

import "testing"

func rec(id uint64, typ int32, flags uint32, payload string) Record {
	return Record{ID: id, Type: typ, Flags: flags, Payload: []byte(payload)}
}

func TestProcessor_AppendAndForEach(t *testing.T) {
	p := New()
	if err := p.AddEvent(rec(1, 1, 0, "a")); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEvent(rec(2, 1, 0, "b")); err != nil {
		t.Fatal(err)
	}

	var got []string
	p.ForEach(func(r Record) { got = append(got, string(r.Payload)) })
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected projection: %v", got)
	}
	if p.LastEventID() != 2 {
		t.Fatalf("LastEventID = %d, want 2", p.LastEventID())
	}
}

func TestProcessor_NonMonotonicIsProtocolViolation(t *testing.T) {
	p := New()
	if err := p.AddEvent(rec(5, 1, 0, "a")); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEvent(rec(5, 1, 0, "b")); err == nil {
		t.Fatal("expected an error for a non-increasing id")
	}
}

func TestProcessor_RewriteReplacesInPlace(t *testing.T) {
	p := New()
	if err := p.AddEvent(rec(1, 1, 0, "a")); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEvent(rec(1, 1, FlagRewrite, "B")); err != nil {
		t.Fatal(err)
	}

	var got []string
	p.ForEach(func(r Record) { got = append(got, string(r.Payload)) })
	if len(got) != 1 || got[0] != "B" {
		t.Fatalf("expected rewrite to replace in place, got %v", got)
	}
}

func TestProcessor_EmptyRewriteTombstones(t *testing.T) {
	p := New()
	if err := p.AddEvent(rec(1, 1, 0, "a")); err != nil {
		t.Fatal(err)
	}
	if err := p.AddEvent(rec(1, 0, FlagRewrite, "")); err != nil {
		t.Fatal(err)
	}

	var got []Record
	p.ForEach(func(r Record) { got = append(got, r) })
	if len(got) != 0 {
		t.Fatalf("expected tombstoned record to be invisible, got %v", got)
	}
}

func TestProcessor_RewriteOfUnknownIDFails(t *testing.T) {
	p := New()
	// ids 1, 2, 4 leave a gap at fixedID 6 (logical id 3) that was never
	// assigned, so a rewrite targeting it must fail even though it falls
	// within the already-seen id range.
	for _, id := range []uint64{1, 2, 4} {
		if err := p.AddEvent(rec(id, 1, 0, "x")); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.AddEvent(rec(3, 1, FlagRewrite, "x")); err == nil {
		t.Fatal("expected rewrite of an id never assigned to fail")
	}
}

func TestProcessor_CompactsOnceTombstonesDominate(t *testing.T) {
	p := New()
	// 11 live records (total_events > 10), then tombstone 9 of them so
	// empty*4 > total*3 triggers compaction.
	for i := uint64(1); i <= 11; i++ {
		if err := p.AddEvent(rec(i, 1, 0, "x")); err != nil {
			t.Fatal(err)
		}
	}
	for i := uint64(1); i <= 9; i++ {
		if err := p.AddEvent(rec(i, 0, FlagRewrite, "")); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(p.ids); got != 2 {
		t.Fatalf("expected compaction to shrink backing arrays to 2 live entries, got %d", got)
	}
	if p.emptyEvents != 0 {
		t.Fatalf("expected emptyEvents reset after compaction, got %d", p.emptyEvents)
	}

	var got []uint64
	p.ForEach(func(r Record) { got = append(got, r.ID) })
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Fatalf("unexpected surviving ids: %v", got)
	}
}

func TestProcessor_ServiceRecordsNotStored(t *testing.T) {
	p := New()
	if err := p.AddEvent(rec(0, -1, 0, "svc")); err != nil {
		t.Fatal(err)
	}
	var got []Record
	p.ForEach(func(r Record) { got = append(got, r) })
	if len(got) != 0 {
		t.Fatalf("expected service record to be skipped, got %v", got)
	}
}
