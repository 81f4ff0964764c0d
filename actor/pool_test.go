package actor

import "testing"

func TestPoolAllocGetFree(t *testing.T) {
	p := NewPool[int]()
	id := p.Alloc(7)

	got, ok := p.Get(id)
	if !ok || got != 7 {
		t.Fatalf("expected (7, true), got (%d, %v)", got, ok)
	}
	if !p.IsAlive(id) {
		t.Fatal("expected freshly allocated id to be alive")
	}

	p.Free(id)
	if p.IsAlive(id) {
		t.Fatal("expected id to be dead after Free")
	}
	if _, ok := p.Get(id); ok {
		t.Fatal("expected Get to report false after Free")
	}
}

func TestPoolRecycledSlotInvalidatesStaleID(t *testing.T) {
	p := NewPool[string]()
	first := p.Alloc("a")
	p.Free(first)

	second := p.Alloc("b")

	// The free-list means second very likely reuses first's slot index, but
	// its generation has advanced — first must never resolve to "b".
	if _, ok := p.Get(first); ok {
		t.Fatal("stale WeakID must not resolve after its slot was recycled")
	}
	got, ok := p.Get(second)
	if !ok || got != "b" {
		t.Fatalf("expected (b, true) for the fresh id, got (%q, %v)", got, ok)
	}
}

func TestPoolZeroValueWeakIDIsNeverValid(t *testing.T) {
	var id WeakID[int]
	if id.Valid() {
		t.Fatal("zero-value WeakID must report invalid")
	}
}

func TestPoolSetOverwritesLiveSlotOnly(t *testing.T) {
	p := NewPool[int]()
	id := p.Alloc(1)
	p.Set(id, 2)
	got, _ := p.Get(id)
	if got != 2 {
		t.Fatalf("expected overwritten value 2, got %d", got)
	}

	p.Free(id)
	p.Set(id, 3) // must be a silent no-op against a dead slot
	if _, ok := p.Get(id); ok {
		t.Fatal("Set must not resurrect a freed slot")
	}
}
