package actor

import "testing"

func TestHeapPopsInAscendingKeyOrder(t *testing.T) {
	h := NewHeap[int64]()
	keys := []int64{5, 1, 9, 3, 7, 2, 8, 4, 6, 0}
	nodes := make([]HeapNode, len(keys))
	for i, k := range keys {
		h.Insert(k, i, &nodes[i])
	}
	if h.Len() != len(keys) {
		t.Fatalf("expected len %d, got %d", len(keys), h.Len())
	}

	var prev int64 = -1
	for !h.Empty() {
		top := h.TopKey()
		if top < prev {
			t.Fatalf("heap order violated: %d came after %d", top, prev)
		}
		prev = top
		h.Pop()
	}
}

func TestHeapEraseMidHeap(t *testing.T) {
	h := NewHeap[int64]()
	var nodes [5]HeapNode
	for i, k := range []int64{10, 20, 30, 40, 50} {
		h.Insert(k, k, &nodes[i])
	}
	h.Erase(&nodes[2]) // removes key 30
	if nodes[2].inHeap() {
		t.Fatal("expected erased node to report not-in-heap")
	}
	if h.Len() != 4 {
		t.Fatalf("expected 4 entries left, got %d", h.Len())
	}

	var seen []int64
	for !h.Empty() {
		seen = append(seen, h.TopKey())
		h.Pop()
	}
	for _, k := range seen {
		if k == 30 {
			t.Fatal("erased key 30 must never be popped")
		}
	}
}

func TestHeapChangeKeyReordersEntry(t *testing.T) {
	h := NewHeap[int64]()
	var nodes [3]HeapNode
	h.Insert(10, "a", &nodes[0])
	h.Insert(20, "b", &nodes[1])
	h.Insert(30, "c", &nodes[2])

	h.ChangeKey(&nodes[2], 5) // "c" should now be the smallest
	if h.Top() != "c" {
		t.Fatalf("expected c to be the new minimum, got %v", h.Top())
	}
}

func TestHeapEraseNotInHeapIsNoOp(t *testing.T) {
	h := NewHeap[int64]()
	var node HeapNode
	node.pos = -1
	h.Erase(&node) // must not panic on an empty heap
	if h.Len() != 0 {
		t.Fatalf("expected heap to remain empty, got %d", h.Len())
	}
}
