package tqueue

import "sync/atomic"

type memoryRecord struct {
	queueID QueueID
	event   RawEvent
}

// MemoryStorage is the non-persistent StorageCallback: a monotone counter
// assigns log_event_ids, and Replay lets a caller reconstruct a TQueue's
// state after a process restart if one was captured some other way — the
// Go counterpart of TQueue.h's in-memory TQueueCallback.
type MemoryStorage struct {
	next    atomic.Int64
	records map[int64]memoryRecord
}

// NewMemoryStorage creates an empty in-memory storage callback.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{records: make(map[int64]memoryRecord)}
}

func (m *MemoryStorage) Push(queueID QueueID, event RawEvent) (int64, error) {
	id := m.next.Add(1)
	m.records[id] = memoryRecord{queueID: queueID, event: event}
	return id, nil
}

func (m *MemoryStorage) Pop(logEventID int64) error {
	delete(m.records, logEventID)
	return nil
}

func (m *MemoryStorage) PopBatch(logEventIDs []int64) error {
	for _, id := range logEventIDs {
		delete(m.records, id)
	}
	return nil
}

func (m *MemoryStorage) Close() error { return nil }

// Replay re-pushes every event still held (in log-event-id order, which is
// push order) through push, repopulating a freshly constructed TQueue
// after a process restart.
func (m *MemoryStorage) Replay(q *TQueue, push func(queueID QueueID, ev RawEvent)) {
	ids := make([]int64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	for _, id := range ids {
		rec := m.records[id]
		push(rec.queueID, rec.event)
	}
}
