package tqueue

import (
	"encoding/binary"

	"github.com/actorkit/tdcore/binlog"
	"github.com/actorkit/tdcore/binlog/eventsproc"
	"github.com/actorkit/tdcore/tderr"
)

// QueueEventType is the fixed binlog record type tagging every TQueue
// event record, per spec.md §6's positional schema.
const QueueEventType int32 = 0x51455645 // "QEVE"

// BinlogStorage persists queue events through a binlog.Binlog: each push
// writes a record {queue_id:i64, event_id:i32, expire_at:i32, extra:i64,
// data:bytes}; each pop issues a Rewrite record of empty type at the same
// log id — spec.md §4.5 and §6, grounded on
// original_source/tddb/td/db/TQueue.h's binlog-backed callback.
type BinlogStorage struct {
	log    *binlog.Binlog
	nextID uint64
}

// NewBinlogStorage wraps log; startID should be one past the highest
// record id log's replay callback has already observed, so freshly
// assigned ids continue to satisfy the binlog's monotonicity invariant.
func NewBinlogStorage(log *binlog.Binlog, startID uint64) *BinlogStorage {
	return &BinlogStorage{log: log, nextID: startID}
}

func (b *BinlogStorage) Push(queueID QueueID, event RawEvent) (int64, error) {
	id := b.nextID
	b.nextID++
	payload := encodeQueueEvent(queueID, event)
	if err := b.log.AddEvent(eventsproc.Record{ID: id, Type: QueueEventType, Payload: payload}); err != nil {
		return 0, err
	}
	return int64(id), nil
}

func (b *BinlogStorage) Pop(logEventID int64) error {
	return b.log.AddEvent(eventsproc.Record{ID: uint64(logEventID), Type: 0, Flags: eventsproc.FlagRewrite})
}

func (b *BinlogStorage) PopBatch(logEventIDs []int64) error {
	for _, id := range logEventIDs {
		if err := b.Pop(id); err != nil {
			return err
		}
	}
	return nil
}

func (b *BinlogStorage) Close() error { return b.log.Close(true) }

// encodeQueueEvent serializes event under queueID using the positional
// encoding from spec.md §6: queue_id int64, event_id int32, expire_at
// int32, extra int64, data as a 4-byte length prefix followed by the bytes
// padded to a 4-byte boundary.
func encodeQueueEvent(queueID QueueID, event RawEvent) []byte {
	padded := (len(event.Data) + 3) &^ 3
	buf := make([]byte, 8+4+4+8+4+padded)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(queueID))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(event.ID))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(event.ExpireAt))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(event.Extra))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(event.Data)))
	copy(buf[28:28+len(event.Data)], event.Data)
	return buf
}

// decodeQueueEvent parses a record previously produced by encodeQueueEvent.
func decodeQueueEvent(payload []byte) (QueueID, RawEvent, error) {
	if len(payload) < 28 {
		return 0, RawEvent{}, &tderr.Corruption{Message: "tqueue: short event-record payload"}
	}
	queueID := QueueID(binary.LittleEndian.Uint64(payload[0:8]))
	eventID := EventId(binary.LittleEndian.Uint32(payload[8:12]))
	expireAt := int64(int32(binary.LittleEndian.Uint32(payload[12:16])))
	extra := int64(binary.LittleEndian.Uint64(payload[16:24]))
	dataLen := int(binary.LittleEndian.Uint32(payload[24:28]))
	if len(payload) < 28+dataLen {
		return 0, RawEvent{}, &tderr.Corruption{Message: "tqueue: truncated event-record data"}
	}
	var data []byte
	if dataLen > 0 {
		data = append([]byte(nil), payload[28:28+dataLen]...)
	}
	return queueID, RawEvent{ID: eventID, ExpireAt: expireAt, Extra: extra, Data: data}, nil
}

// ReplayQueueEvent decodes a record emitted by BinlogStorage.Push (passed
// through a binlog's replay callback) and, if it is one, invokes onEvent
// with the logical queue id, the event, and the binlog record id to use as
// its LogEventID — the low-level do_push counterpart referenced by
// spec.md §4.5's Binlog-backed storage description.
func ReplayQueueEvent(r eventsproc.Record, onEvent func(QueueID, RawEvent)) error {
	if r.Type != QueueEventType {
		return nil
	}
	queueID, ev, err := decodeQueueEvent(r.Payload)
	if err != nil {
		return err
	}
	ev.LogEventID = int64(r.ID)
	onEvent(queueID, ev)
	return nil
}
