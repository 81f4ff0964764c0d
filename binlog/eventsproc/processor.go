package eventsproc

import (
	"sort"

	"github.com/actorkit/tdcore/tderr"
)

// Processor is the coalesced, in-memory projection of a binlog's record
// stream: for every logical id it holds exactly the current version of
// that record (or nothing, once tombstoned), ordered by id. Grounded
// directly on
// original_source/tddb/td/db/binlog/detail/BinlogEventsProcessor.{h,cpp}'s
// "holds (event_id * 2 + was_deleted)" parallel-array design.
//
// A Processor is single-owner: the Binlog that feeds it calls AddEvent only
// from its own goroutine.
type Processor struct {
	ids    []uint64 // sorted ascending: logical_id*2 + tombstone_bit
	events []Record // events[i] corresponds to ids[i]

	totalEvents int
	emptyEvents int

	lastEventID uint64
	offset      int64
	totalSize   int64
}

// New creates an empty Processor.
func New() *Processor { return &Processor{} }

// AddEvent folds r into the projection: a non-rewrite record must carry a
// strictly increasing id (monotonicity), appended as a live entry. A
// rewrite record with a matching, still-present id replaces that entry in
// place (or tombstones it, if r.Type is the Empty sentinel used by
// rewrite-erase). Compaction runs automatically once tombstones dominate.
func (p *Processor) AddEvent(r Record) error {
	p.offset = r.Offset
	fixedID := r.ID * 2

	switch {
	case r.IsRewrite() && len(p.ids) > 0 && p.ids[len(p.ids)-1] >= fixedID:
		pos := sort.Search(len(p.ids), func(i int) bool { return p.ids[i] >= fixedID })
		if pos == len(p.ids) || p.ids[pos] != fixedID {
			return &tderr.ProtocolViolation{Message: "rewrite of unknown or already-erased record id"}
		}
		p.totalSize -= int64(p.events[pos].Size())
		if isEmptyType(r.Type) {
			p.ids[pos]++ // set tombstone bit
			p.emptyEvents++
			p.events[pos] = Record{}
		} else {
			r.Flags &^= FlagRewrite
			p.totalSize += int64(r.Size())
			p.events[pos] = r
		}

	case r.Type < 0:
		// service record: consulted by the caller (e.g. encryption header),
		// never stored in the projection.

	default:
		if len(p.ids) != 0 && p.ids[len(p.ids)-1] >= fixedID {
			return &tderr.ProtocolViolation{Message: "non-rewrite record id did not increase monotonically"}
		}
		p.lastEventID = r.ID
		p.totalSize += int64(r.Size())
		p.totalEvents++
		p.ids = append(p.ids, fixedID)
		p.events = append(p.events, r)
	}

	if p.totalEvents > 10 && p.emptyEvents*4 > p.totalEvents*3 {
		p.compact()
	}
	return nil
}

// isEmptyType reports whether t is the sentinel "Empty" record type used to
// mark a rewrite as a tombstone rather than a replacement value. Type 0 is
// reserved for this across every caller of Processor (tqueue's
// pop-as-rewrite, BinlogStorage.Pop, uses it).
func isEmptyType(t int32) bool { return t == 0 }

// compact shifts every live (non-tombstoned) entry forward, dropping
// tombstones, exactly mirroring BinlogEventsProcessor::compactify.
func (p *Processor) compact() {
	idsTo, eventsTo := 0, 0
	for i := range p.ids {
		if p.ids[i]&1 == 0 {
			p.ids[idsTo] = p.ids[i]
			p.events[eventsTo] = p.events[i]
			idsTo++
			eventsTo++
		}
	}
	p.ids = p.ids[:idsTo]
	p.events = p.events[:eventsTo]
	p.totalEvents = len(p.ids)
	p.emptyEvents = 0
}

// ForEach calls fn, in ascending id order, for every live (non-tombstoned)
// record currently in the projection — the replay callback a Binlog.Init
// caller observes.
func (p *Processor) ForEach(fn func(Record)) {
	for i, id := range p.ids {
		if id&1 == 0 {
			fn(p.events[i])
		}
	}
}

// LastEventID returns the highest logical id accepted as a non-rewrite
// record so far.
func (p *Processor) LastEventID() uint64 { return p.lastEventID }

// Offset returns the byte offset in the log corresponding to the last
// accepted record.
func (p *Processor) Offset() int64 { return p.offset }

// TotalRawEventsSize returns the sum of encoded sizes of every live record
// currently held, used by the reindex-threshold heuristic.
func (p *Processor) TotalRawEventsSize() int64 { return p.totalSize }
