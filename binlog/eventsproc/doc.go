// Package eventsproc maintains the coalesced in-memory projection of a
// binlog's record stream: parallel sorted arrays of ids and the events
// they currently point to, with rewrite-in-place and tombstone compaction.
// Grounded on
// original_source/tddb/td/db/binlog/detail/BinlogEventsProcessor.{h,cpp}.
package eventsproc
