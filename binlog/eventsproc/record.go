package eventsproc

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/actorkit/tdcore/tderr"
)

// Wire-format constants for one binlog record: size(4) id(8) type(4)
// flags(4) extra(8) payload(var) crc(4).
const (
	HeaderSize = 4 + 8 + 4 + 4 + 8 // bytes preceding payload
	TrailerSize = 4               // crc32
	MinSize     = HeaderSize + TrailerSize
	MaxSize     = 1 << 20 // ~1 MiB, per spec.md §3
)

// Flag bits for Record.Flags.
const (
	FlagRewrite uint32 = 1 << 0
	FlagPartial uint32 = 1 << 1
)

// ServiceTypeAesCtrEncryption is the negative Record.Type value reserved for
// the encryption header record; all other negative types are reserved but
// unused by this package.
const ServiceTypeAesCtrEncryption int32 = -1

// Record is one decoded binlog record.
type Record struct {
	ID      uint64 // 63-bit logical id (monotone for non-rewrite records)
	Type    int32  // >=0 user record; <0 reserved/service
	Flags   uint32
	Extra   uint64
	Payload []byte

	// Offset is the byte offset in the log immediately after this record,
	// filled in by the reader; zero-value for records not yet written.
	Offset int64
}

// IsRewrite reports whether FlagRewrite is set.
func (r Record) IsRewrite() bool { return r.Flags&FlagRewrite != 0 }

// IsPartial reports whether FlagPartial is set.
func (r Record) IsPartial() bool { return r.Flags&FlagPartial != 0 }

// Size returns the total encoded size of r, including header and trailer.
func (r Record) Size() int {
	n := HeaderSize + len(r.Payload) + TrailerSize
	return n
}

// Encode serializes r into the little-endian wire format described by
// spec.md §3, including the 4-byte-aligned size prefix and CRC32 trailer.
// The caller must ensure len(r.Payload) keeps the total size a multiple of
// 4; callers that build payloads from fixed-width fields naturally satisfy
// this (see tqueue's positional encoding).
func Encode(r Record) ([]byte, error) {
	size := r.Size()
	if size%4 != 0 {
		return nil, tderr.Wrap("eventsproc: encode", &tderr.ProtocolViolation{Message: "record size not 4-byte aligned"})
	}
	if size < MinSize || size > MaxSize {
		return nil, tderr.Wrap("eventsproc: encode", &tderr.ProtocolViolation{Message: "record size out of bounds"})
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint64(buf[4:12], r.ID)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.Type))
	binary.LittleEndian.PutUint32(buf[16:20], r.Flags)
	binary.LittleEndian.PutUint64(buf[20:28], r.Extra)
	copy(buf[28:size-TrailerSize], r.Payload)
	crc := crc32.ChecksumIEEE(buf[:size-TrailerSize])
	binary.LittleEndian.PutUint32(buf[size-TrailerSize:size], crc)
	return buf, nil
}

// Decode parses one record from the front of buf, which must contain at
// least the record's declared size worth of bytes (the caller is
// responsible for buffering until enough bytes are available — see
// PeekSize). Returns tderr.Corruption for a bad size bound, misalignment,
// or CRC mismatch.
func Decode(buf []byte) (Record, error) {
	size, err := PeekSize(buf)
	if err != nil {
		return Record{}, err
	}
	if len(buf) < size {
		return Record{}, &tderr.Corruption{Message: "short record buffer"}
	}
	body := buf[:size]
	wantCRC := binary.LittleEndian.Uint32(body[size-TrailerSize:])
	gotCRC := crc32.ChecksumIEEE(body[:size-TrailerSize])
	if wantCRC != gotCRC {
		return Record{}, &tderr.Corruption{Message: "crc mismatch"}
	}
	r := Record{
		ID:    binary.LittleEndian.Uint64(body[4:12]),
		Type:  int32(binary.LittleEndian.Uint32(body[12:16])),
		Flags: binary.LittleEndian.Uint32(body[16:20]),
		Extra: binary.LittleEndian.Uint64(body[20:28]),
	}
	payload := body[28 : size-TrailerSize]
	if len(payload) > 0 {
		r.Payload = append([]byte(nil), payload...)
	}
	return r, nil
}

// PeekSize reads just the 4-byte size prefix and validates its bounds,
// without requiring the rest of the record to be present yet — the reader
// loop uses this to know how many more bytes to wait for.
func PeekSize(buf []byte) (int, error) {
	if len(buf) < 4 {
		return 0, &tderr.Corruption{Message: "buffer shorter than size prefix"}
	}
	size := int(binary.LittleEndian.Uint32(buf[:4]))
	if size < MinSize || size > MaxSize {
		return 0, &tderr.Corruption{Message: fmt.Sprintf("record size %d out of bounds", size)}
	}
	if size%4 != 0 {
		return 0, &tderr.Corruption{Message: fmt.Sprintf("record size %d not 4-byte aligned", size)}
	}
	return size, nil
}
