package event

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"sort"
)

// Event is an immutable broker record. Key, Value, and Headers are opaque to
// the broker; Offset and Partition are assigned on acceptance and never
// mutated afterwards.
type Event struct {
	Key         []byte
	Value       []byte
	Headers     map[string][]byte
	TimestampMs int64
	Offset      int64
	Partition   uint32
}

// ErrCorruptRecord indicates a record failed CRC or framing validation.
var ErrCorruptRecord = errors.New("event: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Encoding: uvarint keyLen | key
//           uvarint headerCount | (uvarint kLen | k | uvarint vLen | v)*  sorted by k
//           uvarint valueLen | value
//           timestampMs (8B BE)
//           crc32c over all prior bytes (4B BE)

// Encode serializes the event's payload fields. Offset and Partition are
// positional, not part of the encoding.
func Encode(e Event) []byte {
	size := 10 + len(e.Key) + 10 + len(e.Value) + 12
	for k, v := range e.Headers {
		size += 20 + len(k) + len(v)
	}
	out := make([]byte, 0, size)
	out = appendUvarint(out, uint64(len(e.Key)))
	out = append(out, e.Key...)

	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out = appendUvarint(out, uint64(len(keys)))
	for _, k := range keys {
		out = appendUvarint(out, uint64(len(k)))
		out = append(out, k...)
		out = appendUvarint(out, uint64(len(e.Headers[k])))
		out = append(out, e.Headers[k]...)
	}

	out = appendUvarint(out, uint64(len(e.Value)))
	out = append(out, e.Value...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(e.TimestampMs))
	out = append(out, ts[:]...)

	crc := crc32.Update(0, castagnoli, out)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

// Decode parses an encoded record, verifying its CRC.
func Decode(b []byte) (Event, error) {
	if len(b) < 8+4+3 {
		return Event{}, ErrCorruptRecord
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return Event{}, ErrCorruptRecord
	}

	var e Event
	pos := 0
	key, n := readChunk(body, pos)
	if n < 0 {
		return Event{}, ErrCorruptRecord
	}
	pos = n
	if len(key) > 0 {
		e.Key = key
	}

	nHeaders, n := binary.Uvarint(body[pos:])
	if n <= 0 {
		return Event{}, ErrCorruptRecord
	}
	pos += n
	if nHeaders > 0 {
		e.Headers = make(map[string][]byte, nHeaders)
		for i := uint64(0); i < nHeaders; i++ {
			hk, next := readChunk(body, pos)
			if next < 0 {
				return Event{}, ErrCorruptRecord
			}
			pos = next
			hv, next := readChunk(body, pos)
			if next < 0 {
				return Event{}, ErrCorruptRecord
			}
			pos = next
			e.Headers[string(hk)] = hv
		}
	}

	value, n := readChunk(body, pos)
	if n < 0 {
		return Event{}, ErrCorruptRecord
	}
	pos = n
	e.Value = value

	if len(body)-pos != 8 {
		return Event{}, ErrCorruptRecord
	}
	e.TimestampMs = int64(binary.BigEndian.Uint64(body[pos:]))
	return e, nil
}

// Timestamp extracts the record timestamp without a full decode. The 8-byte
// timestamp sits immediately before the CRC trailer.
func Timestamp(b []byte) (int64, bool) {
	if len(b) < 12 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(b[len(b)-12 : len(b)-4])), true
}

// readChunk reads a uvarint-prefixed byte slice at pos, returning a copy and
// the next position, or -1 on malformed input.
func readChunk(b []byte, pos int) ([]byte, int) {
	l, n := binary.Uvarint(b[pos:])
	if n <= 0 {
		return nil, -1
	}
	pos += n
	if pos+int(l) > len(b) {
		return nil, -1
	}
	if l == 0 {
		return nil, pos
	}
	return append([]byte(nil), b[pos:pos+int(l)]...), pos + int(l)
}

func appendUvarint(dst []byte, v uint64) []byte {
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}
