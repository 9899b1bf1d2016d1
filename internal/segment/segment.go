package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

// Each record in a .log file is framed as:
//
//	u32 payload length (BE) | u32 crc32c of payload (BE) | payload
//
// The matching .index file holds one 16-byte entry per record:
//
//	u64 offset relative to the segment base (BE) | u64 file position (BE)
//
// Index entries are dense, so locating an offset is a single positioned read.

const (
	frameHeaderLen = 8
	indexEntryLen  = 16
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// segment is one base-offset-named pair of log and index files. The last
// segment of a store is active; all others are sealed and immutable.
type segment struct {
	base   int64
	next   int64 // next absolute offset to assign
	size   int64 // bytes in the log file
	log    *os.File
	index  *os.File
	sealed bool
}

func logName(dir string, base int64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", base))
}

func indexName(dir string, base int64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.index", base))
}

func createSegment(dir string, base int64) (*segment, error) {
	lf, err := os.OpenFile(logName(dir, base), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	xf, err := os.OpenFile(indexName(dir, base), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		lf.Close()
		return nil, err
	}
	return &segment{base: base, next: base, log: lf, index: xf}, nil
}

// openSegment opens an existing segment pair and derives next/size from the
// index. For the active segment the caller runs recoverTail afterwards.
func openSegment(dir string, base int64) (*segment, error) {
	lf, err := os.OpenFile(logName(dir, base), os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	xf, err := os.OpenFile(indexName(dir, base), os.O_RDWR, 0o644)
	if err != nil {
		lf.Close()
		return nil, err
	}
	s := &segment{base: base, log: lf, index: xf}
	xi, err := xf.Stat()
	if err != nil {
		s.close()
		return nil, err
	}
	li, err := lf.Stat()
	if err != nil {
		s.close()
		return nil, err
	}
	s.next = base + xi.Size()/indexEntryLen
	s.size = li.Size()
	return s, nil
}

// appendFrame writes one framed payload plus its index entry. Durability is
// the store's concern.
func (s *segment) appendFrame(payload []byte) error {
	frame := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(frame[4:8], crc32.Checksum(payload, castagnoli))
	copy(frame[frameHeaderLen:], payload)

	if _, err := s.log.WriteAt(frame, s.size); err != nil {
		return err
	}
	var entry [indexEntryLen]byte
	binary.BigEndian.PutUint64(entry[0:8], uint64(s.next-s.base))
	binary.BigEndian.PutUint64(entry[8:16], uint64(s.size))
	if _, err := s.index.WriteAt(entry[:], (s.next-s.base)*indexEntryLen); err != nil {
		return err
	}
	s.size += int64(len(frame))
	s.next++
	return nil
}

// position returns the log file position of an absolute offset held by this
// segment.
func (s *segment) position(off int64) (int64, error) {
	var entry [indexEntryLen]byte
	if _, err := s.index.ReadAt(entry[:], (off-s.base)*indexEntryLen); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(entry[8:16])), nil
}

// readFrame reads and CRC-checks the frame at pos, returning the payload and
// the frame's total length.
func (s *segment) readFrame(pos int64) ([]byte, int64, error) {
	var hdr [frameHeaderLen]byte
	if _, err := s.log.ReadAt(hdr[:], pos); err != nil {
		return nil, 0, err
	}
	n := binary.BigEndian.Uint32(hdr[0:4])
	payload := make([]byte, n)
	if _, err := s.log.ReadAt(payload, pos+frameHeaderLen); err != nil {
		return nil, 0, err
	}
	if crc32.Checksum(payload, castagnoli) != binary.BigEndian.Uint32(hdr[4:8]) {
		return nil, 0, ErrCorruptFrame
	}
	return payload, frameHeaderLen + int64(n), nil
}

// lastPayload returns the newest record in the segment, or (nil, nil) when
// the segment is empty.
func (s *segment) lastPayload() ([]byte, error) {
	if s.next == s.base {
		return nil, nil
	}
	pos, err := s.position(s.next - 1)
	if err != nil {
		return nil, err
	}
	payload, _, err := s.readFrame(pos)
	return payload, err
}

// recoverTail walks frames from the start of the log, truncating at the first
// torn or corrupt frame and shrinking the index to match. A trailing log frame
// that never got its index entry is dropped as well. Returns the number of
// records dropped.
func (s *segment) recoverTail() (int, error) {
	var pos int64
	count := int64(0)
	indexed := s.next - s.base
	li, err := s.log.Stat()
	if err != nil {
		return 0, err
	}
	logSize := li.Size()
	for pos < logSize && count < indexed {
		var hdr [frameHeaderLen]byte
		if _, err := s.log.ReadAt(hdr[:], pos); err != nil {
			break
		}
		n := int64(binary.BigEndian.Uint32(hdr[0:4]))
		if pos+frameHeaderLen+n > logSize {
			break
		}
		payload := make([]byte, n)
		if _, err := s.log.ReadAt(payload, pos+frameHeaderLen); err != nil {
			break
		}
		if crc32.Checksum(payload, castagnoli) != binary.BigEndian.Uint32(hdr[4:8]) {
			break
		}
		pos += frameHeaderLen + n
		count++
	}
	dropped := int(indexed - count)
	if err := s.log.Truncate(pos); err != nil {
		return 0, err
	}
	if err := s.index.Truncate(count * indexEntryLen); err != nil {
		return 0, err
	}
	s.size = pos
	s.next = s.base + count
	return dropped, nil
}

func (s *segment) sync() error {
	if err := s.log.Sync(); err != nil {
		return err
	}
	return s.index.Sync()
}

func (s *segment) close() error {
	err := s.log.Close()
	if cerr := s.index.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *segment) remove(dir string) error {
	_ = s.close()
	if err := os.Remove(logName(dir, s.base)); err != nil {
		return err
	}
	return os.Remove(indexName(dir, s.base))
}
