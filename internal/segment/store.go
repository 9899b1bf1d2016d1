package segment

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

var (
	// ErrOffsetOutOfRange means the requested offset is below the retention
	// floor or otherwise outside the stored range.
	ErrOffsetOutOfRange = errors.New("segment: offset out of range")
	// ErrStorageFull maps the filesystem's out-of-space condition.
	ErrStorageFull = errors.New("segment: storage full")
	// ErrCorruptFrame indicates a frame failed CRC validation on read.
	ErrCorruptFrame = errors.New("segment: corrupt frame")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("segment: store closed")
)

// FsyncPolicy controls when appended frames are flushed to stable storage.
type FsyncPolicy int

const (
	// SyncAlways fsyncs after every append.
	SyncAlways FsyncPolicy = iota
	// SyncInterval fsyncs from a background flusher on a fixed cadence.
	SyncInterval
	// SyncNever leaves flushing to the OS.
	SyncNever
)

// Options configures a Store.
type Options struct {
	// MaxSegmentBytes seals the active segment once its log file would exceed
	// this size. Zero selects the default of 64 MiB.
	MaxSegmentBytes int64
	Fsync           FsyncPolicy
	FsyncInterval   time.Duration
	// RetryAttempts bounds retries of transient write failures. ENOSPC is
	// never retried.
	RetryAttempts int
	RetryBackoff  time.Duration
}

const defaultMaxSegmentBytes = 64 << 20

// Record pairs a stored payload with its assigned offset.
type Record struct {
	Offset  int64
	Payload []byte
}

// Store is an append-only log for a single partition, laid out as a directory
// of base-offset-named segment file pairs. Offsets are contiguous from the
// retention floor to the high watermark.
type Store struct {
	dir  string
	opts Options

	mu     sync.Mutex
	segs   []*segment // ordered by base; last is active
	dirty  bool
	closed bool

	flushStop chan struct{}
	flushDone chan struct{}
}

// Open opens or creates a segment store in dir, recovering a torn tail on the
// active segment. Returns the store and the number of records dropped during
// recovery.
func Open(dir string, opts Options) (*Store, int, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = defaultMaxSegmentBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, err
	}
	bases, err := listBases(dir)
	if err != nil {
		return nil, 0, err
	}
	st := &Store{dir: dir, opts: opts}
	if len(bases) == 0 {
		seg, err := createSegment(dir, 0)
		if err != nil {
			return nil, 0, err
		}
		st.segs = []*segment{seg}
	} else {
		for _, base := range bases {
			seg, err := openSegment(dir, base)
			if err != nil {
				st.closeAll()
				return nil, 0, err
			}
			seg.sealed = true
			st.segs = append(st.segs, seg)
		}
	}
	active := st.segs[len(st.segs)-1]
	active.sealed = false
	dropped, err := active.recoverTail()
	if err != nil {
		st.closeAll()
		return nil, 0, err
	}
	if opts.Fsync == SyncInterval {
		interval := opts.FsyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		st.flushStop = make(chan struct{})
		st.flushDone = make(chan struct{})
		go st.flushLoop(interval)
	}
	return st, dropped, nil
}

func listBases(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var bases []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		base, err := strconv.ParseInt(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, strings.TrimSuffix(name, ".log")+".index")); err != nil {
			continue
		}
		bases = append(bases, base)
	}
	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })
	return bases, nil
}

// Append stores one payload and returns its assigned offset.
func (st *Store) Append(payload []byte) (int64, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return 0, ErrClosed
	}

	active := st.segs[len(st.segs)-1]
	frameLen := int64(frameHeaderLen + len(payload))
	if active.size > 0 && active.size+frameLen > st.opts.MaxSegmentBytes {
		rolled, err := st.roll(active)
		if err != nil {
			return 0, mapWriteErr(err)
		}
		active = rolled
	}

	off := active.next
	if err := st.withRetry(func() error { return active.appendFrame(payload) }); err != nil {
		return 0, mapWriteErr(err)
	}
	if st.opts.Fsync == SyncAlways {
		if err := st.withRetry(active.sync); err != nil {
			return 0, mapWriteErr(err)
		}
	} else {
		st.dirty = true
	}
	return off, nil
}

// roll seals the active segment and creates a fresh one at the next offset.
func (st *Store) roll(active *segment) (*segment, error) {
	if err := active.sync(); err != nil {
		return nil, err
	}
	active.sealed = true
	seg, err := createSegment(st.dir, active.next)
	if err != nil {
		active.sealed = false
		return nil, err
	}
	st.segs = append(st.segs, seg)
	return seg, nil
}

// Read returns records starting at from, stopping after maxBytes of payload
// have been collected (always at least one record when any exist at or above
// from). Reading at the high watermark returns an empty slice.
//
// Only the segment list and boundaries are taken under the lock; the file
// reads happen outside it, so a large read never stalls appends. Sealed
// segments are immutable and the active log only grows past the snapshotted
// boundary.
func (st *Store) Read(from int64, maxBytes int) ([]Record, error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil, ErrClosed
	}
	floor := st.segs[0].base
	next := st.segs[len(st.segs)-1].next
	var view []segView
	if from >= floor && from < next {
		for _, seg := range st.segMatchFrom(from) {
			view = append(view, segView{seg: seg, next: seg.next})
		}
	}
	st.mu.Unlock()

	if from < floor || from > next {
		return nil, ErrOffsetOutOfRange
	}
	if from == next {
		return nil, nil
	}

	var out []Record
	total := 0
	off := from
	for _, sv := range view {
		pos, err := sv.seg.position(off)
		if err != nil {
			return nil, mapReadErr(err)
		}
		for off < sv.next {
			payload, frameLen, err := sv.seg.readFrame(pos)
			if err != nil {
				return nil, mapReadErr(err)
			}
			out = append(out, Record{Offset: off, Payload: payload})
			total += len(payload)
			off++
			pos += frameLen
			if maxBytes > 0 && total >= maxBytes {
				return out, nil
			}
		}
	}
	return out, nil
}

// segView pins one segment and its record boundary as of the snapshot.
type segView struct {
	seg  *segment
	next int64
}

// mapReadErr covers a segment reaped by retention between snapshot and read:
// its files are closed and the data is below the floor.
func mapReadErr(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return ErrOffsetOutOfRange
	}
	return err
}

// segMatchFrom returns the segments holding offsets >= off, in order.
func (st *Store) segMatchFrom(off int64) []*segment {
	i := sort.Search(len(st.segs), func(i int) bool { return st.segs[i].next > off })
	return st.segs[i:]
}

// FirstOffset is the retention floor: the oldest offset still stored.
func (st *Store) FirstOffset() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.segs[0].base
}

// NextOffset is the high watermark: the offset the next append will receive.
func (st *Store) NextOffset() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.segs[len(st.segs)-1].next
}

// SizeBytes is the total log file bytes across all segments.
func (st *Store) SizeBytes() int64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	var total int64
	for _, seg := range st.segs {
		total += seg.size
	}
	return total
}

// SegmentCount reports how many segment file pairs exist.
func (st *Store) SegmentCount() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.segs)
}

// TruncateOlderThan removes whole sealed segments whose newest record's
// timestamp is below cutoffMs. The timestamp is extracted from payloads via
// tsx. The active segment is never removed. Returns records removed.
func (st *Store) TruncateOlderThan(cutoffMs int64, tsx func([]byte) (int64, bool)) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return 0, ErrClosed
	}
	removed := 0
	for len(st.segs) > 1 {
		seg := st.segs[0]
		last, err := seg.lastPayload()
		if err != nil {
			return removed, err
		}
		if last == nil {
			break
		}
		ms, ok := tsx(last)
		if !ok || ms >= cutoffMs {
			break
		}
		if err := seg.remove(st.dir); err != nil {
			return removed, err
		}
		removed += int(seg.next - seg.base)
		st.segs = st.segs[1:]
	}
	return removed, nil
}

// TruncateToMaxBytes removes the oldest sealed segments until total stored
// bytes fit within maxBytes. The active segment is never removed. Returns
// records removed.
func (st *Store) TruncateToMaxBytes(maxBytes int64) (int, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return 0, ErrClosed
	}
	if maxBytes <= 0 {
		return 0, nil
	}
	var total int64
	for _, seg := range st.segs {
		total += seg.size
	}
	removed := 0
	for total > maxBytes && len(st.segs) > 1 {
		seg := st.segs[0]
		if err := seg.remove(st.dir); err != nil {
			return removed, err
		}
		total -= seg.size
		removed += int(seg.next - seg.base)
		st.segs = st.segs[1:]
	}
	return removed, nil
}

// Sync flushes the active segment to stable storage.
func (st *Store) Sync() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return ErrClosed
	}
	st.dirty = false
	return st.segs[len(st.segs)-1].sync()
}

// Close flushes and closes all segment files. The store is unusable after.
func (st *Store) Close() error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return nil
	}
	st.closed = true
	stop := st.flushStop
	st.mu.Unlock()

	if stop != nil {
		close(stop)
		<-st.flushDone
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	err := st.segs[len(st.segs)-1].sync()
	if cerr := st.closeAll(); err == nil {
		err = cerr
	}
	return err
}

func (st *Store) closeAll() error {
	var err error
	for _, seg := range st.segs {
		if cerr := seg.close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (st *Store) flushLoop(interval time.Duration) {
	defer close(st.flushDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-st.flushStop:
			return
		case <-ticker.C:
			st.mu.Lock()
			if !st.closed && st.dirty {
				st.dirty = false
				_ = st.segs[len(st.segs)-1].sync()
			}
			st.mu.Unlock()
		}
	}
}

// withRetry retries transient write failures with a fixed backoff. ENOSPC is
// terminal and returned immediately.
func (st *Store) withRetry(op func() error) error {
	attempts := st.opts.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, syscall.ENOSPC) {
			return err
		}
		if i < attempts-1 && st.opts.RetryBackoff > 0 {
			time.Sleep(st.opts.RetryBackoff)
		}
	}
	return err
}

func mapWriteErr(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return ErrStorageFull
	}
	return err
}
