package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	st, _, err := Open(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustAppend(t *testing.T, st *Store, payload string) int64 {
	t.Helper()
	off, err := st.Append([]byte(payload))
	if err != nil {
		t.Fatalf("append %q: %v", payload, err)
	}
	return off
}

func TestAppendReadContiguous(t *testing.T) {
	st := newTestStore(t, Options{Fsync: SyncNever})
	for i := 0; i < 10; i++ {
		off := mustAppend(t, st, "payload")
		if off != int64(i) {
			t.Fatalf("offset %d, want %d", off, i)
		}
	}
	recs, err := st.Read(3, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 7 || recs[0].Offset != 3 || recs[6].Offset != 9 {
		t.Fatalf("unexpected records: %d from %d", len(recs), recs[0].Offset)
	}
}

func TestReadConcurrentWithAppends(t *testing.T) {
	// Small segments keep rolls happening while readers scan. Reads snapshot
	// the segment list and run against the files unlocked, so they must stay
	// consistent under a live writer.
	st := newTestStore(t, Options{Fsync: SyncNever, MaxSegmentBytes: 64})
	const total = 200

	appendErr := make(chan error, 1)
	go func() {
		for i := 0; i < total; i++ {
			if _, err := st.Append([]byte(fmt.Sprintf("payload-%03d", i))); err != nil {
				appendErr <- err
				return
			}
		}
		close(appendErr)
	}()

	for {
		select {
		case err := <-appendErr:
			if err != nil {
				t.Fatalf("append: %v", err)
			}
		default:
		}
		recs, err := st.Read(0, 0)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		for i, r := range recs {
			if r.Offset != int64(i) {
				t.Fatalf("offset %d at position %d", r.Offset, i)
			}
			if want := fmt.Sprintf("payload-%03d", i); string(r.Payload) != want {
				t.Fatalf("payload at %d: %q, want %q", i, r.Payload, want)
			}
		}
		if len(recs) == total {
			break
		}
	}
	if err := <-appendErr; err != nil {
		t.Fatalf("append: %v", err)
	}
}

func TestReadAtHighWatermarkEmpty(t *testing.T) {
	st := newTestStore(t, Options{Fsync: SyncNever})
	mustAppend(t, st, "a")
	recs, err := st.Read(1, 0)
	if err != nil || recs != nil {
		t.Fatalf("want empty at HWM, got %v, %v", recs, err)
	}
	if _, err := st.Read(2, 0); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("above HWM: want ErrOffsetOutOfRange, got %v", err)
	}
}

func TestReadMaxBytesReturnsAtLeastOne(t *testing.T) {
	st := newTestStore(t, Options{Fsync: SyncNever})
	mustAppend(t, st, "0123456789")
	mustAppend(t, st, "0123456789")
	recs, err := st.Read(0, 4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 record under byte cap, got %d", len(recs))
	}
}

func TestRolloverAndCrossSegmentRead(t *testing.T) {
	// Each frame is 8+10 bytes; cap at 40 forces a roll every 2 records.
	st := newTestStore(t, Options{Fsync: SyncNever, MaxSegmentBytes: 40})
	for i := 0; i < 6; i++ {
		mustAppend(t, st, "0123456789")
	}
	if st.SegmentCount() != 3 {
		t.Fatalf("segments: got %d, want 3", st.SegmentCount())
	}
	recs, err := st.Read(1, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 5 || recs[4].Offset != 5 {
		t.Fatalf("cross-segment read: %d records, last %d", len(recs), recs[len(recs)-1].Offset)
	}
}

func TestReopenRestoresState(t *testing.T) {
	dir := t.TempDir()
	st, _, err := Open(dir, Options{Fsync: SyncAlways, MaxSegmentBytes: 40})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		mustAppend(t, st, "0123456789")
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	st2, dropped, err := Open(dir, Options{Fsync: SyncAlways, MaxSegmentBytes: 40})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if dropped != 0 {
		t.Fatalf("dropped %d records on clean reopen", dropped)
	}
	if st2.NextOffset() != 5 || st2.FirstOffset() != 0 {
		t.Fatalf("range [%d,%d), want [0,5)", st2.FirstOffset(), st2.NextOffset())
	}
	if off := mustAppend(t, st2, "next"); off != 5 {
		t.Fatalf("append after reopen: got %d, want 5", off)
	}
}

func TestTornTailRecovery(t *testing.T) {
	dir := t.TempDir()
	st, _, err := Open(dir, Options{Fsync: SyncAlways})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mustAppend(t, st, "intact")
	mustAppend(t, st, "torn-victim")
	st.Close()

	// Chop bytes off the active log to simulate a torn write.
	logPath := filepath.Join(dir, "00000000000000000000.log")
	fi, err := os.Stat(logPath)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if err := os.Truncate(logPath, fi.Size()-3); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	st2, dropped, err := Open(dir, Options{Fsync: SyncAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	if dropped != 1 {
		t.Fatalf("dropped: got %d, want 1", dropped)
	}
	if st2.NextOffset() != 1 {
		t.Fatalf("next offset after recovery: got %d, want 1", st2.NextOffset())
	}
	recs, err := st2.Read(0, 0)
	if err != nil || len(recs) != 1 || string(recs[0].Payload) != "intact" {
		t.Fatalf("surviving record: %v, %v", recs, err)
	}
}

func TestTruncateOlderThan(t *testing.T) {
	st := newTestStore(t, Options{Fsync: SyncNever, MaxSegmentBytes: 40})
	// Payloads end with an 8-byte BE timestamp the extractor reads back.
	appendAt := func(ms int64) {
		var p [10]byte
		binary.BigEndian.PutUint64(p[2:], uint64(ms))
		if _, err := st.Append(p[:]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	tsx := func(p []byte) (int64, bool) {
		if len(p) < 8 {
			return 0, false
		}
		return int64(binary.BigEndian.Uint64(p[len(p)-8:])), true
	}
	for _, ms := range []int64{100, 200, 300, 400, 500, 600} {
		appendAt(ms)
	}
	// Segments: [100,200] [300,400] [500,600](active).
	removed, err := st.TruncateOlderThan(450, tsx)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed: got %d, want 4", removed)
	}
	if st.FirstOffset() != 4 {
		t.Fatalf("floor: got %d, want 4", st.FirstOffset())
	}
	if _, err := st.Read(2, 0); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Fatalf("read below floor: want ErrOffsetOutOfRange, got %v", err)
	}
}

func TestTruncateToMaxBytesKeepsActive(t *testing.T) {
	st := newTestStore(t, Options{Fsync: SyncNever, MaxSegmentBytes: 40})
	for i := 0; i < 6; i++ {
		mustAppend(t, st, "0123456789")
	}
	removed, err := st.TruncateToMaxBytes(1)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if removed != 4 {
		t.Fatalf("removed: got %d, want 4", removed)
	}
	if st.SegmentCount() != 1 || st.FirstOffset() != 4 {
		t.Fatalf("expected only active segment from offset 4, got %d segs floor %d", st.SegmentCount(), st.FirstOffset())
	}
}

func TestClosedStoreErrors(t *testing.T) {
	st, _, err := Open(t.TempDir(), Options{Fsync: SyncNever})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st.Close()
	if _, err := st.Append([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
	if _, err := st.Read(0, 0); !errors.Is(err, ErrClosed) {
		t.Fatalf("read after close: %v", err)
	}
}
