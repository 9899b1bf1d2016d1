package broker

import (
	"context"
	"errors"
	"hash/crc32"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kilnmq/kiln/internal/segment"
	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
	"github.com/kilnmq/kiln/internal/topic"
	"github.com/kilnmq/kiln/pkg/log"
)

func newTestBroker(t *testing.T, cfg Config) (*Broker, *topic.Registry) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: filepath.Join(dir, "meta"), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg, err := topic.OpenRegistry(db, filepath.Join(dir, "topics"), segment.Options{Fsync: segment.SyncNever})
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	t.Cleanup(func() { reg.Close() })
	logger := log.NewLogger(log.WithOutput(log.NewWriterOutput(io.Discard)))
	return New(reg, db, cfg, logger), reg
}

func mustCreate(t *testing.T, reg *topic.Registry, name string, parts int) {
	t.Helper()
	if _, err := reg.Create(name, parts, topic.Retention{}); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
}

func TestPublishRoutesByKey(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "users", 3)

	want := crc32.ChecksumIEEE([]byte("U1")) % 3
	for i := 0; i < 3; i++ {
		res, err := b.Publish(context.Background(), PublishRequest{Topic: "users", Key: []byte("U1"), Value: []byte("v")})
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
		if res.Partition != want {
			t.Fatalf("partition: got %d, want %d", res.Partition, want)
		}
		if res.Offset != int64(i) {
			t.Fatalf("offset: got %d, want %d", res.Offset, i)
		}
	}
}

func TestPublishUnknownTopic(t *testing.T) {
	b, _ := newTestBroker(t, Config{})
	_, err := b.Publish(context.Background(), PublishRequest{Topic: "ghost", Value: []byte("v")})
	if !errors.Is(err, topic.ErrNotFound) {
		t.Fatalf("want topic.ErrNotFound, got %v", err)
	}
}

func TestIdempotentPublish(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "orders", 1)
	ctx := context.Background()
	req := PublishRequest{Topic: "orders", Value: []byte("v"), ProducerID: "p1", Sequence: 1}

	first, err := b.Publish(ctx, req)
	if err != nil || first.Duplicate {
		t.Fatalf("first publish: %+v, %v", first, err)
	}

	// Retry of the same sequence is suppressed and answers the same offset.
	again, err := b.Publish(ctx, req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !again.Duplicate || again.Offset != first.Offset {
		t.Fatalf("retry not deduped: %+v vs %+v", again, first)
	}

	// Skipping ahead is rejected.
	req.Sequence = 3
	if _, err := b.Publish(ctx, req); !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("gap: want ErrSequenceGap, got %v", err)
	}

	// The next sequence lands normally.
	req.Sequence = 2
	next, err := b.Publish(ctx, req)
	if err != nil || next.Duplicate || next.Offset != first.Offset+1 {
		t.Fatalf("next seq: %+v, %v", next, err)
	}
}

func TestIdempotentPublishConcurrentRetries(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "orders", 1)
	ctx := context.Background()

	// Simultaneous publishes of the same sequence model a client retrying
	// while its first attempt is still in flight. Exactly one may store.
	const attempts = 8
	results := make([]PublishResult, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.Publish(ctx, PublishRequest{
				Topic: "orders", Value: []byte("v"), ProducerID: "p1", Sequence: 1,
			})
		}(i)
	}
	wg.Wait()

	stored := 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("publish %d: %v", i, errs[i])
		}
		if results[i].Offset != 0 {
			t.Fatalf("publish %d: offset %d, want 0", i, results[i].Offset)
		}
		if !results[i].Duplicate {
			stored++
		}
	}
	if stored != 1 {
		t.Fatalf("sequence stored %d times", stored)
	}

	res, err := b.Fetch(ctx, FetchRequest{Topic: "orders", Partition: 0, Offset: 0})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.HighWatermark != 1 || len(res.Events) != 1 {
		t.Fatalf("hwm %d, events %d; want one stored event", res.HighWatermark, len(res.Events))
	}
}

func TestDedupeSurvivesCacheEviction(t *testing.T) {
	b, reg := newTestBroker(t, Config{ProducerSessionCache: 1})
	mustCreate(t, reg, "orders", 1)
	ctx := context.Background()

	first, err := b.Publish(ctx, PublishRequest{Topic: "orders", Value: []byte("a"), ProducerID: "p1", Sequence: 1})
	if err != nil {
		t.Fatalf("p1: %v", err)
	}
	// p2 evicts p1 from the one-slot cache.
	if _, err := b.Publish(ctx, PublishRequest{Topic: "orders", Value: []byte("b"), ProducerID: "p2", Sequence: 1}); err != nil {
		t.Fatalf("p2: %v", err)
	}
	// p1's retry is still recognized from the durable session record.
	again, err := b.Publish(ctx, PublishRequest{Topic: "orders", Value: []byte("a"), ProducerID: "p1", Sequence: 1})
	if err != nil || !again.Duplicate || again.Offset != first.Offset {
		t.Fatalf("evicted session not rehydrated: %+v, %v", again, err)
	}
}

func TestFetchLongPollWakesOnPublish(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "events", 1)
	ctx := context.Background()

	type result struct {
		res FetchResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := b.Fetch(ctx, FetchRequest{Topic: "events", Partition: 0, Offset: 0, MaxWait: 5 * time.Second})
		done <- result{res, err}
	}()
	time.Sleep(20 * time.Millisecond)
	if _, err := b.Publish(ctx, PublishRequest{Topic: "events", Value: []byte("late")}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case r := <-done:
		if r.err != nil || len(r.res.Events) != 1 || string(r.res.Events[0].Value) != "late" {
			t.Fatalf("long poll: %+v, %v", r.res, r.err)
		}
		if r.res.NextOffset != 1 || r.res.HighWatermark != 1 {
			t.Fatalf("cursors: %+v", r.res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never returned")
	}
}

func TestFetchTimeoutReturnsEmpty(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "events", 1)
	res, err := b.Fetch(context.Background(), FetchRequest{Topic: "events", MaxWait: 30 * time.Millisecond})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Events) != 0 || res.NextOffset != 0 {
		t.Fatalf("expected empty page: %+v", res)
	}
}

func TestFetchFilterAdvancesPastDropped(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "logs", 1)
	ctx := context.Background()
	for _, level := range []string{"info", "error", "info"} {
		if _, err := b.Publish(ctx, PublishRequest{Topic: "logs", Value: []byte(`{"level":"` + level + `"}`)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	res, err := b.Fetch(ctx, FetchRequest{Topic: "logs", Filter: `json.level == "error"`})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Events) != 1 || res.Events[0].Offset != 1 {
		t.Fatalf("filter kept: %+v", res.Events)
	}
	// The cursor moves past filtered-out events too.
	if res.NextOffset != 3 {
		t.Fatalf("next offset: got %d, want 3", res.NextOffset)
	}
}

func TestFetchInvalidFilter(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "logs", 1)
	_, err := b.Fetch(context.Background(), FetchRequest{Topic: "logs", Filter: "not a (valid"})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("want ErrInvalidFilter, got %v", err)
	}
}

func TestAcksNone(t *testing.T) {
	b, reg := newTestBroker(t, Config{})
	mustCreate(t, reg, "fire", 1)
	ctx := context.Background()

	res, err := b.Publish(ctx, PublishRequest{Topic: "fire", Value: []byte("v"), Acks: AcksNone})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if res.Offset != -1 {
		t.Fatalf("acks=none should not report an offset, got %d", res.Offset)
	}
	// The append still happens; poll until it lands.
	deadline := time.Now().Add(2 * time.Second)
	for {
		fr, err := b.Fetch(ctx, FetchRequest{Topic: "fire"})
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if len(fr.Events) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("async append never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseAcks(t *testing.T) {
	for s, want := range map[string]Acks{"": AcksLeader, "leader": AcksLeader, "none": AcksNone, "all": AcksAll} {
		got, err := ParseAcks(s)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", s, got, err)
		}
	}
	if _, err := ParseAcks("quorum"); err == nil {
		t.Fatal("expected error for unknown acks")
	}
}
