package partition

import (
	"context"
	"sync"
	"time"

	"github.com/kilnmq/kiln/internal/event"
	"github.com/kilnmq/kiln/internal/segment"
)

// Partition owns one partition's segment store and serializes appends to it.
// Offsets within a partition are assigned contiguously under the append lock.
type Partition struct {
	topic string
	index uint32
	store *segment.Store

	mu        sync.Mutex
	notifyCh  chan struct{}
	lastPubMs int64
}

// Stats is a point-in-time snapshot of a partition's stored range.
type Stats struct {
	Topic         string `json:"topic"`
	Partition     uint32 `json:"partition"`
	FirstOffset   int64  `json:"firstOffset"`
	HighWatermark int64  `json:"highWatermark"`
	SizeBytes     int64  `json:"sizeBytes"`
	Segments      int    `json:"segments"`
	LastPublishMs int64  `json:"lastPublishMs,omitempty"`
}

// Open opens the partition's store under dir, recovering any torn tail.
// Returns the partition and the number of records dropped during recovery.
func Open(dir, topic string, index uint32, opts segment.Options) (*Partition, int, error) {
	store, dropped, err := segment.Open(dir, opts)
	if err != nil {
		return nil, 0, err
	}
	p := &Partition{topic: topic, index: index, store: store, notifyCh: make(chan struct{})}
	return p, dropped, nil
}

// Append encodes and stores one event, stamping it with now when the caller
// left TimestampMs zero. Waiters blocked in WaitForAppend are woken.
func (p *Partition) Append(e event.Event) (int64, error) {
	if e.TimestampMs == 0 {
		e.TimestampMs = time.Now().UnixMilli()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	off, err := p.store.Append(event.Encode(e))
	if err != nil {
		return 0, err
	}
	p.lastPubMs = e.TimestampMs
	close(p.notifyCh)
	p.notifyCh = make(chan struct{})
	return off, nil
}

// Fetch decodes records starting at from, bounded by maxBytes of stored
// payload. An empty result at the high watermark is not an error; callers
// long-poll via WaitForAppend.
func (p *Partition) Fetch(from int64, maxBytes int) ([]event.Event, error) {
	recs, err := p.store.Read(from, maxBytes)
	if err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(recs))
	for _, r := range recs {
		e, err := event.Decode(r.Payload)
		if err != nil {
			return nil, err
		}
		e.Offset = r.Offset
		e.Partition = p.index
		out = append(out, e)
	}
	return out, nil
}

// WaitForAppend blocks until a new append occurs, the timeout elapses, or ctx
// is done. It returns true only when woken by an append.
func (p *Partition) WaitForAppend(ctx context.Context, timeout time.Duration) bool {
	p.mu.Lock()
	ch := p.notifyCh
	p.mu.Unlock()

	if timeout <= 0 {
		select {
		case <-ch:
			return true
		case <-ctx.Done():
			return false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// HighWatermark is the offset the next append will receive.
func (p *Partition) HighWatermark() int64 { return p.store.NextOffset() }

// FirstOffset is the retention floor.
func (p *Partition) FirstOffset() int64 { return p.store.FirstOffset() }

// Stats snapshots the stored range and size.
func (p *Partition) Stats() Stats {
	p.mu.Lock()
	lastPub := p.lastPubMs
	p.mu.Unlock()
	return Stats{
		Topic:         p.topic,
		Partition:     p.index,
		FirstOffset:   p.store.FirstOffset(),
		HighWatermark: p.store.NextOffset(),
		SizeBytes:     p.store.SizeBytes(),
		Segments:      p.store.SegmentCount(),
		LastPublishMs: lastPub,
	}
}

// TruncateOlderThan drops whole sealed segments older than cutoffMs, using
// the record timestamp trailer to judge age.
func (p *Partition) TruncateOlderThan(cutoffMs int64) (int, error) {
	return p.store.TruncateOlderThan(cutoffMs, event.Timestamp)
}

// TruncateToMaxBytes drops the oldest sealed segments until the partition
// fits within maxBytes.
func (p *Partition) TruncateToMaxBytes(maxBytes int64) (int, error) {
	return p.store.TruncateToMaxBytes(maxBytes)
}

// Close flushes and closes the underlying store.
func (p *Partition) Close() error { return p.store.Close() }
