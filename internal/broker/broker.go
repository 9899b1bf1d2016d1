package broker

import (
	"context"
	"errors"
	"time"

	"github.com/kilnmq/kiln/internal/event"
	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
	"github.com/kilnmq/kiln/internal/topic"
	"github.com/kilnmq/kiln/pkg/log"
)

// Acks selects how much durability a publish waits for before responding.
type Acks int

const (
	// AcksLeader waits for the local append under the configured fsync
	// policy. This is the default.
	AcksLeader Acks = iota
	// AcksNone responds before the append completes; the assigned offset is
	// not reported.
	AcksNone
	// AcksAll is accepted for forward compatibility and behaves as
	// AcksLeader on a single-node broker.
	AcksAll
)

// ParseAcks maps the wire form to an Acks level.
func ParseAcks(s string) (Acks, error) {
	switch s {
	case "", "leader":
		return AcksLeader, nil
	case "none":
		return AcksNone, nil
	case "all":
		return AcksAll, nil
	default:
		return AcksLeader, errors.New("broker: invalid acks; use none|leader|all")
	}
}

// Config carries the broker-level tunables.
type Config struct {
	FetchDefaultMaxBytes int
	FetchMaxWaitCap      time.Duration
	RetentionAgeMs       int64
	RetentionMaxBytes    int64
	SweepInterval        time.Duration
	ProducerSessionCache int
}

// PublishRequest is one event to accept.
type PublishRequest struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string][]byte
	// Partition, when non-nil, bypasses key routing.
	Partition *uint32
	// ProducerID enables idempotent publishing together with Sequence.
	ProducerID string
	Sequence   uint64
	Acks       Acks
}

// PublishResult reports where the event landed. Offset is -1 for AcksNone;
// a suppressed duplicate carries the offset assigned to the first attempt.
type PublishResult struct {
	Partition uint32
	Offset    int64
	Duplicate bool
}

// FetchRequest reads a range of one partition, optionally long-polling and
// filtering.
type FetchRequest struct {
	Topic     string
	Partition uint32
	Offset    int64
	MaxBytes  int
	// MaxWait enables long-polling when the requested offset is at the high
	// watermark. Capped by Config.FetchMaxWaitCap.
	MaxWait time.Duration
	// Filter is an optional CEL expression; events failing it are dropped
	// from the response but still advance NextOffset.
	Filter string
}

// FetchResult is one page of a partition.
type FetchResult struct {
	Events []event.Event
	// NextOffset is where the consumer should resume, past any events that
	// were scanned but filtered out.
	NextOffset     int64
	HighWatermark  int64
	LogStartOffset int64
}

// Broker ties the topic registry, producer dedupe state, and retention
// together behind the publish and fetch operations.
type Broker struct {
	registry *topic.Registry
	dedupe   *dedupeCache
	cfg      Config
	logger   log.Logger
}

// New builds a Broker over an open registry and metadata store.
func New(registry *topic.Registry, db *pebblestore.DB, cfg Config, logger log.Logger) *Broker {
	if cfg.FetchDefaultMaxBytes <= 0 {
		cfg.FetchDefaultMaxBytes = 1 << 20
	}
	if cfg.FetchMaxWaitCap <= 0 {
		cfg.FetchMaxWaitCap = 30 * time.Second
	}
	return &Broker{
		registry: registry,
		dedupe:   newDedupeCache(db, cfg.ProducerSessionCache),
		cfg:      cfg,
		logger:   logger.With(log.Component("broker")),
	}
}

// Publish routes, dedupes, and appends one event.
func (b *Broker) Publish(ctx context.Context, req PublishRequest) (PublishResult, error) {
	t, err := b.registry.Get(req.Topic)
	if err != nil {
		return PublishResult{}, err
	}
	var partIdx uint32
	if req.Partition != nil {
		partIdx = *req.Partition
	} else {
		partIdx = t.Route(req.Key)
	}
	p, err := t.Partition(partIdx)
	if err != nil {
		return PublishResult{}, err
	}

	if req.Acks == AcksNone {
		go func() {
			if _, _, err := b.append(t.Meta.Name, partIdx, p, req); err != nil {
				b.logger.Warn("async publish failed",
					log.Str("topic", req.Topic),
					log.Int("partition", int(partIdx)),
					log.Err(err))
			}
		}()
		return PublishResult{Partition: partIdx, Offset: -1}, nil
	}

	off, dup, err := b.append(t.Meta.Name, partIdx, p, req)
	if err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Partition: partIdx, Offset: off, Duplicate: dup}, nil
}

// append runs the dedupe check, the partition append, and the session update.
// For idempotent publishes the producer session stays locked across all three
// steps.
func (b *Broker) append(topicName string, partIdx uint32, p appender, req PublishRequest) (int64, bool, error) {
	if req.ProducerID != "" {
		unlock := b.dedupe.lockSession(topicName, partIdx, req.ProducerID)
		defer unlock()
		dup, prev, err := b.dedupe.check(topicName, partIdx, req.ProducerID, req.Sequence)
		if err != nil {
			return 0, false, err
		}
		if dup {
			return prev, true, nil
		}
	}
	off, err := p.Append(event.Event{
		Key:         req.Key,
		Value:       req.Value,
		Headers:     req.Headers,
		TimestampMs: time.Now().UnixMilli(),
	})
	if err != nil {
		return 0, false, err
	}
	if req.ProducerID != "" {
		if err := b.dedupe.record(topicName, partIdx, req.ProducerID, req.Sequence, off, time.Now().UnixMilli()); err != nil {
			// The event is stored; a lost session record only risks a
			// duplicate on retry, never a loss.
			b.logger.Warn("producer session update failed",
				log.Str("topic", topicName), log.Str("producer", req.ProducerID), log.Err(err))
		}
	}
	return off, false, nil
}

// appender is the slice of partition.Partition that append needs.
type appender interface {
	Append(event.Event) (int64, error)
}

// Fetch reads events from one partition, long-polling at the high watermark
// when MaxWait is set.
func (b *Broker) Fetch(ctx context.Context, req FetchRequest) (FetchResult, error) {
	t, err := b.registry.Get(req.Topic)
	if err != nil {
		return FetchResult{}, err
	}
	p, err := t.Partition(req.Partition)
	if err != nil {
		return FetchResult{}, err
	}
	filter, err := newEventFilter(req.Filter)
	if err != nil {
		return FetchResult{}, err
	}
	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = b.cfg.FetchDefaultMaxBytes
	}
	wait := req.MaxWait
	if wait > b.cfg.FetchMaxWaitCap {
		wait = b.cfg.FetchMaxWaitCap
	}
	deadline := time.Now().Add(wait)

	for {
		evs, err := p.Fetch(req.Offset, maxBytes)
		if err != nil {
			return FetchResult{}, err
		}
		if len(evs) > 0 || wait <= 0 {
			return b.page(t.Meta.Name, p, req.Offset, evs, filter), nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return b.page(t.Meta.Name, p, req.Offset, nil, filter), nil
		}
		if !p.WaitForAppend(ctx, remaining) {
			if ctx.Err() != nil {
				return FetchResult{}, ctx.Err()
			}
			return b.page(t.Meta.Name, p, req.Offset, nil, filter), nil
		}
	}
}

func (b *Broker) page(topicName string, p fetcher, from int64, evs []event.Event, filter eventFilter) FetchResult {
	next := from
	kept := evs
	if len(evs) > 0 {
		next = evs[len(evs)-1].Offset + 1
		if filter.enabled {
			kept = kept[:0]
			for _, e := range evs {
				if filter.Eval(topicName, e) {
					kept = append(kept, e)
				}
			}
		}
	}
	return FetchResult{
		Events:         kept,
		NextOffset:     next,
		HighWatermark:  p.HighWatermark(),
		LogStartOffset: p.FirstOffset(),
	}
}

// fetcher is the slice of partition.Partition that page needs.
type fetcher interface {
	HighWatermark() int64
	FirstOffset() int64
}

// RunRetention sweeps all topics on the configured cadence until ctx is
// done. Topics may override broker-wide retention in their meta.
func (b *Broker) RunRetention(ctx context.Context) {
	interval := b.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sweep()
		}
	}
}

func (b *Broker) sweep() {
	now := time.Now().UnixMilli()
	b.registry.Each(func(t *topic.Topic) {
		ageMs := t.Meta.RetentionAgeMs
		if ageMs == 0 {
			ageMs = b.cfg.RetentionAgeMs
		}
		maxBytes := t.Meta.RetentionMaxBytes
		if maxBytes == 0 {
			maxBytes = b.cfg.RetentionMaxBytes
		}
		for _, p := range t.Partitions() {
			if ageMs > 0 {
				if n, err := p.TruncateOlderThan(now - ageMs); err != nil {
					b.logger.Warn("retention by age failed", log.Str("topic", t.Meta.Name), log.Err(err))
				} else if n > 0 {
					b.logger.Debug("retention removed records",
						log.Str("topic", t.Meta.Name), log.Int("count", n))
				}
			}
			if maxBytes > 0 {
				if _, err := p.TruncateToMaxBytes(maxBytes); err != nil {
					b.logger.Warn("retention by size failed", log.Str("topic", t.Meta.Name), log.Err(err))
				}
			}
		}
	})
}
