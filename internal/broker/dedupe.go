package broker

import (
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"

	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
)

// ErrSequenceGap is returned when an idempotent publish skips ahead of the
// producer session's expected sequence.
var ErrSequenceGap = errors.New("broker: producer sequence gap")

// producerSession is the durable dedupe state for one (topic, partition,
// producer) triple.
type producerSession struct {
	LastSeq     uint64 `json:"lastSeq"`
	LastOffset  int64  `json:"lastOffset"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}

func sessionKey(topic string, part uint32, producerID string) []byte {
	var pb [4]byte
	binary.BigEndian.PutUint32(pb[:], part)
	return []byte(fmt.Sprintf("producer/%s/%x/%s", topic, pb, producerID))
}

type dedupeEntry struct {
	key  string
	sess producerSession
}

// dedupeCache is an LRU of hot producer sessions in front of the metadata
// store. Eviction only drops the cached copy; the durable record stays, so a
// cold producer is rehydrated on its next publish.
type dedupeCache struct {
	db       *pebblestore.DB
	capacity int

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	// stripes serialize the caller's check-append-record sequence per
	// session; mu alone only protects the individual steps.
	stripes [sessionStripes]sync.Mutex
}

const sessionStripes = 64

// lockSession takes the stripe covering one (topic, partition, producer)
// triple and returns its unlock. Publishes for the same session must hold it
// from the sequence check through the session update, so a retry in flight
// cannot append the same sequence twice.
func (c *dedupeCache) lockSession(topic string, part uint32, producerID string) func() {
	m := &c.stripes[crc32.ChecksumIEEE(sessionKey(topic, part, producerID))%sessionStripes]
	m.Lock()
	return m.Unlock
}

func newDedupeCache(db *pebblestore.DB, capacity int) *dedupeCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &dedupeCache{
		db:       db,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// check validates seq against the session and reports whether the publish is
// a duplicate (with the previously assigned offset). A session is created on
// first contact, accepting whatever sequence the producer starts at.
func (c *dedupeCache) check(topic string, part uint32, producerID string, seq uint64) (dup bool, prevOffset int64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, known, err := c.lookupLocked(topic, part, producerID)
	if err != nil {
		return false, 0, err
	}
	if !known {
		return false, 0, nil
	}
	switch {
	case seq == sess.LastSeq:
		return true, sess.LastOffset, nil
	case seq == sess.LastSeq+1:
		return false, 0, nil
	default:
		return false, 0, fmt.Errorf("%w: got %d, expected %d", ErrSequenceGap, seq, sess.LastSeq+1)
	}
}

// record persists the session's new high sequence and offset after a
// successful append.
func (c *dedupeCache) record(topic string, part uint32, producerID string, seq uint64, offset, nowMs int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := sessionKey(topic, part, producerID)
	sess := producerSession{LastSeq: seq, LastOffset: offset, UpdatedAtMs: nowMs}
	if err := c.db.SetJSON(key, sess); err != nil {
		return err
	}
	c.putLocked(string(key), sess)
	return nil
}

func (c *dedupeCache) lookupLocked(topic string, part uint32, producerID string) (producerSession, bool, error) {
	key := sessionKey(topic, part, producerID)
	if elem, ok := c.items[string(key)]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*dedupeEntry).sess, true, nil
	}
	var sess producerSession
	if err := c.db.GetJSON(key, &sess); err != nil {
		if errors.Is(err, pebblestore.ErrNotFound) {
			return producerSession{}, false, nil
		}
		return producerSession{}, false, err
	}
	c.putLocked(string(key), sess)
	return sess, true, nil
}

func (c *dedupeCache) putLocked(key string, sess producerSession) {
	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		elem.Value.(*dedupeEntry).sess = sess
		return
	}
	if c.order.Len() >= c.capacity {
		back := c.order.Back()
		if back != nil {
			c.order.Remove(back)
			delete(c.items, back.Value.(*dedupeEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&dedupeEntry{key: key, sess: sess})
}

func (c *dedupeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
