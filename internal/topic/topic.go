package topic

import (
	"errors"
	"fmt"
	"hash/crc32"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/kilnmq/kiln/internal/partition"
	"github.com/kilnmq/kiln/internal/segment"
)

var (
	ErrNotFound      = errors.New("topic: not found")
	ErrAlreadyExists = errors.New("topic: already exists")
	ErrInvalidName   = errors.New("topic: invalid name")
	ErrNoPartition   = errors.New("topic: partition out of range")
)

var nameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,249}$`)

// Retention is a per-topic override of the broker-wide retention policy.
// Zero fields inherit the broker default.
type Retention struct {
	AgeMs    int64
	MaxBytes int64
}

// Meta is the durable description of a topic, stored as JSON in the metadata
// store.
type Meta struct {
	Name        string `json:"name"`
	Partitions  int    `json:"partitions"`
	CreatedAtMs int64  `json:"createdAtMs"`
	// Retention overrides; zero means inherit the broker default.
	RetentionAgeMs    int64 `json:"retentionAgeMs,omitempty"`
	RetentionMaxBytes int64 `json:"retentionMaxBytes,omitempty"`
}

// Topic is an open topic: its meta plus one Partition per index. Routing of
// keyed events is stable (crc32 of the key modulo partition count); keyless
// events round-robin.
type Topic struct {
	Meta  Meta
	parts []*partition.Partition
	rr    atomic.Uint64
}

// open opens every partition directory under root/<topic>/<index>.
func open(root string, meta Meta, opts segment.Options) (*Topic, error) {
	t := &Topic{Meta: meta}
	for i := 0; i < meta.Partitions; i++ {
		dir := filepath.Join(root, meta.Name, fmt.Sprintf("%d", i))
		p, _, err := partition.Open(dir, meta.Name, uint32(i), opts)
		if err != nil {
			t.closeAll()
			return nil, err
		}
		t.parts = append(t.parts, p)
	}
	return t, nil
}

// Route picks the partition for a key. Equal keys always land on the same
// partition; nil or empty keys spread round-robin.
func (t *Topic) Route(key []byte) uint32 {
	n := uint32(len(t.parts))
	if len(key) == 0 {
		return uint32(t.rr.Add(1)-1) % n
	}
	return crc32.ChecksumIEEE(key) % n
}

// Partition returns the partition at index.
func (t *Topic) Partition(index uint32) (*partition.Partition, error) {
	if int(index) >= len(t.parts) {
		return nil, ErrNoPartition
	}
	return t.parts[index], nil
}

// Partitions returns all partitions in index order.
func (t *Topic) Partitions() []*partition.Partition {
	return t.parts
}

// Stats snapshots every partition.
func (t *Topic) Stats() []partition.Stats {
	out := make([]partition.Stats, 0, len(t.parts))
	for _, p := range t.parts {
		out = append(out, p.Stats())
	}
	return out
}

func (t *Topic) closeAll() error {
	var err error
	for _, p := range t.parts {
		if cerr := p.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func validName(name string) bool {
	return nameRe.MatchString(name)
}

func now() int64 { return time.Now().UnixMilli() }
