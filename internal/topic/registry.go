package topic

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/kilnmq/kiln/internal/partition"
	"github.com/kilnmq/kiln/internal/segment"
	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
)

var topicMetaPrefix = []byte("topicmeta/")

func metaKey(name string) []byte {
	k := make([]byte, 0, len(topicMetaPrefix)+len(name))
	k = append(k, topicMetaPrefix...)
	k = append(k, name...)
	return k
}

// Registry owns all open topics. Topic metadata is durable in the metadata
// store; partition data lives in per-topic directories under root.
type Registry struct {
	db   *pebblestore.DB
	root string
	opts segment.Options

	mu     sync.RWMutex
	topics map[string]*Topic
}

// OpenRegistry loads every stored topic meta and opens its partitions.
func OpenRegistry(db *pebblestore.DB, root string, opts segment.Options) (*Registry, error) {
	r := &Registry{db: db, root: root, opts: opts, topics: make(map[string]*Topic)}
	metas, err := r.loadMetas()
	if err != nil {
		return nil, err
	}
	for _, m := range metas {
		t, err := open(root, m, opts)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.topics[m.Name] = t
	}
	return r, nil
}

func (r *Registry) loadMetas() ([]Meta, error) {
	upper := append(append([]byte{}, topicMetaPrefix...), 0xff)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: topicMetaPrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var metas []Meta
	for ok := iter.First(); ok; ok = iter.Next() {
		var m Meta
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			continue
		}
		metas = append(metas, m)
	}
	return metas, nil
}

// Create registers a topic with the given partition count and opens it.
// Creating an existing topic returns ErrAlreadyExists.
func (r *Registry) Create(name string, partitions int, retention Retention) (Meta, error) {
	if !validName(name) {
		return Meta{}, ErrInvalidName
	}
	if partitions <= 0 {
		return Meta{}, ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[name]; ok {
		return Meta{}, ErrAlreadyExists
	}
	m := Meta{
		Name:              name,
		Partitions:        partitions,
		CreatedAtMs:       now(),
		RetentionAgeMs:    retention.AgeMs,
		RetentionMaxBytes: retention.MaxBytes,
	}
	t, err := open(r.root, m, r.opts)
	if err != nil {
		return Meta{}, err
	}
	if err := r.db.SetJSON(metaKey(name), m); err != nil {
		t.closeAll()
		return Meta{}, err
	}
	r.topics[name] = t
	return m, nil
}

// Get returns the open topic or ErrNotFound.
func (r *Registry) Get(name string) (*Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// Delete closes the topic, removes its metadata, and deletes its data
// directory.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return ErrNotFound
	}
	delete(r.topics, name)
	if err := t.closeAll(); err != nil {
		return err
	}
	if err := r.db.Delete(metaKey(name)); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(r.root, name))
}

// List returns all topic metas sorted by name.
func (r *Registry) List() []Meta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Meta, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.Meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Each calls fn for every open topic. Used by the retention sweeper.
func (r *Registry) Each(fn func(*Topic)) {
	r.mu.RLock()
	snapshot := make([]*Topic, 0, len(r.topics))
	for _, t := range r.topics {
		snapshot = append(snapshot, t)
	}
	r.mu.RUnlock()
	for _, t := range snapshot {
		fn(t)
	}
}

// Stats snapshots one topic's partitions.
func (r *Registry) Stats(name string) ([]partition.Stats, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Stats(), nil
}

// Close closes every open topic.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for name, t := range r.topics {
		if cerr := t.closeAll(); err == nil {
			err = cerr
		}
		delete(r.topics, name)
	}
	return err
}
