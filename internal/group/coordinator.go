package group

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/kilnmq/kiln/internal/storage/pebble"
	"github.com/kilnmq/kiln/internal/topic"
	"github.com/kilnmq/kiln/pkg/id"
	"github.com/kilnmq/kiln/pkg/log"
)

var (
	ErrUnknownGroup  = errors.New("group: unknown group")
	ErrUnknownMember = errors.New("group: unknown member")
	// ErrStaleGeneration means the caller's generation lost a rebalance race;
	// the member must rejoin.
	ErrStaleGeneration = errors.New("group: stale generation")
	// ErrRebalanceInProgress tells a heartbeating member to rejoin and sync.
	ErrRebalanceInProgress = errors.New("group: rebalance in progress")
)

// State is a group's lifecycle phase.
type State string

const (
	// StateEmpty has no members; committed offsets are retained.
	StateEmpty State = "Empty"
	// StateSyncing waits at the barrier for every member of the current
	// generation to fetch its assignment.
	StateSyncing State = "Syncing"
	// StateStable has all members synced on the current generation.
	StateStable State = "Stable"
)

// Config carries the coordinator tunables. HeartbeatInterval is advertised
// to members; SessionTimeout evicts silent members; RebalanceTimeout evicts
// members that never reach the sync barrier.
type Config struct {
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	RebalanceTimeout  time.Duration
	SweepInterval     time.Duration
}

type member struct {
	id            string
	topics        []string
	lastHeartbeat time.Time
	synced        bool
}

type group struct {
	name        string
	state       State
	generation  int64
	members     map[string]*member
	assignments map[string][]TopicPartition
	// syncDeadline bounds how long a generation may sit at the barrier.
	syncDeadline time.Time
}

// Coordinator runs every consumer group on this broker: membership,
// stop-the-world rebalancing with a counting sync barrier, heartbeat
// liveness, and durable offset commits.
type Coordinator struct {
	db       *pebblestore.DB
	registry *topic.Registry
	cfg      Config
	logger   log.Logger
	gen      *id.Generator

	mu     sync.Mutex
	groups map[string]*group

	now func() time.Time
}

// NewCoordinator builds a Coordinator. Group membership is in-memory;
// committed offsets live in the metadata store and survive restarts.
func NewCoordinator(db *pebblestore.DB, registry *topic.Registry, cfg Config, logger log.Logger) *Coordinator {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = 10 * time.Second
	}
	if cfg.RebalanceTimeout <= 0 {
		cfg.RebalanceTimeout = 30 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Second
	}
	return &Coordinator{
		db:       db,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(log.Component("group")),
		gen:      id.NewGenerator(),
		groups:   make(map[string]*group),
		now:      time.Now,
	}
}

// JoinResult tells a member its identity and the generation it must sync on.
type JoinResult struct {
	MemberID            string
	Generation          int64
	State               State
	HeartbeatIntervalMs int64
	SessionTimeoutMs    int64
}

// Join adds or re-adds a member and starts a rebalance. The caller must
// follow with Sync on the returned generation to receive its assignment.
// An empty memberID allocates a new identity.
func (c *Coordinator) Join(ctx context.Context, groupName, memberID string, topics []string) (JoinResult, error) {
	for _, t := range topics {
		if _, err := c.registry.Get(t); err != nil {
			return JoinResult{}, fmt.Errorf("subscribe %q: %w", t, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupName]
	if !ok {
		g = &group{name: groupName, state: StateEmpty, members: make(map[string]*member)}
		c.groups[groupName] = g
	}
	if memberID == "" {
		memberID = c.gen.Next()
	}
	g.members[memberID] = &member{id: memberID, topics: topics, lastHeartbeat: c.now()}
	c.rebalanceLocked(g)

	return JoinResult{
		MemberID:            memberID,
		Generation:          g.generation,
		State:               g.state,
		HeartbeatIntervalMs: c.cfg.HeartbeatInterval.Milliseconds(),
		SessionTimeoutMs:    c.cfg.SessionTimeout.Milliseconds(),
	}, nil
}

// rebalanceLocked bumps the generation, recomputes assignments over the
// union of member subscriptions, and re-arms the sync barrier.
func (c *Coordinator) rebalanceLocked(g *group) {
	if len(g.members) == 0 {
		g.state = StateEmpty
		g.assignments = nil
		return
	}
	g.generation++
	topicSet := make(map[string]struct{})
	ids := make([]string, 0, len(g.members))
	for _, m := range g.members {
		m.synced = false
		ids = append(ids, m.id)
		for _, t := range m.topics {
			topicSet[t] = struct{}{}
		}
	}
	var parts []TopicPartition
	for name := range topicSet {
		t, err := c.registry.Get(name)
		if err != nil {
			// Topic deleted since subscription; its partitions simply drop
			// out of the assignment.
			continue
		}
		for i := 0; i < t.Meta.Partitions; i++ {
			parts = append(parts, TopicPartition{Topic: name, Partition: uint32(i)})
		}
	}
	g.assignments = assign(ids, parts)
	g.state = StateSyncing
	g.syncDeadline = c.now().Add(c.cfg.RebalanceTimeout)
	c.logger.Info("rebalance started",
		log.Str("group", g.name),
		log.Int64("generation", g.generation),
		log.Int("members", len(g.members)))
}

// SyncResult carries a member's assignment once the group is stable.
type SyncResult struct {
	Generation int64
	State      State
	// Assigned is the member's partitions for this generation. Valid even
	// while Syncing; consumption should wait for Stable.
	Assigned []TopicPartition
}

// Sync acknowledges the barrier for one member of the given generation. The
// group turns Stable once every member has synced.
func (c *Coordinator) Sync(ctx context.Context, groupName, memberID string, generation int64) (SyncResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupName]
	if !ok {
		return SyncResult{}, ErrUnknownGroup
	}
	m, ok := g.members[memberID]
	if !ok {
		return SyncResult{}, ErrUnknownMember
	}
	if generation != g.generation {
		return SyncResult{}, fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, generation, g.generation)
	}
	m.synced = true
	m.lastHeartbeat = c.now()
	if g.state == StateSyncing && c.allSyncedLocked(g) {
		g.state = StateStable
		c.logger.Info("group stable",
			log.Str("group", g.name), log.Int64("generation", g.generation))
	}
	return SyncResult{
		Generation: g.generation,
		State:      g.state,
		Assigned:   g.assignments[memberID],
	}, nil
}

func (c *Coordinator) allSyncedLocked(g *group) bool {
	for _, m := range g.members {
		if !m.synced {
			return false
		}
	}
	return true
}

// Heartbeat refreshes a member's session. A stale generation or an active
// rebalance is reported as an error so the member rejoins.
func (c *Coordinator) Heartbeat(ctx context.Context, groupName, memberID string, generation int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupName]
	if !ok {
		return ErrUnknownGroup
	}
	m, ok := g.members[memberID]
	if !ok {
		return ErrUnknownMember
	}
	m.lastHeartbeat = c.now()
	if generation != g.generation {
		return fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, generation, g.generation)
	}
	if g.state == StateSyncing {
		return ErrRebalanceInProgress
	}
	return nil
}

// Leave removes a member and rebalances the remainder. The last member out
// leaves the group Empty; its committed offsets are kept until DeleteGroup.
func (c *Coordinator) Leave(ctx context.Context, groupName, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, ok := c.groups[groupName]
	if !ok {
		return ErrUnknownGroup
	}
	if _, ok := g.members[memberID]; !ok {
		return ErrUnknownMember
	}
	delete(g.members, memberID)
	c.rebalanceLocked(g)
	return nil
}

// offsetKey is group/{group}/offset/{topic}/{partition BE}. The big-endian
// partition keeps per-topic scans ordered.
func offsetKey(groupName, topicName string, part uint32) []byte {
	var pb [4]byte
	binary.BigEndian.PutUint32(pb[:], part)
	return []byte(fmt.Sprintf("group/%s/offset/%s/%x", groupName, topicName, pb))
}

func groupOffsetPrefix(groupName string) []byte {
	return []byte(fmt.Sprintf("group/%s/offset/", groupName))
}

// Committed is one durable offset commit.
type Committed struct {
	Topic         string `json:"topic"`
	Partition     uint32 `json:"partition"`
	Offset        int64  `json:"offset"`
	MemberID      string `json:"memberId,omitempty"`
	CommittedAtMs int64  `json:"committedAtMs"`
}

// Commit durably records a consumer offset. Commits are last-write-wins, so
// a group can be deliberately rewound. When generation >= 0 it is validated
// against the current one; the write happens under the same lock, so a
// commit validated against a generation cannot land after a rebalance has
// moved past it.
func (c *Coordinator) Commit(ctx context.Context, groupName, memberID string, generation int64, tp TopicPartition, offset int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation >= 0 {
		g, ok := c.groups[groupName]
		if !ok {
			return ErrUnknownGroup
		}
		if generation != g.generation {
			return fmt.Errorf("%w: got %d, current %d", ErrStaleGeneration, generation, g.generation)
		}
	}

	rec := Committed{
		Topic:         tp.Topic,
		Partition:     tp.Partition,
		Offset:        offset,
		MemberID:      memberID,
		CommittedAtMs: c.now().UnixMilli(),
	}
	return c.db.SetJSON(offsetKey(groupName, tp.Topic, tp.Partition), rec)
}

// Offsets returns all committed offsets for a group, ordered by key.
func (c *Coordinator) Offsets(ctx context.Context, groupName string) ([]Committed, error) {
	prefix := groupOffsetPrefix(groupName)
	upper := append(append([]byte{}, prefix...), 0xff)
	iter, err := c.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Committed
	for ok := iter.First(); ok; ok = iter.Next() {
		var rec Committed
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Describe is a point-in-time view of one group.
type Describe struct {
	Name       string                      `json:"name"`
	State      State                       `json:"state"`
	Generation int64                       `json:"generation"`
	Members    []string                    `json:"members"`
	Assigned   map[string][]TopicPartition `json:"assigned,omitempty"`
}

// Get describes a live group.
func (c *Coordinator) Get(groupName string) (Describe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.groups[groupName]
	if !ok {
		return Describe{}, ErrUnknownGroup
	}
	return c.describeLocked(g), nil
}

func (c *Coordinator) describeLocked(g *group) Describe {
	ids := make([]string, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Describe{
		Name:       g.name,
		State:      g.state,
		Generation: g.generation,
		Members:    ids,
		Assigned:   g.assignments,
	}
}

// List describes every live group, sorted by name.
func (c *Coordinator) List() []Describe {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Describe, 0, len(c.groups))
	for _, g := range c.groups {
		out = append(out, c.describeLocked(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Delete drops a group's live state and its committed offsets.
func (c *Coordinator) Delete(ctx context.Context, groupName string) error {
	c.mu.Lock()
	delete(c.groups, groupName)
	c.mu.Unlock()

	offs, err := c.Offsets(ctx, groupName)
	if err != nil {
		return err
	}
	for _, o := range offs {
		if err := c.db.Delete(offsetKey(groupName, o.Topic, o.Partition)); err != nil {
			return err
		}
	}
	return nil
}

// RunExpiry evicts dead members on the configured cadence until ctx is done.
func (c *Coordinator) RunExpiry(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.expire()
		}
	}
}

// expire removes members whose session timed out, and members still unsynced
// past the rebalance deadline. Any eviction triggers a rebalance.
func (c *Coordinator) expire() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, g := range c.groups {
		var evicted []string
		for id, m := range g.members {
			switch {
			case now.Sub(m.lastHeartbeat) > c.cfg.SessionTimeout:
				evicted = append(evicted, id)
			case g.state == StateSyncing && !m.synced && now.After(g.syncDeadline):
				evicted = append(evicted, id)
			}
		}
		if len(evicted) == 0 {
			continue
		}
		for _, memberID := range evicted {
			delete(g.members, memberID)
			c.logger.Warn("member expired",
				log.Str("group", g.name), log.Str("member", memberID))
		}
		c.rebalanceLocked(g)
	}
}
