package id

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// nowMs is a hook for tests.
var nowMs = func() int64 { return time.Now().UnixMilli() }

// Generator issues member IDs that sort lexically in the order they were
// handed out.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

func NewGenerator() *Generator { return &Generator{} }

// Next returns a fresh identifier: 32 hex characters encoding a big-endian
// millisecond timestamp and a tie-breaking counter. If the clock regresses,
// the timestamp pins to the highest millisecond already used so issue order
// never reverses.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := nowMs()
	if ms <= g.lastMs {
		ms = g.lastMs
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	var raw [16]byte
	binary.BigEndian.PutUint64(raw[:8], uint64(ms))
	binary.BigEndian.PutUint64(raw[8:], g.seq)
	return hex.EncodeToString(raw[:])
}
