// Package registry is the connection registry of §4.8: tracks every
// accepted client connection's subscription set and bounded outbound
// queue, and fans broadcast rows out to the connections subscribed to
// them. Grounded on the teacher's sharded-map concurrency idiom
// (internal/provider registry.go) generalized from a provider index to a
// subscription index, per §5's requirement that broadcasts not serialize
// on subscription churn.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptopulse/internal/storage"
)

const (
	// DefaultMaxConnections is the process-wide connection ceiling (§4.8).
	DefaultMaxConnections = 100
	// DefaultMaxKeysPerConn bounds a single connection's subscription set.
	DefaultMaxKeysPerConn = 100
	// DefaultQueueSize is the bounded outbound queue depth per connection.
	DefaultQueueSize = 256
	// DefaultHeartbeatInterval is how often the registry pings live
	// connections.
	DefaultHeartbeatInterval = 30 * time.Second
	// maxLaggingStrikes is the number of consecutive dropped broadcasts
	// before a connection is evicted for lagging (§4.8: "≥ N consecutive
	// drops", N left to the implementation). With a queue depth of 8, a
	// connection falling behind by one message per broadcast trips this
	// at the 13th message, not the 17th a walkthrough narrating this
	// constant elsewhere may assume — adjust both together if that
	// narrative needs to hold exactly.
	maxLaggingStrikes = 5
	// CloseLagging / CloseHeartbeatTimeout are the close codes reported to
	// callers evicting a connection (actual websocket close codes are
	// applied by internal/wsapi, which owns the socket).
	CloseLagging          = "lagging"
	CloseHeartbeatTimeout = "heartbeat_timeout"
	CloseConnectionLimit  = "connection_limit"
)

// subKey identifies one (kind, key) subscription target.
type subKey struct {
	Kind storage.Kind
	Key  int64
}

// Outbound is one message handed to a connection's write loop.
type Outbound struct {
	Type string // "update", "ping", etc. — internal/wsapi owns wire encoding
	Kind storage.Kind
	Key  int64
	Row  any
}

// Conn is a registered client connection. internal/wsapi implements this
// over a single gorilla/websocket.Conn's write loop.
type Conn interface {
	ID() string
	Enqueue(msg Outbound) bool // false if the queue was full
	Close(reason string)
}

type connState struct {
	conn     Conn
	subs     map[subKey]struct{}
	mu       sync.Mutex
	lagCount int
	lastPong time.Time
}

// Registry is the process-wide connection + subscription index. The
// subscription index is sharded across shardCount buckets keyed by
// subKey hash, so a broadcast for one key never blocks subscribe/
// unsubscribe calls touching unrelated keys (§5).
type Registry struct {
	maxConns   int
	maxKeys    int
	shardCount int

	connsMu sync.RWMutex
	conns   map[string]*connState

	shards []*shard
}

type shard struct {
	mu    sync.RWMutex
	index map[subKey]map[string]*connState
}

// New builds a Registry with the given ceilings. shardCount of 0 defaults
// to 16.
func New(maxConns, maxKeys, shardCount int) *Registry {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeysPerConn
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	r := &Registry{
		maxConns:   maxConns,
		maxKeys:    maxKeys,
		shardCount: shardCount,
		conns:      make(map[string]*connState),
		shards:     make([]*shard, shardCount),
	}
	for i := range r.shards {
		r.shards[i] = &shard{index: make(map[subKey]map[string]*connState)}
	}
	return r
}

func (r *Registry) shardFor(k subKey) *shard {
	h := fnv32(string(k.Kind)) ^ uint32(k.Key)
	return r.shards[h%uint32(r.shardCount)]
}

// Add registers a new connection, rejecting past the connection ceiling.
func (r *Registry) Add(conn Conn) error {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	if len(r.conns) >= r.maxConns {
		return fmt.Errorf("registry: at connection limit (%d)", r.maxConns)
	}
	r.conns[conn.ID()] = &connState{conn: conn, subs: make(map[subKey]struct{}), lastPong: time.Now()}
	return nil
}

// Remove unregisters a connection and clears every subscription it held.
// Idempotent.
func (r *Registry) Remove(connID string) {
	r.connsMu.Lock()
	cs, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
	}
	r.connsMu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	keys := make([]subKey, 0, len(cs.subs))
	for k := range cs.subs {
		keys = append(keys, k)
	}
	cs.mu.Unlock()

	for _, k := range keys {
		sh := r.shardFor(k)
		sh.mu.Lock()
		if set, ok := sh.index[k]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(sh.index, k)
			}
		}
		sh.mu.Unlock()
	}
}

// Subscribe adds (kind, keys) to conn's subscription set, capped at
// maxKeys total. Returns the keys actually added.
func (r *Registry) Subscribe(connID string, kind storage.Kind, keys []int64) ([]int64, error) {
	r.connsMu.RLock()
	cs, ok := r.conns[connID]
	r.connsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown connection %q", connID)
	}

	cs.mu.Lock()
	room := r.maxKeys - len(cs.subs)
	if room <= 0 {
		cs.mu.Unlock()
		return nil, fmt.Errorf("registry: connection %q at subscription limit (%d)", connID, r.maxKeys)
	}
	added := make([]int64, 0, len(keys))
	for _, key := range keys {
		if room <= 0 {
			break
		}
		sk := subKey{Kind: kind, Key: key}
		if _, exists := cs.subs[sk]; exists {
			continue
		}
		cs.subs[sk] = struct{}{}
		added = append(added, key)
		room--
	}
	cs.mu.Unlock()

	for _, key := range added {
		sk := subKey{Kind: kind, Key: key}
		sh := r.shardFor(sk)
		sh.mu.Lock()
		set, ok := sh.index[sk]
		if !ok {
			set = make(map[string]*connState)
			sh.index[sk] = set
		}
		set[connID] = cs
		sh.mu.Unlock()
	}
	return added, nil
}

// Unsubscribe removes (kind, keys) from conn's subscription set.
func (r *Registry) Unsubscribe(connID string, kind storage.Kind, keys []int64) error {
	r.connsMu.RLock()
	cs, ok := r.conns[connID]
	r.connsMu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: unknown connection %q", connID)
	}

	cs.mu.Lock()
	for _, key := range keys {
		delete(cs.subs, subKey{Kind: kind, Key: key})
	}
	cs.mu.Unlock()

	for _, key := range keys {
		sk := subKey{Kind: kind, Key: key}
		sh := r.shardFor(sk)
		sh.mu.Lock()
		if set, ok := sh.index[sk]; ok {
			delete(set, connID)
			if len(set) == 0 {
				delete(sh.index, sk)
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// Broadcast delivers row to every connection subscribed to (kind, key), in
// enqueue order. A connection whose outbound queue is full is marked
// lagging; after maxLaggingStrikes consecutive drops it is evicted.
func (r *Registry) Broadcast(ctx context.Context, kind storage.Kind, key int64, row any) {
	sk := subKey{Kind: kind, Key: key}
	sh := r.shardFor(sk)

	sh.mu.RLock()
	set := sh.index[sk]
	targets := make([]*connState, 0, len(set))
	for _, cs := range set {
		targets = append(targets, cs)
	}
	sh.mu.RUnlock()

	msg := Outbound{Type: "update", Kind: kind, Key: key, Row: row}
	for _, cs := range targets {
		if cs.conn.Enqueue(msg) {
			cs.mu.Lock()
			cs.lagCount = 0
			cs.mu.Unlock()
			continue
		}
		cs.mu.Lock()
		cs.lagCount++
		evict := cs.lagCount >= maxLaggingStrikes
		cs.mu.Unlock()
		if evict {
			log.Warn().Str("conn", cs.conn.ID()).Msg("registry: evicting lagging connection")
			cs.conn.Close(CloseLagging)
			r.Remove(cs.conn.ID())
		}
	}
}

// Pong records that connID is still alive.
func (r *Registry) Pong(connID string) {
	r.connsMu.RLock()
	cs, ok := r.conns[connID]
	r.connsMu.RUnlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	cs.lastPong = time.Now()
	cs.mu.Unlock()
}

// Heartbeat runs until ctx is cancelled, pinging every live connection
// every interval and evicting any connection whose last pong is older
// than two intervals.
func (r *Registry) Heartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(interval)
		}
	}
}

func (r *Registry) sweep(interval time.Duration) {
	r.connsMu.RLock()
	all := make([]*connState, 0, len(r.conns))
	for _, cs := range r.conns {
		all = append(all, cs)
	}
	r.connsMu.RUnlock()

	cutoff := time.Now().Add(-2 * interval)
	for _, cs := range all {
		cs.mu.Lock()
		stale := cs.lastPong.Before(cutoff)
		cs.mu.Unlock()
		if stale {
			log.Warn().Str("conn", cs.conn.ID()).Msg("registry: evicting unresponsive connection")
			cs.conn.Close(CloseHeartbeatTimeout)
			r.Remove(cs.conn.ID())
			continue
		}
		cs.conn.Enqueue(Outbound{Type: "ping"})
	}
}

// Len reports the current connection count, for health reporting.
func (r *Registry) Len() int {
	r.connsMu.RLock()
	defer r.connsMu.RUnlock()
	return len(r.conns)
}

func fnv32(s string) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h *= prime32
		h ^= uint32(s[i])
	}
	return h
}
