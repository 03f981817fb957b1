package aggregator

import (
	"sync"
	"time"

	"github.com/sawpanic/cryptopulse/internal/domain"
)

// entry pairs a tick payload with the exchange-reported time it carried, so
// bucket can compare two ticks for the same market without touching V.
type entry[V any] struct {
	ts  time.Time
	val V
}

// bucket is the latest-wins minute buffer of §4.3: a mapping from market id
// to the most recent tick seen since the last drain. It never drops a tick
// between boundaries — the map is bounded by the number of distinct
// markets, not the number of ticks received.
type bucket[V any] struct {
	mu   sync.Mutex
	data map[domain.MarketID]entry[V]
}

func newBucket[V any]() *bucket[V] {
	return &bucket[V]{data: make(map[domain.MarketID]entry[V])}
}

// ingest overwrites the held entry for marketID if ts is at least as recent
// as what's already buffered; otherwise it's a no-op. This is O(1) per tick.
func (b *bucket[V]) ingest(marketID domain.MarketID, ts time.Time, val V) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.data[marketID]; ok && ts.Before(cur.ts) {
		return
	}
	b.data[marketID] = entry[V]{ts: ts, val: val}
}

// drain atomically snapshots and clears the buffer.
func (b *bucket[V]) drain() map[domain.MarketID]V {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return nil
	}
	out := make(map[domain.MarketID]V, len(b.data))
	for k, e := range b.data {
		out[k] = e.val
	}
	b.data = make(map[domain.MarketID]entry[V])
	return out
}
