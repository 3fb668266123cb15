package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"time"
)

// entry is the in-process representation of a cached value: a JSON-shaped
// value plus its recorded expiry and creation instants.
type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	createdAt time.Time
}

// l1Shard is one exclusively-locked partition of the L1 store, an
// intrusive LRU (container/list + map) capped at a fixed capacity. The
// sharding scheme follows go-server-3/internal/session/hub.go's shard
// design, with per-shard LRU bookkeeping adapted from IvanBrykalov-shardcache.
type l1Shard struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
}

func newL1Shard(capacity int) *l1Shard {
	return &l1Shard{
		capacity: capacity,
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
	}
}

func (s *l1Shard) get(key string, now time.Time) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry)
	if !e.expiresAt.After(now) {
		// Expired: evict eagerly so it never leaks out as a hit.
		s.order.Remove(el)
		delete(s.items, key)
		return nil, false
	}
	s.order.MoveToFront(el)
	return e.value, true
}

func (s *l1Shard) set(key string, value []byte, expiresAt, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		e.createdAt = now
		s.order.MoveToFront(el)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt, createdAt: now}
	el := s.order.PushFront(e)
	s.items[key] = el

	for s.order.Len() > s.capacity {
		back := s.order.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*entry)
		s.order.Remove(back)
		delete(s.items, evicted.key)
	}
}

func (s *l1Shard) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
}

func (s *l1Shard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element, s.capacity)
	s.order.Init()
}

func (s *l1Shard) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// l1Store is the sharded front tier: bounded capacity, TTL-aware, LRU
// eviction, never returning an entry past its recorded expiry.
type l1Store struct {
	shards   []*l1Shard
	maxEntryTTL time.Duration
}

func newL1Store(capacity, shardCount int, maxEntryTTL time.Duration) *l1Store {
	if shardCount <= 0 {
		shardCount = 1
	}
	perShard := (capacity + shardCount - 1) / shardCount
	if perShard <= 0 {
		perShard = 1
	}
	shards := make([]*l1Shard, shardCount)
	for i := range shards {
		shards[i] = newL1Shard(perShard)
	}
	return &l1Store{shards: shards, maxEntryTTL: maxEntryTTL}
}

func (s *l1Store) shardFor(key string) *l1Shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

func (s *l1Store) get(key string, now time.Time) ([]byte, bool) {
	return s.shardFor(key).get(key, now)
}

// set writes with an absolute expiry, capped at the configured L1 max
// entry TTL (entry TTL ≤5 min by default) — this caps the L1 bookkeeping
// horizon even when the caller's strategy TTL is longer; the authoritative
// TTL still lives in L2.
func (s *l1Store) set(key string, value []byte, ttl time.Duration, now time.Time) {
	if ttl > s.maxEntryTTL {
		ttl = s.maxEntryTTL
	}
	s.shardFor(key).set(key, value, now.Add(ttl), now)
}

func (s *l1Store) delete(key string) {
	s.shardFor(key).delete(key)
}

func (s *l1Store) clear() {
	for _, sh := range s.shards {
		sh.clear()
	}
}

func (s *l1Store) len() int {
	total := 0
	for _, sh := range s.shards {
		total += sh.len()
	}
	return total
}
