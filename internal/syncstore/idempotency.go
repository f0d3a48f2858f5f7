package syncstore

import (
	"container/list"
	"sync"
)

// idempotencyKey identifies one client resend: the same (user, device,
// collection, pending_sync_key) must always get back the identical wire
// bytes it got the first time (spec §4.4 invariant 7).
type idempotencyKey struct {
	User         string
	DeviceID     string
	CollectionID string
	SyncKey      string
}

const defaultIdempotencyCap = 1024

// IdempotencyCache is a bounded LRU mapping a request's idempotency key to
// the exact response bytes returned for it, so a client that resends a
// Sync request (e.g. after a dropped response) gets byte-identical output
// instead of a re-derived one that might disagree on ordering.
type IdempotencyCache struct {
	mu       sync.Mutex
	cap      int
	ll       *list.List // front = most recently used
	index    map[idempotencyKey]*list.Element
}

type idempotencyEntry struct {
	key   idempotencyKey
	value []byte
}

// NewIdempotencyCache returns a cache holding at most capacity entries.
// capacity <= 0 defaults to 1024.
func NewIdempotencyCache(capacity int) *IdempotencyCache {
	if capacity <= 0 {
		capacity = defaultIdempotencyCap
	}
	return &IdempotencyCache{
		cap:   capacity,
		ll:    list.New(),
		index: make(map[idempotencyKey]*list.Element),
	}
}

// Get returns the cached response for (user, device, collection, syncKey)
// and marks it most-recently-used.
func (c *IdempotencyCache) Get(user, device, collection, syncKey string) ([]byte, bool) {
	k := idempotencyKey{user, device, collection, syncKey}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[k]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*idempotencyEntry).value, true
}

// Put records the response bytes for a request key, evicting the least
// recently used entry if the cache is at capacity.
func (c *IdempotencyCache) Put(user, device, collection, syncKey string, response []byte) {
	k := idempotencyKey{user, device, collection, syncKey}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		el.Value.(*idempotencyEntry).value = response
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&idempotencyEntry{key: k, value: response})
	c.index[k] = el

	for c.ll.Len() > c.cap {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.ll.Remove(back)
		delete(c.index, back.Value.(*idempotencyEntry).key)
	}
}
