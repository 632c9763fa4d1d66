package common

import "sync"

// Cache is a process-wide get-or-compute cache. Extraction results are
// cached per resolved PDF path so the same document is never re-submitted to
// the OCR collaborator twice in one process. The single mutex is held across
// population: a concurrent reader either sees a fully computed value or
// blocks, never a torn record.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]V
}

func NewCache[V any]() *Cache[V] {
	return &Cache[V]{entries: make(map[string]V)}
}

// GetOrCompute returns the cached value for key, computing and storing it on
// first use. Failed computations are not cached. compute runs under the
// cache lock, so callers block each other; that is deliberate for expensive
// one-shot extractions.
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	c.entries[key] = v
	return v, nil
}

// Remove evicts a key, e.g. after its backing file changed.
func (c *Cache[V]) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
