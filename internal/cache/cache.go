// Package cache is the audio artifact cache (C9): a bounded LRU keyed
// by a hash of reply text and voice parameters, mapping to synthesized
// audio blobs served behind a short-lived pull URL. Concrete structure
// per spec.md §9: a doubly-linked hash map guarded by a short mutex,
// no I/O held under the lock.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Synthesizer produces audio bytes for a cache miss, e.g. by invoking
// C5.TTS in batch mode.
type Synthesizer interface {
	SynthesizeBatch(ctx context.Context, text, voiceParams string) ([]byte, error)
}

type entry struct {
	key string
	val []byte
}

// Cache is a bounded, LRU-evicted map from (replyText, voiceParams) to
// synthesized audio. Per-process, no persistence.
type Cache struct {
	max int
	mu  sync.Mutex
	ll  *list.List
	idx map[string]*list.Element

	group singleflight.Group
	synth Synthesizer
}

// New constructs a Cache with the given capacity (spec.md's
// CACHE_MAX = 100) and the Synthesizer used to fill misses.
func New(max int, synth Synthesizer) *Cache {
	return &Cache{
		max:   max,
		ll:    list.New(),
		idx:   make(map[string]*list.Element),
		synth: synth,
	}
}

// Key hashes reply text and voice parameters into the cache's opaque
// lookup key, also usable as the pull URL's path segment.
func Key(replyText, voiceParams string) string {
	h := sha256.Sum256([]byte(voiceParams + "\x00" + replyText))
	return hex.EncodeToString(h[:])
}

// Get returns the cached blob for key, promoting it to most-recently
// used. The second return value is false on a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.idx[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).val, true
}

// GetOrSynthesize returns the cached blob for (replyText, voiceParams),
// synthesizing and inserting it on a miss. Concurrent misses on the same
// key single-flight: the second and later callers await the first's
// result rather than re-synthesizing (spec.md §9's Open Question,
// pinned to single-flight).
func (c *Cache) GetOrSynthesize(ctx context.Context, replyText, voiceParams string) ([]byte, error) {
	key := Key(replyText, voiceParams)
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		blob, err := c.synth.SynthesizeBatch(ctx, replyText, voiceParams)
		if err != nil {
			return nil, err
		}
		c.insert(key, blob)
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// insert adds or refreshes key → val, evicting the least-recently-used
// entry if the cache is over capacity. Insertion is a pointer swap; no
// I/O is ever performed under the lock.
func (c *Cache) insert(key string, val []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.idx[key]; ok {
		el.Value.(*entry).val = val
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{key: key, val: val})
	c.idx[key] = el

	for c.ll.Len() > c.max {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.idx, oldest.Value.(*entry).key)
	}
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
