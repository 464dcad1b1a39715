package outline

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultCacheTTL = 5 * time.Minute

const (
	keySections         = "sections"
	keyDocumentProgress = "progress:document"
	prefixSection       = "section:"
	prefixProgress      = "progress:section:"
	prefixAnswer        = "answer:"
	prefixHistory       = "history:"
)

func sectionKey(id string) string         { return prefixSection + id }
func sectionProgressKey(id string) string { return prefixProgress + id }
func answerKey(questionID string) string  { return prefixAnswer + questionID }
func historyPrefix(questionID string) string {
	return prefixHistory + questionID + ":"
}
func historyKey(questionID string, limit int) string {
	return historyPrefix(questionID) + strconv.Itoa(limit)
}

// Invalidation kinds, also used as SSE event names.
const (
	KindSectionCreated     = "section.created"
	KindSectionUpdated     = "section.updated"
	KindSectionDeleted     = "section.deleted"
	KindSectionsReordered  = "sections.reordered"
	KindQuestionCreated    = "question.created"
	KindQuestionUpdated    = "question.updated"
	KindQuestionDeleted    = "question.deleted"
	KindQuestionsReordered = "questions.reordered"
	KindAnswerSaved        = "answer.saved"
	KindAnswerStatus       = "answer.status"
	KindAnswerDeleted      = "answer.deleted"
	KindOutlineImported    = "outline.imported"
)

// Invalidation names the cache entries made stale by one successful write.
type Invalidation struct {
	Origin     string    `json:"origin"`
	Kind       string    `json:"kind"`
	Keys       []string  `json:"keys,omitempty"`
	Prefixes   []string  `json:"prefixes,omitempty"`
	SectionID  string    `json:"section_id,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	At         time.Time `json:"at"`
}

func (inv Invalidation) matches(key string) bool {
	for _, k := range inv.Keys {
		if k == key {
			return true
		}
	}
	for _, p := range inv.Prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Cache is a read-through cache keyed by query plus a subscriber list that is
// told about every invalidation. A zero or negative TTL keeps entries until
// they are invalidated.
type Cache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
	gen     uint64
	subs    map[int]func(Invalidation)
	nextSub int
	group   singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	invalidations atomic.Uint64
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
		subs:    make(map[int]func(Invalidation)),
	}
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, value)
}

func (c *Cache) setLocked(key string, value any) {
	e := cacheEntry{value: value}
	if c.ttl > 0 {
		e.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[key] = e
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

type CacheStats struct {
	Entries       int    `json:"entries"`
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
}

func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Entries:       c.Len(),
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Invalidations: c.invalidations.Load(),
	}
}

// Invalidate drops every entry matched by inv and then notifies subscribers
// synchronously, in subscription order.
func (c *Cache) Invalidate(inv Invalidation) {
	c.mu.Lock()
	for key := range c.entries {
		if inv.matches(key) {
			delete(c.entries, key)
		}
	}
	c.gen++
	c.invalidations.Add(1)
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	subs := make([]func(Invalidation), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(inv)
	}
}

// Subscribe registers fn for future invalidations. The returned func removes it.
func (c *Cache) Subscribe(fn func(Invalidation)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Cache) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// storeIfCurrent keeps a loaded value only when no invalidation ran while it
// was being loaded.
func (c *Cache) storeIfCurrent(key string, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.setLocked(key, value)
	}
}

// readThrough returns the cached value for key or loads it. Concurrent loads
// of the same key in the same generation share one call.
func readThrough[T any](c *Cache, key string, load func() (T, error)) (T, error) {
	if v, ok := c.Get(key); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			return typed, nil
		}
	}
	c.misses.Add(1)
	gen := c.generation()
	v, err, _ := c.group.Do(fmt.Sprintf("%s#%d", key, gen), func() (any, error) {
		loaded, err := load()
		if err != nil {
			return nil, err
		}
		c.storeIfCurrent(key, loaded, gen)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
