// Package profile implements the bounded, LRU, TTL-governed, persistent
// author cache: pubkey resolution, pin-to-protect retention, debounced
// batch-fetch coalescing, and monotonic kind-0 acceptance.
package profile

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/broadcast"
	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/coreerr"
	"github.com/wrenfeed/relaycore/internal/debounce"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

type entry struct {
	author              Author
	lastEventCreatedAt   int64
	lastFetchedAtWallMs  int64
}

// Cache is the Profile Metadata Cache (C4).
type Cache struct {
	cfg    config.Profile
	store  kvstore.Store
	router *subrouter.Router
	log    *ops.Logger

	defaultRelays func() []string

	mu     sync.Mutex
	lru    *lru.Cache
	pinned map[string]struct{}

	pendingMu sync.Mutex
	pending   map[string]struct{}
	relayHints map[string]struct{}

	fetchMu   sync.Mutex
	fetching  bool
	fetchDebounce *debounce.Debouncer

	persistDebounce *debounce.Debouncer

	updatedStream *broadcast.Stream[string]
}

// New constructs a Cache. defaultRelays supplies the relay set used when a
// RequestProfiles call doesn't carry its own hints.
func New(cfg config.Profile, store kvstore.Store, router *subrouter.Router, defaultRelays func() []string, log *ops.Logger) (*Cache, error) {
	backing, err := lru.New(cfg.HardCap)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		cfg:           cfg,
		store:         store,
		router:        router,
		log:           log.With("profile"),
		defaultRelays: defaultRelays,
		lru:           backing,
		pinned:        make(map[string]struct{}),
		pending:       make(map[string]struct{}),
		relayHints:    make(map[string]struct{}),
		updatedStream: broadcast.New[string](cfg.UpdateStreamBuffer),
	}
	c.fetchDebounce = debounce.New(time.Duration(cfg.RequestDebounceMs)*time.Millisecond, c.runFetch)
	c.persistDebounce = debounce.New(time.Duration(cfg.PersistDebounceMs)*time.Millisecond, c.persist)
	return c, nil
}

// SetPinned installs the set of pubkeys protected from eviction below the
// hard cap.
func (c *Cache) SetPinned(pubkeys []string) {
	set := make(map[string]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		set[strings.ToLower(pk)] = struct{}{}
	}
	c.mu.Lock()
	c.pinned = set
	c.mu.Unlock()
}

// ResolveAuthor returns the cached author or a synchronous placeholder. It
// never blocks and never fails.
func (c *Cache) ResolveAuthor(pubkey string) Author {
	key := strings.ToLower(pubkey)
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	if !ok {
		return placeholderAuthor(pubkey)
	}
	return v.(*entry).author
}

// NeedsFetch reports whether pubkey is absent or stale (beyond the
// configured TTL), the signal callers use to decide whether to invoke
// RequestProfiles.
func (c *Cache) NeedsFetch(pubkey string) bool {
	key := strings.ToLower(pubkey)
	c.mu.Lock()
	v, ok := c.lru.Get(key)
	c.mu.Unlock()
	if !ok {
		return true
	}
	e := v.(*entry)
	ttl := time.Duration(c.cfg.TTLDays) * 24 * time.Hour
	return time.Since(time.UnixMilli(e.lastFetchedAtWallMs)) > ttl
}

// RequestProfiles normalizes pubkeys, filters to absent-or-stale, and adds
// them to the shared pending set. A debounce timer schedules the fetcher;
// each call that adds a pubkey resets the timer but never cancels an
// in-flight fetch.
func (c *Cache) RequestProfiles(pubkeys []string, relayUrls []string) {
	c.pendingMu.Lock()
	added := false
	for _, pk := range pubkeys {
		key := strings.ToLower(pk)
		if !c.NeedsFetch(key) {
			continue
		}
		if _, ok := c.pending[key]; !ok {
			c.pending[key] = struct{}{}
			added = true
		}
	}
	for _, r := range relayUrls {
		c.relayHints[r] = struct{}{}
	}
	c.pendingMu.Unlock()

	if added {
		c.fetchDebounce.Trigger()
	}
}

// AcceptKind0 updates the cache entry for a kind-0 event's pubkey only if
// its created_at is at least as new as the stored value.
func (c *Cache) AcceptKind0(ev *nostr.Event) error {
	pk := strings.ToLower(ev.PubKey)

	var content kind0Content
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return coreerr.Wrap(coreerr.Decode, "parse kind-0 content for "+pk, err)
	}

	c.mu.Lock()
	if v, ok := c.lru.Get(pk); ok {
		if int64(ev.CreatedAt) < v.(*entry).lastEventCreatedAt {
			c.mu.Unlock()
			return nil
		}
	}

	e := &entry{
		author:             authorFromContent(pk, content),
		lastEventCreatedAt: int64(ev.CreatedAt),
		lastFetchedAtWallMs: time.Now().UnixMilli(),
	}
	c.putUnlocked(pk, e)
	c.mu.Unlock()

	c.updatedStream.Publish(pk)
	c.persistDebounce.Trigger()
	return nil
}

// putUnlocked enforces pin-aware capacity before inserting a new key. Must
// be called with c.mu held.
func (c *Cache) putUnlocked(key string, e *entry) {
	if _, exists := c.lru.Peek(key); !exists {
		c.enforceCapacityUnlocked()
	}
	c.lru.Add(key, e)
}

func (c *Cache) enforceCapacityUnlocked() {
	n := c.lru.Len()
	if n >= c.cfg.HardCap {
		c.evictOldestUnlocked(true)
		return
	}
	if n >= c.cfg.SoftCap {
		c.evictOldestUnlocked(false)
	}
}

// evictOldestUnlocked removes the least-recently-used key. When
// includePinned is false, pinned keys are skipped (left to grow toward the
// hard cap); when true, the oldest key is removed regardless of pin state.
func (c *Cache) evictOldestUnlocked(includePinned bool) {
	for _, k := range c.lru.Keys() {
		if !includePinned {
			if _, pinned := c.pinned[k]; pinned {
				continue
			}
		}
		c.lru.Remove(k)
		return
	}
}

// UpdatedStream subscribes to the profile-updated broadcast: every accepted
// kind-0 publishes its lowercased pubkey.
func (c *Cache) UpdatedStream() (<-chan string, func()) {
	return c.updatedStream.Subscribe()
}

// Len reports the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache) relaySetUnlocked() []string {
	out := make([]string, 0, len(c.relayHints))
	for r := range c.relayHints {
		out = append(out, r)
	}
	if len(out) == 0 && c.defaultRelays != nil {
		out = c.defaultRelays()
	}
	return out
}

// Shutdown flushes debounced work so persistence isn't lost.
func (c *Cache) Shutdown() {
	c.fetchDebounce.Stop()
	c.persistDebounce.Flush()
}
