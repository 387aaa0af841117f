package profile

import (
	"context"
	"encoding/json"
)

const (
	storeKeyAuthors             = "profile:authors"
	storeKeyLastEventCreatedAt  = "profile:last-event-created-at"
	storeKeyLastFetchedAtWallMs = "profile:last-fetched-at-ms"
)

type persistedDoc struct {
	Authors             map[string]Author `json:"authors"`
	LastEventCreatedAt  map[string]int64  `json:"lastEventCreatedAt"`
	LastFetchedAtWallMs map[string]int64  `json:"lastFetchedAtWallMs"`
}

// persist serializes the top PersistTopN entries (pinned first) across the
// three parallel maps spec.md's local-storage contract names.
func (c *Cache) persist() {
	c.mu.Lock()
	keys := c.lru.Keys()

	pinnedFirst := make([]string, 0, len(keys))
	rest := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := c.pinned[k]; ok {
			pinnedFirst = append(pinnedFirst, k)
		} else {
			rest = append(rest, k)
		}
	}
	ordered := append(pinnedFirst, rest...)

	top := c.cfg.PersistTopN
	if top <= 0 || top > len(ordered) {
		top = len(ordered)
	}
	ordered = ordered[:top]

	doc := persistedDoc{
		Authors:             make(map[string]Author, len(ordered)),
		LastEventCreatedAt:  make(map[string]int64, len(ordered)),
		LastFetchedAtWallMs: make(map[string]int64, len(ordered)),
	}
	for _, k := range ordered {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		e := v.(*entry)
		doc.Authors[k] = e.author
		doc.LastEventCreatedAt[k] = e.lastEventCreatedAt
		doc.LastFetchedAtWallMs[k] = e.lastFetchedAtWallMs
	}
	c.mu.Unlock()

	ctx := context.Background()
	if data, err := json.Marshal(doc.Authors); err == nil {
		_ = c.store.Put(ctx, storeKeyAuthors, data)
	}
	if data, err := json.Marshal(doc.LastEventCreatedAt); err == nil {
		_ = c.store.Put(ctx, storeKeyLastEventCreatedAt, data)
	}
	if data, err := json.Marshal(doc.LastFetchedAtWallMs); err == nil {
		_ = c.store.Put(ctx, storeKeyLastFetchedAtWallMs, data)
	}
}

// Restore loads the persisted cache once at startup. diskCacheRestored
// reports whether a prior snapshot was found.
func (c *Cache) Restore(ctx context.Context) (diskCacheRestored bool) {
	authorsData, err := c.store.Get(ctx, storeKeyAuthors)
	if err != nil {
		return false
	}
	var authors map[string]Author
	if err := json.Unmarshal(authorsData, &authors); err != nil {
		c.log.Warn("profile restore: malformed authors document", "err", err)
		return false
	}

	lastEvent := map[string]int64{}
	if data, err := c.store.Get(ctx, storeKeyLastEventCreatedAt); err == nil {
		_ = json.Unmarshal(data, &lastEvent)
	}
	lastFetched := map[string]int64{}
	if data, err := c.store.Get(ctx, storeKeyLastFetchedAtWallMs); err == nil {
		_ = json.Unmarshal(data, &lastFetched)
	}

	c.mu.Lock()
	for pk, author := range authors {
		c.putUnlocked(pk, &entry{
			author:              author,
			lastEventCreatedAt:  lastEvent[pk],
			lastFetchedAtWallMs: lastFetched[pk],
		})
	}
	c.mu.Unlock()

	return true
}
