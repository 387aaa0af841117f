// Package discovery fetches and aggregates relay-discovery events (NIP-66)
// and user relay-lists (NIP-65) to route subscriptions intelligently,
// preferring a REST catalog endpoint when one is configured.
package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

const catalogStoreKey = "discovery:catalog"

// HTTPDoer is the outbound-HTTP boundary for the REST discovery endpoint
// and NIP-11 relay-information fetches, satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Catalog is the Discovery Catalog (C8).
type Catalog struct {
	cfg    config.Discovery
	router *subrouter.Router
	store  kvstore.Store
	http   HTTPDoer
	log    *ops.Logger

	mu        sync.Mutex
	lastNIPs  []int
	relays    map[string]*DiscoveredRelay
	fetchedAt time.Time
}

// New constructs a Catalog and restores any cached entries from store.
func New(cfg config.Discovery, router *subrouter.Router, store kvstore.Store, doer HTTPDoer, log *ops.Logger) *Catalog {
	c := &Catalog{
		cfg:    cfg,
		router: router,
		store:  store,
		http:   doer,
		log:    log.With("discovery"),
		relays: make(map[string]*DiscoveredRelay),
	}
	c.restore(context.Background())
	return c
}

// Search queries the catalog for relays matching nips: REST first, falling
// back to NIP-66 monitors when the REST endpoint is unreachable or
// unconfigured. Results are merged into the cache and persisted.
func (c *Catalog) Search(ctx context.Context, nips []int) ([]*DiscoveredRelay, error) {
	relays, err := c.fetchREST(ctx, nips)
	if err != nil {
		c.log.Warn("REST relay discovery failed, falling back to NIP-66", "err", err)
		relays = c.fetchNIP66(ctx)
	}

	c.mu.Lock()
	c.lastNIPs = nips
	c.fetchedAt = time.Now()
	for _, r := range relays {
		c.relays[r.URL] = r
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	c.persist(snapshot)
	return snapshot, nil
}

// RefreshIfStale re-runs Search with the last-used NIP filter if the cache
// is older than the configured TTL. This is the resume hook.
func (c *Catalog) RefreshIfStale(ctx context.Context) {
	c.mu.Lock()
	stale := time.Since(c.fetchedAt) > time.Duration(c.cfg.TTLHours)*time.Hour
	nips := append([]int(nil), c.lastNIPs...)
	c.mu.Unlock()
	if !stale {
		return
	}
	if _, err := c.Search(ctx, nips); err != nil {
		c.log.Warn("discovery refresh failed", "err", err)
	}
}

// Get returns a previously discovered relay by URL, if known.
func (c *Catalog) Get(url string) (*DiscoveredRelay, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.relays[url]
	return r, ok
}

// Relays returns every relay currently in the catalog.
func (c *Catalog) Relays() []*DiscoveredRelay {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Catalog) snapshotLocked() []*DiscoveredRelay {
	out := make([]*DiscoveredRelay, 0, len(c.relays))
	for _, r := range c.relays {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

func (c *Catalog) persist(relays []*DiscoveredRelay) {
	data, err := json.Marshal(relays)
	if err != nil {
		return
	}
	_ = c.store.PutTTL(context.Background(), catalogStoreKey, data, c.cfg.TTLHours*3600)
}

// restore loads any still-fresh cached catalog. A miss (including TTL
// expiry, which the store enforces on its own) just leaves the cache empty
// and fetchedAt zero, so the next RefreshIfStale call fetches.
func (c *Catalog) restore(ctx context.Context) {
	data, err := c.store.Get(ctx, catalogStoreKey)
	if err != nil {
		return
	}
	var relays []*DiscoveredRelay
	if err := json.Unmarshal(data, &relays); err != nil {
		return
	}
	c.mu.Lock()
	for _, r := range relays {
		c.relays[r.URL] = r
	}
	c.fetchedAt = time.Now()
	c.mu.Unlock()
}
