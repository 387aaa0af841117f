// Package core wires the nine components — relay pool, subscription
// router, feed aggregator, profile cache, counts aggregator, thread
// builder, notifications aggregator, discovery catalog, and publisher —
// into a single running instance.
package core

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/counts"
	"github.com/wrenfeed/relaycore/internal/discovery"
	"github.com/wrenfeed/relaycore/internal/feed"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/notify"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/profile"
	"github.com/wrenfeed/relaycore/internal/publish"
	"github.com/wrenfeed/relaycore/internal/relaypool"
	"github.com/wrenfeed/relaycore/internal/subrouter"
	"github.com/wrenfeed/relaycore/internal/thread"
)

// Core is a running relaycore instance: the assembled components plus the
// shared pool, router, and store beneath them.
type Core struct {
	cfg   *config.Config
	log   *ops.Logger
	store kvstore.Store
	pool  *relaypool.Pool

	Router    *subrouter.Router
	Feed      *feed.Feed
	Profile   *profile.Cache
	Counts    *counts.Aggregator
	Thread    *thread.Builder
	Notify    *notify.Aggregator
	Discovery *discovery.Catalog
	Publish   *publish.Publisher
}

// New constructs every component against cfg. signer and httpDoer are the
// two remaining external collaborators (the key-store/kvstore boundary is
// satisfied internally, by store).
func New(cfg *config.Config, signer publish.Signer, httpDoer discovery.HTTPDoer, log *ops.Logger) (*Core, error) {
	store, err := openStore(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("core: open storage: %w", err)
	}

	pool := relaypool.New(cfg.Relays.Policy, log)
	router, err := subrouter.New(pool, cfg.Router.SeenIDCapacity, log)
	if err != nil {
		return nil, fmt.Errorf("core: new subrouter: %w", err)
	}

	currentUserPubkey := func() string { return cfg.Identity.Pubkey }
	profileRelays := func() []string { return cfg.Relays.ProfileRelays }

	profileCache, err := profile.New(cfg.Profile, store, router, profileRelays, log)
	if err != nil {
		return nil, fmt.Errorf("core: new profile cache: %w", err)
	}

	countsAggregator, err := counts.New(cfg.Counts, router, log)
	if err != nil {
		return nil, fmt.Errorf("core: new counts aggregator: %w", err)
	}

	c := &Core{
		cfg:       cfg,
		log:       log,
		store:     store,
		pool:      pool,
		Router:    router,
		Feed:      feed.New(cfg.Feed, router, store, cfg.Relays.ProfileRelays, currentUserPubkey, log),
		Profile:   profileCache,
		Counts:    countsAggregator,
		Thread:    thread.New(cfg.Thread, router, log),
		Notify:    notify.New(cfg.Notify, router, store, currentUserPubkey, log),
		Discovery: discovery.New(cfg.Discovery, router, store, httpDoer, log),
		Publish:   publish.New(cfg.Publish, pool, signer, log),
	}
	return c, nil
}

func openStore(cfg config.Storage, log *ops.Logger) (kvstore.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return kvstore.NewMemory(), nil
	case "badger":
		return kvstore.OpenBadger(cfg.BadgerDir, log)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Start restores persisted state, registers the well-known kind handlers,
// opens the main feed subscription, and starts the notifications and
// discovery components.
func (c *Core) Start(ctx context.Context) {
	c.Profile.Restore(ctx)
	c.Feed.Start(ctx, c.cfg.Relays.Seeds, nostr.Filter{Kinds: []int{1}})
	c.Notify.Start(c.cfg.Relays.Seeds)
	c.Discovery.RefreshIfStale(ctx)
}

// Shutdown tears down every component, then the shared pool and store.
func (c *Core) Shutdown() {
	c.Feed.Shutdown()
	c.Profile.Shutdown()
	c.Counts.Shutdown()
	c.Thread.Shutdown()
	c.Notify.Shutdown()
	c.pool.Shutdown()
	if err := c.store.Close(); err != nil {
		c.log.Warn("core: store close failed", "err", err)
	}
}
