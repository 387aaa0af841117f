package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// FetchUserRelayList resolves pubkey's NIP-65 relay list against the given
// indexer relays: a one-off fetch, timing out after the configured
// duration, that keeps only the single latest event by created_at.
func (c *Catalog) FetchUserRelayList(ctx context.Context, pubkey string, indexerRelays []string) ([]RelayListEntry, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.RelayListTimeoutS)*time.Second)
	defer cancel()

	var mu sync.Mutex
	var latest *nostr.Event

	handle := c.router.RequestTemporarySubscription(fetchCtx, indexerRelays, nostr.Filters{{
		Kinds:   []int{10002},
		Authors: []string{pubkey},
		Limit:   1,
	}}, func(relay string, ev *nostr.Event) {
		mu.Lock()
		if latest == nil || ev.CreatedAt > latest.CreatedAt {
			latest = ev
		}
		mu.Unlock()
	})
	<-fetchCtx.Done()
	handle.Cancel()

	mu.Lock()
	defer mu.Unlock()
	if latest == nil {
		return nil, nil
	}
	return parseRelayList(latest), nil
}

// parseRelayList extracts "r" tags from a NIP-65 kind-10002 event. A tag
// with no read/write marker grants both.
func parseRelayList(ev *nostr.Event) []RelayListEntry {
	entries := make([]RelayListEntry, 0, len(ev.Tags))
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		entry := RelayListEntry{URL: tag[1], CanRead: true, CanWrite: true}
		if len(tag) >= 3 {
			switch tag[2] {
			case "read":
				entry.CanWrite = false
			case "write":
				entry.CanRead = false
			}
		}
		entries = append(entries, entry)
	}
	return entries
}
