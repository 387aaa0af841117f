package publish

import (
	"context"
	"fmt"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
)

// Publisher is the Publisher (C9): it signs event templates and fans them
// out to chosen outbox relays, and holds the latest known kind-3 contact
// list for follow/unfollow.
type Publisher struct {
	cfg    config.Publish
	pool   *relaypool.Pool
	signer Signer
	log    *ops.Logger

	mu       sync.Mutex
	contacts *nostr.Event
}

// New constructs a Publisher.
func New(cfg config.Publish, pool *relaypool.Pool, signer Signer, log *ops.Logger) *Publisher {
	return &Publisher{cfg: cfg, pool: pool, signer: signer, log: log.With("publish")}
}

// SetContactList installs ev as the latest known kind-3, e.g. after loading
// the current user's own contact list from a relay at startup.
func (p *Publisher) SetContactList(ev *nostr.Event) {
	p.mu.Lock()
	p.contacts = ev
	p.mu.Unlock()
}

// Publish signs ev and sends it to every relay in relays, falling back to
// the configured default outbox relays when relays is empty. It continues
// past individual relay failures, returning an error only if every send
// failed.
func (p *Publisher) Publish(ctx context.Context, ev nostr.Event, relays []string) (nostr.Event, error) {
	signed, err := p.signer.Sign(ctx, ev)
	if err != nil {
		return nostr.Event{}, fmt.Errorf("publish: sign: %w", err)
	}

	targets := relays
	if len(targets) == 0 {
		targets = p.cfg.DefaultOutboxRelays
	}
	if len(targets) == 0 {
		return nostr.Event{}, fmt.Errorf("publish: no outbox relays")
	}

	var lastErr error
	sent := 0
	for _, url := range targets {
		if err := p.pool.Send(ctx, url, signed); err != nil {
			p.log.Warn("publish failed", "relay", url, "event", signed.ID, "err", err)
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return nostr.Event{}, fmt.Errorf("publish: all relays failed: %w", lastErr)
	}
	return signed, nil
}

// Follow adds pubkey to the latest contact list (no-op if already present)
// and re-publishes it.
func (p *Publisher) Follow(ctx context.Context, pubkey string, relays []string) (nostr.Event, error) {
	return p.editContacts(ctx, relays, func(follows []string) []string {
		return addFollow(follows, pubkey)
	})
}

// Unfollow removes pubkey from the latest contact list and re-publishes it.
func (p *Publisher) Unfollow(ctx context.Context, pubkey string, relays []string) (nostr.Event, error) {
	return p.editContacts(ctx, relays, func(follows []string) []string {
		return removeFollow(follows, pubkey)
	})
}

func (p *Publisher) editContacts(ctx context.Context, relays []string, edit func([]string) []string) (nostr.Event, error) {
	p.mu.Lock()
	current := currentFollows(p.contacts)
	p.mu.Unlock()

	ev := BuildContactList(edit(current))
	signed, err := p.Publish(ctx, ev, relays)
	if err != nil {
		return nostr.Event{}, err
	}
	p.SetContactList(&signed)
	return signed, nil
}

func currentFollows(contacts *nostr.Event) []string {
	if contacts == nil {
		return nil
	}
	var follows []string
	for _, tag := range contacts.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			follows = append(follows, tag[1])
		}
	}
	return follows
}

func addFollow(follows []string, pubkey string) []string {
	for _, f := range follows {
		if f == pubkey {
			return follows
		}
	}
	return append(follows, pubkey)
}

func removeFollow(follows []string, pubkey string) []string {
	out := make([]string, 0, len(follows))
	for _, f := range follows {
		if f != pubkey {
			out = append(out, f)
		}
	}
	return out
}
