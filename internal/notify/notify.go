// Package notify subscribes to events that reference the current user,
// classifies and consolidates them into per-target notifications, and
// tracks which the user has already seen.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/broadcast"
	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/nostrutil"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

const seenStoreKey = "notify:seen"

// Aggregator is the Notifications Aggregator (C7).
type Aggregator struct {
	cfg    config.Notify
	router *subrouter.Router
	store  kvstore.Store
	log    *ops.Logger

	currentUserPubkey func() string

	mu            sync.Mutex
	notifications map[string]*Notification
	seen          map[string]struct{}

	primary   *subrouter.Handle
	secondary *subrouter.Handle

	updates *broadcast.Stream[[]*Notification]
}

// New constructs an Aggregator.
func New(cfg config.Notify, router *subrouter.Router, store kvstore.Store, currentUserPubkey func() string, log *ops.Logger) *Aggregator {
	return &Aggregator{
		cfg:               cfg,
		router:            router,
		store:             store,
		log:               log.With("notify"),
		currentUserPubkey: currentUserPubkey,
		notifications:     make(map[string]*Notification),
		seen:              make(map[string]struct{}),
		updates:           broadcast.New[[]*Notification](4),
	}
}

// Start opens the primary p-tag subscription, fetches the user's topic
// ids, and opens the secondary topic-reply subscription once they're
// known.
func (a *Aggregator) Start(relays []string) {
	a.restoreSeen(context.Background())

	me := a.currentUserPubkey()
	since := nostr.Timestamp(time.Now().Add(-time.Duration(a.cfg.WindowDays) * 24 * time.Hour).Unix())

	a.primary = a.router.RequestTemporarySubscription(context.Background(), relays, nostr.Filters{{
		Kinds: []int{1, 6, 7, 9735, 1111},
		Tags:  nostr.TagMap{"p": []string{me}},
		Since: &since,
		Limit: a.cfg.Limit,
	}}, a.onEvent)

	go a.startSecondary(relays, me)
}

func (a *Aggregator) startSecondary(relays []string, me string) {
	topicIDs := a.fetchTopicIDs(relays, me)
	if len(topicIDs) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.secondary = a.router.RequestTemporarySubscription(context.Background(), relays, nostr.Filters{{
		Kinds: []int{1111},
		Tags:  nostr.TagMap{"E": topicIDs},
	}}, a.onEvent)
}

// fetchTopicIDs collects the ids of kind-11 topics authored by me, one-off,
// 3s timeout.
func (a *Aggregator) fetchTopicIDs(relays []string, me string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.TopicFetchTimeoutS)*time.Second)
	defer cancel()

	var mu sync.Mutex
	var ids []string
	handle := a.router.RequestTemporarySubscription(ctx, relays, nostr.Filters{{
		Kinds:   []int{11},
		Authors: []string{me},
	}}, func(relay string, ev *nostr.Event) {
		mu.Lock()
		ids = append(ids, ev.ID)
		mu.Unlock()
	})
	<-ctx.Done()
	handle.Cancel()

	mu.Lock()
	defer mu.Unlock()
	return ids
}

func (a *Aggregator) onEvent(relay string, ev *nostr.Event) {
	me := a.currentUserPubkey()
	c := classify(ev, me)
	if c.drop || c.targetID == "" {
		return
	}

	typ := c.typ
	if typ == Reply && ev.Kind == 1111 {
		if c.targetAuthor != me {
			return
		}
		typ = ThreadReply
	} else if (typ == Like || typ == Reply) && c.targetAuthor != me {
		return
	}

	a.mu.Lock()
	key := notificationKey(typ, c.targetID)
	n, ok := a.notifications[key]
	if !ok {
		n = &Notification{ID: key, Type: typ, TargetID: c.targetID}
		a.notifications[key] = n
	}
	n.Actors = appendDeduped(n.Actors, ev.PubKey)
	ts := int64(ev.CreatedAt) * 1000
	if ts > n.TimestampMs {
		n.TimestampMs = ts
	}

	switch typ {
	case Like:
		n.LastEmoji = reactionEmoji(ev)
	case Zap:
		sender, amount := parseZapAmount(ev)
		if sender != "" {
			n.ZapSenders = appendDeduped(n.ZapSenders, sender)
		}
		n.ZapTotalSats += amount
	}
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.updates.Publish(snapshot)
}

func reactionEmoji(ev *nostr.Event) string {
	content := ev.Content
	if content == "" || content == "+" {
		return "❤️"
	}
	if content == "-" {
		return ""
	}
	return content
}

func parseZapAmount(ev *nostr.Event) (sender string, sats int64) {
	var req struct {
		Pubkey string `json:"pubkey"`
	}
	desc := lastTag(ev.Tags, "description")
	if desc != "" {
		if err := json.Unmarshal([]byte(desc), &req); err == nil {
			sender = req.Pubkey
		}
	}
	if sender == "" {
		sender = ev.PubKey
	}
	sats, _ = nostrutil.ParseBolt11Amount(lastTag(ev.Tags, "bolt11"))
	return sender, sats
}

func (a *Aggregator) snapshotLocked() []*Notification {
	out := make([]*Notification, 0, len(a.notifications))
	for _, n := range a.notifications {
		cp := *n
		cp.Actors = append([]string(nil), n.Actors...)
		cp.ZapSenders = append([]string(nil), n.ZapSenders...)
		out = append(out, &cp)
	}
	return out
}

// Updates subscribes to the notifications-updated broadcast stream.
func (a *Aggregator) Updates() (<-chan []*Notification, func()) {
	return a.updates.Subscribe()
}

// UnseenCount reports how many consolidated notifications are not yet
// marked seen.
func (a *Aggregator) UnseenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for key := range a.notifications {
		if _, ok := a.seen[key]; !ok {
			n++
		}
	}
	return n
}

// MarkAsSeen marks a single notification (by its composite id) seen.
func (a *Aggregator) MarkAsSeen(id string) {
	a.mu.Lock()
	a.seen[id] = struct{}{}
	a.mu.Unlock()
	a.persistSeen()
}

// MarkAllAsSeen marks every currently-known notification seen.
func (a *Aggregator) MarkAllAsSeen() {
	a.mu.Lock()
	for key := range a.notifications {
		a.seen[key] = struct{}{}
	}
	a.mu.Unlock()
	a.persistSeen()
}

// MarkAsSeenByType marks every notification of the given type seen.
func (a *Aggregator) MarkAsSeenByType(t Type) {
	a.mu.Lock()
	for key, n := range a.notifications {
		if n.Type == t {
			a.seen[key] = struct{}{}
		}
	}
	a.mu.Unlock()
	a.persistSeen()
}

// TrimSeenToCurrent drops seen-set entries whose notification no longer
// exists, preventing unbounded growth over a long-running session.
func (a *Aggregator) TrimSeenToCurrent() {
	a.mu.Lock()
	for key := range a.seen {
		if _, ok := a.notifications[key]; !ok {
			delete(a.seen, key)
		}
	}
	a.mu.Unlock()
	a.persistSeen()
}

func (a *Aggregator) persistSeen() {
	a.mu.Lock()
	ids := make([]string, 0, len(a.seen))
	for id := range a.seen {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = a.store.Put(context.Background(), seenStoreKey, data)
}

func (a *Aggregator) restoreSeen(ctx context.Context) {
	data, err := a.store.Get(ctx, seenStoreKey)
	if err != nil {
		return
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return
	}
	a.mu.Lock()
	for _, id := range ids {
		a.seen[id] = struct{}{}
	}
	a.mu.Unlock()
}

// Shutdown cancels the notify subscriptions.
func (a *Aggregator) Shutdown() {
	a.mu.Lock()
	primary, secondary := a.primary, a.secondary
	a.mu.Unlock()
	if primary != nil {
		primary.Cancel()
	}
	if secondary != nil {
		secondary.Cancel()
	}
}
