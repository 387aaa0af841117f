// Package counts runs the dedicated reply/reaction/zap subscription layer
// that enriches the notes currently visible across the feed, an open
// thread, or an open topic — without adding filters to the main feed
// subscription.
package counts

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/broadcast"
	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/debounce"
	"github.com/wrenfeed/relaycore/internal/nostrutil"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

// NoteCounts is the per-note aggregate the rest of the system reads.
type NoteCounts struct {
	ReplyCount        int
	Reactions         map[string][]string // emoji -> reactor pubkeys
	CustomEmojiURLs   map[string]string    // shortcode -> url
	ZapCount          int
	ZapTotalSats      int64
	ZapAmountByAuthor map[string]int64
	ZapAuthors        []string // ordered, deduped
}

func newNoteCounts() *NoteCounts {
	return &NoteCounts{
		Reactions:         make(map[string][]string),
		CustomEmojiURLs:   make(map[string]string),
		ZapAmountByAuthor: make(map[string]int64),
	}
}

func (n *NoteCounts) clone() *NoteCounts {
	out := newNoteCounts()
	out.ReplyCount = n.ReplyCount
	out.ZapCount = n.ZapCount
	out.ZapTotalSats = n.ZapTotalSats
	for k, v := range n.Reactions {
		out.Reactions[k] = append([]string(nil), v...)
	}
	for k, v := range n.CustomEmojiURLs {
		out.CustomEmojiURLs[k] = v
	}
	for k, v := range n.ZapAmountByAuthor {
		out.ZapAmountByAuthor[k] = v
	}
	out.ZapAuthors = append([]string(nil), n.ZapAuthors...)
	return out
}

type relaySub struct {
	noteIDs map[string]struct{}
	cancel1 *subrouter.Handle
	cancel2 *subrouter.Handle
}

type pendingEvent struct {
	event *nostr.Event
}

// Aggregator is the Counts Aggregator (C5).
type Aggregator struct {
	cfg    config.Counts
	router *subrouter.Router
	log    *ops.Logger

	processedMu sync.Mutex
	processed   *lru.Cache // bounded dedup set, capacity cfg.ProcessedIDCapacity

	mu      sync.Mutex
	sources map[string]map[string][]string // source name -> noteID -> hint relays
	counts  map[string]*NoteCounts

	subMu sync.Mutex
	subs  map[string]*relaySub // relay -> active subscription set

	queueMu sync.Mutex
	queue   []pendingEvent

	subscribeDebounce *debounce.Debouncer
	flushDebounce     *debounce.HardCap

	updates *broadcast.Stream[map[string]*NoteCounts]
}

// New constructs an Aggregator. cfg.ProcessedIDCapacity bounds the global
// dedup set (spec requires LRU eviction on overflow, mirroring subrouter's
// own seen-set).
func New(cfg config.Counts, router *subrouter.Router, log *ops.Logger) (*Aggregator, error) {
	processed, err := lru.New(cfg.ProcessedIDCapacity)
	if err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:       cfg,
		router:    router,
		log:       log.With("counts"),
		processed: processed,
		sources:   make(map[string]map[string][]string),
		counts:    make(map[string]*NoteCounts),
		subs:      make(map[string]*relaySub),
		updates:   broadcast.New[map[string]*NoteCounts](4),
	}
	a.subscribeDebounce = debounce.New(time.Duration(cfg.SubscribeDebounceMs)*time.Millisecond, a.resubscribe)
	a.flushDebounce = debounce.NewHardCap(
		time.Duration(cfg.FlushDebounceMs)*time.Millisecond,
		time.Duration(cfg.FlushHardCapMs)*time.Millisecond,
		a.flush,
	)
	return a, nil
}

// UpdateInterest installs the noteId->hintRelayUrls set for source (one of
// "feed", "thread", "topic"), replacing whatever that source previously
// contributed, and schedules a debounced resubscribe.
func (a *Aggregator) UpdateInterest(source string, hints map[string][]string) {
	a.mu.Lock()
	a.sources[source] = hints
	a.mu.Unlock()
	a.subscribeDebounce.Trigger()
}

// Updates subscribes to the counts-updated broadcast stream.
func (a *Aggregator) Updates() (<-chan map[string]*NoteCounts, func()) {
	return a.updates.Subscribe()
}

// Get returns a copy of the current counts for a note, or nil if unknown.
func (a *Aggregator) Get(noteID string) *NoteCounts {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.counts[noteID]
	if !ok {
		return nil
	}
	return c.clone()
}

func (a *Aggregator) unionInterestLocked() map[string]map[string]struct{} {
	union := make(map[string]map[string]struct{})
	for _, byNote := range a.sources {
		for noteID, relays := range byNote {
			set, ok := union[noteID]
			if !ok {
				set = make(map[string]struct{})
				union[noteID] = set
			}
			for _, r := range relays {
				set[nostrutil.NormalizeRelayURL(r)] = struct{}{}
			}
		}
	}
	return union
}

// resubscribe recomputes the relay->noteIDs assignment and opens/closes
// per-relay subscriptions as needed.
func (a *Aggregator) resubscribe() {
	a.mu.Lock()
	union := a.unionInterestLocked()
	a.mu.Unlock()

	desired := make(map[string][]string)
	for noteID, relays := range union {
		for relay := range relays {
			if len(desired[relay]) >= a.cfg.MaxNotesPerRelay {
				continue
			}
			desired[relay] = append(desired[relay], noteID)
		}
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	for relay, noteIDs := range desired {
		sort.Strings(noteIDs)
		prev := a.subs[relay]
		if prev != nil {
			delta := deltaCount(prev.noteIDs, noteIDs)
			if delta < a.cfg.ResubscribeDeltaMin {
				continue
			}
			prev.cancel1.Cancel()
			if prev.cancel2 != nil {
				prev.cancel2.Cancel()
			}
		}
		a.subs[relay] = a.openRelaySub(relay, noteIDs)
	}

	for relay, sub := range a.subs {
		if _, ok := desired[relay]; !ok {
			sub.cancel1.Cancel()
			if sub.cancel2 != nil {
				sub.cancel2.Cancel()
			}
			delete(a.subs, relay)
		}
	}
}

func deltaCount(prev map[string]struct{}, next []string) int {
	n := 0
	for _, id := range next {
		if _, ok := prev[id]; !ok {
			n++
		}
	}
	return n
}

func (a *Aggregator) openRelaySub(relay string, noteIDs []string) *relaySub {
	idSet := make(map[string]struct{}, len(noteIDs))
	for _, id := range noteIDs {
		idSet[id] = struct{}{}
	}

	onEvent := func(relay string, ev *nostr.Event) {
		a.processedMu.Lock()
		_, dup := a.processed.Get(ev.ID)
		if !dup {
			a.processed.Add(ev.ID, struct{}{})
		}
		a.processedMu.Unlock()
		if dup {
			return
		}
		a.queueMu.Lock()
		a.queue = append(a.queue, pendingEvent{event: ev})
		a.queueMu.Unlock()
		a.flushDebounce.Trigger()
	}

	h1 := a.router.RequestTemporarySubscription(context.Background(), []string{relay}, nostr.Filters{{
		Kinds: []int{1},
		Tags:  nostr.TagMap{"e": noteIDs},
		Limit: 2000,
	}}, onEvent)

	sub := &relaySub{noteIDs: idSet, cancel1: h1}

	delay := time.Duration(a.cfg.ReactionPhaseDelayMs) * time.Millisecond
	time.AfterFunc(delay, func() {
		h2 := a.router.RequestTemporarySubscription(context.Background(), []string{relay}, nostr.Filters{
			{Kinds: []int{7}, Tags: nostr.TagMap{"e": noteIDs}, Limit: 2000},
			{Kinds: []int{9735}, Tags: nostr.TagMap{"e": noteIDs}, Limit: 200},
		}, onEvent)
		a.subMu.Lock()
		if existing, ok := a.subs[relay]; ok && existing == sub {
			existing.cancel2 = h2
		} else {
			h2.Cancel()
		}
		a.subMu.Unlock()
	})

	return sub
}

// flush drains the queue and applies every pending event to the counts map,
// emitting one snapshot.
func (a *Aggregator) flush() {
	a.queueMu.Lock()
	batch := a.queue
	a.queue = nil
	a.queueMu.Unlock()

	if len(batch) == 0 {
		return
	}

	a.mu.Lock()
	for _, pe := range batch {
		a.applyEventLocked(pe.event)
	}
	snapshot := make(map[string]*NoteCounts, len(a.counts))
	for k, v := range a.counts {
		snapshot[k] = v.clone()
	}
	a.mu.Unlock()

	a.updates.Publish(snapshot)
}

func (a *Aggregator) applyEventLocked(ev *nostr.Event) {
	switch ev.Kind {
	case 1:
		a.applyReplyLocked(ev)
	case 7:
		a.applyReactionLocked(ev)
	case 9735:
		a.applyZapLocked(ev)
	}
}

func (a *Aggregator) countsForLocked(noteID string) *NoteCounts {
	c, ok := a.counts[noteID]
	if !ok {
		c = newNoteCounts()
		a.counts[noteID] = c
	}
	return c
}

// Shutdown flushes debounced work so nothing is stranded in the queue.
func (a *Aggregator) Shutdown() {
	a.subscribeDebounce.Stop()
	a.flushDebounce.Stop()
	a.flush()

	a.subMu.Lock()
	for _, sub := range a.subs {
		sub.cancel1.Cancel()
		if sub.cancel2 != nil {
			sub.cancel2.Cancel()
		}
	}
	a.subs = make(map[string]*relaySub)
	a.subMu.Unlock()
}
