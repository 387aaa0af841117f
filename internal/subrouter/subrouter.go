// Package subrouter translates high-level subscription requests into
// per-relay REQ/CLOSE traffic and fans inbound events out to registered
// kind handlers. It is the only component that allocates subscription
// identities.
package subrouter

import (
	"context"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
)

// OnEvent is called once per event delivered on a subscription, with the
// relay URL it arrived from.
type OnEvent func(relay string, event *nostr.Event)

// KindHandler is invoked, at most once per unique event id globally, for
// the kind it was registered against. Handlers run on the per-connection
// read goroutine and MUST NOT block.
type KindHandler func(event *nostr.Event, relay string)

// Handle is a caller's capability to cancel a temporary subscription.
type Handle struct {
	ID     string
	cancel func()
	once   sync.Once
}

// Cancel sends CLOSE (best-effort) and detaches the handler. Safe to call
// more than once.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
}

// Router owns subscription identity allocation, the standing feed
// subscription, temporary subscriptions, and the well-known kind-handler
// registry.
type Router struct {
	pool *relaypool.Pool
	log  *ops.Logger

	counter int64

	mu          sync.Mutex
	handlers    map[int]KindHandler
	seen        *lru.Cache
	feed        *feedState
}

type feedState struct {
	id     string
	relays []string
	filter nostr.Filter
	cancel func()
}

// New constructs a Router. seenCapacity bounds the global dedup set (spec
// requires ≥ 8192).
func New(pool *relaypool.Pool, seenCapacity int, log *ops.Logger) (*Router, error) {
	seen, err := lru.New(seenCapacity)
	if err != nil {
		return nil, err
	}
	return &Router{
		pool:     pool,
		log:      log.With("subrouter"),
		handlers: make(map[int]KindHandler),
		seen:     seen,
	}, nil
}

// RegisterHandlerForKind installs fn as the sole handler for kind. At most
// one handler exists per kind; a later call replaces an earlier one.
func (r *Router) RegisterHandlerForKind(kind int, fn KindHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

func (r *Router) nextID() string {
	n := atomic.AddInt64(&r.counter, 1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + strconv.FormatInt(n, 36)
}

// dispatch delivers event to onEvent, then — once per unique event id
// globally — to the kind handler registered for event.Kind, if any.
func (r *Router) dispatch(event *nostr.Event, relay string, onEvent OnEvent) {
	if onEvent != nil {
		onEvent(relay, event)
	}

	r.mu.Lock()
	if _, dup := r.seen.Get(event.ID); dup {
		r.mu.Unlock()
		return
	}
	r.seen.Add(event.ID, struct{}{})
	handler, ok := r.handlers[event.Kind]
	r.mu.Unlock()

	if ok {
		handler(event, relay)
	}
}

func (r *Router) runRelaySub(ctx context.Context, url string, filters nostr.Filters, onEvent OnEvent) {
	relay, err := r.pool.EnsureOpen(ctx, url)
	if err != nil {
		r.log.Warn("subscription skipped, relay unreachable", "url", url, "err", err)
		return
	}

	sub, err := relay.Subscribe(ctx, filters)
	if err != nil {
		r.log.Warn("subscribe failed", "url", url, "err", err)
		return
	}
	defer sub.Unsub()

	for {
		select {
		case event, ok := <-sub.Events:
			if !ok {
				return
			}
			r.dispatch(event, url, onEvent)
		case <-ctx.Done():
			return
		}
	}
}

// RequestTemporarySubscription opens filters against relays and delivers
// events to onEvent until the caller cancels the returned handle.
func (r *Router) RequestTemporarySubscription(ctx context.Context, relays []string, filters nostr.Filters, onEvent OnEvent) *Handle {
	id := r.nextID()
	subCtx, cancel := context.WithCancel(ctx)

	for _, url := range relays {
		r.pool.AddSubRef(url)
		go r.runRelaySub(subCtx, url, filters, onEvent)
	}

	relaysCopy := append([]string(nil), relays...)
	return &Handle{
		ID: id,
		cancel: func() {
			cancel()
			for _, url := range relaysCopy {
				r.pool.RemoveSubRef(url)
			}
		},
	}
}

// RequestFeedChange installs relays/filter as the standing feed
// subscription. If it is identical to the currently-installed one, this is
// a no-op; otherwise the prior subscription is closed and the new one
// opened over the new relay set.
func (r *Router) RequestFeedChange(ctx context.Context, relays []string, filter nostr.Filter, onEvent OnEvent) string {
	r.mu.Lock()
	if r.feed != nil && sameRelaySet(r.feed.relays, relays) && reflect.DeepEqual(r.feed.filter, filter) {
		id := r.feed.id
		r.mu.Unlock()
		return id
	}
	prior := r.feed
	r.mu.Unlock()

	if prior != nil {
		prior.cancel()
	}

	id := r.nextID()
	subCtx, cancel := context.WithCancel(ctx)
	for _, url := range relays {
		r.pool.AddSubRef(url)
		go r.runRelaySub(subCtx, url, nostr.Filters{filter}, onEvent)
	}

	relaysCopy := append([]string(nil), relays...)
	fs := &feedState{
		id:     id,
		relays: relaysCopy,
		filter: filter,
		cancel: func() {
			cancel()
			for _, url := range relaysCopy {
				r.pool.RemoveSubRef(url)
			}
		},
	}

	r.mu.Lock()
	r.feed = fs
	r.mu.Unlock()

	return id
}

// CancelFeed tears down the standing feed subscription, if any.
func (r *Router) CancelFeed() {
	r.mu.Lock()
	fs := r.feed
	r.feed = nil
	r.mu.Unlock()
	if fs != nil {
		fs.cancel()
	}
}

// CurrentFeed returns the currently-installed feed (relays, filter), if any.
func (r *Router) CurrentFeed() ([]string, nostr.Filter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feed == nil {
		return nil, nostr.Filter{}, false
	}
	return append([]string(nil), r.feed.relays...), r.feed.filter, true
}

func sameRelaySet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
