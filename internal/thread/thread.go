// Package thread builds, for a given root event, the flat list of replies
// belonging to that thread, resolving missing parents with one-off fetches
// so a reply whose direct parent hasn't arrived yet still lands in the
// right place once it does.
package thread

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/broadcast"
	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

type rootState struct {
	relays         []string
	replies        map[string]*nostr.Event
	pendingParents map[string]struct{}
	cancel         *subrouter.Handle
	stream         *broadcast.Stream[[]Reply]
}

// Builder is the Thread Builder (C6). It owns the shared reply cache across
// every root currently open.
type Builder struct {
	cfg    config.Thread
	router *subrouter.Router
	log    *ops.Logger

	mu    sync.Mutex
	roots map[string]*rootState
}

// New constructs a Builder.
func New(cfg config.Thread, router *subrouter.Router, log *ops.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		router: router,
		log:    log.With("thread"),
		roots:  make(map[string]*rootState),
	}
}

// OpenThread subscribes to replies for rootID against relays and returns a
// broadcast subscription of the reply list (sorted ascending by timestamp).
// Re-opening an already-open root reuses its state and relay set.
func (b *Builder) OpenThread(rootID string, relays []string) (<-chan []Reply, func()) {
	b.mu.Lock()
	rs, exists := b.roots[rootID]
	if !exists {
		rs = &rootState{
			relays:         relays,
			replies:        make(map[string]*nostr.Event),
			pendingParents: make(map[string]struct{}),
			stream:         broadcast.New[[]Reply](4),
		}
		b.roots[rootID] = rs
		b.mu.Unlock()
		b.startSubscription(rootID, rs)
	} else {
		b.mu.Unlock()
	}
	return rs.stream.Subscribe()
}

// CloseThread cancels rootID's subscription and discards its cached
// replies.
func (b *Builder) CloseThread(rootID string) {
	b.mu.Lock()
	rs, ok := b.roots[rootID]
	delete(b.roots, rootID)
	b.mu.Unlock()
	if ok && rs.cancel != nil {
		rs.cancel.Cancel()
	}
}

func (b *Builder) startSubscription(rootID string, rs *rootState) {
	onEvent := func(relay string, ev *nostr.Event) {
		b.insertReply(rootID, ev)
	}
	handle := b.router.RequestTemporarySubscription(context.Background(), rs.relays, nostr.Filters{{
		Kinds: []int{1},
		Tags:  nostr.TagMap{"e": []string{rootID}},
		Limit: b.cfg.ReplyLimit,
	}}, onEvent)

	b.mu.Lock()
	if current, ok := b.roots[rootID]; ok && current == rs {
		rs.cancel = handle
	} else {
		handle.Cancel()
	}
	b.mu.Unlock()
}

func (b *Builder) insertReply(rootID string, ev *nostr.Event) {
	b.mu.Lock()
	rs, ok := b.roots[rootID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if _, dup := rs.replies[ev.ID]; dup {
		b.mu.Unlock()
		return
	}
	rs.replies[ev.ID] = ev

	missing := b.missingParentsLocked(rootID, rs)
	snapshot := b.snapshotLocked(rs)
	b.mu.Unlock()

	rs.stream.Publish(snapshot)

	for _, parentID := range missing {
		go b.fetchMissingParent(rootID, parentID)
	}
}

func (b *Builder) snapshotLocked(rs *rootState) []Reply {
	out := make([]Reply, 0, len(rs.replies))
	for _, ev := range rs.replies {
		out = append(out, replyFromEvent(ev))
	}
	sortRepliesAscending(out)
	return out
}

// missingParentsLocked computes {reply.parentID} \ {known ids} \ {rootID}
// for replies not already pending a fetch, and marks them pending.
func (b *Builder) missingParentsLocked(rootID string, rs *rootState) []string {
	var missing []string
	for id, ev := range rs.replies {
		r := replyFromEvent(ev)
		if r.ParentID == "" || r.ParentID == rootID || r.ParentID == id {
			continue
		}
		if _, known := rs.replies[r.ParentID]; known {
			continue
		}
		if _, pending := rs.pendingParents[r.ParentID]; pending {
			continue
		}
		rs.pendingParents[r.ParentID] = struct{}{}
		missing = append(missing, r.ParentID)
	}
	return missing
}

func (b *Builder) fetchMissingParent(rootID, parentID string) {
	job := uuid.New()
	b.log.Debug("fetching missing thread parent", "job", job, "root", rootID, "parent", parentID)

	b.mu.Lock()
	rs, ok := b.roots[rootID]
	b.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(b.cfg.ParentFetchTimeoutS)*time.Second)
	defer cancel()

	result := make(chan *nostr.Event, 1)
	handle := b.router.RequestTemporarySubscription(ctx, rs.relays, nostr.Filters{{
		IDs:   []string{parentID},
		Limit: 1,
	}}, func(relay string, ev *nostr.Event) {
		select {
		case result <- ev:
		default:
		}
	})
	defer handle.Cancel()

	select {
	case ev := <-result:
		if ev.ID == rootID || replyFromEvent(ev).RootID == rootID {
			b.insertReply(rootID, ev)
		}
	case <-ctx.Done():
		b.log.Debug("missing thread parent fetch timed out", "job", job, "root", rootID, "parent", parentID)
	}

	b.mu.Lock()
	if rs2, ok := b.roots[rootID]; ok && rs2 == rs {
		delete(rs2.pendingParents, parentID)
	}
	b.mu.Unlock()
}

// Shutdown cancels every open thread subscription.
func (b *Builder) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, rs := range b.roots {
		if rs.cancel != nil {
			rs.cancel.Cancel()
		}
		delete(b.roots, id)
	}
}
