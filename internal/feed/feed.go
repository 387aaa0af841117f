// Package feed implements the note-ingestion pipeline: batched/debounced
// flush, cutoff/grace-window/self-echo partitioning, late-arrival history
// expansion, and the debounced displayed-projection the UI actually reads.
package feed

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/broadcast"
	"github.com/wrenfeed/relaycore/internal/debounce"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

// SessionState is the feed's coarse-grained lifecycle phase.
type SessionState int

const (
	Idle SessionState = iota
	Loading
	Live
	Refreshing
)

// NewCounts reports how many pending (not-yet-promoted) notes exist, split
// by whether they pass the active follow filter.
type NewCounts struct {
	All       int
	Following int
}

const (
	snapshotKeyAll        = "feed:snapshot:all"
	snapshotKeyFollowing  = "feed:snapshot:following"
	snapshotKeyLastMode   = "feed:snapshot:last-mode"
	snapshotSizeDefault   = 200
	memoryCapDefault      = 1000
)

// Feed is the note-ingestion pipeline (C3).
type Feed struct {
	cfg    config.Feed
	router *subrouter.Router
	store  kvstore.Store
	log    *ops.Logger

	currentUserPubkey func() string
	profileRelays     []string

	mu             sync.Mutex
	allNotes       map[string]*Note
	order          []string // ids of allNotes, kept sorted descending by sortTimestamp
	pendingNew     map[string]*Note
	queue          []queuedEvent
	displayRelays  map[string]struct{}
	followActive   bool
	followSet      map[string]struct{}
	lastFollowSet  []string
	cutoffMs       int64
	graceDeadline  time.Time
	graceEnabled   bool
	graceConsumed  bool
	sessionState   SessionState
	currentMode    string // "all" or "following"

	flushDebounce    *debounce.Debouncer
	projectDebounce  *debounce.Debouncer
	snapshotDebounce *debounce.Debouncer

	allStream       *broadcast.Stream[[]*Note]
	displayedStream *broadcast.Stream[[]*Note]
	countsStream    *broadcast.Stream[NewCounts]
}

type queuedEvent struct {
	event *nostr.Event
	relay string
}

// New constructs a Feed. currentUserPubkey is consulted on every ingested
// event for the self-echo rule.
func New(cfg config.Feed, router *subrouter.Router, store kvstore.Store, profileRelays []string, currentUserPubkey func() string, log *ops.Logger) *Feed {
	f := &Feed{
		cfg:               cfg,
		router:            router,
		store:             store,
		log:               log.With("feed"),
		currentUserPubkey: currentUserPubkey,
		profileRelays:     profileRelays,
		allNotes:          make(map[string]*Note),
		pendingNew:        make(map[string]*Note),
		displayRelays:     make(map[string]struct{}),
		followSet:         make(map[string]struct{}),
		graceEnabled:      cfg.GraceWindowEnabled,
		sessionState:      Idle,
		currentMode:       "all",
		allStream:         broadcast.New[[]*Note](4),
		displayedStream:   broadcast.New[[]*Note](4),
		countsStream:      broadcast.New[NewCounts](4),
	}

	f.flushDebounce = debounce.New(time.Duration(cfg.FlushDebounceMs)*time.Millisecond, f.flush)
	f.projectDebounce = debounce.New(time.Duration(cfg.ProjectDebounceMs)*time.Millisecond, f.recomputeDisplayed)
	f.snapshotDebounce = debounce.New(time.Duration(cfg.SnapshotDebounceMs)*time.Millisecond, f.persistSnapshot)

	return f
}

// Start restores the last snapshot (if any), marks the session Live when a
// snapshot was restored (Loading otherwise), and registers the kind-1/6/11
// handlers with the router.
func (f *Feed) Start(ctx context.Context, relays []string, filter nostr.Filter) {
	f.restoreSnapshot(ctx)

	f.mu.Lock()
	restored := len(f.order) > 0
	if restored {
		// A restored snapshot already has a visible history, so the grace
		// window (meant to admit the very first arrivals pre-history) is
		// considered already consumed: subsequent arrivals go to pending.
		f.sessionState = Live
		f.graceConsumed = true
		f.cutoffMs = time.Now().UnixMilli()
	}
	f.mu.Unlock()

	f.router.RegisterHandlerForKind(1, f.onTextNote)
	f.router.RegisterHandlerForKind(6, f.onRepost)
	f.router.RegisterHandlerForKind(11, f.onTextNote)

	f.mu.Lock()
	f.cutoffMs = time.Now().UnixMilli()
	if !restored {
		f.sessionState = Loading
		f.graceConsumed = false
	}
	f.mu.Unlock()

	f.router.RequestFeedChange(ctx, relays, filter, nil)
}

func (f *Feed) onTextNote(ev *nostr.Event, relay string) {
	f.mu.Lock()
	f.queue = append(f.queue, queuedEvent{event: ev, relay: relay})
	f.mu.Unlock()
	f.flushDebounce.Trigger()
}

func (f *Feed) onRepost(ev *nostr.Event, relay string) {
	if ev.Content != "" {
		if note, ok := repostFromEmbedded(ev, relay); ok {
			f.ingestRepostNote(note)
			return
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(f.cfg.RepostFetchTimeoutS+1)*time.Second)
		defer cancel()
		if note := f.fetchTagOnlyRepost(ctx, ev, relay); note != nil {
			f.ingestRepostNote(note)
		}
	}()
}

// ingestRepostNote applies repost-specific merge semantics directly
// (outside the regular flush queue, since it already carries its final
// composite id and doesn't need cutoff partitioning against itself).
func (f *Feed) ingestRepostNote(note *Note) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.allNotes[note.ID]; ok {
		mergeReposters(existing, note)
		f.emitUnlocked()
		return
	}

	if note.Repost != nil {
		delete(f.allNotes, note.Repost.OriginalID)
		f.removeFromOrder(note.Repost.OriginalID)
	}

	f.insertNoteUnlocked(note)
	f.emitUnlocked()
}

func mergeReposters(existing, incoming *Note) {
	seen := map[string]struct{}{}
	for _, a := range existing.Repost.ReposterAuthors {
		seen[a] = struct{}{}
	}
	for _, a := range incoming.Repost.ReposterAuthors {
		if _, ok := seen[a]; !ok {
			existing.Repost.ReposterAuthors = append(existing.Repost.ReposterAuthors, a)
			seen[a] = struct{}{}
		}
	}
	if incoming.Repost.RepostTimestampMs > existing.Repost.RepostTimestampMs {
		existing.Repost.RepostTimestampMs = incoming.Repost.RepostTimestampMs
	}
	for url := range incoming.RelayURLs {
		existing.addRelay(url)
	}
}

// flush drains the queue and applies the cutoff/grace/self-echo partition
// to each note. Call only via flushDebounce.
func (f *Feed) flush() {
	f.mu.Lock()
	queue := f.queue
	f.queue = nil
	f.mu.Unlock()

	if len(queue) == 0 {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	selfPubkey := ""
	if f.currentUserPubkey != nil {
		selfPubkey = f.currentUserPubkey()
	}

	maxDisplayedTs := f.maxDisplayedTimestampUnlocked()

	for _, qe := range queue {
		note := noteFromEvent(qe.event, qe.relay)

		if existing, ok := f.allNotes[note.ID]; ok {
			existing.addRelay(qe.relay)
			continue
		}
		if _, ok := f.pendingNew[note.ID]; ok {
			continue
		}
		if _, ok := f.allNotes["repost:"+note.ID]; ok {
			continue
		}

		switch {
		case note.AuthorID == selfPubkey && selfPubkey != "":
			f.insertNoteUnlocked(note)
		case f.withinGraceUnlocked():
			f.insertNoteUnlocked(note)
		case note.TimestampMs <= f.cutoffMs:
			f.insertNoteUnlocked(note)
		case maxDisplayedTs > 0 && note.TimestampMs <= maxDisplayedTs:
			// late-arriving old: expand history, does not increment pending
			f.insertNoteUnlocked(note)
		default:
			f.pendingNew[note.ID] = note
		}
	}

	f.trimToMemoryCapUnlocked()
	f.emitUnlocked()
	f.projectDebounce.Trigger()
	f.snapshotDebounce.Trigger()
}

func (f *Feed) withinGraceUnlocked() bool {
	if !f.graceEnabled || f.graceConsumed {
		return false
	}
	if f.graceDeadline.IsZero() {
		if len(f.order) == 0 {
			return true
		}
		f.graceDeadline = time.Now().Add(time.Duration(f.cfg.GraceWindowS) * time.Second)
		return true
	}
	if time.Now().Before(f.graceDeadline) {
		return true
	}
	f.graceConsumed = true
	return false
}

func (f *Feed) maxDisplayedTimestampUnlocked() int64 {
	var max int64
	for _, id := range f.order {
		n := f.allNotes[id]
		if n.sortTimestamp() > max {
			max = n.sortTimestamp()
		}
	}
	return max
}

func (f *Feed) insertNoteUnlocked(note *Note) {
	f.allNotes[note.ID] = note
	f.order = append(f.order, note.ID)
	sort.SliceStable(f.order, func(i, j int) bool {
		return f.allNotes[f.order[i]].sortTimestamp() > f.allNotes[f.order[j]].sortTimestamp()
	})
}

func (f *Feed) removeFromOrder(id string) {
	for i, existingID := range f.order {
		if existingID == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			return
		}
	}
}

func (f *Feed) trimToMemoryCapUnlocked() {
	maxNotes := f.cfg.MaxNotes
	if maxNotes <= 0 {
		maxNotes = memoryCapDefault
	}
	if len(f.order) <= maxNotes {
		return
	}
	for _, id := range f.order[maxNotes:] {
		delete(f.allNotes, id)
	}
	f.order = f.order[:maxNotes]
}

func (f *Feed) emitUnlocked() {
	notes := make([]*Note, 0, len(f.order))
	for _, id := range f.order {
		notes = append(notes, f.allNotes[id])
	}
	f.allStream.Publish(notes)

	all := 0
	following := 0
	for _, n := range f.pendingNew {
		all++
		if f.followActive {
			if _, ok := f.followSet[n.AuthorID]; ok {
				following++
			}
		}
	}
	f.countsStream.Publish(NewCounts{All: all, Following: following})
}

// recomputeDisplayed applies the drop-replies/display-relay/follow-filter
// projection. Call only via projectDebounce.
func (f *Feed) recomputeDisplayed() {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*Note
	for _, id := range f.order {
		n := f.allNotes[id]
		if n.IsReply {
			continue
		}
		if !n.hasAnyRelay(f.displayRelays) {
			continue
		}
		if f.followActive && len(f.followSet) > 0 {
			if _, ok := f.followSet[n.AuthorID]; !ok {
				continue
			}
		}
		out = append(out, n)
	}
	f.displayedStream.Publish(out)
}

// SetDisplayRelaySet installs the relay set displayedNotes is filtered
// against. An empty set disables the filter.
func (f *Feed) SetDisplayRelaySet(relays []string) {
	f.mu.Lock()
	f.displayRelays = make(map[string]struct{}, len(relays))
	for _, r := range relays {
		f.displayRelays[r] = struct{}{}
	}
	f.mu.Unlock()
	f.projectDebounce.Trigger()
}

// SetFollowFilter enables or disables the follow filter. When enabled with
// a non-empty set, it replaces the standing feed filter with an
// authors-scoped one; when the set is temporarily empty, the
// most-recently-applied non-empty set is reused so resume doesn't bleed
// all notes into Following.
func (f *Feed) SetFollowFilter(ctx context.Context, relays []string, enabled bool, authors []string) {
	f.mu.Lock()
	f.followActive = enabled
	if len(authors) > 0 {
		f.followSet = make(map[string]struct{}, len(authors))
		for _, a := range authors {
			f.followSet[a] = struct{}{}
		}
		f.lastFollowSet = append([]string(nil), authors...)
	}
	effective := f.lastFollowSet
	f.mu.Unlock()

	if enabled {
		since := nostr.Timestamp(time.Now().Add(-time.Duration(f.cfg.FollowWindowDays) * 24 * time.Hour).Unix())
		limit := 1000
		filter := nostr.Filter{Kinds: []int{1}, Authors: effective, Since: &since, Limit: limit}
		f.router.RequestFeedChange(ctx, relays, filter, nil)
		f.currentModeLocked("following")
	} else {
		filter := nostr.Filter{Kinds: []int{1}}
		f.router.RequestFeedChange(ctx, relays, filter, nil)
		f.currentModeLocked("all")
	}
	f.projectDebounce.Trigger()
}

func (f *Feed) currentModeLocked(mode string) {
	f.mu.Lock()
	f.currentMode = mode
	f.mu.Unlock()
}

// ApplyPendingNotes promotes every pending note into allNotes. Idempotent:
// calling it twice consecutively is equivalent to calling it once, since
// the second call observes an empty pending set.
func (f *Feed) ApplyPendingNotes() {
	f.mu.Lock()
	f.sessionState = Refreshing
	for id, n := range f.pendingNew {
		f.allNotes[id] = n
		f.order = append(f.order, id)
	}
	f.pendingNew = make(map[string]*Note)
	sort.SliceStable(f.order, func(i, j int) bool {
		return f.allNotes[f.order[i]].sortTimestamp() > f.allNotes[f.order[j]].sortTimestamp()
	})
	f.trimToMemoryCapUnlocked()
	f.sessionState = Live
	f.emitUnlocked()
	f.mu.Unlock()

	f.projectDebounce.Trigger()
	f.snapshotDebounce.Trigger()
}

// AllNotes subscribes to the allNotes broadcast stream.
func (f *Feed) AllNotes() (<-chan []*Note, func()) { return f.allStream.Subscribe() }

// DisplayedNotes subscribes to the displayedNotes broadcast stream.
func (f *Feed) DisplayedNotes() (<-chan []*Note, func()) { return f.displayedStream.Subscribe() }

// NewCountsStream subscribes to the pending-count broadcast stream.
func (f *Feed) NewCountsStream() (<-chan NewCounts, func()) { return f.countsStream.Subscribe() }

// SessionState returns the feed's current lifecycle phase.
func (f *Feed) SessionState() SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionState
}

type snapshotDoc struct {
	Notes []snapshotNote `json:"notes"`
}

type snapshotNote struct {
	ID          string   `json:"id"`
	AuthorID    string   `json:"authorId"`
	Content     string   `json:"content"`
	TimestampMs int64    `json:"timestampMs"`
	RootID      string   `json:"rootId,omitempty"`
	ParentID    string   `json:"parentId,omitempty"`
	IsReply     bool     `json:"isReply"`
	RelayURLs   []string `json:"relayUrls"`
}

func (f *Feed) persistSnapshot() {
	f.mu.Lock()
	size := f.cfg.SnapshotSize
	if size <= 0 {
		size = snapshotSizeDefault
	}
	if size > len(f.order) {
		size = len(f.order)
	}
	doc := snapshotDoc{Notes: make([]snapshotNote, 0, size)}
	for _, id := range f.order[:size] {
		n := f.allNotes[id]
		relays := make([]string, 0, len(n.RelayURLs))
		for url := range n.RelayURLs {
			relays = append(relays, url)
		}
		doc.Notes = append(doc.Notes, snapshotNote{
			ID: n.ID, AuthorID: n.AuthorID, Content: n.Content, TimestampMs: n.TimestampMs,
			RootID: n.RootID, ParentID: n.ParentID, IsReply: n.IsReply, RelayURLs: relays,
		})
	}
	mode := f.currentMode
	f.mu.Unlock()

	data, err := json.Marshal(doc)
	if err != nil {
		f.log.Warn("snapshot marshal failed", "err", err)
		return
	}

	key := snapshotKeyAll
	if mode == "following" {
		key = snapshotKeyFollowing
	}
	ctx := context.Background()
	if err := f.store.Put(ctx, key, data); err != nil {
		f.log.Warn("snapshot persist failed", "err", err)
		return
	}
	_ = f.store.Put(ctx, snapshotKeyLastMode, []byte(mode))
}

func (f *Feed) restoreSnapshot(ctx context.Context) {
	modeBytes, err := f.store.Get(ctx, snapshotKeyLastMode)
	mode := "all"
	if err == nil {
		mode = string(modeBytes)
	}

	key := snapshotKeyAll
	if mode == "following" {
		key = snapshotKeyFollowing
	}
	data, err := f.store.Get(ctx, key)
	if err != nil {
		return
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		f.log.Warn("snapshot restore failed", "err", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sn := range doc.Notes {
		n := &Note{
			ID: sn.ID, AuthorID: sn.AuthorID, Content: sn.Content, TimestampMs: sn.TimestampMs,
			RootID: sn.RootID, ParentID: sn.ParentID, IsReply: sn.IsReply,
			RelayURLs: make(map[string]struct{}, len(sn.RelayURLs)),
		}
		for _, url := range sn.RelayURLs {
			n.RelayURLs[url] = struct{}{}
		}
		f.allNotes[n.ID] = n
		f.order = append(f.order, n.ID)
	}
	sort.SliceStable(f.order, func(i, j int) bool {
		return f.allNotes[f.order[i]].sortTimestamp() > f.allNotes[f.order[j]].sortTimestamp()
	})
	f.currentMode = mode
}

// Shutdown flushes any pending debounced work so nothing is lost.
func (f *Feed) Shutdown() {
	f.flushDebounce.Flush()
	f.projectDebounce.Flush()
	f.snapshotDebounce.Flush()
}
