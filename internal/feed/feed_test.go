package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

func newTestFeed(t *testing.T, selfPubkey string) *Feed {
	t.Helper()
	pool := relaypool.New(config.RelayPolicy{
		ConnectTimeoutMs: 50, BackoffInitialMs: 10, BackoffCapMs: 50,
		BackoffResetAfterS: 1, IdleTimeoutS: 1, BackgroundGraceS: 1,
	}, ops.Nop())
	router, err := subrouter.New(pool, 100, ops.Nop())
	if err != nil {
		t.Fatalf("subrouter.New: %v", err)
	}
	cfg := config.Feed{
		FlushDebounceMs: 10, ProjectDebounceMs: 10, GraceWindowS: 5,
		MaxNotes: 1000, SnapshotSize: 200, SnapshotDebounceMs: 10,
		RepostFetchTimeoutS: 1, FollowWindowDays: 7, GraceWindowEnabled: false,
	}
	f := New(cfg, router, kvstore.NewMemory(), nil, func() string { return selfPubkey }, ops.Nop())
	f.mu.Lock()
	f.sessionState = Live
	f.graceConsumed = true
	f.cutoffMs = time.Now().UnixMilli()
	f.mu.Unlock()
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestS1OldEventEntersDisplayed(t *testing.T) {
	f := newTestFeed(t, "self")
	cutoff := time.Now().UnixMilli()
	f.mu.Lock()
	f.cutoffMs = cutoff
	f.mu.Unlock()

	ev := &nostr.Event{ID: "e1", PubKey: "other", Kind: 1, CreatedAt: nostr.Timestamp((cutoff - 5000) / 1000)}
	f.onTextNote(ev, "wss://r1")

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.allNotes["e1"]
		return ok
	})

	f.mu.Lock()
	pending := len(f.pendingNew)
	f.mu.Unlock()
	if pending != 0 {
		t.Errorf("pending = %d, want 0 (S1: old event should not be pending)", pending)
	}
}

func TestS2NewEventIsPending(t *testing.T) {
	f := newTestFeed(t, "self")
	cutoff := time.Now().UnixMilli()
	f.mu.Lock()
	f.cutoffMs = cutoff
	f.mu.Unlock()

	ev := &nostr.Event{ID: "e2", PubKey: "other", Kind: 1, CreatedAt: nostr.Timestamp((cutoff + 10000) / 1000)}
	f.onTextNote(ev, "wss://r2")

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.pendingNew["e2"]
		return ok
	})

	f.mu.Lock()
	_, inAll := f.allNotes["e2"]
	f.mu.Unlock()
	if inAll {
		t.Error("S2: new event should not yet be in allNotes/displayed")
	}
}

func TestS3ApplyPendingPromotesAndIsIdempotent(t *testing.T) {
	f := newTestFeed(t, "self")
	f.mu.Lock()
	f.pendingNew["e3"] = &Note{ID: "e3", TimestampMs: time.Now().UnixMilli()}
	f.mu.Unlock()

	f.ApplyPendingNotes()

	f.mu.Lock()
	_, ok := f.allNotes["e3"]
	pendingLen := len(f.pendingNew)
	f.mu.Unlock()
	if !ok {
		t.Fatal("expected e3 promoted into allNotes")
	}
	if pendingLen != 0 {
		t.Fatalf("pending should be empty after ApplyPendingNotes, got %d", pendingLen)
	}

	// Idempotence: calling again changes nothing.
	f.ApplyPendingNotes()
	f.mu.Lock()
	count := len(f.allNotes)
	f.mu.Unlock()
	if count != 1 {
		t.Errorf("second ApplyPendingNotes call should be a no-op, got %d notes", count)
	}
}

func TestSelfEchoAlwaysVisible(t *testing.T) {
	f := newTestFeed(t, "self-pubkey")
	future := time.Now().Add(time.Hour).UnixMilli()
	ev := &nostr.Event{ID: "e4", PubKey: "self-pubkey", Kind: 1, CreatedAt: nostr.Timestamp(future / 1000)}
	f.onTextNote(ev, "wss://r1")

	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.allNotes["e4"]
		return ok
	})
}

func TestS6RepostSupersedesStandaloneNote(t *testing.T) {
	f := newTestFeed(t, "self")

	orig := &nostr.Event{ID: "orig1", PubKey: "author1", Kind: 1, CreatedAt: nostr.Timestamp(time.Now().Unix() - 100)}
	repostContent, _ := json.Marshal(orig)
	repost := &nostr.Event{ID: "repost-ev", PubKey: "reposter1", Kind: 6, Content: string(repostContent), CreatedAt: nostr.Timestamp(time.Now().Unix())}

	f.onRepost(repost, "wss://r1")
	waitFor(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		_, ok := f.allNotes["repost:orig1"]
		return ok
	})

	f.onTextNote(orig, "wss://r1")
	time.Sleep(50 * time.Millisecond)

	f.mu.Lock()
	_, standaloneExists := f.allNotes["orig1"]
	_, repostExists := f.allNotes["repost:orig1"]
	total := len(f.allNotes)
	f.mu.Unlock()

	if standaloneExists {
		t.Error("standalone original note should not coexist with its repost")
	}
	if !repostExists {
		t.Error("expected repost-projected note to remain")
	}
	if total != 1 {
		t.Errorf("expected exactly one entry, got %d", total)
	}
}

func TestMemoryCapTrimsOldest(t *testing.T) {
	f := newTestFeed(t, "self")
	f.cfg.MaxNotes = 3

	f.mu.Lock()
	for i := 4; i >= 0; i-- {
		id := string(rune('a' + i))
		f.allNotes[id] = &Note{ID: id, TimestampMs: int64(i)}
		f.order = append(f.order, id)
	}
	f.trimToMemoryCapUnlocked()
	count := len(f.order)
	_, oldestKept := f.allNotes["a"]
	_, newestKept := f.allNotes["e"]
	f.mu.Unlock()

	if count != 3 {
		t.Errorf("order length = %d, want 3 after trim", count)
	}
	if oldestKept || !newestKept {
		t.Errorf("after trim: oldest kept = %v, newest kept = %v; want oldest dropped, newest kept", oldestKept, newestKept)
	}
}

func TestDisplayedNotesDropsReplies(t *testing.T) {
	f := newTestFeed(t, "self")
	f.mu.Lock()
	f.allNotes["root1"] = &Note{ID: "root1", AuthorID: "a", TimestampMs: 1, IsReply: false}
	f.allNotes["reply1"] = &Note{ID: "reply1", AuthorID: "a", TimestampMs: 2, IsReply: true}
	f.order = []string{"reply1", "root1"}
	f.mu.Unlock()

	ch, unsub := f.DisplayedNotes()
	defer unsub()
	f.recomputeDisplayed()

	select {
	case notes := <-ch:
		if len(notes) != 1 || notes[0].ID != "root1" {
			t.Errorf("displayed notes = %+v, want only root1", notes)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for displayed projection")
	}
}

func TestStartRegistersHandlersWithoutPanicking(t *testing.T) {
	f := newTestFeed(t, "self")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	f.Start(ctx, []string{"wss://unreachable.invalid"}, nostr.Filter{Kinds: []int{1}})
	f.Shutdown()
}
