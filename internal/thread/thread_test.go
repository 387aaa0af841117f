package thread

import (
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	pool := relaypool.New(config.RelayPolicy{
		ConnectTimeoutMs: 50, BackoffInitialMs: 10, BackoffCapMs: 50,
		BackoffResetAfterS: 1, IdleTimeoutS: 1, BackgroundGraceS: 1,
	}, ops.Nop())
	router, err := subrouter.New(pool, 100, ops.Nop())
	if err != nil {
		t.Fatalf("subrouter.New: %v", err)
	}
	return New(config.Thread{ReplyLimit: 100, ParentFetchTimeoutS: 1}, router, ops.Nop())
}

func TestOpenThreadEmitsInsertedReplies(t *testing.T) {
	b := newTestBuilder(t)
	root := "root1"
	ch, unsub := b.OpenThread(root, []string{"wss://relay.one"})
	defer unsub()

	b.insertReply(root, &nostr.Event{
		ID: "reply1", PubKey: "alice", CreatedAt: 100, Content: "hi",
		Tags: nostr.Tags{{"e", root, "", "root"}},
	})

	select {
	case replies := <-ch:
		if len(replies) != 1 || replies[0].ID != "reply1" {
			t.Fatalf("replies = %+v, want [reply1]", replies)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply emission")
	}
}

func TestRepliesSortedAscendingByTimestamp(t *testing.T) {
	b := newTestBuilder(t)
	root := "root2"
	ch, unsub := b.OpenThread(root, []string{"wss://relay.one"})
	defer unsub()

	b.insertReply(root, &nostr.Event{ID: "r2", CreatedAt: 200, Tags: nostr.Tags{{"e", root, "", "root"}}})
	<-ch
	b.insertReply(root, &nostr.Event{ID: "r1", CreatedAt: 100, Tags: nostr.Tags{{"e", root, "", "root"}}})

	var replies []Reply
	select {
	case replies = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
	if len(replies) != 2 || replies[0].ID != "r1" || replies[1].ID != "r2" {
		t.Fatalf("replies = %+v, want ascending [r1, r2]", replies)
	}
}

func TestDuplicateReplyIsIgnored(t *testing.T) {
	b := newTestBuilder(t)
	root := "root3"
	_, unsub := b.OpenThread(root, []string{"wss://relay.one"})
	defer unsub()

	ev := &nostr.Event{ID: "r1", CreatedAt: 100, Tags: nostr.Tags{{"e", root, "", "root"}}}
	b.insertReply(root, ev)
	b.insertReply(root, ev)

	b.mu.Lock()
	n := len(b.roots[root].replies)
	b.mu.Unlock()
	if n != 1 {
		t.Errorf("replies count = %d, want 1 (duplicate should be ignored)", n)
	}
}

func TestMissingParentIsMarkedPendingOnce(t *testing.T) {
	b := newTestBuilder(t)
	root := "root4"
	_, unsub := b.OpenThread(root, []string{"wss://relay.one"})
	defer unsub()

	// A reply whose parent (via "reply" marker) is neither root nor known.
	grandchild := &nostr.Event{
		ID: "gc1", CreatedAt: 300,
		Tags: nostr.Tags{{"e", root, "", "root"}, {"e", "missing-parent", "", "reply"}},
	}
	b.insertReply(root, grandchild)

	b.mu.Lock()
	_, pending := b.roots[root].pendingParents["missing-parent"]
	b.mu.Unlock()
	if !pending {
		t.Error("expected missing-parent to be marked pending")
	}
}

func TestCloseThreadRemovesState(t *testing.T) {
	b := newTestBuilder(t)
	root := "root5"
	_, unsub := b.OpenThread(root, []string{"wss://relay.one"})
	unsub()
	b.CloseThread(root)

	b.mu.Lock()
	_, exists := b.roots[root]
	b.mu.Unlock()
	if exists {
		t.Error("expected root state to be removed after CloseThread")
	}
}
