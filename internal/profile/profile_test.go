package profile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/wrenfeed/relaycore/internal/config"
	"github.com/wrenfeed/relaycore/internal/kvstore"
	"github.com/wrenfeed/relaycore/internal/ops"
	"github.com/wrenfeed/relaycore/internal/relaypool"
	"github.com/wrenfeed/relaycore/internal/subrouter"
)

func newTestCache(t *testing.T, softCap, hardCap int) *Cache {
	t.Helper()
	pool := relaypool.New(config.RelayPolicy{
		ConnectTimeoutMs: 50, BackoffInitialMs: 10, BackoffCapMs: 50,
		BackoffResetAfterS: 1, IdleTimeoutS: 1, BackgroundGraceS: 1,
	}, ops.Nop())
	router, err := subrouter.New(pool, 100, ops.Nop())
	if err != nil {
		t.Fatalf("subrouter.New: %v", err)
	}
	cfg := config.Profile{
		SoftCap: softCap, HardCap: hardCap, TTLDays: 7,
		RequestDebounceMs: 10, BatchSize: 80, WaitS: 1, WaitLargeBatchS: 2,
		LargeBatchSize: 50, InterBatchPauseMs: 1, PersistTopN: 1500,
		PersistDebounceMs: 10, UpdateStreamBuffer: 16,
	}
	c, err := New(cfg, kvstore.NewMemory(), router, func() []string { return []string{"wss://default"} }, ops.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func kind0Event(pk string, createdAt int64, content string) *nostr.Event {
	return &nostr.Event{PubKey: pk, CreatedAt: nostr.Timestamp(createdAt), Kind: 0, Content: content}
}

func TestResolveAuthorPlaceholderForUnknown(t *testing.T) {
	c := newTestCache(t, 10, 20)
	a := c.ResolveAuthor("abcdefgh12345678")
	if a.DisplayName != "abcdefgh…" {
		t.Errorf("placeholder displayName = %q, want abcdefgh…", a.DisplayName)
	}
}

func TestAcceptKind0MonotonicByCreatedAt(t *testing.T) {
	c := newTestCache(t, 10, 20)
	pk := "ABCDEF"

	content1, _ := json.Marshal(kind0Content{Name: "alice", DisplayName: "Alice"})
	_ = c.AcceptKind0(kind0Event(pk, 100, string(content1)))

	// Older event must not overwrite.
	content2, _ := json.Marshal(kind0Content{Name: "bob", DisplayName: "Bob"})
	_ = c.AcceptKind0(kind0Event(pk, 50, string(content2)))

	a := c.ResolveAuthor(pk)
	if a.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice (older event should not overwrite)", a.DisplayName)
	}

	// Newer event must overwrite.
	content3, _ := json.Marshal(kind0Content{Name: "carol", DisplayName: "Carol"})
	_ = c.AcceptKind0(kind0Event(pk, 200, string(content3)))

	a = c.ResolveAuthor(pk)
	if a.DisplayName != "Carol" {
		t.Errorf("DisplayName = %q, want Carol (newer event should overwrite)", a.DisplayName)
	}
}

func TestSanitizeDiscardsLiteralNull(t *testing.T) {
	if got := sanitize("null", 100); got != "" {
		t.Errorf("sanitize(null) = %q, want empty", got)
	}
	if got := sanitize("  NULL  ", 100); got != "" {
		t.Errorf("sanitize('  NULL  ') = %q, want empty", got)
	}
}

func TestSanitizeTruncatesToMax(t *testing.T) {
	got := sanitize("this is a long about section that exceeds the limit", 10)
	if len([]rune(got)) > 10 {
		t.Errorf("sanitize truncation failed, got %d runes", len([]rune(got)))
	}
}

func TestSanitizeCollapsesWhitespace(t *testing.T) {
	got := sanitize("hello   \n\t  world", 100)
	if got != "hello world" {
		t.Errorf("sanitize whitespace collapse = %q, want 'hello world'", got)
	}
}

func TestDisplayNameFallsBackToName(t *testing.T) {
	content, _ := json.Marshal(kind0Content{Name: "dave"})
	c := newTestCache(t, 10, 20)
	_ = c.AcceptKind0(kind0Event("pk1", 1, string(content)))
	a := c.ResolveAuthor("pk1")
	if a.DisplayName != "dave" {
		t.Errorf("DisplayName = %q, want fallback to name 'dave'", a.DisplayName)
	}
}

func TestPinnedSurvivesSoftCapEviction(t *testing.T) {
	c := newTestCache(t, 2, 10)
	c.SetPinned([]string{"pinned-key"})

	content, _ := json.Marshal(kind0Content{Name: "x"})
	_ = c.AcceptKind0(kind0Event("pinned-key", 1, string(content)))
	_ = c.AcceptKind0(kind0Event("k2", 2, string(content)))
	_ = c.AcceptKind0(kind0Event("k3", 3, string(content)))
	_ = c.AcceptKind0(kind0Event("k4", 4, string(content)))

	if _, ok := c.lru.Peek("pinned-key"); !ok {
		t.Error("expected pinned key to survive soft-cap eviction")
	}
}

func TestHardCapEvictsEvenPinned(t *testing.T) {
	c := newTestCache(t, 1, 2)
	c.SetPinned([]string{"p1", "p2", "p3"})

	content, _ := json.Marshal(kind0Content{Name: "x"})
	_ = c.AcceptKind0(kind0Event("p1", 1, string(content)))
	_ = c.AcceptKind0(kind0Event("p2", 2, string(content)))
	_ = c.AcceptKind0(kind0Event("p3", 3, string(content)))

	if c.Len() > 2 {
		t.Errorf("Len() = %d, want <= 2 (hard cap must evict even pinned entries)", c.Len())
	}
}

func TestPersistAndRestoreRoundTrip(t *testing.T) {
	c := newTestCache(t, 10, 20)
	content, _ := json.Marshal(kind0Content{Name: "restored", DisplayName: "Restored User"})
	_ = c.AcceptKind0(kind0Event("pk-restore", 42, string(content)))
	c.persist()

	c2 := newTestCache(t, 10, 20)
	c2.store = c.store
	restored := c2.Restore(context.Background())
	if !restored {
		t.Fatal("expected Restore to report a found snapshot")
	}
	a := c2.ResolveAuthor("pk-restore")
	if a.DisplayName != "Restored User" {
		t.Errorf("restored DisplayName = %q, want 'Restored User'", a.DisplayName)
	}
}

func TestUpdatedStreamEmitsLowercasedPubkey(t *testing.T) {
	c := newTestCache(t, 10, 20)
	ch, unsub := c.UpdatedStream()
	defer unsub()

	content, _ := json.Marshal(kind0Content{Name: "x"})
	_ = c.AcceptKind0(kind0Event("ABCDEF", 1, string(content)))

	select {
	case pk := <-ch:
		if pk != "abcdef" {
			t.Errorf("UpdatedStream emitted %q, want lowercased 'abcdef'", pk)
		}
	default:
		t.Fatal("expected an immediate emission on UpdatedStream")
	}
}
